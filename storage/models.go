package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"chatdesk/model"
)

const (
	kindRemote = "remote"
	kindCustom = "custom"
)

// ModelStore keeps per-provider model lists and the per-model enabled flag.
// Flags are independent of the lists: removing a model from a list leaves
// its flag in place.
type ModelStore struct {
	db *sql.DB
}

// ModelStatus returns the stored flag for a model and whether one exists.
func (s *ModelStore) ModelStatus(ctx context.Context, providerID, modelID string) (enabled, found bool, err error) {
	var v int
	err = s.db.QueryRowContext(ctx,
		`SELECT enabled FROM model_status WHERE provider_id = ? AND model_id = ?`,
		providerID, modelID,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, storageErr("read model status", err)
	}
	return v != 0, true, nil
}

func (s *ModelStore) SetModelStatus(ctx context.Context, providerID, modelID string, enabled bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO model_status (provider_id, model_id, enabled) VALUES (?, ?, ?)`,
		providerID, modelID, boolInt(enabled))
	if err != nil {
		return storageErr("write model status", err)
	}
	return nil
}

func (s *ModelStore) ProviderModels(ctx context.Context, providerID string) ([]model.ModelMeta, error) {
	return s.loadList(ctx, providerID, kindRemote)
}

func (s *ModelStore) SetProviderModels(ctx context.Context, providerID string, models []model.ModelMeta) error {
	return s.saveList(ctx, providerID, kindRemote, models)
}

func (s *ModelStore) CustomModels(ctx context.Context, providerID string) ([]model.ModelMeta, error) {
	return s.loadList(ctx, providerID, kindCustom)
}

func (s *ModelStore) SetCustomModels(ctx context.Context, providerID string, models []model.ModelMeta) error {
	return s.saveList(ctx, providerID, kindCustom, models)
}

func (s *ModelStore) loadList(ctx context.Context, providerID, kind string) ([]model.ModelMeta, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT models FROM provider_models WHERE provider_id = ? AND kind = ?`,
		providerID, kind,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return []model.ModelMeta{}, nil
	}
	if err != nil {
		return nil, storageErr("read "+kind+" models", err)
	}

	var models []model.ModelMeta
	if err := json.Unmarshal([]byte(data), &models); err != nil {
		return nil, storageErr("decode "+kind+" models", err)
	}
	return models, nil
}

func (s *ModelStore) saveList(ctx context.Context, providerID, kind string, models []model.ModelMeta) error {
	if models == nil {
		models = []model.ModelMeta{}
	}
	data, err := json.Marshal(models)
	if err != nil {
		return storageErr("encode "+kind+" models", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO provider_models (provider_id, kind, models, updated_at) VALUES (?, ?, ?, ?)`,
		providerID, kind, string(data), time.Now().UnixMilli())
	if err != nil {
		return storageErr("write "+kind+" models", err)
	}
	return nil
}
