package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"chatdesk/config"
)

// SettingsStore is a persistent key-value store. Values are stored as JSON.
type SettingsStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// Get decodes the value stored under key into out and reports whether it
// was found. Reads are best effort: failures are logged and reported as
// absent.
func (s *SettingsStore) Get(ctx context.Context, key string, out any) bool {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false
	}
	if err != nil {
		s.logger.WarnContext(ctx, "failed to read setting", slog.String("key", key), config.ErrAttr(err))
		return false
	}
	if err := json.Unmarshal([]byte(value), out); err != nil {
		s.logger.WarnContext(ctx, "failed to decode setting", slog.String("key", key), config.ErrAttr(err))
		return false
	}
	return true
}

func (s *SettingsStore) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return storageErr("encode setting "+key, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO settings (key, value, updated_at) VALUES (?, ?, ?)`,
		key, string(data), time.Now().UnixMilli())
	if err != nil {
		return storageErr("write setting "+key, err)
	}
	return nil
}

func (s *SettingsStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
		return storageErr("delete setting "+key, err)
	}
	return nil
}
