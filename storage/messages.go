package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"chatdesk/model"
)

// MessageStore persists conversation messages. Each message is one row keyed
// by id; branches are expressed through parent_id and is_variant.
type MessageStore struct {
	db *sql.DB
}

const messageColumns = `id, conversation_id, parent_id, role, content, order_seq, created_at, status, is_variant, is_context_edge, metadata`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (model.Message, error) {
	var (
		m           model.Message
		role        string
		status      string
		createdAt   int64
		isVariant   int
		contextEdge int
		metadata    string
	)
	err := row.Scan(
		&m.ID,
		&m.ConversationID,
		&m.ParentID,
		&role,
		&m.Content,
		&m.OrderSeq,
		&createdAt,
		&status,
		&isVariant,
		&contextEdge,
		&metadata,
	)
	if err != nil {
		return model.Message{}, err
	}

	m.Role = model.Role(role)
	m.Status = model.MessageStatus(status)
	m.CreatedAt = time.UnixMilli(createdAt)
	m.IsVariant = isVariant != 0
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &m.Metadata); err != nil {
			return model.Message{}, fmt.Errorf("decode metadata of %s: %w", m.ID, err)
		}
	}
	m.Metadata.ContextEdge = contextEdge != 0
	return m, nil
}

func encodeMetadata(meta model.MessageMetadata) (string, error) {
	// The context edge flag has its own column.
	meta.ContextEdge = false
	data, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *MessageStore) queryList(ctx context.Context, op, query string, args ...any) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, storageErr(op, err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return messages, nil
}

func (s *MessageStore) queryOne(ctx context.Context, op, query string, args ...any) (*model.Message, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr(op, err)
	}
	return &m, nil
}

func (s *MessageStore) InsertMessage(ctx context.Context, m model.Message) error {
	metadata, err := encodeMetadata(m.Metadata)
	if err != nil {
		return storageErr("insert message", err)
	}

	query := `INSERT INTO messages (` + messageColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		m.ID,
		m.ConversationID,
		m.ParentID,
		string(m.Role),
		m.Content,
		m.OrderSeq,
		m.CreatedAt.UnixMilli(),
		string(m.Status),
		boolInt(m.IsVariant),
		boolInt(m.Metadata.ContextEdge),
		metadata,
	)
	if err != nil {
		return storageErr("insert message", err)
	}
	return nil
}

// GetMessage returns nil without an error when the message does not exist.
func (s *MessageStore) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	return s.queryOne(ctx, "get message",
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
}

// UpdateMessage writes the mutable fields of m: content, status, variant
// flag and metadata.
func (s *MessageStore) UpdateMessage(ctx context.Context, m model.Message) error {
	metadata, err := encodeMetadata(m.Metadata)
	if err != nil {
		return storageErr("update message", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET content = ?,
			status = ?,
			is_variant = ?,
			is_context_edge = ?,
			metadata = ?
		WHERE id = ?`,
		m.Content,
		string(m.Status),
		boolInt(m.IsVariant),
		boolInt(m.Metadata.ContextEdge),
		metadata,
		m.ID,
	)
	if err != nil {
		return storageErr("update message", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return storageErr("update message", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: message %s", model.ErrNotFound, m.ID)
	}
	return nil
}

func (s *MessageStore) DeleteMessage(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id); err != nil {
		return storageErr("delete message", err)
	}
	return nil
}

// MaxOrderSeq returns 0 for an empty conversation.
func (s *MessageStore) MaxOrderSeq(ctx context.Context, conversationID string) (int, error) {
	var seq int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(order_seq), 0) FROM messages WHERE conversation_id = ?`,
		conversationID,
	).Scan(&seq)
	if err != nil {
		return 0, storageErr("max order seq", err)
	}
	return seq, nil
}

// QueryMessages returns the whole conversation in (created_at, order_seq) order.
func (s *MessageStore) QueryMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	return s.queryList(ctx, "query messages", `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, order_seq ASC`,
		conversationID)
}

// RecentMessages returns the last limit messages of a conversation, newest first.
func (s *MessageStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	return s.queryList(ctx, "recent messages", `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, order_seq DESC
		LIMIT ?`,
		conversationID, limit)
}

// MessageVariants returns the variant children of parentID in creation order.
func (s *MessageStore) MessageVariants(ctx context.Context, parentID string) ([]model.Message, error) {
	return s.queryList(ctx, "message variants", `
		SELECT `+messageColumns+` FROM messages
		WHERE parent_id = ? AND is_variant = 1
		ORDER BY created_at ASC, order_seq ASC`,
		parentID)
}

// MainMessageByParent returns the non-variant child of parentID, or nil.
func (s *MessageStore) MainMessageByParent(ctx context.Context, conversationID, parentID string) (*model.Message, error) {
	return s.queryOne(ctx, "main message", `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ? AND parent_id = ? AND is_variant = 0
		ORDER BY created_at ASC, order_seq ASC
		LIMIT 1`,
		conversationID, parentID)
}

func (s *MessageStore) LastUserMessage(ctx context.Context, conversationID string) (*model.Message, error) {
	return s.queryOne(ctx, "last user message", `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ? AND role = ?
		ORDER BY created_at DESC, order_seq DESC
		LIMIT 1`,
		conversationID, string(model.RoleUser))
}

// DeleteAllMessages removes every message of a conversation in one
// transaction and reports how many rows were deleted.
func (s *MessageStore) DeleteAllMessages(ctx context.Context, conversationID string) (int64, error) {
	var deleted int64
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conversationID)
		if err != nil {
			return err
		}
		deleted, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, storageErr("delete conversation", err)
	}
	return deleted, nil
}

// SearchMessages finds non-system messages containing query, case
// insensitively. An empty conversationID searches every conversation.
func (s *MessageStore) SearchMessages(ctx context.Context, conversationID, query string, limit int) ([]model.Message, error) {
	if strings.TrimSpace(query) == "" {
		return []model.Message{}, nil
	}
	if limit <= 0 {
		limit = 100
	}

	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	return s.queryList(ctx, "search messages", `
		SELECT `+messageColumns+` FROM messages
		WHERE (? = '' OR conversation_id = ?)
			AND role != ?
			AND lower(content) LIKE ? ESCAPE '\'
		ORDER BY created_at DESC, order_seq DESC
		LIMIT ?`,
		conversationID, conversationID, string(model.RoleSystem), pattern, limit)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// Conversations lists every conversation, most recently updated first.
func (s *MessageStore) Conversations(ctx context.Context) ([]model.ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.conversation_id,
			COUNT(*),
			MAX(m.created_at),
			COALESCE((
				SELECT f.content FROM messages f
				WHERE f.conversation_id = m.conversation_id AND f.role = ?
				ORDER BY f.created_at ASC, f.order_seq ASC
				LIMIT 1
			), '')
		FROM messages m
		GROUP BY m.conversation_id
		ORDER BY MAX(m.created_at) DESC`,
		string(model.RoleUser))
	if err != nil {
		return nil, storageErr("list conversations", err)
	}
	defer rows.Close()

	var result []model.ConversationSummary
	for rows.Next() {
		var (
			c         model.ConversationSummary
			updatedAt int64
		)
		if err := rows.Scan(&c.ID, &c.MessageCount, &updatedAt, &c.FirstMessage); err != nil {
			return nil, storageErr("list conversations", err)
		}
		c.UpdatedAt = time.UnixMilli(updatedAt)
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list conversations", err)
	}
	return result, nil
}
