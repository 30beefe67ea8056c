// Package thread manages conversation messages: ordering, branching through
// retry variants, context window selection and metadata updates.
package thread

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"chatdesk/config"
	"chatdesk/events"
	"chatdesk/model"

	"github.com/google/uuid"
)

var ErrInvalidMetadata = errors.New("invalid metadata patch")

// Store is the row storage the manager persists to. Lookups of a single
// message return nil without an error when it is absent.
type Store interface {
	InsertMessage(ctx context.Context, m model.Message) error
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	UpdateMessage(ctx context.Context, m model.Message) error
	DeleteMessage(ctx context.Context, id string) error
	MaxOrderSeq(ctx context.Context, conversationID string) (int, error)
	QueryMessages(ctx context.Context, conversationID string) ([]model.Message, error)
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
	MessageVariants(ctx context.Context, parentID string) ([]model.Message, error)
	MainMessageByParent(ctx context.Context, conversationID, parentID string) (*model.Message, error)
	LastUserMessage(ctx context.Context, conversationID string) (*model.Message, error)
	DeleteAllMessages(ctx context.Context, conversationID string) (int64, error)
	SearchMessages(ctx context.Context, conversationID, query string, limit int) ([]model.Message, error)
	Conversations(ctx context.Context) ([]model.ConversationSummary, error)
}

// Publisher is the part of the event bus the manager needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// NewMessage holds the inputs of AppendMessage. Status defaults to pending.
type NewMessage struct {
	ConversationID string
	Content        string
	Role           model.Role
	ParentID       string
	IsVariant      bool
	Status         model.MessageStatus
	Metadata       model.MessageMetadata
}

// Page is one page of a conversation thread.
type Page struct {
	Total    int             `json:"total"`
	Messages []model.Message `json:"messages"`
}

type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(m *Manager) {
		m.newID = newID
	}
}

type Manager struct {
	store  Store
	bus    Publisher
	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	// seqMu serialises order sequence allocation with the insert that uses it.
	seqMu sync.Mutex
}

// NewManager creates a manager over store. bus may be nil, in which case no
// edit or clear notifications are sent.
func NewManager(store Store, bus Publisher, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		bus:    bus,
		logger: slog.Default(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) publish(ctx context.Context, topic string, payload any) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(ctx, topic, payload); err != nil {
		m.logger.WarnContext(ctx, "failed to publish event", slog.String("topic", topic), config.ErrAttr(err))
	}
}

// AppendMessage stores a new message at the end of its conversation.
func (m *Manager) AppendMessage(ctx context.Context, in NewMessage) (*model.Message, error) {
	if in.ConversationID == "" {
		return nil, fmt.Errorf("conversation id is required")
	}
	status := in.Status
	if status == "" {
		status = model.StatusPending
	}

	m.seqMu.Lock()
	defer m.seqMu.Unlock()

	maxSeq, err := m.store.MaxOrderSeq(ctx, in.ConversationID)
	if err != nil {
		return nil, err
	}

	msg := model.Message{
		ID:             m.newID(),
		ConversationID: in.ConversationID,
		ParentID:       in.ParentID,
		Role:           in.Role,
		Content:        in.Content,
		OrderSeq:       maxSeq + 1,
		// Stored with millisecond precision.
		CreatedAt: time.UnixMilli(m.now().UnixMilli()),
		Status:    status,
		IsVariant: in.IsVariant,
		Metadata:  in.Metadata,
	}
	if err := m.store.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}

	m.logger.DebugContext(ctx, "message appended",
		slog.String("conversation", msg.ConversationID),
		slog.String("message", msg.ID),
		slog.Int("order_seq", msg.OrderSeq))
	return &msg, nil
}

// GetMessage returns model.ErrNotFound for an unknown id.
func (m *Manager) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	msg, err := m.store.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, fmt.Errorf("%w: message %s", model.ErrNotFound, id)
	}
	return msg, nil
}

// EditMessage replaces a message's content in place. Subscribers are told
// about the message and its parent so the whole branch can refresh.
func (m *Manager) EditMessage(ctx context.Context, id, content string) (*model.Message, error) {
	msg, err := m.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	msg.Content = content
	if err := m.store.UpdateMessage(ctx, *msg); err != nil {
		return nil, err
	}

	m.publish(ctx, events.TopicMessageEdited, events.MessageEdited{MessageID: msg.ID})
	if msg.ParentID != "" {
		m.publish(ctx, events.TopicMessageEdited, events.MessageEdited{MessageID: msg.ParentID})
	}
	return msg, nil
}

// RetryMessage adds an empty variant of id with the same parent and role.
// The original message and its other variants are left untouched.
func (m *Manager) RetryMessage(ctx context.Context, id string, metadata model.MessageMetadata) (*model.Message, error) {
	original, err := m.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.AppendMessage(ctx, NewMessage{
		ConversationID: original.ConversationID,
		Role:           original.Role,
		ParentID:       original.ParentID,
		IsVariant:      true,
		Metadata:       metadata,
	})
}

func (m *Manager) DeleteMessage(ctx context.Context, id string) error {
	return m.store.DeleteMessage(ctx, id)
}

// GetThread returns one page of a conversation ordered by creation time and
// order sequence. Pages are 1-based; a pageSize of zero or less returns
// every message.
func (m *Manager) GetThread(ctx context.Context, conversationID string, page, pageSize int) (Page, error) {
	messages, err := m.store.QueryMessages(ctx, conversationID)
	if err != nil {
		return Page{}, err
	}
	sortMessages(messages)

	total := len(messages)
	if pageSize <= 0 {
		return Page{Total: total, Messages: messages}, nil
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * pageSize
	if start >= total {
		return Page{Total: total, Messages: []model.Message{}}, nil
	}
	end := min(start+pageSize, total)
	return Page{Total: total, Messages: messages[start:end]}, nil
}

// GetContextWindow returns the last count messages of a conversation in
// conversation order. Context edge markers do not shorten the window.
func (m *Manager) GetContextWindow(ctx context.Context, conversationID string, count int) ([]model.Message, error) {
	if count <= 0 {
		return []model.Message{}, nil
	}
	recent, err := m.store.RecentMessages(ctx, conversationID, count)
	if err != nil {
		return nil, err
	}
	sortMessages(recent)
	return recent, nil
}

// ContextBefore returns up to count messages that precede target in its
// conversation, in conversation order. It is the history a retry of target
// is generated from.
func (m *Manager) ContextBefore(ctx context.Context, target model.Message, count int) ([]model.Message, error) {
	messages, err := m.store.QueryMessages(ctx, target.ConversationID)
	if err != nil {
		return nil, err
	}
	sortMessages(messages)

	var before []model.Message
	for _, msg := range messages {
		if msg.ID == target.ID || !less(msg, target) {
			break
		}
		// Sibling variants of the target are alternatives, not history.
		if msg.ParentID == target.ParentID && msg.Role == target.Role && target.ParentID != "" {
			continue
		}
		before = append(before, msg)
	}
	if count > 0 && len(before) > count {
		before = before[len(before)-count:]
	}
	return before, nil
}

// GetVariants returns the retry variants that hang off parentID.
func (m *Manager) GetVariants(ctx context.Context, parentID string) ([]model.Message, error) {
	return m.store.MessageVariants(ctx, parentID)
}

// GetMainMessageByParent returns the non-variant reply to parentID.
func (m *Manager) GetMainMessageByParent(ctx context.Context, conversationID, parentID string) (*model.Message, error) {
	msg, err := m.store.MainMessageByParent(ctx, conversationID, parentID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, fmt.Errorf("%w: no main message for parent %s", model.ErrNotFound, parentID)
	}
	return msg, nil
}

func (m *Manager) GetLastUserMessage(ctx context.Context, conversationID string) (*model.Message, error) {
	msg, err := m.store.LastUserMessage(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, fmt.Errorf("%w: no user message in conversation %s", model.ErrNotFound, conversationID)
	}
	return msg, nil
}

// ClearConversation deletes every message of a conversation at once.
func (m *Manager) ClearConversation(ctx context.Context, conversationID string) error {
	deleted, err := m.store.DeleteAllMessages(ctx, conversationID)
	if err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "conversation cleared",
		slog.String("conversation", conversationID),
		slog.Int64("deleted", deleted))
	m.publish(ctx, events.TopicConversationCleared, events.ConversationCleared{ConversationID: conversationID})
	return nil
}

func (m *Manager) UpdateStatus(ctx context.Context, id string, status model.MessageStatus) error {
	msg, err := m.GetMessage(ctx, id)
	if err != nil {
		return err
	}
	msg.Status = status
	return m.store.UpdateMessage(ctx, *msg)
}

// UpdateMetadata merges patch into the stored metadata key by key. A nil
// value removes the key. Keys use the JSON names of model.MessageMetadata;
// any other key fails with ErrInvalidMetadata and nothing is written.
func (m *Manager) UpdateMetadata(ctx context.Context, id string, patch map[string]any) error {
	msg, err := m.GetMessage(ctx, id)
	if err != nil {
		return err
	}
	merged, err := mergeMetadata(msg.Metadata, patch)
	if err != nil {
		return err
	}
	msg.Metadata = merged
	return m.store.UpdateMessage(ctx, *msg)
}

func (m *Manager) MarkContextEdge(ctx context.Context, id string, edge bool) error {
	msg, err := m.GetMessage(ctx, id)
	if err != nil {
		return err
	}
	msg.Metadata.ContextEdge = edge
	return m.store.UpdateMessage(ctx, *msg)
}

// SaveGenerated records the outcome of a generation: the final content, its
// status and the non-zero fields of patch merged into the metadata.
func (m *Manager) SaveGenerated(ctx context.Context, id, content string, status model.MessageStatus, patch model.MessageMetadata) error {
	msg, err := m.GetMessage(ctx, id)
	if err != nil {
		return err
	}
	merged, err := mergeMetadata(msg.Metadata, patch)
	if err != nil {
		return err
	}
	msg.Content = content
	msg.Status = status
	msg.Metadata = merged
	return m.store.UpdateMessage(ctx, *msg)
}

func (m *Manager) SearchMessages(ctx context.Context, conversationID, query string, limit int) ([]model.Message, error) {
	return m.store.SearchMessages(ctx, conversationID, query, limit)
}

func (m *Manager) Conversations(ctx context.Context) ([]model.ConversationSummary, error) {
	return m.store.Conversations(ctx)
}

// mergeMetadata overlays the JSON object form of patch onto base.
func mergeMetadata(base model.MessageMetadata, patch any) (model.MessageMetadata, error) {
	fields, err := toObject(base)
	if err != nil {
		return base, err
	}
	overlay, err := toObject(patch)
	if err != nil {
		return base, err
	}
	for k, v := range overlay {
		if v == nil {
			delete(fields, k)
			continue
		}
		fields[k] = v
	}

	data, err := json.Marshal(fields)
	if err != nil {
		return base, fmt.Errorf("encode metadata: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var merged model.MessageMetadata
	if err := dec.Decode(&merged); err != nil {
		return base, fmt.Errorf("%w: %w", ErrInvalidMetadata, err)
	}
	return merged, nil
}

func toObject(v any) (map[string]any, error) {
	if obj, ok := v.(map[string]any); ok {
		return obj, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	obj := map[string]any{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return obj, nil
}

func less(a, b model.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.OrderSeq < b.OrderSeq
}

func sortMessages(messages []model.Message) {
	slices.SortStableFunc(messages, func(a, b model.Message) int {
		switch {
		case less(a, b):
			return -1
		case less(b, a):
			return 1
		}
		return 0
	})
}
