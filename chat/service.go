// Package chat runs conversation turns: it stores the user message, starts
// a generation session for the reply and writes the streamed result back to
// the assistant message.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"chatdesk/config"
	"chatdesk/events"
	"chatdesk/model"
	"chatdesk/stream"
	"chatdesk/thread"
)

var ErrNotAssistantMessage = errors.New("only assistant messages can be retried")

// Streamer is the part of stream.Orchestrator the service drives.
type Streamer interface {
	Start(ctx context.Context, req stream.Request) error
	Stop(ctx context.Context, sessionID string) error
	SummaryTitle(ctx context.Context, providerID, modelID string, messages []model.ChatMessage) (string, error)
}

type Subscriber interface {
	Subscribe(ctx context.Context, handler events.Handler, topics ...string) (events.Subscription, error)
}

// TurnRequest describes one generation.
type TurnRequest struct {
	ConversationID string
	ProviderID     string
	ModelID        string
	Content        string
	// ParentID links the user message to the reply it follows.
	ParentID     string
	SystemPrompt string
	Options      model.GenerateOptions
}

// Result is the outcome of a finished turn.
type Result struct {
	Content   string
	Reasoning string
	Status    model.MessageStatus
	Error     string
	Stopped   bool
}

// Turn tracks a running generation. The assistant message id doubles as
// the session id.
type Turn struct {
	SessionID        string
	UserMessage      *model.Message
	AssistantMessage *model.Message

	done   chan struct{}
	result Result
}

// Done is closed once the reply has been written to storage.
func (t *Turn) Done() <-chan struct{} {
	return t.done
}

// Result is valid after Done is closed.
func (t *Turn) Result() Result {
	<-t.done
	return t.result
}

type turnState struct {
	turn      *Turn
	startedAt time.Time
	content   strings.Builder
	reasoning strings.Builder
	meta      model.MessageMetadata
	receiving bool
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithContextMessages sets how many prior messages are sent with each turn.
func WithContextMessages(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.contextMessages = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

type Service struct {
	threads *thread.Manager
	streams Streamer
	logger  *slog.Logger
	now     func() time.Time

	contextMessages int

	mu    sync.Mutex
	turns map[string]*turnState
	sub   events.Subscription
}

// NewService subscribes to the stream topics on bus. The subscription lasts
// until Close or until ctx is done.
func NewService(ctx context.Context, threads *thread.Manager, streams Streamer, bus Subscriber, opts ...Option) (*Service, error) {
	s := &Service{
		threads:         threads,
		streams:         streams,
		logger:          slog.Default(),
		now:             time.Now,
		contextMessages: config.DefaultContextMessages,
		turns:           map[string]*turnState{},
	}
	for _, opt := range opts {
		opt(s)
	}

	sub, err := bus.Subscribe(ctx, s.handle, events.StreamTopics...)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to stream events: %w", err)
	}
	s.sub = sub
	return s, nil
}

func (s *Service) Close() {
	s.sub.Unsubscribe()
}

// Send stores the user message and starts generating the reply.
func (s *Service) Send(ctx context.Context, req TurnRequest) (*Turn, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, fmt.Errorf("message content is required")
	}

	user, err := s.threads.AppendMessage(ctx, thread.NewMessage{
		ConversationID: req.ConversationID,
		Content:        req.Content,
		Role:           model.RoleUser,
		ParentID:       req.ParentID,
		Status:         model.StatusComplete,
	})
	if err != nil {
		return nil, err
	}

	history, err := s.threads.GetContextWindow(ctx, req.ConversationID, s.contextMessages)
	if err != nil {
		return nil, err
	}

	reply, err := s.threads.AppendMessage(ctx, thread.NewMessage{
		ConversationID: req.ConversationID,
		Role:           model.RoleAssistant,
		ParentID:       user.ID,
		Metadata:       model.MessageMetadata{Model: req.ModelID, Provider: req.ProviderID},
	})
	if err != nil {
		return nil, err
	}

	turn, err := s.start(ctx, req, reply, history)
	if err != nil {
		return nil, err
	}
	turn.UserMessage = user
	return turn, nil
}

// Retry generates a new variant of an assistant message from the history
// that preceded it. The original reply is kept.
func (s *Service) Retry(ctx context.Context, messageID string, req TurnRequest) (*Turn, error) {
	original, err := s.threads.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if original.Role != model.RoleAssistant {
		return nil, fmt.Errorf("%w: %s is a %s message", ErrNotAssistantMessage, messageID, original.Role)
	}
	req.ConversationID = original.ConversationID

	history, err := s.threads.ContextBefore(ctx, *original, s.contextMessages)
	if err != nil {
		return nil, err
	}

	variant, err := s.threads.RetryMessage(ctx, messageID, model.MessageMetadata{Model: req.ModelID, Provider: req.ProviderID})
	if err != nil {
		return nil, err
	}
	return s.start(ctx, req, variant, history)
}

func (s *Service) start(ctx context.Context, req TurnRequest, reply *model.Message, history []model.Message) (*Turn, error) {
	messages := model.ToChatMessages(history)
	if req.SystemPrompt != "" {
		messages = append([]model.ChatMessage{{Role: model.RoleSystem, Content: req.SystemPrompt}}, messages...)
	}

	turn := &Turn{
		SessionID:        reply.ID,
		AssistantMessage: reply,
		done:             make(chan struct{}),
	}
	state := &turnState{turn: turn, startedAt: s.now(), meta: reply.Metadata}

	// Registered before Start so no event of the session is missed.
	s.mu.Lock()
	s.turns[reply.ID] = state
	s.mu.Unlock()

	err := s.streams.Start(ctx, stream.Request{
		SessionID:  reply.ID,
		ProviderID: req.ProviderID,
		ModelID:    req.ModelID,
		Messages:   messages,
		Options:    req.Options,
	})
	if err != nil {
		s.mu.Lock()
		delete(s.turns, reply.ID)
		s.mu.Unlock()

		if saveErr := s.threads.SaveGenerated(ctx, reply.ID, "", model.StatusError, model.MessageMetadata{Error: err.Error()}); saveErr != nil {
			s.logger.WarnContext(ctx, "failed to record rejected turn", slog.String("message", reply.ID), config.ErrAttr(saveErr))
		}
		return nil, err
	}
	return turn, nil
}

// Stop ends a running turn. The partial reply is kept.
func (s *Service) Stop(ctx context.Context, sessionID string) error {
	return s.streams.Stop(ctx, sessionID)
}

// Title asks the model for a short title describing a conversation.
func (s *Service) Title(ctx context.Context, conversationID, providerID, modelID string) (string, error) {
	history, err := s.threads.GetContextWindow(ctx, conversationID, s.contextMessages)
	if err != nil {
		return "", err
	}
	if len(history) == 0 {
		return "", fmt.Errorf("%w: conversation %s is empty", model.ErrNotFound, conversationID)
	}
	return s.streams.SummaryTitle(ctx, providerID, modelID, model.ToChatMessages(history))
}

func (s *Service) lookup(sessionID string) *turnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turns[sessionID]
}

func (s *Service) handle(ctx context.Context, e events.Event) {
	switch p := e.Payload.(type) {
	case events.StreamResponse:
		if st := s.lookup(p.SessionID); st != nil {
			s.onDelta(ctx, st, p)
		}
	case events.StreamEnd:
		if st := s.lookup(p.SessionID); st != nil {
			st.turn.result.Stopped = p.UserStopped
			s.finish(ctx, st, model.StatusComplete, "")
		}
	case events.StreamError:
		if st := s.lookup(p.SessionID); st != nil {
			s.finish(ctx, st, model.StatusError, p.Error)
		}
	}
}

func (s *Service) elapsed(st *turnState) int64 {
	return s.now().Sub(st.startedAt).Milliseconds()
}

func (s *Service) onDelta(ctx context.Context, st *turnState, d events.StreamResponse) {
	if d.Reasoning != "" && st.meta.ReasoningStartTime == 0 {
		st.meta.ReasoningStartTime = s.elapsed(st)
	}
	if d.Content != "" && st.reasoning.Len() > 0 && st.meta.ReasoningEndTime == 0 {
		st.meta.ReasoningEndTime = s.elapsed(st)
	}
	st.content.WriteString(d.Content)
	st.reasoning.WriteString(d.Reasoning)

	if st.receiving {
		return
	}
	st.receiving = true
	st.meta.FirstTokenTime = s.elapsed(st)

	id := st.turn.SessionID
	if err := s.threads.UpdateStatus(ctx, id, model.StatusStreaming); err != nil {
		s.logger.WarnContext(ctx, "failed to mark message streaming", slog.String("message", id), config.ErrAttr(err))
	}
}

func (s *Service) finish(ctx context.Context, st *turnState, status model.MessageStatus, cause string) {
	id := st.turn.SessionID

	s.mu.Lock()
	delete(s.turns, id)
	s.mu.Unlock()

	st.meta.GenerationTime = s.elapsed(st)
	st.meta.Reasoning = st.reasoning.String()
	st.meta.Error = cause
	if st.reasoning.Len() > 0 && st.meta.ReasoningEndTime == 0 {
		st.meta.ReasoningEndTime = st.meta.GenerationTime
	}

	content := st.content.String()
	if err := s.threads.SaveGenerated(ctx, id, content, status, st.meta); err != nil {
		s.logger.ErrorContext(ctx, "failed to save generated message", slog.String("message", id), config.ErrAttr(err))
		if cause == "" {
			cause = err.Error()
			status = model.StatusError
		}
	}

	st.turn.result = Result{
		Content:   content,
		Reasoning: st.meta.Reasoning,
		Status:    status,
		Error:     cause,
		Stopped:   st.turn.result.Stopped,
	}
	close(st.turn.done)
}
