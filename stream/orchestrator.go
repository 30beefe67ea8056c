// Package stream runs generation sessions. Each session consumes one
// adapter delta stream on its own goroutine and republishes it on the event
// bus, ending with exactly one stream.end or stream.error event.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"chatdesk/config"
	"chatdesk/events"
	"chatdesk/model"
	"chatdesk/provider"
)

var (
	ErrClosed        = errors.New("orchestrator closed")
	ErrReconfiguring = errors.New("provider set is being reconfigured")
)

// State of a tracked session. Terminal states are not tracked: a session
// leaves the active set as soon as its terminal event is published.
type State int

const (
	StateAdmitted State = iota
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateAdmitted:
		return "admitted"
	case StateStreaming:
		return "streaming"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Resolver is the part of provider.Registry the orchestrator relies on.
type Resolver interface {
	Resolve(providerID string) (*provider.Adapter, error)
	OnBeforeConfigure(hook func(ctx context.Context))
	OnAfterConfigure(hook func(ctx context.Context))
}

type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Request identifies a streaming generation.
type Request struct {
	SessionID  string
	ProviderID string
	ModelID    string
	Messages   []model.ChatMessage
	Options    model.GenerateOptions
}

// SessionInfo is a snapshot of an active session.
type SessionInfo struct {
	ID         string
	ProviderID string
	ModelID    string
	State      State
	StartedAt  time.Time
}

type session struct {
	info    SessionInfo
	cancel  context.CancelFunc
	stopped atomic.Bool
	done    chan struct{}
}

func (s *session) stop() {
	s.stopped.Store(true)
	s.cancel()
}

type Option func(*Orchestrator)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithMaxConcurrent sets the session cap. Values below 1 are ignored.
func WithMaxConcurrent(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxConcurrent = n
		}
	}
}

type Orchestrator struct {
	reg    Resolver
	bus    Publisher
	logger *slog.Logger

	// mu guards the fields below. It is never held while calling into the
	// registry.
	mu            sync.Mutex
	sessions      map[string]*session
	maxConcurrent int
	closed        bool
	// configuring counts reconfigurations in progress; while non-zero no
	// session is admitted. epoch changes whenever one begins.
	configuring int
	epoch       uint64

	wg sync.WaitGroup
}

// New creates an orchestrator and registers it to close admission and stop
// every session before the registry's provider set changes. Admission
// reopens once the new set is in place.
func New(reg Resolver, bus Publisher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		reg:           reg,
		bus:           bus,
		logger:        slog.Default(),
		sessions:      map[string]*session{},
		maxConcurrent: config.DefaultMaxConcurrentStreams,
	}
	for _, opt := range opts {
		opt(o)
	}

	reg.OnBeforeConfigure(func(ctx context.Context) {
		o.mu.Lock()
		o.configuring++
		o.epoch++
		o.mu.Unlock()

		if err := o.StopAll(ctx); err != nil {
			o.logger.WarnContext(ctx, "failed to stop sessions before reconfiguration", config.ErrAttr(err))
		}
	})
	reg.OnAfterConfigure(func(context.Context) {
		o.mu.Lock()
		o.configuring--
		o.mu.Unlock()
	})
	return o
}

type openFunc func(ctx context.Context, a *provider.Adapter) (model.DeltaStream, error)

// Start admits a chat completion session. Admission errors are returned
// directly; everything after admission is reported through events.
func (o *Orchestrator) Start(ctx context.Context, req Request) error {
	return o.launch(ctx, req, func(ctx context.Context, a *provider.Adapter) (model.DeltaStream, error) {
		return a.StreamCompletion(ctx, req.Messages, req.ModelID, req.Options)
	})
}

// StartSummary streams a summary of text. req.Messages is ignored.
func (o *Orchestrator) StartSummary(ctx context.Context, req Request, text string) error {
	return o.launch(ctx, req, func(ctx context.Context, a *provider.Adapter) (model.DeltaStream, error) {
		return a.StreamSummary(ctx, text, req.ModelID, req.Options)
	})
}

// StartText streams a free-form completion of prompt. req.Messages is ignored.
func (o *Orchestrator) StartText(ctx context.Context, req Request, prompt string) error {
	return o.launch(ctx, req, func(ctx context.Context, a *provider.Adapter) (model.DeltaStream, error) {
		return a.StreamText(ctx, prompt, req.ModelID, req.Options)
	})
}

func (o *Orchestrator) launch(ctx context.Context, req Request, open openFunc) error {
	if req.SessionID == "" {
		return fmt.Errorf("session id is required")
	}

	o.mu.Lock()
	epoch, err := o.admit(req.SessionID)
	o.mu.Unlock()
	if err != nil {
		return err
	}

	// Building an adapter may run storage hooks, so the lock is released.
	adapter, err := o.reg.Resolve(req.ProviderID)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	// The adapter may already be stale if a reconfiguration began while it
	// was resolved.
	current, err := o.admit(req.SessionID)
	if err != nil {
		return err
	}
	if current != epoch {
		return fmt.Errorf("%w: provider %s changed during start", ErrReconfiguring, req.ProviderID)
	}

	// The session outlives the caller's request; only Stop ends it early.
	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{
		info: SessionInfo{
			ID:         req.SessionID,
			ProviderID: req.ProviderID,
			ModelID:    req.ModelID,
			State:      StateAdmitted,
			StartedAt:  time.Now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	o.sessions[req.SessionID] = s

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.finish(s)
		o.run(sessCtx, s, adapter, open)
	}()

	o.logger.DebugContext(ctx, "session started",
		slog.String("session", req.SessionID),
		slog.String("provider", req.ProviderID),
		slog.String("model", req.ModelID))
	return nil
}

// admit checks whether a session may start now and returns the
// configuration epoch it would run under. o.mu must be held.
func (o *Orchestrator) admit(sessionID string) (uint64, error) {
	switch {
	case o.closed:
		return 0, ErrClosed
	case o.configuring > 0:
		return 0, ErrReconfiguring
	case len(o.sessions) >= o.maxConcurrent:
		return 0, fmt.Errorf("%w (%d)", model.ErrConcurrencyLimitExceeded, o.maxConcurrent)
	}
	if _, ok := o.sessions[sessionID]; ok {
		return 0, fmt.Errorf("%w: %s", model.ErrDuplicateSession, sessionID)
	}
	return o.epoch, nil
}

func (o *Orchestrator) run(ctx context.Context, s *session, adapter *provider.Adapter, open openFunc) {
	id := s.info.ID

	stream, err := open(ctx, adapter)
	if err != nil {
		if s.stopped.Load() {
			o.publishEnd(id, true)
			return
		}
		o.publishError(id, err)
		return
	}
	defer stream.Close()

	o.mu.Lock()
	s.info.State = StateStreaming
	o.mu.Unlock()

	for {
		if s.stopped.Load() {
			o.publishEnd(id, true)
			return
		}
		if !stream.Next() {
			break
		}
		if s.stopped.Load() {
			o.publishEnd(id, true)
			return
		}

		d := stream.Current()
		payload := events.StreamResponse{SessionID: id, Content: d.Content, Reasoning: d.Reasoning}
		if err := o.bus.Publish(ctx, events.TopicStreamResponse, payload); err != nil {
			if s.stopped.Load() {
				o.publishEnd(id, true)
				return
			}
			o.publishError(id, fmt.Errorf("publish response: %w", err))
			return
		}
	}

	if s.stopped.Load() {
		o.publishEnd(id, true)
		return
	}
	if err := stream.Err(); err != nil {
		o.publishError(id, err)
		return
	}
	o.publishEnd(id, false)
}

// Terminal events are published without the session context, which may
// already be cancelled.
func (o *Orchestrator) publishEnd(id string, userStopped bool) {
	ctx := context.Background()
	if err := o.bus.Publish(ctx, events.TopicStreamEnd, events.StreamEnd{SessionID: id, UserStopped: userStopped}); err != nil {
		o.logger.Warn("failed to publish stream end", slog.String("session", id), config.ErrAttr(err))
	}
	o.logger.Debug("session ended", slog.String("session", id), slog.Bool("user_stopped", userStopped))
}

func (o *Orchestrator) publishError(id string, cause error) {
	ctx := context.Background()
	o.logger.Warn("session failed", slog.String("session", id), config.ErrAttr(cause))
	if err := o.bus.Publish(ctx, events.TopicStreamError, events.StreamError{SessionID: id, Error: cause.Error()}); err != nil {
		o.logger.Warn("failed to publish stream error", slog.String("session", id), config.ErrAttr(err))
	}
}

// finish removes the session from the active set. It runs after the
// terminal event, so Start may reuse the id once done is closed.
func (o *Orchestrator) finish(s *session) {
	o.mu.Lock()
	if o.sessions[s.info.ID] == s {
		delete(o.sessions, s.info.ID)
	}
	o.mu.Unlock()

	s.cancel()
	close(s.done)
}

// Stop cancels a session and waits until its terminal event has been
// published or ctx is done. Unknown ids are ignored.
func (o *Orchestrator) Stop(ctx context.Context, sessionID string) error {
	o.mu.Lock()
	s, ok := o.sessions[sessionID]
	o.mu.Unlock()
	if !ok {
		return nil
	}

	s.stop()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StopAll stops every active session and waits for all of them.
func (o *Orchestrator) StopAll(ctx context.Context) error {
	o.mu.Lock()
	active := make([]*session, 0, len(o.sessions))
	for _, s := range o.sessions {
		active = append(active, s)
	}
	o.mu.Unlock()

	for _, s := range active {
		s.stop()
	}
	for _, s := range active {
		select {
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if len(active) > 0 {
		o.logger.InfoContext(ctx, "stopped all sessions", slog.Int("count", len(active)))
	}
	return nil
}

// Close stops every session and rejects further starts.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	if err := o.StopAll(ctx); err != nil {
		return err
	}
	o.wg.Wait()
	return nil
}

func (o *Orchestrator) IsGenerating(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.sessions[sessionID]
	return ok
}

func (o *Orchestrator) Session(sessionID string) (SessionInfo, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[sessionID]
	if !ok {
		return SessionInfo{}, false
	}
	return s.info, true
}

func (o *Orchestrator) ActiveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sessions)
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Done returns a channel closed when the session has left the active set.
// For an unknown id the channel is already closed.
func (o *Orchestrator) Done(sessionID string) <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.sessions[sessionID]; ok {
		return s.done
	}
	return closedChan
}

// SetMaxConcurrent changes the session cap. Sessions already running are
// not affected when the cap shrinks.
func (o *Orchestrator) SetMaxConcurrent(n int) {
	if n < 1 {
		n = 1
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.maxConcurrent = n
}

func (o *Orchestrator) MaxConcurrent() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.maxConcurrent
}
