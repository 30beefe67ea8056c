package testutil

import (
	"context"
	"sync"

	"chatdesk/model"
)

// MockBackend implements model.Backend for testing
type MockBackend struct {
	// Configurable responses
	ListModelsFunc       func(ctx context.Context) ([]model.ModelMeta, error)
	StreamCompletionFunc func(ctx context.Context, messages []model.ChatMessage, modelID string, opts model.GenerateOptions) (model.DeltaStream, error)
	CompletionFunc       func(ctx context.Context, messages []model.ChatMessage, modelID string, opts model.GenerateOptions) (*model.Response, error)
	CheckFunc            func(ctx context.Context) model.CheckResult

	mu    sync.Mutex
	calls []Call
}

// Call records one invocation of a streaming or completion method.
type Call struct {
	Method   string
	Messages []model.ChatMessage
	ModelID  string
	Options  model.GenerateOptions
}

// NewMockBackend creates a mock backend with default implementations
func NewMockBackend() *MockBackend {
	mock := &MockBackend{}
	mock.ListModelsFunc = mock.defaultListModels
	mock.StreamCompletionFunc = mock.defaultStreamCompletion
	mock.CompletionFunc = mock.defaultCompletion
	mock.CheckFunc = mock.defaultCheck
	return mock
}

func (m *MockBackend) defaultListModels(ctx context.Context) ([]model.ModelMeta, error) {
	return []model.ModelMeta{
		{ID: "mock-model-1", Name: "mock-model-1", Group: "mock"},
		{ID: "mock-model-2", Name: "mock-model-2", Group: "mock"},
	}, nil
}

func (m *MockBackend) defaultStreamCompletion(ctx context.Context, messages []model.ChatMessage, modelID string, opts model.GenerateOptions) (model.DeltaStream, error) {
	// Default: echo back a mock response in two chunks
	return NewSliceStream(model.Delta{Content: "Mock "}, model.Delta{Content: "response"}), nil
}

func (m *MockBackend) defaultCompletion(ctx context.Context, messages []model.ChatMessage, modelID string, opts model.GenerateOptions) (*model.Response, error) {
	return &model.Response{Content: "Mock response"}, nil
}

func (m *MockBackend) defaultCheck(ctx context.Context) model.CheckResult {
	return model.CheckResult{OK: true}
}

func (m *MockBackend) record(method string, messages []model.ChatMessage, modelID string, opts model.GenerateOptions) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: method, Messages: messages, ModelID: modelID, Options: opts})
}

// Calls returns the recorded streaming and completion calls.
func (m *MockBackend) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

func (m *MockBackend) ListModels(ctx context.Context) ([]model.ModelMeta, error) {
	return m.ListModelsFunc(ctx)
}

func (m *MockBackend) StreamCompletion(ctx context.Context, messages []model.ChatMessage, modelID string, opts model.GenerateOptions) (model.DeltaStream, error) {
	m.record("StreamCompletion", messages, modelID, opts)
	return m.StreamCompletionFunc(ctx, messages, modelID, opts)
}

func (m *MockBackend) Completion(ctx context.Context, messages []model.ChatMessage, modelID string, opts model.GenerateOptions) (*model.Response, error) {
	m.record("Completion", messages, modelID, opts)
	return m.CompletionFunc(ctx, messages, modelID, opts)
}

func (m *MockBackend) Check(ctx context.Context) model.CheckResult {
	return m.CheckFunc(ctx)
}

// SliceStream yields a fixed list of deltas, then Err.
type SliceStream struct {
	deltas  []model.Delta
	pos     int
	current model.Delta
	err     error
	closed  bool
}

func NewSliceStream(deltas ...model.Delta) *SliceStream {
	return &SliceStream{deltas: deltas}
}

// NewFailingStream yields deltas and then fails with err.
func NewFailingStream(err error, deltas ...model.Delta) *SliceStream {
	return &SliceStream{deltas: deltas, err: err}
}

func (s *SliceStream) Next() bool {
	if s.closed || s.pos >= len(s.deltas) {
		return false
	}
	s.current = s.deltas[s.pos]
	s.pos++
	return true
}

func (s *SliceStream) Current() model.Delta { return s.current }

func (s *SliceStream) Err() error {
	if s.pos < len(s.deltas) {
		return nil
	}
	return s.err
}

func (s *SliceStream) Close() error {
	s.closed = true
	return nil
}

// GatedStream hands out deltas only when the test sends them, so a test can
// hold a session in the streaming state. Next returns false when the feed
// channel is closed or the context passed at creation is done.
type GatedStream struct {
	ctx     context.Context
	feed    <-chan model.Delta
	current model.Delta
	err     error

	closeOnce sync.Once
	Closed    chan struct{}
}

// NewGatedStream returns the stream and the channel that feeds it.
func NewGatedStream(ctx context.Context) (*GatedStream, chan<- model.Delta) {
	feed := make(chan model.Delta)
	return &GatedStream{ctx: ctx, feed: feed, Closed: make(chan struct{})}, feed
}

func (s *GatedStream) Next() bool {
	select {
	case d, ok := <-s.feed:
		if !ok {
			return false
		}
		s.current = d
		return true
	case <-s.ctx.Done():
		s.err = s.ctx.Err()
		return false
	}
}

func (s *GatedStream) Current() model.Delta { return s.current }

func (s *GatedStream) Err() error { return s.err }

func (s *GatedStream) Close() error {
	s.closeOnce.Do(func() { close(s.Closed) })
	return nil
}
