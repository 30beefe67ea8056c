package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"chatdesk/events"
	"chatdesk/model"
	"chatdesk/provider"
	"chatdesk/provider/testutil"
	"chatdesk/storage"
	"chatdesk/stream"
	"chatdesk/thread"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	service *Service
	threads *thread.Manager
	streams *stream.Orchestrator
	mock    *testutil.MockBackend
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	db, err := storage.Open(t.TempDir())
	require.NoError(t, err)

	mock := testutil.NewMockBackend()
	reg := provider.NewRegistry(
		provider.WithBackendFactory(testutil.BackendFactory(mock)),
		provider.WithProviders([]model.Provider{testutil.TestProvider("p1", "openai")}),
	)
	bus := events.New()
	threads := thread.NewManager(db.Messages(), bus)
	streams := stream.New(reg, bus)

	service, err := NewService(context.Background(), threads, streams, bus, opts...)
	require.NoError(t, err)

	t.Cleanup(func() {
		service.Close()
		require.NoError(t, streams.Close(context.Background()))
		bus.Close()
		db.Close()
	})
	return &fixture{service: service, threads: threads, streams: streams, mock: mock}
}

func waitTurn(t *testing.T, turn *Turn) Result {
	t.Helper()
	select {
	case <-turn.Done():
		return turn.Result()
	case <-time.After(5 * time.Second):
		t.Fatal("turn did not finish")
		return Result{}
	}
}

func turnRequest(content string) TurnRequest {
	return TurnRequest{ConversationID: "c1", ProviderID: "p1", ModelID: "m1", Content: content}
}

func TestSendStoresReply(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.mock.StreamCompletionFunc = func(context.Context, []model.ChatMessage, string, model.GenerateOptions) (model.DeltaStream, error) {
		return testutil.NewSliceStream(
			model.Delta{Reasoning: "let me think"},
			model.Delta{Content: "Hello"},
			model.Delta{Content: " there"},
		), nil
	}

	req := turnRequest("Hi")
	req.SystemPrompt = "Be brief."
	turn, err := f.service.Send(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, turn.AssistantMessage.ID, turn.SessionID)
	assert.Equal(t, turn.UserMessage.ID, turn.AssistantMessage.ParentID)

	result := waitTurn(t, turn)
	assert.Equal(t, "Hello there", result.Content)
	assert.Equal(t, "let me think", result.Reasoning)
	assert.Equal(t, model.StatusComplete, result.Status)
	assert.False(t, result.Stopped)

	stored, err := f.threads.GetMessage(ctx, turn.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "Hello there", stored.Content)
	assert.Equal(t, model.StatusComplete, stored.Status)
	assert.Equal(t, "m1", stored.Metadata.Model)
	assert.Equal(t, "p1", stored.Metadata.Provider)
	assert.Equal(t, "let me think", stored.Metadata.Reasoning)

	user, err := f.threads.GetMessage(ctx, turn.UserMessage.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusComplete, user.Status)

	calls := f.mock.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []model.ChatMessage{
		{Role: model.RoleSystem, Content: "Be brief."},
		{Role: model.RoleUser, Content: "Hi"},
	}, calls[0].Messages)
}

func TestSendUsesContextWindow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithContextMessages(3))

	for _, content := range []string{"one", "two"} {
		turn, err := f.service.Send(ctx, turnRequest(content))
		require.NoError(t, err)
		waitTurn(t, turn)
	}

	calls := f.mock.Calls()
	require.Len(t, calls, 2)
	// The last three messages: reply to "one", "two", and nothing else.
	assert.Equal(t, []model.ChatMessage{
		{Role: model.RoleUser, Content: "one"},
		{Role: model.RoleAssistant, Content: "Mock response"},
		{Role: model.RoleUser, Content: "two"},
	}, calls[1].Messages)
}

func TestStreamErrorMarksMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.mock.StreamCompletionFunc = func(context.Context, []model.ChatMessage, string, model.GenerateOptions) (model.DeltaStream, error) {
		return testutil.NewFailingStream(errors.New("rate limited"), model.Delta{Content: "par"}), nil
	}

	turn, err := f.service.Send(ctx, turnRequest("Hi"))
	require.NoError(t, err)
	result := waitTurn(t, turn)
	assert.Equal(t, model.StatusError, result.Status)
	assert.Contains(t, result.Error, "rate limited")

	stored, err := f.threads.GetMessage(ctx, turn.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, stored.Status)
	assert.Equal(t, "par", stored.Content)
	assert.Contains(t, stored.Metadata.Error, "rate limited")
}

func TestStopKeepsPartialReply(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	gates := make(chan chan<- model.Delta, 1)
	f.mock.StreamCompletionFunc = func(ctx context.Context, _ []model.ChatMessage, _ string, _ model.GenerateOptions) (model.DeltaStream, error) {
		s, feed := testutil.NewGatedStream(ctx)
		gates <- feed
		return s, nil
	}

	turn, err := f.service.Send(ctx, turnRequest("Tell me a story"))
	require.NoError(t, err)
	feed := <-gates
	feed <- model.Delta{Content: "Once upon"}

	require.Eventually(t, func() bool {
		msg, err := f.threads.GetMessage(ctx, turn.SessionID)
		return err == nil && msg.Status == model.StatusStreaming
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, f.service.Stop(ctx, turn.SessionID))
	result := waitTurn(t, turn)
	assert.True(t, result.Stopped)
	assert.Equal(t, model.StatusComplete, result.Status)
	assert.Equal(t, "Once upon", result.Content)
}

func TestRetryCreatesVariant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.service.Send(ctx, turnRequest("Pick a color"))
	require.NoError(t, err)
	waitTurn(t, first)

	f.mock.StreamCompletionFunc = func(context.Context, []model.ChatMessage, string, model.GenerateOptions) (model.DeltaStream, error) {
		return testutil.NewSliceStream(model.Delta{Content: "Blue"}), nil
	}
	retry, err := f.service.Retry(ctx, first.SessionID, TurnRequest{ProviderID: "p1", ModelID: "m2"})
	require.NoError(t, err)
	result := waitTurn(t, retry)
	assert.Equal(t, "Blue", result.Content)

	variant, err := f.threads.GetMessage(ctx, retry.SessionID)
	require.NoError(t, err)
	assert.True(t, variant.IsVariant)
	assert.Equal(t, first.UserMessage.ID, variant.ParentID)
	assert.Equal(t, "m2", variant.Metadata.Model)

	original, err := f.threads.GetMessage(ctx, first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "Mock response", original.Content)

	calls := f.mock.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []model.ChatMessage{{Role: model.RoleUser, Content: "Pick a color"}}, calls[1].Messages)
	assert.Equal(t, "m2", calls[1].ModelID)

	_, err = f.service.Retry(ctx, first.UserMessage.ID, TurnRequest{ProviderID: "p1"})
	assert.ErrorIs(t, err, ErrNotAssistantMessage)
}

func TestSendRejectedStart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	req := turnRequest("Hi")
	req.ProviderID = "missing"
	_, err := f.service.Send(ctx, req)
	assert.ErrorIs(t, err, model.ErrProviderNotFound)

	page, err := f.threads.GetThread(ctx, "c1", 1, 0)
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, model.StatusError, page.Messages[1].Status)

	_, err = f.service.Send(ctx, turnRequest("   "))
	assert.Error(t, err)
}

func TestTitle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.service.Title(ctx, "c1", "p1", "m1")
	assert.ErrorIs(t, err, model.ErrNotFound)

	turn, err := f.service.Send(ctx, turnRequest("Plan a weekend in Lisbon"))
	require.NoError(t, err)
	waitTurn(t, turn)

	f.mock.CompletionFunc = func(context.Context, []model.ChatMessage, string, model.GenerateOptions) (*model.Response, error) {
		return &model.Response{Content: "Lisbon weekend."}, nil
	}
	title, err := f.service.Title(ctx, "c1", "p1", "m1")
	require.NoError(t, err)
	assert.Equal(t, "Lisbon weekend", title)
}
