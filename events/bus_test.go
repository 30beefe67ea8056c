package events

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(_ context.Context, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) waitFor(t *testing.T, n int) []Event {
	t.Helper()
	require.Eventually(t, func() bool { return len(r.snapshot()) >= n }, time.Second, 5*time.Millisecond)
	return r.snapshot()
}

func TestPublishToAllSubscribers(t *testing.T) {
	bus := New()
	defer bus.Close()

	var first, second recorder
	_, err := bus.Subscribe(context.Background(), first.handle, TopicStreamResponse)
	require.NoError(t, err)
	_, err = bus.Subscribe(context.Background(), second.handle, TopicStreamResponse)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), TopicStreamResponse, StreamResponse{SessionID: "s1", Content: "hi"}))

	for _, r := range []*recorder{&first, &second} {
		got := r.waitFor(t, 1)
		assert.Equal(t, TopicStreamResponse, got[0].Topic)
		assert.Equal(t, StreamResponse{SessionID: "s1", Content: "hi"}, got[0].Payload)
	}
}

func TestOrderingAcrossTopics(t *testing.T) {
	bus := New(WithBufferSize(4))
	defer bus.Close()

	var r recorder
	_, err := bus.Subscribe(context.Background(), r.handle, StreamTopics...)
	require.NoError(t, err)

	const n = 50
	for i := 0; i < n; i++ {
		require.NoError(t, bus.Publish(context.Background(), TopicStreamResponse, StreamResponse{SessionID: "s1", Content: fmt.Sprint(i)}))
	}
	require.NoError(t, bus.Publish(context.Background(), TopicStreamEnd, StreamEnd{SessionID: "s1"}))

	got := r.waitFor(t, n+1)
	for i := 0; i < n; i++ {
		resp, ok := got[i].Payload.(StreamResponse)
		require.True(t, ok, "event %d: unexpected payload %T", i, got[i].Payload)
		assert.Equal(t, fmt.Sprint(i), resp.Content)
	}
	assert.Equal(t, TopicStreamEnd, got[n].Topic)
}

func TestSubscriptionLifecycle(t *testing.T) {
	bus := New()
	defer bus.Close()

	var r recorder
	sub, err := bus.Subscribe(context.Background(), r.handle, TopicStreamEnd)
	require.NoError(t, err)
	assert.NotEmpty(t, sub.ID())

	require.NoError(t, bus.Publish(context.Background(), TopicStreamEnd, StreamEnd{SessionID: "a"}))
	r.waitFor(t, 1)

	sub.Unsubscribe()
	sub.Unsubscribe()

	require.NoError(t, bus.Publish(context.Background(), TopicStreamEnd, StreamEnd{SessionID: "b"}))
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, r.snapshot(), 1)
}

func TestContextCancellationEndsSubscription(t *testing.T) {
	bus := New()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var r recorder
	_, err := bus.Subscribe(ctx, r.handle, TopicStreamEnd)
	require.NoError(t, err)

	cancel()
	require.Eventually(t, func() bool {
		count := 0
		bus.subscriptions.ForEach(func(string, *subscription) bool {
			count++
			return true
		})
		return count == 0
	}, time.Second, 5*time.Millisecond)
}

func TestTypedHandler(t *testing.T) {
	bus := New()
	defer bus.Close()

	got := make(chan StreamError, 1)
	_, err := bus.Subscribe(context.Background(), On(func(_ context.Context, e StreamError) {
		got <- e
	}), TopicStreamError, TopicStreamEnd)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), TopicStreamEnd, StreamEnd{SessionID: "ignored"}))
	require.NoError(t, bus.Publish(context.Background(), TopicStreamError, StreamError{SessionID: "s1", Error: "boom"}))

	select {
	case e := <-got:
		assert.Equal(t, "s1", e.SessionID)
		assert.Equal(t, "boom", e.Error)
	case <-time.After(time.Second):
		t.Fatal("typed handler was not called")
	}
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	bus := New(WithBufferSize(1), WithSlowSubscriberTimeout(10*time.Millisecond))
	defer bus.Close()

	release := make(chan struct{})
	_, err := bus.Subscribe(context.Background(), func(context.Context, Event) {
		<-release
	}, TopicStreamResponse)
	require.NoError(t, err)
	defer close(release)

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(context.Background(), TopicStreamResponse, StreamResponse{SessionID: "s1"}))
	}

	count := 0
	bus.subscriptions.ForEach(func(string, *subscription) bool {
		count++
		return true
	})
	assert.Zero(t, count)
}

func TestPublishHonoursContext(t *testing.T) {
	bus := New(WithBufferSize(1))
	defer bus.Close()

	release := make(chan struct{})
	_, err := bus.Subscribe(context.Background(), func(context.Context, Event) {
		<-release
	}, TopicStreamResponse)
	require.NoError(t, err)
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	var publishErr error
	for i := 0; i < 5 && publishErr == nil; i++ {
		publishErr = bus.Publish(ctx, TopicStreamResponse, StreamResponse{SessionID: "s1"})
	}
	assert.ErrorIs(t, publishErr, context.DeadlineExceeded)
}

func TestClose(t *testing.T) {
	bus := New()

	_, err := bus.Subscribe(context.Background(), func(context.Context, Event) {}, TopicStreamEnd)
	require.NoError(t, err)

	bus.Close()
	bus.Close()

	assert.ErrorIs(t, bus.Publish(context.Background(), TopicStreamEnd, StreamEnd{}), ErrBusClosed)
	_, err = bus.Subscribe(context.Background(), func(context.Context, Event) {}, TopicStreamEnd)
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestSubscribeRequiresHandler(t *testing.T) {
	bus := New()
	defer bus.Close()

	_, err := bus.Subscribe(context.Background(), nil, TopicStreamEnd)
	assert.ErrorIs(t, err, ErrHandlerRequired)
}
