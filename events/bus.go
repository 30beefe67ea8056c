// Package events is the in-process publish/subscribe bus shared by the
// orchestrator, the message manager and their callers.
//
// A Bus is constructed explicitly and handed to each component. Every
// subscription owns one buffered channel and one forwarding goroutine, so a
// subscriber sees events in the order they were published even when it
// listens on several topics.
package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/google/uuid"
)

const defaultBufferSize = 64

var (
	ErrBusClosed       = errors.New("event bus closed")
	ErrHandlerRequired = errors.New("handler is required")
)

// Event is one published message.
type Event struct {
	Topic     string
	Payload   any
	Timestamp time.Time
}

// Handler receives events for a subscription. Handlers for the same
// subscription are never called concurrently.
type Handler func(ctx context.Context, event Event)

// On adapts a typed callback into a Handler. Events whose payload is not a T
// are ignored.
func On[T any](fn func(ctx context.Context, payload T)) Handler {
	return func(ctx context.Context, event Event) {
		if payload, ok := event.Payload.(T); ok {
			fn(ctx, payload)
		}
	}
}

type Subscription interface {
	ID() string
	Unsubscribe()
}

type Option func(*Bus)

// WithSlowSubscriberTimeout drops a subscriber whose buffer stays full for
// longer than timeout. Zero means publishers wait until there is room.
func WithSlowSubscriberTimeout(timeout time.Duration) Option {
	return func(b *Bus) {
		b.slowSubscriberTimeout = timeout
	}
}

func WithBufferSize(size int) Option {
	return func(b *Bus) {
		if size > 0 {
			b.bufferSize = size
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

type Bus struct {
	topics                *haxmap.Map[string, *topic]
	subscriptions         *haxmap.Map[string, *subscription]
	slowSubscriberTimeout time.Duration
	bufferSize            int
	logger                *slog.Logger

	closed atomic.Bool
	wg     sync.WaitGroup
}

func New(opts ...Option) *Bus {
	b := &Bus{
		topics:        haxmap.New[string, *topic](),
		subscriptions: haxmap.New[string, *subscription](),
		bufferSize:    defaultBufferSize,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bus) topic(name string) *topic {
	t, _ := b.topics.GetOrCompute(name, func() *topic {
		return &topic{
			name:          name,
			subscriptions: haxmap.New[string, *subscription](),
		}
	})
	return t
}

// Publish delivers payload to every current subscriber of topicName. It
// returns once the event is queued for each of them, or when ctx is done.
func (b *Bus) Publish(ctx context.Context, topicName string, payload any) error {
	if b.closed.Load() {
		return ErrBusClosed
	}

	t, ok := b.topics.Get(topicName)
	if !ok {
		return nil
	}

	event := Event{Topic: topicName, Payload: payload, Timestamp: time.Now()}

	var err error
	t.subscriptions.ForEach(func(id string, sub *subscription) bool {
		if sub == nil {
			return true
		}
		if sendErr := b.deliver(ctx, sub, event); sendErr != nil {
			err = sendErr
			return false
		}
		return true
	})
	return err
}

func (b *Bus) deliver(ctx context.Context, sub *subscription, event Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-sub.done:
		return nil
	default:
	}

	var timeout <-chan time.Time
	if b.slowSubscriberTimeout > 0 {
		timer := time.NewTimer(b.slowSubscriberTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-sub.done:
	case sub.channel <- event:
	case <-timeout:
		b.logger.Warn("dropping slow subscriber",
			slog.String("subscription", sub.id),
			slog.String("topic", event.Topic))
		sub.Unsubscribe()
	}
	return nil
}

// Subscribe registers handler for the given topics. The subscription ends
// when ctx is done, when Unsubscribe is called, or when the bus closes.
func (b *Bus) Subscribe(ctx context.Context, handler Handler, topics ...string) (Subscription, error) {
	if handler == nil {
		return nil, ErrHandlerRequired
	}
	if b.closed.Load() {
		return nil, ErrBusClosed
	}

	id := uuid.NewString()
	sub := &subscription{
		id:      id,
		ctx:     ctx,
		channel: make(chan Event, b.bufferSize),
		done:    make(chan struct{}),
		handler: handler,
	}

	joined := make([]*topic, 0, len(topics))
	for _, name := range topics {
		t := b.topic(name)
		t.subscriptions.Set(id, sub)
		joined = append(joined, t)
	}
	sub.onClose = func() {
		for _, t := range joined {
			t.subscriptions.Del(id)
		}
		b.subscriptions.Del(id)
	}
	b.subscriptions.Set(id, sub)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		sub.forward()
	}()
	return sub, nil
}

// Close ends every subscription and waits for their forwarding goroutines
// to return. Publish and Subscribe fail with ErrBusClosed afterwards.
func (b *Bus) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	b.subscriptions.ForEach(func(_ string, sub *subscription) bool {
		sub.Unsubscribe()
		return true
	})
	b.wg.Wait()
}

type topic struct {
	name          string
	subscriptions *haxmap.Map[string, *subscription]
}

type subscription struct {
	id        string
	ctx       context.Context
	channel   chan Event
	done      chan struct{}
	closeOnce sync.Once
	onClose   func()
	handler   Handler
}

func (s *subscription) ID() string {
	return s.id
}

func (s *subscription) Unsubscribe() {
	s.closeOnce.Do(func() {
		if s.onClose != nil {
			s.onClose()
		}
		close(s.done)
	})
}

func (s *subscription) forward() {
	for {
		select {
		case event := <-s.channel:
			s.handler(s.ctx, event)
		case <-s.done:
			return
		case <-s.ctx.Done():
			s.Unsubscribe()
			return
		}
	}
}
