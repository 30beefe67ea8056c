package provider

import (
	"context"

	"chatdesk/model"
)

// chunkStream is the iterator shape shared by the openai and anthropic SDK
// streams.
type chunkStream[T any] interface {
	Next() bool
	Current() T
	Err() error
	Close() error
}

// sdkStream turns an SDK chunk stream into a model.DeltaStream. Chunks that
// carry no text are skipped.
type sdkStream[T any] struct {
	src       chunkStream[T]
	translate func(T) model.Delta
	op        string
	current   model.Delta
	err       error
}

func newSDKStream[T any](src chunkStream[T], op string, translate func(T) model.Delta) *sdkStream[T] {
	return &sdkStream[T]{src: src, translate: translate, op: op}
}

func (s *sdkStream[T]) Next() bool {
	if s.err != nil {
		return false
	}
	for s.src.Next() {
		delta := s.translate(s.src.Current())
		if delta.Empty() {
			continue
		}
		s.current = delta
		return true
	}
	s.err = classifyError(s.op, s.src.Err())
	return false
}

func (s *sdkStream[T]) Current() model.Delta {
	return s.current
}

func (s *sdkStream[T]) Err() error {
	return s.err
}

func (s *sdkStream[T]) Close() error {
	return s.src.Close()
}

// callbackStream adapts a callback-driven API into a model.DeltaStream. The
// producer runs on its own goroutine and blocks on every delta until the
// consumer calls Next, so no deltas are buffered beyond one.
type callbackStream struct {
	ch      chan model.Delta
	cancel  context.CancelFunc
	current model.Delta
	err     error
	done    bool
	closed  bool
}

func newCallbackStream(ctx context.Context, run func(ctx context.Context, emit func(model.Delta) error) error) *callbackStream {
	ctx, cancel := context.WithCancel(ctx)
	s := &callbackStream{
		ch:     make(chan model.Delta),
		cancel: cancel,
	}

	go func() {
		defer close(s.ch)
		emit := func(d model.Delta) error {
			if d.Empty() {
				return nil
			}
			select {
			case s.ch <- d:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		// err is written before ch is closed, so Next observes it after the
		// final receive.
		s.err = run(ctx, emit)
	}()

	return s
}

func (s *callbackStream) Next() bool {
	if s.done {
		return false
	}
	d, ok := <-s.ch
	if !ok {
		s.done = true
		return false
	}
	s.current = d
	return true
}

func (s *callbackStream) Current() model.Delta {
	return s.current
}

func (s *callbackStream) Err() error {
	if !s.done {
		return nil
	}
	return s.err
}

// Close cancels the producer and waits for it to return.
func (s *callbackStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	for range s.ch {
	}
	s.done = true
	return nil
}
