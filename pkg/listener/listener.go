package listener

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var (
	errListenerStopped = errors.New("listener stopped")
)

type Job interface {
	Start(ctx context.Context)
	Stop()
}

type Option[T any] func(*Listener[T])

// WithErrorHandler replaces the default handler error reporting, which logs.
func WithErrorHandler[T any](f func(input T, err error)) Option[T] {
	return func(l *Listener[T]) {
		l.onError = f
	}
}

// WithStopHandler registers f to run after the listener goroutine exits.
func WithStopHandler[T any](f func()) Option[T] {
	return func(l *Listener[T]) {
		l.stopHandler = f
	}
}

// Listener feeds every value received on in to handler from a single
// goroutine. Values still queued when Stop is called are handled before
// Stop returns.
type Listener[T any] struct {
	handler     func(input T) error
	onError     func(input T, err error)
	stopHandler func()

	in     <-chan T
	wg     sync.WaitGroup
	cancel func()
}

func New[T any](
	in <-chan T,
	handler func(T) error,
	opts ...Option[T],
) *Listener[T] {
	l := &Listener[T]{
		in:          in,
		handler:     handler,
		cancel:      func() {},
		stopHandler: func() {},
		onError: func(_ T, err error) {
			slog.Error("channel listener handler failed", "error", err)
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Listener[T]) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)

	go func() {
		defer l.wg.Done()
		for {
			if err := l.run(ctx); errors.Is(err, errListenerStopped) {
				l.drain()
				return
			}
		}
	}()
}

func (l *Listener[T]) run(ctx context.Context) error {
	select {
	case inp, ok := <-l.in:
		if !ok {
			return errListenerStopped
		}
		l.handle(inp)
	case <-ctx.Done():
		return errListenerStopped
	}

	return nil
}

func (l *Listener[T]) drain() {
	for {
		select {
		case inp, ok := <-l.in:
			if !ok {
				return
			}
			l.handle(inp)
		default:
			return
		}
	}
}

func (l *Listener[T]) handle(inp T) {
	if err := l.handler(inp); err != nil {
		l.onError(inp, err)
	}
}

func (l *Listener[T]) Stop() {
	l.cancel()
	l.wg.Wait()
	l.stopHandler()
}
