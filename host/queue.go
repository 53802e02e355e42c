package host

import "context"

// Queue is a bounded FIFO between two tasks. Send and Receive suspend
// until they can complete or ctx is done.
type Queue[T any] interface {
	Send(ctx context.Context, v T) error
	TrySend(v T) bool
	Receive(ctx context.Context) (T, error)
	TryReceive() (T, bool)
	Len() int
	Cap() int
}

type chanQueue[T any] struct {
	c chan T
}

// NewQueue returns a channel backed queue holding up to depth values
func NewQueue[T any](depth int) Queue[T] {
	return &chanQueue[T]{c: make(chan T, depth)}
}

func (q *chanQueue[T]) Send(ctx context.Context, v T) error {
	select {
	case q.c <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *chanQueue[T]) TrySend(v T) bool {
	select {
	case q.c <- v:
		return true
	default:
		return false
	}
}

func (q *chanQueue[T]) Receive(ctx context.Context) (T, error) {
	select {
	case v := <-q.c:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (q *chanQueue[T]) TryReceive() (T, bool) {
	select {
	case v := <-q.c:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

func (q *chanQueue[T]) Len() int { return len(q.c) }
func (q *chanQueue[T]) Cap() int { return cap(q.c) }
