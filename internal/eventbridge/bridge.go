// Package eventbridge turns pushed values into a pulled sequence.
//
// A producer (usually a notification callback on the receive side of an
// endpoint) calls Produce; a single consumer ranges over Events. At most one
// undelivered value is held, so a slow consumer slows the producer down
// instead of growing a queue.
package eventbridge

import (
	"context"
	"iter"

	"golang.org/x/sync/semaphore"
)

// Bridge hands values from one producer side to one consumer.
type Bridge[T any] struct {
	slot   chan T
	permit *semaphore.Weighted
}

func New[T any]() *Bridge[T] {
	return &Bridge[T]{
		slot:   make(chan T, 1),
		permit: semaphore.NewWeighted(1),
	}
}

// Produce waits until the previous value was taken, then stores v.
func (b *Bridge[T]) Produce(ctx context.Context, v T) error {
	if err := b.permit.Acquire(ctx, 1); err != nil {
		return err
	}
	b.slot <- v
	return nil
}

// Events yields values in production order until ctx is canceled or the
// consumer stops ranging. Only one consumer may range at a time.
func (b *Bridge[T]) Events(ctx context.Context) iter.Seq[T] {
	return func(yield func(T) bool) {
		for {
			select {
			case <-ctx.Done():
				return
			case v := <-b.slot:
				b.permit.Release(1)
				if !yield(v) {
					return
				}
			}
		}
	}
}

// Handler adapts Produce to a callback that drops the value once ctx is done.
func (b *Bridge[T]) Handler(ctx context.Context) func(T) {
	return func(v T) {
		_ = b.Produce(ctx, v)
	}
}

// Pending reports whether a value is waiting for the consumer.
func (b *Bridge[T]) Pending() bool {
	return len(b.slot) > 0
}
