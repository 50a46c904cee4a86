package mux

import (
	"context"
	"sync"

	"github.com/danmuck/rpcmux/internal/protocol/frame"
)

// notifyQueue hands one-way frames to a single worker in arrival order.
// push never blocks, so the receive loop is not held up by slow handlers.
type notifyQueue struct {
	mu     sync.Mutex
	items  []frame.Message
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newNotifyQueue() *notifyQueue {
	return &notifyQueue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (q *notifyQueue) push(msg frame.Message) {
	q.mu.Lock()
	q.items = append(q.items, msg)
	q.mu.Unlock()
	q.signal()
}

// close lets the worker drain what is queued and exit.
func (q *notifyQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *notifyQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// run delivers queued frames to fn until ctx ends or the queue is closed and
// empty. Frames still queued when ctx ends are discarded.
func (q *notifyQueue) run(ctx context.Context, fn NotificationHandler) {
	defer close(q.done)
	for {
		if ctx.Err() != nil {
			return
		}
		q.mu.Lock()
		if len(q.items) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-q.wake:
			case <-ctx.Done():
				return
			}
			continue
		}
		msg := q.items[0]
		q.items[0] = frame.Message{}
		q.items = q.items[1:]
		q.mu.Unlock()
		fn(ctx, msg)
	}
}
