package mux

import (
	"context"
	"fmt"
	"sync"

	"github.com/danmuck/rpcmux/internal/protocol/frame"
	"golang.org/x/sync/semaphore"
)

// pendingCall is one outstanding two-way call. done is closed exactly once,
// under the registry lock, after reply or canceled has been set.
type pendingCall struct {
	id       uint32
	armed    bool
	done     chan struct{}
	reply    frame.Message
	canceled bool
}

// Registry correlates replies to in-flight calls and bounds how many calls
// may be in flight at once. An entry is armed once it holds a gate permit;
// the number of armed entries always equals the number of permits held.
type Registry struct {
	max  int
	gate *semaphore.Weighted

	mu       sync.Mutex
	calls    map[uint32]*pendingCall
	inFlight int
	closed   bool

	onInFlight func(n int)
}

func NewRegistry(maxConcurrency int) *Registry {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	return &Registry{
		max:   maxConcurrency,
		gate:  semaphore.NewWeighted(int64(maxConcurrency)),
		calls: make(map[uint32]*pendingCall),
	}
}

// register inserts a pending entry for id. A duplicate id means the id
// allocator contract was broken and panics.
func (r *Registry) register(id uint32) (*pendingCall, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if _, ok := r.calls[id]; ok {
		panic(fmt.Sprintf("mux: correlation id %d already pending", id))
	}
	c := &pendingCall{id: id, done: make(chan struct{})}
	r.calls[id] = c
	return c, nil
}

// acquire waits for a gate permit. It reports false, leaving no entry and no
// permit behind, when ctx ends first or the registry was terminated meanwhile.
func (r *Registry) acquire(ctx context.Context, c *pendingCall) bool {
	if err := r.gate.Acquire(ctx, 1); err != nil {
		r.mu.Lock()
		if r.calls[c.id] == c {
			delete(r.calls, c.id)
		}
		r.mu.Unlock()
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls[c.id] != c {
		r.gate.Release(1)
		return false
	}
	c.armed = true
	r.inFlight++
	r.notifyInFlight()
	return true
}

// deliver completes the armed call waiting on msg.ID. Replies for unknown or
// not yet sent ids are discarded and reported as false.
func (r *Registry) deliver(msg frame.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[msg.ID]
	if !ok || !c.armed {
		return false
	}
	delete(r.calls, msg.ID)
	c.reply = msg
	close(c.done)
	r.releaseLocked()
	return true
}

// cancel removes c if it is still pending. Exactly one of cancel, deliver and
// terminate completes an entry.
func (r *Registry) cancel(c *pendingCall) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls[c.id] != c {
		return false
	}
	delete(r.calls, c.id)
	c.canceled = true
	close(c.done)
	if c.armed {
		r.releaseLocked()
	}
	return true
}

// wait blocks until c completes or ctx ends. A reply that wins the race
// against ctx is still returned.
func (r *Registry) wait(ctx context.Context, c *pendingCall) (frame.Message, bool) {
	select {
	case <-c.done:
	case <-ctx.Done():
		if r.cancel(c) {
			return frame.Message{}, false
		}
		<-c.done
	}
	if c.canceled {
		return frame.Message{}, false
	}
	return c.reply, true
}

// terminate cancels every pending entry, returns their permits and refuses
// further registrations.
func (r *Registry) terminate() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	n := len(r.calls)
	for id, c := range r.calls {
		delete(r.calls, id)
		c.canceled = true
		close(c.done)
		if c.armed {
			r.releaseLocked()
		}
	}
	return n
}

func (r *Registry) releaseLocked() {
	r.inFlight--
	r.gate.Release(1)
	r.notifyInFlight()
}

func (r *Registry) notifyInFlight() {
	if r.onInFlight != nil {
		r.onInFlight(r.inFlight)
	}
}

// Pending reports registered entries, armed or not.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// InFlight reports the permits currently held.
func (r *Registry) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inFlight
}

func (r *Registry) Max() int {
	return r.max
}
