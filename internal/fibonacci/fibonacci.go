// Package fibonacci is a small streaming service used to exercise the
// endpoints: a subscribe call is answered at once and the sequence follows
// as notifications.
package fibonacci

import (
	"context"
	"encoding/json"
	"iter"
	"sync"
	"time"

	"github.com/danmuck/rpcmux/internal/eventbridge"
	"github.com/danmuck/rpcmux/internal/protocol/jsonrpc"
	"github.com/rs/zerolog/log"
)

const (
	SubscribeMethod = "fibonacci.subscribe"
	ValueMethod     = "fibonacci.value"

	// MaxDepth is the deepest index whose value fits in a uint64.
	MaxDepth = 93

	DefaultInterval = 10 * time.Millisecond
)

// Sequence yields F(0) through F(depth).
func Sequence(depth int) iter.Seq[uint64] {
	return func(yield func(uint64) bool) {
		var a, b uint64 = 0, 1
		for i := 0; i <= depth; i++ {
			if !yield(a) {
				return
			}
			a, b = a+b, a
		}
	}
}

// Service streams sequences to subscribers of one server.
type Service struct {
	srv      *jsonrpc.Server
	interval time.Duration
	wg       sync.WaitGroup
}

// Register installs the subscribe method on srv. A non-positive interval
// uses DefaultInterval.
func Register(srv *jsonrpc.Server, interval time.Duration) *Service {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &Service{srv: srv, interval: interval}
	srv.Handle(SubscribeMethod, s.subscribe)
	return s
}

// Wait blocks until every started stream has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) subscribe(ctx context.Context, params json.RawMessage) (any, error) {
	var args []int
	if err := json.Unmarshal(params, &args); err != nil || len(args) != 1 {
		return nil, jsonrpc.Errorf(jsonrpc.CodeInvalidParams, "expected [depth]")
	}
	depth := args[0]
	if depth < 0 || depth > MaxDepth {
		return nil, jsonrpc.Errorf(jsonrpc.CodeInvalidParams, "depth %d out of range 0..%d", depth, MaxDepth)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.stream(ctx, depth)
	}()
	return []int{depth}, nil
}

func (s *Service) stream(ctx context.Context, depth int) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	sent := 0
	for v := range Sequence(depth) {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := s.srv.Notify(ctx, ValueMethod, []uint64{v}); err != nil {
			log.Debug().Err(err).Int("sent", sent).Int("depth", depth).Msg("fibonacci.Service stream stopped")
			return
		}
		sent++
	}
}

// Subscription receives one streamed sequence on the client side.
type Subscription struct {
	Depth  int
	client *jsonrpc.Client
	bridge *eventbridge.Bridge[uint64]

	// life ends on Close and releases a producer blocked on a consumer
	// that stopped reading.
	life context.Context
	end  context.CancelFunc
}

// Subscribe asks the server for depth+1 values. Only one subscription per
// client may be active at a time.
func Subscribe(ctx context.Context, client *jsonrpc.Client, depth int) (*Subscription, error) {
	sub := &Subscription{client: client, bridge: eventbridge.New[uint64]()}
	sub.life, sub.end = context.WithCancel(context.Background())
	client.Subscribe(ValueMethod, func(ctx context.Context, params json.RawMessage) {
		var vals []uint64
		if err := json.Unmarshal(params, &vals); err != nil || len(vals) != 1 {
			log.Debug().RawJSON("params", params).Msg("fibonacci.Subscription bad value")
			return
		}
		produceCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		defer context.AfterFunc(sub.life, cancel)()
		_ = sub.bridge.Produce(produceCtx, vals[0])
	})

	var echoed []int
	if err := client.Call(ctx, SubscribeMethod, []int{depth}, &echoed); err != nil {
		sub.Close()
		return nil, err
	}
	if len(echoed) == 1 {
		sub.Depth = echoed[0]
	} else {
		sub.Depth = depth
	}
	return sub, nil
}

// Values yields the streamed sequence and stops after the last value or
// when ctx ends.
func (s *Subscription) Values(ctx context.Context) iter.Seq[uint64] {
	return func(yield func(uint64) bool) {
		n := 0
		for v := range s.bridge.Events(ctx) {
			if !yield(v) {
				return
			}
			n++
			if n > s.Depth {
				return
			}
		}
	}
}

// Close stops routing values to this subscription.
func (s *Subscription) Close() {
	s.end()
	s.client.Subscribe(ValueMethod, nil)
}
