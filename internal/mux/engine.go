package mux

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/rpcmux/internal/observability"
	"github.com/danmuck/rpcmux/internal/protocol/frame"
	"github.com/rs/zerolog"
)

// Handler receives classified frames from the receive loop. OnTwoWay runs on
// the loop goroutine and must not block; OnOneWay runs on the notification
// worker in wire-arrival order.
type Handler interface {
	OnOneWay(ctx context.Context, msg frame.Message)
	OnTwoWay(ctx context.Context, msg frame.Message)
}

// NotificationHandler consumes one-way frames.
type NotificationHandler func(ctx context.Context, msg frame.Message)

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Engine drives the receive loop for one stream pair and serializes writes
// to the output stream.
type Engine struct {
	name    string
	logger  zerolog.Logger
	dec     *frame.Decoder
	w       io.Writer
	wmu     sync.Mutex
	handler Handler
	started atomic.Bool
	drain   time.Duration

	// onEnd runs as soon as the loop stops reading, before anything waits.
	onEnd func()
	// onStop runs after the loop ended and queued notifications were handled.
	onStop func()
}

func newEngine(r io.Reader, w io.Writer, c frame.Classifier, h Handler, cfg Config, logger zerolog.Logger) *Engine {
	e := &Engine{
		name:    cfg.Name,
		logger:  logger,
		w:       w,
		handler: h,
		drain:   cfg.DrainTimeout,
	}
	e.dec = frame.NewDecoder(r, c, cfg.Limits,
		frame.WithLogger(logger),
		frame.WithDropHook(func(error) { observability.RecordDrop(cfg.Name) }),
	)
	return e
}

// Run reads frames until the stream ends or ctx is canceled. A clean stream
// end returns nil, cancellation returns ctx.Err() and a read fault is
// returned as is. Run may be called once.
//
// Pending work is settled before Run returns. A clean end lets queued
// notifications and in-flight handlers finish for up to the drain timeout
// before their context is canceled; cancellation cancels them at once.
// When ctx is canceled while the reader is blocked, the reading goroutine
// exits once the underlying stream is closed.
func (e *Engine) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := newNotifyQueue()
	go queue.run(runCtx, e.handler.OnOneWay)

	frames := make(chan frame.Message)
	go func() {
		defer close(frames)
		for msg := range e.dec.All() {
			select {
			case frames <- msg:
			case <-runCtx.Done():
				return
			}
		}
	}()

	e.logger.Debug().Msg("mux.Engine receive loop started")
	var err error
loop:
	for {
		select {
		case <-runCtx.Done():
			err = ctx.Err()
			break loop
		case msg, ok := <-frames:
			if !ok {
				err = cleanEnd(e.dec.Err())
				break loop
			}
			observability.RecordFrame(e.name, msg.TwoWay)
			if msg.TwoWay {
				e.handler.OnTwoWay(runCtx, msg)
			} else {
				queue.push(msg)
			}
		}
	}

	if e.onEnd != nil {
		e.onEnd()
	}
	queue.close()
	settled := make(chan struct{})
	go func() {
		defer close(settled)
		<-queue.done
		if e.onStop != nil {
			e.onStop()
		}
	}()
	if err == nil {
		timer := time.NewTimer(e.drain)
		select {
		case <-settled:
		case <-timer.C:
			e.logger.Debug().Dur("drain", e.drain).Msg("mux.Engine drain timed out")
		case <-runCtx.Done():
		}
		timer.Stop()
	}
	cancel()
	<-settled

	e.logger.Debug().
		Err(err).
		Uint64("decoded", e.dec.Decoded()).
		Uint64("dropped", e.dec.Dropped()).
		Msg("mux.Engine receive loop stopped")
	return err
}

// Write sends raw as one unit. Writes never interleave; ctx is honored up to
// the point the write starts and its deadline bounds the write when the
// stream supports write deadlines.
func (e *Engine) Write(ctx context.Context, raw []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.wmu.Lock()
	defer e.wmu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if wd, ok := e.w.(writeDeadliner); ok {
			_ = wd.SetWriteDeadline(deadline)
			defer wd.SetWriteDeadline(time.Time{})
		}
	}
	_, err := e.w.Write(raw)
	return err
}

// Decoder exposes the frame counters of the receive side.
func (e *Engine) Decoder() *frame.Decoder {
	return e.dec
}

func cleanEnd(err error) error {
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
