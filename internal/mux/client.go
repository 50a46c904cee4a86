package mux

import (
	"context"
	"io"
	"time"

	"github.com/danmuck/rpcmux/internal/observability"
	"github.com/danmuck/rpcmux/internal/protocol/frame"
	"github.com/rs/zerolog"
)

// Status is the terminal outcome of Call.
type Status int

const (
	// StatusSent means a one-way message was written.
	StatusSent Status = iota
	StatusReplied
	StatusCanceled
)

func (s Status) String() string {
	switch s {
	case StatusSent:
		return "sent"
	case StatusReplied:
		return "replied"
	case StatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Result is the outcome of Call. Reply is set only for StatusReplied.
type Result struct {
	Status Status
	Reply  frame.Message
}

func (r Result) Replied() bool { return r.Status == StatusReplied }

func (r Result) Canceled() bool { return r.Status == StatusCanceled }

// Client is the calling role: it issues two-way calls, sends notifications
// and receives replies plus unsolicited notifications.
type Client struct {
	name     string
	logger   zerolog.Logger
	engine   *Engine
	registry *Registry
	onNotify NotificationHandler
}

func NewClient(r io.Reader, w io.Writer, c frame.Classifier, opts ...Option) *Client {
	o := buildOptions(opts)
	logger := observability.EndpointLogger(o.cfg.Name, "client")
	if o.logger != nil {
		logger = *o.logger
	}
	registry := o.registry
	if registry == nil {
		registry = NewRegistry(o.cfg.MaxConcurrency)
	}
	name := o.cfg.Name
	registry.onInFlight = func(n int) { observability.SetInFlight(name, n) }

	cl := &Client{
		name:     name,
		logger:   logger,
		registry: registry,
		onNotify: o.onNotify,
	}
	cl.engine = newEngine(r, w, c, clientRole{cl}, o.cfg, logger)
	cl.engine.onEnd = cl.terminate
	return cl
}

// Call sends msg and, for two-way messages, waits for the matching reply.
// Cancellation through ctx is an outcome, not an error: it yields
// StatusCanceled. The returned error reports output stream failures only.
func (c *Client) Call(ctx context.Context, msg frame.Message) (Result, error) {
	if !msg.TwoWay {
		if err := c.engine.Write(ctx, msg.Raw); err != nil {
			if ctx.Err() != nil {
				return Result{Status: StatusCanceled}, nil
			}
			return Result{}, err
		}
		return Result{Status: StatusSent}, nil
	}

	start := time.Now()
	call, err := c.registry.register(msg.ID)
	if err != nil {
		return Result{}, err
	}
	if !c.registry.acquire(ctx, call) {
		return c.finish(start, Result{Status: StatusCanceled}), nil
	}
	if err := c.engine.Write(ctx, msg.Raw); err != nil {
		c.registry.cancel(call)
		if ctx.Err() != nil {
			return c.finish(start, Result{Status: StatusCanceled}), nil
		}
		c.logger.Warn().Uint32("id", msg.ID).Err(err).Msg("mux.Client write request")
		observability.RecordCall(c.name, "write_failed", time.Since(start))
		return Result{}, err
	}

	reply, ok := c.registry.wait(ctx, call)
	if !ok {
		return c.finish(start, Result{Status: StatusCanceled}), nil
	}
	return c.finish(start, Result{Status: StatusReplied, Reply: reply}), nil
}

// Notify sends a one-way message.
func (c *Client) Notify(ctx context.Context, msg frame.Message) error {
	return c.engine.Write(ctx, msg.Raw)
}

// Run drives the receive loop. Every call still pending when it returns
// completes as canceled.
func (c *Client) Run(ctx context.Context) error {
	return c.engine.Run(ctx)
}

func (c *Client) Registry() *Registry {
	return c.registry
}

func (c *Client) Engine() *Engine {
	return c.engine
}

func (c *Client) Name() string {
	return c.name
}

func (c *Client) finish(start time.Time, res Result) Result {
	observability.RecordCall(c.name, res.Status.String(), time.Since(start))
	return res
}

func (c *Client) terminate() {
	if n := c.registry.terminate(); n > 0 {
		c.logger.Info().Int("pending", n).Msg("mux.Client canceled pending calls on loop exit")
	}
}

type clientRole struct{ c *Client }

func (r clientRole) OnOneWay(ctx context.Context, msg frame.Message) {
	r.c.onNotify(ctx, msg)
}

func (r clientRole) OnTwoWay(_ context.Context, msg frame.Message) {
	if !r.c.registry.deliver(msg) {
		observability.RecordUnmatchedReply(r.c.name)
		r.c.logger.Debug().Uint32("id", msg.ID).Msg("mux.Client discard unmatched reply")
	}
}
