package mux

import (
	"context"
	"strings"
	"time"

	"github.com/danmuck/rpcmux/internal/protocol/frame"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultMaxConcurrency = 5
	DefaultDrainTimeout   = time.Second
)

// Config defines per-endpoint multiplexer settings.
type Config struct {
	// Name labels logs and metrics for this endpoint.
	Name           string
	MaxConcurrency int
	Limits         frame.Limits
	// DrainTimeout bounds how long handlers may keep running after a clean
	// stream end.
	DrainTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrency: DefaultMaxConcurrency,
		Limits:         frame.DefaultLimits(),
		DrainTimeout:   DefaultDrainTimeout,
	}
}

// WithDefaults fills unset fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		c.Name = uuid.NewString()[:8]
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = def.MaxConcurrency
	}
	if c.Limits.MaxFrameBytes <= 0 {
		c.Limits = def.Limits
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = def.DrainTimeout
	}
	return c
}

type options struct {
	cfg      Config
	logger   *zerolog.Logger
	registry *Registry
	onNotify NotificationHandler
	handler  RequestHandler
	tag      ReplyTagger
}

type Option func(*options)

func WithConfig(cfg Config) Option {
	return func(o *options) { o.cfg = cfg }
}

func WithName(name string) Option {
	return func(o *options) { o.cfg.Name = name }
}

func WithMaxConcurrency(n int) Option {
	return func(o *options) { o.cfg.MaxConcurrency = n }
}

func WithLimits(l frame.Limits) Option {
	return func(o *options) { o.cfg.Limits = l }
}

func WithDrainTimeout(d time.Duration) Option {
	return func(o *options) { o.cfg.DrainTimeout = d }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = &l }
}

// WithRegistry injects the pending-call registry a Client uses.
// Its own max concurrency wins over Config.MaxConcurrency.
func WithRegistry(r *Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithNotificationHandler sets the handler for received one-way frames.
func WithNotificationHandler(fn NotificationHandler) Option {
	return func(o *options) { o.onNotify = fn }
}

// WithRequestHandler sets the collaborator that answers two-way requests.
func WithRequestHandler(h RequestHandler) Option {
	return func(o *options) { o.handler = h }
}

// WithReplyTagger sets the function a Server uses to stamp each response
// with its request's correlation id.
func WithReplyTagger(fn ReplyTagger) Option {
	return func(o *options) { o.tag = fn }
}

func buildOptions(opts []Option) options {
	o := options{cfg: DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	o.cfg = o.cfg.WithDefaults()
	if o.onNotify == nil {
		o.onNotify = func(context.Context, frame.Message) {}
	}
	return o
}
