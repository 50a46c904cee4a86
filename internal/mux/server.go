package mux

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/danmuck/rpcmux/internal/observability"
	"github.com/danmuck/rpcmux/internal/protocol/frame"
	"github.com/rs/zerolog"
)

// RequestHandler answers one two-way request. Without a ReplyTagger the
// returned message is written as is and must already carry the request's
// correlation id in its raw bytes.
type RequestHandler interface {
	HandleRequest(ctx context.Context, req frame.Message) (frame.Message, error)
}

type RequestHandlerFunc func(ctx context.Context, req frame.Message) (frame.Message, error)

func (f RequestHandlerFunc) HandleRequest(ctx context.Context, req frame.Message) (frame.Message, error) {
	return f(ctx, req)
}

// ReplyTagger returns resp re-encoded under correlation id.
type ReplyTagger func(resp frame.Message, id uint32) (frame.Message, error)

// Server is the answering role. Each request is handled on its own
// goroutine; failures to answer are logged and swallowed so one bad request
// or write never stops the receive loop.
type Server struct {
	name     string
	logger   zerolog.Logger
	engine   *Engine
	handler  RequestHandler
	tag      ReplyTagger
	onNotify NotificationHandler
	wg       sync.WaitGroup
}

func NewServer(r io.Reader, w io.Writer, c frame.Classifier, opts ...Option) (*Server, error) {
	o := buildOptions(opts)
	if o.handler == nil {
		return nil, ErrNoHandler
	}
	logger := observability.EndpointLogger(o.cfg.Name, "server")
	if o.logger != nil {
		logger = *o.logger
	}
	s := &Server{
		name:     o.cfg.Name,
		logger:   logger,
		handler:  o.handler,
		tag:      o.tag,
		onNotify: o.onNotify,
	}
	s.engine = newEngine(r, w, c, serverRole{s}, o.cfg, logger)
	s.engine.onStop = s.wg.Wait
	return s, nil
}

// Notify sends an unsolicited one-way message to the peer.
func (s *Server) Notify(ctx context.Context, msg frame.Message) error {
	return s.engine.Write(ctx, msg.Raw)
}

// Run drives the receive loop and waits for in-flight requests to finish
// before returning. After a clean stream end they get the drain timeout
// before their context is canceled.
func (s *Server) Run(ctx context.Context) error {
	return s.engine.Run(ctx)
}

func (s *Server) Engine() *Engine {
	return s.engine
}

func (s *Server) Name() string {
	return s.name
}

func (s *Server) answer(ctx context.Context, req frame.Message) {
	defer func() {
		if p := recover(); p != nil {
			observability.RecordRequestFailure(s.name, "panic")
			s.logger.Error().Uint32("id", req.ID).Str("panic", fmt.Sprint(p)).Msg("mux.Server request handler panic")
		}
	}()

	resp, err := s.handler.HandleRequest(ctx, req)
	if err != nil {
		observability.RecordRequestFailure(s.name, "handler")
		s.logger.Warn().Uint32("id", req.ID).Err(err).Msg("mux.Server request handler")
		return
	}
	if s.tag != nil {
		if resp, err = s.tag(resp, req.ID); err != nil {
			observability.RecordRequestFailure(s.name, "tag")
			s.logger.Warn().Uint32("id", req.ID).Err(err).Msg("mux.Server tag reply")
			return
		}
	}
	if err := s.engine.Write(ctx, resp.Raw); err != nil {
		// The peer cannot be told about a failed reply; connection faults are
		// left to whoever owns the stream.
		observability.RecordRequestFailure(s.name, "write")
		s.logger.Warn().Uint32("id", req.ID).Err(err).Msg("mux.Server write reply")
	}
}

type serverRole struct{ s *Server }

func (r serverRole) OnOneWay(ctx context.Context, msg frame.Message) {
	r.s.onNotify(ctx, msg)
}

func (r serverRole) OnTwoWay(ctx context.Context, msg frame.Message) {
	r.s.wg.Add(1)
	go func() {
		defer r.s.wg.Done()
		r.s.answer(ctx, msg)
	}()
}
