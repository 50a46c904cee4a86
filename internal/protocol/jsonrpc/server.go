package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/danmuck/rpcmux/internal/mux"
	"github.com/danmuck/rpcmux/internal/observability"
	"github.com/danmuck/rpcmux/internal/protocol/frame"
	"github.com/rs/zerolog"
)

// HandlerFunc answers one method. Returning an *Error sends it as is; any
// other error is reported to the caller as an internal error.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// Server answers JSON calls over a mux.Server.
type Server struct {
	mux    *mux.Server
	logger zerolog.Logger
	router *router

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewServer builds the answering side. Request handler, reply tagger and
// notification handler passed in opts are replaced.
func NewServer(r io.Reader, w io.Writer, opts ...mux.Option) (*Server, error) {
	s := &Server{handlers: make(map[string]HandlerFunc)}
	opts = append(opts,
		mux.WithRequestHandler(mux.RequestHandlerFunc(s.handleRequest)),
		mux.WithReplyTagger(TagReply),
		mux.WithNotificationHandler(func(ctx context.Context, msg frame.Message) {
			s.router.dispatch(ctx, msg)
		}),
	)
	m, err := mux.NewServer(r, w, Classifier{}, opts...)
	if err != nil {
		return nil, err
	}
	s.mux = m
	s.logger = observability.EndpointLogger(m.Name(), "jsonrpc-server")
	s.router = newRouter(s.logger)
	return s, nil
}

// Handle registers fn for method, replacing any earlier registration.
func (s *Server) Handle(method string, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = fn
}

// Subscribe routes notifications for method to fn.
func (s *Server) Subscribe(method string, fn NotificationFunc) {
	s.router.set(method, fn)
}

func (s *Server) Notify(ctx context.Context, method string, params any) error {
	raw, err := Encode(Notification{Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("jsonrpc: encode %s notification: %w", method, err)
	}
	return s.mux.Notify(ctx, frame.New(raw))
}

// NotifyAll sends msgs in order and stops at the first failure.
func (s *Server) NotifyAll(ctx context.Context, msgs ...Notification) error {
	for _, msg := range msgs {
		if err := s.Notify(ctx, msg.Method, msg.Params); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) Run(ctx context.Context) error {
	return s.mux.Run(ctx)
}

func (s *Server) Mux() *mux.Server {
	return s.mux
}

func (s *Server) handleRequest(ctx context.Context, req frame.Message) (frame.Message, error) {
	if req.Error {
		return reply(nil, Errorf(CodeInvalidRequest, "error response sent as request"))
	}
	fields := FieldsOf(req)
	method := fields.Method()
	if method == "" {
		return reply(nil, Errorf(CodeInvalidRequest, "missing method"))
	}
	s.mu.RLock()
	fn := s.handlers[method]
	s.mu.RUnlock()
	if fn == nil {
		return reply(nil, Errorf(CodeMethodNotFound, "method not found: %s", method))
	}

	result, err := s.invoke(ctx, fn, fields.Params())
	if err != nil {
		var rpcErr *Error
		if !errors.As(err, &rpcErr) {
			s.logger.Warn().Str("method", method).Uint32("id", req.ID).Err(err).Msg("jsonrpc handler")
			rpcErr = &Error{Code: CodeInternalError, Message: err.Error()}
		}
		return reply(nil, rpcErr)
	}
	return reply(result, nil)
}

func (s *Server) invoke(ctx context.Context, fn HandlerFunc, params json.RawMessage) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return fn(ctx, params)
}

// reply builds an answer without an id; TagReply encodes it once the
// request id is known.
func reply(result any, rpcErr *Error) (frame.Message, error) {
	if rpcErr != nil {
		return frame.Message{Error: true, Payload: ErrorResponse{Error: rpcErr}}, nil
	}
	return frame.Message{Payload: Response{Result: result}}, nil
}

// TagReply encodes a Response or ErrorResponse payload under id. A result
// that does not marshal is answered with an internal error instead.
func TagReply(resp frame.Message, id uint32) (frame.Message, error) {
	switch body := resp.Payload.(type) {
	case Response:
		raw, err := Encode(body.WithID(id))
		if err == nil {
			return frame.NewTwoWay(id, raw), nil
		}
		return TagReply(frame.Message{
			Error:   true,
			Payload: ErrorResponse{Error: Errorf(CodeInternalError, "encode result: %v", err)},
		}, id)
	case ErrorResponse:
		raw, err := Encode(body.WithID(id))
		if err != nil {
			return frame.Message{}, err
		}
		msg := frame.NewTwoWay(id, raw)
		msg.Error = true
		return msg, nil
	default:
		return frame.Message{}, fmt.Errorf("%w: reply payload %T", ErrUnexpectedMsg, resp.Payload)
	}
}
