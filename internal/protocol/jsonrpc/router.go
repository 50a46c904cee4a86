package jsonrpc

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/danmuck/rpcmux/internal/protocol/frame"
	"github.com/rs/zerolog"
)

// NotificationFunc receives the raw params of a routed notification.
type NotificationFunc func(ctx context.Context, params json.RawMessage)

// router dispatches one-way frames by method name.
type router struct {
	logger zerolog.Logger
	mu     sync.RWMutex
	routes map[string]NotificationFunc
}

func newRouter(logger zerolog.Logger) *router {
	return &router{logger: logger, routes: make(map[string]NotificationFunc)}
}

func (r *router) set(method string, fn NotificationFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fn == nil {
		delete(r.routes, method)
		return
	}
	r.routes[method] = fn
}

func (r *router) dispatch(ctx context.Context, msg frame.Message) {
	fields := FieldsOf(msg)
	method := fields.Method()
	if method == "" {
		r.logger.Debug().Msg("jsonrpc notification without method")
		return
	}
	r.mu.RLock()
	fn := r.routes[method]
	r.mu.RUnlock()
	if fn == nil {
		r.logger.Debug().Str("method", method).Msg("jsonrpc notification not routed")
		return
	}
	fn(ctx, fields.Params())
}
