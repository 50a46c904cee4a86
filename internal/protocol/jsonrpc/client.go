package jsonrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/danmuck/rpcmux/internal/mux"
	"github.com/danmuck/rpcmux/internal/protocol/frame"
	"github.com/danmuck/rpcmux/internal/protocol/msgid"
	"github.com/danmuck/rpcmux/internal/observability"
)

// Client issues JSON calls over a mux.Client. Ids come from an IDSource and
// are released once the call has fully completed.
type Client struct {
	mux    *mux.Client
	ids    msgid.IDSource
	router *router
}

// NewClient builds the calling side. A nil ids uses a fresh msgid.Source.
// Notifications are routed by Subscribe; a notification handler passed in
// opts is replaced.
func NewClient(r io.Reader, w io.Writer, ids msgid.IDSource, opts ...mux.Option) *Client {
	if ids == nil {
		ids = msgid.New()
	}
	c := &Client{ids: ids}
	opts = append(opts, mux.WithNotificationHandler(func(ctx context.Context, msg frame.Message) {
		c.router.dispatch(ctx, msg)
	}))
	c.mux = mux.NewClient(r, w, Classifier{}, opts...)
	c.router = newRouter(observability.EndpointLogger(c.mux.Name(), "jsonrpc-client"))
	return c
}

// Call sends method with params and decodes the result into result, which
// may be nil. A peer error is returned as *Error; cancellation and stream
// end return ErrCanceled.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	id := c.ids.Fetch()
	defer c.ids.Release(id)

	raw, err := Encode(Request{Method: method, Params: params}.WithID(id))
	if err != nil {
		return fmt.Errorf("jsonrpc: encode %s request: %w", method, err)
	}
	res, err := c.mux.Call(ctx, frame.NewTwoWay(id, raw))
	if err != nil {
		return err
	}
	if res.Canceled() {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", ErrCanceled, ctxErr)
		}
		return ErrCanceled
	}
	return decodeReply(res.Reply, result)
}

// BatchCall is one call issued by CallAll. Result may be nil.
type BatchCall struct {
	Method string
	Params any
	Result any
}

// CallAll issues every call concurrently, subject to the concurrency gate,
// and returns one error per call in the order given.
func (c *Client) CallAll(ctx context.Context, calls ...BatchCall) []error {
	errs := make([]error, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = c.Call(ctx, call.Method, call.Params, call.Result)
		}()
	}
	wg.Wait()
	return errs
}

// Notify sends a one-way message.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	raw, err := Encode(Notification{Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("jsonrpc: encode %s notification: %w", method, err)
	}
	return c.mux.Notify(ctx, frame.New(raw))
}

// NotifyAll sends msgs in order and stops at the first failure.
func (c *Client) NotifyAll(ctx context.Context, msgs ...Notification) error {
	for _, msg := range msgs {
		if err := c.Notify(ctx, msg.Method, msg.Params); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe routes notifications for method to fn. A nil fn removes the
// route. Handlers run one at a time in arrival order.
func (c *Client) Subscribe(method string, fn NotificationFunc) {
	c.router.set(method, fn)
}

func (c *Client) Run(ctx context.Context) error {
	return c.mux.Run(ctx)
}

func (c *Client) Mux() *mux.Client {
	return c.mux
}

func decodeReply(reply frame.Message, result any) error {
	fields := FieldsOf(reply)
	if reply.Error {
		rpcErr := &Error{}
		if err := json.Unmarshal(fields["error"], rpcErr); err != nil {
			return fmt.Errorf("jsonrpc: decode error member: %w", err)
		}
		return rpcErr
	}
	raw, ok := fields["result"]
	if !ok {
		return ErrUnexpectedMsg
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("jsonrpc: decode result: %w", err)
	}
	return nil
}
