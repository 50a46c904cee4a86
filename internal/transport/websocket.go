package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
)

// WSConn presents a WebSocket connection as a byte stream. Every Write is
// sent as one text message; Read returns message payloads back to back.
type WSConn struct {
	conn *websocket.Conn

	rmu    sync.Mutex
	reader io.Reader

	wmu sync.Mutex
}

var _ io.ReadWriteCloser = (*WSConn)(nil)

func NewWSConn(conn *websocket.Conn) *WSConn {
	return &WSConn{conn: conn}
}

// Read maps a normal close from the peer to io.EOF.
func (c *WSConn) Read(p []byte) (int, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	for {
		if c.reader == nil {
			mt, r, err := c.conn.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
				continue
			}
			c.reader = r
		}
		n, err := c.reader.Read(p)
		if errors.Is(err, io.EOF) {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *WSConn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *WSConn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

// Close sends a normal close frame and closes the connection.
func (c *WSConn) Close() error {
	c.wmu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	werr := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.wmu.Unlock()
	if errors.Is(werr, websocket.ErrCloseSent) {
		werr = nil
	}
	return multierr.Combine(werr, c.conn.Close())
}

// NewUpgrader returns an upgrader; allowAnyOrigin skips the same-origin check.
func NewUpgrader(allowAnyOrigin bool) *websocket.Upgrader {
	u := &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	if allowAnyOrigin {
		u.CheckOrigin = func(*http.Request) bool { return true }
	}
	return u
}

// Upgrade turns an HTTP request into a WSConn.
func Upgrade(u *websocket.Upgrader, w http.ResponseWriter, r *http.Request) (*WSConn, error) {
	conn, err := u.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: websocket upgrade: %w", err)
	}
	return NewWSConn(conn), nil
}

// DialWebSocket connects to a ws:// or wss:// url. header may be nil.
func DialWebSocket(ctx context.Context, url string, header http.Header) (*WSConn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("transport: websocket dial %s: %w", url, err)
	}
	return NewWSConn(conn), nil
}
