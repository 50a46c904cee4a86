package mux

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"testing"
	"time"

	"github.com/danmuck/rpcmux/internal/protocol/frame"
)

// lineClassifier understands "<id> <body>" as two-way, "!<id> <body>" as a
// two-way error and anything else as one-way. "garbage" is rejected.
var lineClassifier = frame.ClassifierFunc(func(raw []byte) (frame.Message, error) {
	if string(raw) == "garbage" {
		return frame.Message{}, frame.ErrUnclassified
	}
	isErr := false
	body := raw
	if len(body) > 0 && body[0] == '!' {
		isErr = true
		body = body[1:]
	}
	head, _, found := bytes.Cut(body, []byte(" "))
	if found {
		if id, err := strconv.ParseUint(string(head), 10, 32); err == nil && id > 0 {
			msg := frame.NewTwoWay(uint32(id), raw)
			msg.Error = isErr
			return msg, nil
		}
	}
	return frame.New(raw), nil
})

func request(id uint32, body string) frame.Message {
	return frame.NewTwoWay(id, frame.Wrap([]byte(fmt.Sprintf("%d %s", id, body))))
}

func note(body string) frame.Message {
	return frame.New(frame.Wrap([]byte(body)))
}

// peer is the far end of a stream pair: it records every frame the endpoint
// writes and can write frames back.
type peer struct {
	t      *testing.T
	out    *io.PipeWriter
	in     *io.PipeReader
	frames chan frame.Message
}

// newPipePair returns the endpoint's reader and writer plus the peer.
func newPipePair(t *testing.T) (io.Reader, io.Writer, *peer) {
	t.Helper()
	endpointIn, peerOut := io.Pipe()
	peerIn, endpointOut := io.Pipe()
	p := &peer{t: t, out: peerOut, in: peerIn, frames: make(chan frame.Message, 64)}
	go func() {
		defer close(p.frames)
		dec := frame.NewDecoder(peerIn, lineClassifier, frame.DefaultLimits())
		for msg := range dec.All() {
			p.frames <- msg
		}
	}()
	t.Cleanup(func() {
		_ = peerOut.Close()
		_ = peerIn.Close()
	})
	return endpointIn, endpointOut, p
}

func (p *peer) send(line string) {
	p.t.Helper()
	if _, err := p.out.Write(frame.Wrap([]byte(line))); err != nil {
		p.t.Fatalf("peer write: %v", err)
	}
}

// sendAsync writes from another goroutine; pipe writes block until read.
func (p *peer) sendAsync(line string) {
	go func() { _, _ = p.out.Write(frame.Wrap([]byte(line))) }()
}

func (p *peer) next(timeout time.Duration) (frame.Message, bool) {
	select {
	case msg, ok := <-p.frames:
		return msg, ok
	case <-time.After(timeout):
		return frame.Message{}, false
	}
}

func (p *peer) expectNone(wait time.Duration) {
	p.t.Helper()
	if msg, ok := p.next(wait); ok {
		p.t.Fatalf("unexpected frame from endpoint: %q", msg.Raw)
	}
}

func (p *peer) hangUp() {
	_ = p.out.Close()
}

type callOutcome struct {
	res Result
	err error
}

func goCall(ctx context.Context, c *Client, msg frame.Message) <-chan callOutcome {
	ch := make(chan callOutcome, 1)
	go func() {
		res, err := c.Call(ctx, msg)
		ch <- callOutcome{res: res, err: err}
	}()
	return ch
}

func runLoop(ctx context.Context, run func(context.Context) error) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- run(ctx) }()
	return ch
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}
