package mux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/rpcmux/internal/protocol/frame"
	"github.com/danmuck/rpcmux/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

// echoHandler answers "<id> <body>" with "<id> echo:<body>"; bodies "fail"
// and "panic" exercise the error paths.
var echoHandler = RequestHandlerFunc(func(_ context.Context, req frame.Message) (frame.Message, error) {
	_, body, _ := strings.Cut(string(req.Raw), " ")
	switch body {
	case "fail":
		return frame.Message{}, errors.New("handler refused")
	case "panic":
		panic("handler exploded")
	}
	return frame.New(frame.Wrap([]byte(fmt.Sprintf("%d echo:%s", req.ID, body)))), nil
})

func startServer(t *testing.T, opts ...Option) (*Server, *peer, context.CancelFunc, <-chan error) {
	t.Helper()
	r, w, p := newPipePair(t)
	s, err := NewServer(r, w, lineClassifier, opts...)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return s, p, cancel, runLoop(ctx, s.Run)
}

func TestNewServerRequiresHandler(t *testing.T) {
	testlog.Start(t)
	r, w, _ := newPipePair(t)
	_, err := NewServer(r, w, lineClassifier)
	require.ErrorIs(t, err, ErrNoHandler)
}

func TestServerAnswersRequestsTaggedWithRequestID(t *testing.T) {
	testlog.Start(t)
	_, p, _, _ := startServer(t, WithRequestHandler(echoHandler))

	p.sendAsync("12 hello")
	got, ok := p.next(time.Second)
	require.True(t, ok)
	require.True(t, got.TwoWay)
	require.Equal(t, uint32(12), got.ID)
	require.Equal(t, "12 echo:hello", string(got.Raw))
}

func TestServerSwallowsHandlerFailuresAndKeepsServing(t *testing.T) {
	testlog.Start(t)
	_, p, _, loopErr := startServer(t, WithRequestHandler(echoHandler))

	p.send("1 fail")
	p.send("2 panic")
	p.send("3 still-here")

	got, ok := p.next(time.Second)
	require.True(t, ok)
	require.Equal(t, "3 echo:still-here", string(got.Raw))
	select {
	case err := <-loopErr:
		t.Fatalf("receive loop stopped: %v", err)
	default:
	}
}

func TestServerSlowRequestDoesNotBlockNext(t *testing.T) {
	testlog.Start(t)
	release := make(chan struct{})
	handler := RequestHandlerFunc(func(ctx context.Context, req frame.Message) (frame.Message, error) {
		if req.ID == 1 {
			select {
			case <-release:
			case <-ctx.Done():
				return frame.Message{}, ctx.Err()
			}
		}
		return frame.New(frame.Wrap([]byte(fmt.Sprintf("%d done", req.ID)))), nil
	})
	_, p, _, _ := startServer(t, WithRequestHandler(handler))

	p.send("1 slow")
	p.send("2 fast")
	got, ok := p.next(time.Second)
	require.True(t, ok)
	require.Equal(t, uint32(2), got.ID)

	close(release)
	got, ok = p.next(time.Second)
	require.True(t, ok)
	require.Equal(t, uint32(1), got.ID)
}

func TestServerSwallowsReplyWriteFailure(t *testing.T) {
	testlog.Start(t)
	r, _, p := newPipePair(t)
	var answered atomic.Int32
	handler := RequestHandlerFunc(func(_ context.Context, req frame.Message) (frame.Message, error) {
		answered.Add(1)
		return frame.New(frame.Wrap([]byte(fmt.Sprintf("%d ok", req.ID)))), nil
	})
	s, err := NewServer(r, failingWriter{err: errors.New("peer gone")}, lineClassifier, WithRequestHandler(handler))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loopErr := runLoop(ctx, s.Run)

	p.send("1 a")
	p.send("2 b")
	eventually(t, func() bool { return answered.Load() == 2 }, "both requests answered")
	p.hangUp()
	require.NoError(t, <-loopErr)
}

func TestServerNotifyAndReceiveNotifications(t *testing.T) {
	testlog.Start(t)
	received := make(chan string, 4)
	s, p, _, _ := startServer(t,
		WithRequestHandler(echoHandler),
		WithNotificationHandler(func(_ context.Context, msg frame.Message) {
			received <- string(msg.Raw)
		}),
	)

	p.send("client-says-hi")
	select {
	case got := <-received:
		require.Equal(t, "client-says-hi", got)
	case <-time.After(time.Second):
		t.Fatalf("notification not delivered")
	}

	require.NoError(t, s.Notify(context.Background(), note("server-says-hi")))
	got, ok := p.next(time.Second)
	require.True(t, ok)
	require.False(t, got.TwoWay)
	require.Equal(t, "server-says-hi", string(got.Raw))
}

func TestServerRunWaitsForInFlightRequests(t *testing.T) {
	testlog.Start(t)
	started := make(chan struct{})
	var finished atomic.Bool
	handler := RequestHandlerFunc(func(ctx context.Context, req frame.Message) (frame.Message, error) {
		close(started)
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		finished.Store(true)
		return frame.Message{}, ctx.Err()
	})
	_, p, cancel, loopErr := startServer(t, WithRequestHandler(handler))
	p.send("1 wait")
	<-started
	cancel()
	require.ErrorIs(t, <-loopErr, context.Canceled)
	require.True(t, finished.Load())
}

// tagLine prefixes a reply body with the request id.
func tagLine(resp frame.Message, id uint32) (frame.Message, error) {
	body := bytes.TrimSpace(resp.Raw)
	if string(body) == "untaggable" {
		return frame.Message{}, errors.New("cannot tag")
	}
	return frame.NewTwoWay(id, frame.Wrap([]byte(fmt.Sprintf("%d %s", id, body)))), nil
}

func TestServerReplyTaggerStampsRequestID(t *testing.T) {
	testlog.Start(t)
	handler := RequestHandlerFunc(func(_ context.Context, req frame.Message) (frame.Message, error) {
		_, body, _ := strings.Cut(string(req.Raw), " ")
		return frame.New(frame.Wrap([]byte(body))), nil
	})
	_, p, _, _ := startServer(t, WithRequestHandler(handler), WithReplyTagger(tagLine))

	p.send("7 untaggable")
	p.send("8 tagged")
	got, ok := p.next(time.Second)
	require.True(t, ok)
	require.True(t, got.TwoWay)
	require.Equal(t, uint32(8), got.ID)
	require.Equal(t, "8 tagged", string(got.Raw))
}

func TestServerCancelsHandlersAfterDrainTimeout(t *testing.T) {
	testlog.Start(t)
	started := make(chan struct{})
	handler := RequestHandlerFunc(func(ctx context.Context, req frame.Message) (frame.Message, error) {
		close(started)
		<-ctx.Done()
		return frame.Message{}, ctx.Err()
	})
	_, p, _, loopErr := startServer(t, WithRequestHandler(handler), WithDrainTimeout(30*time.Millisecond))
	p.send("1 hold")
	<-started
	p.hangUp()

	select {
	case err := <-loopErr:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after the drain timeout")
	}
}
