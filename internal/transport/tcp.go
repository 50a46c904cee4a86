package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DialConfig controls how Dial reaches a listener. MaxAttempts <= 0 retries
// until ctx ends.
type DialConfig struct {
	ConnectTimeout time.Duration
	MaxAttempts    int
	Backoff        BackoffConfig
	TLS            TLSConfig
}

func DefaultDialConfig() DialConfig {
	return DialConfig{
		ConnectTimeout: 5 * time.Second,
		MaxAttempts:    5,
		Backoff:        DefaultBackoff(),
	}
}

// Dial connects to addr over TCP, retrying with backoff.
func Dial(ctx context.Context, addr string, cfg DialConfig) (net.Conn, error) {
	var tlsCfg *tls.Config
	if cfg.TLS.Enabled {
		c, err := cfg.TLS.ClientConfig(addr)
		if err != nil {
			return nil, err
		}
		tlsCfg = c
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var lastErr error
	for attempt := 1; ; attempt++ {
		conn, err := dialOnce(ctx, addr, cfg.ConnectTimeout, tlsCfg)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			return nil, fmt.Errorf("transport: dial %s after %d attempts: %w", addr, attempt, lastErr)
		}
		delay := NextBackoffDelay(cfg.Backoff, attempt, rng)
		log.Debug().Str("addr", addr).Int("attempt", attempt).Dur("retry_in", delay).Err(err).Msg("transport.Dial retry")
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func dialOnce(ctx context.Context, addr string, timeout time.Duration, tlsCfg *tls.Config) (net.Conn, error) {
	dialer := net.Dialer{Timeout: timeout}
	if tlsCfg == nil {
		return dialer.DialContext(ctx, "tcp", addr)
	}
	td := tls.Dialer{NetDialer: &dialer, Config: tlsCfg}
	return td.DialContext(ctx, "tcp", addr)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Listen opens a TCP listener, wrapped in TLS when cfg is enabled.
func Listen(addr string, cfg TLSConfig) (net.Listener, error) {
	if !cfg.Enabled {
		return net.Listen("tcp", addr)
	}
	tlsCfg, err := cfg.ServerConfig()
	if err != nil {
		return nil, err
	}
	return tls.Listen("tcp", addr, tlsCfg)
}

// ConnHandler owns conn until it returns; Serve closes conn afterwards.
type ConnHandler func(ctx context.Context, conn net.Conn)

// Serve accepts connections on ln until ctx ends, running handle for each on
// its own goroutine. On shutdown every open connection is closed and Serve
// waits for the handlers before returning nil.
func Serve(ctx context.Context, ln net.Listener, handle ConnHandler) error {
	t := &tracker{conns: make(map[net.Conn]struct{})}
	defer t.wg.Wait()
	defer ln.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		t.closeAll()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if !t.add(conn) {
			_ = conn.Close()
			continue
		}
		go func() {
			defer t.wg.Done()
			defer t.remove(conn)
			remote := conn.RemoteAddr().String()
			log.Info().Str("remote", remote).Msg("transport.Serve connection opened")
			handle(ctx, conn)
			log.Info().Str("remote", remote).Msg("transport.Serve connection closed")
		}()
	}
}

type tracker struct {
	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

func (t *tracker) add(conn net.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.conns[conn] = struct{}{}
	t.wg.Add(1)
	return true
}

func (t *tracker) remove(conn net.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = conn.Close()
	delete(t.conns, conn)
}

func (t *tracker) closeAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for conn := range t.conns {
		_ = conn.Close()
		delete(t.conns, conn)
	}
}
