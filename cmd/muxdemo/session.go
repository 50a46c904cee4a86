package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/rpcmux/internal/fibonacci"
	"github.com/danmuck/rpcmux/internal/protocol/jsonrpc"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// serveSession answers one peer on rw until the peer hangs up or ctx ends.
func serveSession(ctx context.Context, rw io.ReadWriter, cfg demoConfig) error {
	server, err := jsonrpc.NewServer(rw, rw, cfg.muxOptions("server")...)
	if err != nil {
		return err
	}
	svc := fibonacci.Register(server, cfg.Interval)
	err = server.Run(ctx)
	svc.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runSubscriber subscribes for cfg.Depth values on rw and writes each value
// to out, one per line.
func runSubscriber(ctx context.Context, rw io.ReadWriter, cfg demoConfig, out io.Writer) error {
	client := jsonrpc.NewClient(rw, rw, nil, cfg.muxOptions("client")...)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		// A peer hang-up also ends the subscription.
		defer stop()
		err := client.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		defer stop()
		sub, err := fibonacci.Subscribe(gctx, client, cfg.Depth)
		if err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
		defer sub.Close()
		n := 0
		for v := range sub.Values(gctx) {
			if _, err := fmt.Fprintf(out, "%d\n", v); err != nil {
				return err
			}
			n++
		}
		if n != sub.Depth+1 {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("stream ended after %d of %d values", n, sub.Depth+1)
		}
		log.Info().Int("values", n).Msg("muxdemo subscription complete")
		return nil
	})
	return g.Wait()
}
