package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/rpcmux/internal/auth"
	"github.com/danmuck/rpcmux/internal/observability"
	"github.com/danmuck/rpcmux/internal/transport"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "muxdemo: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("muxdemo", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a TOML config file")
	mode := fs.String("mode", "", "pipe, serve or dial")
	addr := fs.String("addr", "", "listen or dial address")
	depth := fs.Int("depth", -1, "highest fibonacci index to stream")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := defaultDemoConfig()
	if *configPath != "" {
		loaded, err := loadDemoConfig(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if *mode != "" {
		cfg.Mode = strings.ToLower(*mode)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *depth >= 0 {
		cfg.Depth = *depth
	}
	if err := cfg.validate(); err != nil {
		return err
	}

	logger := observability.InitLogger("muxdemo")
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cfg.Mode {
	case modePipe:
		return runPipe(ctx, cfg, out)
	case modeServe:
		return runServe(ctx, cfg, logger)
	default:
		return runDial(ctx, cfg, out)
	}
}

// runPipe runs both ends in process.
func runPipe(ctx context.Context, cfg demoConfig, out io.Writer) error {
	a, b := transport.Pipe()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serveSession(gctx, b, cfg)
	})
	g.Go(func() error {
		defer b.Close()
		defer a.Close()
		return runSubscriber(gctx, a, cfg, out)
	})
	return g.Wait()
}

func runServe(ctx context.Context, cfg demoConfig, logger zerolog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return serveHTTP(gctx, cfg.MetricsAddr, newRouter(nil, cfg, logger))
		})
	}

	switch cfg.Transport {
	case transportWS:
		g.Go(func() error {
			return serveHTTP(gctx, cfg.Addr, newRouter(gctx, cfg, logger))
		})
	default:
		ln, err := transport.Listen(cfg.Addr, cfg.TLS)
		if err != nil {
			return err
		}
		logger.Info().Str("addr", ln.Addr().String()).Bool("tls", cfg.TLS.Enabled).Msg("muxdemo tcp listening")
		g.Go(func() error {
			return transport.Serve(gctx, ln, func(ctx context.Context, conn net.Conn) {
				if err := serveSession(ctx, conn, cfg); err != nil {
					logger.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("muxdemo tcp session")
				}
			})
		})
	}
	return g.Wait()
}

func runDial(ctx context.Context, cfg demoConfig, out io.Writer) error {
	var rw io.ReadWriteCloser
	switch cfg.Transport {
	case transportWS:
		var header http.Header
		if cfg.Token != "" {
			header = auth.AuthorizationHeader(cfg.Token)
		}
		conn, err := transport.DialWebSocket(ctx, "ws://"+cfg.Addr+"/mux", header)
		if err != nil {
			return err
		}
		rw = conn
	default:
		conn, err := transport.Dial(ctx, cfg.Addr, cfg.Dial)
		if err != nil {
			return err
		}
		rw = conn
	}
	defer rw.Close()
	return runSubscriber(ctx, rw, cfg, out)
}
