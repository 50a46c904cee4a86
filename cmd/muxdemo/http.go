package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/danmuck/rpcmux/internal/auth"
	"github.com/danmuck/rpcmux/internal/observability"
	"github.com/danmuck/rpcmux/internal/transport"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// newRouter builds the HTTP surface. With a non-nil sessionCtx the router
// also upgrades /mux to a WebSocket session, behind a bearer token when one
// is configured.
func newRouter(sessionCtx context.Context, cfg demoConfig, logger zerolog.Logger) *gin.Engine {
	observability.RegisterMetrics()
	started := time.Now()

	r := gin.New()
	r.Use(gin.Recovery(), observability.HTTPAccess(logger, cfg.Name))
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(started).String(),
			"component": cfg.Name,
			"transport": cfg.Transport,
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if sessionCtx != nil {
		upgrader := transport.NewUpgrader(true)
		handlers := []gin.HandlerFunc{}
		if cfg.Token != "" {
			handlers = append(handlers, auth.Middleware(auth.StaticToken{Token: cfg.Token}))
		}
		handlers = append(handlers, func(c *gin.Context) {
			conn, err := transport.Upgrade(upgrader, c.Writer, c.Request)
			if err != nil {
				logger.Warn().Err(err).Msg("muxdemo websocket upgrade")
				return
			}
			defer conn.Close()
			if err := serveSession(sessionCtx, conn, cfg); err != nil {
				logger.Warn().Err(err).Msg("muxdemo websocket session")
			}
		})
		r.GET("/mux", handlers...)
	}
	return r
}

// serveHTTP runs handler on addr until ctx ends.
func serveHTTP(ctx context.Context, addr string, handler http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("muxdemo http listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
