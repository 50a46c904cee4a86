package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/rpcmux/internal/fibonacci"
	"github.com/danmuck/rpcmux/internal/mux"
	"github.com/danmuck/rpcmux/internal/protocol/frame"
	"github.com/danmuck/rpcmux/internal/transport"
)

const (
	modePipe  = "pipe"
	modeServe = "serve"
	modeDial  = "dial"

	transportTCP = "tcp"
	transportWS  = "ws"
)

var (
	ErrInvalidMode      = errors.New("muxdemo: invalid mode")
	ErrInvalidTransport = errors.New("muxdemo: invalid transport")
	ErrInvalidDepth     = errors.New("muxdemo: depth out of range")
)

type demoConfig struct {
	Name           string
	Mode           string
	Addr           string
	Transport      string
	MaxConcurrency int
	MaxFrameBytes  int
	Depth          int
	Interval       time.Duration
	MetricsAddr    string
	Token          string
	Dial           transport.DialConfig
	TLS            transport.TLSConfig
}

type fileConfig struct {
	Name            string              `toml:"name"`
	Mode            string              `toml:"mode"`
	Addr            string              `toml:"addr"`
	Transport       string              `toml:"transport"`
	MaxConcurrency  int                 `toml:"max_concurrency"`
	MaxFrameBytes   int                 `toml:"max_frame_bytes"`
	Depth           int                 `toml:"depth"`
	Interval        string              `toml:"interval"`
	MetricsAddr     string              `toml:"metrics_addr"`
	Token           string              `toml:"token"`
	DialMaxAttempts int                 `toml:"dial_max_attempts"`
	TLS             transport.TLSConfig `toml:"tls"`
}

func defaultDemoConfig() demoConfig {
	return demoConfig{
		Name:           "muxdemo",
		Mode:           modePipe,
		Addr:           "127.0.0.1:7420",
		Transport:      transportTCP,
		MaxConcurrency: mux.DefaultMaxConcurrency,
		MaxFrameBytes:  frame.DefaultLimits().MaxFrameBytes,
		Depth:          20,
		Interval:       fibonacci.DefaultInterval,
		Dial:           transport.DefaultDialConfig(),
	}
}

func loadDemoConfig(path string) (demoConfig, error) {
	cfg := defaultDemoConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return demoConfig{}, fmt.Errorf("load muxdemo config: %w", err)
	}

	if meta.IsDefined("name") {
		if v := strings.TrimSpace(raw.Name); v != "" {
			cfg.Name = v
		}
	}
	if meta.IsDefined("mode") {
		cfg.Mode = strings.ToLower(strings.TrimSpace(raw.Mode))
	}
	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("transport") {
		cfg.Transport = strings.ToLower(strings.TrimSpace(raw.Transport))
	}
	if meta.IsDefined("max_concurrency") {
		cfg.MaxConcurrency = raw.MaxConcurrency
	}
	if meta.IsDefined("max_frame_bytes") {
		cfg.MaxFrameBytes = raw.MaxFrameBytes
	}
	if meta.IsDefined("depth") {
		cfg.Depth = raw.Depth
	}
	if meta.IsDefined("interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Interval))
		if err != nil {
			return demoConfig{}, fmt.Errorf("parse interval: %w", err)
		}
		cfg.Interval = d
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("token") {
		cfg.Token = strings.TrimSpace(raw.Token)
	}
	if meta.IsDefined("dial_max_attempts") {
		cfg.Dial.MaxAttempts = raw.DialMaxAttempts
	}
	if meta.IsDefined("tls") {
		cfg.TLS = raw.TLS
		cfg.Dial.TLS = raw.TLS
	}
	return cfg, cfg.validate()
}

func (c demoConfig) validate() error {
	switch c.Mode {
	case modePipe, modeServe, modeDial:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMode, c.Mode)
	}
	switch c.Transport {
	case transportTCP:
	case transportWS:
		if c.TLS.Enabled {
			return fmt.Errorf("%w: tls is only supported for tcp", ErrInvalidTransport)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTransport, c.Transport)
	}
	if c.Depth < 0 || c.Depth > fibonacci.MaxDepth {
		return fmt.Errorf("%w: %d", ErrInvalidDepth, c.Depth)
	}
	return nil
}

func (c demoConfig) muxOptions(role string) []mux.Option {
	return []mux.Option{
		mux.WithName(c.Name + "-" + role),
		mux.WithMaxConcurrency(c.MaxConcurrency),
		mux.WithLimits(frame.Limits{MaxFrameBytes: c.MaxFrameBytes}),
	}
}
