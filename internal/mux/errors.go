package mux

import "errors"

var (
	ErrClosed         = errors.New("mux: endpoint closed")
	ErrAlreadyRunning = errors.New("mux: receive loop already started")
	ErrNoHandler      = errors.New("mux: no request handler")
)
