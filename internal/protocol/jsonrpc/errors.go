package jsonrpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

var (
	ErrCanceled      = errors.New("jsonrpc: call canceled")
	ErrNotObject     = errors.New("jsonrpc: frame is not a json object")
	ErrUnexpectedMsg = errors.New("jsonrpc: reply has neither result nor error")
)

// Error is the error member of an error response. It is also returned by
// Client.Call when the peer answered with one.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("jsonrpc: error code %d", e.Code)
	}
	return fmt.Sprintf("jsonrpc: %s (code %d)", e.Message, e.Code)
}

func Errorf(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsCode reports whether err is an *Error with the given code.
func IsCode(err error, code int) bool {
	var rpcErr *Error
	return errors.As(err, &rpcErr) && rpcErr.Code == code
}
