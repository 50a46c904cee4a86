package jsonrpc

import (
	"encoding/json"

	"github.com/danmuck/rpcmux/internal/protocol/frame"
)

// Request is a two-way call. ID is set by the client right before sending.
type Request struct {
	ID     *uint32 `json:"id,omitempty"`
	Method string  `json:"method"`
	Params any     `json:"params,omitempty"`
}

func (r Request) WithID(id uint32) Request {
	r.ID = &id
	return r
}

// Notification is a one-way message.
type Notification struct {
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type Response struct {
	ID     *uint32 `json:"id,omitempty"`
	Result any     `json:"result"`
}

func (r Response) WithID(id uint32) Response {
	r.ID = &id
	return r
}

type ErrorResponse struct {
	ID    *uint32 `json:"id,omitempty"`
	Error *Error  `json:"error"`
}

func (r ErrorResponse) WithID(id uint32) ErrorResponse {
	r.ID = &id
	return r
}

// Encode marshals v and wraps it for the wire.
func Encode(v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return frame.Wrap(body), nil
}

// Fields is the decoded top level of a frame, kept as Message.Payload.
type Fields map[string]json.RawMessage

// FieldsOf returns the decoded top level of msg, or nil when msg did not
// pass through Classifier.
func FieldsOf(msg frame.Message) Fields {
	f, _ := msg.Payload.(Fields)
	return f
}

// Method returns the "method" member, or "" when absent or not a string.
func (f Fields) Method() string {
	raw, ok := f["method"]
	if !ok {
		return ""
	}
	var method string
	if err := json.Unmarshal(raw, &method); err != nil {
		return ""
	}
	return method
}

// Params returns the raw "params" member, or nil.
func (f Fields) Params() json.RawMessage {
	return f["params"]
}
