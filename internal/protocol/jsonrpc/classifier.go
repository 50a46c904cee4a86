package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/danmuck/rpcmux/internal/protocol/frame"
)

// Classifier recognizes one JSON object per frame.
type Classifier struct{}

var _ frame.Classifier = Classifier{}

func (Classifier) Classify(raw []byte) (frame.Message, error) {
	var fields Fields
	if err := json.Unmarshal(raw, &fields); err != nil {
		return frame.Message{}, fmt.Errorf("%w: %w: %v", frame.ErrUnclassified, ErrNotObject, err)
	}
	if fields == nil {
		return frame.Message{}, fmt.Errorf("%w: %w", frame.ErrUnclassified, ErrNotObject)
	}

	msg := frame.New(raw)
	if id, ok := parseID(fields["id"]); ok {
		msg = msg.WithID(id)
	}
	_, msg.Error = fields["error"]
	msg.Payload = fields
	return msg, nil
}

// parseID accepts an unsigned integer literal that fits 32 bits. Strings,
// fractions, negatives and null are not correlation ids.
func parseID(raw json.RawMessage) (uint32, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, false
	}
	id, err := strconv.ParseUint(string(raw), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(id), true
}
