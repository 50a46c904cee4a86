package frame

import (
	"errors"
)

const (
	LF  byte = '\n'
	CR  byte = '\r'
	NUL byte = 0x00
)

var (
	ErrFrameTooLarge = errors.New("frame: frame exceeds size limit")
	ErrUnclassified  = errors.New("frame: payload not classifiable")
)

// Message is one discrete decoded unit. A message carrying a correlation id
// is two-way; without one it is a one-way notification.
type Message struct {
	ID     uint32
	TwoWay bool
	Error  bool
	Raw    []byte
	// Payload is the classifier's decoded form of Raw, if it keeps one.
	Payload any
}

func New(raw []byte) Message {
	return Message{Raw: raw}
}

func NewTwoWay(id uint32, raw []byte) Message {
	return Message{ID: id, TwoWay: true, Raw: raw}
}

// WithID returns a copy of m tagged with id.
func (m Message) WithID(id uint32) Message {
	m.ID = id
	m.TwoWay = true
	return m
}

// WithoutID returns a one-way copy of m.
func (m Message) WithoutID() Message {
	m.ID = 0
	m.TwoWay = false
	return m
}

// Classifier turns one raw frame into a classified Message.
type Classifier interface {
	Classify(raw []byte) (Message, error)
}

type ClassifierFunc func(raw []byte) (Message, error)

func (f ClassifierFunc) Classify(raw []byte) (Message, error) {
	return f(raw)
}

// Limits constrains decoder memory use.
type Limits struct {
	MaxFrameBytes int
}

func DefaultLimits() Limits {
	return Limits{
		MaxFrameBytes: 1024 * 1024,
	}
}

// Wrap frames payload for the wire with a leading and trailing line feed.
func Wrap(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+2)
	out = append(out, LF)
	out = append(out, payload...)
	return append(out, LF)
}
