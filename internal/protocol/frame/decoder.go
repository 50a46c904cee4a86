package frame

import (
	"errors"
	"io"
	"iter"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const readChunk = 4096

// Decoder splits a byte stream into line-feed separated frames and classifies
// each one. CR and NUL bytes are discarded wherever they appear, empty frames
// are skipped and frames the classifier rejects are dropped and counted.
//
// A Decoder is a single-reader object; Next must not be called concurrently.
type Decoder struct {
	r          io.Reader
	classifier Classifier
	limits     Limits
	logger     zerolog.Logger
	onDrop     func(error)

	chunk    []byte
	acc      []byte
	skipping bool
	ready    []Message
	done     bool
	err      error

	decoded atomic.Uint64
	dropped atomic.Uint64
}

type DecoderOption func(*Decoder)

func WithLogger(l zerolog.Logger) DecoderOption {
	return func(d *Decoder) { d.logger = l }
}

// WithDropHook registers fn to be called for every dropped frame.
func WithDropHook(fn func(reason error)) DecoderOption {
	return func(d *Decoder) { d.onDrop = fn }
}

func NewDecoder(r io.Reader, c Classifier, limits Limits, opts ...DecoderOption) *Decoder {
	if limits.MaxFrameBytes <= 0 {
		limits = DefaultLimits()
	}
	d := &Decoder{
		r:          r,
		classifier: c,
		limits:     limits,
		logger:     log.Logger,
		chunk:      make([]byte, readChunk),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Next returns the next classified frame. It reports false once the stream
// ended, either on a zero-length read or on a read fault; Err tells them apart.
func (d *Decoder) Next() (Message, bool) {
	for len(d.ready) == 0 {
		if d.done {
			return Message{}, false
		}
		d.fill()
	}
	msg := d.ready[0]
	d.ready[0] = Message{}
	d.ready = d.ready[1:]
	return msg, true
}

// All yields the remaining frames. The sequence is not restartable.
func (d *Decoder) All() iter.Seq[Message] {
	return func(yield func(Message) bool) {
		for {
			msg, ok := d.Next()
			if !ok || !yield(msg) {
				return
			}
		}
	}
}

// Err returns the read fault that ended the stream, or nil for a clean end.
func (d *Decoder) Err() error {
	if errors.Is(d.err, io.EOF) {
		return nil
	}
	return d.err
}

func (d *Decoder) Decoded() uint64 { return d.decoded.Load() }

func (d *Decoder) Dropped() uint64 { return d.dropped.Load() }

func (d *Decoder) fill() {
	n, err := d.r.Read(d.chunk)
	if n > 0 {
		d.scan(d.chunk[:n])
	}
	if err != nil || n == 0 {
		d.done = true
		if err == nil {
			err = io.EOF
		}
		d.err = err
		if len(d.acc) > 0 {
			d.drop(io.ErrUnexpectedEOF)
			d.acc = nil
		}
	}
}

func (d *Decoder) scan(chunk []byte) {
	for _, b := range chunk {
		switch b {
		case CR, NUL:
			continue
		case LF:
			if d.skipping {
				d.skipping = false
				continue
			}
			if len(d.acc) > 0 {
				d.emit()
			}
		default:
			if d.skipping {
				continue
			}
			if len(d.acc) >= d.limits.MaxFrameBytes {
				d.drop(ErrFrameTooLarge)
				d.acc = d.acc[:0]
				d.skipping = true
				continue
			}
			d.acc = append(d.acc, b)
		}
	}
}

func (d *Decoder) emit() {
	raw := make([]byte, len(d.acc))
	copy(raw, d.acc)
	d.acc = d.acc[:0]

	msg, err := d.classifier.Classify(raw)
	if err != nil {
		d.drop(err)
		return
	}
	d.decoded.Add(1)
	d.ready = append(d.ready, msg)
}

func (d *Decoder) drop(reason error) {
	d.dropped.Add(1)
	d.logger.Debug().Err(reason).Uint64("dropped", d.dropped.Load()).Msg("frame.Decoder drop")
	if d.onDrop != nil {
		d.onDrop(reason)
	}
}
