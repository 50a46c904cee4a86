package transport

import (
	"io"

	"go.uber.org/multierr"
)

// Duplex is one end of an in-process connected stream pair.
type Duplex struct {
	r *io.PipeReader
	w *io.PipeWriter
}

var _ io.ReadWriteCloser = (*Duplex)(nil)

// Pipe returns two connected ends. Bytes written to one are read from the
// other; each write blocks until the far end has read it.
func Pipe() (*Duplex, *Duplex) {
	aIn, bOut := io.Pipe()
	bIn, aOut := io.Pipe()
	return &Duplex{r: aIn, w: aOut}, &Duplex{r: bIn, w: bOut}
}

func (d *Duplex) Read(p []byte) (int, error) {
	return d.r.Read(p)
}

func (d *Duplex) Write(p []byte) (int, error) {
	return d.w.Write(p)
}

// CloseWrite ends the outgoing direction; the far end reads io.EOF.
func (d *Duplex) CloseWrite() error {
	return d.w.Close()
}

// Close ends both directions.
func (d *Duplex) Close() error {
	return multierr.Combine(d.w.Close(), d.r.Close())
}
