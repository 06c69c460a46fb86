package chunked

import (
	"io"
	"strconv"
)

// Writer frames each Write as one chunk. Close writes the terminating
// zero-length chunk.
type Writer struct {
	w      io.Writer
	closed bool
	hdr    [18]byte
}

// NewWriter returns a Writer that emits chunks to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write emits p as a single chunk. An empty p writes nothing, since a
// zero-length chunk would end the body.
func (cw *Writer) Write(p []byte) (int, error) {
	if cw.closed {
		return 0, ErrWriterClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	h := strconv.AppendInt(cw.hdr[:0], int64(len(p)), 16)
	h = append(h, '\r', '\n')
	if _, err := cw.w.Write(h); err != nil {
		return 0, err
	}
	n, err := cw.w.Write(p)
	if err != nil {
		return n, err
	}
	if _, err := cw.w.Write(crlf); err != nil {
		return n, err
	}
	return n, nil
}

// Close writes the terminator. Calling it again is a no-op.
func (cw *Writer) Close() error {
	if cw.closed {
		return nil
	}
	cw.closed = true
	_, err := cw.w.Write(terminator)
	return err
}

// Closed reports whether the terminator has been written.
func (cw *Writer) Closed() bool { return cw.closed }
