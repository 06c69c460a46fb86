package chunked

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// DefaultSpanSize is the span size used when NewDecoder is given a
// non-positive size. It matches a typical Ethernet TCP payload.
const DefaultSpanSize = 1460

// Decoder reads a chunked body from r one span at a time. At most one span
// is buffered, so memory use does not depend on the body size.
//
// Remaining reports the bytes still expected in the current chunk. When a
// span completes a chunk the decoder reads ahead to the next size line, so
// Remaining is zero exactly when the terminating chunk has been consumed.
type Decoder struct {
	r         *bufio.Reader
	buf       []byte
	remaining int64
	total     int64
	started   bool
	done      bool
	err       error
}

// NewDecoder returns a decoder positioned at the first chunk-size line.
func NewDecoder(r *bufio.Reader, spanSize int) *Decoder {
	if spanSize <= 0 {
		spanSize = DefaultSpanSize
	}
	return &Decoder{r: r, buf: make([]byte, spanSize)}
}

// Start reads the first chunk-size line so Remaining reports the size of
// the first chunk. Next calls it implicitly.
func (d *Decoder) Start() error {
	if d.started {
		return d.err
	}
	d.started = true
	if err := d.readSize(); err != nil {
		return d.fail(err)
	}
	return nil
}

// Next returns the next span of body bytes. The span is only valid until
// the following call. After the last span Next returns io.EOF.
func (d *Decoder) Next() ([]byte, error) {
	if err := d.Start(); err != nil {
		return nil, err
	}
	if d.err != nil {
		return nil, d.err
	}
	if d.done {
		return nil, io.EOF
	}

	n := int64(len(d.buf))
	if d.remaining < n {
		n = d.remaining
	}
	m, err := io.ReadFull(d.r, d.buf[:n])
	d.remaining -= int64(m)
	d.total += int64(m)
	if err != nil {
		return nil, d.fail(fmt.Errorf("%w: %d bytes of chunk data missing", ErrTruncatedChunk, d.remaining))
	}

	if d.remaining == 0 {
		if err := d.readDataEnd(); err != nil {
			return nil, d.fail(err)
		}
		if err := d.readSize(); err != nil {
			return nil, d.fail(err)
		}
	}
	return d.buf[:m], nil
}

// Remaining returns the bytes still expected in the current chunk.
func (d *Decoder) Remaining() int64 { return d.remaining }

// Done reports whether the terminating chunk has been consumed.
func (d *Decoder) Done() bool { return d.done }

// Total returns the number of body bytes delivered so far.
func (d *Decoder) Total() int64 { return d.total }

// Err returns the first decoding error, if any.
func (d *Decoder) Err() error { return d.err }

func (d *Decoder) fail(err error) error {
	if d.err == nil {
		d.err = err
	}
	return d.err
}

// readSize reads a chunk-size line. A zero size consumes the trailer
// section and marks the decoder done.
func (d *Decoder) readSize() error {
	line, err := d.readLine()
	if err != nil {
		return err
	}
	size, err := parseSizeLine(line)
	if err != nil {
		return err
	}
	d.remaining = size
	if size > 0 {
		return nil
	}
	for {
		trailer, err := d.readLine()
		if err != nil {
			return err
		}
		if len(trailer) == 0 {
			break
		}
	}
	d.done = true
	return nil
}

// readDataEnd consumes the CRLF (or bare LF) that follows chunk data.
func (d *Decoder) readDataEnd() error {
	b, err := d.r.ReadByte()
	if err != nil {
		return fmt.Errorf("%w: missing CRLF after chunk data", ErrTruncatedChunk)
	}
	if b == '\n' {
		return nil
	}
	if b != '\r' {
		return fmt.Errorf("%w: expected CRLF after chunk data, got %q", ErrMalformedChunk, b)
	}
	b, err = d.r.ReadByte()
	if err != nil {
		return fmt.Errorf("%w: missing LF after chunk data", ErrTruncatedChunk)
	}
	if b != '\n' {
		return fmt.Errorf("%w: expected LF after CR, got %q", ErrMalformedChunk, b)
	}
	return nil
}

// readLine reads one line, without its line ending, bounded by maxSizeLine.
// The returned slice aliases the reader's buffer.
func (d *Decoder) readLine() ([]byte, error) {
	line, err := d.r.ReadSlice('\n')
	if err != nil {
		if errors.Is(err, bufio.ErrBufferFull) {
			return nil, fmt.Errorf("%w: line exceeds buffer", ErrMalformedChunkSize)
		}
		return nil, fmt.Errorf("%w: unterminated chunk line", ErrTruncatedChunk)
	}
	if len(line) > maxSizeLine {
		return nil, fmt.Errorf("%w: line exceeds %d bytes", ErrMalformedChunkSize, maxSizeLine)
	}
	return bytes.TrimSuffix(line[:len(line)-1], []byte{'\r'}), nil
}
