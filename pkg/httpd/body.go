package httpd

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/shapestone/shape-httpd/internal/fastparser"
	"github.com/shapestone/shape-httpd/pkg/chunked"
	"github.com/shapestone/shape-httpd/pkg/mime"
)

// MessageBody is a view over the current span of a request body. The
// first span is loaded before the handler runs; Next advances the view.
// Data is only valid until the following Next.
type MessageBody struct {
	// Data is the current span.
	Data []byte
	// DataRemaining is the number of body bytes still expected after
	// Data. For chunked bodies it covers the current chunk only and is
	// zero once the terminating chunk has been read.
	DataRemaining int64
	Chunked       bool
	MimeType      mime.Type
	Method        Method

	dec  *chunked.Decoder
	r    *bufio.Reader
	buf  []byte
	left int64
	read int64
	done bool
	err  error
}

func newMessageBody(r *bufio.Reader, f fastparser.Framing, spanSize int, m Method, mt mime.Type) *MessageBody {
	b := &MessageBody{Chunked: f.Chunked, MimeType: mt, Method: m, r: r}
	switch {
	case f.Chunked:
		b.dec = chunked.NewDecoder(r, spanSize)
	case f.ContentLength > 0:
		b.left = f.ContentLength
		b.DataRemaining = f.ContentLength
		n := int64(spanSize)
		if n > b.left {
			n = b.left
		}
		b.buf = make([]byte, n)
	default:
		b.done = true
	}
	return b
}

// DataLength returns the length of the current span.
func (b *MessageBody) DataLength() int { return len(b.Data) }

// Complete reports whether the whole body has been read.
func (b *MessageBody) Complete() bool { return b.done }

// Len returns the number of body bytes delivered so far.
func (b *MessageBody) Len() int64 { return b.read }

// Err returns the error that ended the body early, if any.
func (b *MessageBody) Err() error { return b.err }

// Next loads the next span into Data. It returns io.EOF when the body is
// exhausted, and a protocol error when the body is malformed or the peer
// closed before sending all of it. Errors are sticky.
func (b *MessageBody) Next() error {
	b.Data = nil
	if b.err != nil {
		return b.err
	}
	if b.done {
		return io.EOF
	}
	if b.dec != nil {
		return b.nextChunk()
	}
	return b.nextFixed()
}

func (b *MessageBody) nextChunk() error {
	span, err := b.dec.Next()
	if errors.Is(err, io.EOF) {
		b.done = true
		b.DataRemaining = 0
		return io.EOF
	}
	if err != nil {
		b.err = fmt.Errorf("%w: %w", ErrBadRequest, err)
		return b.err
	}
	b.Data = span
	b.read += int64(len(span))
	b.DataRemaining = b.dec.Remaining()
	if b.dec.Done() {
		b.done = true
	}
	return nil
}

func (b *MessageBody) nextFixed() error {
	n := int64(len(b.buf))
	if n > b.left {
		n = b.left
	}
	m, err := io.ReadFull(b.r, b.buf[:n])
	b.left -= int64(m)
	b.read += int64(m)
	if err != nil {
		b.err = fmt.Errorf("%w: %d of %d bytes missing", ErrTruncatedBody, b.left, b.read+b.left)
		return b.err
	}
	b.Data = b.buf[:m]
	b.DataRemaining = b.left
	if b.left == 0 {
		b.done = true
	}
	return nil
}

// Read implements io.Reader over the remaining spans, starting with the
// current one.
func (b *MessageBody) Read(p []byte) (int, error) {
	for len(b.Data) == 0 {
		if err := b.Next(); err != nil {
			return 0, err
		}
	}
	n := copy(p, b.Data)
	b.Data = b.Data[n:]
	return n, nil
}

// truncated reports whether err means the peer went away mid-body.
func truncated(err error) bool {
	return errors.Is(err, ErrTruncatedBody) || errors.Is(err, chunked.ErrTruncatedChunk)
}

// drain discards up to max unread body bytes and reports whether the body
// ended cleanly within that budget.
func (b *MessageBody) drain(max int64) bool {
	if b.err != nil {
		return false
	}
	if !b.Chunked && b.left > max {
		return false
	}
	start := b.read
	for !b.done {
		if err := b.Next(); err != nil {
			return errors.Is(err, io.EOF)
		}
		if b.read-start > max {
			return false
		}
	}
	b.Data = nil
	return true
}
