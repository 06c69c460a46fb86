package httpd

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/valyala/bytebufferpool"

	"github.com/shapestone/shape-httpd/pkg/chunked"
	"github.com/shapestone/shape-httpd/pkg/mime"
	"github.com/shapestone/shape-httpd/pkg/status"
)

// NoContentLength tells WriteHeader that the body length is not known in
// advance. Without chunked transfer the body then runs until the
// connection closes.
const NoContentLength int64 = -1

const noCacheHeader = "Cache-Control: no-store, no-cache, must-revalidate, post-check=0, pre-check=0\r\nPragma: no-cache\r\n"

// ResponseStream writes one response. All operations are serialized, so
// Disconnect may be called from another goroutine while a handler writes.
type ResponseStream struct {
	mu       sync.Mutex
	conn     net.Conn
	bw       *bufio.Writer
	cw       *chunked.Writer
	spanSize int
	raw      bool
	http10   bool

	chunked       bool
	headerWritten bool
	code          status.Code
	keepAlive     bool
	closeAfter    bool
	closed        bool
	err           error
	written       int64
	// declared is the Content-Length sent in the header, or -1.
	declared int64

	// auto is the header written on the first Write when the handler did
	// not call WriteHeader.
	auto *autoHeader
}

type autoHeader struct {
	mime  mime.Type
	cache Cache
}

func newResponseStream(conn net.Conn, bw *bufio.Writer, spanSize int, keepAlive bool) *ResponseStream {
	return &ResponseStream{
		conn:      conn,
		bw:        bw,
		spanSize:  spanSize,
		keepAlive: keepAlive,
		declared:  NoContentLength,
	}
}

// EnableChunkedTransfer switches the body to chunked encoding. It must be
// called before the header is written to take effect in the header. Raw
// handlers that enable it must have written their own chunked header.
func (s *ResponseStream) EnableChunkedTransfer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chunked {
		return
	}
	s.chunked = true
	s.cw = chunked.NewWriter(s.bw)
}

// DisableChunkedTransfer ends chunked encoding. When a chunked body is in
// progress its terminating chunk is written.
func (s *ResponseStream) DisableChunkedTransfer() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disableChunkedLocked()
}

func (s *ResponseStream) disableChunkedLocked() error {
	if !s.chunked {
		return nil
	}
	s.chunked = false
	if s.closed || !s.headerWritten && !s.raw {
		return nil
	}
	if err := s.cw.Close(); err != nil {
		return s.fail(err)
	}
	return nil
}

// WriteHeader writes the status line and headers. It may be called once
// per response; later calls return ErrHeaderWritten.
func (s *ResponseStream) WriteHeader(code status.Code, contentLength int64, cache Cache, mt mime.Type) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeHeaderLocked(code, contentLength, cache, mt)
}

func (s *ResponseStream) writeHeaderLocked(code status.Code, contentLength int64, cache Cache, mt mime.Type) error {
	if s.closed {
		return ErrStreamClosed
	}
	if s.headerWritten {
		return ErrHeaderWritten
	}
	if !code.Valid() {
		return fmt.Errorf("httpd: unsupported status code %d", int(code))
	}
	if mt == "" {
		mt = mime.HTML
	}
	lengthKnown := s.chunked || (contentLength >= 0 && mt != mime.EventStream)
	if !lengthKnown {
		s.closeAfter = true
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	buf.B = code.AppendStatusLine(buf.B)
	buf.B = append(buf.B, "Content-Type: "...)
	buf.B = append(buf.B, mt...)
	buf.B = append(buf.B, "\r\n"...)
	if cache == CacheDisabled {
		buf.B = append(buf.B, noCacheHeader...)
	}
	if code.Closes() || !s.keepAlive || s.closeAfter {
		buf.B = append(buf.B, "Connection: close\r\n"...)
	} else {
		buf.B = append(buf.B, "Connection: Keep-Alive\r\n"...)
	}
	switch {
	case s.chunked:
		buf.B = append(buf.B, "Transfer-Encoding: chunked\r\n"...)
	case lengthKnown:
		buf.B = append(buf.B, "Content-Length: "...)
		buf.B = strconv.AppendInt(buf.B, contentLength, 10)
		buf.B = append(buf.B, "\r\n"...)
	}
	buf.B = append(buf.B, "\r\n"...)

	if _, err := s.bw.Write(buf.B); err != nil {
		return s.fail(err)
	}
	s.headerWritten = true
	s.code = code
	if !s.chunked && lengthKnown {
		s.declared = contentLength
	}
	return nil
}

// Write writes body bytes, chunk-encoded when chunked transfer is enabled.
// For normal Dynamic and Resource URLs the first Write sends a 200 header
// if the handler has not written one.
func (s *ResponseStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(p)
}

func (s *ResponseStream) writeLocked(p []byte) (int, error) {
	if s.closed {
		return 0, ErrStreamClosed
	}
	if s.err != nil {
		return 0, s.err
	}
	if !s.headerWritten && s.auto != nil {
		// HTTP/1.0 peers cannot decode chunks; their body runs until close.
		if !s.chunked && !s.http10 {
			s.chunked = true
			s.cw = chunked.NewWriter(s.bw)
		}
		if err := s.writeHeaderLocked(status.OK, NoContentLength, s.auto.cache, s.auto.mime); err != nil {
			return 0, err
		}
	}
	var over bool
	if !s.chunked && s.declared >= 0 && s.written+int64(len(p)) > s.declared {
		p = p[:s.declared-s.written]
		over = true
	}
	var (
		n   int
		err error
	)
	if s.chunked {
		n, err = s.cw.Write(p)
	} else {
		n, err = s.bw.Write(p)
	}
	s.written += int64(n)
	if err != nil {
		return n, s.fail(err)
	}
	if over {
		return n, ErrContentLengthExceeded
	}
	return n, nil
}

// WriteContent writes blob in spans of at most the server's body span
// size, flushing after each span.
func (s *ResponseStream) WriteContent(blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(blob) > 0 {
		n := len(blob)
		if n > s.spanSize {
			n = s.spanSize
		}
		if _, err := s.writeLocked(blob[:n]); err != nil {
			return err
		}
		if err := s.flushLocked(); err != nil {
			return err
		}
		blob = blob[n:]
	}
	return nil
}

// WriteString writes a string body fragment.
func (s *ResponseStream) WriteString(v string) (int, error) {
	return s.Write([]byte(v))
}

// Flush sends buffered bytes to the peer.
func (s *ResponseStream) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *ResponseStream) flushLocked() error {
	if s.closed {
		return ErrStreamClosed
	}
	if s.err != nil {
		return s.err
	}
	if err := s.bw.Flush(); err != nil {
		return s.fail(err)
	}
	return nil
}

// Disconnect flushes what has been written and closes the connection.
// Later writes return ErrStreamClosed.
func (s *ResponseStream) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	ferr := s.bw.Flush()
	s.closed = true
	cerr := s.conn.Close()
	if ferr != nil {
		return ferr
	}
	return cerr
}

// Chunked reports whether chunked transfer is enabled.
func (s *ResponseStream) Chunked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunked
}

// HeaderWritten reports whether the header has been sent.
func (s *ResponseStream) HeaderWritten() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headerWritten
}

// Status returns the status code written, or 0 before the header.
func (s *ResponseStream) Status() status.Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}

// Written returns the number of body bytes written, before chunk framing.
func (s *ResponseStream) Written() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

func (s *ResponseStream) fail(err error) error {
	if s.err == nil {
		s.err = err
	}
	return s.err
}

// finish completes the response after the handler has returned and
// reports whether the connection may be reused.
//
// Normal variants that wrote nothing get a header carrying code and an
// empty body. An open chunked body is terminated unless the handler
// failed, in which case the bytes already sent stand and the connection
// is dropped. Raw variants are only flushed.
func (s *ResponseStream) finish(code status.Code, failed bool) (reuse bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if failed {
		s.closeAfter = true
	}
	if !s.raw {
		switch {
		case !s.headerWritten:
			s.chunked = false
			mt, cache := mime.HTML, CacheDisabled
			if s.auto != nil && code == status.OK {
				mt, cache = s.auto.mime, s.auto.cache
			}
			_ = s.writeHeaderLocked(code, 0, cache, mt)
		case s.chunked && !failed:
			_ = s.disableChunkedLocked()
		case s.declared >= 0 && s.written != s.declared:
			// The peer cannot find the end of a short body.
			s.closeAfter = true
		}
	}
	if err := s.flushLocked(); err != nil {
		return false
	}
	if failed || s.closeAfter || !s.keepAlive || s.code.Closes() {
		return false
	}
	// A raw handler that left a chunked body open cannot be delimited.
	return !s.chunked
}
