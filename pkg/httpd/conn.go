package httpd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shapestone/shape-httpd/internal/fastparser"
	"github.com/shapestone/shape-httpd/internal/tokenizer"
	"github.com/shapestone/shape-httpd/pkg/mime"
	"github.com/shapestone/shape-httpd/pkg/status"
)

// connState is a step of the per-connection state machine.
type connState uint8

const (
	stateAwaitRequestLine connState = iota
	stateParseHeaders
	stateResolveBody
	stateDispatchHandler
	stateStreamResponse
	stateIdle
	stateClose
)

var stateNames = [...]string{
	stateAwaitRequestLine: "await_request_line",
	stateParseHeaders:     "parse_headers",
	stateResolveBody:      "resolve_body",
	stateDispatchHandler:  "dispatch_handler",
	stateStreamResponse:   "stream_response",
	stateIdle:             "idle",
	stateClose:            "close",
}

func (s connState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// conn is one accepted connection. Everything but the close flags is
// owned by the serving goroutine.
type conn struct {
	srv    *Server
	raw    net.Conn
	nc     atomic.Pointer[net.Conn]
	id     string
	remote net.Addr
	tls    bool
	log    *zap.Logger

	br *bufio.Reader
	bw *bufio.Writer

	idle   atomic.Bool
	closed atomic.Bool
}

// exchange is the state of one request/response on a connection.
type exchange struct {
	start     time.Time
	head      []byte
	line      tokenizer.RequestLine
	parsed    *fastparser.Head
	method    Method
	path      string
	query     string
	framing   fastparser.Framing
	keepAlive bool
	body      *MessageBody
	stream    *ResponseStream
	code      status.Code
	failed    bool
}

func newConn(s *Server, raw net.Conn) *conn {
	c := &conn{
		srv:    s,
		raw:    raw,
		id:     uuid.NewString(),
		remote: raw.RemoteAddr(),
	}
	c.nc.Store(&raw)
	c.log = s.log.With(zap.String("conn_id", c.id), zap.String("remote", addrString(c.remote)))
	return c
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

// closeNet closes the transport from any goroutine.
func (c *conn) closeNet() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.raw.Close()
}

// close ends the connection from the serving goroutine, sending a TLS
// close_notify when the connection is secured.
func (c *conn) close() {
	if c.closed.Swap(true) {
		return
	}
	_ = (*c.nc.Load()).Close()
}

func (c *conn) serve(ctx context.Context) {
	o := &c.srv.opts
	o.Metrics.ConnOpened()
	start := time.Now()
	c.log.Debug("connection_accepted")
	defer func() {
		c.close()
		o.Metrics.ConnClosed()
		if o.OnDisconnect != nil {
			o.OnDisconnect(c.id, c.remote)
		}
		c.log.Debug("connection_closed", zap.Duration("duration", time.Since(start)))
	}()

	if o.Security != nil && o.Security.Enabled() {
		secured, err := o.Security.Accept(ctx, c.raw)
		if err != nil {
			c.closed.Store(true)
			o.Metrics.HandshakeFailed()
			c.log.Warn("handshake_failed", zap.Error(err))
			return
		}
		c.nc.Store(&secured)
		c.tls = true
	}

	nc := *c.nc.Load()
	bufSize := o.MaxHeaderBytes
	if bufSize < 4096 {
		bufSize = 4096
	}
	c.br = bufio.NewReaderSize(nc, bufSize)
	c.bw = bufio.NewWriterSize(deadlineWriter{conn: nc, timeout: o.WriteTimeout}, 4096)

	var ex *exchange
	state := stateAwaitRequestLine
	for state != stateClose {
		switch state {
		case stateAwaitRequestLine:
			ex = &exchange{}
			state = c.awaitRequestLine(ex)
		case stateParseHeaders:
			state = c.parseHeaders(ex)
		case stateResolveBody:
			state = c.resolveBody(ex)
		case stateDispatchHandler:
			state = c.dispatch(ex)
		case stateStreamResponse:
			state = c.streamResponse(ex)
		case stateIdle:
			if c.srv.closing.Load() {
				state = stateClose
				continue
			}
			state = stateAwaitRequestLine
		default:
			panic(fmt.Sprintf("httpd: invalid connection state %d", state))
		}
	}
}

// awaitRequestLine waits for the next request under the idle timeout and
// reads its request line.
func (c *conn) awaitRequestLine(ex *exchange) connState {
	o := &c.srv.opts
	nc := *c.nc.Load()

	c.idle.Store(true)
	_ = nc.SetReadDeadline(time.Now().Add(o.IdleTimeout))
	if _, err := c.br.Peek(1); err != nil {
		c.idle.Store(false)
		return stateClose
	}
	c.idle.Store(false)
	if c.closed.Load() {
		return stateClose
	}
	ex.start = time.Now()
	_ = nc.SetReadDeadline(time.Now().Add(o.IdleTimeout))

	for {
		line, err := c.readHeadLine(ex)
		if err != nil {
			return c.reject(ex, err)
		}
		// Empty lines before a request line are ignored.
		if len(line) == 0 {
			ex.head = ex.head[:0]
			continue
		}
		rl, err := tokenizer.SplitRequestLine(string(line))
		if err != nil {
			return c.reject(ex, err)
		}
		if rl.Version != "HTTP/1.1" && rl.Version != "HTTP/1.0" {
			return c.reject(ex, fmt.Errorf("unsupported version %q", rl.Version))
		}
		ex.line = rl
		ex.method = ParseMethod(rl.Method)
		return stateParseHeaders
	}
}

// readHeadLine reads one line into the head buffer and returns it without
// its line ending. The head as a whole is bounded by MaxHeaderBytes.
func (c *conn) readHeadLine(ex *exchange) ([]byte, error) {
	max := c.srv.opts.MaxHeaderBytes
	line, err := c.br.ReadSlice('\n')
	if err != nil {
		if errors.Is(err, bufio.ErrBufferFull) {
			return nil, fmt.Errorf("request head exceeds %d bytes", max)
		}
		return nil, err
	}
	if len(ex.head)+len(line) > max {
		return nil, fmt.Errorf("request head exceeds %d bytes", max)
	}
	off := len(ex.head)
	ex.head = append(ex.head, line...)
	return trimEOL(ex.head[off:]), nil
}

func trimEOL(b []byte) []byte {
	b = b[:len(b)-1]
	if len(b) > 0 && b[len(b)-1] == '\r' {
		b = b[:len(b)-1]
	}
	return b
}

// parseHeaders accumulates header lines up to the blank line, then
// resolves the request framing and connection persistence.
func (c *conn) parseHeaders(ex *exchange) connState {
	for {
		line, err := c.readHeadLine(ex)
		if err != nil {
			return c.reject(ex, err)
		}
		if len(line) == 0 {
			break
		}
	}
	if c.srv.opts.OnReceive != nil {
		if next := c.receive(ex); next != stateParseHeaders {
			return next
		}
	}
	head, err := fastparser.ParseRequestHead(ex.head)
	if err != nil {
		return c.reject(ex, err)
	}
	// OnReceive may have rewritten the request line.
	if head.Version != "HTTP/1.1" && head.Version != "HTTP/1.0" {
		return c.reject(ex, fmt.Errorf("unsupported version %q", head.Version))
	}
	ex.method = ParseMethod(head.Method)
	ex.parsed = head
	c.dumpHead(head)

	f, err := fastparser.ResolveFraming(head.Headers, true)
	if err != nil {
		return c.reject(ex, err)
	}
	if (ex.method == MethodPost || ex.method == MethodPut) && !f.Chunked && f.ContentLength < 0 {
		return c.reject(ex, fmt.Errorf("%s without Content-Length or Transfer-Encoding", ex.method))
	}
	ex.framing = f

	rawPath, query, _ := strings.Cut(head.Target, "?")
	path, err := url.QueryUnescape(rawPath)
	if err != nil {
		return c.reject(ex, err)
	}
	ex.path, ex.query = path, query

	ex.keepAlive = keepAliveOf(head)
	return stateResolveBody
}

// receive hands the head to OnReceive. It returns stateParseHeaders to
// continue with the possibly rewritten head, or the state to move to when
// the hook answered the request or refused it.
func (c *conn) receive(ex *exchange) connState {
	o := &c.srv.opts
	s := newResponseStream(*c.nc.Load(), c.bw, o.BodySpanSize, false)
	s.raw = true
	head, err := callReceive(o.OnReceive, s, ex.head)
	switch {
	case err == nil:
		if head != nil {
			ex.head = head
		}
		return stateParseHeaders
	case errors.Is(err, ErrPartialResults):
		if s.Flush() != nil {
			return stateClose
		}
		c.log.Debug("request_taken_by_receive_hook", zap.Int("head_bytes", len(ex.head)))
		// The body, if any, was not consumed and cannot be skipped.
		h, perr := fastparser.ParseRequestHead(ex.head)
		if perr != nil {
			return stateClose
		}
		f, ferr := fastparser.ResolveFraming(h.Headers, true)
		if ferr != nil || f.HasBody() || !keepAliveOf(h) || c.srv.closing.Load() {
			return stateClose
		}
		return stateIdle
	default:
		_ = s.Flush()
		c.log.Debug("request_refused_by_receive_hook", zap.Error(err))
		return stateClose
	}
}

func callReceive(fn ReceiveFunc, s *ResponseStream, head []byte) (out []byte, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("httpd: receive hook panic: %v", p)
		}
	}()
	return fn(s, head)
}

// keepAliveOf reports whether the peer allows the connection to be reused.
func keepAliveOf(h *fastparser.Head) bool {
	if h.Version == "HTTP/1.0" {
		return fastparser.HasToken(h.Headers, "Connection", "keep-alive")
	}
	return !fastparser.HasToken(h.Headers, "Connection", "close")
}

// resolveBody loads the first body span. A peer that closes mid-body is
// dropped without a response; a malformed body is answered with 400.
func (c *conn) resolveBody(ex *exchange) connState {
	o := &c.srv.opts
	mt := mime.Parse(ex.parsed.Get("Content-Type"))
	ex.body = newMessageBody(c.br, ex.framing, o.BodySpanSize, ex.method, mt)
	if err := ex.body.Next(); err != nil && !errors.Is(err, io.EOF) {
		o.Metrics.ProtocolError()
		if truncated(err) {
			c.log.Debug("request_body_truncated", zap.String("path", ex.path), zap.Error(err))
			return stateClose
		}
		return c.reject(ex, err)
	}
	return stateDispatchHandler
}

// reject answers a request that could not be parsed with 400 and closes.
// Transport errors and timeouts close without a response.
func (c *conn) reject(ex *exchange, err error) connState {
	var ne net.Error
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.As(err, &ne) {
		return stateClose
	}
	o := &c.srv.opts
	o.Metrics.ProtocolError()
	err = fmt.Errorf("%w: %w", ErrBadRequest, err)
	c.log.Debug("request_rejected", zap.Error(err))
	c.diagnoseHead(ex.head)

	code := o.Status.CodeFor(err)
	s := newResponseStream(*c.nc.Load(), c.bw, o.BodySpanSize, false)
	s.finish(code, false)
	o.Metrics.Request(int(code), ex.method.String(), time.Since(ex.start), 0)
	return stateClose
}

// streamResponse completes the response, drains any unread body, and
// decides whether the connection is reused.
func (c *conn) streamResponse(ex *exchange) connState {
	o := &c.srv.opts
	if err := ex.body.Err(); err != nil {
		ex.failed = true
		if ex.code == status.OK {
			ex.code = o.Status.CodeFor(err)
		}
	}
	reuse := ex.stream.finish(ex.code, ex.failed)
	if reuse && !ex.body.drain(o.MaxDrainBytes) {
		reuse = false
	}

	code := ex.stream.Status()
	if code == 0 {
		code = ex.code
	}
	elapsed := time.Since(ex.start)
	o.Metrics.Request(int(code), ex.method.String(), elapsed, ex.stream.Written())
	c.log.Debug("request_dispatched",
		zap.String("method", ex.method.String()),
		zap.String("path", ex.path),
		zap.Int("status", int(code)),
		zap.Int64("bytes", ex.stream.Written()),
		zap.Duration("duration", elapsed),
		zap.Bool("keep_alive", reuse))

	if !reuse {
		return stateClose
	}
	return stateIdle
}

// deadlineWriter refreshes the write deadline before every write.
type deadlineWriter struct {
	conn    net.Conn
	timeout time.Duration
}

func (w deadlineWriter) Write(p []byte) (int, error) {
	if err := w.conn.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
		return 0, err
	}
	return w.conn.Write(p)
}
