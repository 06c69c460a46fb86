package httpd

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shapestone/shape-httpd/pkg/logger"
	"github.com/shapestone/shape-httpd/pkg/status"
)

// dispatch runs admission, lookup, method and media type checks, then the
// resource itself. The outcome is left in ex.code and ex.failed.
func (c *conn) dispatch(ex *exchange) connState {
	o := &c.srv.opts
	nc := *c.nc.Load()
	ex.stream = newResponseStream(nc, c.bw, o.BodySpanSize, ex.keepAlive)
	ex.stream.http10 = ex.parsed.Version == "HTTP/1.0"
	ex.code = status.OK
	_ = nc.SetReadDeadline(time.Now().Add(o.IdleTimeout))

	if !o.Admission.Allow(c.remote) {
		o.Metrics.AdmissionDenied()
		ex.code = o.Status.Code(status.KindRateLimited)
		return stateStreamResponse
	}
	res, ok := c.srv.reg.lookup(ex.path)
	if !ok {
		ex.code = o.Status.Code(status.KindNotFound)
		return stateStreamResponse
	}
	if !res.Allows(ex.method) {
		ex.code = o.Status.Code(status.KindMethodNotAllowed)
		return stateStreamResponse
	}
	if !res.Accepts(ex.body.MimeType) {
		ex.code = o.Status.Code(status.KindUnsupportedMediaType)
		return stateStreamResponse
	}

	ex.stream.raw = res.Raw
	switch res.Kind {
	case KindStatic:
		c.serveStatic(ex, res)
	case KindDynamic, KindResource:
		c.serveHandler(ex, res)
	default:
		panic(fmt.Sprintf("httpd: unknown resource kind %d", res.Kind))
	}
	return stateStreamResponse
}

func (c *conn) serveStatic(ex *exchange, res *Resource) {
	s := ex.stream
	if !res.Raw {
		if err := s.WriteHeader(status.OK, int64(len(res.Data)), c.srv.opts.Cache, res.MimeType); err != nil {
			ex.failed = true
			return
		}
	}
	if _, err := s.Write(res.Data); err != nil {
		ex.failed = true
	}
}

func (c *conn) serveHandler(ex *exchange, res *Resource) {
	s := ex.stream
	if !res.Raw {
		s.auto = &autoHeader{mime: res.MimeType, cache: CacheDisabled}
	}
	req := &Request{
		Method:     ex.method,
		Target:     ex.parsed.Target,
		Path:       ex.path,
		Query:      ex.query,
		Version:    ex.parsed.Version,
		Headers:    ex.parsed.Headers,
		Body:       ex.body,
		RemoteAddr: c.remote,
		TLS:        c.tls,
		ConnID:     c.id,
	}

	err := c.callHandler(res.Handler, req, s)
	if err == nil {
		return
	}
	var se *status.Error
	if errors.As(err, &se) && se.Code.Valid() {
		ex.code = se.Code
		return
	}
	ex.code = c.srv.opts.Status.CodeFor(err)
	ex.failed = true
	c.log.Error("handler_failed",
		zap.String("path", ex.path),
		zap.String("method", ex.method.String()),
		zap.Bool("header_written", s.HeaderWritten()),
		zap.String("headers", logger.SafeHeaders(req.Headers)),
		zap.Error(err))
}

// callHandler runs h, turning a panic into an error so one bad handler
// cannot take the server down.
func (c *conn) callHandler(h Handler, req *Request, s *ResponseStream) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("httpd: handler panic: %v", p)
		}
	}()
	return h.ServeHTTPD(req, s)
}
