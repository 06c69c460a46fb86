// Package httpd is a small embedded HTTP/1.1 server.
//
// A Server owns a registry of URL resources. Each resource is one of three
// kinds (static content, dynamically generated content, or pre-packaged
// resource content) in a normal or raw variant. Raw variants write their
// own status line and headers; normal variants get them from the server.
//
// Connections are served one request at a time by a per-connection state
// machine:
//
//	AwaitRequestLine -> ParseHeaders -> ResolveBody -> DispatchHandler
//	                 -> StreamResponse -> Idle | Close
//
// Request bodies, chunked or not, are exposed to handlers one span at a
// time through MessageBody so that memory use does not depend on the body
// size.
package httpd

import (
	"net"

	"github.com/shapestone/shape-httpd/internal/fastparser"
	"github.com/shapestone/shape-httpd/pkg/mime"
)

// Method is the request method. Only the methods an embedded device needs
// are recognized; everything else is MethodUndefined.
type Method uint8

const (
	MethodUndefined Method = iota
	MethodGet
	MethodPost
	MethodPut
)

// ParseMethod maps a request-line method token to a Method. Method tokens
// are case-sensitive.
func ParseMethod(s string) Method {
	switch s {
	case "GET":
		return MethodGet
	case "POST":
		return MethodPost
	case "PUT":
		return MethodPut
	}
	return MethodUndefined
}

func (m Method) String() string {
	switch m {
	case MethodGet:
		return "GET"
	case MethodPost:
		return "POST"
	case MethodPut:
		return "PUT"
	}
	return "UNDEFINED"
}

// Kind selects how a resource produces its content.
type Kind uint8

const (
	// KindStatic serves a fixed byte slice.
	KindStatic Kind = iota
	// KindDynamic runs a handler for every request.
	KindDynamic
	// KindResource streams pre-packaged content, usually from a
	// resource.Store, through a handler.
	KindResource
)

func (k Kind) String() string {
	switch k {
	case KindStatic:
		return "static"
	case KindDynamic:
		return "dynamic"
	case KindResource:
		return "resource"
	}
	return "unknown"
}

// Cache controls whether responses may be cached by the client. When
// caching is disabled the no-cache header block is written.
type Cache bool

const (
	CacheDisabled Cache = false
	CacheEnabled  Cache = true
)

// Handler produces the response for a Dynamic or Resource URL.
//
// Returning nil means success. Returning a *status.Error (for example
// ErrPreconditionFailed) selects that status. Any other error is treated
// as an internal failure: the client gets a 500 when nothing has been
// written yet, and the connection is closed.
type Handler interface {
	ServeHTTPD(req *Request, resp *ResponseStream) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(req *Request, resp *ResponseStream) error

// ServeHTTPD calls f(req, resp).
func (f HandlerFunc) ServeHTTPD(req *Request, resp *ResponseStream) error {
	return f(req, resp)
}

// Resource is one registered URL.
//
// Path may contain the wildcards '*' (any run of bytes) and '?' (any one
// byte). Static resources carry Data, which is not copied; the caller must
// not modify it while it is registered. Dynamic and Resource kinds carry a
// Handler. Raw variants suppress the automatic response header.
type Resource struct {
	Path    string
	Kind    Kind
	Raw     bool
	Data    []byte
	Handler Handler

	// MimeType is the response content type. When empty it is resolved
	// from the path extension.
	MimeType mime.Type
	// Accept lists the request content types the resource accepts. Empty
	// means any.
	Accept []mime.Type
	// Methods lists the allowed methods. Empty means GET for Static and
	// Resource kinds, and GET and POST for Dynamic.
	Methods []Method
}

// Allows reports whether m is an allowed method for r.
func (r *Resource) Allows(m Method) bool {
	if m == MethodUndefined {
		return false
	}
	for _, allowed := range r.methods() {
		if allowed == m {
			return true
		}
	}
	return false
}

// Accepts reports whether a request body of type t may be sent to r.
func (r *Resource) Accepts(t mime.Type) bool {
	if len(r.Accept) == 0 || t == mime.All {
		return true
	}
	for _, a := range r.Accept {
		if a == mime.All || a == t {
			return true
		}
	}
	return false
}

func (r *Resource) methods() []Method {
	if len(r.Methods) > 0 {
		return r.Methods
	}
	if r.Kind == KindDynamic {
		return []Method{MethodGet, MethodPost}
	}
	return []Method{MethodGet}
}

// Request is the parsed request handed to a handler. It is valid only for
// the duration of the handler call.
type Request struct {
	Method  Method
	Target  string
	// Path is the percent-decoded path, without the query.
	Path string
	// Query is the raw query string after '?', or "".
	Query   string
	Version string
	Headers []fastparser.Header
	Body    *MessageBody

	RemoteAddr net.Addr
	// TLS reports whether the request arrived over the security context.
	TLS bool
	// ConnID identifies the connection in logs.
	ConnID string
}

// Header returns the first value of the named header, or "".
func (r *Request) Header(key string) string {
	return fastparser.Get(r.Headers, key)
}

// QueryValue returns the value of the first query parameter whose key
// matches key. See QueryValue.
func (r *Request) QueryValue(key string) (string, bool) {
	return QueryValue(r.Query, key)
}

// QueryCount returns the number of query parameters.
func (r *Request) QueryCount() int {
	return QueryCount(r.Query)
}

// MatchQuery reports whether the parameter key has the given value.
func (r *Request) MatchQuery(key, value string) bool {
	return MatchQuery(r.Query, key, value)
}
