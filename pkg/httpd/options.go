package httpd

import (
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/shapestone/shape-httpd/pkg/admission"
	"github.com/shapestone/shape-httpd/pkg/chunked"
	"github.com/shapestone/shape-httpd/pkg/metrics"
	"github.com/shapestone/shape-httpd/pkg/mime"
	"github.com/shapestone/shape-httpd/pkg/security"
	"github.com/shapestone/shape-httpd/pkg/status"
)

// Defaults applied by New to zero-valued Options fields.
const (
	DefaultMaxHeaderBytes = 8192
	DefaultBodySpanSize   = chunked.DefaultSpanSize
	DefaultIdleTimeout    = 60 * time.Second
	DefaultWriteTimeout   = 30 * time.Second
	DefaultMaxConnections = 8
	DefaultMaxDrainBytes  = 64 << 10
)

// Options configures a Server. The zero value is usable.
type Options struct {
	// Addr is the listen address used by Start.
	Addr string

	// Cache selects the cache headers of Static responses. Dynamic and
	// Resource responses are never cacheable.
	Cache Cache

	// MaxResources caps the registry. Zero means unlimited.
	MaxResources int
	// MaxConnections bounds concurrently served connections.
	MaxConnections int
	// MaxHeaderBytes bounds the request line plus headers.
	MaxHeaderBytes int
	// BodySpanSize is the size of the body spans handed to handlers and
	// of the spans written by WriteContent.
	BodySpanSize int
	// MaxDrainBytes is the most unread request body the server discards
	// to keep a connection alive.
	MaxDrainBytes int64

	IdleTimeout  time.Duration
	WriteTimeout time.Duration

	// Security enables TLS when configured. Nil or unconfigured means
	// plaintext.
	Security *security.Context
	// Admission decides whether a request may be served. Nil admits all.
	Admission admission.Controller

	Mime   *mime.Resolver
	Status *status.Mapper

	Logger  *zap.Logger
	Metrics *metrics.Metrics

	// DebugHeads logs every request head, with sensitive headers
	// redacted, at debug level.
	DebugHeads bool

	// OnReceive, when set, sees every request head before it is parsed.
	OnReceive ReceiveFunc
	// OnDisconnect, when set, runs once per connection after it closes.
	OnDisconnect DisconnectFunc
}

// ReceiveFunc inspects a request head, request line and blank line
// included, before it is parsed. A non-nil returned slice replaces the
// head and must still end with a blank line. A hook that answers the
// request itself writes raw bytes to resp and returns ErrPartialResults.
// Any other error closes the connection without a response.
type ReceiveFunc func(resp *ResponseStream, head []byte) ([]byte, error)

// DisconnectFunc is told which connection closed.
type DisconnectFunc func(connID string, remote net.Addr)

func (o Options) withDefaults() Options {
	if o.MaxConnections <= 0 {
		o.MaxConnections = DefaultMaxConnections
	}
	if o.MaxHeaderBytes <= 0 {
		o.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if o.BodySpanSize <= 0 {
		o.BodySpanSize = DefaultBodySpanSize
	}
	if o.MaxDrainBytes <= 0 {
		o.MaxDrainBytes = DefaultMaxDrainBytes
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.Admission == nil {
		o.Admission = admission.AllowAll{}
	}
	if o.Mime == nil {
		o.Mime = mime.Default()
	}
	if o.Status == nil {
		o.Status = status.DefaultMapper()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}
