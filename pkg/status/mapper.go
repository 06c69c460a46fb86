package status

import "errors"

// Kind classifies an internal outcome.
type Kind uint8

// Outcome kinds.
const (
	KindOK Kind = iota
	KindProtocol
	KindNotFound
	KindMethodNotAllowed
	KindUnsupportedMediaType
	KindPreconditionFailed
	KindRateLimited
	KindSecurity
	KindInternal
	KindUpstreamTimeout
)

var kindNames = [...]string{
	KindOK:                   "ok",
	KindProtocol:             "protocol",
	KindNotFound:             "not_found",
	KindMethodNotAllowed:     "method_not_allowed",
	KindUnsupportedMediaType: "unsupported_media_type",
	KindPreconditionFailed:   "precondition_failed",
	KindRateLimited:          "rate_limited",
	KindSecurity:             "security",
	KindInternal:             "internal",
	KindUpstreamTimeout:      "upstream_timeout",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Classifier lets an error report its own kind.
type Classifier interface {
	Kind() Kind
}

// KindOf classifies err. A nil error is KindOK. Errors implementing
// Classifier report themselves; an *Error is classified by its code;
// everything else is KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return KindOK
	}
	var c Classifier
	if errors.As(err, &c) {
		return c.Kind()
	}
	if code, ok := CodeOf(err); ok {
		return kindForCode(code)
	}
	return KindInternal
}

func kindForCode(c Code) Kind {
	switch c {
	case BadRequest:
		return KindProtocol
	case NotFound:
		return KindNotFound
	case MethodNotAllowed:
		return KindMethodNotAllowed
	case UnsupportedMediaType:
		return KindUnsupportedMediaType
	case PreconditionFailed:
		return KindPreconditionFailed
	case TooManyRequests:
		return KindRateLimited
	case GatewayTimeout:
		return KindUpstreamTimeout
	case InternalServerError:
		return KindInternal
	}
	if c < 400 {
		return KindOK
	}
	return KindInternal
}

// Mapper maps outcome kinds to status codes. It is immutable after
// construction.
type Mapper struct {
	table    map[Kind]Code
	fallback Code
}

// DefaultTable returns the built-in kind to code mapping. KindSecurity has
// no entry: credential and handshake failures abort the connection before
// any request is read.
func DefaultTable() map[Kind]Code {
	return map[Kind]Code{
		KindOK:                   OK,
		KindProtocol:             BadRequest,
		KindNotFound:             NotFound,
		KindMethodNotAllowed:     MethodNotAllowed,
		KindUnsupportedMediaType: UnsupportedMediaType,
		KindPreconditionFailed:   PreconditionFailed,
		KindRateLimited:          TooManyRequests,
		KindInternal:             InternalServerError,
		KindUpstreamTimeout:      GatewayTimeout,
	}
}

// NewMapper copies table. Kinds without an entry map to fallback, which
// defaults to InternalServerError when zero.
func NewMapper(table map[Kind]Code, fallback Code) *Mapper {
	m := &Mapper{table: make(map[Kind]Code, len(table)), fallback: fallback}
	for k, c := range table {
		m.table[k] = c
	}
	if m.fallback == 0 {
		m.fallback = InternalServerError
	}
	return m
}

// DefaultMapper returns a Mapper over DefaultTable.
func DefaultMapper() *Mapper {
	return NewMapper(DefaultTable(), InternalServerError)
}

// Code returns the status code for kind.
func (m *Mapper) Code(kind Kind) Code {
	if c, ok := m.table[kind]; ok {
		return c
	}
	return m.fallback
}

// CodeFor resolves the status code for err. An explicit code carried by an
// *Error wins over the kind table.
func (m *Mapper) CodeFor(err error) Code {
	if code, ok := CodeOf(err); ok && code.Valid() {
		return code
	}
	return m.Code(KindOf(err))
}
