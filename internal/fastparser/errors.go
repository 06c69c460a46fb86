package fastparser

import (
	"errors"
	"fmt"

	"github.com/shapestone/shape-httpd/pkg/status"
)

// Sentinel errors wrapped by *ParseError.
var (
	ErrMalformedRequestLine = errors.New("http: malformed request line")
	ErrMalformedStatusLine  = errors.New("http: malformed status line")
	ErrMalformedHeader      = errors.New("http: malformed header")
	ErrFraming              = errors.New("http: invalid body framing")
	ErrTruncated            = errors.New("http: message truncated")
)

// ParseError reports where a message failed to parse. Line is 1-indexed.
type ParseError struct {
	Line int
	Msg  string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("http: parse error at line %d: %s", e.Line, e.Msg)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Kind classifies parse failures as protocol errors.
func (e *ParseError) Kind() status.Kind { return status.KindProtocol }
