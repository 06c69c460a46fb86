package httpd

import (
	"errors"

	"github.com/shapestone/shape-httpd/pkg/status"
)

// Registry errors.
var (
	ErrDuplicatePath   = errors.New("httpd: duplicate resource path")
	ErrRegistryFull    = errors.New("httpd: resource registry full")
	ErrInvalidResource = errors.New("httpd: invalid resource")
	ErrNotFound        = errors.New("httpd: resource not found")
)

// Request and response errors.
var (
	// ErrBadRequest wraps every request-parsing failure.
	ErrBadRequest = protocolError{errors.New("httpd: bad request")}
	// ErrTruncatedBody is returned when the peer closes before delivering
	// the declared Content-Length.
	ErrTruncatedBody = protocolError{errors.New("httpd: truncated request body")}
	// ErrHeaderWritten is returned by WriteHeader when a header was
	// already sent.
	ErrHeaderWritten = errors.New("httpd: response header already written")
	// ErrContentLengthExceeded is returned by writes past the
	// Content-Length given to WriteHeader. The excess is not sent.
	ErrContentLengthExceeded = errors.New("httpd: write exceeds declared Content-Length")
	// ErrStreamClosed is returned by writes after Disconnect.
	ErrStreamClosed = errors.New("httpd: response stream closed")
	// ErrPartialResults is returned by a ReceiveFunc that answered the
	// request itself. The server skips dispatch and keeps the connection.
	ErrPartialResults = errors.New("httpd: request taken by receive hook")
	// ErrServerClosed is returned by Serve after Stop.
	ErrServerClosed = errors.New("httpd: server closed")
)

// ErrPreconditionFailed is returned by handlers to answer 412.
var ErrPreconditionFailed = status.New(status.PreconditionFailed)

// protocolError classifies wrapped sentinels as protocol failures.
type protocolError struct{ error }

func (protocolError) Kind() status.Kind { return status.KindProtocol }

func (e protocolError) Unwrap() error { return e.error }
