// Package status defines the closed set of HTTP status codes the server
// emits and the mapping from internal outcome kinds to those codes.
package status

import (
	"errors"
	"fmt"
	"strconv"
)

// Code is an HTTP status code from the fixed set the server supports.
type Code int

// Supported status codes.
const (
	OK                              Code = 200
	NoContent                       Code = 204
	MultiStatus                     Code = 207
	MovedPermanently                Code = 301
	BadRequest                      Code = 400
	Forbidden                       Code = 403
	NotFound                        Code = 404
	MethodNotAllowed                Code = 405
	NotAcceptable                   Code = 406
	PreconditionFailed              Code = 412
	UnsupportedMediaType            Code = 415
	TooManyRequests                 Code = 429
	NoResponse                      Code = 444
	ConnectionAuthorizationRequired Code = 470
	InternalServerError             Code = 500
	GatewayTimeout                  Code = 504
)

var reasons = map[Code]string{
	OK:                              "OK",
	NoContent:                       "No Content",
	MultiStatus:                     "Multi-Status",
	MovedPermanently:                "Moved Permanently",
	BadRequest:                      "Bad Request",
	Forbidden:                       "Forbidden",
	NotFound:                        "Not Found",
	MethodNotAllowed:                "Method Not Allowed",
	NotAcceptable:                   "Not Acceptable",
	PreconditionFailed:              "Precondition Failed",
	UnsupportedMediaType:            "Unsupported Media Type",
	TooManyRequests:                 "Too Many Requests",
	NoResponse:                      "No Response",
	ConnectionAuthorizationRequired: "Connection Authorization Required",
	InternalServerError:             "Internal Server Error",
	GatewayTimeout:                  "Not Able to Connect",
}

// Codes returns every supported code in ascending order.
func Codes() []Code {
	return []Code{
		OK, NoContent, MultiStatus, MovedPermanently,
		BadRequest, Forbidden, NotFound, MethodNotAllowed, NotAcceptable,
		PreconditionFailed, UnsupportedMediaType, TooManyRequests, NoResponse,
		ConnectionAuthorizationRequired, InternalServerError, GatewayTimeout,
	}
}

// Valid reports whether c belongs to the supported set.
func (c Code) Valid() bool {
	_, ok := reasons[c]
	return ok
}

// Reason returns the reason phrase for c, or "" for unsupported codes.
func (c Code) Reason() string {
	return reasons[c]
}

// StatusLine returns "HTTP/1.1 <code> <reason>" without the trailing CRLF.
func (c Code) StatusLine() string {
	return "HTTP/1.1 " + strconv.Itoa(int(c)) + " " + c.Reason()
}

// AppendStatusLine appends the status line and CRLF to dst.
func (c Code) AppendStatusLine(dst []byte) []byte {
	dst = append(dst, "HTTP/1.1 "...)
	dst = strconv.AppendInt(dst, int64(c), 10)
	dst = append(dst, ' ')
	dst = append(dst, c.Reason()...)
	return append(dst, '\r', '\n')
}

// String returns "<code> <reason>".
func (c Code) String() string {
	if r := c.Reason(); r != "" {
		return strconv.Itoa(int(c)) + " " + r
	}
	return strconv.Itoa(int(c))
}

// Closes reports whether a response with this code ends the connection.
func (c Code) Closes() bool {
	return c == NoResponse
}

// Error is an error that carries the status code it should be answered
// with. Handlers return it to override the response status.
type Error struct {
	Code Code
	Err  error
}

// Errorf returns an *Error with the given code and a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Err: fmt.Errorf(format, args...)}
}

// New returns an *Error with the code's reason phrase as its message.
func New(code Code) *Error {
	return &Error{Code: code}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "status: " + e.Code.String()
	}
	return "status: " + e.Code.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same code, so sentinel status errors
// compare by code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code && t.Err == nil
	}
	return false
}

// CodeOf returns the code carried by err and whether one was found.
func CodeOf(err error) (Code, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Code, true
	}
	return 0, false
}
