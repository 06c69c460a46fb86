package status

import (
	"errors"
	"fmt"
	"testing"
)

func TestCode_StatusLine(t *testing.T) {
	tests := []struct {
		code Code
		want string
	}{
		{OK, "HTTP/1.1 200 OK"},
		{NoContent, "HTTP/1.1 204 No Content"},
		{BadRequest, "HTTP/1.1 400 Bad Request"},
		{NotFound, "HTTP/1.1 404 Not Found"},
		{MethodNotAllowed, "HTTP/1.1 405 Method Not Allowed"},
		{PreconditionFailed, "HTTP/1.1 412 Precondition Failed"},
		{UnsupportedMediaType, "HTTP/1.1 415 Unsupported Media Type"},
		{TooManyRequests, "HTTP/1.1 429 Too Many Requests"},
		{ConnectionAuthorizationRequired, "HTTP/1.1 470 Connection Authorization Required"},
		{InternalServerError, "HTTP/1.1 500 Internal Server Error"},
	}
	for _, tt := range tests {
		if got := tt.code.StatusLine(); got != tt.want {
			t.Errorf("StatusLine() = %q, want %q", got, tt.want)
		}
		if got := string(tt.code.AppendStatusLine(nil)); got != tt.want+"\r\n" {
			t.Errorf("AppendStatusLine() = %q, want %q", got, tt.want+"\r\n")
		}
	}
}

func TestCode_Valid(t *testing.T) {
	for _, c := range Codes() {
		if !c.Valid() {
			t.Errorf("%d.Valid() = false, want true", c)
		}
		if c.Reason() == "" {
			t.Errorf("%d.Reason() is empty", c)
		}
	}
	if len(Codes()) != 16 {
		t.Errorf("len(Codes()) = %d, want 16", len(Codes()))
	}
	for _, c := range []Code{0, 100, 201, 302, 418, 501, 503} {
		if c.Valid() {
			t.Errorf("%d.Valid() = true, want false", c)
		}
	}
}

func TestCode_Closes(t *testing.T) {
	if !NoResponse.Closes() {
		t.Error("444 should close the connection")
	}
	if OK.Closes() || InternalServerError.Closes() {
		t.Error("only 444 closes by status alone")
	}
}

func TestError_IsByCode(t *testing.T) {
	sentinel := New(PreconditionFailed)
	err := fmt.Errorf("wrapped: %w", Errorf(PreconditionFailed, "etag mismatch"))
	if !errors.Is(err, sentinel) {
		t.Error("errors.Is() = false, want true for matching code")
	}
	if errors.Is(err, New(NotFound)) {
		t.Error("errors.Is() = true, want false for a different code")
	}
	code, ok := CodeOf(err)
	if !ok || code != PreconditionFailed {
		t.Errorf("CodeOf() = %d, %v, want 412, true", code, ok)
	}
}

type classified struct{ kind Kind }

func (c classified) Error() string { return "classified" }
func (c classified) Kind() Kind    { return c.kind }

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindOK},
		{"plain", errors.New("boom"), KindInternal},
		{"status 404", New(NotFound), KindNotFound},
		{"status 412", Errorf(PreconditionFailed, "x"), KindPreconditionFailed},
		{"status 429", New(TooManyRequests), KindRateLimited},
		{"classifier", fmt.Errorf("x: %w", classified{KindProtocol}), KindProtocol},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMapper_Default(t *testing.T) {
	m := DefaultMapper()
	tests := []struct {
		kind Kind
		want Code
	}{
		{KindOK, OK},
		{KindProtocol, BadRequest},
		{KindNotFound, NotFound},
		{KindMethodNotAllowed, MethodNotAllowed},
		{KindUnsupportedMediaType, UnsupportedMediaType},
		{KindPreconditionFailed, PreconditionFailed},
		{KindRateLimited, TooManyRequests},
		{KindInternal, InternalServerError},
		{KindUpstreamTimeout, GatewayTimeout},
		{KindSecurity, InternalServerError},
	}
	for _, tt := range tests {
		if got := m.Code(tt.kind); got != tt.want {
			t.Errorf("Code(%v) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestMapper_CustomTable(t *testing.T) {
	m := NewMapper(map[Kind]Code{KindNotFound: Forbidden}, 0)
	if got := m.Code(KindNotFound); got != Forbidden {
		t.Errorf("Code(not_found) = %d, want 403", got)
	}
	if got := m.Code(KindProtocol); got != InternalServerError {
		t.Errorf("Code(protocol) = %d, want fallback 500", got)
	}
}

func TestMapper_CodeFor(t *testing.T) {
	m := DefaultMapper()
	if got := m.CodeFor(Errorf(NoContent, "empty")); got != NoContent {
		t.Errorf("CodeFor(204 error) = %d, want 204", got)
	}
	if got := m.CodeFor(errors.New("disk full")); got != InternalServerError {
		t.Errorf("CodeFor(plain) = %d, want 500", got)
	}
	if got := m.CodeFor(nil); got != OK {
		t.Errorf("CodeFor(nil) = %d, want 200", got)
	}
}
