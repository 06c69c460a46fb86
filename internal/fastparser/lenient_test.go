package fastparser

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDiagnose_CleanRequest(t *testing.T) {
	d := Diagnose([]byte("GET /status.json HTTP/1.1\r\nHost: device.local\r\n\r\n"))
	if len(d.Warnings) != 0 || d.Partial {
		t.Fatalf("warnings = %v, partial = %v", d.Warnings, d.Partial)
	}
	want := &Head{
		Method:  "GET",
		Target:  "/status.json",
		Version: "HTTP/1.1",
		Headers: []Header{{Key: "Host", Value: "device.local"}},
	}
	if diff := cmp.Diff(want, d.Head); diff != "" {
		t.Errorf("head mismatch (-want +got):\n%s", diff)
	}
}

func TestDiagnose_Request(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		warning string
		partial bool
	}{
		{"empty", "", "empty input", true},
		{"no version", "GET /\r\n\r\n", "no version", false},
		{"method only", "GET\r\n\r\n", "no target", false},
		{"unknown method", "BREW /pot HTTP/1.1\r\n\r\n", "unknown method", false},
		{"bad version", "GET / HTTP/2.0\r\n\r\n", "unsupported version", false},
		{"absolute target", "GET http://x/ HTTP/1.1\r\n\r\n", "origin-form", false},
		{"no colon", "GET / HTTP/1.1\r\nbogus\r\n\r\n", "without colon", false},
		{"space before colon", "GET / HTTP/1.1\r\nHost : x\r\n\r\n", "whitespace before colon", false},
		{"folded", "GET / HTTP/1.1\r\nX-A: one\r\n two\r\n\r\n", "line folding", false},
		{"unterminated", "GET / HTTP/1.1\r\nHost: x\r\n", "not terminated", true},
		{"bare cr", "GET / HTTP/1.1\rHost: x\r\n\r\n", "bare CR", false},
		{"conflicting framing", "POST / HTTP/1.1\r\nContent-Length: 1\r\nTransfer-Encoding: chunked\r\n\r\n", "framing", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Diagnose([]byte(tt.in))
			if !hasWarning(d.Warnings, tt.warning) {
				t.Errorf("warnings %q lack %q", d.Warnings, tt.warning)
			}
			if d.Partial != tt.partial {
				t.Errorf("partial = %v, want %v", d.Partial, tt.partial)
			}
		})
	}
}

func TestDiagnose_RepairsHeaders(t *testing.T) {
	d := Diagnose([]byte("GET / HTTP/1.1\r\nHost : x\r\nX-A: one\r\n two\r\n\r\n"))
	want := []Header{{Key: "Host", Value: "x"}, {Key: "X-A", Value: "one two"}}
	if diff := cmp.Diff(want, d.Head.Headers); diff != "" {
		t.Errorf("headers mismatch (-want +got):\n%s", diff)
	}
}

func TestDiagnose_Response(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		code    int
		body    string
		warning string
		partial bool
	}{
		{"clean", "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nhi", 200, "hi", "", false},
		{"short body", "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhi", 200, "hi", "Content-Length is 5", true},
		{"long body", "HTTP/1.1 200 OK\r\nContent-Length: 1\r\n\r\nhi", 200, "hi", "Content-Length is 1", false},
		{"chunked", "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n2\r\nhi\r\n0\r\n\r\n", 200, "hi", "", false},
		{"bad chunk", "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\nzz\r\n", 200, "zz\r\n", "chunked body", true},
		{"no code", "HTTP/1.1\r\n\r\n", 0, "", "no status code", false},
		{"bad code", "HTTP/1.1 2x0 OK\r\n\r\n", 0, "", "invalid status code", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Diagnose([]byte(tt.in))
			if d.Response == nil {
				t.Fatal("Response is nil")
			}
			if d.Response.StatusCode != tt.code || string(d.Response.Body) != tt.body {
				t.Errorf("code = %d body = %q", d.Response.StatusCode, d.Response.Body)
			}
			if tt.warning == "" && len(d.Warnings) != 0 {
				t.Errorf("unexpected warnings %q", d.Warnings)
			}
			if tt.warning != "" && !hasWarning(d.Warnings, tt.warning) {
				t.Errorf("warnings %q lack %q", d.Warnings, tt.warning)
			}
			if d.Partial != tt.partial {
				t.Errorf("partial = %v, want %v", d.Partial, tt.partial)
			}
		})
	}
}

func hasWarning(warnings []string, sub string) bool {
	for _, w := range warnings {
		if strings.Contains(w, sub) {
			return true
		}
	}
	return false
}

func FuzzDiagnose(f *testing.F) {
	f.Add([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
	f.Add([]byte("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n1\r\na\r\n0\r\n\r\n"))
	f.Add([]byte("\r\r\n :\r\n"))
	f.Fuzz(func(t *testing.T, data []byte) {
		d := Diagnose(data)
		if (d.Head == nil) == (d.Response == nil) && len(data) > 0 {
			t.Fatalf("Head = %v, Response = %v", d.Head, d.Response)
		}
	})
}
