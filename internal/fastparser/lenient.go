package fastparser

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/shapestone/shape-httpd/pkg/chunked"
)

// Diagnosis is a best-effort reading of a message, typically one that
// failed strict parsing. Exactly one of Head and Response is set.
type Diagnosis struct {
	Head     *Head
	Response *Response
	Warnings []string
	// Partial is set when the message ended before its head or body did.
	Partial bool
}

// Diagnose reads data without ever failing: malformed lines are skipped or
// repaired and each problem is recorded as a warning. Messages starting
// with "HTTP/" are read as responses.
func Diagnose(data []byte) *Diagnosis {
	s := &lenientScanner{data: data, line: 1}
	d := &Diagnosis{}
	if len(data) == 0 {
		s.warn(1, "empty input")
		d.Partial = true
		d.Warnings = s.warnings
		return d
	}
	if bytes.HasPrefix(data, []byte("HTTP/")) {
		d.Response = s.response()
	} else {
		d.Head = s.request()
	}
	d.Partial = s.partial
	d.Warnings = s.warnings
	return d
}

type lenientScanner struct {
	data     []byte
	pos      int
	line     int
	partial  bool
	warnings []string
}

func (s *lenientScanner) warn(line int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if line > 0 {
		msg = fmt.Sprintf("line %d: %s", line, msg)
	}
	s.warnings = append(s.warnings, msg)
}

func (s *lenientScanner) request() *Head {
	h := &Head{}
	line, n := s.readLine()
	fields := bytes.Fields(line)
	switch len(fields) {
	case 0:
		s.warn(n, "empty request line")
		return h
	case 1:
		s.warn(n, "request line has no target or version")
		h.Method, h.Target, h.Version = string(fields[0]), "/", "HTTP/1.1"
	case 2:
		s.warn(n, "request line has no version, assuming HTTP/1.1")
		h.Method, h.Target, h.Version = string(fields[0]), string(fields[1]), "HTTP/1.1"
	default:
		if len(fields) > 3 {
			s.warn(n, "request line has %d fields, extra ignored", len(fields))
		}
		h.Method, h.Target, h.Version = internMethod(fields[0]), string(fields[1]), internVersion(fields[2])
	}
	if _, ok := methods[h.Method]; !ok {
		s.warn(n, "unknown method %q", h.Method)
	}
	if _, ok := versions[h.Version]; !ok {
		s.warn(n, "unsupported version %q", h.Version)
	}
	if h.Target != "*" && !strings.HasPrefix(h.Target, "/") {
		s.warn(n, "target %q is not origin-form", h.Target)
	}
	h.Headers = s.headers()
	if _, err := ResolveFraming(h.Headers, true); err != nil {
		s.warn(0, "framing: %v", err)
	}
	return h
}

func (s *lenientScanner) response() *Response {
	r := &Response{}
	line, n := s.readLine()
	fields := bytes.Fields(line)
	r.Version = string(fields[0])
	if len(fields) < 2 {
		s.warn(n, "status line has no status code")
	} else {
		code, err := strconv.Atoi(string(fields[1]))
		if err != nil || len(fields[1]) != 3 {
			s.warn(n, "invalid status code %q", fields[1])
		}
		r.StatusCode = code
		if i := bytes.Index(line, fields[1]) + len(fields[1]); i < len(line) {
			r.Reason = string(bytes.TrimSpace(line[i:]))
		}
	}
	r.Headers = s.headers()
	r.Body = s.body(r.Headers)
	return r
}

// headers reads header lines up to the blank line. Lines without a colon
// are skipped and whitespace before a colon is tolerated.
func (s *lenientScanner) headers() []Header {
	var headers []Header
	for {
		if s.pos >= len(s.data) {
			s.warn(s.line, "header block not terminated")
			s.partial = true
			return headers
		}
		line, n := s.readLine()
		if len(line) == 0 {
			return headers
		}
		for s.pos < len(s.data) && (s.data[s.pos] == ' ' || s.data[s.pos] == '\t') {
			cont, _ := s.readLine()
			s.warn(n, "obsolete line folding")
			line = append(append(line[:len(line):len(line)], ' '), bytes.TrimLeft(cont, " \t")...)
		}
		colon := bytes.IndexByte(line, ':')
		switch {
		case colon < 0:
			s.warn(n, "header without colon skipped: %q", line)
			continue
		case colon == 0:
			s.warn(n, "header with empty name skipped")
			continue
		}
		key := bytes.TrimRight(line[:colon], " \t")
		if len(key) != colon {
			s.warn(n, "whitespace before colon in %q", line[:colon])
		}
		headers = append(headers, Header{
			Key:   internHeaderName(key),
			Value: string(trimOWS(line[colon+1:])),
		})
	}
}

// body returns whatever body bytes are present. Content-Length is checked
// against what arrived but never used to discard data.
func (s *lenientScanner) body(headers []Header) []byte {
	rest := s.data[s.pos:]
	s.pos = len(s.data)
	f, err := ResolveFraming(headers, false)
	if err != nil {
		s.warn(0, "framing: %v", err)
	}
	if f.Chunked {
		decoded, err := chunked.Dechunk(rest)
		if err != nil {
			s.warn(0, "chunked body: %v, returning raw bytes", err)
			s.partial = true
			return append([]byte(nil), rest...)
		}
		return decoded
	}
	if len(rest) == 0 {
		return nil
	}
	if f.ContentLength >= 0 && int64(len(rest)) != f.ContentLength {
		s.warn(0, "Content-Length is %d but %d bytes follow", f.ContentLength, len(rest))
		if int64(len(rest)) < f.ContentLength {
			s.partial = true
		}
	}
	return append([]byte(nil), rest...)
}

// readLine returns the next line and its number. CRLF, LF, and a bare CR
// all end a line; a final line without an ending is returned as-is.
func (s *lenientScanner) readLine() ([]byte, int) {
	n := s.line
	start := s.pos
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		if c != '\r' && c != '\n' {
			s.pos++
			continue
		}
		line := s.data[start:s.pos]
		if c == '\r' {
			s.pos++
			if s.pos < len(s.data) && s.data[s.pos] == '\n' {
				s.pos++
			} else {
				s.warn(n, "bare CR line ending")
			}
		} else {
			s.pos++
		}
		s.line++
		return line, n
	}
	s.line++
	return s.data[start:], n
}
