// Package fastparser scans HTTP/1.1 message heads directly from bytes.
//
// The server reads a request head off the wire, bounded in size, and hands
// it to ParseRequestHead. Response parsing is used to validate raw
// pre-rendered responses and by clients in tests.
package fastparser

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/shapestone/shape-httpd/internal/tokenizer"
	"github.com/shapestone/shape-httpd/pkg/chunked"
)

// Head is a parsed request line plus headers.
type Head struct {
	Method  string
	Target  string
	Version string
	Headers []Header
}

// Get returns the first value of the named header, or "".
func (h *Head) Get(key string) string {
	return Get(h.Headers, key)
}

// Response is a parsed HTTP response.
type Response struct {
	Version    string
	StatusCode int
	Reason     string
	Headers    []Header
	Body       []byte
}

// Get returns the first value of the named header, or "".
func (r *Response) Get(key string) string {
	return Get(r.Headers, key)
}

// Header is a key-value pair.
type Header struct {
	Key   string
	Value string
}

// Parser scans one message held in memory.
type Parser struct {
	data   []byte
	pos    int
	length int
	line   int // 1-indexed line number for error reporting
}

// NewParser creates a parser for data.
func NewParser(data []byte) *Parser {
	p := &Parser{}
	initParser(p, data)
	return p
}

// initParser initializes a parser in-place (stack-friendly, avoids heap alloc).
func initParser(p *Parser, data []byte) {
	p.data = data
	p.pos = 0
	p.length = len(data)
	p.line = 1
}

// Offset returns the number of bytes consumed so far.
func (p *Parser) Offset() int { return p.pos }

// ParseRequestHead parses a request line and the header block that follows.
// The head must end with an empty line.
func ParseRequestHead(data []byte) (*Head, error) {
	var p Parser
	initParser(&p, data)
	return p.ParseRequestHead()
}

// ParseRequestHead parses a request line and headers.
func (p *Parser) ParseRequestHead() (*Head, error) {
	line, err := p.readLine()
	if err != nil {
		return nil, p.errorf(ErrMalformedRequestLine, "missing request line")
	}
	rl, err := tokenizer.SplitRequestLine(string(line))
	if err != nil {
		return nil, p.errorf(ErrMalformedRequestLine, "%v", err)
	}
	headers, err := p.parseHeaders(true)
	if err != nil {
		return nil, err
	}
	return &Head{
		Method:  internMethod([]byte(rl.Method)),
		Target:  rl.Target,
		Version: internVersion([]byte(rl.Version)),
		Headers: headers,
	}, nil
}

// ParseResponseHead parses a status line and headers, leaving the parser
// positioned at the first body byte.
func ParseResponseHead(data []byte) (*Response, error) {
	var p Parser
	initParser(&p, data)
	version, code, reason, err := p.parseStatusLine()
	if err != nil {
		return nil, err
	}
	headers, err := p.parseHeaders(true)
	if err != nil {
		return nil, err
	}
	return &Response{Version: version, StatusCode: code, Reason: reason, Headers: headers}, nil
}

// ParseResponse parses a complete response, decoding a chunked body.
func ParseResponse(data []byte) (*Response, error) {
	var p Parser
	initParser(&p, data)
	return p.ParseResponse()
}

// ParseResponse parses an HTTP response message.
func (p *Parser) ParseResponse() (*Response, error) {
	version, statusCode, reason, err := p.parseStatusLine()
	if err != nil {
		return nil, err
	}
	headers, err := p.parseHeaders(true)
	if err != nil {
		return nil, err
	}
	body, err := p.parseBody(headers)
	if err != nil {
		return nil, err
	}
	return &Response{
		Version:    version,
		StatusCode: statusCode,
		Reason:     reason,
		Headers:    headers,
		Body:       body,
	}, nil
}

// parseStatusLine parses "VERSION SP STATUS SP REASON CRLF".
func (p *Parser) parseStatusLine() (version string, statusCode int, reason string, err error) {
	line, err := p.readLine()
	if err != nil {
		return "", 0, "", p.errorf(ErrMalformedStatusLine, "missing status line")
	}
	if !bytes.HasPrefix(line, []byte("HTTP/")) {
		return "", 0, "", p.errorf(ErrMalformedStatusLine, "bad version in %q", line)
	}

	sp1 := bytes.IndexByte(line, ' ')
	if sp1 < 0 {
		return "", 0, "", p.errorf(ErrMalformedStatusLine, "no version separator")
	}
	version = internVersion(line[:sp1])
	rest := line[sp1+1:]

	// A missing reason phrase is allowed: "HTTP/1.1 301".
	codeBytes := rest
	if sp2 := bytes.IndexByte(rest, ' '); sp2 >= 0 {
		codeBytes = rest[:sp2]
		reason = internReason(rest[sp2+1:])
	}
	if len(codeBytes) != 3 {
		return "", 0, "", p.errorf(ErrMalformedStatusLine, "invalid status code %q", codeBytes)
	}
	code, convErr := strconv.Atoi(string(codeBytes))
	if convErr != nil {
		return "", 0, "", p.errorf(ErrMalformedStatusLine, "invalid status code %q", codeBytes)
	}
	return version, code, reason, nil
}

// parseHeaders parses header lines until the empty line. When requireEnd
// is set, running out of data before the empty line is an error.
func (p *Parser) parseHeaders(requireEnd bool) ([]Header, error) {
	headers := make([]Header, 0, 8)

	for {
		if p.pos >= p.length {
			if requireEnd {
				return nil, p.errorf(ErrTruncated, "header block not terminated")
			}
			return headers, nil
		}

		if p.data[p.pos] == '\r' && p.pos+1 < p.length && p.data[p.pos+1] == '\n' {
			p.pos += 2
			p.line++
			return headers, nil
		}
		if p.data[p.pos] == '\n' {
			p.pos++
			p.line++
			return headers, nil
		}

		line, err := p.readLine()
		if err != nil {
			return nil, p.errorf(ErrTruncated, "header block not terminated")
		}

		// obs-fold: a continuation line starting with SP/HTAB is joined
		// with a single SP.
		for p.pos < p.length && (p.data[p.pos] == ' ' || p.data[p.pos] == '\t') {
			cont, contErr := p.readLine()
			if contErr != nil {
				break
			}
			joined := make([]byte, 0, len(line)+1+len(cont))
			joined = append(joined, line...)
			joined = append(joined, ' ')
			line = append(joined, bytes.TrimLeft(cont, " \t")...)
		}

		h, err := ParseHeaderLine(line)
		if err != nil {
			return nil, p.errorf(ErrMalformedHeader, "%v", err)
		}
		headers = append(headers, h)
	}
}

// ParseHeaderLine splits "Key: Value". Whitespace between the field name
// and the colon is rejected (RFC 9112 section 5.1).
func ParseHeaderLine(line []byte) (Header, error) {
	colon := bytes.IndexByte(line, ':')
	if colon < 0 {
		return Header{}, fmt.Errorf("no colon in %q", line)
	}
	if colon == 0 {
		return Header{}, fmt.Errorf("empty field name in %q", line)
	}
	if line[colon-1] == ' ' || line[colon-1] == '\t' {
		return Header{}, fmt.Errorf("whitespace before colon in %q", line[:colon])
	}
	return Header{
		Key:   internHeaderName(line[:colon]),
		Value: string(trimOWS(line[colon+1:])),
	}, nil
}

// parseBody reads a response body: chunked, then Content-Length, else the
// remaining bytes.
func (p *Parser) parseBody(headers []Header) ([]byte, error) {
	f, err := ResolveFraming(headers, false)
	if err != nil {
		return nil, p.errorf(ErrFraming, "%v", err)
	}
	if f.Chunked {
		body, err := chunked.Dechunk(p.data[p.pos:])
		if err != nil {
			return nil, p.errorf(err, "chunked body: %v", err)
		}
		p.pos = p.length
		return body, nil
	}
	if f.ContentLength >= 0 {
		if int64(p.length-p.pos) < f.ContentLength {
			return nil, p.errorf(ErrTruncated, "body truncated: expected %d bytes but only %d available", f.ContentLength, p.length-p.pos)
		}
		body := make([]byte, f.ContentLength)
		copy(body, p.data[p.pos:])
		p.pos += int(f.ContentLength)
		return body, nil
	}
	if p.pos >= p.length {
		return nil, nil
	}
	body := make([]byte, p.length-p.pos)
	copy(body, p.data[p.pos:])
	p.pos = p.length
	return body, nil
}

// readLine reads bytes until CRLF or LF, advancing pos.
// Returns the line content (without line ending).
func (p *Parser) readLine() ([]byte, error) {
	if p.pos >= p.length {
		return nil, fmt.Errorf("unexpected end of input at line %d", p.line)
	}

	start := p.pos
	for p.pos < p.length {
		if p.data[p.pos] == '\r' && p.pos+1 < p.length && p.data[p.pos+1] == '\n' {
			line := p.data[start:p.pos]
			p.pos += 2
			p.line++
			return line, nil
		}
		if p.data[p.pos] == '\n' {
			line := p.data[start:p.pos]
			p.pos++
			p.line++
			return line, nil
		}
		p.pos++
	}
	return nil, fmt.Errorf("unterminated line %d", p.line)
}

// trimOWS trims optional whitespace (SP and HTAB) from both ends of b.
func trimOWS(b []byte) []byte {
	for len(b) > 0 && (b[0] == ' ' || b[0] == '\t') {
		b = b[1:]
	}
	for len(b) > 0 && (b[len(b)-1] == ' ' || b[len(b)-1] == '\t') {
		b = b[:len(b)-1]
	}
	return b
}

func (p *Parser) errorf(sentinel error, format string, args ...any) error {
	return &ParseError{Line: p.line, Msg: fmt.Sprintf(format, args...), Err: sentinel}
}
