package fastparser

import (
	"errors"
	"strconv"
)

// Framing describes how a message body is delimited.
type Framing struct {
	Chunked bool
	// ContentLength is -1 when no Content-Length header is present.
	ContentLength int64
}

// HasBody reports whether the framing announces body bytes.
func (f Framing) HasBody() bool {
	return f.Chunked || f.ContentLength > 0
}

// ResolveFraming inspects Transfer-Encoding and Content-Length. Only the
// "chunked" transfer coding is supported. Conflicting headers are rejected
// rather than guessed at. With strict set, a Transfer-Encoding other than
// exactly "chunked" is rejected; otherwise codings before chunked are
// tolerated.
func ResolveFraming(headers []Header, strict bool) (Framing, error) {
	f := Framing{ContentLength: -1}
	sawTE := false
	for _, h := range headers {
		switch {
		case eqFold(h.Key, "Transfer-Encoding"):
			if sawTE {
				return f, errors.New("repeated Transfer-Encoding")
			}
			sawTE = true
			switch {
			case eqFold(h.Value, "chunked"):
				f.Chunked = true
			case !strict && hasSuffixFold(h.Value, "chunked"):
				f.Chunked = true
			default:
				return f, errors.New("unsupported Transfer-Encoding " + strconv.Quote(h.Value))
			}
		case eqFold(h.Key, "Content-Length"):
			n, err := parseContentLength(h.Value)
			if err != nil {
				return f, err
			}
			if f.ContentLength >= 0 && f.ContentLength != n {
				return f, errors.New("conflicting Content-Length values")
			}
			f.ContentLength = n
		}
	}
	if f.Chunked && f.ContentLength >= 0 {
		return f, errors.New("both Transfer-Encoding and Content-Length present")
	}
	return f, nil
}

// parseContentLength accepts only plain decimal digits.
func parseContentLength(v string) (int64, error) {
	if v == "" {
		return 0, errors.New("empty Content-Length")
	}
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return 0, errors.New("invalid Content-Length " + strconv.Quote(v))
		}
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, errors.New("Content-Length out of range")
	}
	return n, nil
}

// Get returns the first value for key, compared case-insensitively.
func Get(headers []Header, key string) string {
	for _, h := range headers {
		if eqFold(h.Key, key) {
			return h.Value
		}
	}
	return ""
}

// Values returns all values for key in order.
func Values(headers []Header, key string) []string {
	var out []string
	for _, h := range headers {
		if eqFold(h.Key, key) {
			out = append(out, h.Value)
		}
	}
	return out
}

// HasToken reports whether a comma-separated header value list for key
// contains token, compared case-insensitively. Used for Connection.
func HasToken(headers []Header, key, token string) bool {
	for _, h := range headers {
		if !eqFold(h.Key, key) {
			continue
		}
		v := h.Value
		for len(v) > 0 {
			part := v
			if i := indexByte(v, ','); i >= 0 {
				part, v = v[:i], v[i+1:]
			} else {
				v = ""
			}
			if eqFold(trimString(part), token) {
				return true
			}
		}
	}
	return false
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}

// trimString trims leading and trailing SP and HTAB.
func trimString(s string) string {
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\t') {
		s = s[1:]
	}
	for len(s) > 0 && (s[len(s)-1] == ' ' || s[len(s)-1] == '\t') {
		s = s[:len(s)-1]
	}
	return s
}

func hasSuffixFold(s, suffix string) bool {
	return len(s) >= len(suffix) && eqFold(s[len(s)-len(suffix):], suffix)
}

// eqFold is a fast ASCII case-insensitive string comparison.
func eqFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
