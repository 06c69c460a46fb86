package logger

import (
	"strings"

	"github.com/shapestone/shape-httpd/internal/fastparser"
)

var sensitive = map[string]struct{}{
	"authorization":       {},
	"proxy-authorization": {},
	"cookie":              {},
	"set-cookie":          {},
	"x-api-key":           {},
}

// RedactHeader returns "<redacted>" for sensitive header names and v
// otherwise.
func RedactHeader(k, v string) string {
	if v == "" {
		return ""
	}
	if _, ok := sensitive[strings.ToLower(k)]; ok {
		return "<redacted>"
	}
	return v
}

// SafeHeaders returns a compact string representation of headers suitable
// for logging with sensitive values redacted.
func SafeHeaders(headers []fastparser.Header) string {
	parts := make([]string, 0, len(headers))
	for _, h := range headers {
		if h.Value == "" {
			continue
		}
		parts = append(parts, h.Key+"="+RedactHeader(h.Key, h.Value))
	}
	return strings.Join(parts, "; ")
}
