package fastparser

// String interning for common HTTP tokens.
//
// The Go compiler optimizes map lookups with string([]byte) keys
// to avoid allocating the temporary string (the mapaccess optimization).
// This means internMethod(someBytes) is zero-alloc for known methods.

var methods = map[string]string{
	"GET": "GET", "HEAD": "HEAD", "POST": "POST",
	"PUT": "PUT", "DELETE": "DELETE", "OPTIONS": "OPTIONS",
	"PATCH": "PATCH",
}

var versions = map[string]string{
	"HTTP/1.0": "HTTP/1.0", "HTTP/1.1": "HTTP/1.1",
}

var headerNames = map[string]string{
	"Accept":            "Accept",
	"Accept-Encoding":   "Accept-Encoding",
	"Authorization":     "Authorization",
	"Cache-Control":     "Cache-Control",
	"Connection":        "Connection",
	"Content-Length":    "Content-Length",
	"Content-Type":      "Content-Type",
	"Cookie":            "Cookie",
	"Expect":            "Expect",
	"Host":              "Host",
	"If-Match":          "If-Match",
	"If-None-Match":     "If-None-Match",
	"Location":          "Location",
	"Pragma":            "Pragma",
	"Transfer-Encoding": "Transfer-Encoding",
	"User-Agent":        "User-Agent",
}

var reasons = map[string]string{
	"OK":                    "OK",
	"No Content":            "No Content",
	"Moved Permanently":     "Moved Permanently",
	"Bad Request":           "Bad Request",
	"Not Found":             "Not Found",
	"Method Not Allowed":    "Method Not Allowed",
	"Precondition Failed":   "Precondition Failed",
	"Internal Server Error": "Internal Server Error",
}

// internMethod returns an interned string for known HTTP methods, avoiding allocation.
func internMethod(b []byte) string {
	if s, ok := methods[string(b)]; ok {
		return s
	}
	return string(b)
}

// internVersion returns an interned string for known HTTP versions, avoiding allocation.
func internVersion(b []byte) string {
	if s, ok := versions[string(b)]; ok {
		return s
	}
	return string(b)
}

// internHeaderName returns an interned string for known header names, avoiding allocation.
func internHeaderName(b []byte) string {
	if s, ok := headerNames[string(b)]; ok {
		return s
	}
	return string(b)
}

// internReason returns an interned string for known reason phrases, avoiding allocation.
func internReason(b []byte) string {
	if s, ok := reasons[string(b)]; ok {
		return s
	}
	return string(b)
}
