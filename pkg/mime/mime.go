// Package mime resolves MIME types for served resources and request bodies.
//
// A Resolver maps file extensions to types using an injected Table, falling
// back to a configured default when the extension is unknown. Parse
// normalizes Content-Type header values so they can be compared against a
// resource's declared accept set.
package mime

import (
	"path"
	"strings"
)

// Type is a normalized MIME type such as "application/json".
type Type string

// Types used by embedded device firmware and common web content.
const (
	TLV8                 Type = "application/x-tlv8"
	AppleBinaryPlist     Type = "application/x-apple-binary-plist"
	AppleProxyAutoconfig Type = "application/x-ns-proxy-autoconfig"
	OctetStream          Type = "application/octet-stream"
	JavaScript           Type = "application/javascript"
	JSON                 Type = "application/json"
	HAPJSON              Type = "application/hap+json"
	HAPPairingTLV8       Type = "application/pairing+tlv8"
	HAPVerify            Type = "application/hap+verify"
	HTML                 Type = "text/html"
	Plain                Type = "text/plain"
	EventStream          Type = "text/event-stream"
	CSS                  Type = "text/css"
	PNG                  Type = "image/png"
	GIF                  Type = "image/gif"
	MicrosoftIcon        Type = "image/vnd.microsoft.icon"

	// All is the wildcard type. A request body without a Content-Type is
	// treated as All, and a resource accepting All accepts any body.
	All Type = "*/*"
)

// String returns the type as it appears in a Content-Type header.
func (t Type) String() string { return string(t) }

// IsZero reports whether t is unset.
func (t Type) IsZero() bool { return t == "" }

// Parse normalizes a Content-Type header value: parameters after ';' are
// dropped, surrounding whitespace is trimmed and the result is lowercased.
// An empty value yields All.
func Parse(contentType string) Type {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		return All
	}
	return Type(strings.ToLower(contentType))
}

// Table maps a lowercase file extension, without the leading dot, to a type.
type Table map[string]Type

// DefaultTable returns a fresh copy of the built-in extension table.
func DefaultTable() Table {
	t := make(Table, len(defaultTable))
	for ext, typ := range defaultTable {
		t[ext] = typ
	}
	return t
}

// Merge returns a copy of t with the entries of other added, overriding
// existing extensions.
func (t Table) Merge(other Table) Table {
	out := make(Table, len(t)+len(other))
	for ext, typ := range t {
		out[ext] = typ
	}
	for ext, typ := range other {
		out[normalizeExt(ext)] = typ
	}
	return out
}

var defaultTable = Table{
	"7z":    "application/x-7z-compressed",
	"atom":  "application/atom+xml",
	"bin":   OctetStream,
	"bmp":   "image/x-ms-bmp",
	"css":   CSS,
	"gif":   GIF,
	"hap":   HAPJSON,
	"htm":   HTML,
	"html":  HTML,
	"ico":   MicrosoftIcon,
	"jpg":   "image/jpeg",
	"jpeg":  "image/jpeg",
	"js":    JavaScript,
	"json":  JSON,
	"pac":   AppleProxyAutoconfig,
	"pdf":   "application/pdf",
	"plist": AppleBinaryPlist,
	"png":   PNG,
	"svg":   "image/svg+xml",
	"tlv8":  TLV8,
	"txt":   Plain,
	"webp":  "image/webp",
	"xml":   "text/xml",
	"zip":   "application/zip",
}

// Resolver maps paths and extensions to types. It is immutable after
// construction and safe for concurrent use.
type Resolver struct {
	table    Table
	fallback Type
}

// NewResolver creates a resolver over table. A nil table uses DefaultTable;
// an empty fallback uses OctetStream.
func NewResolver(table Table, fallback Type) *Resolver {
	if table == nil {
		table = DefaultTable()
	} else {
		table = Table{}.Merge(table)
	}
	if fallback.IsZero() {
		fallback = OctetStream
	}
	return &Resolver{table: table, fallback: fallback}
}

// Default returns a resolver over DefaultTable with an OctetStream fallback.
func Default() *Resolver {
	return NewResolver(nil, OctetStream)
}

// ForExtension resolves ext, with or without a leading dot. Unknown
// extensions return the fallback.
func (r *Resolver) ForExtension(ext string) Type {
	if typ, ok := r.table[normalizeExt(ext)]; ok {
		return typ
	}
	return r.fallback
}

// ForPath resolves the extension of the last path element. A query string
// is ignored.
func (r *Resolver) ForPath(p string) Type {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	return r.ForExtension(path.Ext(p))
}

// Fallback returns the type used for unknown extensions.
func (r *Resolver) Fallback() Type { return r.fallback }

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
