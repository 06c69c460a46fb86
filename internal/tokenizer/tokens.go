// Package tokenizer splits HTTP request lines using Shape's tokenizer
// framework.
package tokenizer

// Token type constants for request lines.
const (
	TokenWord = "Word" // method, request-target or version
	TokenSP   = "SP"   // space separator
	TokenCRLF = "CRLF" // line ending \r\n or \n
)
