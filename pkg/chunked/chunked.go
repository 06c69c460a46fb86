// Package chunked implements HTTP/1.1 chunked transfer coding.
//
// The streaming Decoder delivers a request body as a sequence of bounded
// spans and tracks how many bytes of the current chunk are still expected.
// The Writer frames outgoing spans. Dechunk and Encode are one-shot helpers
// for bodies that are already fully in memory.
//
// Format: hex-size CRLF data CRLF ... 0 CRLF [trailers] CRLF
// Chunk extensions after ';' are ignored.
package chunked

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

// Errors reported while decoding. They are wrapped with context; test for
// them with errors.Is.
var (
	ErrMalformedChunkSize = errors.New("chunked: malformed chunk size")
	ErrMalformedChunk     = errors.New("chunked: malformed chunk framing")
	ErrTruncatedChunk     = errors.New("chunked: truncated chunk")
	ErrWriterClosed       = errors.New("chunked: write after close")
)

// maxSizeLine bounds the chunk-size line, including extensions.
const maxSizeLine = 4096

// maxHexDigits keeps chunk sizes within int64.
const maxHexDigits = 15

// Dechunk decodes a complete chunked body held in memory.
func Dechunk(data []byte) ([]byte, error) {
	var result []byte
	pos := 0
	length := len(data)

	for {
		if pos >= length {
			return nil, fmt.Errorf("%w: unexpected end of data", ErrTruncatedChunk)
		}

		lineEnd := findLineEnd(data, pos)
		if lineEnd < 0 {
			return nil, fmt.Errorf("%w: unterminated chunk size line", ErrTruncatedChunk)
		}
		sizeLine := data[pos:lineEnd]
		pos = skipLineEnding(data, lineEnd)

		size, err := parseSizeLine(sizeLine)
		if err != nil {
			return nil, err
		}
		if size == 0 {
			// Trailers and the final CRLF are not inspected.
			break
		}

		if int64(length-pos) < size {
			return nil, fmt.Errorf("%w: expected %d bytes, %d available", ErrTruncatedChunk, size, length-pos)
		}
		result = append(result, data[pos:pos+int(size)]...)
		pos += int(size)

		if pos >= length {
			return nil, fmt.Errorf("%w: missing CRLF after chunk data", ErrTruncatedChunk)
		}
		switch {
		case data[pos] == '\r' && pos+1 < length && data[pos+1] == '\n':
			pos += 2
		case data[pos] == '\n':
			pos++
		default:
			return nil, fmt.Errorf("%w: expected CRLF after chunk data, got %q", ErrMalformedChunk, data[pos])
		}
	}

	if len(result) == 0 {
		return nil, nil
	}
	return result, nil
}

// Encode frames body as chunks of at most chunkSize bytes followed by the
// terminator. A chunkSize <= 0 emits a single chunk.
func Encode(body []byte, chunkSize int) []byte {
	if chunkSize <= 0 {
		chunkSize = len(body)
	}
	out := make([]byte, 0, len(body)+len(body)/max(chunkSize, 1)*12+16)
	for len(body) > 0 {
		n := min(chunkSize, len(body))
		out = appendChunk(out, body[:n])
		body = body[n:]
	}
	return append(out, terminator...)
}

var (
	crlf       = []byte("\r\n")
	terminator = []byte("0\r\n\r\n")
)

func appendChunk(dst, p []byte) []byte {
	dst = strconv.AppendInt(dst, int64(len(p)), 16)
	dst = append(dst, crlf...)
	dst = append(dst, p...)
	return append(dst, crlf...)
}

// parseSizeLine parses a chunk-size line without its line ending.
func parseSizeLine(line []byte) (int64, error) {
	if semi := bytes.IndexByte(line, ';'); semi >= 0 {
		line = line[:semi]
	}
	line = bytes.TrimSpace(line)
	size, err := parseHexSize(line)
	if err != nil {
		return 0, fmt.Errorf("%w %q: %v", ErrMalformedChunkSize, line, err)
	}
	return size, nil
}

// parseHexSize parses a hex chunk size. Leading zeros are ignored; values
// that do not fit in an int64 are rejected.
func parseHexSize(s []byte) (int64, error) {
	if len(s) == 0 {
		return 0, errors.New("empty hex string")
	}
	for len(s) > 1 && s[0] == '0' {
		s = s[1:]
	}
	if len(s) > maxHexDigits {
		return 0, errors.New("chunk size overflows")
	}
	var n int64
	for _, c := range s {
		n <<= 4
		switch {
		case c >= '0' && c <= '9':
			n |= int64(c - '0')
		case c >= 'a' && c <= 'f':
			n |= int64(c-'a') + 10
		case c >= 'A' && c <= 'F':
			n |= int64(c-'A') + 10
		default:
			return 0, fmt.Errorf("invalid byte %q", c)
		}
	}
	return n, nil
}

// findLineEnd finds the position of \r\n or \n starting from pos.
// Returns the position of \r (or \n if bare), or -1 if not found.
func findLineEnd(data []byte, pos int) int {
	for i := pos; i < len(data); i++ {
		if data[i] == '\r' && i+1 < len(data) && data[i+1] == '\n' {
			return i
		}
		if data[i] == '\n' {
			return i
		}
	}
	return -1
}

// skipLineEnding advances past CRLF or LF at the given position.
func skipLineEnding(data []byte, pos int) int {
	if pos < len(data) && data[pos] == '\r' && pos+1 < len(data) && data[pos+1] == '\n' {
		return pos + 2
	}
	if pos < len(data) && data[pos] == '\n' {
		return pos + 1
	}
	return pos
}
