package tokenizer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shapestone/shape-core/pkg/tokenizer"
)

// ErrRequestLine is returned for request lines that are not
// "METHOD SP request-target SP HTTP-version".
var ErrRequestLine = errors.New("http: malformed request line")

// NewTokenizer creates a tokenizer for request lines. Spaces and line
// endings are structural, so the default whitespace skipper is not used.
// Matchers only consume after a successful peek and never need to back
// off:
// 1. CRLF (line endings)
// 2. SP (space separator)
// 3. Word (any run of other bytes)
func NewTokenizer() tokenizer.Tokenizer {
	return tokenizer.NewTokenizerWithoutWhitespace(
		CRLFMatcher(),
		SPMatcher(),
		WordMatcher(),
	)
}

// CRLFMatcher matches \r\n or bare \n.
func CRLFMatcher() tokenizer.Matcher {
	return func(stream tokenizer.Stream) *tokenizer.Token {
		r, ok := stream.PeekChar()
		if !ok {
			return nil
		}
		if r == '\r' {
			value := []rune{'\r'}
			stream.NextChar()
			if r2, ok := stream.PeekChar(); ok && r2 == '\n' {
				stream.NextChar()
				value = append(value, '\n')
			}
			return tokenizer.NewToken(TokenCRLF, value)
		}
		if r == '\n' {
			stream.NextChar()
			return tokenizer.NewToken(TokenCRLF, []rune{'\n'})
		}
		return nil
	}
}

// SPMatcher matches a single space character.
func SPMatcher() tokenizer.Matcher {
	return func(stream tokenizer.Stream) *tokenizer.Token {
		r, ok := stream.PeekChar()
		if !ok || r != ' ' {
			return nil
		}
		stream.NextChar()
		return tokenizer.NewToken(TokenSP, []rune{' '})
	}
}

// WordMatcher matches a run of characters up to SP, CR, LF or the end of
// the stream.
func WordMatcher() tokenizer.Matcher {
	return func(stream tokenizer.Stream) *tokenizer.Token {
		var value []rune
		for {
			r, ok := stream.PeekChar()
			if !ok || r == ' ' || r == '\r' || r == '\n' {
				break
			}
			stream.NextChar()
			value = append(value, r)
		}
		if len(value) == 0 {
			return nil
		}
		return tokenizer.NewToken(TokenWord, value)
	}
}

// RequestLine is a split request line. Fields are not validated beyond
// their position, except that Version must start with "HTTP/".
type RequestLine struct {
	Method  string
	Target  string
	Version string
}

// SplitRequestLine tokenizes line, which may carry its line ending, into
// its three fields. Exactly one space must separate the fields.
func SplitRequestLine(line string) (RequestLine, error) {
	tok := NewTokenizer()
	tok.Initialize(line)
	tokens, eos := tok.Tokenize()
	if !eos {
		return RequestLine{}, fmt.Errorf("%w: unexpected input", ErrRequestLine)
	}

	var words []string
	expectWord := true
	for i := range tokens {
		kind := tokens[i].Kind()
		switch {
		case kind == TokenCRLF:
			if i != len(tokens)-1 {
				return RequestLine{}, fmt.Errorf("%w: embedded line break", ErrRequestLine)
			}
		case kind == TokenWord && expectWord:
			words = append(words, tokens[i].ValueString())
			expectWord = false
		case kind == TokenSP && !expectWord:
			expectWord = true
		default:
			return RequestLine{}, fmt.Errorf("%w: unexpected %s at token %d", ErrRequestLine, kind, i)
		}
	}
	if len(words) != 3 || expectWord {
		return RequestLine{}, fmt.Errorf("%w: want 3 fields, got %d", ErrRequestLine, len(words))
	}
	if !strings.HasPrefix(words[2], "HTTP/") {
		return RequestLine{}, fmt.Errorf("%w: bad version %q", ErrRequestLine, words[2])
	}
	return RequestLine{Method: words[0], Target: words[1], Version: words[2]}, nil
}
