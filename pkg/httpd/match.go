package httpd

import "strings"

// isPattern reports whether p contains a wildcard.
func isPattern(p string) bool {
	return strings.ContainsAny(p, "*?")
}

// literalLen counts the non-wildcard bytes of a pattern. A longer literal
// part means a more specific pattern.
func literalLen(p string) int {
	return len(p) - strings.Count(p, "*") - strings.Count(p, "?")
}

// wildcardMatch matches s against pattern, where '*' matches any run of
// bytes (including none) and '?' matches exactly one byte.
func wildcardMatch(pattern, s string) bool {
	px, sx := 0, 0
	starP, starS := -1, 0
	for sx < len(s) {
		switch {
		case px < len(pattern) && (pattern[px] == '?' || pattern[px] == s[sx]):
			px++
			sx++
		case px < len(pattern) && pattern[px] == '*':
			starP, starS = px, sx
			px++
		case starP >= 0:
			// backtrack: let the last '*' absorb one more byte
			starS++
			px, sx = starP+1, starS
		default:
			return false
		}
	}
	for px < len(pattern) && pattern[px] == '*' {
		px++
	}
	return px == len(pattern)
}
