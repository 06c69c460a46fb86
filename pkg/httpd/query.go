package httpd

import "strings"

// QueryValue scans a raw query string ("a=1&b=2") for the first parameter
// whose key matches key. key may contain '*' and '?' wildcards. A
// parameter without '=' matches with an empty value.
func QueryValue(query, key string) (string, bool) {
	for query != "" {
		var param string
		param, query, _ = strings.Cut(query, "&")
		k, v, _ := strings.Cut(param, "=")
		if wildcardMatch(key, k) {
			return v, true
		}
	}
	return "", false
}

// QueryCount returns the number of parameters in a raw query string: 0
// for an empty query, otherwise one more than the number of '&'.
func QueryCount(query string) int {
	if query == "" {
		return 0
	}
	return strings.Count(query, "&") + 1
}

// MatchQuery reports whether the first parameter matching key has exactly
// the given value.
func MatchQuery(query, key, value string) bool {
	v, ok := QueryValue(query, key)
	return ok && v == value
}
