package query

import (
	"strings"
	"unicode"
)

// Unquote strips one pair of surrounding double quotes.
func Unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// IsQuoted reports whether s is wrapped in double quotes.
func IsQuoted(s string) bool {
	return len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"'
}

// HasWildcard reports whether s contains * or ?.
func HasWildcard(s string) bool {
	return strings.ContainsAny(s, "*?")
}

// RemoveLeadingZeros drops leading zeros from an address fragment while
// keeping a single zero in front of a non-hex character.
func RemoveLeadingZeros(s string) string {
	if !strings.HasPrefix(s, "0") {
		return s
	}
	rem := strings.TrimLeft(s, "0")
	if rem == "" {
		return "0"
	}
	if !isHexDigit(unicode.ToLower(rune(rem[0]))) {
		return "0" + rem
	}
	return rem
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')
}

// NGrams returns the consecutive grams of size n for each whitespace separated
// word of s, in order. Words shorter than n yield themselves.
func NGrams(s string, n int) []string {
	var out []string
	for _, word := range strings.Fields(s) {
		runes := []rune(word)
		if len(runes) <= n {
			out = append(out, word)
			continue
		}
		for i := 0; i+n <= len(runes); i++ {
			out = append(out, string(runes[i:i+n]))
		}
	}
	return out
}

// IdentifierTokens is the analysis applied to identifier and title fields at
// index time: lowercase then n-grams of MinNGramSize.
func IdentifierTokens(s string) []string {
	return NGrams(strings.ToLower(s), MinNGramSize)
}

// PathTokens lowercases s and splits it on '/', dropping empty segments.
func PathTokens(s string) []string {
	var out []string
	for _, seg := range strings.Split(strings.ToLower(s), "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// FullTextTokens is the summary and message analysis: whitespace split then
// lowercase.
func FullTextTokens(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

// ipQueryTokens splits an address fragment on sep after normalizing each part.
func ipQueryTokens(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part == "" {
			continue
		}
		out = append(out, strings.ToLower(RemoveLeadingZeros(part)))
	}
	return out
}
