package strata

import (
	"strings"
	"unicode"
)

// tokenize splits text into lowercase alphanumeric terms, grounded on the
// teacher's search_index.go tokenizer (FieldsFunc over non-letter/non-digit
// runes), lower-cased so index lookups are case-insensitive.
func tokenize(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
