package textutil

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var freeTextPolicy = bluemonday.StrictPolicy()

// SanitizeFreeText strips markup from customer- or operator-supplied free-form
// text (delivery requests, cancel reasons, admin notes) and trims whitespace.
// The strict policy removes every element and attribute, leaving plain text.
func SanitizeFreeText(value string) string {
	return strings.TrimSpace(freeTextPolicy.Sanitize(value))
}

// SanitizeFreeTextLimit sanitizes and truncates to at most limit runes.
func SanitizeFreeTextLimit(value string, limit int) string {
	cleaned := SanitizeFreeText(value)
	if limit <= 0 {
		return cleaned
	}
	runes := []rune(cleaned)
	if len(runes) <= limit {
		return cleaned
	}
	return strings.TrimSpace(string(runes[:limit]))
}
