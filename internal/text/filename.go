package text

import (
	"strings"
	"unicode"
)

// FallbackName is used when sanitization strips a chapter name down to
// nothing (an all-punctuation name).
const FallbackName = "chapter"

// SanitizeName reduces a chapter name to a filesystem-safe form using an
// allow-list: letters, digits, space, dash and underscore survive, every
// other rune is dropped. The result is trimmed; an empty result falls back
// to FallbackName. The function is pure and total.
func SanitizeName(name string) string {
	var builder strings.Builder

	builder.Grow(len(name))

	for _, r := range name {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			builder.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			builder.WriteRune(r)
		}
	}

	safe := strings.TrimSpace(builder.String())
	if safe == "" {
		return FallbackName
	}

	return safe
}
