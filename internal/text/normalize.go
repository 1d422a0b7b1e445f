// Package text provides text preparation for speech synthesis: cleaning a
// segment before it reaches the voice engine, splitting chapter text into
// sentence spans, and sanitizing chapter names into filesystem-safe names.
package text

import (
	"strings"
	"unicode"
)

// shoutingThreshold is the fraction of alphabetic runes that must be
// uppercase before a segment is treated as shouted and rewritten to title
// case. Full-caps sentences are read robotically by most TTS engines.
const shoutingThreshold = 0.7

// quoteReplacer strips quotation glyphs entirely rather than normalizing
// them: synthesis engines mis-render quote marks. Curly apostrophes are
// kept as straight apostrophes because they carry contractions.
var quoteReplacer = strings.NewReplacer(
	"’", "'", // right single quote -> apostrophe
	"‘", "'", // left single quote -> apostrophe
	`"`, "",
	"“", "", // left double quote
	"”", "", // right double quote
	"«", "", // left guillemet
	"»", "", // right guillemet
	"‹", "", // left single guillemet
	"›", "", // right single guillemet
)

// Normalize cleans one text segment for synthesis. It is pure and
// deterministic, and idempotent on already-clean text.
func Normalize(input string) string {
	cleaned := quoteReplacer.Replace(input)

	if isShouting(cleaned) {
		cleaned = titleCase(cleaned)
	}

	return cleaned
}

// isShouting reports whether the uppercase fraction of the alphabetic runes
// exceeds shoutingThreshold. Text with no alphabetic runes is not shouting.
func isShouting(s string) bool {
	var alpha, upper int

	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}

		alpha++

		if unicode.IsUpper(r) {
			upper++
		}
	}

	if alpha == 0 {
		return false
	}

	return float64(upper)/float64(alpha) > shoutingThreshold
}

// titleCase uppercases the first letter of each word and lowercases the
// rest, which reads far more naturally than an all-caps sentence.
func titleCase(s string) string {
	var builder strings.Builder

	builder.Grow(len(s))

	startOfWord := true

	for _, r := range s {
		switch {
		case !unicode.IsLetter(r):
			builder.WriteRune(r)

			startOfWord = true
		case startOfWord:
			builder.WriteRune(unicode.ToUpper(r))

			startOfWord = false
		default:
			builder.WriteRune(unicode.ToLower(r))
		}
	}

	return builder.String()
}
