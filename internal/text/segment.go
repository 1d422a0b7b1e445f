package text

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/book-expert/audiobook-service/internal/core"
)

// Paragraph-break signals: chapter extraction inserts a blank line between
// paragraphs, which may carry a stray space from markup cleanup.
const (
	paragraphGap       = "\n\n"
	paragraphGapSpaced = "\n \n"
)

// RuleSegmenter is a rule-based sentence boundary detector implementing
// core.Segmenter. A sentence ends at a run of terminal punctuation followed
// by whitespace, unless the next word starts with a lowercase letter (which
// usually marks an abbreviation, not a boundary).
type RuleSegmenter struct{}

// NewRuleSegmenter creates the default sentence segmenter.
func NewRuleSegmenter() *RuleSegmenter {
	return &RuleSegmenter{}
}

// Segment splits text into ordered sentence spans with byte offsets into
// the original text. The result is finite and recomputed per call. Text
// containing no boundary yields a single span covering the trimmed text;
// whitespace-only text yields no spans.
func (s *RuleSegmenter) Segment(text string) []core.SentenceSpan {
	var spans []core.SentenceSpan

	start := -1

	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])

		if start < 0 && !unicode.IsSpace(r) {
			start = i
		}

		if start >= 0 && isTerminal(r) {
			end := i + size

			// Swallow a trailing run of terminal punctuation ("?!", "...").
			for end < len(text) {
				next, nextSize := utf8.DecodeRuneInString(text[end:])
				if !isTerminal(next) {
					break
				}

				end += nextSize
			}

			if isBoundary(text, end) {
				spans = append(spans, core.SentenceSpan{
					Text:  text[start:end],
					Start: start,
					End:   end,
				})
				start = -1
			}

			i = end

			continue
		}

		i += size
	}

	// Trailing text without terminal punctuation still forms a sentence.
	if start >= 0 {
		end := len(text)
		for end > start {
			r, size := utf8.DecodeLastRuneInString(text[:end])
			if !unicode.IsSpace(r) {
				break
			}

			end -= size
		}

		if end > start {
			spans = append(spans, core.SentenceSpan{
				Text:  text[start:end],
				Start: start,
				End:   end,
			})
		}
	}

	return spans
}

// isTerminal reports whether the rune can end a sentence.
func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '…':
		return true
	default:
		return false
	}
}

// isBoundary reports whether the text following a terminal run confirms a
// sentence boundary: end of text, or whitespace not followed by a
// lowercase continuation.
func isBoundary(text string, end int) bool {
	if end >= len(text) {
		return true
	}

	r, size := utf8.DecodeRuneInString(text[end:])
	if !unicode.IsSpace(r) {
		return false
	}

	// Peek at the first non-space rune after the gap.
	for j := end + size; j < len(text); {
		next, nextSize := utf8.DecodeRuneInString(text[j:])
		if unicode.IsSpace(next) {
			j += nextSize

			continue
		}

		return !unicode.IsLower(next)
	}

	return true
}

// IsParagraphBreak reports whether the source text between two consecutive
// sentences contains a paragraph separator. A nextStart below zero means
// there is no following sentence, which is never a paragraph break.
func IsParagraphBreak(text string, end, nextStart int) bool {
	if nextStart < 0 || end < 0 || end > len(text) || nextStart > len(text) || nextStart < end {
		return false
	}

	between := text[end:nextStart]

	return strings.Contains(between, paragraphGap) ||
		strings.Contains(between, paragraphGapSpaced)
}
