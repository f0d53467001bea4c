package agent

import (
	"strings"
	"unicode"
)

// SplitSentences splits response text at boundaries following '.', '?' or '!'
// when the next character is whitespace. Fragments are trimmed and empty ones
// dropped, so the synthesis connection never receives blank input.
func SplitSentences(text string) []string {
	var sentences []string
	var builder strings.Builder

	flush := func() {
		sentence := strings.TrimSpace(builder.String())
		if sentence != "" {
			sentences = append(sentences, sentence)
		}
		builder.Reset()
	}

	runes := []rune(text)
	for i, r := range runes {
		builder.WriteRune(r)
		if r != '.' && r != '?' && r != '!' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		flush()
	}
	flush()

	return sentences
}
