package passage

import (
	"strings"
	"unicode"
)

// Sentences splits text into sentences. A sentence starts at the beginning of
// the text or right after a whitespace rune and runs through the next run of
// terminators ('.', '!', '?') or to the end of the text. Text that directly
// follows a terminator without whitespace is skipped up to the next
// whitespace. Blank sentences are dropped.
func Sentences(text string) []string {
	runes := []rune(text)
	var out []string

	i := 0
	for i < len(runes) {
		if i > 0 && !unicode.IsSpace(runes[i-1]) {
			i++
			continue
		}
		j := i
		for j < len(runes) && !isTerminator(runes[j]) {
			j++
		}
		for j < len(runes) && isTerminator(runes[j]) {
			j++
		}
		if j == i {
			break
		}
		if s := string(runes[i:j]); strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
		i = j
	}
	return out
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
