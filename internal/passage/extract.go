package passage

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

const (
	// DefaultMaxChars is the per-document excerpt budget.
	DefaultMaxChars = 500

	ellipsis = "..."
)

type scoredSentence struct {
	text  []rune
	score float64
}

// Extract returns the sentences of text most relevant to query, best first,
// bounded to maxChars runes. Sentences are weighted by term frequency times
// ln((sentenceCount+1)/documentFrequency). When no sentence matches the query
// the whole document is used in original order so callers still get content.
func Extract(text, query string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if strings.TrimSpace(text) == "" || strings.TrimSpace(query) == "" {
		return ""
	}

	sentences := Sentences(text)
	if len(sentences) == 0 {
		return ""
	}

	docFreq := make(map[string]int)
	for tok := range Tokens(text) {
		docFreq[tok]++
	}

	var queryTokens []string
	for tok := range Tokens(query) {
		if docFreq[tok] > 0 {
			queryTokens = append(queryTokens, tok)
		}
	}

	scored := make([]scoredSentence, len(sentences))
	for i, s := range sentences {
		scored[i] = scoredSentence{
			text:  []rune(s),
			score: scoreSentence(s, queryTokens, docFreq, len(sentences)),
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	var relevant []scoredSentence
	for _, s := range scored {
		if s.score > 0 {
			relevant = append(relevant, s)
		}
	}
	if len(relevant) == 0 {
		relevant = scored
	}

	return fill(relevant, maxChars)
}

func scoreSentence(sentence string, queryTokens []string, docFreq map[string]int, sentenceCount int) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	words := strings.Fields(strings.ToLower(sentence))
	var score float64
	for _, tok := range queryTokens {
		tf := 0
		for _, w := range words {
			if w == tok {
				tf++
			}
		}
		if tf == 0 {
			continue
		}
		df := docFreq[tok]
		if df == 0 {
			df = 1
		}
		score += float64(tf) * math.Log(float64(sentenceCount+1)/float64(df))
	}
	return score
}

func fill(sentences []scoredSentence, maxChars int) string {
	ell := []rune(ellipsis)
	out := make([]rune, 0, maxChars)

	for _, s := range sentences {
		if len(out)+len(s.text) <= maxChars {
			out = append(out, s.text...)
			out = append(out, ' ')
			continue
		}

		if len(out) == 0 {
			// A single sentence larger than the whole budget. Leading
			// whitespace does not spend the budget.
			text := []rune(strings.TrimLeftFunc(string(s.text), unicode.IsSpace))
			if len(text) <= maxChars {
				return strings.TrimSpace(string(text))
			}
			cut := maxChars - len(ell)
			if cut < 0 {
				cut = 0
			}
			head := strings.TrimSpace(string(text[:cut]))
			if head == "" {
				return strings.TrimSpace(string(text[:maxChars]))
			}
			return head + ellipsis
		}

		spaceLeft := maxChars - len(out)
		if spaceLeft <= 0 {
			break
		}
		room := spaceLeft - len(ell)
		if room > 0 {
			snippet := s.text[:room]
			if idx := lastSpace(snippet); idx > -1 {
				if head := strings.TrimSpace(string(snippet[:idx])); head != "" {
					out = append(out, []rune(head+ellipsis)...)
				}
				break
			}
		}
		out = append(out, s.text[:spaceLeft]...)
		break
	}

	return strings.TrimSpace(string(out))
}

func lastSpace(rs []rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if unicode.IsSpace(rs[i]) {
			return i
		}
	}
	return -1
}
