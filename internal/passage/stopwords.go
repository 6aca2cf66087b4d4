// Package passage turns retrieved documents into short query-relevant excerpts.
package passage

import (
	"iter"
	"strings"
)

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`
		i me my myself we our ours ourselves you your yours yourself yourselves
		he him his himself she her hers herself it its itself they them their
		theirs themselves what which who whom this that these those am is are
		was were be been being have has had having do does did doing a an the
		and but if or because as until while of at by for with about against
		between into through during before after above below to from up down
		in out on off over under again further then once here there when where
		why how all any both each few more most other some such no nor not only
		own same so than too very s t can will just don should now`) {
		stopWords[w] = struct{}{}
	}
}

// IsStopWord reports whether the lowercase token is in the fixed functional-word set.
func IsStopWord(token string) bool {
	_, ok := stopWords[token]
	return ok
}

// Tokens yields the lowercase whitespace-delimited tokens of text with stop
// words removed. Punctuation stays attached to its token.
func Tokens(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, w := range strings.Fields(strings.ToLower(text)) {
			if IsStopWord(w) {
				continue
			}
			if !yield(w) {
				return
			}
		}
	}
}
