package chat

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/m-mizutani/goerr/v2"
)

var (
	// ErrValidation marks input rejected before any external call.
	ErrValidation = errors.New("invalid chat input")
	// ErrGeneration marks a failed or empty model reply.
	ErrGeneration = errors.New("reply generation failed")
)

const (
	DefaultMaxWords = 50
	DefaultMaxChars = 400
)

// Limits bounds the size of a user message.
type Limits struct {
	MaxWords int
	MaxChars int
}

func (l Limits) withDefaults() Limits {
	if l.MaxWords <= 0 {
		l.MaxWords = DefaultMaxWords
	}
	if l.MaxChars <= 0 {
		l.MaxChars = DefaultMaxChars
	}
	return l
}

// Validate checks emptiness, word count and character count, in that order.
func (l Limits) Validate(message string) error {
	l = l.withDefaults()
	if strings.TrimSpace(message) == "" {
		return goerr.Wrap(ErrValidation, "query must not be empty")
	}
	if words := len(strings.Fields(message)); words > l.MaxWords {
		return goerr.Wrap(ErrValidation, "message must be at most the allowed number of words",
			goerr.V("words", words),
			goerr.V("max_words", l.MaxWords),
		)
	}
	if chars := utf8.RuneCountInString(message); chars > l.MaxChars {
		return goerr.Wrap(ErrValidation, "message is longer than the allowed number of characters",
			goerr.V("chars", chars),
			goerr.V("max_chars", l.MaxChars),
		)
	}
	return nil
}

func validateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return goerr.Wrap(ErrValidation, "user_id is required")
	}
	return nil
}
