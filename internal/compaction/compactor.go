// Package compaction folds the latest exchange into a rolling conversation
// summary with a second model call.
package compaction

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/antoniostano/storai/internal/generation"
)

const (
	DefaultMaxTokens   = 300
	defaultTemperature = 0.5

	priorLabel   = "Previous Summary:"
	messageLabel = "User Message:"
	replyLabel   = "Assistant Reply:"

	instruction = "The following is a summary of the previous conversation and the latest exchange " +
		"between the user and agent. Please generate a concise summary geared for future chat " +
		"persistence containing as much relevant information from both as possible. Put extra " +
		"focus on remembering the user's name and personality type if they are offered"
)

var stopSequences = []string{"user:", "assistant:", "system:"}

type Compactor struct {
	gen       generation.Generator
	maxTokens int
}

func New(gen generation.Generator, maxTokens int) *Compactor {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Compactor{gen: gen, maxTokens: maxTokens}
}

// Compact returns the new summary. The prior summary and the exchange go out
// as one labelled user message after the instruction, so no provider sees a
// trailing assistant turn. A blank prior summary is left out. An empty model
// output is an error so callers keep the prior summary.
func (c *Compactor) Compact(ctx context.Context, prior, userMessage, reply string) (string, error) {
	msgs := []generation.Message{
		{Role: generation.RoleSystem, Content: instruction},
		{Role: generation.RoleUser, Content: exchange(prior, userMessage, reply)},
	}

	summary, err := c.gen.Generate(ctx, generation.Request{
		Messages:      msgs,
		MaxTokens:     c.maxTokens,
		Temperature:   generation.Temperature(defaultTemperature),
		StopSequences: stopSequences,
	})
	if err != nil {
		return "", goerr.Wrap(err, "summary generation failed")
	}

	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "", goerr.Wrap(generation.ErrEmptyResponse, "summary generation returned nothing")
	}
	return summary, nil
}

func exchange(prior, userMessage, reply string) string {
	var b strings.Builder
	if p := strings.TrimSpace(prior); p != "" {
		b.WriteString(priorLabel + " " + p + "\n")
	}
	b.WriteString(messageLabel + " " + strings.TrimSpace(userMessage) + "\n")
	b.WriteString(replyLabel + " " + strings.TrimSpace(reply))
	return b.String()
}
