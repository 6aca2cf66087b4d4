package generation

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m-mizutani/goerr/v2"
)

const defaultAnthropicModel = "claude-3-5-haiku-latest"

// AnthropicGenerator calls the Messages API.
type AnthropicGenerator struct {
	client anthropic.Client
	model  string
}

func NewAnthropicGenerator(apiKey, model string, opts ...option.RequestOption) (*AnthropicGenerator, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("anthropic API key is required")
	}
	if model == "" {
		model = defaultAnthropicModel
	}
	// Retries are handled by RetryGenerator so attempts show up in metrics.
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)
	return &AnthropicGenerator{
		client: anthropic.NewClient(opts...),
		model:  model,
	}, nil
}

func (g *AnthropicGenerator) Generate(ctx context.Context, req Request) (string, error) {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	system, turns := splitSystem(req.Messages)
	params := anthropic.MessageNewParams{
		Model:         anthropic.Model(g.model),
		MaxTokens:     maxTokens,
		Messages:      toAnthropicMessages(turns),
		StopSequences: req.StopSequences,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}

	resp, err := g.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			err = &StatusError{Provider: "anthropic", Code: apiErr.StatusCode, Err: err}
		}
		return "", goerr.Wrap(err, "anthropic message failed", goerr.V("model", g.model))
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", goerr.Wrap(ErrEmptyResponse, "anthropic returned no text", goerr.V("model", g.model))
	}
	return text, nil
}

// splitSystem pulls system messages out of the list; the Messages API takes
// them as a separate parameter.
func splitSystem(msgs []Message) (string, []Message) {
	var system []string
	turns := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		turns = append(turns, m)
	}
	return strings.Join(system, "\n\n"), turns
}

// toAnthropicMessages merges consecutive same-role messages so roles alternate.
func toAnthropicMessages(turns []Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	var lastRole Role
	var pending []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(pending) == 0 {
			return
		}
		if lastRole == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(pending...))
		} else {
			out = append(out, anthropic.NewUserMessage(pending...))
		}
		pending = nil
	}

	for _, m := range turns {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		if m.Role != lastRole {
			flush()
			lastRole = m.Role
		}
		pending = append(pending, anthropic.NewTextBlock(m.Content))
	}
	flush()
	return out
}
