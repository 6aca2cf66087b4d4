package generation

import (
	"context"
	"errors"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIGenerator calls the chat completions API.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

func NewOpenAIGenerator(apiKey, baseURL, model string) (*OpenAIGenerator, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai API key is required")
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT3Dot5Turbo
	}

	return &OpenAIGenerator{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}, nil
}

func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		}
	}

	creq := openai.ChatCompletionRequest{
		Model:     g.model,
		Messages:  msgs,
		MaxTokens: req.MaxTokens,
		Stop:      req.StopSequences,
	}
	if req.Temperature != nil {
		creq.Temperature = float32(*req.Temperature)
		creq.TopP = 1
	}

	resp, err := g.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return "", wrapOpenAIError(err, g.model)
	}
	if len(resp.Choices) == 0 {
		return "", goerr.Wrap(ErrEmptyResponse, "openai returned no choices", goerr.V("model", g.model))
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", goerr.Wrap(ErrEmptyResponse, "openai returned blank content", goerr.V("model", g.model))
	}
	return text, nil
}

func wrapOpenAIError(err error, model string) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		err = &StatusError{Provider: "openai", Code: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		err = &StatusError{Provider: "openai", Code: reqErr.HTTPStatusCode, Err: err}
	}
	return goerr.Wrap(err, "openai completion failed", goerr.V("model", model))
}
