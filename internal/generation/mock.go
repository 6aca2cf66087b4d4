package generation

import (
	"context"
	"fmt"
	"strings"
)

// queryMarkers label the user's own words in turn and summary prompts.
var queryMarkers = []string{"Current Query:", "User Message:"}

// MockGenerator provides deterministic local replies when no provider is configured.
type MockGenerator struct{}

func NewMockGenerator() *MockGenerator { return &MockGenerator{} }

func (g *MockGenerator) Generate(ctx context.Context, req Request) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	var lastUser string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser && strings.TrimSpace(req.Messages[i].Content) != "" {
			lastUser = req.Messages[i].Content
			break
		}
	}
	if q := findQuery(lastUser); q != "" {
		return fmt.Sprintf("I heard you: %s", q), nil
	}
	if strings.TrimSpace(lastUser) != "" && len(req.Messages) > 1 {
		return fmt.Sprintf("I heard you: %s", strings.TrimSpace(lastUser)), nil
	}
	return "Hello! I am your StorAI assistant. What would you like to talk about?", nil
}

func findQuery(prompt string) string {
	for _, line := range strings.Split(prompt, "\n") {
		line = strings.TrimSpace(line)
		for _, marker := range queryMarkers {
			if rest, ok := strings.CutPrefix(line, marker); ok {
				return strings.TrimSpace(rest)
			}
		}
	}
	return ""
}
