package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestNewJSONMasksSecrets(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&buf, "debug", "json")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	type settings struct {
		ChatKey string
		Model   string
	}
	l.Info("loaded", "settings", settings{ChatKey: "c2VjcmV0LWtleQ==", Model: "gpt-3.5-turbo"})

	out := buf.String()
	if strings.Contains(out, "c2VjcmV0LWtleQ==") {
		t.Fatalf("log output leaked secret: %s", out)
	}
	if !strings.Contains(out, "gpt-3.5-turbo") {
		t.Fatalf("log output missing non-secret field: %s", out)
	}
}

func TestNewRejectsUnknownFormatAndLevel(t *testing.T) {
	if _, err := New(&bytes.Buffer{}, "info", "xml"); err == nil {
		t.Fatalf("New() expected error for unknown format")
	}
	if _, err := New(&bytes.Buffer{}, "loud", "json"); err == nil {
		t.Fatalf("New() expected error for unknown level")
	}
}

func TestFromFallsBackToDefault(t *testing.T) {
	if From(context.Background()) == nil {
		t.Fatalf("From() returned nil logger")
	}

	var buf bytes.Buffer
	l, err := New(&buf, "info", "json")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := With(context.Background(), l)
	From(ctx).Info("hello")
	if !strings.Contains(buf.String(), "hello") {
		t.Fatalf("From(ctx) did not return the stored logger")
	}
}
