// Package retrieval finds documents related to a query in the persona's
// corpus and condenses them into a context block for the prompt.
package retrieval

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/antoniostano/storai/internal/logging"
	"github.com/antoniostano/storai/internal/observability"
	"github.com/antoniostano/storai/internal/passage"
	"github.com/antoniostano/storai/internal/persona"
)

const (
	DefaultTopK    = 4
	DefaultTimeout = 5 * time.Second
)

// Document is one retrieved corpus entry; Rank 0 is the most similar.
type Document struct {
	ID      string
	Content string
	Rank    int
}

// Retriever searches a persona-scoped corpus.
type Retriever interface {
	Search(ctx context.Context, query string, p persona.Persona, k int) ([]Document, error)
}

// Builder turns a query into a context block. Retrieval failures never fail
// the caller; they degrade to an empty block.
type Builder struct {
	retriever Retriever
	topK      int
	timeout   time.Duration
	maxChars  int
	metrics   *observability.Metrics
}

type BuilderOption func(*Builder)

func WithTopK(k int) BuilderOption {
	return func(b *Builder) {
		if k > 0 {
			b.topK = k
		}
	}
}

func WithTimeout(d time.Duration) BuilderOption {
	return func(b *Builder) {
		if d > 0 {
			b.timeout = d
		}
	}
}

func WithMaxChars(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.maxChars = n
		}
	}
}

func WithMetrics(m *observability.Metrics) BuilderOption {
	return func(b *Builder) { b.metrics = m }
}

func NewBuilder(r Retriever, opts ...BuilderOption) *Builder {
	b := &Builder{
		retriever: r,
		topK:      DefaultTopK,
		timeout:   DefaultTimeout,
		maxChars:  passage.DefaultMaxChars,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build retrieves the top documents for query and joins their extracted
// passages, in rank order, with blank lines.
func (b *Builder) Build(ctx context.Context, query string, p persona.Persona) string {
	if b == nil || b.retriever == nil {
		return ""
	}
	started := time.Now()
	defer func() { b.metrics.ObserveStage(observability.StageRetrieval, time.Since(started)) }()

	searchCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	docs, err := b.retriever.Search(searchCtx, query, p, b.topK)
	if err != nil {
		reason := "error"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(searchCtx.Err(), context.DeadlineExceeded) {
			reason = "timeout"
		}
		b.metrics.ObserveRetrievalFallback(reason)
		logging.From(ctx).Warn("retrieval unavailable, continuing without context",
			"persona", p.String(),
			"reason", reason,
			"error", err,
		)
		return ""
	}
	if len(docs) == 0 {
		b.metrics.ObserveRetrievalFallback("empty")
		return ""
	}

	passages := make([]string, len(docs))
	var eg errgroup.Group
	for i, d := range docs {
		eg.Go(func() error {
			passages[i] = passage.Extract(d.Content, query, b.maxChars)
			return nil
		})
	}
	_ = eg.Wait()

	kept := passages[:0]
	for _, s := range passages {
		if s != "" {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, "\n\n")
}
