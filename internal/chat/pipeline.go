// Package chat orchestrates one conversation turn: persona routing, memory,
// retrieval, generation and background summary compaction.
package chat

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/antoniostano/storai/internal/generation"
	"github.com/antoniostano/storai/internal/logging"
	"github.com/antoniostano/storai/internal/observability"
	"github.com/antoniostano/storai/internal/persona"
	"github.com/antoniostano/storai/internal/policy"
)

const (
	DefaultMaxTokens         = 700
	DefaultGenerationTimeout = 30 * time.Second
	DefaultCompactionTimeout = 30 * time.Second

	previewRunes = 80
)

// MemoryStore holds the encrypted per-persona summaries and the turn counter.
type MemoryStore interface {
	Load(ctx context.Context, userID string, p persona.Persona) string
	Save(ctx context.Context, userID string, p persona.Persona, summary string) error
	Purge(ctx context.Context, userID string) error
	RecordTurn(ctx context.Context, userID string) error
	ChatCount(ctx context.Context, userID string) (int, error)
}

// ContextBuilder produces the context block for a query. It never fails.
type ContextBuilder interface {
	Build(ctx context.Context, query string, p persona.Persona) string
}

type Compactor interface {
	Compact(ctx context.Context, prior, userMessage, reply string) (string, error)
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Memory    MemoryStore
	Context   ContextBuilder
	Generator generation.Generator
	Compactor Compactor
	Metrics   *observability.Metrics
}

type Config struct {
	Limits            Limits
	MaxTokens         int
	GenerationTimeout time.Duration
	CompactionTimeout time.Duration
}

// Reply is the result of a completed turn.
type Reply struct {
	Text   string `json:"reply"`
	TurnID string `json:"turn_id"`
}

// Stats reports usage counters of a user.
type Stats struct {
	UserID   string `json:"user_id"`
	NumChats int    `json:"num_chats"`
}

type Pipeline struct {
	memory     MemoryStore
	context    ContextBuilder
	gen        generation.Generator
	compactor  Compactor
	metrics    *observability.Metrics
	cfg        Config
	dispatcher *Dispatcher
	gate       *compactionGate
}

func NewPipeline(deps Deps, cfg Config) *Pipeline {
	cfg.Limits = cfg.Limits.withDefaults()
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = DefaultGenerationTimeout
	}
	if cfg.CompactionTimeout <= 0 {
		cfg.CompactionTimeout = DefaultCompactionTimeout
	}
	return &Pipeline{
		memory:     deps.Memory,
		context:    deps.Context,
		gen:        deps.Generator,
		compactor:  deps.Compactor,
		metrics:    deps.Metrics,
		cfg:        cfg,
		dispatcher: NewDispatcher(),
		gate:       newCompactionGate(),
	}
}

// Introduce generates the opening message of a session: a cold-start
// introduction when the user has no summary for the persona, otherwise a
// welcome back that recalls the summary.
func (p *Pipeline) Introduce(ctx context.Context, userID, personaName string) (string, error) {
	started := time.Now()
	if err := validateUserID(userID); err != nil {
		p.metrics.ObserveTurn("introduce", "unknown", "invalid")
		return "", err
	}
	per, prof, err := resolve(personaName)
	if err != nil {
		p.metrics.ObserveTurn("introduce", "unknown", "invalid")
		return "", err
	}
	ctx = logging.With(ctx, logging.From(ctx).With("user_id", userID, "persona", per.String()))

	summary := p.loadSummary(ctx, userID, per)
	prompt, err := prof.IntroductionPrompt(summary)
	if err != nil {
		p.metrics.ObserveTurn("introduce", per.String(), "error")
		return "", err
	}

	reply, err := p.generate(ctx, prompt)
	if err != nil {
		p.metrics.ObserveTurn("introduce", per.String(), "generation_failed")
		return "", err
	}

	p.metrics.ObserveTurn("introduce", per.String(), "ok")
	logging.From(ctx).Info("introduction generated",
		"returning", summary != "",
		"latency_ms", time.Since(started).Milliseconds(),
	)
	return reply, nil
}

// Converse answers one user message. The reply is returned as soon as it is
// generated; the summary update and turn counter run in the background.
func (p *Pipeline) Converse(ctx context.Context, userID, personaName, message string) (Reply, error) {
	started := time.Now()
	if err := validateUserID(userID); err != nil {
		p.metrics.ObserveTurn("converse", "unknown", "invalid")
		return Reply{}, err
	}
	if err := p.cfg.Limits.Validate(message); err != nil {
		p.metrics.ObserveTurn("converse", "unknown", "invalid")
		return Reply{}, err
	}
	per, prof, err := resolve(personaName)
	if err != nil {
		p.metrics.ObserveTurn("converse", "unknown", "invalid")
		return Reply{}, err
	}

	turnID := uuid.NewString()
	ctx = logging.With(ctx, logging.From(ctx).With(
		"user_id", userID,
		"persona", per.String(),
		"turn_id", turnID,
	))
	logging.From(ctx).Debug("turn started", "message", policy.Preview(message, previewRunes))

	summary := p.loadSummary(ctx, userID, per)
	block := p.context.Build(ctx, message, per)

	prompt, err := prof.TurnPrompt(persona.TurnInput{
		Summary: summary,
		Query:   message,
		Context: block,
	})
	if err != nil {
		p.metrics.ObserveTurn("converse", per.String(), "error")
		return Reply{}, err
	}

	reply, err := p.generate(ctx, prompt)
	if err != nil {
		p.metrics.ObserveTurn("converse", per.String(), "generation_failed")
		return Reply{}, err
	}

	release := p.gate.begin(gateKey(userID, per.String()))
	p.dispatcher.Dispatch(ctx, p.cfg.CompactionTimeout, func(ctx context.Context) error {
		defer release()
		return p.finishTurn(ctx, userID, per, summary, message, reply)
	})

	p.metrics.ObserveTurn("converse", per.String(), "ok")
	p.metrics.ObserveStage(observability.StageTurnTotal, time.Since(started))
	logging.From(ctx).Info("turn completed",
		"context_chars", len(block),
		"latency_ms", time.Since(started).Milliseconds(),
	)
	return Reply{Text: reply, TurnID: turnID}, nil
}

// Purge deletes every summary of the user and resets the turn counter.
func (p *Pipeline) Purge(ctx context.Context, userID string) error {
	if err := validateUserID(userID); err != nil {
		return err
	}
	if err := p.memory.Purge(ctx, userID); err != nil {
		return err
	}
	logging.From(ctx).Info("chat data purged", "user_id", userID)
	return nil
}

func (p *Pipeline) Stats(ctx context.Context, userID string) (Stats, error) {
	if err := validateUserID(userID); err != nil {
		return Stats{}, err
	}
	n, err := p.memory.ChatCount(ctx, userID)
	if err != nil {
		return Stats{}, goerr.Wrap(err, "read chat count", goerr.V("user_id", userID))
	}
	return Stats{UserID: userID, NumChats: n}, nil
}

// Close waits for background compactions to finish.
func (p *Pipeline) Close(ctx context.Context) error {
	return p.dispatcher.Close(ctx)
}

func resolve(personaName string) (persona.Persona, persona.Profile, error) {
	per, err := persona.Parse(personaName)
	if err != nil {
		return "", persona.Profile{}, err
	}
	prof, err := persona.For(per)
	if err != nil {
		return "", persona.Profile{}, err
	}
	return per, prof, nil
}

// loadSummary reads the stored summary once any compaction still running for
// the same user and persona has finished, bounded by the compaction timeout.
func (p *Pipeline) loadSummary(ctx context.Context, userID string, per persona.Persona) string {
	started := time.Now()
	defer func() { p.metrics.ObserveStage(observability.StageMemoryLoad, time.Since(started)) }()
	if !p.gate.wait(ctx, gateKey(userID, per.String()), p.cfg.CompactionTimeout) {
		logging.From(ctx).Warn("pending compaction not finished, reading previous summary")
	}
	return p.memory.Load(ctx, userID, per)
}

func (p *Pipeline) generate(ctx context.Context, prompt string) (string, error) {
	started := time.Now()
	defer func() { p.metrics.ObserveStage(observability.StageGeneration, time.Since(started)) }()

	genCtx, cancel := context.WithTimeout(ctx, p.cfg.GenerationTimeout)
	defer cancel()

	reply, err := p.gen.Generate(genCtx, generation.Request{
		Messages:  []generation.Message{{Role: generation.RoleUser, Content: prompt}},
		MaxTokens: p.cfg.MaxTokens,
	})
	if err != nil {
		logging.From(ctx).Error("generation failed", "error", err)
		return "", goerr.Wrap(ErrGeneration, "model call failed", goerr.V("cause", err.Error()))
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", goerr.Wrap(ErrGeneration, "model returned an empty reply")
	}
	return reply, nil
}

// finishTurn counts the completed turn and folds it into the stored summary.
// On compaction failure the prior summary is left untouched.
func (p *Pipeline) finishTurn(ctx context.Context, userID string, per persona.Persona, prior, message, reply string) error {
	if err := p.memory.RecordTurn(ctx, userID); err != nil {
		logging.From(ctx).Warn("failed to increment chat counter", "error", err)
	}

	started := time.Now()
	summary, err := p.compactor.Compact(ctx, prior, message, reply)
	p.metrics.ObserveStage(observability.StageCompaction, time.Since(started))
	if err != nil {
		p.metrics.ObserveCompaction("failed")
		return goerr.Wrap(err, "compact summary", goerr.V("user_id", userID), goerr.V("persona", per.String()))
	}

	if err := p.memory.Save(ctx, userID, per, summary); err != nil {
		p.metrics.ObserveCompaction("save_failed")
		return goerr.Wrap(err, "save summary", goerr.V("user_id", userID), goerr.V("persona", per.String()))
	}
	p.metrics.ObserveCompaction("ok")
	return nil
}
