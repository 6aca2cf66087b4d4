package chat

import (
	"context"
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/antoniostano/storai/internal/cipher"
	"github.com/antoniostano/storai/internal/generation"
	"github.com/antoniostano/storai/internal/memory"
	"github.com/antoniostano/storai/internal/persona"
)

type scriptedGenerator struct {
	mu      sync.Mutex
	prompts []string
	reply   func(prompt string) (string, error)
}

func (g *scriptedGenerator) Generate(ctx context.Context, req generation.Request) (string, error) {
	prompt := req.Messages[len(req.Messages)-1].Content
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	if g.reply == nil {
		return "ok", nil
	}
	return g.reply(prompt)
}

func (g *scriptedGenerator) calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.prompts...)
}

type fixedContext struct {
	block string
	calls atomic.Int32
}

func (f *fixedContext) Build(ctx context.Context, query string, p persona.Persona) string {
	f.calls.Add(1)
	return f.block
}

type fakeCompactor struct {
	mu     sync.Mutex
	priors []string
	fn     func(prior, message, reply string) (string, error)
}

func (c *fakeCompactor) Compact(ctx context.Context, prior, message, reply string) (string, error) {
	c.mu.Lock()
	c.priors = append(c.priors, prior)
	c.mu.Unlock()
	if c.fn == nil {
		return prior + "|" + message, nil
	}
	return c.fn(prior, message, reply)
}

type harness struct {
	pipeline  *Pipeline
	store     *memory.Store
	repo      *memory.InMemoryRepository
	gen       *scriptedGenerator
	context   *fixedContext
	compactor *fakeCompactor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	key := make([]byte, cipher.KeySize)
	_, err := rand.Read(key)
	gt.NoError(t, err).Required()
	c, err := cipher.New(key)
	gt.NoError(t, err).Required()

	repo := memory.NewInMemoryRepository()
	h := &harness{
		store:     memory.NewStore(repo, c, nil),
		repo:      repo,
		gen:       &scriptedGenerator{},
		context:   &fixedContext{},
		compactor: &fakeCompactor{},
	}
	h.pipeline = NewPipeline(Deps{
		Memory:    h.store,
		Context:   h.context,
		Generator: h.gen,
		Compactor: h.compactor,
	}, Config{GenerationTimeout: time.Second, CompactionTimeout: time.Second})
	return h
}

func (h *harness) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	gt.NoError(t, h.pipeline.dispatcher.Wait(ctx)).Required()
}

func TestIntroduceColdStart(t *testing.T) {
	h := newHarness(t)
	h.gen.reply = func(string) (string, error) { return "Hi, I help with personality types.", nil }

	reply, err := h.pipeline.Introduce(context.Background(), "user-1", "myers-briggs")
	gt.NoError(t, err).Required()
	gt.Value(t, reply).Equal("Hi, I help with personality types.")

	prof, err := persona.For(persona.MyersBriggs)
	gt.NoError(t, err).Required()
	prompts := h.gen.calls()
	gt.Array(t, prompts).Length(1)
	gt.Value(t, prompts[0]).Equal(prof.ColdStart)
}

func TestIntroduceWelcomesBack(t *testing.T) {
	h := newHarness(t)
	gt.NoError(t, h.store.Save(context.Background(), "user-1", persona.General, "User Sam is building a bakery.")).Required()

	_, err := h.pipeline.Introduce(context.Background(), "user-1", "general")
	gt.NoError(t, err).Required()

	prompts := h.gen.calls()
	gt.Array(t, prompts).Length(1)
	gt.String(t, prompts[0]).Contains("Welcome the user back")
	gt.String(t, prompts[0]).Contains("User Sam is building a bakery.")
}

func TestIntroduceRejectsUnknownPersona(t *testing.T) {
	h := newHarness(t)
	_, err := h.pipeline.Introduce(context.Background(), "user-1", "astrology")
	gt.Error(t, err).Is(persona.ErrInvalidPersona)
	gt.Array(t, h.gen.calls()).Length(0)
}

func TestConverseSummaryCarriesAcrossTurns(t *testing.T) {
	h := newHarness(t)
	h.gen.reply = func(prompt string) (string, error) { return "noted", nil }
	h.compactor.fn = func(prior, message, reply string) (string, error) {
		if prior == "" {
			return "User is an INTJ.", nil
		}
		return prior + " User asked about careers.", nil
	}
	ctx := context.Background()

	first, err := h.pipeline.Converse(ctx, "user-1", "myers-briggs", "I am an INTJ")
	gt.NoError(t, err).Required()
	gt.Value(t, first.Text).Equal("noted")
	gt.String(t, first.TurnID).NotEqual("")
	h.drain(t)

	gt.Value(t, h.store.Load(ctx, "user-1", persona.MyersBriggs)).Equal("User is an INTJ.")

	second, err := h.pipeline.Converse(ctx, "user-1", "myers-briggs", "What careers suit me?")
	gt.NoError(t, err).Required()
	gt.Value(t, second.TurnID).NotEqual(first.TurnID)
	h.drain(t)

	prompts := h.gen.calls()
	gt.Array(t, prompts).Length(2)
	gt.String(t, prompts[1]).Contains("Summary of Conversations: User is an INTJ.")
	gt.String(t, prompts[1]).Contains("Current Query: What careers suit me?")

	gt.Value(t, h.store.Load(ctx, "user-1", persona.MyersBriggs)).Equal("User is an INTJ. User asked about careers.")
	// the other persona's partition stays empty
	gt.Value(t, h.store.Load(ctx, "user-1", persona.General)).Equal("")

	stats, err := h.pipeline.Stats(ctx, "user-1")
	gt.NoError(t, err).Required()
	gt.Value(t, stats.NumChats).Equal(2)
}

func TestConverseNextTurnSeesPendingCompaction(t *testing.T) {
	h := newHarness(t)
	h.compactor.fn = func(prior, message, reply string) (string, error) {
		time.Sleep(50 * time.Millisecond)
		if prior == "" {
			return "User is an INTJ.", nil
		}
		return prior + " User asked about careers.", nil
	}
	ctx := context.Background()

	_, err := h.pipeline.Converse(ctx, "user-1", "myers-briggs", "I am an INTJ")
	gt.NoError(t, err).Required()
	_, err = h.pipeline.Converse(ctx, "user-1", "myers-briggs", "What careers suit me?")
	gt.NoError(t, err).Required()

	prompts := h.gen.calls()
	gt.Array(t, prompts).Length(2)
	gt.String(t, prompts[1]).Contains("Summary of Conversations: User is an INTJ.")

	h.drain(t)
	gt.Value(t, h.store.Load(ctx, "user-1", persona.MyersBriggs)).Equal("User is an INTJ. User asked about careers.")
}

func TestIntroduceSeesPendingCompaction(t *testing.T) {
	h := newHarness(t)
	h.compactor.fn = func(prior, message, reply string) (string, error) {
		time.Sleep(50 * time.Millisecond)
		return "User Sam is building a bakery.", nil
	}
	ctx := context.Background()

	_, err := h.pipeline.Converse(ctx, "user-1", "general", "I am opening a bakery")
	gt.NoError(t, err).Required()
	_, err = h.pipeline.Introduce(ctx, "user-1", "general")
	gt.NoError(t, err).Required()

	prompts := h.gen.calls()
	gt.Array(t, prompts).Length(2)
	gt.String(t, prompts[1]).Contains("User Sam is building a bakery.")
}

func TestConverseOtherPersonaDoesNotWaitForCompaction(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	h.compactor.fn = func(prior, message, reply string) (string, error) {
		<-release
		return "slow", nil
	}
	defer func() {
		close(release)
		h.drain(t)
	}()
	ctx := context.Background()

	_, err := h.pipeline.Converse(ctx, "user-1", "general", "hello")
	gt.NoError(t, err).Required()

	started := time.Now()
	_, err = h.pipeline.Converse(ctx, "user-1", "myers-briggs", "hello")
	gt.NoError(t, err).Required()
	gt.Bool(t, time.Since(started) < 500*time.Millisecond).True()
}

func TestConverseRejectsOversizeMessageBeforeAnyCall(t *testing.T) {
	h := newHarness(t)
	cases := map[string]string{
		"empty":     "   ",
		"too long":  strings.Repeat("a", 401),
		"too wordy": strings.TrimSpace(strings.Repeat("word ", 51)),
	}
	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.pipeline.Converse(context.Background(), "user-1", "general", msg)
			gt.Error(t, err).Is(ErrValidation)
		})
	}
	h.drain(t)

	gt.Array(t, h.gen.calls()).Length(0)
	gt.Value(t, h.context.calls.Load()).Equal(int32(0))
	n, err := h.repo.ChatCount(context.Background(), "user-1")
	gt.NoError(t, err).Required()
	gt.Value(t, n).Equal(0)
}

func TestConverseAcceptsBoundaryMessage(t *testing.T) {
	h := newHarness(t)
	_, err := h.pipeline.Converse(context.Background(), "user-1", "general", strings.Repeat("a", 400))
	gt.NoError(t, err).Required()
	h.drain(t)
}

func TestConverseRequiresUserID(t *testing.T) {
	h := newHarness(t)
	_, err := h.pipeline.Converse(context.Background(), " ", "general", "hello")
	gt.Error(t, err).Is(ErrValidation)
}

func TestConverseUsesPlaceholderWithoutContext(t *testing.T) {
	h := newHarness(t)
	_, err := h.pipeline.Converse(context.Background(), "user-1", "general", "How do I find investors?")
	gt.NoError(t, err).Required()
	h.drain(t)

	prompts := h.gen.calls()
	gt.Array(t, prompts).Length(1)
	gt.String(t, prompts[0]).Contains("Context Information: No relevant documents found.")
}

func TestConverseIncludesContextBlock(t *testing.T) {
	h := newHarness(t)
	h.context.block = "Dogs are mammals too."
	_, err := h.pipeline.Converse(context.Background(), "user-1", "general", "tell me about dogs")
	gt.NoError(t, err).Required()
	h.drain(t)

	gt.String(t, h.gen.calls()[0]).Contains("Context Information: Dogs are mammals too.")
}

func TestConverseGenerationFailureSavesNothing(t *testing.T) {
	h := newHarness(t)
	h.gen.reply = func(string) (string, error) { return "", errors.New("upstream down") }

	_, err := h.pipeline.Converse(context.Background(), "user-1", "general", "hello there")
	gt.Error(t, err).Is(ErrGeneration)
	h.drain(t)

	gt.Value(t, h.store.Load(context.Background(), "user-1", persona.General)).Equal("")
	h.compactor.mu.Lock()
	defer h.compactor.mu.Unlock()
	gt.Array(t, h.compactor.priors).Length(0)
}

func TestConverseEmptyReplyIsGenerationFailure(t *testing.T) {
	h := newHarness(t)
	h.gen.reply = func(string) (string, error) { return "  ", nil }
	_, err := h.pipeline.Converse(context.Background(), "user-1", "general", "hello there")
	gt.Error(t, err).Is(ErrGeneration)
}

func TestConverseGenerationTimeout(t *testing.T) {
	h := newHarness(t)
	h.pipeline.cfg.GenerationTimeout = 20 * time.Millisecond
	h.pipeline.gen = generatorFunc(func(ctx context.Context, req generation.Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	_, err := h.pipeline.Converse(context.Background(), "user-1", "general", "hello there")
	gt.Error(t, err).Is(ErrGeneration)
}

func TestConverseCompactionFailureKeepsPriorSummary(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gt.NoError(t, h.store.Save(ctx, "user-1", persona.General, "prior summary")).Required()
	h.compactor.fn = func(prior, message, reply string) (string, error) {
		return "", errors.New("summarizer down")
	}

	reply, err := h.pipeline.Converse(ctx, "user-1", "general", "hello there")
	gt.NoError(t, err).Required()
	gt.String(t, reply.Text).NotEqual("")
	h.drain(t)

	gt.Value(t, h.store.Load(ctx, "user-1", persona.General)).Equal("prior summary")
}

func TestPurgeClearsEveryPersona(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, p := range persona.All() {
		_, err := h.pipeline.Converse(ctx, "user-1", p.String(), "remember me")
		gt.NoError(t, err).Required()
	}
	h.drain(t)

	gt.NoError(t, h.pipeline.Purge(ctx, "user-1")).Required()
	for _, p := range persona.All() {
		gt.Value(t, h.store.Load(ctx, "user-1", p)).Equal("")
	}
	stats, err := h.pipeline.Stats(ctx, "user-1")
	gt.NoError(t, err).Required()
	gt.Value(t, stats.NumChats).Equal(0)

	// introduction after purge is a cold start again
	_, err = h.pipeline.Introduce(ctx, "user-1", "general")
	gt.NoError(t, err).Required()
	prof, err := persona.For(persona.General)
	gt.NoError(t, err).Required()
	prompts := h.gen.calls()
	gt.Value(t, prompts[len(prompts)-1]).Equal(prof.ColdStart)
}

func TestCloseWaitsForCompaction(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	h.compactor.fn = func(prior, message, reply string) (string, error) {
		<-release
		return "done", nil
	}

	_, err := h.pipeline.Converse(context.Background(), "user-1", "general", "hello there")
	gt.NoError(t, err).Required()

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	gt.Error(t, h.pipeline.Close(short)).Is(context.DeadlineExceeded)

	close(release)
	gt.NoError(t, h.pipeline.Close(context.Background())).Required()
	gt.Value(t, h.store.Load(context.Background(), "user-1", persona.General)).Equal("done")
}

type generatorFunc func(ctx context.Context, req generation.Request) (string, error)

func (f generatorFunc) Generate(ctx context.Context, req generation.Request) (string, error) {
	return f(ctx, req)
}
