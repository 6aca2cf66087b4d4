package retrieval

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/antoniostano/storai/internal/observability"
	"github.com/antoniostano/storai/internal/persona"
)

func newTestIndex(t *testing.T) *ChromemIndex {
	t.Helper()
	idx, err := NewChromemIndex("", NewHashEmbedder(128))
	gt.NoError(t, err).Required()
	return idx
}

func TestChromemIndexSearchIsPersonaScoped(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	gt.NoError(t, idx.Add(ctx, persona.General, []Document{
		{ID: "dogs", Content: "Dogs are loyal animals. Dogs love long walks."},
		{ID: "space", Content: "Rockets reach orbit with staged engines."},
	})).Required()
	gt.NoError(t, idx.Add(ctx, persona.MyersBriggs, []Document{
		{ID: "intj", Content: "INTJ types plan ahead and value competence."},
	})).Required()

	docs, err := idx.Search(ctx, "dogs walks", persona.General, 4)
	gt.NoError(t, err).Required()
	// k is clamped to the collection size
	gt.Array(t, docs).Length(2)
	gt.Value(t, docs[0].ID).Equal("dogs")
	gt.Value(t, docs[0].Rank).Equal(0)
	gt.Value(t, docs[1].Rank).Equal(1)

	docs, err = idx.Search(ctx, "dogs walks", persona.MyersBriggs, 4)
	gt.NoError(t, err).Required()
	gt.Array(t, docs).Length(1)
	gt.Value(t, docs[0].ID).Equal("intj")
}

func TestChromemIndexMissingCollection(t *testing.T) {
	idx := newTestIndex(t)
	docs, err := idx.Search(context.Background(), "anything", persona.General, 4)
	gt.NoError(t, err).Required()
	gt.Array(t, docs).Length(0)
	gt.Value(t, idx.Count(persona.General)).Equal(0)
}

func TestChromemIndexPersistent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	idx, err := NewChromemIndex(dir, NewHashEmbedder(64))
	gt.NoError(t, err).Required()
	gt.NoError(t, idx.Add(ctx, persona.General, []Document{{ID: "a", Content: "cats purr softly"}})).Required()

	reopened, err := NewChromemIndex(dir, NewHashEmbedder(64))
	gt.NoError(t, err).Required()
	gt.Value(t, reopened.Count(persona.General)).Equal(1)
}

type countingEmbedder struct {
	calls atomic.Int32
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	return []float32{1, 0}, nil
}

func TestCachedEmbedderReusesVectors(t *testing.T) {
	inner := &countingEmbedder{}
	cached, err := NewCachedEmbedder(inner, 16)
	gt.NoError(t, err).Required()
	defer cached.Close()

	_, err = cached.Embed(context.Background(), "hello")
	gt.NoError(t, err).Required()
	cached.Wait()
	_, err = cached.Embed(context.Background(), "hello")
	gt.NoError(t, err).Required()

	gt.Value(t, inner.calls.Load()).Equal(int32(1))
}

func TestCachedEmbedderPassesThroughAfterClose(t *testing.T) {
	inner := &countingEmbedder{}
	cached, err := NewCachedEmbedder(inner, 16)
	gt.NoError(t, err).Required()

	cached.Close()
	cached.Close()
	gt.Bool(t, cached.Closed()).True()

	for i := 0; i < 2; i++ {
		_, err = cached.Embed(context.Background(), "hello")
		gt.NoError(t, err).Required()
	}
	gt.Value(t, inner.calls.Load()).Equal(int32(2))
}

func TestHashEmbedderIsNormalized(t *testing.T) {
	vec, err := NewHashEmbedder(32).Embed(context.Background(), "Dogs, dogs and cats!")
	gt.NoError(t, err).Required()
	var sum float32
	for _, v := range vec {
		sum += v * v
	}
	gt.Bool(t, sum > 0.999 && sum < 1.001).True()

	blank, err := NewHashEmbedder(32).Embed(context.Background(), "   ")
	gt.NoError(t, err).Required()
	gt.Value(t, blank[0]).Equal(float32(1))
}

type fakeRetriever struct {
	docs  []Document
	err   error
	block bool
	gotK  int
}

func (f *fakeRetriever) Search(ctx context.Context, query string, p persona.Persona, k int) ([]Document, error) {
	f.gotK = k
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.docs, f.err
}

func TestBuilderJoinsPassagesInRankOrder(t *testing.T) {
	r := &fakeRetriever{docs: []Document{
		{ID: "1", Content: "Dogs bark loudly. Fish swim.", Rank: 0},
		{ID: "2", Content: "Cats ignore dogs.", Rank: 1},
	}}
	b := NewBuilder(r, WithTopK(2))

	got := b.Build(context.Background(), "dogs", persona.General)
	gt.Value(t, got).Equal("Dogs bark loudly.\n\nCats ignore dogs.")
	gt.Value(t, r.gotK).Equal(2)
}

func TestBuilderRespectsPassageBudget(t *testing.T) {
	long := strings.Repeat("Dogs run fast every single day. ", 40)
	b := NewBuilder(&fakeRetriever{docs: []Document{{Content: long}}}, WithMaxChars(60))
	got := b.Build(context.Background(), "dogs", persona.General)
	gt.Bool(t, len([]rune(got)) <= 60).True()
	gt.String(t, got).NotEqual("")
}

func TestBuilderDegradesOnFailure(t *testing.T) {
	m := observability.NewMetrics("test")

	got := NewBuilder(&fakeRetriever{err: errors.New("index down")}, WithMetrics(m)).
		Build(context.Background(), "dogs", persona.General)
	gt.Value(t, got).Equal("")

	got = NewBuilder(&fakeRetriever{block: true}, WithTimeout(10*time.Millisecond), WithMetrics(m)).
		Build(context.Background(), "dogs", persona.General)
	gt.Value(t, got).Equal("")

	got = NewBuilder(&fakeRetriever{}, WithMetrics(m)).
		Build(context.Background(), "dogs", persona.General)
	gt.Value(t, got).Equal("")

	var nilBuilder *Builder
	gt.Value(t, nilBuilder.Build(context.Background(), "dogs", persona.General)).Equal("")
}
