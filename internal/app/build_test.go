package app

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/antoniostano/storai/internal/config"
	"github.com/antoniostano/storai/internal/persona"
	"github.com/antoniostano/storai/internal/retrieval"
)

func testConfig() config.Config {
	return config.Config{
		MetricsNamespace:      "test_app",
		ChatKey:               base64.StdEncoding.EncodeToString([]byte(strings.Repeat("z", 32))),
		GenerationProvider:    "mock",
		GenerationMaxTokens:   700,
		SummaryMaxTokens:      300,
		EmbeddingCacheEntries: 64,
		RetrievalTopK:         4,
		PassageMaxChars:       500,
		MaxMessageWords:       50,
		MaxMessageChars:       400,
	}
}

func TestBuildServesChat(t *testing.T) {
	ctx := context.Background()
	res, err := Build(ctx, testConfig())
	gt.NoError(t, err).Required()
	defer func() { gt.NoError(t, res.Cleanup(ctx)) }()

	gt.NoError(t, res.Index.Add(ctx, persona.General, []retrieval.Document{
		{ID: "funding", Content: "Bootstrapping keeps control. Investors expect growth."},
	})).Required()

	ts := httptest.NewServer(res.API.Router())
	defer ts.Close()

	body := strings.NewReader(`{"user_id":"u1","persona":"general","message":"Should I talk to investors?"}`)
	resp, err := http.Post(ts.URL+"/v1/chat/converse", "application/json", body)
	gt.NoError(t, err).Required()
	defer resp.Body.Close()
	gt.Value(t, resp.StatusCode).Equal(http.StatusOK)
}

func TestCleanupReleasesEmbeddingCache(t *testing.T) {
	ctx := context.Background()
	res, err := Build(ctx, testConfig())
	gt.NoError(t, err).Required()
	gt.Bool(t, res.Embedder.Closed()).False()

	gt.NoError(t, res.Cleanup(ctx)).Required()
	gt.Bool(t, res.Embedder.Closed()).True()
}

func TestBuildRejectsBadKey(t *testing.T) {
	cfg := testConfig()
	cfg.ChatKey = "not base64!"
	_, err := Build(context.Background(), cfg)
	gt.Value(t, err).NotNil()
}

func TestNewEmbedderWithoutKeyIsLocal(t *testing.T) {
	e, err := NewEmbedder(testConfig())
	gt.NoError(t, err).Required()
	defer e.Close()
	vec, err := e.Embed(context.Background(), "hello world")
	gt.NoError(t, err).Required()
	gt.Array(t, vec).Length(256)
}
