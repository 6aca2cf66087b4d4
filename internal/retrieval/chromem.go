package retrieval

import (
	"context"
	"runtime"

	"github.com/m-mizutani/goerr/v2"
	chromem "github.com/philippgille/chromem-go"

	"github.com/antoniostano/storai/internal/persona"
)

// ChromemIndex stores one chromem collection per persona.
type ChromemIndex struct {
	db    *chromem.DB
	embed chromem.EmbeddingFunc
}

// NewChromemIndex opens a persistent database at path, or an in-memory one
// when path is empty.
func NewChromemIndex(path string, embedder Embedder) (*ChromemIndex, error) {
	var db *chromem.DB
	if path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, goerr.Wrap(err, "open vector database", goerr.V("path", path))
		}
	}
	return &ChromemIndex{db: db, embed: EmbeddingFunc(embedder)}, nil
}

// Search returns up to k documents of the persona's collection ordered by
// similarity. A missing or empty collection yields no documents.
func (x *ChromemIndex) Search(ctx context.Context, query string, p persona.Persona, k int) ([]Document, error) {
	if k <= 0 {
		return nil, nil
	}
	col := x.db.GetCollection(p.Collection(), x.embed)
	if col == nil {
		return nil, nil
	}
	// chromem requires nResults <= collection size
	if n := col.Count(); n < k {
		k = n
	}
	if k == 0 {
		return nil, nil
	}

	results, err := col.Query(ctx, query, k, nil, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "query vector database",
			goerr.V("collection", p.Collection()),
			goerr.V("k", k),
		)
	}

	docs := make([]Document, len(results))
	for i, r := range results {
		docs[i] = Document{ID: r.ID, Content: r.Content, Rank: i}
	}
	return docs, nil
}

// Add embeds and stores documents in the persona's collection.
func (x *ChromemIndex) Add(ctx context.Context, p persona.Persona, docs []Document) error {
	col, err := x.db.GetOrCreateCollection(p.Collection(), map[string]string{"persona": p.String()}, x.embed)
	if err != nil {
		return goerr.Wrap(err, "open collection", goerr.V("collection", p.Collection()))
	}

	cdocs := make([]chromem.Document, len(docs))
	for i, d := range docs {
		cdocs[i] = chromem.Document{
			ID:       d.ID,
			Content:  d.Content,
			Metadata: map[string]string{"persona": p.String()},
		}
	}
	if err := col.AddDocuments(ctx, cdocs, runtime.NumCPU()); err != nil {
		return goerr.Wrap(err, "add documents",
			goerr.V("collection", p.Collection()),
			goerr.V("count", len(docs)),
		)
	}
	return nil
}

// Count reports the number of documents indexed for a persona.
func (x *ChromemIndex) Count(p persona.Persona) int {
	col := x.db.GetCollection(p.Collection(), x.embed)
	if col == nil {
		return 0
	}
	return col.Count()
}
