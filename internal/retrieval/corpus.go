package retrieval

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/antoniostano/storai/internal/persona"
)

// LoadCorpus reads every *.txt file of dir as one document. Blank files are
// skipped. IDs derive from persona and file name so re-indexing replaces
// documents instead of duplicating them.
func LoadCorpus(dir string, p persona.Persona) ([]Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, goerr.Wrap(err, "read corpus directory", goerr.V("dir", dir))
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".txt") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	docs := make([]Document, 0, len(names))
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, goerr.Wrap(err, "read corpus file", goerr.V("file", name))
		}
		text := strings.TrimSpace(string(raw))
		if text == "" {
			continue
		}
		docs = append(docs, Document{
			ID:      uuid.NewSHA1(uuid.NameSpaceURL, []byte(p.Collection()+"/"+name)).String(),
			Content: text,
			Rank:    len(docs),
		})
	}
	return docs, nil
}
