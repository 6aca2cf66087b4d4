// Command storai-index embeds a directory of .txt files into the vector
// database collection of one persona.
package main

import (
	"context"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/antoniostano/storai/internal/app"
	"github.com/antoniostano/storai/internal/config"
	"github.com/antoniostano/storai/internal/logging"
	"github.com/antoniostano/storai/internal/persona"
	"github.com/antoniostano/storai/internal/retrieval"
)

func main() {
	if err := run(context.Background(), os.Args); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	var (
		dir         string
		personaName string
		cfg         config.Config
		logLevel    string
		logFormat   string
	)

	cmd := &cli.Command{
		Name:  "storai-index",
		Usage: "Index a directory of text files for one persona",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "dir",
				Usage:       "directory containing *.txt documents",
				Value:       "training",
				Destination: &dir,
			},
			&cli.StringFlag{
				Name:        "persona",
				Usage:       "persona whose collection receives the documents",
				Value:       string(persona.General),
				Destination: &personaName,
			},
			&cli.StringFlag{
				Name:        "db",
				Usage:       "vector database directory",
				Value:       "vector_database",
				Sources:     cli.EnvVars("VECTOR_DB_PATH"),
				Destination: &cfg.VectorDBPath,
			},
			&cli.StringFlag{
				Name:        "openai-api-key",
				Usage:       "API key for embeddings; the local hashing embedder is used when empty",
				Sources:     cli.EnvVars("OPENAI_API_KEY"),
				Destination: &cfg.OpenAIAPIKey,
			},
			&cli.StringFlag{
				Name:        "openai-base-url",
				Sources:     cli.EnvVars("OPENAI_BASE_URL"),
				Destination: &cfg.OpenAIBaseURL,
			},
			&cli.StringFlag{
				Name:        "embedding-model",
				Value:       "text-embedding-3-small",
				Sources:     cli.EnvVars("EMBEDDING_MODEL"),
				Destination: &cfg.EmbeddingModel,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Value:       "info",
				Sources:     cli.EnvVars("LOG_LEVEL"),
				Destination: &logLevel,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Value:       "console",
				Sources:     cli.EnvVars("LOG_FORMAT"),
				Destination: &logFormat,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			logger, err := logging.New(os.Stderr, logLevel, logFormat)
			if err != nil {
				return ctx, err
			}
			logging.SetDefault(logger)
			return logging.With(ctx, logger), nil
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			p, err := persona.Parse(personaName)
			if err != nil {
				return err
			}
			return index(ctx, cfg, dir, p)
		},
	}

	if err := cmd.Run(ctx, args); err != nil {
		logging.Default().Error("indexing failed", "error", err)
		return err
	}
	return nil
}

func index(ctx context.Context, cfg config.Config, dir string, p persona.Persona) error {
	logger := logging.From(ctx)

	docs, err := retrieval.LoadCorpus(dir, p)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		logger.Warn("no text found in corpus, vector database not updated", "dir", dir)
		return nil
	}

	embedder, err := app.NewEmbedder(cfg)
	if err != nil {
		return err
	}
	defer embedder.Close()
	idx, err := retrieval.NewChromemIndex(cfg.VectorDBPath, embedder)
	if err != nil {
		return err
	}
	if err := idx.Add(ctx, p, docs); err != nil {
		return goerr.Wrap(err, "index corpus", goerr.V("dir", dir), goerr.V("persona", p.String()))
	}

	logger.Info("vector database updated",
		"persona", p.String(),
		"collection", p.Collection(),
		"documents", len(docs),
		"total", idx.Count(p),
		"path", cfg.VectorDBPath,
	)
	return nil
}
