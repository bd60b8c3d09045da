// Package commands implements the sqlpilot subcommands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/sqlpilot/internal/config"
	"github.com/leapstack-labs/sqlpilot/internal/engine"
	"github.com/leapstack-labs/sqlpilot/internal/executor"
	"github.com/leapstack-labs/sqlpilot/internal/llm"
	"github.com/leapstack-labs/sqlpilot/internal/retrieval"
	"github.com/leapstack-labs/sqlpilot/internal/state"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg    *config.Config
	Logger *slog.Logger
}

// NewCommandContext reads the configuration and logger the root command
// stored in cmd's context.
func NewCommandContext(cmd *cobra.Command) (*CommandContext, error) {
	cfg, ok := config.FromContext(cmd.Context())
	if !ok {
		return nil, errors.New("configuration not loaded")
	}
	return &CommandContext{
		Cfg:    cfg,
		Logger: config.GetLogger(cmd.Context()),
	}, nil
}

// OpenStore opens the state database, creating its directory and applying
// migrations.
func (c *CommandContext) OpenStore(ctx context.Context) (*state.SQLiteStore, error) {
	stateDir := filepath.Dir(c.Cfg.StatePath)
	if stateDir != "." && stateDir != "" {
		if err := os.MkdirAll(stateDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}
	store, err := state.OpenAndMigrate(ctx, c.Cfg.StatePath, c.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	return store, nil
}

// NewExecutor creates an executor over the configured domains.
func (c *CommandContext) NewExecutor() *executor.Executor {
	return executor.New(executor.Options{
		Domains: c.Cfg.Domains,
		Timeout: c.Cfg.Timeouts.Execute,
		Logger:  c.Logger,
	})
}

// NewEmbedder creates the embedding provider of retrieval.mode embedding.
func (c *CommandContext) NewEmbedder(ctx context.Context) (llm.EmbeddingProvider, error) {
	emb, err := llm.NewEmbedder(ctx, c.Cfg.EmbedderConfig(), c.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return emb, nil
}

// NewRetriever builds the retriever selected by retrieval.mode. The returned
// embedder is nil for full-text retrieval.
func (c *CommandContext) NewRetriever(ctx context.Context, store *state.SQLiteStore) (retrieval.Retriever, llm.EmbeddingProvider, error) {
	if c.Cfg.Retrieval.Mode != retrieval.ModeEmbedding {
		return retrieval.NewFTS(store, c.Logger), nil, nil
	}
	emb, err := c.NewEmbedder(ctx)
	if err != nil {
		return nil, nil, err
	}
	return retrieval.NewEmbedding(store, emb, emb.Name(), c.Logger), emb, nil
}

// Session bundles the handles a question-answering command needs.
type Session struct {
	Executor  *executor.Executor
	Store     *state.SQLiteStore
	Generator llm.Provider
	Engine    *engine.Engine
	// Embedder is set in embedding retrieval mode.
	Embedder llm.EmbeddingProvider
}

// OpenSession connects the generator, the schema index and the executor
// and builds an engine over them. Close releases all of them.
func (c *CommandContext) OpenSession(ctx context.Context) (*Session, error) {
	store, err := c.OpenStore(ctx)
	if err != nil {
		return nil, err
	}

	gen, err := llm.New(ctx, c.Cfg.Generator, c.Logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	retriever, emb, err := c.NewRetriever(ctx, store)
	if err != nil {
		_ = gen.Close()
		_ = store.Close()
		return nil, err
	}

	exec := c.NewExecutor()
	eng, err := engine.New(engine.Config{
		Generator:       gen,
		Runner:          exec,
		Retriever:       retriever,
		TopK:            c.Cfg.TopK,
		MaxRetries:      c.Cfg.MaxRetries,
		MaxRows:         c.Cfg.MaxRows,
		ExamplesDir:     c.Cfg.ExamplesDir,
		GenerateTimeout: c.Cfg.Timeouts.Generate,
		ExecuteTimeout:  c.Cfg.Timeouts.Execute,
		Logger:          c.Logger,
	})
	if err != nil {
		sess := &Session{Executor: exec, Store: store, Generator: gen, Embedder: emb}
		_ = sess.Close()
		return nil, err
	}

	return &Session{Executor: exec, Store: store, Generator: gen, Engine: eng, Embedder: emb}, nil
}

// Close releases every handle of the session.
func (s *Session) Close() error {
	var embErr error
	if s.Embedder != nil {
		embErr = s.Embedder.Close()
	}
	return errors.Join(s.Generator.Close(), embErr, s.Executor.Close(), s.Store.Close())
}

// requireDomain fails with the configured names when domain is unknown.
func (c *CommandContext) requireDomain(domain string) error {
	if _, ok := c.Cfg.Domain(domain); ok {
		return nil
	}
	return &executor.UnknownDomainError{Name: domain, Available: c.NewExecutor().Domains()}
}
