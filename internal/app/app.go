// Package app wires the service together: configuration, logging, the
// Genkit runtime, vector storage, session persistence, and the query
// engine. Setup builds everything once; Close releases it in reverse.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"

	"docchat/internal/config"
	"docchat/internal/database"
	"docchat/internal/engine"
	"docchat/internal/ingest"
	"docchat/internal/log"
	"docchat/internal/session"
	"docchat/internal/vecstore"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	Vectors  *vecstore.Store
	Pipeline *ingest.Pipeline
	Sessions session.Store
	Engine   *engine.Engine

	db *sql.DB
}

// Setup creates and initializes the application. On error everything
// already initialized is released before returning.
func Setup(ctx context.Context, cfg *config.Config) (_ *App, retErr error) {
	a := &App{Config: cfg}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				a.Logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	a.Logger = log.New(log.Config{Level: log.ParseLevel(cfg.LogLevel), JSON: cfg.LogJSON})

	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	a.Genkit = g

	a.Embedder = googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	if a.Embedder == nil {
		return nil, fmt.Errorf("embedder %q not found", cfg.EmbedderModel)
	}

	var err error
	a.Vectors, err = vecstore.New(cfg.VectorDBPath(), a.Embedder, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("opening vector store: %w", err)
	}

	a.Pipeline = ingest.NewPipeline(ingest.Options{
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
	})

	a.Sessions, err = a.provideSessionStore(cfg)
	if err != nil {
		return nil, err
	}

	a.Engine, err = engine.New(engine.Config{
		Genkit:      g,
		Retriever:   a.Vectors,
		Logger:      a.Logger,
		ModelName:   cfg.ModelName,
		Temperature: cfg.Temperature,
		TopK:        cfg.TopK,
	})
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}

	return a, nil
}

// provideSessionStore opens the durable sqlite backend, or the in-memory
// one when configured (tests and throwaway runs).
func (a *App) provideSessionStore(cfg *config.Config) (session.Store, error) {
	if cfg.MemorySessions {
		return session.NewMemoryStore(), nil
	}

	db, err := database.Open(cfg.SessionDBPath())
	if err != nil {
		return nil, fmt.Errorf("opening session database: %w", err)
	}
	a.db = db

	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrating session database: %w", err)
	}
	return session.NewSQLiteStore(db, a.Logger), nil
}

// Ready reports whether the backing stores respond. Wired to /ready.
func (a *App) Ready(ctx context.Context) error {
	if a.db != nil {
		if err := a.db.PingContext(ctx); err != nil {
			return fmt.Errorf("session database: %w", err)
		}
	}
	return nil
}

// Close releases all resources.
func (a *App) Close() error {
	var errs []error
	if a.Sessions != nil {
		if err := a.Sessions.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing session store: %w", err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing session database: %w", err))
		}
	}
	return errors.Join(errs...)
}
