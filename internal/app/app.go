// Package app assembles the assistant's components: configuration, tracing,
// database pool, Genkit, the document index, and the chat service.
package app

import (
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmaulana/folio/internal/chat"
	"github.com/dmaulana/folio/internal/config"
	"github.com/dmaulana/folio/internal/docindex"
	"github.com/dmaulana/folio/internal/ingest"
	"github.com/dmaulana/folio/internal/persona"
	"github.com/dmaulana/folio/internal/retrieval"
	"github.com/dmaulana/folio/internal/session"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	DBPool   *pgxpool.Pool

	Sessions  *session.Store
	Reaper    *session.Reaper
	DocIndex  *docindex.Store
	Retrieval *retrieval.Orchestrator
	Persona   *persona.Builder
	Chat      *chat.Service
	Ingester  *ingest.Ingester

	otelCleanup func()
}

// Close gracefully shuts down all resources.
func (a *App) Close() error {
	a.logger().Info("shutting down application")

	if a.DBPool != nil {
		a.DBPool.Close()
		a.logger().Info("database pool closed")
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}
	return nil
}

func (a *App) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}
