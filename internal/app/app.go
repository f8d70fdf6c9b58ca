// Package app provides application initialization and dependency
// injection.
//
// App is the container that wires all components: Genkit with the
// configured AI provider, the PostgreSQL pool and search store, the
// ticketing client, the capability tools, both response paths, the
// orchestrator, and the HTTP server.
package app

import (
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opsdesk-ai/opsdesk/internal/config"
	"github.com/opsdesk-ai/opsdesk/internal/httpapi"
	"github.com/opsdesk-ai/opsdesk/internal/orchestrate"
)

// App is the core application container.
type App struct {
	// Configuration
	Config *config.Config
	Logger *slog.Logger

	// Core services
	Genkit       *genkit.Genkit
	Embedder     ai.Embedder
	DBPool       *pgxpool.Pool
	Orchestrator *orchestrate.Orchestrator
	Server       *httpapi.Server

	// Lifecycle management
	otelCleanup func()
	dbCleanup   func()
}

// Close gracefully shuts down all resources.
func (a *App) Close() error {
	a.logger().Info("shutting down application")

	if a.dbCleanup != nil {
		a.dbCleanup()
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
