// Package app owns application composition: configuration in, fully wired
// assistant out, with an explicit Close for teardown.
package app

import (
	"log/slog"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/refdesk/refdesk/internal/assistant"
	"github.com/refdesk/refdesk/internal/config"
	"github.com/refdesk/refdesk/internal/embed"
	"github.com/refdesk/refdesk/internal/index"
	"github.com/refdesk/refdesk/internal/ingest"
)

// App holds all initialized components. Create with Setup, release with
// Close.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Genkit   *genkit.Genkit
	DBPool   *pgxpool.Pool
	Embedder *embed.Provider
	Index    *index.Store

	Assistant *assistant.Assistant
	Indexer   *ingest.Indexer

	dbCleanup func()
}

// Close releases all resources. Safe to call on a partially initialized
// App and safe to call more than once.
func (a *App) Close() error {
	if a.dbCleanup != nil {
		a.dbCleanup()
		a.dbCleanup = nil
	}
	return nil
}
