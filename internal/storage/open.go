package storage

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"balance-tracker/internal/config"
)

// Open builds the configured backend and wraps it in a Ledger.
func Open(ctx context.Context, cfg config.StorageConfig, logger zerolog.Logger) (*Ledger, error) {
	var (
		store SampleStore
		err   error
	)

	switch cfg.Backend {
	case config.BackendCSV:
		store, err = NewCSVStore(cfg.CSVPath)
	case config.BackendSQLite:
		store, err = NewSQLiteStore(cfg.SQLite.Path)
	case config.BackendPostgres:
		store, err = NewPostgresStore(ctx, cfg.Postgres)
	case config.BackendSheets:
		store, err = NewSheetsStore(ctx, cfg.Sheets)
	case config.BackendMemory:
		store = NewMemoryStore()
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s ledger: %w", cfg.Backend, err)
	}

	logger.Info().Str("backend", cfg.Backend).Msg("ledger opened")
	return NewLedger(store), nil
}
