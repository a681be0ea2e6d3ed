package records

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/config"
)

// Open builds the Recorder selected by cfg.Driver. Relative SQLite paths are
// resolved against dir.
func Open(ctx context.Context, cfg config.RecordsConfig, dir string, logger *zap.Logger) (Recorder, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "sqlite":
		path := cfg.Path
		if path == "" {
			path = "submissions.db"
		}
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		return NewSQLiteStore(path, logger)
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to create database pool: %w", err)
		}
		store, err := NewPostgresStore(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return store, nil
	case "none":
		return Nop(), nil
	}
	return nil, fmt.Errorf("unsupported records driver %q", cfg.Driver)
}
