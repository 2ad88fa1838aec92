package store

import (
	"context"
	"log/slog"

	"github.com/albapepper/momentum/internal/config"
	"github.com/albapepper/momentum/internal/db"
)

// Open selects the backend from cfg: Postgres when DATABASE_URL is set,
// SQLite otherwise. The returned pool is nil for SQLite; callers use it to
// decide whether the LISTEN/NOTIFY trigger is available.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Store, *db.Pool, error) {
	if cfg.UsesPostgres() {
		pool, err := db.New(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Store opened", "backend", "postgres")
		return NewPostgres(pool), pool, nil
	}

	s, err := OpenSQLite(cfg.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Store opened", "backend", "sqlite", "path", cfg.SQLitePath)
	return s, nil, nil
}
