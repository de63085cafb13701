package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/prizmrun/prizm/pkg/config"
	"github.com/prizmrun/prizm/pkg/observability"
)

// Open connects to the primary database and checks it is reachable.
//
// Permission reads go to the primary; there is no replica routing.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open primary connection: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	db.SetConnMaxIdleTime(10 * time.Minute)

	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping primary: %w", err)
	}

	return db, nil
}

// PublishPoolStats copies connection pool statistics into metrics
func PublishPoolStats(db *sql.DB, metrics *observability.Metrics) {
	stats := db.Stats()
	metrics.SetDBStats(stats.OpenConnections, stats.InUse, stats.Idle)
}
