package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver

	"github.com/mwalkiewicz/mediary/internal/platform/logger"
)

// Open connects to PostgreSQL and verifies the connection with a ping,
// retrying with exponential backoff until connectTimeout elapses. The
// retry loop covers the common case of a worker starting before its
// database container is ready.
func Open(ctx context.Context, url string, connectTimeout time.Duration) (*sql.DB, error) {
	log := logger.FromContext(ctx)

	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	ping := func() error {
		if err := db.PingContext(ctx); err != nil {
			log.Warn("database not reachable yet, retrying", "error", err)
			return err
		}
		return nil
	}

	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	if err := backoff.Retry(ping, policy); err != nil {
		closeErr := db.Close()
		if closeErr != nil {
			log.Error("failed to close database after failed ping", "error", closeErr)
		}
		return nil, fmt.Errorf("failed to ping database within %s: %w", connectTimeout, err)
	}

	return db, nil
}
