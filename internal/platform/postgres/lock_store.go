package postgres

import (
	"context"
	"fmt"

	"github.com/mwalkiewicz/mediary/internal/platform/logger"
	"github.com/mwalkiewicz/mediary/internal/store"
)

// PostgresLockStore implements the store.LockStore interface over the
// serial_lock singleton row. Both operations are single conditional
// UPDATEs, never read-then-write, so two workers racing for the lock
// resolve entirely inside the database.
type PostgresLockStore struct {
	db store.DBTX
}

// NewPostgresLockStore creates a new PostgresLockStore.
func NewPostgresLockStore(db store.DBTX) *PostgresLockStore {
	if db == nil {
		panic("db cannot be nil")
	}
	return &PostgresLockStore{db: db}
}

// Ensure PostgresLockStore implements store.LockStore interface
var _ store.LockStore = (*PostgresLockStore)(nil)

// TakeSerialLock implements store.LockStore.TakeSerialLock.
func (s *PostgresLockStore) TakeSerialLock(ctx context.Context, workerName string) (bool, error) {
	log := logger.FromContext(ctx)

	query := `
		UPDATE serial_lock
		SET worker_name = $1, last_update = now()
		WHERE id = 1 AND worker_name IS NULL
	`

	result, err := s.db.ExecContext(ctx, query, workerName)
	if err != nil {
		log.Error("failed to take serial lock", "worker", workerName, "error", err)
		return false, fmt.Errorf("failed to take serial lock: %w", MapError(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// ReleaseSerialLock implements store.LockStore.ReleaseSerialLock.
func (s *PostgresLockStore) ReleaseSerialLock(ctx context.Context, workerName string) (bool, error) {
	log := logger.FromContext(ctx)

	query := `
		UPDATE serial_lock
		SET worker_name = NULL, last_update = now()
		WHERE id = 1 AND worker_name = $1
	`

	result, err := s.db.ExecContext(ctx, query, workerName)
	if err != nil {
		log.Error("failed to release serial lock", "worker", workerName, "error", err)
		return false, fmt.Errorf("failed to release serial lock: %w", MapError(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}
