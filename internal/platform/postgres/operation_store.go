package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mwalkiewicz/mediary/internal/domain"
	"github.com/mwalkiewicz/mediary/internal/platform/logger"
	"github.com/mwalkiewicz/mediary/internal/store"
)

// operationColumns is the shared select list; scanOperation must stay
// in sync with it.
const operationColumns = `
	id, name, status, extras, log, worker_name, processed_by, payload,
	created_at, updated_at, started_at, ended_at
`

// PostgresOperationStore implements the store.OperationStore interface
// using PostgreSQL. Both claim protocols are conditional updates whose
// rows-affected count decides the race; no advisory locking is needed.
type PostgresOperationStore struct {
	db store.DBTX
}

// NewPostgresOperationStore creates a new PostgresOperationStore.
func NewPostgresOperationStore(db store.DBTX) *PostgresOperationStore {
	if db == nil {
		panic("db cannot be nil")
	}
	return &PostgresOperationStore{db: db}
}

// Ensure PostgresOperationStore implements store.OperationStore interface
var _ store.OperationStore = (*PostgresOperationStore)(nil)

// WithTx implements store.OperationStore.WithTx.
func (s *PostgresOperationStore) WithTx(tx *sql.Tx) store.OperationStore {
	return &PostgresOperationStore{db: tx}
}

// NextSerialOperation implements store.OperationStore.NextSerialOperation.
func (s *PostgresOperationStore) NextSerialOperation(
	ctx context.Context,
	names []domain.OperationName,
	skipIDs []int64,
) (*domain.Operation, error) {
	log := logger.FromContext(ctx)

	query := `
		SELECT ` + operationColumns + `
		FROM operations
		WHERE status = 'created'
		  AND name = ANY($1)
		  AND NOT (id = ANY($2))
		ORDER BY id
		LIMIT 1
	`

	if skipIDs == nil {
		skipIDs = []int64{}
	}

	row := s.db.QueryRowContext(ctx, query, operationNames(names), skipIDs)
	op, err := scanOperation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		log.Error("failed to select next serial operation", "error", err)
		return nil, fmt.Errorf("failed to select next serial operation: %w", MapError(err))
	}
	return op, nil
}

// ClaimSerialOperation implements store.OperationStore.ClaimSerialOperation.
// The claim predicate requires the caller to hold the serial lock, so a
// worker whose lock was force-released loses every further claim
// instead of processing without mutual exclusion.
func (s *PostgresOperationStore) ClaimSerialOperation(
	ctx context.Context,
	id int64,
	workerName string,
) (bool, error) {
	log := logger.FromContext(ctx)

	query := `
		UPDATE operations
		SET status = 'processing', worker_name = $2,
		    started_at = now(), updated_at = now()
		WHERE id = $1
		  AND status = 'created'
		  AND EXISTS (
		      SELECT 1 FROM serial_lock WHERE id = 1 AND worker_name = $2
		  )
	`

	result, err := s.db.ExecContext(ctx, query, id, workerName)
	if err != nil {
		log.Error("failed to claim serial operation",
			"operation_id", id, "worker", workerName, "error", err)
		return false, fmt.Errorf("failed to claim operation %d: %w", id, MapError(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// ClaimParallelBatch implements store.OperationStore.ClaimParallelBatch.
// FOR UPDATE SKIP LOCKED lets many workers claim from the same queue
// without ever blocking on each other's in-flight claims.
func (s *PostgresOperationStore) ClaimParallelBatch(
	ctx context.Context,
	workerName string,
	names []domain.OperationName,
	batchSize int,
) ([]*domain.Operation, error) {
	log := logger.FromContext(ctx)

	query := `
		UPDATE operations
		SET status = 'processing', worker_name = $1,
		    started_at = COALESCE(started_at, now()), updated_at = now()
		WHERE id IN (
		    SELECT id FROM operations
		    WHERE name = ANY($2)
		      AND (
		          status = 'created'
		          OR (status = 'processing'
		              AND jsonb_array_length(processed_by) > 0
		              AND NOT processed_by @> to_jsonb($1::text))
		      )
		    ORDER BY id
		    LIMIT $3
		    FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + operationColumns

	rows, err := s.db.QueryContext(ctx, query, workerName, operationNames(names), batchSize)
	if err != nil {
		log.Error("failed to claim parallel batch", "worker", workerName, "error", err)
		return nil, fmt.Errorf("failed to claim parallel batch: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var claimed []*domain.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claimed operation: %w", err)
		}
		claimed = append(claimed, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating claimed operations: %w", MapError(err))
	}
	return claimed, nil
}

// SaveOperation implements store.OperationStore.SaveOperation.
func (s *PostgresOperationStore) SaveOperation(ctx context.Context, op *domain.Operation) error {
	log := logger.FromContext(ctx)

	processedBy, err := json.Marshal(processedBySet(op.ProcessedBy))
	if err != nil {
		return fmt.Errorf("failed to encode processed_by: %w", err)
	}

	query := `
		UPDATE operations
		SET status = $2, log = $3, worker_name = $4, processed_by = $5,
		    updated_at = $6, started_at = $7, ended_at = $8
		WHERE id = $1
	`

	result, err := s.db.ExecContext(ctx, query,
		op.ID,
		string(op.Status),
		op.Log,
		op.WorkerName,
		processedBy,
		time.Now().UTC(),
		op.StartedAt,
		op.EndedAt,
	)
	if err != nil {
		log.Error("failed to save operation", "operation_id", op.ID, "error", err)
		return fmt.Errorf("failed to save operation %d: %w", op.ID, MapError(err))
	}
	if err := CheckRowsAffected(result, "operation"); err != nil {
		return fmt.Errorf("failed to save operation %d: %w", op.ID, err)
	}
	return nil
}

// Enqueue implements store.OperationStore.Enqueue.
func (s *PostgresOperationStore) Enqueue(
	ctx context.Context,
	name domain.OperationName,
	extras json.RawMessage,
) (int64, error) {
	log := logger.FromContext(ctx)

	op, err := domain.NewOperation(name, extras)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO operations (name, status, extras, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		RETURNING id
	`

	var id int64
	err = s.db.QueryRowContext(ctx, query,
		string(op.Name),
		string(op.Status),
		[]byte(op.Extras),
		time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		log.Error("failed to enqueue operation", "operation", string(name), "error", err)
		return 0, fmt.Errorf("failed to enqueue operation %q: %w", name, MapError(err))
	}
	return id, nil
}

// GetOperation implements store.OperationStore.GetOperation.
func (s *PostgresOperationStore) GetOperation(ctx context.Context, id int64) (*domain.Operation, error) {
	query := `
		SELECT ` + operationColumns + `
		FROM operations
		WHERE id = $1
	`

	op, err := scanOperation(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrOperationNotFound
		}
		return nil, fmt.Errorf("failed to get operation %d: %w", id, MapError(err))
	}
	return op, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanOperation.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(row rowScanner) (*domain.Operation, error) {
	var (
		op          domain.Operation
		name        string
		status      string
		extras      []byte
		processedBy []byte
		payload     []byte
	)

	err := row.Scan(
		&op.ID,
		&name,
		&status,
		&extras,
		&op.Log,
		&op.WorkerName,
		&processedBy,
		&payload,
		&op.CreatedAt,
		&op.UpdatedAt,
		&op.StartedAt,
		&op.EndedAt,
	)
	if err != nil {
		return nil, err
	}

	op.Name = domain.OperationName(name)
	op.Status = domain.OperationStatus(status)
	op.Extras = json.RawMessage(extras)
	op.Payload = payload

	if len(processedBy) > 0 {
		if err := json.Unmarshal(processedBy, &op.ProcessedBy); err != nil {
			return nil, fmt.Errorf("failed to decode processed_by: %w", err)
		}
	}
	return &op, nil
}

// processedBySet keeps the stored document a JSON array even when the
// in-memory slice is nil.
func processedBySet(workers []string) []string {
	if workers == nil {
		return []string{}
	}
	return workers
}

// operationNames converts the typed allow-list to the []string the
// driver encodes as a text array parameter.
func operationNames(names []domain.OperationName) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = string(n)
	}
	return out
}
