package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/mwalkiewicz/mediary/internal/domain"
)

// LockStore manages the serial lock: a singleton row whose worker_name
// column is NULL when the lock is free. Acquisition and release are
// conditional updates, never read-then-write.
// Version: 1.0
type LockStore interface {
	// TakeSerialLock atomically sets the lock row to workerName only if
	// it is currently free. Returns whether the caller now owns it.
	TakeSerialLock(ctx context.Context, workerName string) (bool, error)

	// ReleaseSerialLock clears the lock row only if it currently equals
	// workerName, so a worker can never release someone else's lock.
	// Returns whether the lock was actually released.
	ReleaseSerialLock(ctx context.Context, workerName string) (bool, error)
}

// OperationStore persists background operations and implements the
// claim protocols of both processors.
// Version: 1.0
type OperationStore interface {
	// NextSerialOperation returns the oldest created operation whose
	// name is in the supported set and whose id is not in skipIDs.
	// Returns (nil, nil) when no eligible operation exists.
	NextSerialOperation(
		ctx context.Context,
		names []domain.OperationName,
		skipIDs []int64,
	) (*domain.Operation, error)

	// ClaimSerialOperation attempts the conditional created->processing
	// transition for the given operation id, recording workerName as the
	// single owner. Returns false when zero rows were affected (the
	// claim race was lost or the operation was already claimed).
	ClaimSerialOperation(ctx context.Context, id int64, workerName string) (bool, error)

	// ClaimParallelBatch claims up to batchSize operations whose name
	// is in the supported set, independent of the serial lock. Created
	// operations are always eligible; processing operations are only
	// re-claimed when they already record a success from another
	// worker, so fan-out operations below their completion threshold
	// keep circulating while in-flight claims are left alone.
	ClaimParallelBatch(
		ctx context.Context,
		workerName string,
		names []domain.OperationName,
		batchSize int,
	) ([]*domain.Operation, error)

	// SaveOperation upserts the operation's terminal state: status,
	// timestamps, log and processed_by. Extras are never rewritten.
	SaveOperation(ctx context.Context, op *domain.Operation) error

	// Enqueue persists a new created operation and returns its assigned
	// id. Used both by front-end collaborators and by operations that
	// generate follow-up work.
	Enqueue(ctx context.Context, name domain.OperationName, extras json.RawMessage) (int64, error)

	// GetOperation loads a single operation by id.
	GetOperation(ctx context.Context, id int64) (*domain.Operation, error)

	// WithTx returns an OperationStore bound to the provided transaction.
	WithTx(tx *sql.Tx) OperationStore
}

// ItemStore exposes the narrow slice of the item tree the propagation
// engines read and write. Items themselves are owned by the
// surrounding CRUD system.
// Version: 1.0
type ItemStore interface {
	// GetItem loads a single item by id. Returns ErrItemNotFound when
	// the item does not exist.
	GetItem(ctx context.Context, id int64) (*domain.Item, error)

	// GetChildren returns the direct children of the given item,
	// including soft-deleted ones; traversals decide what to prune.
	GetChildren(ctx context.Context, id int64) ([]*domain.Item, error)

	// GetParents returns the ancestor chain of the given item, nearest
	// ancestor first, up to and including the root.
	GetParents(ctx context.Context, id int64) ([]*domain.Item, error)

	// GetComputedTags returns the cached computed tags of the item, or
	// an empty set when none have been computed yet.
	GetComputedTags(ctx context.Context, id int64) ([]string, error)

	// SaveComputedTags idempotently upserts the computed-tags cache row
	// for the item.
	SaveComputedTags(ctx context.Context, id int64, tags []string) error

	// SaveItemPermissions replaces the item's permission set.
	SaveItemPermissions(ctx context.Context, id int64, permissions []int64) error

	// GetPublicUserIDs returns the user ids whose items are visible to
	// anonymous visitors.
	GetPublicUserIDs(ctx context.Context) ([]int64, error)

	// RebuildKnownTags recomputes the per-user tag counters over every
	// item the user can see.
	RebuildKnownTags(ctx context.Context, userID int64) error

	// RebuildKnownTagsAnon recomputes the tag counters visible to
	// anonymous visitors.
	RebuildKnownTagsAnon(ctx context.Context) error

	// WithTx returns an ItemStore bound to the provided transaction.
	WithTx(tx *sql.Tx) ItemStore
}

// TxStores bundles the transaction-scoped stores handed to an
// operation implementation while it executes.
type TxStores struct {
	Operations OperationStore
	Items      ItemStore
}

// Transactor runs a function inside a single storage transaction,
// giving it transaction-scoped stores. Each operation's execution and
// terminal update happen inside one Transactor call.
// Version: 1.0
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, s *TxStores) error) error
}
