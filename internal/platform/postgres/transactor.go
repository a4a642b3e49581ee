package postgres

import (
	"context"
	"database/sql"

	"github.com/mwalkiewicz/mediary/internal/store"
)

// Transactor implements store.Transactor over a live database handle:
// each WithinTx call opens one transaction and hands the callback
// stores bound to it, so an operation's side effects and its terminal
// update commit or roll back together.
type Transactor struct {
	db         *sql.DB
	operations *PostgresOperationStore
	items      *PostgresItemStore
}

// NewTransactor creates a Transactor over db.
func NewTransactor(db *sql.DB) *Transactor {
	if db == nil {
		panic("db cannot be nil")
	}
	return &Transactor{
		db:         db,
		operations: NewPostgresOperationStore(db),
		items:      NewPostgresItemStore(db),
	}
}

// Ensure Transactor implements store.Transactor interface
var _ store.Transactor = (*Transactor)(nil)

// WithinTx implements store.Transactor.WithinTx.
func (t *Transactor) WithinTx(
	ctx context.Context,
	fn func(ctx context.Context, s *store.TxStores) error,
) error {
	return store.RunInTransaction(ctx, t.db, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, &store.TxStores{
			Operations: t.operations.WithTx(tx),
			Items:      t.items.WithTx(tx),
		})
	})
}
