package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mwalkiewicz/mediary/internal/domain"
	"github.com/mwalkiewicz/mediary/internal/platform/postgres"
)

// newEnqueueCmd creates the operator command for queueing an operation
// by hand, typically to re-trigger work that failed terminally.
func newEnqueueCmd(stdout io.Writer) *cobra.Command {
	var extras string

	enqueue := &cobra.Command{
		Use:   "enqueue <operation-name>",
		Short: "Queue a single operation",
		Long: "Queue a single operation for the workers to pick up. " +
			"Failed operations are never retried automatically; an operator " +
			"re-triggers them by enqueueing a fresh one.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !json.Valid([]byte(extras)) {
				return fmt.Errorf("--extras is not valid JSON: %q", extras)
			}

			return withDatabase(cmd.Context(), func(ctx context.Context, db *sql.DB) error {
				store := postgres.NewPostgresOperationStore(db)
				id, err := store.Enqueue(ctx,
					domain.OperationName(args[0]), json.RawMessage(extras))
				if err != nil {
					return err
				}
				fmt.Fprintf(stdout, "enqueued operation %d (%s)\n", id, args[0])
				return nil
			})
		},
	}
	enqueue.Flags().StringVar(&extras, "extras", "{}",
		"operation-specific argument document (JSON)")
	return enqueue
}
