package operation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mwalkiewicz/mediary/internal/domain"
	"github.com/mwalkiewicz/mediary/internal/platform/logger"
	"github.com/mwalkiewicz/mediary/internal/propagation"
	"github.com/mwalkiewicz/mediary/internal/store"
)

// enqueueKnownTagRebuilds turns a traversal's affected-user set into
// follow-up operations: exactly one rebuild_known_tags per distinct
// affected user and, when includeAnon is set and any affected user is
// public, a single rebuild_known_tags_anon. The enqueues happen inside
// the triggering operation's transaction so the chain commits or rolls
// back as one.
func enqueueKnownTagRebuilds(
	ctx context.Context,
	s *store.TxStores,
	result *propagation.Result,
	includeAnon bool,
) error {
	log := logger.FromContext(ctx)

	for _, userID := range result.Users() {
		extras, err := domain.EncodeExtras(domain.RebuildKnownTagsExtras{UserID: userID})
		if err != nil {
			return err
		}
		id, err := s.Operations.Enqueue(ctx, domain.OpRebuildKnownTags, extras)
		if err != nil {
			return fmt.Errorf("failed to enqueue known-tag rebuild for user %d: %w", userID, err)
		}
		log.Debug("enqueued follow-up known-tag rebuild",
			"user_id", userID,
			"operation_id", id)
	}

	if !includeAnon || result.Empty() {
		return nil
	}

	publicIDs, err := s.Items.GetPublicUserIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to load public user ids: %w", err)
	}
	for _, id := range publicIDs {
		if result.Contains(id) {
			extras := json.RawMessage(`{}`)
			opID, err := s.Operations.Enqueue(ctx, domain.OpRebuildKnownTagsAnon, extras)
			if err != nil {
				return fmt.Errorf("failed to enqueue anonymous known-tag rebuild: %w", err)
			}
			log.Debug("enqueued follow-up anonymous known-tag rebuild",
				"operation_id", opID)
			return nil
		}
	}
	return nil
}
