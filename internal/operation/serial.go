package operation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mwalkiewicz/mediary/internal/domain"
	"github.com/mwalkiewicz/mediary/internal/propagation"
	"github.com/mwalkiewicz/mediary/internal/store"
)

// RebuildItemTags recomputes the computed-tags cache of an item and
// optionally its subtree, then fans the affected users out into
// known-tag rebuild follow-ups.
type RebuildItemTags struct {
	logger *slog.Logger
}

// NewRebuildItemTags creates the rebuild_item_tags implementation.
func NewRebuildItemTags(logger *slog.Logger) *RebuildItemTags {
	return &RebuildItemTags{logger: logger}
}

// Name implements Implementation.
func (o *RebuildItemTags) Name() domain.OperationName {
	return domain.OpRebuildItemTags
}

// Execute implements Serial.
func (o *RebuildItemTags) Execute(
	ctx context.Context,
	op *domain.Operation,
	s *store.TxStores,
) error {
	var extras domain.RebuildItemTagsExtras
	if err := domain.DecodeExtras(op.Extras, &extras); err != nil {
		return err
	}
	if err := extras.Validate(); err != nil {
		return err
	}

	engine := propagation.NewTagPropagator(s.Items, o.logger)
	result, err := engine.Rebuild(ctx, extras.ItemID, propagation.TagOptions{
		ApplyToChildren:    extras.ApplyToChildren,
		ApplyToOwner:       extras.ApplyToOwner,
		ApplyToPermissions: extras.ApplyToPermissions,
	})
	if err != nil {
		return err
	}

	return enqueueKnownTagRebuilds(ctx, s, result, extras.ApplyToAnon)
}

// UpdatePermissions propagates a permission edit through the item
// tree and fans the affected users out into known-tag rebuild
// follow-ups.
type UpdatePermissions struct {
	logger *slog.Logger
}

// NewUpdatePermissions creates the update_permissions implementation.
func NewUpdatePermissions(logger *slog.Logger) *UpdatePermissions {
	return &UpdatePermissions{logger: logger}
}

// Name implements Implementation.
func (o *UpdatePermissions) Name() domain.OperationName {
	return domain.OpUpdatePermissions
}

// Execute implements Serial.
func (o *UpdatePermissions) Execute(
	ctx context.Context,
	op *domain.Operation,
	s *store.TxStores,
) error {
	var extras domain.UpdatePermissionsExtras
	if err := domain.DecodeExtras(op.Extras, &extras); err != nil {
		return err
	}
	if err := extras.Validate(); err != nil {
		return err
	}

	engine := propagation.NewPermissionPropagator(s.Items, o.logger)
	result, err := engine.Apply(ctx, propagation.PermissionEdit{
		ItemID:          extras.ItemID,
		Added:           extras.Added,
		Deleted:         extras.Deleted,
		Original:        extras.Original,
		ApplyToParents:  extras.ApplyToParents,
		ApplyToChildren: extras.ApplyToChildren,
		Mode:            extras.ApplyToChildrenAs,
	})
	if err != nil {
		return err
	}

	return enqueueKnownTagRebuilds(ctx, s, result, true)
}

// RebuildKnownTags refreshes the tag counters of a single user.
type RebuildKnownTags struct{}

// NewRebuildKnownTags creates the rebuild_known_tags implementation.
func NewRebuildKnownTags() *RebuildKnownTags {
	return &RebuildKnownTags{}
}

// Name implements Implementation.
func (o *RebuildKnownTags) Name() domain.OperationName {
	return domain.OpRebuildKnownTags
}

// Execute implements Serial.
func (o *RebuildKnownTags) Execute(
	ctx context.Context,
	op *domain.Operation,
	s *store.TxStores,
) error {
	var extras domain.RebuildKnownTagsExtras
	if err := domain.DecodeExtras(op.Extras, &extras); err != nil {
		return err
	}
	if extras.UserID == 0 {
		return fmt.Errorf("%w: missing user_id", store.ErrInvalidEntity)
	}
	return s.Items.RebuildKnownTags(ctx, extras.UserID)
}

// RebuildKnownTagsAnon refreshes the tag counters visible to anonymous
// visitors. It carries no extras.
type RebuildKnownTagsAnon struct{}

// NewRebuildKnownTagsAnon creates the rebuild_known_tags_anon
// implementation.
func NewRebuildKnownTagsAnon() *RebuildKnownTagsAnon {
	return &RebuildKnownTagsAnon{}
}

// Name implements Implementation.
func (o *RebuildKnownTagsAnon) Name() domain.OperationName {
	return domain.OpRebuildKnownTagsAnon
}

// Execute implements Serial.
func (o *RebuildKnownTagsAnon) Execute(
	ctx context.Context,
	op *domain.Operation,
	s *store.TxStores,
) error {
	return s.Items.RebuildKnownTagsAnon(ctx)
}

// Interface conformance checks.
var (
	_ Serial = (*RebuildItemTags)(nil)
	_ Serial = (*UpdatePermissions)(nil)
	_ Serial = (*RebuildKnownTags)(nil)
	_ Serial = (*RebuildKnownTagsAnon)(nil)
)
