package propagation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/mwalkiewicz/mediary/internal/domain"
	"github.com/mwalkiewicz/mediary/internal/store"
)

// PermissionEdit describes a permission change to propagate through
// the tree. Added and Deleted are the user ids gaining and losing
// access; Original is the edited item's full pre-edit permission set,
// consulted only in COPY mode.
type PermissionEdit struct {
	ItemID   int64
	Added    []int64
	Deleted  []int64
	Original []int64

	ApplyToParents  bool
	ApplyToChildren bool
	Mode            domain.PermissionMode
}

// PermissionPropagator pushes a permission edit up to an item's
// ancestors and down through its descendants.
type PermissionPropagator struct {
	items  store.ItemStore
	logger *slog.Logger
}

// NewPermissionPropagator creates a PermissionPropagator over the
// given item store.
func NewPermissionPropagator(items store.ItemStore, logger *slog.Logger) *PermissionPropagator {
	return &PermissionPropagator{
		items:  items,
		logger: logger.With("component", "permission_propagation"),
	}
}

// Apply runs the upward and downward passes requested by the edit and
// returns the collected affected-user set.
func (p *PermissionPropagator) Apply(ctx context.Context, edit PermissionEdit) (*Result, error) {
	result := NewResult()

	if edit.ApplyToParents {
		if err := p.applyToParents(ctx, edit, result); err != nil {
			return nil, err
		}
	}

	if edit.ApplyToChildren {
		if err := p.applyToChildren(ctx, edit, result); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// applyToParents walks from the edited item toward the root, applying
// the delta rule to each ancestor. A deleted ancestor halts the walk:
// deleted items are never mutated, and everything above a deleted node
// is presumed orphaned.
func (p *PermissionPropagator) applyToParents(
	ctx context.Context,
	edit PermissionEdit,
	result *Result,
) error {
	parents, err := p.items.GetParents(ctx, edit.ItemID)
	if err != nil {
		return fmt.Errorf("failed to load parents of item %d: %w", edit.ItemID, err)
	}

	for _, parent := range parents {
		if parent.Deleted() {
			p.logger.Debug("upward walk halted at deleted ancestor",
				"item_id", edit.ItemID,
				"ancestor_id", parent.ID)
			return nil
		}

		newPerms := deltaPermissions(parent.Permissions, edit.Added, edit.Deleted)
		if err := p.items.SaveItemPermissions(ctx, parent.ID, newPerms); err != nil {
			return fmt.Errorf("failed to save permissions of item %d: %w", parent.ID, err)
		}

		// Anyone who could see the item before or can see it now needs
		// their counters refreshed.
		result.AddUsers(parent.Permissions)
		result.AddUsers(newPerms)
	}
	return nil
}

// applyToChildren walks the subtree under the edited item in pre-order
// with an explicit worklist, applying either the COPY or the DELTA
// rule per child. Deleted children are skipped together with their
// subtrees.
func (p *PermissionPropagator) applyToChildren(
	ctx context.Context,
	edit PermissionEdit,
	result *Result,
) error {
	visited := map[int64]struct{}{edit.ItemID: {}}

	stack, err := p.pushChildren(ctx, edit.ItemID, nil)
	if err != nil {
		return err
	}

	for len(stack) > 0 {
		child := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if _, seen := visited[child.ID]; seen {
			p.logger.Warn("permission propagation revisited item, skipping",
				"item_id", child.ID)
			continue
		}
		visited[child.ID] = struct{}{}

		if child.Deleted() {
			continue
		}

		switch edit.Mode {
		case domain.PermissionModeCopy:
			// Force the child's set to exactly the pre-edit set of the
			// edited item. The save is issued even when it is a no-op.
			newPerms := append([]int64(nil), edit.Original...)
			sortIDs(newPerms)
			if err := p.items.SaveItemPermissions(ctx, child.ID, newPerms); err != nil {
				return fmt.Errorf("failed to save permissions of item %d: %w", child.ID, err)
			}
			result.AddUsers(symmetricDifference(child.Permissions, newPerms))

		case domain.PermissionModeDelta:
			newPerms := deltaPermissions(child.Permissions, edit.Added, edit.Deleted)
			if err := p.items.SaveItemPermissions(ctx, child.ID, newPerms); err != nil {
				return fmt.Errorf("failed to save permissions of item %d: %w", child.ID, err)
			}
			result.AddUsers(child.Permissions)
			result.AddUsers(newPerms)

		default:
			return fmt.Errorf("%w: %q", domain.ErrInvalidPermissionMode, edit.Mode)
		}

		stack, err = p.pushChildren(ctx, child.ID, stack)
		if err != nil {
			return err
		}
	}
	return nil
}

// pushChildren appends the direct children of the given item to the
// worklist.
func (p *PermissionPropagator) pushChildren(
	ctx context.Context,
	itemID int64,
	stack []*domain.Item,
) ([]*domain.Item, error) {
	children, err := p.items.GetChildren(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to load children of item %d: %w", itemID, err)
	}
	return append(stack, children...), nil
}

// deltaPermissions computes current ∪ added \ deleted, sorted.
func deltaPermissions(current, added, deleted []int64) []int64 {
	set := make(map[int64]struct{}, len(current)+len(added))
	for _, id := range current {
		set[id] = struct{}{}
	}
	for _, id := range added {
		set[id] = struct{}{}
	}
	for _, id := range deleted {
		delete(set, id)
	}

	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sortIDs(out)
	return out
}

// symmetricDifference returns the ids present in exactly one of the
// two sets.
func symmetricDifference(a, b []int64) []int64 {
	inA := make(map[int64]struct{}, len(a))
	for _, id := range a {
		inA[id] = struct{}{}
	}
	inB := make(map[int64]struct{}, len(b))
	for _, id := range b {
		inB[id] = struct{}{}
	}

	var out []int64
	for id := range inA {
		if _, ok := inB[id]; !ok {
			out = append(out, id)
		}
	}
	for id := range inB {
		if _, ok := inA[id]; !ok {
			out = append(out, id)
		}
	}
	sortIDs(out)
	return out
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
