package propagation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/mwalkiewicz/mediary/internal/domain"
	"github.com/mwalkiewicz/mediary/internal/store"
)

// selfMarkerPrefix distinguishes ancestor identity markers from
// literal tags. A marker names the item it was injected for, so
// descendants inherit "under item N" as a searchable tag without the
// bare numeric id ever appearing as a tag string.
const selfMarkerPrefix = "item:"

// SelfMarker returns the identity marker injected into an item's
// computed tags.
func SelfMarker(itemID int64) string {
	return selfMarkerPrefix + strconv.FormatInt(itemID, 10)
}

// TagPropagator recomputes the computed-tags cache of an item, and
// optionally its whole subtree, from the rule
//
//	computed(item) = own(item) ∪ (computed(parent) \ {marker(parent)}) ∪ {marker(item)}
//
// with all tags case-folded to lowercase.
type TagPropagator struct {
	items  store.ItemStore
	logger *slog.Logger
}

// NewTagPropagator creates a TagPropagator over the given item store.
func NewTagPropagator(items store.ItemStore, logger *slog.Logger) *TagPropagator {
	return &TagPropagator{
		items:  items,
		logger: logger.With("component", "tag_propagation"),
	}
}

// tagWork is one pending node of the traversal: the item to recompute
// plus the raw computed tags of its parent (marker included; it is
// stripped during the merge).
type tagWork struct {
	item       *domain.Item
	parentID   int64
	parentTags []string
	hasParent  bool
}

// TagOptions selects how far a rebuild reaches and which touched user
// ids are recorded as affected.
type TagOptions struct {
	// ApplyToChildren reapplies the inheritance rule to every
	// descendant of the target item.
	ApplyToChildren bool

	// ApplyToOwner records the owner of each touched item as affected.
	ApplyToOwner bool

	// ApplyToPermissions records every permitted user of each touched
	// item as affected.
	ApplyToPermissions bool
}

// Rebuild recomputes the computed tags of the item with the given id.
// With ApplyToChildren the same rule is reapplied to every descendant,
// reusing the just-computed tags of each node as its children's
// inherited set. Deleted children are not descended into.
//
// The returned result carries the affected users selected by the
// options; the caller decides which follow-up operations those turn
// into.
func (p *TagPropagator) Rebuild(
	ctx context.Context,
	itemID int64,
	opts TagOptions,
) (*Result, error) {
	result := NewResult()

	root, err := p.items.GetItem(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to load item %d: %w", itemID, err)
	}

	// Computed-tag lookups are memoized for the duration of the run so
	// a parent referenced by many siblings is fetched at most once.
	memo := make(map[int64][]string)
	visited := make(map[int64]struct{})

	rootWork := tagWork{item: root}
	if root.ParentID != nil {
		parentTags, err := p.lookupComputed(ctx, *root.ParentID, memo)
		if err != nil {
			return nil, err
		}
		rootWork.parentID = *root.ParentID
		rootWork.parentTags = parentTags
		rootWork.hasParent = true
	}

	stack := []tagWork{rootWork}
	for len(stack) > 0 {
		work := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		item := work.item
		if _, seen := visited[item.ID]; seen {
			// The forest invariant should make this unreachable, but a
			// concurrent structural edit can reparent an item into its
			// own subtree mid-run.
			p.logger.Warn("tag propagation revisited item, skipping",
				"item_id", item.ID)
			continue
		}
		visited[item.ID] = struct{}{}

		computed := mergeTags(item, work)
		if err := p.items.SaveComputedTags(ctx, item.ID, computed); err != nil {
			return nil, fmt.Errorf("failed to save computed tags for item %d: %w", item.ID, err)
		}
		memo[item.ID] = computed

		if opts.ApplyToOwner {
			result.AddUser(item.OwnerID)
		}
		if opts.ApplyToPermissions {
			result.AddUsers(item.Permissions)
		}

		if !opts.ApplyToChildren {
			continue
		}

		children, err := p.items.GetChildren(ctx, item.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load children of item %d: %w", item.ID, err)
		}
		for _, child := range children {
			if child.Deleted() {
				continue
			}
			// The just-computed tags of the current item serve as the
			// child's inherited set; no repeat fetch needed.
			stack = append(stack, tagWork{
				item:       child,
				parentID:   item.ID,
				parentTags: computed,
				hasParent:  true,
			})
		}
	}

	return result, nil
}

// lookupComputed returns the cached computed tags of an item, fetching
// from the store only on the first request for that id.
func (p *TagPropagator) lookupComputed(
	ctx context.Context,
	itemID int64,
	memo map[int64][]string,
) ([]string, error) {
	if tags, ok := memo[itemID]; ok {
		return tags, nil
	}
	tags, err := p.items.GetComputedTags(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to load computed tags of item %d: %w", itemID, err)
	}
	memo[itemID] = tags
	return tags, nil
}

// mergeTags applies the inheritance rule for a single item: its own
// tags lowercased, the parent's computed tags minus the parent's own
// marker, plus the item's own marker. The result is sorted so the
// upsert is deterministic and idempotent.
func mergeTags(item *domain.Item, work tagWork) []string {
	set := make(map[string]struct{}, len(item.Tags)+len(work.parentTags)+1)

	for _, tag := range item.Tags {
		folded := strings.ToLower(strings.TrimSpace(tag))
		if folded != "" {
			set[folded] = struct{}{}
		}
	}

	if work.hasParent {
		parentMarker := SelfMarker(work.parentID)
		for _, tag := range work.parentTags {
			if tag == parentMarker {
				continue
			}
			set[tag] = struct{}{}
		}
	}

	set[SelfMarker(item.ID)] = struct{}{}

	out := make([]string, 0, len(set))
	for tag := range set {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}
