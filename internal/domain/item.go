package domain

import (
	"errors"
	"time"
)

// ItemStatus represents the lifecycle state of a collection item
type ItemStatus string

// Possible item status values
const (
	ItemStatusAvailable ItemStatus = "available"
	ItemStatusDeleted   ItemStatus = "deleted"
)

// Common validation errors for Item
var (
	ErrSelfParent = errors.New("item cannot be its own parent")
)

// Item is a node of the media-collection tree: either a collection or
// a leaf media record. The operation engine consumes items owned by
// the surrounding CRUD system; it only ever reads tree structure and
// writes tags, permissions and the computed-tags cache.
type Item struct {
	ID int64 `json:"id"`

	// ParentID is nil for root items; parent links strictly define a
	// forest (no cycles by construction).
	ParentID *int64 `json:"parent_id,omitempty"`

	OwnerID int64 `json:"owner_id"`

	// Permissions is the set of user ids allowed to see the item.
	Permissions []int64 `json:"permissions"`

	// Tags are the item's own literal tags, before inheritance.
	Tags []string `json:"tags"`

	Status    ItemStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Deleted reports whether the item has been soft-deleted. Deleted
// items halt upward permission walks and are pruned from downward
// traversals together with their subtrees.
func (i *Item) Deleted() bool {
	return i.Status == ItemStatusDeleted
}

// Validate checks if the Item has structurally valid data.
func (i *Item) Validate() error {
	if i.ParentID != nil && *i.ParentID == i.ID {
		return ErrSelfParent
	}
	return nil
}
