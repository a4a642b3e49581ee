package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// PermissionMode selects how a permission edit is applied to children.
type PermissionMode string

// Possible permission propagation modes
const (
	// PermissionModeCopy forces every descendant's permission set to
	// exactly match the edited item's pre-edit set.
	PermissionModeCopy PermissionMode = "copy"

	// PermissionModeDelta applies the added/deleted edit relative to
	// each descendant's current permission set.
	PermissionModeDelta PermissionMode = "delta"
)

// Common extras decoding errors
var (
	ErrMissingItemID         = errors.New("extras missing item_id")
	ErrInvalidPermissionMode = errors.New("invalid permission propagation mode")
)

// UpdatePermissionsExtras carries the arguments of an
// update_permissions operation.
type UpdatePermissionsExtras struct {
	ItemID  int64   `json:"item_id"`
	Added   []int64 `json:"added"`
	Deleted []int64 `json:"deleted"`

	// Original is the full permission set before the edit; consulted
	// only in COPY mode.
	Original []int64 `json:"original"`

	ApplyToParents    bool           `json:"apply_to_parents"`
	ApplyToChildren   bool           `json:"apply_to_children"`
	ApplyToChildrenAs PermissionMode `json:"apply_to_children_as"`
}

// Validate checks the decoded extras for structural problems.
func (e *UpdatePermissionsExtras) Validate() error {
	if e.ItemID == 0 {
		return ErrMissingItemID
	}
	if e.ApplyToChildren {
		switch e.ApplyToChildrenAs {
		case PermissionModeCopy, PermissionModeDelta:
		default:
			return fmt.Errorf("%w: %q", ErrInvalidPermissionMode, e.ApplyToChildrenAs)
		}
	}
	return nil
}

// RebuildItemTagsExtras carries the arguments of a rebuild_item_tags
// operation.
type RebuildItemTagsExtras struct {
	ItemID             int64 `json:"item_id"`
	ApplyToChildren    bool  `json:"apply_to_children"`
	ApplyToOwner       bool  `json:"apply_to_owner"`
	ApplyToPermissions bool  `json:"apply_to_permissions"`
	ApplyToAnon        bool  `json:"apply_to_anon"`
}

// Validate checks the decoded extras for structural problems.
func (e *RebuildItemTagsExtras) Validate() error {
	if e.ItemID == 0 {
		return ErrMissingItemID
	}
	return nil
}

// RebuildKnownTagsExtras carries the arguments of a rebuild_known_tags
// operation. The anonymous variant carries no extras at all.
type RebuildKnownTagsExtras struct {
	UserID int64 `json:"user_id"`
}

// ConvertMediaExtras carries the arguments of a convert_media
// operation. The transform itself is an external capability; the
// extras only name the item and the requested variant.
type ConvertMediaExtras struct {
	ItemID  int64  `json:"item_id"`
	Variant string `json:"variant"`
}

// Validate checks the decoded extras for structural problems.
func (e *ConvertMediaExtras) Validate() error {
	if e.ItemID == 0 {
		return ErrMissingItemID
	}
	return nil
}

// ReplicatePayloadExtras carries the arguments of a replicate_payload
// operation. The bytes travel in the operation's Payload column, not
// in the extras document.
type ReplicatePayloadExtras struct {
	ItemID int64  `json:"item_id"`
	Target string `json:"target"`
}

// DecodeExtras unmarshals an operation's extras document into the
// given typed extras struct.
func DecodeExtras(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		return errors.New("empty extras document")
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("failed to decode extras: %w", err)
	}
	return nil
}

// EncodeExtras marshals a typed extras struct into the flat JSON
// document persisted with the operation.
func EncodeExtras(extras any) (json.RawMessage, error) {
	raw, err := json.Marshal(extras)
	if err != nil {
		return nil, fmt.Errorf("failed to encode extras: %w", err)
	}
	return raw, nil
}
