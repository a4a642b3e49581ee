package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// OperationStatus represents the processing state of a background operation
type OperationStatus string

// Possible operation status values
const (
	OperationStatusCreated    OperationStatus = "created"
	OperationStatusProcessing OperationStatus = "processing"
	OperationStatusDone       OperationStatus = "done"
	OperationStatusFailed     OperationStatus = "failed"
)

// OperationName identifies an operation type. Names double as the
// dispatch key for the registry and as the allow-list entries a worker
// is configured with.
type OperationName string

// Operation name constants
const (
	// OpRebuildItemTags recomputes the computed-tags cache of an item
	// (and optionally its subtree) from its own tags and its parent's
	// computed tags.
	OpRebuildItemTags OperationName = "rebuild_item_tags"

	// OpUpdatePermissions applies a permission edit to an item's
	// ancestors and/or descendants in COPY or DELTA mode.
	OpUpdatePermissions OperationName = "update_permissions"

	// OpRebuildKnownTags refreshes the per-user tag counters for a
	// single user.
	OpRebuildKnownTags OperationName = "rebuild_known_tags"

	// OpRebuildKnownTagsAnon refreshes the tag counters visible to
	// anonymous (not logged in) visitors.
	OpRebuildKnownTagsAnon OperationName = "rebuild_known_tags_anon"

	// OpConvertMedia runs a CPU-bound media transform (thumbnailing,
	// format conversion) for a single item.
	OpConvertMedia OperationName = "convert_media"

	// OpReplicatePayload copies an operation's binary payload to a
	// replica target; may be fanned out across several workers.
	OpReplicatePayload OperationName = "replicate_payload"
)

// Common validation errors for Operation
var (
	ErrEmptyOperationName    = errors.New("operation name cannot be empty")
	ErrInvalidOperationState = errors.New("invalid operation status")
	ErrIllegalTransition     = errors.New("illegal operation status transition")
	ErrExtrasImmutable       = errors.New("operation extras are immutable after creation")
)

// Operation represents a persisted unit of background work. Serial and
// parallel operations share this shape; parallel operations additionally
// carry a binary Payload and accumulate a ProcessedBy set rather than a
// single WorkerName.
type Operation struct {
	ID     int64           `json:"id"`
	Name   OperationName   `json:"name"`
	Status OperationStatus `json:"status"`

	// Extras is the operation-specific argument document. It is decoded
	// only by the matching operation implementation and never mutated
	// after the operation is enqueued.
	Extras json.RawMessage `json:"extras"`

	// Log is an append-only free-text trail; error messages accumulate
	// with newline separators.
	Log string `json:"log"`

	// WorkerName records the single owner of a serial operation.
	WorkerName string `json:"worker_name,omitempty"`

	// ProcessedBy records every worker that attempted a parallel
	// operation, successful or not.
	ProcessedBy []string `json:"processed_by,omitempty"`

	// Payload is the binary blob a parallel unit of work closes over.
	Payload []byte `json:"-"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// NewOperation creates a new Operation in the created state with the
// given name and extras document. The ID is zero until the store
// assigns one on persistence.
func NewOperation(name OperationName, extras json.RawMessage) (*Operation, error) {
	if name == "" {
		return nil, ErrEmptyOperationName
	}

	now := time.Now().UTC()
	return &Operation{
		Name:      name,
		Status:    OperationStatusCreated,
		Extras:    extras,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// isValidOperationStatus checks if the given status is one of the
// defined operation status values.
func isValidOperationStatus(status OperationStatus) bool {
	switch status {
	case OperationStatusCreated,
		OperationStatusProcessing,
		OperationStatusDone,
		OperationStatusFailed:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether moving from the operation's current
// status to the target status is legal. The only legal paths are
// created -> processing -> done and created -> processing -> failed;
// done and failed are terminal.
func (o *Operation) CanTransitionTo(target OperationStatus) bool {
	switch o.Status {
	case OperationStatusCreated:
		return target == OperationStatusProcessing
	case OperationStatusProcessing:
		return target == OperationStatusDone || target == OperationStatusFailed
	default:
		return false
	}
}

// TransitionTo moves the operation to the target status, stamping the
// relevant timestamps. Returns ErrIllegalTransition if the move is not
// allowed by the status machine.
func (o *Operation) TransitionTo(target OperationStatus) error {
	if !isValidOperationStatus(target) {
		return fmt.Errorf("%w: %q", ErrInvalidOperationState, target)
	}
	if !o.CanTransitionTo(target) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, o.Status, target)
	}

	now := time.Now().UTC()
	switch target {
	case OperationStatusProcessing:
		o.StartedAt = &now
	case OperationStatusDone, OperationStatusFailed:
		o.EndedAt = &now
	}
	o.Status = target
	o.UpdatedAt = now
	return nil
}

// AppendLog appends a line to the operation's free-text trail. Lines
// are separated with a single newline; empty messages are ignored.
func (o *Operation) AppendLog(msg string) {
	if msg == "" {
		return
	}
	if o.Log == "" {
		o.Log = msg
		return
	}
	o.Log = o.Log + "\n" + msg
}

// RecordWorker adds workerName to the ProcessedBy set if it is not
// already present. Used by the parallel processor, which may see the
// same operation attempted by several workers.
func (o *Operation) RecordWorker(workerName string) {
	for _, w := range o.ProcessedBy {
		if w == workerName {
			return
		}
	}
	o.ProcessedBy = append(o.ProcessedBy, workerName)
}

// Validate checks if the Operation has valid data.
func (o *Operation) Validate() error {
	if o.Name == "" {
		return ErrEmptyOperationName
	}
	if !isValidOperationStatus(o.Status) {
		return fmt.Errorf("%w: %q", ErrInvalidOperationState, o.Status)
	}
	return nil
}
