package operation

import (
	"context"
	"fmt"

	"github.com/mwalkiewicz/mediary/internal/domain"
	"github.com/mwalkiewicz/mediary/internal/store"
)

// Converter is the external media-conversion capability the parallel
// worker invokes. The byte-level transform logic lives outside the
// engine.
type Converter interface {
	Convert(ctx context.Context, itemID int64, variant string, payload []byte) error
}

// Transferrer copies an operation's binary payload to a replica
// target.
type Transferrer interface {
	Transfer(ctx context.Context, target string, itemID int64, payload []byte) error
}

// ConvertMedia is the convert_media parallel operation: a CPU-bound
// transform of an item's media bytes.
type ConvertMedia struct {
	converter Converter
}

// NewConvertMedia creates the convert_media implementation over the
// given converter capability.
func NewConvertMedia(converter Converter) *ConvertMedia {
	return &ConvertMedia{converter: converter}
}

// Name implements Implementation.
func (o *ConvertMedia) Name() domain.OperationName {
	return domain.OpConvertMedia
}

// Prepare implements Parallel. The returned unit closes over the
// decoded primitives and the payload bytes only.
func (o *ConvertMedia) Prepare(
	ctx context.Context,
	op *domain.Operation,
) (UnitOfWork, error) {
	var extras domain.ConvertMediaExtras
	if err := domain.DecodeExtras(op.Extras, &extras); err != nil {
		return nil, err
	}
	if err := extras.Validate(); err != nil {
		return nil, err
	}

	itemID := extras.ItemID
	variant := extras.Variant
	payload := op.Payload
	converter := o.converter

	return func(ctx context.Context) error {
		return converter.Convert(ctx, itemID, variant, payload)
	}, nil
}

// ReplicatePayload is the replicate_payload parallel operation: an
// IO-bound transfer of an operation's payload blob. It is the fan-out
// operation the minimal-completion threshold exists for.
type ReplicatePayload struct {
	transferrer Transferrer
}

// NewReplicatePayload creates the replicate_payload implementation
// over the given transfer capability.
func NewReplicatePayload(transferrer Transferrer) *ReplicatePayload {
	return &ReplicatePayload{transferrer: transferrer}
}

// Name implements Implementation.
func (o *ReplicatePayload) Name() domain.OperationName {
	return domain.OpReplicatePayload
}

// FanOut implements FanOut. Replication is only durable once enough
// distinct workers transferred the payload.
func (o *ReplicatePayload) FanOut() bool { return true }

// Prepare implements Parallel.
func (o *ReplicatePayload) Prepare(
	ctx context.Context,
	op *domain.Operation,
) (UnitOfWork, error) {
	var extras domain.ReplicatePayloadExtras
	if err := domain.DecodeExtras(op.Extras, &extras); err != nil {
		return nil, err
	}
	if extras.Target == "" {
		return nil, fmt.Errorf("%w: missing replica target", store.ErrInvalidEntity)
	}
	if len(op.Payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", store.ErrInvalidEntity)
	}

	itemID := extras.ItemID
	target := extras.Target
	payload := op.Payload
	transferrer := o.transferrer

	return func(ctx context.Context) error {
		return transferrer.Transfer(ctx, target, itemID, payload)
	}, nil
}

// Interface conformance checks.
var (
	_ Parallel = (*ConvertMedia)(nil)
	_ Parallel = (*ReplicatePayload)(nil)
	_ FanOut   = (*ReplicatePayload)(nil)
)
