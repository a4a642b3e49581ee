package operation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwalkiewicz/mediary/internal/domain"
)

type recordingConverter struct {
	itemID  int64
	variant string
	payload []byte
	err     error
}

func (c *recordingConverter) Convert(
	ctx context.Context,
	itemID int64,
	variant string,
	payload []byte,
) error {
	c.itemID = itemID
	c.variant = variant
	c.payload = payload
	return c.err
}

func TestConvertMedia_Prepare(t *testing.T) {
	t.Parallel()

	t.Run("unit closes over decoded primitives", func(t *testing.T) {
		t.Parallel()

		conv := &recordingConverter{}
		impl := NewConvertMedia(conv)

		op := &domain.Operation{
			Name:    domain.OpConvertMedia,
			Status:  domain.OperationStatusProcessing,
			Extras:  json.RawMessage(`{"item_id":9,"variant":"thumbnail"}`),
			Payload: []byte{0xFF, 0xD8},
		}

		unit, err := impl.Prepare(context.Background(), op)
		require.NoError(t, err)

		require.NoError(t, unit(context.Background()))
		assert.Equal(t, int64(9), conv.itemID)
		assert.Equal(t, "thumbnail", conv.variant)
		assert.Equal(t, []byte{0xFF, 0xD8}, conv.payload)
	})

	t.Run("unit surfaces converter errors", func(t *testing.T) {
		t.Parallel()

		conv := &recordingConverter{err: errors.New("unsupported codec")}
		impl := NewConvertMedia(conv)

		op := &domain.Operation{
			Name:   domain.OpConvertMedia,
			Status: domain.OperationStatusProcessing,
			Extras: json.RawMessage(`{"item_id":9,"variant":"thumbnail"}`),
		}

		unit, err := impl.Prepare(context.Background(), op)
		require.NoError(t, err)
		assert.EqualError(t, unit(context.Background()), "unsupported codec")
	})

	t.Run("preparation failure on bad extras", func(t *testing.T) {
		t.Parallel()

		impl := NewConvertMedia(&recordingConverter{})
		op := &domain.Operation{
			Name:   domain.OpConvertMedia,
			Status: domain.OperationStatusProcessing,
			Extras: json.RawMessage(`{"variant":"thumbnail"}`),
		}

		_, err := impl.Prepare(context.Background(), op)
		assert.ErrorIs(t, err, domain.ErrMissingItemID)
	})
}

func TestReplicatePayload_Prepare(t *testing.T) {
	t.Parallel()

	t.Run("missing target is a preparation failure", func(t *testing.T) {
		t.Parallel()

		impl := NewReplicatePayload(nopTransferrer{})
		op := &domain.Operation{
			Name:    domain.OpReplicatePayload,
			Status:  domain.OperationStatusProcessing,
			Extras:  json.RawMessage(`{"item_id":3}`),
			Payload: []byte("blob"),
		}

		_, err := impl.Prepare(context.Background(), op)
		assert.Error(t, err)
	})

	t.Run("empty payload is a preparation failure", func(t *testing.T) {
		t.Parallel()

		impl := NewReplicatePayload(nopTransferrer{})
		op := &domain.Operation{
			Name:   domain.OpReplicatePayload,
			Status: domain.OperationStatusProcessing,
			Extras: json.RawMessage(`{"item_id":3,"target":"replica-2"}`),
		}

		_, err := impl.Prepare(context.Background(), op)
		assert.Error(t, err)
	})

	t.Run("valid prepare", func(t *testing.T) {
		t.Parallel()

		impl := NewReplicatePayload(nopTransferrer{})
		op := &domain.Operation{
			Name:    domain.OpReplicatePayload,
			Status:  domain.OperationStatusProcessing,
			Extras:  json.RawMessage(`{"item_id":3,"target":"replica-2"}`),
			Payload: []byte("blob"),
		}

		unit, err := impl.Prepare(context.Background(), op)
		require.NoError(t, err)
		assert.NoError(t, unit(context.Background()))
	})
}
