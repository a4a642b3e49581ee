package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwalkiewicz/mediary/internal/domain"
	"github.com/mwalkiewicz/mediary/internal/operation"
	"github.com/mwalkiewicz/mediary/internal/store"
)

// stubConverter fails or panics for chosen item ids.
type stubConverter struct {
	failItem  int64
	panicItem int64
}

func (c *stubConverter) Convert(ctx context.Context, itemID int64, variant string, payload []byte) error {
	if itemID == c.panicItem {
		panic("converter crashed")
	}
	if itemID == c.failItem {
		return fmt.Errorf("unsupported codec for item %d", itemID)
	}
	return nil
}

type stubTransferrer struct{}

func (t *stubTransferrer) Transfer(ctx context.Context, target string, itemID int64, payload []byte) error {
	return nil
}

type parallelFixture struct {
	ops        *store.MemOperationStore
	items      *store.MemItemStore
	transactor *store.MemTransactor
}

func newParallelFixture() *parallelFixture {
	ops := store.NewMemOperationStore()
	items := store.NewMemItemStore()
	return &parallelFixture{
		ops:        ops,
		items:      items,
		transactor: store.NewMemTransactor(ops, items),
	}
}

func (f *parallelFixture) processor(
	t *testing.T,
	workerName string,
	registry *operation.Registry,
	minimalCompletion int,
) *ParallelProcessor {
	t.Helper()
	return NewParallelProcessor(ParallelProcessorConfig{
		WorkerName:        workerName,
		Operations:        f.ops,
		Transactor:        f.transactor,
		Registry:          registry,
		Supported:         registry.ParallelNames(),
		InputBatch:        8,
		PoolSize:          2,
		MinimalCompletion: minimalCompletion,
	}, discardLogger())
}

// One batch of four conversions where the second unit fails: the three
// good ones finish done, the bad one finishes failed with the captured
// error, and every attempt is recorded in processed_by.
func TestParallelProcessor_ProcessBatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newParallelFixture()
	registry := operation.DefaultRegistry(discardLogger(), operation.Capabilities{
		Converter: &stubConverter{failItem: 2},
	})

	ids := make(map[int64]int64, 4)
	for item := int64(1); item <= 4; item++ {
		extras := json.RawMessage(fmt.Sprintf(`{"item_id":%d,"variant":"thumb"}`, item))
		id, err := f.ops.Enqueue(ctx, domain.OpConvertMedia, extras)
		require.NoError(t, err)
		ids[item] = id
	}

	p := f.processor(t, "w1", registry, 1)
	didWork, err := p.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.True(t, didWork)

	for item, id := range ids {
		op, err := f.ops.GetOperation(ctx, id)
		require.NoError(t, err)

		if item == 2 {
			assert.Equal(t, domain.OperationStatusFailed, op.Status)
			assert.Contains(t, op.Log, "unsupported codec")
		} else {
			assert.Equal(t, domain.OperationStatusDone, op.Status, "item %d", item)
			assert.Contains(t, op.Log, "done by w1")
		}
		assert.Equal(t, []string{"w1"}, op.ProcessedBy)
		assert.NotNil(t, op.EndedAt)
	}
}

func TestParallelProcessor_Idle(t *testing.T) {
	t.Parallel()

	f := newParallelFixture()
	registry := operation.DefaultRegistry(discardLogger(), operation.Capabilities{
		Converter: &stubConverter{},
	})

	p := f.processor(t, "w1", registry, 1)
	didWork, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.False(t, didWork)
}

// A preparation failure marks the operation failed before it ever
// reaches the pool, so no attempting worker is recorded.
func TestParallelProcessor_PreparationFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newParallelFixture()
	registry := operation.DefaultRegistry(discardLogger(), operation.Capabilities{
		Converter: &stubConverter{},
	})

	id, err := f.ops.Enqueue(ctx, domain.OpConvertMedia, json.RawMessage(`{}`))
	require.NoError(t, err)

	p := f.processor(t, "w1", registry, 1)
	didWork, err := p.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.True(t, didWork)

	op, err := f.ops.GetOperation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.OperationStatusFailed, op.Status)
	assert.NotEmpty(t, op.Log)
	assert.Empty(t, op.ProcessedBy)
}

func TestParallelProcessor_PanicInUnit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newParallelFixture()
	registry := operation.DefaultRegistry(discardLogger(), operation.Capabilities{
		Converter: &stubConverter{panicItem: 5},
	})

	id, err := f.ops.Enqueue(ctx, domain.OpConvertMedia, json.RawMessage(`{"item_id":5}`))
	require.NoError(t, err)

	p := f.processor(t, "w1", registry, 1)
	didWork, err := p.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.True(t, didWork)

	op, err := f.ops.GetOperation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.OperationStatusFailed, op.Status)
	assert.Contains(t, op.Log, "panicked")
	assert.Equal(t, []string{"w1"}, op.ProcessedBy)
}

// An operation registered as serial cannot be run by the parallel
// processor; it fails alone without stopping the batch.
func TestParallelProcessor_KindMismatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newParallelFixture()
	registry := operation.DefaultRegistry(discardLogger(), operation.Capabilities{
		Converter: &stubConverter{},
	})

	id, err := f.ops.Enqueue(ctx, domain.OpRebuildKnownTags, json.RawMessage(`{"user_id":1}`))
	require.NoError(t, err)

	p := NewParallelProcessor(ParallelProcessorConfig{
		WorkerName: "w1",
		Operations: f.ops,
		Transactor: f.transactor,
		Registry:   registry,
		Supported:  []domain.OperationName{domain.OpRebuildKnownTags},
		InputBatch: 8,
		PoolSize:   2,
	}, discardLogger())

	didWork, err := p.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.True(t, didWork)

	op, err := f.ops.GetOperation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.OperationStatusFailed, op.Status)
}

// A fan-out operation stays processing until enough distinct workers
// succeeded, then the final success completes it.
func TestParallelProcessor_MinimalCompletion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newParallelFixture()
	registry := operation.DefaultRegistry(discardLogger(), operation.Capabilities{
		Transferrer: &stubTransferrer{},
	})

	id, err := f.ops.Enqueue(ctx, domain.OpReplicatePayload,
		json.RawMessage(`{"item_id":1,"target":"replica-eu"}`))
	require.NoError(t, err)
	f.ops.SetPayload(id, []byte("blob"))

	w1 := f.processor(t, "w1", registry, 2)
	w2 := f.processor(t, "w2", registry, 2)

	didWork, err := w1.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.True(t, didWork)

	op, err := f.ops.GetOperation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.OperationStatusProcessing, op.Status)
	assert.Equal(t, []string{"w1"}, op.ProcessedBy)

	// The same worker never re-claims its own below-threshold attempt.
	didWork, err = w1.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.False(t, didWork)

	didWork, err = w2.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.True(t, didWork)

	op, err = f.ops.GetOperation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.OperationStatusDone, op.Status)
	assert.ElementsMatch(t, []string{"w1", "w2"}, op.ProcessedBy)

	didWork, err = w2.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.False(t, didWork)
}
