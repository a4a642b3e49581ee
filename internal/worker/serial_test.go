package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwalkiewicz/mediary/internal/domain"
	"github.com/mwalkiewicz/mediary/internal/operation"
	"github.com/mwalkiewicz/mediary/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubSerial is a registrable serial implementation whose behavior the
// test controls.
type stubSerial struct {
	name domain.OperationName
	fn   func(ctx context.Context, op *domain.Operation, s *store.TxStores) error
}

func (o *stubSerial) Name() domain.OperationName { return o.name }

func (o *stubSerial) Execute(ctx context.Context, op *domain.Operation, s *store.TxStores) error {
	return o.fn(ctx, op, s)
}

type serialFixture struct {
	lock       *store.MemLockStore
	ops        *store.MemOperationStore
	items      *store.MemItemStore
	transactor *store.MemTransactor
}

func newSerialFixture() *serialFixture {
	lock := store.NewMemLockStore()
	ops := store.NewMemOperationStore()
	ops.Lock = lock
	items := store.NewMemItemStore()
	return &serialFixture{
		lock:       lock,
		ops:        ops,
		items:      items,
		transactor: store.NewMemTransactor(ops, items),
	}
}

func (f *serialFixture) processor(t *testing.T, registry *operation.Registry, supported []domain.OperationName) *SerialProcessor {
	t.Helper()
	return NewSerialProcessor(SerialProcessorConfig{
		WorkerName: "w1",
		Lock:       f.lock,
		Operations: f.ops,
		Transactor: f.transactor,
		Registry:   registry,
		Supported:  supported,
		InputBatch: 10,
	}, discardLogger())
}

func TestSerialProcessor_ProcessOne_Done(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newSerialFixture()
	registry := operation.DefaultRegistry(discardLogger(), operation.Capabilities{})

	id, err := f.ops.Enqueue(ctx, domain.OpRebuildKnownTags, json.RawMessage(`{"user_id":7}`))
	require.NoError(t, err)

	p := f.processor(t, registry, []domain.OperationName{domain.OpRebuildKnownTags})
	held, err := p.AcquireLock(ctx)
	require.NoError(t, err)
	require.True(t, held)

	didWork, err := p.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, didWork)

	op, err := f.ops.GetOperation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.OperationStatusDone, op.Status)
	assert.Equal(t, "w1", op.WorkerName)
	assert.Contains(t, op.Log, "done by w1")
	assert.NotNil(t, op.StartedAt)
	assert.NotNil(t, op.EndedAt)
	assert.Equal(t, 1, f.items.KnownTagRebuilds[7])
}

func TestSerialProcessor_ProcessOne_Idle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newSerialFixture()
	registry := operation.DefaultRegistry(discardLogger(), operation.Capabilities{})

	p := f.processor(t, registry, registry.SerialNames())
	held, err := p.AcquireLock(ctx)
	require.NoError(t, err)
	require.True(t, held)

	didWork, err := p.ProcessOne(ctx)
	require.NoError(t, err)
	assert.False(t, didWork)
}

func TestSerialProcessor_ProcessOne_WithoutLockPanics(t *testing.T) {
	t.Parallel()

	f := newSerialFixture()
	registry := operation.DefaultRegistry(discardLogger(), operation.Capabilities{})
	p := f.processor(t, registry, registry.SerialNames())

	assert.Panics(t, func() {
		_, _ = p.ProcessOne(context.Background())
	})
}

// A claimed operation whose name resolves to a parallel implementation
// (or to nothing at all) fails alone; the loop keeps going.
func TestSerialProcessor_UnknownOperation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newSerialFixture()
	registry := operation.DefaultRegistry(discardLogger(), operation.Capabilities{})

	id, err := f.ops.Enqueue(ctx, domain.OpConvertMedia, json.RawMessage(`{"item_id":1}`))
	require.NoError(t, err)

	p := f.processor(t, registry, []domain.OperationName{domain.OpConvertMedia})
	held, err := p.AcquireLock(ctx)
	require.NoError(t, err)
	require.True(t, held)

	didWork, err := p.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, didWork, "a claim was made even though execution failed")

	op, err := f.ops.GetOperation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.OperationStatusFailed, op.Status)
	assert.NotEmpty(t, op.Log)
	assert.NotNil(t, op.EndedAt)
}

func TestSerialProcessor_ExecutionFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newSerialFixture()

	registry := operation.NewRegistry()
	registry.MustRegister(&stubSerial{
		name: domain.OpRebuildItemTags,
		fn: func(ctx context.Context, op *domain.Operation, s *store.TxStores) error {
			return errors.New("item vanished mid-rebuild")
		},
	})

	id, err := f.ops.Enqueue(ctx, domain.OpRebuildItemTags, json.RawMessage(`{"item_id":1}`))
	require.NoError(t, err)

	p := f.processor(t, registry, []domain.OperationName{domain.OpRebuildItemTags})
	held, err := p.AcquireLock(ctx)
	require.NoError(t, err)
	require.True(t, held)

	didWork, err := p.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, didWork)

	op, err := f.ops.GetOperation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.OperationStatusFailed, op.Status)
	assert.Contains(t, op.Log, "item vanished mid-rebuild")
}

func TestSerialProcessor_PanicIsContained(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newSerialFixture()

	registry := operation.NewRegistry()
	registry.MustRegister(&stubSerial{
		name: domain.OpRebuildItemTags,
		fn: func(ctx context.Context, op *domain.Operation, s *store.TxStores) error {
			panic("boom")
		},
	})

	id, err := f.ops.Enqueue(ctx, domain.OpRebuildItemTags, json.RawMessage(`{"item_id":1}`))
	require.NoError(t, err)

	p := f.processor(t, registry, []domain.OperationName{domain.OpRebuildItemTags})
	held, err := p.AcquireLock(ctx)
	require.NoError(t, err)
	require.True(t, held)

	assert.NotPanics(t, func() {
		didWork, err := p.ProcessOne(ctx)
		require.NoError(t, err)
		assert.True(t, didWork)
	})

	op, err := f.ops.GetOperation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.OperationStatusFailed, op.Status)
	assert.Contains(t, op.Log, "panicked")
}

// When the lock is force-released out from under a worker, its claims
// start failing and the cycle ends idle without touching any operation.
func TestSerialProcessor_LostLockStopsClaims(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newSerialFixture()
	registry := operation.DefaultRegistry(discardLogger(), operation.Capabilities{})

	for i := 0; i < 3; i++ {
		_, err := f.ops.Enqueue(ctx, domain.OpRebuildKnownTags, json.RawMessage(`{"user_id":1}`))
		require.NoError(t, err)
	}

	p := f.processor(t, registry, []domain.OperationName{domain.OpRebuildKnownTags})
	held, err := p.AcquireLock(ctx)
	require.NoError(t, err)
	require.True(t, held)

	f.lock.ForceRelease()

	didWork, err := p.ProcessOne(ctx)
	require.NoError(t, err)
	assert.False(t, didWork)

	for _, op := range f.ops.Operations() {
		assert.Equal(t, domain.OperationStatusCreated, op.Status)
	}
}

func TestSerialProcessor_ReleaseLock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newSerialFixture()
	registry := operation.DefaultRegistry(discardLogger(), operation.Capabilities{})

	p := f.processor(t, registry, registry.SerialNames())
	held, err := p.AcquireLock(ctx)
	require.NoError(t, err)
	require.True(t, held)
	assert.Equal(t, "w1", f.lock.Owner())

	require.NoError(t, p.ReleaseLock(ctx))
	assert.Empty(t, f.lock.Owner())

	// Releasing again is a no-op.
	require.NoError(t, p.ReleaseLock(ctx))
}
