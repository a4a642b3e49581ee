package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwalkiewicz/mediary/internal/domain"
)

func TestMemLockStore_MutualExclusion(t *testing.T) {
	t.Parallel()

	lock := NewMemLockStore()

	// Many goroutines race for the lock; at most one take may succeed
	// while the row is held.
	const contenders = 32
	var wg sync.WaitGroup
	winners := make(chan string, contenders)

	for i := 0; i < contenders; i++ {
		name := string(rune('a' + i%26))
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			ok, err := lock.TakeSerialLock(context.Background(), worker)
			assert.NoError(t, err)
			if ok {
				winners <- worker
			}
		}(name + "-worker")
	}
	wg.Wait()
	close(winners)

	var held []string
	for w := range winners {
		held = append(held, w)
	}
	require.Len(t, held, 1)
	assert.Equal(t, held[0], lock.Owner())
}

func TestMemLockStore_Release(t *testing.T) {
	t.Parallel()

	lock := NewMemLockStore()

	ok, err := lock.TakeSerialLock(context.Background(), "w1")
	require.NoError(t, err)
	require.True(t, ok)

	// Only the owner may release.
	released, err := lock.ReleaseSerialLock(context.Background(), "w2")
	require.NoError(t, err)
	assert.False(t, released)
	assert.Equal(t, "w1", lock.Owner())

	released, err = lock.ReleaseSerialLock(context.Background(), "w1")
	require.NoError(t, err)
	assert.True(t, released)

	// Freed lock can be taken again.
	ok, err = lock.TakeSerialLock(context.Background(), "w2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemOperationStore_SerialClaimProtocol(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ops := NewMemOperationStore()
	names := []domain.OperationName{domain.OpRebuildItemTags}

	id1, err := ops.Enqueue(ctx, domain.OpRebuildItemTags, json.RawMessage(`{"item_id":1}`))
	require.NoError(t, err)
	id2, err := ops.Enqueue(ctx, domain.OpRebuildItemTags, json.RawMessage(`{"item_id":2}`))
	require.NoError(t, err)

	t.Run("oldest first", func(t *testing.T) {
		op, err := ops.NextSerialOperation(ctx, names, nil)
		require.NoError(t, err)
		require.NotNil(t, op)
		assert.Equal(t, id1, op.ID)
	})

	t.Run("skip set moves to next candidate", func(t *testing.T) {
		op, err := ops.NextSerialOperation(ctx, names, []int64{id1})
		require.NoError(t, err)
		require.NotNil(t, op)
		assert.Equal(t, id2, op.ID)
	})

	t.Run("name allow-list filters", func(t *testing.T) {
		op, err := ops.NextSerialOperation(ctx, []domain.OperationName{domain.OpConvertMedia}, nil)
		require.NoError(t, err)
		assert.Nil(t, op)
	})

	t.Run("claim is conditional", func(t *testing.T) {
		claimed, err := ops.ClaimSerialOperation(ctx, id1, "w1")
		require.NoError(t, err)
		assert.True(t, claimed)

		// Second claim of the same operation loses the race.
		claimed, err = ops.ClaimSerialOperation(ctx, id1, "w2")
		require.NoError(t, err)
		assert.False(t, claimed)
	})

	t.Run("claim requires lock when coupled", func(t *testing.T) {
		lock := NewMemLockStore()
		locked := NewMemOperationStore()
		locked.Lock = lock

		id, err := locked.Enqueue(ctx, domain.OpRebuildItemTags, json.RawMessage(`{}`))
		require.NoError(t, err)

		claimed, err := locked.ClaimSerialOperation(ctx, id, "w1")
		require.NoError(t, err)
		assert.False(t, claimed, "claim must fail without the serial lock")

		_, err = lock.TakeSerialLock(ctx, "w1")
		require.NoError(t, err)
		claimed, err = locked.ClaimSerialOperation(ctx, id, "w1")
		require.NoError(t, err)
		assert.True(t, claimed)
	})
}

func TestMemOperationStore_ClaimParallelBatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ops := NewMemOperationStore()
	names := []domain.OperationName{domain.OpConvertMedia}

	for i := 0; i < 5; i++ {
		_, err := ops.Enqueue(ctx, domain.OpConvertMedia, json.RawMessage(`{"item_id":1}`))
		require.NoError(t, err)
	}

	batch, err := ops.ClaimParallelBatch(ctx, "w1", names, 3)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	for _, op := range batch {
		assert.Equal(t, domain.OperationStatusProcessing, op.Status)
		assert.NotNil(t, op.StartedAt)
	}

	// The remaining two are claimed next; claimed ones are not returned
	// again.
	batch, err = ops.ClaimParallelBatch(ctx, "w2", names, 3)
	require.NoError(t, err)
	assert.Len(t, batch, 2)

	batch, err = ops.ClaimParallelBatch(ctx, "w3", names, 3)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestMemItemStore_GetParentsCycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	items := NewMemItemStore()

	// 1 <-> 2 parent cycle, as a concurrent reparent could produce.
	one, two := int64(1), int64(2)
	items.AddItem(&domain.Item{ID: 1, ParentID: &two, OwnerID: 10, Status: domain.ItemStatusAvailable})
	items.AddItem(&domain.Item{ID: 2, ParentID: &one, OwnerID: 10, Status: domain.ItemStatusAvailable})

	parents, err := items.GetParents(ctx, 1)
	require.NoError(t, err)

	// The chain terminates once an ancestor repeats.
	require.Len(t, parents, 1)
	assert.Equal(t, int64(2), parents[0].ID)
}
