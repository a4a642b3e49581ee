package propagation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwalkiewicz/mediary/internal/domain"
	"github.com/mwalkiewicz/mediary/internal/store"
)

// newChain builds a 5-level chain 1 -> 2 -> 3 -> 4 -> 5 where levels
// 3 to 5 have permissions {1, 2}.
func newChain() *store.MemItemStore {
	items := store.NewMemItemStore()
	items.AddItem(&domain.Item{ID: 1, OwnerID: 10, Status: domain.ItemStatusAvailable})
	items.AddItem(&domain.Item{
		ID: 2, ParentID: int64Ptr(1), OwnerID: 10, Status: domain.ItemStatusAvailable,
	})
	for id := int64(3); id <= 5; id++ {
		parent := id - 1
		items.AddItem(&domain.Item{
			ID: id, ParentID: &parent, OwnerID: 10,
			Permissions: []int64{1, 2}, Status: domain.ItemStatusAvailable,
		})
	}
	return items
}

func perms(t *testing.T, items *store.MemItemStore, id int64) []int64 {
	t.Helper()
	item, err := items.GetItem(context.Background(), id)
	require.NoError(t, err)
	return item.Permissions
}

func TestPermissionPropagator_Delta(t *testing.T) {
	t.Parallel()

	t.Run("five level chain scenario", func(t *testing.T) {
		t.Parallel()

		items := newChain()
		p := NewPermissionPropagator(items, testLogger())

		result, err := p.Apply(context.Background(), PermissionEdit{
			ItemID:          1,
			Added:           []int64{3},
			Deleted:         []int64{2},
			ApplyToChildren: true,
			Mode:            domain.PermissionModeDelta,
		})
		require.NoError(t, err)

		for id := int64(3); id <= 5; id++ {
			assert.Equal(t, []int64{1, 3}, perms(t, items, id), "level %d", id)
		}
		assert.ElementsMatch(t, []int64{1, 2, 3}, result.Users())
	})

	t.Run("delta round trip restores original sets", func(t *testing.T) {
		t.Parallel()

		items := newChain()
		p := NewPermissionPropagator(items, testLogger())

		_, err := p.Apply(context.Background(), PermissionEdit{
			ItemID:          1,
			Added:           []int64{7},
			ApplyToChildren: true,
			Mode:            domain.PermissionModeDelta,
		})
		require.NoError(t, err)

		_, err = p.Apply(context.Background(), PermissionEdit{
			ItemID:          1,
			Deleted:         []int64{7},
			ApplyToChildren: true,
			Mode:            domain.PermissionModeDelta,
		})
		require.NoError(t, err)

		for id := int64(3); id <= 5; id++ {
			assert.Equal(t, []int64{1, 2}, perms(t, items, id), "level %d", id)
		}
	})
}

func TestPermissionPropagator_Copy(t *testing.T) {
	t.Parallel()

	// Item A (1) has children B (2, perms {1}) and C (3, perms {2, 3});
	// COPY with original {4} forces both to exactly {4} and the
	// affected set is the union of the symmetric differences.
	items := store.NewMemItemStore()
	items.AddItem(&domain.Item{ID: 1, OwnerID: 10, Status: domain.ItemStatusAvailable})
	items.AddItem(&domain.Item{
		ID: 2, ParentID: int64Ptr(1), OwnerID: 10,
		Permissions: []int64{1}, Status: domain.ItemStatusAvailable,
	})
	items.AddItem(&domain.Item{
		ID: 3, ParentID: int64Ptr(1), OwnerID: 10,
		Permissions: []int64{2, 3}, Status: domain.ItemStatusAvailable,
	})

	p := NewPermissionPropagator(items, testLogger())
	result, err := p.Apply(context.Background(), PermissionEdit{
		ItemID:          1,
		Original:        []int64{4},
		ApplyToChildren: true,
		Mode:            domain.PermissionModeCopy,
	})
	require.NoError(t, err)

	assert.Equal(t, []int64{4}, perms(t, items, 2))
	assert.Equal(t, []int64{4}, perms(t, items, 3))
	assert.ElementsMatch(t, []int64{1, 2, 3, 4}, result.Users())
}

func TestPermissionPropagator_CopyNoOpStillSaves(t *testing.T) {
	t.Parallel()

	items := store.NewMemItemStore()
	items.AddItem(&domain.Item{ID: 1, OwnerID: 10, Status: domain.ItemStatusAvailable})
	items.AddItem(&domain.Item{
		ID: 2, ParentID: int64Ptr(1), OwnerID: 10,
		Permissions: []int64{4}, Status: domain.ItemStatusAvailable,
	})

	p := NewPermissionPropagator(items, testLogger())
	result, err := p.Apply(context.Background(), PermissionEdit{
		ItemID:          1,
		Original:        []int64{4},
		ApplyToChildren: true,
		Mode:            domain.PermissionModeCopy,
	})
	require.NoError(t, err)

	// The child already matched the target set: the write is a no-op
	// and the affected delta is empty.
	assert.Equal(t, []int64{4}, perms(t, items, 2))
	assert.True(t, result.Empty())
}

func TestPermissionPropagator_Parents(t *testing.T) {
	t.Parallel()

	t.Run("applies delta rule up the chain", func(t *testing.T) {
		t.Parallel()

		items := newChain()
		p := NewPermissionPropagator(items, testLogger())

		result, err := p.Apply(context.Background(), PermissionEdit{
			ItemID:         5,
			Added:          []int64{9},
			ApplyToParents: true,
			Mode:           domain.PermissionModeDelta,
		})
		require.NoError(t, err)

		assert.Equal(t, []int64{9}, perms(t, items, 1))
		assert.Equal(t, []int64{9}, perms(t, items, 2))
		assert.Equal(t, []int64{1, 2, 9}, perms(t, items, 3))
		assert.Equal(t, []int64{1, 2, 9}, perms(t, items, 4))
		// The edited item itself is not touched by the upward pass.
		assert.Equal(t, []int64{1, 2}, perms(t, items, 5))
		assert.ElementsMatch(t, []int64{1, 2, 9}, result.Users())
	})

	t.Run("deleted ancestor halts the walk", func(t *testing.T) {
		t.Parallel()

		items := newChain()
		mid, err := items.GetItem(context.Background(), 3)
		require.NoError(t, err)
		mid.Status = domain.ItemStatusDeleted
		items.AddItem(mid)

		p := NewPermissionPropagator(items, testLogger())
		_, err = p.Apply(context.Background(), PermissionEdit{
			ItemID:         5,
			Added:          []int64{9},
			ApplyToParents: true,
			Mode:           domain.PermissionModeDelta,
		})
		require.NoError(t, err)

		// Level 4 sits below the deleted ancestor and is updated; the
		// deleted level 3 and everything above it are untouched.
		assert.Equal(t, []int64{1, 2, 9}, perms(t, items, 4))
		assert.Equal(t, []int64{1, 2}, perms(t, items, 3))
		assert.Empty(t, perms(t, items, 2))
		assert.Empty(t, perms(t, items, 1))
	})
}

func TestPermissionPropagator_DeletedChildPrunesSubtree(t *testing.T) {
	t.Parallel()

	items := newChain()
	mid, err := items.GetItem(context.Background(), 3)
	require.NoError(t, err)
	mid.Status = domain.ItemStatusDeleted
	items.AddItem(mid)

	p := NewPermissionPropagator(items, testLogger())
	_, err = p.Apply(context.Background(), PermissionEdit{
		ItemID:          1,
		Added:           []int64{9},
		ApplyToChildren: true,
		Mode:            domain.PermissionModeDelta,
	})
	require.NoError(t, err)

	assert.Equal(t, []int64{9}, perms(t, items, 2))
	// The deleted child and everything under it keep their sets.
	assert.Equal(t, []int64{1, 2}, perms(t, items, 3))
	assert.Equal(t, []int64{1, 2}, perms(t, items, 4))
	assert.Equal(t, []int64{1, 2}, perms(t, items, 5))
}

func TestPermissionPropagator_InvalidMode(t *testing.T) {
	t.Parallel()

	items := newChain()
	p := NewPermissionPropagator(items, testLogger())

	_, err := p.Apply(context.Background(), PermissionEdit{
		ItemID:          1,
		ApplyToChildren: true,
		Mode:            "merge",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidPermissionMode)
}
