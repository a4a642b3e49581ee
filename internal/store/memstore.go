package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/mwalkiewicz/mediary/internal/domain"
)

// MemLockStore implements LockStore in memory for testing. The
// conditional-update discipline of the real lock row is reproduced
// with a mutex around the owner field.
type MemLockStore struct {
	mutex sync.Mutex
	owner string
}

// NewMemLockStore creates an unheld in-memory serial lock.
func NewMemLockStore() *MemLockStore {
	return &MemLockStore{}
}

// TakeSerialLock acquires the lock iff it is currently free.
func (s *MemLockStore) TakeSerialLock(ctx context.Context, workerName string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.owner != "" {
		return false, nil
	}
	s.owner = workerName
	return true, nil
}

// ReleaseSerialLock releases the lock iff workerName currently owns it.
func (s *MemLockStore) ReleaseSerialLock(ctx context.Context, workerName string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.owner != workerName {
		return false, nil
	}
	s.owner = ""
	return true, nil
}

// Owner returns the current lock holder, empty when free.
func (s *MemLockStore) Owner() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.owner
}

// ForceRelease clears the lock regardless of owner, simulating an
// operator force-releasing a stuck lock out from under a worker.
func (s *MemLockStore) ForceRelease() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.owner = ""
}

// MemOperationStore implements OperationStore in memory for testing.
// Individual methods can be overridden through the Fn fields, following
// the same pattern the engine's processor tests rely on.
type MemOperationStore struct {
	mutex  sync.RWMutex
	nextID int64
	ops    map[int64]*domain.Operation

	// Lock optionally couples serial claims to lock ownership, matching
	// the SQL store's claim predicate: a worker that does not hold the
	// serial lock cannot claim serial operations.
	Lock *MemLockStore

	SaveFn    func(ctx context.Context, op *domain.Operation) error
	EnqueueFn func(ctx context.Context, name domain.OperationName, extras json.RawMessage) (int64, error)
}

// NewMemOperationStore creates an empty in-memory operation store.
func NewMemOperationStore() *MemOperationStore {
	return &MemOperationStore{ops: make(map[int64]*domain.Operation)}
}

func nameInSet(name domain.OperationName, names []domain.OperationName) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func workerInSet(worker string, workers []string) bool {
	for _, w := range workers {
		if w == worker {
			return true
		}
	}
	return false
}

// NextSerialOperation returns the oldest created operation matching the
// name allow-list, skipping the given ids. Returns (nil, nil) when no
// candidate exists.
func (s *MemOperationStore) NextSerialOperation(
	ctx context.Context,
	names []domain.OperationName,
	skipIDs []int64,
) (*domain.Operation, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	skip := make(map[int64]struct{}, len(skipIDs))
	for _, id := range skipIDs {
		skip[id] = struct{}{}
	}

	var best *domain.Operation
	for _, op := range s.ops {
		if op.Status != domain.OperationStatusCreated || !nameInSet(op.Name, names) {
			continue
		}
		if _, skipped := skip[op.ID]; skipped {
			continue
		}
		if best == nil || op.ID < best.ID {
			best = op
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

// ClaimSerialOperation performs the conditional created->processing
// flip, returning false when the operation is missing or already
// claimed.
func (s *MemOperationStore) ClaimSerialOperation(
	ctx context.Context,
	id int64,
	workerName string,
) (bool, error) {
	if s.Lock != nil && s.Lock.Owner() != workerName {
		return false, nil
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	op, ok := s.ops[id]
	if !ok || op.Status != domain.OperationStatusCreated {
		return false, nil
	}

	now := time.Now().UTC()
	op.Status = domain.OperationStatusProcessing
	op.WorkerName = workerName
	op.StartedAt = &now
	op.UpdatedAt = now
	return true, nil
}

// ClaimParallelBatch claims up to batchSize operations matching the
// allow-list, flipping each to processing. Besides created operations
// it also returns processing fan-out operations that already carry at
// least one recorded success from another worker, so a below-threshold
// operation keeps circulating until enough distinct workers ran it.
func (s *MemOperationStore) ClaimParallelBatch(
	ctx context.Context,
	workerName string,
	names []domain.OperationName,
	batchSize int,
) ([]*domain.Operation, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var candidates []*domain.Operation
	for _, op := range s.ops {
		if !nameInSet(op.Name, names) {
			continue
		}
		switch {
		case op.Status == domain.OperationStatusCreated:
			candidates = append(candidates, op)
		case op.Status == domain.OperationStatusProcessing &&
			len(op.ProcessedBy) > 0 && !workerInSet(workerName, op.ProcessedBy):
			candidates = append(candidates, op)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
	if len(candidates) > batchSize {
		candidates = candidates[:batchSize]
	}

	now := time.Now().UTC()
	claimed := make([]*domain.Operation, 0, len(candidates))
	for _, op := range candidates {
		op.Status = domain.OperationStatusProcessing
		if op.StartedAt == nil {
			op.StartedAt = &now
		}
		op.WorkerName = workerName
		op.UpdatedAt = now
		cp := *op
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

// SaveOperation upserts the operation's current state.
func (s *MemOperationStore) SaveOperation(ctx context.Context, op *domain.Operation) error {
	if s.SaveFn != nil {
		return s.SaveFn(ctx, op)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	cp := *op
	s.ops[op.ID] = &cp
	return nil
}

// Enqueue persists a new created operation and assigns it the next id.
func (s *MemOperationStore) Enqueue(
	ctx context.Context,
	name domain.OperationName,
	extras json.RawMessage,
) (int64, error) {
	if s.EnqueueFn != nil {
		return s.EnqueueFn(ctx, name, extras)
	}

	op, err := domain.NewOperation(name, extras)
	if err != nil {
		return 0, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.nextID++
	op.ID = s.nextID
	s.ops[op.ID] = op
	return op.ID, nil
}

// SetPayload attaches a binary payload to a stored operation. Test
// fixtures use this in place of the upload path the engine does not
// own.
func (s *MemOperationStore) SetPayload(id int64, payload []byte) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if op, ok := s.ops[id]; ok {
		op.Payload = append([]byte(nil), payload...)
	}
}

// GetOperation loads a single operation by id.
func (s *MemOperationStore) GetOperation(ctx context.Context, id int64) (*domain.Operation, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	op, ok := s.ops[id]
	if !ok {
		return nil, ErrOperationNotFound
	}
	cp := *op
	return &cp, nil
}

// Operations returns a snapshot of every stored operation, ordered by id.
func (s *MemOperationStore) Operations() []*domain.Operation {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := make([]*domain.Operation, 0, len(s.ops))
	for _, op := range s.ops {
		cp := *op
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OperationsByName returns a snapshot of the stored operations with the
// given name, ordered by id.
func (s *MemOperationStore) OperationsByName(name domain.OperationName) []*domain.Operation {
	var out []*domain.Operation
	for _, op := range s.Operations() {
		if op.Name == name {
			out = append(out, op)
		}
	}
	return out
}

// WithTx implements OperationStore.WithTx; the in-memory store has no
// transactions, so it returns itself.
func (s *MemOperationStore) WithTx(tx *sql.Tx) OperationStore {
	return s
}

// MemItemStore implements ItemStore in memory for testing.
type MemItemStore struct {
	mutex         sync.RWMutex
	items         map[int64]*domain.Item
	computedTags  map[int64][]string
	publicUserIDs []int64

	// Rebuild bookkeeping inspected by tests.
	KnownTagRebuilds map[int64]int
	AnonRebuilds     int

	GetChildrenFn func(ctx context.Context, id int64) ([]*domain.Item, error)
}

// NewMemItemStore creates an empty in-memory item store.
func NewMemItemStore() *MemItemStore {
	return &MemItemStore{
		items:            make(map[int64]*domain.Item),
		computedTags:     make(map[int64][]string),
		KnownTagRebuilds: make(map[int64]int),
	}
}

// AddItem stores an item, replacing any existing one with the same id.
func (s *MemItemStore) AddItem(item *domain.Item) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	cp := *item
	s.items[item.ID] = &cp
}

// SetPublicUserIDs sets the users visible to anonymous visitors.
func (s *MemItemStore) SetPublicUserIDs(ids []int64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.publicUserIDs = append([]int64(nil), ids...)
}

// GetItem loads a single item by id.
func (s *MemItemStore) GetItem(ctx context.Context, id int64) (*domain.Item, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, ErrItemNotFound
	}
	cp := *item
	return &cp, nil
}

// GetChildren returns the direct children of the given item, deleted
// ones included.
func (s *MemItemStore) GetChildren(ctx context.Context, id int64) ([]*domain.Item, error) {
	if s.GetChildrenFn != nil {
		return s.GetChildrenFn(ctx, id)
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var children []*domain.Item
	for _, item := range s.items {
		if item.ParentID != nil && *item.ParentID == id {
			cp := *item
			children = append(children, &cp)
		}
	}
	sort.Slice(children, func(i, j int) bool { return children[i].ID < children[j].ID })
	return children, nil
}

// GetParents returns the ancestor chain, nearest first.
func (s *MemItemStore) GetParents(ctx context.Context, id int64) ([]*domain.Item, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var parents []*domain.Item
	seen := map[int64]struct{}{id: {}}

	item, ok := s.items[id]
	if !ok {
		return nil, ErrItemNotFound
	}
	for item.ParentID != nil {
		parent, ok := s.items[*item.ParentID]
		if !ok {
			break
		}
		// Guard against corrupted parent links in fixtures.
		if _, cyclic := seen[parent.ID]; cyclic {
			break
		}
		seen[parent.ID] = struct{}{}
		cp := *parent
		parents = append(parents, &cp)
		item = parent
	}
	return parents, nil
}

// GetComputedTags returns the cached computed tags of the item.
func (s *MemItemStore) GetComputedTags(ctx context.Context, id int64) ([]string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]string(nil), s.computedTags[id]...), nil
}

// SaveComputedTags upserts the computed-tags cache row for the item.
func (s *MemItemStore) SaveComputedTags(ctx context.Context, id int64, tags []string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.computedTags[id] = append([]string(nil), tags...)
	return nil
}

// SaveItemPermissions replaces the item's permission set.
func (s *MemItemStore) SaveItemPermissions(ctx context.Context, id int64, permissions []int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	item, ok := s.items[id]
	if !ok {
		return ErrItemNotFound
	}
	item.Permissions = append([]int64(nil), permissions...)
	item.UpdatedAt = time.Now().UTC()
	return nil
}

// GetPublicUserIDs returns the users visible to anonymous visitors.
func (s *MemItemStore) GetPublicUserIDs(ctx context.Context) ([]int64, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]int64(nil), s.publicUserIDs...), nil
}

// RebuildKnownTags counts a per-user rebuild; tests assert on the count.
func (s *MemItemStore) RebuildKnownTags(ctx context.Context, userID int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.KnownTagRebuilds[userID]++
	return nil
}

// RebuildKnownTagsAnon counts an anonymous rebuild.
func (s *MemItemStore) RebuildKnownTagsAnon(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.AnonRebuilds++
	return nil
}

// WithTx implements ItemStore.WithTx; the in-memory store has no
// transactions, so it returns itself.
func (s *MemItemStore) WithTx(tx *sql.Tx) ItemStore {
	return s
}

// MemTransactor implements Transactor without transactional semantics:
// the function runs against the same shared fakes.
type MemTransactor struct {
	Stores *TxStores
}

// NewMemTransactor bundles the given fakes into a Transactor.
func NewMemTransactor(ops OperationStore, items ItemStore) *MemTransactor {
	return &MemTransactor{Stores: &TxStores{Operations: ops, Items: items}}
}

// WithinTx runs fn against the bundled stores.
func (t *MemTransactor) WithinTx(
	ctx context.Context,
	fn func(ctx context.Context, s *TxStores) error,
) error {
	return fn(ctx, t.Stores)
}

// Interface conformance checks.
var (
	_ LockStore      = (*MemLockStore)(nil)
	_ OperationStore = (*MemOperationStore)(nil)
	_ ItemStore      = (*MemItemStore)(nil)
	_ Transactor     = (*MemTransactor)(nil)
)
