// Package operation defines the operation implementations the
// processors dispatch to, and the registry that maps operation names
// to them. The registry is populated explicitly at process start and
// passed by reference to the processors; there is no self-registration
// and no global mutable state.
package operation

import (
	"context"
	"fmt"
	"sort"

	"github.com/mwalkiewicz/mediary/internal/domain"
	"github.com/mwalkiewicz/mediary/internal/store"
)

// UnitOfWork is the executable a parallel implementation hands to the
// pool. It must close over primitive, serializable arguments only,
// never over open connections or transactions.
type UnitOfWork func(ctx context.Context) error

// Implementation is the common surface of every registered operation.
type Implementation interface {
	// Name returns the operation name this implementation handles.
	Name() domain.OperationName
}

// Serial is an operation executed by the serial processor, inside one
// storage transaction, while the worker holds the serial lock.
type Serial interface {
	Implementation

	// Execute runs the operation against transaction-scoped stores.
	// Follow-up operations are enqueued through the same stores so they
	// commit together with the operation's effects.
	Execute(ctx context.Context, op *domain.Operation, s *store.TxStores) error
}

// Parallel is an operation executed by the parallel processor.
// Prepare builds the unit of work; any error here is a preparation
// failure and the operation never reaches the pool.
type Parallel interface {
	Implementation

	Prepare(ctx context.Context, op *domain.Operation) (UnitOfWork, error)
}

// FanOut marks parallel implementations that are duplicated across
// several workers for redundancy. The parallel processor only applies
// the minimal-completion threshold to implementations reporting true.
type FanOut interface {
	FanOut() bool
}

// Registry maps operation names to their implementations.
type Registry struct {
	impls map[domain.OperationName]Implementation
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{impls: make(map[domain.OperationName]Implementation)}
}

// Register adds an implementation under its own name. Registering the
// same name twice is a wiring bug and returns an error.
func (r *Registry) Register(impl Implementation) error {
	name := impl.Name()
	if name == "" {
		return domain.ErrEmptyOperationName
	}
	if _, exists := r.impls[name]; exists {
		return fmt.Errorf("operation %q already registered", name)
	}
	r.impls[name] = impl
	return nil
}

// MustRegister is Register for static wiring at process start, where a
// duplicate registration can only be a programming error.
func (r *Registry) MustRegister(impl Implementation) {
	if err := r.Register(impl); err != nil {
		panic(err)
	}
}

// ResolveSerial returns the serial implementation registered under
// name. Returns an error wrapping store.ErrUnknownOperation when the
// name is unregistered or registered as a parallel operation.
func (r *Registry) ResolveSerial(name domain.OperationName) (Serial, error) {
	impl, ok := r.impls[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", store.ErrUnknownOperation, name)
	}
	serial, ok := impl.(Serial)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a serial operation", store.ErrUnknownOperation, name)
	}
	return serial, nil
}

// ResolveParallel returns the parallel implementation registered under
// name. Returns an error wrapping store.ErrUnknownOperation when the
// name is unregistered or registered as a serial operation.
func (r *Registry) ResolveParallel(name domain.OperationName) (Parallel, error) {
	impl, ok := r.impls[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", store.ErrUnknownOperation, name)
	}
	parallel, ok := impl.(Parallel)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a parallel operation", store.ErrUnknownOperation, name)
	}
	return parallel, nil
}

// SerialNames returns the registered serial operation names, sorted.
func (r *Registry) SerialNames() []domain.OperationName {
	return r.namesOf(func(impl Implementation) bool {
		_, ok := impl.(Serial)
		return ok
	})
}

// ParallelNames returns the registered parallel operation names, sorted.
func (r *Registry) ParallelNames() []domain.OperationName {
	return r.namesOf(func(impl Implementation) bool {
		_, ok := impl.(Parallel)
		return ok
	})
}

func (r *Registry) namesOf(match func(Implementation) bool) []domain.OperationName {
	var names []domain.OperationName
	for name, impl := range r.impls {
		if match(impl) {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Supported intersects a configured allow-list with the given
// registered names, preserving the registered order. A worker only
// claims operations that are both registered and allow-listed.
func Supported(allowList []string, registered []domain.OperationName) []domain.OperationName {
	allowed := make(map[string]struct{}, len(allowList))
	for _, name := range allowList {
		allowed[name] = struct{}{}
	}

	var out []domain.OperationName
	for _, name := range registered {
		if _, ok := allowed[string(name)]; ok {
			out = append(out, name)
		}
	}
	return out
}
