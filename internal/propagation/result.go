// Package propagation implements the recursive tree algorithms of the
// operation engine: tag inheritance and permission inheritance. Both
// walk the item tree with an explicit worklist and an explicit visited
// set so termination does not depend on the tree staying acyclic under
// concurrent edits.
package propagation

import "sort"

// Result carries the affected-user set collected during a traversal.
// Affected users are the ids whose known-tag counters must be
// refreshed by follow-up operations; the engines never refresh them
// inline.
type Result struct {
	affected map[int64]struct{}
}

// NewResult creates an empty traversal result.
func NewResult() *Result {
	return &Result{affected: make(map[int64]struct{})}
}

// AddUser records a single affected user.
func (r *Result) AddUser(id int64) {
	r.affected[id] = struct{}{}
}

// AddUsers records every id in the slice as affected.
func (r *Result) AddUsers(ids []int64) {
	for _, id := range ids {
		r.affected[id] = struct{}{}
	}
}

// Contains reports whether the user was recorded as affected.
func (r *Result) Contains(id int64) bool {
	_, ok := r.affected[id]
	return ok
}

// Empty reports whether no user was affected.
func (r *Result) Empty() bool {
	return len(r.affected) == 0
}

// Users returns the affected user ids in ascending order. Ordering
// keeps follow-up enqueueing deterministic.
func (r *Result) Users() []int64 {
	out := make([]int64, 0, len(r.affected))
	for id := range r.affected {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
