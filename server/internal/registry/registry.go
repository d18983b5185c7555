package registry

import (
	"sync"
	"sync/atomic"
)

// Member is anything the registry can hold. ID must be stable for the lifetime
// of the member and unique among live members. Members are compared with ==
// on removal, so pointer types are the usual choice.
type Member interface {
	comparable
	ID() string
}

// entry pairs a member with the generation of the Add call that inserted it,
// so a stale handle cannot remove a later registration of the same member.
type entry[C Member] struct {
	member C
	gen    uint64
}

// set is an immutable point-in-time view. It is never modified after being
// published.
type set[C Member] struct {
	byID    map[string]entry[C]
	members []C
}

func newSet[C Member](byID map[string]entry[C]) *set[C] {
	members := make([]C, 0, len(byID))
	for _, e := range byID {
		members = append(members, e.member)
	}
	return &set[C]{byID: byID, members: members}
}

// Registry is a concurrency-safe set of members keyed by Member.ID.
type Registry[C Member] struct {
	mu       sync.Mutex // serializes writers only
	cur      atomic.Pointer[set[C]]
	gen      uint64
	onChange func(size int)
}

// New creates an empty Registry. onChange, if non-nil, is called with the new
// size after every mutation that changed membership. It runs under the writer
// lock, so sizes are reported in order; it must not block or call back into
// the registry.
func New[C Member](onChange func(size int)) *Registry[C] {
	r := &Registry[C]{onChange: onChange}
	r.cur.Store(newSet(map[string]entry[C]{}))
	return r
}

// Add inserts m and returns the handle that owns this membership. Adding a
// member whose ID is already present replaces the previous entry; the set
// still holds that ID once.
func (r *Registry[C]) Add(m C) *Handle[C] {
	r.mu.Lock()
	old := r.cur.Load()
	next := make(map[string]entry[C], len(old.byID)+1)
	for id, e := range old.byID {
		next[id] = e
	}
	r.gen++
	gen := r.gen
	next[m.ID()] = entry[C]{member: m, gen: gen}
	s := newSet(next)
	r.cur.Store(s)
	r.notify(len(s.members))
	r.mu.Unlock()

	return &Handle[C]{reg: r, member: m, gen: gen}
}

// Remove deletes m from the set. It is a no-op when m is absent or when its ID
// now belongs to a different member added after m. It reports whether m was
// removed.
func (r *Registry[C]) Remove(m C) bool {
	return r.remove(m.ID(), func(e entry[C]) bool { return e.member == m })
}

// remove deletes id if present and match accepts the stored entry.
func (r *Registry[C]) remove(id string, match func(entry[C]) bool) bool {
	r.mu.Lock()
	old := r.cur.Load()
	e, ok := old.byID[id]
	if !ok || !match(e) {
		r.mu.Unlock()
		return false
	}
	next := make(map[string]entry[C], len(old.byID))
	for k, v := range old.byID {
		if k != id {
			next[k] = v
		}
	}
	s := newSet(next)
	r.cur.Store(s)
	r.notify(len(s.members))
	r.mu.Unlock()

	return true
}

// Snapshot returns the members present at a single instant. The returned slice
// is shared with other readers: callers must not modify it. Order is
// unspecified.
func (r *Registry[C]) Snapshot() []C {
	return r.cur.Load().members
}

// Get returns the member currently registered under id.
func (r *Registry[C]) Get(id string) (C, bool) {
	e, ok := r.cur.Load().byID[id]
	return e.member, ok
}

// Len returns the number of registered members.
func (r *Registry[C]) Len() int {
	return len(r.cur.Load().members)
}

// Clear removes every member and returns the members that were present.
func (r *Registry[C]) Clear() []C {
	r.mu.Lock()
	old := r.cur.Load()
	if len(old.members) == 0 {
		r.mu.Unlock()
		return nil
	}
	r.cur.Store(newSet(map[string]entry[C]{}))
	r.notify(0)
	r.mu.Unlock()

	return old.members
}

func (r *Registry[C]) notify(size int) {
	if r.onChange != nil {
		r.onChange(size)
	}
}

// Handle is one membership in a Registry.
type Handle[C Member] struct {
	reg    *Registry[C]
	member C
	gen    uint64
	once   sync.Once
}

// Member returns the registered member.
func (h *Handle[C]) Member() C { return h.member }

// Unregister removes the membership. Only the first call has an effect, and it
// leaves alone a newer registration of the same ID.
func (h *Handle[C]) Unregister() {
	h.once.Do(func() {
		h.reg.remove(h.member.ID(), func(e entry[C]) bool { return e.gen == h.gen })
	})
}
