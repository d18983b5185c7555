package registry

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type member string

func (m member) ID() string { return string(m) }

func ids(ms []member) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.ID())
	}
	return out
}

func TestAdd_Snapshot(t *testing.T) {
	r := New[member](nil)
	r.Add("a")
	r.Add("b")

	assert.ElementsMatch(t, []string{"a", "b"}, ids(r.Snapshot()))
	assert.Equal(t, 2, r.Len())
	got, ok := r.Get("a")
	assert.True(t, ok)
	assert.Equal(t, member("a"), got)
	_, ok = r.Get("c")
	assert.False(t, ok)
}

func TestAdd_SameIDAppearsOnce(t *testing.T) {
	r := New[member](nil)
	for i := 0; i < 5; i++ {
		r.Add("dup")
	}
	assert.Equal(t, []string{"dup"}, ids(r.Snapshot()))
}

func TestRemove_AbsentIsNoop(t *testing.T) {
	r := New[member](nil)
	r.Add("a")

	assert.False(t, r.Remove("missing"))
	assert.Equal(t, []string{"a"}, ids(r.Snapshot()))

	assert.True(t, r.Remove("a"))
	assert.False(t, r.Remove("a"))
	assert.Empty(t, r.Snapshot())
}

func TestSnapshot_UnaffectedByLaterWrites(t *testing.T) {
	r := New[member](nil)
	r.Add("a")
	before := r.Snapshot()

	r.Add("b")
	r.Remove("a")

	assert.Equal(t, []string{"a"}, ids(before))
	assert.Equal(t, []string{"b"}, ids(r.Snapshot()))
}

// peer is a member whose identity is its pointer, so two peers can share an ID.
type peer struct{ id string }

func (p *peer) ID() string { return p.id }

func TestRemove_StaleMemberKeepsReRegistration(t *testing.T) {
	r := New[*peer](nil)
	old := &peer{id: "a"}
	r.Add(old)
	snap := r.Snapshot()

	newer := &peer{id: "a"}
	r.Add(newer)

	assert.False(t, r.Remove(snap[0]), "stale member removed the newer registration")
	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Same(t, newer, got)

	assert.True(t, r.Remove(newer))
	assert.Zero(t, r.Len())
}

func TestHandle_UnregisterIdempotent(t *testing.T) {
	r := New[member](nil)
	h := r.Add("a")
	r.Add("b")

	h.Unregister()
	h.Unregister()

	assert.Equal(t, []string{"b"}, ids(r.Snapshot()))
	assert.Equal(t, member("a"), h.Member())
}

func TestHandle_StaleHandleKeepsNewerRegistration(t *testing.T) {
	r := New[member](nil)
	first := r.Add("a")
	second := r.Add("a")

	first.Unregister()
	require.Equal(t, 1, r.Len(), "stale handle removed the newer registration")

	second.Unregister()
	assert.Zero(t, r.Len())
}

func TestHandle_AfterRemoveIsNoop(t *testing.T) {
	r := New[member](nil)
	h := r.Add("a")
	r.Remove("a")

	h.Unregister()
	assert.Zero(t, r.Len())
}

func TestClear(t *testing.T) {
	r := New[member](nil)
	r.Add("a")
	r.Add("b")

	removed := r.Clear()
	assert.ElementsMatch(t, []string{"a", "b"}, ids(removed))
	assert.Zero(t, r.Len())
	assert.Nil(t, r.Clear())
}

func TestOnChange_ReportsSize(t *testing.T) {
	var sizes []int
	r := New[member](func(n int) { sizes = append(sizes, n) })

	h := r.Add("a")
	r.Add("b")
	r.Remove("missing")
	h.Unregister()
	r.Clear()

	assert.Equal(t, []int{1, 2, 1, 0}, sizes)
}

// TestSnapshot_ConcurrentWriters checks every snapshot taken while writers run
// is internally consistent: no duplicate IDs and no zero-value members.
func TestSnapshot_ConcurrentWriters(t *testing.T) {
	r := New[member](nil)

	var stop atomic.Bool
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				m := member(fmt.Sprintf("w%d-%d", w, i%10))
				h := r.Add(m)
				if i%2 == 0 {
					h.Unregister()
				} else {
					r.Remove(m)
				}
			}
		}(w)
	}

	var bad atomic.Int64
	var rwg sync.WaitGroup
	for g := 0; g < 4; g++ {
		rwg.Add(1)
		go func() {
			defer rwg.Done()
			for !stop.Load() {
				snap := r.Snapshot()
				seen := make(map[string]struct{}, len(snap))
				for _, m := range snap {
					if m == "" {
						bad.Add(1)
					}
					if _, dup := seen[m.ID()]; dup {
						bad.Add(1)
					}
					seen[m.ID()] = struct{}{}
				}
			}
		}()
	}

	wg.Wait()
	stop.Store(true)
	rwg.Wait()

	assert.Zero(t, bad.Load(), "inconsistent snapshots observed")
	assert.Zero(t, r.Len())
}
