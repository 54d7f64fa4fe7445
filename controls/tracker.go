package controls

import (
	"math"
	"sort"

	"github.com/flowworksio/hydronet-simulator/core"
)

// defaultChangeTolerance is the absolute band inside which two float
// attribute values count as "unchanged", so floating-point noise never
// defeats the fixed-point test.
const defaultChangeTolerance = 1e-8

type changeKey struct {
	ref  ObjectRef
	attr core.Attribute
}

func (k changeKey) String() string { return k.ref.String() + "/" + string(k.attr) }

// ChangeTracker records the last-known value of every
// (target, attribute) pair referenced by any registered action, and
// marks pairs whose value moved during the current pass. The
// scheduler's fixed-point test at each priority level is "no pair is
// marked changed".
type ChangeTracker struct {
	tolerance float64
	last      map[changeKey]float64
	known     map[changeKey]bool
	changed   map[changeKey]bool
}

func NewChangeTracker(tolerance float64) *ChangeTracker {
	if tolerance <= 0 {
		tolerance = defaultChangeTolerance
	}
	return &ChangeTracker{
		tolerance: tolerance,
		last:      make(map[changeKey]float64),
		known:     make(map[changeKey]bool),
		changed:   make(map[changeKey]bool),
	}
}

// Prime records the current value for a pair without marking it
// changed. Called at registration so the first real mutation compares
// against the true starting state.
func (t *ChangeTracker) Prime(ref ObjectRef, attr core.Attribute, value float64) {
	k := changeKey{ref: ref, attr: attr}
	t.last[k] = value
	t.known[k] = true
}

// BeginPass clears the per-pass changed set.
func (t *ChangeTracker) BeginPass() {
	for k := range t.changed {
		delete(t.changed, k)
	}
}

// Observe records a post-mutation value and reports whether the pair
// actually changed. Unknown pairs count as changed.
func (t *ChangeTracker) Observe(ref ObjectRef, attr core.Attribute, value float64) bool {
	k := changeKey{ref: ref, attr: attr}
	moved := true
	if t.known[k] {
		moved = math.Abs(value-t.last[k]) > t.tolerance
	}
	t.last[k] = value
	t.known[k] = true
	if moved {
		t.changed[k] = true
	}
	return moved
}

// PassChanged reports whether any pair changed during the current
// pass.
func (t *ChangeTracker) PassChanged() bool { return len(t.changed) > 0 }

// ChangedPairs lists the pairs that changed during the current pass,
// sorted, for convergence-failure diagnostics.
func (t *ChangeTracker) ChangedPairs() []string {
	out := make([]string, 0, len(t.changed))
	for k := range t.changed {
		out = append(out, k.String())
	}
	sort.Strings(out)
	return out
}
