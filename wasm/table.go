package wasm

import "math"

// TableInstance is a runtime table: a bounds-checked slice of reference
// values plus the declared type it was created from.
type TableInstance struct {
	// References holds the table contents. A slot of a nullable element type
	// starts as the null reference.
	References []Reference
	Type       ValueType
	Min        uint32
	Max        *uint32
}

func newTableInstance(t *TableType) *TableInstance {
	refs := make([]Reference, t.Limits.Min)
	for i := range refs {
		refs[i] = NullRef
	}
	return &TableInstance{
		References: refs,
		Type:       t.ElemType,
		Min:        t.Limits.Min,
		Max:        t.Limits.Max,
	}
}

// Size returns the current number of slots.
func (t *TableInstance) Size() uint32 {
	return uint32(len(t.References))
}

// Get returns the reference at idx, trapping when idx is past the current
// size. Indices are unsigned, so there is no negative case.
func (t *TableInstance) Get(idx uint32) (Reference, error) {
	if idx >= t.Size() {
		return NullRef, ErrRuntimeOutOfBoundsTableAccess
	}
	return t.References[idx], nil
}

// Set stores the reference at idx, trapping when idx is past the current
// size.
func (t *TableInstance) Set(idx uint32, ref Reference) error {
	if idx >= t.Size() {
		return ErrRuntimeOutOfBoundsTableAccess
	}
	t.References[idx] = ref
	return nil
}

// Grow appends n slots filled with init and returns the previous size, or
// all-ones when growing past the declared maximum or the index space.
func (t *TableInstance) Grow(n uint32, init Reference) uint32 {
	prev := t.Size()
	next := uint64(prev) + uint64(n)
	if next > math.MaxUint32 {
		return math.MaxUint32
	}
	if t.Max != nil && next > uint64(*t.Max) {
		return math.MaxUint32
	}
	for i := uint32(0); i < n; i++ {
		t.References = append(t.References, init)
	}
	return prev
}

// Init copies n references from refs starting at src into the table starting
// at dst. The bounds of both ranges are checked up front so a failing call
// leaves the table untouched.
func (t *TableInstance) Init(dst, src, n uint32, refs []Reference) error {
	if uint64(dst)+uint64(n) > uint64(t.Size()) || uint64(src)+uint64(n) > uint64(len(refs)) {
		return ErrRuntimeOutOfBoundsTableAccess
	}
	copy(t.References[dst:dst+n], refs[src:src+n])
	return nil
}
