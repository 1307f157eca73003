package guard

import "fmt"

// MaxSetSize bounds a guard set to the width of the receipt bitmap.
const MaxSetSize = 64

// Set is an ordered collection of top-level guards with stable ids. The id
// of a guard is its index, which positions its outcome in the receipt's
// guard bitmap.
type Set struct {
	guards []Guard
}

// NewSet validates and freezes an ordered guard collection.
func NewSet(guards ...Guard) (*Set, error) {
	if len(guards) > MaxSetSize {
		return nil, fmt.Errorf("guard: set of %d exceeds bitmap width %d", len(guards), MaxSetSize)
	}
	for i, g := range guards {
		if g.kind == 0 {
			return nil, fmt.Errorf("guard: zero-value guard at index %d", i)
		}
		if g.kind == KindComposite && len(g.children) == 0 {
			return nil, fmt.Errorf("guard: empty composite at index %d", i)
		}
	}
	s := &Set{guards: make([]Guard, len(guards))}
	copy(s.guards, guards)
	return s, nil
}

// Len returns the number of top-level guards.
func (s *Set) Len() int { return len(s.guards) }

// Guard returns the guard with the given id.
func (s *Set) Guard(id int) Guard { return s.guards[id] }

// Evaluate runs every guard against the context. bitmap has a bit set for
// each guard evaluated; outcomes has a bit set for each guard that passed.
// All guards are always evaluated.
func (s *Set) Evaluate(ctx *Context) (bitmap, outcomes uint64) {
	for i := range s.guards {
		bitmap |= 1 << uint(i)
		outcomes |= s.guards[i].EvaluateBit(ctx) << uint(i)
	}
	return bitmap, outcomes
}

// Pass reports whether every guard in the set passed.
func Pass(bitmap, outcomes uint64) bool {
	return bitmap&outcomes == bitmap
}

// FirstFailed returns the id of the lowest failed guard, or -1 when all
// passed. Used off the hot path to attribute a park cause.
func FirstFailed(bitmap, outcomes uint64) int {
	failed := bitmap &^ outcomes
	if failed == 0 {
		return -1
	}
	for i := 0; i < MaxSetSize; i++ {
		if failed&(1<<uint(i)) != 0 {
			return i
		}
	}
	return -1
}
