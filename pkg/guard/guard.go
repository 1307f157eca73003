// Package guard implements pure eligibility predicates over an execution
// context. Evaluation is side-effect free and costs the same regardless of
// input: composite guards evaluate every child even after one fails, trading
// average-case speed for predictable latency on the reflex tier.
package guard

import (
	"errors"
	"fmt"
)

// Context field indices. A context is a fixed-size vector of numeric
// observations captured at admission and discarded after dispatch.
const (
	FieldTickEstimate = iota
	FieldDataSize
	FieldQueryComplexity
	FieldCacheHitRate // basis points, 0..10000
	FieldHeat         // basis points, 0..10000
	FieldRunLength
	FieldReserved6
	FieldReserved7

	ContextFields = 8
)

// Context is the immutable per-execution observation vector.
type Context struct {
	fields [ContextFields]uint64
}

// NewContext builds a context from up to ContextFields observations.
func NewContext(fields ...uint64) *Context {
	var c Context
	copy(c.fields[:], fields)
	return &c
}

// Field returns the observation at index i, zero when out of range.
func (c *Context) Field(i int) uint64 {
	if i < 0 || i >= ContextFields {
		return 0
	}
	return c.fields[i]
}

// Observations returns a copy of the full vector, for digest computation.
func (c *Context) Observations() []uint64 {
	out := make([]uint64, ContextFields)
	copy(out, c.fields[:])
	return out
}

// Kind discriminates the closed guard variant set.
type Kind uint8

const (
	KindTickBudget Kind = iota + 1
	KindDataSize
	KindQueryComplexity
	KindCacheHitRate
	KindComposite
)

func (k Kind) String() string {
	switch k {
	case KindTickBudget:
		return "tick_budget"
	case KindDataSize:
		return "data_size"
	case KindQueryComplexity:
		return "query_complexity"
	case KindCacheHitRate:
		return "cache_hit_rate"
	case KindComposite:
		return "composite"
	}
	return "unknown"
}

// ErrEmptyComposite is reported when a composite guard has no children.
var ErrEmptyComposite = errors.New("guard: composite requires at least one child")

// Guard is a stateless predicate. Construct through the New* functions;
// an invalid configuration is a construction-time error, never a runtime one.
type Guard struct {
	kind      Kind
	threshold uint64
	children  []Guard
}

// TickBudget passes while the context's tick estimate is at most max.
func TickBudget(max uint64) Guard {
	return Guard{kind: KindTickBudget, threshold: max}
}

// DataSize passes while the observed data size is at most max.
func DataSize(max uint64) Guard {
	return Guard{kind: KindDataSize, threshold: max}
}

// QueryComplexity passes while the observed complexity is at most max.
func QueryComplexity(max uint64) Guard {
	return Guard{kind: KindQueryComplexity, threshold: max}
}

// CacheHitRate passes while the observed hit rate (basis points) is at
// least min.
func CacheHitRate(min uint64) Guard {
	return Guard{kind: KindCacheHitRate, threshold: min}
}

// Composite requires all children to pass.
func Composite(children ...Guard) (Guard, error) {
	if len(children) == 0 {
		return Guard{}, ErrEmptyComposite
	}
	return Guard{kind: KindComposite, children: children}, nil
}

// FromSpec builds a guard from a configuration entry, validating the kind
// name and threshold at construction time.
func FromSpec(kind string, threshold uint64, children []Guard) (Guard, error) {
	switch kind {
	case "tick_budget":
		return TickBudget(threshold), nil
	case "data_size":
		return DataSize(threshold), nil
	case "query_complexity":
		return QueryComplexity(threshold), nil
	case "cache_hit_rate":
		if threshold > 10000 {
			return Guard{}, fmt.Errorf("guard: cache_hit_rate threshold %d exceeds 10000 basis points", threshold)
		}
		return CacheHitRate(threshold), nil
	case "composite":
		return Composite(children...)
	}
	return Guard{}, fmt.Errorf("guard: unknown kind %q", kind)
}

// Kind returns the guard's variant tag.
func (g Guard) Kind() Kind { return g.kind }

// Evaluate reports whether the context passes the guard.
func (g Guard) Evaluate(ctx *Context) bool {
	return g.EvaluateBit(ctx) == 1
}

// EvaluateBit returns 1 when the guard passes and 0 otherwise, combining
// composite children with bitwise AND. No short-circuit: every child is
// evaluated so the cost is independent of where a failure occurs.
func (g Guard) EvaluateBit(ctx *Context) uint64 {
	switch g.kind {
	case KindTickBudget:
		return leq(ctx.fields[FieldTickEstimate], g.threshold)
	case KindDataSize:
		return leq(ctx.fields[FieldDataSize], g.threshold)
	case KindQueryComplexity:
		return leq(ctx.fields[FieldQueryComplexity], g.threshold)
	case KindCacheHitRate:
		return geq(ctx.fields[FieldCacheHitRate], g.threshold)
	case KindComposite:
		pass := uint64(1)
		for i := range g.children {
			pass &= g.children[i].EvaluateBit(ctx)
		}
		return pass
	}
	return 0
}

// leq and geq compile to flag-set instructions; the evaluator carries
// passes as bits rather than control flow.
func leq(a, b uint64) uint64 {
	if a <= b {
		return 1
	}
	return 0
}

func geq(a, b uint64) uint64 {
	if a >= b {
		return 1
	}
	return 0
}
