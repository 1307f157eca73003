package pattern

import (
	"fmt"
	"math/bits"
)

// Handler executes one pattern against a context. Handlers are pure: no
// allocation, no side effects, deterministic tick accounting.
type Handler func(*Context) Result

// Dispatcher routes a precomputed pattern id to its handler through a fixed
// table. The table is populated once at construction; dispatch is a single
// index plus an indirect call, with no lookup on the timed path.
type Dispatcher struct {
	table     [TableSize]Handler
	supported [TableSize]bool
}

// NewDispatcher builds the dispatch table for the full catalogue. Patterns
// without a reflex-tier implementation resolve to a handler that reports
// failure, which the task layer treats as malformed input.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{}
	for i := range d.table {
		d.table[i] = handleUnsupported
	}
	d.register(Sequence, handleSequence)
	d.register(ParallelSplit, handleParallelSplit)
	d.register(Synchronization, handleSynchronization)
	d.register(ExclusiveChoice, handleExclusiveChoice)
	d.register(SimpleMerge, handleSimpleMerge)
	d.register(MultiChoice, handleMultiChoice)
	d.register(StructuredSyncMerge, handleStructuredSyncMerge)
	d.register(MultiMerge, handleMultiMerge)
	d.register(StructuredDiscriminator, handleStructuredDiscriminator)
	return d
}

func (d *Dispatcher) register(t Type, h Handler) {
	d.table[t] = h
	d.supported[t] = true
}

// Supported reports whether t has a reflex-tier handler.
func (d *Dispatcher) Supported(t Type) bool {
	return t.Valid() && d.supported[t]
}

// Dispatch runs the handler for ctx.Type. The caller guarantees ctx.Type is
// valid; Validate rejects anything else at registration time.
func (d *Dispatcher) Dispatch(ctx *Context) Result {
	return d.table[ctx.Type](ctx)
}

// Validate confirms t can be registered.
func (d *Dispatcher) Validate(t Type) error {
	if !t.Valid() {
		return fmt.Errorf("pattern: type %d outside catalogue", t)
	}
	return nil
}

// Handler costs in ticks. Each handler's cost depends only on its pattern,
// keeping ticks_used a deterministic projection of the observation.
const (
	costPassThrough = 1
	costMaskOp      = 2
	costJoin        = 3
)

func handleUnsupported(*Context) Result {
	return Result{OK: false, Next: -1}
}

// handleSequence passes the input token straight through: A -> B.
func handleSequence(ctx *Context) Result {
	if ctx.InputMask == 0 {
		return Result{TicksUsed: costPassThrough, Next: -1}
	}
	return Result{
		OK:         true,
		OutputMask: ctx.InputMask,
		TicksUsed:  costPassThrough,
		Next:       int64(ctx.PatternID) + 1,
	}
}

// handleParallelSplit fans one token out to all configured branches.
func handleParallelSplit(ctx *Context) Result {
	if ctx.InputMask == 0 {
		return Result{TicksUsed: costMaskOp, Next: -1}
	}
	n := ctx.Config.MaxInstances
	if n == 0 || n > 64 {
		n = 64
	}
	return Result{
		OK:         true,
		OutputMask: ^uint64(0) >> (64 - n),
		TicksUsed:  costMaskOp,
		Next:       -1, // fan-out: successors resolved per branch
	}
}

// handleSynchronization fires only when all joined branches delivered.
func handleSynchronization(ctx *Context) Result {
	n := ctx.Config.JoinThreshold
	if n == 0 || n > 64 {
		n = 64
	}
	required := ^uint64(0) >> (64 - n)
	if ctx.InputMask&required != required {
		return Result{TicksUsed: costJoin, Next: -1}
	}
	return Result{
		OK:         true,
		OutputMask: 1,
		TicksUsed:  costJoin,
		Next:       int64(ctx.PatternID) + 1,
	}
}

// handleExclusiveChoice deterministically selects the lowest ready branch.
func handleExclusiveChoice(ctx *Context) Result {
	if ctx.InputMask == 0 {
		return Result{TicksUsed: costMaskOp, Next: -1}
	}
	choice := ctx.InputMask & (^ctx.InputMask + 1) // lowest set bit
	return Result{
		OK:         true,
		OutputMask: choice,
		TicksUsed:  costMaskOp,
		Next:       int64(ctx.PatternID) + 1 + int64(bits.TrailingZeros64(choice)),
	}
}

// handleSimpleMerge fires on any incoming token.
func handleSimpleMerge(ctx *Context) Result {
	if ctx.InputMask == 0 {
		return Result{TicksUsed: costPassThrough, Next: -1}
	}
	return Result{
		OK:         true,
		OutputMask: 1,
		TicksUsed:  costPassThrough,
		Next:       int64(ctx.PatternID) + 1,
	}
}

// handleMultiChoice enables the subset of branches selected by the input.
func handleMultiChoice(ctx *Context) Result {
	if ctx.InputMask == 0 {
		return Result{TicksUsed: costMaskOp, Next: -1}
	}
	n := ctx.Config.MaxInstances
	if n == 0 || n > 64 {
		n = 64
	}
	mask := ^uint64(0) >> (64 - n)
	return Result{
		OK:         true,
		OutputMask: ctx.InputMask & mask,
		TicksUsed:  costMaskOp,
		Next:       -1,
	}
}

// handleStructuredSyncMerge waits for every branch activated upstream,
// tracked in BranchState by the split.
func handleStructuredSyncMerge(ctx *Context) Result {
	active := ctx.BranchState
	if uint32(bits.OnesCount64(ctx.InputMask)) < active {
		return Result{TicksUsed: costJoin, Next: -1}
	}
	return Result{
		OK:         true,
		OutputMask: 1,
		TicksUsed:  costJoin,
		Next:       int64(ctx.PatternID) + 1,
	}
}

// handleMultiMerge fires once per incoming token without synchronizing.
func handleMultiMerge(ctx *Context) Result {
	if ctx.InputMask == 0 {
		return Result{TicksUsed: costMaskOp, Next: -1}
	}
	return Result{
		OK:         true,
		OutputMask: uint64(bits.OnesCount64(ctx.InputMask)),
		TicksUsed:  costMaskOp,
		Next:       int64(ctx.PatternID) + 1,
	}
}

// handleStructuredDiscriminator fires on the first of N branches and
// ignores the rest until reset.
func handleStructuredDiscriminator(ctx *Context) Result {
	if ctx.InputMask == 0 || ctx.BranchState != 0 {
		return Result{TicksUsed: costJoin, Next: -1}
	}
	return Result{
		OK:         true,
		OutputMask: 1,
		TicksUsed:  costJoin,
		Next:       int64(ctx.PatternID) + 1,
	}
}
