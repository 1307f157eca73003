// Package pattern implements the fixed control-flow pattern catalogue and
// its dispatch table. Pattern resolution happens once at workflow
// registration; the timed path only performs a table index and a call.
package pattern

// Type identifies a control-flow pattern in the van der Aalst catalogue.
// The integer values are wire-stable and index the dispatch table directly.
type Type uint8

const (
	// Basic control flow (1-5)
	Sequence        Type = 1
	ParallelSplit   Type = 2
	Synchronization Type = 3
	ExclusiveChoice Type = 4
	SimpleMerge     Type = 5

	// Advanced branching and synchronization (6-9)
	MultiChoice             Type = 6
	StructuredSyncMerge     Type = 7
	MultiMerge              Type = 8
	StructuredDiscriminator Type = 9

	// Multiple instance (10-15)
	MultiInstanceNoSync          Type = 10
	MultiInstanceKnownDesignTime Type = 11
	MultiInstanceKnownRuntime    Type = 12
	MultiInstanceUnknownRuntime  Type = 13
	StaticPartialJoin            Type = 14
	CancellationPartialJoin      Type = 15

	// State-based (16-20)
	DeferredChoice             Type = 16
	InterleavedParallelRouting Type = 17
	Milestone                  Type = 18
	CriticalSection            Type = 19
	InterleavedRouting         Type = 20

	// Cancellation and force completion (21-25)
	CancelTask               Type = 21
	CancelCase               Type = 22
	CancelRegion             Type = 23
	CancelMultipleInstance   Type = 24
	CompleteMultipleInstance Type = 25

	// Iteration (26-28)
	ArbitraryLoop  Type = 26
	StructuredLoop Type = 27
	Recursion      Type = 28

	// Termination (29-31)
	ImplicitTermination  Type = 29
	ExplicitTermination  Type = 30
	TerminationException Type = 31

	// Triggers (32-35)
	TransientTrigger  Type = 32
	PersistentTrigger Type = 33
	CancelTrigger     Type = 34
	GeneralizedPick   Type = 35

	// Extended (36-43)
	ThreadMerge           Type = 36
	ThreadSplit           Type = 37
	BlockingPartialJoin   Type = 38
	BlockingDiscriminator Type = 39
	GeneralizedAndJoin    Type = 40
	LocalSyncMerge        Type = 41
	GeneralizedOrJoin     Type = 42
	AcyclicSyncMerge      Type = 43

	// TableSize is the dispatch table length; index 0 is unused.
	TableSize = 44
)

var typeNames = map[Type]string{
	Sequence:                     "sequence",
	ParallelSplit:                "parallel_split",
	Synchronization:              "synchronization",
	ExclusiveChoice:              "exclusive_choice",
	SimpleMerge:                  "simple_merge",
	MultiChoice:                  "multi_choice",
	StructuredSyncMerge:          "structured_sync_merge",
	MultiMerge:                   "multi_merge",
	StructuredDiscriminator:      "structured_discriminator",
	MultiInstanceNoSync:          "mi_no_sync",
	MultiInstanceKnownDesignTime: "mi_known_design_time",
	MultiInstanceKnownRuntime:    "mi_known_runtime",
	MultiInstanceUnknownRuntime:  "mi_unknown_runtime",
	StaticPartialJoin:            "static_partial_join",
	CancellationPartialJoin:      "cancellation_partial_join",
	DeferredChoice:               "deferred_choice",
	InterleavedParallelRouting:   "interleaved_parallel_routing",
	Milestone:                    "milestone",
	CriticalSection:              "critical_section",
	InterleavedRouting:           "interleaved_routing",
	CancelTask:                   "cancel_task",
	CancelCase:                   "cancel_case",
	CancelRegion:                 "cancel_region",
	CancelMultipleInstance:       "cancel_multiple_instance",
	CompleteMultipleInstance:     "complete_multiple_instance",
	ArbitraryLoop:                "arbitrary_loop",
	StructuredLoop:               "structured_loop",
	Recursion:                    "recursion",
	ImplicitTermination:          "implicit_termination",
	ExplicitTermination:          "explicit_termination",
	TerminationException:         "termination_exception",
	TransientTrigger:             "transient_trigger",
	PersistentTrigger:            "persistent_trigger",
	CancelTrigger:                "cancel_trigger",
	GeneralizedPick:              "generalized_pick",
	ThreadMerge:                  "thread_merge",
	ThreadSplit:                  "thread_split",
	BlockingPartialJoin:          "blocking_partial_join",
	BlockingDiscriminator:        "blocking_discriminator",
	GeneralizedAndJoin:           "generalized_and_join",
	LocalSyncMerge:               "local_sync_merge",
	GeneralizedOrJoin:            "generalized_or_join",
	AcyclicSyncMerge:             "acyclic_sync_merge",
}

func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return "unknown"
}

// TypeFromName resolves a configuration name to a pattern type.
func TypeFromName(name string) (Type, bool) {
	for t, n := range typeNames {
		if n == name {
			return t, true
		}
	}
	return 0, false
}

// Valid reports whether t names a catalogue pattern.
func (t Type) Valid() bool {
	return t >= Sequence && t <= AcyclicSyncMerge
}

// Config carries per-pattern tuning fixed at registration time.
type Config struct {
	MaxInstances  uint32
	JoinThreshold uint32
	TimeoutTicks  uint64
}

// Context is the hot-path input to a pattern handler. It is owned by the
// dispatching shard and never escapes the call.
type Context struct {
	PatternID   uint32
	Type        Type
	Config      Config
	InputMask   uint64
	BranchState uint32
}

// Result is the outcome of one pattern execution. TicksUsed is a
// deterministic function of the inputs, never a wall-clock measurement,
// so identical contexts always report identical costs.
type Result struct {
	OK         bool
	OutputMask uint64
	TicksUsed  uint64
	Next       int64 // next pattern id, -1 when none or fan-out
}
