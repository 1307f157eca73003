// Package reflex implements the bounded execution tier. A shard runs one
// task at a time with no suspension points: admission, guard evaluation,
// pattern dispatch, and receipt emission all complete within the tick
// budget or the work is parked to the warm tier.
package reflex

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/Nerval-Labs/reflex/pkg/crypto"
	"github.com/Nerval-Labs/reflex/pkg/guard"
	"github.com/Nerval-Labs/reflex/pkg/park"
	"github.com/Nerval-Labs/reflex/pkg/pattern"
	"github.com/Nerval-Labs/reflex/pkg/receipt"
	"github.com/Nerval-Labs/reflex/pkg/snapshot"
	"github.com/Nerval-Labs/reflex/pkg/task"
	"github.com/Nerval-Labs/reflex/pkg/tick"
)

// ErrMalformed is returned at admission for tasks the kernel refuses to
// run: nil, not Ready, no observations, or an unregistered pattern id.
var ErrMalformed = errors.New("reflex: malformed task")

// Outcome is the result of one shard execution.
type Outcome struct {
	Receipt   receipt.Receipt
	ReceiptID uint64
	Parked    bool
	Cause     park.Cause
	Completed bool
}

// Shard is a single-threaded executor. All fields are owned by the one
// goroutine calling Execute; only the chain, stats, and park queue are
// safe to read from outside.
type Shard struct {
	id         uint32
	dispatcher *pattern.Dispatcher
	registry   *pattern.Registry
	guards     *guard.Set
	arena      *snapshot.Arena
	chain      *receipt.Chain
	parks      *park.Manager
	signer     crypto.Signer

	counter tick.VirtualCounter
	clock   *tick.Clock
	budget  tick.Budget
	stats   *tick.Stats

	epoch uint64
}

// Config assembles a shard. Registry, guards, and arena are required;
// Signer is optional (receipts go unsigned without one).
type Config struct {
	ID           uint32
	Registry     *pattern.Registry
	Dispatcher   *pattern.Dispatcher
	Guards       *guard.Set
	Arena        *snapshot.Arena
	BudgetLimit  uint64
	ParkCapacity int
	Signer       crypto.Signer
}

// NewShard validates the configuration and builds a shard.
func NewShard(cfg Config) (*Shard, error) {
	if cfg.Registry == nil || cfg.Dispatcher == nil {
		return nil, errors.New("reflex: registry and dispatcher are required")
	}
	if cfg.Guards == nil {
		return nil, errors.New("reflex: guard set is required")
	}
	if cfg.Arena == nil {
		return nil, errors.New("reflex: snapshot arena is required")
	}
	if cfg.ParkCapacity == 0 {
		cfg.ParkCapacity = 1024
	}
	parks, err := park.NewManager(cfg.ParkCapacity)
	if err != nil {
		return nil, err
	}
	s := &Shard{
		id:         cfg.ID,
		dispatcher: cfg.Dispatcher,
		registry:   cfg.Registry,
		guards:     cfg.Guards,
		arena:      cfg.Arena,
		chain:      receipt.NewChain(),
		parks:      parks,
		signer:     cfg.Signer,
		budget:     tick.NewBudget(cfg.BudgetLimit),
		stats:      tick.NewStats(),
	}
	s.clock = tick.NewClock(s.counter.Read)
	return s, nil
}

// ID returns the shard index.
func (s *Shard) ID() uint32 { return s.id }

// Chain returns the shard's receipt chain.
func (s *Shard) Chain() *receipt.Chain { return s.chain }

// Parks returns the shard's park queue manager.
func (s *Shard) Parks() *park.Manager { return s.parks }

// Stats returns the shard's execution statistics.
func (s *Shard) Stats() *tick.Stats { return s.stats }

// SetEpoch stamps subsequent receipts with the given epoch. Called by the
// beat coordinator between executions, never concurrently with Execute.
func (s *Shard) SetEpoch(e uint64) { s.epoch = e }

// Tick returns the shard's current virtual tick.
func (s *Shard) Tick() uint64 { return s.counter.Read() }

// Execute runs one task to an outcome. Exactly one receipt is appended for
// every admitted task, whether it completes, fails, or parks.
func (s *Shard) Execute(t *task.Task, obs *guard.Context) (Outcome, error) {
	if t == nil || obs == nil {
		return Outcome{}, fmt.Errorf("%w: nil task or observation", ErrMalformed)
	}
	if t.State() != task.Ready {
		return Outcome{}, fmt.Errorf("%w: task %s in state %s", ErrMalformed, t.ID, t.State())
	}
	if len(t.Observations()) == 0 {
		return Outcome{}, fmt.Errorf("%w: task %s has no observations", ErrMalformed, t.ID)
	}
	binding, ok := s.registry.Lookup(t.PatternID)
	if !ok {
		if err := t.Transition(task.Failed); err != nil {
			return Outcome{}, err
		}
		return Outcome{}, fmt.Errorf("%w: pattern id %d not registered", ErrMalformed, t.PatternID)
	}

	snap := s.arena.Current()
	obsHash := crypto.DigestU64(obs.Observations())

	bitmap, outcomes := s.guards.Evaluate(obs)
	if !guard.Pass(bitmap, outcomes) {
		cause := causeFor(s.guards.Guard(guard.FirstFailed(bitmap, outcomes)))
		return s.park(t, binding, snap, obsHash, bitmap, outcomes, 0, cause)
	}

	if err := t.Transition(task.Executing); err != nil {
		return Outcome{}, err
	}

	pctx := pattern.Context{
		PatternID:   binding.PatternID,
		Type:        binding.Type,
		Config:      binding.Config,
		InputMask:   inputMask(t.Observations()),
		BranchState: uint32(len(t.Observations())),
	}

	s.clock.Start()
	result := s.dispatcher.Dispatch(&pctx)
	s.counter.Advance(result.TicksUsed)
	elapsed := s.clock.Elapsed()

	s.budget.Reset()
	status := s.budget.Consume(elapsed)
	s.stats.Record(elapsed, s.budget.Limit)

	if !result.OK {
		if err := t.Transition(task.Failed); err != nil {
			return Outcome{}, err
		}
		r := s.buildReceipt(binding, snap, obsHash, bitmap, outcomes, elapsed, t)
		r.Status = receipt.StatusFailed
		id, err := s.append(r)
		if err != nil {
			return Outcome{}, err
		}
		r.ID = id
		return Outcome{Receipt: r, ReceiptID: id}, nil
	}

	if status == tick.Exhausted {
		out, err := s.park(t, binding, snap, obsHash, bitmap, outcomes, elapsed, park.CauseTickBudgetExceeded)
		return out, err
	}

	if err := t.Transition(task.Completed); err != nil {
		return Outcome{}, err
	}
	r := s.buildReceipt(binding, snap, obsHash, bitmap, outcomes, elapsed, t)
	r.Status = receipt.StatusCompleted
	id, err := s.append(r)
	if err != nil {
		return Outcome{}, err
	}
	r.ID = id
	return Outcome{Receipt: r, ReceiptID: id, Completed: true}, nil
}

// park demotes the task and records the attempt. The receipt is chained in
// the epoch of the attempt, not the epoch of any later retry.
func (s *Shard) park(t *task.Task, b pattern.Binding, snap *snapshot.Snapshot, obsHash string, bitmap, outcomes, ticks uint64, cause park.Cause) (Outcome, error) {
	if t.State() == task.Ready {
		if err := t.Transition(task.Executing); err != nil {
			return Outcome{}, err
		}
	}
	if err := t.Transition(task.ParkPending); err != nil {
		return Outcome{}, err
	}

	r := s.buildReceipt(b, snap, obsHash, bitmap, outcomes, ticks, t)
	r.Status = receipt.StatusParked
	r.Cause = cause.String()
	id, err := s.append(r)
	if err != nil {
		return Outcome{}, err
	}
	r.ID = id

	if err := s.parks.Park(t, r, cause, s.epoch, s.counter.Read()); err != nil {
		// Queue full: the receipt already records the demotion, so the
		// caller decides whether to retry or shed the task.
		return Outcome{Receipt: r, ReceiptID: id, Parked: true, Cause: cause}, err
	}
	return Outcome{Receipt: r, ReceiptID: id, Parked: true, Cause: cause}, nil
}

func (s *Shard) buildReceipt(b pattern.Binding, snap *snapshot.Snapshot, obsHash string, bitmap, outcomes, ticks uint64, t *task.Task) receipt.Receipt {
	r := receipt.New(s.epoch, s.id, snap.SigmaHash(), obsHash, ticks, s.budget.Limit, t.ID.String(), b.PatternID)
	r.GuardBitmap = bitmap
	r.GuardOutcomes = outcomes
	return r
}

func (s *Shard) append(r receipt.Receipt) (uint64, error) {
	if s.signer != nil {
		r.Signature = hex.EncodeToString(s.signer.Sign([]byte(r.ActionHash)))
	}
	return s.chain.Append(r)
}

// inputMask folds the observation buffer into the branch-token mask the
// pattern handlers consume.
func inputMask(obs []uint64) uint64 {
	var mask uint64
	for _, o := range obs {
		mask |= o
	}
	return mask
}

// causeFor maps a failed guard to its park cause.
func causeFor(g guard.Guard) park.Cause {
	switch g.Kind() {
	case guard.KindTickBudget:
		return park.CauseTickBudgetExceeded
	case guard.KindDataSize:
		return park.CauseRunLengthExceeded
	case guard.KindQueryComplexity:
		return park.CauseL1MissPredicted
	case guard.KindCacheHitRate:
		return park.CauseHeatBelowThreshold
	default:
		return park.CauseTickBudgetExceeded
	}
}
