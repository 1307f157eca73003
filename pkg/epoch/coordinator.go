// Package epoch drives the beat cycle: every BeatLength ticks the warm
// tier closes the current epoch, aggregates receipt hashes into a Merkle
// root, gathers quorum signatures, and persists the result. The reflex
// tier keeps executing against the next epoch while this runs; only the
// chain merge holds an exclusive section, and it is a bounded copy.
package epoch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Nerval-Labs/reflex/pkg/lockchain"
	"github.com/Nerval-Labs/reflex/pkg/merkle"
	"github.com/Nerval-Labs/reflex/pkg/quorum"
	"github.com/Nerval-Labs/reflex/pkg/reflex"
)

// BeatLength is the default number of ticks per epoch (one beat for each
// tick of the reflex budget).
const BeatLength = 8

// Observer receives epoch lifecycle events for telemetry. Implementations
// must be non-blocking.
type Observer interface {
	EpochClosed(epoch uint64, receipts int, confirmed bool)
}

// Result summarizes one closed epoch.
type Result struct {
	Epoch     uint64
	Root      string
	Receipts  int
	Confirmed bool
	Proof     *quorum.Proof
}

// Config assembles a coordinator.
type Config struct {
	Shards        []*reflex.Shard
	Quorum        *quorum.Manager
	Transport     quorum.Broadcaster
	Store         lockchain.Store
	QuorumTimeout time.Duration
	// BeatTicks is how many shard ticks accumulate before Beat closes
	// the epoch. Defaults to BeatLength.
	BeatTicks  uint64
	Logger     *slog.Logger
	Observer   Observer
	StartEpoch uint64
}

// Coordinator owns the epoch sequence. Single-goroutine: CloseEpoch is
// never called concurrently with itself or BeginEpoch.
type Coordinator struct {
	shards    []*reflex.Shard
	quorum    *quorum.Manager
	transport quorum.Broadcaster
	store     lockchain.Store
	timeout   time.Duration
	beatTicks uint64
	logger    *slog.Logger
	observer  Observer

	current  uint64
	lastBeat uint64
}

// NewCoordinator validates the configuration and stamps the starting epoch
// onto every shard.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if len(cfg.Shards) == 0 {
		return nil, errors.New("epoch: at least one shard required")
	}
	if cfg.Quorum == nil || cfg.Transport == nil {
		return nil, errors.New("epoch: quorum manager and transport required")
	}
	if cfg.Store == nil {
		return nil, errors.New("epoch: lockchain store required")
	}
	if cfg.QuorumTimeout == 0 {
		cfg.QuorumTimeout = 5 * time.Second
	}
	if cfg.BeatTicks == 0 {
		cfg.BeatTicks = BeatLength
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := &Coordinator{
		shards:    cfg.Shards,
		quorum:    cfg.Quorum,
		transport: cfg.Transport,
		store:     cfg.Store,
		timeout:   cfg.QuorumTimeout,
		beatTicks: cfg.BeatTicks,
		logger:    cfg.Logger,
		observer:  cfg.Observer,
		current:   cfg.StartEpoch,
	}
	for _, s := range c.shards {
		s.SetEpoch(c.current)
	}
	return c, nil
}

// Current returns the open epoch.
func (c *Coordinator) Current() uint64 { return c.current }

// CloseEpoch seals the open epoch and advances every shard to the next.
// An epoch with no receipts advances without persisting anything.
func (c *Coordinator) CloseEpoch(ctx context.Context) (*Result, error) {
	epoch := c.current
	hashes := c.mergeChains(epoch)
	c.lastBeat = c.totalTicks()

	c.current++
	for _, s := range c.shards {
		s.SetEpoch(c.current)
	}

	if len(hashes) == 0 {
		c.logger.Debug("epoch closed empty", "epoch", epoch)
		return &Result{Epoch: epoch}, nil
	}

	tree, err := merkle.NewTree(hashes)
	if err != nil {
		return nil, fmt.Errorf("epoch %d: %w", epoch, err)
	}
	root := tree.Root()

	c.quorum.Begin(epoch, root)
	votes, err := c.transport.Broadcast(ctx, epoch, root)
	if err != nil {
		return nil, fmt.Errorf("epoch %d: broadcast: %w", epoch, err)
	}

	collectCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	qc, err := c.quorum.Collect(collectCtx, votes)

	res := &Result{Epoch: epoch, Root: root, Receipts: len(hashes)}
	switch {
	case err == nil:
		if err := c.store.PersistRoot(ctx, epoch, root, qc); err != nil {
			return nil, fmt.Errorf("epoch %d: persist: %w", epoch, err)
		}
		res.Confirmed = true
		res.Proof = qc
		c.logger.Info("epoch confirmed",
			"epoch", epoch, "root", root[:8], "receipts", len(hashes), "votes", len(qc.Votes))
	case errors.Is(err, quorum.ErrQuorumTimeout) || errors.Is(err, quorum.ErrVotesClosed):
		if perr := c.store.PersistPending(ctx, epoch, root); perr != nil {
			return nil, fmt.Errorf("epoch %d: persist pending: %w", epoch, perr)
		}
		c.logger.Warn("epoch unconfirmed",
			"epoch", epoch, "root", root[:8], "reason", err,
			"votes", c.quorum.VoteCount(), "need", c.quorum.Threshold())
	default:
		return nil, fmt.Errorf("epoch %d: quorum: %w", epoch, err)
	}

	if c.observer != nil {
		c.observer.EpochClosed(epoch, res.Receipts, res.Confirmed)
	}
	return res, nil
}

// Beat closes the open epoch once the shards have accumulated a full beat
// of ticks since the last close. Below the beat it returns (nil, nil) and
// the epoch stays open. Single-goroutine, like CloseEpoch.
func (c *Coordinator) Beat(ctx context.Context) (*Result, error) {
	if c.totalTicks()-c.lastBeat < c.beatTicks {
		return nil, nil
	}
	return c.CloseEpoch(ctx)
}

// totalTicks sums the shards' virtual tick counters. Each counter is
// monotonic, so the sum is too.
func (c *Coordinator) totalTicks() uint64 {
	var total uint64
	for _, s := range c.shards {
		total += s.Tick()
	}
	return total
}

// mergeChains snapshots every shard's receipt hashes for the epoch in
// shard order. Chains are internally locked per read; the merge itself is
// the only cross-shard serialization in the beat cycle.
func (c *Coordinator) mergeChains(epoch uint64) []string {
	var hashes []string
	for _, s := range c.shards {
		hashes = append(hashes, s.Chain().EpochHashes(epoch)...)
	}
	return hashes
}

// Run polls the shard tick counters every interval and closes the epoch
// whenever a full beat has elapsed, until ctx is cancelled. The interval
// sets the polling granularity only; the beat itself is tick-driven.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := c.Beat(ctx); err != nil {
				c.logger.Error("epoch close failed", "error", err)
			}
		}
	}
}
