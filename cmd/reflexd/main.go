// Command reflexd runs the workflow execution kernel: it loads a
// configuration, executes a workload on the reflex tier, and seals epochs
// through quorum into the lockchain. The verify subcommand audits a
// persisted lockchain for continuity.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/Nerval-Labs/reflex/pkg/config"
	"github.com/Nerval-Labs/reflex/pkg/crypto"
	"github.com/Nerval-Labs/reflex/pkg/epoch"
	"github.com/Nerval-Labs/reflex/pkg/guard"
	"github.com/Nerval-Labs/reflex/pkg/lockchain"
	"github.com/Nerval-Labs/reflex/pkg/pattern"
	"github.com/Nerval-Labs/reflex/pkg/quorum"
	"github.com/Nerval-Labs/reflex/pkg/reflex"
	"github.com/Nerval-Labs/reflex/pkg/snapshot"
	"github.com/Nerval-Labs/reflex/pkg/task"
	"github.com/Nerval-Labs/reflex/pkg/telemetry"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, split out for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) >= 2 {
		switch args[1] {
		case "run":
			return runCmd(args[2:], stdout, stderr)
		case "verify":
			return verifyCmd(args[2:], stdout, stderr)
		case "version":
			fmt.Fprintln(stdout, "reflexd 0.1.0")
			return 0
		}
	}
	return runCmd(args[1:], stdout, stderr)
}

func runCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "reflex.yaml", "path to kernel configuration")
	tasks := fs.Int("tasks", 32, "demo tasks to execute")
	epochs := fs.Int("epochs", 4, "epochs to close")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	setupLogging(cfg.LogLevel)

	ctx := context.Background()
	k, err := buildKernel(ctx, cfg)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer k.close(ctx)

	if err := k.runWorkload(ctx, *tasks, *epochs); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	k.printSummary(ctx, stdout)
	return 0
}

func verifyCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	driver := fs.String("driver", "sqlite", "lockchain driver (sqlite or postgres)")
	dsn := fs.String("dsn", "reflex.db", "database path or DSN")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	store, err := openStore(&config.StorageConfig{Driver: *driver, DSN: *dsn})
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer func() { _ = store.Close() }()

	report, err := lockchain.VerifyStored(context.Background(), store)
	if report != nil {
		fmt.Fprintf(stdout, "epochs %d..%d: %d confirmed, %d pending, %d gaps\n",
			report.FirstEpoch, report.LastEpoch, report.Confirmed, report.Pending, len(report.Gaps))
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintln(stdout, "lockchain continuity verified")
	return 0
}

func setupLogging(level string) {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

// kernel is the assembled runtime.
type kernel struct {
	cfg       *config.Config
	shards    []*reflex.Shard
	coord     *epoch.Coordinator
	store     lockchain.Store
	stepIDs   map[string]uint32
	provider  *telemetry.Provider
	demoSteps []uint32
}

func buildKernel(ctx context.Context, cfg *config.Config) (*kernel, error) {
	dispatcher := pattern.NewDispatcher()
	registry := pattern.NewRegistry(dispatcher)

	stepIDs, err := cfg.RegisterSteps(registry)
	if err != nil {
		return nil, err
	}
	if len(stepIDs) == 0 {
		// No workflow configured: register a pass-through step so the
		// demo workload has something to run.
		id, err := registry.Register("demo-sequence", pattern.Sequence, pattern.Config{})
		if err != nil {
			return nil, err
		}
		stepIDs = map[string]uint32{"demo-sequence": id}
	}

	guards, err := cfg.BuildGuards()
	if err != nil {
		return nil, err
	}
	if guards.Len() == 0 {
		guards, err = guard.NewSet(guard.TickBudget(cfg.Kernel.BudgetTicks))
		if err != nil {
			return nil, err
		}
	}

	arena, err := snapshot.NewArena([]snapshot.Triple{
		{Subject: "kernel", Predicate: "budget", Object: fmt.Sprint(cfg.Kernel.BudgetTicks)},
	})
	if err != nil {
		return nil, err
	}

	shards := make([]*reflex.Shard, cfg.Kernel.Shards)
	for i := range shards {
		signer, err := crypto.NewEd25519Signer(fmt.Sprintf("shard-%d", i))
		if err != nil {
			return nil, err
		}
		shards[i], err = reflex.NewShard(reflex.Config{
			ID:           uint32(i),
			Registry:     registry,
			Dispatcher:   dispatcher,
			Guards:       guards,
			Arena:        arena,
			BudgetLimit:  cfg.Kernel.BudgetTicks,
			ParkCapacity: cfg.Kernel.ParkCapacity,
			Signer:       signer,
		})
		if err != nil {
			return nil, err
		}
	}

	manager, transport, err := buildQuorum(cfg)
	if err != nil {
		return nil, err
	}

	store, err := openStore(&cfg.Storage)
	if err != nil {
		return nil, err
	}

	provider, err := telemetry.New(ctx, &telemetry.Config{
		ServiceName:    "reflex-kernel",
		ServiceVersion: "0.1.0",
		OTLPEndpoint:   cfg.Telemetry.Endpoint,
		Enabled:        cfg.Telemetry.Enabled,
		Insecure:       true,
		BatchTimeout:   5 * time.Second,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	coord, err := epoch.NewCoordinator(epoch.Config{
		Shards:        shards,
		Quorum:        manager,
		Transport:     transport,
		Store:         store,
		QuorumTimeout: time.Duration(cfg.Quorum.TimeoutMs) * time.Millisecond,
		BeatTicks:     cfg.Kernel.BeatTicks,
		Observer:      provider,
		StartEpoch:    1,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	demoSteps := make([]uint32, 0, len(stepIDs))
	for _, id := range stepIDs {
		demoSteps = append(demoSteps, id)
	}
	return &kernel{
		cfg: cfg, shards: shards, coord: coord, store: store,
		stepIDs: stepIDs, provider: provider, demoSteps: demoSteps,
	}, nil
}

// buildQuorum uses configured peers when present, otherwise generates a
// self-contained three-peer loopback cluster.
func buildQuorum(cfg *config.Config) (*quorum.Manager, quorum.Broadcaster, error) {
	if len(cfg.Quorum.Peers) > 0 {
		peers, err := cfg.PeerSet()
		if err != nil {
			return nil, nil, err
		}
		coordinator := quorum.PeerID(cfg.Quorum.Coordinator)
		if coordinator == "" {
			coordinator = peers[0].ID
		}
		m, err := quorum.NewManager(peers, coordinator)
		if err != nil {
			return nil, nil, err
		}
		// The only transport wired in is the in-process loopback, so
		// enough peers must carry signing keys to reach the threshold;
		// anything less would leave every epoch pending.
		signers, err := cfg.PeerSigners()
		if err != nil {
			return nil, nil, err
		}
		if len(signers) < m.Threshold() {
			return nil, nil, fmt.Errorf(
				"quorum: %d of %d peers carry a private_key, need %d to confirm epochs in-process",
				len(signers), len(peers), m.Threshold())
		}
		return m, quorum.NewLoopback(signers), nil
	}

	signers := make(map[quorum.PeerID]crypto.Signer, 3)
	peers := make([]quorum.Peer, 0, 3)
	for _, id := range []quorum.PeerID{"alpha", "beta", "gamma"} {
		s, err := crypto.NewEd25519Signer(string(id))
		if err != nil {
			return nil, nil, err
		}
		signers[id] = s
		peers = append(peers, quorum.Peer{ID: id, PublicKey: s.PublicKey()})
	}
	m, err := quorum.NewManager(peers, "alpha")
	if err != nil {
		return nil, nil, err
	}
	return m, quorum.NewLoopback(signers), nil
}

func openStore(sc *config.StorageConfig) (lockchain.Store, error) {
	switch sc.Driver {
	case "sqlite":
		return lockchain.NewSQLiteStore(sc.DSN)
	case "postgres":
		return lockchain.NewPostgresStore(sc.DSN)
	case "memory", "":
		return lockchain.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", sc.Driver)
}

// runWorkload spreads tasks round-robin over the shards and closes the
// requested number of epochs.
func (k *kernel) runWorkload(ctx context.Context, tasks, epochs int) error {
	perEpoch := tasks / epochs
	if perEpoch == 0 {
		perEpoch = 1
	}
	n := 0
	for e := 0; e < epochs; e++ {
		for i := 0; i < perEpoch && n < tasks; i++ {
			shard := k.shards[n%len(k.shards)]
			step := k.demoSteps[n%len(k.demoSteps)]

			tk := task.New(step)
			if err := tk.AddObservation(uint64(1 + n%3)); err != nil {
				return err
			}
			obs := guard.NewContext(uint64(1+n%4), 512, 2, 9500, 8000, 1)
			out, err := shard.Execute(tk, obs)
			if err != nil {
				slog.Warn("task rejected", "error", err)
				continue
			}
			k.provider.RecordExecution(ctx, shard.ID(), out.Receipt.TicksUsed)
			if out.Parked {
				k.provider.RecordPark(ctx, shard.ID(), out.Receipt.Cause)
			}
			n++
		}
		if _, err := k.coord.CloseEpoch(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (k *kernel) printSummary(ctx context.Context, w io.Writer) {
	var receipts, violations int
	for _, s := range k.shards {
		if err := s.Chain().VerifyChain(); err != nil {
			fmt.Fprintf(w, "shard %d: chain verification FAILED: %v\n", s.ID(), err)
			continue
		}
		receipts += s.Chain().Len()
		violations += len(s.Chain().ChatmanViolations())
		snap := s.Stats().Snapshot()
		fmt.Fprintf(w, "shard %d: %d receipts, avg %.2f ticks, %.1f%% within budget\n",
			s.ID(), s.Chain().Len(), s.Chain().AvgTau(), snap.Compliance())
	}
	fmt.Fprintf(w, "total: %d receipts, %d budget violations\n", receipts, violations)

	report, err := lockchain.VerifyStored(ctx, k.store)
	if err != nil {
		fmt.Fprintf(w, "lockchain: continuity FAILED: %v\n", err)
		return
	}
	fmt.Fprintf(w, "lockchain: epochs %d..%d, %d confirmed, %d pending\n",
		report.FirstEpoch, report.LastEpoch, report.Confirmed, report.Pending)
}

func (k *kernel) close(ctx context.Context) {
	_ = k.provider.Shutdown(ctx)
	_ = k.store.Close()
}
