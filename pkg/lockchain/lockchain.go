// Package lockchain persists per-epoch Merkle roots and their quorum
// certificates. Storage is the system of record for epoch integrity:
// a confirmed root is immutable once written.
package lockchain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Nerval-Labs/reflex/pkg/quorum"
)

var (
	// ErrRootNotFound means no root is stored for the requested epoch.
	ErrRootNotFound = errors.New("lockchain: root not found")
	// ErrRootConflict means a different root is already confirmed for
	// the epoch. Confirmed roots never change.
	ErrRootConflict = errors.New("lockchain: conflicting root for confirmed epoch")
	// ErrEpochMissing means a continuity range has epochs with no record
	// at all. Lost history; cannot be repaired by a later quorum.
	ErrEpochMissing = errors.New("lockchain: missing epoch in range")
	// ErrEpochUnconfirmed means a continuity range contains a pending
	// record whose quorum never completed.
	ErrEpochUnconfirmed = errors.New("lockchain: unconfirmed epoch in range")
)

// Record is one persisted epoch root. Proof is nil for pending epochs
// (quorum not reached before the collection deadline).
type Record struct {
	Epoch     uint64        `json:"epoch"`
	Root      string        `json:"root"`
	Proof     *quorum.Proof `json:"proof,omitempty"`
	Confirmed bool          `json:"confirmed"`
	CreatedAt time.Time     `json:"created_at"`
}

// Store persists epoch roots. Implementations must make each persist
// atomic: a crash never leaves a root without its confirmation state.
type Store interface {
	// PersistRoot stores a quorum-confirmed root, upgrading a pending
	// record for the same epoch if one exists.
	PersistRoot(ctx context.Context, epoch uint64, root string, proof *quorum.Proof) error
	// PersistPending stores a root whose quorum collection timed out.
	PersistPending(ctx context.Context, epoch uint64, root string) error
	GetRoot(ctx context.Context, epoch uint64) (*Record, error)
	LatestRoot(ctx context.Context) (*Record, error)
	RootCount(ctx context.Context) (int, error)
	// RootsRange returns records for epochs in [from, to] ascending.
	RootsRange(ctx context.Context, from, to uint64) ([]*Record, error)
	Close() error
}

// ContinuityReport summarizes a continuity scan over stored epochs.
type ContinuityReport struct {
	FirstEpoch uint64
	LastEpoch  uint64
	Confirmed  int
	Pending    int
	Gaps       []uint64
}

// VerifyContinuity checks that every epoch in [from, to] carries a
// quorum-confirmed root. A pending record marks where a root was produced
// but quorum never completed; pending records and holes both break
// continuity. The report carries the full detail either way.
func VerifyContinuity(ctx context.Context, s Store, from, to uint64) (*ContinuityReport, error) {
	if from > to {
		return nil, fmt.Errorf("lockchain: inverted range [%d, %d]", from, to)
	}
	records, err := s.RootsRange(ctx, from, to)
	if err != nil {
		return nil, err
	}

	report := &ContinuityReport{FirstEpoch: from, LastEpoch: to}
	next := from
	firstPending := uint64(0)
	for _, r := range records {
		for next < r.Epoch {
			report.Gaps = append(report.Gaps, next)
			next++
		}
		if r.Confirmed {
			report.Confirmed++
		} else {
			if report.Pending == 0 {
				firstPending = r.Epoch
			}
			report.Pending++
		}
		next = r.Epoch + 1
	}
	for next <= to {
		report.Gaps = append(report.Gaps, next)
		next++
	}

	if len(report.Gaps) > 0 {
		return report, fmt.Errorf("%w: %d epochs starting at %d",
			ErrEpochMissing, len(report.Gaps), report.Gaps[0])
	}
	if report.Pending > 0 {
		return report, fmt.Errorf("%w: %d epochs starting at %d",
			ErrEpochUnconfirmed, report.Pending, firstPending)
	}
	return report, nil
}

// VerifyStored runs VerifyContinuity over the full stored epoch range.
// An empty store is trivially continuous.
func VerifyStored(ctx context.Context, s Store) (*ContinuityReport, error) {
	latest, err := s.LatestRoot(ctx)
	if errors.Is(err, ErrRootNotFound) {
		return &ContinuityReport{}, nil
	}
	if err != nil {
		return nil, err
	}
	records, err := s.RootsRange(ctx, 0, latest.Epoch)
	if err != nil {
		return nil, err
	}
	return VerifyContinuity(ctx, s, records[0].Epoch, latest.Epoch)
}
