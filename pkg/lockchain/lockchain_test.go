package lockchain

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nerval-Labs/reflex/pkg/crypto"
	"github.com/Nerval-Labs/reflex/pkg/quorum"
)

func testProof(t *testing.T, epoch uint64, root string) *quorum.Proof {
	t.Helper()
	var votes []quorum.Vote
	for _, id := range []quorum.PeerID{"a", "b", "c"} {
		s, err := crypto.NewEd25519Signer(string(id))
		require.NoError(t, err)
		votes = append(votes, quorum.SignVote(s, id, epoch, root))
	}
	return &quorum.Proof{Epoch: epoch, Root: root, Votes: votes}
}

// Both store backends that can run without external services.
func openStores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "lockchain.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]Store{
		"sqlite": sqlite,
		"memory": NewMemoryStore(),
	}
}

func TestPersistAndGetRoot(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			proof := testProof(t, 100, "root-100")

			require.NoError(t, store.PersistRoot(ctx, 100, "root-100", proof))

			rec, err := store.GetRoot(ctx, 100)
			require.NoError(t, err)
			assert.Equal(t, uint64(100), rec.Epoch)
			assert.Equal(t, "root-100", rec.Root)
			assert.True(t, rec.Confirmed)
			require.NotNil(t, rec.Proof)
			assert.Len(t, rec.Proof.Votes, 3)

			_, err = store.GetRoot(ctx, 999)
			assert.ErrorIs(t, err, ErrRootNotFound)
		})
	}
}

func TestConfirmedRootIsImmutable(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.PersistRoot(ctx, 5, "root-5", testProof(t, 5, "root-5")))

			// Same root again is idempotent.
			require.NoError(t, store.PersistRoot(ctx, 5, "root-5", testProof(t, 5, "root-5")))

			// Different root is a conflict.
			err := store.PersistRoot(ctx, 5, "root-evil", testProof(t, 5, "root-evil"))
			assert.ErrorIs(t, err, ErrRootConflict)

			// Demotion to pending does not overwrite.
			require.NoError(t, store.PersistPending(ctx, 5, "root-5"))
			rec, err := store.GetRoot(ctx, 5)
			require.NoError(t, err)
			assert.True(t, rec.Confirmed)
		})
	}
}

func TestPendingUpgrade(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.PersistPending(ctx, 7, "root-7"))

			rec, err := store.GetRoot(ctx, 7)
			require.NoError(t, err)
			assert.False(t, rec.Confirmed)
			assert.Nil(t, rec.Proof)

			// Late quorum upgrades the pending record in place.
			require.NoError(t, store.PersistRoot(ctx, 7, "root-7", testProof(t, 7, "root-7")))
			rec, err = store.GetRoot(ctx, 7)
			require.NoError(t, err)
			assert.True(t, rec.Confirmed)
			assert.NotNil(t, rec.Proof)
		})
	}
}

func TestLatestAndCount(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.LatestRoot(ctx)
			assert.ErrorIs(t, err, ErrRootNotFound)

			for e := uint64(10); e <= 13; e++ {
				require.NoError(t, store.PersistPending(ctx, e, "r"))
			}
			latest, err := store.LatestRoot(ctx)
			require.NoError(t, err)
			assert.Equal(t, uint64(13), latest.Epoch)

			n, err := store.RootCount(ctx)
			require.NoError(t, err)
			assert.Equal(t, 4, n)
		})
	}
}

func TestRootsRange(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for e := uint64(1); e <= 5; e++ {
				require.NoError(t, store.PersistPending(ctx, e, "r"))
			}
			records, err := store.RootsRange(ctx, 2, 4)
			require.NoError(t, err)
			require.Len(t, records, 3)
			assert.Equal(t, uint64(2), records[0].Epoch)
			assert.Equal(t, uint64(4), records[2].Epoch)
		})
	}
}

func TestVerifyContinuity(t *testing.T) {
	ctx := context.Background()

	t.Run("empty store", func(t *testing.T) {
		report, err := VerifyStored(ctx, NewMemoryStore())
		require.NoError(t, err)
		assert.Equal(t, 0, report.Confirmed+report.Pending)
	})

	t.Run("all confirmed", func(t *testing.T) {
		store := NewMemoryStore()
		for e := uint64(1); e <= 3; e++ {
			root := fmt.Sprintf("r%d", e)
			require.NoError(t, store.PersistRoot(ctx, e, root, testProof(t, e, root)))
		}

		report, err := VerifyContinuity(ctx, store, 1, 3)
		require.NoError(t, err)
		assert.Equal(t, 3, report.Confirmed)
		assert.Equal(t, 0, report.Pending)
		assert.Empty(t, report.Gaps)
	})

	t.Run("pending epoch breaks continuity", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.PersistRoot(ctx, 1, "r1", testProof(t, 1, "r1")))
		require.NoError(t, store.PersistPending(ctx, 2, "r2"))
		require.NoError(t, store.PersistRoot(ctx, 3, "r3", testProof(t, 3, "r3")))

		report, err := VerifyContinuity(ctx, store, 1, 3)
		require.ErrorIs(t, err, ErrEpochUnconfirmed)
		assert.Equal(t, 2, report.Confirmed)
		assert.Equal(t, 1, report.Pending)
		assert.Empty(t, report.Gaps)
	})

	t.Run("gap detected", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.PersistPending(ctx, 1, "r1"))
		require.NoError(t, store.PersistPending(ctx, 4, "r4"))

		report, err := VerifyStored(ctx, store)
		require.ErrorIs(t, err, ErrEpochMissing)
		assert.Equal(t, []uint64{2, 3}, report.Gaps)
	})

	t.Run("range past last record is a gap", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.PersistRoot(ctx, 1, "r1", testProof(t, 1, "r1")))

		report, err := VerifyContinuity(ctx, store, 1, 3)
		require.ErrorIs(t, err, ErrEpochMissing)
		assert.Equal(t, []uint64{2, 3}, report.Gaps)
	})

	t.Run("inverted range rejected", func(t *testing.T) {
		_, err := VerifyContinuity(ctx, NewMemoryStore(), 5, 2)
		assert.Error(t, err)
	})
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "lockchain.db")

	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.PersistRoot(ctx, 100, "root-100", testProof(t, 100, "root-100")))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	rec, err := reopened.GetRoot(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, "root-100", rec.Root)
	assert.True(t, rec.Confirmed)
}
