package receipt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mk(epoch uint64, taskID string, pattern uint32, ticks uint64, status Status) Receipt {
	r := New(epoch, 0, "sigma-1", "obs-"+taskID, ticks, 8, taskID, pattern)
	r.Status = status
	return r
}

func TestActionHashIsDeterministic(t *testing.T) {
	a := New(100, 0, "sigma", "obs", 4, 8, "t1", 1)
	b := New(100, 0, "sigma", "obs", 4, 8, "t1", 1)
	assert.Equal(t, a.ActionHash, b.ActionHash)

	c := New(100, 0, "sigma", "obs-other", 4, 8, "t1", 1)
	assert.NotEqual(t, a.ActionHash, c.ActionHash)

	d := New(100, 0, "sigma", "obs", 4, 8, "t1", 2)
	assert.NotEqual(t, a.ActionHash, d.ActionHash)
}

func TestReceiptHashIdempotent(t *testing.T) {
	r := mk(100, "t1", 1, 4, StatusCompleted)
	h1, err := r.Hash()
	require.NoError(t, err)
	h2, err := r.Hash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestHashExcludesSignature(t *testing.T) {
	r := mk(100, "t1", 1, 4, StatusCompleted)
	h1, err := r.Hash()
	require.NoError(t, err)
	r.Signature = "deadbeef"
	h2, err := r.Hash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestChainAppendAssignsMonotonicIDs(t *testing.T) {
	c := NewChain()
	for i := uint64(1); i <= 5; i++ {
		id, err := c.Append(mk(100, "t", 1, 4, StatusCompleted))
		require.NoError(t, err)
		assert.Equal(t, i, id)
	}
	assert.Equal(t, 5, c.Len())

	r3, err := c.Get(3)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), r3.ParentID)

	h2, err := c.EntryHash(2)
	require.NoError(t, err)
	assert.Equal(t, h2, r3.ParentHash)
}

func TestVerifyChainAcceptsIntactChain(t *testing.T) {
	c := NewChain()
	for i := 0; i < 10; i++ {
		_, err := c.Append(mk(100, "t", 1, uint64(i%8)+1, StatusCompleted))
		require.NoError(t, err)
	}
	assert.NoError(t, c.VerifyChain())
}

func TestVerifyChainDetectsTamperingAndPoisons(t *testing.T) {
	c := NewChain()
	for i := 0; i < 5; i++ {
		_, err := c.Append(mk(100, "t", 1, 4, StatusCompleted))
		require.NoError(t, err)
	}

	tampered, err := c.Get(3)
	require.NoError(t, err)
	tampered.TicksUsed = 99
	c.tamper(3, tampered)

	err = c.VerifyChain()
	var ie *IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, uint64(3), ie.ID)

	// Chain extension halts after an integrity violation.
	_, err = c.Append(mk(100, "t", 1, 4, StatusCompleted))
	assert.ErrorAs(t, err, &ie)
}

func TestQueries(t *testing.T) {
	c := NewChain()

	r1 := mk(100, "task-a", 1, 4, StatusCompleted)
	r2 := mk(100, "task-b", 2, 6, StatusCompleted)
	r3 := mk(101, "task-a", 1, 9, StatusParked)
	r3.Cause = "tick_budget_exceeded"
	r4 := mk(101, "task-c", 2, 5, StatusCompleted)
	r4.GuardBitmap = 0b11
	r4.GuardOutcomes = 0b01

	for _, r := range []Receipt{r1, r2, r3, r4} {
		_, err := c.Append(r)
		require.NoError(t, err)
	}

	assert.Len(t, c.ByTask("task-a"), 2)
	assert.Len(t, c.ByPattern(2), 2)
	assert.Len(t, c.ByEpoch(100), 2)
	assert.Len(t, c.GuardFailures(), 1)
	assert.Empty(t, c.ChatmanViolations())
	assert.InDelta(t, 5.0, c.AvgTau(), 0.001)
}

func TestChatmanViolationsFlagMisMarkedReceipts(t *testing.T) {
	c := NewChain()
	bad := mk(100, "t", 1, 12, StatusCompleted) // over budget yet completed
	_, err := c.Append(bad)
	require.NoError(t, err)
	assert.Len(t, c.ChatmanViolations(), 1)
}

func TestEpochHashesMatchAppendOrder(t *testing.T) {
	c := NewChain()
	_, err := c.Append(mk(100, "a", 1, 4, StatusCompleted))
	require.NoError(t, err)
	_, err = c.Append(mk(101, "b", 1, 4, StatusCompleted))
	require.NoError(t, err)
	_, err = c.Append(mk(100, "c", 1, 4, StatusCompleted))
	require.NoError(t, err)

	hashes := c.EpochHashes(100)
	require.Len(t, hashes, 2)
	h1, _ := c.EntryHash(1)
	h3, _ := c.EntryHash(3)
	assert.Equal(t, []string{h1, h3}, hashes)
}
