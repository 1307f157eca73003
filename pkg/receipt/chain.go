package receipt

import (
	"fmt"
	"sync"
)

// IntegrityError reports a broken hash link or recomputation mismatch.
// It is fatal: the chain refuses further appends until replaced, since a
// broken link indicates tampering or a logic fault that must not be
// auto-repaired.
type IntegrityError struct {
	ID     uint64
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("receipt: chain integrity violation at id %d: %s", e.ID, e.Reason)
}

// genesisHash anchors the first receipt's parent link.
const genesisHash = "genesis"

// Chain is the single-writer-per-shard receipt log. Appends happen only
// from the owning shard; queries may come from the warm tier, so reads
// take the same lock off the hot path.
type Chain struct {
	mu       sync.RWMutex
	entries  []Receipt
	hashes   []string
	headHash string
	poisoned *IntegrityError
}

// NewChain creates an empty chain.
func NewChain() *Chain {
	return &Chain{headHash: genesisHash}
}

// Append assigns the next monotonic id, links the receipt to the current
// head, and returns the new id. Append order equals dispatch-completion
// order within a shard.
func (c *Chain) Append(r Receipt) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.poisoned != nil {
		return 0, c.poisoned
	}

	r.ID = uint64(len(c.entries)) + 1
	r.ParentID = r.ID - 1
	r.ParentHash = c.headHash

	h, err := r.Hash()
	if err != nil {
		return 0, fmt.Errorf("receipt: hashing failed: %w", err)
	}

	c.entries = append(c.entries, r)
	c.hashes = append(c.hashes, h)
	c.headHash = h
	return r.ID, nil
}

// Head returns the current head hash.
func (c *Chain) Head() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.headHash
}

// Len returns the number of receipts.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Get returns the receipt with the given id.
func (c *Chain) Get(id uint64) (Receipt, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if id == 0 || id > uint64(len(c.entries)) {
		return Receipt{}, fmt.Errorf("receipt: id %d not found", id)
	}
	return c.entries[id-1], nil
}

// EntryHash returns the stored content hash for id.
func (c *Chain) EntryHash(id uint64) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if id == 0 || id > uint64(len(c.hashes)) {
		return "", fmt.Errorf("receipt: id %d not found", id)
	}
	return c.hashes[id-1], nil
}

// VerifyChain walks every entry confirming parent linkage and that the
// recomputed content hash matches the stored one. On failure the chain is
// poisoned and all further appends are refused.
func (c *Chain) VerifyChain() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	prevHash := genesisHash
	for i, r := range c.entries {
		if r.ParentID != uint64(i) {
			return c.poison(r.ID, fmt.Sprintf("parent id %d, want %d", r.ParentID, i))
		}
		if r.ParentHash != prevHash {
			return c.poison(r.ID, "parent hash mismatch")
		}
		recomputed, err := r.Hash()
		if err != nil {
			return c.poison(r.ID, fmt.Sprintf("rehash failed: %v", err))
		}
		if recomputed != c.hashes[i] {
			return c.poison(r.ID, "content hash mismatch")
		}
		prevHash = c.hashes[i]
	}
	return nil
}

func (c *Chain) poison(id uint64, reason string) error {
	c.poisoned = &IntegrityError{ID: id, Reason: reason}
	return c.poisoned
}

// tamper overwrites an entry in place. Test hook: the only way to produce
// a broken chain without bypassing the public API entirely.
func (c *Chain) tamper(id uint64, r Receipt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id-1] = r
}
