package receipt

// Query surface for the telemetry layer and the warm tier. All queries are
// read-only scans; the chain is small enough per epoch that indexes would
// not pay for themselves.

// ByTask returns all receipts for a task id, in append order.
func (c *Chain) ByTask(taskID string) []Receipt {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Receipt
	for _, r := range c.entries {
		if r.TaskID == taskID {
			out = append(out, r)
		}
	}
	return out
}

// ByPattern returns all receipts for a pattern id.
func (c *Chain) ByPattern(patternID uint32) []Receipt {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Receipt
	for _, r := range c.entries {
		if r.Pattern == patternID {
			out = append(out, r)
		}
	}
	return out
}

// ByEpoch returns all receipts chained during an epoch.
func (c *Chain) ByEpoch(epoch uint64) []Receipt {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Receipt
	for _, r := range c.entries {
		if r.Epoch == epoch {
			out = append(out, r)
		}
	}
	return out
}

// GuardFailures returns receipts whose guard outcome bitmap shows at least
// one failed guard.
func (c *Chain) GuardFailures() []Receipt {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Receipt
	for _, r := range c.entries {
		if r.GuardFailed() {
			out = append(out, r)
		}
	}
	return out
}

// ChatmanViolations returns completed receipts that claim more ticks than
// their budget. A correctly functioning kernel produces none: over-budget
// work parks, it never completes.
func (c *Chain) ChatmanViolations() []Receipt {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Receipt
	for _, r := range c.entries {
		if r.Status == StatusCompleted && r.TicksUsed > r.Budget {
			out = append(out, r)
		}
	}
	return out
}

// AvgTau returns the mean ticks used across completed receipts, zero when
// none completed.
func (c *Chain) AvgTau() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var total, n uint64
	for _, r := range c.entries {
		if r.Status == StatusCompleted {
			total += r.TicksUsed
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return float64(total) / float64(n)
}

// EpochHashes returns the content hashes of an epoch's receipts in append
// order, ready for Merkle aggregation.
func (c *Chain) EpochHashes(epoch uint64) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for i, r := range c.entries {
		if r.Epoch == epoch {
			out = append(out, c.hashes[i])
		}
	}
	return out
}
