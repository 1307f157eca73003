// Package snapshot holds the immutable ontology state the reflex tier
// executes against. Executions never see a half-updated graph: readers
// hold a pointer to one generation, and updates swap the whole snapshot
// in a single atomic store.
package snapshot

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/Nerval-Labs/reflex/pkg/crypto"
)

// Triple is one ontology fact.
type Triple struct {
	Subject   string `json:"s"`
	Predicate string `json:"p"`
	Object    string `json:"o"`
}

// Snapshot is an immutable generation of the ontology. SigmaHash is fixed
// at construction and captured into every receipt produced against it.
type Snapshot struct {
	generation uint64
	triples    []Triple
	sigmaHash  string
}

// Generation returns the monotonic generation index.
func (s *Snapshot) Generation() uint64 { return s.generation }

// SigmaHash returns the canonical digest of this generation's triples.
func (s *Snapshot) SigmaHash() string { return s.sigmaHash }

// Len returns the number of triples.
func (s *Snapshot) Len() int { return len(s.triples) }

// Triples returns a copy; the snapshot itself never mutates.
func (s *Snapshot) Triples() []Triple {
	out := make([]Triple, len(s.triples))
	copy(out, s.triples)
	return out
}

// Match returns triples matching the given fields; empty strings match any.
func (s *Snapshot) Match(subject, predicate, object string) []Triple {
	var out []Triple
	for _, t := range s.triples {
		if (subject == "" || t.Subject == subject) &&
			(predicate == "" || t.Predicate == predicate) &&
			(object == "" || t.Object == object) {
			out = append(out, t)
		}
	}
	return out
}

// Arena publishes snapshots to the reflex tier. Swap installs a new
// generation; in-flight executions keep the pointer they loaded.
type Arena struct {
	current atomic.Pointer[Snapshot]
	nextGen atomic.Uint64
}

// NewArena builds an arena whose generation 0 holds the initial triples.
func NewArena(initial []Triple) (*Arena, error) {
	a := &Arena{}
	snap, err := build(0, initial)
	if err != nil {
		return nil, err
	}
	a.current.Store(snap)
	a.nextGen.Store(1)
	return a, nil
}

// Current returns the live snapshot. Never nil.
func (a *Arena) Current() *Snapshot { return a.current.Load() }

// Swap installs a new generation built from triples and returns it.
// Called from the warm tier only; concurrent readers are unaffected.
func (a *Arena) Swap(triples []Triple) (*Snapshot, error) {
	gen := a.nextGen.Add(1) - 1
	snap, err := build(gen, triples)
	if err != nil {
		return nil, err
	}
	a.current.Store(snap)
	return snap, nil
}

func build(generation uint64, triples []Triple) (*Snapshot, error) {
	owned := make([]Triple, len(triples))
	copy(owned, triples)
	// Hash over a sorted copy so logically equal graphs share a digest.
	sorted := make([]Triple, len(owned))
	copy(sorted, owned)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Subject != b.Subject {
			return a.Subject < b.Subject
		}
		if a.Predicate != b.Predicate {
			return a.Predicate < b.Predicate
		}
		return a.Object < b.Object
	})
	hash, err := crypto.CanonicalHash(struct {
		Generation uint64   `json:"generation"`
		Triples    []Triple `json:"triples"`
	}{generation, sorted})
	if err != nil {
		return nil, fmt.Errorf("snapshot: hash failed: %w", err)
	}
	return &Snapshot{generation: generation, triples: owned, sigmaHash: hash}, nil
}
