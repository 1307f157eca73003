package merkle

import "fmt"

// Step is one hop of an inclusion proof: the sibling hash and which side it
// sits on.
type Step struct {
	Side    string `json:"side"` // "L" or "R"
	Sibling string `json:"sibling"`
}

// Proof is the sibling path from one leaf to the root.
type Proof struct {
	LeafIndex int    `json:"leaf_index"`
	LeafHash  string `json:"leaf_hash"`
	Root      string `json:"root"`
	Path      []Step `json:"path"`
}

// GenerateProof returns the inclusion proof for the leaf at index i.
func (t *Tree) GenerateProof(i int) (Proof, error) {
	if i < 0 || i >= len(t.leaves) {
		return Proof{}, fmt.Errorf("merkle: leaf index %d out of range [0,%d)", i, len(t.leaves))
	}

	p := Proof{LeafIndex: i, LeafHash: t.leaves[i], Root: t.root}
	idx := i
	for _, level := range t.levels[:len(t.levels)-1] {
		sib := idx ^ 1
		var sibling string
		if sib >= len(level) {
			sibling = level[idx] // odd level: last node paired with itself
		} else {
			sibling = level[sib]
		}
		side := "R"
		if sib < idx {
			side = "L"
		}
		p.Path = append(p.Path, Step{Side: side, Sibling: sibling})
		idx /= 2
	}
	return p, nil
}

// Verify recomputes the path from leafHash and compares against root. Any
// flipped bit in a sibling hash makes this fail.
func (p Proof) Verify(leafHash, root string) bool {
	if p.LeafHash != leafHash {
		return false
	}
	current := leafHash
	for _, step := range p.Path {
		if step.Side == "L" {
			current = nodeHash(step.Sibling, current)
		} else {
			current = nodeHash(current, step.Sibling)
		}
	}
	return current == root
}

// LeafHashFor computes the leaf hash a receipt content hash would occupy,
// for verifying proofs without the original tree.
func LeafHashFor(receiptHash string) string {
	return leafHash(receiptHash)
}
