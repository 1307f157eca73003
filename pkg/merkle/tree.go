// Package merkle aggregates an epoch's receipt hashes into a binary Merkle
// tree. Leaves are taken in receipt-append order; the root is a
// deterministic function of the leaf sequence.
package merkle

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// Domain-separation prefixes keep leaf and interior hashes from colliding.
const (
	leafPrefix = "reflex:receipt:leaf:v1"
	nodePrefix = "reflex:receipt:node:v1"
)

// ErrNoLeaves is returned when building a tree over an empty epoch.
var ErrNoLeaves = errors.New("merkle: no leaves")

// Tree holds the leaf hashes and all interior levels up to the root.
type Tree struct {
	leaves []string
	levels [][]string // levels[0] = leaf hashes, last level = [root]
	root   string
}

// NewTree builds a tree over receipt content hashes (hex strings) in
// insertion order. Odd levels duplicate their last node.
func NewTree(receiptHashes []string) (*Tree, error) {
	if len(receiptHashes) == 0 {
		return nil, ErrNoLeaves
	}

	leaves := make([]string, len(receiptHashes))
	for i, h := range receiptHashes {
		leaves[i] = leafHash(h)
	}

	t := &Tree{leaves: leaves}
	level := leaves
	t.levels = append(t.levels, level)
	for len(level) > 1 {
		level = nextLevel(level)
		t.levels = append(t.levels, level)
	}
	t.root = level[0]
	return t, nil
}

// Root returns the tree root. Identical leaf sequences always produce the
// same root.
func (t *Tree) Root() string { return t.root }

// LeafCount returns the number of leaves.
func (t *Tree) LeafCount() int { return len(t.leaves) }

// Leaf returns the leaf hash at index i.
func (t *Tree) Leaf(i int) (string, error) {
	if i < 0 || i >= len(t.leaves) {
		return "", fmt.Errorf("merkle: leaf index %d out of range [0,%d)", i, len(t.leaves))
	}
	return t.leaves[i], nil
}

func leafHash(receiptHash string) string {
	var buf bytes.Buffer
	buf.WriteString(leafPrefix)
	buf.WriteByte(0)
	buf.Write(hexToBytes(receiptHash))
	return sha256Hex(buf.Bytes())
}

func nodeHash(left, right string) string {
	var buf bytes.Buffer
	buf.WriteString(nodePrefix)
	buf.WriteByte(0)
	buf.Write(hexToBytes(left))
	buf.Write(hexToBytes(right))
	return sha256Hex(buf.Bytes())
}

func nextLevel(hashes []string) []string {
	n := len(hashes)
	if n%2 != 0 {
		hashes = append(hashes, hashes[n-1])
		n++
	}
	next := make([]string, n/2)
	for i := 0; i < n; i += 2 {
		next[i/2] = nodeHash(hashes[i], hashes[i+1])
	}
	return next
}

func sha256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func hexToBytes(s string) []byte {
	b, _ := hex.DecodeString(s)
	return b
}
