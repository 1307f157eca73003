// Package receipt implements the append-only, hash-linked audit log of
// every execution outcome. Every dispatch, whether it completes or parks,
// produces exactly one receipt; no execution is ever unaccounted for.
package receipt

import (
	"encoding/binary"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"

	"github.com/Nerval-Labs/reflex/pkg/crypto"
)

// Status of the execution a receipt records.
type Status uint8

const (
	StatusCompleted Status = iota
	StatusParked
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusParked:
		return "parked"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Receipt is an immutable record proving what action resulted from what
// observation. Parent linkage is by integer id into the chain, never by
// reference, so the chain serializes trivially.
type Receipt struct {
	ID            uint64 `json:"id"`
	Epoch         uint64 `json:"epoch"`
	Shard         uint32 `json:"shard"`
	Pattern       uint32 `json:"pattern"`
	TaskID        string `json:"task_id"`
	TicksUsed     uint64 `json:"ticks_used"`
	Budget        uint64 `json:"budget"`
	SigmaHash     string `json:"sigma_hash"`
	ObsHash       string `json:"obs_hash"`
	ActionHash    string `json:"action_hash"`
	ParentID      uint64 `json:"parent_id"`
	ParentHash    string `json:"parent_hash"`
	GuardBitmap   uint64 `json:"guard_bitmap"`
	GuardOutcomes uint64 `json:"guard_outcomes"`
	Status        Status `json:"status"`
	Cause         string `json:"cause,omitempty"`
	Signature     string `json:"signature,omitempty"`
}

// New builds a receipt for one execution outcome. ActionHash is a
// deterministic projection of (ontology snapshot, observation, pattern):
// identical inputs always yield an identical hash.
func New(epoch uint64, shard uint32, sigmaHash, obsHash string, ticks, budget uint64, taskID string, patternID uint32) Receipt {
	r := Receipt{
		Epoch:     epoch,
		Shard:     shard,
		Pattern:   patternID,
		TaskID:    taskID,
		TicksUsed: ticks,
		Budget:    budget,
		SigmaHash: sigmaHash,
		ObsHash:   obsHash,
	}
	r.ActionHash = actionHash(sigmaHash, obsHash, patternID)
	return r
}

// actionHash derives the action digest from the execution inputs. Ticks and
// ids are excluded: the action is a function of what was observed under
// which ruleset, nothing else.
func actionHash(sigmaHash, obsHash string, patternID uint32) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte("reflex:action:v1"))
	h.Write([]byte{0})
	h.Write([]byte(sigmaHash))
	h.Write([]byte{0})
	h.Write([]byte(obsHash))
	h.Write([]byte{0})
	var pid [4]byte
	binary.LittleEndian.PutUint32(pid[:], patternID)
	h.Write(pid[:])
	return hex.EncodeToString(h.Sum(nil))
}

// Hash returns the receipt's content hash: SHA-256 over the canonical JSON
// encoding, excluding the signature. Idempotent and reproducible.
func (r Receipt) Hash() (string, error) {
	unsigned := r
	unsigned.Signature = ""
	b, err := crypto.CanonicalMarshal(unsigned)
	if err != nil {
		return "", err
	}
	return crypto.HashBytes(b), nil
}

// GuardFailed reports whether any evaluated guard failed.
func (r Receipt) GuardFailed() bool {
	return r.GuardBitmap&r.GuardOutcomes != r.GuardBitmap
}
