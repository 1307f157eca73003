// Package quorum collects peer signatures over an epoch's Merkle root until
// a Byzantine-tolerant threshold is reached. This is the aggregation step
// only; transport and the wider consensus protocol live outside the kernel.
package quorum

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/Nerval-Labs/reflex/pkg/crypto"
)

var (
	// ErrQuorumTimeout means vote collection hit its deadline before the
	// threshold. The epoch is marked unconfirmed, never silently completed.
	ErrQuorumTimeout = errors.New("quorum: vote collection timed out")
	// ErrQuorumNotReached means TryBuildQC was asked for a proof below
	// threshold. Expected and recoverable.
	ErrQuorumNotReached = errors.New("quorum: threshold not reached")
	// ErrVotesClosed means the transport closed the vote stream before
	// the threshold was reached. Distinct from a timeout so operators can
	// tell a dead transport from slow peers.
	ErrVotesClosed = errors.New("quorum: vote stream closed before threshold")
)

// PeerID identifies a voting peer.
type PeerID string

// Peer pairs an id with its ed25519 verification key.
type Peer struct {
	ID        PeerID
	PublicKey ed25519.PublicKey
}

// Vote is one peer's signature over (epoch, root).
type Vote struct {
	PeerID    PeerID `json:"peer_id"`
	Epoch     uint64 `json:"epoch"`
	Root      string `json:"root"`
	Signature []byte `json:"signature"`
}

// Proof is a quorum certificate: immutable once the threshold is reached.
type Proof struct {
	Epoch uint64 `json:"epoch"`
	Root  string `json:"root"`
	Votes []Vote `json:"votes"`
}

// Threshold returns the Byzantine-tolerant vote count for n peers:
// floor(2n/3)+1, tolerating floor(n/3) faulty peers.
func Threshold(n int) int {
	return 2*n/3 + 1
}

// VoteDigest is the byte string peers sign: a domain-separated encoding of
// (epoch, root).
func VoteDigest(epoch uint64, root string) []byte {
	buf := make([]byte, 0, len(root)+32)
	buf = append(buf, "reflex:epoch-vote:v1"...)
	buf = append(buf, 0)
	buf = binary.LittleEndian.AppendUint64(buf, epoch)
	buf = append(buf, 0)
	buf = append(buf, root...)
	return buf
}

// SignVote produces a vote for (epoch, root) under the given signer.
func SignVote(s crypto.Signer, id PeerID, epoch uint64, root string) Vote {
	return Vote{
		PeerID:    id,
		Epoch:     epoch,
		Root:      root,
		Signature: s.Sign(VoteDigest(epoch, root)),
	}
}

// Manager collects votes for one epoch at a time. It belongs to the warm
// tier: vote collection may suspend, bounded by the caller's context.
type Manager struct {
	mu          sync.Mutex
	peers       map[PeerID]Peer
	threshold   int
	coordinator PeerID

	epoch uint64
	root  string
	votes map[PeerID]Vote
}

// NewManager validates the fixed peer set and coordinator.
func NewManager(peers []Peer, coordinator PeerID) (*Manager, error) {
	if len(peers) == 0 {
		return nil, errors.New("quorum: empty peer set")
	}
	m := &Manager{
		peers:       make(map[PeerID]Peer, len(peers)),
		threshold:   Threshold(len(peers)),
		coordinator: coordinator,
		votes:       make(map[PeerID]Vote),
	}
	for _, p := range peers {
		if len(p.PublicKey) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("quorum: peer %s has invalid public key", p.ID)
		}
		if _, dup := m.peers[p.ID]; dup {
			return nil, fmt.Errorf("quorum: duplicate peer %s", p.ID)
		}
		m.peers[p.ID] = p
	}
	if _, ok := m.peers[coordinator]; !ok {
		return nil, fmt.Errorf("quorum: coordinator %s not in peer set", coordinator)
	}
	return m, nil
}

// Threshold returns the configured vote threshold.
func (m *Manager) Threshold() int { return m.threshold }

// PeerCount returns the size of the fixed peer set.
func (m *Manager) PeerCount() int { return len(m.peers) }

// Begin resets the manager for a new epoch and root.
func (m *Manager) Begin(epoch uint64, root string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epoch = epoch
	m.root = root
	m.votes = make(map[PeerID]Vote)
}

// SubmitVote verifies and records a vote. Invalid, duplicate, or mismatched
// votes are rejected as data, never escalated.
func (m *Manager) SubmitVote(v Vote) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	peer, ok := m.peers[v.PeerID]
	if !ok {
		return fmt.Errorf("quorum: vote from unknown peer %s", v.PeerID)
	}
	if v.Epoch != m.epoch || v.Root != m.root {
		return fmt.Errorf("quorum: vote for (%d, %.8s), collecting (%d, %.8s)",
			v.Epoch, v.Root, m.epoch, m.root)
	}
	if _, dup := m.votes[v.PeerID]; dup {
		return fmt.Errorf("quorum: duplicate vote from %s", v.PeerID)
	}
	if !crypto.Verify(peer.PublicKey, VoteDigest(v.Epoch, v.Root), v.Signature) {
		return fmt.Errorf("quorum: bad signature from %s", v.PeerID)
	}
	m.votes[v.PeerID] = v
	return nil
}

// VoteCount returns the number of accepted votes for the current epoch.
func (m *Manager) VoteCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.votes)
}

// TryBuildQC returns the quorum certificate once votes reach the threshold.
func (m *Manager) TryBuildQC() (*Proof, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.votes) < m.threshold {
		return nil, ErrQuorumNotReached
	}
	proof := &Proof{Epoch: m.epoch, Root: m.root, Votes: make([]Vote, 0, len(m.votes))}
	for _, v := range m.votes {
		proof.Votes = append(proof.Votes, v)
	}
	return proof, nil
}

// Collect consumes votes from the channel until the threshold is met or
// ctx expires. This is the warm tier's only suspension point besides
// storage I/O; it must always be bounded by a deadline.
func (m *Manager) Collect(ctx context.Context, votes <-chan Vote) (*Proof, error) {
	for {
		if qc, err := m.TryBuildQC(); err == nil {
			return qc, nil
		}
		select {
		case <-ctx.Done():
			return nil, ErrQuorumTimeout
		case v, ok := <-votes:
			if !ok {
				return nil, ErrVotesClosed
			}
			// Rejected votes are dropped; collection continues.
			_ = m.SubmitVote(v)
		}
	}
}

// VerifyProof checks every signature in a proof against the peer set and
// confirms the threshold. Used when loading persisted epochs.
func (m *Manager) VerifyProof(p *Proof) error {
	if p == nil || len(p.Votes) < m.threshold {
		return ErrQuorumNotReached
	}
	seen := make(map[PeerID]bool, len(p.Votes))
	for _, v := range p.Votes {
		peer, ok := m.peers[v.PeerID]
		if !ok {
			return fmt.Errorf("quorum: proof contains unknown peer %s", v.PeerID)
		}
		if seen[v.PeerID] {
			return fmt.Errorf("quorum: proof contains duplicate vote from %s", v.PeerID)
		}
		if v.Epoch != p.Epoch || v.Root != p.Root {
			return fmt.Errorf("quorum: proof vote from %s targets wrong epoch", v.PeerID)
		}
		if !crypto.Verify(peer.PublicKey, VoteDigest(v.Epoch, v.Root), v.Signature) {
			return fmt.Errorf("quorum: proof has bad signature from %s", v.PeerID)
		}
		seen[v.PeerID] = true
	}
	return nil
}
