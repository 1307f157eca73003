package quorum

import (
	"context"

	"github.com/Nerval-Labs/reflex/pkg/crypto"
)

// Broadcaster announces an epoch root to the peer set and delivers votes
// back on the returned channel. Implementations own the transport; the
// kernel only sees votes.
type Broadcaster interface {
	Broadcast(ctx context.Context, epoch uint64, root string) (<-chan Vote, error)
}

// Loopback is an in-process Broadcaster holding every peer's signing key.
// Each broadcast yields one honest vote per peer. Used in tests and
// single-process deployments.
type Loopback struct {
	signers map[PeerID]crypto.Signer
}

// NewLoopback builds a loopback transport from peer signers.
func NewLoopback(signers map[PeerID]crypto.Signer) *Loopback {
	return &Loopback{signers: signers}
}

// Broadcast signs (epoch, root) with every peer key and delivers the votes.
func (l *Loopback) Broadcast(ctx context.Context, epoch uint64, root string) (<-chan Vote, error) {
	out := make(chan Vote, len(l.signers))
	for id, s := range l.signers {
		out <- SignVote(s, id, epoch, root)
	}
	close(out)
	return out, nil
}
