package network

import (
	"context"
	"sync"

	"github.com/miles-six/hotshot/consensus"
)

var _ Network = (*LocalNetwork)(nil)

// LocalNetwork wires gossip channels together inside a single process.
// Every broadcast is delivered to all notifiees on the same namespace
// except the sender's own, mirroring pubsub's no-loopback delivery.
// Used by multi-node tests; delivery is synchronous and lossless.
type LocalNetwork struct {
	mu     sync.RWMutex
	topics map[string][]*LocalGossip
}

func NewLocalNetwork() *LocalNetwork {
	return &LocalNetwork{
		topics: make(map[string][]*LocalGossip),
	}
}

func (n *LocalNetwork) Gossip(namespace []byte) (Gossip, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	g := &LocalGossip{net: n, namespace: string(namespace)}
	n.topics[g.namespace] = append(n.topics[g.namespace], g)
	return g, nil
}

// fanout delivers the envelope to every peer on the namespace except the
// sender. Handler errors only stop delivery to that peer.
func (n *LocalNetwork) fanout(ctx context.Context, from *LocalGossip, env *envelope) error {
	n.mu.RLock()
	peers := append([]*LocalGossip(nil), n.topics[from.namespace]...)
	n.mu.RUnlock()

	for _, peer := range peers {
		if peer == from {
			continue
		}
		peer.mu.RLock()
		notifiee := peer.notifiee
		closed := peer.closed
		peer.mu.RUnlock()
		if notifiee == nil || closed {
			continue
		}
		_ = env.deliver(ctx, notifiee)
	}
	return nil
}

type LocalGossip struct {
	net       *LocalNetwork
	namespace string

	mu       sync.RWMutex
	notifiee Notifiee
	closed   bool
}

func (g *LocalGossip) BroadcastProposal(ctx context.Context, p *consensus.Proposal) error {
	return g.net.fanout(ctx, g, &envelope{Type: proposalType, Proposal: p})
}

func (g *LocalGossip) BroadcastVote(ctx context.Context, v *consensus.Vote) error {
	return g.net.fanout(ctx, g, &envelope{Type: voteType, Vote: v})
}

func (g *LocalGossip) BroadcastTimeoutVote(ctx context.Context, v *consensus.TimeoutVote) error {
	return g.net.fanout(ctx, g, &envelope{Type: timeoutVoteType, TimeoutVote: v})
}

func (g *LocalGossip) BroadcastQC(ctx context.Context, qc *consensus.QuorumCertificate) error {
	return g.net.fanout(ctx, g, &envelope{Type: qcType, QC: qc})
}

func (g *LocalGossip) BroadcastTC(ctx context.Context, tc *consensus.TimeoutCertificate) error {
	return g.net.fanout(ctx, g, &envelope{Type: tcType, TC: tc})
}

func (g *LocalGossip) Notify(notifiee Notifiee) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.notifiee = notifiee
}

func (g *LocalGossip) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	g.notifiee = nil
	return nil
}
