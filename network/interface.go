// Package network connects the consensus engine to its peers. It defines
// the gossip boundary the engine depends on and ships two implementations:
// a libp2p pubsub transport for real deployments and an in-process
// fan-out for multi-node tests.
package network

import (
	"context"
	"io"

	"github.com/miles-six/hotshot/consensus"
)

// Network hands out a gossip channel per namespace, so several chains can
// share one transport without their messages mixing.
type Network interface {
	Gossip(namespace []byte) (Gossip, error)
}

// Gossip lets the consensus engine broadcast messages to and receive
// messages from all other nodes in the network. Implementations must
// eventually propagate every message to all non-faulty nodes; whether by
// flooding, structured overlays or anything else is up to the implementer.
type Gossip interface {
	io.Closer
	consensus.Broadcaster
	Notifier
}

type Notifier interface {
	// Notify registers the Notifiee wishing to receive inbound messages.
	// A non-nil error from an On... handler rejects the message as
	// invalid so the transport can stop relaying it.
	Notify(Notifiee)
}

// Notifiee receives the decoded inbound messages.
type Notifiee interface {
	OnProposal(context.Context, *consensus.Proposal) error
	OnVote(context.Context, *consensus.Vote) error
	OnTimeoutVote(context.Context, *consensus.TimeoutVote) error
	OnQC(context.Context, *consensus.QuorumCertificate) error
	OnTC(context.Context, *consensus.TimeoutCertificate) error
}

// BusNotifiee publishes every inbound message as an event on the engine's
// bus, where the engine's task loop picks it up. It never rejects: the
// engine does its own verification, and a message one node cannot verify
// yet may still be useful to its peers.
type BusNotifiee struct {
	bus *consensus.EventBus
}

func NewBusNotifiee(bus *consensus.EventBus) *BusNotifiee {
	return &BusNotifiee{bus: bus}
}

func (n *BusNotifiee) OnProposal(_ context.Context, p *consensus.Proposal) error {
	n.bus.Publish(consensus.ProposalEvent{Proposal: p})
	return nil
}

func (n *BusNotifiee) OnVote(_ context.Context, v *consensus.Vote) error {
	n.bus.Publish(consensus.VoteEvent{Vote: v})
	return nil
}

func (n *BusNotifiee) OnTimeoutVote(_ context.Context, v *consensus.TimeoutVote) error {
	n.bus.Publish(consensus.TimeoutVoteEvent{Vote: v})
	return nil
}

func (n *BusNotifiee) OnQC(_ context.Context, qc *consensus.QuorumCertificate) error {
	n.bus.Publish(consensus.CertificateEvent{QC: qc})
	return nil
}

func (n *BusNotifiee) OnTC(_ context.Context, tc *consensus.TimeoutCertificate) error {
	n.bus.Publish(consensus.CertificateEvent{TC: tc})
	return nil
}
