// Package hotshot assembles a byzantine fault tolerant replication node
// from its parts: the consensus engine, a gossip network, a durable store
// and the committee of weighted members it runs against.
package hotshot

import (
	"context"
	"fmt"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"

	"github.com/miles-six/hotshot/consensus"
	"github.com/miles-six/hotshot/network"
	"github.com/miles-six/hotshot/pkg/committee"
	"github.com/miles-six/hotshot/pkg/sign"
)

// Node binds an engine to its gossip channel.
type Node struct {
	engine *consensus.Engine
	gossip network.Gossip
}

// New wires a node over the given network. The signer may be nil for an
// observer node that follows and verifies the chain without voting.
func New(
	net network.Network,
	c committee.Committee,
	app consensus.Application,
	persist consensus.Persister,
	signer sign.Signer,
	params consensus.Parameters,
	opts ...consensus.Option,
) (*Node, error) {
	gossip, err := net.Gossip([]byte(params.Namespace))
	if err != nil {
		return nil, fmt.Errorf("joining gossip namespace %q: %w", params.Namespace, err)
	}
	engine, err := consensus.New(params, c, app, gossip, persist, signer, opts...)
	if err != nil {
		_ = gossip.Close()
		return nil, err
	}
	gossip.Notify(network.NewBusNotifiee(engine.Bus()))
	return &Node{engine: engine, gossip: gossip}, nil
}

// NewWithHost wires a node over libp2p gossipsub on the given host.
func NewWithHost(
	ctx context.Context,
	h host.Host,
	c committee.Committee,
	app consensus.Application,
	persist consensus.Persister,
	signer sign.Signer,
	params consensus.Parameters,
	opts ...consensus.Option,
) (*Node, error) {
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("creating gossipsub: %w", err)
	}
	return New(network.NewPubSubNetwork(ps), c, app, persist, signer, params, opts...)
}

// Start begins participating in consensus from the persisted view.
func (n *Node) Start(ctx context.Context) error {
	return n.engine.Start(ctx)
}

// Stop halts the engine and leaves the gossip channel.
func (n *Node) Stop() error {
	err := n.engine.Stop()
	if cerr := n.gossip.Close(); err == nil {
		err = cerr
	}
	return err
}

// Finalized delivers committed leaves exactly once, in commit order.
func (n *Node) Finalized() <-chan consensus.CommitEvent {
	return n.engine.Finalized()
}

// Engine exposes the underlying consensus engine.
func (n *Node) Engine() *consensus.Engine {
	return n.engine
}
