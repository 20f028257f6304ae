package network

import (
	"context"
	"encoding/json"
	"errors"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/miles-six/hotshot/consensus"
)

var _ Network = (*PubSubNetwork)(nil)

// PubSubNetwork provides gossip channels over libp2p pubsub. One pubsub
// instance can serve many namespaces; each namespace maps to its own
// topic.
type PubSubNetwork struct {
	ps *pubsub.PubSub
}

func NewPubSubNetwork(ps *pubsub.PubSub) *PubSubNetwork {
	return &PubSubNetwork{ps: ps}
}

func (n *PubSubNetwork) Gossip(namespace []byte) (Gossip, error) {
	topic, err := n.ps.Join("hotshot/" + string(namespace))
	if err != nil {
		return nil, err
	}
	g := &PubSubGossip{
		ps: n.ps,
		tp: topic,
	}
	g.ensureSubscribed()
	return g, nil
}

type PubSubGossip struct {
	ps  *pubsub.PubSub
	tp  *pubsub.Topic
	sub *pubsub.Subscription
}

func (g *PubSubGossip) BroadcastProposal(ctx context.Context, p *consensus.Proposal) error {
	return g.publish(ctx, &envelope{Type: proposalType, Proposal: p})
}

func (g *PubSubGossip) BroadcastVote(ctx context.Context, v *consensus.Vote) error {
	return g.publish(ctx, &envelope{Type: voteType, Vote: v})
}

func (g *PubSubGossip) BroadcastTimeoutVote(ctx context.Context, v *consensus.TimeoutVote) error {
	return g.publish(ctx, &envelope{Type: timeoutVoteType, TimeoutVote: v})
}

func (g *PubSubGossip) BroadcastQC(ctx context.Context, qc *consensus.QuorumCertificate) error {
	return g.publish(ctx, &envelope{Type: qcType, QC: qc})
}

func (g *PubSubGossip) BroadcastTC(ctx context.Context, tc *consensus.TimeoutCertificate) error {
	return g.publish(ctx, &envelope{Type: tcType, TC: tc})
}

func (g *PubSubGossip) publish(ctx context.Context, env *envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	// so that we publish when we have at least one peer
	opt := pubsub.WithReadiness(pubsub.MinTopicSize(1))
	return g.tp.Publish(ctx, data, opt)
}

func (g *PubSubGossip) Notify(notifiee Notifiee) {
	// error can be safely ignored
	_ = g.ps.RegisterTopicValidator(g.tp.String(), func(ctx context.Context, _ peer.ID, pmsg *pubsub.Message) pubsub.ValidationResult {
		var env envelope
		if err := json.Unmarshal(pmsg.Data, &env); err != nil {
			return pubsub.ValidationReject
		}
		if err := env.deliver(ctx, notifiee); err != nil {
			return pubsub.ValidationReject
		}
		return pubsub.ValidationAccept
	})
}

func (g *PubSubGossip) Close() (err error) {
	if g.sub != nil {
		g.sub.Cancel()
	}
	err = errors.Join(err, g.ps.UnregisterTopicValidator(g.tp.String()))
	err = errors.Join(err, g.tp.Close())
	return err
}

// ensureSubscribed maintains one and only subscription for the topic.
// PubSub requires at least one subscription in order to work correctly;
// delivery to the engine relies only on validators.
func (g *PubSubGossip) ensureSubscribed() {
	sub, err := g.tp.Subscribe()
	if err != nil {
		return // safe to ignore
	}
	g.sub = sub

	go func() {
		for {
			_, err := sub.Next(context.Background())
			if err != nil {
				// happens when subscription is canceled
				return
			}
			// simply ignore messages
		}
	}()
}
