package network

import (
	"context"
	"fmt"

	"github.com/miles-six/hotshot/consensus"
)

type messageType uint8

const (
	proposalType messageType = iota + 1
	voteType
	timeoutVoteType
	qcType
	tcType
)

// envelope is the wire format: a tagged union over the consensus message
// kinds, json encoded. Exactly the field matching Type is set.
type envelope struct {
	Type        messageType
	Proposal    *consensus.Proposal           `json:",omitempty"`
	Vote        *consensus.Vote               `json:",omitempty"`
	TimeoutVote *consensus.TimeoutVote        `json:",omitempty"`
	QC          *consensus.QuorumCertificate  `json:",omitempty"`
	TC          *consensus.TimeoutCertificate `json:",omitempty"`
}

// deliver routes the envelope's payload to the matching notifiee handler.
func (env *envelope) deliver(ctx context.Context, notifiee Notifiee) error {
	switch env.Type {
	case proposalType:
		if env.Proposal == nil {
			return fmt.Errorf("proposal envelope without proposal")
		}
		return notifiee.OnProposal(ctx, env.Proposal)
	case voteType:
		if env.Vote == nil {
			return fmt.Errorf("vote envelope without vote")
		}
		return notifiee.OnVote(ctx, env.Vote)
	case timeoutVoteType:
		if env.TimeoutVote == nil {
			return fmt.Errorf("timeout vote envelope without vote")
		}
		return notifiee.OnTimeoutVote(ctx, env.TimeoutVote)
	case qcType:
		if env.QC == nil {
			return fmt.Errorf("certificate envelope without certificate")
		}
		return notifiee.OnQC(ctx, env.QC)
	case tcType:
		if env.TC == nil {
			return fmt.Errorf("certificate envelope without certificate")
		}
		return notifiee.OnTC(ctx, env.TC)
	default:
		return fmt.Errorf("unsupported message type: %d", env.Type)
	}
}
