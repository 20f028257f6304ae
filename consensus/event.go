package consensus

import "fmt"

// Event is the closed set of variants flowing over the engine's bus.
// Network messages and timer firings enter as events; votes, proposals and
// certificates the node produces leave as events. Every consumer switches
// exhaustively over the variants so a new kind forces a review of all
// consumers.
type Event interface {
	fmt.Stringer
	isEvent()
}

// ProposalEvent carries a leader's proposal, inbound from the network or
// loopback from our own proposer.
type ProposalEvent struct {
	Proposal *Proposal
}

// VoteEvent carries a leaf vote.
type VoteEvent struct {
	Vote *Vote
}

// TimeoutVoteEvent carries a timeout vote.
type TimeoutVoteEvent struct {
	Vote *TimeoutVote
}

// CertificateEvent carries a certificate formed locally or relayed by a
// peer. Exactly one of QC and TC is set.
type CertificateEvent struct {
	QC *QuorumCertificate
	TC *TimeoutCertificate
}

// TimerEvent fires when the view synchronizer's timeout for a view lapses.
type TimerEvent struct {
	View uint64
}

// ViewEvent announces that the node entered a new view.
type ViewEvent struct {
	View uint64
}

func (ProposalEvent) isEvent()    {}
func (VoteEvent) isEvent()        {}
func (TimeoutVoteEvent) isEvent() {}
func (CertificateEvent) isEvent() {}
func (TimerEvent) isEvent()       {}
func (ViewEvent) isEvent()        {}

func (e ProposalEvent) String() string    { return fmt.Sprintf("event:%s", e.Proposal) }
func (e VoteEvent) String() string        { return fmt.Sprintf("event:%s", e.Vote) }
func (e TimeoutVoteEvent) String() string { return fmt.Sprintf("event:%s", e.Vote) }
func (e TimerEvent) String() string       { return fmt.Sprintf("event:Timer{%d}", e.View) }
func (e ViewEvent) String() string        { return fmt.Sprintf("event:View{%d}", e.View) }

func (e CertificateEvent) String() string {
	if e.QC != nil {
		return fmt.Sprintf("event:%s", e.QC)
	}
	return fmt.Sprintf("event:%s", e.TC)
}

// CommitEvent notifies downstream consumers of a finalized leaf. Emitted
// exactly once per commit, in commit order, only after the decision has
// been durably persisted.
type CommitEvent struct {
	Leaf *Leaf
	// View the commit rule fired in, which may be later than Leaf.View.
	View uint64
}
