package consensus

import "fmt"

// Step enumerates where a replica is within its current view.
type Step uint8

const (
	// StepNewView means the replica entered the view and has not yet
	// voted or timed out. Proposals are only votable from here.
	StepNewView Step = iota
	// StepVoted means the replica cast its vote and is waiting for a
	// certificate to move it forward.
	StepVoted
	// StepTimedOut means the view timer lapsed before progress was made
	// and a timeout vote went out. No regular vote may follow in this
	// view.
	StepTimedOut
)

func (s Step) String() string {
	switch s {
	case StepNewView:
		return "new-view"
	case StepVoted:
		return "voted"
	case StepTimedOut:
		return "timed-out"
	default:
		return fmt.Sprintf("step(%d)", s)
	}
}

type (
	// Input is a verified occurrence fed into the state machine. Inputs
	// carry no raw network data; signature and safety checks happen
	// before anything reaches the machine.
	Input interface{ isInput() }

	// ViewEntered signals the synchronizer moved the replica into a new
	// view. Leading is true when this replica is the view's proposer.
	ViewEntered struct {
		View    uint64
		Leading bool
	}

	// ProposalReady signals a proposal for the current view passed
	// verification and the safety rules cleared it for voting.
	ProposalReady struct {
		Proposal *Proposal
	}

	// TimerFired signals the view timeout lapsed. It refires at the
	// rebroadcast interval while the replica stays stuck in the view.
	TimerFired struct {
		View uint64
	}

	// CertificateObserved signals a QC or TC at or above the current
	// view was formed locally or received from a peer.
	CertificateObserved struct {
		View uint64
	}
)

func (ViewEntered) isInput()         {}
func (ProposalReady) isInput()       {}
func (TimerFired) isInput()          {}
func (CertificateObserved) isInput() {}

type (
	// Action is a side effect the machine instructs its driver to
	// perform. The machine itself never signs, sends or persists.
	Action interface{ isAction() }

	// ProposeAction instructs the driver to build and broadcast a
	// proposal for the view. Emitted at most once per view.
	ProposeAction struct {
		View uint64
	}

	// VoteAction instructs the driver to sign and send a vote for the
	// proposal to the next view's leader.
	VoteAction struct {
		Proposal *Proposal
	}

	// TimeoutAction instructs the driver to sign and broadcast a
	// timeout vote for the view. Emitted again on each rebroadcast
	// tick while the view stays stuck.
	TimeoutAction struct {
		View uint64
	}

	// AdvanceAction instructs the driver to hand the certificate to
	// the synchronizer so the replica moves to the next view.
	AdvanceAction struct{}
)

func (ProposeAction) isAction() {}
func (VoteAction) isAction()    {}
func (TimeoutAction) isAction() {}
func (AdvanceAction) isAction() {}

// Machine sequences a replica's behaviour within a view. It is a pure
// transition function over its own private state: Step consumes one
// input and returns the actions the driver must perform, with no side
// effects of its own. This keeps the per-view protocol rules testable
// as plain input/output scripts.
//
// The machine enforces at most one proposal, one vote and one timeout
// broadcast per view (modulo rebroadcasts of the same timeout), and
// drops every input referring to a view other than its current one.
// It is not safe for concurrent use; the engine serializes all calls.
type Machine struct {
	view    uint64
	leading bool
	step    Step
}

// NewMachine returns a machine positioned before its first view. The
// first ViewEntered input activates it.
func NewMachine() *Machine {
	return &Machine{}
}

// View returns the machine's current view.
func (m *Machine) View() uint64 { return m.view }

// CurrentStep returns where the machine is within its current view.
func (m *Machine) CurrentStep() Step { return m.step }

// Step advances the machine by one input. Stale or out-of-order inputs
// return no actions.
func (m *Machine) Step(input Input) []Action {
	switch in := input.(type) {
	case ViewEntered:
		return m.onViewEntered(in)
	case ProposalReady:
		return m.onProposalReady(in)
	case TimerFired:
		return m.onTimerFired(in)
	case CertificateObserved:
		return m.onCertificateObserved(in)
	default:
		return nil
	}
}

func (m *Machine) onViewEntered(in ViewEntered) []Action {
	if in.View <= m.view {
		return nil
	}
	m.view = in.View
	m.leading = in.Leading
	m.step = StepNewView
	if m.leading {
		return []Action{ProposeAction{View: in.View}}
	}
	return nil
}

func (m *Machine) onProposalReady(in ProposalReady) []Action {
	if in.Proposal == nil || in.Proposal.Leaf == nil {
		return nil
	}
	if in.Proposal.Leaf.View != m.view {
		return nil
	}
	// once voted or timed out, no second vote in this view
	if m.step != StepNewView {
		return nil
	}
	m.step = StepVoted
	return []Action{VoteAction{Proposal: in.Proposal}}
}

func (m *Machine) onTimerFired(in TimerFired) []Action {
	if in.View != m.view {
		return nil
	}
	if m.step == StepVoted || m.step == StepNewView {
		m.step = StepTimedOut
		return []Action{TimeoutAction{View: m.view}}
	}
	// already timed out: the refire is the rebroadcast tick
	return []Action{TimeoutAction{View: m.view}}
}

func (m *Machine) onCertificateObserved(in CertificateObserved) []Action {
	if in.View < m.view {
		return nil
	}
	return []Action{AdvanceAction{}}
}
