package consensus

import (
	"fmt"
	"sync"

	"github.com/miles-six/hotshot/pkg/committee"
)

// AddVoteStatus is the outcome of feeding one vote to an aggregator.
type AddVoteStatus uint8

const (
	// VotePending: the vote was accepted but quorum has not been reached.
	VotePending AddVoteStatus = iota + 1
	// CertFormed: this vote tipped cumulative stake over the quorum
	// threshold and the certificate was produced.
	CertFormed
	// VoteRejected: the vote did not contribute (non-member, bad
	// signature, equivocation, or the certificate already formed).
	VoteRejected
)

// AddVoteResult carries the status and, on formation, the certificate.
type AddVoteResult struct {
	Status AddVoteStatus
	QC     *QuorumCertificate
	TC     *TimeoutCertificate
}

func pending() AddVoteResult  { return AddVoteResult{Status: VotePending} }
func rejected() AddVoteResult { return AddVoteResult{Status: VoteRejected} }

// Aggregator accumulates votes of one kind for one view into a threshold
// certificate. Once cumulative distinct-signer stake for a single target
// reaches the quorum threshold the certificate is produced and the tally
// discarded; a second certificate for the same (view, kind) can never
// form, even when a Byzantine leader splits votes across targets.
//
// Aggregator is not safe for concurrent use; each instance is owned by the
// single task aggregating that (view, kind), per the engine's ownership
// discipline.
type Aggregator struct {
	view      uint64
	kind      CertKind
	committee committee.Committee
	namespace []byte
	threshold uint64

	// tallies accumulate stake per target. Timeout votes all share the
	// single zero-hash target since they endorse "view timed out" rather
	// than a leaf.
	tallies  map[Hash]*tally
	bySigner map[string]recordedVote
	formed   bool

	equivocations []EquivocationError
}

type tally struct {
	stake       uint64
	signers     [][]byte
	signatures  [][]byte
	highQCViews []uint64
}

type recordedVote struct {
	target     Hash
	highQCView uint64
}

// NewAggregator creates an aggregator for one (view, kind). The quorum
// threshold is fixed at creation from the committee.
func NewAggregator(view uint64, kind CertKind, c committee.Committee, namespace []byte) *Aggregator {
	return &Aggregator{
		view:      view,
		kind:      kind,
		committee: c,
		namespace: namespace,
		threshold: c.QuorumThreshold(view),
		tallies:   make(map[Hash]*tally),
		bySigner:  make(map[string]recordedVote),
	}
}

// AddVote feeds a leaf vote to a quorum-kind aggregator.
func (a *Aggregator) AddVote(vote *Vote) (AddVoteResult, error) {
	if a.kind != QuorumCert {
		return rejected(), fmt.Errorf("leaf vote fed to %s aggregator", a.kind)
	}
	if vote.View != a.view {
		return rejected(), fmt.Errorf("%w: vote view %d, aggregator view %d", ErrStaleView, vote.View, a.view)
	}
	msg := VoteSignBytes(vote.View, vote.Leaf, a.namespace)
	return a.add(vote.Signer, vote.Leaf, vote.Signature, 0, msg)
}

// AddTimeoutVote feeds a timeout vote to a timeout-kind aggregator.
func (a *Aggregator) AddTimeoutVote(vote *TimeoutVote) (AddVoteResult, error) {
	if a.kind != TimeoutCert {
		return rejected(), fmt.Errorf("timeout vote fed to %s aggregator", a.kind)
	}
	if vote.View != a.view {
		return rejected(), fmt.Errorf("%w: vote view %d, aggregator view %d", ErrStaleView, vote.View, a.view)
	}
	msg := TimeoutSignBytes(vote.View, vote.HighQCView, a.namespace)
	return a.add(vote.Signer, ZeroHash, vote.Signature, vote.HighQCView, msg)
}

func (a *Aggregator) add(signer []byte, target Hash, signature []byte, highQCView uint64, msg []byte) (AddVoteResult, error) {
	if a.formed {
		return rejected(), ErrCertificateFormed
	}

	member := a.committee.Member(signer, a.view)
	if member == nil {
		return rejected(), fmt.Errorf("%w: %X for view %d", ErrNotCommitteeMember, truncate(signer, 4), a.view)
	}
	if !member.Verify(msg, signature) {
		return rejected(), fmt.Errorf("%w: from %X", ErrInvalidSignature, truncate(signer, 4))
	}

	if prior, ok := a.bySigner[string(signer)]; ok {
		if prior.target == target {
			// second identical vote is a no-op, not an error
			return pending(), nil
		}
		// a conflicting vote for the same view and kind is equivocation:
		// flag the evidence and retract the first contribution so the
		// signer counts towards neither tally
		evidence := EquivocationError{
			Signer: signer,
			View:   a.view,
			Kind:   a.kind,
			First:  prior.target,
			Second: target,
		}
		a.equivocations = append(a.equivocations, evidence)
		a.retract(signer, prior.target, member.Weight())
		delete(a.bySigner, string(signer))
		return rejected(), evidence
	}

	t, ok := a.tallies[target]
	if !ok {
		t = &tally{}
		a.tallies[target] = t
	}
	a.bySigner[string(signer)] = recordedVote{target: target, highQCView: highQCView}
	t.signers = append(t.signers, signer)
	t.signatures = append(t.signatures, signature)
	t.highQCViews = append(t.highQCViews, highQCView)
	t.stake += member.Weight()

	if t.stake < a.threshold {
		return pending(), nil
	}

	// first target to reach the threshold is realized; the tally is
	// discarded so stale votes cannot leak into later views
	result := a.assemble(target, t)
	a.formed = true
	a.tallies = nil
	a.bySigner = nil
	return result, nil
}

func (a *Aggregator) assemble(target Hash, t *tally) AddVoteResult {
	switch a.kind {
	case QuorumCert:
		return AddVoteResult{
			Status: CertFormed,
			QC: &QuorumCertificate{
				View:       a.view,
				Leaf:       target,
				Signers:    t.signers,
				Signatures: t.signatures,
				Stake:      t.stake,
			},
		}
	case TimeoutCert:
		var highest uint64
		for _, v := range t.highQCViews {
			if v > highest {
				highest = v
			}
		}
		return AddVoteResult{
			Status: CertFormed,
			TC: &TimeoutCertificate{
				View:        a.view,
				HighQCView:  highest,
				Signers:     t.signers,
				Signatures:  t.signatures,
				HighQCViews: t.highQCViews,
				Stake:       t.stake,
			},
		}
	default:
		panic(fmt.Sprintf("aggregator with unknown certificate kind %d", a.kind))
	}
}

// retract removes a signer's contribution from a target's tally.
func (a *Aggregator) retract(signer []byte, target Hash, weight uint64) {
	t, ok := a.tallies[target]
	if !ok {
		return
	}
	for i, s := range t.signers {
		if equalID(s, signer) {
			t.signers = append(t.signers[:i], t.signers[i+1:]...)
			t.signatures = append(t.signatures[:i], t.signatures[i+1:]...)
			t.highQCViews = append(t.highQCViews[:i], t.highQCViews[i+1:]...)
			t.stake -= weight
			return
		}
	}
}

// Formed reports whether this aggregator has already produced its
// certificate.
func (a *Aggregator) Formed() bool {
	return a.formed
}

// Equivocations returns the evidence collected so far.
func (a *Aggregator) Equivocations() []EquivocationError {
	return a.equivocations
}

// Collectors lazily creates one aggregator per (view, kind) and garbage
// collects tallies for views the node has moved past, bounding memory
// under sustained view churn.
type Collectors struct {
	mu        sync.Mutex
	committee committee.Committee
	namespace []byte
	byView    map[uint64]map[CertKind]*Aggregator
	lowest    uint64

	equivocations []EquivocationError
}

func NewCollectors(c committee.Committee, namespace []byte) *Collectors {
	return &Collectors{
		committee: c,
		namespace: namespace,
		byView:    make(map[uint64]map[CertKind]*Aggregator),
	}
}

// GetOrCreate returns the aggregator for (view, kind), creating it if this
// is the first vote seen for it. Views below the pruning watermark are
// refused.
func (c *Collectors) GetOrCreate(view uint64, kind CertKind) (*Aggregator, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if view < c.lowest {
		return nil, fmt.Errorf("%w: view %d below watermark %d", ErrStaleView, view, c.lowest)
	}
	kinds, ok := c.byView[view]
	if !ok {
		kinds = make(map[CertKind]*Aggregator)
		c.byView[view] = kinds
	}
	agg, ok := kinds[kind]
	if !ok {
		agg = NewAggregator(view, kind, c.committee, c.namespace)
		kinds[kind] = agg
	}
	return agg, nil
}

// PruneUpTo discards all aggregators for views strictly below the given
// view, preserving any equivocation evidence they gathered.
func (c *Collectors) PruneUpTo(view uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if view <= c.lowest {
		return
	}
	for v, kinds := range c.byView {
		if v >= view {
			continue
		}
		for _, agg := range kinds {
			c.equivocations = append(c.equivocations, agg.Equivocations()...)
		}
		delete(c.byView, v)
	}
	c.lowest = view
}

// Equivocations returns all evidence gathered across live and pruned
// aggregators.
func (c *Collectors) Equivocations() []EquivocationError {
	c.mu.Lock()
	defer c.mu.Unlock()
	evidence := make([]EquivocationError, 0, len(c.equivocations))
	evidence = append(evidence, c.equivocations...)
	for _, kinds := range c.byView {
		for _, agg := range kinds {
			evidence = append(evidence, agg.Equivocations()...)
		}
	}
	return evidence
}
