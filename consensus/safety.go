package consensus

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

const (
	persistAttempts = 5
	persistBackoff  = 100 * time.Millisecond
)

// Safety validates proposals against locked and committed state and runs
// the commit rule. It exclusively owns LockedState and CommittedState:
// only the engine task calls its mutating methods, all other tasks read a
// consistent snapshot.
//
// The invariants it maintains are the protocol's safety argument: the
// locked QC only moves forward, a leaf finalizes only behind an
// uninterrupted chain of consecutive QCs, and CommittedState never moves
// backward.
type Safety struct {
	store   *LeafStore
	persist Persister
	logger  zerolog.Logger

	// depth is the number of consecutive certified views required by the
	// commit rule.
	depth uint64

	locked *QuorumCertificate

	// committedID is the authoritative hash of the highest finalized
	// leaf. It is carried as a hash, not a leaf: after a restart the
	// leaf itself may be gone from the store, and the persisted record
	// must survive the next persist cycle unchanged.
	committedID   Hash
	committedView uint64
	genesisID     Hash
	lastVoted     uint64

	snapshot atomic.Pointer[SafetyData]
}

// NewSafety restores the safety engine from persisted data, or boots from
// genesis when data is nil.
func NewSafety(genesis *Leaf, data *SafetyData, store *LeafStore, persist Persister, depth uint64, logger zerolog.Logger) (*Safety, error) {
	if depth < 2 {
		return nil, NewConfigurationErrorf("commit chain depth %d cannot guarantee safety, need at least 2", depth)
	}
	if data == nil {
		data = &SafetyData{
			LockedQC:      GenesisQC(genesis),
			CommittedLeaf: genesis.ID(),
			CommittedView: 0,
		}
	}
	s := &Safety{
		store:         store,
		persist:       persist,
		logger:        logger.With().Str("component", "safety").Logger(),
		depth:         depth,
		locked:        data.LockedQC,
		committedID:   data.CommittedLeaf,
		committedView: data.CommittedView,
		genesisID:     genesis.ID(),
		lastVoted:     data.LastVotedView,
	}
	s.snapshot.Store(s.data())
	return s, nil
}

// Locked returns the highest QC the node refuses to contradict.
func (s *Safety) Locked() *QuorumCertificate {
	return s.locked
}

// CommittedView returns the view of the highest finalized leaf.
func (s *Safety) CommittedView() uint64 {
	return s.committedView
}

// Snapshot returns a consistent read-only copy of the safety state for
// tasks other than the engine.
func (s *Safety) Snapshot() *SafetyData {
	return s.snapshot.Load()
}

// ExtendCheck decides whether the proposed leaf is acceptable: its parent
// chain must reach the leaf certified by the locked QC, and its
// justification must not be older than the locked QC. Violating either is
// answered with NoVoteError: the node silently withholds its vote, which
// is the safety mechanism itself.
func (s *Safety) ExtendCheck(leaf *Leaf) error {
	if leaf.JustifyQCView() < s.locked.View {
		return NoVoteError{Msg: fmt.Sprintf(
			"justification view %d older than locked view %d", leaf.JustifyQCView(), s.locked.View)}
	}
	if !s.store.Extends(leaf, s.locked.Leaf) {
		return NoVoteError{Msg: fmt.Sprintf(
			"leaf %s does not extend the locked leaf %s", leaf.ID(), s.locked.Leaf)}
	}
	return nil
}

// ShouldVote runs the extend check and the double-vote guard for a
// proposal in the current view. On success the last voted view is durably
// recorded before the caller may sign.
func (s *Safety) ShouldVote(proposal *Proposal, curView uint64) error {
	leaf := proposal.Leaf
	if leaf.View != curView {
		return NoVoteError{Msg: fmt.Sprintf("proposal is for view %d, node is in view %d", leaf.View, curView)}
	}
	if curView <= s.lastVoted {
		return NoVoteError{Msg: fmt.Sprintf("already voted in view %d", s.lastVoted)}
	}
	if err := s.ExtendCheck(leaf); err != nil {
		return err
	}
	s.lastVoted = curView
	if err := s.persistState(); err != nil {
		return unrecoverable(fmt.Errorf("persisting voted view: %w", err))
	}
	return nil
}

// ProcessQC advances the locked state and applies the commit rule,
// returning the newly finalized leaves in commit order. The caller must
// not act on the commits externally before this method returns: the state
// is durably persisted first.
func (s *Safety) ProcessQC(qc *QuorumCertificate) ([]CommitEvent, error) {
	if qc.View <= s.locked.View {
		// locked state is monotonic; old certificates carry no news
		return nil, nil
	}
	s.locked = qc

	commits := s.applyCommitRule(qc)
	if err := s.persistState(); err != nil {
		return nil, unrecoverable(fmt.Errorf("persisting safety state: %w", err))
	}
	s.store.PruneBelow(s.committedView)
	return commits, nil
}

// applyCommitRule finalizes the tail of an uninterrupted chain of `depth`
// consecutive QCs ending at the given certificate. With the default depth
// of three: QCs at views v-2, v-1, v, each certifying the direct parent of
// the next, finalize the view v-2 leaf. A conflicting chain cannot
// accumulate that many consecutive honest-majority certificates without
// violating quorum intersection, which is what makes the rule safe.
func (s *Safety) applyCommitRule(qc *QuorumCertificate) []CommitEvent {
	candidate := s.commitCandidate(qc)
	if candidate == nil || candidate.View <= s.committedView {
		return nil
	}

	// walk back from the candidate to the current committed leaf,
	// collecting everything that finalizes with it
	var chain []*Leaf
	current := candidate
	for current != nil && current.View > s.committedView {
		chain = append(chain, current)
		current = s.store.Get(current.Parent)
	}
	if current == nil {
		// ancestry unknown (node joined after the committed prefix was
		// pruned); the candidate still finalizes but intermediate
		// notifications cannot be reconstructed
		s.logger.Warn().
			Uint64("view", candidate.View).
			Msg("commit candidate ancestry incomplete, committing candidate only")
		chain = chain[:1]
	} else if current.ID() != s.committedID && s.committedID != s.genesisID {
		// two finalized leaves on conflicting chains is a protocol safety
		// violation that must never be reconciled silently
		panic(fmt.Sprintf(
			"commit rule reached %s at view %d which conflicts with committed %s at view %d",
			current.ID(), current.View, s.committedID, s.committedView))
	}

	s.committedID = candidate.ID()
	s.committedView = candidate.View

	events := make([]CommitEvent, 0, len(chain))
	for i := len(chain) - 1; i >= 0; i-- {
		events = append(events, CommitEvent{Leaf: chain[i], View: qc.View})
	}
	return events
}

// commitCandidate returns the leaf finalized by the chain of consecutive
// certificates ending in qc, or nil when the chain has a gap.
func (s *Safety) commitCandidate(qc *QuorumCertificate) *Leaf {
	leaf := s.store.Get(qc.Leaf)
	if leaf == nil || leaf.View != qc.View {
		return nil
	}
	for i := uint64(1); i < s.depth; i++ {
		justify := leaf.Justify
		if justify == nil {
			return nil
		}
		if justify.View+1 != leaf.View {
			// a skipped view breaks the consecutive chain
			return nil
		}
		parent := s.store.Get(leaf.Parent)
		if parent == nil || parent.View != justify.View {
			return nil
		}
		leaf = parent
	}
	return leaf
}

func (s *Safety) data() *SafetyData {
	return &SafetyData{
		LockedQC:      s.locked,
		CommittedLeaf: s.committedID,
		CommittedView: s.committedView,
		LastVotedView: s.lastVoted,
	}
}

// persistState durably records the safety state before any caller may act
// on it externally.
func (s *Safety) persistState() error {
	data := s.data()
	err := persistWithRetry(s.logger, "safety data", func() error {
		return s.persist.PutSafetyData(data)
	})
	if err != nil {
		return err
	}
	s.snapshot.Store(data)
	return nil
}
