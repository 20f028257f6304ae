package consensus

import (
	"time"

	"github.com/rs/zerolog"
)

// SafetyData is the consensus state that must survive a restart for the
// node to keep its safety guarantees: what it is locked on, what it has
// finalized and the last view it voted in.
type SafetyData struct {
	// LockedQC is the highest QC the node considers canonical. Monotonic
	// by view.
	LockedQC *QuorumCertificate
	// CommittedLeaf is the highest finalized leaf. Never retracted.
	CommittedLeaf Hash
	// CommittedView is the view of CommittedLeaf.
	CommittedView uint64
	// LastVotedView prevents double voting across restarts.
	LastVotedView uint64
}

// LivenessData is the view synchronizer's durable state.
type LivenessData struct {
	// CurrentView the node is in. Strictly monotonically increasing.
	CurrentView uint64
	// HighQC is the highest QC the synchronizer has observed.
	HighQC *QuorumCertificate
	// LastViewTC is the TC that advanced the node into CurrentView, nil
	// when the previous view produced a QC.
	LastViewTC *TimeoutCertificate
}

// Persister provides durable storage for the consensus state. Writes must
// be synced to stable storage before returning: the engine acts on commits
// externally only after the corresponding persist succeeded, so that a
// crash can never roll a decision back.
type Persister interface {
	PutSafetyData(*SafetyData) error
	GetSafetyData() (*SafetyData, error)
	PutLivenessData(*LivenessData) error
	GetLivenessData() (*LivenessData, error)
}

// persistWithRetry runs the durable write, retrying transient storage
// failures with backoff. Proceeding without durability risks undetectable
// divergence after a crash, so exhausted retries surface as an error the
// engine treats as fatal.
func persistWithRetry(logger zerolog.Logger, what string, put func() error) error {
	var err error
	for attempt := 0; attempt < persistAttempts; attempt++ {
		if err = put(); err == nil {
			return nil
		}
		logger.Warn().Err(err).Int("attempt", attempt+1).Msgf("persisting %s failed", what)
		time.Sleep(persistBackoff << attempt)
	}
	return err
}
