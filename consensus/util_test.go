package consensus

import (
	"io"
	"sync"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// memPersister is the in-process persister used throughout the package
// tests. The real durable implementations live in the store package.
type memPersister struct {
	mu       sync.Mutex
	safety   *SafetyData
	liveness *LivenessData

	// failures makes the next n writes fail, for retry path tests
	failures int
	writeErr error
}

func (p *memPersister) PutSafetyData(data *SafetyData) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return p.writeErr
	}
	clone := *data
	p.safety = &clone
	return nil
}

func (p *memPersister) GetSafetyData() (*SafetyData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.safety, nil
}

func (p *memPersister) PutLivenessData(data *LivenessData) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return p.writeErr
	}
	clone := *data
	p.liveness = &clone
	return nil
}

func (p *memPersister) GetLivenessData() (*LivenessData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.liveness, nil
}

// qcFor fabricates an unsigned certificate for a leaf. Safety and the
// pacemaker treat certificates as already verified, so tests can skip the
// signing ceremony.
func qcFor(leaf *Leaf) *QuorumCertificate {
	return &QuorumCertificate{
		View:  leaf.View,
		Leaf:  leaf.ID(),
		Stake: 3,
	}
}

// extend builds a child leaf in the given view, justified by the parent's
// certificate.
func extend(parent *Leaf, view uint64, payload string) *Leaf {
	var justify *QuorumCertificate
	if parent.IsGenesis() {
		justify = GenesisQC(parent)
	} else {
		justify = qcFor(parent)
	}
	return NewLeaf(view, parent.ID(), []byte(payload), justify, nil)
}
