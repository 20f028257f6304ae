package consensus

import "time"

// Metrics receives protocol level measurements from the engine. The
// concrete implementation lives outside the consensus core so that the
// core carries no collector dependency; tests and minimal deployments
// use the no-op implementation.
type Metrics interface {
	ViewEntered(view uint64)
	LeafCommitted(view uint64)
	CommitLatency(d time.Duration)
	CertificateFormed(kind CertKind)
	TimeoutRaised(view uint64)
	EquivocationDetected()
}

type noopMetrics struct{}

func (noopMetrics) ViewEntered(uint64)          {}
func (noopMetrics) LeafCommitted(uint64)        {}
func (noopMetrics) CommitLatency(time.Duration) {}
func (noopMetrics) CertificateFormed(CertKind)  {}
func (noopMetrics) TimeoutRaised(uint64)        {}
func (noopMetrics) EquivocationDetected()       {}

// NopMetrics returns a Metrics implementation that discards everything.
func NopMetrics() Metrics { return noopMetrics{} }
