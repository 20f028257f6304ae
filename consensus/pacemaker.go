package consensus

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// Pacemaker is the view synchronizer. It owns the current view, the
// adaptive view timeout and the highest certificates observed, and drives
// view advancement independent of proposal success: a QC advances the view
// on the happy path, a TC advances it when the view stalled.
//
// Views are strictly monotonically increasing; the pacemaker panics if a
// caller ever attempts to move it backward, since that indicates a logic
// bug that could cause a silent fork.
type Pacemaker struct {
	timeout *timeoutController
	persist Persister
	logger  zerolog.Logger

	live    *LivenessData
	curView atomic.Uint64
	started atomic.Bool
	ctx     context.Context
}

// NewPacemaker restores the synchronizer from persisted liveness data, or
// boots from view 1 on top of the genesis QC when data is nil.
func NewPacemaker(genesis *Leaf, data *LivenessData, cfg TimeoutConfig, persist Persister, logger zerolog.Logger) (*Pacemaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if data == nil {
		data = &LivenessData{
			CurrentView: 1,
			HighQC:      GenesisQC(genesis),
		}
	}
	if data.CurrentView < 1 {
		return nil, NewConfigurationErrorf("pacemaker must start at view 1 or above, got %d", data.CurrentView)
	}
	p := &Pacemaker{
		timeout: newTimeoutController(cfg),
		persist: persist,
		logger:  logger.With().Str("component", "pacemaker").Logger(),
		live:    data,
	}
	p.curView.Store(data.CurrentView)
	return p, nil
}

// Start arms the timeout for the current view. Idempotent.
func (p *Pacemaker) Start(ctx context.Context) {
	if p.started.Swap(true) {
		return
	}
	p.ctx = ctx
	duration := p.timeout.StartTimeout(ctx, p.CurView())
	p.logger.Info().Uint64("view", p.CurView()).Dur("timeout", duration).Msg("starting view timeout")
}

// Stop cancels the active timer without side effects.
func (p *Pacemaker) Stop() {
	p.timeout.Stop()
}

// CurView returns the current view. Safe for concurrent readers.
func (p *Pacemaker) CurView() uint64 {
	return p.curView.Load()
}

// HighQC returns the highest QC the synchronizer has observed.
func (p *Pacemaker) HighQC() *QuorumCertificate {
	return p.live.HighQC
}

// LastViewTC returns the TC that advanced the node into the current view,
// or nil when the previous view produced a QC.
func (p *Pacemaker) LastViewTC() *TimeoutCertificate {
	return p.live.LastViewTC
}

// TimeoutChannel fires when the current view's timeout lapses, then keeps
// ticking at the rebroadcast interval while the node stays stuck. The
// channel is stable for the pacemaker's lifetime; each fire carries the
// view it was armed for so readers can discard fires from views already
// left behind.
func (p *Pacemaker) TimeoutChannel() <-chan TimeoutFire {
	return p.timeout.Channel()
}

// ProcessQC fast-forwards the view past the certified one. A quorum voted
// in qc.View, so a quorum is at least in qc.View+1 and the node can skip
// ahead. Returns the new view event, or nil when the QC carries no news.
func (p *Pacemaker) ProcessQC(qc *QuorumCertificate) (*ViewEvent, error) {
	if qc == nil {
		return nil, nil
	}
	if qc.View < p.CurView() {
		// a certificate for a view already left can still be fresher
		// than our high QC after a run of timeout-driven advances
		p.ObserveQC(qc)
		return nil, nil
	}
	p.timeout.OnProgress()
	if err := p.advanceTo(qc.View+1, qc, nil); err != nil {
		return nil, err
	}
	return &ViewEvent{View: qc.View + 1}, nil
}

// ProcessTC advances past a timed out view. Returns the new view event,
// or nil when the TC is stale.
func (p *Pacemaker) ProcessTC(tc *TimeoutCertificate) (*ViewEvent, error) {
	if tc == nil || tc.View < p.CurView() {
		return nil, nil
	}
	p.timeout.OnTimeout()
	if err := p.advanceTo(tc.View+1, nil, tc); err != nil {
		return nil, err
	}
	return &ViewEvent{View: tc.View + 1}, nil
}

// ObserveQC records a higher QC without advancing the view. ProcessQC
// falls back to it for certificates older than the current view, so the
// high QC keeps up even when views advance through timeouts.
func (p *Pacemaker) ObserveQC(qc *QuorumCertificate) {
	if qc != nil && qc.View > p.live.HighQC.View {
		p.live.HighQC = qc
	}
}

func (p *Pacemaker) advanceTo(newView uint64, qc *QuorumCertificate, tc *TimeoutCertificate) error {
	if newView <= p.live.CurrentView {
		// callers only ever pass certificate views at or above the current
		// view; hitting this means the monotonicity contract was broken
		panic(fmt.Sprintf("cannot move pacemaker from view %d to %d: views must strictly increase",
			p.live.CurrentView, newView))
	}
	p.live.CurrentView = newView
	if qc != nil && qc.View > p.live.HighQC.View {
		p.live.HighQC = qc
	}
	p.live.LastViewTC = tc

	err := persistWithRetry(p.logger, "liveness data", func() error {
		return p.persist.PutLivenessData(p.live)
	})
	if err != nil {
		return unrecoverable(fmt.Errorf("persisting liveness data: %w", err))
	}
	p.curView.Store(newView)

	if p.started.Load() {
		duration := p.timeout.StartTimeout(p.ctx, newView)
		p.logger.Debug().Uint64("view", newView).Dur("timeout", duration).Msg("entered view")
	}
	return nil
}
