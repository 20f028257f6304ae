package consensus

import (
	"context"
	"math"
	"time"
)

// TimeoutConfig parameterizes the view synchronizer's adaptive timeout.
type TimeoutConfig struct {
	// MinTimeout is the base duration of a view before the node gives up
	// on it. A QC-driven advance resets the timeout towards this value.
	MinTimeout time.Duration
	// MaxTimeout caps the backoff under long runs of failed views.
	MaxTimeout time.Duration
	// Factor is the multiplicative backoff applied per failed view beyond
	// HappyPathRounds. Must be > 1.
	Factor float64
	// HappyPathRounds is how many consecutive failed views are tolerated
	// at MinTimeout before the backoff starts growing.
	HappyPathRounds uint64
	// RebroadcastInterval is how often a timed out node re-announces its
	// timeout vote while stuck in the same view.
	RebroadcastInterval time.Duration
}

func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		MinTimeout:          time.Second,
		MaxTimeout:          30 * time.Second,
		Factor:              1.5,
		HappyPathRounds:     2,
		RebroadcastInterval: 2 * time.Second,
	}
}

func (c TimeoutConfig) Validate() error {
	if c.MinTimeout <= 0 {
		return NewConfigurationErrorf("minimum timeout must be positive, got %s", c.MinTimeout)
	}
	if c.MaxTimeout < c.MinTimeout {
		return NewConfigurationErrorf("maximum timeout %s below minimum %s", c.MaxTimeout, c.MinTimeout)
	}
	if c.Factor <= 1 {
		return NewConfigurationErrorf("timeout factor must exceed 1, got %f", c.Factor)
	}
	if c.RebroadcastInterval <= 0 {
		return NewConfigurationErrorf("rebroadcast interval must be positive, got %s", c.RebroadcastInterval)
	}
	return nil
}

// TimeoutFire is one firing of the view timer. It carries the view the
// timer was armed for, so a consumer holding a fire from before a view
// change can recognize it as stale.
type TimeoutFire struct {
	View uint64
	At   time.Time
}

// timeoutController implements truncated exponential backoff over view
// durations:
//
//	duration(r) = min * factor^min(max(r-k, 0), c), c = log_factor(max/min)
//
// where r counts consecutive failed views and k is the happy path
// allowance. Timing out a view increments r, making progress before the
// timeout decrements it, so round durations grow exponentially under
// sustained failure and recover exponentially once the network heals.
//
// All fires are delivered on one channel that lives as long as the
// controller. Re-arming must never replace the channel: a consumer
// blocked on it before a view change would otherwise wait on an orphaned
// channel forever and miss every later timeout.
type timeoutController struct {
	cfg TimeoutConfig

	timeoutCh   chan TimeoutFire
	stopTicker  context.CancelFunc
	maxExponent float64
	failures    uint64
}

func newTimeoutController(cfg TimeoutConfig) *timeoutController {
	return &timeoutController{
		cfg:         cfg,
		timeoutCh:   make(chan TimeoutFire, 1),
		stopTicker:  func() {},
		maxExponent: math.Log(float64(cfg.MaxTimeout)/float64(cfg.MinTimeout)) / math.Log(cfg.Factor),
	}
}

// Channel returns the channel every timeout (and subsequent rebroadcast
// ticks) fires on. The channel is stable across re-arms; stale fires are
// identified by their view stamp.
func (t *timeoutController) Channel() <-chan TimeoutFire {
	return t.timeoutCh
}

// StartTimeout cancels any running timeout and arms one for the view.
// After the initial fire the channel keeps ticking at the rebroadcast
// interval until the next StartTimeout or context cancellation.
func (t *timeoutController) StartTimeout(ctx context.Context, view uint64) time.Duration {
	t.stopTicker()

	duration := t.duration()
	tick := t.cfg.RebroadcastInterval
	if tick > duration {
		tick = duration
	}

	var tickCtx context.Context
	tickCtx, t.stopTicker = context.WithCancel(ctx)
	go tickAfterTimeout(tickCtx, view, duration, tick, t.timeoutCh)
	return duration
}

// tickAfterTimeout waits for the view duration, forwards the fire to the
// sink, then keeps ticking at tickInterval until cancelled. Ticks are
// dropped when the receiver lags.
func tickAfterTimeout(ctx context.Context, view uint64, duration, tickInterval time.Duration, sink chan<- TimeoutFire) {
	timer := time.NewTimer(duration)
	select {
	case fired := <-timer.C:
		select {
		case sink <- TimeoutFire{View: view, At: fired}:
		default:
		}
	case <-ctx.Done():
		timer.Stop()
		return
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case fired := <-ticker.C:
			select {
			case sink <- TimeoutFire{View: view, At: fired}:
			default:
			}
		case <-ctx.Done():
			return
		}
	}
}

// duration returns the current view duration under the backoff.
func (t *timeoutController) duration() time.Duration {
	if t.failures <= t.cfg.HappyPathRounds {
		return t.cfg.MinTimeout
	}
	r := float64(t.failures - t.cfg.HappyPathRounds)
	if r >= t.maxExponent {
		return t.cfg.MaxTimeout
	}
	return time.Duration(float64(t.cfg.MinTimeout) * math.Pow(t.cfg.Factor, r))
}

// OnTimeout records a failed view, growing the backoff.
func (t *timeoutController) OnTimeout() {
	if float64(t.failures) >= t.maxExponent+float64(t.cfg.HappyPathRounds) {
		return
	}
	t.failures++
}

// OnProgress records a QC-driven advance, shrinking the backoff one step
// rather than resetting it: a single certified view during an outage must
// not collapse the duration back to the minimum.
func (t *timeoutController) OnProgress() {
	if t.failures > 0 {
		t.failures--
	}
}

// Stop cancels any running timeout without side effects.
func (t *timeoutController) Stop() {
	t.stopTicker()
}
