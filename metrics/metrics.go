// Package metrics exports Prometheus instrumentation for the consensus
// engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/miles-six/hotshot/consensus"
)

// Collector implements the consensus metrics sink on Prometheus
// collectors, all registered on the default registry under the given
// namespace.
type Collector struct {
	currentView   prometheus.Gauge
	committedView prometheus.Gauge
	commitLatency prometheus.Histogram
	certificates  *prometheus.CounterVec
	timeouts      prometheus.Counter
	equivocations prometheus.Counter
}

var _ consensus.Metrics = (*Collector)(nil)

// New creates a Collector. Each namespace may be created once per
// process; promauto panics on duplicate registration.
func New(namespace string) *Collector {
	return &Collector{
		currentView: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_view",
			Help:      "View the replica is currently in",
		}),
		committedView: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "committed_view",
			Help:      "View of the most recently finalized leaf",
		}),
		commitLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "commit_latency_seconds",
			Help:      "Time from proposal receipt to finalization",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		certificates: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "certificates_formed_total",
			Help:      "Certificates formed or adopted, by kind",
		}, []string{"kind"}),
		timeouts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "view_timeouts_total",
			Help:      "Views that timed out before producing a certificate",
		}),
		equivocations: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "equivocations_total",
			Help:      "Detected double votes and double proposals",
		}),
	}
}

func (c *Collector) ViewEntered(view uint64) {
	c.currentView.Set(float64(view))
}

func (c *Collector) LeafCommitted(view uint64) {
	c.committedView.Set(float64(view))
}

func (c *Collector) CommitLatency(d time.Duration) {
	c.commitLatency.Observe(d.Seconds())
}

func (c *Collector) CertificateFormed(kind consensus.CertKind) {
	c.certificates.WithLabelValues(kind.String()).Inc()
}

func (c *Collector) TimeoutRaised(uint64) {
	c.timeouts.Inc()
}

func (c *Collector) EquivocationDetected() {
	c.equivocations.Inc()
}

// BusDroppedGauge exposes the bus's cumulative dropped-event count. It is
// registered separately because the bus is owned by the engine.
func BusDroppedGauge(namespace string, bus *consensus.EventBus) prometheus.GaugeFunc {
	return promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "bus_dropped_events",
		Help:      "Events dropped from slow subscriber queues",
	}, func() float64 {
		return float64(bus.Dropped())
	})
}
