package consensus

import "github.com/rs/zerolog"

// Option tweaks optional engine behaviour. Required collaborators are
// plain constructor arguments; only things with sensible defaults live
// here.
type Option func(*Engine)

// WithLogger replaces the default stdout logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetrics attaches a metrics sink. Defaults to a no-op.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}
