package events

import (
	"context"

	"github.com/rs/zerolog"
)

// Handler processes a single event. A non-nil error causes the event to be
// logged and dropped; it never stops the task or the bus.
type Handler[E any] func(context.Context, E) error

// Task is a goroutine looping over a subscription's events. It embodies one
// logical responsibility of the engine (proposal handling, voting,
// certificate formation, view sync) and suspends while awaiting the next
// relevant event.
type Task[E any] struct {
	name   string
	sub    *Subscription[E]
	handle Handler[E]
	logger zerolog.Logger
	done   chan struct{}
}

func NewTask[E any](name string, sub *Subscription[E], handle Handler[E], logger zerolog.Logger) *Task[E] {
	return &Task[E]{
		name:   name,
		sub:    sub,
		handle: handle,
		logger: logger.With().Str("task", name).Logger(),
		done:   make(chan struct{}),
	}
}

// Run consumes events until the context is done or the subscription is
// cancelled. It always returns nil on cancellation paths; handler errors
// are logged and the offending event dropped.
func (t *Task[E]) Run(ctx context.Context) {
	defer close(t.done)
	for {
		event, err := t.sub.Next(ctx)
		if err != nil {
			return
		}
		if err := t.handle(ctx, event); err != nil {
			t.logger.Err(err).Msg("dropping event")
		}
	}
}

// Cancel stops the task's subscription. In-flight handling of the current
// event finishes; no further events are processed.
func (t *Task[E]) Cancel() {
	t.sub.Cancel()
}

// Done is closed once the task's loop has exited.
func (t *Task[E]) Done() <-chan struct{} {
	return t.done
}
