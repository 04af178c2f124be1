// Package notify delivers committed ledger and listing events to observers.
//
// Delivery is fire-and-forget: a sink never blocks the caller for long and
// never returns an error to it. Events are collected in a Batch while a
// unit of work runs and published only after it commits.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/atmx/escrow-engine/internal/model"
)

// Sink receives committed events.
type Sink interface {
	Publish(ctx context.Context, events ...model.Event)
}

// Batch collects events produced inside one unit of work.
type Batch struct {
	events []model.Event
	now    func() time.Time
}

// NewBatch creates an empty batch stamped with now.
func NewBatch(now func() time.Time) *Batch {
	if now == nil {
		now = time.Now
	}
	return &Batch{now: now}
}

// Now returns the batch clock in UTC. Records written in the same unit of
// work use it so their timestamps match the events.
func (b *Batch) Now() time.Time {
	return b.now().UTC()
}

// Add records an event, stamping its time if unset.
func (b *Batch) Add(e model.Event) {
	if e.Time.IsZero() {
		e.Time = b.Now()
	}
	b.events = append(b.events, e)
}

// Events returns the collected events.
func (b *Batch) Events() []model.Event {
	return b.events
}

// Flush publishes the batch to sink. A nil sink discards.
func (b *Batch) Flush(ctx context.Context, sink Sink) {
	if sink == nil || len(b.events) == 0 {
		return
	}
	sink.Publish(ctx, b.events...)
}

// Multi fans events out to several sinks.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, events ...model.Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(ctx, events...)
		}
	}
}

// LogSink writes each event to a structured logger at debug level.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Publish(ctx context.Context, events ...model.Event) {
	lg := s.Logger
	if lg == nil {
		lg = slog.Default()
	}
	for _, e := range events {
		lg.DebugContext(ctx, "event",
			"type", e.Type,
			"asset", e.Asset,
			"listing", e.ListingID,
			"from", e.From,
			"to", e.To,
			"amount", e.Amount,
		)
	}
}

// Recorder keeps every published event in memory. Used in tests.
type Recorder struct {
	Events []model.Event
}

func (r *Recorder) Publish(_ context.Context, events ...model.Event) {
	r.Events = append(r.Events, events...)
}

// OfType returns the recorded events with the given type.
func (r *Recorder) OfType(typ string) []model.Event {
	var out []model.Event
	for _, e := range r.Events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}
