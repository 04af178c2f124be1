// Package txn runs a service call as one store transaction and publishes the
// events it produced once the transaction has committed.
package txn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atmx/escrow-engine/internal/fault"
	"github.com/atmx/escrow-engine/internal/metrics"
	"github.com/atmx/escrow-engine/internal/notify"
	"github.com/atmx/escrow-engine/internal/store"
)

// Runner is shared by every service of one process.
type Runner struct {
	store store.Store
	sink  notify.Sink
	now   func() time.Time
}

// NewRunner creates a runner. sink may be nil.
func NewRunner(st store.Store, sink notify.Sink) *Runner {
	return &Runner{store: st, sink: sink, now: time.Now}
}

// WithClock replaces the clock used to stamp records and events.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// Store returns the underlying store.
func (r *Runner) Store() store.Store {
	return r.store
}

// Do runs fn in one Update. Nothing fn wrote is visible unless it returns
// nil; its events are published only after the commit. A commit that lost
// a race reports fault.ErrStaleState.
func (r *Runner) Do(ctx context.Context, op string, fn func(tx store.Tx, b *notify.Batch) error) error {
	defer metrics.Observe(op, time.Now())

	var batch *notify.Batch
	err := r.store.Update(ctx, func(tx store.Tx) error {
		batch = notify.NewBatch(r.now)
		return fn(tx, batch)
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			metrics.StoreConflicts.Inc()
			return fmt.Errorf("%s: %w: %w", op, fault.ErrStaleState, err)
		}
		return err
	}
	batch.Flush(ctx, r.sink)
	return nil
}

// View runs fn in a read-only transaction.
func (r *Runner) View(ctx context.Context, fn func(tx store.Tx) error) error {
	return r.store.View(ctx, fn)
}
