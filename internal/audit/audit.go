// Package audit periodically checks supply conservation across the ledger
// and refreshes the listing gauges.
package audit

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/atmx/escrow-engine/internal/metrics"
	"github.com/atmx/escrow-engine/internal/model"
	"github.com/atmx/escrow-engine/internal/store"
	"github.com/atmx/escrow-engine/internal/units"
)

// Violation is an asset whose holdings do not add up to its supply.
type Violation struct {
	Asset         string `json:"asset"`
	Supply        uint64 `json:"supply"`
	Undistributed uint64 `json:"remaining_undistributed"`
	Distributed   uint64 `json:"distributed"`
	Overflow      bool   `json:"overflow,omitempty"`
}

// Report is the result of one audit pass.
type Report struct {
	Assets          int         `json:"assets"`
	Holdings        int         `json:"holdings"`
	ActiveAuctions  int         `json:"active_auctions"`
	ActiveExchanges int         `json:"active_exchanges"`
	Violations      []Violation `json:"violations"`
}

// Auditor runs Check on a schedule.
type Auditor struct {
	store     store.Store
	interval  time.Duration
	scheduler *gocron.Scheduler
}

// New creates an auditor running every interval.
func New(st store.Store, interval time.Duration) *Auditor {
	return &Auditor{
		store:     st,
		interval:  interval,
		scheduler: gocron.NewScheduler(time.UTC),
	}
}

// Start schedules the audit job and returns immediately.
func (a *Auditor) Start() error {
	if _, err := a.scheduler.Every(a.interval).SingletonMode().Do(a.run); err != nil {
		return err
	}
	a.scheduler.StartAsync()
	return nil
}

// Stop halts the scheduler.
func (a *Auditor) Stop() {
	a.scheduler.Stop()
}

func (a *Auditor) run() {
	ctx, cancel := context.WithTimeout(context.Background(), a.interval)
	defer cancel()

	report, err := Check(ctx, a.store)
	if err != nil {
		slog.Error("audit failed", "err", err)
		return
	}
	for _, v := range report.Violations {
		slog.Error("conservation violated",
			"asset", v.Asset,
			"supply", v.Supply,
			"remaining_undistributed", v.Undistributed,
			"distributed", v.Distributed,
			"overflow", v.Overflow,
		)
	}
	slog.Debug("audit complete", "assets", report.Assets, "violations", len(report.Violations))
}

// Check verifies remaining_undistributed + Σ balances == supply for every
// asset in one consistent read, updates the metrics and returns the report.
func Check(ctx context.Context, st store.Store) (*Report, error) {
	report := &Report{}
	err := st.View(ctx, func(tx store.Tx) error {
		assets := make(map[string]*model.Asset)
		distributed := make(map[string]uint64)
		overflow := make(map[string]bool)

		if err := store.Each(tx, store.BucketAssets, func(a *model.Asset) error {
			assets[a.ID] = a
			return nil
		}); err != nil {
			return err
		}
		if err := store.Each(tx, store.BucketHoldings, func(h *model.Holding) error {
			report.Holdings++
			sum, err := units.Add(distributed[h.Asset], h.Balance)
			if err != nil {
				overflow[h.Asset] = true
				return nil
			}
			distributed[h.Asset] = sum
			return nil
		}); err != nil {
			return err
		}
		if err := store.Each(tx, store.BucketAuctions, func(a *model.Auction) error {
			if a.Ongoing {
				report.ActiveAuctions++
			}
			return nil
		}); err != nil {
			return err
		}
		if err := store.Each(tx, store.BucketExchanges, func(x *model.Exchange) error {
			if x.Ongoing {
				report.ActiveExchanges++
			}
			return nil
		}); err != nil {
			return err
		}

		report.Assets = len(assets)
		for id, a := range assets {
			total, err := units.Add(a.Undistributed, distributed[id])
			if err != nil || overflow[id] || total != a.Supply {
				report.Violations = append(report.Violations, Violation{
					Asset:         id,
					Supply:        a.Supply,
					Undistributed: a.Undistributed,
					Distributed:   distributed[id],
					Overflow:      err != nil || overflow[id],
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(report.Violations, func(i, j int) bool {
		return report.Violations[i].Asset < report.Violations[j].Asset
	})
	metrics.AuditViolations.Add(float64(len(report.Violations)))
	metrics.ListingsActive.WithLabelValues("auction").Set(float64(report.ActiveAuctions))
	metrics.ListingsActive.WithLabelValues("exchange").Set(float64(report.ActiveExchanges))
	return report, nil
}
