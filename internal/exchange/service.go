package exchange

import (
	"context"
	"log/slog"

	"github.com/atmx/escrow-engine/internal/auth"
	"github.com/atmx/escrow-engine/internal/metrics"
	"github.com/atmx/escrow-engine/internal/model"
	"github.com/atmx/escrow-engine/internal/notify"
	"github.com/atmx/escrow-engine/internal/store"
	"github.com/atmx/escrow-engine/internal/txn"
)

// Service runs each exchange transition as its own unit of work.
type Service struct {
	run *txn.Runner
}

// NewService creates an exchange service.
func NewService(run *txn.Runner) *Service {
	return &Service{run: run}
}

// Create lists an item.
func (s *Service) Create(ctx context.Context, caller auth.Authorizer, p Params) (*model.Exchange, error) {
	var x *model.Exchange
	err := s.run.Do(ctx, "exchange_create", func(tx store.Tx, b *notify.Batch) error {
		var err error
		x, err = Create(tx, b, caller, p)
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("exchange created",
		"id", x.ID,
		"seller", x.Seller,
		"asset", x.Asset,
		"price", x.Price,
		"mint", x.Mint,
	)
	return x, nil
}

// Settle swaps the item for the price.
func (s *Service) Settle(ctx context.Context, caller auth.Authorizer, id, buyer, source string) (*model.Exchange, error) {
	var x *model.Exchange
	err := s.run.Do(ctx, "exchange_settle", func(tx store.Tx, b *notify.Batch) error {
		var err error
		x, err = Settle(tx, b, caller, id, buyer, source)
		return err
	})
	if err != nil {
		metrics.SettlementsTotal.WithLabelValues("exchange", "rejected").Inc()
		return nil, err
	}

	metrics.SettlementsTotal.WithLabelValues("exchange", "settled").Inc()
	slog.Info("exchange settled",
		"id", x.ID,
		"buyer", x.Buyer,
		"price", x.Price,
	)
	return x, nil
}

// Reclaim returns units stranded in one of seller's exchange escrows.
func (s *Service) Reclaim(ctx context.Context, caller auth.Authorizer, assetID, seller, id string) (*model.Holding, error) {
	var h *model.Holding
	err := s.run.Do(ctx, "exchange_reclaim", func(tx store.Tx, b *notify.Batch) error {
		var err error
		h, err = Reclaim(tx, b, caller, assetID, seller, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.TransfersTotal.WithLabelValues("reclaim").Inc()
	slog.Info("escrow reclaimed", "exchange", id, "seller", seller, "asset", assetID, "balance", h.Balance)
	return h, nil
}

// Get returns an exchange by id.
func (s *Service) Get(ctx context.Context, id string) (*model.Exchange, error) {
	var x *model.Exchange
	err := s.run.View(ctx, func(tx store.Tx) error {
		var err error
		x, err = Load(tx, id)
		return err
	})
	return x, err
}
