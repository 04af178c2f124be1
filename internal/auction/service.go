package auction

import (
	"context"
	"log/slog"

	"github.com/atmx/escrow-engine/internal/auth"
	"github.com/atmx/escrow-engine/internal/fault"
	"github.com/atmx/escrow-engine/internal/metrics"
	"github.com/atmx/escrow-engine/internal/model"
	"github.com/atmx/escrow-engine/internal/notify"
	"github.com/atmx/escrow-engine/internal/store"
	"github.com/atmx/escrow-engine/internal/txn"
)

// Service runs each auction transition as its own unit of work.
type Service struct {
	run *txn.Runner
}

// NewService creates an auction service.
func NewService(run *txn.Runner) *Service {
	return &Service{run: run}
}

// Create opens an auction.
func (s *Service) Create(ctx context.Context, caller auth.Authorizer, p Params) (*model.Auction, error) {
	var a *model.Auction
	err := s.run.Do(ctx, "auction_create", func(tx store.Tx, b *notify.Batch) error {
		var err error
		a, err = Create(tx, b, caller, p)
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("auction created",
		"id", a.ID,
		"seller", a.Seller,
		"asset", a.Asset,
		"reserve", a.Price,
		"mint", a.Mint,
	)
	return a, nil
}

// Bid places a bid.
func (s *Service) Bid(ctx context.Context, caller auth.Authorizer, id, bidder string, price uint64, source string) (*model.Auction, error) {
	var a *model.Auction
	err := s.run.Do(ctx, "auction_bid", func(tx store.Tx, b *notify.Batch) error {
		var err error
		a, err = Bid(tx, b, caller, id, bidder, price, source)
		return err
	})
	if err != nil {
		metrics.BidsTotal.WithLabelValues(bidResult(err)).Inc()
		return nil, err
	}

	metrics.BidsTotal.WithLabelValues("accepted").Inc()
	slog.Info("bid placed", "auction", id, "bidder", bidder, "price", price)
	return a, nil
}

// Close ends an auction.
func (s *Service) Close(ctx context.Context, caller auth.Authorizer, id string) (*model.Auction, error) {
	var a *model.Auction
	err := s.run.Do(ctx, "auction_close", func(tx store.Tx, b *notify.Batch) error {
		var err error
		a, err = Close(tx, b, caller, id)
		return err
	})
	if err != nil {
		metrics.SettlementsTotal.WithLabelValues("auction", "rejected").Inc()
		return nil, err
	}

	metrics.SettlementsTotal.WithLabelValues("auction", "closed").Inc()
	slog.Info("auction closed",
		"id", a.ID,
		"winner", a.CurrentBidder,
		"price", a.Price,
		"has_bid", a.HasBid,
	)
	return a, nil
}

// Reclaim returns units stranded in one of seller's auction escrows.
func (s *Service) Reclaim(ctx context.Context, caller auth.Authorizer, assetID, seller, id string) (*model.Holding, error) {
	var h *model.Holding
	err := s.run.Do(ctx, "auction_reclaim", func(tx store.Tx, b *notify.Batch) error {
		var err error
		h, err = Reclaim(tx, b, caller, assetID, seller, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.TransfersTotal.WithLabelValues("reclaim").Inc()
	slog.Info("escrow reclaimed", "auction", id, "seller", seller, "asset", assetID, "balance", h.Balance)
	return h, nil
}

// Get returns an auction by id.
func (s *Service) Get(ctx context.Context, id string) (*model.Auction, error) {
	var a *model.Auction
	err := s.run.View(ctx, func(tx store.Tx) error {
		var err error
		a, err = Load(tx, id)
		return err
	})
	return a, err
}

func bidResult(err error) string {
	switch {
	case fault.IsErrFunds(err):
		return "insufficient_funds"
	case fault.IsErrState(err):
		return "closed"
	case fault.IsErrInvalid(err):
		return "invalid"
	default:
		return "rejected"
	}
}
