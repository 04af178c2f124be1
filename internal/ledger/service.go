package ledger

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

// Service runs each ledger operation as its own unit of work.
type Service struct {
	run *txn.Runner
}

// NewService creates a ledger service.
func NewService(run *txn.Runner) *Service {
	return &Service{run: run}
}

// CreateAsset registers a new asset.
func (s *Service) CreateAsset(ctx context.Context, caller auth.Authorizer, p AssetParams) (*model.Asset, error) {
	var asset *model.Asset
	err := s.run.Do(ctx, "create_asset", func(tx store.Tx, b *notify.Batch) error {
		var err error
		asset, err = CreateAsset(tx, b, caller, p)
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("asset created",
		"id", asset.ID,
		"authority", asset.Authority,
		"supply", asset.Supply,
	)
	return asset, nil
}

// CreateHolding opens holder's record for asset. Repeated calls return the
// existing record.
func (s *Service) CreateHolding(ctx context.Context, assetID, holder string) (*model.Holding, error) {
	var h *model.Holding
	err := s.run.Do(ctx, "create_holding", func(tx store.Tx, _ *notify.Batch) error {
		var err error
		h, err = CreateHolding(tx, assetID, holder)
		return err
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Distribute credits holder with amount units of the undistributed supply,
// creating the holder's record on first distribution.
func (s *Service) Distribute(ctx context.Context, caller auth.Authorizer, assetID, holder string, amount uint64) (*model.Holding, error) {
	var h *model.Holding
	err := s.run.Do(ctx, "distribute", func(tx store.Tx, b *notify.Batch) error {
		dst, err := CreateHolding(tx, assetID, holder)
		if err != nil {
			return err
		}
		h, err = Distribute(tx, b, caller, assetID, dst.Address, amount)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.TransfersTotal.WithLabelValues("distribute").Inc()
	slog.Info("distributed",
		"asset", assetID,
		"holder", holder,
		"amount", amount,
	)
	return h, nil
}

// Transfer moves amount units between two holdings.
func (s *Service) Transfer(ctx context.Context, caller auth.Authorizer, from, to string, amount uint64) (src, dst *model.Holding, err error) {
	err = s.run.Do(ctx, "transfer", func(tx store.Tx, b *notify.Batch) error {
		var err error
		src, dst, err = Transfer(tx, b, caller, from, to, amount)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	metrics.TransfersTotal.WithLabelValues("asset").Inc()
	slog.Info("transfer executed",
		"asset", src.Asset,
		"from", from,
		"to", to,
		"amount", amount,
		"actor", caller.Principal(),
	)
	return src, dst, nil
}

// Approve replaces the delegate and allowance of a holding.
func (s *Service) Approve(ctx context.Context, caller auth.Authorizer, holding, delegate string, amount uint64) (*model.Holding, error) {
	var h *model.Holding
	err := s.run.Do(ctx, "approve", func(tx store.Tx, b *notify.Batch) error {
		var err error
		h, err = Approve(tx, b, caller, holding, delegate, amount)
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("delegate approved", "holding", holding, "delegate", delegate, "allowance", h.DelegateAllowance)
	return h, nil
}

// Asset returns an asset by id.
func (s *Service) Asset(ctx context.Context, id string) (*model.Asset, error) {
	var a *model.Asset
	err := s.run.View(ctx, func(tx store.Tx) error {
		var err error
		a, err = LoadAsset(tx, id)
		return err
	})
	return a, err
}

// Holding returns a holding by address.
func (s *Service) Holding(ctx context.Context, addr string) (*model.Holding, error) {
	var h *model.Holding
	err := s.run.View(ctx, func(tx store.Tx) error {
		var err error
		h, err = LoadHolding(tx, addr)
		return err
	})
	return h, err
}
