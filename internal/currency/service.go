package currency

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

// Service runs each currency operation as its own unit of work.
type Service struct {
	run *txn.Runner
}

// NewService creates a currency service.
func NewService(run *txn.Runner) *Service {
	return &Service{run: run}
}

// CreateMint registers a currency.
func (s *Service) CreateMint(ctx context.Context, caller auth.Authorizer, p MintParams) (*model.Mint, error) {
	var m *model.Mint
	err := s.run.Do(ctx, "create_mint", func(tx store.Tx, b *notify.Batch) error {
		var err error
		m, err = CreateMint(tx, b, caller, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	slog.Info("mint created", "id", m.ID, "authority", m.Authority, "decimals", m.Decimals)
	return m, nil
}

// OpenAccount opens owner's account for mint.
func (s *Service) OpenAccount(ctx context.Context, mintID, owner string) (*model.CurrencyAccount, error) {
	var acct *model.CurrencyAccount
	err := s.run.Do(ctx, "open_account", func(tx store.Tx, _ *notify.Batch) error {
		var err error
		acct, err = OpenAccount(tx, mintID, owner)
		return err
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// Issue credits owner with amount new units, opening the account if needed.
func (s *Service) Issue(ctx context.Context, caller auth.Authorizer, mintID, owner string, amount uint64) (*model.CurrencyAccount, error) {
	var acct *model.CurrencyAccount
	err := s.run.Do(ctx, "issue", func(tx store.Tx, b *notify.Batch) error {
		dst, err := OpenAccount(tx, mintID, owner)
		if err != nil {
			return err
		}
		acct, err = Issue(tx, b, caller, mintID, dst.Address, amount)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.TransfersTotal.WithLabelValues("issue").Inc()
	slog.Info("currency issued", "mint", mintID, "owner", owner, "amount", amount)
	return acct, nil
}

// Transfer moves amount between two accounts.
func (s *Service) Transfer(ctx context.Context, caller auth.Authorizer, from, to string, amount uint64) (src, dst *model.CurrencyAccount, err error) {
	err = s.run.Do(ctx, "currency_transfer", func(tx store.Tx, b *notify.Batch) error {
		var err error
		src, dst, err = Transfer(tx, b, caller, from, to, amount)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	metrics.TransfersTotal.WithLabelValues("currency").Inc()
	slog.Info("currency transferred", "mint", src.Mint, "from", from, "to", to, "amount", amount)
	return src, dst, nil
}

// Mint returns a mint by id.
func (s *Service) Mint(ctx context.Context, id string) (*model.Mint, error) {
	var m *model.Mint
	err := s.run.View(ctx, func(tx store.Tx) error {
		var err error
		m, err = LoadMint(tx, id)
		return err
	})
	return m, err
}

// Account returns an account by address.
func (s *Service) Account(ctx context.Context, addr string) (*model.CurrencyAccount, error) {
	var a *model.CurrencyAccount
	err := s.run.View(ctx, func(tx store.Tx) error {
		var err error
		a, err = LoadAccount(tx, addr)
		return err
	})
	return a, err
}
