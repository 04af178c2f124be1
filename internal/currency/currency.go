// Package currency is the fungible-token account model listings are priced
// in: mints and per-owner accounts. It shares the store transaction with the
// ownership ledger so an item-for-currency swap commits as one unit.
package currency

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/atmx/escrow-engine/internal/auth"
	"github.com/atmx/escrow-engine/internal/fault"
	"github.com/atmx/escrow-engine/internal/model"
	"github.com/atmx/escrow-engine/internal/notify"
	"github.com/atmx/escrow-engine/internal/store"
	"github.com/atmx/escrow-engine/internal/units"
)

// MintParams describes a new mint. An empty ID is replaced by a random one.
type MintParams struct {
	ID        string
	Authority string
	Decimals  int32
}

// CreateMint registers a currency. The caller must sign for its authority.
func CreateMint(tx store.Tx, b *notify.Batch, caller auth.Authorizer, p MintParams) (*model.Mint, error) {
	if p.Authority == "" {
		return nil, fmt.Errorf("authority: %w", fault.ErrInvalidAddress)
	}
	if !caller.Authorizes(p.Authority) {
		return nil, fault.ErrUnauthorized
	}
	if p.Decimals < 0 || p.Decimals > units.MaxDecimals {
		return nil, fmt.Errorf("decimals %d: %w", p.Decimals, fault.ErrInvalidAmount)
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}

	m := &model.Mint{ID: p.ID, Authority: p.Authority, Decimals: p.Decimals}
	if err := store.Create(tx, store.BucketMints, m.ID, m); err != nil {
		if errors.Is(err, store.ErrExists) {
			return nil, fault.ErrDuplicateMint
		}
		return nil, err
	}

	b.Add(model.Event{Type: model.EventMintCreated, Mint: m.ID, To: m.Authority, Actor: caller.Principal()})
	return m, nil
}

// LoadMint returns the mint or ErrMintNotFound.
func LoadMint(tx store.Tx, id string) (*model.Mint, error) {
	m, err := store.Load[model.Mint](tx, store.BucketMints, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fault.ErrMintNotFound
	}
	return m, err
}

// LoadAccount returns the account at addr or ErrAccountNotFound.
func LoadAccount(tx store.Tx, addr string) (*model.CurrencyAccount, error) {
	a, err := store.Load[model.CurrencyAccount](tx, store.BucketCurrencyAccounts, addr)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fault.ErrAccountNotFound
	}
	return a, err
}

// OpenAccount returns owner's account for mint, creating an empty one if
// needed.
func OpenAccount(tx store.Tx, mintID, owner string) (*model.CurrencyAccount, error) {
	if owner == "" {
		return nil, fmt.Errorf("owner: %w", fault.ErrInvalidAddress)
	}
	if _, err := LoadMint(tx, mintID); err != nil {
		return nil, err
	}

	addr := model.CurrencyAccountAddress(mintID, owner)
	acct, err := LoadAccount(tx, addr)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, fault.ErrAccountNotFound) {
		return nil, err
	}

	acct = &model.CurrencyAccount{Address: addr, Mint: mintID, Owner: owner}
	if err := store.Create(tx, store.BucketCurrencyAccounts, addr, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// Issue creates amount new units of mint in the account at to. Only the mint
// authority may issue.
func Issue(tx store.Tx, b *notify.Batch, caller auth.Authorizer, mintID, to string, amount uint64) (*model.CurrencyAccount, error) {
	if amount == 0 {
		return nil, fault.ErrInvalidAmount
	}
	m, err := LoadMint(tx, mintID)
	if err != nil {
		return nil, err
	}
	if !caller.Authorizes(m.Authority) {
		return nil, fault.ErrUnauthorized
	}
	dst, err := LoadAccount(tx, to)
	if err != nil {
		return nil, err
	}
	if dst.Mint != m.ID {
		return nil, fault.ErrCurrencyMismatch
	}

	if m.Supply, err = units.Add(m.Supply, amount); err != nil {
		return nil, err
	}
	if dst.Amount, err = units.Add(dst.Amount, amount); err != nil {
		return nil, err
	}
	if err := store.Save(tx, store.BucketMints, m.ID, m); err != nil {
		return nil, err
	}
	if err := store.Save(tx, store.BucketCurrencyAccounts, dst.Address, dst); err != nil {
		return nil, err
	}

	b.Add(model.Event{
		Type:        model.EventIssued,
		Mint:        m.ID,
		To:          dst.Address,
		ToAuthority: dst.Owner,
		Actor:       caller.Principal(),
		Amount:      amount,
	})
	return dst, nil
}

// Transfer moves amount between two accounts of the same mint. The caller
// must sign for the source owner; escrow accounts need their
// escrow.Authority.
func Transfer(tx store.Tx, b *notify.Batch, caller auth.Authorizer, from, to string, amount uint64) (src, dst *model.CurrencyAccount, err error) {
	if amount == 0 {
		return nil, nil, fault.ErrInvalidAmount
	}
	if src, err = LoadAccount(tx, from); err != nil {
		return nil, nil, err
	}
	if from == to {
		dst = src
	} else if dst, err = LoadAccount(tx, to); err != nil {
		return nil, nil, err
	}
	if !caller.Authorizes(src.Owner) {
		return nil, nil, fault.ErrUnauthorized
	}
	if src.Mint != dst.Mint {
		return nil, nil, fault.ErrCurrencyMismatch
	}
	if amount > src.Amount {
		return nil, nil, fault.ErrInsufficientFunds
	}

	if src.Amount, err = units.Sub(src.Amount, amount); err != nil {
		return nil, nil, err
	}
	if dst.Amount, err = units.Add(dst.Amount, amount); err != nil {
		return nil, nil, err
	}
	if err := store.Save(tx, store.BucketCurrencyAccounts, src.Address, src); err != nil {
		return nil, nil, err
	}
	if dst != src {
		if err := store.Save(tx, store.BucketCurrencyAccounts, dst.Address, dst); err != nil {
			return nil, nil, err
		}
	}

	b.Add(model.Event{
		Type:          model.EventCurrencyTransfer,
		Mint:          src.Mint,
		From:          src.Address,
		To:            dst.Address,
		FromAuthority: src.Owner,
		ToAuthority:   dst.Owner,
		Actor:         caller.Principal(),
		Amount:        amount,
	})
	return src, dst, nil
}
