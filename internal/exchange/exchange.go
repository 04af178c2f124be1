// Package exchange implements the fixed-price item-for-currency swap.
//
// Settling moves the price from the buyer to the seller's receiver and the
// escrowed item to the buyer inside one store transaction, so either both
// legs commit or neither does.
package exchange

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/atmx/escrow-engine/internal/auth"
	"github.com/atmx/escrow-engine/internal/currency"
	"github.com/atmx/escrow-engine/internal/escrow"
	"github.com/atmx/escrow-engine/internal/fault"
	"github.com/atmx/escrow-engine/internal/ledger"
	"github.com/atmx/escrow-engine/internal/model"
	"github.com/atmx/escrow-engine/internal/notify"
	"github.com/atmx/escrow-engine/internal/store"
)

// Deposit moves units from a seller holding into the item escrow while the
// exchange is created.
type Deposit struct {
	From   string
	Amount uint64
}

// Params describes a new exchange.
type Params struct {
	ID     string
	Seller string
	Asset  string
	// ItemEscrow, when set, must be the escrow holding of this exchange.
	ItemEscrow       string
	CurrencyReceiver string
	Price            uint64
	Deposit          *Deposit
}

// EscrowHolding returns the address of the holding that escrows asset for
// seller's exchange with the given id.
func EscrowHolding(assetID, seller, id string) string {
	return model.HoldingAddress(assetID, escrow.Address(escrow.KindExchange, seller, id))
}

// Create lists the escrowed item at a fixed price. The receiver must be a
// currency account of the seller; its mint is the listing currency.
func Create(tx store.Tx, b *notify.Batch, caller auth.Authorizer, p Params) (*model.Exchange, error) {
	if p.Seller == "" {
		return nil, fmt.Errorf("seller: %w", fault.ErrInvalidAddress)
	}
	if !caller.Authorizes(p.Seller) {
		return nil, fault.ErrUnauthorized
	}
	if p.Price == 0 {
		return nil, fmt.Errorf("price: %w", fault.ErrInvalidAmount)
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if _, err := tx.Get(store.BucketExchanges, p.ID); err == nil {
		return nil, fault.ErrDuplicateListing
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	receiver, err := currency.LoadAccount(tx, p.CurrencyReceiver)
	if err != nil {
		return nil, err
	}
	if receiver.Owner != p.Seller {
		return nil, fault.ErrInvalidReceiver
	}
	if _, err := ledger.LoadAsset(tx, p.Asset); err != nil {
		return nil, err
	}

	escrowAddr := escrow.Address(escrow.KindExchange, p.Seller, p.ID)
	holding := model.HoldingAddress(p.Asset, escrowAddr)
	if p.ItemEscrow != "" && p.ItemEscrow != holding {
		return nil, fmt.Errorf("%s: %w", p.ItemEscrow, fault.ErrInvalidEscrow)
	}
	if p.Deposit != nil {
		if _, err := ledger.CreateHolding(tx, p.Asset, escrowAddr); err != nil {
			return nil, err
		}
		if _, _, err := ledger.Transfer(tx, b, caller, p.Deposit.From, holding, p.Deposit.Amount); err != nil {
			return nil, err
		}
	}
	if _, err := ledger.EscrowHolding(tx, holding, escrowAddr); err != nil {
		return nil, err
	}

	x := &model.Exchange{
		ID:               p.ID,
		Ongoing:          true,
		Seller:           p.Seller,
		Asset:            p.Asset,
		ItemEscrow:       holding,
		CurrencyReceiver: receiver.Address,
		Mint:             receiver.Mint,
		Price:            p.Price,
		CreatedAt:        b.Now(),
	}
	if err := store.Create(tx, store.BucketExchanges, x.ID, x); err != nil {
		if errors.Is(err, store.ErrExists) {
			return nil, fault.ErrDuplicateListing
		}
		return nil, err
	}

	b.Add(model.Event{
		Type:      model.EventExchangeCreated,
		Asset:     x.Asset,
		Mint:      x.Mint,
		ListingID: x.ID,
		From:      x.ItemEscrow,
		To:        x.CurrencyReceiver,
		Actor:     caller.Principal(),
		Price:     x.Price,
	})
	return x, nil
}

// Load returns the exchange or ErrListingNotFound.
func Load(tx store.Tx, id string) (*model.Exchange, error) {
	x, err := store.Load[model.Exchange](tx, store.BucketExchanges, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fault.ErrListingNotFound
	}
	return x, err
}

// Settle buys the listed item. The price moves from source to the seller's
// receiver and the whole escrow holding moves to the buyer.
func Settle(tx store.Tx, b *notify.Batch, caller auth.Authorizer, id, buyer, source string) (*model.Exchange, error) {
	x, err := Load(tx, id)
	if err != nil {
		return nil, err
	}
	if !x.Ongoing {
		return nil, fault.ErrExchangeClosed
	}
	if buyer == "" {
		return nil, fmt.Errorf("buyer: %w", fault.ErrInvalidAddress)
	}
	if !caller.Authorizes(buyer) {
		return nil, fault.ErrUnauthorized
	}
	src, err := currency.LoadAccount(tx, source)
	if err != nil {
		return nil, err
	}
	if src.Mint != x.Mint {
		return nil, fault.ErrCurrencyMismatch
	}

	// Currency leg.
	if _, _, err := currency.Transfer(tx, b, caller, source, x.CurrencyReceiver, x.Price); err != nil {
		return nil, err
	}

	// Asset leg.
	_, authority := escrow.Derive(escrow.KindExchange, x.Seller, x.ID)
	held, err := ledger.LoadHolding(tx, x.ItemEscrow)
	if err != nil {
		return nil, err
	}
	dst, err := ledger.CreateHolding(tx, x.Asset, buyer)
	if err != nil {
		return nil, err
	}
	if _, _, err := ledger.Transfer(tx, b, authority, x.ItemEscrow, dst.Address, held.Balance); err != nil {
		return nil, fmt.Errorf("release item: %w", err)
	}

	now := b.Now()
	x.Ongoing = false
	x.Buyer = buyer
	x.SettledAt = &now
	if err := store.Save(tx, store.BucketExchanges, x.ID, x); err != nil {
		return nil, err
	}

	b.Add(model.Event{
		Type:          model.EventExchangeSettled,
		Asset:         x.Asset,
		Mint:          x.Mint,
		ListingID:     x.ID,
		From:          x.ItemEscrow,
		To:            dst.Address,
		FromAuthority: x.Seller,
		ToAuthority:   buyer,
		Actor:         caller.Principal(),
		Amount:        held.Balance,
		Price:         x.Price,
	})
	return x, nil
}

// Reclaim returns to seller the units of assetID sitting in the escrow of
// the seller's exchange id, when no ongoing exchange of that seller holds them.
// It recovers an escrow funded ahead of a create that never succeeded.
func Reclaim(tx store.Tx, b *notify.Batch, caller auth.Authorizer, assetID, seller, id string) (*model.Holding, error) {
	if seller == "" {
		return nil, fmt.Errorf("seller: %w", fault.ErrInvalidAddress)
	}
	if !caller.Authorizes(seller) {
		return nil, fault.ErrUnauthorized
	}
	x, err := Load(tx, id)
	switch {
	case err == nil:
		if x.Ongoing && x.Seller == seller && x.Asset == assetID {
			return nil, fault.ErrListingActive
		}
	case !errors.Is(err, fault.ErrListingNotFound):
		return nil, err
	}

	escrowAddr, authority := escrow.Derive(escrow.KindExchange, seller, id)
	dst, amount, err := ledger.DrainEscrow(tx, b, authority, model.HoldingAddress(assetID, escrowAddr), escrowAddr, seller)
	if err != nil {
		return nil, err
	}
	b.Add(model.Event{
		Type:      model.EventEscrowReclaimed,
		Asset:     assetID,
		ListingID: id,
		From:      model.HoldingAddress(assetID, escrowAddr),
		To:        dst.Address,
		Actor:     caller.Principal(),
		Amount:    amount,
	})
	return dst, nil
}
