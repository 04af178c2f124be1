// Package auction implements the single-seller ascending-price auction.
//
// An auction moves through Created (no bid) to HasBid (repeatable, each bid
// strictly above the last) and ends Closed. The asset sits in a holding
// owned by the auction's escrow address and bids sit in the auction's
// currency escrow account; both are debited only here, with the escrow
// authority derived for the auction.
package auction

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

// Deposit moves units from a seller holding into the listing escrow while
// the listing is created.
type Deposit struct {
	From   string
	Amount uint64
}

// Params describes a new auction.
type Params struct {
	ID     string
	Seller string
	Asset  string
	// AssetEscrow, when set, must be the escrow holding of this auction.
	AssetEscrow string
	Reserve     uint64
	Mint        string
	Deposit     *Deposit
}

// EscrowHolding returns the address of the holding that escrows asset for
// seller's auction with the given id.
func EscrowHolding(assetID, seller, id string) string {
	return model.HoldingAddress(assetID, escrow.Address(escrow.KindAuction, seller, id))
}

// Create opens an auction at the reserve price. The asset must already sit
// in the auction's escrow holding, or be moved there by p.Deposit.
func Create(tx store.Tx, b *notify.Batch, caller auth.Authorizer, p Params) (*model.Auction, error) {
	if p.Seller == "" {
		return nil, fmt.Errorf("seller: %w", fault.ErrInvalidAddress)
	}
	if !caller.Authorizes(p.Seller) {
		return nil, fault.ErrUnauthorized
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if _, err := tx.Get(store.BucketAuctions, p.ID); err == nil {
		return nil, fault.ErrDuplicateListing
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if _, err := ledger.LoadAsset(tx, p.Asset); err != nil {
		return nil, err
	}

	escrowAddr := escrow.Address(escrow.KindAuction, p.Seller, p.ID)
	holding := model.HoldingAddress(p.Asset, escrowAddr)
	if p.AssetEscrow != "" && p.AssetEscrow != holding {
		return nil, fmt.Errorf("%s: %w", p.AssetEscrow, fault.ErrInvalidEscrow)
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

	vault, err := currency.OpenAccount(tx, p.Mint, escrowAddr)
	if err != nil {
		return nil, err
	}
	receiver, err := currency.OpenAccount(tx, p.Mint, p.Seller)
	if err != nil {
		return nil, err
	}

	a := &model.Auction{
		ID:             p.ID,
		Ongoing:        true,
		Seller:         p.Seller,
		CurrentBidder:  p.Seller,
		Asset:          p.Asset,
		AssetEscrow:    holding,
		Price:          p.Reserve,
		Mint:           p.Mint,
		CurrencyEscrow: vault.Address,
		SellerReceiver: receiver.Address,
		CreatedAt:      b.Now(),
	}
	if err := store.Create(tx, store.BucketAuctions, a.ID, a); err != nil {
		if errors.Is(err, store.ErrExists) {
			return nil, fault.ErrDuplicateListing
		}
		return nil, err
	}

	b.Add(model.Event{
		Type:      model.EventAuctionCreated,
		Asset:     a.Asset,
		Mint:      a.Mint,
		ListingID: a.ID,
		From:      a.AssetEscrow,
		Actor:     caller.Principal(),
		Price:     a.Price,
	})
	return a, nil
}

// Load returns the auction or ErrListingNotFound.
func Load(tx store.Tx, id string) (*model.Auction, error) {
	a, err := store.Load[model.Auction](tx, store.BucketAuctions, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fault.ErrListingNotFound
	}
	return a, err
}

// Bid raises the price to price, paid from the source currency account.
// The previous bid, if any, is refunded in full first; refund, deposit and
// the new state commit together or not at all.
func Bid(tx store.Tx, b *notify.Batch, caller auth.Authorizer, id, bidder string, price uint64, source string) (*model.Auction, error) {
	a, err := Load(tx, id)
	if err != nil {
		return nil, err
	}
	if !a.Ongoing {
		return nil, fault.ErrAuctionClosed
	}
	if bidder == "" {
		return nil, fmt.Errorf("bidder: %w", fault.ErrInvalidAddress)
	}
	if !caller.Authorizes(bidder) {
		return nil, fault.ErrUnauthorized
	}
	if bidder == a.Seller {
		return nil, fault.ErrSellerBid
	}
	if price <= a.Price {
		return nil, fmt.Errorf("%d <= %d: %w", price, a.Price, fault.ErrBidTooLow)
	}
	src, err := currency.LoadAccount(tx, source)
	if err != nil {
		return nil, err
	}
	if src.Mint != a.Mint {
		return nil, fault.ErrCurrencyMismatch
	}

	if a.HasBid {
		_, authority := escrow.Derive(escrow.KindAuction, a.Seller, a.ID)
		if _, _, err := currency.Transfer(tx, b, authority, a.CurrencyEscrow, a.RefundTarget, a.Price); err != nil {
			return nil, fmt.Errorf("refund %s: %w", a.CurrentBidder, err)
		}
		b.Add(model.Event{
			Type:      model.EventBidRefunded,
			Mint:      a.Mint,
			ListingID: a.ID,
			From:      a.CurrencyEscrow,
			To:        a.RefundTarget,
			Actor:     a.CurrentBidder,
			Amount:    a.Price,
		})
	}
	if _, _, err := currency.Transfer(tx, b, caller, source, a.CurrencyEscrow, price); err != nil {
		return nil, err
	}

	a.CurrentBidder = bidder
	a.RefundTarget = source
	a.Price = price
	a.HasBid = true
	if err := store.Save(tx, store.BucketAuctions, a.ID, a); err != nil {
		return nil, err
	}

	b.Add(model.Event{
		Type:      model.EventBidPlaced,
		Mint:      a.Mint,
		ListingID: a.ID,
		From:      source,
		To:        a.CurrencyEscrow,
		Actor:     bidder,
		Amount:    price,
		Price:     price,
	})
	return a, nil
}

// Close ends the auction. With a bid, the seller is paid the price and the
// escrowed asset goes to the winner; without one, it goes back to the
// seller. Only the seller may close, and only once.
func Close(tx store.Tx, b *notify.Batch, caller auth.Authorizer, id string) (*model.Auction, error) {
	a, err := Load(tx, id)
	if err != nil {
		return nil, err
	}
	if !a.Ongoing {
		return nil, fault.ErrAuctionClosed
	}
	if !caller.Authorizes(a.Seller) {
		return nil, fault.ErrUnauthorized
	}

	_, authority := escrow.Derive(escrow.KindAuction, a.Seller, a.ID)
	if a.HasBid {
		if _, _, err := currency.Transfer(tx, b, authority, a.CurrencyEscrow, a.SellerReceiver, a.Price); err != nil {
			return nil, fmt.Errorf("pay seller: %w", err)
		}
	}

	// current_bidder is the seller when nobody bid.
	held, err := ledger.LoadHolding(tx, a.AssetEscrow)
	if err != nil {
		return nil, err
	}
	dst, err := ledger.CreateHolding(tx, a.Asset, a.CurrentBidder)
	if err != nil {
		return nil, err
	}
	if held.Balance > 0 {
		if _, _, err := ledger.Transfer(tx, b, authority, a.AssetEscrow, dst.Address, held.Balance); err != nil {
			return nil, fmt.Errorf("release asset: %w", err)
		}
	}

	now := b.Now()
	a.Ongoing = false
	a.ClosedAt = &now
	if err := store.Save(tx, store.BucketAuctions, a.ID, a); err != nil {
		return nil, err
	}

	b.Add(model.Event{
		Type:        model.EventAuctionClosed,
		Asset:       a.Asset,
		Mint:        a.Mint,
		ListingID:   a.ID,
		From:        a.AssetEscrow,
		To:          dst.Address,
		ToAuthority: a.CurrentBidder,
		Actor:       caller.Principal(),
		Amount:      held.Balance,
		Price:       a.Price,
	})
	return a, nil
}

// Reclaim returns to seller the units of assetID sitting in the escrow of
// the seller's auction id, when no ongoing auction of that seller holds them.
// It recovers an escrow funded ahead of a create that never succeeded.
func Reclaim(tx store.Tx, b *notify.Batch, caller auth.Authorizer, assetID, seller, id string) (*model.Holding, error) {
	if seller == "" {
		return nil, fmt.Errorf("seller: %w", fault.ErrInvalidAddress)
	}
	if !caller.Authorizes(seller) {
		return nil, fault.ErrUnauthorized
	}
	a, err := Load(tx, id)
	switch {
	case err == nil:
		if a.Ongoing && a.Seller == seller && a.Asset == assetID {
			return nil, fault.ErrListingActive
		}
	case !errors.Is(err, fault.ErrListingNotFound):
		return nil, err
	}

	escrowAddr, authority := escrow.Derive(escrow.KindAuction, seller, id)
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
