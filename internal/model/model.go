// Package model defines the records shared by the ledger, the currency
// accounts and the escrow state machines. Each record is persisted as one
// addressable entry in the store.
//
// All amounts are uint64 base units. Optional addresses use the empty string
// for "none".
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Asset is a uniquely identified item whose ownership is divided into
// balance units across holdings.
// Invariant: Undistributed + Σ(holding balances) == Supply.
type Asset struct {
	ID            string    `json:"id"`
	Authority     string    `json:"authority"`
	Supply        uint64    `json:"supply"`
	Undistributed uint64    `json:"remaining_undistributed"`
	Metadata      []byte    `json:"metadata"`
	CreatedAt     time.Time `json:"created_at"`
}

// Holding is the ownership record of one holder for one asset.
type Holding struct {
	Address           string `json:"address"`
	Asset             string `json:"asset"`
	Holder            string `json:"holder"`
	Balance           uint64 `json:"balance"`
	Delegate          string `json:"delegate,omitempty"`
	DelegateAllowance uint64 `json:"delegate_allowance"`
}

// Mint is a fungible currency that listings are priced in.
type Mint struct {
	ID        string `json:"id"`
	Authority string `json:"authority"`
	Decimals  int32  `json:"decimals"`
	Supply    uint64 `json:"supply"`
}

// CurrencyAccount holds an amount of one mint for one owner.
type CurrencyAccount struct {
	Address string `json:"address"`
	Mint    string `json:"mint"`
	Owner   string `json:"owner"`
	Amount  uint64 `json:"amount"`
}

// Auction is a single-seller ascending-price listing.
// Price never decreases; Ongoing flips to false exactly once.
type Auction struct {
	ID             string     `json:"id"`
	Ongoing        bool       `json:"ongoing"`
	Seller         string     `json:"seller"`
	CurrentBidder  string     `json:"current_bidder"`
	Asset          string     `json:"asset"`
	AssetEscrow    string     `json:"asset_escrow"`
	RefundTarget   string     `json:"refund_target,omitempty"`
	Price          uint64     `json:"price"`
	HasBid         bool       `json:"has_bid"`
	Mint           string     `json:"mint"`
	CurrencyEscrow string     `json:"currency_escrow"`
	SellerReceiver string     `json:"seller_receiver"`
	CreatedAt      time.Time  `json:"created_at"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
}

// Exchange is a fixed-price item-for-currency listing.
type Exchange struct {
	ID               string     `json:"id"`
	Ongoing          bool       `json:"ongoing"`
	Seller           string     `json:"seller"`
	Buyer            string     `json:"buyer,omitempty"`
	Asset            string     `json:"asset"`
	ItemEscrow       string     `json:"item_escrow"`
	CurrencyReceiver string     `json:"currency_receiver"`
	Mint             string     `json:"mint"`
	Price            uint64     `json:"price"`
	CreatedAt        time.Time  `json:"created_at"`
	SettledAt        *time.Time `json:"settled_at,omitempty"`
}

// Event types published to the notification sink.
const (
	EventAssetCreated     = "asset_created"
	EventDistributed      = "distributed"
	EventTransfer         = "transfer"
	EventApproval         = "approval"
	EventMintCreated      = "mint_created"
	EventIssued           = "issued"
	EventCurrencyTransfer = "currency_transfer"
	EventAuctionCreated   = "auction_created"
	EventBidPlaced        = "bid_placed"
	EventBidRefunded      = "bid_refunded"
	EventAuctionClosed    = "auction_closed"
	EventExchangeCreated  = "exchange_created"
	EventExchangeSettled  = "exchange_settled"
	EventEscrowReclaimed  = "escrow_reclaimed"
)

// Event is a notification about a committed state change.
type Event struct {
	Type          string    `json:"type"`
	Asset         string    `json:"asset,omitempty"`
	Mint          string    `json:"mint,omitempty"`
	ListingID     string    `json:"listing_id,omitempty"`
	From          string    `json:"from,omitempty"`
	To            string    `json:"to,omitempty"`
	FromAuthority string    `json:"from_authority,omitempty"`
	ToAuthority   string    `json:"to_authority,omitempty"`
	Actor         string    `json:"actor,omitempty"`
	Amount        uint64    `json:"amount,omitempty"`
	Price         uint64    `json:"price,omitempty"`
	Time          time.Time `json:"time"`
}

// HoldingAddress derives the address of holder's record for asset.
func HoldingAddress(asset, holder string) string {
	return derive("holding", asset, holder)
}

// CurrencyAccountAddress derives the address of owner's account for mint.
func CurrencyAccountAddress(mint, owner string) string {
	return derive("account", mint, owner)
}

func derive(kind string, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(kind))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil)[:20])
}
