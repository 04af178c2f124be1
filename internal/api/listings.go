package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/escrow-engine/internal/auction"
	"github.com/atmx/escrow-engine/internal/escrow"
	"github.com/atmx/escrow-engine/internal/exchange"
	"github.com/atmx/escrow-engine/internal/model"
	"github.com/atmx/escrow-engine/internal/units"
)

// DepositRequest moves seller units into the listing escrow on creation.
type DepositRequest struct {
	From   string `json:"from"` // seller holding address
	Amount uint64 `json:"amount"`
}

// CreateAuctionRequest is the JSON body for POST /auctions.
type CreateAuctionRequest struct {
	ID          string          `json:"id,omitempty"`
	Seller      string          `json:"seller"`
	Asset       string          `json:"asset"`
	AssetEscrow string          `json:"asset_escrow,omitempty"`
	Reserve     decimal.Decimal `json:"reserve"`
	Mint        string          `json:"mint"`
	Deposit     *DepositRequest `json:"deposit,omitempty"`
}

// BidRequest is the JSON body for POST /auctions/{id}/bids.
type BidRequest struct {
	Bidder string          `json:"bidder"`
	Price  decimal.Decimal `json:"price"`
	Source string          `json:"source"` // bidder currency account
}

// AuctionResponse renders an auction with its price in display units.
type AuctionResponse struct {
	*model.Auction
	Price      decimal.Decimal `json:"price"`
	PriceUnits uint64          `json:"price_units"`
}

// CreateExchangeRequest is the JSON body for POST /exchanges.
type CreateExchangeRequest struct {
	ID               string          `json:"id,omitempty"`
	Seller           string          `json:"seller"`
	Asset            string          `json:"asset"`
	ItemEscrow       string          `json:"item_escrow,omitempty"`
	CurrencyReceiver string          `json:"currency_receiver"`
	Price            decimal.Decimal `json:"price"`
	Deposit          *DepositRequest `json:"deposit,omitempty"`
}

// SettleRequest is the JSON body for POST /exchanges/{id}/settle.
type SettleRequest struct {
	Buyer  string `json:"buyer"`
	Source string `json:"source"` // buyer currency account
}

// ExchangeResponse renders an exchange with its price in display units.
type ExchangeResponse struct {
	*model.Exchange
	Price      decimal.Decimal `json:"price"`
	PriceUnits uint64          `json:"price_units"`
}

// EscrowResponse describes the escrow of a seller's listing, known before
// the listing exists so the seller can fund it up front.
type EscrowResponse struct {
	Kind      escrow.Kind `json:"kind"`
	Seller    string      `json:"seller"`
	ListingID string      `json:"listing_id"`
	Address   string      `json:"address"`
	Holding   string      `json:"holding,omitempty"` // when ?asset= is given
}

// ReclaimRequest is the JSON body for POST /escrow/{kind}/{id}/reclaim.
type ReclaimRequest struct {
	Seller string `json:"seller"`
	Asset  string `json:"asset"`
}

func (h *Handler) auctionResponse(r *http.Request, a *model.Auction) (AuctionResponse, error) {
	decimals, err := h.decimalsOf(r.Context(), a.Mint)
	if err != nil {
		return AuctionResponse{}, err
	}
	return AuctionResponse{Auction: a, Price: units.ToDecimal(a.Price, decimals), PriceUnits: a.Price}, nil
}

func (h *Handler) exchangeResponse(r *http.Request, x *model.Exchange) (ExchangeResponse, error) {
	decimals, err := h.decimalsOf(r.Context(), x.Mint)
	if err != nil {
		return ExchangeResponse{}, err
	}
	return ExchangeResponse{Exchange: x, Price: units.ToDecimal(x.Price, decimals), PriceUnits: x.Price}, nil
}

func (h *Handler) writeAuction(w http.ResponseWriter, r *http.Request, status int, a *model.Auction) {
	resp, err := h.auctionResponse(r, a)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeJSON(w, status, resp)
}

func (h *Handler) writeExchange(w http.ResponseWriter, r *http.Request, status int, x *model.Exchange) {
	resp, err := h.exchangeResponse(r, x)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeJSON(w, status, resp)
}

// CreateAuction handles POST /api/v1/auctions
func (h *Handler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	var req CreateAuctionRequest
	if !decode(w, r, &req) {
		return
	}
	decimals, err := h.decimalsOf(r.Context(), req.Mint)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	reserve, err := units.FromDecimal(req.Reserve, decimals)
	if err != nil {
		writeFault(w, r, err)
		return
	}

	p := auction.Params{
		ID:          req.ID,
		Seller:      req.Seller,
		Asset:       req.Asset,
		AssetEscrow: req.AssetEscrow,
		Reserve:     reserve,
		Mint:        req.Mint,
	}
	if req.Deposit != nil {
		p.Deposit = &auction.Deposit{From: req.Deposit.From, Amount: req.Deposit.Amount}
	}
	a, err := h.auctions.Create(r.Context(), signers(r), p)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	h.writeAuction(w, r, http.StatusCreated, a)
}

// GetAuction handles GET /api/v1/auctions/{id}
func (h *Handler) GetAuction(w http.ResponseWriter, r *http.Request) {
	a, err := h.auctions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFault(w, r, err)
		return
	}
	h.writeAuction(w, r, http.StatusOK, a)
}

// Bid handles POST /api/v1/auctions/{id}/bids
func (h *Handler) Bid(w http.ResponseWriter, r *http.Request) {
	var req BidRequest
	if !decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	current, err := h.auctions.Get(r.Context(), id)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	decimals, err := h.decimalsOf(r.Context(), current.Mint)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	price, err := units.FromDecimal(req.Price, decimals)
	if err != nil {
		writeFault(w, r, err)
		return
	}

	a, err := h.auctions.Bid(r.Context(), signers(r), id, req.Bidder, price, req.Source)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	h.writeAuction(w, r, http.StatusOK, a)
}

// CloseAuction handles POST /api/v1/auctions/{id}/close
func (h *Handler) CloseAuction(w http.ResponseWriter, r *http.Request) {
	a, err := h.auctions.Close(r.Context(), signers(r), chi.URLParam(r, "id"))
	if err != nil {
		writeFault(w, r, err)
		return
	}
	h.writeAuction(w, r, http.StatusOK, a)
}

// CreateExchange handles POST /api/v1/exchanges
func (h *Handler) CreateExchange(w http.ResponseWriter, r *http.Request) {
	var req CreateExchangeRequest
	if !decode(w, r, &req) {
		return
	}
	receiver, err := h.currency.Account(r.Context(), req.CurrencyReceiver)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	decimals, err := h.decimalsOf(r.Context(), receiver.Mint)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	price, err := units.FromDecimal(req.Price, decimals)
	if err != nil {
		writeFault(w, r, err)
		return
	}

	p := exchange.Params{
		ID:               req.ID,
		Seller:           req.Seller,
		Asset:            req.Asset,
		ItemEscrow:       req.ItemEscrow,
		CurrencyReceiver: req.CurrencyReceiver,
		Price:            price,
	}
	if req.Deposit != nil {
		p.Deposit = &exchange.Deposit{From: req.Deposit.From, Amount: req.Deposit.Amount}
	}
	x, err := h.exchanges.Create(r.Context(), signers(r), p)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	h.writeExchange(w, r, http.StatusCreated, x)
}

// GetExchange handles GET /api/v1/exchanges/{id}
func (h *Handler) GetExchange(w http.ResponseWriter, r *http.Request) {
	x, err := h.exchanges.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFault(w, r, err)
		return
	}
	h.writeExchange(w, r, http.StatusOK, x)
}

// Settle handles POST /api/v1/exchanges/{id}/settle
func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if !decode(w, r, &req) {
		return
	}
	x, err := h.exchanges.Settle(r.Context(), signers(r), chi.URLParam(r, "id"), req.Buyer, req.Source)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	h.writeExchange(w, r, http.StatusOK, x)
}

func escrowKind(w http.ResponseWriter, r *http.Request) (escrow.Kind, bool) {
	kind := escrow.Kind(chi.URLParam(r, "kind"))
	if kind != escrow.KindAuction && kind != escrow.KindExchange {
		writeError(w, "kind must be auction or exchange", http.StatusBadRequest)
		return "", false
	}
	return kind, true
}

// GetEscrow handles GET /api/v1/escrow/{kind}/{id}?seller=
func (h *Handler) GetEscrow(w http.ResponseWriter, r *http.Request) {
	kind, ok := escrowKind(w, r)
	if !ok {
		return
	}
	seller := r.URL.Query().Get("seller")
	if seller == "" {
		writeError(w, "seller is required", http.StatusBadRequest)
		return
	}
	id := chi.URLParam(r, "id")
	resp := EscrowResponse{Kind: kind, Seller: seller, ListingID: id, Address: escrow.Address(kind, seller, id)}
	if asset := r.URL.Query().Get("asset"); asset != "" {
		resp.Holding = model.HoldingAddress(asset, resp.Address)
	}
	// Escrow addresses never change.
	w.Header().Set("Cache-Control", "max-age=3600")
	writeJSON(w, http.StatusOK, resp)
}

// ReclaimEscrow handles POST /api/v1/escrow/{kind}/{id}/reclaim
func (h *Handler) ReclaimEscrow(w http.ResponseWriter, r *http.Request) {
	kind, ok := escrowKind(w, r)
	if !ok {
		return
	}
	var req ReclaimRequest
	if !decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	var (
		holding *model.Holding
		err     error
	)
	if kind == escrow.KindAuction {
		holding, err = h.auctions.Reclaim(r.Context(), signers(r), req.Asset, req.Seller, id)
	} else {
		holding, err = h.exchanges.Reclaim(r.Context(), signers(r), req.Asset, req.Seller, id)
	}
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, holding)
}
