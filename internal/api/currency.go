package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/escrow-engine/internal/currency"
	"github.com/atmx/escrow-engine/internal/model"
	"github.com/atmx/escrow-engine/internal/units"
)

// CreateMintRequest is the JSON body for POST /mints.
type CreateMintRequest struct {
	ID        string `json:"id,omitempty"` // random when empty
	Authority string `json:"authority"`
	Decimals  int32  `json:"decimals"`
}

// OpenAccountRequest is the JSON body for POST /mints/{mintID}/accounts.
type OpenAccountRequest struct {
	Owner string `json:"owner"`
}

// IssueRequest is the JSON body for POST /mints/{mintID}/issue.
type IssueRequest struct {
	Owner  string          `json:"owner"`
	Amount decimal.Decimal `json:"amount"`
}

// CurrencyTransferRequest is the JSON body for POST /accounts/{address}/transfer.
type CurrencyTransferRequest struct {
	To     string          `json:"to"` // account address
	Amount decimal.Decimal `json:"amount"`
}

// AccountResponse renders a currency account in display units.
type AccountResponse struct {
	Address     string          `json:"address"`
	Mint        string          `json:"mint"`
	Owner       string          `json:"owner"`
	Amount      decimal.Decimal `json:"amount"`
	AmountUnits uint64          `json:"amount_units"`
}

func accountResponse(a *model.CurrencyAccount, decimals int32) AccountResponse {
	return AccountResponse{
		Address:     a.Address,
		Mint:        a.Mint,
		Owner:       a.Owner,
		Amount:      units.ToDecimal(a.Amount, decimals),
		AmountUnits: a.Amount,
	}
}

// decimalsOf returns the precision of a mint.
func (h *Handler) decimalsOf(ctx context.Context, mintID string) (int32, error) {
	m, err := h.currency.Mint(ctx, mintID)
	if err != nil {
		return 0, err
	}
	return m.Decimals, nil
}

// CreateMint handles POST /api/v1/mints
func (h *Handler) CreateMint(w http.ResponseWriter, r *http.Request) {
	var req CreateMintRequest
	if !decode(w, r, &req) {
		return
	}
	m, err := h.currency.CreateMint(r.Context(), signers(r), currency.MintParams{
		ID:        req.ID,
		Authority: req.Authority,
		Decimals:  req.Decimals,
	})
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// OpenAccount handles POST /api/v1/mints/{mintID}/accounts
func (h *Handler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	var req OpenAccountRequest
	if !decode(w, r, &req) {
		return
	}
	mintID := chi.URLParam(r, "mintID")
	decimals, err := h.decimalsOf(r.Context(), mintID)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	acct, err := h.currency.OpenAccount(r.Context(), mintID, req.Owner)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse(acct, decimals))
}

// Issue handles POST /api/v1/mints/{mintID}/issue
func (h *Handler) Issue(w http.ResponseWriter, r *http.Request) {
	var req IssueRequest
	if !decode(w, r, &req) {
		return
	}
	mintID := chi.URLParam(r, "mintID")
	decimals, err := h.decimalsOf(r.Context(), mintID)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	amount, err := units.FromDecimal(req.Amount, decimals)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	acct, err := h.currency.Issue(r.Context(), signers(r), mintID, req.Owner, amount)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse(acct, decimals))
}

// GetAccount handles GET /api/v1/accounts/{address}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.currency.Account(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		writeFault(w, r, err)
		return
	}
	decimals, err := h.decimalsOf(r.Context(), acct.Mint)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse(acct, decimals))
}

// TransferCurrency handles POST /api/v1/accounts/{address}/transfer
func (h *Handler) TransferCurrency(w http.ResponseWriter, r *http.Request) {
	var req CurrencyTransferRequest
	if !decode(w, r, &req) {
		return
	}
	from := chi.URLParam(r, "address")
	acct, err := h.currency.Account(r.Context(), from)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	decimals, err := h.decimalsOf(r.Context(), acct.Mint)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	amount, err := units.FromDecimal(req.Amount, decimals)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	src, _, err := h.currency.Transfer(r.Context(), signers(r), from, req.To, amount)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse(src, decimals))
}
