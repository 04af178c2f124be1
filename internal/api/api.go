// Package api exposes the ledger, the currency accounts and the listings over
// HTTP. Handlers only translate JSON and map errors to status codes; every
// rule lives in the service packages.
//
// Currency amounts are decimal strings scaled by the mint's decimals (never
// float64). Asset units are integers.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/escrow-engine/internal/auction"
	"github.com/atmx/escrow-engine/internal/auth"
	"github.com/atmx/escrow-engine/internal/currency"
	"github.com/atmx/escrow-engine/internal/exchange"
	"github.com/atmx/escrow-engine/internal/fault"
	"github.com/atmx/escrow-engine/internal/ledger"
	"github.com/atmx/escrow-engine/internal/notify"
	"github.com/atmx/escrow-engine/internal/txn"
)

// SignersHeader carries the comma separated addresses whose signatures the
// gateway verified for this request.
const SignersHeader = "X-Signers"

// Handler serves the /api/v1 routes.
type Handler struct {
	ledger    *ledger.Service
	currency  *currency.Service
	auctions  *auction.Service
	exchanges *exchange.Service
	hub       *notify.WSHub // optional
}

// NewHandler creates the handlers over one runner.
// Pass nil for hub if WebSocket streaming is not needed.
func NewHandler(run *txn.Runner, hub *notify.WSHub) *Handler {
	return &Handler{
		ledger:    ledger.NewService(run),
		currency:  currency.NewService(run),
		auctions:  auction.NewService(run),
		exchanges: exchange.NewService(run),
		hub:       hub,
	}
}

// Routes registers every endpoint on r. Mount it under /api/v1.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/assets", h.CreateAsset)
	r.Get("/assets/{assetID}", h.GetAsset)
	r.Post("/assets/{assetID}/holdings", h.CreateHolding)
	r.Post("/assets/{assetID}/distribute", h.Distribute)
	r.Get("/holdings/{address}", h.GetHolding)
	r.Post("/holdings/{address}/approve", h.Approve)
	r.Post("/transfers", h.Transfer)

	r.Post("/mints", h.CreateMint)
	r.Post("/mints/{mintID}/accounts", h.OpenAccount)
	r.Post("/mints/{mintID}/issue", h.Issue)
	r.Get("/accounts/{address}", h.GetAccount)
	r.Post("/accounts/{address}/transfer", h.TransferCurrency)

	r.Post("/auctions", h.CreateAuction)
	r.Get("/auctions/{id}", h.GetAuction)
	r.Post("/auctions/{id}/bids", h.Bid)
	r.Post("/auctions/{id}/close", h.CloseAuction)

	r.Post("/exchanges", h.CreateExchange)
	r.Get("/exchanges/{id}", h.GetExchange)
	r.Post("/exchanges/{id}/settle", h.Settle)

	r.Get("/escrow/{kind}/{id}", h.GetEscrow)
	r.Post("/escrow/{kind}/{id}/reclaim", h.ReclaimEscrow)
	if h.hub != nil {
		r.Get("/ws", h.hub.HandleWS)
	}
}

func signers(r *http.Request) auth.Context {
	return auth.FromHeader(r.Header.Get(SignersHeader))
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeFault maps a service error to its status code.
func writeFault(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, "internal error", status)
		return
	}
	writeError(w, err.Error(), status)
}

func statusFor(err error) int {
	switch {
	case fault.IsErrAuth(err):
		return http.StatusForbidden
	case fault.IsErrFunds(err):
		return http.StatusPaymentRequired
	case fault.IsErrInvalid(err):
		return http.StatusBadRequest
	case fault.IsErrExists(err), fault.IsErrState(err), fault.IsErrConflict(err):
		return http.StatusConflict
	case fault.IsErrNotFound(err):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
