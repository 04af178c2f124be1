package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/escrow-engine/internal/ledger"
	"github.com/atmx/escrow-engine/internal/metadata"
	"github.com/atmx/escrow-engine/internal/model"
)

// CreateAssetRequest is the JSON body for POST /assets.
type CreateAssetRequest struct {
	ID        string `json:"id,omitempty"` // random when empty
	Authority string `json:"authority"`
	Supply    uint64 `json:"supply"`
	Metadata  string `json:"metadata"` // usually a content uri, at most 128 bytes
}

// AssetResponse renders an asset with its metadata as text.
type AssetResponse struct {
	ID                     string        `json:"id"`
	Authority              string        `json:"authority"`
	Supply                 uint64        `json:"supply"`
	RemainingUndistributed uint64        `json:"remaining_undistributed"`
	Metadata               string        `json:"metadata"`
	URI                    *metadata.URI `json:"uri,omitempty"`
	CreatedAt              time.Time     `json:"created_at"`
}

func assetResponse(a *model.Asset) AssetResponse {
	resp := AssetResponse{
		ID:                     a.ID,
		Authority:              a.Authority,
		Supply:                 a.Supply,
		RemainingUndistributed: a.Undistributed,
		Metadata:               string(a.Metadata),
		CreatedAt:              a.CreatedAt,
	}
	if uri, err := metadata.ParseURI(a.Metadata); err == nil {
		resp.URI = uri
	}
	return resp
}

// HolderRequest names a holder.
type HolderRequest struct {
	Holder string `json:"holder"`
}

// DistributeRequest is the JSON body for POST /assets/{assetID}/distribute.
type DistributeRequest struct {
	Holder string `json:"holder"`
	Amount uint64 `json:"amount"`
}

// TransferRequest is the JSON body for POST /transfers.
type TransferRequest struct {
	From   string `json:"from"` // holding address
	To     string `json:"to"`   // holding address
	Amount uint64 `json:"amount"`
}

// TransferResponse returns both sides of a transfer.
type TransferResponse struct {
	From *model.Holding `json:"from"`
	To   *model.Holding `json:"to"`
}

// ApproveRequest is the JSON body for POST /holdings/{address}/approve.
// An empty delegate revokes.
type ApproveRequest struct {
	Delegate string `json:"delegate"`
	Amount   uint64 `json:"amount"`
}

// CreateAsset handles POST /api/v1/assets
func (h *Handler) CreateAsset(w http.ResponseWriter, r *http.Request) {
	var req CreateAssetRequest
	if !decode(w, r, &req) {
		return
	}
	asset, err := h.ledger.CreateAsset(r.Context(), signers(r), ledger.AssetParams{
		ID:        req.ID,
		Authority: req.Authority,
		Supply:    req.Supply,
		Metadata:  []byte(req.Metadata),
	})
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, assetResponse(asset))
}

// GetAsset handles GET /api/v1/assets/{assetID}
func (h *Handler) GetAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := h.ledger.Asset(r.Context(), chi.URLParam(r, "assetID"))
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assetResponse(asset))
}

// CreateHolding handles POST /api/v1/assets/{assetID}/holdings
func (h *Handler) CreateHolding(w http.ResponseWriter, r *http.Request) {
	var req HolderRequest
	if !decode(w, r, &req) {
		return
	}
	holding, err := h.ledger.CreateHolding(r.Context(), chi.URLParam(r, "assetID"), req.Holder)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, holding)
}

// Distribute handles POST /api/v1/assets/{assetID}/distribute
func (h *Handler) Distribute(w http.ResponseWriter, r *http.Request) {
	var req DistributeRequest
	if !decode(w, r, &req) {
		return
	}
	holding, err := h.ledger.Distribute(r.Context(), signers(r), chi.URLParam(r, "assetID"), req.Holder, req.Amount)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, holding)
}

// GetHolding handles GET /api/v1/holdings/{address}
func (h *Handler) GetHolding(w http.ResponseWriter, r *http.Request) {
	holding, err := h.ledger.Holding(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, holding)
}

// Approve handles POST /api/v1/holdings/{address}/approve
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if !decode(w, r, &req) {
		return
	}
	holding, err := h.ledger.Approve(r.Context(), signers(r), chi.URLParam(r, "address"), req.Delegate, req.Amount)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, holding)
}

// Transfer handles POST /api/v1/transfers
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if !decode(w, r, &req) {
		return
	}
	src, dst, err := h.ledger.Transfer(r.Context(), signers(r), req.From, req.To, req.Amount)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TransferResponse{From: src, To: dst})
}
