// Package ledger implements the asset registry and the ownership ledger.
//
// The functions in this file operate on an open store.Tx and collect their
// events in a notify.Batch, so listings can compose several ledger moves into
// one unit of work. Service wraps each of them in its own transaction for
// direct callers.
package ledger

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/atmx/escrow-engine/internal/auth"
	"github.com/atmx/escrow-engine/internal/fault"
	"github.com/atmx/escrow-engine/internal/metadata"
	"github.com/atmx/escrow-engine/internal/model"
	"github.com/atmx/escrow-engine/internal/notify"
	"github.com/atmx/escrow-engine/internal/store"
	"github.com/atmx/escrow-engine/internal/units"
)

// AssetParams describes a new asset. An empty ID is replaced by a random one.
type AssetParams struct {
	ID        string
	Authority string
	Supply    uint64
	Metadata  []byte
}

// CreateAsset registers an asset with its whole supply undistributed. The
// caller must sign for the authority.
func CreateAsset(tx store.Tx, b *notify.Batch, caller auth.Authorizer, p AssetParams) (*model.Asset, error) {
	if p.Authority == "" {
		return nil, fmt.Errorf("authority: %w", fault.ErrInvalidAddress)
	}
	if !caller.Authorizes(p.Authority) {
		return nil, fault.ErrUnauthorized
	}
	if err := metadata.Validate(p.Metadata); err != nil {
		return nil, err
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}

	asset := &model.Asset{
		ID:            p.ID,
		Authority:     p.Authority,
		Supply:        p.Supply,
		Undistributed: p.Supply,
		Metadata:      p.Metadata,
		CreatedAt:     b.Now(),
	}
	if err := store.Create(tx, store.BucketAssets, asset.ID, asset); err != nil {
		if errors.Is(err, store.ErrExists) {
			return nil, fault.ErrDuplicateAsset
		}
		return nil, err
	}

	b.Add(model.Event{
		Type:   model.EventAssetCreated,
		Asset:  asset.ID,
		To:     asset.Authority,
		Actor:  caller.Principal(),
		Amount: asset.Supply,
	})
	return asset, nil
}

// LoadAsset returns the asset or ErrAssetNotFound.
func LoadAsset(tx store.Tx, id string) (*model.Asset, error) {
	a, err := store.Load[model.Asset](tx, store.BucketAssets, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fault.ErrAssetNotFound
	}
	return a, err
}

// LoadHolding returns the holding at addr or ErrHoldingNotFound.
func LoadHolding(tx store.Tx, addr string) (*model.Holding, error) {
	h, err := store.Load[model.Holding](tx, store.BucketHoldings, addr)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fault.ErrHoldingNotFound
	}
	return h, err
}

// CreateHolding returns holder's record for asset, inserting a zero-balance
// one if there is none yet.
func CreateHolding(tx store.Tx, assetID, holder string) (*model.Holding, error) {
	if holder == "" {
		return nil, fmt.Errorf("holder: %w", fault.ErrInvalidAddress)
	}
	if _, err := LoadAsset(tx, assetID); err != nil {
		return nil, err
	}

	addr := model.HoldingAddress(assetID, holder)
	h, err := LoadHolding(tx, addr)
	if err == nil {
		return h, nil
	}
	if !errors.Is(err, fault.ErrHoldingNotFound) {
		return nil, err
	}

	h = &model.Holding{Address: addr, Asset: assetID, Holder: holder}
	if err := store.Create(tx, store.BucketHoldings, addr, h); err != nil {
		return nil, err
	}
	return h, nil
}

// Distribute moves amount units of the undistributed supply into the holding
// at to. Only the asset authority may distribute.
func Distribute(tx store.Tx, b *notify.Batch, caller auth.Authorizer, assetID, to string, amount uint64) (*model.Holding, error) {
	if amount == 0 {
		return nil, fault.ErrInvalidAmount
	}
	asset, err := LoadAsset(tx, assetID)
	if err != nil {
		return nil, err
	}
	if !caller.Authorizes(asset.Authority) {
		return nil, fault.ErrUnauthorized
	}
	dst, err := LoadHolding(tx, to)
	if err != nil {
		return nil, err
	}
	if dst.Asset != asset.ID {
		return nil, fault.ErrAssetMismatch
	}
	if amount > asset.Undistributed {
		return nil, fault.ErrInsufficientSupply
	}

	if asset.Undistributed, err = units.Sub(asset.Undistributed, amount); err != nil {
		return nil, err
	}
	if dst.Balance, err = units.Add(dst.Balance, amount); err != nil {
		return nil, err
	}
	if err := store.Save(tx, store.BucketAssets, asset.ID, asset); err != nil {
		return nil, err
	}
	if err := store.Save(tx, store.BucketHoldings, dst.Address, dst); err != nil {
		return nil, err
	}

	b.Add(model.Event{
		Type:        model.EventDistributed,
		Asset:       asset.ID,
		To:          dst.Address,
		ToAuthority: dst.Holder,
		Actor:       caller.Principal(),
		Amount:      amount,
	})
	return dst, nil
}

// Transfer moves amount units between two holdings of the same asset.
//
// The caller must sign for the source holder, or for its delegate when the
// amount fits the remaining allowance; a delegated transfer consumes
// allowance. Escrow holdings can only be debited with their escrow.Authority.
func Transfer(tx store.Tx, b *notify.Batch, caller auth.Authorizer, from, to string, amount uint64) (src, dst *model.Holding, err error) {
	if amount == 0 {
		return nil, nil, fault.ErrInvalidAmount
	}
	if src, err = LoadHolding(tx, from); err != nil {
		return nil, nil, err
	}
	if from == to {
		dst = src
	} else if dst, err = LoadHolding(tx, to); err != nil {
		return nil, nil, err
	}

	delegated := false
	switch {
	case caller.Authorizes(src.Holder):
	case src.Delegate != "" && caller.Authorizes(src.Delegate) && amount <= src.DelegateAllowance:
		delegated = true
	default:
		return nil, nil, fault.ErrUnauthorized
	}

	if src.Asset != dst.Asset {
		return nil, nil, fault.ErrAssetMismatch
	}
	if amount > src.Balance {
		return nil, nil, fault.ErrInsufficientBalance
	}

	if delegated {
		if src.DelegateAllowance, err = units.Sub(src.DelegateAllowance, amount); err != nil {
			return nil, nil, err
		}
	}
	if src.Balance, err = units.Sub(src.Balance, amount); err != nil {
		return nil, nil, err
	}
	if dst.Balance, err = units.Add(dst.Balance, amount); err != nil {
		return nil, nil, err
	}

	if err := store.Save(tx, store.BucketHoldings, src.Address, src); err != nil {
		return nil, nil, err
	}
	if dst != src {
		if err := store.Save(tx, store.BucketHoldings, dst.Address, dst); err != nil {
			return nil, nil, err
		}
	}

	b.Add(model.Event{
		Type:          model.EventTransfer,
		Asset:         src.Asset,
		From:          src.Address,
		To:            dst.Address,
		FromAuthority: src.Holder,
		ToAuthority:   dst.Holder,
		Actor:         caller.Principal(),
		Amount:        amount,
	})
	return src, dst, nil
}

// Approve sets the delegate of a holding and its allowance. It overwrites
// whatever was approved before; an empty delegate revokes.
func Approve(tx store.Tx, b *notify.Batch, caller auth.Authorizer, holding, delegate string, amount uint64) (*model.Holding, error) {
	h, err := LoadHolding(tx, holding)
	if err != nil {
		return nil, err
	}
	if !caller.Authorizes(h.Holder) {
		return nil, fault.ErrUnauthorized
	}

	h.Delegate = delegate
	h.DelegateAllowance = amount
	if delegate == "" {
		h.DelegateAllowance = 0
	}
	if err := store.Save(tx, store.BucketHoldings, h.Address, h); err != nil {
		return nil, err
	}

	b.Add(model.Event{
		Type:          model.EventApproval,
		Asset:         h.Asset,
		From:          h.Address,
		FromAuthority: h.Holder,
		To:            h.Delegate,
		Actor:         caller.Principal(),
		Amount:        h.DelegateAllowance,
	})
	return h, nil
}

// EscrowHolding returns the holding at addr after checking it belongs to
// escrowAddr and holds a positive balance.
func EscrowHolding(tx store.Tx, addr, escrowAddr string) (*model.Holding, error) {
	h, err := LoadHolding(tx, addr)
	if errors.Is(err, fault.ErrHoldingNotFound) {
		return nil, fmt.Errorf("%s: %w", addr, fault.ErrInvalidEscrow)
	}
	if err != nil {
		return nil, err
	}
	if h.Holder != escrowAddr || h.Balance == 0 {
		return nil, fmt.Errorf("%s: %w", addr, fault.ErrInvalidEscrow)
	}
	return h, nil
}

// DrainEscrow moves the whole balance of the escrow holding at addr to
// holder's holding of the same asset and returns that holding and the
// amount moved. authority must be the escrow's.
func DrainEscrow(tx store.Tx, b *notify.Batch, authority auth.Authorizer, addr, escrowAddr, holder string) (*model.Holding, uint64, error) {
	held, err := EscrowHolding(tx, addr, escrowAddr)
	if err != nil {
		return nil, 0, err
	}
	amount := held.Balance
	to, err := CreateHolding(tx, held.Asset, holder)
	if err != nil {
		return nil, 0, err
	}
	if _, to, err = Transfer(tx, b, authority, held.Address, to.Address, amount); err != nil {
		return nil, 0, err
	}
	return to, amount, nil
}
