package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/escrow-engine/internal/auth"
	"github.com/atmx/escrow-engine/internal/currency"
	"github.com/atmx/escrow-engine/internal/exchange"
	"github.com/atmx/escrow-engine/internal/ledger"
	"github.com/atmx/escrow-engine/internal/model"
	"github.com/atmx/escrow-engine/internal/store"
	"github.com/atmx/escrow-engine/internal/txn"
)

func seed(t *testing.T, st store.Store) {
	t.Helper()
	ctx := context.Background()
	run := txn.NewRunner(st, nil)
	led := ledger.NewService(run)
	cur := currency.NewService(run)
	issuer, alice := auth.NewContext("issuer"), auth.NewContext("alice")

	_, err := led.CreateAsset(ctx, issuer, ledger.AssetParams{ID: "nft", Authority: "issuer", Supply: 100})
	require.NoError(t, err)
	_, err = led.Distribute(ctx, issuer, "nft", "alice", 70)
	require.NoError(t, err)
	_, err = led.CreateAsset(ctx, issuer, ledger.AssetParams{ID: "art", Authority: "issuer", Supply: 5})
	require.NoError(t, err)

	_, err = cur.CreateMint(ctx, auth.NewContext("treasury"), currency.MintParams{ID: "usd", Authority: "treasury"})
	require.NoError(t, err)
	recv, err := cur.OpenAccount(ctx, "usd", "alice")
	require.NoError(t, err)
	_, err = exchange.NewService(run).Create(ctx, alice, exchange.Params{
		ID: "x1", Seller: "alice", Asset: "nft", CurrencyReceiver: recv.Address, Price: 10,
		Deposit: &exchange.Deposit{From: model.HoldingAddress("nft", "alice"), Amount: 20},
	})
	require.NoError(t, err)
}

func TestCheck_Conserved(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st)

	report, err := Check(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Assets)
	assert.Equal(t, 2, report.Holdings)
	assert.Equal(t, 1, report.ActiveExchanges)
	assert.Equal(t, 0, report.ActiveAuctions)
	assert.Empty(t, report.Violations)
}

func TestCheck_DetectsTamperedHolding(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st)

	addr := model.HoldingAddress("nft", "alice")
	err := st.Update(context.Background(), func(tx store.Tx) error {
		h, err := store.Load[model.Holding](tx, store.BucketHoldings, addr)
		if err != nil {
			return err
		}
		h.Balance += 3
		return store.Save(tx, store.BucketHoldings, addr, h)
	})
	require.NoError(t, err)

	report, err := Check(context.Background(), st)
	require.NoError(t, err)
	require.Len(t, report.Violations, 1)
	v := report.Violations[0]
	assert.Equal(t, "nft", v.Asset)
	assert.Equal(t, uint64(100), v.Supply)
	assert.Equal(t, uint64(30), v.Undistributed)
	assert.Equal(t, uint64(73), v.Distributed)
	assert.False(t, v.Overflow)
}

func TestCheck_Overflow(t *testing.T) {
	st := store.NewMemoryStore()
	err := st.Update(context.Background(), func(tx store.Tx) error {
		if err := store.Create(tx, store.BucketAssets, "big", &model.Asset{ID: "big", Supply: 1}); err != nil {
			return err
		}
		for _, holder := range []string{"a", "b"} {
			addr := model.HoldingAddress("big", holder)
			h := &model.Holding{Address: addr, Asset: "big", Holder: holder, Balance: ^uint64(0)}
			if err := store.Create(tx, store.BucketHoldings, addr, h); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	report, err := Check(context.Background(), st)
	require.NoError(t, err)
	require.Len(t, report.Violations, 1)
	assert.True(t, report.Violations[0].Overflow)
}

func TestAuditor_StartStop(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st)

	a := New(st, 50*time.Millisecond)
	require.NoError(t, a.Start())
	time.Sleep(120 * time.Millisecond)
	a.Stop()
}
