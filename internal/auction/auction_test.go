package auction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/escrow-engine/internal/auth"
	"github.com/atmx/escrow-engine/internal/currency"
	"github.com/atmx/escrow-engine/internal/escrow"
	"github.com/atmx/escrow-engine/internal/fault"
	"github.com/atmx/escrow-engine/internal/ledger"
	"github.com/atmx/escrow-engine/internal/model"
	"github.com/atmx/escrow-engine/internal/notify"
	"github.com/atmx/escrow-engine/internal/store"
	"github.com/atmx/escrow-engine/internal/txn"
)

var (
	issuer   = auth.NewContext("issuer")
	treasury = auth.NewContext("treasury")
	seller   = auth.NewContext("seller")
	bidderA  = auth.NewContext("bidder-a")
	bidderB  = auth.NewContext("bidder-b")
)

type testEnv struct {
	auctions *Service
	ledger   *ledger.Service
	currency *currency.Service
	store    store.Store
	events   *notify.Recorder
}

// newTestEnv seeds asset "nft" (supply 100, all held by seller), mint "usd"
// and 100 usd for each bidder.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewMemoryStore()
	rec := &notify.Recorder{}
	run := txn.NewRunner(st, rec)
	env := &testEnv{
		auctions: NewService(run),
		ledger:   ledger.NewService(run),
		currency: currency.NewService(run),
		store:    st,
		events:   rec,
	}

	ctx := context.Background()
	_, err := env.ledger.CreateAsset(ctx, issuer, ledger.AssetParams{ID: "nft", Authority: "issuer", Supply: 100})
	require.NoError(t, err)
	_, err = env.ledger.Distribute(ctx, issuer, "nft", "seller", 100)
	require.NoError(t, err)
	_, err = env.currency.CreateMint(ctx, treasury, currency.MintParams{ID: "usd", Authority: "treasury"})
	require.NoError(t, err)
	for _, who := range []string{"bidder-a", "bidder-b"} {
		_, err = env.currency.Issue(ctx, treasury, "usd", who, 100)
		require.NoError(t, err)
	}
	return env
}

func (e *testEnv) create(t *testing.T, id string, reserve uint64) *model.Auction {
	t.Helper()
	a, err := e.auctions.Create(context.Background(), seller, Params{
		ID:      id,
		Seller:  "seller",
		Asset:   "nft",
		Reserve: reserve,
		Mint:    "usd",
		Deposit: &Deposit{From: model.HoldingAddress("nft", "seller"), Amount: 100},
	})
	require.NoError(t, err)
	return a
}

func (e *testEnv) cash(t *testing.T, owner string) uint64 {
	t.Helper()
	acct, err := e.currency.Account(context.Background(), model.CurrencyAccountAddress("usd", owner))
	require.NoError(t, err)
	return acct.Amount
}

func (e *testEnv) units(t *testing.T, holder string) uint64 {
	t.Helper()
	h, err := e.ledger.Holding(context.Background(), model.HoldingAddress("nft", holder))
	require.NoError(t, err)
	return h.Balance
}

func wallet(owner string) string {
	return model.CurrencyAccountAddress("usd", owner)
}

func TestAuction_Scenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.create(t, "a1", 10)
	assert.True(t, a.Ongoing)
	assert.Equal(t, "seller", a.CurrentBidder)
	assert.False(t, a.HasBid)
	assert.Equal(t, uint64(100), env.units(t, escrow.Address(escrow.KindAuction, "seller", "a1")))

	_, err := env.auctions.Bid(ctx, bidderA, "a1", "bidder-a", 12, wallet("bidder-a"))
	require.NoError(t, err)
	assert.Equal(t, uint64(88), env.cash(t, "bidder-a"))

	_, err = env.auctions.Bid(ctx, bidderB, "a1", "bidder-b", 11, wallet("bidder-b"))
	assert.ErrorIs(t, err, fault.ErrBidTooLow)
	assert.Equal(t, uint64(100), env.cash(t, "bidder-b"))

	a, err = env.auctions.Bid(ctx, bidderB, "a1", "bidder-b", 15, wallet("bidder-b"))
	require.NoError(t, err)
	assert.Equal(t, "bidder-b", a.CurrentBidder)
	assert.Equal(t, uint64(15), a.Price)
	assert.Equal(t, uint64(100), env.cash(t, "bidder-a"), "outbid bidder refunded in full")
	assert.Equal(t, uint64(85), env.cash(t, "bidder-b"))
	assert.Equal(t, uint64(15), env.cash(t, escrow.Address(escrow.KindAuction, "seller", "a1")))

	refunds := env.events.OfType(model.EventBidRefunded)
	require.Len(t, refunds, 1)
	assert.Equal(t, uint64(12), refunds[0].Amount)

	a, err = env.auctions.Close(ctx, seller, "a1")
	require.NoError(t, err)
	assert.False(t, a.Ongoing)
	require.NotNil(t, a.ClosedAt)
	assert.Equal(t, uint64(15), env.cash(t, "seller"))
	assert.Equal(t, uint64(0), env.cash(t, escrow.Address(escrow.KindAuction, "seller", "a1")))
	assert.Equal(t, uint64(100), env.units(t, "bidder-b"))
	assert.Equal(t, uint64(0), env.units(t, escrow.Address(escrow.KindAuction, "seller", "a1")))

	_, err = env.auctions.Close(ctx, seller, "a1")
	assert.ErrorIs(t, err, fault.ErrAuctionClosed)
	assert.ErrorIs(t, err, fault.ErrNotOngoing)
	assert.Equal(t, uint64(15), env.cash(t, "seller"), "closing twice pays nothing")
}

func TestAuction_SequentialBidsAccepted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.create(t, "a1", 0)

	bidders := []struct {
		caller auth.Authorizer
		name   string
	}{{bidderA, "bidder-a"}, {bidderB, "bidder-b"}}
	for i, price := range []uint64{1, 2, 5, 9, 20, 21} {
		who := bidders[i%2]
		a, err := env.auctions.Bid(ctx, who.caller, "a1", who.name, price, wallet(who.name))
		require.NoError(t, err, "bid %d", price)
		assert.Equal(t, price, a.Price)
	}
	// bidder-b holds the 21 bid; bidder-a was refunded everything.
	assert.Equal(t, uint64(100), env.cash(t, "bidder-a"))
	assert.Equal(t, uint64(79), env.cash(t, "bidder-b"))
}

func TestAuction_FirstBidMustExceedReserve(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "a1", 10)

	_, err := env.auctions.Bid(context.Background(), bidderA, "a1", "bidder-a", 10, wallet("bidder-a"))
	assert.ErrorIs(t, err, fault.ErrBidTooLow)
	assert.Equal(t, uint64(100), env.cash(t, "bidder-a"))
}

func TestAuction_BidRejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.create(t, "a1", 10)
	_, err := env.currency.CreateMint(ctx, treasury, currency.MintParams{ID: "eur", Authority: "treasury"})
	require.NoError(t, err)
	_, err = env.currency.Issue(ctx, treasury, "eur", "bidder-a", 100)
	require.NoError(t, err)

	tests := []struct {
		name   string
		id     string
		caller auth.Authorizer
		bidder string
		price  uint64
		source string
		want   error
	}{
		{"seller bids", "a1", seller, "seller", 20, wallet("seller"), fault.ErrSellerBid},
		{"not signed by bidder", "a1", bidderB, "bidder-a", 20, wallet("bidder-a"), fault.ErrUnauthorized},
		{"other currency", "a1", bidderA, "bidder-a", 20, model.CurrencyAccountAddress("eur", "bidder-a"), fault.ErrCurrencyMismatch},
		{"over funds", "a1", bidderA, "bidder-a", 101, wallet("bidder-a"), fault.ErrInsufficientFunds},
		{"someone else's wallet", "a1", bidderA, "bidder-a", 20, wallet("bidder-b"), fault.ErrUnauthorized},
		{"missing auction", "missing", bidderA, "bidder-a", 20, wallet("bidder-a"), fault.ErrListingNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.auctions.Bid(ctx, tt.caller, tt.id, tt.bidder, tt.price, tt.source)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	a, err := env.auctions.Get(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, a.HasBid)
	assert.Equal(t, uint64(10), a.Price)
}

func TestAuction_BidAfterCloseFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.create(t, "a1", 10)
	_, err := env.auctions.Close(ctx, seller, "a1")
	require.NoError(t, err)

	_, err = env.auctions.Bid(ctx, bidderA, "a1", "bidder-a", 50, wallet("bidder-a"))
	assert.ErrorIs(t, err, fault.ErrAuctionClosed)
	assert.Equal(t, uint64(100), env.cash(t, "bidder-a"))
}

func TestAuction_CloseWithoutBidReturnsAsset(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.create(t, "a1", 10)
	assert.Equal(t, uint64(0), env.units(t, "seller"))

	_, err := env.auctions.Close(ctx, bidderA, "a1")
	assert.ErrorIs(t, err, fault.ErrUnauthorized)

	a, err := env.auctions.Close(ctx, seller, "a1")
	require.NoError(t, err)
	assert.False(t, a.Ongoing)
	assert.Equal(t, uint64(100), env.units(t, "seller"))
	assert.Equal(t, uint64(0), env.cash(t, "seller"))
}

func TestAuction_CreateRejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.create(t, "a1", 10)

	_, err := env.auctions.Create(ctx, seller, Params{ID: "a1", Seller: "seller", Asset: "nft", Mint: "usd"})
	assert.ErrorIs(t, err, fault.ErrDuplicateListing)

	_, err = env.auctions.Create(ctx, bidderA, Params{ID: "a2", Seller: "seller", Asset: "nft", Mint: "usd"})
	assert.ErrorIs(t, err, fault.ErrUnauthorized)

	// Nothing escrowed for a2.
	_, err = env.auctions.Create(ctx, seller, Params{ID: "a2", Seller: "seller", Asset: "nft", Mint: "usd"})
	assert.ErrorIs(t, err, fault.ErrInvalidEscrow)

	// The escrow of a1 cannot back a2.
	_, err = env.auctions.Create(ctx, seller, Params{
		ID: "a2", Seller: "seller", Asset: "nft", Mint: "usd",
		AssetEscrow: EscrowHolding("nft", "seller", "a1"),
	})
	assert.ErrorIs(t, err, fault.ErrInvalidEscrow)

	_, err = env.auctions.Create(ctx, seller, Params{
		ID: "a2", Seller: "seller", Asset: "nft", Mint: "usd",
		Deposit: &Deposit{From: model.HoldingAddress("nft", "seller"), Amount: 1},
	})
	assert.ErrorIs(t, err, fault.ErrInsufficientBalance)
}

func TestAuction_PreEscrowedAsset(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	escrowAddr := escrow.Address(escrow.KindAuction, "seller", "pre")

	// The seller moves units into the escrow holding in a separate call.
	esc, err := env.ledger.CreateHolding(ctx, "nft", escrowAddr)
	require.NoError(t, err)
	_, _, err = env.ledger.Transfer(ctx, seller, model.HoldingAddress("nft", "seller"), esc.Address, 40)
	require.NoError(t, err)

	a, err := env.auctions.Create(ctx, seller, Params{
		ID: "pre", Seller: "seller", Asset: "nft", Mint: "usd", Reserve: 5,
		AssetEscrow: esc.Address,
	})
	require.NoError(t, err)
	assert.Equal(t, esc.Address, a.AssetEscrow)
	assert.Equal(t, EscrowHolding("nft", "seller", "pre"), a.AssetEscrow)

	_, err = env.auctions.Bid(ctx, bidderA, "pre", "bidder-a", 6, wallet("bidder-a"))
	require.NoError(t, err)
	_, err = env.auctions.Close(ctx, seller, "pre")
	require.NoError(t, err)
	assert.Equal(t, uint64(40), env.units(t, "bidder-a"))
	assert.Equal(t, uint64(60), env.units(t, "seller"))
}

// failingStore fails every write to one bucket after arm is set.
type failingStore struct {
	store.Store
	bucket store.Bucket
	armed  bool
}

func (s *failingStore) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.Store.Update(ctx, func(tx store.Tx) error {
		if s.armed {
			tx = failingTx{Tx: tx, bucket: s.bucket}
		}
		return fn(tx)
	})
}

type failingTx struct {
	store.Tx
	bucket store.Bucket
}

func (t failingTx) Put(bucket store.Bucket, key string, value []byte) error {
	if bucket == t.bucket {
		return assert.AnError
	}
	return t.Tx.Put(bucket, key, value)
}

func TestAuction_FailedRefundRejectsBid(t *testing.T) {
	st := &failingStore{Store: store.NewMemoryStore(), bucket: store.BucketAuctions}
	run := txn.NewRunner(st, nil)
	led, cur, auc := ledger.NewService(run), currency.NewService(run), NewService(run)
	ctx := context.Background()

	_, err := led.CreateAsset(ctx, issuer, ledger.AssetParams{ID: "nft", Authority: "issuer", Supply: 1})
	require.NoError(t, err)
	_, err = led.Distribute(ctx, issuer, "nft", "seller", 1)
	require.NoError(t, err)
	_, err = cur.CreateMint(ctx, treasury, currency.MintParams{ID: "usd", Authority: "treasury"})
	require.NoError(t, err)
	_, err = cur.Issue(ctx, treasury, "usd", "bidder-a", 50)
	require.NoError(t, err)
	_, err = cur.Issue(ctx, treasury, "usd", "bidder-b", 50)
	require.NoError(t, err)
	_, err = auc.Create(ctx, seller, Params{
		ID: "a1", Seller: "seller", Asset: "nft", Mint: "usd",
		Deposit: &Deposit{From: model.HoldingAddress("nft", "seller"), Amount: 1},
	})
	require.NoError(t, err)
	_, err = auc.Bid(ctx, bidderA, "a1", "bidder-a", 10, wallet("bidder-a"))
	require.NoError(t, err)

	// Refund and deposit run, then saving the auction fails.
	st.armed = true
	_, err = auc.Bid(ctx, bidderB, "a1", "bidder-b", 20, wallet("bidder-b"))
	require.ErrorIs(t, err, assert.AnError)
	st.armed = false

	a, err := auc.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "bidder-a", a.CurrentBidder)
	assert.Equal(t, uint64(10), a.Price)

	for owner, want := range map[string]uint64{
		"bidder-a": 40,
		"bidder-b": 50,
		escrow.Address(escrow.KindAuction, "seller", "a1"): 10,
	} {
		acct, err := cur.Account(ctx, model.CurrencyAccountAddress("usd", owner))
		require.NoError(t, err)
		assert.Equal(t, want, acct.Amount, owner)
	}
}

func TestAuction_PrefundedEscrowBelongsToSeller(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	escrowAddr := escrow.Address(escrow.KindAuction, "seller", "pre")
	esc, err := env.ledger.CreateHolding(ctx, "nft", escrowAddr)
	require.NoError(t, err)
	_, _, err = env.ledger.Transfer(ctx, seller, model.HoldingAddress("nft", "seller"), esc.Address, 100)
	require.NoError(t, err)

	// Another seller reusing the id gets an escrow of their own, which is empty.
	mallory := auth.NewContext("mallory")
	_, err = env.auctions.Create(ctx, mallory, Params{ID: "pre", Seller: "mallory", Asset: "nft", Mint: "usd"})
	assert.ErrorIs(t, err, fault.ErrInvalidEscrow)
	_, err = env.auctions.Create(ctx, mallory, Params{ID: "pre", Seller: "mallory", Asset: "nft", Mint: "usd", AssetEscrow: esc.Address})
	assert.ErrorIs(t, err, fault.ErrInvalidEscrow)

	_, err = env.auctions.Close(ctx, mallory, "pre")
	assert.ErrorIs(t, err, fault.ErrListingNotFound)
	assert.Equal(t, uint64(100), env.units(t, escrowAddr))

	_, err = env.auctions.Reclaim(ctx, mallory, "nft", "seller", "pre")
	assert.ErrorIs(t, err, fault.ErrUnauthorized)
	h, err := env.auctions.Reclaim(ctx, seller, "nft", "seller", "pre")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), h.Balance)
	assert.Equal(t, uint64(0), env.units(t, escrowAddr))
}

func TestAuction_ReclaimBlockedWhileOpen(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.create(t, "a1", 10)

	_, err := env.auctions.Reclaim(ctx, seller, "nft", "seller", "a1")
	assert.ErrorIs(t, err, fault.ErrListingActive)

	_, err = env.auctions.Close(ctx, seller, "a1")
	require.NoError(t, err)
	_, err = env.auctions.Reclaim(ctx, seller, "nft", "seller", "a1")
	assert.ErrorIs(t, err, fault.ErrInvalidEscrow)
	assert.Equal(t, uint64(100), env.units(t, "seller"))
}
