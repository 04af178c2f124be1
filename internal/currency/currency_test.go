package currency

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/escrow-engine/internal/auth"
	"github.com/atmx/escrow-engine/internal/escrow"
	"github.com/atmx/escrow-engine/internal/fault"
	"github.com/atmx/escrow-engine/internal/model"
	"github.com/atmx/escrow-engine/internal/notify"
	"github.com/atmx/escrow-engine/internal/store"
	"github.com/atmx/escrow-engine/internal/txn"
)

var (
	treasury = auth.NewContext("treasury")
	alice    = auth.NewContext("alice")
	bob      = auth.NewContext("bob")
)

func newTestService(t *testing.T) (*Service, *notify.Recorder) {
	t.Helper()
	rec := &notify.Recorder{}
	svc := NewService(txn.NewRunner(store.NewMemoryStore(), rec))
	_, err := svc.CreateMint(context.Background(), treasury, MintParams{ID: "usd", Authority: "treasury", Decimals: 2})
	require.NoError(t, err)
	return svc, rec
}

func TestCreateMint(t *testing.T) {
	svc, rec := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateMint(ctx, treasury, MintParams{ID: "usd", Authority: "treasury"})
	assert.ErrorIs(t, err, fault.ErrDuplicateMint)

	_, err = svc.CreateMint(ctx, alice, MintParams{ID: "eur", Authority: "treasury"})
	assert.ErrorIs(t, err, fault.ErrUnauthorized)

	_, err = svc.CreateMint(ctx, treasury, MintParams{ID: "eur", Authority: "treasury", Decimals: 19})
	assert.ErrorIs(t, err, fault.ErrInvalidAmount)

	m, err := svc.Mint(ctx, "usd")
	require.NoError(t, err)
	assert.Equal(t, int32(2), m.Decimals)
	assert.Len(t, rec.OfType(model.EventMintCreated), 1)
}

func TestIssue(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Issue(ctx, alice, "usd", "alice", 100)
	assert.ErrorIs(t, err, fault.ErrUnauthorized)

	acct, err := svc.Issue(ctx, treasury, "usd", "alice", 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), acct.Amount)
	assert.Equal(t, model.CurrencyAccountAddress("usd", "alice"), acct.Address)

	_, err = svc.Issue(ctx, treasury, "usd", "alice", ^uint64(0))
	assert.ErrorIs(t, err, fault.ErrArithmeticFault)

	m, err := svc.Mint(ctx, "usd")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), m.Supply)

	_, err = svc.Issue(ctx, treasury, "missing", "alice", 1)
	assert.ErrorIs(t, err, fault.ErrMintNotFound)
}

func TestOpenAccount_Idempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Issue(ctx, treasury, "usd", "alice", 10)
	require.NoError(t, err)

	acct, err := svc.OpenAccount(ctx, "usd", "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), acct.Amount)

	_, err = svc.OpenAccount(ctx, "usd", "")
	assert.ErrorIs(t, err, fault.ErrInvalidAddress)
}

func TestTransfer(t *testing.T) {
	svc, rec := newTestService(t)
	ctx := context.Background()
	src, err := svc.Issue(ctx, treasury, "usd", "alice", 100)
	require.NoError(t, err)
	dst, err := svc.OpenAccount(ctx, "usd", "bob")
	require.NoError(t, err)

	_, _, err = svc.Transfer(ctx, bob, src.Address, dst.Address, 10)
	assert.ErrorIs(t, err, fault.ErrUnauthorized)

	_, _, err = svc.Transfer(ctx, alice, src.Address, dst.Address, 101)
	assert.ErrorIs(t, err, fault.ErrInsufficientFunds)

	from, to, err := svc.Transfer(ctx, alice, src.Address, dst.Address, 60)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), from.Amount)
	assert.Equal(t, uint64(60), to.Amount)

	events := rec.OfType(model.EventCurrencyTransfer)
	require.Len(t, events, 1)
	assert.Equal(t, "alice", events[0].FromAuthority)
	assert.Equal(t, "bob", events[0].ToAuthority)
}

func TestTransfer_CurrencyMismatch(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.CreateMint(ctx, treasury, MintParams{ID: "eur", Authority: "treasury"})
	require.NoError(t, err)

	src, err := svc.Issue(ctx, treasury, "usd", "alice", 100)
	require.NoError(t, err)
	dst, err := svc.OpenAccount(ctx, "eur", "bob")
	require.NoError(t, err)

	_, _, err = svc.Transfer(ctx, alice, src.Address, dst.Address, 10)
	assert.ErrorIs(t, err, fault.ErrCurrencyMismatch)

	acct, err := svc.Account(ctx, src.Address)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), acct.Amount)
}

func TestTransfer_EscrowAccountNeedsAuthority(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	escrowAddr, authority := escrow.Derive(escrow.KindAuction, "alice", "a1")

	src, err := svc.Issue(ctx, treasury, "usd", "alice", 50)
	require.NoError(t, err)
	esc, err := svc.OpenAccount(ctx, "usd", escrowAddr)
	require.NoError(t, err)
	_, _, err = svc.Transfer(ctx, alice, src.Address, esc.Address, 50)
	require.NoError(t, err)

	_, _, err = svc.Transfer(ctx, auth.NewContext(escrowAddr), esc.Address, src.Address, 50)
	assert.ErrorIs(t, err, fault.ErrUnauthorized)

	_, _, err = svc.Transfer(ctx, authority, esc.Address, src.Address, 50)
	require.NoError(t, err)
}
