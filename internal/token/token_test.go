package token

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/fixedrate-engine/internal/chain"
	"github.com/atmx/fixedrate-engine/internal/model"
	"github.com/atmx/fixedrate-engine/internal/store"

	errorsmod "cosmossdk.io/errors"
)

var (
	alice = common.HexToAddress("0xa11ce")
	bob   = common.HexToAddress("0xb0b")
	carol = common.HexToAddress("0xca401")
)

func setup(t *testing.T) (*chain.Runtime, *Ledger, *ERC20) {
	t.Helper()
	rt := chain.NewRuntime()
	l := NewLedger(rt)
	tok, err := l.Deploy(context.Background(), DeployParams{
		Symbol:   "DT",
		Decimals: 18,
		Cap:      uint256.NewInt(1000),
		Minters:  []common.Address{carol},
	})
	require.NoError(t, err)
	require.NoError(t, l.Faucet(context.Background(), tok.Address(), alice, uint256.NewInt(100)))
	return rt, l, tok
}

func exec(rt *chain.Runtime, fn func(ctx context.Context) error) error {
	return rt.Execute(context.Background(), func(ctx context.Context, _ *chain.Tx) error {
		return fn(ctx)
	})
}

func TestDeploy_DeterministicAddresses(t *testing.T) {
	a := NewLedger(chain.NewRuntime())
	b := NewLedger(chain.NewRuntime())

	ta, err := a.Deploy(context.Background(), DeployParams{Symbol: "OCEAN", Decimals: 18})
	require.NoError(t, err)
	tb, err := b.Deploy(context.Background(), DeployParams{Symbol: "OCEAN", Decimals: 18})
	require.NoError(t, err)
	assert.Equal(t, ta.Address(), tb.Address())

	again, err := a.Deploy(context.Background(), DeployParams{Symbol: "OCEAN", Decimals: 18})
	require.NoError(t, err)
	assert.NotEqual(t, ta.Address(), again.Address(), "nonce must advance")
	assert.Len(t, a.List(), 2)
}

func TestDeploy_RejectsBadDecimals(t *testing.T) {
	l := NewLedger(chain.NewRuntime())
	_, err := l.Deploy(context.Background(), DeployParams{Symbol: "X", Decimals: 19})
	assert.Error(t, err)
	assert.Empty(t, l.List())
}

func TestResolver_UnknownToken(t *testing.T) {
	l := NewLedger(chain.NewRuntime())
	_, err := l.Token(common.HexToAddress("0xdead"))
	assert.True(t, errorsmod.IsOf(err, model.ErrTokenNotFound))
}

func TestTransfer(t *testing.T) {
	rt, _, tok := setup(t)
	ctx := context.Background()

	require.NoError(t, exec(rt, func(ctx context.Context) error {
		return tok.Transfer(ctx, alice, bob, uint256.NewInt(40))
	}))
	assert.Equal(t, uint64(60), tok.BalanceOf(ctx, alice).Uint64())
	assert.Equal(t, uint64(40), tok.BalanceOf(ctx, bob).Uint64())

	err := exec(rt, func(ctx context.Context) error {
		return tok.Transfer(ctx, bob, alice, uint256.NewInt(41))
	})
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, "ERC20: transfer amount exceeds balance", err.Error())

	err = exec(rt, func(ctx context.Context) error {
		return tok.Transfer(ctx, bob, common.Address{}, uint256.NewInt(1))
	})
	assert.ErrorIs(t, err, ErrZeroAddress)
}

func TestTransfer_OutsideTransaction(t *testing.T) {
	_, _, tok := setup(t)
	err := tok.Transfer(context.Background(), alice, bob, uint256.NewInt(1))
	assert.ErrorIs(t, err, chain.ErrNoTransaction)
}

func TestTransferFrom_ConsumesAllowance(t *testing.T) {
	rt, _, tok := setup(t)
	ctx := context.Background()

	require.NoError(t, exec(rt, func(ctx context.Context) error {
		return tok.Approve(ctx, alice, bob, uint256.NewInt(30))
	}))

	err := exec(rt, func(ctx context.Context) error {
		return tok.TransferFrom(ctx, bob, alice, carol, uint256.NewInt(31))
	})
	assert.ErrorIs(t, err, ErrInsufficientAllowance)

	require.NoError(t, exec(rt, func(ctx context.Context) error {
		return tok.TransferFrom(ctx, bob, alice, carol, uint256.NewInt(30))
	}))
	assert.True(t, tok.Allowance(ctx, alice, bob).IsZero())
	assert.Equal(t, uint64(30), tok.BalanceOf(ctx, carol).Uint64())
}

func TestTransferFrom_LogsRemainingAllowance(t *testing.T) {
	rt, _, tok := setup(t)
	require.NoError(t, exec(rt, func(ctx context.Context) error {
		return tok.Approve(ctx, alice, bob, uint256.NewInt(30))
	}))

	var logs []chain.Log
	rt.AddListener(func(l []chain.Log) { logs = append(logs, l...) })
	require.NoError(t, exec(rt, func(ctx context.Context) error {
		return tok.TransferFrom(ctx, bob, alice, carol, uint256.NewInt(12))
	}))

	require.Len(t, logs, 2)
	al, ok := logs[0].Data.(ApprovalLog)
	require.True(t, ok, "first log is %T", logs[0].Data)
	assert.Equal(t, alice, al.Owner)
	assert.Equal(t, bob, al.Spender)
	assert.Equal(t, uint64(18), al.Amount.Uint64())
	assert.Equal(t, TopicTransfer, logs[1].Topic)
}

func TestTransferFrom_BalanceCheckedBeforeAllowanceSpent(t *testing.T) {
	rt, _, tok := setup(t)
	ctx := context.Background()

	require.NoError(t, exec(rt, func(ctx context.Context) error {
		return tok.Approve(ctx, alice, bob, uint256.NewInt(500))
	}))
	err := exec(rt, func(ctx context.Context) error {
		return tok.TransferFrom(ctx, bob, alice, carol, uint256.NewInt(200))
	})
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, uint64(500), tok.Allowance(ctx, alice, bob).Uint64())
}

func TestMint(t *testing.T) {
	rt, _, tok := setup(t)
	ctx := context.Background()

	err := exec(rt, func(ctx context.Context) error {
		return tok.Mint(ctx, bob, bob, uint256.NewInt(1))
	})
	assert.ErrorIs(t, err, ErrNotMinter)

	require.NoError(t, exec(rt, func(ctx context.Context) error {
		return tok.Mint(ctx, carol, bob, uint256.NewInt(900))
	}))
	assert.Equal(t, uint64(1000), tok.TotalSupply(ctx).Uint64())

	err = exec(rt, func(ctx context.Context) error {
		return tok.Mint(ctx, carol, bob, uint256.NewInt(1))
	})
	assert.ErrorIs(t, err, ErrCapExceeded)
}

func TestHook_ErrorRevertsMovement(t *testing.T) {
	rt, _, tok := setup(t)
	ctx := context.Background()
	errRejected := errors.New("rejected")

	var seen []TransferLog
	tok.SetHook(func(ctx context.Context, l TransferLog) error {
		seen = append(seen, l)
		if l.To == bob {
			return errRejected
		}
		return nil
	})

	err := exec(rt, func(ctx context.Context) error {
		return tok.Transfer(ctx, alice, bob, uint256.NewInt(10))
	})
	assert.ErrorIs(t, err, errRejected)
	assert.Equal(t, uint64(100), tok.BalanceOf(ctx, alice).Uint64())
	assert.True(t, tok.BalanceOf(ctx, bob).IsZero())

	require.NoError(t, exec(rt, func(ctx context.Context) error {
		return tok.Transfer(ctx, alice, carol, uint256.NewInt(10))
	}))
	assert.Len(t, seen, 2)
}

func TestRevert_RestoresAllState(t *testing.T) {
	rt, _, tok := setup(t)
	ctx := context.Background()
	errLater := errors.New("later failure")

	err := exec(rt, func(ctx context.Context) error {
		if err := tok.Approve(ctx, alice, bob, uint256.NewInt(5)); err != nil {
			return err
		}
		if err := tok.Mint(ctx, carol, bob, uint256.NewInt(5)); err != nil {
			return err
		}
		if err := tok.SetMinter(ctx, bob, true); err != nil {
			return err
		}
		return errLater
	})
	assert.ErrorIs(t, err, errLater)
	assert.True(t, tok.Allowance(ctx, alice, bob).IsZero())
	assert.True(t, tok.BalanceOf(ctx, bob).IsZero())
	assert.Equal(t, uint64(100), tok.TotalSupply(ctx).Uint64())
	assert.False(t, tok.IsMinter(ctx, bob))
}

func TestLogs_EmittedOnCommit(t *testing.T) {
	rt, _, tok := setup(t)

	var logs []chain.Log
	rt.AddListener(func(l []chain.Log) { logs = append(logs, l...) })

	require.NoError(t, exec(rt, func(ctx context.Context) error {
		if err := tok.Approve(ctx, alice, bob, uint256.NewInt(1)); err != nil {
			return err
		}
		return tok.Transfer(ctx, alice, bob, uint256.NewInt(1))
	}))
	require.Len(t, logs, 2)
	assert.Equal(t, TopicApproval, logs[0].Topic)
	assert.Equal(t, TopicTransfer, logs[1].Topic)
	tl := logs[1].Data.(TransferLog)
	assert.Equal(t, alice, tl.From)
	assert.Equal(t, bob, tl.To)
}

func TestCollectRestore_RoundTrip(t *testing.T) {
	rt := chain.NewRuntime()
	l := NewLedger(rt)
	ms := store.NewMemoryStore()
	ctx := context.Background()

	// Genesis tokens deploy before persistence starts, as the server does.
	dt, err := l.Deploy(ctx, DeployParams{Symbol: "DT", Decimals: 18, Cap: uint256.NewInt(1000)})
	require.NoError(t, err)
	store.Persist(rt, ms, l)

	require.NoError(t, l.Faucet(ctx, dt.Address(), alice, uint256.NewInt(100)))
	require.NoError(t, exec(rt, func(ctx context.Context) error {
		if err := dt.SetMinter(ctx, carol, true); err != nil {
			return err
		}
		if err := dt.Mint(ctx, carol, bob, uint256.NewInt(5)); err != nil {
			return err
		}
		if err := dt.Approve(ctx, alice, bob, uint256.NewInt(40)); err != nil {
			return err
		}
		return dt.TransferFrom(ctx, bob, alice, carol, uint256.NewInt(15))
	}))
	late, err := l.Deploy(ctx, DeployParams{Symbol: "LATE", Decimals: 6})
	require.NoError(t, err)
	require.NoError(t, l.Faucet(ctx, late.Address(), bob, uint256.NewInt(7)))

	// A fresh ledger with only the genesis token picks up everything else.
	restored := NewLedger(chain.NewRuntime())
	_, err = restored.Deploy(ctx, DeployParams{Symbol: "DT", Decimals: 18, Cap: uint256.NewInt(1000)})
	require.NoError(t, err)
	require.NoError(t, restored.Restore(ctx, ms))

	rdt, err := restored.ERC20(dt.Address())
	require.NoError(t, err)
	assert.Equal(t, uint64(105), rdt.TotalSupply(ctx).Uint64())
	assert.Equal(t, uint64(85), rdt.BalanceOf(ctx, alice).Uint64())
	assert.Equal(t, uint64(5), rdt.BalanceOf(ctx, bob).Uint64())
	assert.Equal(t, uint64(15), rdt.BalanceOf(ctx, carol).Uint64())
	assert.Equal(t, uint64(25), rdt.Allowance(ctx, alice, bob).Uint64())
	assert.True(t, rdt.IsMinter(ctx, carol))

	rlate, err := restored.ERC20(late.Address())
	require.NoError(t, err)
	assert.Equal(t, "LATE", rlate.Symbol())
	assert.Equal(t, uint8(6), rlate.Decimals())
	assert.Equal(t, uint64(7), rlate.BalanceOf(ctx, bob).Uint64())

	next, err := restored.Deploy(ctx, DeployParams{Symbol: "NEXT", Decimals: 18})
	require.NoError(t, err)
	assert.NotEqual(t, late.Address(), next.Address())
	assert.Len(t, restored.List(), 3)
}

func TestRestore_UnknownTokenBalance(t *testing.T) {
	ms := store.NewMemoryStore()
	require.NoError(t, ms.Apply(context.Background(), store.Batch{
		Balances: []store.BalanceRecord{{Token: common.HexToAddress("0xdead"), Holder: alice, Amount: uint256.NewInt(1)}},
	}))
	err := NewLedger(chain.NewRuntime()).Restore(context.Background(), ms)
	assert.True(t, errorsmod.IsOf(err, model.ErrTokenNotFound))
}
