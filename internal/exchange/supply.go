package exchange

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	errorsmod "cosmossdk.io/errors"

	"github.com/atmx/fixedrate-engine/internal/chain"
	"github.com/atmx/fixedrate-engine/internal/model"
	"github.com/atmx/fixedrate-engine/internal/token"
)

// maxUint256 stands in for the supply of an uncapped mintable token.
var maxUint256 = new(uint256.Int).SetAllOne()

// canMint reports whether buys on ex are served by minting.
func (e *Engine) canMint(ctx context.Context, ex *model.Exchange, dt token.Token) bool {
	return ex.WithMint && dt.IsMinter(ctx, e.address)
}

// ownerSupply is the DT still obtainable from outside the exchange's own
// custody: the remaining mintable cap for a minting exchange, otherwise what
// the owner both holds and has approved to the engine.
func (e *Engine) ownerSupply(ctx context.Context, ex *model.Exchange, dt token.Token) *uint256.Int {
	if e.canMint(ctx, ex, dt) {
		limit := dt.Cap(ctx)
		if limit.IsZero() {
			return maxUint256.Clone()
		}
		supply := dt.TotalSupply(ctx)
		if supply.Gt(limit) {
			return new(uint256.Int)
		}
		return limit.Sub(limit, supply)
	}
	balance := dt.BalanceOf(ctx, ex.Owner)
	allowance := dt.Allowance(ctx, ex.Owner, e.address)
	if allowance.Lt(balance) {
		return allowance
	}
	return balance
}

// dtSupply is the total DT a buyer could obtain right now. It is derived
// from live token state on every call and never stored.
func (e *Engine) dtSupply(ctx context.Context, ex *model.Exchange, dt token.Token) *uint256.Int {
	sum, overflow := new(uint256.Int).AddOverflow(ex.DTBalance, e.ownerSupply(ctx, ex, dt))
	if overflow {
		return maxUint256.Clone()
	}
	return sum
}

// GetExchange returns the exchange record with its live supply figures.
func (e *Engine) GetExchange(ctx context.Context, id common.Hash) (*model.ExchangeView, error) {
	var view *model.ExchangeView
	err := e.rt.View(ctx, func(ctx context.Context) error {
		ex, err := e.lookup(id)
		if err != nil {
			return err
		}
		view, err = e.view(ctx, ex)
		return err
	})
	return view, err
}

func (e *Engine) view(ctx context.Context, ex *model.Exchange) (*model.ExchangeView, error) {
	dt, err := e.tokens.Token(ex.DataToken)
	if err != nil {
		return nil, err
	}
	return &model.ExchangeView{
		Exchange: *ex.Clone(),
		DTSupply: e.dtSupply(ctx, ex, dt),
		BTSupply: ex.BTBalance.Clone(),
	}, nil
}

// --- Owner withdrawals ---

// CollectBT pays the exchange's entire base token custody to its owner.
func (e *Engine) CollectBT(ctx context.Context, caller common.Address, id common.Hash) (*model.Event, error) {
	return e.collectCustody(ctx, caller, id, func(ex *model.Exchange) (**uint256.Int, common.Address) {
		return &ex.BTBalance, ex.BaseToken
	})
}

// CollectDT pays the DT deposited by sellers back to the exchange owner.
func (e *Engine) CollectDT(ctx context.Context, caller common.Address, id common.Hash) (*model.Event, error) {
	return e.collectCustody(ctx, caller, id, func(ex *model.Exchange) (**uint256.Int, common.Address) {
		return &ex.DTBalance, ex.DataToken
	})
}

func (e *Engine) collectCustody(ctx context.Context, caller common.Address, id common.Hash,
	pick func(ex *model.Exchange) (**uint256.Int, common.Address)) (*model.Event, error) {
	var ev *model.Event
	err := e.rt.Execute(ctx, func(ctx context.Context, tx *chain.Tx) error {
		release, err := e.guard.enter(id)
		if err != nil {
			return err
		}
		defer release()

		ex, err := e.lookup(id)
		if err != nil {
			return err
		}
		if caller != ex.Owner {
			return errorsmod.Wrapf(model.ErrNotExchangeOwner, "caller %s", caller.Hex())
		}

		var (
			amount *uint256.Int
			addr   common.Address
		)
		e.mutate(tx, ex, func(ex *model.Exchange) {
			slot, tokenAddr := pick(ex)
			amount, addr = *slot, tokenAddr
			*slot = new(uint256.Int)
		})
		tok, err := e.tokens.Token(addr)
		if err != nil {
			return err
		}

		ev = e.emit(tx, ex, caller, &model.Event{
			Type:      model.EventTokenCollected,
			Token:     addr,
			Recipient: ex.Owner,
			Amount:    amount.Clone(),
		})
		if amount.IsZero() {
			return nil
		}
		return tok.Transfer(ctx, e.address, ex.Owner, amount)
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}
