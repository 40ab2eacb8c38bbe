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

// SwapParams is the input of BuyDT and SellDT. Limit is the maximum base
// token amount the buyer pays, or the minimum a seller accepts, in base
// token units. Dispensers ignore Limit and the consume-market fields.
type SwapParams struct {
	ExchangeID       common.Hash
	DTAmount         *uint256.Int
	Limit            *uint256.Int
	ConsumeMarket    common.Address
	ConsumeMarketFee *uint256.Int
}

// QuoteBuy prices a buy without executing it.
func (e *Engine) QuoteBuy(ctx context.Context, id common.Hash, dtAmount *uint256.Int, consumeMarket common.Address, consumeFee *uint256.Int) (model.Quote, error) {
	return e.quoteView(ctx, model.Buy, id, dtAmount, consumeMarket, consumeFee)
}

// QuoteSell prices a sell without executing it.
func (e *Engine) QuoteSell(ctx context.Context, id common.Hash, dtAmount *uint256.Int, consumeMarket common.Address, consumeFee *uint256.Int) (model.Quote, error) {
	return e.quoteView(ctx, model.Sell, id, dtAmount, consumeMarket, consumeFee)
}

func (e *Engine) quoteView(ctx context.Context, dir model.Direction, id common.Hash, dtAmount *uint256.Int, consumeMarket common.Address, consumeFee *uint256.Int) (model.Quote, error) {
	var q model.Quote
	err := e.rt.View(ctx, func(ctx context.Context) error {
		ex, err := e.lookup(id)
		if err != nil {
			return err
		}
		q, err = e.quote(ctx, ex, dir, dtAmount, consumeMarket, consumeFee)
		return err
	})
	return q, err
}

// quote prices dtAmount on ex. Buyers pay the principal plus every fee;
// sellers receive the principal minus every fee.
func (e *Engine) quote(ctx context.Context, ex *model.Exchange, dir model.Direction, dtAmount *uint256.Int, consumeMarket common.Address, consumeFee *uint256.Int) (model.Quote, error) {
	if dtAmount == nil || dtAmount.IsZero() {
		return model.Quote{}, errorsmod.Wrap(model.ErrInvalidAmount, "dt amount must be positive")
	}
	q := model.Quote{Direction: dir, DTAmount: dtAmount.Clone()}

	if ex.IsDispenser() {
		zero := new(uint256.Int)
		q.BaseAmount = zero.Clone()
		q.FeeBreakdown = model.FeeBreakdown{
			Principal: zero.Clone(), MarketFee: zero.Clone(), OceanFee: zero.Clone(),
			ConsumeMarketFee: zero.Clone(), Net: zero.Clone(),
		}
		return q, nil
	}

	p, err := principal(ex, dtAmount)
	if err != nil {
		return model.Quote{}, err
	}
	if p.IsZero() {
		return model.Quote{}, errorsmod.Wrapf(model.ErrInvalidAmount, "%s dt is worth less than one base token unit", dtAmount)
	}
	rates, err := e.feeRates(ctx, ex, consumeMarket, consumeFee)
	if err != nil {
		return model.Quote{}, err
	}
	if q.FeeBreakdown, err = ComputeFees(p, rates); err != nil {
		return model.Quote{}, err
	}

	switch dir {
	case model.Buy:
		total, overflow := new(uint256.Int).AddOverflow(p, q.Total())
		if overflow {
			return model.Quote{}, errorsmod.Wrap(model.ErrOverflow, "buy cost")
		}
		q.BaseAmount = total
	case model.Sell:
		q.BaseAmount = q.Net.Clone()
	}
	return q, nil
}

// checkSwap validates that caller may swap on ex right now.
func checkSwap(ex *model.Exchange, caller common.Address) error {
	if !ex.Active {
		return errorsmod.Wrapf(model.ErrExchangeNotActive, "%s", ex.ID.Hex())
	}
	if ex.AllowedSwapper != (common.Address{}) && ex.AllowedSwapper != caller {
		return errorsmod.Wrapf(model.ErrNotAllowedSwapper, "caller %s", caller.Hex())
	}
	return nil
}

func swapEvent(ex *model.Exchange, q model.Quote, consumeMarket common.Address) *model.Event {
	typ := model.EventSwapped
	if ex.IsDispenser() {
		typ = model.EventDispensed
		if q.Direction == model.Sell {
			typ = model.EventDevolved
		}
	}
	return &model.Event{
		Type:             typ,
		Direction:        q.Direction,
		DTAmount:         q.DTAmount.Clone(),
		BaseAmount:       q.BaseAmount.Clone(),
		Principal:        q.Principal.Clone(),
		MarketFee:        q.MarketFee.Clone(),
		OceanFee:         q.OceanFee.Clone(),
		ConsumeMarketFee: q.ConsumeMarketFee.Clone(),
		ConsumeMarket:    consumeMarket,
	}
}

// --- Buy ---

// BuyDT sells DTAmount data tokens to caller.
//
// DT is served from the exchange's own custody first. Whatever custody
// cannot cover is minted, if the exchange mints and the engine holds the
// minter role, or pulled from the owner's approved balance. The caller pays
// the principal and fees to the engine and the consume-market fee directly
// to the consume market.
func (e *Engine) BuyDT(ctx context.Context, caller common.Address, p SwapParams) (*model.Swap, error) {
	var swap *model.Swap
	err := e.rt.Execute(ctx, func(ctx context.Context, tx *chain.Tx) error {
		release, err := e.guard.enter(p.ExchangeID)
		if err != nil {
			return err
		}
		defer release()

		ex, err := e.lookup(p.ExchangeID)
		if err != nil {
			return err
		}
		if err := checkSwap(ex, caller); err != nil {
			return err
		}
		dt, bt, err := e.tokenPair(ex)
		if err != nil {
			return err
		}
		q, err := e.quote(ctx, ex, model.Buy, p.DTAmount, p.ConsumeMarket, p.ConsumeMarketFee)
		if err != nil {
			return err
		}
		if !ex.IsDispenser() && p.Limit != nil && q.BaseAmount.Gt(p.Limit) {
			return errorsmod.Wrapf(model.ErrPriceTooHigh, "cost %s exceeds limit %s", q.BaseAmount, p.Limit)
		}

		fromCustody := new(uint256.Int).Set(q.DTAmount)
		if ex.DTBalance.Lt(fromCustody) {
			fromCustody.Set(ex.DTBalance)
		}
		remainder := new(uint256.Int).Sub(q.DTAmount, fromCustody)
		mint := e.canMint(ctx, ex, dt)

		// All exchange bookkeeping happens before any token call.
		e.mutate(tx, ex, func(ex *model.Exchange) {
			ex.DTBalance.Sub(ex.DTBalance, fromCustody)
			ex.BTBalance.Add(ex.BTBalance, q.Principal)
			ex.MarketFeeAvailable.Add(ex.MarketFeeAvailable, q.MarketFee)
			ex.OceanFeeAvailable.Add(ex.OceanFeeAvailable, q.OceanFee)
		})
		ev := e.emit(tx, ex, caller, swapEvent(ex, q, p.ConsumeMarket))

		if err := e.collectPayment(ctx, bt, caller, p.ConsumeMarket, q); err != nil {
			return err
		}
		if err := e.deliverDT(ctx, ex, dt, caller, fromCustody, remainder, mint); err != nil {
			return err
		}

		swap = &model.Swap{
			Quote:         q,
			ExchangeID:    ex.ID,
			Trader:        caller,
			ConsumeMarket: p.ConsumeMarket,
			EventID:       ev.ID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return swap, nil
}

func (e *Engine) collectPayment(ctx context.Context, bt token.Token, buyer, consumeMarket common.Address, q model.Quote) error {
	retained := new(uint256.Int).Sub(q.BaseAmount, q.ConsumeMarketFee)
	if !retained.IsZero() {
		if err := bt.TransferFrom(ctx, e.address, buyer, e.address, retained); err != nil {
			return err
		}
	}
	if !q.ConsumeMarketFee.IsZero() {
		return bt.TransferFrom(ctx, e.address, buyer, consumeMarket, q.ConsumeMarketFee)
	}
	return nil
}

// deliverDT hands fromCustody DT out of the engine's custody and sources
// the remainder by minting or from the owner.
func (e *Engine) deliverDT(ctx context.Context, ex *model.Exchange, dt token.Token, to common.Address, fromCustody, remainder *uint256.Int, mint bool) error {
	if !fromCustody.IsZero() {
		if err := dt.Transfer(ctx, e.address, to, fromCustody); err != nil {
			return err
		}
	}
	switch {
	case remainder.IsZero():
		return nil
	case mint:
		return dt.Mint(ctx, e.address, to, remainder)
	default:
		return dt.TransferFrom(ctx, e.address, ex.Owner, to, remainder)
	}
}

// --- Sell ---

// SellDT buys DTAmount data tokens back from caller. The DT goes into the
// exchange's custody; the principal is paid out of the base tokens the
// exchange holds, less fees.
func (e *Engine) SellDT(ctx context.Context, caller common.Address, p SwapParams) (*model.Swap, error) {
	var swap *model.Swap
	err := e.rt.Execute(ctx, func(ctx context.Context, tx *chain.Tx) error {
		release, err := e.guard.enter(p.ExchangeID)
		if err != nil {
			return err
		}
		defer release()

		ex, err := e.lookup(p.ExchangeID)
		if err != nil {
			return err
		}
		if err := checkSwap(ex, caller); err != nil {
			return err
		}
		dt, bt, err := e.tokenPair(ex)
		if err != nil {
			return err
		}
		q, err := e.quote(ctx, ex, model.Sell, p.DTAmount, p.ConsumeMarket, p.ConsumeMarketFee)
		if err != nil {
			return err
		}
		if !ex.IsDispenser() && p.Limit != nil && q.BaseAmount.Lt(p.Limit) {
			return errorsmod.Wrapf(model.ErrPriceTooLow, "proceeds %s below limit %s", q.BaseAmount, p.Limit)
		}
		if q.Principal.Gt(ex.BTBalance) {
			return errorsmod.Wrapf(model.ErrNotEnoughBaseTokens, "need %s, hold %s", q.Principal, ex.BTBalance)
		}

		e.mutate(tx, ex, func(ex *model.Exchange) {
			ex.DTBalance.Add(ex.DTBalance, q.DTAmount)
			ex.BTBalance.Sub(ex.BTBalance, q.Principal)
			ex.MarketFeeAvailable.Add(ex.MarketFeeAvailable, q.MarketFee)
			ex.OceanFeeAvailable.Add(ex.OceanFeeAvailable, q.OceanFee)
		})
		ev := e.emit(tx, ex, caller, swapEvent(ex, q, p.ConsumeMarket))

		if err := dt.TransferFrom(ctx, e.address, caller, e.address, q.DTAmount); err != nil {
			return err
		}
		if !q.Net.IsZero() {
			if err := bt.Transfer(ctx, e.address, caller, q.Net); err != nil {
				return err
			}
		}
		if !q.ConsumeMarketFee.IsZero() {
			if err := bt.Transfer(ctx, e.address, p.ConsumeMarket, q.ConsumeMarketFee); err != nil {
				return err
			}
		}

		swap = &model.Swap{
			Quote:         q,
			ExchangeID:    ex.ID,
			Trader:        caller,
			ConsumeMarket: p.ConsumeMarket,
			EventID:       ev.ID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return swap, nil
}
