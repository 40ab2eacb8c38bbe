package exchange

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	errorsmod "cosmossdk.io/errors"

	"github.com/atmx/fixedrate-engine/internal/chain"
	"github.com/atmx/fixedrate-engine/internal/fixedpoint"
	"github.com/atmx/fixedrate-engine/internal/model"
)

// FeeRates are the three fee fractions applied to one swap, 18-decimal.
type FeeRates struct {
	Market        *uint256.Int
	Ocean         *uint256.Int
	ConsumeMarket *uint256.Int
}

// ComputeFees splits principal into its fee streams. Each fee is the same
// fraction of principal, never of a reduced amount, and is truncated, so
// Principal == MarketFee + OceanFee + ConsumeMarketFee + Net holds exactly.
func ComputeFees(principal *uint256.Int, rates FeeRates) (model.FeeBreakdown, error) {
	var (
		fb  = model.FeeBreakdown{Principal: principal.Clone()}
		err error
	)
	if fb.MarketFee, err = feeOf(principal, rates.Market); err != nil {
		return model.FeeBreakdown{}, err
	}
	if fb.OceanFee, err = feeOf(principal, rates.Ocean); err != nil {
		return model.FeeBreakdown{}, err
	}
	if fb.ConsumeMarketFee, err = feeOf(principal, rates.ConsumeMarket); err != nil {
		return model.FeeBreakdown{}, err
	}

	total := fb.Total()
	if total.Gt(principal) {
		return model.FeeBreakdown{}, errorsmod.Wrapf(model.ErrFeeExceedsAmount,
			"fees %s exceed principal %s", total, principal)
	}
	fb.Net = new(uint256.Int).Sub(principal, total)
	return fb, nil
}

func feeOf(amount, rate *uint256.Int) (*uint256.Int, error) {
	if rate == nil || rate.IsZero() {
		return new(uint256.Int), nil
	}
	return fixedpoint.MulFrac(amount, rate)
}

// feeRates resolves the rates for a swap on ex. The protocol fee is read
// from the registry on every call; the consume-market fee only applies when
// a consume market is named.
func (e *Engine) feeRates(ctx context.Context, ex *model.Exchange, consumeMarket common.Address, consumeFee *uint256.Int) (FeeRates, error) {
	rates := FeeRates{
		Market:        ex.MarketFee.Clone(),
		Ocean:         e.registry.OPCFee(ctx, ex.BaseToken),
		ConsumeMarket: new(uint256.Int),
	}
	if consumeFee != nil && consumeMarket != (common.Address{}) {
		if err := validateFee(consumeFee, "consume market fee"); err != nil {
			return FeeRates{}, err
		}
		rates.ConsumeMarket = consumeFee.Clone()
	}
	return rates, nil
}

func validateFee(fee *uint256.Int, what string) error {
	if !fee.Lt(fixedpoint.One()) {
		return errorsmod.Wrapf(model.ErrInvalidFee, "%s %s must be below 1e18", what, fee)
	}
	return nil
}

// FeesInfo returns the fee configuration and uncollected balances of an
// exchange. The protocol fee is the registry's current value.
func (e *Engine) FeesInfo(ctx context.Context, id common.Hash) (model.FeesInfo, error) {
	var info model.FeesInfo
	err := e.rt.View(ctx, func(ctx context.Context) error {
		ex, err := e.lookup(id)
		if err != nil {
			return err
		}
		info = model.FeesInfo{
			MarketFee:          ex.MarketFee.Clone(),
			MarketFeeCollector: ex.MarketFeeCollector,
			OPCFee:             e.registry.OPCFee(ctx, ex.BaseToken),
			MarketFeeAvailable: ex.MarketFeeAvailable.Clone(),
			OceanFeeAvailable:  ex.OceanFeeAvailable.Clone(),
		}
		return nil
	})
	return info, err
}

// --- Fee ledger ---

// CollectMarketFee pays the accrued market fee to the current market fee
// collector. Anyone may trigger it.
func (e *Engine) CollectMarketFee(ctx context.Context, caller common.Address, id common.Hash) (*model.Event, error) {
	return e.collectFee(ctx, caller, id, model.EventMarketFeeCollected, func(ex *model.Exchange) (**uint256.Int, common.Address) {
		return &ex.MarketFeeAvailable, ex.MarketFeeCollector
	})
}

// CollectOceanFee pays the accrued protocol fee to the registry's collector,
// looked up at call time.
func (e *Engine) CollectOceanFee(ctx context.Context, caller common.Address, id common.Hash) (*model.Event, error) {
	return e.collectFee(ctx, caller, id, model.EventOceanFeeCollected, func(ex *model.Exchange) (**uint256.Int, common.Address) {
		return &ex.OceanFeeAvailable, e.registry.OPCCollector(ctx)
	})
}

func (e *Engine) collectFee(ctx context.Context, caller common.Address, id common.Hash, typ model.EventType,
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
		bt, err := e.tokens.Token(ex.BaseToken)
		if err != nil {
			return err
		}

		var (
			amount    *uint256.Int
			recipient common.Address
		)
		e.mutate(tx, ex, func(ex *model.Exchange) {
			slot, to := pick(ex)
			amount, recipient = *slot, to
			*slot = new(uint256.Int)
		})
		if recipient == (common.Address{}) && !amount.IsZero() {
			return errorsmod.Wrap(model.ErrInvalidAddress, "fee collector is the zero address")
		}

		ev = e.emit(tx, ex, caller, &model.Event{
			Type:      typ,
			Token:     ex.BaseToken,
			Recipient: recipient,
			Amount:    amount.Clone(),
		})
		if amount.IsZero() {
			return nil
		}
		return bt.Transfer(ctx, e.address, recipient, amount)
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// UpdateMarketFeeCollector hands the market fee collector role to newCollector.
// Only the current collector may do this; the exchange owner may not.
func (e *Engine) UpdateMarketFeeCollector(ctx context.Context, caller common.Address, id common.Hash, newCollector common.Address) (*model.Event, error) {
	if newCollector == (common.Address{}) {
		return nil, errorsmod.Wrap(model.ErrInvalidAddress, "market fee collector is the zero address")
	}
	var ev *model.Event
	err := e.rt.Execute(ctx, func(ctx context.Context, tx *chain.Tx) error {
		ex, err := e.lookup(id)
		if err != nil {
			return err
		}
		if caller != ex.MarketFeeCollector {
			return errorsmod.Wrapf(model.ErrNotMarketFeeCollector, "caller %s", caller.Hex())
		}
		e.mutate(tx, ex, func(ex *model.Exchange) { ex.MarketFeeCollector = newCollector })
		ev = e.emit(tx, ex, caller, &model.Event{
			Type:    model.EventMarketFeeCollectorSet,
			Address: newCollector,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}
