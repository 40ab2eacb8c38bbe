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

// GetRate returns the current rate of an exchange, 18-decimal.
func (e *Engine) GetRate(ctx context.Context, id common.Hash) (*uint256.Int, error) {
	var rate *uint256.Int
	err := e.rt.View(ctx, func(context.Context) error {
		ex, err := e.lookup(id)
		if err != nil {
			return err
		}
		rate = ex.FixedRate.Clone()
		return nil
	})
	return rate, err
}

// SetRate changes the rate of a priced exchange. The new rate applies to
// every later swap. Dispensers keep rate zero for life.
func (e *Engine) SetRate(ctx context.Context, caller common.Address, id common.Hash, rate *uint256.Int) (*model.Event, error) {
	if rate == nil || rate.IsZero() {
		return nil, errorsmod.Wrap(model.ErrInvalidRate, "rate must be positive")
	}
	var ev *model.Event
	err := e.rt.Execute(ctx, func(ctx context.Context, tx *chain.Tx) error {
		ex, err := e.lookup(id)
		if err != nil {
			return err
		}
		if caller != ex.Owner {
			return errorsmod.Wrapf(model.ErrNotExchangeOwner, "caller %s", caller.Hex())
		}
		if ex.IsDispenser() {
			return errorsmod.Wrap(model.ErrInvalidRate, "dispenser rate is fixed at zero")
		}
		e.mutate(tx, ex, func(ex *model.Exchange) { ex.FixedRate = rate.Clone() })
		ev = e.emit(tx, ex, caller, &model.Event{
			Type: model.EventRateChanged,
			Rate: rate.Clone(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// principal prices dtAmount of the exchange's data token in base token
// units: normalize DT to 18 decimals, apply the rate, and scale down to the
// base token's decimals. Each step truncates.
func principal(ex *model.Exchange, dtAmount *uint256.Int) (*uint256.Int, error) {
	if ex.IsDispenser() {
		return new(uint256.Int), nil
	}
	dt18, err := fixedpoint.ToFixed(dtAmount, ex.DTDecimals)
	if err != nil {
		return nil, err
	}
	bt18, err := fixedpoint.MulFrac(dt18, ex.FixedRate)
	if err != nil {
		return nil, err
	}
	return fixedpoint.FromFixed(bt18, ex.BTDecimals)
}
