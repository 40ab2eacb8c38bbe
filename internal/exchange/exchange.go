package exchange

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	errorsmod "cosmossdk.io/errors"

	"github.com/atmx/fixedrate-engine/internal/chain"
	"github.com/atmx/fixedrate-engine/internal/fixedpoint"
	"github.com/atmx/fixedrate-engine/internal/model"
)

// CreateParams describes a new exchange. A zero or nil Rate creates a
// dispenser. A zero MarketFeeCollector defaults to the creator.
type CreateParams struct {
	DataToken          common.Address
	BaseToken          common.Address
	DTDecimals         uint8
	BTDecimals         uint8
	Rate               *uint256.Int
	MarketFee          *uint256.Int
	MarketFeeCollector common.Address
	WithMint           bool
	AllowedSwapper     common.Address
}

// GenerateExchangeID derives the id of the exchange created by owner for
// the pair with the given creation nonce.
func GenerateExchangeID(baseToken, dataToken, owner common.Address, nonce uint64) common.Hash {
	return crypto.Keccak256Hash(
		common.LeftPadBytes(baseToken.Bytes(), 32),
		common.LeftPadBytes(dataToken.Bytes(), 32),
		common.LeftPadBytes(owner.Bytes(), 32),
		new(uint256.Int).SetUint64(nonce).PaddedBytes(32),
	)
}

// Create lists a new exchange owned by caller. It starts active, with empty
// custody and fee balances.
func (e *Engine) Create(ctx context.Context, caller common.Address, p CreateParams) (*model.Exchange, error) {
	if err := e.validateCreate(caller, &p); err != nil {
		return nil, err
	}

	var created *model.Exchange
	err := e.rt.Execute(ctx, func(ctx context.Context, tx *chain.Tx) error {
		dt, bt, err := e.tokenPair(&model.Exchange{DataToken: p.DataToken, BaseToken: p.BaseToken})
		if err != nil {
			return err
		}
		if dt.Decimals() != p.DTDecimals || bt.Decimals() != p.BTDecimals {
			return errorsmod.Wrapf(model.ErrInvalidDecimals,
				"declared %d/%d, tokens have %d/%d", p.DTDecimals, p.BTDecimals, dt.Decimals(), bt.Decimals())
		}

		nonce := e.nonce
		id := GenerateExchangeID(p.BaseToken, p.DataToken, caller, nonce)
		if _, exists := e.exchanges[id]; exists {
			return errorsmod.Wrapf(model.ErrExchangeExists, "%s", id.Hex())
		}

		ex := &model.Exchange{
			ID:                 id,
			Nonce:              nonce,
			DataToken:          p.DataToken,
			BaseToken:          p.BaseToken,
			DTDecimals:         p.DTDecimals,
			BTDecimals:         p.BTDecimals,
			FixedRate:          p.Rate.Clone(),
			Owner:              caller,
			Active:             true,
			WithMint:           p.WithMint,
			AllowedSwapper:     p.AllowedSwapper,
			DTBalance:          new(uint256.Int),
			BTBalance:          new(uint256.Int),
			MarketFee:          p.MarketFee.Clone(),
			MarketFeeCollector: p.MarketFeeCollector,
			MarketFeeAvailable: new(uint256.Int),
			OceanFeeAvailable:  new(uint256.Int),
			CreatedAt:          e.now(),
		}

		e.nonce++
		e.exchanges[id] = ex
		e.order = append(e.order, id)
		tx.Journal(func() {
			e.nonce = nonce
			delete(e.exchanges, id)
			e.order = e.order[:len(e.order)-1]
		})

		e.emit(tx, ex, caller, &model.Event{
			Type:      model.EventExchangeCreated,
			DataToken: ex.DataToken,
			BaseToken: ex.BaseToken,
			Rate:      ex.FixedRate.Clone(),
			Address:   ex.MarketFeeCollector,
		})
		created = ex.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (e *Engine) validateCreate(caller common.Address, p *CreateParams) error {
	zero := common.Address{}
	switch {
	case caller == zero:
		return errorsmod.Wrap(model.ErrInvalidAddress, "owner is the zero address")
	case p.DataToken == zero || p.BaseToken == zero:
		return errorsmod.Wrap(model.ErrInvalidAddress, "token is the zero address")
	case p.DataToken == p.BaseToken:
		return errorsmod.Wrap(model.ErrInvalidAddress, "data token and base token must differ")
	}
	if err := fixedpoint.ValidateDecimals(p.DTDecimals); err != nil {
		return err
	}
	if err := fixedpoint.ValidateDecimals(p.BTDecimals); err != nil {
		return err
	}

	if p.Rate == nil {
		p.Rate = new(uint256.Int)
	}
	if p.MarketFee == nil {
		p.MarketFee = new(uint256.Int)
	}
	if err := validateFee(p.MarketFee, "market fee"); err != nil {
		return err
	}
	if p.Rate.IsZero() && !p.MarketFee.IsZero() {
		return errorsmod.Wrap(model.ErrInvalidFee, "a dispenser charges no market fee")
	}
	if p.MarketFeeCollector == zero {
		p.MarketFeeCollector = caller
	}
	return nil
}

// List returns every exchange in creation order.
func (e *Engine) List(ctx context.Context) ([]*model.ExchangeView, error) {
	var out []*model.ExchangeView
	err := e.rt.View(ctx, func(ctx context.Context) error {
		out = make([]*model.ExchangeView, 0, len(e.order))
		for _, id := range e.order {
			v, err := e.view(ctx, e.exchanges[id])
			if err != nil {
				return err
			}
			out = append(out, v)
		}
		return nil
	})
	return out, err
}

// Count returns the number of exchanges ever created.
func (e *Engine) Count(ctx context.Context) int {
	var n int
	_ = e.rt.View(ctx, func(context.Context) error {
		n = len(e.order)
		return nil
	})
	return n
}

// IsActive reports whether an exchange accepts swaps.
func (e *Engine) IsActive(ctx context.Context, id common.Hash) (bool, error) {
	var active bool
	err := e.rt.View(ctx, func(context.Context) error {
		ex, err := e.lookup(id)
		if err != nil {
			return err
		}
		active = ex.Active
		return nil
	})
	return active, err
}

// Toggle flips the active flag. Deactivation is the only way to retire an
// exchange; records are never deleted.
func (e *Engine) Toggle(ctx context.Context, caller common.Address, id common.Hash) (*model.Event, error) {
	return e.ownerUpdate(ctx, caller, id, func(ex *model.Exchange) *model.Event {
		ex.Active = !ex.Active
		if ex.Active {
			return &model.Event{Type: model.EventExchangeActivated}
		}
		return &model.Event{Type: model.EventExchangeDeactivated}
	})
}

// SetAllowedSwapper restricts swaps to one address. The zero address lifts
// the restriction.
func (e *Engine) SetAllowedSwapper(ctx context.Context, caller common.Address, id common.Hash, swapper common.Address) (*model.Event, error) {
	return e.ownerUpdate(ctx, caller, id, func(ex *model.Exchange) *model.Event {
		ex.AllowedSwapper = swapper
		return &model.Event{Type: model.EventAllowedSwapperChanged, Address: swapper}
	})
}

// SetWithMint switches whether buys that custody cannot cover are minted.
// Minting still requires the engine to hold the data token's minter role.
func (e *Engine) SetWithMint(ctx context.Context, caller common.Address, id common.Hash, withMint bool) (*model.Event, error) {
	return e.ownerUpdate(ctx, caller, id, func(ex *model.Exchange) *model.Event {
		ex.WithMint = withMint
		return &model.Event{Type: model.EventMintStateChanged, WithMint: &withMint}
	})
}

func (e *Engine) ownerUpdate(ctx context.Context, caller common.Address, id common.Hash, fn func(ex *model.Exchange) *model.Event) (*model.Event, error) {
	var ev *model.Event
	err := e.rt.Execute(ctx, func(ctx context.Context, tx *chain.Tx) error {
		ex, err := e.lookup(id)
		if err != nil {
			return err
		}
		if caller != ex.Owner {
			return errorsmod.Wrapf(model.ErrNotExchangeOwner, "caller %s", caller.Hex())
		}
		var pending *model.Event
		e.mutate(tx, ex, func(ex *model.Exchange) { pending = fn(ex) })
		ev = e.emit(tx, ex, caller, pending)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}
