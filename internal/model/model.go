// Package model defines the core domain types shared across the exchange engine.
// All token amounts, rates and fee fractions use holiman/uint256; never float64.
// Rates and fee fractions are 18-decimal fixed point (1e18 == 1.0).
package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Exchange is the persisted state of one fixed-rate listing between a data
// token (DT) and a base token (BT). A zero FixedRate marks a dispenser.
//
// Supply is never stored here; it is derived from live token state.
type Exchange struct {
	ID         common.Hash    `json:"id"`
	Nonce      uint64         `json:"nonce"`
	DataToken  common.Address `json:"data_token"`
	BaseToken  common.Address `json:"base_token"`
	DTDecimals uint8          `json:"dt_decimals"`
	BTDecimals uint8          `json:"bt_decimals"`
	FixedRate  *uint256.Int   `json:"fixed_rate"`
	Owner      common.Address `json:"owner"`
	Active     bool           `json:"active"`
	WithMint   bool           `json:"with_mint"`

	// AllowedSwapper restricts swaps to one address; zero means anyone.
	AllowedSwapper common.Address `json:"allowed_swapper"`

	// Custody held by the exchange itself.
	DTBalance *uint256.Int `json:"dt_balance"`
	BTBalance *uint256.Int `json:"bt_balance"`

	MarketFee          *uint256.Int   `json:"market_fee"`
	MarketFeeCollector common.Address `json:"market_fee_collector"`
	MarketFeeAvailable *uint256.Int   `json:"market_fee_available"`
	OceanFeeAvailable  *uint256.Int   `json:"ocean_fee_available"`

	CreatedAt time.Time `json:"created_at"`
}

// IsDispenser reports whether the exchange distributes DT for free.
func (e *Exchange) IsDispenser() bool {
	return e.FixedRate == nil || e.FixedRate.IsZero()
}

// Clone returns a deep copy, so callers never share amount pointers.
func (e *Exchange) Clone() *Exchange {
	c := *e
	c.FixedRate = clone(e.FixedRate)
	c.DTBalance = clone(e.DTBalance)
	c.BTBalance = clone(e.BTBalance)
	c.MarketFee = clone(e.MarketFee)
	c.MarketFeeAvailable = clone(e.MarketFeeAvailable)
	c.OceanFeeAvailable = clone(e.OceanFeeAvailable)
	return &c
}

// ExchangeView is the getExchange projection: the stored record plus the
// supply figures computed at query time.
type ExchangeView struct {
	Exchange
	DTSupply *uint256.Int `json:"dt_supply"`
	BTSupply *uint256.Int `json:"bt_supply"`
}

// FeesInfo is the getFeesInfo projection.
type FeesInfo struct {
	MarketFee          *uint256.Int   `json:"market_fee"`
	MarketFeeCollector common.Address `json:"market_fee_collector"`
	OPCFee             *uint256.Int   `json:"opc_fee"`
	MarketFeeAvailable *uint256.Int   `json:"market_fee_available"`
	OceanFeeAvailable  *uint256.Int   `json:"ocean_fee_available"`
}

// Direction of a swap, seen from the trader.
type Direction string

const (
	Buy  Direction = "buy"
	Sell Direction = "sell"
)

// FeeBreakdown splits a principal base-token amount into its fee streams.
// Every fee is a fraction of Principal; Net = Principal - all fees.
type FeeBreakdown struct {
	Principal        *uint256.Int `json:"principal"`
	MarketFee        *uint256.Int `json:"market_fee"`
	OceanFee         *uint256.Int `json:"ocean_fee"`
	ConsumeMarketFee *uint256.Int `json:"consume_market_fee"`
	Net              *uint256.Int `json:"net"`
}

// Total returns the sum of the three fees.
func (f FeeBreakdown) Total() *uint256.Int {
	t := new(uint256.Int).Add(f.MarketFee, f.OceanFee)
	return t.Add(t, f.ConsumeMarketFee)
}

// Quote is the outcome of pricing a swap. DTAmount is in DT base units,
// every other amount is in BT base units.
//
// For a buy the trader pays BaseAmount = Principal + fees.
// For a sell the trader receives BaseAmount = Principal - fees.
type Quote struct {
	Direction  Direction    `json:"direction"`
	DTAmount   *uint256.Int `json:"dt_amount"`
	BaseAmount *uint256.Int `json:"base_amount"`
	FeeBreakdown
}

// Swap is the settled result returned from buyDT/sellDT.
type Swap struct {
	Quote
	ExchangeID    common.Hash    `json:"exchange_id"`
	Trader        common.Address `json:"trader"`
	ConsumeMarket common.Address `json:"consume_market"`
	EventID       string         `json:"event_id"`
}

func clone(v *uint256.Int) *uint256.Int {
	if v == nil {
		return nil
	}
	return v.Clone()
}
