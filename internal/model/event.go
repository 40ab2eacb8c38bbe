package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// EventType names a committed state change.
type EventType string

const (
	EventExchangeCreated       EventType = "exchange_created"
	EventSwapped               EventType = "swapped"
	EventDispensed             EventType = "dispensed"
	EventDevolved              EventType = "devolved"
	EventRateChanged           EventType = "rate_changed"
	EventExchangeActivated     EventType = "exchange_activated"
	EventExchangeDeactivated   EventType = "exchange_deactivated"
	EventAllowedSwapperChanged EventType = "allowed_swapper_changed"
	EventTokenCollected        EventType = "token_collected"
	EventMarketFeeCollected    EventType = "market_fee_collected"
	EventOceanFeeCollected     EventType = "ocean_fee_collected"
	EventMarketFeeCollectorSet EventType = "market_fee_collector_updated"
	EventMintStateChanged      EventType = "mint_state_changed"
)

// Event is an immutable record of a committed state change. Once created,
// events are never modified or deleted.
//
// Besides the deltas, each event carries the exchange's custody and fee
// balances after the change, so an observer can follow running balances
// from the event stream alone.
type Event struct {
	ID         string         `json:"id"`
	Seq        uint64         `json:"seq"`
	Type       EventType      `json:"type"`
	ExchangeID common.Hash    `json:"exchange_id"`
	Caller     common.Address `json:"caller"`
	Timestamp  time.Time      `json:"timestamp"`

	// Swap fields.
	Direction        Direction      `json:"direction,omitempty"`
	DTAmount         *uint256.Int   `json:"dt_amount,omitempty"`
	BaseAmount       *uint256.Int   `json:"base_amount,omitempty"`
	Principal        *uint256.Int   `json:"principal,omitempty"`
	MarketFee        *uint256.Int   `json:"market_fee,omitempty"`
	OceanFee         *uint256.Int   `json:"ocean_fee,omitempty"`
	ConsumeMarketFee *uint256.Int   `json:"consume_market_fee,omitempty"`
	ConsumeMarket    common.Address `json:"consume_market,omitempty"`

	// Configuration fields.
	DataToken common.Address `json:"data_token,omitempty"`
	BaseToken common.Address `json:"base_token,omitempty"`
	Rate      *uint256.Int   `json:"rate,omitempty"`
	Address   common.Address `json:"address,omitempty"` // new owner-set address (collector, swapper)
	WithMint  *bool          `json:"with_mint,omitempty"`

	// Collection fields.
	Token     common.Address `json:"token,omitempty"`
	Recipient common.Address `json:"recipient,omitempty"`
	Amount    *uint256.Int   `json:"amount,omitempty"`

	// Balances after the change.
	DTBalance          *uint256.Int `json:"dt_balance,omitempty"`
	BTBalance          *uint256.Int `json:"bt_balance,omitempty"`
	MarketFeeAvailable *uint256.Int `json:"market_fee_available,omitempty"`
	OceanFeeAvailable  *uint256.Int `json:"ocean_fee_available,omitempty"`
}

// Involves reports whether addr took part in the event.
func (e *Event) Involves(addr common.Address) bool {
	return e.Caller == addr || e.Recipient == addr || e.ConsumeMarket == addr || e.Address == addr
}
