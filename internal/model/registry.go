package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// RegistryChangeType names a protocol fee configuration change.
type RegistryChangeType string

const (
	RegistryFeeUpdated       RegistryChangeType = "opc_fee_updated"
	RegistryCollectorUpdated RegistryChangeType = "opc_collector_updated"
	RegistryExemptionAdded   RegistryChangeType = "fee_exemption_added"
	RegistryExemptionRemoved RegistryChangeType = "fee_exemption_removed"
)

// RegistryChange records one committed change to the protocol fee
// configuration. Read in Seq order together with exchange events, it tells
// which protocol fee applied to every swap.
type RegistryChange struct {
	ID        string             `json:"id"`
	Seq       uint64             `json:"seq"`
	Type      RegistryChangeType `json:"type"`
	Caller    common.Address     `json:"caller"`
	Fee       *uint256.Int       `json:"fee,omitempty"`
	Collector common.Address     `json:"collector,omitempty"`
	Token     common.Address     `json:"token,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}
