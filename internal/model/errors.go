package model

import (
	errorsmod "cosmossdk.io/errors"
)

// Codespace groups every registered engine error.
const Codespace = "fixedrate"

// validation errors
var (
	ErrInvalidDecimals     = errorsmod.Register(Codespace, 2, "invalid decimals")
	ErrInvalidRate         = errorsmod.Register(Codespace, 3, "invalid rate")
	ErrInvalidFee          = errorsmod.Register(Codespace, 4, "invalid fee")
	ErrInvalidAmount       = errorsmod.Register(Codespace, 5, "invalid amount")
	ErrInvalidAddress      = errorsmod.Register(Codespace, 6, "invalid address")
	ErrExchangeNotFound    = errorsmod.Register(Codespace, 7, "exchange not found")
	ErrExchangeNotActive   = errorsmod.Register(Codespace, 8, "exchange not active")
	ErrExchangeExists      = errorsmod.Register(Codespace, 9, "exchange already exists")
	ErrTokenNotFound       = errorsmod.Register(Codespace, 10, "token not found")
	ErrFeeExceedsAmount    = errorsmod.Register(Codespace, 11, "fees exceed amount")
	ErrNotEnoughBaseTokens = errorsmod.Register(Codespace, 12, "not enough base tokens in exchange custody")
	ErrOverflow            = errorsmod.Register(Codespace, 13, "arithmetic overflow")
)

// authorization errors
var (
	ErrNotExchangeOwner      = errorsmod.Register(Codespace, 20, "invalid exchange owner")
	ErrNotMarketFeeCollector = errorsmod.Register(Codespace, 21, "invalid market fee collector")
	ErrNotAllowedSwapper     = errorsmod.Register(Codespace, 22, "caller is not the allowed swapper")
	ErrNotRegistryOwner      = errorsmod.Register(Codespace, 23, "caller is not the registry owner")
)

// slippage and execution errors
var (
	ErrPriceTooHigh  = errorsmod.Register(Codespace, 30, "Too many base tokens")
	ErrPriceTooLow   = errorsmod.Register(Codespace, 31, "Too few base tokens")
	ErrReentrantCall = errorsmod.Register(Codespace, 32, "reentrant call")
)

// Class buckets an error by the taxonomy callers react to.
type Class int

const (
	ClassUnknown Class = iota
	ClassValidation
	ClassNotFound
	ClassAuthorization
	ClassSlippage
	ClassConflict
)

// Classify returns the class of a registered engine error. Errors that are
// not registered here, such as token transfer failures, are ClassUnknown.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassUnknown
	case errorsmod.IsOf(err, ErrExchangeNotFound, ErrTokenNotFound):
		return ClassNotFound
	case errorsmod.IsOf(err, ErrNotExchangeOwner, ErrNotMarketFeeCollector, ErrNotAllowedSwapper, ErrNotRegistryOwner):
		return ClassAuthorization
	case errorsmod.IsOf(err, ErrPriceTooHigh, ErrPriceTooLow):
		return ClassSlippage
	case errorsmod.IsOf(err, ErrReentrantCall, ErrExchangeExists, ErrNotEnoughBaseTokens):
		return ClassConflict
	case errorsmod.IsOf(err, ErrInvalidDecimals, ErrInvalidRate, ErrInvalidFee, ErrInvalidAmount,
		ErrInvalidAddress, ErrExchangeNotActive, ErrFeeExceedsAmount, ErrOverflow):
		return ClassValidation
	}
	return ClassUnknown
}
