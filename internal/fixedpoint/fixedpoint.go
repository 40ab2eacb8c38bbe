// Package fixedpoint converts token amounts between decimal precisions and
// applies 18-decimal fixed-point fractions.
//
// Every conversion is exact when scaling up and truncates toward zero when
// scaling down, so no conversion can produce more value than it was given.
package fixedpoint

import (
	errorsmod "cosmossdk.io/errors"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/atmx/fixedrate-engine/internal/model"
)

// Precision is the internal fixed-point precision.
const Precision = 18

// pow10[i] == 10^i for i in [0, Precision].
var pow10 [Precision + 1]*uint256.Int

func init() {
	pow10[0] = uint256.NewInt(1)
	ten := uint256.NewInt(10)
	for i := 1; i <= Precision; i++ {
		pow10[i] = new(uint256.Int).Mul(pow10[i-1], ten)
	}
}

// One returns 1.0 in fixed point (1e18).
func One() *uint256.Int {
	return pow10[Precision].Clone()
}

// Pow10 returns 10^decimals for decimals in [0, Precision].
func Pow10(decimals uint8) (*uint256.Int, error) {
	if err := ValidateDecimals(decimals); err != nil {
		return nil, err
	}
	return pow10[decimals].Clone(), nil
}

// ValidateDecimals rejects precisions outside [0, Precision].
func ValidateDecimals(decimals uint8) error {
	if decimals > Precision {
		return errorsmod.Wrapf(model.ErrInvalidDecimals, "%d is outside [0,%d]", decimals, Precision)
	}
	return nil
}

// ToFixed scales an amount expressed with sourceDecimals to 18 decimals.
func ToFixed(amount *uint256.Int, sourceDecimals uint8) (*uint256.Int, error) {
	if err := ValidateDecimals(sourceDecimals); err != nil {
		return nil, err
	}
	out, overflow := new(uint256.Int).MulOverflow(amount, pow10[Precision-sourceDecimals])
	if overflow {
		return nil, errorsmod.Wrapf(model.ErrOverflow, "scaling %s from %d decimals", amount.Dec(), sourceDecimals)
	}
	return out, nil
}

// FromFixed scales an 18-decimal amount to targetDecimals, truncating any
// remainder below the target's smallest unit.
func FromFixed(amount18 *uint256.Int, targetDecimals uint8) (*uint256.Int, error) {
	if err := ValidateDecimals(targetDecimals); err != nil {
		return nil, err
	}
	return new(uint256.Int).Div(amount18, pow10[Precision-targetDecimals]), nil
}

// Convert moves an amount from one precision to another through the
// internal precision.
func Convert(amount *uint256.Int, from, to uint8) (*uint256.Int, error) {
	fixed, err := ToFixed(amount, from)
	if err != nil {
		return nil, err
	}
	return FromFixed(fixed, to)
}

// MulFrac returns amount * frac18 / 1e18, truncated. The intermediate
// product is computed at 512 bits, so only a result above 2^256 overflows.
func MulFrac(amount, frac18 *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).MulDivOverflow(amount, frac18, pow10[Precision])
	if overflow {
		return nil, errorsmod.Wrapf(model.ErrOverflow, "%s * %s / 1e18", amount.Dec(), frac18.Dec())
	}
	return out, nil
}

// --- Human units ---

// Parse reads a human decimal string ("12.5") into base units of a token
// with the given decimals. Digits beyond the token precision are rejected.
func Parse(s string, decimals uint8) (*uint256.Int, error) {
	if err := ValidateDecimals(decimals); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, errorsmod.Wrapf(model.ErrInvalidAmount, "%q: %v", s, err)
	}
	if d.IsNegative() {
		return nil, errorsmod.Wrapf(model.ErrInvalidAmount, "%q is negative", s)
	}
	shifted := d.Shift(int32(decimals))
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, errorsmod.Wrapf(model.ErrInvalidAmount, "%q has more than %d decimals", s, decimals)
	}
	out, overflow := uint256.FromBig(shifted.BigInt())
	if overflow {
		return nil, errorsmod.Wrapf(model.ErrOverflow, "%q", s)
	}
	return out, nil
}

// ParseFraction reads a human fraction ("0.001") into 18-decimal fixed point.
func ParseFraction(s string) (*uint256.Int, error) {
	return Parse(s, Precision)
}

// Format renders base units of a token with the given decimals as a human
// decimal string.
func Format(amount *uint256.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount.ToBig(), -int32(decimals)).String()
}
