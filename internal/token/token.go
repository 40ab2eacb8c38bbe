// Package token defines the fungible-token collaborator the exchange trades
// against, and an in-memory ERC20 ledger implementing it on top of the
// chain runtime.
//
// Transfer failures are reported with the ERC20 revert strings unchanged;
// the exchange surfaces them to its callers verbatim.
package token

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Verbatim ERC20 revert reasons.
var (
	ErrInsufficientBalance   = errors.New("ERC20: transfer amount exceeds balance")
	ErrInsufficientAllowance = errors.New("ERC20: transfer amount exceeds allowance")
	ErrZeroAddress           = errors.New("ERC20: transfer to the zero address")
	ErrCapExceeded           = errors.New("ERC20: cap exceeded")
	ErrNotMinter             = errors.New("ERC20: caller is not a minter")
)

// Token is the interface the exchange needs from a token contract. The
// caller of every mutation is passed explicitly; mutations must run inside
// a chain transaction carried by ctx.
type Token interface {
	Address() common.Address
	Symbol() string
	Decimals() uint8

	BalanceOf(ctx context.Context, owner common.Address) *uint256.Int
	Allowance(ctx context.Context, owner, spender common.Address) *uint256.Int
	TotalSupply(ctx context.Context) *uint256.Int

	// Cap returns the maximum total supply, zero when uncapped.
	Cap(ctx context.Context) *uint256.Int
	IsMinter(ctx context.Context, account common.Address) bool

	Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount *uint256.Int) error
	Approve(ctx context.Context, owner, spender common.Address, amount *uint256.Int) error
	Mint(ctx context.Context, minter, to common.Address, amount *uint256.Int) error
}

// Resolver looks tokens up by address.
type Resolver interface {
	Token(addr common.Address) (Token, error)
}

// TransferLog is emitted for every balance movement. Mints have a zero From.
type TransferLog struct {
	Token  common.Address `json:"token"`
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Amount *uint256.Int   `json:"amount"`
}

// ApprovalLog is emitted when an allowance is set.
type ApprovalLog struct {
	Token   common.Address `json:"token"`
	Owner   common.Address `json:"owner"`
	Spender common.Address `json:"spender"`
	Amount  *uint256.Int   `json:"amount"`
}

// DeployLog is emitted when a token is deployed.
type DeployLog struct {
	Token  common.Address `json:"token"`
	Symbol string         `json:"symbol"`
}

// MinterLog is emitted when the minter role is granted or revoked.
type MinterLog struct {
	Token   common.Address `json:"token"`
	Account common.Address `json:"account"`
	Allowed bool           `json:"allowed"`
}

// Log topics.
const (
	TopicTransfer = "Transfer"
	TopicApproval = "Approval"
	TopicDeploy   = "Deploy"
	TopicMinter   = "Minter"
)

// Hook is invoked after a balance movement has been applied, inside the same
// transaction. A non-nil error reverts the movement. Hooks model recipient
// contracts that execute code on receipt and may call back into the caller.
type Hook func(ctx context.Context, t TransferLog) error
