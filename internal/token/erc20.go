package token

import (
	"context"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/atmx/fixedrate-engine/internal/chain"
	"github.com/atmx/fixedrate-engine/internal/store"
)

type allowanceKey struct {
	owner, spender common.Address
}

// ERC20 is an in-memory fungible token. All state changes are journaled in
// the chain transaction carried by the context.
type ERC20 struct {
	address  common.Address
	nonce    uint64
	symbol   string
	decimals uint8
	cap      *uint256.Int

	totalSupply *uint256.Int
	balances    map[common.Address]*uint256.Int
	allowances  map[allowanceKey]*uint256.Int
	minters     map[common.Address]bool
	hook        Hook
}

func newERC20(addr common.Address, nonce uint64, symbol string, decimals uint8, cap *uint256.Int) *ERC20 {
	if cap == nil {
		cap = new(uint256.Int)
	}
	return &ERC20{
		address:     addr,
		nonce:       nonce,
		symbol:      symbol,
		decimals:    decimals,
		cap:         cap.Clone(),
		totalSupply: new(uint256.Int),
		balances:    make(map[common.Address]*uint256.Int),
		allowances:  make(map[allowanceKey]*uint256.Int),
		minters:     make(map[common.Address]bool),
	}
}

func (t *ERC20) Address() common.Address { return t.address }
func (t *ERC20) Symbol() string          { return t.symbol }
func (t *ERC20) Decimals() uint8         { return t.decimals }

func (t *ERC20) BalanceOf(_ context.Context, owner common.Address) *uint256.Int {
	return get(t.balances, owner)
}

func (t *ERC20) Allowance(_ context.Context, owner, spender common.Address) *uint256.Int {
	return get(t.allowances, allowanceKey{owner, spender})
}

func (t *ERC20) TotalSupply(context.Context) *uint256.Int {
	return t.totalSupply.Clone()
}

func (t *ERC20) Cap(context.Context) *uint256.Int {
	return t.cap.Clone()
}

func (t *ERC20) IsMinter(_ context.Context, account common.Address) bool {
	return t.minters[account]
}

// SetHook installs a hook called after every movement of this token.
// Intended for setup, not concurrent use.
func (t *ERC20) SetHook(h Hook) {
	t.hook = h
}

// --- Mutations ---

func (t *ERC20) Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	tx, err := chain.Writable(ctx)
	if err != nil {
		return err
	}
	return t.move(ctx, tx, from, to, amount)
}

func (t *ERC20) TransferFrom(ctx context.Context, spender, from, to common.Address, amount *uint256.Int) error {
	tx, err := chain.Writable(ctx)
	if err != nil {
		return err
	}
	key := allowanceKey{from, spender}
	allowed := get(t.allowances, key)
	if allowed.Lt(amount) {
		return ErrInsufficientAllowance
	}
	if err := t.checkMove(from, to, amount); err != nil {
		return err
	}
	remaining := new(uint256.Int).Sub(allowed, amount)
	set(tx, t.allowances, key, remaining)
	tx.Emit(TopicApproval, ApprovalLog{Token: t.address, Owner: from, Spender: spender, Amount: remaining.Clone()})
	return t.move(ctx, tx, from, to, amount)
}

func (t *ERC20) Approve(ctx context.Context, owner, spender common.Address, amount *uint256.Int) error {
	tx, err := chain.Writable(ctx)
	if err != nil {
		return err
	}
	set(tx, t.allowances, allowanceKey{owner, spender}, amount.Clone())
	tx.Emit(TopicApproval, ApprovalLog{Token: t.address, Owner: owner, Spender: spender, Amount: amount.Clone()})
	return nil
}

func (t *ERC20) Mint(ctx context.Context, minter, to common.Address, amount *uint256.Int) error {
	tx, err := chain.Writable(ctx)
	if err != nil {
		return err
	}
	if !t.minters[minter] {
		return ErrNotMinter
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	supply, overflow := new(uint256.Int).AddOverflow(t.totalSupply, amount)
	if overflow || (!t.cap.IsZero() && supply.Gt(t.cap)) {
		return ErrCapExceeded
	}

	old := t.totalSupply
	t.totalSupply = supply
	tx.Journal(func() { t.totalSupply = old })
	set(tx, t.balances, to, new(uint256.Int).Add(get(t.balances, to), amount))

	return t.notify(ctx, tx, TransferLog{Token: t.address, To: to, Amount: amount.Clone()})
}

// SetMinter grants or revokes the minter role.
func (t *ERC20) SetMinter(ctx context.Context, account common.Address, allowed bool) error {
	tx, err := chain.Writable(ctx)
	if err != nil {
		return err
	}
	prev, had := t.minters[account]
	if allowed {
		t.minters[account] = true
	} else {
		delete(t.minters, account)
	}
	tx.Journal(func() {
		if had {
			t.minters[account] = prev
		} else {
			delete(t.minters, account)
		}
	})
	tx.Emit(TopicMinter, MinterLog{Token: t.address, Account: account, Allowed: allowed})
	return nil
}

// record returns the persisted header of the token.
func (t *ERC20) record() *store.TokenRecord {
	rec := &store.TokenRecord{
		Address:     t.address,
		Nonce:       t.nonce,
		Symbol:      t.symbol,
		Decimals:    t.decimals,
		Cap:         t.cap.Clone(),
		TotalSupply: t.totalSupply.Clone(),
	}
	for m := range t.minters {
		rec.Minters = append(rec.Minters, m)
	}
	sort.Slice(rec.Minters, func(i, j int) bool { return rec.Minters[i].Hex() < rec.Minters[j].Hex() })
	return rec
}

func (t *ERC20) checkMove(from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if get(t.balances, from).Lt(amount) {
		return ErrInsufficientBalance
	}
	return nil
}

func (t *ERC20) move(ctx context.Context, tx *chain.Tx, from, to common.Address, amount *uint256.Int) error {
	if err := t.checkMove(from, to, amount); err != nil {
		return err
	}
	set(tx, t.balances, from, new(uint256.Int).Sub(get(t.balances, from), amount))
	set(tx, t.balances, to, new(uint256.Int).Add(get(t.balances, to), amount))

	return t.notify(ctx, tx, TransferLog{Token: t.address, From: from, To: to, Amount: amount.Clone()})
}

func (t *ERC20) notify(ctx context.Context, tx *chain.Tx, l TransferLog) error {
	tx.Emit(TopicTransfer, l)
	if t.hook != nil {
		return t.hook(ctx, l)
	}
	return nil
}

// --- Journaled map helpers ---

func get[K comparable](m map[K]*uint256.Int, k K) *uint256.Int {
	if v, ok := m[k]; ok {
		return v.Clone()
	}
	return new(uint256.Int)
}

func set[K comparable](tx *chain.Tx, m map[K]*uint256.Int, k K, v *uint256.Int) {
	prev, had := m[k]
	m[k] = v
	tx.Journal(func() {
		if had {
			m[k] = prev
		} else {
			delete(m, k)
		}
	})
}
