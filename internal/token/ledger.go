package token

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/atmx/fixedrate-engine/internal/chain"
	"github.com/atmx/fixedrate-engine/internal/fixedpoint"
	"github.com/atmx/fixedrate-engine/internal/model"
	"github.com/atmx/fixedrate-engine/internal/store"

	errorsmod "cosmossdk.io/errors"
)

// DeployParams configures a new token.
type DeployParams struct {
	Symbol   string
	Decimals uint8
	Cap      *uint256.Int // zero or nil: uncapped
	Minters  []common.Address
}

// Ledger deploys and resolves in-memory tokens. Its state participates in
// chain transactions like any token state.
type Ledger struct {
	rt     *chain.Runtime
	tokens map[common.Address]*ERC20
	nonce  uint64
}

// NewLedger creates an empty ledger bound to a runtime.
func NewLedger(rt *chain.Runtime) *Ledger {
	return &Ledger{rt: rt, tokens: make(map[common.Address]*ERC20)}
}

// Deploy creates a token at a deterministic address derived from its symbol
// and the ledger's deployment nonce.
func (l *Ledger) Deploy(ctx context.Context, p DeployParams) (*ERC20, error) {
	if p.Symbol == "" {
		return nil, fmt.Errorf("token: symbol is required")
	}
	if err := fixedpoint.ValidateDecimals(p.Decimals); err != nil {
		return nil, err
	}

	var tok *ERC20
	err := l.rt.Execute(ctx, func(ctx context.Context, tx *chain.Tx) error {
		var nonce [8]byte
		binary.BigEndian.PutUint64(nonce[:], l.nonce)
		addr := common.BytesToAddress(crypto.Keccak256([]byte(p.Symbol), nonce[:]))

		prevNonce := l.nonce
		l.nonce++
		tok = newERC20(addr, prevNonce, p.Symbol, p.Decimals, p.Cap)
		l.tokens[addr] = tok
		tx.Journal(func() {
			l.nonce = prevNonce
			delete(l.tokens, addr)
		})
		tx.Emit(TopicDeploy, DeployLog{Token: addr, Symbol: p.Symbol})

		for _, m := range p.Minters {
			if err := tok.SetMinter(ctx, m, true); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tok, nil
}

// Token implements Resolver.
func (l *Ledger) Token(addr common.Address) (Token, error) {
	t, err := l.ERC20(addr)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ERC20 returns the concrete token at addr.
func (l *Ledger) ERC20(addr common.Address) (*ERC20, error) {
	t, ok := l.tokens[addr]
	if !ok {
		return nil, errorsmod.Wrapf(model.ErrTokenNotFound, "%s", addr.Hex())
	}
	return t, nil
}

// List returns all deployed tokens sorted by symbol.
func (l *Ledger) List() []*ERC20 {
	out := make([]*ERC20, 0, len(l.tokens))
	for _, t := range l.tokens {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].symbol == out[j].symbol {
			return out[i].address.Hex() < out[j].address.Hex()
		}
		return out[i].symbol < out[j].symbol
	})
	return out
}

// Faucet mints directly to an account, bypassing the minter role and the
// cap. For genesis allocation and tests only.
func (l *Ledger) Faucet(ctx context.Context, addr, to common.Address, amount *uint256.Int) error {
	t, err := l.ERC20(addr)
	if err != nil {
		return err
	}
	return l.rt.Execute(ctx, func(ctx context.Context, tx *chain.Tx) error {
		old := t.totalSupply
		t.totalSupply = new(uint256.Int).Add(old, amount)
		tx.Journal(func() { t.totalSupply = old })
		set(tx, t.balances, to, new(uint256.Int).Add(get(t.balances, to), amount))
		tx.Emit(TopicTransfer, TransferLog{Token: addr, To: to, Amount: amount.Clone()})
		return nil
	})
}

// --- Persistence ---

// Collect implements store.Collector. Every token a transaction touched
// contributes its header, and every balance and allowance it changed
// contributes the final value.
func (l *Ledger) Collect(logs []chain.Log, b *store.Batch) {
	var (
		touched    []common.Address
		seen       = make(map[common.Address]bool)
		balances   = make(map[holderKey]bool)
		allowances = make(map[spendKey]bool)
	)
	touch := func(addr common.Address) {
		if !seen[addr] {
			seen[addr] = true
			touched = append(touched, addr)
		}
	}
	for _, lg := range logs {
		switch v := lg.Data.(type) {
		case TransferLog:
			touch(v.Token)
			if v.From != (common.Address{}) {
				l.collectBalance(b, balances, v.Token, v.From)
			}
			l.collectBalance(b, balances, v.Token, v.To)
		case ApprovalLog:
			touch(v.Token)
			key := spendKey{v.Token, allowanceKey{v.Owner, v.Spender}}
			if !allowances[key] {
				allowances[key] = true
				b.Allowances = append(b.Allowances, store.AllowanceRecord{
					Token: v.Token, Owner: v.Owner, Spender: v.Spender,
					Amount: get(l.tokens[v.Token].allowances, key.allowanceKey),
				})
			}
		case DeployLog:
			touch(v.Token)
		case MinterLog:
			touch(v.Token)
		}
	}
	for _, addr := range touched {
		if t, ok := l.tokens[addr]; ok {
			b.Tokens = append(b.Tokens, t.record())
		}
	}
}

type holderKey struct {
	token, holder common.Address
}

type spendKey struct {
	token common.Address
	allowanceKey
}

func (l *Ledger) collectBalance(b *store.Batch, seen map[holderKey]bool, tok, holder common.Address) {
	key := holderKey{tok, holder}
	if seen[key] {
		return
	}
	seen[key] = true
	b.Balances = append(b.Balances, store.BalanceRecord{
		Token: tok, Holder: holder, Amount: get(l.tokens[tok].balances, holder),
	})
}

// Restore loads persisted token state on top of whatever is deployed,
// typically the genesis tokens. Persisted headers, balances and allowances
// win; tokens missing from the ledger are redeployed at their recorded
// address. It must run before the ledger serves any call.
func (l *Ledger) Restore(ctx context.Context, r store.Reader) error {
	records, err := r.ListTokens(ctx)
	if err != nil {
		return err
	}
	for _, rec := range records {
		t, ok := l.tokens[rec.Address]
		if !ok {
			t = newERC20(rec.Address, rec.Nonce, rec.Symbol, rec.Decimals, rec.Cap)
			l.tokens[rec.Address] = t
		}
		t.totalSupply = rec.TotalSupply.Clone()
		t.minters = make(map[common.Address]bool, len(rec.Minters))
		for _, m := range rec.Minters {
			t.minters[m] = true
		}
		if rec.Nonce >= l.nonce {
			l.nonce = rec.Nonce + 1
		}
	}

	balances, err := r.ListBalances(ctx)
	if err != nil {
		return err
	}
	for _, rec := range balances {
		t, err := l.ERC20(rec.Token)
		if err != nil {
			return err
		}
		t.balances[rec.Holder] = rec.Amount.Clone()
	}

	allowances, err := r.ListAllowances(ctx)
	if err != nil {
		return err
	}
	for _, rec := range allowances {
		t, err := l.ERC20(rec.Token)
		if err != nil {
			return err
		}
		t.allowances[allowanceKey{rec.Owner, rec.Spender}] = rec.Amount.Clone()
	}
	return nil
}
