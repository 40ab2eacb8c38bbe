// Package store defines persistence for the exchange engine: the latest
// snapshot of every exchange, token and the protocol fee registry, plus the
// append-only event and registry change logs.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/atmx/fixedrate-engine/internal/chain"
	"github.com/atmx/fixedrate-engine/internal/model"
)

// ErrNotFound is returned when an exchange or the registry has no persisted
// snapshot.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicateEvent is returned when an event id is written twice. Events
// are immutable once recorded.
var ErrDuplicateEvent = errors.New("store: event already recorded")

// Batch is everything one committed transaction changed.
type Batch struct {
	Exchanges []*model.Exchange
	Events    []*model.Event

	Tokens     []*TokenRecord
	Balances   []BalanceRecord
	Allowances []AllowanceRecord

	// Registry is the registry state after the transaction, nil when the
	// registry did not change.
	Registry        *RegistryRecord
	RegistryChanges []*model.RegistryChange
}

// Empty reports whether the batch carries nothing to write.
func (b *Batch) Empty() bool {
	return len(b.Exchanges) == 0 && len(b.Events) == 0 &&
		len(b.Tokens) == 0 && len(b.Balances) == 0 && len(b.Allowances) == 0 &&
		b.Registry == nil && len(b.RegistryChanges) == 0
}

// TokenRecord is the persisted header of a deployed token.
type TokenRecord struct {
	Address     common.Address   `json:"address"`
	Nonce       uint64           `json:"nonce"`
	Symbol      string           `json:"symbol"`
	Decimals    uint8            `json:"decimals"`
	Cap         *uint256.Int     `json:"cap"`
	TotalSupply *uint256.Int     `json:"total_supply"`
	Minters     []common.Address `json:"minters"`
}

// BalanceRecord is one holder's balance of a token.
type BalanceRecord struct {
	Token  common.Address `json:"token"`
	Holder common.Address `json:"holder"`
	Amount *uint256.Int   `json:"amount"`
}

// AllowanceRecord is what owner has approved spender to move.
type AllowanceRecord struct {
	Token   common.Address `json:"token"`
	Owner   common.Address `json:"owner"`
	Spender common.Address `json:"spender"`
	Amount  *uint256.Int   `json:"amount"`
}

// RegistryRecord is the persisted protocol fee configuration.
type RegistryRecord struct {
	Collector common.Address   `json:"collector"`
	Fee       *uint256.Int     `json:"fee"`
	Exempt    []common.Address `json:"exempt"`
}

// Writer persists a batch atomically: either every record in it is stored
// or none is.
type Writer interface {
	Apply(ctx context.Context, b Batch) error
}

// Reader serves persisted state.
type Reader interface {
	// ListExchanges returns every exchange snapshot ordered by nonce.
	ListExchanges(ctx context.Context) ([]*model.Exchange, error)

	// GetExchange returns one snapshot, or ErrNotFound.
	GetExchange(ctx context.Context, id common.Hash) (*model.Exchange, error)

	// ListEvents returns the events of one exchange in commit order.
	ListEvents(ctx context.Context, exchangeID common.Hash) ([]*model.Event, error)

	// ListEventsByAccount returns, in commit order, every event an address
	// took part in as caller, recipient, consume market or configured address.
	ListEventsByAccount(ctx context.Context, addr common.Address) ([]*model.Event, error)

	// LatestSeq returns the highest persisted log sequence over events and
	// registry changes, 0 when empty.
	LatestSeq(ctx context.Context) (uint64, error)

	// ListTokens returns every token header ordered by deployment nonce.
	ListTokens(ctx context.Context) ([]*TokenRecord, error)
	ListBalances(ctx context.Context) ([]BalanceRecord, error)
	ListAllowances(ctx context.Context) ([]AllowanceRecord, error)

	// GetRegistry returns the registry snapshot, or ErrNotFound before the
	// registry was first changed.
	GetRegistry(ctx context.Context) (*RegistryRecord, error)

	// ListRegistryChanges returns every registry change in commit order.
	ListRegistryChanges(ctx context.Context) ([]*model.RegistryChange, error)
}

// Store is the full persistence interface.
type Store interface {
	Reader
	Writer
}

// Collector adds the state touched by one transaction's logs to its batch.
// Collectors run before commit, so they see the transaction's final state.
type Collector interface {
	Collect(logs []chain.Log, b *Batch)
}

// Persist registers a pre-commit hook on rt that gathers one batch from
// every collector and applies it to w. A write failure reverts the
// transaction.
func Persist(rt *chain.Runtime, w Writer, collectors ...Collector) {
	rt.AddCommitter(func(ctx context.Context, logs []chain.Log) error {
		var b Batch
		for _, c := range collectors {
			c.Collect(logs, &b)
		}
		if b.Empty() {
			return nil
		}
		return w.Apply(ctx, b)
	})
}
