package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/atmx/fixedrate-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	exchanges map[common.Hash]*model.Exchange
	events    []*model.Event
	eventIDs  map[string]bool

	tokens     map[common.Address]*TokenRecord
	balances   map[balanceID]BalanceRecord
	allowances map[allowanceID]AllowanceRecord
	registry   *RegistryRecord
	changes    []*model.RegistryChange
}

type balanceID struct{ token, holder common.Address }

type allowanceID struct{ token, owner, spender common.Address }

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		exchanges:  make(map[common.Hash]*model.Exchange),
		eventIDs:   make(map[string]bool),
		tokens:     make(map[common.Address]*TokenRecord),
		balances:   make(map[balanceID]BalanceRecord),
		allowances: make(map[allowanceID]AllowanceRecord),
	}
}

func (s *MemoryStore) Apply(_ context.Context, b Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate the whole batch first so a rejected batch changes nothing.
	seen := make(map[string]bool, len(b.Events))
	for _, ev := range b.Events {
		if s.eventIDs[ev.ID] || seen[ev.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateEvent, ev.ID)
		}
		seen[ev.ID] = true
	}

	for _, ex := range b.Exchanges {
		s.exchanges[ex.ID] = ex.Clone()
	}
	for _, ev := range b.Events {
		copy := *ev
		s.events = append(s.events, &copy)
		s.eventIDs[ev.ID] = true
	}
	for _, t := range b.Tokens {
		copy := *t
		copy.Cap, copy.TotalSupply = t.Cap.Clone(), t.TotalSupply.Clone()
		copy.Minters = append([]common.Address(nil), t.Minters...)
		s.tokens[t.Address] = &copy
	}
	for _, bal := range b.Balances {
		bal.Amount = bal.Amount.Clone()
		s.balances[balanceID{bal.Token, bal.Holder}] = bal
	}
	for _, a := range b.Allowances {
		a.Amount = a.Amount.Clone()
		s.allowances[allowanceID{a.Token, a.Owner, a.Spender}] = a
	}
	if b.Registry != nil {
		copy := *b.Registry
		copy.Fee = b.Registry.Fee.Clone()
		copy.Exempt = append([]common.Address(nil), b.Registry.Exempt...)
		s.registry = &copy
	}
	for _, c := range b.RegistryChanges {
		copy := *c
		s.changes = append(s.changes, &copy)
	}
	return nil
}

func (s *MemoryStore) ListExchanges(_ context.Context) ([]*model.Exchange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Exchange, 0, len(s.exchanges))
	for _, ex := range s.exchanges {
		out = append(out, ex.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Nonce < out[j].Nonce })
	return out, nil
}

func (s *MemoryStore) GetExchange(_ context.Context, id common.Hash) (*model.Exchange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ex, ok := s.exchanges[id]
	if !ok {
		return nil, fmt.Errorf("%w: exchange %s", ErrNotFound, id.Hex())
	}
	return ex.Clone(), nil
}

func (s *MemoryStore) ListEvents(_ context.Context, exchangeID common.Hash) ([]*model.Event, error) {
	return s.filter(func(ev *model.Event) bool { return ev.ExchangeID == exchangeID }), nil
}

func (s *MemoryStore) ListEventsByAccount(_ context.Context, addr common.Address) ([]*model.Event, error) {
	return s.filter(func(ev *model.Event) bool { return ev.Involves(addr) }), nil
}

func (s *MemoryStore) LatestSeq(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var seq uint64
	for _, ev := range s.events {
		if ev.Seq > seq {
			seq = ev.Seq
		}
	}
	for _, c := range s.changes {
		if c.Seq > seq {
			seq = c.Seq
		}
	}
	return seq, nil
}

func (s *MemoryStore) ListTokens(_ context.Context) ([]*TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*TokenRecord, 0, len(s.tokens))
	for _, t := range s.tokens {
		copy := *t
		out = append(out, &copy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Nonce < out[j].Nonce })
	return out, nil
}

func (s *MemoryStore) ListBalances(_ context.Context) ([]BalanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]BalanceRecord, 0, len(s.balances))
	for _, b := range s.balances {
		out = append(out, b)
	}
	return out, nil
}

func (s *MemoryStore) ListAllowances(_ context.Context) ([]AllowanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]AllowanceRecord, 0, len(s.allowances))
	for _, a := range s.allowances {
		out = append(out, a)
	}
	return out, nil
}

func (s *MemoryStore) GetRegistry(_ context.Context) (*RegistryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.registry == nil {
		return nil, fmt.Errorf("%w: registry", ErrNotFound)
	}
	copy := *s.registry
	return &copy, nil
}

func (s *MemoryStore) ListRegistryChanges(_ context.Context) ([]*model.RegistryChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.RegistryChange, 0, len(s.changes))
	for _, c := range s.changes {
		copy := *c
		out = append(out, &copy)
	}
	return out, nil
}

func (s *MemoryStore) filter(keep func(ev *model.Event) bool) []*model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*model.Event
	for _, ev := range s.events {
		if keep(ev) {
			copy := *ev
			result = append(result, &copy)
		}
	}
	return result
}
