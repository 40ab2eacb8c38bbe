package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/fixedrate-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) Apply(ctx context.Context, b Batch) error {
	if err := s.primary.Apply(ctx, b); err != nil {
		return err
	}

	// Invalidate; next read will re-populate.
	s.rdb.Del(ctx, invalidationKeys(b)...)
	return nil
}

// invalidationKeys lists every cached read the batch can change.
func invalidationKeys(b Batch) []string {
	keys := []string{exchangesKey}
	for _, ex := range b.Exchanges {
		keys = append(keys, exchangeKey(ex.ID))
	}
	for _, ev := range b.Events {
		keys = append(keys, eventsKey(ev.ExchangeID))
		for _, addr := range []common.Address{ev.Caller, ev.Recipient, ev.ConsumeMarket, ev.Address} {
			if addr != (common.Address{}) {
				keys = append(keys, accountKey(addr))
			}
		}
	}
	if len(b.RegistryChanges) > 0 {
		keys = append(keys, registryChangesKey)
	}
	return keys
}

// --- Read-through (check cache first) ---

func (s *CachedStore) ListExchanges(ctx context.Context) ([]*model.Exchange, error) {
	return readThrough(ctx, s, exchangesKey, func() ([]*model.Exchange, error) {
		return s.primary.ListExchanges(ctx)
	})
}

func (s *CachedStore) GetExchange(ctx context.Context, id common.Hash) (*model.Exchange, error) {
	return readThrough(ctx, s, exchangeKey(id), func() (*model.Exchange, error) {
		return s.primary.GetExchange(ctx, id)
	})
}

func (s *CachedStore) ListEvents(ctx context.Context, exchangeID common.Hash) ([]*model.Event, error) {
	return readThrough(ctx, s, eventsKey(exchangeID), func() ([]*model.Event, error) {
		return s.primary.ListEvents(ctx, exchangeID)
	})
}

func (s *CachedStore) ListEventsByAccount(ctx context.Context, addr common.Address) ([]*model.Event, error) {
	return readThrough(ctx, s, accountKey(addr), func() ([]*model.Event, error) {
		return s.primary.ListEventsByAccount(ctx, addr)
	})
}

func (s *CachedStore) ListRegistryChanges(ctx context.Context) ([]*model.RegistryChange, error) {
	return readThrough(ctx, s, registryChangesKey, func() ([]*model.RegistryChange, error) {
		return s.primary.ListRegistryChanges(ctx)
	})
}

// --- Passthrough (not cached) ---

// Token and registry state is only read at boot.

func (s *CachedStore) ListTokens(ctx context.Context) ([]*TokenRecord, error) {
	return s.primary.ListTokens(ctx)
}

func (s *CachedStore) ListBalances(ctx context.Context) ([]BalanceRecord, error) {
	return s.primary.ListBalances(ctx)
}

func (s *CachedStore) ListAllowances(ctx context.Context) ([]AllowanceRecord, error) {
	return s.primary.ListAllowances(ctx)
}

func (s *CachedStore) GetRegistry(ctx context.Context) (*RegistryRecord, error) {
	return s.primary.GetRegistry(ctx)
}

func (s *CachedStore) LatestSeq(ctx context.Context) (uint64, error) {
	return s.primary.LatestSeq(ctx)
}

// --- Cache helpers ---

func readThrough[T any](ctx context.Context, s *CachedStore, key string, load func() (T, error)) (T, error) {
	// Try cache.
	if data, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
		var v T
		if json.Unmarshal(data, &v) == nil {
			return v, nil
		}
	}

	// Cache miss: read from primary.
	v, err := load()
	if err != nil {
		return v, err
	}
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return v, nil
}

const (
	exchangesKey       = "fre:exchanges"
	registryChangesKey = "fre:registry:changes"
)

func exchangeKey(id common.Hash) string     { return fmt.Sprintf("fre:exchange:%s", id.Hex()) }
func eventsKey(id common.Hash) string       { return fmt.Sprintf("fre:events:%s", id.Hex()) }
func accountKey(addr common.Address) string { return fmt.Sprintf("fre:account:%s", addr.Hex()) }
