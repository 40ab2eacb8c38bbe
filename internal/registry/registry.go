// Package registry holds the protocol-wide fee configuration every exchange
// consults: the protocol fee rate, its collector, and the base tokens exempt
// from it.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	errorsmod "cosmossdk.io/errors"

	"github.com/atmx/fixedrate-engine/internal/chain"
	"github.com/atmx/fixedrate-engine/internal/fixedpoint"
	"github.com/atmx/fixedrate-engine/internal/model"
	"github.com/atmx/fixedrate-engine/internal/store"
)

// DefaultOPCFee is 0.1% in 18-decimal fixed point.
var DefaultOPCFee = uint256.NewInt(1e15)

// TopicChange is the chain log topic carrying *model.RegistryChange values.
const TopicChange = "registry.change"

// Registry is the read side the exchange depends on. Values are read fresh
// on every call.
type Registry interface {
	// OPCFee returns the protocol fee for swaps against baseToken, zero when
	// the token is exempt.
	OPCFee(ctx context.Context, baseToken common.Address) *uint256.Int
	OPCCollector(ctx context.Context) common.Address
	IsFeeExempt(ctx context.Context, baseToken common.Address) bool
}

// Snapshot is the registry state exposed over the API.
type Snapshot struct {
	Owner     common.Address   `json:"owner"`
	Collector common.Address   `json:"collector"`
	Fee       *uint256.Int     `json:"fee"`
	Exempt    []common.Address `json:"exempt"`
}

// Router is an owner-governed Registry. Its state is journaled so updates
// made inside a failing transaction are reverted.
type Router struct {
	rt        *chain.Runtime
	owner     common.Address
	collector common.Address
	fee       *uint256.Int
	exempt    map[common.Address]bool
	now       func() time.Time
}

// NewRouter creates a router. A nil fee selects DefaultOPCFee.
func NewRouter(rt *chain.Runtime, owner, collector common.Address, fee *uint256.Int, exempt ...common.Address) (*Router, error) {
	if fee == nil {
		fee = DefaultOPCFee
	}
	if err := validateFee(fee); err != nil {
		return nil, err
	}
	r := &Router{
		rt:        rt,
		owner:     owner,
		collector: collector,
		fee:       fee.Clone(),
		exempt:    make(map[common.Address]bool, len(exempt)),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, t := range exempt {
		r.exempt[t] = true
	}
	rt.AddListener(logCommitted)
	return r, nil
}

func (r *Router) OPCFee(ctx context.Context, baseToken common.Address) *uint256.Int {
	if r.IsFeeExempt(ctx, baseToken) {
		return new(uint256.Int)
	}
	return r.fee.Clone()
}

func (r *Router) OPCCollector(context.Context) common.Address {
	return r.collector
}

func (r *Router) IsFeeExempt(_ context.Context, baseToken common.Address) bool {
	return r.exempt[baseToken]
}

// Snapshot returns the current configuration.
func (r *Router) Snapshot(ctx context.Context) Snapshot {
	var s Snapshot
	_ = r.rt.View(ctx, func(context.Context) error {
		s = r.snapshot()
		return nil
	})
	return s
}

func (r *Router) snapshot() Snapshot {
	s := Snapshot{Owner: r.owner, Collector: r.collector, Fee: r.fee.Clone()}
	for t := range r.exempt {
		s.Exempt = append(s.Exempt, t)
	}
	sort.Slice(s.Exempt, func(i, j int) bool { return s.Exempt[i].Hex() < s.Exempt[j].Hex() })
	return s
}

// --- Persistence ---

// Collect implements store.Collector. A transaction that changed the
// registry contributes its changes and the resulting configuration.
func (r *Router) Collect(logs []chain.Log, b *store.Batch) {
	changed := false
	for _, l := range logs {
		c, ok := l.Data.(*model.RegistryChange)
		if !ok {
			continue
		}
		b.RegistryChanges = append(b.RegistryChanges, c)
		changed = true
	}
	if changed {
		s := r.snapshot()
		b.Registry = &store.RegistryRecord{Collector: s.Collector, Fee: s.Fee, Exempt: s.Exempt}
	}
}

// Restore replaces the configured fee, collector and exemptions with the
// persisted ones, if the registry was ever changed. The owner always comes
// from configuration. It must run before the router serves any call.
func (r *Router) Restore(ctx context.Context, rd store.Reader) error {
	rec, err := rd.GetRegistry(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := validateFee(rec.Fee); err != nil {
		return err
	}
	r.fee = rec.Fee.Clone()
	r.collector = rec.Collector
	r.exempt = make(map[common.Address]bool, len(rec.Exempt))
	for _, t := range rec.Exempt {
		r.exempt[t] = true
	}
	return nil
}

// --- Owner operations ---

// UpdateFee sets the protocol fee rate for non-exempt base tokens.
func (r *Router) UpdateFee(ctx context.Context, caller common.Address, fee *uint256.Int) error {
	if err := validateFee(fee); err != nil {
		return err
	}
	return r.update(ctx, caller, &model.RegistryChange{Type: model.RegistryFeeUpdated, Fee: fee.Clone()}, func(tx *chain.Tx) {
		old := r.fee
		r.fee = fee.Clone()
		tx.Journal(func() { r.fee = old })
	})
}

// SetCollector changes where collected protocol fees are paid.
func (r *Router) SetCollector(ctx context.Context, caller, collector common.Address) error {
	if collector == (common.Address{}) {
		return errorsmod.Wrap(model.ErrInvalidAddress, "collector is the zero address")
	}
	return r.update(ctx, caller, &model.RegistryChange{Type: model.RegistryCollectorUpdated, Collector: collector}, func(tx *chain.Tx) {
		old := r.collector
		r.collector = collector
		tx.Journal(func() { r.collector = old })
	})
}

func (r *Router) AddExemptToken(ctx context.Context, caller, token common.Address) error {
	return r.setExempt(ctx, caller, token, true)
}

func (r *Router) RemoveExemptToken(ctx context.Context, caller, token common.Address) error {
	return r.setExempt(ctx, caller, token, false)
}

func (r *Router) setExempt(ctx context.Context, caller, token common.Address, exempt bool) error {
	change := &model.RegistryChange{Type: model.RegistryExemptionRemoved, Token: token}
	if exempt {
		change.Type = model.RegistryExemptionAdded
	}
	return r.update(ctx, caller, change, func(tx *chain.Tx) {
		had := r.exempt[token]
		if exempt {
			r.exempt[token] = true
		} else {
			delete(r.exempt, token)
		}
		tx.Journal(func() {
			if had {
				r.exempt[token] = true
			} else {
				delete(r.exempt, token)
			}
		})
	})
}

// update applies an owner-only change and logs it.
func (r *Router) update(ctx context.Context, caller common.Address, change *model.RegistryChange, apply func(tx *chain.Tx)) error {
	return r.rt.Execute(ctx, func(ctx context.Context, tx *chain.Tx) error {
		if caller != r.owner {
			return errorsmod.Wrapf(model.ErrNotRegistryOwner, "caller %s", caller.Hex())
		}
		apply(tx)
		change.ID = uuid.New().String()
		change.Caller = caller
		change.Timestamp = r.now()
		change.Seq = tx.Emit(TopicChange, change)
		return nil
	})
}

func logCommitted(logs []chain.Log) {
	for _, l := range logs {
		c, ok := l.Data.(*model.RegistryChange)
		if !ok {
			continue
		}
		attrs := []any{"type", c.Type, "caller", c.Caller.Hex(), "seq", c.Seq}
		switch {
		case c.Fee != nil:
			attrs = append(attrs, "fee", c.Fee.Dec())
		case c.Collector != (common.Address{}):
			attrs = append(attrs, "collector", c.Collector.Hex())
		case c.Token != (common.Address{}):
			attrs = append(attrs, "token", c.Token.Hex())
		}
		slog.Info("registry updated", attrs...)
	}
}

func validateFee(fee *uint256.Int) error {
	if !fee.Lt(fixedpoint.One()) {
		return errorsmod.Wrapf(model.ErrInvalidFee, "protocol fee %s must be below 1e18", fee)
	}
	return nil
}
