// Package exchange implements the fixed-rate exchange: rate bookkeeping, fee
// computation, live supply accounting, swap settlement and fee collection.
//
// The engine owns a single custody address. Every exchange's internal DT
// and BT balances, and its uncollected fees, are held at that address and
// tracked per exchange. All entrypoints run as transactions on a
// chain.Runtime, so each one either commits completely or leaves no trace.
package exchange

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	errorsmod "cosmossdk.io/errors"

	"github.com/atmx/fixedrate-engine/internal/chain"
	"github.com/atmx/fixedrate-engine/internal/model"
	"github.com/atmx/fixedrate-engine/internal/registry"
	"github.com/atmx/fixedrate-engine/internal/store"
	"github.com/atmx/fixedrate-engine/internal/token"
)

// TopicEvent is the chain log topic carrying *model.Event values.
const TopicEvent = "exchange.event"

// Engine is the fixed-rate exchange.
type Engine struct {
	rt       *chain.Runtime
	tokens   token.Resolver
	registry registry.Registry
	address  common.Address
	logger   *slog.Logger
	now      func() time.Time

	exchanges map[common.Hash]*model.Exchange
	order     []common.Hash
	nonce     uint64
	guard     guard
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger for committed state changes.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine whose custody lives at address.
func New(rt *chain.Runtime, tokens token.Resolver, reg registry.Registry, address common.Address, opts ...Option) *Engine {
	e := &Engine{
		rt:        rt,
		tokens:    tokens,
		registry:  reg,
		address:   address,
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
		exchanges: make(map[common.Hash]*model.Exchange),
		guard:     guard{held: make(map[common.Hash]bool)},
	}
	for _, o := range opts {
		o(e)
	}
	rt.AddListener(e.logCommitted)
	return e
}

// Address returns the engine's custody address, which token owners approve
// as spender.
func (e *Engine) Address() common.Address {
	return e.address
}

// --- Persistence ---

// Collect implements store.Collector: every emitted event, and the final
// snapshot of every exchange an event touched.
func (e *Engine) Collect(logs []chain.Log, b *store.Batch) {
	touched := make(map[common.Hash]bool)
	for _, l := range logs {
		ev, ok := l.Data.(*model.Event)
		if !ok {
			continue
		}
		b.Events = append(b.Events, ev)
		if !touched[ev.ExchangeID] {
			touched[ev.ExchangeID] = true
			b.Exchanges = append(b.Exchanges, e.exchanges[ev.ExchangeID].Clone())
		}
	}
}

// Restore loads persisted exchanges. It must run before the engine serves
// any call, after the token ledger was restored from the same store. The
// creation nonce resumes after the highest persisted nonce.
func (e *Engine) Restore(ctx context.Context, r store.Reader) error {
	list, err := r.ListExchanges(ctx)
	if err != nil {
		return err
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Nonce < list[j].Nonce })
	for _, ex := range list {
		if _, dup := e.exchanges[ex.ID]; dup {
			return errorsmod.Wrapf(model.ErrExchangeExists, "%s", ex.ID.Hex())
		}
		e.exchanges[ex.ID] = ex.Clone()
		e.order = append(e.order, ex.ID)
		if ex.Nonce >= e.nonce {
			e.nonce = ex.Nonce + 1
		}
	}
	return nil
}

// --- Internal helpers ---

func (e *Engine) lookup(id common.Hash) (*model.Exchange, error) {
	ex, ok := e.exchanges[id]
	if !ok {
		return nil, errorsmod.Wrapf(model.ErrExchangeNotFound, "%s", id.Hex())
	}
	return ex, nil
}

// mutate applies fn to the exchange record and journals the prior state.
func (e *Engine) mutate(tx *chain.Tx, ex *model.Exchange, fn func(ex *model.Exchange)) {
	prev := ex.Clone()
	fn(ex)
	tx.Journal(func() { *ex = *prev })
}

// emit stamps ev with post-state balances and appends it to the transaction.
func (e *Engine) emit(tx *chain.Tx, ex *model.Exchange, caller common.Address, ev *model.Event) *model.Event {
	ev.ID = uuid.New().String()
	ev.ExchangeID = ex.ID
	ev.Caller = caller
	ev.Timestamp = e.now()
	ev.DTBalance = ex.DTBalance.Clone()
	ev.BTBalance = ex.BTBalance.Clone()
	ev.MarketFeeAvailable = ex.MarketFeeAvailable.Clone()
	ev.OceanFeeAvailable = ex.OceanFeeAvailable.Clone()
	ev.Seq = tx.Emit(TopicEvent, ev)
	return ev
}

func (e *Engine) tokenPair(ex *model.Exchange) (dt, bt token.Token, err error) {
	if dt, err = e.tokens.Token(ex.DataToken); err != nil {
		return nil, nil, err
	}
	if bt, err = e.tokens.Token(ex.BaseToken); err != nil {
		return nil, nil, err
	}
	return dt, bt, nil
}

func (e *Engine) logCommitted(logs []chain.Log) {
	for _, l := range logs {
		ev, ok := l.Data.(*model.Event)
		if !ok {
			continue
		}
		attrs := []any{
			"exchange_id", ev.ExchangeID.Hex(),
			"caller", ev.Caller.Hex(),
			"seq", ev.Seq,
		}
		switch ev.Type {
		case model.EventSwapped, model.EventDispensed, model.EventDevolved:
			e.logger.Info("swap executed", append(attrs,
				"type", ev.Type,
				"direction", ev.Direction,
				"dt_amount", ev.DTAmount.Dec(),
				"base_amount", ev.BaseAmount.Dec(),
				"market_fee", ev.MarketFee.Dec(),
				"ocean_fee", ev.OceanFee.Dec(),
				"consume_market_fee", ev.ConsumeMarketFee.Dec(),
			)...)
		case model.EventTokenCollected, model.EventMarketFeeCollected, model.EventOceanFeeCollected:
			e.logger.Info("fee collected", append(attrs,
				"type", ev.Type,
				"token", ev.Token.Hex(),
				"recipient", ev.Recipient.Hex(),
				"amount", ev.Amount.Dec(),
			)...)
		case model.EventExchangeCreated:
			e.logger.Info("exchange created", append(attrs,
				"data_token", ev.DataToken.Hex(),
				"base_token", ev.BaseToken.Hex(),
				"rate", ev.Rate.Dec(),
			)...)
		default:
			e.logger.Info("exchange updated", append(attrs, "type", ev.Type)...)
		}
	}
}
