package store

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/atmx/fixedrate-engine/internal/chain"
	"github.com/atmx/fixedrate-engine/internal/model"
)

func testExchange(nonce uint64) *model.Exchange {
	return &model.Exchange{
		ID:                 common.BigToHash(new(uint256.Int).SetUint64(nonce + 100).ToBig()),
		Nonce:              nonce,
		FixedRate:          uint256.NewInt(1e18),
		Active:             true,
		DTBalance:          new(uint256.Int),
		BTBalance:          uint256.NewInt(5),
		MarketFee:          new(uint256.Int),
		MarketFeeAvailable: new(uint256.Int),
		OceanFeeAvailable:  new(uint256.Int),
	}
}

func TestMemoryStore_ApplyAndRead(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	trader := common.HexToAddress("0xb0b")

	a, b := testExchange(1), testExchange(0)
	err := s.Apply(ctx, Batch{
		Exchanges: []*model.Exchange{a, b},
		Events: []*model.Event{
			{ID: "e1", Seq: 3, ExchangeID: a.ID, Caller: trader},
			{ID: "e2", Seq: 4, ExchangeID: b.ID},
		},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	list, err := s.ListExchanges(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].Nonce != 0 || list[1].Nonce != 1 {
		t.Errorf("expected exchanges ordered by nonce, got %+v", list)
	}

	// Stored copies are isolated from the caller's records.
	a.BTBalance.SetUint64(999)
	got, err := s.GetExchange(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.BTBalance.Uint64() != 5 {
		t.Errorf("expected stored balance 5, got %s", got.BTBalance)
	}

	evs, _ := s.ListEvents(ctx, a.ID)
	if len(evs) != 1 || evs[0].ID != "e1" {
		t.Errorf("unexpected events for a: %+v", evs)
	}
	byAcct, _ := s.ListEventsByAccount(ctx, trader)
	if len(byAcct) != 1 {
		t.Errorf("expected 1 event for trader, got %d", len(byAcct))
	}
	if seq, _ := s.LatestSeq(ctx); seq != 4 {
		t.Errorf("expected latest seq 4, got %d", seq)
	}
}

func TestMemoryStore_UpsertKeepsLatestSnapshot(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	ex := testExchange(0)
	if err := s.Apply(ctx, Batch{Exchanges: []*model.Exchange{ex}}); err != nil {
		t.Fatal(err)
	}
	ex.Active = false
	if err := s.Apply(ctx, Batch{Exchanges: []*model.Exchange{ex}}); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetExchange(ctx, ex.ID)
	if got.Active {
		t.Error("expected the second snapshot to win")
	}
	if list, _ := s.ListExchanges(ctx); len(list) != 1 {
		t.Errorf("expected 1 exchange, got %d", len(list))
	}
}

func TestMemoryStore_RejectsDuplicateEvents(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	ex := testExchange(0)

	if err := s.Apply(ctx, Batch{Events: []*model.Event{{ID: "e1", Seq: 1, ExchangeID: ex.ID}}}); err != nil {
		t.Fatal(err)
	}
	err := s.Apply(ctx, Batch{
		Exchanges: []*model.Exchange{ex},
		Events:    []*model.Event{{ID: "e2", Seq: 2}, {ID: "e1", Seq: 3}},
	})
	if !errors.Is(err, ErrDuplicateEvent) {
		t.Fatalf("expected ErrDuplicateEvent, got %v", err)
	}

	// A rejected batch leaves no trace.
	if _, err := s.GetExchange(ctx, ex.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if seq, _ := s.LatestSeq(ctx); seq != 1 {
		t.Errorf("expected latest seq 1, got %d", seq)
	}
}

func TestMemoryStore_TokenAndRegistryState(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	dt, base := common.HexToAddress("0xd7"), common.HexToAddress("0xba5e")
	holder, spender := common.HexToAddress("0xa11ce"), common.HexToAddress("0xe0e0")

	if _, err := s.GetRegistry(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before any change, got %v", err)
	}

	err := s.Apply(ctx, Batch{
		Tokens: []*TokenRecord{
			{Address: base, Nonce: 1, Symbol: "BT", Decimals: 6, Cap: new(uint256.Int), TotalSupply: uint256.NewInt(9)},
			{Address: dt, Nonce: 0, Symbol: "DT", Decimals: 18, Cap: new(uint256.Int), TotalSupply: uint256.NewInt(10)},
		},
		Balances:   []BalanceRecord{{Token: dt, Holder: holder, Amount: uint256.NewInt(10)}},
		Allowances: []AllowanceRecord{{Token: dt, Owner: holder, Spender: spender, Amount: uint256.NewInt(4)}},
		Registry:   &RegistryRecord{Collector: spender, Fee: uint256.NewInt(1e15), Exempt: []common.Address{base}},
		RegistryChanges: []*model.RegistryChange{
			{ID: "c1", Seq: 7, Type: model.RegistryExemptionAdded, Token: base},
		},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	// A later batch overwrites the same holder rather than appending.
	err = s.Apply(ctx, Batch{
		Balances: []BalanceRecord{{Token: dt, Holder: holder, Amount: uint256.NewInt(6)}},
	})
	if err != nil {
		t.Fatal(err)
	}

	tokens, _ := s.ListTokens(ctx)
	if len(tokens) != 2 || tokens[0].Address != dt || tokens[1].Address != base {
		t.Errorf("expected tokens ordered by nonce, got %+v", tokens)
	}
	balances, _ := s.ListBalances(ctx)
	if len(balances) != 1 || balances[0].Amount.Uint64() != 6 {
		t.Errorf("unexpected balances %+v", balances)
	}
	allowances, _ := s.ListAllowances(ctx)
	if len(allowances) != 1 || allowances[0].Amount.Uint64() != 4 {
		t.Errorf("unexpected allowances %+v", allowances)
	}
	reg, err := s.GetRegistry(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if reg.Fee.Uint64() != 1e15 || len(reg.Exempt) != 1 {
		t.Errorf("unexpected registry %+v", reg)
	}
	changes, _ := s.ListRegistryChanges(ctx)
	if len(changes) != 1 || changes[0].ID != "c1" {
		t.Errorf("unexpected registry changes %+v", changes)
	}
	if seq, _ := s.LatestSeq(ctx); seq != 7 {
		t.Errorf("expected latest seq 7 from registry changes, got %d", seq)
	}
}

type recordingWriter struct{ batches []Batch }

func (w *recordingWriter) Apply(_ context.Context, b Batch) error {
	w.batches = append(w.batches, b)
	return nil
}

type eventCollector struct{}

func (eventCollector) Collect(logs []chain.Log, b *Batch) {
	for _, l := range logs {
		if ev, ok := l.Data.(*model.Event); ok {
			b.Events = append(b.Events, ev)
		}
	}
}

func TestPersist_OneBatchPerTransaction(t *testing.T) {
	rt := chain.NewRuntime()
	w := &recordingWriter{}
	Persist(rt, w, eventCollector{}, eventCollector{})
	ctx := context.Background()

	err := rt.Execute(ctx, func(_ context.Context, tx *chain.Tx) error {
		tx.Emit("test", &model.Event{ID: "e1"})
		tx.Emit("other", "ignored")
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(w.batches) != 1 || len(w.batches[0].Events) != 2 {
		t.Fatalf("expected one batch with both collectors' events, got %+v", w.batches)
	}

	// Nothing collected means nothing written.
	if err := rt.Execute(ctx, func(_ context.Context, tx *chain.Tx) error {
		tx.Emit("other", "ignored")
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if len(w.batches) != 1 {
		t.Errorf("expected empty batch to be skipped, got %d batches", len(w.batches))
	}
}
