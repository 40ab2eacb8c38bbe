package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/atmx/fixedrate-engine/internal/chain"
	"github.com/atmx/fixedrate-engine/internal/model"
	"github.com/atmx/fixedrate-engine/internal/store"
)

var (
	owner     = common.HexToAddress("0x0e")
	collector = common.HexToAddress("0xc0")
	ocean     = common.HexToAddress("0x0cea")
	dai       = common.HexToAddress("0xda1")
)

func newRouter(t *testing.T) (*chain.Runtime, *Router) {
	t.Helper()
	rt := chain.NewRuntime()
	r, err := NewRouter(rt, owner, collector, nil, ocean)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return rt, r
}

func TestOPCFee_ExemptTokenPaysNothing(t *testing.T) {
	_, r := newRouter(t)
	ctx := context.Background()

	if fee := r.OPCFee(ctx, ocean); !fee.IsZero() {
		t.Errorf("exempt token fee = %s, want 0", fee)
	}
	if fee := r.OPCFee(ctx, dai); !fee.Eq(DefaultOPCFee) {
		t.Errorf("dai fee = %s, want %s", fee, DefaultOPCFee)
	}
}

func TestUpdateFee(t *testing.T) {
	_, r := newRouter(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		caller  common.Address
		fee     *uint256.Int
		wantErr error
	}{
		{"owner", owner, uint256.NewInt(2e15), nil},
		{"not owner", collector, uint256.NewInt(3e15), model.ErrNotRegistryOwner},
		{"100 percent", owner, uint256.NewInt(1e18), model.ErrInvalidFee},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.UpdateFee(ctx, tt.caller, tt.fee)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
	if fee := r.OPCFee(ctx, dai); fee.Uint64() != 2e15 {
		t.Errorf("fee = %s, want 2e15", fee)
	}
}

func TestExemptTokens(t *testing.T) {
	_, r := newRouter(t)
	ctx := context.Background()

	if err := r.AddExemptToken(ctx, owner, dai); err != nil {
		t.Fatal(err)
	}
	if !r.IsFeeExempt(ctx, dai) {
		t.Error("dai should be exempt")
	}
	if err := r.RemoveExemptToken(ctx, owner, ocean); err != nil {
		t.Fatal(err)
	}
	if r.IsFeeExempt(ctx, ocean) {
		t.Error("ocean should no longer be exempt")
	}
	if err := r.AddExemptToken(ctx, dai, ocean); !errors.Is(err, model.ErrNotRegistryOwner) {
		t.Errorf("expected ErrNotRegistryOwner, got %v", err)
	}
	if got := len(r.Snapshot(ctx).Exempt); got != 1 {
		t.Errorf("exempt count = %d, want 1", got)
	}
}

func TestSetCollector_RevertsWithTransaction(t *testing.T) {
	rt, r := newRouter(t)
	newCollector := common.HexToAddress("0xc1")
	errAbort := errors.New("abort")

	err := rt.Execute(context.Background(), func(ctx context.Context, _ *chain.Tx) error {
		if err := r.SetCollector(ctx, owner, newCollector); err != nil {
			return err
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("expected errAbort, got %v", err)
	}
	if got := r.OPCCollector(context.Background()); got != collector {
		t.Errorf("collector = %s, want %s", got.Hex(), collector.Hex())
	}

	if err := r.SetCollector(context.Background(), owner, common.Address{}); !errors.Is(err, model.ErrInvalidAddress) {
		t.Errorf("expected ErrInvalidAddress, got %v", err)
	}
}

func TestChangesArePersisted(t *testing.T) {
	rt, r := newRouter(t)
	ctx := context.Background()
	ms := store.NewMemoryStore()
	store.Persist(rt, ms, r)

	if err := r.UpdateFee(ctx, owner, uint256.NewInt(2e15)); err != nil {
		t.Fatal(err)
	}
	if err := r.UpdateFee(ctx, dai, uint256.NewInt(3e15)); err == nil {
		t.Fatal("expected outsider update to fail")
	}
	if err := r.AddExemptToken(ctx, owner, dai); err != nil {
		t.Fatal(err)
	}

	changes, err := ms.ListRegistryChanges(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 2 {
		t.Fatalf("changes = %d, want 2 (rejected updates are not recorded)", len(changes))
	}
	if c := changes[0]; c.Type != model.RegistryFeeUpdated || c.Fee.Uint64() != 2e15 || c.Caller != owner || c.ID == "" {
		t.Errorf("unexpected first change %+v", c)
	}
	if c := changes[1]; c.Type != model.RegistryExemptionAdded || c.Token != dai || c.Seq <= changes[0].Seq {
		t.Errorf("unexpected second change %+v", c)
	}
	if seq, _ := ms.LatestSeq(ctx); seq != changes[1].Seq {
		t.Errorf("latest seq = %d, want %d", seq, changes[1].Seq)
	}

	rec, err := ms.GetRegistry(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Fee.Uint64() != 2e15 || len(rec.Exempt) != 2 {
		t.Errorf("persisted registry = %+v", rec)
	}
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()

	// Nothing persisted yet: configuration stands.
	_, fresh := newRouter(t)
	if err := fresh.Restore(ctx, ms); err != nil {
		t.Fatal(err)
	}
	if !fresh.Snapshot(ctx).Fee.Eq(DefaultOPCFee) {
		t.Errorf("fee changed without persisted state")
	}

	rt, r := newRouter(t)
	store.Persist(rt, ms, r)
	next := common.HexToAddress("0xc2")
	if err := r.UpdateFee(ctx, owner, uint256.NewInt(5e15)); err != nil {
		t.Fatal(err)
	}
	if err := r.SetCollector(ctx, owner, next); err != nil {
		t.Fatal(err)
	}
	if err := r.RemoveExemptToken(ctx, owner, ocean); err != nil {
		t.Fatal(err)
	}

	_, restored := newRouter(t)
	if err := restored.Restore(ctx, ms); err != nil {
		t.Fatal(err)
	}
	snap := restored.Snapshot(ctx)
	if snap.Fee.Uint64() != 5e15 || snap.Collector != next || len(snap.Exempt) != 0 || snap.Owner != owner {
		t.Errorf("restored snapshot = %+v", snap)
	}
	if fee := restored.OPCFee(ctx, ocean); fee.Uint64() != 5e15 {
		t.Errorf("ocean fee after restore = %s, want 5e15", fee)
	}
}
