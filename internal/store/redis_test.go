package store

import (
	"slices"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/atmx/fixedrate-engine/internal/model"
)

func TestInvalidationKeys(t *testing.T) {
	ex := testExchange(0)
	trader := common.HexToAddress("0xb0b")
	market := common.HexToAddress("0xc0c0")

	tests := []struct {
		name  string
		batch Batch
		want  []string
		skip  []string
	}{
		{
			name:  "exchange snapshot",
			batch: Batch{Exchanges: []*model.Exchange{ex}},
			want:  []string{exchangesKey, exchangeKey(ex.ID)},
			skip:  []string{registryChangesKey},
		},
		{
			name: "swap event",
			batch: Batch{Events: []*model.Event{
				{ExchangeID: ex.ID, Caller: trader, ConsumeMarket: market},
			}},
			want: []string{eventsKey(ex.ID), accountKey(trader), accountKey(market)},
			skip: []string{accountKey(common.Address{})},
		},
		{
			name:  "registry change",
			batch: Batch{RegistryChanges: []*model.RegistryChange{{ID: "c1"}}},
			want:  []string{registryChangesKey},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys := invalidationKeys(tt.batch)
			for _, k := range tt.want {
				if !slices.Contains(keys, k) {
					t.Errorf("missing key %s in %v", k, keys)
				}
			}
			for _, k := range tt.skip {
				if slices.Contains(keys, k) {
					t.Errorf("unexpected key %s in %v", k, keys)
				}
			}
		})
	}
}
