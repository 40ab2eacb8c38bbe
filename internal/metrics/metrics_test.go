package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/atmx/fixedrate-engine/internal/chain"
	"github.com/atmx/fixedrate-engine/internal/model"
)

func TestObserve_CountsCommittedEvents(t *testing.T) {
	id := common.HexToHash("0x01")
	buysBefore := testutil.ToFloat64(SwapsTotal.WithLabelValues("buy"))
	volumeBefore := testutil.ToFloat64(BaseVolume.WithLabelValues(id.Hex(), "buy"))
	activeBefore := testutil.ToFloat64(ActiveExchanges)
	collectedBefore := testutil.ToFloat64(FeesCollected.WithLabelValues(string(model.EventMarketFeeCollected)))

	Observe([]chain.Log{
		{Seq: 1, Data: &model.Event{Type: model.EventExchangeCreated, ExchangeID: id}},
		{Seq: 2, Data: &model.Event{Type: model.EventSwapped, ExchangeID: id, Direction: model.Buy, BaseAmount: uint256.NewInt(250)}},
		{Seq: 3, Data: &model.Event{Type: model.EventDispensed, ExchangeID: id, Direction: model.Buy}},
		{Seq: 4, Data: &model.Event{Type: model.EventMarketFeeCollected, ExchangeID: id}},
		{Seq: 5, Data: &model.Event{Type: model.EventExchangeDeactivated, ExchangeID: id}},
		{Seq: 6, Data: "not an engine event"},
	})

	if got := testutil.ToFloat64(SwapsTotal.WithLabelValues("buy")) - buysBefore; got != 2 {
		t.Errorf("expected 2 buys, got %v", got)
	}
	if got := testutil.ToFloat64(BaseVolume.WithLabelValues(id.Hex(), "buy")) - volumeBefore; got != 250 {
		t.Errorf("expected volume 250, got %v", got)
	}
	if got := testutil.ToFloat64(ActiveExchanges) - activeBefore; got != 0 {
		t.Errorf("expected create and deactivate to cancel out, got %v", got)
	}
	if got := testutil.ToFloat64(FeesCollected.WithLabelValues(string(model.EventMarketFeeCollected))) - collectedBefore; got != 1 {
		t.Errorf("expected 1 market fee collection, got %v", got)
	}
}

func TestReject(t *testing.T) {
	before := testutil.ToFloat64(Rejections.WithLabelValues("slippage"))
	Reject(model.ClassSlippage)
	if got := testutil.ToFloat64(Rejections.WithLabelValues("slippage")) - before; got != 1 {
		t.Errorf("expected 1 slippage rejection, got %v", got)
	}
	if ClassLabel(model.ClassUnknown) != "other" {
		t.Errorf("unknown class should be labelled other")
	}
}

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/exchanges/{exchangeID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/exchanges/{exchangeID}", "404"))
	req := httptest.NewRequest("GET", "/exchanges/0xabc", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	if got := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/exchanges/{exchangeID}", "404")) - before; got != 1 {
		t.Errorf("expected request counted under route pattern, got %v", got)
	}
}
