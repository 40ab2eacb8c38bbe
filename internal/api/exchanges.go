package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"github.com/atmx/fixedrate-engine/internal/exchange"
	"github.com/atmx/fixedrate-engine/internal/fixedpoint"
	"github.com/atmx/fixedrate-engine/internal/metrics"
	"github.com/atmx/fixedrate-engine/internal/model"
)

// --- Request/Response types ---

// CreateExchangeRequest is the JSON body for POST /exchanges. Rate and
// MarketFee are 18-decimal fixed point; a zero rate creates a dispenser.
type CreateExchangeRequest struct {
	DataToken          string `json:"data_token"`
	BaseToken          string `json:"base_token"`
	DTDecimals         uint8  `json:"dt_decimals"`
	BTDecimals         uint8  `json:"bt_decimals"`
	Rate               string `json:"rate"`
	MarketFee          string `json:"market_fee"`
	MarketFeeCollector string `json:"market_fee_collector"`
	WithMint           bool   `json:"with_mint"`
	AllowedSwapper     string `json:"allowed_swapper"`
}

// SwapRequest is the JSON body for /buy and /sell. Limit is the most a
// buyer pays or the least a seller accepts; empty means no limit.
type SwapRequest struct {
	DTAmount         string `json:"dt_amount"`
	Limit            string `json:"limit,omitempty"`
	ConsumeMarket    string `json:"consume_market,omitempty"`
	ConsumeMarketFee string `json:"consume_market_fee,omitempty"`
}

// RateRequest is the JSON body for PUT /rate.
type RateRequest struct {
	Rate string `json:"rate"`
}

// AddressRequest is the JSON body of endpoints that set one address.
type AddressRequest struct {
	Address string `json:"address"`
}

// WithMintRequest is the JSON body for PUT /with-mint.
type WithMintRequest struct {
	WithMint bool `json:"with_mint"`
}

// Display holds human-readable renderings of a response's amounts.
type Display struct {
	DTAmount   string `json:"dt_amount"`
	BaseAmount string `json:"base_amount"`
}

// SwapResponse is returned from /buy and /sell.
type SwapResponse struct {
	*model.Swap
	Display Display `json:"display"`
}

// QuoteResponse is returned from /quote/buy and /quote/sell.
type QuoteResponse struct {
	model.Quote
	Display Display `json:"display"`
}

// --- Exchange lifecycle ---

// ListExchanges handles GET /api/v1/exchanges
func (h *Handler) ListExchanges(w http.ResponseWriter, r *http.Request) {
	list, err := h.engine.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []*model.ExchangeView{}
	}
	writeJSON(w, http.StatusOK, list)
}

// CreateExchange handles POST /api/v1/exchanges
func (h *Handler) CreateExchange(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req CreateExchangeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	p, err := req.params()
	if err != nil {
		writeError(w, err)
		return
	}

	ex, err := h.engine.Create(r.Context(), from, p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ex)
}

func (req CreateExchangeRequest) params() (exchange.CreateParams, error) {
	p := exchange.CreateParams{
		DTDecimals: req.DTDecimals,
		BTDecimals: req.BTDecimals,
		WithMint:   req.WithMint,
	}
	var err error
	if p.DataToken, err = parseAddress(req.DataToken, "data_token"); err != nil {
		return p, err
	}
	if p.BaseToken, err = parseAddress(req.BaseToken, "base_token"); err != nil {
		return p, err
	}
	if p.Rate, err = parseAmount(req.Rate, "rate"); err != nil {
		return p, err
	}
	if p.MarketFee, err = parseAmount(req.MarketFee, "market_fee"); err != nil {
		return p, err
	}
	if p.MarketFeeCollector, err = optionalAddress(req.MarketFeeCollector, "market_fee_collector"); err != nil {
		return p, err
	}
	if p.AllowedSwapper, err = optionalAddress(req.AllowedSwapper, "allowed_swapper"); err != nil {
		return p, err
	}
	return p, nil
}

// GetExchange handles GET /api/v1/exchanges/{exchangeID}
func (h *Handler) GetExchange(w http.ResponseWriter, r *http.Request) {
	id, err := exchangeID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	view, err := h.engine.GetExchange(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetFeesInfo handles GET /api/v1/exchanges/{exchangeID}/fees
func (h *Handler) GetFeesInfo(w http.ResponseWriter, r *http.Request) {
	id, err := exchangeID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	info, err := h.engine.FeesInfo(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// GetRate handles GET /api/v1/exchanges/{exchangeID}/rate
func (h *Handler) GetRate(w http.ResponseWriter, r *http.Request) {
	id, err := exchangeID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	rate, err := h.engine.GetRate(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"rate":    rate.Dec(),
		"display": fixedpoint.Format(rate, fixedpoint.Precision),
	})
}

// SetRate handles PUT /api/v1/exchanges/{exchangeID}/rate
func (h *Handler) SetRate(w http.ResponseWriter, r *http.Request) {
	var req RateRequest
	h.exchangeAction(w, r, &req, func(ctx context.Context, from common.Address, id common.Hash) (*model.Event, error) {
		rate, err := parseAmount(req.Rate, "rate")
		if err != nil {
			return nil, err
		}
		return h.engine.SetRate(ctx, from, id, rate)
	})
}

// Toggle handles POST /api/v1/exchanges/{exchangeID}/toggle
func (h *Handler) Toggle(w http.ResponseWriter, r *http.Request) {
	h.exchangeAction(w, r, nil, h.engine.Toggle)
}

// SetAllowedSwapper handles PUT /api/v1/exchanges/{exchangeID}/allowed-swapper
func (h *Handler) SetAllowedSwapper(w http.ResponseWriter, r *http.Request) {
	var req AddressRequest
	h.exchangeAction(w, r, &req, func(ctx context.Context, from common.Address, id common.Hash) (*model.Event, error) {
		swapper, err := optionalAddress(req.Address, "address")
		if err != nil {
			return nil, err
		}
		return h.engine.SetAllowedSwapper(ctx, from, id, swapper)
	})
}

// SetWithMint handles PUT /api/v1/exchanges/{exchangeID}/with-mint
func (h *Handler) SetWithMint(w http.ResponseWriter, r *http.Request) {
	var req WithMintRequest
	h.exchangeAction(w, r, &req, func(ctx context.Context, from common.Address, id common.Hash) (*model.Event, error) {
		return h.engine.SetWithMint(ctx, from, id, req.WithMint)
	})
}

// UpdateMarketFeeCollector handles PUT /api/v1/exchanges/{exchangeID}/market-fee-collector
func (h *Handler) UpdateMarketFeeCollector(w http.ResponseWriter, r *http.Request) {
	var req AddressRequest
	h.exchangeAction(w, r, &req, func(ctx context.Context, from common.Address, id common.Hash) (*model.Event, error) {
		collector, err := parseAddress(req.Address, "address")
		if err != nil {
			return nil, err
		}
		return h.engine.UpdateMarketFeeCollector(ctx, from, id, collector)
	})
}

// --- Collection ---

// CollectBT handles POST /api/v1/exchanges/{exchangeID}/collect/bt
func (h *Handler) CollectBT(w http.ResponseWriter, r *http.Request) {
	h.exchangeAction(w, r, nil, h.engine.CollectBT)
}

// CollectDT handles POST /api/v1/exchanges/{exchangeID}/collect/dt
func (h *Handler) CollectDT(w http.ResponseWriter, r *http.Request) {
	h.exchangeAction(w, r, nil, h.engine.CollectDT)
}

// CollectMarketFee handles POST /api/v1/exchanges/{exchangeID}/collect/market-fee
func (h *Handler) CollectMarketFee(w http.ResponseWriter, r *http.Request) {
	h.exchangeAction(w, r, nil, h.engine.CollectMarketFee)
}

// CollectOceanFee handles POST /api/v1/exchanges/{exchangeID}/collect/ocean-fee
func (h *Handler) CollectOceanFee(w http.ResponseWriter, r *http.Request) {
	h.exchangeAction(w, r, nil, h.engine.CollectOceanFee)
}

// exchangeAction decodes the optional body into req, then runs an engine
// call keyed by caller and exchange id. Authorization is the engine's.
func (h *Handler) exchangeAction(w http.ResponseWriter, r *http.Request, req any,
	call func(ctx context.Context, from common.Address, id common.Hash) (*model.Event, error)) {
	from, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := exchangeID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if req != nil {
		if err := decode(r, req); err != nil {
			writeError(w, err)
			return
		}
	}
	ev, err := call(r.Context(), from, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// --- Swaps ---

// Buy handles POST /api/v1/exchanges/{exchangeID}/buy
func (h *Handler) Buy(w http.ResponseWriter, r *http.Request) {
	h.swap(w, r, model.Buy, h.engine.BuyDT)
}

// Sell handles POST /api/v1/exchanges/{exchangeID}/sell
func (h *Handler) Sell(w http.ResponseWriter, r *http.Request) {
	h.swap(w, r, model.Sell, h.engine.SellDT)
}

func (h *Handler) swap(w http.ResponseWriter, r *http.Request, dir model.Direction,
	call func(ctx context.Context, from common.Address, p exchange.SwapParams) (*model.Swap, error)) {
	start := time.Now()
	from, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := exchangeID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req SwapRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	p, err := req.params(id)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	ex, err := h.engine.GetExchange(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	swap, err := call(ctx, from, p)
	metrics.SwapLatency.WithLabelValues(string(dir)).Observe(time.Since(start).Seconds())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SwapResponse{
		Swap:    swap,
		Display: display(&ex.Exchange, swap.DTAmount, swap.BaseAmount),
	})
}

func (req SwapRequest) params(id common.Hash) (exchange.SwapParams, error) {
	p := exchange.SwapParams{ExchangeID: id}
	var err error
	if p.DTAmount, err = parseAmount(req.DTAmount, "dt_amount"); err != nil {
		return p, err
	}
	if req.Limit != "" {
		if p.Limit, err = parseAmount(req.Limit, "limit"); err != nil {
			return p, err
		}
	}
	if p.ConsumeMarket, err = optionalAddress(req.ConsumeMarket, "consume_market"); err != nil {
		return p, err
	}
	if p.ConsumeMarketFee, err = parseAmount(req.ConsumeMarketFee, "consume_market_fee"); err != nil {
		return p, err
	}
	return p, nil
}

// QuoteBuy handles GET /api/v1/exchanges/{exchangeID}/quote/buy
func (h *Handler) QuoteBuy(w http.ResponseWriter, r *http.Request) {
	h.quote(w, r, h.engine.QuoteBuy)
}

// QuoteSell handles GET /api/v1/exchanges/{exchangeID}/quote/sell
func (h *Handler) QuoteSell(w http.ResponseWriter, r *http.Request) {
	h.quote(w, r, h.engine.QuoteSell)
}

func (h *Handler) quote(w http.ResponseWriter, r *http.Request,
	call func(ctx context.Context, id common.Hash, dtAmount *uint256.Int, consumeMarket common.Address, consumeFee *uint256.Int) (model.Quote, error)) {
	id, err := exchangeID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	req := SwapRequest{
		DTAmount:         q.Get("dt_amount"),
		ConsumeMarket:    q.Get("consume_market"),
		ConsumeMarketFee: q.Get("consume_market_fee"),
	}
	p, err := req.params(id)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	ex, err := h.engine.GetExchange(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	quote, err := call(ctx, id, p.DTAmount, p.ConsumeMarket, p.ConsumeMarketFee)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, QuoteResponse{
		Quote:   quote,
		Display: display(&ex.Exchange, quote.DTAmount, quote.BaseAmount),
	})
}

func display(ex *model.Exchange, dtAmount, baseAmount *uint256.Int) Display {
	return Display{
		DTAmount:   fixedpoint.Format(dtAmount, ex.DTDecimals),
		BaseAmount: fixedpoint.Format(baseAmount, ex.BTDecimals),
	}
}

// --- Event history ---

// ListExchangeEvents handles GET /api/v1/exchanges/{exchangeID}/events
func (h *Handler) ListExchangeEvents(w http.ResponseWriter, r *http.Request) {
	id, err := exchangeID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	events, err := h.events.ListEvents(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []*model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// ListAccountEvents handles GET /api/v1/accounts/{address}/events
func (h *Handler) ListAccountEvents(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "address"), "address")
	if err != nil {
		writeError(w, err)
		return
	}
	events, err := h.events.ListEventsByAccount(r.Context(), addr)
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []*model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}
