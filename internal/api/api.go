// Package api exposes the exchange engine, the token ledger and the fee
// registry over HTTP.
//
// Amounts travel as base-unit decimal strings. The calling account is taken
// from the X-Caller header; requests are not signed.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"github.com/atmx/fixedrate-engine/internal/chain"
	"github.com/atmx/fixedrate-engine/internal/exchange"
	"github.com/atmx/fixedrate-engine/internal/metrics"
	"github.com/atmx/fixedrate-engine/internal/model"
	"github.com/atmx/fixedrate-engine/internal/registry"
	"github.com/atmx/fixedrate-engine/internal/store"
	"github.com/atmx/fixedrate-engine/internal/token"
)

// CallerHeader carries the hex address of the account making a request.
const CallerHeader = "X-Caller"

// Handler serves the HTTP API. Every state change goes through the shared
// chain runtime, so handlers may run concurrently.
type Handler struct {
	rt       *chain.Runtime
	engine   *exchange.Engine
	ledger   *token.Ledger
	registry *registry.Router
	events   store.Reader
	hub      *WSHub // optional
}

// NewHandler creates the API handler. Pass nil for hub if WebSocket
// streaming is not needed.
func NewHandler(rt *chain.Runtime, engine *exchange.Engine, ledger *token.Ledger, reg *registry.Router, events store.Reader, hub *WSHub) *Handler {
	return &Handler{
		rt:       rt,
		engine:   engine,
		ledger:   ledger,
		registry: reg,
		events:   events,
		hub:      hub,
	}
}

// Routes mounts every endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	if h.hub != nil {
		r.Get("/ws", h.hub.HandleWS)
	}

	r.Route("/exchanges", func(r chi.Router) {
		r.Get("/", h.ListExchanges)
		r.Post("/", h.CreateExchange)

		r.Route("/{exchangeID}", func(r chi.Router) {
			r.Get("/", h.GetExchange)
			r.Get("/fees", h.GetFeesInfo)
			r.Get("/rate", h.GetRate)
			r.Put("/rate", h.SetRate)
			r.Post("/toggle", h.Toggle)
			r.Put("/allowed-swapper", h.SetAllowedSwapper)
			r.Put("/with-mint", h.SetWithMint)
			r.Put("/market-fee-collector", h.UpdateMarketFeeCollector)

			r.Post("/buy", h.Buy)
			r.Post("/sell", h.Sell)
			r.Get("/quote/buy", h.QuoteBuy)
			r.Get("/quote/sell", h.QuoteSell)

			r.Post("/collect/bt", h.CollectBT)
			r.Post("/collect/dt", h.CollectDT)
			r.Post("/collect/market-fee", h.CollectMarketFee)
			r.Post("/collect/ocean-fee", h.CollectOceanFee)

			r.Get("/events", h.ListExchangeEvents)
		})
	})

	r.Get("/accounts/{address}/events", h.ListAccountEvents)

	r.Route("/tokens", func(r chi.Router) {
		r.Get("/", h.ListTokens)
		r.Post("/", h.DeployToken)
		r.Get("/{address}", h.GetToken)
		r.Get("/{address}/balances/{holder}", h.GetBalance)
		r.Post("/{address}/mint", h.Mint)
		r.Post("/{address}/approve", h.Approve)
		r.Post("/{address}/transfer", h.Transfer)
	})

	r.Route("/registry", func(r chi.Router) {
		r.Get("/", h.GetRegistry)
		r.Get("/changes", h.ListRegistryChanges)
		r.Put("/fee", h.UpdateOPCFee)
		r.Put("/collector", h.SetOPCCollector)
		r.Post("/exempt/{token}", h.AddExemptToken)
		r.Delete("/exempt/{token}", h.RemoveExemptToken)
	})
}

// --- Request helpers ---

func caller(r *http.Request) (common.Address, error) {
	v := r.Header.Get(CallerHeader)
	if !common.IsHexAddress(v) {
		return common.Address{}, errorsmod.Wrapf(model.ErrInvalidAddress, "%s header %q", CallerHeader, v)
	}
	return common.HexToAddress(v), nil
}

func parseAddress(s, what string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, errorsmod.Wrapf(model.ErrInvalidAddress, "%s %q", what, s)
	}
	return common.HexToAddress(s), nil
}

// optionalAddress accepts an empty string as the zero address.
func optionalAddress(s, what string) (common.Address, error) {
	if s == "" {
		return common.Address{}, nil
	}
	return parseAddress(s, what)
}

func exchangeID(r *http.Request) (common.Hash, error) {
	return parseHash(chi.URLParam(r, "exchangeID"))
}

func parseHash(v string) (common.Hash, error) {
	b, err := hexutil.Decode(v)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, errorsmod.Wrapf(model.ErrExchangeNotFound, "malformed exchange id %q", v)
	}
	return common.BytesToHash(b), nil
}

// parseAmount reads a base-unit decimal string. Empty means zero.
func parseAmount(s, what string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, errorsmod.Wrapf(model.ErrInvalidAmount, "%s %q: %v", what, s, err)
	}
	return v, nil
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errorsmod.Wrapf(model.ErrInvalidAmount, "invalid request body: %v", err)
	}
	return nil
}

// --- Responses ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error     string `json:"error"`
	Code      uint32 `json:"code"`
	Codespace string `json:"codespace"`
}

// writeError maps err to a status code and records the rejection.
func writeError(w http.ResponseWriter, err error) {
	class := classify(err)
	metrics.Reject(class)

	body := errorBody{Error: err.Error()}
	if codespace, code, _ := errorsmod.ABCIInfo(err, false); codespace == model.Codespace {
		body.Code, body.Codespace = code, codespace
	}
	writeJSON(w, statusFor(class), body)
}

// classify extends model.Classify with the token and store failures that
// reach the API unwrapped.
func classify(err error) model.Class {
	if c := model.Classify(err); c != model.ClassUnknown {
		return c
	}
	switch {
	case errors.Is(err, token.ErrInsufficientBalance), errors.Is(err, token.ErrInsufficientAllowance),
		errors.Is(err, token.ErrCapExceeded):
		return model.ClassConflict
	case errors.Is(err, token.ErrNotMinter):
		return model.ClassAuthorization
	case errors.Is(err, token.ErrZeroAddress):
		return model.ClassValidation
	case errors.Is(err, store.ErrNotFound):
		return model.ClassNotFound
	}
	return model.ClassUnknown
}

func statusFor(class model.Class) int {
	switch class {
	case model.ClassValidation:
		return http.StatusBadRequest
	case model.ClassNotFound:
		return http.StatusNotFound
	case model.ClassAuthorization:
		return http.StatusForbidden
	case model.ClassSlippage, model.ClassConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
