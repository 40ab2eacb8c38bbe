package api

import (
	"context"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"github.com/atmx/fixedrate-engine/internal/chain"
	"github.com/atmx/fixedrate-engine/internal/fixedpoint"
	"github.com/atmx/fixedrate-engine/internal/model"
	"github.com/atmx/fixedrate-engine/internal/token"
)

// TokenInfo describes a deployed token.
type TokenInfo struct {
	Address     common.Address `json:"address"`
	Symbol      string         `json:"symbol"`
	Decimals    uint8          `json:"decimals"`
	TotalSupply *uint256.Int   `json:"total_supply"`
	Cap         *uint256.Int   `json:"cap"`
	Display     string         `json:"display"`
}

// DeployTokenRequest is the JSON body for POST /tokens.
type DeployTokenRequest struct {
	Symbol   string   `json:"symbol"`
	Decimals uint8    `json:"decimals"`
	Cap      string   `json:"cap,omitempty"`
	Minters  []string `json:"minters,omitempty"`
}

// TokenActionRequest is the JSON body for mint, approve and transfer. To
// names the recipient, or the spender for approve.
type TokenActionRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// BalanceResponse is returned from GET /tokens/{address}/balances/{holder}.
type BalanceResponse struct {
	Token     common.Address `json:"token"`
	Holder    common.Address `json:"holder"`
	Balance   *uint256.Int   `json:"balance"`
	Allowance *uint256.Int   `json:"engine_allowance"`
	Display   string         `json:"display"`
}

func tokenInfo(ctx context.Context, t *token.ERC20) TokenInfo {
	supply := t.TotalSupply(ctx)
	return TokenInfo{
		Address:     t.Address(),
		Symbol:      t.Symbol(),
		Decimals:    t.Decimals(),
		TotalSupply: supply,
		Cap:         t.Cap(ctx),
		Display:     fixedpoint.Format(supply, t.Decimals()),
	}
}

// ListTokens handles GET /api/v1/tokens
func (h *Handler) ListTokens(w http.ResponseWriter, r *http.Request) {
	out := []TokenInfo{}
	err := h.rt.View(r.Context(), func(ctx context.Context) error {
		for _, t := range h.ledger.List() {
			out = append(out, tokenInfo(ctx, t))
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// DeployToken handles POST /api/v1/tokens
func (h *Handler) DeployToken(w http.ResponseWriter, r *http.Request) {
	var req DeployTokenRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	p := token.DeployParams{Symbol: req.Symbol, Decimals: req.Decimals}
	var err error
	if p.Cap, err = parseAmount(req.Cap, "cap"); err != nil {
		writeError(w, err)
		return
	}
	for _, m := range req.Minters {
		addr, err := parseAddress(m, "minter")
		if err != nil {
			writeError(w, err)
			return
		}
		p.Minters = append(p.Minters, addr)
	}

	t, err := h.ledger.Deploy(r.Context(), p)
	if err != nil {
		writeError(w, err)
		return
	}
	var info TokenInfo
	h.rt.View(r.Context(), func(ctx context.Context) error {
		info = tokenInfo(ctx, t)
		return nil
	})
	writeJSON(w, http.StatusCreated, info)
}

// GetToken handles GET /api/v1/tokens/{address}
func (h *Handler) GetToken(w http.ResponseWriter, r *http.Request) {
	var info TokenInfo
	err := h.withToken(r, func(ctx context.Context, t *token.ERC20) error {
		info = tokenInfo(ctx, t)
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// GetBalance handles GET /api/v1/tokens/{address}/balances/{holder}
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	holder, err := parseAddress(chi.URLParam(r, "holder"), "holder")
	if err != nil {
		writeError(w, err)
		return
	}
	var resp BalanceResponse
	err = h.withToken(r, func(ctx context.Context, t *token.ERC20) error {
		bal := t.BalanceOf(ctx, holder)
		resp = BalanceResponse{
			Token:     t.Address(),
			Holder:    holder,
			Balance:   bal,
			Allowance: t.Allowance(ctx, holder, h.engine.Address()),
			Display:   fixedpoint.Format(bal, t.Decimals()),
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) withToken(r *http.Request, fn func(ctx context.Context, t *token.ERC20) error) error {
	addr, err := parseAddress(chi.URLParam(r, "address"), "token")
	if err != nil {
		return err
	}
	return h.rt.View(r.Context(), func(ctx context.Context) error {
		t, err := h.ledger.ERC20(addr)
		if err != nil {
			return err
		}
		return fn(ctx, t)
	})
}

// Mint handles POST /api/v1/tokens/{address}/mint
func (h *Handler) Mint(w http.ResponseWriter, r *http.Request) {
	h.tokenAction(w, r, (*token.ERC20).Mint)
}

// Approve handles POST /api/v1/tokens/{address}/approve
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.tokenAction(w, r, (*token.ERC20).Approve)
}

// Transfer handles POST /api/v1/tokens/{address}/transfer
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	h.tokenAction(w, r, (*token.ERC20).Transfer)
}

func (h *Handler) tokenAction(w http.ResponseWriter, r *http.Request,
	call func(t *token.ERC20, ctx context.Context, from, to common.Address, amount *uint256.Int) error) {
	from, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	addr, err := parseAddress(chi.URLParam(r, "address"), "token")
	if err != nil {
		writeError(w, err)
		return
	}
	var req TokenActionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	to, err := parseAddress(req.To, "to")
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount, "amount")
	if err != nil {
		writeError(w, err)
		return
	}

	var resp BalanceResponse
	err = h.rt.Execute(r.Context(), func(ctx context.Context, _ *chain.Tx) error {
		t, err := h.ledger.ERC20(addr)
		if err != nil {
			return err
		}
		if err := call(t, ctx, from, to, amount); err != nil {
			return err
		}
		bal := t.BalanceOf(ctx, to)
		resp = BalanceResponse{
			Token:     addr,
			Holder:    to,
			Balance:   bal,
			Allowance: t.Allowance(ctx, to, h.engine.Address()),
			Display:   fixedpoint.Format(bal, t.Decimals()),
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Registry ---

// FeeRequest is the JSON body for PUT /registry/fee.
type FeeRequest struct {
	Fee string `json:"fee"`
}

// GetRegistry handles GET /api/v1/registry
func (h *Handler) GetRegistry(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.Snapshot(r.Context()))
}

// ListRegistryChanges handles GET /api/v1/registry/changes
func (h *Handler) ListRegistryChanges(w http.ResponseWriter, r *http.Request) {
	changes, err := h.events.ListRegistryChanges(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if changes == nil {
		changes = []*model.RegistryChange{}
	}
	writeJSON(w, http.StatusOK, changes)
}

// UpdateOPCFee handles PUT /api/v1/registry/fee
func (h *Handler) UpdateOPCFee(w http.ResponseWriter, r *http.Request) {
	var req FeeRequest
	h.registryAction(w, r, &req, func(ctx context.Context, from common.Address) error {
		fee, err := parseAmount(req.Fee, "fee")
		if err != nil {
			return err
		}
		return h.registry.UpdateFee(ctx, from, fee)
	})
}

// SetOPCCollector handles PUT /api/v1/registry/collector
func (h *Handler) SetOPCCollector(w http.ResponseWriter, r *http.Request) {
	var req AddressRequest
	h.registryAction(w, r, &req, func(ctx context.Context, from common.Address) error {
		collector, err := parseAddress(req.Address, "address")
		if err != nil {
			return err
		}
		return h.registry.SetCollector(ctx, from, collector)
	})
}

// AddExemptToken handles POST /api/v1/registry/exempt/{token}
func (h *Handler) AddExemptToken(w http.ResponseWriter, r *http.Request) {
	h.registryAction(w, r, nil, func(ctx context.Context, from common.Address) error {
		t, err := parseAddress(chi.URLParam(r, "token"), "token")
		if err != nil {
			return err
		}
		return h.registry.AddExemptToken(ctx, from, t)
	})
}

// RemoveExemptToken handles DELETE /api/v1/registry/exempt/{token}
func (h *Handler) RemoveExemptToken(w http.ResponseWriter, r *http.Request) {
	h.registryAction(w, r, nil, func(ctx context.Context, from common.Address) error {
		t, err := parseAddress(chi.URLParam(r, "token"), "token")
		if err != nil {
			return err
		}
		return h.registry.RemoveExemptToken(ctx, from, t)
	})
}

func (h *Handler) registryAction(w http.ResponseWriter, r *http.Request, req any,
	call func(ctx context.Context, from common.Address) error) {
	from, err := caller(r)
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
	if err := call(r.Context(), from); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.registry.Snapshot(r.Context()))
}
