package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"github.com/atmx/fixedrate-engine/internal/api"
	"github.com/atmx/fixedrate-engine/internal/fixedpoint"
	"github.com/atmx/fixedrate-engine/internal/model"
)

// client talks to a running fixedrate-engine over its HTTP API.
type client struct {
	base string
	from string
	http *http.Client
}

func newClient(server, from string) *client {
	return &client{
		base: strings.TrimRight(server, "/") + "/api/v1",
		from: from,
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

type apiError struct {
	Status    int
	Message   string `json:"error"`
	Code      uint32 `json:"code"`
	Codespace string `json:"codespace"`
}

func (e *apiError) Error() string {
	if e.Codespace != "" {
		return fmt.Sprintf("%s (%s:%d, HTTP %d)", e.Message, e.Codespace, e.Code, e.Status)
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
}

func (c *client) do(method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.from != "" {
		req.Header.Set(api.CallerHeader, c.from)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &apiError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil {
			apiErr.Message = resp.Status
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// exchange fetches an exchange, mostly for its token decimals.
func (c *client) exchange(id string) (*model.ExchangeView, error) {
	var ex model.ExchangeView
	if err := c.do("GET", "/exchanges/"+id, nil, &ex); err != nil {
		return nil, err
	}
	return &ex, nil
}

func (c *client) token(addr string) (*api.TokenInfo, error) {
	var t api.TokenInfo
	if err := c.do("GET", "/tokens/"+addr, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// baseUnits converts a human amount to a base-unit string; empty stays empty.
func baseUnits(human string, decimals uint8) (string, error) {
	if human == "" {
		return "", nil
	}
	v, err := fixedpoint.Parse(human, decimals)
	if err != nil {
		return "", err
	}
	return v.Dec(), nil
}

func fraction(human string) (string, error) {
	return baseUnits(human, fixedpoint.Precision)
}

func formatAmount(v *uint256.Int, decimals uint8) string {
	return fixedpoint.Format(v, decimals)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
