package main

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClient_DecodesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Caller") != "0xb0b" {
			t.Errorf("expected caller header, got %q", r.Header.Get("X-Caller"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"Too many base tokens","code":30,"codespace":"fixedrate"}`))
	}))
	defer srv.Close()

	err := newClient(srv.URL+"/", "0xb0b").do("POST", "/exchanges/x/buy", map[string]string{}, nil)
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *apiError, got %v", err)
	}
	if apiErr.Status != http.StatusConflict || apiErr.Code != 30 {
		t.Errorf("unexpected error %+v", apiErr)
	}
	if got := apiErr.Error(); got != "Too many base tokens (fixedrate:30, HTTP 409)" {
		t.Errorf("unexpected message %q", got)
	}
}

func TestBaseUnits(t *testing.T) {
	tests := []struct {
		human    string
		decimals uint8
		want     string
		wantErr  bool
	}{
		{"", 18, "", false},
		{"1.5", 6, "1500000", false},
		{"0.001", 18, "1000000000000000", false},
		{"0.0000001", 6, "", true},
		{"abc", 18, "", true},
	}
	for _, tt := range tests {
		got, err := baseUnits(tt.human, tt.decimals)
		if (err != nil) != tt.wantErr {
			t.Errorf("baseUnits(%q, %d) error = %v, wantErr %v", tt.human, tt.decimals, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("baseUnits(%q, %d) = %q, want %q", tt.human, tt.decimals, got, tt.want)
		}
	}
}
