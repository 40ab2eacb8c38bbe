package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

const owner = "0x00000000000000000000000000000000000a11ce"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("REGISTRY_OWNER", owner)

	cfg, err := load(viper.New())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Port)
	}
	if cfg.CacheTTL != 30*time.Second || cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("unexpected durations ttl=%s shutdown=%s", cfg.CacheTTL, cfg.ShutdownTimeout)
	}
	if cfg.LogLevel != slog.LevelInfo || cfg.LogFormat != "json" {
		t.Errorf("unexpected logging config %s/%s", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.EngineAddress != DefaultEngineAddress {
		t.Errorf("expected default engine address, got %s", cfg.EngineAddress.Hex())
	}
	if cfg.OPCCollector != common.HexToAddress(owner) {
		t.Errorf("expected collector to default to the registry owner, got %s", cfg.OPCCollector.Hex())
	}
	if cfg.OPCFee.Uint64() != 1e15 {
		t.Errorf("expected 0.001 fee (1e15), got %s", cfg.OPCFee)
	}
	if !cfg.RunMigrations {
		t.Error("expected migrations to run by default")
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("REGISTRY_OWNER", owner)
	t.Setenv("OPC_COLLECTOR", "0x0000000000000000000000000000000000000bc0")
	t.Setenv("OPC_FEE", "0.0025")
	t.Setenv("OPC_EXEMPT_TOKENS", " OCEAN , 0x00000000000000000000000000000000000000aa,")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "TEXT")
	t.Setenv("RUN_MIGRATIONS", "false")

	cfg, err := load(viper.New())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OPCFee.Uint64() != 25e14 {
		t.Errorf("expected fee 25e14, got %s", cfg.OPCFee)
	}
	if len(cfg.OPCExemptTokens) != 2 || cfg.OPCExemptTokens[0] != "OCEAN" {
		t.Errorf("unexpected exempt list %q", cfg.OPCExemptTokens)
	}
	if cfg.LogLevel != slog.LevelDebug || cfg.LogFormat != "text" {
		t.Errorf("unexpected logging config %s/%s", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.RunMigrations {
		t.Error("expected migrations disabled")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing owner", map[string]string{}},
		{"bad owner", map[string]string{"REGISTRY_OWNER": "alice"}},
		{"bad fee", map[string]string{"REGISTRY_OWNER": owner, "OPC_FEE": "-1"}},
		{"bad level", map[string]string{"REGISTRY_OWNER": owner, "LOG_LEVEL": "loud"}},
		{"bad format", map[string]string{"REGISTRY_OWNER": owner, "LOG_FORMAT": "xml"}},
		{"bad engine", map[string]string{"REGISTRY_OWNER": owner, "ENGINE_ADDRESS": "0x12"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("REGISTRY_OWNER", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := load(viper.New()); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestLoad_GenesisFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fre.yaml")
	body := `
port: "9090"
genesis:
  tokens:
    - symbol: OCEAN
      decimals: 18
      balances:
        "0x0000000000000000000000000000000000000b0b": "1000"
    - symbol: USDC
      decimals: 6
      cap: "1000000"
      minters: ["0x000000000000000000000000000000000000e0e0"]
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("REGISTRY_OWNER", owner)
	t.Setenv("CONFIG_FILE", path)

	cfg, err := load(viper.New())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("expected port from file, got %s", cfg.Port)
	}
	if len(cfg.Genesis.Tokens) != 2 {
		t.Fatalf("expected 2 genesis tokens, got %d", len(cfg.Genesis.Tokens))
	}
	ocean, usdc := cfg.Genesis.Tokens[0], cfg.Genesis.Tokens[1]
	if ocean.Symbol != "OCEAN" || ocean.Decimals != 18 || len(ocean.Balances) != 1 {
		t.Errorf("unexpected OCEAN entry %+v", ocean)
	}
	for addr, amount := range ocean.Balances {
		if common.HexToAddress(addr) != common.HexToAddress("0xb0b") || amount != "1000" {
			t.Errorf("unexpected balance %s=%s", addr, amount)
		}
	}
	if usdc.Cap != "1000000" || len(usdc.Minters) != 1 {
		t.Errorf("unexpected USDC entry %+v", usdc)
	}
}
