// Package config loads service configuration from the environment, an
// optional .env file, and an optional YAML/JSON file named by CONFIG_FILE.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/atmx/fixedrate-engine/internal/fixedpoint"
)

// DefaultEngineAddress is the custody address used when ENGINE_ADDRESS is unset.
var DefaultEngineAddress = common.BytesToAddress(crypto.Keccak256([]byte("fixedrate-engine")))

// Config holds application configuration.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	CacheTTL    time.Duration

	LogLevel  slog.Level
	LogFormat string // "json" or "text"

	// EngineAddress holds exchange custody and is the spender traders approve.
	EngineAddress common.Address

	RegistryOwner common.Address
	OPCCollector  common.Address
	OPCFee        *uint256.Int
	// OPCExemptTokens holds addresses or genesis token symbols.
	OPCExemptTokens []string

	ShutdownTimeout time.Duration
	RunMigrations   bool

	Genesis Genesis
}

// Genesis lists the tokens deployed at boot.
type Genesis struct {
	Tokens []GenesisToken `mapstructure:"tokens"`
}

// GenesisToken describes one boot-time token. Cap and balances are human
// decimal amounts.
type GenesisToken struct {
	Symbol   string            `mapstructure:"symbol"`
	Decimals uint8             `mapstructure:"decimals"`
	Cap      string            `mapstructure:"cap"`
	Minters  []string          `mapstructure:"minters"`
	Balances map[string]string `mapstructure:"balances"`
}

// Load reads configuration. A missing .env file is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("CACHE_TTL", "30s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("ENGINE_ADDRESS", DefaultEngineAddress.Hex())
	v.SetDefault("REGISTRY_OWNER", "")
	v.SetDefault("OPC_COLLECTOR", "")
	v.SetDefault("OPC_FEE", "0.001")
	v.SetDefault("OPC_EXEMPT_TOKENS", "")
	v.SetDefault("SHUTDOWN_TIMEOUT", "5s")
	v.SetDefault("RUN_MIGRATIONS", true)
	v.AutomaticEnv()

	if path := v.GetString("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{
		Port:          v.GetString("PORT"),
		DatabaseURL:   v.GetString("DATABASE_URL"),
		RedisURL:      v.GetString("REDIS_URL"),
		CacheTTL:      v.GetDuration("CACHE_TTL"),
		LogFormat:     strings.ToLower(v.GetString("LOG_FORMAT")),
		RunMigrations: v.GetBool("RUN_MIGRATIONS"),
	}
	cfg.ShutdownTimeout = v.GetDuration("SHUTDOWN_TIMEOUT")
	if cfg.ShutdownTimeout <= 0 {
		return nil, fmt.Errorf("SHUTDOWN_TIMEOUT must be positive")
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("LOG_FORMAT must be json or text, got %q", cfg.LogFormat)
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString("LOG_LEVEL"))); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	var err error
	if cfg.EngineAddress, err = address(v, "ENGINE_ADDRESS"); err != nil {
		return nil, err
	}
	if v.GetString("REGISTRY_OWNER") == "" {
		return nil, fmt.Errorf("REGISTRY_OWNER is required")
	}
	if cfg.RegistryOwner, err = address(v, "REGISTRY_OWNER"); err != nil {
		return nil, err
	}
	cfg.OPCCollector = cfg.RegistryOwner
	if v.GetString("OPC_COLLECTOR") != "" {
		if cfg.OPCCollector, err = address(v, "OPC_COLLECTOR"); err != nil {
			return nil, err
		}
	}
	if cfg.OPCFee, err = fixedpoint.ParseFraction(v.GetString("OPC_FEE")); err != nil {
		return nil, fmt.Errorf("OPC_FEE: %w", err)
	}
	for _, t := range strings.Split(v.GetString("OPC_EXEMPT_TOKENS"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			cfg.OPCExemptTokens = append(cfg.OPCExemptTokens, t)
		}
	}

	if err := v.UnmarshalKey("genesis", &cfg.Genesis); err != nil {
		return nil, fmt.Errorf("genesis: %w", err)
	}
	for i, t := range cfg.Genesis.Tokens {
		if t.Symbol == "" {
			return nil, fmt.Errorf("genesis.tokens[%d]: symbol is required", i)
		}
	}

	if cfg.DatabaseURL == "" {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
	}
	return cfg, nil
}

func address(v *viper.Viper, key string) (common.Address, error) {
	s := v.GetString(key)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%s: %q is not a hex address", key, s)
	}
	return common.HexToAddress(s), nil
}
