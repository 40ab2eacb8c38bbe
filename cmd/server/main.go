package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/fixedrate-engine/internal/api"
	"github.com/atmx/fixedrate-engine/internal/chain"
	"github.com/atmx/fixedrate-engine/internal/config"
	"github.com/atmx/fixedrate-engine/internal/exchange"
	"github.com/atmx/fixedrate-engine/internal/fixedpoint"
	"github.com/atmx/fixedrate-engine/internal/metrics"
	"github.com/atmx/fixedrate-engine/internal/registry"
	"github.com/atmx/fixedrate-engine/internal/store"
	"github.com/atmx/fixedrate-engine/internal/token"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	ctx := context.Background()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		if cfg.RunMigrations {
			if err := store.Migrate(cfg.DatabaseURL); err != nil {
				slog.Error("database migration failed", "err", err)
				os.Exit(1)
			}
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
		}
	} else {
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Runtime, tokens and registry ---
	rt := chain.NewRuntime()
	ledger := token.NewLedger(rt)
	symbols, err := deployGenesis(ctx, ledger, cfg.Genesis)
	if err != nil {
		slog.Error("genesis failed", "err", err)
		os.Exit(1)
	}
	if err := ledger.Restore(ctx, st); err != nil {
		slog.Error("token restore failed", "err", err)
		os.Exit(1)
	}

	exempt, err := resolveTokens(cfg.OPCExemptTokens, symbols)
	if err != nil {
		slog.Error("invalid OPC_EXEMPT_TOKENS", "err", err)
		os.Exit(1)
	}
	reg, err := registry.NewRouter(rt, cfg.RegistryOwner, cfg.OPCCollector, cfg.OPCFee, exempt...)
	if err != nil {
		slog.Error("invalid registry configuration", "err", err)
		os.Exit(1)
	}
	if err := reg.Restore(ctx, st); err != nil {
		slog.Error("registry restore failed", "err", err)
		os.Exit(1)
	}

	// --- Exchange engine ---
	engine := exchange.New(rt, ledger, reg, cfg.EngineAddress, exchange.WithLogger(logger))
	if err := engine.Restore(ctx, st); err != nil {
		slog.Error("restore failed", "err", err)
		os.Exit(1)
	}
	seq, err := st.LatestSeq(ctx)
	if err != nil {
		slog.Error("reading event sequence failed", "err", err)
		os.Exit(1)
	}
	rt.Resume(seq)
	store.Persist(rt, st, ledger, reg, engine)

	metrics.Exchanges.Set(float64(engine.Count(ctx)))
	if list, err := engine.List(ctx); err == nil {
		active := 0
		for _, ex := range list {
			if ex.Active {
				active++
			}
		}
		metrics.ActiveExchanges.Set(float64(active))
	}
	rt.AddListener(metrics.Observe)

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run()
	rt.AddListener(wsHub.Listener())

	apiHandler := api.NewHandler(rt, engine, ledger, reg, st, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for browser clients.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+api.CallerHeader)
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"fixedrate-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", apiHandler.Routes)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("fixedrate-engine listening",
			"port", cfg.Port,
			"engine", cfg.EngineAddress.Hex(),
			"exchanges", engine.Count(ctx),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	slog.Info("shutting down fixedrate-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	wsHub.Stop()
	fmt.Println("fixedrate-engine stopped")
}

// deployGenesis deploys the configured tokens and funds their initial
// balances. It returns the deployed addresses by symbol.
func deployGenesis(ctx context.Context, ledger *token.Ledger, g config.Genesis) (map[string]common.Address, error) {
	symbols := make(map[string]common.Address, len(g.Tokens))
	for _, gt := range g.Tokens {
		capacity, err := parseHuman(gt.Cap, gt.Decimals)
		if err != nil {
			return nil, fmt.Errorf("%s cap: %w", gt.Symbol, err)
		}
		minters, err := resolveTokens(gt.Minters, nil)
		if err != nil {
			return nil, fmt.Errorf("%s minters: %w", gt.Symbol, err)
		}
		tok, err := ledger.Deploy(ctx, token.DeployParams{
			Symbol:   gt.Symbol,
			Decimals: gt.Decimals,
			Cap:      capacity,
			Minters:  minters,
		})
		if err != nil {
			return nil, fmt.Errorf("deploy %s: %w", gt.Symbol, err)
		}
		for holder, human := range gt.Balances {
			if !common.IsHexAddress(holder) {
				return nil, fmt.Errorf("%s balance holder %q is not an address", gt.Symbol, holder)
			}
			amount, err := fixedpoint.Parse(human, gt.Decimals)
			if err != nil {
				return nil, fmt.Errorf("%s balance of %s: %w", gt.Symbol, holder, err)
			}
			if err := ledger.Faucet(ctx, tok.Address(), common.HexToAddress(holder), amount); err != nil {
				return nil, err
			}
		}
		symbols[gt.Symbol] = tok.Address()
		slog.Info("genesis token deployed",
			"symbol", gt.Symbol,
			"address", tok.Address().Hex(),
			"decimals", gt.Decimals,
		)
	}
	return symbols, nil
}

func parseHuman(s string, decimals uint8) (*uint256.Int, error) {
	if s == "" {
		return nil, nil
	}
	return fixedpoint.Parse(s, decimals)
}

// resolveTokens accepts hex addresses or genesis symbols.
func resolveTokens(names []string, symbols map[string]common.Address) ([]common.Address, error) {
	out := make([]common.Address, 0, len(names))
	for _, n := range names {
		if addr, ok := symbols[n]; ok {
			out = append(out, addr)
			continue
		}
		if !common.IsHexAddress(n) {
			return nil, fmt.Errorf("%q is neither an address nor a genesis symbol", n)
		}
		out = append(out, common.HexToAddress(n))
	}
	return out, nil
}
