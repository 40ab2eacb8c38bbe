package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/fixedrate-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All token amounts are stored as NUMERIC(78,0), wide enough for any
// 256-bit value.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const upsertExchange = `
INSERT INTO exchanges (id, nonce, data_token, base_token, dt_decimals, bt_decimals, fixed_rate,
                       owner, active, with_mint, allowed_swapper, dt_balance, bt_balance,
                       market_fee, market_fee_collector, market_fee_available, ocean_fee_available,
                       created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8, $9, $10, $11, $12::NUMERIC, $13::NUMERIC,
        $14::NUMERIC, $15, $16::NUMERIC, $17::NUMERIC, $18, now())
ON CONFLICT (id) DO UPDATE SET
    fixed_rate           = EXCLUDED.fixed_rate,
    owner                = EXCLUDED.owner,
    active               = EXCLUDED.active,
    with_mint            = EXCLUDED.with_mint,
    allowed_swapper      = EXCLUDED.allowed_swapper,
    dt_balance           = EXCLUDED.dt_balance,
    bt_balance           = EXCLUDED.bt_balance,
    market_fee_collector = EXCLUDED.market_fee_collector,
    market_fee_available = EXCLUDED.market_fee_available,
    ocean_fee_available  = EXCLUDED.ocean_fee_available,
    updated_at           = now()`

const insertEvent = `
INSERT INTO events (seq, id, type, exchange_id, caller, recipient, consume_market, address,
                    dt_amount, base_amount, timestamp, payload)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::NUMERIC, $10::NUMERIC, $11, $12)`

const selectExchange = `
SELECT id, nonce, data_token, base_token, dt_decimals, bt_decimals, fixed_rate::TEXT,
       owner, active, with_mint, allowed_swapper, dt_balance::TEXT, bt_balance::TEXT,
       market_fee::TEXT, market_fee_collector, market_fee_available::TEXT,
       ocean_fee_available::TEXT, created_at
FROM exchanges`

const upsertToken = `
INSERT INTO tokens (address, nonce, symbol, decimals, cap, total_supply, minters, updated_at)
VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, now())
ON CONFLICT (address) DO UPDATE SET
    total_supply = EXCLUDED.total_supply,
    minters      = EXCLUDED.minters,
    updated_at   = now()`

const upsertBalance = `
INSERT INTO token_balances (token, holder, balance) VALUES ($1, $2, $3::NUMERIC)
ON CONFLICT (token, holder) DO UPDATE SET balance = EXCLUDED.balance`

const upsertAllowance = `
INSERT INTO token_allowances (token, owner, spender, amount) VALUES ($1, $2, $3, $4::NUMERIC)
ON CONFLICT (token, owner, spender) DO UPDATE SET amount = EXCLUDED.amount`

const upsertRegistry = `
INSERT INTO registry (id, collector, fee, exempt, updated_at) VALUES (1, $1, $2::NUMERIC, $3, now())
ON CONFLICT (id) DO UPDATE SET
    collector  = EXCLUDED.collector,
    fee        = EXCLUDED.fee,
    exempt     = EXCLUDED.exempt,
    updated_at = now()`

const insertRegistryChange = `
INSERT INTO registry_changes (seq, id, type, caller, timestamp, payload)
VALUES ($1, $2, $3, $4, $5, $6)`

const selectToken = `
SELECT address, nonce, symbol, decimals, cap::TEXT, total_supply::TEXT, minters
FROM tokens`

// Apply writes the batch in one database transaction.
func (s *PostgresStore) Apply(ctx context.Context, b Batch) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, ex := range b.Exchanges {
		if _, err := tx.Exec(ctx, upsertExchange, exchangeArgs(ex)...); err != nil {
			return fmt.Errorf("upsert exchange %s: %w", ex.ID.Hex(), err)
		}
	}

	for _, ev := range b.Events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", ev.ID, err)
		}
		if _, err := tx.Exec(ctx, insertEvent,
			int64(ev.Seq), ev.ID, string(ev.Type), ev.ExchangeID.Hex(),
			ev.Caller.Hex(), ev.Recipient.Hex(), ev.ConsumeMarket.Hex(), ev.Address.Hex(),
			decOrNil(ev.DTAmount), decOrNil(ev.BaseAmount), ev.Timestamp, payload,
		); err != nil {
			return fmt.Errorf("insert event %s: %w", ev.ID, err)
		}
	}

	// Token headers first: balances and allowances reference them.
	for _, t := range b.Tokens {
		if _, err := tx.Exec(ctx, upsertToken, tokenArgs(t)...); err != nil {
			return fmt.Errorf("upsert token %s: %w", t.Address.Hex(), err)
		}
	}
	for _, bal := range b.Balances {
		if _, err := tx.Exec(ctx, upsertBalance, bal.Token.Hex(), bal.Holder.Hex(), bal.Amount.Dec()); err != nil {
			return fmt.Errorf("upsert balance %s/%s: %w", bal.Token.Hex(), bal.Holder.Hex(), err)
		}
	}
	for _, a := range b.Allowances {
		if _, err := tx.Exec(ctx, upsertAllowance, a.Token.Hex(), a.Owner.Hex(), a.Spender.Hex(), a.Amount.Dec()); err != nil {
			return fmt.Errorf("upsert allowance %s/%s: %w", a.Token.Hex(), a.Owner.Hex(), err)
		}
	}

	if b.Registry != nil {
		if _, err := tx.Exec(ctx, upsertRegistry,
			b.Registry.Collector.Hex(), b.Registry.Fee.Dec(), hexes(b.Registry.Exempt),
		); err != nil {
			return fmt.Errorf("upsert registry: %w", err)
		}
	}
	for _, c := range b.RegistryChanges {
		payload, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("encode registry change %s: %w", c.ID, err)
		}
		if _, err := tx.Exec(ctx, insertRegistryChange,
			int64(c.Seq), c.ID, string(c.Type), c.Caller.Hex(), c.Timestamp, payload,
		); err != nil {
			return fmt.Errorf("insert registry change %s: %w", c.ID, err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ListExchanges(ctx context.Context) ([]*model.Exchange, error) {
	rows, err := s.pool.Query(ctx, selectExchange+` ORDER BY nonce`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Exchange
	for rows.Next() {
		ex, err := scanExchange(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetExchange(ctx context.Context, id common.Hash) (*model.Exchange, error) {
	ex, err := scanExchange(s.pool.QueryRow(ctx, selectExchange+` WHERE id = $1`, id.Hex()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: exchange %s", ErrNotFound, id.Hex())
	}
	if err != nil {
		return nil, fmt.Errorf("get exchange %s: %w", id.Hex(), err)
	}
	return ex, nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, exchangeID common.Hash) ([]*model.Event, error) {
	return s.queryEvents(ctx,
		`SELECT payload FROM events WHERE exchange_id = $1 ORDER BY seq`, exchangeID.Hex())
}

func (s *PostgresStore) ListEventsByAccount(ctx context.Context, addr common.Address) ([]*model.Event, error) {
	return s.queryEvents(ctx,
		`SELECT payload FROM events
		 WHERE caller = $1 OR recipient = $1 OR consume_market = $1 OR address = $1
		 ORDER BY seq`, addr.Hex())
}

func (s *PostgresStore) LatestSeq(ctx context.Context) (uint64, error) {
	var seq int64
	if err := s.pool.QueryRow(ctx, `
		SELECT GREATEST(
			(SELECT COALESCE(MAX(seq), 0) FROM events),
			(SELECT COALESCE(MAX(seq), 0) FROM registry_changes))`).Scan(&seq); err != nil {
		return 0, err
	}
	return uint64(seq), nil
}

func (s *PostgresStore) ListTokens(ctx context.Context) ([]*TokenRecord, error) {
	rows, err := s.pool.Query(ctx, selectToken+` ORDER BY nonce`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*TokenRecord
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListBalances(ctx context.Context) ([]BalanceRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT token, holder, balance::TEXT FROM token_balances`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BalanceRecord
	for rows.Next() {
		var tok, holder, amount string
		if err := rows.Scan(&tok, &holder, &amount); err != nil {
			return nil, err
		}
		v, err := parseNumeric(amount)
		if err != nil {
			return nil, fmt.Errorf("balance %s/%s: %w", tok, holder, err)
		}
		out = append(out, BalanceRecord{Token: common.HexToAddress(tok), Holder: common.HexToAddress(holder), Amount: v})
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListAllowances(ctx context.Context) ([]AllowanceRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT token, owner, spender, amount::TEXT FROM token_allowances`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AllowanceRecord
	for rows.Next() {
		var tok, owner, spender, amount string
		if err := rows.Scan(&tok, &owner, &spender, &amount); err != nil {
			return nil, err
		}
		v, err := parseNumeric(amount)
		if err != nil {
			return nil, fmt.Errorf("allowance %s/%s: %w", tok, owner, err)
		}
		out = append(out, AllowanceRecord{
			Token: common.HexToAddress(tok), Owner: common.HexToAddress(owner),
			Spender: common.HexToAddress(spender), Amount: v,
		})
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetRegistry(ctx context.Context) (*RegistryRecord, error) {
	var (
		collector, fee string
		exempt         []string
	)
	err := s.pool.QueryRow(ctx, `SELECT collector, fee::TEXT, exempt FROM registry WHERE id = 1`).
		Scan(&collector, &fee, &exempt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: registry", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get registry: %w", err)
	}
	rec := &RegistryRecord{Collector: common.HexToAddress(collector), Exempt: addresses(exempt)}
	if rec.Fee, err = parseNumeric(fee); err != nil {
		return nil, fmt.Errorf("registry fee: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) ListRegistryChanges(ctx context.Context) ([]*model.RegistryChange, error) {
	rows, err := s.pool.Query(ctx, `SELECT payload FROM registry_changes ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.RegistryChange
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var c model.RegistryChange
		if err := json.Unmarshal(payload, &c); err != nil {
			return nil, fmt.Errorf("decode registry change: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) queryEvents(ctx context.Context, sql string, args ...any) ([]*model.Event, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*model.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var ev model.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

func scanExchange(row pgx.Row) (*model.Exchange, error) {
	var (
		ex                              model.Exchange
		id, dataToken, baseToken, owner string
		swapper, collector              string
		rate, dtBal, btBal, fee         string
		feeAvail, ocean                 string
		nonce                           int64
		dtDec, btDec                    int16
	)
	if err := row.Scan(&id, &nonce, &dataToken, &baseToken, &dtDec, &btDec, &rate,
		&owner, &ex.Active, &ex.WithMint, &swapper, &dtBal, &btBal,
		&fee, &collector, &feeAvail, &ocean, &ex.CreatedAt); err != nil {
		return nil, err
	}

	ex.ID = common.HexToHash(id)
	ex.Nonce = uint64(nonce)
	ex.DataToken = common.HexToAddress(dataToken)
	ex.BaseToken = common.HexToAddress(baseToken)
	ex.DTDecimals = uint8(dtDec)
	ex.BTDecimals = uint8(btDec)
	ex.Owner = common.HexToAddress(owner)
	ex.AllowedSwapper = common.HexToAddress(swapper)
	ex.MarketFeeCollector = common.HexToAddress(collector)

	var err error
	for _, f := range []struct {
		dst **uint256.Int
		src string
	}{
		{&ex.FixedRate, rate}, {&ex.DTBalance, dtBal}, {&ex.BTBalance, btBal},
		{&ex.MarketFee, fee}, {&ex.MarketFeeAvailable, feeAvail}, {&ex.OceanFeeAvailable, ocean},
	} {
		if *f.dst, err = parseNumeric(f.src); err != nil {
			return nil, fmt.Errorf("exchange %s: %w", id, err)
		}
	}
	return &ex, nil
}

// --- Row encoding ---

// exchangeArgs orders ex the way upsertExchange and selectExchange list
// their columns.
func exchangeArgs(ex *model.Exchange) []any {
	return []any{
		ex.ID.Hex(), int64(ex.Nonce), ex.DataToken.Hex(), ex.BaseToken.Hex(),
		int16(ex.DTDecimals), int16(ex.BTDecimals), ex.FixedRate.Dec(),
		ex.Owner.Hex(), ex.Active, ex.WithMint, ex.AllowedSwapper.Hex(),
		ex.DTBalance.Dec(), ex.BTBalance.Dec(),
		ex.MarketFee.Dec(), ex.MarketFeeCollector.Hex(),
		ex.MarketFeeAvailable.Dec(), ex.OceanFeeAvailable.Dec(),
		ex.CreatedAt,
	}
}

// tokenArgs orders t the way upsertToken and selectToken list their columns.
func tokenArgs(t *TokenRecord) []any {
	return []any{
		t.Address.Hex(), int64(t.Nonce), t.Symbol, int16(t.Decimals),
		t.Cap.Dec(), t.TotalSupply.Dec(), hexes(t.Minters),
	}
}

func scanToken(row pgx.Row) (*TokenRecord, error) {
	var (
		t                   TokenRecord
		addr, supply, limit string
		nonce               int64
		decimals            int16
		minters             []string
	)
	if err := row.Scan(&addr, &nonce, &t.Symbol, &decimals, &limit, &supply, &minters); err != nil {
		return nil, err
	}
	t.Address = common.HexToAddress(addr)
	t.Nonce = uint64(nonce)
	t.Decimals = uint8(decimals)
	t.Minters = addresses(minters)

	var err error
	if t.Cap, err = parseNumeric(limit); err != nil {
		return nil, fmt.Errorf("token %s cap: %w", addr, err)
	}
	if t.TotalSupply, err = parseNumeric(supply); err != nil {
		return nil, fmt.Errorf("token %s supply: %w", addr, err)
	}
	return &t, nil
}

// parseNumeric reads a NUMERIC(78,0) column selected as TEXT.
func parseNumeric(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return v, nil
}

func hexes(addrs []common.Address) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Hex()
	}
	return out
}

func addresses(vals []string) []common.Address {
	out := make([]common.Address, 0, len(vals))
	for _, h := range vals {
		out = append(out, common.HexToAddress(h))
	}
	return out
}

func decOrNil(v *uint256.Int) any {
	if v == nil {
		return nil
	}
	return v.Dec()
}
