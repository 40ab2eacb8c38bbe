package store

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/atmx/fixedrate-engine/internal/model"
)

// argRow replays insert arguments as a scanned row, the way pgx hands back
// the columns selectExchange and selectToken list.
type argRow []any

func (r argRow) Scan(dest ...any) error {
	if len(dest) != len(r) {
		return fmt.Errorf("scan: %d destinations for %d columns", len(dest), len(r))
	}
	for i, d := range dest {
		dv := reflect.ValueOf(d).Elem()
		sv := reflect.ValueOf(r[i])
		if !sv.Type().AssignableTo(dv.Type()) {
			return fmt.Errorf("scan column %d: cannot assign %s to %s", i, sv.Type(), dv.Type())
		}
		dv.Set(sv)
	}
	return nil
}

func TestParseNumeric(t *testing.T) {
	maxUint := new(uint256.Int).SetAllOne()
	tests := []struct {
		in      string
		want    *uint256.Int
		wantErr bool
	}{
		{in: "0", want: new(uint256.Int)},
		{in: "1000000000000000000", want: uint256.NewInt(1e18)},
		{in: maxUint.Dec(), want: maxUint},
		{in: "115792089237316195423570985008687907853269984665640564039457584007913129639936", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "1.5", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseNumeric(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %s", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if !got.Eq(tt.want) {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestExchangeRow_RoundTrip(t *testing.T) {
	maxUint := new(uint256.Int).SetAllOne()
	tests := []struct {
		name string
		ex   *model.Exchange
	}{
		{"zero balances", &model.Exchange{
			ID: common.HexToHash("0x01"), Nonce: 0,
			DataToken: common.HexToAddress("0xd7"), BaseToken: common.HexToAddress("0xba5e"),
			DTDecimals: 18, BTDecimals: 6, FixedRate: uint256.NewInt(1e18),
			Owner: common.HexToAddress("0xa11ce"), Active: true,
			DTBalance: new(uint256.Int), BTBalance: new(uint256.Int),
			MarketFee: new(uint256.Int), MarketFeeAvailable: new(uint256.Int), OceanFeeAvailable: new(uint256.Int),
			CreatedAt: time.Unix(1700000000, 0).UTC(),
		}},
		{"full width amounts", &model.Exchange{
			ID: common.HexToHash("0xff"), Nonce: 42,
			DataToken: common.HexToAddress("0xd7"), BaseToken: common.HexToAddress("0xba5e"),
			DTDecimals: 0, BTDecimals: 18, FixedRate: maxUint,
			Owner: common.HexToAddress("0xa11ce"), WithMint: true,
			AllowedSwapper: common.HexToAddress("0xb0b"), MarketFeeCollector: common.HexToAddress("0xfee"),
			DTBalance: maxUint, BTBalance: uint256.NewInt(123456789),
			MarketFee: uint256.NewInt(1e15), MarketFeeAvailable: uint256.NewInt(7), OceanFeeAvailable: maxUint,
			CreatedAt: time.Unix(1800000000, 0).UTC(),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := scanExchange(argRow(exchangeArgs(tt.ex)))
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, tt.ex) {
				t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, tt.ex)
			}
		})
	}
}

func TestScanExchange_RejectsBadAmount(t *testing.T) {
	ex := testExchange(0)
	args := exchangeArgs(ex)
	args[11] = "-5" // dt_balance
	if _, err := scanExchange(argRow(args)); err == nil {
		t.Fatal("expected a negative balance to be rejected")
	}
}

func TestTokenRow_RoundTrip(t *testing.T) {
	rec := &TokenRecord{
		Address: common.HexToAddress("0xd7"), Nonce: 3, Symbol: "DT", Decimals: 18,
		Cap:         uint256.NewInt(1e18),
		TotalSupply: new(uint256.Int).SetAllOne(),
		Minters:     []common.Address{common.HexToAddress("0xe0e0"), common.HexToAddress("0xa11ce")},
	}
	got, err := scanToken(argRow(tokenArgs(rec)))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, rec) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, rec)
	}

	bad := tokenArgs(rec)
	bad[5] = "1e18"
	if _, err := scanToken(argRow(bad)); err == nil {
		t.Error("expected a non-integer supply to be rejected")
	}
}
