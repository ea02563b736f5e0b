package statedb

import (
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"airlend/native/market"
)

func addr(suffix byte) common.Address {
	var a common.Address
	a[len(a)-1] = suffix
	return a
}

func sampleSnapshot() *market.StateSnapshot {
	weth := addr(0xa0)
	wbtc := addr(0xa1)
	return &market.StateSnapshot{
		Settings: []market.CollateralRecord{
			{
				Asset: weth,
				Setting: &market.CollateralSetting{
					Status:               market.StatusEnabled,
					CreditLimitRate:      market.Rate{Numerator: 70, Denominator: 100},
					LiquidationLimitRate: market.Rate{Numerator: 75, Denominator: 100},
					InterestApr:          market.Rate{Numerator: 10, Denominator: 1000},
					OrgFeeRate:           market.Rate{Numerator: 3, Denominator: 1000},
					LiquidationPenalty:   market.Rate{Numerator: 50, Denominator: 1000},
					Decimals:             18,
					TotalBorrowCap:       big.NewInt(1_000_000),
					TotalBorrow:          big.NewInt(42),
				},
			},
			{
				Asset: wbtc,
				Setting: &market.CollateralSetting{
					Status:   market.StatusDisabled,
					Decimals: 8,
				},
			},
		},
		Positions: []market.PositionRecord{
			{
				Asset: weth,
				User:  addr(0x01),
				Position: &market.Position{
					Collateral:    big.NewInt(5_000),
					DebtPrincipal: big.NewInt(1_400),
					DebtInterest:  big.NewInt(7),
					LastAccrualAt: 1_700_000_000,
				},
			},
			{
				Asset: weth,
				User:  addr(0x02),
				Position: &market.Position{
					Collateral:    big.NewInt(9_999),
					DebtPrincipal: big.NewInt(0),
					DebtInterest:  big.NewInt(0),
					LastAccrualAt: 1_700_000_100,
				},
			},
		},
		OrgFeePot: big.NewInt(3_000),
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := Open(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	want := sampleSnapshot()
	if err := store.Save(want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if len(got.Settings) != len(want.Settings) {
		t.Fatalf("settings count: got %d want %d", len(got.Settings), len(want.Settings))
	}
	for i := range want.Settings {
		if got.Settings[i].Asset != want.Settings[i].Asset {
			t.Fatalf("setting %d asset order: got %s want %s", i, got.Settings[i].Asset.Hex(), want.Settings[i].Asset.Hex())
		}
		if got.Settings[i].Setting.Status != want.Settings[i].Setting.Status {
			t.Fatalf("setting %d status mismatch", i)
		}
	}
	if got.Settings[0].Setting.TotalBorrow.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("total borrow lost: %s", got.Settings[0].Setting.TotalBorrow)
	}
	if got.Settings[0].Setting.CreditLimitRate != (market.Rate{Numerator: 70, Denominator: 100}) {
		t.Fatalf("credit rate lost: %+v", got.Settings[0].Setting.CreditLimitRate)
	}

	if len(got.Positions) != len(want.Positions) {
		t.Fatalf("positions count: got %d want %d", len(got.Positions), len(want.Positions))
	}
	for i := range want.Positions {
		if got.Positions[i].User != want.Positions[i].User {
			t.Fatalf("position %d user order: got %s want %s", i, got.Positions[i].User.Hex(), want.Positions[i].User.Hex())
		}
	}
	if got.Positions[0].Position.DebtInterest.Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("debt interest lost: %s", got.Positions[0].Position.DebtInterest)
	}
	if got.Positions[0].Position.LastAccrualAt != 1_700_000_000 {
		t.Fatalf("accrual timestamp lost: %d", got.Positions[0].Position.LastAccrualAt)
	}
	if got.OrgFeePot.Cmp(big.NewInt(3_000)) != 0 {
		t.Fatalf("org fee pot lost: %s", got.OrgFeePot)
	}
}

func TestSaveReplacesPriorSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := Open(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	if err := store.Save(sampleSnapshot()); err != nil {
		t.Fatalf("first save: %v", err)
	}
	// The second save is smaller; stale records must not survive it.
	small := &market.StateSnapshot{OrgFeePot: big.NewInt(1)}
	if err := store.Save(small); err != nil {
		t.Fatalf("second save: %v", err)
	}
	got, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got.Settings) != 0 || len(got.Positions) != 0 {
		t.Fatalf("stale records survived: %d settings, %d positions", len(got.Settings), len(got.Positions))
	}
	if got.OrgFeePot.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("org fee pot: got %s want 1", got.OrgFeePot)
	}
}

func TestLoadFreshDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := Open(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	got, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got.Settings) != 0 || len(got.Positions) != 0 {
		t.Fatalf("fresh database not empty")
	}
	if got.OrgFeePot == nil || got.OrgFeePot.Sign() != 0 {
		t.Fatalf("fresh pot: %v", got.OrgFeePot)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := Open(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Save(sampleSnapshot()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	store, err = Open(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()
	got, err := store.Load()
	if err != nil {
		t.Fatalf("load after reopen: %v", err)
	}
	if len(got.Settings) != 2 || len(got.Positions) != 2 {
		t.Fatalf("data lost across reopen: %d settings, %d positions", len(got.Settings), len(got.Positions))
	}
}
