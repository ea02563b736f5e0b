package swap

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"airlend/native/oracle"
	"airlend/native/token"
)

func addr(suffix byte) common.Address {
	var a common.Address
	a[len(a)-1] = suffix
	return a
}

func wei(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

type staticAdapter struct{ price *big.Int }

func (s *staticAdapter) PriceInUSD() (*big.Int, error) { return s.price, nil }

type assetTable map[common.Address]uint8

func (t assetTable) Decimals(asset common.Address) (uint8, error) {
	dec, ok := t[asset]
	if !ok {
		return 0, errors.New("unknown asset")
	}
	return dec, nil
}

type fixture struct {
	owner    common.Address
	weth     common.Address
	stable   common.Address
	wethLed  *token.Ledger
	stabLed  *token.Ledger
	agg      *oracle.Aggregator
	router   *Router
	provider common.Address
}

// newFixture builds a WETH at 2000 USD, stable at 1 USD world with a funded
// liquidity provider.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		owner:    addr(0x01),
		weth:     addr(0x10),
		stable:   addr(0x11),
		provider: addr(0x20),
	}
	f.wethLed = token.NewLedger("WETH", 18, f.owner)
	f.stabLed = token.NewLedger("airUSD", 18, f.owner)
	for _, ledger := range []*token.Ledger{f.wethLed, f.stabLed} {
		if err := ledger.GrantRole(f.owner, f.owner); err != nil {
			t.Fatalf("grant role: %v", err)
		}
	}
	if err := f.wethLed.Mint(f.owner, f.provider, wei(1_000)); err != nil {
		t.Fatalf("mint weth: %v", err)
	}
	if err := f.stabLed.Mint(f.owner, f.provider, wei(2_000_000)); err != nil {
		t.Fatalf("mint stable: %v", err)
	}

	f.agg = oracle.NewAggregator(f.owner)
	if err := f.agg.UpdateOracleForAsset(f.owner, f.weth, &staticAdapter{price: big.NewInt(2000_00000000)}); err != nil {
		t.Fatalf("weth oracle: %v", err)
	}
	if err := f.agg.UpdateOracleForAsset(f.owner, f.stable, &staticAdapter{price: big.NewInt(1_00000000)}); err != nil {
		t.Fatalf("stable oracle: %v", err)
	}
	f.router = NewRouter(f.owner, f.agg, assetTable{f.weth: 18, f.stable: 18})
	return f
}

// newPool seeds a zero-fee WETH/stable pool at the oracle price.
func (f *fixture) newPool(t *testing.T, account common.Address, wethUnits, stableUnits int64) *Pool {
	t.Helper()
	lp := token.NewLedger("WETH-airUSD-LP", 18, f.owner)
	if err := lp.GrantRole(f.owner, account); err != nil {
		t.Fatalf("grant lp role: %v", err)
	}
	pool := NewPool(account, f.weth, f.stable, f.wethLed, f.stabLed, lp, 0)
	if _, err := pool.AddLiquidity(f.provider, wei(wethUnits), wei(stableUnits)); err != nil {
		t.Fatalf("add liquidity: %v", err)
	}
	return pool
}

func TestSwapWithoutImpl(t *testing.T) {
	f := newFixture(t)
	if _, err := f.router.Swap(f.provider, f.weth, f.stable, wei(1), f.provider); !errors.Is(err, ErrNoSwapperImpl) {
		t.Fatalf("expected no swapper implementation, got %v", err)
	}
}

func TestPoolSwapThroughRouter(t *testing.T) {
	f := newFixture(t)
	pool := f.newPool(t, addr(0x30), 100, 200_000)
	if err := f.router.AddSwapperImpl(f.owner, f.weth, f.stable, NewPoolSwapper(pool, f.weth)); err != nil {
		t.Fatalf("add swapper impl: %v", err)
	}

	trader := addr(0x40)
	if err := f.wethLed.Transfer(f.provider, trader, wei(1)); err != nil {
		t.Fatalf("fund trader: %v", err)
	}
	out, err := f.router.Swap(trader, f.weth, f.stable, wei(1), trader)
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	// x*y=k with no fee: 200000 * 1 / 101 stable out.
	want := new(big.Int).Quo(new(big.Int).Mul(wei(200_000), wei(1)), wei(101))
	if out.Cmp(want) != 0 {
		t.Fatalf("unexpected output: got %s want %s", out, want)
	}
	if got := f.stabLed.BalanceOf(trader); got.Cmp(want) != 0 {
		t.Fatalf("trader balance mismatch: got %s want %s", got, want)
	}
	if got := f.wethLed.BalanceOf(trader); got.Sign() != 0 {
		t.Fatalf("trader weth not debited: %s", got)
	}
}

func TestSlippageLimitRejectsThinPool(t *testing.T) {
	f := newFixture(t)
	pool := f.newPool(t, addr(0x30), 100, 200_000)
	if err := f.router.AddSwapperImpl(f.owner, f.weth, f.stable, NewPoolSwapper(pool, f.weth)); err != nil {
		t.Fatalf("add swapper impl: %v", err)
	}

	// 1 WETH into the 100 WETH pool loses ~0.99% to price impact; a 50 bps
	// limit must reject it while the 200 bps default accepts it.
	if err := f.router.UpdateSlippageLimit(f.owner, 50); err != nil {
		t.Fatalf("update slippage: %v", err)
	}
	if _, err := f.router.Swap(f.provider, f.weth, f.stable, wei(1), f.provider); !errors.Is(err, ErrSlippage) {
		t.Fatalf("expected slippage rejection, got %v", err)
	}

	if err := f.router.UpdateSlippageLimit(f.owner, 200); err != nil {
		t.Fatalf("update slippage: %v", err)
	}
	if _, err := f.router.Swap(f.provider, f.weth, f.stable, wei(1), f.provider); err != nil {
		t.Fatalf("swap within tolerance: %v", err)
	}
}

func TestUpdateSlippageLimitGuards(t *testing.T) {
	f := newFixture(t)
	if err := f.router.UpdateSlippageLimit(addr(0x99), 100); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected not owner, got %v", err)
	}
	if err := f.router.UpdateSlippageLimit(f.owner, 10_001); !errors.Is(err, ErrInvalidSlippage) {
		t.Fatalf("expected invalid slippage, got %v", err)
	}
}

func TestLPUnwindSwapper(t *testing.T) {
	f := newFixture(t)
	pool := f.newPool(t, addr(0x30), 100, 200_000)

	lpAsset := addr(0x12)
	if err := f.agg.UpdateOracleForAsset(f.owner, lpAsset, oracle.NewPairLPAdapter(pool, f.agg, 18, 18, 18)); err != nil {
		t.Fatalf("lp oracle: %v", err)
	}
	router := NewRouter(f.owner, f.agg, assetTable{f.weth: 18, f.stable: 18, lpAsset: 18})
	unwind := NewLPUnwindSwapper(pool, NewPoolSwapper(pool, f.weth), nil, f.stable, f.stabLed)
	if err := router.AddSwapperImpl(f.owner, lpAsset, f.stable, unwind); err != nil {
		t.Fatalf("add swapper impl: %v", err)
	}

	// The provider holds all LP shares; unwind 1% of them.
	shares := new(big.Int).Quo(pool.TotalSupply(), big.NewInt(100))
	before := f.stabLed.BalanceOf(f.provider)
	out, err := router.Swap(f.provider, lpAsset, f.stable, shares, f.provider)
	if err != nil {
		t.Fatalf("unwind swap: %v", err)
	}
	if out.Sign() <= 0 {
		t.Fatalf("expected positive unwind output, got %s", out)
	}
	gained := new(big.Int).Sub(f.stabLed.BalanceOf(f.provider), before)
	if gained.Cmp(out) != 0 {
		t.Fatalf("credited amount mismatch: got %s want %s", gained, out)
	}
}

func TestMultiHopSwapper(t *testing.T) {
	f := newFixture(t)
	mid := addr(0x13)
	midLed := token.NewLedger("MID", 18, f.owner)
	if err := midLed.GrantRole(f.owner, f.owner); err != nil {
		t.Fatalf("grant role: %v", err)
	}
	if err := midLed.Mint(f.owner, f.provider, wei(1_000_000)); err != nil {
		t.Fatalf("mint mid: %v", err)
	}
	if err := f.agg.UpdateOracleForAsset(f.owner, mid, &staticAdapter{price: big.NewInt(10_00000000)}); err != nil {
		t.Fatalf("mid oracle: %v", err)
	}

	// WETH -> MID -> stable, both legs priced at oracle parity.
	lpA := token.NewLedger("LP-A", 18, f.owner)
	lpB := token.NewLedger("LP-B", 18, f.owner)
	if err := lpA.GrantRole(f.owner, addr(0x31)); err != nil {
		t.Fatalf("grant role: %v", err)
	}
	if err := lpB.GrantRole(f.owner, addr(0x32)); err != nil {
		t.Fatalf("grant role: %v", err)
	}
	poolA := NewPool(addr(0x31), f.weth, mid, f.wethLed, midLed, lpA, 0)
	if _, err := poolA.AddLiquidity(f.provider, wei(100), wei(20_000)); err != nil {
		t.Fatalf("seed pool A: %v", err)
	}
	poolB := NewPool(addr(0x32), mid, f.stable, midLed, f.stabLed, lpB, 0)
	if _, err := poolB.AddLiquidity(f.provider, wei(100_000), wei(1_000_000)); err != nil {
		t.Fatalf("seed pool B: %v", err)
	}

	route, err := NewMultiHopSwapper([]*Pool{poolA, poolB}, []common.Address{f.weth, mid, f.stable})
	if err != nil {
		t.Fatalf("build route: %v", err)
	}
	router := NewRouter(f.owner, f.agg, assetTable{f.weth: 18, f.stable: 18, mid: 18})
	if err := router.AddSwapperImpl(f.owner, f.weth, f.stable, route); err != nil {
		t.Fatalf("add swapper impl: %v", err)
	}

	quoted, err := route.Quote(wei(1))
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	out, err := router.Swap(f.provider, f.weth, f.stable, wei(1), f.provider)
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if out.Cmp(quoted) != 0 {
		t.Fatalf("quote mismatch: quoted %s got %s", quoted, out)
	}
}

func TestAddLiquidityEnforcesRatio(t *testing.T) {
	f := newFixture(t)
	pool := f.newPool(t, addr(0x30), 100, 200_000)
	if _, err := pool.AddLiquidity(f.provider, wei(1), wei(3_000)); !errors.Is(err, ErrPoolRatio) {
		t.Fatalf("expected ratio rejection, got %v", err)
	}
	if _, err := pool.AddLiquidity(f.provider, wei(1), wei(2_000)); err != nil {
		t.Fatalf("matched ratio: %v", err)
	}
}
