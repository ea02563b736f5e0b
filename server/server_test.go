package server

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"airlend/native/market"
	"airlend/native/oracle"
	"airlend/native/token"
)

var (
	ownerAddr  = common.HexToAddress("0x0000000000000000000000000000000000000001")
	marketAddr = common.HexToAddress("0x0000000000000000000000000000000000000002")
	userAddr   = common.HexToAddress("0x0000000000000000000000000000000000000020")
	wethAddr   = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	stableAddr = common.HexToAddress("0x00000000000000000000000000000000000000f0")
)

type testProvider struct {
	oracle  market.PriceSource
	ledgers map[common.Address]*token.Ledger
}

func (p *testProvider) Oracle() (market.PriceSource, error) { return p.oracle, nil }

func (p *testProvider) Swapper() (market.Swapper, error) {
	return nil, errors.New("no swapper configured")
}

func (p *testProvider) StablePool() (market.BackstopPool, error) {
	return nil, errors.New("no pool configured")
}

func (p *testProvider) Vault(common.Address) (market.CollateralVault, bool) { return nil, false }

func (p *testProvider) Treasury() (common.Address, error) { return common.Address{}, nil }

func (p *testProvider) Staking() (common.Address, error) { return common.Address{}, nil }

func (p *testProvider) IsKeeper(common.Address) bool { return false }

func (p *testProvider) Ledger(asset common.Address) (*token.Ledger, error) {
	ledger, ok := p.ledgers[asset]
	if !ok {
		return nil, errors.New("unknown asset")
	}
	return ledger, nil
}

func defaultRates() market.RateParams {
	return market.RateParams{
		CreditLimitRate:      market.Rate{Numerator: 70, Denominator: 100},
		LiquidationLimitRate: market.Rate{Numerator: 75, Denominator: 100},
		InterestApr:          market.Rate{Numerator: 10, Denominator: 1000},
		OrgFeeRate:           market.Rate{Numerator: 3, Denominator: 1000},
		LiquidationPenalty:   market.Rate{Numerator: 50, Denominator: 1000},
	}
}

func newTestServer(t *testing.T) (*Server, *market.Engine, map[common.Address]*oracle.ManualFeed) {
	t.Helper()
	stable := token.NewLedger("airUSD", 18, ownerAddr)
	weth := token.NewLedger("WETH", 18, ownerAddr)
	for _, ledger := range []*token.Ledger{stable, weth} {
		if err := ledger.GrantRole(ownerAddr, ownerAddr); err != nil {
			t.Fatalf("grant role: %v", err)
		}
	}
	if err := stable.GrantRole(ownerAddr, marketAddr); err != nil {
		t.Fatalf("grant market role: %v", err)
	}

	feed := oracle.NewManualFeed(8)
	feed.Set(big.NewInt(2000_00000000), time.Now())
	agg := oracle.NewAggregator(ownerAddr)
	if err := agg.UpdateOracleForAsset(ownerAddr, wethAddr, oracle.NewFeedAdapter(feed, common.Address{}, nil, 0)); err != nil {
		t.Fatalf("register feed: %v", err)
	}

	provider := &testProvider{
		oracle:  agg,
		ledgers: map[common.Address]*token.Ledger{wethAddr: weth, stableAddr: stable},
	}
	engine := market.NewEngine(marketAddr, ownerAddr, stableAddr, stable, market.NewMemoryState(), provider)
	engine.SetClock(func() time.Time { return time.Unix(1_700_000_000, 0) })
	if err := engine.EnableCollateralToken(ownerAddr, wethAddr, defaultRates(), nil); err != nil {
		t.Fatalf("enable collateral: %v", err)
	}

	if err := weth.Mint(ownerAddr, userAddr, big.NewInt(1e18)); err != nil {
		t.Fatalf("fund user: %v", err)
	}
	if err := engine.Deposit(userAddr, wethAddr, big.NewInt(1e18), common.Address{}); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	feeds := map[common.Address]*oracle.ManualFeed{wethAddr: feed}
	return New(engine, feeds, nil), engine, feeds
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
}

func TestListMarkets(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/markets", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d body: %s", rec.Code, rec.Body)
	}
	var out []marketBody
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("markets: %d", len(out))
	}
	if out[0].Status != "enabled" {
		t.Fatalf("status: %s", out[0].Status)
	}
	if out[0].CreditLimitRate != (rateBody{Numerator: 70, Denominator: 100}) {
		t.Fatalf("credit rate: %+v", out[0].CreditLimitRate)
	}
}

func TestGetPosition(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	path := "/positions/" + userAddr.Hex() + "/" + wethAddr.Hex()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d body: %s", rec.Code, rec.Body)
	}
	var out positionBody
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Amount != big.NewInt(1e18).String() {
		t.Fatalf("amount: %s", out.Amount)
	}
	// 1 WETH at 2000 USD under a 70% credit limit.
	if out.CreditLimitUSD != "1400000000000000000000" {
		t.Fatalf("credit limit: %s", out.CreditLimitUSD)
	}
	if out.Liquidatable {
		t.Fatalf("healthy position flagged liquidatable")
	}
}

func TestGetPositionErrors(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/positions/not-an-address/"+wethAddr.Hex(), nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad address status: %d", rec.Code)
	}

	unknown := common.HexToAddress("0x00000000000000000000000000000000000000ff")
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/positions/"+userAddr.Hex()+"/"+unknown.Hex(), nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown asset status: %d body: %s", rec.Code, rec.Body)
	}
}

func TestTxBorrowAndRepay(t *testing.T) {
	srv, engine, _ := newTestServer(t)
	router := srv.Router()

	body := `{"caller":"` + userAddr.Hex() + `","asset":"` + wethAddr.Hex() + `","amount":"1000000000000000000000"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tx/borrow", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("borrow status: %d body: %s", rec.Code, rec.Body)
	}
	view, err := engine.Position(userAddr, wethAddr)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if view.DebtPrincipal.String() != "1000000000000000000000" {
		t.Fatalf("debt after borrow: %s", view.DebtPrincipal)
	}

	// A second borrow past the 1400 USD credit limit is rejected.
	over := `{"caller":"` + userAddr.Hex() + `","asset":"` + wethAddr.Hex() + `","amount":"500000000000000000000"}`
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tx/borrow", strings.NewReader(over)))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("over-limit borrow status: %d body: %s", rec.Code, rec.Body)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tx/repay", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("repay status: %d body: %s", rec.Code, rec.Body)
	}
	view, err = engine.Position(userAddr, wethAddr)
	if err != nil {
		t.Fatalf("position after repay: %v", err)
	}
	if view.DebtPrincipal.Sign() != 0 {
		t.Fatalf("debt after repay: %s", view.DebtPrincipal)
	}
}

func TestTxRejections(t *testing.T) {
	srv, _, _ := newTestServer(t)
	router := srv.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tx/deposit", strings.NewReader(`{"caller":"bad","asset":"`+wethAddr.Hex()+`","amount":"1"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad caller status: %d", rec.Code)
	}

	unknown := common.HexToAddress("0x00000000000000000000000000000000000000ff")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tx/repay", strings.NewReader(`{"caller":"`+userAddr.Hex()+`","asset":"`+unknown.Hex()+`","amount":"1"}`)))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown asset status: %d body: %s", rec.Code, rec.Body)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tx/borrow", strings.NewReader(`{"caller":"`+userAddr.Hex()+`","asset":"`+unknown.Hex()+`","amount":"1"}`)))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("not-enabled borrow status: %d body: %s", rec.Code, rec.Body)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tx/withdraw", strings.NewReader(`{"caller":"`+userAddr.Hex()+`","asset":"`+wethAddr.Hex()+`","amount":"0"}`)))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("zero amount status: %d body: %s", rec.Code, rec.Body)
	}
}

func TestSetPriceOverride(t *testing.T) {
	srv, engine, _ := newTestServer(t)

	body := `{"asset":"` + wethAddr.Hex() + `","price":"180000000000"}`
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/oracle/price", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d body: %s", rec.Code, rec.Body)
	}

	// The override flows through to the engine's view of the position.
	view, err := engine.Position(userAddr, wethAddr)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	// 1 WETH now worth 1800 USD.
	if view.AmountUSD.String() != "1800000000000000000000" {
		t.Fatalf("amount usd after override: %s", view.AmountUSD)
	}
}

func TestSetPriceRejections(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/oracle/price", strings.NewReader(`{"asset":"bad","price":"1"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad asset status: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/oracle/price", strings.NewReader(`{"asset":"`+wethAddr.Hex()+`","price":"-5"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("negative price status: %d", rec.Code)
	}

	noFeed := common.HexToAddress("0x00000000000000000000000000000000000000ff")
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/oracle/price", strings.NewReader(`{"asset":"`+noFeed.Hex()+`","price":"1"}`)))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing feed status: %d", rec.Code)
	}
}
