package oracle

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PriceFeed abstracts an external price source: a raw answer at the feed's own
// decimal precision plus the timestamp of the last update.
type PriceFeed interface {
	LatestAnswer() (*big.Int, error)
	Decimals() uint8
	UpdatedAt() time.Time
}

// FeedAdapter converts a PriceFeed answer into a PriceScale USD price.
// When via is set the feed is interpreted as pricing the asset in units of the
// intermediate asset, and the final price is composed through the aggregator:
// price(X/USD) = price(X/Y) * price(Y/USD).
type FeedAdapter struct {
	feed       PriceFeed
	via        common.Address
	aggregator *Aggregator
	maxAge     time.Duration
	now        func() time.Time
}

// NewFeedAdapter constructs a feed adapter. A zero via address selects direct
// USD pricing; maxAge <= 0 disables the staleness guard.
func NewFeedAdapter(feed PriceFeed, via common.Address, aggregator *Aggregator, maxAge time.Duration) *FeedAdapter {
	return &FeedAdapter{feed: feed, via: via, aggregator: aggregator, maxAge: maxAge, now: time.Now}
}

// SetClock overrides the adapter clock for deterministic testing.
func (f *FeedAdapter) SetClock(now func() time.Time) {
	if now != nil {
		f.now = now
	}
}

func (f *FeedAdapter) PriceInUSD() (*big.Int, error) {
	answer, err := f.feed.LatestAnswer()
	if err != nil {
		return nil, err
	}
	if answer == nil || answer.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	if f.maxAge > 0 {
		if age := f.now().Sub(f.feed.UpdatedAt()); age > f.maxAge {
			return nil, fmt.Errorf("oracle: feed stale by %s: %w", age, ErrInvalidPrice)
		}
	}
	price := rescale(answer, f.feed.Decimals())
	if f.via == (common.Address{}) {
		return price, nil
	}
	viaPrice, err := f.aggregator.ViewPriceInUSD(f.via)
	if err != nil {
		return nil, err
	}
	composed := new(big.Int).Mul(price, viaPrice)
	return composed.Quo(composed, PriceScale), nil
}

// PoolView exposes the reserve state of a constant-product liquidity pool.
type PoolView interface {
	Tokens() (common.Address, common.Address)
	Reserves() (*big.Int, *big.Int)
	TotalSupply() *big.Int
}

// PairLPAdapter derives a fair USD price for an LP token from pool reserves
// and the aggregator prices of both constituents using
// 2*sqrt(r0*p0*r1*p1)/totalSupply. Unlike summing spot reserve values, the
// geometric mean is invariant under in-pool swaps, so a single-block reserve
// skew cannot inflate the collateral valuation.
type PairLPAdapter struct {
	pool       PoolView
	aggregator *Aggregator
	decimals0  uint8
	decimals1  uint8
	decimalsLP uint8
}

// NewPairLPAdapter constructs an LP adapter for the given pool; the decimal
// parameters describe the two constituent tokens and the LP token itself.
func NewPairLPAdapter(pool PoolView, aggregator *Aggregator, decimals0, decimals1, decimalsLP uint8) *PairLPAdapter {
	return &PairLPAdapter{
		pool:       pool,
		aggregator: aggregator,
		decimals0:  decimals0,
		decimals1:  decimals1,
		decimalsLP: decimalsLP,
	}
}

func (p *PairLPAdapter) PriceInUSD() (*big.Int, error) {
	supply := p.pool.TotalSupply()
	if supply == nil || supply.Sign() == 0 {
		return nil, ErrInvalidPrice
	}
	token0, token1 := p.pool.Tokens()
	price0, err := p.aggregator.ViewPriceInUSD(token0)
	if err != nil {
		return nil, err
	}
	price1, err := p.aggregator.ViewPriceInUSD(token1)
	if err != nil {
		return nil, err
	}
	r0, r1 := p.pool.Reserves()
	if r0 == nil || r1 == nil || r0.Sign() <= 0 || r1.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}

	// sqrt((r0*p0/10^d0) * (r1*p1/10^d1)) yields a PriceScale value, since
	// each factor is a PriceScale USD total.
	value0 := new(big.Int).Mul(r0, price0)
	value0.Quo(value0, pow10(p.decimals0))
	value1 := new(big.Int).Mul(r1, price1)
	value1.Quo(value1, pow10(p.decimals1))

	product := new(big.Int).Mul(value0, value1)
	root := new(big.Int).Sqrt(product)

	fair := new(big.Int).Lsh(root, 1)
	fair.Mul(fair, pow10(p.decimalsLP))
	fair.Quo(fair, supply)
	if fair.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	return fair, nil
}

// ManualFeed is an in-memory price feed used for tests and manual overrides
// during incident response.
type ManualFeed struct {
	answer    *big.Int
	decimals  uint8
	updatedAt time.Time
}

// NewManualFeed constructs a manual feed with the given decimal precision.
func NewManualFeed(decimals uint8) *ManualFeed {
	return &ManualFeed{decimals: decimals}
}

// Set records the answer with the supplied timestamp.
func (m *ManualFeed) Set(answer *big.Int, ts time.Time) {
	if answer != nil {
		m.answer = new(big.Int).Set(answer)
	} else {
		m.answer = nil
	}
	m.updatedAt = ts
}

func (m *ManualFeed) LatestAnswer() (*big.Int, error) {
	if m.answer == nil {
		return nil, fmt.Errorf("oracle: manual feed unset: %w", ErrInvalidPrice)
	}
	return new(big.Int).Set(m.answer), nil
}

func (m *ManualFeed) Decimals() uint8      { return m.decimals }
func (m *ManualFeed) UpdatedAt() time.Time { return m.updatedAt }

func rescale(answer *big.Int, decimals uint8) *big.Int {
	scaled := new(big.Int).Mul(answer, PriceScale)
	return scaled.Quo(scaled, pow10(decimals))
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}
