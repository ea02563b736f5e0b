package swap

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"airlend/native/token"
)

// ErrBadRoute indicates a multi-hop route whose path and pool lists disagree.
var ErrBadRoute = errors.New("swap: malformed route")

// PoolSwapper converts through a single constant-product pool.
type PoolSwapper struct {
	pool    *Pool
	tokenIn common.Address
}

// NewPoolSwapper binds a strategy to the tokenIn side of pool.
func NewPoolSwapper(pool *Pool, tokenIn common.Address) *PoolSwapper {
	return &PoolSwapper{pool: pool, tokenIn: tokenIn}
}

func (s *PoolSwapper) Quote(amountIn *big.Int) (*big.Int, error) {
	return s.pool.QuoteExact(s.tokenIn, amountIn)
}

func (s *PoolSwapper) Swap(from common.Address, amountIn *big.Int, recipient common.Address) (*big.Int, error) {
	return s.pool.SwapExact(from, s.tokenIn, amountIn, recipient)
}

// MultiHopSwapper converts through an ordered chain of pools. path lists the
// tokens visited, so len(path) must equal len(pools)+1; intermediate outputs
// stay with the swapping account until the final hop pays the recipient.
type MultiHopSwapper struct {
	pools []*Pool
	path  []common.Address
}

// NewMultiHopSwapper builds a route. Returns ErrBadRoute when the path does
// not line up with the pool list.
func NewMultiHopSwapper(pools []*Pool, path []common.Address) (*MultiHopSwapper, error) {
	if len(pools) == 0 || len(path) != len(pools)+1 {
		return nil, ErrBadRoute
	}
	return &MultiHopSwapper{pools: pools, path: path}, nil
}

func (s *MultiHopSwapper) Quote(amountIn *big.Int) (*big.Int, error) {
	amount := amountIn
	for i, pool := range s.pools {
		out, err := pool.QuoteExact(s.path[i], amount)
		if err != nil {
			return nil, err
		}
		amount = out
	}
	return amount, nil
}

func (s *MultiHopSwapper) Swap(from common.Address, amountIn *big.Int, recipient common.Address) (*big.Int, error) {
	amount := amountIn
	last := len(s.pools) - 1
	for i, pool := range s.pools {
		to := from
		if i == last {
			to = recipient
		}
		out, err := pool.SwapExact(from, s.path[i], amount, to)
		if err != nil {
			return nil, err
		}
		amount = out
	}
	return amount, nil
}

// LPUnwindSwapper converts an LP token by burning it into its constituents
// and swapping each leg to the output asset. A nil leg strategy marks a
// constituent that already is the output asset and passes through directly.
type LPUnwindSwapper struct {
	lpPool    *Pool
	leg0      Strategy
	leg1      Strategy
	out       common.Address
	outLedger *token.Ledger
}

// NewLPUnwindSwapper builds an unwind strategy over lpPool with one leg
// strategy per constituent, in the pool's token order.
func NewLPUnwindSwapper(lpPool *Pool, leg0, leg1 Strategy, out common.Address, outLedger *token.Ledger) *LPUnwindSwapper {
	return &LPUnwindSwapper{lpPool: lpPool, leg0: leg0, leg1: leg1, out: out, outLedger: outLedger}
}

func (s *LPUnwindSwapper) Quote(amountIn *big.Int) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	supply := s.lpPool.TotalSupply()
	if supply.Sign() == 0 {
		return nil, ErrPoolEmpty
	}
	r0, r1 := s.lpPool.Reserves()
	out0 := new(big.Int).Mul(r0, amountIn)
	out0.Quo(out0, supply)
	out1 := new(big.Int).Mul(r1, amountIn)
	out1.Quo(out1, supply)

	total := big.NewInt(0)
	for _, leg := range []struct {
		strategy Strategy
		amount   *big.Int
	}{{s.leg0, out0}, {s.leg1, out1}} {
		if leg.amount.Sign() == 0 {
			continue
		}
		if leg.strategy == nil {
			total.Add(total, leg.amount)
			continue
		}
		quoted, err := leg.strategy.Quote(leg.amount)
		if err != nil {
			return nil, err
		}
		total.Add(total, quoted)
	}
	return total, nil
}

func (s *LPUnwindSwapper) Swap(from common.Address, amountIn *big.Int, recipient common.Address) (*big.Int, error) {
	out0, out1, err := s.lpPool.RemoveLiquidity(from, amountIn, from)
	if err != nil {
		return nil, err
	}
	total := big.NewInt(0)
	for _, leg := range []struct {
		strategy Strategy
		amount   *big.Int
	}{{s.leg0, out0}, {s.leg1, out1}} {
		if leg.amount.Sign() == 0 {
			continue
		}
		if leg.strategy == nil {
			if err := s.outLedger.Transfer(from, recipient, leg.amount); err != nil {
				return nil, err
			}
			total.Add(total, leg.amount)
			continue
		}
		got, err := leg.strategy.Swap(from, leg.amount, recipient)
		if err != nil {
			return nil, err
		}
		total.Add(total, got)
	}
	return total, nil
}
