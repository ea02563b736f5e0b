package swap

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"airlend/native/token"
)

var (
	// ErrPoolUnknownToken indicates a swap or quote against a token the pool
	// does not hold.
	ErrPoolUnknownToken = errors.New("swap: token not in pool")
	// ErrPoolEmpty indicates a swap against a pool with no reserves.
	ErrPoolEmpty = errors.New("swap: pool has no liquidity")
	// ErrPoolRatio indicates an AddLiquidity call whose amounts do not match
	// the current reserve ratio.
	ErrPoolRatio = errors.New("swap: liquidity amounts off ratio")
)

// Pool is a constant-product market between two assets. Reserves are the
// pool account's balances on the two ledgers and LP shares live on their own
// ledger, so Tokens/Reserves/TotalSupply double as the reserve view the LP
// price adapter reads.
type Pool struct {
	account common.Address
	asset0  common.Address
	asset1  common.Address
	ledger0 *token.Ledger
	ledger1 *token.Ledger
	lp      *token.Ledger
	feeBps  uint64
}

// NewPool constructs a pool holding reserves at account. The pool must hold
// the minter role on the LP ledger before liquidity can be added.
func NewPool(account common.Address, asset0, asset1 common.Address, ledger0, ledger1, lp *token.Ledger, feeBps uint64) *Pool {
	return &Pool{
		account: account,
		asset0:  asset0,
		asset1:  asset1,
		ledger0: ledger0,
		ledger1: ledger1,
		lp:      lp,
		feeBps:  feeBps,
	}
}

// Tokens returns the two pooled assets in storage order.
func (p *Pool) Tokens() (common.Address, common.Address) { return p.asset0, p.asset1 }

// Reserves returns the current balances backing the pool.
func (p *Pool) Reserves() (*big.Int, *big.Int) {
	return p.ledger0.BalanceOf(p.account), p.ledger1.BalanceOf(p.account)
}

// TotalSupply returns the outstanding LP shares.
func (p *Pool) TotalSupply() *big.Int { return p.lp.TotalSupply() }

// AddLiquidity moves amount0/amount1 from provider into the pool and mints LP
// shares. The first provider sets the ratio and receives sqrt(a0*a1) shares;
// later providers must match the reserve ratio exactly.
func (p *Pool) AddLiquidity(provider common.Address, amount0, amount1 *big.Int) (*big.Int, error) {
	if amount0 == nil || amount1 == nil || amount0.Sign() <= 0 || amount1.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	r0, r1 := p.Reserves()
	supply := p.lp.TotalSupply()

	var shares *big.Int
	if supply.Sign() == 0 {
		shares = new(big.Int).Sqrt(new(big.Int).Mul(amount0, amount1))
	} else {
		// amount1/amount0 must equal r1/r0.
		left := new(big.Int).Mul(amount1, r0)
		right := new(big.Int).Mul(amount0, r1)
		if left.Cmp(right) != 0 {
			return nil, ErrPoolRatio
		}
		shares = new(big.Int).Mul(amount0, supply)
		shares.Quo(shares, r0)
	}
	if shares.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	if err := p.ledger0.Transfer(provider, p.account, amount0); err != nil {
		return nil, err
	}
	if err := p.ledger1.Transfer(provider, p.account, amount1); err != nil {
		return nil, err
	}
	if err := p.lp.Mint(p.account, provider, shares); err != nil {
		return nil, err
	}
	return shares, nil
}

// RemoveLiquidity burns shares held by provider and pays out the proportional
// cut of both reserves.
func (p *Pool) RemoveLiquidity(provider common.Address, shares *big.Int, recipient common.Address) (*big.Int, *big.Int, error) {
	if shares == nil || shares.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	supply := p.lp.TotalSupply()
	if supply.Sign() == 0 {
		return nil, nil, ErrPoolEmpty
	}
	r0, r1 := p.Reserves()
	out0 := new(big.Int).Mul(r0, shares)
	out0.Quo(out0, supply)
	out1 := new(big.Int).Mul(r1, shares)
	out1.Quo(out1, supply)

	if err := p.lp.Burn(p.account, provider, shares); err != nil {
		return nil, nil, err
	}
	if err := p.ledger0.Transfer(p.account, recipient, out0); err != nil {
		return nil, nil, err
	}
	if err := p.ledger1.Transfer(p.account, recipient, out1); err != nil {
		return nil, nil, err
	}
	return out0, out1, nil
}

// QuoteExact returns the output the pool would pay for amountIn of tokenIn
// without moving funds.
func (p *Pool) QuoteExact(tokenIn common.Address, amountIn *big.Int) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	reserveIn, reserveOut, _, _, err := p.orient(tokenIn)
	if err != nil {
		return nil, err
	}
	if reserveIn.Sign() == 0 || reserveOut.Sign() == 0 {
		return nil, ErrPoolEmpty
	}
	return p.amountOut(amountIn, reserveIn, reserveOut), nil
}

// SwapExact moves amountIn of tokenIn from the caller into the pool and pays
// the constant-product output of the other token to recipient.
func (p *Pool) SwapExact(from common.Address, tokenIn common.Address, amountIn *big.Int, recipient common.Address) (*big.Int, error) {
	out, err := p.QuoteExact(tokenIn, amountIn)
	if err != nil {
		return nil, err
	}
	_, _, ledgerIn, ledgerOut, err := p.orient(tokenIn)
	if err != nil {
		return nil, err
	}
	if err := ledgerIn.Transfer(from, p.account, amountIn); err != nil {
		return nil, err
	}
	if err := ledgerOut.Transfer(p.account, recipient, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Pool) orient(tokenIn common.Address) (*big.Int, *big.Int, *token.Ledger, *token.Ledger, error) {
	r0, r1 := p.Reserves()
	switch tokenIn {
	case p.asset0:
		return r0, r1, p.ledger0, p.ledger1, nil
	case p.asset1:
		return r1, r0, p.ledger1, p.ledger0, nil
	default:
		return nil, nil, nil, nil, ErrPoolUnknownToken
	}
}

// amountOut applies x*y=k with the fee taken from the input side:
// out = reserveOut * inAfterFee / (reserveIn + inAfterFee).
func (p *Pool) amountOut(amountIn, reserveIn, reserveOut *big.Int) *big.Int {
	inAfterFee := new(big.Int).Mul(amountIn, new(big.Int).SetUint64(maxBps-p.feeBps))
	numerator := new(big.Int).Mul(reserveOut, inAfterFee)
	denominator := new(big.Int).Mul(reserveIn, big.NewInt(maxBps))
	denominator.Add(denominator, inAfterFee)
	return numerator.Quo(numerator, denominator)
}
