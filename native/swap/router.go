package swap

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"airlend/native/oracle"
)

var (
	// ErrNotOwner indicates a configuration call from a non-owner caller.
	ErrNotOwner = errors.New("swap: caller is not the owner")
	// ErrNoSwapperImpl indicates no strategy is installed for the pair.
	ErrNoSwapperImpl = errors.New("swap: no swapper implementation")
	// ErrSlippage indicates the quoted output fell below the oracle value of
	// the input minus the configured tolerance.
	ErrSlippage = errors.New("swap: slippage limit exceeded")
	// ErrInvalidSlippage indicates a slippage limit above 100%.
	ErrInvalidSlippage = errors.New("swap: invalid slippage limit")
	// ErrInvalidAmount indicates a nil or non-positive swap amount.
	ErrInvalidAmount = errors.New("swap: amount must be positive")
)

const maxBps = 10_000

// defaultSlippageBps bounds conversion losses to 2% unless reconfigured.
const defaultSlippageBps = 200

// Strategy executes a conversion between a fixed ordered token pair.
// Quote must be side-effect free and, for deterministic venues, equal the
// amount a subsequent Swap returns; the router quotes before executing so a
// slippage failure leaves no partial transfer behind.
type Strategy interface {
	Quote(amountIn *big.Int) (*big.Int, error)
	Swap(from common.Address, amountIn *big.Int, recipient common.Address) (*big.Int, error)
}

// AssetInfo resolves the native decimal precision of an asset, needed to
// normalize amounts of differently scaled tokens into USD for the slippage
// check.
type AssetInfo interface {
	Decimals(asset common.Address) (uint8, error)
}

type pairKey struct {
	in  common.Address
	out common.Address
}

// Router maps ordered (tokenIn, tokenOut) pairs to conversion strategies and
// enforces a global oracle-checked slippage bound. It is the only conversion
// path the lending market uses at liquidation time, which makes the slippage
// bound the safety valve against bad-price liquidation dumps.
type Router struct {
	owner       common.Address
	aggregator  *oracle.Aggregator
	assets      AssetInfo
	impls       map[pairKey]Strategy
	slippageBps uint64
}

// NewRouter constructs a router administered by owner.
func NewRouter(owner common.Address, aggregator *oracle.Aggregator, assets AssetInfo) *Router {
	return &Router{
		owner:       owner,
		aggregator:  aggregator,
		assets:      assets,
		impls:       make(map[pairKey]Strategy),
		slippageBps: defaultSlippageBps,
	}
}

// AddSwapperImpl installs the strategy for an ordered pair, replacing any
// previous one. New collateral types are onboarded here, never by modifying
// the router or the market.
func (r *Router) AddSwapperImpl(caller, tokenIn, tokenOut common.Address, impl Strategy) error {
	if caller != r.owner {
		return ErrNotOwner
	}
	r.impls[pairKey{in: tokenIn, out: tokenOut}] = impl
	return nil
}

// UpdateSlippageLimit replaces the global slippage tolerance in basis points.
func (r *Router) UpdateSlippageLimit(caller common.Address, bps uint64) error {
	if caller != r.owner {
		return ErrNotOwner
	}
	if bps > maxBps {
		return ErrInvalidSlippage
	}
	r.slippageBps = bps
	return nil
}

// SlippageLimit returns the current tolerance in basis points.
func (r *Router) SlippageLimit() uint64 { return r.slippageBps }

// Quote returns the output the installed strategy would pay for amountIn,
// after passing the same slippage check a Swap would apply. No funds move.
func (r *Router) Quote(tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	_, quoted, err := r.check(tokenIn, tokenOut, amountIn)
	return quoted, err
}

// Swap converts amountIn of tokenIn held by from into tokenOut credited to
// recipient. The conversion is rejected up front when the strategy's quote is
// worth less than the oracle value of the input minus the slippage tolerance.
func (r *Router) Swap(from, tokenIn, tokenOut common.Address, amountIn *big.Int, recipient common.Address) (*big.Int, error) {
	impl, _, err := r.check(tokenIn, tokenOut, amountIn)
	if err != nil {
		return nil, err
	}
	return impl.Swap(from, amountIn, recipient)
}

func (r *Router) check(tokenIn, tokenOut common.Address, amountIn *big.Int) (Strategy, *big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	impl, ok := r.impls[pairKey{in: tokenIn, out: tokenOut}]
	if !ok || impl == nil {
		return nil, nil, ErrNoSwapperImpl
	}

	minOut, err := r.minAmountOut(tokenIn, tokenOut, amountIn)
	if err != nil {
		return nil, nil, err
	}
	quoted, err := impl.Quote(amountIn)
	if err != nil {
		return nil, nil, err
	}
	if quoted == nil || quoted.Cmp(minOut) < 0 {
		return nil, nil, ErrSlippage
	}
	return impl, quoted, nil
}

// minAmountOut converts the oracle USD value of amountIn into tokenOut units
// and discounts it by the slippage tolerance.
func (r *Router) minAmountOut(tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	priceIn, err := r.aggregator.ViewPriceInUSD(tokenIn)
	if err != nil {
		return nil, err
	}
	priceOut, err := r.aggregator.ViewPriceInUSD(tokenOut)
	if err != nil {
		return nil, err
	}
	decIn, err := r.assets.Decimals(tokenIn)
	if err != nil {
		return nil, err
	}
	decOut, err := r.assets.Decimals(tokenOut)
	if err != nil {
		return nil, err
	}

	out := new(big.Int).Mul(amountIn, priceIn)
	out.Mul(out, pow10(decOut))
	out.Quo(out, priceOut)
	out.Quo(out, pow10(decIn))

	keepBps := new(big.Int).SetUint64(maxBps - r.slippageBps)
	out.Mul(out, keepBps)
	out.Quo(out, big.NewInt(maxBps))
	return out, nil
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}
