package oracle

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrNotOwner indicates an adapter update from a non-owner caller.
	ErrNotOwner = errors.New("oracle: caller is not the owner")
	// ErrOracleNotFound indicates no adapter is registered for the asset.
	ErrOracleNotFound = errors.New("oracle: no adapter for asset")
	// ErrInvalidPrice indicates an adapter reported a nil, zero or negative
	// price. A stale or broken feed must surface here instead of flowing a
	// bad price into the credit-limit math.
	ErrInvalidPrice = errors.New("oracle: invalid price")
)

// PriceScale is the fixed-point scale of every USD price flowing through the
// aggregator: 1e8, i.e. eight decimals per whole token.
var PriceScale = big.NewInt(100_000_000)

// Adapter resolves the USD price of a single asset at PriceScale precision.
type Adapter interface {
	PriceInUSD() (*big.Int, error)
}

// Aggregator maps assets to pluggable price adapters. It holds no pricing
// logic of its own: collateral types are onboarded by registering an adapter,
// never by changing the consumers.
type Aggregator struct {
	owner    common.Address
	adapters map[common.Address]Adapter
}

// NewAggregator constructs an empty aggregator administered by owner.
func NewAggregator(owner common.Address) *Aggregator {
	return &Aggregator{owner: owner, adapters: make(map[common.Address]Adapter)}
}

// UpdateOracleForAsset installs or replaces the adapter for an asset. The
// adapter is trusted as-is; correctness is owner-scoped.
func (a *Aggregator) UpdateOracleForAsset(caller, asset common.Address, adapter Adapter) error {
	if caller != a.owner {
		return ErrNotOwner
	}
	a.adapters[asset] = adapter
	return nil
}

// ViewPriceInUSD returns the USD price of asset at PriceScale precision.
func (a *Aggregator) ViewPriceInUSD(asset common.Address) (*big.Int, error) {
	adapter, ok := a.adapters[asset]
	if !ok || adapter == nil {
		return nil, ErrOracleNotFound
	}
	price, err := adapter.PriceInUSD()
	if err != nil {
		return nil, err
	}
	if price == nil || price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	return new(big.Int).Set(price), nil
}
