package registry

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrNotOwner indicates a mutation from a non-owner caller.
	ErrNotOwner = errors.New("registry: caller is not the owner")
	// ErrAlreadyExists indicates a keeper registered twice.
	ErrAlreadyExists = errors.New("registry: already exists")
	// ErrUnknownKey indicates a lookup for a reference that was never set.
	ErrUnknownKey = errors.New("registry: unknown key")
)

// Well-known reference keys. Components resolve each other through these at
// call time so an owner can re-point any piece of the system without touching
// the others.
const (
	KeyLendingMarket = "LENDING_MARKET"
	KeyPriceOracle   = "PRICE_ORACLE_AGGREGATOR"
	KeySwapper       = "SWAPPER"
	KeyTreasury      = "TREASURY"
	KeyStaking       = "STAKING"
	KeyStablePool    = "STABLE_POOL"
)

// Registry is the single source of component addresses plus the keeper
// allow-list that gates liquidation.
type Registry struct {
	owner     common.Address
	addresses map[string]common.Address
	keeperSet map[common.Address]bool
	keepers   []common.Address
}

// New constructs an empty registry administered by owner.
func New(owner common.Address) *Registry {
	return &Registry{
		owner:     owner,
		addresses: make(map[string]common.Address),
		keeperSet: make(map[common.Address]bool),
	}
}

// SetAddress records addr under key, replacing any previous value.
func (r *Registry) SetAddress(caller common.Address, key string, addr common.Address) error {
	if caller != r.owner {
		return ErrNotOwner
	}
	r.addresses[key] = addr
	return nil
}

// GetAddress resolves key; unset keys return ErrUnknownKey rather than a zero
// address so a misconfigured deployment fails loudly.
func (r *Registry) GetAddress(key string) (common.Address, error) {
	addr, ok := r.addresses[key]
	if !ok {
		return common.Address{}, ErrUnknownKey
	}
	return addr, nil
}

// SetLendingMarket records the lending market address.
func (r *Registry) SetLendingMarket(caller, addr common.Address) error {
	return r.SetAddress(caller, KeyLendingMarket, addr)
}

// SetPriceOracleAggregator records the oracle aggregator address.
func (r *Registry) SetPriceOracleAggregator(caller, addr common.Address) error {
	return r.SetAddress(caller, KeyPriceOracle, addr)
}

// SetSwapper records the swap router address.
func (r *Registry) SetSwapper(caller, addr common.Address) error {
	return r.SetAddress(caller, KeySwapper, addr)
}

// SetTreasury records the treasury address.
func (r *Registry) SetTreasury(caller, addr common.Address) error {
	return r.SetAddress(caller, KeyTreasury, addr)
}

// SetStaking records the staking fee sink address.
func (r *Registry) SetStaking(caller, addr common.Address) error {
	return r.SetAddress(caller, KeyStaking, addr)
}

// SetStablePool records the backstop stable pool address.
func (r *Registry) SetStablePool(caller, addr common.Address) error {
	return r.SetAddress(caller, KeyStablePool, addr)
}

// LendingMarket resolves the lending market address.
func (r *Registry) LendingMarket() (common.Address, error) { return r.GetAddress(KeyLendingMarket) }

// PriceOracleAggregator resolves the oracle aggregator address.
func (r *Registry) PriceOracleAggregator() (common.Address, error) {
	return r.GetAddress(KeyPriceOracle)
}

// Swapper resolves the swap router address.
func (r *Registry) Swapper() (common.Address, error) { return r.GetAddress(KeySwapper) }

// Treasury resolves the treasury address.
func (r *Registry) Treasury() (common.Address, error) { return r.GetAddress(KeyTreasury) }

// Staking resolves the staking fee sink address.
func (r *Registry) Staking() (common.Address, error) { return r.GetAddress(KeyStaking) }

// StablePool resolves the backstop pool address.
func (r *Registry) StablePool() (common.Address, error) { return r.GetAddress(KeyStablePool) }

// AddKeeper allow-lists addr for liquidation calls.
func (r *Registry) AddKeeper(caller, addr common.Address) error {
	if caller != r.owner {
		return ErrNotOwner
	}
	if r.keeperSet[addr] {
		return ErrAlreadyExists
	}
	r.keeperSet[addr] = true
	r.keepers = append(r.keepers, addr)
	return nil
}

// IsKeeper reports whether addr may liquidate.
func (r *Registry) IsKeeper(addr common.Address) bool { return r.keeperSet[addr] }

// GetKeepers returns the allow-list in registration order.
func (r *Registry) GetKeepers() []common.Address {
	out := make([]common.Address, len(r.keepers))
	copy(out, r.keepers)
	return out
}
