package token

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrMissingRole indicates a mint or burn was attempted by an address
	// without the minter role.
	ErrMissingRole = errors.New("token: missing role")
	// ErrInsufficientBalance indicates a transfer or burn exceeded the
	// holder's balance.
	ErrInsufficientBalance = errors.New("token: insufficient balance")
	// ErrInvalidAmount indicates a nil, zero or negative amount.
	ErrInvalidAmount = errors.New("token: amount must be positive")
	// ErrNotOwner indicates a role change was attempted by a caller other
	// than the ledger owner.
	ErrNotOwner = errors.New("token: caller is not the owner")
	// ErrInsufficientAllowance indicates a delegated transfer exceeded the
	// spender's approved allowance.
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
)

// Ledger tracks balances for a single fungible asset. Mint and burn are gated
// by a minter role set administered by the ledger owner, mirroring the role
// model the lending market and backstop pool depend on: an unauthorized mint
// fails with ErrMissingRole instead of silently succeeding.
type Ledger struct {
	symbol     string
	decimals   uint8
	owner      common.Address
	balances   map[common.Address]*big.Int
	minters    map[common.Address]bool
	allowances map[common.Address]map[common.Address]*big.Int
	supply     *big.Int
}

// NewLedger constructs an empty ledger administered by owner.
func NewLedger(symbol string, decimals uint8, owner common.Address) *Ledger {
	return &Ledger{
		symbol:     symbol,
		decimals:   decimals,
		owner:      owner,
		balances:   make(map[common.Address]*big.Int),
		minters:    make(map[common.Address]bool),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
		supply:     big.NewInt(0),
	}
}

// Symbol returns the asset symbol.
func (l *Ledger) Symbol() string { return l.symbol }

// Decimals returns the native decimal count of the asset.
func (l *Ledger) Decimals() uint8 { return l.decimals }

// TotalSupply returns the outstanding supply.
func (l *Ledger) TotalSupply() *big.Int { return new(big.Int).Set(l.supply) }

// BalanceOf returns the balance held by addr.
func (l *Ledger) BalanceOf(addr common.Address) *big.Int {
	if bal, ok := l.balances[addr]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

// GrantRole adds addr to the minter set. Only the ledger owner may grant.
func (l *Ledger) GrantRole(caller, addr common.Address) error {
	if caller != l.owner {
		return ErrNotOwner
	}
	l.minters[addr] = true
	return nil
}

// RevokeRole removes addr from the minter set.
func (l *Ledger) RevokeRole(caller, addr common.Address) error {
	if caller != l.owner {
		return ErrNotOwner
	}
	delete(l.minters, addr)
	return nil
}

// HasRole reports whether addr holds the minter role.
func (l *Ledger) HasRole(addr common.Address) bool { return l.minters[addr] }

// Mint creates amount new units credited to recipient. The caller must hold
// the minter role.
func (l *Ledger) Mint(caller, recipient common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !l.minters[caller] {
		return ErrMissingRole
	}
	l.credit(recipient, amount)
	l.supply = new(big.Int).Add(l.supply, amount)
	return nil
}

// Burn destroys amount units held by holder. The caller must hold the minter
// role.
func (l *Ledger) Burn(caller, holder common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !l.minters[caller] {
		return ErrMissingRole
	}
	if l.BalanceOf(holder).Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	l.debit(holder, amount)
	l.supply = new(big.Int).Sub(l.supply, amount)
	return nil
}

// Transfer moves amount from one holder to another.
func (l *Ledger) Transfer(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	if l.BalanceOf(from).Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	l.debit(from, amount)
	l.credit(to, amount)
	return nil
}

// Approve sets spender's allowance over holder's balance, replacing any prior
// approval. A zero amount clears the allowance.
func (l *Ledger) Approve(holder, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		if approvals, ok := l.allowances[holder]; ok {
			delete(approvals, spender)
		}
		return nil
	}
	approvals, ok := l.allowances[holder]
	if !ok {
		approvals = make(map[common.Address]*big.Int)
		l.allowances[holder] = approvals
	}
	approvals[spender] = new(big.Int).Set(amount)
	return nil
}

// Allowance returns what spender may still move out of holder's balance.
func (l *Ledger) Allowance(holder, spender common.Address) *big.Int {
	if approvals, ok := l.allowances[holder]; ok {
		if remaining, ok := approvals[spender]; ok {
			return new(big.Int).Set(remaining)
		}
	}
	return big.NewInt(0)
}

// TransferFrom moves amount out of holder's balance on spender's authority,
// reducing the allowance by the amount moved.
func (l *Ledger) TransferFrom(spender, holder, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	remaining := l.Allowance(holder, spender)
	if remaining.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	if err := l.Transfer(holder, to, amount); err != nil {
		return err
	}
	l.allowances[holder][spender] = remaining.Sub(remaining, amount)
	return nil
}

func (l *Ledger) credit(addr common.Address, amount *big.Int) {
	bal, ok := l.balances[addr]
	if !ok {
		bal = big.NewInt(0)
	}
	l.balances[addr] = new(big.Int).Add(bal, amount)
}

func (l *Ledger) debit(addr common.Address, amount *big.Int) {
	bal := l.balances[addr]
	l.balances[addr] = new(big.Int).Sub(bal, amount)
}
