package market

import (
	"math/big"
)

// CollateralStatus tracks the lifecycle of a collateral type. Deprecated
// collateral no longer accepts deposits or borrows but stays serviceable for
// repay, withdraw and liquidation so existing positions can unwind.
type CollateralStatus uint8

const (
	StatusDisabled CollateralStatus = iota
	StatusEnabled
	StatusDeprecated
)

func (s CollateralStatus) String() string {
	switch s {
	case StatusEnabled:
		return "enabled"
	case StatusDeprecated:
		return "deprecated"
	default:
		return "disabled"
	}
}

// Rate is an exact rational rate. Configured rates are carried as the pair
// they were set with, never as a rounded decimal.
type Rate struct {
	Numerator   uint64 `json:"numerator"`
	Denominator uint64 `json:"denominator"`
}

// Valid reports whether the rate is a well-formed fraction not above one.
func (r Rate) Valid() bool {
	return r.Denominator > 0 && r.Numerator <= r.Denominator
}

// IsZero reports whether the rate evaluates to zero.
func (r Rate) IsZero() bool { return r.Numerator == 0 }

// LessOrEqual reports r <= other by cross multiplication.
func (r Rate) LessOrEqual(other Rate) bool {
	left := new(big.Int).Mul(new(big.Int).SetUint64(r.Numerator), new(big.Int).SetUint64(other.Denominator))
	right := new(big.Int).Mul(new(big.Int).SetUint64(other.Numerator), new(big.Int).SetUint64(r.Denominator))
	return left.Cmp(right) <= 0
}

// RateParams bundles the per-collateral rates supplied at enable time.
type RateParams struct {
	CreditLimitRate      Rate `json:"creditLimitRate"`
	LiquidationLimitRate Rate `json:"liquidationLimitRate"`
	InterestApr          Rate `json:"interestApr"`
	OrgFeeRate           Rate `json:"orgFeeRate"`
	LiquidationPenalty   Rate `json:"liquidationPenalty"`
}

// CollateralSetting is the stored configuration and aggregate state of one
// collateral type.
type CollateralSetting struct {
	Status               CollateralStatus `json:"status"`
	CreditLimitRate      Rate             `json:"creditLimitRate"`
	LiquidationLimitRate Rate             `json:"liquidationLimitRate"`
	InterestApr          Rate             `json:"interestApr"`
	OrgFeeRate           Rate             `json:"orgFeeRate"`
	LiquidationPenalty   Rate             `json:"liquidationPenalty"`
	Decimals             uint8            `json:"decimals"`
	TotalBorrowCap       *big.Int         `json:"totalBorrowCap"`
	TotalBorrow          *big.Int         `json:"totalBorrow"`
}

// Clone returns a deep copy safe to mutate.
func (c *CollateralSetting) Clone() *CollateralSetting {
	if c == nil {
		return nil
	}
	cp := *c
	cp.TotalBorrowCap = cloneBig(c.TotalBorrowCap)
	cp.TotalBorrow = cloneBig(c.TotalBorrow)
	return &cp
}

// Position is the stored per-user, per-collateral account: deposited
// collateral in native token units and stable-asset debt split into principal
// and accrued interest.
type Position struct {
	Collateral    *big.Int `json:"collateral"`
	DebtPrincipal *big.Int `json:"debtPrincipal"`
	DebtInterest  *big.Int `json:"debtInterest"`
	LastAccrualAt int64    `json:"lastAccrualAt"`
}

// Clone returns a deep copy safe to mutate.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Collateral = cloneBig(p.Collateral)
	cp.DebtPrincipal = cloneBig(p.DebtPrincipal)
	cp.DebtInterest = cloneBig(p.DebtInterest)
	return &cp
}

// Debt returns principal plus accrued interest.
func (p *Position) Debt() *big.Int {
	debt := cloneBig(p.DebtPrincipal)
	if debt == nil {
		debt = big.NewInt(0)
	}
	if p.DebtInterest != nil {
		debt.Add(debt, p.DebtInterest)
	}
	return debt
}

// PositionView is the read-model of a position after a virtual accrual at the
// current time, with every USD figure at 18 decimals.
type PositionView struct {
	Amount              *big.Int `json:"amount"`
	AmountUSD           *big.Int `json:"amountUSD"`
	CreditLimitUSD      *big.Int `json:"creditLimitUSD"`
	LiquidationLimitUSD *big.Int `json:"liquidationLimitUSD"`
	DebtPrincipal       *big.Int `json:"debtPrincipal"`
	DebtInterest        *big.Int `json:"debtInterest"`
	Liquidatable        bool     `json:"liquidatable"`
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
