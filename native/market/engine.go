package market

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "airlend/native/common"
	"airlend/native/token"
)

var (
	// ErrNotOwner indicates a configuration call from a non-owner caller.
	ErrNotOwner = errors.New("market: caller is not the owner")
	// ErrInvalidRate indicates rates that are malformed or violate
	// creditLimitRate <= liquidationLimitRate <= 1.
	ErrInvalidRate = errors.New("market: invalid rate")
	// ErrTokenExists indicates a collateral type registered twice.
	ErrTokenExists = errors.New("market: collateral token exists")
	// ErrAlreadyEnabled indicates an enable of an already enabled collateral.
	ErrAlreadyEnabled = errors.New("market: already enabled collateral token")
	// ErrNotEnabledCollateral indicates a disable of a collateral that is not
	// currently enabled.
	ErrNotEnabledCollateral = errors.New("market: not enabled collateral token")
	// ErrNotEnabled indicates a deposit or borrow against a collateral that is
	// not accepting new exposure.
	ErrNotEnabled = errors.New("market: not enabled")
	// ErrInvalidToken indicates an operation against an unknown collateral.
	ErrInvalidToken = errors.New("market: invalid token")
	// ErrInvalidAmount indicates a nil or non-positive amount, or a repay
	// against a position with no debt.
	ErrInvalidAmount = errors.New("market: invalid amount")
	// ErrInsufficientCollateral indicates a borrow or withdrawal that would
	// push debt past the credit limit.
	ErrInsufficientCollateral = errors.New("market: insufficient collateral")
	// ErrBorrowCapReached indicates a borrow that would exceed the per-asset
	// aggregate cap.
	ErrBorrowCapReached = errors.New("market: borrow cap reached")
	// ErrNotKeeper indicates a liquidation from an address outside the keeper
	// allow-list.
	ErrNotKeeper = errors.New("market: not keeper")
	// ErrNotLiquidatable indicates a liquidation of a position whose debt is
	// within its liquidation limit.
	ErrNotLiquidatable = errors.New("market: not liquidatable")
)

// moduleName keys the engine in the pause view.
const moduleName = "lending"

// PriceSource resolves USD prices at the oracle's 8-decimal scale.
type PriceSource interface {
	ViewPriceInUSD(asset common.Address) (*big.Int, error)
}

// Swapper converts seized collateral into the stable asset. Quote must apply
// the same acceptance checks as Swap so the engine can verify a liquidation
// end to end before moving funds.
type Swapper interface {
	Quote(tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error)
	Swap(from, tokenIn, tokenOut common.Address, amountIn *big.Int, recipient common.Address) (*big.Int, error)
}

// CollateralVault custodies deposited collateral for one asset.
type CollateralVault interface {
	Deposit(caller, user common.Address, amount *big.Int) error
	Withdraw(caller, user common.Address, amount *big.Int, recipient common.Address) error
}

// BackstopPool is the stable pool the engine draws on when liquidation
// proceeds fall short.
type BackstopPool interface {
	Account() common.Address
	CanProvide(amount *big.Int) bool
	Provide(caller, recipient common.Address, amount *big.Int) error
}

// AddressProvider resolves the engine's collaborators at call time, so the
// owner can re-point any component between calls without touching the engine.
type AddressProvider interface {
	Oracle() (PriceSource, error)
	Swapper() (Swapper, error)
	StablePool() (BackstopPool, error)
	Vault(asset common.Address) (CollateralVault, bool)
	Treasury() (common.Address, error)
	Staking() (common.Address, error)
	IsKeeper(addr common.Address) bool
	Ledger(asset common.Address) (*token.Ledger, error)
}

// Engine is the lending market: the collateral and debt ledger plus the
// solvency arithmetic. It owns no pricing, swapping or custody logic; those
// are resolved through the AddressProvider per call.
type Engine struct {
	account     common.Address
	owner       common.Address
	stableAsset common.Address
	stable      *token.Ledger
	state       engineState
	provider    AddressProvider
	pauses      nativecommon.PauseView
	now         func() time.Time
}

// NewEngine constructs an engine transacting from account and administered by
// owner. The account must hold the minter role on the stable ledger before
// borrows can succeed.
func NewEngine(account, owner common.Address, stableAsset common.Address, stable *token.Ledger, state engineState, provider AddressProvider) *Engine {
	return &Engine{
		account:     account,
		owner:       owner,
		stableAsset: stableAsset,
		stable:      stable,
		state:       state,
		provider:    provider,
		now:         time.Now,
	}
}

// Account returns the engine's ledger account.
func (e *Engine) Account() common.Address { return e.account }

// SetPauses wires the pause view consulted before every mutating call.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetClock overrides the engine clock for deterministic accrual in tests.
func (e *Engine) SetClock(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// AddCollateralToken registers a collateral type in the disabled state so its
// rates can be staged before exposure opens.
func (e *Engine) AddCollateralToken(caller, asset common.Address, params RateParams, borrowCap *big.Int) error {
	if caller != e.owner {
		return ErrNotOwner
	}
	if _, ok := e.state.CollateralSetting(asset); ok {
		return ErrTokenExists
	}
	setting, err := e.newSetting(asset, params, borrowCap, StatusDisabled)
	if err != nil {
		return err
	}
	e.state.PutCollateralSetting(asset, setting)
	return nil
}

// EnableCollateralToken opens a collateral type for deposits and borrows.
// A disabled or deprecated registration is re-enabled with the new rates and
// its position history intact; enabling an enabled collateral fails.
func (e *Engine) EnableCollateralToken(caller, asset common.Address, params RateParams, borrowCap *big.Int) error {
	if caller != e.owner {
		return ErrNotOwner
	}
	existing, ok := e.state.CollateralSetting(asset)
	if ok && existing.Status == StatusEnabled {
		return ErrAlreadyEnabled
	}
	setting, err := e.newSetting(asset, params, borrowCap, StatusEnabled)
	if err != nil {
		return err
	}
	if ok {
		setting.TotalBorrow = existing.TotalBorrow
	}
	e.state.PutCollateralSetting(asset, setting)
	return nil
}

// DisableCollateralToken deprecates an enabled collateral type. Existing
// positions stay serviceable for repay, withdraw and liquidation.
func (e *Engine) DisableCollateralToken(caller, asset common.Address) error {
	if caller != e.owner {
		return ErrNotOwner
	}
	setting, ok := e.state.CollateralSetting(asset)
	if !ok || setting.Status != StatusEnabled {
		return ErrNotEnabledCollateral
	}
	setting.Status = StatusDeprecated
	e.state.PutCollateralSetting(asset, setting)
	return nil
}

func (e *Engine) newSetting(asset common.Address, params RateParams, borrowCap *big.Int, status CollateralStatus) (*CollateralSetting, error) {
	if !params.CreditLimitRate.Valid() || !params.LiquidationLimitRate.Valid() ||
		!params.InterestApr.Valid() || !params.OrgFeeRate.Valid() || !params.LiquidationPenalty.Valid() {
		return nil, ErrInvalidRate
	}
	if !params.CreditLimitRate.LessOrEqual(params.LiquidationLimitRate) {
		return nil, ErrInvalidRate
	}
	ledger, err := e.provider.Ledger(asset)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidToken, asset)
	}
	return &CollateralSetting{
		Status:               status,
		CreditLimitRate:      params.CreditLimitRate,
		LiquidationLimitRate: params.LiquidationLimitRate,
		InterestApr:          params.InterestApr,
		OrgFeeRate:           params.OrgFeeRate,
		LiquidationPenalty:   params.LiquidationPenalty,
		Decimals:             ledger.Decimals(),
		TotalBorrowCap:       cloneBig(borrowCap),
		TotalBorrow:          big.NewInt(0),
	}, nil
}

// AllCollateralTokens lists every registered collateral asset in
// registration order.
func (e *Engine) AllCollateralTokens() []common.Address {
	return e.state.CollateralAssets()
}

// CollateralSettingOf returns the stored setting for asset.
func (e *Engine) CollateralSettingOf(asset common.Address) (*CollateralSetting, error) {
	setting, ok := e.state.CollateralSetting(asset)
	if !ok {
		return nil, ErrInvalidToken
	}
	return setting, nil
}

// PositionUsers lists every address that ever held a position in asset, in
// first-deposit order. The liquidation bot scans windows of this list.
func (e *Engine) PositionUsers(asset common.Address) []common.Address {
	return e.state.PositionUsers(asset)
}

// Deposit moves amount of collateral from the caller into the market (or its
// vault) and credits the position of onBehalfOf. A zero onBehalfOf credits
// the caller.
func (e *Engine) Deposit(caller, asset common.Address, amount *big.Int, onBehalfOf common.Address) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	setting, ok := e.state.CollateralSetting(asset)
	if !ok || setting.Status != StatusEnabled {
		return ErrNotEnabled
	}
	if onBehalfOf == (common.Address{}) {
		onBehalfOf = caller
	}
	pos := e.position(onBehalfOf, asset)
	fee := e.accrue(setting, pos)

	ledger, err := e.provider.Ledger(asset)
	if err != nil {
		return ErrInvalidToken
	}
	if err := ledger.Transfer(caller, e.account, amount); err != nil {
		return err
	}
	if vault, ok := e.provider.Vault(asset); ok {
		if err := vault.Deposit(e.account, onBehalfOf, amount); err != nil {
			return err
		}
	}

	pos.Collateral = new(big.Int).Add(pos.Collateral, amount)
	e.creditOrgFee(fee)
	e.state.PutPosition(onBehalfOf, asset, pos)
	return nil
}

// Borrow mints amount of the stable asset to the caller against their
// collateral in asset.
func (e *Engine) Borrow(caller, asset common.Address, amount *big.Int) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	setting, ok := e.state.CollateralSetting(asset)
	if !ok || setting.Status != StatusEnabled {
		return ErrNotEnabled
	}
	if !e.stable.HasRole(e.account) {
		return token.ErrMissingRole
	}
	pos := e.position(caller, asset)
	fee := e.accrue(setting, pos)

	if setting.TotalBorrowCap != nil && setting.TotalBorrowCap.Sign() > 0 {
		projected := new(big.Int).Add(setting.TotalBorrow, amount)
		if projected.Cmp(setting.TotalBorrowCap) > 0 {
			return ErrBorrowCapReached
		}
	}

	price, err := e.oraclePrice(asset)
	if err != nil {
		return err
	}
	creditLimit := applyRate(usdValue(pos.Collateral, price, setting.Decimals), setting.CreditLimitRate)
	projectedDebt := new(big.Int).Add(pos.Debt(), amount)
	if projectedDebt.Cmp(creditLimit) > 0 {
		return ErrInsufficientCollateral
	}

	pos.DebtPrincipal = new(big.Int).Add(pos.DebtPrincipal, amount)
	setting.TotalBorrow = new(big.Int).Add(setting.TotalBorrow, amount)
	e.creditOrgFee(fee)
	e.state.PutCollateralSetting(asset, setting)
	e.state.PutPosition(caller, asset, pos)

	return e.stable.Mint(e.account, caller, amount)
}

// Repay burns up to amount of the caller's stable balance against their debt
// in asset. Interest is paid before principal; overpayment is capped at the
// outstanding debt.
func (e *Engine) Repay(caller, asset common.Address, amount *big.Int) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	setting, ok := e.state.CollateralSetting(asset)
	if !ok {
		return ErrInvalidToken
	}
	pos := e.position(caller, asset)
	fee := e.accrue(setting, pos)

	debt := pos.Debt()
	if debt.Sign() == 0 {
		return ErrInvalidAmount
	}
	pay := amount
	if pay.Cmp(debt) > 0 {
		pay = debt
	}

	interestPaid := new(big.Int).Set(pos.DebtInterest)
	if interestPaid.Cmp(pay) > 0 {
		interestPaid = new(big.Int).Set(pay)
	}
	principalPaid := new(big.Int).Sub(pay, interestPaid)

	if err := e.stable.Burn(e.account, caller, pay); err != nil {
		return err
	}

	pos.DebtInterest = new(big.Int).Sub(pos.DebtInterest, interestPaid)
	pos.DebtPrincipal = new(big.Int).Sub(pos.DebtPrincipal, principalPaid)
	setting.TotalBorrow = new(big.Int).Sub(setting.TotalBorrow, principalPaid)
	e.creditOrgFee(fee)
	e.state.PutCollateralSetting(asset, setting)
	e.state.PutPosition(caller, asset, pos)
	return nil
}

// Withdraw returns amount of collateral to the caller, provided the remaining
// collateral still covers the debt at the credit limit rate.
func (e *Engine) Withdraw(caller, asset common.Address, amount *big.Int) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	setting, ok := e.state.CollateralSetting(asset)
	if !ok {
		return ErrInvalidToken
	}
	pos := e.position(caller, asset)
	fee := e.accrue(setting, pos)

	if pos.Collateral.Cmp(amount) < 0 {
		return ErrInsufficientCollateral
	}
	remaining := new(big.Int).Sub(pos.Collateral, amount)
	if debt := pos.Debt(); debt.Sign() > 0 {
		price, err := e.oraclePrice(asset)
		if err != nil {
			return err
		}
		creditLimit := applyRate(usdValue(remaining, price, setting.Decimals), setting.CreditLimitRate)
		if debt.Cmp(creditLimit) > 0 {
			return ErrInsufficientCollateral
		}
	}

	pos.Collateral = remaining
	e.creditOrgFee(fee)
	e.state.PutCollateralSetting(asset, setting)
	e.state.PutPosition(caller, asset, pos)

	if vault, ok := e.provider.Vault(asset); ok {
		return vault.Withdraw(e.account, caller, amount, caller)
	}
	ledger, err := e.provider.Ledger(asset)
	if err != nil {
		return ErrInvalidToken
	}
	return ledger.Transfer(e.account, caller, amount)
}

// Liquidate seizes the entire position of user in asset, swaps the collateral
// to the stable asset, burns the debt, splits the penalty between the
// backstop pool, the treasury and staking, and returns any surplus to the
// user. Shortfalls are drawn from the backstop pool. The whole flow is
// validated before any funds move so a failure leaves the position intact.
func (e *Engine) Liquidate(caller, user, asset common.Address) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if !e.provider.IsKeeper(caller) {
		return ErrNotKeeper
	}
	setting, ok := e.state.CollateralSetting(asset)
	if !ok {
		return ErrInvalidToken
	}
	pos := e.position(user, asset)
	fee := e.accrue(setting, pos)

	price, err := e.oraclePrice(asset)
	if err != nil {
		return err
	}
	debt := pos.Debt()
	liquidationLimit := applyRate(usdValue(pos.Collateral, price, setting.Decimals), setting.LiquidationLimitRate)
	if debt.Sign() == 0 || debt.Cmp(liquidationLimit) <= 0 {
		return ErrNotLiquidatable
	}

	swapper, err := e.provider.Swapper()
	if err != nil {
		return err
	}
	pool, err := e.provider.StablePool()
	if err != nil {
		return err
	}
	treasury, err := e.provider.Treasury()
	if err != nil {
		return err
	}
	staking, err := e.provider.Staking()
	if err != nil {
		return err
	}

	collateral := new(big.Int).Set(pos.Collateral)
	proceeds, err := swapper.Quote(asset, e.stableAsset, collateral)
	if err != nil {
		return err
	}
	penalty := applyRate(debt, setting.LiquidationPenalty)
	need := new(big.Int).Add(debt, penalty)

	shortfall := big.NewInt(0)
	if proceeds.Cmp(need) < 0 {
		shortfall = new(big.Int).Sub(need, proceeds)
		if !pool.CanProvide(shortfall) {
			return token.ErrMissingRole
		}
	}
	// The debt burn below runs from the engine account, so the minter role
	// must be verified before the position is touched.
	if !e.stable.HasRole(e.account) {
		return token.ErrMissingRole
	}

	origPos, _ := e.state.Position(user, asset)
	origSetting, _ := e.state.CollateralSetting(asset)

	// Effects: the position is closed before any transfer so a re-entrant
	// read during the interaction phase sees no seizable collateral. A
	// failed interaction restores the captured records.
	pos.Collateral = big.NewInt(0)
	principal := new(big.Int).Set(pos.DebtPrincipal)
	pos.DebtPrincipal = big.NewInt(0)
	pos.DebtInterest = big.NewInt(0)
	setting.TotalBorrow = new(big.Int).Sub(setting.TotalBorrow, principal)
	e.state.PutCollateralSetting(asset, setting)
	e.state.PutPosition(user, asset, pos)

	unwind := func(err error) error {
		e.state.PutCollateralSetting(asset, origSetting)
		if origPos != nil {
			e.state.PutPosition(user, asset, origPos)
		}
		return err
	}

	if vault, ok := e.provider.Vault(asset); ok {
		if err := vault.Withdraw(e.account, user, collateral, e.account); err != nil {
			return unwind(err)
		}
	}
	actual, err := swapper.Swap(e.account, asset, e.stableAsset, collateral, e.account)
	if err != nil {
		return unwind(err)
	}
	if shortfall.Sign() > 0 {
		if err := pool.Provide(e.account, e.account, shortfall); err != nil {
			return unwind(err)
		}
	}

	if err := e.stable.Burn(e.account, e.account, debt); err != nil {
		return unwind(err)
	}
	e.creditOrgFee(fee)
	treasuryCut := new(big.Int).Quo(penalty, big.NewInt(4))
	stakingCut := new(big.Int).Quo(penalty, big.NewInt(4))
	poolCut := new(big.Int).Sub(penalty, new(big.Int).Add(treasuryCut, stakingCut))
	for _, leg := range []struct {
		to     common.Address
		amount *big.Int
	}{{pool.Account(), poolCut}, {treasury, treasuryCut}, {staking, stakingCut}} {
		if leg.amount.Sign() == 0 {
			continue
		}
		if err := e.stable.Transfer(e.account, leg.to, leg.amount); err != nil {
			return err
		}
	}

	total := new(big.Int).Add(actual, shortfall)
	if surplus := total.Sub(total, need); surplus.Sign() > 0 {
		return e.stable.Transfer(e.account, user, surplus)
	}
	return nil
}

// CollectOrgFee mints the accrued fee pot to the treasury. A second call with
// nothing accrued is a no-op.
func (e *Engine) CollectOrgFee() error {
	pot := e.state.OrgFeePot()
	if pot.Sign() == 0 {
		return nil
	}
	treasury, err := e.provider.Treasury()
	if err != nil {
		return err
	}
	if err := e.stable.Mint(e.account, treasury, pot); err != nil {
		return err
	}
	e.state.PutOrgFeePot(big.NewInt(0))
	return nil
}

// Liquidatable reports whether user's position in asset could be liquidated
// now. Read-only.
func (e *Engine) Liquidatable(user, asset common.Address) (bool, error) {
	view, err := e.Position(user, asset)
	if err != nil {
		return false, err
	}
	return view.Liquidatable, nil
}

// Position returns the read-model of user's position in asset after a
// virtual accrual at the current time. Read-only.
func (e *Engine) Position(user, asset common.Address) (*PositionView, error) {
	setting, ok := e.state.CollateralSetting(asset)
	if !ok {
		return nil, ErrInvalidToken
	}
	pos := e.position(user, asset)
	e.accrueView(setting, pos)

	price, err := e.oraclePrice(asset)
	if err != nil {
		return nil, err
	}
	amountUSD := usdValue(pos.Collateral, price, setting.Decimals)
	creditLimit := applyRate(amountUSD, setting.CreditLimitRate)
	liquidationLimit := applyRate(amountUSD, setting.LiquidationLimitRate)
	debt := pos.Debt()
	return &PositionView{
		Amount:              pos.Collateral,
		AmountUSD:           amountUSD,
		CreditLimitUSD:      creditLimit,
		LiquidationLimitUSD: liquidationLimit,
		DebtPrincipal:       pos.DebtPrincipal,
		DebtInterest:        pos.DebtInterest,
		Liquidatable:        debt.Sign() > 0 && debt.Cmp(liquidationLimit) > 0,
	}, nil
}

// position loads a copy of the stored position, or a fresh one anchored at
// the current time.
func (e *Engine) position(user, asset common.Address) *Position {
	if pos, ok := e.state.Position(user, asset); ok {
		return pos
	}
	return &Position{
		Collateral:    big.NewInt(0),
		DebtPrincipal: big.NewInt(0),
		DebtInterest:  big.NewInt(0),
		LastAccrualAt: e.now().Unix(),
	}
}

// accrue advances the position's interest to the current time and returns the
// org fee owed on the newly accrued interest. The caller credits the fee via
// creditOrgFee when it commits the position, so a failed operation leaves the
// pot untouched and the same interval accrues again on the next touch.
func (e *Engine) accrue(setting *CollateralSetting, pos *Position) *big.Int {
	interest := e.accrueView(setting, pos)
	if interest.Sign() == 0 {
		return big.NewInt(0)
	}
	return applyRate(interest, setting.OrgFeeRate)
}

// creditOrgFee banks an accrued fee in the pot. Call only alongside the
// position write it was accrued for.
func (e *Engine) creditOrgFee(fee *big.Int) {
	if fee.Sign() == 0 {
		return
	}
	pot := e.state.OrgFeePot()
	e.state.PutOrgFeePot(pot.Add(pot, fee))
}

// accrueView advances interest on the in-memory copy only.
func (e *Engine) accrueView(setting *CollateralSetting, pos *Position) *big.Int {
	now := e.now().Unix()
	elapsed := now - pos.LastAccrualAt
	pos.LastAccrualAt = now
	if elapsed <= 0 || pos.DebtPrincipal.Sign() == 0 {
		return big.NewInt(0)
	}
	interest := simpleInterest(pos.DebtPrincipal, setting.InterestApr, elapsed)
	if interest.Sign() > 0 {
		pos.DebtInterest = new(big.Int).Add(pos.DebtInterest, interest)
	}
	return interest
}

func (e *Engine) oraclePrice(asset common.Address) (*big.Int, error) {
	source, err := e.provider.Oracle()
	if err != nil {
		return nil, err
	}
	return source.ViewPriceInUSD(asset)
}
