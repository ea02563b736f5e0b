package vault

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"airlend/native/token"
)

var (
	// ErrNotMarket indicates a deposit or withdrawal from a caller other than
	// the registered lending market.
	ErrNotMarket = errors.New("vault: caller is not the lending market")
	// ErrInvalidAmount indicates a nil or non-positive amount.
	ErrInvalidAmount = errors.New("vault: amount must be positive")
	// ErrInsufficientShares indicates a withdrawal beyond the user's deposit.
	ErrInsufficientShares = errors.New("vault: insufficient shares")
	// ErrUnknownReward indicates a reward ledger was never registered for a
	// harvested token.
	ErrUnknownReward = errors.New("vault: unknown reward token")
)

// rewardScale is the fixed-point scale of the per-share reward accumulator.
// Each claim truncates at most 1/rewardScale of a reward unit per share.
var rewardScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// YieldSource is an optional strategy the vault forwards deposits into.
// Harvest reports the reward amounts the source has already credited to the
// vault account, keyed by reward asset.
type YieldSource interface {
	Stake(amount *big.Int) error
	Unstake(amount *big.Int) error
	Harvest() (map[common.Address]*big.Int, error)
}

// Vault custodies one collateral asset on behalf of the lending market and
// distributes yield-source rewards proportionally to deposit shares. Shares
// are 1:1 with deposited collateral units; fairness comes from the per-share
// accumulator and per-user debt snapshots, not from share pricing.
type Vault struct {
	asset   common.Address
	account common.Address
	market  common.Address
	ledger  *token.Ledger
	source  YieldSource

	totalShares *big.Int
	shares      map[common.Address]*big.Int

	rewardLedgers map[common.Address]*token.Ledger
	rewardOrder   []common.Address
	accPerShare   map[common.Address]*big.Int
	pending       map[common.Address]*big.Int
	rewardDebt    map[common.Address]map[common.Address]*big.Int
}

// New constructs a vault for asset, custodied at account and writable only by
// market. source may be nil for plain custody.
func New(asset, account, market common.Address, ledger *token.Ledger, source YieldSource) *Vault {
	return &Vault{
		asset:         asset,
		account:       account,
		market:        market,
		ledger:        ledger,
		source:        source,
		totalShares:   big.NewInt(0),
		shares:        make(map[common.Address]*big.Int),
		rewardLedgers: make(map[common.Address]*token.Ledger),
		accPerShare:   make(map[common.Address]*big.Int),
		pending:       make(map[common.Address]*big.Int),
		rewardDebt:    make(map[common.Address]map[common.Address]*big.Int),
	}
}

// Asset returns the custodied collateral asset.
func (v *Vault) Asset() common.Address { return v.asset }

// TotalShares returns the outstanding deposit shares.
func (v *Vault) TotalShares() *big.Int { return new(big.Int).Set(v.totalShares) }

// SharesOf returns the deposit shares held for user.
func (v *Vault) SharesOf(user common.Address) *big.Int {
	if s, ok := v.shares[user]; ok {
		return new(big.Int).Set(s)
	}
	return big.NewInt(0)
}

// AddRewardToken registers the ledger a harvested reward is paid on. Rewards
// harvested for unregistered tokens fail the harvest.
func (v *Vault) AddRewardToken(reward common.Address, ledger *token.Ledger) {
	if _, ok := v.rewardLedgers[reward]; !ok {
		v.rewardOrder = append(v.rewardOrder, reward)
	}
	v.rewardLedgers[reward] = ledger
}

// Deposit moves amount of the collateral asset from the market into the vault
// and credits user with shares. Pending rewards are settled first so the new
// shares do not dilute already-earned yield.
func (v *Vault) Deposit(caller, user common.Address, amount *big.Int) error {
	if caller != v.market {
		return ErrNotMarket
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := v.harvest(); err != nil {
		return err
	}
	if err := v.settle(user); err != nil {
		return err
	}
	if err := v.ledger.Transfer(caller, v.account, amount); err != nil {
		return err
	}
	if v.source != nil {
		if err := v.source.Stake(amount); err != nil {
			return err
		}
	}
	v.shares[user] = new(big.Int).Add(v.SharesOf(user), amount)
	v.totalShares.Add(v.totalShares, amount)
	v.snapshot(user)
	return nil
}

// Withdraw removes amount of user's shares from the vault and pays the
// collateral to recipient.
func (v *Vault) Withdraw(caller, user common.Address, amount *big.Int, recipient common.Address) error {
	if caller != v.market {
		return ErrNotMarket
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if v.SharesOf(user).Cmp(amount) < 0 {
		return ErrInsufficientShares
	}
	if err := v.harvest(); err != nil {
		return err
	}
	if err := v.settle(user); err != nil {
		return err
	}
	if v.source != nil {
		if err := v.source.Unstake(amount); err != nil {
			return err
		}
	}
	if err := v.ledger.Transfer(v.account, recipient, amount); err != nil {
		return err
	}
	v.shares[user] = new(big.Int).Sub(v.SharesOf(user), amount)
	v.totalShares.Sub(v.totalShares, amount)
	v.snapshot(user)
	return nil
}

// Claim harvests and pays user's pending rewards. Callable by anyone on
// behalf of any user; rewards always go to the user.
func (v *Vault) Claim(user common.Address) error {
	if err := v.harvest(); err != nil {
		return err
	}
	if err := v.settle(user); err != nil {
		return err
	}
	v.snapshot(user)
	return nil
}

// PendingReward returns user's unclaimed amount of one reward token, based on
// the last harvest.
func (v *Vault) PendingReward(user, reward common.Address) *big.Int {
	return v.owed(user, reward)
}

// harvest pulls rewards from the yield source and folds them into the
// per-share accumulator. Amounts harvested while no shares exist are held
// back and folded in once shares return.
func (v *Vault) harvest() error {
	if v.source == nil {
		return nil
	}
	harvested, err := v.source.Harvest()
	if err != nil {
		return err
	}
	for reward, amount := range harvested {
		if amount == nil || amount.Sign() == 0 {
			continue
		}
		if _, ok := v.rewardLedgers[reward]; !ok {
			return ErrUnknownReward
		}
		prev, ok := v.pending[reward]
		if !ok {
			prev = big.NewInt(0)
		}
		v.pending[reward] = new(big.Int).Add(prev, amount)
	}
	if v.totalShares.Sign() == 0 {
		return nil
	}
	for _, reward := range v.rewardOrder {
		amount := v.pending[reward]
		if amount == nil || amount.Sign() == 0 {
			continue
		}
		delta := new(big.Int).Mul(amount, rewardScale)
		delta.Quo(delta, v.totalShares)
		v.accPerShare[reward] = new(big.Int).Add(v.acc(reward), delta)
		v.pending[reward] = big.NewInt(0)
	}
	return nil
}

// settle pays user everything owed under the current accumulator.
func (v *Vault) settle(user common.Address) error {
	for _, reward := range v.rewardOrder {
		owed := v.owed(user, reward)
		if owed.Sign() == 0 {
			continue
		}
		if err := v.rewardLedgers[reward].Transfer(v.account, user, owed); err != nil {
			return err
		}
	}
	return nil
}

// snapshot resets user's reward debt to the current accumulator position.
func (v *Vault) snapshot(user common.Address) {
	debts, ok := v.rewardDebt[user]
	if !ok {
		debts = make(map[common.Address]*big.Int)
		v.rewardDebt[user] = debts
	}
	userShares := v.SharesOf(user)
	for _, reward := range v.rewardOrder {
		debt := new(big.Int).Mul(userShares, v.acc(reward))
		debts[reward] = debt.Quo(debt, rewardScale)
	}
}

func (v *Vault) owed(user, reward common.Address) *big.Int {
	earned := new(big.Int).Mul(v.SharesOf(user), v.acc(reward))
	earned.Quo(earned, rewardScale)
	if debts, ok := v.rewardDebt[user]; ok {
		if debt, ok := debts[reward]; ok {
			earned.Sub(earned, debt)
		}
	}
	if earned.Sign() < 0 {
		return big.NewInt(0)
	}
	return earned
}

func (v *Vault) acc(reward common.Address) *big.Int {
	if a, ok := v.accPerShare[reward]; ok {
		return a
	}
	return big.NewInt(0)
}
