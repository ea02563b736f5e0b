package backstop

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"airlend/native/token"
)

var (
	// ErrNotMarket indicates a Provide call from a caller other than the
	// lending market.
	ErrNotMarket = errors.New("backstop: caller is not the lending market")
	// ErrInvalidAmount indicates a nil or non-positive amount.
	ErrInvalidAmount = errors.New("backstop: amount must be positive")
	// ErrInsufficientShares indicates a withdrawal beyond the holder's shares.
	ErrInsufficientShares = errors.New("backstop: insufficient shares")
	// ErrPoolEmpty indicates a withdrawal from a pool with no shares.
	ErrPoolEmpty = errors.New("backstop: pool is empty")
)

// Pool is the stable-asset backstop of last resort. Depositors hold shares
// against the pool's stable balance, so penalty income paid into the pool
// account accrues to all holders without touching share counts. During a
// liquidation shortfall the market draws on the pool through Provide, which
// mints what the balance cannot cover; that mint requires the pool account to
// hold the minter role on the stable ledger.
type Pool struct {
	account common.Address
	market  common.Address
	stable  *token.Ledger

	totalShares *big.Int
	shares      map[common.Address]*big.Int
}

// New constructs a pool custodied at account; only market may call Provide.
func New(account, market common.Address, stable *token.Ledger) *Pool {
	return &Pool{
		account:     account,
		market:      market,
		stable:      stable,
		totalShares: big.NewInt(0),
		shares:      make(map[common.Address]*big.Int),
	}
}

// Account returns the pool's ledger account.
func (p *Pool) Account() common.Address { return p.account }

// Balance returns the pool's stable-asset balance.
func (p *Pool) Balance() *big.Int { return p.stable.BalanceOf(p.account) }

// TotalShares returns the outstanding pool shares.
func (p *Pool) TotalShares() *big.Int { return new(big.Int).Set(p.totalShares) }

// SharesOf returns the shares held by holder.
func (p *Pool) SharesOf(holder common.Address) *big.Int {
	if s, ok := p.shares[holder]; ok {
		return new(big.Int).Set(s)
	}
	return big.NewInt(0)
}

// Deposit moves amount of stable from the caller into the pool and credits
// the caller with shares.
func (p *Pool) Deposit(caller common.Address, amount *big.Int) error {
	return p.DepositFor(caller, caller, amount)
}

// DepositFor moves amount of stable from the caller into the pool and credits
// beneficiary with shares.
func (p *Pool) DepositFor(caller, beneficiary common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	balance := p.Balance()
	var minted *big.Int
	if p.totalShares.Sign() == 0 || balance.Sign() == 0 {
		minted = new(big.Int).Set(amount)
	} else {
		minted = new(big.Int).Mul(amount, p.totalShares)
		minted.Quo(minted, balance)
	}
	if minted.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := p.stable.Transfer(caller, p.account, amount); err != nil {
		return err
	}
	p.shares[beneficiary] = new(big.Int).Add(p.SharesOf(beneficiary), minted)
	p.totalShares.Add(p.totalShares, minted)
	return nil
}

// Withdraw redeems shares held by the caller for the proportional stable
// amount, paid to the caller.
func (p *Pool) Withdraw(caller common.Address, shares *big.Int) error {
	return p.WithdrawTo(caller, caller, shares)
}

// WithdrawTo redeems shares held by the caller and pays the proceeds to
// recipient.
func (p *Pool) WithdrawTo(caller, recipient common.Address, shares *big.Int) error {
	if shares == nil || shares.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if p.totalShares.Sign() == 0 {
		return ErrPoolEmpty
	}
	if p.SharesOf(caller).Cmp(shares) < 0 {
		return ErrInsufficientShares
	}
	amount := new(big.Int).Mul(p.Balance(), shares)
	amount.Quo(amount, p.totalShares)

	p.shares[caller] = new(big.Int).Sub(p.SharesOf(caller), shares)
	p.totalShares.Sub(p.totalShares, shares)
	if amount.Sign() == 0 {
		return nil
	}
	return p.stable.Transfer(p.account, recipient, amount)
}

// CanProvide reports whether a Provide of amount can succeed: either the
// balance covers it or the pool account can mint the shortfall.
func (p *Pool) CanProvide(amount *big.Int) bool {
	if amount == nil || amount.Sign() <= 0 {
		return false
	}
	if p.Balance().Cmp(amount) >= 0 {
		return true
	}
	return p.stable.HasRole(p.account)
}

// Provide pays amount of stable to recipient on behalf of the market. A
// balance shortfall is covered by minting to the pool account first; without
// the minter role the mint fails and nothing moves.
func (p *Pool) Provide(caller, recipient common.Address, amount *big.Int) error {
	if caller != p.market {
		return ErrNotMarket
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if balance := p.Balance(); balance.Cmp(amount) < 0 {
		shortfall := new(big.Int).Sub(amount, balance)
		if err := p.stable.Mint(p.account, p.account, shortfall); err != nil {
			return err
		}
	}
	return p.stable.Transfer(p.account, recipient, amount)
}
