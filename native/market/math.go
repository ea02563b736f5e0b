package market

import (
	"math/big"

	"airlend/native/oracle"
)

// usdScale is the fixed-point scale of every USD figure the engine compares:
// 18 decimals, matching the stable asset so debt amounts are USD figures
// directly.
var usdScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

const secondsPerYear = 365 * 24 * 60 * 60

// applyRate returns amount scaled by the exact rational rate, truncating.
func applyRate(amount *big.Int, r Rate) *big.Int {
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(r.Numerator))
	return out.Quo(out, new(big.Int).SetUint64(r.Denominator))
}

// usdValue normalizes a native token amount into an 18-decimal USD figure:
// amount * price * 1e18 / 10^(decimals+8), price being at the oracle's
// 8-decimal scale.
func usdValue(amount, price *big.Int, decimals uint8) *big.Int {
	out := new(big.Int).Mul(amount, price)
	out.Mul(out, usdScale)
	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	divisor.Mul(divisor, oracle.PriceScale)
	return out.Quo(out, divisor)
}

// simpleInterest returns the interest accrued on principal over elapsed
// seconds at the given annual rate, truncating.
func simpleInterest(principal *big.Int, apr Rate, elapsed int64) *big.Int {
	if principal == nil || principal.Sign() <= 0 || elapsed <= 0 || apr.IsZero() {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(principal, new(big.Int).SetUint64(apr.Numerator))
	out.Mul(out, big.NewInt(elapsed))
	divisor := new(big.Int).SetUint64(apr.Denominator)
	divisor.Mul(divisor, big.NewInt(secondsPerYear))
	return out.Quo(out, divisor)
}
