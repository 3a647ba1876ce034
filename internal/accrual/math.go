// Package accrual implements the reward index accumulator shared by markets
// and vaults: aggregate sync, position sync and read-only projection.
package accrual

import "math/big"

var (
	precision            = mustBigInt("1000000000000000000000000000000000000") // 1e36
	defaultRatePerSecond = mustBigInt("1000000000000000000")                   // 1e18
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// Precision returns the fixed-point scale of reward indices (1e36).
func Precision() *big.Int {
	return new(big.Int).Set(precision)
}

// DefaultRatePerSecond returns the fixed-rate emission default (1e18 points/s).
func DefaultRatePerSecond() *big.Int {
	return new(big.Int).Set(defaultRatePerSecond)
}

// mulDivTrunc returns a*b/den truncated toward zero. A zero denominator yields zero.
func mulDivTrunc(a, b, den *big.Int) *big.Int {
	if a == nil || b == nil || den == nil || den.Sign() == 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, den)
}

// IndexIncrement is emitted * 1e36 / totalShares, truncated.
func IndexIncrement(emitted, totalShares *big.Int) *big.Int {
	return mulDivTrunc(emitted, precision, totalShares)
}

// Earned is (index - lastIndex) * shares / 1e36, truncated.
func Earned(index, lastIndex, shares *big.Int) *big.Int {
	delta := new(big.Int).Sub(index, lastIndex)
	return mulDivTrunc(delta, shares, precision)
}

// ShareSeconds is deltaT * shares.
func ShareSeconds(deltaT int64, shares *big.Int) *big.Int {
	if shares == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Mul(big.NewInt(deltaT), shares)
}

func add(a, b *big.Int) *big.Int {
	return new(big.Int).Add(a, b)
}
