package flashswap

import "math/big"

var basisPoints = big.NewInt(10_000)

// MinAmountOut returns quoted × (10000 − bps) / 10000, rounded down.
// Tolerances at or above 100% yield zero.
func MinAmountOut(quoted *big.Int, bps uint32) *big.Int {
	if quoted == nil || quoted.Sign() <= 0 || bps >= 10_000 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(quoted, big.NewInt(int64(10_000-bps)))
	return out.Quo(out, basisPoints)
}
