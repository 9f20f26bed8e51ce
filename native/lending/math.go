package lending

import "math/big"

const (
	secondsPerDay  = 86_400
	secondsPerYear = 365 * secondsPerDay
)

var (
	basisPoints = big.NewInt(10_000)
	// priceScale is the fixed-point scale of oracle prices.
	priceScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

// mulDiv returns floor(a*b/c).
func mulDiv(a, b, c *big.Int) *big.Int {
	if c.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, c)
}

func bps(amount *big.Int, rate uint64) *big.Int {
	return mulDiv(amount, new(big.Int).SetUint64(rate), basisPoints)
}

// Interest returns principal×rate×term/(365d×10000), rounded down. Interest
// is fixed at open for the full term.
func Interest(principal *big.Int, rateBps, termSeconds uint64) *big.Int {
	if principal == nil || principal.Sign() <= 0 {
		return big.NewInt(0)
	}
	num := new(big.Int).Mul(principal, new(big.Int).SetUint64(rateBps))
	num.Mul(num, new(big.Int).SetUint64(termSeconds))
	den := new(big.Int).Mul(big.NewInt(secondsPerYear), basisPoints)
	return num.Quo(num, den)
}

// TotalDue returns principal plus term interest.
func TotalDue(principal *big.Int, rateBps, termSeconds uint64) *big.Int {
	return new(big.Int).Add(copyInt(principal), Interest(principal, rateBps, termSeconds))
}

// LatePenalty charges rate bps of principal for every started day past
// maturity.
func LatePenalty(principal *big.Int, ratePerDayBps, maturity, now uint64) *big.Int {
	if now < maturity || ratePerDayBps == 0 || principal == nil {
		return big.NewInt(0)
	}
	days := (now-maturity)/secondsPerDay + 1
	return bps(new(big.Int).Mul(principal, new(big.Int).SetUint64(days)), ratePerDayBps)
}

func minInt(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
