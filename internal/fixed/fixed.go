package fixed

import (
	"fmt"
	"math/big"
)

// Precision digits used across the protocol. Prices and fulfillment rates
// are ray-scaled, token amounts are wad-scaled, currency amounts carry the
// digits of their currency (6-18).
const (
	RayDigits = 27
	WadDigits = 18

	SecondsPerYear = 365 * 24 * 3600
)

var (
	// Ray is 10^27, the identity price and the scale of rates.
	Ray = pow10(RayDigits)
	// Wad is 10^18, the scale of token amounts.
	Wad = pow10(WadDigits)
)

func pow10(digits int) *big.Int {
	if digits < 0 {
		panic(fmt.Sprintf("fixed: negative precision %d", digits))
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
}

// Rescale converts amount between two decimal precisions. Scaling down
// truncates toward zero; scaling up is exact, so a down-up round trip of a
// value produced by Rescale is the identity.
func Rescale(amount *big.Int, fromDigits, toDigits int) *big.Int {
	if amount == nil {
		return big.NewInt(0)
	}
	switch {
	case toDigits > fromDigits:
		return new(big.Int).Mul(amount, pow10(toDigits-fromDigits))
	case toDigits < fromDigits:
		return new(big.Int).Quo(new(big.Int).Set(amount), pow10(fromDigits-toDigits))
	default:
		return new(big.Int).Set(amount)
	}
}

// ApplyRatio computes floor(amount * numerator / 10^denomDigits). It is used
// to apply fulfillment rates and any other fixed-point ratio. A negative
// denomDigits is a programming error and panics.
func ApplyRatio(amount, numerator *big.Int, denomDigits int) *big.Int {
	if amount == nil || numerator == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(amount, numerator)
	return product.Quo(product, pow10(denomDigits))
}

// CurrencyAmount converts a wad-scaled token amount into a currency amount at
// a ray-scaled price: floor(tokenAmount * price / 10^(27+18-currencyDigits)).
func CurrencyAmount(tokenAmount, price *big.Int, currencyDigits int) *big.Int {
	return ApplyRatio(tokenAmount, price, RayDigits+WadDigits-currencyDigits)
}

// TokenAmount is the inverse of CurrencyAmount: it converts a currency
// amount into a wad-scaled token amount at a ray-scaled price.
func TokenAmount(currencyAmount, price *big.Int, currencyDigits int) *big.Int {
	if currencyAmount == nil {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Mul(currencyAmount, pow10(RayDigits+WadDigits-currencyDigits))
	return scaled.Quo(scaled, price)
}

// Yield computes (current/reference - 1) in ray precision. The reference
// price must be positive; prices are rejected at the pricing layer before
// they can reach zero here.
func Yield(current, reference *big.Int) *big.Int {
	ratio := new(big.Int).Mul(current, Ray)
	ratio.Quo(ratio, reference)
	return ratio.Sub(ratio, Ray)
}

// AnnualizedYield scales Yield by secondsPerYear/(currentPeriodStart -
// referencePeriodStart), multiplying before dividing to keep precision. The
// reference period start must be strictly in the past; a zero delta panics.
func AnnualizedYield(current, reference *big.Int, currentPeriodStart, referencePeriodStart uint64) *big.Int {
	if currentPeriodStart == referencePeriodStart {
		panic("fixed: zero time delta in annualized yield")
	}
	delta := new(big.Int).SetUint64(currentPeriodStart - referencePeriodStart)
	out := Yield(current, reference)
	out.Mul(out, big.NewInt(SecondsPerYear))
	return out.Quo(out, delta)
}
