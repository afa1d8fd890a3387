package fixed

import (
	"math/big"
	"testing"
)

func bi(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("invalid int literal: " + s)
	}
	return v
}

func TestRescaleRoundTrip(t *testing.T) {
	cases := []struct {
		value    string
		from, to int
	}{
		{"0", 18, 6},
		{"1", 6, 18},
		{"123456789", 6, 12},
		{"1000000000000000000", 18, 27},
		{"987654321000", 12, 27},
	}

	for _, tc := range cases {
		up := Rescale(bi(tc.value), tc.from, tc.to)
		back := Rescale(up, tc.to, tc.from)
		if back.Cmp(bi(tc.value)) != 0 {
			t.Fatalf("round trip %s (%d->%d->%d) = %s", tc.value, tc.from, tc.to, tc.from, back)
		}
	}
}

func TestRescaleTruncatesTowardZero(t *testing.T) {
	got := Rescale(bi("1999999"), 6, 0)
	if got.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("expected 1, got %s", got)
	}
}

func TestApplyRatioFulfillment(t *testing.T) {
	// 1,000,000 outstanding at a 25% ray-scaled rate.
	outstanding := bi("1000000")
	rate := new(big.Int).Quo(Ray, big.NewInt(4))

	got := ApplyRatio(outstanding, rate, RayDigits)
	if got.Cmp(bi("250000")) != 0 {
		t.Fatalf("expected 250000, got %s", got)
	}
}

func TestApplyRatioFloors(t *testing.T) {
	// 3 * (1/3 ray) floors to 0 remainder handling: 3*333...3/10^27 = 0.999... -> 0
	third := new(big.Int).Quo(Ray, big.NewInt(3))
	got := ApplyRatio(big.NewInt(3), third, RayDigits)
	if got.Sign() != 0 {
		t.Fatalf("expected floor to 0, got %s", got)
	}
}

func TestApplyRatioNegativeDigitsPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on negative precision")
		}
	}()
	ApplyRatio(big.NewInt(1), big.NewInt(1), -1)
}

func TestCurrencyAmount(t *testing.T) {
	// 2.0 tokens at price 1.5 ray into a 6-digit currency: 3_000000.
	tokens := new(big.Int).Mul(big.NewInt(2), Wad)
	price := new(big.Int).Mul(big.NewInt(15), Rescale(big.NewInt(1), 0, RayDigits-1))

	got := CurrencyAmount(tokens, price, 6)
	if got.Cmp(bi("3000000")) != 0 {
		t.Fatalf("expected 3000000, got %s", got)
	}
}

func TestTokenAmountInvertsCurrencyAmount(t *testing.T) {
	// 3_000000 currency at price 1.5 ray back to 2.0 tokens.
	price := new(big.Int).Mul(big.NewInt(15), Rescale(big.NewInt(1), 0, RayDigits-1))
	tokens := TokenAmount(bi("3000000"), price, 6)

	want := new(big.Int).Mul(big.NewInt(2), Wad)
	if tokens.Cmp(want) != 0 {
		t.Fatalf("expected %s, got %s", want, tokens)
	}
}

func TestYield(t *testing.T) {
	// reference 1.00 ray, current 1.05 ray => 0.05 ray.
	current := new(big.Int).Mul(big.NewInt(105), Rescale(big.NewInt(1), 0, RayDigits-2))
	got := Yield(current, Ray)

	want := new(big.Int).Mul(big.NewInt(5), Rescale(big.NewInt(1), 0, RayDigits-2))
	if got.Cmp(want) != 0 {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestAnnualizedYield(t *testing.T) {
	// 0.05 over ~36.5 days annualizes to ~0.5.
	current := new(big.Int).Mul(big.NewInt(105), Rescale(big.NewInt(1), 0, RayDigits-2))
	delta := uint64(SecondsPerYear / 10)

	got := AnnualizedYield(current, Ray, delta, 0)
	want := new(big.Int).Mul(big.NewInt(5), Rescale(big.NewInt(1), 0, RayDigits-1))
	if got.Cmp(want) != 0 {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestAnnualizedYieldZeroDeltaPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on zero delta")
		}
	}()
	AnnualizedYield(Ray, Ray, 100, 100)
}
