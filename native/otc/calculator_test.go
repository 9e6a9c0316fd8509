package otc

import (
	"errors"
	"math/big"
	"testing"
)

func TestMulDivCeilRoundsUp(t *testing.T) {
	cases := []struct {
		a, b, den int64
		want      int64
	}{
		{10, 3, 4, 8},  // 30/4 = 7.5
		{10, 2, 4, 5},  // exact
		{1, 1, 3, 1},   // 0.33
		{7, 7, 48, 2},  // 49/48
		{100, 1, 1, 100},
	}
	for _, tc := range cases {
		got, err := mulDivCeil(big.NewInt(tc.a), big.NewInt(tc.b), big.NewInt(tc.den))
		if err != nil {
			t.Fatalf("mulDivCeil(%d,%d,%d): %v", tc.a, tc.b, tc.den, err)
		}
		if got.Int64() != tc.want {
			t.Errorf("mulDivCeil(%d,%d,%d) = %d, want %d", tc.a, tc.b, tc.den, got.Int64(), tc.want)
		}
	}
}

func TestMulDivZeroDivisor(t *testing.T) {
	if _, err := mulDiv(big.NewInt(1), big.NewInt(1), big.NewInt(0)); !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("mulDiv zero divisor: got %v", err)
	}
	if _, err := mulDivCeil(big.NewInt(1), big.NewInt(1), nil); !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("mulDivCeil nil divisor: got %v", err)
	}
}

func TestGrossUsd8(t *testing.T) {
	// 1.5 tokens with 9 decimals at $2.00.
	amount := big.NewInt(1_500_000_000)
	gross, err := GrossUsd8(amount, 2_0000_0000, 9)
	if err != nil {
		t.Fatalf("GrossUsd8: %v", err)
	}
	if gross.Int64() != 3_0000_0000 {
		t.Fatalf("gross = %s, want 300000000", gross)
	}

	if _, err := GrossUsd8(big.NewInt(0), 2_0000_0000, 9); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("zero amount: got %v", err)
	}
	if _, err := GrossUsd8(amount, 0, 9); !errors.Is(err, ErrBadPrice) {
		t.Fatalf("zero price: got %v", err)
	}
}

func TestNetUsd8(t *testing.T) {
	net, err := NetUsd8(big.NewInt(10_0000_0000), 1500)
	if err != nil {
		t.Fatalf("NetUsd8: %v", err)
	}
	if net.Int64() != 8_5000_0000 {
		t.Fatalf("net = %s, want 850000000", net)
	}
	if _, err := NetUsd8(big.NewInt(1), bpsDenominator+1); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("excessive discount: got %v", err)
	}
}

func TestRequiredPaymentStable(t *testing.T) {
	offer := &Offer{
		TokenAmount: big.NewInt(1_000_000_000), // 1 token, 9 decimals
		DiscountBps: 0,
		PriceUsd8:   1_2345_6789,
		Currency:    CurrencyStable,
	}
	required, err := RequiredPayment(offer, 9, 6, 18)
	if err != nil {
		t.Fatalf("RequiredPayment: %v", err)
	}
	// $1.23456789 in 6-decimal units is 1234567.89, rounded up.
	if required.Int64() != 1_234_568 {
		t.Fatalf("required = %s, want 1234568", required)
	}
}

func TestRequiredPaymentNativeNeedsRefPrice(t *testing.T) {
	offer := &Offer{
		TokenAmount: big.NewInt(1_000_000_000),
		PriceUsd8:   2_0000_0000,
		Currency:    CurrencyNative,
	}
	if _, err := RequiredPayment(offer, 9, 6, 18); !errors.Is(err, ErrBadPrice) {
		t.Fatalf("missing ref price: got %v", err)
	}
	offer.RefPriceUsd8 = 4_0000_0000
	required, err := RequiredPayment(offer, 9, 6, 18)
	if err != nil {
		t.Fatalf("RequiredPayment: %v", err)
	}
	// $2.00 of native at $4.00 is half a coin.
	want, _ := new(big.Int).SetString("500000000000000000", 10)
	if required.Cmp(want) != 0 {
		t.Fatalf("required = %s, want %s", required, want)
	}
}
