package otc

import (
	"fmt"
	"math/big"
)

// mulDiv returns a*b/den with floor division.
func mulDiv(a, b, den *big.Int) (*big.Int, error) {
	if den == nil || den.Sign() <= 0 {
		return nil, fmt.Errorf("%w: zero divisor", ErrInvariantViolation)
	}
	out := new(big.Int).Mul(a, b)
	return out.Div(out, den), nil
}

// mulDivCeil returns a*b/den rounded up. Settlement amounts always round in
// the seller's favour, so a payer can never underpay by a sub-unit.
func mulDivCeil(a, b, den *big.Int) (*big.Int, error) {
	if den == nil || den.Sign() <= 0 {
		return nil, fmt.Errorf("%w: zero divisor", ErrInvariantViolation)
	}
	prod := new(big.Int).Mul(a, b)
	quo, rem := new(big.Int).QuoRem(prod, den, new(big.Int))
	if rem.Sign() != 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo, nil
}

func pow10(exp uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
}

// GrossUsd8 converts a token amount at the snapshot price into 8-decimal USD.
func GrossUsd8(tokenAmount *big.Int, priceUsd8 uint64, tokenDecimals uint8) (*big.Int, error) {
	if tokenAmount == nil || tokenAmount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if priceUsd8 == 0 {
		return nil, ErrBadPrice
	}
	return mulDiv(tokenAmount, new(big.Int).SetUint64(priceUsd8), pow10(tokenDecimals))
}

// NetUsd8 applies the discount to a gross USD value.
func NetUsd8(grossUsd8 *big.Int, discountBps uint16) (*big.Int, error) {
	if discountBps > bpsDenominator {
		return nil, ErrInvalidRange
	}
	return mulDiv(grossUsd8, big.NewInt(int64(bpsDenominator-discountBps)), big.NewInt(bpsDenominator))
}

// RequiredPayment computes the settlement amount for the offer in its chosen
// currency, in that currency's smallest unit. Stable settlements convert USD
// 1:1 via the stable asset's decimals; native settlements divide by the
// reference price snapshot. Both paths round up.
func RequiredPayment(offer *Offer, tokenDecimals, stableDecimals, nativeDecimals uint8) (*big.Int, error) {
	if offer == nil {
		return nil, fmt.Errorf("otc: nil offer")
	}
	gross, err := GrossUsd8(offer.TokenAmount, offer.PriceUsd8, tokenDecimals)
	if err != nil {
		return nil, err
	}
	net, err := NetUsd8(gross, offer.DiscountBps)
	if err != nil {
		return nil, err
	}
	switch offer.Currency {
	case CurrencyStable:
		return mulDivCeil(net, pow10(stableDecimals), big.NewInt(usdUnit8))
	case CurrencyNative:
		if offer.RefPriceUsd8 == 0 {
			return nil, ErrBadPrice
		}
		return mulDivCeil(net, pow10(nativeDecimals), new(big.Int).SetUint64(offer.RefPriceUsd8))
	default:
		return nil, ErrUnsupportedCurrency
	}
}
