// Package fees estimates gateway charges and splits proportional fees.
package fees

import (
	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// Schedule is the gateway's percentage-plus-flat pricing.
type Schedule struct {
	Percent              decimal.Decimal
	InternationalPercent decimal.Decimal
	FlatMinor            int64
	// FlatWaiverMinor waives the flat part for charges below it.
	FlatWaiverMinor int64
	// CapMinor bounds the fee; zero disables the cap.
	CapMinor int64
}

// Estimate returns the expected gateway fee for a charge in minor units.
func (s Schedule) Estimate(amountMinor int64, international bool) int64 {
	if amountMinor <= 0 {
		return 0
	}
	pct := s.Percent
	if international && s.InternationalPercent.GreaterThan(decimal.Zero) {
		pct = s.InternationalPercent
	}
	fee := decimal.NewFromInt(amountMinor).Mul(pct)
	if amountMinor >= s.FlatWaiverMinor {
		fee = fee.Add(decimal.NewFromInt(s.FlatMinor))
	}
	rounded := fee.Round(0).IntPart()
	if s.CapMinor > 0 && rounded > s.CapMinor {
		return s.CapMinor
	}
	return rounded
}

// PaidRatio is min(1, paid/total). A non-positive total counts as fully paid.
func PaidRatio(paidMinor, totalMinor int64) decimal.Decimal {
	if totalMinor <= 0 {
		return one
	}
	if paidMinor <= 0 {
		return decimal.Zero
	}
	ratio := decimal.NewFromInt(paidMinor).Div(decimal.NewFromInt(totalMinor))
	if ratio.GreaterThan(one) {
		return one
	}
	return ratio
}

// ServiceFeeSlice is the share of the order's service fee recognised for one
// payment: serviceFeeTotal x min(1, paid/orderTotal), rounded half away from zero.
func ServiceFeeSlice(serviceFeeTotalMinor, paidMinor, orderTotalMinor int64) (int64, decimal.Decimal) {
	ratio := PaidRatio(paidMinor, orderTotalMinor)
	if serviceFeeTotalMinor <= 0 {
		return 0, ratio
	}
	amount := decimal.NewFromInt(serviceFeeTotalMinor).Mul(ratio).Round(0).IntPart()
	return amount, ratio
}
