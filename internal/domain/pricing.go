package domain

import "github.com/shopspring/decimal"

// PriceBreakdown captures the derived monetary totals of a checkout. It is recomputed on demand and
// never stored. Total always equals Subtotal + ShippingCost - Discount.
type PriceBreakdown struct {
	Subtotal     decimal.Decimal
	ShippingCost decimal.Decimal
	Discount     decimal.Decimal
	Total        decimal.Decimal
}

// InstallmentOption is one selectable credit-card installment tier.
type InstallmentOption struct {
	Count        int
	Value        decimal.Decimal
	Total        decimal.Decimal
	InterestFree bool
	Label        string
}

var hundred = decimal.NewFromInt(100)

// ToMinorUnits converts an amount to integer cents, rounding half away from zero.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// FromMinorUnits converts integer cents back to a decimal amount.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}
