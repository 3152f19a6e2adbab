package services

import (
	"strconv"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfbeehive/swift-checkout/internal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testShipping() []domain.ShippingOption {
	return []domain.ShippingOption{
		{ID: "express", Name: "Expressa", Price: dec("24.90")},
		{ID: "standard", Name: "Padrão", Price: dec("14.90")},
		{ID: "economic", Name: "Econômica", Price: decimal.Zero},
	}
}

func testLines() []domain.CartLine {
	return []domain.CartLine{
		{ID: "1", Name: "Tênis", UnitPrice: dec("249.90"), Quantity: 1},
		{ID: "2", Name: "Mochila", UnitPrice: dec("5.90"), Quantity: 1},
	}
}

func TestCalculateBreakdownPix(t *testing.T) {
	got := CalculateBreakdown(testLines(), testShipping(), "standard", domain.PaymentMethodPix)

	assert.True(t, got.Subtotal.Equal(dec("255.80")), "subtotal %s", got.Subtotal)
	assert.True(t, got.ShippingCost.Equal(dec("14.90")))
	assert.True(t, got.Discount.Equal(dec("12.79")), "discount %s", got.Discount)
	assert.True(t, got.Total.Equal(dec("257.91")), "total %s", got.Total)
	assert.True(t, got.Total.Equal(got.Subtotal.Add(got.ShippingCost).Sub(got.Discount)))
}

func TestCalculateBreakdownNonPixHasNoDiscount(t *testing.T) {
	for _, method := range []domain.PaymentMethod{domain.PaymentMethodCredit, domain.PaymentMethodBoleto} {
		got := CalculateBreakdown(testLines(), testShipping(), "express", method)
		assert.True(t, got.Discount.IsZero(), method)
		assert.True(t, got.Total.Equal(dec("280.70")), "%s total %s", method, got.Total)
	}
}

func TestCalculateBreakdownUnknownShippingIsFree(t *testing.T) {
	got := CalculateBreakdown(testLines(), testShipping(), "drone", domain.PaymentMethodBoleto)
	assert.True(t, got.ShippingCost.IsZero())
	assert.True(t, got.Total.Equal(dec("255.80")))
}

func TestCalculateBreakdownEmptyCart(t *testing.T) {
	got := CalculateBreakdown(nil, testShipping(), "standard", domain.PaymentMethodPix)
	assert.True(t, got.Subtotal.IsZero())
	assert.True(t, got.Discount.IsZero())
	assert.True(t, got.Total.Equal(dec("14.90")))
}

func TestCalculateBreakdownIsDeterministic(t *testing.T) {
	a := CalculateBreakdown(testLines(), testShipping(), "standard", domain.PaymentMethodPix)
	b := CalculateBreakdown(testLines(), testShipping(), "standard", domain.PaymentMethodPix)
	assert.True(t, a.Total.Equal(b.Total))
}

func TestInstallmentsTiers(t *testing.T) {
	total := dec("100.00")
	options := Installments(total)
	require.Len(t, options, MaxInstallments)

	tolerance := dec("0.000001")
	for i, option := range options {
		n := i + 1
		assert.Equal(t, n, option.Count)
		if n <= InterestFreeInstallments {
			assert.True(t, option.InterestFree)
			expected := total.Div(decimal.NewFromInt(int64(n)))
			assert.True(t, option.Value.Sub(expected).Abs().LessThan(tolerance), "tier %d value %s", n, option.Value)
			assert.True(t, strings.HasSuffix(option.Label, "sem juros"), option.Label)
		} else {
			assert.False(t, option.InterestFree)
			assert.True(t, strings.HasSuffix(option.Label, "com juros"), option.Label)
			assert.True(t, option.Total.GreaterThan(total))
		}
		assert.True(t, strings.HasPrefix(option.Label, strconv.Itoa(n)+"x de "), option.Label)
		assert.Contains(t, option.Label, "R$")
	}
}

func TestInstallmentCompoundInterest(t *testing.T) {
	option := Installment(dec("100.00"), 4)
	// 100 * 1.0199^4 = 108.2008
	assert.True(t, option.Total.Round(2).Equal(dec("108.20")), "total %s", option.Total)
	assert.True(t, option.Value.Round(2).Equal(dec("27.05")), "value %s", option.Value)

	twelve := Installment(dec("100.00"), 12)
	assert.True(t, twelve.Total.Round(2).Equal(dec("126.68")), "total %s", twelve.Total)
}

func TestInstallmentClampsCount(t *testing.T) {
	assert.Equal(t, 1, Installment(dec("10"), 0).Count)
	assert.Equal(t, MaxInstallments, Installment(dec("10"), 99).Count)
}

func TestToMinorUnitsRoundsHalfAwayFromZero(t *testing.T) {
	assert.Equal(t, int64(25791), domain.ToMinorUnits(dec("257.905")))
	assert.Equal(t, int64(1279), domain.ToMinorUnits(dec("12.79")))
	assert.Equal(t, int64(1), domain.ToMinorUnits(dec("0.005")))
}
