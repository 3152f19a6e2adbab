package services

import (
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/jfbeehive/swift-checkout/internal/domain"
)

const (
	// MaxInstallments is the number of installment tiers offered for credit cards.
	MaxInstallments = 12
	// InterestFreeInstallments is the largest installment count without interest.
	InterestFreeInstallments = 3
)

var (
	pixDiscountRate         = decimal.RequireFromString("0.05")
	monthlyInterestRate     = decimal.RequireFromString("0.0199")
	installmentInterestBase = decimal.NewFromInt(1).Add(monthlyInterestRate)

	brlPrinter = message.NewPrinter(language.BrazilianPortuguese)
)

// CalculateBreakdown derives the order totals from the cart, the selected shipping option and the
// payment method.
func CalculateBreakdown(lines []domain.CartLine, options []domain.ShippingOption, shippingID string, method domain.PaymentMethod) domain.PriceBreakdown {
	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.Subtotal())
	}

	shipping := decimal.Zero
	if option, ok := domain.FindShippingOption(options, shippingID); ok {
		shipping = option.Price
	}

	discount := decimal.Zero
	if method == domain.PaymentMethodPix {
		discount = subtotal.Mul(pixDiscountRate)
	}

	return domain.PriceBreakdown{
		Subtotal:     subtotal,
		ShippingCost: shipping,
		Discount:     discount,
		Total:        subtotal.Add(shipping).Sub(discount),
	}
}

// Installments spreads the total over 1..MaxInstallments tiers. Up to InterestFreeInstallments no
// interest applies; above that the total compounds at 1.99% per installment.
func Installments(total decimal.Decimal) []domain.InstallmentOption {
	options := make([]domain.InstallmentOption, 0, MaxInstallments)
	for n := 1; n <= MaxInstallments; n++ {
		options = append(options, Installment(total, n))
	}
	return options
}

// Installment computes a single tier. n is clamped to [1, MaxInstallments].
func Installment(total decimal.Decimal, n int) domain.InstallmentOption {
	if n < 1 {
		n = 1
	}
	if n > MaxInstallments {
		n = MaxInstallments
	}
	count := decimal.NewFromInt(int64(n))

	effective := total
	interestFree := n <= InterestFreeInstallments
	if !interestFree {
		effective = total.Mul(installmentInterestBase.Pow(count))
	}
	value := effective.Div(count)

	suffix := "sem juros"
	if !interestFree {
		suffix = "com juros"
	}

	return domain.InstallmentOption{
		Count:        n,
		Value:        value,
		Total:        effective,
		InterestFree: interestFree,
		Label:        fmt.Sprintf("%dx de %s %s", n, FormatBRL(value), suffix),
	}
}

// FormatBRL renders an amount as Brazilian reais.
func FormatBRL(amount decimal.Decimal) string {
	f, _ := amount.Round(2).Float64()
	return brlPrinter.Sprint(currency.Symbol(currency.BRL.Amount(f)))
}
