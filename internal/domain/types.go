package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Currency is the only currency the storefront sells in.
const Currency = "BRL"

// PaymentMethod enumerates the payment rails offered at checkout.
type PaymentMethod string

const (
	// PaymentMethodCredit charges a tokenised credit card, optionally in installments.
	PaymentMethodCredit PaymentMethod = "credit"
	// PaymentMethodPix issues a Pix QR code / copy-paste code.
	PaymentMethodPix PaymentMethod = "pix"
	// PaymentMethodBoleto issues a boleto payment slip.
	PaymentMethodBoleto PaymentMethod = "boleto"
)

// ParsePaymentMethod normalises raw input into a known payment method.
func ParsePaymentMethod(raw string) (PaymentMethod, bool) {
	method := PaymentMethod(strings.ToLower(strings.TrimSpace(raw)))
	if !method.Valid() {
		return "", false
	}
	return method, true
}

// Valid reports whether the method is one of the supported rails.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCredit, PaymentMethodPix, PaymentMethodBoleto:
		return true
	default:
		return false
	}
}

func (m PaymentMethod) String() string {
	return string(m)
}

// CartLine is a single product in the checkout cart.
type CartLine struct {
	ID            string
	Name          string
	UnitPrice     decimal.Decimal
	OriginalPrice *decimal.Decimal
	Quantity      int
	Image         string
}

// Subtotal returns unit price times quantity.
func (l CartLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// CustomerInfo holds the buyer's contact and tax data exactly as typed.
type CustomerInfo struct {
	Name  string
	Email string
	Phone string
	TaxID string
}

// ShippingAddress is the delivery address captured by the form.
type ShippingAddress struct {
	PostalCode   string
	Street       string
	Number       string
	Complement   string
	Neighborhood string
	City         string
	State        string
}

// ShippingOption is an immutable catalog entry; sessions reference it by ID only.
type ShippingOption struct {
	ID            string
	Name          string
	Price         decimal.Decimal
	EstimatedDays string
}

// FindShippingOption looks up an option by identifier.
func FindShippingOption(options []ShippingOption, id string) (ShippingOption, bool) {
	id = strings.TrimSpace(id)
	for _, option := range options {
		if option.ID == id {
			return option, true
		}
	}
	return ShippingOption{}, false
}

// CardDetails carries raw card data for the lifetime of a single submission attempt.
type CardDetails struct {
	Number       string
	HolderName   string
	ExpMonth     string
	ExpYear      string
	CVV          string
	Installments int
}

// PaymentSelection pairs the chosen method with card details when paying by credit.
type PaymentSelection struct {
	Method PaymentMethod
	Card   *CardDetails
}

// PaymentStatus is the status string reported by the payment gateway.
type PaymentStatus string

const (
	PaymentStatusWaiting    PaymentStatus = "waiting_payment"
	PaymentStatusPaid       PaymentStatus = "paid"
	PaymentStatusRefused    PaymentStatus = "refused"
	PaymentStatusError      PaymentStatus = "error"
	PaymentStatusProcessing PaymentStatus = "processing"
)

// PixPayment holds the data the buyer needs to settle a Pix charge.
type PixPayment struct {
	QRCodeBase64 string
	CopyPaste    string
}

// BoletoPayment holds the payment slip data.
type BoletoPayment struct {
	DigitableLine string
	PDFURL        string
	Barcode       string
}

// CreditPayment carries the card authorisation outcome.
type CreditPayment struct {
	Status            PaymentStatus
	AuthorizationCode string
	Message           string
}

// CheckoutResult is the normalised gateway response. Exactly one of Pix, Boleto or Credit is set,
// matching Method.
type CheckoutResult struct {
	Method        PaymentMethod
	Status        PaymentStatus
	SecureURL     string
	TransactionID string
	Pix           *PixPayment
	Boleto        *BoletoPayment
	Credit        *CreditPayment
}

// Clone returns a copy that shares no pointers with r.
func (r CheckoutResult) Clone() CheckoutResult {
	if r.Pix != nil {
		pix := *r.Pix
		r.Pix = &pix
	}
	if r.Boleto != nil {
		boleto := *r.Boleto
		r.Boleto = &boleto
	}
	if r.Credit != nil {
		credit := *r.Credit
		r.Credit = &credit
	}
	return r
}

// Settled reports whether the result needs no further polling.
func (r CheckoutResult) Settled() bool {
	return r.Method == PaymentMethodCredit && r.Status == PaymentStatusPaid
}
