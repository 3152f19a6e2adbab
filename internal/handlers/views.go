package handlers

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jfbeehive/swift-checkout/internal/catalog"
	"github.com/jfbeehive/swift-checkout/internal/domain"
	"github.com/jfbeehive/swift-checkout/internal/services"
)

// Amounts are rendered as fixed two-decimal strings so clients never see float rounding.

type sessionPayload struct {
	ID            string               `json:"id"`
	Phase         string               `json:"phase"`
	Cart          []cartLinePayload    `json:"cart"`
	Customer      customerPayload      `json:"customer"`
	Address       addressPayload       `json:"address"`
	ShippingID    string               `json:"shippingId"`
	PaymentMethod string               `json:"paymentMethod"`
	Card          *cardSummaryPayload  `json:"card,omitempty"`
	Processing    bool                 `json:"processing"`
	Breakdown     breakdownPayload     `json:"breakdown"`
	Installments  []installmentPayload `json:"installments,omitempty"`
	Result        *resultPayload       `json:"result,omitempty"`
	Error         string               `json:"error,omitempty"`
	DiscountCode  string               `json:"discountCode,omitempty"`
	CreatedAt     string               `json:"createdAt"`
	UpdatedAt     string               `json:"updatedAt"`
	SubmittedAt   string               `json:"submittedAt,omitempty"`
}

type cartLinePayload struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	UnitPrice     string `json:"unitPrice"`
	OriginalPrice string `json:"originalPrice,omitempty"`
	Quantity      int    `json:"quantity"`
	Subtotal      string `json:"subtotal"`
	Image         string `json:"image,omitempty"`
}

type customerPayload struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
	TaxID string `json:"taxId"`
}

type addressPayload struct {
	PostalCode   string `json:"postalCode"`
	Street       string `json:"street"`
	Number       string `json:"number"`
	Complement   string `json:"complement"`
	Neighborhood string `json:"neighborhood"`
	City         string `json:"city"`
	State        string `json:"state"`
}

type cardSummaryPayload struct {
	Last4 string `json:"last4"`
}

type breakdownPayload struct {
	Subtotal     string `json:"subtotal"`
	ShippingCost string `json:"shippingCost"`
	Discount     string `json:"discount"`
	Total        string `json:"total"`
	TotalMinor   int64  `json:"totalMinor"`
}

type installmentPayload struct {
	Count        int    `json:"count"`
	Value        string `json:"value"`
	Total        string `json:"total"`
	InterestFree bool   `json:"interestFree"`
	Label        string `json:"label"`
}

type resultPayload struct {
	Method        string         `json:"method"`
	Status        string         `json:"status"`
	SecureURL     string         `json:"secureUrl"`
	TransactionID string         `json:"transactionId,omitempty"`
	Pix           *pixPayload    `json:"pix,omitempty"`
	Boleto        *boletoPayload `json:"boleto,omitempty"`
	Credit        *creditPayload `json:"credit,omitempty"`
}

type pixPayload struct {
	QRCodeBase64 string `json:"qrCodeBase64,omitempty"`
	CopyPaste    string `json:"copyPaste,omitempty"`
}

type boletoPayload struct {
	DigitableLine string `json:"digitableLine"`
	PDFURL        string `json:"pdfUrl,omitempty"`
	Barcode       string `json:"barcode,omitempty"`
}

type creditPayload struct {
	Status            string `json:"status"`
	AuthorizationCode string `json:"authorizationCode,omitempty"`
	Message           string `json:"message,omitempty"`
}

type catalogPayload struct {
	DefaultShippingID    string            `json:"defaultShippingId"`
	DefaultPaymentMethod string            `json:"defaultPaymentMethod"`
	Shipping             []shippingPayload `json:"shipping"`
	Bumps                []cartLinePayload `json:"bumps"`
}

type shippingPayload struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Price         string `json:"price"`
	EstimatedDays string `json:"estimatedDays"`
}

func newSessionPayload(view services.SessionView) sessionPayload {
	snap := view.Session
	payload := sessionPayload{
		ID:            snap.ID,
		Phase:         snap.Phase.String(),
		Cart:          newCartPayload(snap.Cart),
		Customer:      customerPayload(snap.Customer),
		Address:       addressPayload(snap.Address),
		ShippingID:    snap.ShippingID,
		PaymentMethod: snap.Method.String(),
		Processing:    snap.Processing,
		DiscountCode:  snap.DiscountCode,
		Breakdown: breakdownPayload{
			Subtotal:     money(view.Breakdown.Subtotal),
			ShippingCost: money(view.Breakdown.ShippingCost),
			Discount:     money(view.Breakdown.Discount),
			Total:        money(view.Breakdown.Total),
			TotalMinor:   domain.ToMinorUnits(view.Breakdown.Total),
		},
		Error:       snap.Error,
		CreatedAt:   formatTime(snap.CreatedAt),
		UpdatedAt:   formatTime(snap.UpdatedAt),
		SubmittedAt: formatTime(snap.SubmittedAt),
	}
	if snap.HasCard {
		payload.Card = &cardSummaryPayload{Last4: snap.CardLast4}
	}
	for _, option := range view.Installments {
		payload.Installments = append(payload.Installments, installmentPayload{
			Count:        option.Count,
			Value:        money(option.Value),
			Total:        money(option.Total),
			InterestFree: option.InterestFree,
			Label:        option.Label,
		})
	}
	if snap.Result != nil {
		payload.Result = newResultPayload(*snap.Result)
	}
	return payload
}

func newCartPayload(lines []domain.CartLine) []cartLinePayload {
	out := make([]cartLinePayload, 0, len(lines))
	for _, line := range lines {
		item := cartLinePayload{
			ID:        line.ID,
			Name:      line.Name,
			UnitPrice: money(line.UnitPrice),
			Quantity:  line.Quantity,
			Subtotal:  money(line.Subtotal()),
			Image:     line.Image,
		}
		if line.OriginalPrice != nil {
			item.OriginalPrice = money(*line.OriginalPrice)
		}
		out = append(out, item)
	}
	return out
}

func newResultPayload(result domain.CheckoutResult) *resultPayload {
	out := &resultPayload{
		Method:        result.Method.String(),
		Status:        string(result.Status),
		SecureURL:     result.SecureURL,
		TransactionID: result.TransactionID,
	}
	if result.Pix != nil {
		out.Pix = &pixPayload{QRCodeBase64: result.Pix.QRCodeBase64, CopyPaste: result.Pix.CopyPaste}
	}
	if result.Boleto != nil {
		out.Boleto = &boletoPayload{
			DigitableLine: result.Boleto.DigitableLine,
			PDFURL:        result.Boleto.PDFURL,
			Barcode:       result.Boleto.Barcode,
		}
	}
	if result.Credit != nil {
		out.Credit = &creditPayload{
			Status:            string(result.Credit.Status),
			AuthorizationCode: result.Credit.AuthorizationCode,
			Message:           result.Credit.Message,
		}
	}
	return out
}

func newCatalogPayload(cat catalog.Catalog) catalogPayload {
	payload := catalogPayload{
		DefaultShippingID:    cat.DefaultShippingID,
		DefaultPaymentMethod: cat.DefaultPaymentMethod.String(),
		Shipping:             make([]shippingPayload, 0, len(cat.ShippingOptions)),
		Bumps:                newCartPayload(cat.Bumps),
	}
	for _, option := range cat.ShippingOptions {
		payload.Shipping = append(payload.Shipping, shippingPayload{
			ID:            option.ID,
			Name:          option.Name,
			Price:         money(option.Price),
			EstimatedDays: option.EstimatedDays,
		})
	}
	return payload
}

func money(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
