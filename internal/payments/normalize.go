package payments

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jfbeehive/swift-checkout/internal/domain"
)

// looseString accepts JSON strings and numbers.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = looseString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*s = looseString(n.String())
	return nil
}

type gatewayPix struct {
	QRCodeBase64 looseString `json:"qrCodeBase64"`
	CopyPaste    looseString `json:"copyPaste"`
}

type gatewayBoleto struct {
	DigitableLine looseString `json:"digitableLine"`
	PDFURL        looseString `json:"pdfUrl"`
	Barcode       looseString `json:"barcode"`
}

type gatewayResponse struct {
	OK                *bool          `json:"ok"`
	PaymentMethod     looseString    `json:"paymentMethod"`
	Status            looseString    `json:"status"`
	SecureURL         looseString    `json:"secureUrl"`
	TransactionID     looseString    `json:"transactionId"`
	QRCodeBase64      looseString    `json:"qrCodeBase64"`
	CopyPaste         looseString    `json:"copyPaste"`
	DigitableLine     looseString    `json:"digitableLine"`
	PDFURL            looseString    `json:"pdfUrl"`
	Barcode           looseString    `json:"barcode"`
	AuthorizationCode looseString    `json:"authorizationCode"`
	Message           looseString    `json:"message"`
	Pix               *gatewayPix    `json:"pix"`
	Boleto            *gatewayBoleto `json:"boleto"`
}

// NormalizeCheckoutResponse parses a gateway answer into a CheckoutResult for the selected method.
// A top-level array is unwrapped to its first element. Credit card refusals surface as
// *PaymentDeclinedError, and Pix or boleto answers without the data the buyer needs fail with
// ErrMissingPaymentData.
func NormalizeCheckoutResponse(method domain.PaymentMethod, body []byte) (domain.CheckoutResult, error) {
	payload := bytes.TrimSpace(body)
	if len(payload) == 0 {
		return domain.CheckoutResult{}, fmt.Errorf("%w: empty body", ErrInvalidResponse)
	}
	if payload[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(payload, &items); err != nil {
			return domain.CheckoutResult{}, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
		}
		if len(items) == 0 {
			return domain.CheckoutResult{}, fmt.Errorf("%w: empty array", ErrInvalidResponse)
		}
		payload = bytes.TrimSpace(items[0])
	}

	var resp gatewayResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return domain.CheckoutResult{}, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}

	status := trimmed(resp.Status)
	secureURL := trimmed(resp.SecureURL)
	if !(resp.OK != nil && *resp.OK) && status == "" && secureURL == "" {
		return domain.CheckoutResult{}, fmt.Errorf("%w: no success flag, status or secure url", ErrInvalidResponse)
	}
	if status == "" {
		status = string(domain.PaymentStatusWaiting)
	}

	result := domain.CheckoutResult{
		Method:        method,
		Status:        domain.PaymentStatus(status),
		SecureURL:     secureURL,
		TransactionID: trimmed(resp.TransactionID),
	}

	switch method {
	case domain.PaymentMethodPix:
		pix := resp.Pix
		if pix == nil && (trimmed(resp.QRCodeBase64) != "" || trimmed(resp.CopyPaste) != "") {
			pix = &gatewayPix{QRCodeBase64: resp.QRCodeBase64, CopyPaste: resp.CopyPaste}
		}
		if pix == nil || (trimmed(pix.QRCodeBase64) == "" && trimmed(pix.CopyPaste) == "") {
			return domain.CheckoutResult{}, fmt.Errorf("%w: pix qr code", ErrMissingPaymentData)
		}
		result.Pix = &domain.PixPayment{
			QRCodeBase64: trimmed(pix.QRCodeBase64),
			CopyPaste:    trimmed(pix.CopyPaste),
		}
	case domain.PaymentMethodBoleto:
		boleto := resp.Boleto
		if boleto == nil && trimmed(resp.DigitableLine) != "" {
			boleto = &gatewayBoleto{DigitableLine: resp.DigitableLine, PDFURL: resp.PDFURL, Barcode: resp.Barcode}
		}
		if boleto == nil || trimmed(boleto.DigitableLine) == "" {
			return domain.CheckoutResult{}, fmt.Errorf("%w: boleto digitable line", ErrMissingPaymentData)
		}
		result.Boleto = &domain.BoletoPayment{
			DigitableLine: trimmed(boleto.DigitableLine),
			PDFURL:        trimmed(boleto.PDFURL),
			Barcode:       trimmed(boleto.Barcode),
		}
	case domain.PaymentMethodCredit:
		result.Credit = &domain.CreditPayment{
			Status:            result.Status,
			AuthorizationCode: trimmed(resp.AuthorizationCode),
			Message:           trimmed(resp.Message),
		}
		if result.Status == domain.PaymentStatusRefused {
			return domain.CheckoutResult{}, &PaymentDeclinedError{Message: trimmed(resp.Message)}
		}
	default:
		return domain.CheckoutResult{}, fmt.Errorf("%w: unknown payment method %s", ErrInvalidResponse, strconv.Quote(string(method)))
	}

	return result, nil
}

func trimmed(s looseString) string {
	return strings.TrimSpace(string(s))
}
