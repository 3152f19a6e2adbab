package services

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jfbeehive/swift-checkout/internal/domain"
)

// Field keys reported by the validators.
const (
	FieldName       = "name"
	FieldEmail      = "email"
	FieldPhone      = "phone"
	FieldTaxID      = "taxId"
	FieldPostalCode = "postalCode"
	FieldStreet     = "street"
	FieldNumber     = "number"
	FieldCity       = "city"
	FieldState      = "state"
	FieldCardNumber = "cardNumber"
	FieldHolderName = "holderName"
	FieldExpMonth   = "expMonth"
	FieldExpYear    = "expYear"
	FieldCVV        = "cvv"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// FieldErrors maps a field key to a user-facing message. A missing key means the field is valid.
type FieldErrors map[string]string

// Merge copies the entries of other into e.
func (e FieldErrors) Merge(other FieldErrors) FieldErrors {
	if e == nil {
		e = FieldErrors{}
	}
	for k, v := range other {
		e[k] = v
	}
	return e
}

// Fields returns the failing field keys in sorted order.
func (e FieldErrors) Fields() []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ValidationError blocks a submission and carries every failing field.
type ValidationError struct {
	Fields FieldErrors
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "checkout: validation failed"
	}
	return fmt.Sprintf("checkout: validation failed for [%s]", strings.Join(e.Fields.Fields(), ", "))
}

// Unwrap lets callers match the error with errors.Is(err, ErrCheckoutInvalidInput).
func (e *ValidationError) Unwrap() error { return ErrCheckoutInvalidInput }

// ValidateCustomer checks the buyer's contact and tax data.
func ValidateCustomer(c domain.CustomerInfo) FieldErrors {
	errs := FieldErrors{}
	if strings.TrimSpace(c.Name) == "" {
		errs[FieldName] = "Nome é obrigatório"
	}
	if email := strings.TrimSpace(c.Email); email == "" || !emailPattern.MatchString(email) {
		errs[FieldEmail] = "Email inválido"
	}
	if len(DigitsOnly(c.Phone)) < 10 {
		errs[FieldPhone] = "Telefone inválido"
	}
	if len(DigitsOnly(c.TaxID)) != 11 {
		errs[FieldTaxID] = "CPF inválido"
	}
	return errs
}

// ValidateAddress checks the delivery address.
func ValidateAddress(a domain.ShippingAddress) FieldErrors {
	errs := FieldErrors{}
	if len(DigitsOnly(a.PostalCode)) != 8 {
		errs[FieldPostalCode] = "CEP inválido"
	}
	if strings.TrimSpace(a.Street) == "" {
		errs[FieldStreet] = "Endereço é obrigatório"
	}
	if strings.TrimSpace(a.Number) == "" {
		errs[FieldNumber] = "Número é obrigatório"
	}
	if strings.TrimSpace(a.City) == "" {
		errs[FieldCity] = "Cidade é obrigatória"
	}
	if utf8.RuneCountInString(a.State) != 2 {
		errs[FieldState] = "Estado inválido"
	}
	return errs
}

// ValidateCard checks card completeness. A nil card fails every card field.
func ValidateCard(card *domain.CardDetails) FieldErrors {
	errs := FieldErrors{}
	if card == nil {
		card = &domain.CardDetails{}
	}
	if len(DigitsOnly(card.Number)) < 13 {
		errs[FieldCardNumber] = "Número do cartão inválido"
	}
	if strings.TrimSpace(card.HolderName) == "" {
		errs[FieldHolderName] = "Nome do titular é obrigatório"
	}
	month, err := strconv.Atoi(strings.TrimSpace(card.ExpMonth))
	if err != nil || month < 1 || month > 12 {
		errs[FieldExpMonth] = "Mês inválido"
	}
	if year := strings.TrimSpace(card.ExpYear); len(year) != 2 || len(DigitsOnly(year)) != 2 {
		errs[FieldExpYear] = "Ano inválido"
	}
	if len(DigitsOnly(card.CVV)) < 3 {
		errs[FieldCVV] = "CVV inválido"
	}
	return errs
}

// ValidateCheckout runs every validator relevant to the payment selection and returns a
// *ValidationError when any field fails.
func ValidateCheckout(customer domain.CustomerInfo, address domain.ShippingAddress, payment domain.PaymentSelection) error {
	errs := ValidateCustomer(customer).Merge(ValidateAddress(address))
	if payment.Method == domain.PaymentMethodCredit {
		errs = errs.Merge(ValidateCard(payment.Card))
	}
	if len(errs) == 0 {
		return nil
	}
	return &ValidationError{Fields: errs}
}

// DigitsOnly strips everything but ASCII digits.
func DigitsOnly(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		if r <= unicode.MaxASCII && unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
