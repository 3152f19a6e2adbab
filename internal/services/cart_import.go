package services

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/jfbeehive/swift-checkout/internal/domain"
)

const (
	defaultImportedTitle = "Produto"
	defaultImportedImage = "/placeholder.svg"
)

// ExternalCartItem is one storefront line in an imported cart payload.
type ExternalCartItem struct {
	VariantID string          `json:"variantId"`
	ProductID string          `json:"productId"`
	Title     string          `json:"title"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Image     string          `json:"image,omitempty"`
}

// ExternalCustomer carries optional buyer prefill from the storefront.
type ExternalCustomer struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// ExternalCart is the payload a storefront hands over when redirecting to checkout.
type ExternalCart struct {
	Items        []ExternalCartItem `json:"items"`
	Customer     *ExternalCustomer  `json:"customer,omitempty"`
	DiscountCode string             `json:"discountCode,omitempty"`
}

// ImportedCart is the result of decoding an external cart.
type ImportedCart struct {
	Lines        []domain.CartLine
	Customer     domain.CustomerInfo
	DiscountCode string
}

// ImportCart decodes an external cart. The base64 `cart` payload wins over the `items` list; the
// second return value is false when neither yields any line.
func ImportCart(encodedCart, items, discount string) (ImportedCart, bool) {
	if encodedCart = strings.TrimSpace(encodedCart); encodedCart != "" {
		if cart, err := DecodeExternalCart(encodedCart); err == nil && len(cart.Items) > 0 {
			imported := ImportedCart{
				Lines:        convertExternalItems(cart.Items),
				DiscountCode: strings.TrimSpace(cart.DiscountCode),
			}
			if cart.Customer != nil {
				imported.Customer = domain.CustomerInfo{
					Name:  strings.TrimSpace(cart.Customer.Name),
					Email: strings.TrimSpace(cart.Customer.Email),
					Phone: strings.TrimSpace(cart.Customer.Phone),
				}
			}
			if len(imported.Lines) > 0 {
				return imported, true
			}
		}
	}

	if items = strings.TrimSpace(items); items != "" {
		parsed := ParseSimpleItems(items)
		if len(parsed) > 0 {
			return ImportedCart{
				Lines:        convertExternalItems(parsed),
				DiscountCode: strings.TrimSpace(discount),
			}, true
		}
	}

	return ImportedCart{}, false
}

// DecodeExternalCart decodes a base64 JSON cart payload.
func DecodeExternalCart(encoded string) (ExternalCart, error) {
	raw, err := decodeBase64(strings.TrimSpace(encoded))
	if err != nil {
		return ExternalCart{}, fmt.Errorf("cart import: decode base64: %w", err)
	}
	var cart ExternalCart
	if err := json.Unmarshal(raw, &cart); err != nil {
		return ExternalCart{}, fmt.Errorf("cart import: decode json: %w", err)
	}
	return cart, nil
}

// ParseSimpleItems parses `id:qty:price:title,...`. Titles are URL-decoded and may contain ':'.
// Entries without an id or with a non-positive price are dropped.
func ParseSimpleItems(raw string) []ExternalCartItem {
	entries := strings.Split(raw, ",")
	items := make([]ExternalCartItem, 0, len(entries))
	for _, entry := range entries {
		parts := strings.Split(entry, ":")
		id := strings.TrimSpace(parts[0])
		if id == "" {
			continue
		}
		qty := 1
		if len(parts) > 1 {
			if n, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil && n != 0 {
				qty = n
			}
		}
		price := decimal.Zero
		if len(parts) > 2 {
			if p, err := decimal.NewFromString(strings.TrimSpace(parts[2])); err == nil {
				price = p
			}
		}
		if !price.IsPositive() {
			continue
		}
		title := defaultImportedTitle
		if len(parts) > 3 {
			joined := strings.Join(parts[3:], ":")
			if decoded, err := url.QueryUnescape(joined); err == nil {
				joined = decoded
			}
			if strings.TrimSpace(joined) != "" {
				title = joined
			}
		}
		items = append(items, ExternalCartItem{
			VariantID: id,
			ProductID: id,
			Title:     title,
			Price:     price,
			Quantity:  qty,
		})
	}
	return items
}

// CheckoutRedirectURL builds the link a storefront uses to hand a cart over to checkout.
func CheckoutRedirectURL(checkoutBaseURL string, cart ExternalCart) (string, error) {
	base := strings.TrimSpace(checkoutBaseURL)
	if base == "" {
		return "", errors.New("cart import: checkout base url is required")
	}
	data, err := json.Marshal(cart)
	if err != nil {
		return "", fmt.Errorf("cart import: encode cart: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(data)
	return base + "?cart=" + url.QueryEscape(encoded), nil
}

func convertExternalItems(items []ExternalCartItem) []domain.CartLine {
	lines := make([]domain.CartLine, 0, len(items))
	for _, item := range items {
		id := strings.TrimSpace(item.VariantID)
		if id == "" {
			id = strings.TrimSpace(item.ProductID)
		}
		if id == "" {
			continue
		}
		qty := item.Quantity
		if qty < 1 {
			qty = 1
		}
		image := strings.TrimSpace(item.Image)
		if image == "" {
			image = defaultImportedImage
		}
		lines = append(lines, domain.CartLine{
			ID:        id,
			Name:      strings.TrimSpace(item.Title),
			UnitPrice: item.Price,
			Quantity:  qty,
			Image:     image,
		})
	}
	return lines
}

func decodeBase64(value string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	var lastErr error
	for _, enc := range encodings {
		data, err := enc.DecodeString(value)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
