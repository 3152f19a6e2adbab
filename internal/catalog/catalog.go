package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/jfbeehive/swift-checkout/internal/domain"
)

//go:embed default_catalog.yaml
var defaultCatalog []byte

// Catalog lists the shipping options, order-bump offers and starting cart a session is built from.
type Catalog struct {
	DefaultShippingID    string
	DefaultPaymentMethod domain.PaymentMethod
	ShippingOptions      []domain.ShippingOption
	InitialCart          []domain.CartLine
	Bumps                []domain.CartLine
}

type fileCatalog struct {
	DefaultShipping      string         `yaml:"defaultShipping"`
	DefaultPaymentMethod string         `yaml:"defaultPaymentMethod"`
	Shipping             []fileShipping `yaml:"shipping"`
	InitialCart          []fileProduct  `yaml:"initialCart"`
	Bumps                []fileProduct  `yaml:"bumps"`
}

type fileShipping struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	Price         string `yaml:"price"`
	EstimatedDays string `yaml:"estimatedDays"`
}

type fileProduct struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	Price         string `yaml:"price"`
	OriginalPrice string `yaml:"originalPrice"`
	Quantity      int    `yaml:"quantity"`
	Image         string `yaml:"image"`
}

// Default returns the built-in catalog.
func Default() (Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads the catalog from path, falling back to the built-in catalog when path is empty.
func Load(path string) (Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML catalog document.
func Parse(data []byte) (Catalog, error) {
	var raw fileCatalog
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Catalog{}, fmt.Errorf("catalog: decode: %w", err)
	}

	cat := Catalog{
		DefaultShippingID: strings.TrimSpace(raw.DefaultShipping),
	}

	method, ok := domain.ParsePaymentMethod(raw.DefaultPaymentMethod)
	if !ok {
		method = domain.PaymentMethodPix
	}
	cat.DefaultPaymentMethod = method

	seen := make(map[string]struct{}, len(raw.Shipping))
	for _, entry := range raw.Shipping {
		id := strings.TrimSpace(entry.ID)
		if id == "" {
			return Catalog{}, errors.New("catalog: shipping option id is required")
		}
		if _, dup := seen[id]; dup {
			return Catalog{}, fmt.Errorf("catalog: duplicate shipping option %q", id)
		}
		seen[id] = struct{}{}
		price, err := parseAmount(entry.Price)
		if err != nil {
			return Catalog{}, fmt.Errorf("catalog: shipping option %q: %w", id, err)
		}
		cat.ShippingOptions = append(cat.ShippingOptions, domain.ShippingOption{
			ID:            id,
			Name:          strings.TrimSpace(entry.Name),
			Price:         price,
			EstimatedDays: strings.TrimSpace(entry.EstimatedDays),
		})
	}

	if cat.DefaultShippingID != "" {
		if _, ok := domain.FindShippingOption(cat.ShippingOptions, cat.DefaultShippingID); !ok {
			return Catalog{}, fmt.Errorf("catalog: default shipping %q is not a listed option", cat.DefaultShippingID)
		}
	}

	var err error
	if cat.InitialCart, err = parseProducts("initialCart", raw.InitialCart); err != nil {
		return Catalog{}, err
	}
	if cat.Bumps, err = parseProducts("bumps", raw.Bumps); err != nil {
		return Catalog{}, err
	}
	return cat, nil
}

// Bump returns the order-bump product with the given id.
func (c Catalog) Bump(id string) (domain.CartLine, bool) {
	id = strings.TrimSpace(id)
	for _, bump := range c.Bumps {
		if bump.ID == id {
			return bump, true
		}
	}
	return domain.CartLine{}, false
}

// InitialLines returns a fresh copy of the starting cart.
func (c Catalog) InitialLines() []domain.CartLine {
	return CloneLines(c.InitialCart)
}

// CloneLines deep-copies cart lines so callers can mutate them freely.
func CloneLines(lines []domain.CartLine) []domain.CartLine {
	if lines == nil {
		return []domain.CartLine{}
	}
	out := make([]domain.CartLine, len(lines))
	for i, line := range lines {
		out[i] = line
		if line.OriginalPrice != nil {
			original := *line.OriginalPrice
			out[i].OriginalPrice = &original
		}
	}
	return out
}

func parseProducts(section string, entries []fileProduct) ([]domain.CartLine, error) {
	lines := make([]domain.CartLine, 0, len(entries))
	for _, entry := range entries {
		id := strings.TrimSpace(entry.ID)
		if id == "" {
			return nil, fmt.Errorf("catalog: %s entry id is required", section)
		}
		price, err := parseAmount(entry.Price)
		if err != nil {
			return nil, fmt.Errorf("catalog: %s %q: %w", section, id, err)
		}
		line := domain.CartLine{
			ID:        id,
			Name:      strings.TrimSpace(entry.Name),
			UnitPrice: price,
			Quantity:  entry.Quantity,
			Image:     strings.TrimSpace(entry.Image),
		}
		if line.Quantity < 1 {
			line.Quantity = 1
		}
		if strings.TrimSpace(entry.OriginalPrice) != "" {
			original, err := parseAmount(entry.OriginalPrice)
			if err != nil {
				return nil, fmt.Errorf("catalog: %s %q original price: %w", section, id, err)
			}
			line.OriginalPrice = &original
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func parseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", raw)
	}
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative amount %q", raw)
	}
	return amount, nil
}
