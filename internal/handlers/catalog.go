package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jfbeehive/swift-checkout/internal/catalog"
)

// CatalogHandlers serves the shipping options and order bumps the storefront renders.
type CatalogHandlers struct {
	payload catalogPayload
}

// NewCatalogHandlers renders the catalog once; it is immutable for the life of the process.
func NewCatalogHandlers(cat catalog.Catalog) *CatalogHandlers {
	return &CatalogHandlers{payload: newCatalogPayload(cat)}
}

// Routes registers GET /catalog.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getCatalog)
}

func (h *CatalogHandlers) getCatalog(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSONResponse(w, http.StatusOK, h.payload)
}
