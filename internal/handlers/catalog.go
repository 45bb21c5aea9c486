package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chobo-shop/api/internal/platform/httpx"
	"github.com/chobo-shop/api/internal/services"
)

// CatalogHandlers serves the public product listing.
type CatalogHandlers struct {
	catalog services.CatalogService
}

// NewCatalogHandlers constructs the public catalog endpoints.
func NewCatalogHandlers(catalog services.CatalogService) *CatalogHandlers {
	return &CatalogHandlers{catalog: catalog}
}

// Routes wires the catalog endpoints under /public.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/products", h.listProducts)
	r.Get("/products/new", h.newArrivals)
	r.Get("/products/{productId}", h.getProduct)
	r.Get("/categories", h.listCategories)
}

type productPayload struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Price        string `json:"price"`
	ImageURL     string `json:"imageUrl,omitempty"`
	CategoryID   string `json:"categoryId,omitempty"`
	CategoryName string `json:"categoryName,omitempty"`
	IsNew        bool   `json:"isNew"`
	CreatedAt    string `json:"createdAt,omitempty"`
}

type productListResponse struct {
	Items []productPayload `json:"items"`
	Count int              `json:"count"`
}

type categoryPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (h *CatalogHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeCatalogUnavailable(ctx, w)
		return
	}
	query := r.URL.Query()
	filter := services.ParseCatalogFilter(query)
	products, err := h.catalog.ListProducts(ctx, filter, parseLimit(query.Get("limit")))
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeProductList(w, products)
}

func (h *CatalogHandlers) newArrivals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeCatalogUnavailable(ctx, w)
		return
	}
	products, err := h.catalog.NewArrivals(ctx, parseLimit(r.URL.Query().Get("limit")))
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeProductList(w, products)
}

func (h *CatalogHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeCatalogUnavailable(ctx, w)
		return
	}
	product, err := h.catalog.GetProduct(ctx, chi.URLParam(r, "productId"))
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildProductPayload(product))
}

func (h *CatalogHandlers) listCategories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeCatalogUnavailable(ctx, w)
		return
	}
	categories, err := h.catalog.ListCategories(ctx)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	items := make([]categoryPayload, 0, len(categories))
	for _, category := range categories {
		items = append(items, categoryPayload{ID: category.ID, Name: category.Name})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func writeProductList(w http.ResponseWriter, products []services.Product) {
	items := make([]productPayload, 0, len(products))
	for _, product := range products {
		items = append(items, buildProductPayload(product))
	}
	httpx.WriteJSON(w, http.StatusOK, productListResponse{Items: items, Count: len(items)})
}

func buildProductPayload(product services.Product) productPayload {
	return productPayload{
		ID:           product.ID,
		Name:         product.Name,
		Description:  product.Description,
		Price:        formatMoney(product.Price),
		ImageURL:     product.ImageURL,
		CategoryID:   product.CategoryID,
		CategoryName: product.CategoryName,
		IsNew:        product.IsNew,
		CreatedAt:    formatTime(product.CreatedAt, time.Time{}),
	}
}

// parseLimit returns 0 (service default) for anything that is not a positive integer.
func parseLimit(raw string) int {
	limit, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}

func writeCatalogUnavailable(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCatalogNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogUnavailable), errors.Is(err, services.ErrCatalogRepositoryMissing):
		writeCatalogUnavailable(ctx, w)
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "failed to read catalog", http.StatusInternalServerError))
	}
}
