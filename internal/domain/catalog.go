package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the read-only catalog projection returned by the remote store.
type Product struct {
	ID           string
	Name         string
	Description  string
	Price        decimal.Decimal
	ImageURL     string
	CategoryID   string
	CategoryName string
	IsNew        bool
	CreatedAt    time.Time
}

// Snapshot projects the product into the shape embedded in cart items.
func (p Product) Snapshot() ProductSnapshot {
	return ProductSnapshot{
		ID:        p.ID,
		Name:      p.Name,
		UnitPrice: p.Price,
		ImageURL:  p.ImageURL,
	}
}

// Category groups products for browsing.
type Category struct {
	ID   string
	Name string
}

// CatalogSortKey selects the ordering applied after filtering.
type CatalogSortKey string

const (
	SortNewest    CatalogSortKey = "newest"
	SortPriceAsc  CatalogSortKey = "price-asc"
	SortPriceDesc CatalogSortKey = "price-desc"
	SortNameAsc   CatalogSortKey = "name"
	SortNameDesc  CatalogSortKey = "name-desc"
)

// PriceRange is an inclusive price window. Unbounded lifts the upper limit.
type PriceRange struct {
	Min       decimal.Decimal
	Max       decimal.Decimal
	Unbounded bool
}

// Contains reports whether price lies inside the range.
func (r PriceRange) Contains(price decimal.Decimal) bool {
	if price.LessThan(r.Min) {
		return false
	}
	if r.Unbounded {
		return true
	}
	return !price.GreaterThan(r.Max)
}

// OpenPriceRange returns [0, +inf].
func OpenPriceRange() PriceRange {
	return PriceRange{Min: decimal.Zero, Unbounded: true}
}

// CatalogFilter is the value object driving catalog filtering and ordering.
type CatalogFilter struct {
	SearchText string
	CategoryID *string
	PriceRange PriceRange
	OnlyNew    bool
	SortKey    CatalogSortKey
}

// DefaultCatalogFilter matches every product and applies the newest-first ordering.
func DefaultCatalogFilter() CatalogFilter {
	return CatalogFilter{
		PriceRange: OpenPriceRange(),
		SortKey:    SortNewest,
	}
}

// ProductQuery narrows the remote product fetch before local filtering.
type ProductQuery struct {
	CategoryID string
	OnlyNew    bool
	Limit      int
}
