package services

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/chobo-shop/api/internal/domain"
)

// ApplyFilters returns the products matching every active predicate of filter, ordered by its sort key.
// The price range always applies; start from domain.DefaultCatalogFilter for an open range.
// The input slice is never modified and the result is always a fresh slice.
func ApplyFilters(products []Product, filter CatalogFilter) []Product {
	fold := cases.Fold()
	needle := fold.String(strings.TrimSpace(filter.SearchText))

	var category string
	if filter.CategoryID != nil {
		category = strings.TrimSpace(*filter.CategoryID)
	}

	prices := filter.PriceRange

	out := make([]Product, 0, len(products))
	for _, product := range products {
		if needle != "" && !matchesSearch(fold, product, needle) {
			continue
		}
		if category != "" && product.CategoryID != category {
			continue
		}
		if !prices.Contains(product.Price) {
			continue
		}
		if filter.OnlyNew && !product.IsNew {
			continue
		}
		out = append(out, product)
	}

	sortProducts(out, filter.SortKey)
	return out
}

func matchesSearch(fold cases.Caser, product Product, needle string) bool {
	if strings.Contains(fold.String(product.Name), needle) {
		return true
	}
	return product.Description != "" && strings.Contains(fold.String(product.Description), needle)
}

func sortProducts(products []Product, key domain.CatalogSortKey) {
	switch key {
	case domain.SortPriceAsc:
		sort.SliceStable(products, func(i, j int) bool {
			return products[i].Price.LessThan(products[j].Price)
		})
	case domain.SortPriceDesc:
		sort.SliceStable(products, func(i, j int) bool {
			return products[i].Price.GreaterThan(products[j].Price)
		})
	case domain.SortNameAsc, domain.SortNameDesc:
		collator := collate.New(language.Und, collate.IgnoreCase)
		desc := key == domain.SortNameDesc
		sort.SliceStable(products, func(i, j int) bool {
			cmp := collator.CompareString(products[i].Name, products[j].Name)
			if desc {
				return cmp > 0
			}
			return cmp < 0
		})
	default:
		sort.SliceStable(products, func(i, j int) bool {
			return products[i].CreatedAt.After(products[j].CreatedAt)
		})
	}
}

// ParseSortKey maps a query value to a sort key. Unknown values select newest first.
func ParseSortKey(raw string) domain.CatalogSortKey {
	switch key := domain.CatalogSortKey(strings.ToLower(strings.TrimSpace(raw))); key {
	case domain.SortPriceAsc, domain.SortPriceDesc, domain.SortNameAsc, domain.SortNameDesc:
		return key
	case "name-asc":
		return domain.SortNameAsc
	default:
		return domain.SortNewest
	}
}

// ParseCatalogFilter builds a filter from listing query parameters. Malformed values relax the
// filter instead of failing: unparseable price bounds fall back to [0, +inf].
func ParseCatalogFilter(values url.Values) CatalogFilter {
	filter := domain.DefaultCatalogFilter()

	filter.SearchText = strings.TrimSpace(firstValue(values, "q", "search"))

	if category := strings.TrimSpace(values.Get("category")); category != "" && !strings.EqualFold(category, "all") {
		filter.CategoryID = &category
	}

	filter.PriceRange = parsePriceRange(values.Get("min_price"), values.Get("max_price"))

	if onlyNew, err := strconv.ParseBool(strings.TrimSpace(firstValue(values, "only_new", "new"))); err == nil {
		filter.OnlyNew = onlyNew
	}

	filter.SortKey = ParseSortKey(values.Get("sort"))
	return filter
}

func parsePriceRange(rawMin, rawMax string) domain.PriceRange {
	open := domain.OpenPriceRange()
	rawMin, rawMax = strings.TrimSpace(rawMin), strings.TrimSpace(rawMax)

	result := open
	if rawMin != "" {
		lo, err := decimal.NewFromString(rawMin)
		if err != nil || lo.IsNegative() {
			return open
		}
		result.Min = lo
	}
	if rawMax != "" {
		hi, err := decimal.NewFromString(rawMax)
		if err != nil || hi.IsNegative() {
			return open
		}
		result.Max = hi
		result.Unbounded = false
	}
	if !result.Unbounded && result.Max.LessThan(result.Min) {
		return open
	}
	return result
}

func firstValue(values url.Values, keys ...string) string {
	for _, key := range keys {
		if v := values.Get(key); v != "" {
			return v
		}
	}
	return ""
}
