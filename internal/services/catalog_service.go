package services

import (
	"context"
	"errors"
	"strings"

	"github.com/chobo-shop/api/internal/domain"
	"github.com/chobo-shop/api/internal/repositories"
)

const (
	defaultCatalogLimit     = 60
	defaultNewArrivalsLimit = 8
	maxCatalogLimit         = 200
)

var (
	// ErrCatalogRepositoryMissing indicates the repository dependency is absent.
	ErrCatalogRepositoryMissing = errors.New("catalog service: repository is not configured")
	// ErrCatalogNotFound indicates the requested product does not exist.
	ErrCatalogNotFound = errors.New("catalog service: not found")
	// ErrCatalogUnavailable indicates the catalog could not be read from the store.
	ErrCatalogUnavailable = errors.New("catalog service: unavailable")
)

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Catalog          repositories.CatalogRepository
	Images           ImageURLResolver
	Logger           func(context.Context, string, map[string]any)
	DefaultLimit     int
	NewArrivalsLimit int
}

type catalogService struct {
	repo         repositories.CatalogRepository
	images       ImageURLResolver
	logger       func(context.Context, string, map[string]any)
	defaultLimit int
	arrivals     int
}

// NewCatalogService constructs the catalog service with the supplied dependencies.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Catalog == nil {
		return nil, ErrCatalogRepositoryMissing
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	defaultLimit := deps.DefaultLimit
	if defaultLimit <= 0 {
		defaultLimit = defaultCatalogLimit
	}
	arrivals := deps.NewArrivalsLimit
	if arrivals <= 0 {
		arrivals = defaultNewArrivalsLimit
	}
	return &catalogService{
		repo:         deps.Catalog,
		images:       deps.Images,
		logger:       logger,
		defaultLimit: clampCatalogLimit(defaultLimit),
		arrivals:     clampCatalogLimit(arrivals),
	}, nil
}

// ListProducts narrows the fetch by category and freshness in the store, then applies the full filter locally.
// The limit applies after filtering so text search never misses matches beyond the first page.
func (s *catalogService) ListProducts(ctx context.Context, filter CatalogFilter, limit int) ([]Product, error) {
	query := domain.ProductQuery{OnlyNew: filter.OnlyNew}
	if filter.CategoryID != nil {
		query.CategoryID = strings.TrimSpace(*filter.CategoryID)
	}

	products, err := s.repo.ListProducts(ctx, query)
	if err != nil {
		s.logger(ctx, "catalog.list_failed", map[string]any{"error": err})
		return nil, translateCatalogError(err)
	}

	filtered := ApplyFilters(products, filter)
	if limit <= 0 {
		limit = s.defaultLimit
	}
	limit = clampCatalogLimit(limit)
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	s.resolveImages(ctx, filtered)
	return filtered, nil
}

// NewArrivals returns the newest products flagged as new.
func (s *catalogService) NewArrivals(ctx context.Context, limit int) ([]Product, error) {
	if limit <= 0 {
		limit = s.arrivals
	}
	limit = clampCatalogLimit(limit)

	products, err := s.repo.ListProducts(ctx, domain.ProductQuery{OnlyNew: true, Limit: limit})
	if err != nil {
		s.logger(ctx, "catalog.new_arrivals_failed", map[string]any{"error": err})
		return nil, translateCatalogError(err)
	}

	filter := domain.DefaultCatalogFilter()
	filter.OnlyNew = true
	result := ApplyFilters(products, filter)
	if len(result) > limit {
		result = result[:limit]
	}
	s.resolveImages(ctx, result)
	return result, nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, ErrCatalogNotFound
	}
	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return Product{}, translateCatalogError(err)
	}
	products := []Product{product}
	s.resolveImages(ctx, products)
	return products[0], nil
}

func (s *catalogService) ListCategories(ctx context.Context) ([]Category, error) {
	categories, err := s.repo.ListCategories(ctx)
	if err != nil {
		s.logger(ctx, "catalog.categories_failed", map[string]any{"error": err})
		return nil, translateCatalogError(err)
	}
	return categories, nil
}

// resolveImages rewrites stored image references in place. A failed resolution keeps the stored value.
func (s *catalogService) resolveImages(ctx context.Context, products []Product) {
	if s.images == nil {
		return
	}
	for i := range products {
		ref := products[i].ImageURL
		if ref == "" {
			continue
		}
		resolved, err := s.images.ResolveImageURL(ctx, ref)
		if err != nil {
			s.logger(ctx, "catalog.image_resolve_failed", map[string]any{
				"productID": products[i].ID,
				"error":     err,
			})
			continue
		}
		products[i].ImageURL = resolved
	}
}

func clampCatalogLimit(limit int) int {
	if limit > maxCatalogLimit {
		return maxCatalogLimit
	}
	return limit
}

func translateCatalogError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return ErrCatalogNotFound
	}
	return errors.Join(ErrCatalogUnavailable, err)
}
