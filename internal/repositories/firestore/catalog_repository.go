package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"

	"github.com/chobo-shop/api/internal/domain"
	pfirestore "github.com/chobo-shop/api/internal/platform/firestore"
)

const (
	productCollection  = "products"
	categoryCollection = "categories"
)

type productDocument struct {
	Name        string    `firestore:"name"`
	Description string    `firestore:"description"`
	Price       float64   `firestore:"price"`
	ImageURL    string    `firestore:"imageUrl"`
	CategoryID  string    `firestore:"categoryId"`
	IsNew       bool      `firestore:"isNew"`
	CreatedAt   time.Time `firestore:"createdAt"`
}

type categoryDocument struct {
	Name string `firestore:"name"`
}

// CatalogRepository reads products and categories from Firestore.
type CatalogRepository struct {
	products   *pfirestore.Collection[productDocument]
	categories *pfirestore.Collection[categoryDocument]
}

// NewCatalogRepository constructs a Firestore-backed catalog repository.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{
		products:   pfirestore.NewCollection[productDocument](provider, productCollection),
		categories: pfirestore.NewCollection[categoryDocument](provider, categoryCollection),
	}, nil
}

// ListProducts returns products newest first, narrowed server-side by category and the new flag.
func (r *CatalogRepository) ListProducts(ctx context.Context, query domain.ProductQuery) ([]domain.Product, error) {
	names, err := r.categoryNames(ctx)
	if err != nil {
		return nil, err
	}

	docs, err := r.products.Query(ctx, func(q firestore.Query) firestore.Query {
		if id := strings.TrimSpace(query.CategoryID); id != "" {
			q = q.Where("categoryId", "==", id)
		}
		if query.OnlyNew {
			q = q.Where("isNew", "==", true)
		}
		q = q.OrderBy("createdAt", firestore.Desc)
		if query.Limit > 0 {
			q = q.Limit(query.Limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}

	products := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		products = append(products, toDomainProduct(doc.ID, doc.Data, names))
	}
	return products, nil
}

// GetProduct loads a single product with its category name.
func (r *CatalogRepository) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	names := map[string]string{}
	if id := strings.TrimSpace(doc.Data.CategoryID); id != "" {
		category, err := r.categories.Get(ctx, id)
		if err == nil {
			names[id] = category.Data.Name
		}
	}
	return toDomainProduct(doc.ID, doc.Data, names), nil
}

// ListCategories returns categories ordered by name.
func (r *CatalogRepository) ListCategories(ctx context.Context) ([]domain.Category, error) {
	docs, err := r.categories.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("name", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	categories := make([]domain.Category, 0, len(docs))
	for _, doc := range docs {
		categories = append(categories, domain.Category{ID: doc.ID, Name: doc.Data.Name})
	}
	return categories, nil
}

func (r *CatalogRepository) categoryNames(ctx context.Context) (map[string]string, error) {
	docs, err := r.categories.Query(ctx, nil)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(docs))
	for _, doc := range docs {
		names[doc.ID] = doc.Data.Name
	}
	return names, nil
}

func toDomainProduct(id string, doc productDocument, categoryNames map[string]string) domain.Product {
	return domain.Product{
		ID:           id,
		Name:         strings.TrimSpace(doc.Name),
		Description:  strings.TrimSpace(doc.Description),
		Price:        decimal.NewFromFloat(doc.Price),
		ImageURL:     strings.TrimSpace(doc.ImageURL),
		CategoryID:   doc.CategoryID,
		CategoryName: categoryNames[doc.CategoryID],
		IsNew:        doc.IsNew,
		CreatedAt:    doc.CreatedAt.UTC(),
	}
}
