package handlers

import (
	"context"
	"net/http"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/chobo-shop/api/internal/domain"
	"github.com/chobo-shop/api/internal/platform/auth"
	"github.com/chobo-shop/api/internal/platform/pagination"
	"github.com/chobo-shop/api/internal/services"
)

type repoError struct {
	msg         string
	notFound    bool
	unavailable bool
}

func (e *repoError) Error() string       { return e.msg }
func (e *repoError) IsNotFound() bool    { return e.notFound }
func (e *repoError) IsConflict() bool    { return false }
func (e *repoError) IsUnavailable() bool { return e.unavailable }

// cartStore is a minimal in-memory CartRepository keyed by user; item IDs equal product IDs.
type cartStore struct {
	mu       sync.Mutex
	items    map[string]map[string]domain.CartItem
	products map[string]domain.ProductSnapshot
	failWith error
}

func newCartStore() *cartStore {
	return &cartStore{
		items: make(map[string]map[string]domain.CartItem),
		products: map[string]domain.ProductSnapshot{
			"sku-1": {ID: "sku-1", Name: "Linen Shirt", UnitPrice: decimal.RequireFromString("12.50")},
			"sku-2": {ID: "sku-2", Name: "Canvas Tote", UnitPrice: decimal.RequireFromString("8.25")},
		},
	}
}

func (s *cartStore) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failWith
}

func (s *cartStore) setFailure(err error) {
	s.mu.Lock()
	s.failWith = err
	s.mu.Unlock()
}

func (s *cartStore) FindCartByUser(_ context.Context, userID string) (domain.CartIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[userID]; !ok {
		return domain.CartIdentity{}, &repoError{msg: "cart not found", notFound: true}
	}
	return domain.CartIdentity{ID: userID, UserID: userID}, nil
}

func (s *cartStore) EnsureCart(_ context.Context, userID string) (domain.CartIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[userID]; !ok {
		s.items[userID] = make(map[string]domain.CartItem)
	}
	return domain.CartIdentity{ID: userID, UserID: userID}, nil
}

func (s *cartStore) ListItems(_ context.Context, cartID string) ([]domain.CartItem, error) {
	if err := s.failure(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.CartItem, 0, len(s.items[cartID]))
	for _, item := range s.items[cartID] {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (s *cartStore) FindItem(_ context.Context, cartID, productID string) (domain.CartItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[cartID][productID]
	if !ok {
		return domain.CartItem{}, &repoError{msg: "item not found", notFound: true}
	}
	return item, nil
}

func (s *cartStore) InsertItem(_ context.Context, cartID, productID string, quantity int) error {
	if err := s.failure(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[cartID][productID] = domain.CartItem{ID: productID, ProductID: productID, Quantity: quantity, Product: s.products[productID]}
	return nil
}

func (s *cartStore) UpdateItemQuantity(_ context.Context, cartID, itemID string, quantity int) error {
	if err := s.failure(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.items[cartID][itemID]
	item.Quantity = quantity
	s.items[cartID][itemID] = item
	return nil
}

func (s *cartStore) DeleteItem(_ context.Context, cartID, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items[cartID], itemID)
	return nil
}

func (s *cartStore) DeleteAllItems(_ context.Context, cartID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[cartID] = make(map[string]domain.CartItem)
	return nil
}

func withUser(r *http.Request, uid string) *http.Request {
	return r.WithContext(auth.WithIdentity(r.Context(), &auth.Identity{UID: uid, Email: uid + "@example.com"}))
}

type stubCatalogService struct {
	listFunc       func(ctx context.Context, filter services.CatalogFilter, limit int) ([]services.Product, error)
	newFunc        func(ctx context.Context, limit int) ([]services.Product, error)
	getFunc        func(ctx context.Context, productID string) (services.Product, error)
	categoriesFunc func(ctx context.Context) ([]services.Category, error)
}

func (s *stubCatalogService) ListProducts(ctx context.Context, filter services.CatalogFilter, limit int) ([]services.Product, error) {
	return s.listFunc(ctx, filter, limit)
}

func (s *stubCatalogService) NewArrivals(ctx context.Context, limit int) ([]services.Product, error) {
	return s.newFunc(ctx, limit)
}

func (s *stubCatalogService) GetProduct(ctx context.Context, productID string) (services.Product, error) {
	return s.getFunc(ctx, productID)
}

func (s *stubCatalogService) ListCategories(ctx context.Context) ([]services.Category, error) {
	return s.categoriesFunc(ctx)
}

type stubCheckoutService struct {
	placeFunc func(ctx context.Context, cmd services.PlaceOrderCommand) (services.Order, error)
}

func (s *stubCheckoutService) PlaceOrder(ctx context.Context, cmd services.PlaceOrderCommand) (services.Order, error) {
	return s.placeFunc(ctx, cmd)
}

type stubOrderService struct {
	listFunc func(ctx context.Context, userID string, page pagination.Params) (services.OrderPage, error)
	getFunc  func(ctx context.Context, userID, orderID string) (services.Order, error)
}

func (s *stubOrderService) ListOrders(ctx context.Context, userID string, page pagination.Params) (services.OrderPage, error) {
	return s.listFunc(ctx, userID, page)
}

func (s *stubOrderService) GetOrder(ctx context.Context, userID, orderID string) (services.Order, error) {
	return s.getFunc(ctx, userID, orderID)
}
