package repositories

import (
	"context"
	"errors"

	domain "github.com/chobo-shop/api/internal/domain"
	"github.com/chobo-shop/api/internal/platform/pagination"
)

// ErrCartQuantityLimit is returned by IncrementItem when the merged quantity would exceed the limit.
var ErrCartQuantityLimit = errors.New("repositories: cart item quantity limit exceeded")

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Carts() CartRepository
	Catalog() CatalogRepository
	Orders() OrderRepository
	Addresses() AddressRepository
	Profiles() ProfileRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CartRepository is the remote cart contract consumed by the cart coordinator.
// Item lookups return a RepositoryError with IsNotFound when the row is absent.
type CartRepository interface {
	// FindCartByUser resolves the cart owned by userID without creating one.
	FindCartByUser(ctx context.Context, userID string) (domain.CartIdentity, error)
	// EnsureCart creates the cart record for userID when absent and returns it.
	EnsureCart(ctx context.Context, userID string) (domain.CartIdentity, error)
	ListItems(ctx context.Context, cartID string) ([]domain.CartItem, error)
	FindItem(ctx context.Context, cartID, productID string) (domain.CartItem, error)
	InsertItem(ctx context.Context, cartID, productID string, quantity int) error
	UpdateItemQuantity(ctx context.Context, cartID, itemID string, quantity int) error
	DeleteItem(ctx context.Context, cartID, itemID string) error
	DeleteAllItems(ctx context.Context, cartID string) error
}

// CartItemIncrementer is implemented by stores that support an atomic
// insert-or-increment of a cart row keyed by product. The write is refused with
// ErrCartQuantityLimit when the resulting quantity would exceed limit.
type CartItemIncrementer interface {
	IncrementItem(ctx context.Context, cartID, productID string, delta, limit int) error
}

// CatalogRepository reads the browsable product collection.
type CatalogRepository interface {
	ListProducts(ctx context.Context, query domain.ProductQuery) ([]domain.Product, error)
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)
}

// OrderRepository persists orders together with their items.
type OrderRepository interface {
	Create(ctx context.Context, order domain.Order) (domain.Order, error)
	// ListByUser returns one page of the user's orders, newest first.
	ListByUser(ctx context.Context, userID string, page pagination.Params) (domain.OrderPage, error)
	Get(ctx context.Context, orderID string) (domain.Order, error)
}

// AddressRepository manages saved delivery addresses.
type AddressRepository interface {
	List(ctx context.Context, userID string) ([]domain.Address, error)
	Insert(ctx context.Context, addr domain.Address) (domain.Address, error)
	Delete(ctx context.Context, userID, addressID string) error
	SetDefault(ctx context.Context, userID, addressID string) error
}

// ProfileRepository reads and writes user profiles.
type ProfileRepository interface {
	Get(ctx context.Context, userID string) (domain.Profile, error)
	Upsert(ctx context.Context, profile domain.Profile) (domain.Profile, error)
}

// HealthRepository collects dependency readiness.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
