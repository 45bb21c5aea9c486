package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chobo-shop/api/internal/domain"
	"github.com/chobo-shop/api/internal/platform/pagination"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	AuthUser           = domain.AuthUser
	CartIdentity       = domain.CartIdentity
	CartItem           = domain.CartItem
	CartSnapshot       = domain.CartSnapshot
	Notice             = domain.Notice
	Product            = domain.Product
	Category           = domain.Category
	CatalogFilter      = domain.CatalogFilter
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderPage          = domain.OrderPage
	ShippingAddress    = domain.ShippingAddress
	Address            = domain.Address
	Profile            = domain.Profile
	SystemHealthReport = domain.SystemHealthReport
)

// AuthProvider answers who is signed in for the current request.
type AuthProvider interface {
	CurrentUser(ctx context.Context) (AuthUser, bool)
	IsAuthenticated(ctx context.Context) bool
}

// CartNotifier receives the user-facing notice emitted after each cart operation.
type CartNotifier interface {
	Notify(ctx context.Context, userID string, notice Notice)
}

// ImageURLResolver turns stored product image references into URLs clients can load.
type ImageURLResolver interface {
	ResolveImageURL(ctx context.Context, ref string) (string, error)
}

// OrderPlacedEvent is published once an order has been persisted.
type OrderPlacedEvent struct {
	OrderID     string          `json:"orderId"`
	UserID      string          `json:"userId"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	ItemCount   int             `json:"itemCount"`
	PlacedAt    time.Time       `json:"placedAt"`
}

// OrderEventPublisher delivers order events to downstream consumers.
type OrderEventPublisher interface {
	PublishOrderPlaced(ctx context.Context, event OrderPlacedEvent) (string, error)
}

// CartSessionManager hands out the per-user cart coordinator and manages its lifecycle.
type CartSessionManager interface {
	Acquire(ctx context.Context) (*CartCoordinator, error)
	Release(userID string)
	Sweep(now time.Time) int
	Close()
}

// CatalogService serves the browsable product listing.
type CatalogService interface {
	ListProducts(ctx context.Context, filter CatalogFilter, limit int) ([]Product, error)
	NewArrivals(ctx context.Context, limit int) ([]Product, error)
	GetProduct(ctx context.Context, productID string) (Product, error)
	ListCategories(ctx context.Context) ([]Category, error)
}

// CheckoutService turns the signed-in user's cart into an order.
type CheckoutService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error)
}

// OrderService exposes the signed-in user's order history.
type OrderService interface {
	ListOrders(ctx context.Context, userID string, page pagination.Params) (OrderPage, error)
	GetOrder(ctx context.Context, userID, orderID string) (Order, error)
}

// UserService manages the profile and saved addresses of a user.
type UserService interface {
	GetProfile(ctx context.Context, user AuthUser) (Profile, error)
	UpdateProfile(ctx context.Context, cmd UpdateProfileCommand) (Profile, error)
	ListAddresses(ctx context.Context, userID string) ([]Address, error)
	AddAddress(ctx context.Context, cmd AddAddressCommand) (Address, error)
	DeleteAddress(ctx context.Context, userID, addressID string) error
	SetDefaultAddress(ctx context.Context, userID, addressID string) error
}

// SystemService reports dependency readiness.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// PlaceOrderCommand carries the checkout form.
type PlaceOrderCommand struct {
	ShippingAddress ShippingAddress
	Notes           string
	PaymentMethod   string
	ShippingMethod  string
}

// UpdateProfileCommand carries the editable profile fields.
type UpdateProfileCommand struct {
	UserID    string
	Email     string
	FirstName string
	LastName  string
	Phone     string
	Address   string
	City      string
	Country   string
}

// AddAddressCommand carries a new saved address.
type AddAddressCommand struct {
	UserID    string
	Address   string
	City      string
	Country   string
	IsDefault bool
}
