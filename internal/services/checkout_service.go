package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chobo-shop/api/internal/domain"
	"github.com/chobo-shop/api/internal/repositories"
)

const maxOrderNotesLength = 1000

var (
	// ErrCheckoutEmptyCart indicates checkout was attempted with no items in the cart.
	ErrCheckoutEmptyCart = errors.New("checkout service: cart is empty")
	// ErrCheckoutInvalidInput indicates the shipping details are incomplete.
	ErrCheckoutInvalidInput = errors.New("checkout service: invalid input")
	// ErrCheckoutProductUnavailable indicates a cart line refers to a product that is no longer sold.
	ErrCheckoutProductUnavailable = errors.New("checkout service: product unavailable")
	// ErrCheckoutUnavailable indicates the order could not be persisted.
	ErrCheckoutUnavailable = errors.New("checkout service: unavailable")

	errCheckoutCartsRequired  = errors.New("checkout service: cart sessions are required")
	errCheckoutOrdersRequired = errors.New("checkout service: order repository is required")
)

// CheckoutServiceDeps wires the collaborators needed to turn a cart into an order.
type CheckoutServiceDeps struct {
	Carts  CartSessionManager
	Orders repositories.OrderRepository
	Events OrderEventPublisher
	Clock  func() time.Time
	Logger func(context.Context, string, map[string]any)
}

type checkoutService struct {
	carts  CartSessionManager
	orders repositories.OrderRepository
	events OrderEventPublisher
	now    func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewCheckoutService constructs the checkout service.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Carts == nil {
		return nil, errCheckoutCartsRequired
	}
	if deps.Orders == nil {
		return nil, errCheckoutOrdersRequired
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &checkoutService{
		carts:  deps.Carts,
		orders: deps.Orders,
		events: deps.Events,
		now:    func() time.Time { return clock().UTC() },
		logger: logger,
	}, nil
}

// PlaceOrder persists the signed-in user's cart as a pending order and removes the ordered lines from the cart.
func (s *checkoutService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error) {
	cart, err := s.carts.Acquire(ctx)
	if err != nil {
		return Order{}, err
	}
	if err := cart.Reload(ctx); err != nil {
		return Order{}, err
	}
	snapshot := cart.Snapshot()
	if len(snapshot.Items) == 0 {
		return Order{}, ErrCheckoutEmptyCart
	}
	var unavailable []string
	for _, item := range snapshot.Items {
		if !item.Orderable() {
			unavailable = append(unavailable, item.ProductID)
		}
	}
	if len(unavailable) > 0 {
		return Order{}, fmt.Errorf("%w: %s", ErrCheckoutProductUnavailable, strings.Join(unavailable, ", "))
	}
	address, err := normaliseShippingAddress(cmd.ShippingAddress)
	if err != nil {
		return Order{}, err
	}

	now := s.now()
	order := Order{
		UserID:          cart.UserID(),
		Status:          domain.OrderStatusPending,
		TotalAmount:     snapshot.Subtotal(),
		PaymentStatus:   domain.PaymentStatusPending,
		PaymentMethod:   strings.TrimSpace(cmd.PaymentMethod),
		ShippingMethod:  strings.TrimSpace(cmd.ShippingMethod),
		ShippingAddress: address,
		Notes:           truncateRunes(strings.TrimSpace(cmd.Notes), maxOrderNotesLength),
		Items:           make([]OrderItem, 0, len(snapshot.Items)),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, item := range snapshot.Items {
		order.Items = append(order.Items, OrderItem{
			ProductID:    item.ProductID,
			ProductName:  item.Product.Name,
			ProductPrice: item.Product.UnitPrice,
			Quantity:     item.Quantity,
		})
	}

	saved, err := s.orders.Create(ctx, order)
	if err != nil {
		s.logger(ctx, "checkout.order_create_failed", map[string]any{
			"userID": order.UserID,
			"error":  err,
		})
		return Order{}, errors.Join(ErrCheckoutUnavailable, err)
	}

	if err := cart.RemoveOrdered(ctx, snapshot.Items); err != nil {
		s.logger(ctx, "checkout.cart_clear_failed", map[string]any{
			"userID":  saved.UserID,
			"orderID": saved.ID,
			"error":   err,
		})
	}

	s.publish(ctx, saved)
	return saved, nil
}

func (s *checkoutService) publish(ctx context.Context, order Order) {
	if s.events == nil {
		return
	}
	itemCount := 0
	for _, item := range order.Items {
		itemCount += item.Quantity
	}
	messageID, err := s.events.PublishOrderPlaced(ctx, OrderPlacedEvent{
		OrderID:     order.ID,
		UserID:      order.UserID,
		TotalAmount: order.TotalAmount,
		ItemCount:   itemCount,
		PlacedAt:    order.CreatedAt,
	})
	if err != nil {
		s.logger(ctx, "checkout.event_publish_failed", map[string]any{
			"orderID": order.ID,
			"error":   err,
		})
		return
	}
	s.logger(ctx, "checkout.order_placed", map[string]any{
		"orderID":   order.ID,
		"messageID": messageID,
	})
}

func normaliseShippingAddress(addr ShippingAddress) (ShippingAddress, error) {
	addr = ShippingAddress{
		FirstName:  strings.TrimSpace(addr.FirstName),
		LastName:   strings.TrimSpace(addr.LastName),
		Address:    strings.TrimSpace(addr.Address),
		City:       strings.TrimSpace(addr.City),
		PostalCode: strings.TrimSpace(addr.PostalCode),
		Country:    strings.TrimSpace(addr.Country),
		Phone:      strings.TrimSpace(addr.Phone),
	}
	required := []struct {
		field string
		value string
	}{
		{"firstName", addr.FirstName},
		{"lastName", addr.LastName},
		{"address", addr.Address},
		{"city", addr.City},
		{"country", addr.Country},
		{"phone", addr.Phone},
	}
	var missing []string
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.field)
		}
	}
	if len(missing) > 0 {
		return ShippingAddress{}, fmt.Errorf("%w: missing %s", ErrCheckoutInvalidInput, strings.Join(missing, ", "))
	}
	return addr, nil
}

func truncateRunes(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}
