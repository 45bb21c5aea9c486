package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chobo-shop/api/internal/domain"
	"github.com/chobo-shop/api/internal/platform/pagination"
)

type stubOrderRepository struct {
	createFunc func(ctx context.Context, order domain.Order) (domain.Order, error)
	listFunc   func(ctx context.Context, userID string, page pagination.Params) (domain.OrderPage, error)
	getFunc    func(ctx context.Context, orderID string) (domain.Order, error)
}

func (s *stubOrderRepository) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	if s.createFunc == nil {
		order.ID = "order-1"
		return order, nil
	}
	return s.createFunc(ctx, order)
}

func (s *stubOrderRepository) ListByUser(ctx context.Context, userID string, page pagination.Params) (domain.OrderPage, error) {
	if s.listFunc == nil {
		return domain.OrderPage{}, nil
	}
	return s.listFunc(ctx, userID, page)
}

func (s *stubOrderRepository) Get(ctx context.Context, orderID string) (domain.Order, error) {
	if s.getFunc == nil {
		return domain.Order{}, notFoundErr("order")
	}
	return s.getFunc(ctx, orderID)
}

type stubOrderPublisher struct {
	events []OrderPlacedEvent
	err    error
}

func (s *stubOrderPublisher) PublishOrderPlaced(_ context.Context, event OrderPlacedEvent) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.events = append(s.events, event)
	return "msg-1", nil
}

func validShipping() ShippingAddress {
	return ShippingAddress{
		FirstName: "Mai",
		LastName:  "Tran",
		Address:   "12 Harbour Road",
		City:      "Da Nang",
		Country:   "VN",
		Phone:     "+84 900 000 000",
	}
}

func newCheckoutFixture(t *testing.T, store *memoryCartStore, orders *stubOrderRepository, events *stubOrderPublisher) CheckoutService {
	t.Helper()
	sessions := newTestSessions(t, CartSessionsDeps{Auth: signedIn("user-1"), Repository: store})
	deps := CheckoutServiceDeps{
		Carts:  sessions,
		Orders: orders,
		Clock:  func() time.Time { return time.Date(2025, 4, 2, 10, 0, 0, 0, time.UTC) },
	}
	if events != nil {
		deps.Events = events
	}
	svc, err := NewCheckoutService(deps)
	require.NoError(t, err)
	return svc
}

func TestCheckoutPlaceOrder(t *testing.T) {
	verifyNoLeaks(t)

	store := seededStore().withItem("user-1", "sku-1", 2).withItem("user-1", "sku-2", 1)
	var persisted domain.Order
	orders := &stubOrderRepository{
		createFunc: func(ctx context.Context, order domain.Order) (domain.Order, error) {
			persisted = order
			order.ID = "order-42"
			return order, nil
		},
	}
	events := &stubOrderPublisher{}
	svc := newCheckoutFixture(t, store, orders, events)

	cmd := PlaceOrderCommand{ShippingAddress: validShipping(), Notes: "  leave at door ", PaymentMethod: " cod "}
	order, err := svc.PlaceOrder(context.Background(), cmd)
	require.NoError(t, err)

	assert.Equal(t, "order-42", order.ID)
	assert.Equal(t, domain.OrderStatusPending, persisted.Status)
	assert.Equal(t, domain.PaymentStatusPending, persisted.PaymentStatus)
	assert.Equal(t, "cod", persisted.PaymentMethod)
	assert.Equal(t, "leave at door", persisted.Notes)
	assert.True(t, persisted.TotalAmount.Equal(decimal.RequireFromString("33.25")), "total %s", persisted.TotalAmount)
	require.Len(t, persisted.Items, 2)
	assert.Equal(t, "Linen Shirt", persisted.Items[0].ProductName)
	assert.True(t, persisted.Items[0].ProductPrice.Equal(decimal.RequireFromString("12.50")))

	assert.Zero(t, store.quantity("user-1", "sku-1"), "ordered lines leave the cart")
	assert.Zero(t, store.count("DeleteAllItems"))
	require.Len(t, events.events, 1)
	assert.Equal(t, OrderPlacedEvent{
		OrderID:     "order-42",
		UserID:      "user-1",
		TotalAmount: persisted.TotalAmount,
		ItemCount:   3,
		PlacedAt:    time.Date(2025, 4, 2, 10, 0, 0, 0, time.UTC),
	}, events.events[0])
}

func TestCheckoutRejectsEmptyCart(t *testing.T) {
	verifyNoLeaks(t)

	orders := &stubOrderRepository{
		createFunc: func(context.Context, domain.Order) (domain.Order, error) {
			t.Fatalf("order must not be created")
			return domain.Order{}, nil
		},
	}
	svc := newCheckoutFixture(t, seededStore(), orders, nil)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{ShippingAddress: validShipping()})
	require.ErrorIs(t, err, ErrCheckoutEmptyCart)
}

func TestCheckoutValidatesShipping(t *testing.T) {
	verifyNoLeaks(t)

	store := seededStore().withItem("user-1", "sku-1", 1)
	svc := newCheckoutFixture(t, store, &stubOrderRepository{}, nil)

	addr := validShipping()
	addr.City = " "
	addr.Phone = ""
	_, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{ShippingAddress: addr})
	require.ErrorIs(t, err, ErrCheckoutInvalidInput)
	assert.Contains(t, err.Error(), "city, phone")
	assert.Equal(t, 1, store.quantity("user-1", "sku-1"))
}

func TestCheckoutUnauthenticated(t *testing.T) {
	verifyNoLeaks(t)

	sessions := newTestSessions(t, CartSessionsDeps{Auth: stubAuthProvider{}, Repository: seededStore()})
	svc, err := NewCheckoutService(CheckoutServiceDeps{Carts: sessions, Orders: &stubOrderRepository{}})
	require.NoError(t, err)

	_, err = svc.PlaceOrder(context.Background(), PlaceOrderCommand{ShippingAddress: validShipping()})
	require.ErrorIs(t, err, ErrCartUnauthenticated)
}

func TestCheckoutOrderFailureKeepsCart(t *testing.T) {
	verifyNoLeaks(t)

	store := seededStore().withItem("user-1", "sku-1", 2)
	orders := &stubOrderRepository{
		createFunc: func(context.Context, domain.Order) (domain.Order, error) {
			return domain.Order{}, &fakeRepoError{msg: "aborted"}
		},
	}
	svc := newCheckoutFixture(t, store, orders, nil)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{ShippingAddress: validShipping()})
	require.ErrorIs(t, err, ErrCheckoutUnavailable)
	assert.Equal(t, 2, store.quantity("user-1", "sku-1"))
}

func TestCheckoutPublishFailureDoesNotFailOrder(t *testing.T) {
	verifyNoLeaks(t)

	store := seededStore().withItem("user-1", "sku-2", 1)
	events := &stubOrderPublisher{err: errors.New("topic missing")}
	svc := newCheckoutFixture(t, store, &stubOrderRepository{}, events)

	order, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{ShippingAddress: validShipping()})
	require.NoError(t, err)
	assert.Equal(t, "order-1", order.ID)
}

func TestCheckoutKeepsLinesAddedWhileOrdering(t *testing.T) {
	verifyNoLeaks(t)

	store := seededStore().withItem("user-1", "sku-1", 2)
	orders := &stubOrderRepository{
		createFunc: func(ctx context.Context, order domain.Order) (domain.Order, error) {
			store.mu.Lock()
			store.items["user-1"]["sku-2"] = domain.CartItem{ID: "sku-2", ProductID: "sku-2", Quantity: 3, Product: store.products["sku-2"]}
			item := store.items["user-1"]["sku-1"]
			item.Quantity += 4
			store.items["user-1"]["sku-1"] = item
			store.mu.Unlock()
			order.ID = "order-7"
			return order, nil
		},
	}
	svc := newCheckoutFixture(t, store, orders, nil)

	order, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{ShippingAddress: validShipping()})
	require.NoError(t, err)
	require.Len(t, order.Items, 1)
	assert.Equal(t, 2, order.Items[0].Quantity)

	assert.Equal(t, 3, store.quantity("user-1", "sku-2"), "a line added during checkout stays in the cart")
	assert.Equal(t, 4, store.quantity("user-1", "sku-1"), "only the ordered units are removed")
}

func TestCheckoutRejectsUnavailableProducts(t *testing.T) {
	verifyNoLeaks(t)

	store := seededStore().withItem("user-1", "sku-1", 1).withItem("user-1", "gone", 2)
	orders := &stubOrderRepository{
		createFunc: func(context.Context, domain.Order) (domain.Order, error) {
			t.Fatalf("order must not be created")
			return domain.Order{}, nil
		},
	}
	svc := newCheckoutFixture(t, store, orders, nil)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{ShippingAddress: validShipping()})
	require.ErrorIs(t, err, ErrCheckoutProductUnavailable)
	assert.Contains(t, err.Error(), "gone")
	assert.Equal(t, 2, store.quantity("user-1", "gone"))
	assert.Equal(t, 1, store.quantity("user-1", "sku-1"))
}
