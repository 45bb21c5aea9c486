package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chobo-shop/api/internal/domain"
	"github.com/chobo-shop/api/internal/platform/idempotency"
	"github.com/chobo-shop/api/internal/services"
)

const checkoutBody = `{
	"shippingAddress": {"firstName":"Mai","lastName":"Tran","address":"12 Harbour Road","city":"Da Nang","country":"VN","phone":"+84 900 000 000"},
	"notes": "leave at door",
	"paymentMethod": "cod"
}`

func newCheckoutRouter(svc services.CheckoutService, guard func(http.Handler) http.Handler) http.Handler {
	router := chi.NewRouter()
	router.Route("/checkout", NewCheckoutHandlers(nil, svc, guard).Routes)
	return router
}

func postCheckout(router http.Handler, uid, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(idempotency.HeaderKey, key)
	}
	if uid != "" {
		req = withUser(req, uid)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestCheckoutHandlersPlaceOrder(t *testing.T) {
	var got services.PlaceOrderCommand
	svc := &stubCheckoutService{
		placeFunc: func(ctx context.Context, cmd services.PlaceOrderCommand) (services.Order, error) {
			got = cmd
			return services.Order{
				ID:            "order-42",
				UserID:        "user-1",
				Status:        domain.OrderStatusPending,
				PaymentStatus: domain.PaymentStatusPending,
				TotalAmount:   decimal.RequireFromString("33.25"),
				Items: []services.OrderItem{
					{ProductID: "sku-1", ProductName: "Linen Shirt", ProductPrice: decimal.RequireFromString("12.50"), Quantity: 2},
					{ProductID: "sku-2", ProductName: "Canvas Tote", ProductPrice: decimal.RequireFromString("8.25"), Quantity: 1},
				},
				CreatedAt: time.Date(2025, 4, 2, 10, 0, 0, 0, time.UTC),
			}, nil
		},
	}

	rr := postCheckout(newCheckoutRouter(svc, nil), "user-1", "", checkoutBody)

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "/api/v1/orders/order-42", rr.Header().Get("Location"))
	assert.Equal(t, "Da Nang", got.ShippingAddress.City)
	assert.Equal(t, "cod", got.PaymentMethod)
	assert.Contains(t, rr.Body.String(), `"totalAmount":"33.25"`)
	assert.Contains(t, rr.Body.String(), `"itemCount":3`)
	assert.Contains(t, rr.Body.String(), `"lineTotal":"25.00"`)
}

func TestCheckoutHandlersErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{services.ErrCheckoutEmptyCart, http.StatusConflict, "cart_empty"},
		{fmt.Errorf("%w: gone", services.ErrCheckoutProductUnavailable), http.StatusConflict, "product_unavailable"},
		{fmt.Errorf("%w: missing city", services.ErrCheckoutInvalidInput), http.StatusBadRequest, "invalid_request"},
		{services.ErrCheckoutUnavailable, http.StatusServiceUnavailable, "checkout_unavailable"},
		{services.ErrCartUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			svc := &stubCheckoutService{
				placeFunc: func(context.Context, services.PlaceOrderCommand) (services.Order, error) {
					return services.Order{}, tc.err
				},
			}
			rr := postCheckout(newCheckoutRouter(svc, nil), "user-1", "", checkoutBody)
			assert.Equal(t, tc.status, rr.Code)
			assert.Contains(t, rr.Body.String(), tc.code)
		})
	}
}

func TestCheckoutHandlersRequiresIdentity(t *testing.T) {
	svc := &stubCheckoutService{
		placeFunc: func(context.Context, services.PlaceOrderCommand) (services.Order, error) {
			t.Fatal("checkout must not run without an identity")
			return services.Order{}, nil
		},
	}
	rr := postCheckout(newCheckoutRouter(svc, nil), "", "", checkoutBody)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestCheckoutHandlersIdempotentRetry(t *testing.T) {
	calls := 0
	svc := &stubCheckoutService{
		placeFunc: func(context.Context, services.PlaceOrderCommand) (services.Order, error) {
			calls++
			return services.Order{ID: fmt.Sprintf("order-%d", calls), Status: domain.OrderStatusPending}, nil
		},
	}
	router := newCheckoutRouter(svc, idempotency.Middleware(idempotency.NewMemoryStore()))

	first := postCheckout(router, "user-1", "checkout-abc", checkoutBody)
	second := postCheckout(router, "user-1", "checkout-abc", checkoutBody)

	require.Equal(t, http.StatusCreated, first.Code)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, 1, calls, "retry must not place a second order")
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "/api/v1/orders/order-1", second.Header().Get("Location"))
	assert.Equal(t, "true", second.Header().Get(idempotency.HeaderReplay))
}
