package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/chobo-shop/api/internal/domain"
	"github.com/chobo-shop/api/internal/platform/auth"
	"github.com/chobo-shop/api/internal/services"
)

type cartTestResponse struct {
	Cart struct {
		ID    string `json:"id"`
		Items []struct {
			ProductID string `json:"productId"`
			Name      string `json:"name"`
			Quantity  int    `json:"quantity"`
			LineTotal string `json:"lineTotal"`
		} `json:"items"`
		TotalItems int    `json:"totalItems"`
		Subtotal   string `json:"subtotal"`
		Version    uint64 `json:"version"`
	} `json:"cart"`
	Notices []struct {
		Level   string `json:"level"`
		Message string `json:"message"`
	} `json:"notices"`
}

func newCartRouter(t *testing.T, store *cartStore, provision bool, opts ...CartOption) http.Handler {
	t.Helper()
	t.Cleanup(func() { goleak.VerifyNone(t) })

	sessions, err := services.NewCartSessions(services.CartSessionsDeps{
		Auth:                   auth.NewContextProvider(),
		Repository:             store,
		Notifier:               services.ContextNotifier{},
		ProvisionOnFirstAccess: provision,
	})
	require.NoError(t, err)
	t.Cleanup(sessions.Close)

	router := chi.NewRouter()
	router.Route("/cart", NewCartHandlers(nil, sessions, opts...).Routes)
	return router
}

func doCart(t *testing.T, router http.Handler, method, path, uid, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if uid != "" {
		req = withUser(req, uid)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeCart(t *testing.T, rr *httptest.ResponseRecorder) cartTestResponse {
	t.Helper()
	var body cartTestResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return body
}

func TestCartHandlersAddMergeAndUpdate(t *testing.T) {
	router := newCartRouter(t, newCartStore(), true)

	rr := doCart(t, router, http.MethodPost, "/cart/items", "user-1", `{"productId":"sku-1","quantity":2}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decodeCart(t, rr)
	assert.Equal(t, 2, body.Cart.TotalItems)
	assert.Equal(t, "25.00", body.Cart.Subtotal)
	require.NotEmpty(t, body.Notices)
	assert.Equal(t, "Added to cart", body.Notices[len(body.Notices)-1].Message)

	rr = doCart(t, router, http.MethodPost, "/cart/items", "user-1", `{"productId":"sku-1"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	body = decodeCart(t, rr)
	require.Len(t, body.Cart.Items, 1)
	assert.Equal(t, 3, body.Cart.Items[0].Quantity, "quantity defaults to 1 and merges")
	assert.Equal(t, "37.50", body.Cart.Items[0].LineTotal)

	rr = doCart(t, router, http.MethodPost, "/cart/items", "user-1", `{"productId":"sku-2","quantity":1}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "45.75", decodeCart(t, rr).Cart.Subtotal)

	rr = doCart(t, router, http.MethodPatch, "/cart/items/sku-1", "user-1", `{"quantity":0}`)
	require.Equal(t, http.StatusOK, rr.Code)
	body = decodeCart(t, rr)
	assert.Equal(t, 1, body.Cart.TotalItems)
	assert.Equal(t, "8.25", body.Cart.Subtotal)

	rr = doCart(t, router, http.MethodDelete, "/cart/items", "user-1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	body = decodeCart(t, rr)
	assert.Empty(t, body.Cart.Items)
	assert.Equal(t, "0.00", body.Cart.Subtotal)
	assert.Equal(t, "Cart cleared", body.Notices[len(body.Notices)-1].Message)
}

func TestCartHandlersGetCart(t *testing.T) {
	router := newCartRouter(t, newCartStore(), true)

	rr := doCart(t, router, http.MethodGet, "/cart", "user-1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeCart(t, rr)
	assert.Equal(t, "user-1", body.Cart.ID)
	assert.NotNil(t, body.Cart.Items)
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))

	rr = doCart(t, router, http.MethodGet, "/cart?refresh=true", "user-1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Greater(t, decodeCart(t, rr).Cart.Version, body.Cart.Version)
}

func TestCartHandlersUnauthenticated(t *testing.T) {
	router := newCartRouter(t, newCartStore(), true)

	rr := doCart(t, router, http.MethodPost, "/cart/items", "", `{"productId":"sku-1","quantity":1}`)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), `"error":"unauthenticated"`)
	assert.Contains(t, rr.Body.String(), "Please sign in to use your cart")
}

func TestCartHandlersErrorMapping(t *testing.T) {
	store := newCartStore()
	router := newCartRouter(t, store, true)

	rr := doCart(t, router, http.MethodPatch, "/cart/items/sku-9", "user-1", `{"quantity":2}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = doCart(t, router, http.MethodPost, "/cart/items", "user-1", `{"productId":"sku-1","quantity":0}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doCart(t, router, http.MethodPost, "/cart/items", "user-1", `{"productId":"sku-1","quantity":9223372036854775807}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "between 1 and 99")

	rr = doCart(t, router, http.MethodPost, "/cart/items", "user-1", `{"productId":`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doCart(t, router, http.MethodPatch, "/cart/items/sku-1", "user-1", `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	store.setFailure(&repoError{msg: "deadline", unavailable: true})
	rr = doCart(t, router, http.MethodPost, "/cart/items", "user-1", `{"productId":"sku-1","quantity":1}`)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "cart_remote_failure")

	store.setFailure(&repoError{msg: "permission denied"})
	rr = doCart(t, router, http.MethodPost, "/cart/items", "user-1", `{"productId":"sku-1","quantity":1}`)
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Contains(t, rr.Body.String(), "permission denied")
}

func TestCartHandlersNoActiveCart(t *testing.T) {
	router := newCartRouter(t, newCartStore(), false)

	rr := doCart(t, router, http.MethodGet, "/cart", "user-1", "")
	require.Equal(t, http.StatusOK, rr.Code, "reload without a cart yields an empty snapshot")

	rr = doCart(t, router, http.MethodPost, "/cart/items", "user-1", `{"productId":"sku-1","quantity":1}`)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), "no_active_cart")
}

func TestCartHandlersRateLimit(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	router := newCartRouter(t, newCartStore(), true, WithCartRateLimit(2, func() time.Time { return now }))

	for i := 0; i < 2; i++ {
		rr := doCart(t, router, http.MethodPost, "/cart/items", "user-1", `{"productId":"sku-1","quantity":1}`)
		require.Equal(t, http.StatusOK, rr.Code)
	}
	rr := doCart(t, router, http.MethodPost, "/cart/items", "user-1", `{"productId":"sku-1","quantity":1}`)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))

	rr = doCart(t, router, http.MethodGet, "/cart", "user-1", "")
	assert.Equal(t, http.StatusOK, rr.Code, "reads are not limited")
}

func TestBuildCartPayloadFlagsUnavailableLines(t *testing.T) {
	payload := buildCartPayload(services.CartSnapshot{Items: []services.CartItem{
		{ID: "sku-1", ProductID: "sku-1", Quantity: 1, Product: domain.ProductSnapshot{ID: "sku-1", Name: "Linen Shirt", UnitPrice: decimal.RequireFromString("12.50")}},
		{ID: "gone", ProductID: "gone", Quantity: 2, Product: domain.ProductSnapshot{ID: "gone", UnitPrice: decimal.Zero, Unavailable: true}},
	}})

	require.Len(t, payload.Items, 2)
	assert.False(t, payload.Items[0].Unavailable)
	assert.True(t, payload.Items[1].Unavailable)
	assert.Equal(t, "0.00", payload.Items[1].LineTotal)
}
