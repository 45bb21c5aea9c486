package handlers

import (
	"context"
	"errors"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"

	"github.com/chobo-shop/api/internal/platform/auth"
	"github.com/chobo-shop/api/internal/platform/httpx"
	"github.com/chobo-shop/api/internal/services"
)

const maxCheckoutBodySize = 16 * 1024

// CheckoutHandlers turns the signed-in user's cart into an order.
type CheckoutHandlers struct {
	authn       *auth.Authenticator
	checkout    services.CheckoutService
	idempotency func(http.Handler) http.Handler
}

// NewCheckoutHandlers constructs the checkout endpoint. idempotency may be nil.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService, idempotency func(http.Handler) http.Handler) *CheckoutHandlers {
	return &CheckoutHandlers{authn: authn, checkout: checkout, idempotency: idempotency}
}

// Routes wires POST /checkout. Authentication runs before the idempotency guard so keys are scoped per user.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	if h.idempotency != nil {
		r.Use(h.idempotency)
	}
	r.Post("/", h.placeOrder)
}

type placeOrderRequest struct {
	ShippingAddress shippingAddressPayload `json:"shippingAddress"`
	Notes           string                 `json:"notes"`
	PaymentMethod   string                 `json:"paymentMethod"`
	ShippingMethod  string                 `json:"shippingMethod"`
}

func (h *CheckoutHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout is unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := requireIdentity(ctx, w); !ok {
		return
	}

	var req placeOrderRequest
	if !decodeJSONBody(w, r, maxCheckoutBodySize, &req) {
		return
	}

	ctx = services.WithNoticeRecorder(ctx)
	order, err := h.checkout.PlaceOrder(ctx, services.PlaceOrderCommand{
		ShippingAddress: req.ShippingAddress.toModel(),
		Notes:           req.Notes,
		PaymentMethod:   req.PaymentMethod,
		ShippingMethod:  req.ShippingMethod,
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	w.Header().Set("Location", path.Join(defaultAPIPrefix, "orders", order.ID))
	httpx.WriteJSON(w, http.StatusCreated, buildOrderPayload(order))
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCheckoutEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "the cart is empty", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutProductUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("product_unavailable", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "unable to place the order; try again", http.StatusServiceUnavailable))
	default:
		writeCartError(ctx, w, err)
	}
}
