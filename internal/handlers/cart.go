package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chobo-shop/api/internal/domain"
	"github.com/chobo-shop/api/internal/platform/auth"
	"github.com/chobo-shop/api/internal/platform/httpx"
	"github.com/chobo-shop/api/internal/services"
)

const maxCartBodySize = 4 * 1024

// CartHandlers exposes the signed-in user's cart. Authentication is optional at the HTTP layer
// so the cart coordinator itself reports unauthenticated access.
type CartHandlers struct {
	authn    *auth.Authenticator
	sessions services.CartSessionManager
	limiter  rateLimiter
}

// CartOption customises CartHandlers.
type CartOption func(*CartHandlers)

// WithCartRateLimit caps cart mutations per user per minute. Zero disables the limit.
func WithCartRateLimit(perMinute int, clock func() time.Time) CartOption {
	return func(h *CartHandlers) {
		h.limiter = newRateLimiter(perMinute, time.Minute, clock)
	}
}

// NewCartHandlers constructs the cart endpoints over the session registry.
func NewCartHandlers(authn *auth.Authenticator, sessions services.CartSessionManager, opts ...CartOption) *CartHandlers {
	h := &CartHandlers{authn: authn, sessions: sessions}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.OptionalFirebaseAuth())
	}
	r.Get("/", h.getCart)
	r.Post("/items", h.addItem)
	r.Delete("/items", h.clearCart)
	r.Patch("/items/{productId}", h.updateItem)
	r.Delete("/items/{productId}", h.removeItem)
}

type addCartItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  *int   `json:"quantity"`
}

type updateCartItemRequest struct {
	Quantity *int `json:"quantity"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	refresh, _ := strconv.ParseBool(strings.TrimSpace(r.URL.Query().Get("refresh")))
	h.serve(w, r, false, func(ctx context.Context, cart *services.CartCoordinator) error {
		if refresh {
			return cart.Reload(ctx)
		}
		return nil
	})
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	var req addCartItemRequest
	if !decodeJSONBody(w, r, maxCartBodySize, &req) {
		return
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}
	h.serve(w, r, true, func(ctx context.Context, cart *services.CartCoordinator) error {
		return cart.AddItem(ctx, req.ProductID, quantity)
	})
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	var req updateCartItemRequest
	if !decodeJSONBody(w, r, maxCartBodySize, &req) {
		return
	}
	if req.Quantity == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "quantity is required", http.StatusBadRequest))
		return
	}
	productID := chi.URLParam(r, "productId")
	h.serve(w, r, true, func(ctx context.Context, cart *services.CartCoordinator) error {
		return cart.UpdateQuantity(ctx, productID, *req.Quantity)
	})
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")
	h.serve(w, r, true, func(ctx context.Context, cart *services.CartCoordinator) error {
		return cart.RemoveItem(ctx, productID)
	})
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, true, func(ctx context.Context, cart *services.CartCoordinator) error {
		return cart.ClearCart(ctx)
	})
}

// serve acquires the user's coordinator, runs op and answers with the resulting snapshot
// together with the notices the operation emitted.
func (h *CartHandlers) serve(w http.ResponseWriter, r *http.Request, mutation bool, op func(context.Context, *services.CartCoordinator) error) {
	ctx := services.WithNoticeRecorder(r.Context())
	if h.sessions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	cart, err := h.sessions.Acquire(ctx)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	if mutation && h.limiter != nil && !h.limiter.Allow(cart.UserID()) {
		w.Header().Set("Retry-After", "60")
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many cart updates; slow down", http.StatusTooManyRequests))
		return
	}

	if err := op(ctx, cart); err != nil {
		writeCartError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, cartResponse{
		Cart:    buildCartPayload(cart.Snapshot()),
		Notices: buildNoticePayloads(services.RecordedNotices(ctx)),
	})
}

func writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	var apiErr httpx.Error
	var remote *services.CartRemoteError
	switch {
	case errors.Is(err, services.ErrCartUnauthenticated):
		apiErr = httpx.NewError("unauthenticated", "sign in to use the cart", http.StatusUnauthorized)
	case errors.Is(err, services.ErrNoActiveCart):
		apiErr = httpx.NewError("no_active_cart", "no cart exists for this user yet", http.StatusConflict)
	case errors.Is(err, services.ErrCartItemNotFound):
		apiErr = httpx.NewError("cart_item_not_found", "item is not in the cart", http.StatusNotFound)
	case errors.Is(err, services.ErrCartInvalidInput):
		apiErr = httpx.NewError("invalid_request", fmt.Sprintf("productId is required and quantity must be between 1 and %d", domain.MaxCartItemQuantity), http.StatusBadRequest)
	case errors.As(err, &remote):
		status := http.StatusBadGateway
		if remote.Unavailable() {
			status = http.StatusServiceUnavailable
		}
		apiErr = httpx.NewError("cart_remote_failure", remote.Error(), status)
	case errors.Is(err, services.ErrCartClosed):
		apiErr = httpx.NewError("cart_session_closed", "cart session ended; retry", http.StatusServiceUnavailable)
	case errors.Is(err, context.DeadlineExceeded):
		apiErr = httpx.NewError("cart_timeout", "cart update timed out", http.StatusGatewayTimeout)
	case errors.Is(err, context.Canceled):
		apiErr = httpx.NewError("request_cancelled", "request cancelled", http.StatusRequestTimeout)
	default:
		apiErr = httpx.NewError("cart_error", "cart request failed", http.StatusInternalServerError)
	}
	if notices := services.RecordedNotices(ctx); len(notices) > 0 {
		apiErr = apiErr.WithDetails(map[string]any{"notices": buildNoticePayloads(notices)})
	}
	httpx.WriteError(ctx, w, apiErr)
}

type cartResponse struct {
	Cart    cartPayload     `json:"cart"`
	Notices []noticePayload `json:"notices"`
}

type cartPayload struct {
	ID         string            `json:"id,omitempty"`
	Items      []cartItemPayload `json:"items"`
	TotalItems int               `json:"totalItems"`
	Subtotal   string            `json:"subtotal"`
	Version    uint64            `json:"version"`
	Stale      bool              `json:"stale,omitempty"`
	FetchedAt  string            `json:"fetchedAt,omitempty"`
}

type cartItemPayload struct {
	ID          string `json:"id"`
	ProductID   string `json:"productId"`
	Name        string `json:"name"`
	ImageURL    string `json:"imageUrl,omitempty"`
	UnitPrice   string `json:"unitPrice"`
	Quantity    int    `json:"quantity"`
	LineTotal   string `json:"lineTotal"`
	AddedAt     string `json:"addedAt,omitempty"`
	Unavailable bool   `json:"unavailable,omitempty"`
}

type noticePayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

func buildCartPayload(snapshot services.CartSnapshot) cartPayload {
	payload := cartPayload{
		Items:      make([]cartItemPayload, 0, len(snapshot.Items)),
		TotalItems: snapshot.TotalItems(),
		Subtotal:   formatMoney(snapshot.Subtotal()),
		Version:    snapshot.Version,
		Stale:      snapshot.Stale,
		FetchedAt:  formatTime(snapshot.FetchedAt, time.Time{}),
	}
	if snapshot.Identity != nil {
		payload.ID = snapshot.Identity.ID
	}
	for _, item := range snapshot.Items {
		payload.Items = append(payload.Items, cartItemPayload{
			ID:          item.ID,
			ProductID:   item.ProductID,
			Name:        item.Product.Name,
			ImageURL:    item.Product.ImageURL,
			UnitPrice:   formatMoney(item.Product.UnitPrice),
			Quantity:    item.Quantity,
			LineTotal:   formatMoney(item.LineTotal()),
			AddedAt:     formatTime(item.AddedAt, time.Time{}),
			Unavailable: !item.Orderable(),
		})
	}
	return payload
}

func buildNoticePayloads(notices []services.Notice) []noticePayload {
	out := make([]noticePayload, 0, len(notices))
	for _, notice := range notices {
		out = append(out, noticePayload{Level: string(notice.Level), Message: notice.Message})
	}
	return out
}
