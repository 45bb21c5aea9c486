package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chobo-shop/api/internal/platform/auth"
	"github.com/chobo-shop/api/internal/platform/httpx"
	"github.com/chobo-shop/api/internal/platform/pagination"
	"github.com/chobo-shop/api/internal/services"
)

// OrderHandlers exposes the signed-in user's order history.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs handlers enforcing Firebase authentication before invoking the order service.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{authn: authn, orders: orders}
}

// Routes wires the /orders endpoints onto the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderId}", h.getOrder)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	page, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_pagination", err.Error(), http.StatusBadRequest))
		return
	}
	result, err := h.orders.ListOrders(ctx, identity.UID, page)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	items := make([]orderSummaryPayload, 0, len(result.Items))
	for _, order := range result.Items {
		items = append(items, buildOrderSummary(order))
	}
	httpx.WriteJSON(w, http.StatusOK, orderListResponse{Items: items, NextPageToken: result.NextPageToken})
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"nextPageToken,omitempty"`
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(ctx, identity.UID, chi.URLParam(r, "orderId"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

type orderSummaryPayload struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus"`
	TotalAmount   string `json:"totalAmount"`
	ItemCount     int    `json:"itemCount"`
	CreatedAt     string `json:"createdAt,omitempty"`
}

type orderPayload struct {
	orderSummaryPayload
	PaymentMethod   string                 `json:"paymentMethod,omitempty"`
	ShippingMethod  string                 `json:"shippingMethod,omitempty"`
	ShippingAddress shippingAddressPayload `json:"shippingAddress"`
	Notes           string                 `json:"notes,omitempty"`
	Items           []orderItemPayload     `json:"items"`
	UpdatedAt       string                 `json:"updatedAt,omitempty"`
}

type orderItemPayload struct {
	ProductID    string `json:"productId"`
	ProductName  string `json:"productName"`
	ProductPrice string `json:"productPrice"`
	Quantity     int    `json:"quantity"`
	LineTotal    string `json:"lineTotal"`
}

type shippingAddressPayload struct {
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country"`
	Phone      string `json:"phone"`
}

func (p shippingAddressPayload) toModel() services.ShippingAddress {
	return services.ShippingAddress{
		FirstName:  p.FirstName,
		LastName:   p.LastName,
		Address:    p.Address,
		City:       p.City,
		PostalCode: p.PostalCode,
		Country:    p.Country,
		Phone:      p.Phone,
	}
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	count := 0
	for _, item := range order.Items {
		count += item.Quantity
	}
	return orderSummaryPayload{
		ID:            order.ID,
		Status:        string(order.Status),
		PaymentStatus: order.PaymentStatus,
		TotalAmount:   formatMoney(order.TotalAmount),
		ItemCount:     count,
		CreatedAt:     formatTime(order.CreatedAt, time.Time{}),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	addr := order.ShippingAddress
	payload := orderPayload{
		orderSummaryPayload: buildOrderSummary(order),
		PaymentMethod:       order.PaymentMethod,
		ShippingMethod:      order.ShippingMethod,
		ShippingAddress: shippingAddressPayload{
			FirstName:  addr.FirstName,
			LastName:   addr.LastName,
			Address:    addr.Address,
			City:       addr.City,
			PostalCode: addr.PostalCode,
			Country:    addr.Country,
			Phone:      addr.Phone,
		},
		Notes:     order.Notes,
		Items:     make([]orderItemPayload, 0, len(order.Items)),
		UpdatedAt: formatTime(order.UpdatedAt, time.Time{}),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID:    item.ProductID,
			ProductName:  item.ProductName,
			ProductPrice: formatMoney(item.ProductPrice),
			Quantity:     item.Quantity,
			LineTotal:    formatMoney(item.LineTotal()),
		})
	}
	return payload
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCartUnauthenticated):
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
	case errors.Is(err, services.ErrOrderInvalidPage):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_pagination", "invalid page token", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to load orders", http.StatusInternalServerError))
	}
}
