package services

import (
	"context"
	"errors"
	"strings"

	"github.com/chobo-shop/api/internal/platform/pagination"
	"github.com/chobo-shop/api/internal/repositories"
)

const maxOrderPageSize = 50

var orderPageOptions = pagination.Options{DefaultPageSize: pagination.DefaultPageSize, MaxPageSize: maxOrderPageSize}

var (
	// ErrOrderNotFound indicates the order does not exist or belongs to another user.
	ErrOrderNotFound = errors.New("order service: not found")
	// ErrOrderUnavailable indicates orders could not be read from the store.
	ErrOrderUnavailable = errors.New("order service: unavailable")
	// ErrOrderInvalidPage indicates the page token could not be decoded.
	ErrOrderInvalidPage = errors.New("order service: invalid page token")

	errOrderRepositoryRequired = errors.New("order service: repository is required")
)

// OrderServiceDeps wires the order history service.
type OrderServiceDeps struct {
	Orders repositories.OrderRepository
	Logger func(context.Context, string, map[string]any)
}

type orderService struct {
	orders repositories.OrderRepository
	logger func(context.Context, string, map[string]any)
}

// NewOrderService constructs the order history service.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errOrderRepositoryRequired
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &orderService{orders: deps.Orders, logger: logger}, nil
}

// ListOrders returns one page of the user's orders newest first.
func (s *orderService) ListOrders(ctx context.Context, userID string, page pagination.Params) (OrderPage, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return OrderPage{}, ErrCartUnauthenticated
	}
	result, err := s.orders.ListByUser(ctx, userID, page.Normalize(orderPageOptions))
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			return OrderPage{}, ErrOrderInvalidPage
		}
		s.logger(ctx, "orders.list_failed", map[string]any{"userID": userID, "error": err})
		return OrderPage{}, translateOrderError(err)
	}
	if result.Items == nil {
		result.Items = []Order{}
	}
	return result, nil
}

// GetOrder returns one order with its items. Orders of other users are reported as not found.
func (s *orderService) GetOrder(ctx context.Context, userID, orderID string) (Order, error) {
	userID = strings.TrimSpace(userID)
	orderID = strings.TrimSpace(orderID)
	if userID == "" {
		return Order{}, ErrCartUnauthenticated
	}
	if orderID == "" {
		return Order{}, ErrOrderNotFound
	}
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return Order{}, translateOrderError(err)
	}
	if order.UserID != userID {
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}

func translateOrderError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return ErrOrderNotFound
	}
	return errors.Join(ErrOrderUnavailable, err)
}
