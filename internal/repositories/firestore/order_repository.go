package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/chobo-shop/api/internal/domain"
	pfirestore "github.com/chobo-shop/api/internal/platform/firestore"
	"github.com/chobo-shop/api/internal/platform/pagination"
)

const (
	orderCollection     = "orders"
	orderItemCollection = "orders/%s/items"

	orderItemFetchConcurrency = 8
)

type orderDocument struct {
	UserID          string                  `firestore:"userId"`
	Status          string                  `firestore:"status"`
	TotalAmount     float64                 `firestore:"totalAmount"`
	PaymentStatus   string                  `firestore:"paymentStatus"`
	PaymentMethod   string                  `firestore:"paymentMethod,omitempty"`
	ShippingMethod  string                  `firestore:"shippingMethod,omitempty"`
	ShippingAddress shippingAddressDocument `firestore:"shippingAddress"`
	Notes           string                  `firestore:"notes,omitempty"`
	ItemCount       int                     `firestore:"itemCount"`
	CreatedAt       time.Time               `firestore:"createdAt"`
	UpdatedAt       time.Time               `firestore:"updatedAt"`
}

type shippingAddressDocument struct {
	FirstName  string `firestore:"firstName"`
	LastName   string `firestore:"lastName"`
	Address    string `firestore:"address"`
	City       string `firestore:"city"`
	PostalCode string `firestore:"postalCode,omitempty"`
	Country    string `firestore:"country"`
	Phone      string `firestore:"phone"`
}

type orderItemDocument struct {
	ProductID    string  `firestore:"productId"`
	ProductName  string  `firestore:"productName"`
	ProductPrice float64 `firestore:"productPrice"`
	Quantity     int     `firestore:"quantity"`
}

// OrderRepository persists order headers with an items subcollection.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[orderDocument]
	items    *pfirestore.Collection[orderItemDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewCollection[orderDocument](provider, orderCollection),
		items:    pfirestore.NewCollection[orderItemDocument](provider, orderItemCollection),
	}, nil
}

// Create writes the header and every item in a single transaction.
func (r *OrderRepository) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	if strings.TrimSpace(order.ID) == "" {
		order.ID = ulid.Make().String()
	}
	if len(order.Items) == 0 {
		return domain.Order{}, errors.New("order repository: order has no items")
	}

	orderRef, err := r.orders.Doc(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	itemsRef, err := r.items.Ref(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}

	saved := order
	saved.Items = make([]domain.OrderItem, len(order.Items))
	for i, item := range order.Items {
		if strings.TrimSpace(item.ID) == "" {
			item.ID = ulid.Make().String()
		}
		item.OrderID = order.ID
		saved.Items[i] = item
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := tx.Create(orderRef, fromDomainOrder(saved)); err != nil {
			return err
		}
		for _, item := range saved.Items {
			if err := tx.Create(itemsRef.Doc(item.ID), fromDomainOrderItem(item)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return saved, nil
}

// ListByUser returns one page of the user's orders newest first with their items. Ties on
// createdAt are broken by document ID so the cursor stays stable.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string, page pagination.Params) (domain.OrderPage, error) {
	size := page.PageSize
	if size <= 0 {
		size = pagination.DefaultPageSize
	}
	cursor := page.Cursor
	if cursor.IsZero() && strings.TrimSpace(page.PageToken) != "" {
		decoded, err := pagination.DecodeToken(page.PageToken)
		if err != nil {
			return domain.OrderPage{}, err
		}
		cursor = decoded
	}

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("userId", "==", strings.TrimSpace(userID)).
			OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Desc)
		if !cursor.IsZero() {
			q = q.StartAfter(cursor.CreatedAt.UTC(), cursor.ID)
		}
		return q.Limit(size + 1)
	})
	if err != nil {
		return domain.OrderPage{}, err
	}

	var next string
	if len(docs) > size {
		docs = docs[:size]
		last := docs[len(docs)-1]
		next, err = pagination.EncodeToken(pagination.Cursor{CreatedAt: last.Data.CreatedAt.UTC(), ID: last.ID})
		if err != nil {
			return domain.OrderPage{}, err
		}
	}

	orders := make([]domain.Order, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(orderItemFetchConcurrency)
	for i, doc := range docs {
		g.Go(func() error {
			items, err := r.listItems(gctx, doc.ID)
			if err != nil {
				return err
			}
			orders[i] = toDomainOrder(doc, items)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.OrderPage{}, err
	}
	return domain.OrderPage{Items: orders, NextPageToken: next}, nil
}

// Get loads an order with its items.
func (r *OrderRepository) Get(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	items, err := r.listItems(ctx, doc.ID)
	if err != nil {
		return domain.Order{}, err
	}
	return toDomainOrder(doc, items), nil
}

func (r *OrderRepository) listItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	docs, err := r.items.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy(firestore.DocumentID, firestore.Asc)
	}, orderID)
	if err != nil {
		return nil, err
	}
	items := make([]domain.OrderItem, 0, len(docs))
	for _, doc := range docs {
		items = append(items, domain.OrderItem{
			ID:           doc.ID,
			OrderID:      orderID,
			ProductID:    doc.Data.ProductID,
			ProductName:  doc.Data.ProductName,
			ProductPrice: decimal.NewFromFloat(doc.Data.ProductPrice),
			Quantity:     doc.Data.Quantity,
		})
	}
	return items, nil
}

func fromDomainOrder(order domain.Order) orderDocument {
	addr := order.ShippingAddress
	return orderDocument{
		UserID:         order.UserID,
		Status:         string(order.Status),
		TotalAmount:    order.TotalAmount.InexactFloat64(),
		PaymentStatus:  order.PaymentStatus,
		PaymentMethod:  order.PaymentMethod,
		ShippingMethod: order.ShippingMethod,
		ShippingAddress: shippingAddressDocument{
			FirstName:  addr.FirstName,
			LastName:   addr.LastName,
			Address:    addr.Address,
			City:       addr.City,
			PostalCode: addr.PostalCode,
			Country:    addr.Country,
			Phone:      addr.Phone,
		},
		Notes:     order.Notes,
		ItemCount: len(order.Items),
		CreatedAt: order.CreatedAt.UTC(),
		UpdatedAt: order.UpdatedAt.UTC(),
	}
}

func fromDomainOrderItem(item domain.OrderItem) orderItemDocument {
	return orderItemDocument{
		ProductID:    item.ProductID,
		ProductName:  item.ProductName,
		ProductPrice: item.ProductPrice.InexactFloat64(),
		Quantity:     item.Quantity,
	}
}

func toDomainOrder(doc pfirestore.Document[orderDocument], items []domain.OrderItem) domain.Order {
	addr := doc.Data.ShippingAddress
	return domain.Order{
		ID:             doc.ID,
		UserID:         doc.Data.UserID,
		Status:         domain.OrderStatus(doc.Data.Status),
		TotalAmount:    decimal.NewFromFloat(doc.Data.TotalAmount),
		PaymentStatus:  doc.Data.PaymentStatus,
		PaymentMethod:  doc.Data.PaymentMethod,
		ShippingMethod: doc.Data.ShippingMethod,
		ShippingAddress: domain.ShippingAddress{
			FirstName:  addr.FirstName,
			LastName:   addr.LastName,
			Address:    addr.Address,
			City:       addr.City,
			PostalCode: addr.PostalCode,
			Country:    addr.Country,
			Phone:      addr.Phone,
		},
		Notes:     doc.Data.Notes,
		Items:     items,
		CreatedAt: doc.Data.CreatedAt.UTC(),
		UpdatedAt: doc.Data.UpdatedAt.UTC(),
	}
}
