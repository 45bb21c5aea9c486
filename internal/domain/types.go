package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartIdentity scopes every cart item to a single user account.
type CartIdentity struct {
	ID        string
	UserID    string
	CreatedAt time.Time
}

// MaxCartItemQuantity bounds the quantity of a single cart line.
const MaxCartItemQuantity = 99

// ProductSnapshot is the product projection embedded in cart items.
// Unavailable marks a line whose product no longer exists in the catalog.
type ProductSnapshot struct {
	ID          string
	Name        string
	UnitPrice   decimal.Decimal
	ImageURL    string
	Unavailable bool
}

// CartItem captures a single product line within a cart. Quantity is always >= 1 while the item exists.
type CartItem struct {
	ID        string
	ProductID string
	Quantity  int
	Product   ProductSnapshot
	AddedAt   time.Time
	UpdatedAt time.Time
}

// Orderable reports whether the line still resolves to a priced catalog product.
func (i CartItem) Orderable() bool {
	return !i.Product.Unavailable && i.Product.Name != ""
}

// LineTotal returns quantity × unit price for the item.
func (i CartItem) LineTotal() decimal.Decimal {
	return i.Product.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// TotalItems folds the quantity of every item.
func TotalItems(items []CartItem) int {
	total := 0
	for _, item := range items {
		total += item.Quantity
	}
	return total
}

// Subtotal folds quantity × unit price over every item.
func Subtotal(items []CartItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.LineTotal())
	}
	return total
}

// CartSnapshot is an immutable reflection of the remote cart taken after a completed refresh.
type CartSnapshot struct {
	Identity  *CartIdentity
	Items     []CartItem
	FetchedAt time.Time
	Version   uint64
	// Stale reports that the last mutation succeeded remotely but the follow-up refresh failed.
	Stale bool
}

// TotalItems returns the item count aggregate for the snapshot.
func (s CartSnapshot) TotalItems() int {
	return TotalItems(s.Items)
}

// Subtotal returns the price aggregate for the snapshot.
func (s CartSnapshot) Subtotal() decimal.Decimal {
	return Subtotal(s.Items)
}

// Find returns the item for productID when present.
func (s CartSnapshot) Find(productID string) (CartItem, bool) {
	for _, item := range s.Items {
		if item.ProductID == productID {
			return item, true
		}
	}
	return CartItem{}, false
}

// Clone returns a deep copy safe to hand to callers.
func (s CartSnapshot) Clone() CartSnapshot {
	out := s
	if s.Identity != nil {
		identity := *s.Identity
		out.Identity = &identity
	}
	if s.Items != nil {
		out.Items = make([]CartItem, len(s.Items))
		copy(out.Items, s.Items)
	}
	return out
}

// NoticeLevel classifies user-facing notifications.
type NoticeLevel string

const (
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
)

// Notice is a user-visible notification emitted after a cart operation.
type Notice struct {
	Level   NoticeLevel
	Message string
}

// AuthUser is the signed-in principal as seen by the business layer.
type AuthUser struct {
	ID     string
	Email  string
	Locale string
}
