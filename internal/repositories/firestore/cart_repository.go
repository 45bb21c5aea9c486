package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/chobo-shop/api/internal/domain"
	pfirestore "github.com/chobo-shop/api/internal/platform/firestore"
	"github.com/chobo-shop/api/internal/repositories"
)

const (
	cartCollection     = "carts"
	cartItemCollection = "carts/%s/items"
)

type cartDocument struct {
	UserID    string    `firestore:"userId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

// Cart item documents are keyed by product ID, which enforces one row per product.
type cartItemDocument struct {
	ProductID string    `firestore:"productId"`
	Quantity  int       `firestore:"quantity"`
	AddedAt   time.Time `firestore:"addedAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// CartRepository stores one cart per user (document ID = user ID) with an items subcollection.
type CartRepository struct {
	provider *pfirestore.Provider
	carts    *pfirestore.Collection[cartDocument]
	items    *pfirestore.Collection[cartItemDocument]
	products *pfirestore.Collection[productDocument]
	clock    func() time.Time
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{
		provider: provider,
		carts:    pfirestore.NewCollection[cartDocument](provider, cartCollection),
		items:    pfirestore.NewCollection[cartItemDocument](provider, cartItemCollection),
		products: pfirestore.NewCollection[productDocument](provider, productCollection),
		clock:    time.Now,
	}, nil
}

// FindCartByUser returns the user's cart or a not-found repository error.
func (r *CartRepository) FindCartByUser(ctx context.Context, userID string) (domain.CartIdentity, error) {
	doc, err := r.carts.Get(ctx, userID)
	if err != nil {
		return domain.CartIdentity{}, err
	}
	return domain.CartIdentity{ID: doc.ID, UserID: doc.Data.UserID, CreatedAt: doc.Data.CreatedAt.UTC()}, nil
}

// EnsureCart creates the cart document when absent. Concurrent callers converge on the same document.
func (r *CartRepository) EnsureCart(ctx context.Context, userID string) (domain.CartIdentity, error) {
	ref, err := r.carts.Doc(ctx, userID)
	if err != nil {
		return domain.CartIdentity{}, err
	}
	doc := cartDocument{UserID: strings.TrimSpace(userID), CreatedAt: r.clock().UTC()}
	if _, err := ref.Create(ctx, doc); err != nil && status.Code(err) != codes.AlreadyExists {
		return domain.CartIdentity{}, pfirestore.WrapError("carts.ensure", err)
	}
	return r.FindCartByUser(ctx, userID)
}

// ListItems returns the cart rows joined with their products, oldest first.
func (r *CartRepository) ListItems(ctx context.Context, cartID string) ([]domain.CartItem, error) {
	docs, err := r.items.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("addedAt", firestore.Asc)
	}, cartID)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return []domain.CartItem{}, nil
	}

	refs := make([]*firestore.DocumentRef, 0, len(docs))
	for _, doc := range docs {
		ref, err := r.products.Doc(ctx, doc.Data.ProductID)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	snaps, err := client.GetAll(ctx, refs)
	if err != nil {
		return nil, pfirestore.WrapError("items.join_products", err)
	}

	items := make([]domain.CartItem, 0, len(docs))
	for i, doc := range docs {
		item := toDomainCartItem(doc)
		if snaps[i].Exists() {
			product, err := pfirestore.Decode[productDocument](snaps[i])
			if err != nil {
				return nil, err
			}
			item.Product = toDomainProduct(product.ID, product.Data, nil).Snapshot()
		} else {
			item.Product = domain.ProductSnapshot{ID: doc.Data.ProductID, UnitPrice: decimal.Zero, Unavailable: true}
		}
		items = append(items, item)
	}
	return items, nil
}

// FindItem returns the row for productID or a not-found repository error.
func (r *CartRepository) FindItem(ctx context.Context, cartID, productID string) (domain.CartItem, error) {
	doc, err := r.items.Get(ctx, productID, cartID)
	if err != nil {
		return domain.CartItem{}, err
	}
	return toDomainCartItem(doc), nil
}

// InsertItem creates a new row. The product must exist and the row must not.
func (r *CartRepository) InsertItem(ctx context.Context, cartID, productID string, quantity int) error {
	itemRef, productRef, err := r.refs(ctx, cartID, productID)
	if err != nil {
		return err
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(productRef); err != nil {
			return productLookupError(productID, err)
		}
		now := r.clock().UTC()
		return tx.Create(itemRef, cartItemDocument{ProductID: productID, Quantity: quantity, AddedAt: now, UpdatedAt: now})
	})
}

// IncrementItem inserts the row with delta or adds delta to the existing quantity in one transaction.
// The merged quantity never exceeds limit.
func (r *CartRepository) IncrementItem(ctx context.Context, cartID, productID string, delta, limit int) error {
	if delta > limit {
		return repositories.ErrCartQuantityLimit
	}
	itemRef, productRef, err := r.refs(ctx, cartID, productID)
	if err != nil {
		return err
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(productRef); err != nil {
			return productLookupError(productID, err)
		}
		now := r.clock().UTC()
		snap, err := tx.Get(itemRef)
		switch status.Code(err) {
		case codes.OK:
			var current cartItemDocument
			if err := snap.DataTo(&current); err != nil {
				return err
			}
			if current.Quantity > limit-delta {
				return repositories.ErrCartQuantityLimit
			}
			return tx.Update(snap.Ref, []firestore.Update{
				{Path: "quantity", Value: current.Quantity + delta},
				{Path: "updatedAt", Value: now},
			})
		case codes.NotFound:
			return tx.Create(itemRef, cartItemDocument{ProductID: productID, Quantity: delta, AddedAt: now, UpdatedAt: now})
		default:
			return err
		}
	})
}

// UpdateItemQuantity overwrites the quantity of an existing row.
func (r *CartRepository) UpdateItemQuantity(ctx context.Context, cartID, itemID string, quantity int) error {
	return r.items.Update(ctx, itemID, []firestore.Update{
		{Path: "quantity", Value: quantity},
		{Path: "updatedAt", Value: r.clock().UTC()},
	}, cartID)
}

// DeleteItem removes an existing row; a missing row is reported as not found.
func (r *CartRepository) DeleteItem(ctx context.Context, cartID, itemID string) error {
	ref, err := r.items.Doc(ctx, itemID, cartID)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx, firestore.Exists); err != nil {
		return pfirestore.WrapError("items.delete", err)
	}
	return nil
}

// DeleteAllItems empties the cart.
func (r *CartRepository) DeleteAllItems(ctx context.Context, cartID string) error {
	return r.items.DeleteAll(ctx, cartID)
}

func (r *CartRepository) refs(ctx context.Context, cartID, productID string) (*firestore.DocumentRef, *firestore.DocumentRef, error) {
	itemRef, err := r.items.Doc(ctx, productID, cartID)
	if err != nil {
		return nil, nil, err
	}
	productRef, err := r.products.Doc(ctx, productID)
	if err != nil {
		return nil, nil, err
	}
	return itemRef, productRef, nil
}

// productLookupError keeps a missing product distinct from a missing cart row: callers treat
// it as a failed write rather than ItemNotFound.
func productLookupError(productID string, err error) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("product %s does not exist", productID)
	}
	return err
}

func toDomainCartItem(doc pfirestore.Document[cartItemDocument]) domain.CartItem {
	productID := doc.Data.ProductID
	if productID == "" {
		productID = doc.ID
	}
	return domain.CartItem{
		ID:        doc.ID,
		ProductID: productID,
		Quantity:  doc.Data.Quantity,
		Product:   domain.ProductSnapshot{ID: productID},
		AddedAt:   doc.Data.AddedAt.UTC(),
		UpdatedAt: doc.Data.UpdatedAt.UTC(),
	}
}
