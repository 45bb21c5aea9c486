package firestore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/oklog/ulid/v2"

	"github.com/chobo-shop/api/internal/domain"
	pfirestore "github.com/chobo-shop/api/internal/platform/firestore"
)

const addressCollectionPattern = "users/%s/addresses"

type addressDocument struct {
	Address   string    `firestore:"address"`
	City      string    `firestore:"city"`
	Country   string    `firestore:"country"`
	IsDefault bool      `firestore:"isDefault"`
	CreatedAt time.Time `firestore:"createdAt"`
}

// AddressRepository persists saved addresses below the owning user document.
type AddressRepository struct {
	provider  *pfirestore.Provider
	addresses *pfirestore.Collection[addressDocument]
	clock     func() time.Time
}

// NewAddressRepository constructs a Firestore-backed address repository.
func NewAddressRepository(provider *pfirestore.Provider) (*AddressRepository, error) {
	if provider == nil {
		return nil, errors.New("address repository requires firestore provider")
	}
	return &AddressRepository{
		provider:  provider,
		addresses: pfirestore.NewCollection[addressDocument](provider, addressCollectionPattern),
		clock:     time.Now,
	}, nil
}

// List returns the default address first, then the rest newest first.
func (r *AddressRepository) List(ctx context.Context, userID string) ([]domain.Address, error) {
	docs, err := r.addresses.Query(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Address, 0, len(docs))
	for _, doc := range docs {
		out = append(out, toDomainAddress(userID, doc))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsDefault != out[j].IsDefault {
			return out[i].IsDefault
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Insert creates the address. A default address clears the flag on the others atomically.
func (r *AddressRepository) Insert(ctx context.Context, addr domain.Address) (domain.Address, error) {
	coll, err := r.addresses.Ref(ctx, addr.UserID)
	if err != nil {
		return domain.Address{}, err
	}
	if strings.TrimSpace(addr.ID) == "" {
		addr.ID = ulid.Make().String()
	}
	if addr.CreatedAt.IsZero() {
		addr.CreatedAt = r.clock().UTC()
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var defaults []*firestore.DocumentSnapshot
		if addr.IsDefault {
			var err error
			defaults, err = tx.Documents(coll.Where("isDefault", "==", true)).GetAll()
			if err != nil {
				return err
			}
		}
		for _, snap := range defaults {
			if err := tx.Update(snap.Ref, []firestore.Update{{Path: "isDefault", Value: false}}); err != nil {
				return err
			}
		}
		return tx.Create(coll.Doc(addr.ID), addressDocument{
			Address:   addr.Address,
			City:      addr.City,
			Country:   addr.Country,
			IsDefault: addr.IsDefault,
			CreatedAt: addr.CreatedAt.UTC(),
		})
	})
	if err != nil {
		return domain.Address{}, err
	}
	return addr, nil
}

// Delete removes the address; a missing address is reported as not found.
func (r *AddressRepository) Delete(ctx context.Context, userID, addressID string) error {
	ref, err := r.addresses.Doc(ctx, addressID, userID)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx, firestore.Exists); err != nil {
		return pfirestore.WrapError("addresses.delete", err)
	}
	return nil
}

// SetDefault marks addressID as the only default address of the user.
func (r *AddressRepository) SetDefault(ctx context.Context, userID, addressID string) error {
	coll, err := r.addresses.Ref(ctx, userID)
	if err != nil {
		return err
	}
	target, err := r.addresses.Doc(ctx, addressID, userID)
	if err != nil {
		return err
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(target); err != nil {
			return err
		}
		defaults, err := tx.Documents(coll.Where("isDefault", "==", true)).GetAll()
		if err != nil {
			return err
		}
		for _, snap := range defaults {
			if snap.Ref.ID == target.ID {
				continue
			}
			if err := tx.Update(snap.Ref, []firestore.Update{{Path: "isDefault", Value: false}}); err != nil {
				return err
			}
		}
		return tx.Update(target, []firestore.Update{{Path: "isDefault", Value: true}})
	})
}

func toDomainAddress(userID string, doc pfirestore.Document[addressDocument]) domain.Address {
	return domain.Address{
		ID:        doc.ID,
		UserID:    userID,
		Address:   doc.Data.Address,
		City:      doc.Data.City,
		Country:   doc.Data.Country,
		IsDefault: doc.Data.IsDefault,
		CreatedAt: doc.Data.CreatedAt.UTC(),
	}
}
