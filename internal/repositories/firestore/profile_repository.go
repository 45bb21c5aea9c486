package firestore

import (
	"context"
	"errors"
	"time"

	"github.com/chobo-shop/api/internal/domain"
	pfirestore "github.com/chobo-shop/api/internal/platform/firestore"
)

const profileCollection = "profiles"

type profileDocument struct {
	Email     string    `firestore:"email,omitempty"`
	FirstName string    `firestore:"firstName"`
	LastName  string    `firestore:"lastName"`
	Phone     string    `firestore:"phone"`
	Address   string    `firestore:"address"`
	City      string    `firestore:"city"`
	Country   string    `firestore:"country"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// ProfileRepository stores one profile document per user.
type ProfileRepository struct {
	profiles *pfirestore.Collection[profileDocument]
	clock    func() time.Time
}

// NewProfileRepository constructs a Firestore-backed profile repository.
func NewProfileRepository(provider *pfirestore.Provider) (*ProfileRepository, error) {
	if provider == nil {
		return nil, errors.New("profile repository requires firestore provider")
	}
	return &ProfileRepository{
		profiles: pfirestore.NewCollection[profileDocument](provider, profileCollection),
		clock:    time.Now,
	}, nil
}

// Get loads the profile or returns a not-found repository error.
func (r *ProfileRepository) Get(ctx context.Context, userID string) (domain.Profile, error) {
	doc, err := r.profiles.Get(ctx, userID)
	if err != nil {
		return domain.Profile{}, err
	}
	return domain.Profile{
		ID:        doc.ID,
		Email:     doc.Data.Email,
		FirstName: doc.Data.FirstName,
		LastName:  doc.Data.LastName,
		Phone:     doc.Data.Phone,
		Address:   doc.Data.Address,
		City:      doc.Data.City,
		Country:   doc.Data.Country,
		UpdatedAt: doc.Data.UpdatedAt.UTC(),
	}, nil
}

// Upsert replaces the profile document and stamps UpdatedAt.
func (r *ProfileRepository) Upsert(ctx context.Context, profile domain.Profile) (domain.Profile, error) {
	profile.UpdatedAt = r.clock().UTC()
	err := r.profiles.Set(ctx, profile.ID, profileDocument{
		Email:     profile.Email,
		FirstName: profile.FirstName,
		LastName:  profile.LastName,
		Phone:     profile.Phone,
		Address:   profile.Address,
		City:      profile.City,
		Country:   profile.Country,
		UpdatedAt: profile.UpdatedAt,
	})
	if err != nil {
		return domain.Profile{}, err
	}
	return profile, nil
}
