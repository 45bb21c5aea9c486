package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode"

	"github.com/microcosm-cc/bluemonday"

	"github.com/chobo-shop/api/internal/repositories"
)

const (
	maxProfileFieldLength = 120
	maxAddressLineLength  = 200
)

var (
	// ErrUserInvalidInput indicates the supplied profile or address data is invalid.
	ErrUserInvalidInput = errors.New("user service: invalid input")
	// ErrUserNotFound indicates the address does not exist.
	ErrUserNotFound = errors.New("user service: not found")
	// ErrUserUnavailable indicates the store could not serve the request.
	ErrUserUnavailable = errors.New("user service: unavailable")

	errUserProfilesRequired  = errors.New("user service: profile repository is required")
	errUserAddressesRequired = errors.New("user service: address repository is required")
)

// UserServiceDeps wires the profile and address repositories.
type UserServiceDeps struct {
	Profiles  repositories.ProfileRepository
	Addresses repositories.AddressRepository
	Clock     func() time.Time
	Logger    func(context.Context, string, map[string]any)
}

type userService struct {
	profiles  repositories.ProfileRepository
	addresses repositories.AddressRepository
	now       func() time.Time
	logger    func(context.Context, string, map[string]any)
	policy    *bluemonday.Policy
}

// NewUserService constructs the profile and address service.
func NewUserService(deps UserServiceDeps) (UserService, error) {
	if deps.Profiles == nil {
		return nil, errUserProfilesRequired
	}
	if deps.Addresses == nil {
		return nil, errUserAddressesRequired
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &userService{
		profiles:  deps.Profiles,
		addresses: deps.Addresses,
		now:       func() time.Time { return clock().UTC() },
		logger:    logger,
		policy:    bluemonday.StrictPolicy(),
	}, nil
}

// GetProfile returns the stored profile, or a blank one seeded from the identity when none exists yet.
func (s *userService) GetProfile(ctx context.Context, user AuthUser) (Profile, error) {
	userID := strings.TrimSpace(user.ID)
	if userID == "" {
		return Profile{}, ErrCartUnauthenticated
	}
	profile, err := s.profiles.Get(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return Profile{ID: userID, Email: user.Email}, nil
		}
		s.logger(ctx, "user.profile_get_failed", map[string]any{"userID": userID, "error": err})
		return Profile{}, translateUserError(err)
	}
	if profile.Email == "" {
		profile.Email = user.Email
	}
	return profile, nil
}

func (s *userService) UpdateProfile(ctx context.Context, cmd UpdateProfileCommand) (Profile, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Profile{}, ErrCartUnauthenticated
	}
	phone := s.clean(cmd.Phone, maxProfileFieldLength)
	if !validPhone(phone) {
		return Profile{}, fmt.Errorf("%w: phone", ErrUserInvalidInput)
	}

	profile := Profile{
		ID:        userID,
		Email:     strings.TrimSpace(cmd.Email),
		FirstName: s.clean(cmd.FirstName, maxProfileFieldLength),
		LastName:  s.clean(cmd.LastName, maxProfileFieldLength),
		Phone:     phone,
		Address:   s.clean(cmd.Address, maxAddressLineLength),
		City:      s.clean(cmd.City, maxProfileFieldLength),
		Country:   s.clean(cmd.Country, maxProfileFieldLength),
		UpdatedAt: s.now(),
	}
	saved, err := s.profiles.Upsert(ctx, profile)
	if err != nil {
		s.logger(ctx, "user.profile_update_failed", map[string]any{"userID": userID, "error": err})
		return Profile{}, translateUserError(err)
	}
	return saved, nil
}

func (s *userService) ListAddresses(ctx context.Context, userID string) ([]Address, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrCartUnauthenticated
	}
	addresses, err := s.addresses.List(ctx, userID)
	if err != nil {
		return nil, translateUserError(err)
	}
	if addresses == nil {
		addresses = []Address{}
	}
	return addresses, nil
}

func (s *userService) AddAddress(ctx context.Context, cmd AddAddressCommand) (Address, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Address{}, ErrCartUnauthenticated
	}
	addr := Address{
		UserID:    userID,
		Address:   s.clean(cmd.Address, maxAddressLineLength),
		City:      s.clean(cmd.City, maxProfileFieldLength),
		Country:   s.clean(cmd.Country, maxProfileFieldLength),
		IsDefault: cmd.IsDefault,
		CreatedAt: s.now(),
	}
	var missing []string
	if addr.Address == "" {
		missing = append(missing, "address")
	}
	if addr.City == "" {
		missing = append(missing, "city")
	}
	if addr.Country == "" {
		missing = append(missing, "country")
	}
	if len(missing) > 0 {
		return Address{}, fmt.Errorf("%w: missing %s", ErrUserInvalidInput, strings.Join(missing, ", "))
	}

	saved, err := s.addresses.Insert(ctx, addr)
	if err != nil {
		s.logger(ctx, "user.address_insert_failed", map[string]any{"userID": userID, "error": err})
		return Address{}, translateUserError(err)
	}
	return saved, nil
}

func (s *userService) DeleteAddress(ctx context.Context, userID, addressID string) error {
	userID, addressID = strings.TrimSpace(userID), strings.TrimSpace(addressID)
	if userID == "" {
		return ErrCartUnauthenticated
	}
	if addressID == "" {
		return ErrUserNotFound
	}
	return translateUserError(s.addresses.Delete(ctx, userID, addressID))
}

func (s *userService) SetDefaultAddress(ctx context.Context, userID, addressID string) error {
	userID, addressID = strings.TrimSpace(userID), strings.TrimSpace(addressID)
	if userID == "" {
		return ErrCartUnauthenticated
	}
	if addressID == "" {
		return ErrUserNotFound
	}
	return translateUserError(s.addresses.SetDefault(ctx, userID, addressID))
}

// clean strips markup and control characters and bounds the length in runes.
func (s *userService) clean(value string, limit int) string {
	value = html.UnescapeString(s.policy.Sanitize(value))
	value = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, value)
	return truncateRunes(strings.Join(strings.Fields(value), " "), limit)
}

func validPhone(phone string) bool {
	if phone == "" {
		return true
	}
	digits := 0
	for _, r := range phone {
		switch {
		case unicode.IsDigit(r):
			digits++
		case strings.ContainsRune("+-() .", r):
		default:
			return false
		}
	}
	return digits >= 6
}

func translateUserError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if isRepoNotFound(err) {
		return ErrUserNotFound
	}
	return errors.Join(ErrUserUnavailable, err)
}
