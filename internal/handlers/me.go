package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/chobo-shop/api/internal/platform/auth"
	"github.com/chobo-shop/api/internal/platform/httpx"
	"github.com/chobo-shop/api/internal/platform/requestctx"
	"github.com/chobo-shop/api/internal/services"
)

const (
	maxProfileBodySize = 16 * 1024
	minPasswordLength  = 6
	maxPasswordLength  = 128
)

// SessionRevoker invalidates the refresh tokens of a user on sign-out.
type SessionRevoker interface {
	RevokeSessions(ctx context.Context, uid string) error
}

// PasswordChanger sets a new password for a user account.
type PasswordChanger interface {
	ChangePassword(ctx context.Context, uid, password string) error
}

// MeHandlers exposes the signed-in user's profile, saved addresses, password and sign-out.
type MeHandlers struct {
	authn     *auth.Authenticator
	users     services.UserService
	sessions  services.CartSessionManager
	revoker   SessionRevoker
	passwords PasswordChanger
}

// MeOption customises MeHandlers.
type MeOption func(*MeHandlers)

// WithMeCartSessions releases the user's cart session on sign-out.
func WithMeCartSessions(sessions services.CartSessionManager) MeOption {
	return func(h *MeHandlers) { h.sessions = sessions }
}

// WithMeSessionRevoker revokes Firebase refresh tokens on sign-out.
func WithMeSessionRevoker(revoker SessionRevoker) MeOption {
	return func(h *MeHandlers) { h.revoker = revoker }
}

// WithMePasswordChanger enables POST /me/password.
func WithMePasswordChanger(passwords PasswordChanger) MeOption {
	return func(h *MeHandlers) { h.passwords = passwords }
}

// NewMeHandlers constructs handlers enforcing Firebase authentication before invoking the user service.
func NewMeHandlers(authn *auth.Authenticator, users services.UserService, opts ...MeOption) *MeHandlers {
	h := &MeHandlers{authn: authn, users: users}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /me endpoints onto the provided router.
func (h *MeHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/profile", h.getProfile)
	r.Patch("/profile", h.updateProfile)
	r.Get("/addresses", h.listAddresses)
	r.Post("/addresses", h.addAddress)
	r.Delete("/addresses/{addressId}", h.deleteAddress)
	r.Post("/addresses/{addressId}/default", h.setDefaultAddress)
	r.Post("/password", h.changePassword)
	r.Post("/signout", h.signOut)
}

type profilePayload struct {
	ID        string `json:"id"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone"`
	Address   string `json:"address"`
	City      string `json:"city"`
	Country   string `json:"country"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

type updateProfileRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone"`
	Address   string `json:"address"`
	City      string `json:"city"`
	Country   string `json:"country"`
}

type changePasswordRequest struct {
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

type addressPayload struct {
	ID        string `json:"id"`
	Address   string `json:"address"`
	City      string `json:"city"`
	Country   string `json:"country"`
	IsDefault bool   `json:"isDefault"`
	CreatedAt string `json:"createdAt,omitempty"`
}

type addAddressRequest struct {
	Address   string `json:"address"`
	City      string `json:"city"`
	Country   string `json:"country"`
	IsDefault bool   `json:"isDefault"`
}

func (h *MeHandlers) getProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.begin(ctx, w)
	if !ok {
		return
	}
	profile, err := h.users.GetProfile(ctx, services.AuthUser{ID: identity.UID, Email: identity.Email, Locale: identity.Locale})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildProfilePayload(profile))
}

func (h *MeHandlers) updateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.begin(ctx, w)
	if !ok {
		return
	}
	var req updateProfileRequest
	if !decodeJSONBody(w, r, maxProfileBodySize, &req) {
		return
	}
	profile, err := h.users.UpdateProfile(ctx, services.UpdateProfileCommand{
		UserID:    identity.UID,
		Email:     identity.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
		Address:   req.Address,
		City:      req.City,
		Country:   req.Country,
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildProfilePayload(profile))
}

func (h *MeHandlers) listAddresses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.begin(ctx, w)
	if !ok {
		return
	}
	addresses, err := h.users.ListAddresses(ctx, identity.UID)
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	items := make([]addressPayload, 0, len(addresses))
	for _, addr := range addresses {
		items = append(items, buildAddressPayload(addr))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *MeHandlers) addAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.begin(ctx, w)
	if !ok {
		return
	}
	var req addAddressRequest
	if !decodeJSONBody(w, r, maxProfileBodySize, &req) {
		return
	}
	addr, err := h.users.AddAddress(ctx, services.AddAddressCommand{
		UserID:    identity.UID,
		Address:   req.Address,
		City:      req.City,
		Country:   req.Country,
		IsDefault: req.IsDefault,
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, buildAddressPayload(addr))
}

func (h *MeHandlers) deleteAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.begin(ctx, w)
	if !ok {
		return
	}
	if err := h.users.DeleteAddress(ctx, identity.UID, chi.URLParam(r, "addressId")); err != nil {
		writeUserError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MeHandlers) setDefaultAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.begin(ctx, w)
	if !ok {
		return
	}
	if err := h.users.SetDefaultAddress(ctx, identity.UID, chi.URLParam(r, "addressId")); err != nil {
		writeUserError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// changePassword updates the Firebase password. The user's cart session is released because
// Firebase revokes the tokens it was opened with.
func (h *MeHandlers) changePassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.passwords == nil {
		httpx.WriteError(ctx, w, httpx.NewError("password_change_unavailable", "password change is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	var req changePasswordRequest
	if !decodeJSONBody(w, r, maxProfileBodySize, &req) {
		return
	}
	length := utf8.RuneCountInString(req.NewPassword)
	switch {
	case length < minPasswordLength || length > maxPasswordLength:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_password", fmt.Sprintf("password must be %d to %d characters", minPasswordLength, maxPasswordLength), http.StatusBadRequest))
		return
	case req.NewPassword != req.ConfirmPassword:
		httpx.WriteError(ctx, w, httpx.NewError("password_mismatch", "passwords do not match", http.StatusBadRequest))
		return
	}
	if err := h.passwords.ChangePassword(ctx, identity.UID, req.NewPassword); err != nil {
		requestctx.Logger(ctx).Warn("change password failed", requestctx.UserField(identity.UID), zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("password_update_failed", "failed to update password", http.StatusBadGateway))
		return
	}
	if h.sessions != nil {
		h.sessions.Release(identity.UID)
	}
	w.WriteHeader(http.StatusNoContent)
}

// signOut drops the user's cart session and revokes refresh tokens. Revocation failures are
// logged only; the client discards its tokens regardless.
func (h *MeHandlers) signOut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if h.sessions != nil {
		h.sessions.Release(identity.UID)
	}
	if h.revoker != nil {
		if err := h.revoker.RevokeSessions(ctx, identity.UID); err != nil {
			requestctx.Logger(ctx).Warn("revoke sessions failed", requestctx.UserField(identity.UID), zap.Error(err))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MeHandlers) begin(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("user_service_unavailable", "user service is unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	return requireIdentity(ctx, w)
}

func buildProfilePayload(profile services.Profile) profilePayload {
	return profilePayload{
		ID:        profile.ID,
		Email:     profile.Email,
		FirstName: profile.FirstName,
		LastName:  profile.LastName,
		Phone:     profile.Phone,
		Address:   profile.Address,
		City:      profile.City,
		Country:   profile.Country,
		UpdatedAt: formatTime(profile.UpdatedAt, time.Time{}),
	}
}

func buildAddressPayload(addr services.Address) addressPayload {
	return addressPayload{
		ID:        addr.ID,
		Address:   addr.Address,
		City:      addr.City,
		Country:   addr.Country,
		IsDefault: addr.IsDefault,
		CreatedAt: formatTime(addr.CreatedAt, time.Time{}),
	}
}

func writeUserError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCartUnauthenticated):
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
	case errors.Is(err, services.ErrUserInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrUserNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("address_not_found", "address not found", http.StatusNotFound))
	case errors.Is(err, services.ErrUserUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("user_service_unavailable", "user service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("user_error", "failed to process profile request", http.StatusInternalServerError))
	}
}
