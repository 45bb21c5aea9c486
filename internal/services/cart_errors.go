package services

import (
	"errors"
	"fmt"

	"github.com/chobo-shop/api/internal/repositories"
)

var (
	// ErrCartUnauthenticated indicates a cart operation was attempted without a signed-in user.
	ErrCartUnauthenticated = errors.New("cart service: unauthenticated")
	// ErrNoActiveCart indicates the user has no cart record yet.
	ErrNoActiveCart = errors.New("cart service: no active cart")
	// ErrCartItemNotFound indicates the targeted product is not in the cart.
	ErrCartItemNotFound = errors.New("cart service: item not found")
	// ErrCartRemoteFailure indicates the remote store rejected or failed the call.
	ErrCartRemoteFailure = errors.New("cart service: remote failure")
	// ErrCartInvalidInput indicates the caller supplied invalid input.
	ErrCartInvalidInput = errors.New("cart service: invalid input")
	// ErrCartClosed indicates the coordinator was torn down.
	ErrCartClosed = errors.New("cart service: closed")

	errCartQuantityLimit = fmt.Errorf("%w: at most %d units per product", ErrCartInvalidInput, maxCartItemQuantity)
)

// CartRemoteError carries the store failure behind ErrCartRemoteFailure.
type CartRemoteError struct {
	Op  string
	Err error
}

func (e *CartRemoteError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("cart service: %s failed", e.Op)
	}
	return fmt.Sprintf("cart service: %s failed: %v", e.Op, e.Err)
}

// Unwrap exposes both the sentinel and the underlying store error.
func (e *CartRemoteError) Unwrap() []error {
	return []error{ErrCartRemoteFailure, e.Err}
}

// Unavailable reports whether the store classified the failure as transient.
func (e *CartRemoteError) Unavailable() bool {
	var repoErr repositories.RepositoryError
	if errors.As(e.Err, &repoErr) {
		return repoErr.IsUnavailable()
	}
	return false
}

func cartRemoteError(op string, err error) error {
	if err == nil {
		return nil
	}
	var remote *CartRemoteError
	if errors.As(err, &remote) {
		return err
	}
	return &CartRemoteError{Op: op, Err: err}
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
