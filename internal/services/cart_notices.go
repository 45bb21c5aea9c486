package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chobo-shop/api/internal/domain"
)

type noticeKey struct{}

type noticeBuffer struct {
	mu      sync.Mutex
	notices []Notice
}

// WithNoticeRecorder returns a context that collects the cart notices emitted while serving a request.
func WithNoticeRecorder(ctx context.Context) context.Context {
	return context.WithValue(ctx, noticeKey{}, &noticeBuffer{})
}

// RecordedNotices returns the notices collected on ctx so far.
func RecordedNotices(ctx context.Context) []Notice {
	buf, ok := ctx.Value(noticeKey{}).(*noticeBuffer)
	if !ok {
		return nil
	}
	buf.mu.Lock()
	defer buf.mu.Unlock()
	out := make([]Notice, len(buf.notices))
	copy(out, buf.notices)
	return out
}

// ContextNotifier appends notices to the recorder carried by the context, then forwards them to Next.
type ContextNotifier struct {
	Next CartNotifier
}

// Notify implements CartNotifier.
func (n ContextNotifier) Notify(ctx context.Context, userID string, notice Notice) {
	if buf, ok := ctx.Value(noticeKey{}).(*noticeBuffer); ok {
		buf.mu.Lock()
		buf.notices = append(buf.notices, notice)
		buf.mu.Unlock()
	}
	if n.Next != nil {
		n.Next.Notify(ctx, userID, notice)
	}
}

// LogNotifier writes notices to the structured event log.
type LogNotifier struct {
	Logger func(context.Context, string, map[string]any)
}

// Notify implements CartNotifier.
func (n LogNotifier) Notify(ctx context.Context, userID string, notice Notice) {
	if n.Logger == nil {
		return
	}
	n.Logger(ctx, "cart.notice", map[string]any{
		"userID":  userID,
		"level":   string(notice.Level),
		"message": notice.Message,
	})
}

type discardNotifier struct{}

func (discardNotifier) Notify(context.Context, string, Notice) {}

var cartSuccessMessages = map[string]string{
	cartOpAddItem:        "Added to cart",
	cartOpUpdateQuantity: "Cart updated",
	cartOpRemoveItem:     "Removed from cart",
	cartOpClear:          "Cart cleared",
	cartOpRemoveOrdered:  "Ordered items removed from cart",
	cartOpReload:         "Cart refreshed",
}

func cartNotice(op string, err error) Notice {
	if err == nil {
		return Notice{Level: domain.NoticeSuccess, Message: cartSuccessMessages[op]}
	}
	return Notice{Level: domain.NoticeError, Message: cartFailureMessage(err)}
}

func cartFailureMessage(err error) string {
	var remote *CartRemoteError
	switch {
	case errors.Is(err, ErrCartUnauthenticated):
		return "Please sign in to use your cart"
	case errors.Is(err, ErrNoActiveCart):
		return "Your cart is not available yet"
	case errors.Is(err, ErrCartItemNotFound):
		return "That item is no longer in your cart"
	case errors.Is(err, errCartQuantityLimit):
		return fmt.Sprintf("You can add at most %d of each item", maxCartItemQuantity)
	case errors.Is(err, ErrCartInvalidInput):
		return "Quantity must be at least 1"
	case errors.Is(err, ErrCartClosed):
		return "Your cart session has ended"
	case errors.As(err, &remote) && remote.Err != nil:
		return "Could not update your cart: " + remote.Err.Error()
	default:
		return "Could not update your cart"
	}
}
