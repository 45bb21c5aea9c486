package idempotency

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chobo-shop/api/internal/platform/auth"
)

var fixedNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newCheckoutRequest(uid, key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(HeaderKey, key)
	}
	if uid != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid}))
	}
	return req
}

func countingHandler(calls *int, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"orderId":"order-1"}`))
	})
}

func TestMiddlewareReplaysCompletedResponse(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedNow }))(countingHandler(&calls, http.StatusCreated))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, newCheckoutRequest("user-1", "k-1", `{"notes":"x"}`))
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Empty(t, first.Header().Get(HeaderReplay))

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, newCheckoutRequest("user-1", "k-1", `{"notes":"x"}`))
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get(HeaderReplay))
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"orderId":"order-1"}`, second.Body.String())
	assert.Equal(t, 1, calls)
}

func TestMiddlewareRejectsReusedKeyWithDifferentBody(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusCreated))

	handler.ServeHTTP(httptest.NewRecorder(), newCheckoutRequest("user-1", "k-1", `{"notes":"a"}`))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newCheckoutRequest("user-1", "k-1", `{"notes":"b"}`))
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Contains(t, rr.Body.String(), "idempotency_key_conflict")
	assert.Equal(t, 1, calls)
}

func TestMiddlewareScopesKeysPerUser(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusCreated))

	handler.ServeHTTP(httptest.NewRecorder(), newCheckoutRequest("user-1", "shared", `{}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newCheckoutRequest("user-2", "shared", `{}`))

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Empty(t, rr.Header().Get(HeaderReplay))
	assert.Equal(t, 2, calls)
}

func TestMiddlewareDoesNotStoreServerErrors(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusBadGateway))

	handler.ServeHTTP(httptest.NewRecorder(), newCheckoutRequest("user-1", "k-1", `{}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newCheckoutRequest("user-1", "k-1", `{}`))

	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Equal(t, 2, calls)
}

func TestMiddlewareInFlightConflict(t *testing.T) {
	store := NewMemoryStore()
	var calls int
	handler := Middleware(store, WithClock(func() time.Time { return fixedNow }))(countingHandler(&calls, http.StatusCreated))

	req := newCheckoutRequest("user-1", "k-1", `{}`)
	fingerprint := fingerprintOf(http.MethodPost, req.URL.Path, "", "user-1", `{}`)
	_, err := store.Claim(context.Background(), "user-1|k-1", fingerprint, fixedNow, time.Hour)
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Zero(t, calls)
}

func TestMiddlewareKeyOptionalUnlessRequired(t *testing.T) {
	var calls int
	optional := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusCreated))
	rr := httptest.NewRecorder()
	optional.ServeHTTP(rr, newCheckoutRequest("user-1", "", `{}`))
	assert.Equal(t, http.StatusCreated, rr.Code)

	required := Middleware(NewMemoryStore(), RequireKey())(countingHandler(&calls, http.StatusCreated))
	rr = httptest.NewRecorder()
	required.ServeHTTP(rr, newCheckoutRequest("user-1", "", `{}`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "idempotency_key_required")
	assert.Equal(t, 1, calls)
}

func TestMemoryStoreExpiredClaimStartsOver(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	entry, err := store.Claim(ctx, "k", "fp-1", fixedNow, time.Minute)
	require.NoError(t, err)
	require.Equal(t, StateNew, entry.State)
	entry.Status = http.StatusCreated
	require.NoError(t, store.Complete(ctx, entry, fixedNow, time.Minute))

	again, err := store.Claim(ctx, "k", "fp-1", fixedNow.Add(30*time.Second), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, StateDone, again.State)

	later, err := store.Claim(ctx, "k", "fp-2", fixedNow.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, StateNew, later.State)
}

func TestMiddlewareReleasesKeyWhenHandlerPanics(t *testing.T) {
	store := NewMemoryStore()
	panicking := Middleware(store)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	assert.Panics(t, func() {
		panicking.ServeHTTP(httptest.NewRecorder(), newCheckoutRequest("user-1", "k-1", `{}`))
	})

	var calls int
	handler := Middleware(store)(countingHandler(&calls, http.StatusCreated))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newCheckoutRequest("user-1", "k-1", `{}`))
	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, 1, calls)
}

func TestMiddlewareBoundsRequestBody(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), WithMaxBodyBytes(16))(countingHandler(&calls, http.StatusCreated))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newCheckoutRequest("user-1", "k-1", `{"notes":"`+strings.Repeat("x", 64)+`"}`))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.Contains(t, rr.Body.String(), "request_too_large")
	assert.Zero(t, calls)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, newCheckoutRequest("user-1", "k-2", `{}`))
	assert.Equal(t, http.StatusCreated, rr.Code)
}
