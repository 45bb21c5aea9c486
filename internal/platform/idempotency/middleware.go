package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chobo-shop/api/internal/platform/auth"
	"github.com/chobo-shop/api/internal/platform/httpx"
	"github.com/chobo-shop/api/internal/platform/requestctx"
)

const (
	// HeaderKey carries the client-chosen idempotency key.
	HeaderKey = "Idempotency-Key"
	// HeaderReplay marks responses served from the store.
	HeaderReplay = "X-Idempotent-Replay"

	maxKeyLength = 255

	// DefaultMaxBodyBytes bounds the request body buffered for fingerprinting.
	DefaultMaxBodyBytes int64 = 64 * 1024
)

type options struct {
	ttl      time.Duration
	clock    func() time.Time
	required bool
	maxBody  int64
}

// Option customises the middleware.
type Option func(*options)

// WithTTL sets how long completed responses are replayable.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithMaxBodyBytes overrides the largest request body the middleware buffers.
func WithMaxBodyBytes(limit int64) Option {
	return func(o *options) {
		if limit > 0 {
			o.maxBody = limit
		}
	}
}

// RequireKey rejects requests that do not send an Idempotency-Key.
func RequireKey() Option {
	return func(o *options) { o.required = true }
}

// Middleware replays the stored response when a request is retried with the same
// Idempotency-Key. Keys are scoped to the signed-in user. Server errors are not stored
// so the client may retry them.
func Middleware(store Store, opts ...Option) func(http.Handler) http.Handler {
	cfg := options{ttl: DefaultTTL, clock: time.Now, maxBody: DefaultMaxBodyBytes}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := strings.TrimSpace(r.Header.Get(HeaderKey))
			if key == "" {
				if cfg.required {
					httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", "Idempotency-Key header is required", http.StatusBadRequest))
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxKeyLength {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_idempotency_key", "Idempotency-Key is too long", http.StatusBadRequest))
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, cfg.maxBody+1))
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
				return
			}
			if int64(len(body)) > cfg.maxBody {
				httpx.WriteError(ctx, w, httpx.NewError("request_too_large", "request body is too large", http.StatusRequestEntityTooLarge))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			requester := "anonymous"
			if identity, ok := auth.IdentityFromContext(ctx); ok && identity.UID != "" {
				requester = identity.UID
			}
			scoped := requester + "|" + key
			fingerprint := fingerprintOf(r.Method, r.URL.Path, r.URL.RawQuery, requester, string(body))
			logger := requestctx.Logger(ctx).With(zap.String("idempotencyKey", key))

			entry, err := store.Claim(ctx, scoped, fingerprint, cfg.clock().UTC(), cfg.ttl)
			switch {
			case errors.Is(err, ErrKeyReused):
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_conflict", "Idempotency-Key was already used for a different request", http.StatusUnprocessableEntity))
				return
			case err != nil:
				logger.Error("idempotency claim failed", zap.Error(err))
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_unavailable", "unable to process Idempotency-Key", http.StatusServiceUnavailable))
				return
			}

			switch entry.State {
			case StateDone:
				replay(w, entry)
				return
			case StateInFlight:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "a request with this Idempotency-Key is still being processed", http.StatusConflict))
				return
			}

			release := func() {
				if err := store.Forget(context.WithoutCancel(ctx), scoped); err != nil {
					logger.Warn("idempotency release failed", zap.Error(err))
				}
			}

			// A panicking handler must not leave the key claimed until it expires.
			rec := &recorder{header: http.Header{}}
			served := false
			defer func() {
				if !served {
					release()
				}
			}()
			next.ServeHTTP(rec, r)
			served = true

			if rec.status() >= http.StatusInternalServerError {
				release()
			} else {
				entry.Status = rec.status()
				entry.Header = rec.header
				entry.Body = rec.body.Bytes()
				if err := store.Complete(ctx, entry, cfg.clock().UTC(), cfg.ttl); err != nil {
					logger.Error("idempotency save failed", zap.Error(err))
				}
			}
			rec.flush(w)
		})
	}
}

func replay(w http.ResponseWriter, entry Entry) {
	for name, values := range entry.Header {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.Header().Set(HeaderReplay, "true")
	status := entry.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(entry.Body)
}

// recorder buffers the downstream response so it can be stored before it is sent.
type recorder struct {
	header http.Header
	code   int
	body   bytes.Buffer
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) WriteHeader(code int) {
	if r.code == 0 {
		r.code = code
	}
}

func (r *recorder) Write(p []byte) (int, error) {
	if r.code == 0 {
		r.code = http.StatusOK
	}
	return r.body.Write(p)
}

func (r *recorder) status() int {
	if r.code == 0 {
		return http.StatusOK
	}
	return r.code
}

func (r *recorder) flush(w http.ResponseWriter) {
	for name, values := range r.header {
		w.Header()[name] = values
	}
	w.WriteHeader(r.status())
	_, _ = w.Write(r.body.Bytes())
}
