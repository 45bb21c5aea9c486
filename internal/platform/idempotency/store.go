package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL is how long a completed response stays replayable.
const DefaultTTL = 24 * time.Hour

// State reports what the store knew about a key when it was claimed.
type State int

const (
	// StateNew means the caller owns the key and must run the request.
	StateNew State = iota
	// StateInFlight means another request holding the key has not finished yet.
	StateInFlight
	// StateDone means a response was stored and should be replayed.
	StateDone
)

// Entry is the stored outcome of a request made under an idempotency key.
type Entry struct {
	Key         string
	Fingerprint string
	State       State
	Status      int
	Header      http.Header
	Body        []byte
	ExpiresAt   time.Time
}

// Store persists claims and the responses produced under them.
type Store interface {
	Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Entry, error)
	Complete(ctx context.Context, entry Entry, now time.Time, ttl time.Duration) error
	Forget(ctx context.Context, key string) error
}

// ErrKeyReused is returned when a key is presented again with a different request.
var ErrKeyReused = errors.New("idempotency: key reused for a different request")

func documentID(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

func fingerprintOf(parts ...string) string {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func expired(entry Entry, now time.Time) bool {
	return !entry.ExpiresAt.IsZero() && !now.Before(entry.ExpiresAt)
}

// replayableHeaders keeps the headers worth returning on a replay.
func replayableHeaders(src http.Header) http.Header {
	out := http.Header{}
	for _, name := range []string{"Content-Type", "Location", "Cache-Control"} {
		if values := src.Values(name); len(values) > 0 {
			out[name] = append([]string(nil), values...)
		}
	}
	return out
}
