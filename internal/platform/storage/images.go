package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
)

const defaultImageURLTTL = 15 * time.Minute

var errNoSigner = errors.New("storage: signer is required")

// ImageURLSigner turns product image object paths into V4 signed GET URLs. Absolute http(s)
// URLs pass through untouched so catalogs can mix hosted and bucket images.
type ImageURLSigner struct {
	bucket string
	signer Signer
	ttl    time.Duration
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]signedURL
}

type signedURL struct {
	url       string
	expiresAt time.Time
}

// ImageOption customises ImageURLSigner.
type ImageOption func(*ImageURLSigner)

// WithImageURLTTL sets how long generated URLs stay valid.
func WithImageURLTTL(ttl time.Duration) ImageOption {
	return func(s *ImageURLSigner) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock injects a custom clock.
func WithClock(clock func() time.Time) ImageOption {
	return func(s *ImageURLSigner) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewImageURLSigner builds a signer for objects in bucket.
func NewImageURLSigner(bucket string, signer Signer, opts ...ImageOption) (*ImageURLSigner, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage: bucket name is required")
	}
	if signer == nil || strings.TrimSpace(signer.Email()) == "" {
		return nil, errNoSigner
	}
	s := &ImageURLSigner{
		bucket: bucket,
		signer: signer,
		ttl:    defaultImageURLTTL,
		now:    time.Now,
		cache:  make(map[string]signedURL),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// ResolveImageURL returns a browser-usable URL for ref. Refs may be "gs://bucket/object", a bare
// object name in the configured bucket, or an absolute http(s) URL. Signed URLs are reused until
// half of their lifetime has passed.
func (s *ImageURLSigner) ResolveImageURL(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", nil
	}
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref, nil
	}

	bucket, object, err := s.locate(ref)
	if err != nil {
		return "", err
	}

	key := bucket + "/" + object
	now := s.now()
	s.mu.Lock()
	cached, ok := s.cache[key]
	s.mu.Unlock()
	if ok && now.Add(s.ttl/2).Before(cached.expiresAt) {
		return cached.url, nil
	}

	expires := now.Add(s.ttl)
	signed, err := storage.SignedURL(bucket, object, &storage.SignedURLOptions{
		GoogleAccessID: s.signer.Email(),
		Scheme:         storage.SigningSchemeV4,
		Method:         "GET",
		Expires:        expires,
		SignBytes: func(payload []byte) ([]byte, error) {
			return s.signer.SignBytes(ctx, payload)
		},
	})
	if err != nil {
		return "", fmt.Errorf("storage: sign %s: %w", key, err)
	}

	s.mu.Lock()
	s.cache[key] = signedURL{url: signed, expiresAt: expires}
	s.mu.Unlock()
	return signed, nil
}

func (s *ImageURLSigner) locate(ref string) (string, string, error) {
	if strings.HasPrefix(ref, "gs://") {
		u, err := url.Parse(ref)
		if err != nil {
			return "", "", fmt.Errorf("storage: invalid object reference %q: %w", ref, err)
		}
		object := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || object == "" {
			return "", "", fmt.Errorf("storage: invalid object reference %q", ref)
		}
		return u.Host, object, nil
	}
	return s.bucket, strings.TrimPrefix(ref, "/"), nil
}
