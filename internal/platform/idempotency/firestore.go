package idempotency

import (
	"context"
	"errors"
	"net/http"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/chobo-shop/api/internal/platform/firestore"
)

const defaultCollection = "idempotency_keys"

type entryDocument struct {
	Key         string              `firestore:"key"`
	Fingerprint string              `firestore:"fingerprint"`
	Done        bool                `firestore:"done"`
	Status      int                 `firestore:"status"`
	Header      map[string][]string `firestore:"header"`
	Body        []byte              `firestore:"body"`
	UpdatedAt   time.Time           `firestore:"updatedAt"`
	ExpiresAt   time.Time           `firestore:"expiresAt"`
}

func (d entryDocument) entry() Entry {
	state := StateInFlight
	if d.Done {
		state = StateDone
	}
	return Entry{
		Key:         d.Key,
		Fingerprint: d.Fingerprint,
		State:       state,
		Status:      d.Status,
		Header:      http.Header(d.Header),
		Body:        d.Body,
		ExpiresAt:   d.ExpiresAt,
	}
}

// FirestoreStore shares claims across API instances through a Firestore collection.
// Expired documents are removed by a Firestore TTL policy on expiresAt.
type FirestoreStore struct {
	entries *pfirestore.Collection[entryDocument]
	tx      func(ctx context.Context, fn pfirestore.TxFunc, opts ...pfirestore.TxOption) error
}

// NewFirestoreStore binds the store to the provider's idempotency_keys collection.
func NewFirestoreStore(provider *pfirestore.Provider) (*FirestoreStore, error) {
	if provider == nil {
		return nil, errors.New("idempotency: firestore provider is required")
	}
	return &FirestoreStore{
		entries: pfirestore.NewCollection[entryDocument](provider, defaultCollection),
		tx:      provider.RunTransaction,
	}, nil
}

func (s *FirestoreStore) Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Entry, error) {
	ref, err := s.entries.Doc(ctx, documentID(key))
	if err != nil {
		return Entry{}, err
	}
	var out Entry
	err = s.tx(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil {
			var doc entryDocument
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
			existing := doc.entry()
			if !expired(existing, now) {
				if existing.Fingerprint != fingerprint {
					return ErrKeyReused
				}
				out = existing
				return nil
			}
		}
		doc := entryDocument{Key: key, Fingerprint: fingerprint, UpdatedAt: now, ExpiresAt: now.Add(ttl)}
		out = Entry{Key: key, Fingerprint: fingerprint, State: StateNew, ExpiresAt: doc.ExpiresAt}
		return tx.Set(ref, doc)
	})
	if errors.Is(err, ErrKeyReused) {
		return Entry{}, ErrKeyReused
	}
	if err != nil {
		return Entry{}, pfirestore.WrapError("idempotency.claim", err)
	}
	return out, nil
}

func (s *FirestoreStore) Complete(ctx context.Context, entry Entry, now time.Time, ttl time.Duration) error {
	doc := entryDocument{
		Key:         entry.Key,
		Fingerprint: entry.Fingerprint,
		Done:        true,
		Status:      entry.Status,
		Header:      replayableHeaders(entry.Header),
		Body:        entry.Body,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	return s.entries.Set(ctx, documentID(entry.Key), doc)
}

func (s *FirestoreStore) Forget(ctx context.Context, key string) error {
	return s.entries.Delete(ctx, documentID(key))
}
