package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
)

// Document represents a strongly typed Firestore document with metadata timestamps.
type Document[T any] struct {
	ID         string
	Data       T
	CreateTime time.Time
	UpdateTime time.Time
}

// QueryBuilder customises Firestore queries before execution.
type QueryBuilder func(query firestore.Query) firestore.Query

// Collection provides typed access to a collection whose path may be nested below parent
// documents. The path pattern uses %s placeholders for parent IDs, e.g. "carts/%s/items".
type Collection[T any] struct {
	provider *Provider
	pattern  string
	name     string
}

// NewCollection binds a typed helper to the collection path pattern.
func NewCollection[T any](provider *Provider, pattern string) *Collection[T] {
	pattern = strings.Trim(strings.TrimSpace(pattern), "/")
	name := pattern
	if idx := strings.LastIndex(pattern, "/"); idx >= 0 {
		name = pattern[idx+1:]
	}
	return &Collection[T]{provider: provider, pattern: pattern, name: name}
}

// Ref resolves the collection reference for the supplied parent IDs.
func (c *Collection[T]) Ref(ctx context.Context, parents ...string) (*firestore.CollectionRef, error) {
	if c == nil || c.provider == nil {
		return nil, WrapError("collection", errors.New("firestore: provider is nil"))
	}
	if c.pattern == "" {
		return nil, WrapError("collection", errors.New("firestore: collection path is required"))
	}
	args := make([]any, 0, len(parents))
	for _, parent := range parents {
		parent = strings.TrimSpace(parent)
		if parent == "" || strings.Contains(parent, "/") {
			return nil, WrapError(c.op("collection"), fmt.Errorf("firestore: invalid parent id %q", parent))
		}
		args = append(args, parent)
	}
	path := c.pattern
	if len(args) > 0 {
		path = fmt.Sprintf(c.pattern, args...)
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(path), nil
}

// Doc resolves a document reference within the collection.
func (c *Collection[T]) Doc(ctx context.Context, id string, parents ...string) (*firestore.DocumentRef, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, WrapError(c.op("document"), errors.New("firestore: document id is required"))
	}
	coll, err := c.Ref(ctx, parents...)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

// Get fetches and decodes the document by ID.
func (c *Collection[T]) Get(ctx context.Context, id string, parents ...string) (Document[T], error) {
	doc, err := c.Doc(ctx, id, parents...)
	if err != nil {
		return Document[T]{}, err
	}
	snap, err := doc.Get(ctx)
	if err != nil {
		return Document[T]{}, WrapError(c.op("get"), err)
	}
	return Decode[T](snap)
}

// Set writes the value under the provided document ID.
func (c *Collection[T]) Set(ctx context.Context, id string, value T, parents ...string) error {
	doc, err := c.Doc(ctx, id, parents...)
	if err != nil {
		return err
	}
	if _, err := doc.Set(ctx, value); err != nil {
		return WrapError(c.op("set"), err)
	}
	return nil
}

// Update applies partial updates to an existing document.
func (c *Collection[T]) Update(ctx context.Context, id string, updates []firestore.Update, parents ...string) error {
	doc, err := c.Doc(ctx, id, parents...)
	if err != nil {
		return err
	}
	if _, err := doc.Update(ctx, updates, firestore.Exists); err != nil {
		return WrapError(c.op("update"), err)
	}
	return nil
}

// Delete removes the document. Deleting a missing document is not an error.
func (c *Collection[T]) Delete(ctx context.Context, id string, parents ...string) error {
	doc, err := c.Doc(ctx, id, parents...)
	if err != nil {
		return err
	}
	if _, err := doc.Delete(ctx); err != nil {
		return WrapError(c.op("delete"), err)
	}
	return nil
}

// Query executes a collection query and returns the decoded documents.
func (c *Collection[T]) Query(ctx context.Context, build QueryBuilder, parents ...string) ([]Document[T], error) {
	coll, err := c.Ref(ctx, parents...)
	if err != nil {
		return nil, err
	}
	query := coll.Query
	if build != nil {
		query = build(query)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var docs []Document[T]
	for {
		snap, err := iter.Next()
		if isIteratorDone(err) {
			break
		}
		if err != nil {
			return nil, WrapError(c.op("query"), err)
		}
		decoded, err := Decode[T](snap)
		if err != nil {
			return nil, err
		}
		docs = append(docs, decoded)
	}
	return docs, nil
}

// DeleteAll removes every document in the collection with a bulk writer.
func (c *Collection[T]) DeleteAll(ctx context.Context, parents ...string) error {
	coll, err := c.Ref(ctx, parents...)
	if err != nil {
		return err
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return err
	}

	refs, err := coll.DocumentRefs(ctx).GetAll()
	if err != nil {
		return WrapError(c.op("list"), err)
	}
	if len(refs) == 0 {
		return nil
	}

	writer := client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(refs))
	for _, ref := range refs {
		job, err := writer.Delete(ref)
		if err != nil {
			writer.End()
			return WrapError(c.op("delete_all"), err)
		}
		jobs = append(jobs, job)
	}
	writer.End()

	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return WrapError(c.op("delete_all"), err)
		}
	}
	return nil
}

func (c *Collection[T]) op(action string) string {
	name := "firestore"
	if c != nil && c.name != "" {
		name = c.name
	}
	return fmt.Sprintf("%s.%s", name, strings.ToLower(action))
}

// Decode hydrates the typed document from a snapshot.
func Decode[T any](snap *firestore.DocumentSnapshot) (Document[T], error) {
	var data T
	if err := snap.DataTo(&data); err != nil {
		return Document[T]{}, fmt.Errorf("firestore: decode document %s: %w", snap.Ref.ID, err)
	}
	return Document[T]{
		ID:         snap.Ref.ID,
		Data:       data,
		CreateTime: snap.CreateTime,
		UpdateTime: snap.UpdateTime,
	}, nil
}
