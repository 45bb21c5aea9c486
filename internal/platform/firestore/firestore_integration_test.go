//go:build integration

package firestore_test

import (
	"context"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	pconfig "github.com/chobo-shop/api/internal/platform/config"
	pfirestore "github.com/chobo-shop/api/internal/platform/firestore"
)

type sampleLine struct {
	Name     string `firestore:"name"`
	Quantity int    `firestore:"quantity"`
}

func emulatorProvider(t *testing.T) *pfirestore.Provider {
	t.Helper()
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: "test-project", EmulatorHost: host})
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})
	return provider
}

func TestCollectionRoundTripIntegration(t *testing.T) {
	provider := emulatorProvider(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	lines := pfirestore.NewCollection[sampleLine](provider, "samples/%s/lines")
	parent := "parent-" + time.Now().UTC().Format("150405.000000")

	if err := lines.Set(ctx, "line-1", sampleLine{Name: "alpha", Quantity: 1}, parent); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := lines.Set(ctx, "line-2", sampleLine{Name: "beta", Quantity: 2}, parent); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	doc, err := lines.Get(ctx, "line-1", parent)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if doc.Data.Name != "alpha" || doc.Data.Quantity != 1 {
		t.Fatalf("unexpected data: %#v", doc.Data)
	}

	if err := lines.Update(ctx, "line-1", []firestore.Update{{Path: "quantity", Value: firestore.Increment(4)}}, parent); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	docs, err := lines.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("name", firestore.Asc)
	}, parent)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(docs) != 2 || docs[0].Data.Quantity != 5 {
		t.Fatalf("unexpected query result: %#v", docs)
	}

	if err := lines.DeleteAll(ctx, parent); err != nil {
		t.Fatalf("delete all failed: %v", err)
	}
	_, err = lines.Get(ctx, "line-1", parent)
	if err == nil {
		t.Fatalf("expected not found after delete all")
	}
	if e, ok := err.(interface{ IsNotFound() bool }); !ok || !e.IsNotFound() {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestProviderPingIntegration(t *testing.T) {
	provider := emulatorProvider(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := provider.Ping(ctx); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}
