package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/sqlchat/sqlchat/internal/vectorstore"
)

func TestStoreSearchOrdersByCosine(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	created, err := store.EnsureCollection(ctx, "sales_db", 2)
	if err != nil || !created {
		t.Fatalf("EnsureCollection() = %v, %v", created, err)
	}
	created, err = store.EnsureCollection(ctx, "sales_db", 2)
	if err != nil || created {
		t.Fatalf("second EnsureCollection() = %v, %v", created, err)
	}

	err = store.Upsert(ctx, []vectorstore.Point{
		{ID: "customer", Collection: "sales_db", Vector: []float32{1, 0}, Document: "customer table"},
		{ID: "purchase", Collection: "sales_db", Vector: []float32{0, 1}, Document: "purchase table"},
		{ID: "mixed", Collection: "sales_db", Vector: []float32{1, 1}},
	})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	results, err := store.Search(ctx, "sales_db", []float32{0.1, 0.9}, 2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d", len(results))
	}
	if results[0].ID != "purchase" || results[1].ID != "mixed" {
		t.Fatalf("order = %s, %s", results[0].ID, results[1].ID)
	}

	collections, err := store.ListCollections(ctx)
	if err != nil {
		t.Fatalf("ListCollections() error = %v", err)
	}
	if len(collections) != 1 || collections[0].Points != 3 || collections[0].Distance != vectorstore.DistanceCosine {
		t.Fatalf("collections = %#v", collections)
	}
}

func TestStoreRejectsMismatches(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	if _, err := store.EnsureCollection(ctx, "c", 2); err != nil {
		t.Fatalf("EnsureCollection() error = %v", err)
	}
	if _, err := store.EnsureCollection(ctx, "c", 3); !errors.Is(err, vectorstore.ErrDimensionMismatch) {
		t.Fatalf("EnsureCollection() error = %v", err)
	}
	if err := store.Upsert(ctx, []vectorstore.Point{{ID: "x", Collection: "missing", Vector: []float32{1, 2}}}); !errors.Is(err, vectorstore.ErrCollectionNotFound) {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := store.Upsert(ctx, []vectorstore.Point{{ID: "x", Collection: "c", Vector: []float32{1}}}); !errors.Is(err, vectorstore.ErrDimensionMismatch) {
		t.Fatalf("Upsert() error = %v", err)
	}
	if _, err := store.Search(ctx, "missing", []float32{1, 2}, 1); !errors.Is(err, vectorstore.ErrCollectionNotFound) {
		t.Fatalf("Search() error = %v", err)
	}
}

func TestUpsertReplacesExistingPoint(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	if _, err := store.EnsureCollection(ctx, "c", 2); err != nil {
		t.Fatalf("EnsureCollection() error = %v", err)
	}
	for _, doc := range []string{"v1", "v2"} {
		if err := store.Upsert(ctx, []vectorstore.Point{{ID: "p", Collection: "c", Vector: []float32{1, 0}, Document: doc}}); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
	}
	results, err := store.Search(ctx, "c", []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 || results[0].Document != "v2" {
		t.Fatalf("results = %#v", results)
	}
}
