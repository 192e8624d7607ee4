package schemaindex

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/sqlchat/sqlchat/internal/llm/llmtest"
	"github.com/sqlchat/sqlchat/internal/query"
	"github.com/sqlchat/sqlchat/internal/vectorstore/memory"
)

const salesSchema = `[
  {"table": "customer", "description": "People who bought products", "columns": ["customer_id", "customer_name"]},
  {"table": "purchase", "description": "One row per purchase", "columns": ["purchase_id", "price"]}
]`

func TestIndexJSONCreatesCollectionAndUpserts(t *testing.T) {
	embedder := &llmtest.Client{Dimension: 4}
	store := memory.NewStore()
	indexer := NewIndexer(embedder, store, nil)
	counter := 0
	indexer.NewID = func() string {
		counter++
		return "id-" + strconv.Itoa(counter)
	}

	summary, err := indexer.IndexJSON(context.Background(), strings.NewReader(salesSchema), "sales_db")
	if err != nil {
		t.Fatalf("IndexJSON() error = %v", err)
	}
	if !summary.Created || summary.Points != 2 || summary.Dimension != 4 {
		t.Fatalf("summary = %#v", summary)
	}
	if embedder.EmbedCalls[0][0] != dimensionSample {
		t.Fatalf("first embed call = %v", embedder.EmbedCalls[0])
	}

	results, err := store.Search(context.Background(), "sales_db", make4(1), 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d", len(results))
	}
	for _, result := range results {
		if result.Payload["table"] == nil {
			t.Fatalf("payload = %#v", result.Payload)
		}
		if !strings.HasPrefix(result.Document, `{"columns":`) {
			t.Fatalf("document = %q", result.Document)
		}
	}

	again, err := indexer.IndexJSON(context.Background(), strings.NewReader(salesSchema), "sales_db")
	if err != nil {
		t.Fatalf("second IndexJSON() error = %v", err)
	}
	if again.Created {
		t.Fatal("collection should already exist")
	}
}

func TestIndexJSONRejectsNonArray(t *testing.T) {
	indexer := NewIndexer(&llmtest.Client{}, memory.NewStore(), nil)
	if _, err := indexer.IndexJSON(context.Background(), strings.NewReader(`{"table":"customer"}`), "c"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestIndexJSONBatchesEmbeddings(t *testing.T) {
	embedder := &llmtest.Client{}
	indexer := NewIndexer(embedder, memory.NewStore(), nil)
	indexer.BatchSize = 1

	if _, err := indexer.IndexJSON(context.Background(), strings.NewReader(salesSchema), "c"); err != nil {
		t.Fatalf("IndexJSON() error = %v", err)
	}
	if len(embedder.EmbedCalls) != 3 {
		t.Fatalf("embed calls = %d, want dimension sample + 2 batches", len(embedder.EmbedCalls))
	}
}

func TestIndexJSONPropagatesEmbedError(t *testing.T) {
	indexer := NewIndexer(&llmtest.Client{EmbedErr: errors.New("ollama down")}, memory.NewStore(), nil)
	if _, err := indexer.IndexJSON(context.Background(), strings.NewReader(salesSchema), "c"); err == nil {
		t.Fatal("expected error")
	}
}

func TestTrainingPlanGroupsByTable(t *testing.T) {
	plan := TrainingPlan([]query.Column{
		{Database: "sales_db", Schema: "public", Table: "customer", Name: "customer_id", DataType: "uuid"},
		{Database: "sales_db", Schema: "public", Table: "purchase", Name: "purchase_id", DataType: "uuid"},
		{Database: "sales_db", Schema: "public", Table: "customer", Name: "email_address", DataType: "character varying"},
	})
	if len(plan) != 2 {
		t.Fatalf("plan items = %d", len(plan))
	}
	if plan[0].Table != "customer" || plan[1].Table != "purchase" {
		t.Fatalf("plan order = %s, %s", plan[0].Table, plan[1].Table)
	}
	if !strings.HasPrefix(plan[0].Document, "The following columns are in the customer table in the sales_db database:") {
		t.Fatalf("document = %q", plan[0].Document)
	}
	if !strings.Contains(plan[0].Document, "| email_address | character varying |") {
		t.Fatalf("document missing column: %q", plan[0].Document)
	}
	if plan[0].Name() != "sales_db.public.customer" {
		t.Fatalf("Name() = %q", plan[0].Name())
	}
}

func TestWithoutTablesDropsServiceTables(t *testing.T) {
	columns := []query.Column{
		{Schema: "public", Table: "customer", Name: "customer_id"},
		{Schema: "public", Table: "vector_point", Name: "embedding"},
		{Schema: "public", Table: "purchase", Name: "purchase_id"},
	}
	kept := WithoutTables(columns, "vector_point", "query_audit")
	if len(kept) != 2 || kept[0].Table != "customer" || kept[1].Table != "purchase" {
		t.Fatalf("kept = %#v", kept)
	}
	if got := WithoutTables(columns); len(got) != 3 {
		t.Fatalf("WithoutTables() with no names = %d columns", len(got))
	}
}

func TestTrainUsesStableIDs(t *testing.T) {
	store := memory.NewStore()
	indexer := NewIndexer(&llmtest.Client{}, store, nil)
	plan := TrainingPlan([]query.Column{{Database: "sales_db", Schema: "public", Table: "customer", Name: "customer_id", DataType: "uuid"}})

	for i := 0; i < 2; i++ {
		if _, err := indexer.Train(context.Background(), plan, "sales_db"); err != nil {
			t.Fatalf("Train() error = %v", err)
		}
	}
	collections, err := store.ListCollections(context.Background())
	if err != nil {
		t.Fatalf("ListCollections() error = %v", err)
	}
	if collections[0].Points != 1 {
		t.Fatalf("points = %d, want 1 after retraining", collections[0].Points)
	}
}

func make4(v float32) []float32 {
	return []float32{v, v, v, v}
}
