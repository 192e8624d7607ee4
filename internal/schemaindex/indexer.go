// Package schemaindex embeds schema descriptions and stores them in a vector
// collection for retrieval during SQL generation.
package schemaindex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/sqlchat/sqlchat/internal/llm"
	"github.com/sqlchat/sqlchat/internal/observability"
	"github.com/sqlchat/sqlchat/internal/vectorstore"
)

const dimensionSample = "dummy text"

type Indexer struct {
	Embedder  llm.Embedder
	Store     vectorstore.Store
	Logger    *slog.Logger
	BatchSize int
	NewID     func() string
}

type Summary struct {
	Collection string `json:"collection"`
	Dimension  int    `json:"dimension"`
	Created    bool   `json:"created"`
	Points     int    `json:"points"`
}

func NewIndexer(embedder llm.Embedder, store vectorstore.Store, logger *slog.Logger) *Indexer {
	return &Indexer{
		Embedder:  embedder,
		Store:     store,
		Logger:    logger,
		BatchSize: 32,
		NewID:     func() string { return uuid.NewString() },
	}
}

// IndexJSON reads a JSON array of objects and stores each object, serialised
// back to JSON, as one point with the object as payload.
func (ix *Indexer) IndexJSON(ctx context.Context, reader io.Reader, collection string) (Summary, error) {
	var objects []map[string]any
	decoder := json.NewDecoder(reader)
	if err := decoder.Decode(&objects); err != nil {
		return Summary{}, fmt.Errorf("decode schema description: %w", err)
	}

	documents := make([]document, 0, len(objects))
	for i, object := range objects {
		text, err := json.Marshal(object)
		if err != nil {
			return Summary{}, fmt.Errorf("encode object %d: %w", i, err)
		}
		documents = append(documents, document{id: ix.NewID(), text: string(text), payload: object})
	}
	return ix.store(ctx, collection, documents)
}

type document struct {
	id      string
	text    string
	payload map[string]any
}

func (ix *Indexer) store(ctx context.Context, collection string, documents []document) (Summary, error) {
	if ix.Embedder == nil || ix.Store == nil {
		return Summary{}, fmt.Errorf("embedder and vector store are required")
	}
	if collection == "" {
		return Summary{}, fmt.Errorf("collection is required")
	}

	sample, err := ix.Embedder.Embed(ctx, []string{dimensionSample})
	if err != nil {
		return Summary{}, fmt.Errorf("measure embedding dimension: %w", err)
	}
	if len(sample) != 1 || len(sample[0]) == 0 {
		return Summary{}, fmt.Errorf("dimension sample returned no vector")
	}
	dimension := len(sample[0])

	created, err := ix.Store.EnsureCollection(ctx, collection, dimension)
	if err != nil {
		return Summary{}, err
	}
	if created {
		ix.log(ctx, "vector collection created", slog.String("collection", collection), slog.Int("dimension", dimension))
	}

	batchSize := ix.BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}
	stored := 0
	for start := 0; start < len(documents); start += batchSize {
		end := min(start+batchSize, len(documents))
		batch := documents[start:end]

		texts := make([]string, len(batch))
		for i, doc := range batch {
			texts[i] = doc.text
		}
		vectors, err := ix.Embedder.Embed(ctx, texts)
		if err != nil {
			return Summary{}, fmt.Errorf("embed documents %d-%d: %w", start, end-1, err)
		}
		if len(vectors) != len(batch) {
			return Summary{}, fmt.Errorf("embed documents %d-%d: got %d vectors", start, end-1, len(vectors))
		}

		points := make([]vectorstore.Point, len(batch))
		for i, doc := range batch {
			points[i] = vectorstore.Point{
				ID:         doc.id,
				Collection: collection,
				Vector:     vectors[i],
				Payload:    doc.payload,
				Document:   doc.text,
			}
		}
		if err := ix.Store.Upsert(ctx, points); err != nil {
			return Summary{}, err
		}
		stored += len(points)
		observability.AddVectorUpserts(collection, len(points))
	}

	ix.log(ctx, "vector collection indexed", slog.String("collection", collection), slog.Int("points", stored))
	return Summary{Collection: collection, Dimension: dimension, Created: created, Points: stored}, nil
}

func (ix *Indexer) log(ctx context.Context, msg string, attrs ...any) {
	if ix.Logger != nil {
		ix.Logger.InfoContext(ctx, msg, attrs...)
	}
}
