// Package vectorstore keeps embedded schema documents in named collections
// and answers cosine similarity searches over them.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

const DistanceCosine = "cosine"

var (
	ErrCollectionNotFound = errors.New("vector collection not found")
	ErrDimensionMismatch  = errors.New("vector dimension mismatch")
)

type Point struct {
	ID         string
	Collection string
	Vector     []float32
	Payload    map[string]any
	// Document is the text that was embedded.
	Document string
}

type ScoredPoint struct {
	Point
	Score float64
}

type Collection struct {
	Name      string
	Dimension int
	Distance  string
	Points    int64
	CreatedAt time.Time
}

type Store interface {
	// EnsureCollection creates the collection when missing and reports
	// whether it did.
	EnsureCollection(ctx context.Context, name string, dimension int) (bool, error)
	Upsert(ctx context.Context, points []Point) error
	Search(ctx context.Context, collection string, vector []float32, k int) ([]ScoredPoint, error)
	ListCollections(ctx context.Context) ([]Collection, error)
}

// ValidatePoints checks that every point targets collection and carries a
// vector of dimension values.
func ValidatePoints(points []Point, collection string, dimension int) error {
	for _, point := range points {
		if point.ID == "" {
			return fmt.Errorf("point id is required")
		}
		if point.Collection != collection {
			return fmt.Errorf("point %s targets collection %q, want %q", point.ID, point.Collection, collection)
		}
		if len(point.Vector) != dimension {
			return fmt.Errorf("%w: point %s has %d values, collection %q has %d", ErrDimensionMismatch, point.ID, len(point.Vector), collection, dimension)
		}
	}
	return nil
}

func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
