package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sqlchat/sqlchat/internal/vectorstore"
)

type collection struct {
	meta   vectorstore.Collection
	points map[string]vectorstore.Point
}

// Store is an in-process vector store.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
	now         func() time.Time
}

func NewStore() *Store {
	return &Store{collections: map[string]*collection{}, now: time.Now}
}

func (s *Store) EnsureCollection(_ context.Context, name string, dimension int) (bool, error) {
	if name == "" {
		return false, fmt.Errorf("collection name is required")
	}
	if dimension <= 0 {
		return false, fmt.Errorf("dimension must be > 0")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.collections[name]; ok {
		if existing.meta.Dimension != dimension {
			return false, fmt.Errorf("%w: collection %q has %d, got %d", vectorstore.ErrDimensionMismatch, name, existing.meta.Dimension, dimension)
		}
		return false, nil
	}
	s.collections[name] = &collection{
		meta: vectorstore.Collection{
			Name:      name,
			Dimension: dimension,
			Distance:  vectorstore.DistanceCosine,
			CreatedAt: s.now().UTC(),
		},
		points: map[string]vectorstore.Point{},
	}
	return true, nil
}

func (s *Store) Upsert(_ context.Context, points []vectorstore.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, point := range points {
		target, ok := s.collections[point.Collection]
		if !ok {
			return fmt.Errorf("%w: %q", vectorstore.ErrCollectionNotFound, point.Collection)
		}
		if err := vectorstore.ValidatePoints([]vectorstore.Point{point}, target.meta.Name, target.meta.Dimension); err != nil {
			return err
		}
	}
	for _, point := range points {
		point.Vector = append([]float32(nil), point.Vector...)
		s.collections[point.Collection].points[point.ID] = point
	}
	return nil
}

func (s *Store) Search(_ context.Context, name string, vector []float32, k int) ([]vectorstore.ScoredPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	target, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", vectorstore.ErrCollectionNotFound, name)
	}
	if len(vector) != target.meta.Dimension {
		return nil, fmt.Errorf("%w: query has %d values, collection %q has %d", vectorstore.ErrDimensionMismatch, len(vector), name, target.meta.Dimension)
	}

	results := make([]vectorstore.ScoredPoint, 0, len(target.points))
	for _, point := range target.points {
		results = append(results, vectorstore.ScoredPoint{
			Point: point,
			Score: vectorstore.CosineSimilarity(vector, point.Vector),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].ID < results[j].ID
		}
		return results[i].Score > results[j].Score
	})
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (s *Store) ListCollections(context.Context) ([]vectorstore.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]vectorstore.Collection, 0, len(s.collections))
	for _, c := range s.collections {
		meta := c.meta
		meta.Points = int64(len(c.points))
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
