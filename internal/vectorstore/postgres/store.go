package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/sqlchat/sqlchat/internal/vectorstore"
)

// Store keeps collections in the vector_collection registry and points in
// vector_point, searched with pgvector's cosine distance operator.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) EnsureCollection(ctx context.Context, name string, dimension int) (bool, error) {
	if name == "" {
		return false, fmt.Errorf("collection name is required")
	}
	if dimension <= 0 {
		return false, fmt.Errorf("dimension must be > 0")
	}

	existing, err := s.dimension(ctx, s.db, name)
	switch {
	case err == nil:
		if existing != dimension {
			return false, fmt.Errorf("%w: collection %q has %d, got %d", vectorstore.ErrDimensionMismatch, name, existing, dimension)
		}
		return false, nil
	case !errors.Is(err, vectorstore.ErrCollectionNotFound):
		return false, err
	}

	result, err := s.db.ExecContext(ctx, `
INSERT INTO vector_collection (name, dimension, distance)
VALUES ($1, $2, $3)
ON CONFLICT (name) DO NOTHING`, name, dimension, vectorstore.DistanceCosine)
	if err != nil {
		return false, fmt.Errorf("create collection %q: %w", name, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create collection %q rows affected: %w", name, err)
	}
	return affected == 1, nil
}

func (s *Store) Upsert(ctx context.Context, points []vectorstore.Point) error {
	if len(points) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	dimensions := map[string]int{}
	for _, point := range points {
		dimension, ok := dimensions[point.Collection]
		if !ok {
			dimension, err = s.dimension(ctx, tx, point.Collection)
			if err != nil {
				return err
			}
			dimensions[point.Collection] = dimension
		}
		if err := vectorstore.ValidatePoints([]vectorstore.Point{point}, point.Collection, dimension); err != nil {
			return err
		}

		payload, err := json.Marshal(point.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload for point %s: %w", point.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO vector_point (collection, point_id, embedding, payload, document)
VALUES ($1, $2, $3, $4::jsonb, $5)
ON CONFLICT (collection, point_id)
DO UPDATE SET embedding = EXCLUDED.embedding, payload = EXCLUDED.payload, document = EXCLUDED.document, updated_at = NOW()`,
			point.Collection, point.ID, pgvector.NewVector(point.Vector), string(payload), point.Document,
		); err != nil {
			return fmt.Errorf("upsert point %s: %w", point.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert tx: %w", err)
	}
	return nil
}

func (s *Store) Search(ctx context.Context, collection string, vector []float32, k int) ([]vectorstore.ScoredPoint, error) {
	dimension, err := s.dimension(ctx, s.db, collection)
	if err != nil {
		return nil, err
	}
	if len(vector) != dimension {
		return nil, fmt.Errorf("%w: query has %d values, collection %q has %d", vectorstore.ErrDimensionMismatch, len(vector), collection, dimension)
	}
	if k <= 0 {
		k = 10
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT point_id, payload, document, 1 - (embedding <=> $2) AS score
FROM vector_point
WHERE collection = $1
ORDER BY embedding <=> $2
LIMIT $3`, collection, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("search collection %q: %w", collection, err)
	}
	defer func() { _ = rows.Close() }()

	var results []vectorstore.ScoredPoint
	for rows.Next() {
		var (
			point   vectorstore.ScoredPoint
			payload []byte
		)
		if err := rows.Scan(&point.ID, &payload, &point.Document, &point.Score); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		point.Collection = collection
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &point.Payload); err != nil {
				return nil, fmt.Errorf("decode payload for point %s: %w", point.ID, err)
			}
		}
		results = append(results, point)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search results: %w", err)
	}
	return results, nil
}

func (s *Store) ListCollections(ctx context.Context) ([]vectorstore.Collection, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT c.name, c.dimension, c.distance, c.created_at, COUNT(p.point_id)
FROM vector_collection c
LEFT JOIN vector_point p ON p.collection = c.name
GROUP BY c.name, c.dimension, c.distance, c.created_at
ORDER BY c.name`)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var collections []vectorstore.Collection
	for rows.Next() {
		var c vectorstore.Collection
		if err := rows.Scan(&c.Name, &c.Dimension, &c.Distance, &c.CreatedAt, &c.Points); err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		collections = append(collections, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collections: %w", err)
	}
	return collections, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) dimension(ctx context.Context, q queryer, name string) (int, error) {
	var dimension int
	err := q.QueryRowContext(ctx, `SELECT dimension FROM vector_collection WHERE name = $1`, name).Scan(&dimension)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %q", vectorstore.ErrCollectionNotFound, name)
	}
	if err != nil {
		return 0, fmt.Errorf("get collection %q: %w", name, err)
	}
	return dimension, nil
}
