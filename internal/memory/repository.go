package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// Repository defines memory persistence operations.
type Repository interface {
	Insert(ctx context.Context, rec *Record) error
	SearchRecent(ctx context.Context, q SearchQuery) ([]SearchResult, error)
	PruneOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// PostgresRepository implements Repository using pgx + pgvector.
type PostgresRepository struct {
	pool *pgxpool.Pool
	dims int
}

// NewPostgresRepository creates a memory repository enforcing the given
// embedding dimensionality.
func NewPostgresRepository(pool *pgxpool.Pool, dims int) *PostgresRepository {
	return &PostgresRepository{pool: pool, dims: dims}
}

func (r *PostgresRepository) Insert(ctx context.Context, rec *Record) error {
	if len(rec.Embedding) != r.dims {
		return fmt.Errorf("%w: got %d, store expects %d", ErrDimensionMismatch, len(rec.Embedding), r.dims)
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	metadata := rec.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage(`{}`)
	}

	vec := pgvector.NewVector(rec.Embedding)
	_, err := r.pool.Exec(ctx,
		`INSERT INTO memory_records (id, author, content, kind, embedding, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.Author, rec.Content, rec.Kind, vec, metadata,
	)
	if err != nil {
		return fmt.Errorf("inserting memory record: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SearchRecent(ctx context.Context, q SearchQuery) ([]SearchResult, error) {
	if len(q.Embedding) != r.dims {
		return nil, fmt.Errorf("%w: query has %d, store expects %d", ErrDimensionMismatch, len(q.Embedding), r.dims)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 5
	}
	cutoff := time.Now().UTC().Add(-q.Window)

	vec := pgvector.NewVector(q.Embedding)
	rows, err := r.pool.Query(ctx,
		`SELECT id, author, content, kind, metadata, created_at,
		        1 - (embedding <=> $1) AS similarity
		 FROM memory_records
		 WHERE created_at >= $2
		   AND 1 - (embedding <=> $1) >= $3
		   AND ($4 = '' OR kind = $4)
		   AND ($5 = '' OR author = $5)
		 ORDER BY embedding <=> $1
		 LIMIT $6`,
		vec, cutoff, q.MinSimilarity, string(q.Kind), q.Author, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("searching memory records: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var res SearchResult
		if err := rows.Scan(&res.Record.ID, &res.Record.Author, &res.Record.Content,
			&res.Record.Kind, &res.Record.Metadata, &res.Record.CreatedAt, &res.Similarity); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

func (r *PostgresRepository) PruneOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-age)
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM memory_records WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning memory records: %w", err)
	}
	return tag.RowsAffected(), nil
}
