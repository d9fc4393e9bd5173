package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Compile-time check that PGStore implements VectorStore.
var _ VectorStore = (*PGStore)(nil)

// PGStore is a VectorStore backed by Postgres with the pgvector extension.
// Intended for hosted deployments where the corpus outgrows the SQLite
// linear scan; the ivfflat index makes search sublinear.
type PGStore struct {
	pool  *pgxpool.Pool
	table string
	dim   int
}

// PGConfig configures the Postgres vector backend.
type PGConfig struct {
	ConnString string
	Table      string
	VectorDim  int
}

// NewPGStore connects to Postgres, ensures the pgvector extension, table,
// and index exist, and returns the store.
func NewPGStore(ctx context.Context, cfg PGConfig) (*PGStore, error) {
	if cfg.Table == "" {
		cfg.Table = "knowledge_vectors"
	}
	if cfg.VectorDim <= 0 {
		cfg.VectorDim = 768
	}

	pool, err := pgxpool.New(ctx, cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	s := &PGStore{pool: pool, table: cfg.Table, dim: cfg.VectorDim}
	if err := s.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PGStore) initialize(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("creating vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL,
			source_type TEXT NOT NULL,
			text_chunk TEXT NOT NULL,
			embedding vector(%d),
			frameworks TEXT NOT NULL DEFAULT '[]',
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.table, s.dim)
	if _, err := s.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("creating table %s: %w", s.table, err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`, s.table, s.table)
	if _, err := s.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("creating vector index: %w", err)
	}

	return nil
}

// Close releases the connection pool.
func (s *PGStore) Close() {
	s.pool.Close()
}

// Insert adds records in a single transaction.
func (s *PGStore) Insert(ctx context.Context, records []Record) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, source_id, source_type, text_chunk, embedding, frameworks, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, s.table)

	for _, r := range records {
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		frameworks := r.Frameworks
		if frameworks == "" {
			frameworks = "[]"
		}
		metadata := r.Metadata
		if metadata == "" {
			metadata = "{}"
		}
		if _, err := tx.Exec(ctx, stmt,
			r.ID, r.SourceID, r.SourceType, r.TextChunk,
			pgvector.NewVector(r.Embedding), frameworks, metadata, createdAt,
		); err != nil {
			return fmt.Errorf("inserting record %s: %w", r.ID, err)
		}
	}

	return tx.Commit(ctx)
}

// Search runs cosine-similarity search via the pgvector operator, applying
// the filters and minimum score in SQL.
func (s *PGStore) Search(ctx context.Context, vector []float32, topK int, minScore float32, filter Filter) ([]ScoredRecord, error) {
	if topK <= 0 {
		return nil, nil
	}

	var (
		conds []string
		args  []any
	)
	args = append(args, pgvector.NewVector(vector))

	if len(filter.SourceTypes) > 0 {
		args = append(args, filter.SourceTypes)
		conds = append(conds, fmt.Sprintf("source_type = ANY($%d)", len(args)))
	}
	if len(filter.Frameworks) > 0 {
		var ors []string
		for _, fw := range filter.Frameworks {
			args = append(args, `%"`+fw+`"%`)
			ors = append(ors, fmt.Sprintf("frameworks LIKE $%d", len(args)))
		}
		conds = append(conds, "("+strings.Join(ors, " OR ")+")")
	}
	args = append(args, minScore)
	conds = append(conds, fmt.Sprintf("1 - (embedding <=> $1) >= $%d", len(args)))

	args = append(args, topK)
	query := fmt.Sprintf(`
		SELECT id, source_id, source_type, text_chunk, embedding, frameworks, metadata, created_at,
			1 - (embedding <=> $1) AS score
		FROM %s
		WHERE %s
		ORDER BY embedding <=> $1
		LIMIT $%d`, s.table, strings.Join(conds, " AND "), len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("searching vectors: %w", err)
	}
	defer rows.Close()

	var results []ScoredRecord
	for rows.Next() {
		var (
			r     Record
			vec   pgvector.Vector
			score float64
		)
		if err := rows.Scan(&r.ID, &r.SourceID, &r.SourceType, &r.TextChunk, &vec, &r.Frameworks, &r.Metadata, &r.CreatedAt, &score); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		r.Embedding = vec.Slice()
		results = append(results, ScoredRecord{Record: r, Score: float32(score)})
	}
	return results, rows.Err()
}

// DeleteBySource removes every record for a content item.
func (s *PGStore) DeleteBySource(ctx context.Context, sourceID string) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE source_id = $1`, s.table), sourceID)
	return err
}

// Count returns the number of stored records.
func (s *PGStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)).Scan(&count)
	return count, err
}
