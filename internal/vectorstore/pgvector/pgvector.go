// Package pgvector stores chunk vectors in PostgreSQL using the pgvector extension.
package pgvector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"regexp"

	"github.com/pgvector/pgvector-go"

	"docqa/internal/domain"
	"docqa/internal/vectorstore"
)

var _ vectorstore.Storage = (*Storage)(nil)

var tableNameRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

const defaultTable = "chunk_vectors"

// Storage keeps the vectors of one scope. Scopes share a table and never see
// each other's rows.
type Storage struct {
	db        *sql.DB
	table     string
	scope     string
	dimension int
}

func NewStorage(db *sql.DB, table string) (*Storage, error) {
	if table == "" {
		table = defaultTable
	}
	if !tableNameRe.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Storage{db: db, table: table}, nil
}

// WithScope returns a Storage over the same table restricted to scope.
func (s *Storage) WithScope(scope string) *Storage {
	c := *s
	c.scope = scope
	return &c
}

func (s *Storage) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.dimension = dimension
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			scope TEXT NOT NULL DEFAULT '',
			chunk_id TEXT NOT NULL,
			document_id TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			text TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			embedding vector(%d) NOT NULL,
			UNIQUE (scope, chunk_id)
		)`, s.table, dimension),
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("init %s: %w", s.table, err)
		}
	}
	return nil
}

func (s *Storage) Upsert(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return errors.New("chunks and vectors length mismatch")
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (scope, chunk_id, document_id, chunk_index, text, source, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (scope, chunk_id) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			chunk_index = EXCLUDED.chunk_index,
			text = EXCLUDED.text,
			source = EXCLUDED.source,
			embedding = EXCLUDED.embedding
	`, s.table)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for i, c := range chunks {
		if len(vectors[i]) != s.dimension {
			return errors.New("vector dimension mismatch")
		}
		if _, err := tx.ExecContext(ctx, query,
			s.scope, c.ChunkID, c.DocumentID, c.Index, c.Text, c.Source,
			pgvector.NewVector(vectors[i]),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Search ranks by cosine distance; the score is 1 - distance. Ties fall back
// to insertion order.
func (s *Storage) Search(ctx context.Context, vector []float32, topK int) ([]domain.SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	query := fmt.Sprintf(`
		SELECT document_id, chunk_id, chunk_index, text, source, 1 - (embedding <=> $1) AS score
		FROM %s
		WHERE scope = $3
		ORDER BY embedding <=> $1, id
		LIMIT $2
	`, s.table)
	rows, err := s.db.QueryContext(ctx, query, pgvector.NewVector(vector), topK, s.scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []domain.SearchResult
	for rows.Next() {
		var (
			r     domain.SearchResult
			score float64
		)
		if err := rows.Scan(&r.Chunk.DocumentID, &r.Chunk.ChunkID, &r.Chunk.Index, &r.Chunk.Text, &r.Chunk.Source, &score); err != nil {
			return nil, err
		}
		// cosine distance against a zero vector is NaN
		if !math.IsNaN(score) {
			r.Score = score
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *Storage) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE scope = $1`, s.table), s.scope).Scan(&n)
	return n, err
}

// Clear removes the rows of this scope only.
func (s *Storage) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE scope = $1`, s.table), s.scope)
	return err
}

// Vector reads back the stored embedding for a chunk.
func (s *Storage) Vector(ctx context.Context, chunkID string) ([]float32, error) {
	var v pgvector.Vector
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT embedding FROM %s WHERE scope = $1 AND chunk_id = $2`, s.table), s.scope, chunkID).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return v.Slice(), nil
}
