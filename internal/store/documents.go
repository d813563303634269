package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/didi/gendry/builder"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"docqa/internal/domain"
	"docqa/internal/embedding"
	"docqa/internal/logger"
)

var documentColumns = []string{
	"id", "content_hash", "filename", "file_size", "file_type", "processed_at",
	"total_chunks", "total_chars", "language", "summary", "embedding_model",
}

var documentSelect = "SELECT " + strings.Join(documentColumns, ", ") + " FROM documents"

// IsCached reports whether a document with this content hash exists.
func (s *Store) IsCached(ctx context.Context, hash string) (bool, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, s.db.Rebind("SELECT COUNT(*) FROM documents WHERE content_hash = ?"), hash); err != nil {
		return false, err
	}
	return n > 0, nil
}

// Save writes the document and its chunks in one transaction and returns the
// new document id. TotalChunks is taken from len(chunks).
func (s *Store) Save(ctx context.Context, doc *domain.DocumentRecord, chunks []string, embeddings [][]float32) (int64, error) {
	return s.save(ctx, doc, chunks, embeddings, false)
}

// Replace is Save that first drops any document with the same content hash.
// The old record survives if anything in the transaction fails.
func (s *Store) Replace(ctx context.Context, doc *domain.DocumentRecord, chunks []string, embeddings [][]float32) (int64, error) {
	return s.save(ctx, doc, chunks, embeddings, true)
}

func (s *Store) save(ctx context.Context, doc *domain.DocumentRecord, chunks []string, embeddings [][]float32, replace bool) (int64, error) {
	if len(chunks) != len(embeddings) {
		return 0, fmt.Errorf("save %s: %d chunks but %d embeddings", doc.ContentHash, len(chunks), len(embeddings))
	}
	if doc.ProcessedAt.IsZero() {
		doc.ProcessedAt = s.now()
	}
	doc.ProcessedAt = doc.ProcessedAt.UTC()
	doc.TotalChunks = len(chunks)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var existing []int64
	if err := tx.SelectContext(ctx, &existing, s.db.Rebind("SELECT id FROM documents WHERE content_hash = ?"), doc.ContentHash); err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		if !replace {
			return 0, fmt.Errorf("save %s: %w", doc.ContentHash, domain.ErrDuplicateHash)
		}
		if err := deleteDocument(ctx, tx, existing[0]); err != nil {
			return 0, err
		}
	}

	var id int64
	err = tx.QueryRowxContext(ctx, s.db.Rebind(`
		INSERT INTO documents (content_hash, filename, file_size, file_type, processed_at,
			total_chunks, total_chars, language, summary, embedding_model)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`), doc.ContentHash, doc.Filename, doc.FileSize, doc.FileType, doc.ProcessedAt,
		doc.TotalChunks, doc.TotalChars, doc.Language, doc.Summary, doc.EmbeddingModel,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("save %s: %w", doc.ContentHash, domain.ErrDuplicateHash)
		}
		return 0, fmt.Errorf("insert document: %w", err)
	}

	stmt, err := tx.PreparexContext(ctx, s.db.Rebind(
		"INSERT INTO chunks (document_id, chunk_index, text, embedding_bytes) VALUES (?, ?, ?, ?)"))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	for i, text := range chunks {
		if _, err := stmt.ExecContext(ctx, id, i, text, embedding.MarshalVector(embeddings[i])); err != nil {
			return 0, fmt.Errorf("insert chunk %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("save %s: %w", doc.ContentHash, domain.ErrDuplicateHash)
		}
		return 0, err
	}
	doc.ID = id
	logger.FromContext(ctx).Debug("document saved",
		zap.String("content_hash", doc.ContentHash),
		zap.Int64("document_id", id),
		zap.Int("chunks", len(chunks)),
	)
	return id, nil
}

// Load returns the document with this hash and its chunks ordered by index.
func (s *Store) Load(ctx context.Context, hash string) (*domain.StoredDocument, error) {
	var doc domain.DocumentRecord
	err := s.db.GetContext(ctx, &doc, s.db.Rebind(documentSelect+" WHERE content_hash = ?"), hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", hash, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	byDoc, err := s.loadChunks(ctx, []int64{doc.ID})
	if err != nil {
		return nil, err
	}
	return &domain.StoredDocument{Document: doc, Chunks: byDoc[doc.ID]}, nil
}

// LoadMany loads the documents with the given hashes. Unknown hashes are skipped.
func (s *Store) LoadMany(ctx context.Context, hashes []string) ([]domain.StoredDocument, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(documentSelect+" WHERE content_hash IN (?) ORDER BY id", hashes)
	if err != nil {
		return nil, err
	}
	var docs []domain.DocumentRecord
	if err := s.db.SelectContext(ctx, &docs, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return s.attachChunks(ctx, docs)
}

// LoadAll loads every stored document with its chunks, oldest first.
func (s *Store) LoadAll(ctx context.Context) ([]domain.StoredDocument, error) {
	var docs []domain.DocumentRecord
	if err := s.db.SelectContext(ctx, &docs, documentSelect+" ORDER BY id"); err != nil {
		return nil, err
	}
	return s.attachChunks(ctx, docs)
}

func (s *Store) attachChunks(ctx context.Context, docs []domain.DocumentRecord) ([]domain.StoredDocument, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	ids := make([]int64, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	byDoc, err := s.loadChunks(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]domain.StoredDocument, len(docs))
	for i, d := range docs {
		out[i] = domain.StoredDocument{Document: d, Chunks: byDoc[d.ID]}
	}
	return out, nil
}

func (s *Store) loadChunks(ctx context.Context, docIDs []int64) (map[int64][]domain.ChunkRecord, error) {
	query, args, err := sqlx.In(`
		SELECT id, document_id, chunk_index, text, embedding_bytes
		FROM chunks
		WHERE document_id IN (?)
		ORDER BY document_id, chunk_index
	`, docIDs)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64][]domain.ChunkRecord, len(docIDs))
	for rows.Next() {
		var (
			c    domain.ChunkRecord
			blob []byte
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Text, &blob); err != nil {
			return nil, err
		}
		if c.Embedding, err = embedding.UnmarshalVector(blob); err != nil {
			return nil, fmt.Errorf("chunk %d: %w", c.ID, err)
		}
		out[c.DocumentID] = append(out[c.DocumentID], c)
	}
	return out, rows.Err()
}

// Delete removes a document and its chunks.
func (s *Store) Delete(ctx context.Context, hash string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	var id int64
	err = tx.GetContext(ctx, &id, s.db.Rebind("SELECT id FROM documents WHERE content_hash = ?"), hash)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("document %s: %w", hash, domain.ErrNotFound)
	}
	if err != nil {
		return err
	}
	if err := deleteDocument(ctx, tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

func deleteDocument(ctx context.Context, tx *sqlx.Tx, id int64) error {
	if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM chunks WHERE document_id = ?"), id); err != nil {
		return fmt.Errorf("delete chunks of document %d: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM documents WHERE id = ?"), id); err != nil {
		return fmt.Errorf("delete document %d: %w", id, err)
	}
	return nil
}

func (s *Store) UpdateSummary(ctx context.Context, hash, summary string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind("UPDATE documents SET summary = ? WHERE content_hash = ?"), summary, hash)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("document %s: %w", hash, domain.ErrNotFound)
	}
	return nil
}

// Stats aggregates over all documents. The average is rounded to two decimals.
func (s *Store) Stats(ctx context.Context) (*domain.Stats, error) {
	var row struct {
		Docs   int64   `db:"docs"`
		Chunks int64   `db:"chunks"`
		Chars  int64   `db:"chars"`
		Avg    float64 `db:"avg_chunks"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT
			COUNT(*) AS docs,
			COALESCE(SUM(total_chunks), 0) AS chunks,
			COALESCE(SUM(total_chars), 0) AS chars,
			COALESCE(AVG(total_chunks), 0) AS avg_chunks
		FROM documents
	`)
	if err != nil {
		return nil, err
	}
	return &domain.Stats{
		TotalDocuments:       row.Docs,
		TotalChunks:          row.Chunks,
		TotalCharacters:      row.Chars,
		AvgChunksPerDocument: math.Round(row.Avg*100) / 100,
	}, nil
}

// Cleanup removes documents processed more than olderThan ago, deleting
// their chunks first. It returns the number of documents removed.
func (s *Store) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().Add(-olderThan).UTC()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, s.db.Rebind(`
		DELETE FROM chunks
		WHERE document_id IN (SELECT id FROM documents WHERE processed_at < ?)
	`), cutoff); err != nil {
		return 0, fmt.Errorf("delete expired chunks: %w", err)
	}
	res, err := tx.ExecContext(ctx, s.db.Rebind("DELETE FROM documents WHERE processed_at < ?"), cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired documents: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	logger.FromContext(ctx).Info("cache cleanup finished", zap.Time("cutoff", cutoff), zap.Int64("removed", n))
	return n, nil
}

// ListFilter narrows ListDocuments. A zero Limit means 50.
type ListFilter struct {
	FileType string
	Offset   uint
	Limit    uint
}

// ListDocuments pages through document records, newest first.
func (s *Store) ListDocuments(ctx context.Context, f ListFilter) ([]domain.DocumentRecord, error) {
	limit := f.Limit
	if limit == 0 {
		limit = 50
	}
	where := map[string]interface{}{
		"_orderby": "processed_at desc",
		"_limit":   []uint{f.Offset, limit},
	}
	if f.FileType != "" {
		where["file_type"] = f.FileType
	}
	query, args, err := builder.BuildSelect("documents", where, documentColumns)
	if err != nil {
		return nil, err
	}
	query, args = s.finalize(query, args)
	var docs []domain.DocumentRecord
	if err := s.db.SelectContext(ctx, &docs, query, args...); err != nil {
		return nil, err
	}
	return docs, nil
}

// ListUnsummarized returns up to limit documents whose summary is still NULL.
func (s *Store) ListUnsummarized(ctx context.Context, limit int) ([]domain.DocumentRecord, error) {
	var docs []domain.DocumentRecord
	err := s.db.SelectContext(ctx, &docs, s.db.Rebind(documentSelect+" WHERE summary IS NULL ORDER BY id LIMIT ?"), limit)
	return docs, err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
