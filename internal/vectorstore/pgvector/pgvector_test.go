package pgvector

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("DOCQA_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("DOCQA_TEST_PG_DSN not set")
	}
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	require.NoError(t, db.Ping())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNewStorageRejectsBadTable(t *testing.T) {
	_, err := NewStorage(nil, "chunks; DROP TABLE x")
	assert.Error(t, err)
	s, err := NewStorage(nil, "")
	require.NoError(t, err)
	assert.Equal(t, defaultTable, s.table)
}

func TestStorageRoundTrip(t *testing.T) {
	db := openTestDB(t)
	table := fmt.Sprintf("chunk_vectors_test_%d", time.Now().UnixNano())
	s, err := NewStorage(db, table)
	require.NoError(t, err)
	ctx := context.Background()
	t.Cleanup(func() { _, _ = db.Exec("DROP TABLE IF EXISTS " + table) })

	require.NoError(t, s.Init(ctx, 2))
	chunks := []domain.Chunk{
		{DocumentID: "h", ChunkID: "h:0", Index: 0, Text: "east", Source: "a.txt"},
		{DocumentID: "h", ChunkID: "h:1", Index: 1, Text: "north", Source: "a.txt"},
	}
	require.NoError(t, s.Upsert(ctx, chunks, [][]float32{{1, 0}, {0, 1}}))
	require.NoError(t, s.Upsert(ctx, chunks[:1], [][]float32{{1, 0}}))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	res, err := s.Search(ctx, []float32{0.9, 0.1}, 5)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "h:0", res[0].Chunk.ChunkID)
	assert.Greater(t, res[0].Score, res[1].Score)

	v, err := s.Vector(ctx, "h:1")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, v)
	_, err = s.Vector(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.Clear(ctx))
	n, _ = s.Count(ctx)
	assert.Zero(t, n)
}

func TestScopesShareTableWithoutInterference(t *testing.T) {
	db := openTestDB(t)
	table := fmt.Sprintf("chunk_vectors_scope_%d", time.Now().UnixNano())
	base, err := NewStorage(db, table)
	require.NoError(t, err)
	ctx := context.Background()
	t.Cleanup(func() { _, _ = db.Exec("DROP TABLE IF EXISTS " + table) })

	a, b := base.WithScope("session-a"), base.WithScope("session-b")
	require.NoError(t, a.Init(ctx, 2))
	require.NoError(t, b.Init(ctx, 2))
	chunk := []domain.Chunk{{DocumentID: "h", ChunkID: "h:0", Text: "east", Source: "a.txt"}}
	require.NoError(t, a.Upsert(ctx, chunk, [][]float32{{1, 0}}))
	require.NoError(t, b.Upsert(ctx, chunk, [][]float32{{0, 1}}))
	require.NoError(t, b.Upsert(ctx, []domain.Chunk{{DocumentID: "g", ChunkID: "g:0", Text: "north"}}, [][]float32{{0, 1}}))

	n, err := a.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, b.Clear(ctx))
	n, _ = b.Count(ctx)
	assert.Zero(t, n)
	res, err := a.Search(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "east", res[0].Chunk.Text)
	v, err := a.Vector(ctx, "h:0")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, v)
}
