// Package rag retrieves relevant chunks for a question and composes grounded
// answers from them.
package rag

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"docqa/internal/domain"
	"docqa/internal/embedding"
	"docqa/internal/logger"
	"docqa/internal/textnorm"
	"docqa/internal/vectorstore"
)

const (
	defaultTopK = 5
	// scores at or below this are treated as no match
	minScore = 1e-9
)

// Retriever owns one vector index built from a fixed set of chunks.
type Retriever struct {
	embedder domain.Embedder
	store    vectorstore.Storage

	mu     sync.RWMutex
	chunks []domain.Chunk
}

func NewRetriever(embedder domain.Embedder, store vectorstore.Storage) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Build embeds chunks and replaces the index contents with them.
func (r *Retriever) Build(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return domain.ErrIndexEmpty
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := r.embedder.Encode(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	return r.index(ctx, chunks, vecs)
}

// BuildFromRecords indexes stored documents. Persisted embeddings are reused
// when they come from the same embedder and match its dimension; every other
// chunk is encoded again.
func (r *Retriever) BuildFromRecords(ctx context.Context, docs []domain.StoredDocument) error {
	var (
		chunks  []domain.Chunk
		vecs    [][]float32
		missing []int
	)
	dim := r.embedder.Dimension()
	for _, doc := range docs {
		reusable := doc.Document.EmbeddingModel == "" || doc.Document.EmbeddingModel == r.embedder.Name()
		for _, c := range doc.Chunks {
			chunks = append(chunks, ChunkFromRecord(doc.Document, c))
			if reusable && dim > 0 && len(c.Embedding) == dim {
				vecs = append(vecs, c.Embedding)
				continue
			}
			vecs = append(vecs, nil)
			missing = append(missing, len(chunks)-1)
		}
	}
	if len(chunks) == 0 {
		return domain.ErrIndexEmpty
	}
	if len(missing) > 0 {
		texts := make([]string, len(missing))
		for i, idx := range missing {
			texts[i] = chunks[idx].Text
		}
		fresh, err := r.embedder.Encode(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed chunks: %w", err)
		}
		for i, idx := range missing {
			vecs[idx] = fresh[i]
		}
		logger.FromContext(ctx).Info("re-encoded stored chunks",
			zap.Int("reencoded", len(missing)), zap.Int("total", len(chunks)))
	}
	return r.index(ctx, chunks, vecs)
}

func (r *Retriever) index(ctx context.Context, chunks []domain.Chunk, vecs [][]float32) error {
	if len(vecs) != len(chunks) || len(vecs) == 0 {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vecs), len(chunks))
	}
	dim := len(vecs[0])
	for i, v := range vecs {
		if len(v) != dim {
			return fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), dim)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.Init(ctx, dim); err != nil {
		return fmt.Errorf("init vector store: %w", err)
	}
	if err := r.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear vector store: %w", err)
	}
	if err := r.store.Upsert(ctx, chunks, vecs); err != nil {
		return fmt.Errorf("upsert vectors: %w", err)
	}
	r.chunks = append([]domain.Chunk(nil), chunks...)
	logger.FromContext(ctx).Debug("vector index built", zap.Int("chunks", len(chunks)), zap.Int("dimension", dim))
	return nil
}

// Query returns at most k chunks, best first. A query that embeds to the zero
// vector, or that scores zero against every chunk, is ranked lexically.
func (r *Retriever) Query(ctx context.Context, text string, k int) ([]domain.SearchResult, error) {
	if k <= 0 {
		k = defaultTopK
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.chunks) == 0 {
		return nil, domain.ErrIndexEmpty
	}
	vecs, err := r.embedder.Encode(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 || embedding.IsZero(vecs[0]) {
		return r.lexical(text, k), nil
	}
	res, err := r.store.Search(ctx, vecs[0], k)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	for _, hit := range res {
		if hit.Score > minScore {
			return res, nil
		}
	}
	return r.lexical(text, k), nil
}

func (r *Retriever) lexical(query string, k int) []domain.SearchResult {
	qset := textnorm.TokenSet(query)
	out := make([]domain.SearchResult, len(r.chunks))
	for i, c := range r.chunks {
		out[i] = domain.SearchResult{Chunk: c, Score: textnorm.Ochiai(qset, c.Text)}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if k < len(out) {
		out = out[:k]
	}
	return out
}

// Drop clears the vector store and forgets the indexed chunks.
func (r *Retriever) Drop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = nil
	if err := r.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear vector store: %w", err)
	}
	logger.FromContext(ctx).Debug("vector index dropped")
	return nil
}

// Size returns the number of indexed vectors.
func (r *Retriever) Size(ctx context.Context) (int, error) {
	return r.store.Count(ctx)
}

// ChunkFromRecord converts a stored chunk into an index entry whose source
// is the document's filename.
func ChunkFromRecord(doc domain.DocumentRecord, c domain.ChunkRecord) domain.Chunk {
	return domain.Chunk{
		DocumentID: doc.ContentHash,
		ChunkID:    doc.ContentHash + ":" + strconv.Itoa(c.ChunkIndex),
		Index:      c.ChunkIndex,
		Text:       c.Text,
		Source:     doc.Filename,
	}
}
