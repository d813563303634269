package domain

import (
	"context"
	"time"
)

// Embedder converts free text into numeric vectors, one per input, order preserved.
type Embedder interface {
	Name() string
	// Dimension is zero until the embedder knows its output size.
	Dimension() int
	Encode(ctx context.Context, texts []string) ([][]float32, error)
}

// Extractor turns a file on disk into plain text plus metadata.
type Extractor interface {
	Extract(ctx context.Context, path string) (*Extraction, error)
}

// ContentStore persists processed documents keyed by content hash.
type ContentStore interface {
	IsCached(ctx context.Context, hash string) (bool, error)
	Save(ctx context.Context, doc *DocumentRecord, chunks []string, embeddings [][]float32) (int64, error)
	// Replace atomically swaps any record with the same content hash for doc.
	Replace(ctx context.Context, doc *DocumentRecord, chunks []string, embeddings [][]float32) (int64, error)
	Load(ctx context.Context, hash string) (*StoredDocument, error)
	Delete(ctx context.Context, hash string) error
	UpdateSummary(ctx context.Context, hash, summary string) error
	Stats(ctx context.Context) (*Stats, error)
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Summarizer produces summaries of free text and of detected sections.
type Summarizer interface {
	Summarize(ctx context.Context, text string) string
	SummarizeWithSections(ctx context.Context, text string) *SectionedSummary
	SummarizeSections(ctx context.Context, sections []Section) *SectionedSummary
}
