package vectorstore

import (
	"context"

	"docqa/internal/domain"
)

// Storage persists vectors and supports similarity search. Search returns at
// most topK results ordered by descending score.
type Storage interface {
	Init(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error
	Search(ctx context.Context, vector []float32, topK int) ([]domain.SearchResult, error)
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}
