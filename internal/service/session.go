package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"docqa/internal/domain"
	"docqa/internal/logger"
	"docqa/internal/rag"
)

// Session is one question-answering conversation over a fixed set of stored
// documents. It owns its index; callers keep their own chat history.
type Session struct {
	ID        string
	Hashes    []string
	CreatedAt time.Time

	retriever *rag.Retriever
	engine    *rag.Engine
}

// NewSession indexes the documents with the given hashes, or every stored
// document when none are given.
func (p *Processor) NewSession(ctx context.Context, hashes ...string) (*Session, error) {
	id := uuid.NewString()
	ctx = logger.With(ctx, zap.String("session_id", id))
	if err := p.ensureEmbedder(ctx); err != nil {
		return nil, err
	}

	var (
		docs []domain.StoredDocument
		err  error
	)
	if len(hashes) > 0 {
		docs, err = p.store.LoadMany(ctx, hashes)
	} else {
		docs, err = p.store.LoadAll(ctx)
	}
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, domain.ErrIndexEmpty
	}

	retriever := rag.NewRetriever(p.embedder, p.newIndex(id))
	if err := retriever.BuildFromRecords(ctx, docs); err != nil {
		if derr := retriever.Drop(context.WithoutCancel(ctx)); derr != nil {
			logger.FromContext(ctx).Warn("drop partial index failed", zap.Error(derr))
		}
		return nil, err
	}
	loaded := make([]string, len(docs))
	for i, d := range docs {
		loaded[i] = d.Document.ContentHash
	}
	logger.FromContext(ctx).Info("session ready", zap.Int("documents", len(docs)))
	return &Session{
		ID:        id,
		Hashes:    loaded,
		CreatedAt: time.Now().UTC(),
		retriever: retriever,
		engine:    rag.NewEngine(retriever, p.generator, p.cfg.RAG),
	}, nil
}

func (s *Session) Ask(ctx context.Context, question string) domain.RAGResponse {
	return s.engine.Ask(logger.With(ctx, zap.String("session_id", s.ID)), question)
}

func (s *Session) Stats(ctx context.Context) (rag.Stats, error) {
	return s.engine.Stats(ctx)
}

// Close drops the session's vectors from the index backend.
func (s *Session) Close(ctx context.Context) error {
	return s.retriever.Drop(logger.With(ctx, zap.String("session_id", s.ID)))
}
