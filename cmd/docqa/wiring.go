package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"docqa/internal/chunker"
	"docqa/internal/config"
	"docqa/internal/domain"
	"docqa/internal/embedding"
	"docqa/internal/embedding/gemini"
	"docqa/internal/embedding/openai"
	"docqa/internal/embedding/tfidf"
	"docqa/internal/extractor"
	"docqa/internal/generation"
	"docqa/internal/lock"
	"docqa/internal/logger"
	"docqa/internal/sections"
	"docqa/internal/service"
	"docqa/internal/store"
	"docqa/internal/summarizer"
	"docqa/internal/vectorstore"
	"docqa/internal/vectorstore/memory"
	"docqa/internal/vectorstore/pgvector"
	"docqa/internal/vectorstore/qdrant"
)

// app owns everything a command needs; close releases it.
type app struct {
	cfg     *config.AppConfig
	store   *store.Store
	proc    *service.Processor
	closers []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			zap.L().Warn("close failed", zap.Error(err))
		}
	}
}

func loadConfig(path string) (*config.AppConfig, error) {
	if path == "" {
		cfg, used, err := config.LoadDefault()
		if err != nil {
			return nil, err
		}
		zap.L().Debug("config loaded", zap.String("config", used))
		return cfg, nil
	}
	return config.Load(path)
}

func buildApp(ctx context.Context, cfg *config.AppConfig) (*app, error) {
	a := &app{cfg: cfg}
	st, err := store.Open(ctx, cfg.Store.Config)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = st
	a.closers = append(a.closers, st.Close)

	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	ch, err := chunker.New(cfg.Chunker.Size, cfg.Chunker.Overlap)
	if err != nil {
		return nil, err
	}
	emb, err := buildEmbedder(ctx, cfg.Embedder)
	if err != nil {
		return nil, err
	}
	gen, err := generation.NewChain(cfg.Generation.ProviderConfig, cfg.Generation.Fallbacks, cfg.Generation.RateLimit)
	if err != nil {
		return nil, err
	}
	detector := sections.New(cfg.Sections)
	sum, err := summarizer.New(gen, detector, cfg.Summarizer)
	if err != nil {
		return nil, err
	}
	locker, err := a.buildLocker(ctx)
	if err != nil {
		return nil, err
	}
	newIndex, err := a.buildVectorStore(ctx)
	if err != nil {
		return nil, err
	}

	a.proc, err = service.New(service.Deps{
		Extractor:   extractor.New(),
		Store:       st,
		Chunker:     ch,
		Embedder:    emb,
		Summarizer:  sum,
		Detector:    detector,
		Locker:      locker,
		Generator:   gen,
		VectorStore: newIndex,
	}, cfg.Service())
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Debug("components ready",
		zap.String("driver", st.Driver()),
		zap.String("embedder", emb.Name()),
		zap.String("generator", gen.Name()),
		zap.String("vector_store", cfg.VectorStore.Type))
	ok = true
	return a, nil
}

func buildEmbedder(ctx context.Context, cfg config.EmbedderConfig) (domain.Embedder, error) {
	var emb domain.Embedder
	switch cfg.Type {
	case "tfidf", "":
		emb = tfidf.NewEmbedder(cfg.MaxFeatures)
	case "openai":
		client, err := openai.NewClient(openai.Config{
			BaseURL:   cfg.OpenAI.BaseURL,
			APIKeyEnv: cfg.OpenAI.APIKeyEnv,
			Model:     cfg.OpenAI.Model,
			Timeout:   time.Duration(cfg.OpenAI.TimeoutSecs) * time.Second,
			BatchSize: cfg.OpenAI.BatchSize,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedder init failed: %w", err)
		}
		emb = client
	case "gemini":
		g, err := gemini.New(ctx, gemini.Config{
			APIKey:  os.Getenv(cfg.Gemini.APIKeyEnv),
			Model:   cfg.Gemini.Model,
			BaseURL: cfg.Gemini.BaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini embedder init failed: %w", err)
		}
		emb = g
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Type)
	}
	return embedding.WithCache(emb, cfg.CacheSize, cfg.CacheTTL), nil
}

func (a *app) buildLocker(ctx context.Context) (lock.Locker, error) {
	if !strings.EqualFold(a.cfg.Lock.Type, "redis") {
		return lock.NewLocal(), nil
	}
	rc := a.cfg.Lock.Redis
	client := redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
	a.closers = append(a.closers, client.Close)
	l := lock.NewRedis(client, rc.TTL, rc.Retry)
	if err := l.Ping(ctx); err != nil {
		return nil, fmt.Errorf("redis lock: %w", err)
	}
	return l, nil
}

// buildVectorStore returns a factory of per-session indexes. Remote backends
// share one collection or table and separate sessions by scope.
func (a *app) buildVectorStore(ctx context.Context) (func(scope string) vectorstore.Storage, error) {
	vc := a.cfg.VectorStore
	switch vc.Type {
	case "memory", "":
		return func(string) vectorstore.Storage { return memory.NewStorage() }, nil
	case "qdrant":
		qcfg := qdrant.Config{
			URL:        vc.Qdrant.URL,
			APIKey:     vc.Qdrant.APIKey,
			Collection: vc.Qdrant.Collection,
			Timeout:    time.Duration(vc.Qdrant.TimeoutSecs) * time.Second,
		}
		base := qdrant.NewStorage(qcfg)
		return func(scope string) vectorstore.Storage { return base.WithScope(scope) }, nil
	case "pgvector":
		db, err := sql.Open("postgres", vc.PGVector.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("pgvector: %w", err)
		}
		st, err := pgvector.NewStorage(db, vc.PGVector.Table)
		if err != nil {
			return nil, err
		}
		return func(scope string) vectorstore.Storage { return st.WithScope(scope) }, nil
	default:
		return nil, fmt.Errorf("unknown vector store: %s", vc.Type)
	}
}
