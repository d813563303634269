// Package service runs the document pipeline: extraction, normalization,
// chunking, embedding and persistence, plus summaries and question sessions
// built on top of the stored documents.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"docqa/internal/chunker"
	"docqa/internal/domain"
	"docqa/internal/extractor"
	"docqa/internal/generation"
	"docqa/internal/lock"
	"docqa/internal/logger"
	"docqa/internal/rag"
	"docqa/internal/sections"
	"docqa/internal/store"
	"docqa/internal/textnorm"
	"docqa/internal/vectorstore"
	"docqa/internal/vectorstore/memory"
)

const (
	DefaultMaxFileBytes int64 = 50 << 20
	defaultWorkers            = 4
)

// Store is the persistence the pipeline needs. *store.Store implements it.
type Store interface {
	domain.ContentStore
	LoadMany(ctx context.Context, hashes []string) ([]domain.StoredDocument, error)
	LoadAll(ctx context.Context) ([]domain.StoredDocument, error)
	ListUnsummarized(ctx context.Context, limit int) ([]domain.DocumentRecord, error)
	SaveEmbedderState(ctx context.Context, name string, state []byte) error
	LoadEmbedderState(ctx context.Context, name string) ([]byte, error)
}

var _ Store = (*store.Store)(nil)

// Deps are the collaborators of a Processor. Extractor, Store, Chunker and
// Embedder are required.
type Deps struct {
	Extractor  domain.Extractor
	Store      Store
	Chunker    *chunker.Chunker
	Embedder   domain.Embedder
	Summarizer domain.Summarizer
	Detector   *sections.Detector
	Locker     lock.Locker
	// Generator answers session questions.
	Generator generation.Generator
	// VectorStore returns the index of one session. Indexes of different
	// scopes must not see or clear each other's vectors.
	VectorStore func(scope string) vectorstore.Storage
}

type Config struct {
	MaxFileBytes int64      `yaml:"max_file_bytes"`
	Workers      int        `yaml:"workers"`
	RAG          rag.Config `yaml:"rag"`
}

type ProcessOptions struct {
	// Force processes again and swaps out a cached record for the same content
	// once the new one is fully computed.
	Force bool
}

type Processor struct {
	extractor  domain.Extractor
	store      Store
	chunker    *chunker.Chunker
	embedder   domain.Embedder
	summarizer domain.Summarizer
	detector   *sections.Detector
	locker     lock.Locker
	generator  generation.Generator
	newIndex   func(scope string) vectorstore.Storage
	cfg        Config
	flight     singleflight.Group
}

func New(d Deps, cfg Config) (*Processor, error) {
	switch {
	case d.Extractor == nil:
		return nil, errors.New("service: extractor is required")
	case d.Store == nil:
		return nil, errors.New("service: store is required")
	case d.Chunker == nil:
		return nil, errors.New("service: chunker is required")
	case d.Embedder == nil:
		return nil, errors.New("service: embedder is required")
	}
	if d.Detector == nil {
		d.Detector = sections.New(sections.DefaultConfig())
	}
	if d.Locker == nil {
		d.Locker = lock.NewLocal()
	}
	if d.Generator == nil {
		d.Generator = generation.NewExtractive()
	}
	if d.VectorStore == nil {
		d.VectorStore = func(string) vectorstore.Storage { return memory.NewStorage() }
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = DefaultMaxFileBytes
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	return &Processor{
		extractor:  d.Extractor,
		store:      d.Store,
		chunker:    d.Chunker,
		embedder:   d.Embedder,
		summarizer: d.Summarizer,
		detector:   d.Detector,
		locker:     d.Locker,
		generator:  d.Generator,
		newIndex:   d.VectorStore,
		cfg:        cfg,
	}, nil
}

// Process stores path unless byte-identical content is already stored.
// Identical concurrent calls in this process share one run; the per-hash
// lock serializes runs across processes that share the store.
func (p *Processor) Process(ctx context.Context, path string, opts ProcessOptions) (domain.ProcessResult, error) {
	res := domain.ProcessResult{Path: path}
	if !extractor.IsSupported(path) {
		return res, fmt.Errorf("%w: %q", domain.ErrUnsupportedFormat, extractor.FileType(path))
	}
	info, err := os.Stat(path)
	if err != nil {
		return res, err
	}
	if info.Size() > p.cfg.MaxFileBytes {
		return res, fmt.Errorf("%w: %d bytes, limit %d", domain.ErrFileTooLarge, info.Size(), p.cfg.MaxFileBytes)
	}
	hash, size, err := store.HashFile(path)
	if err != nil {
		return res, err
	}
	res.ContentHash = hash
	ctx = logger.With(ctx, zap.String("content_hash", hash), zap.String("file", filepath.Base(path)))

	key := hash
	if opts.Force {
		key = "force:" + hash
	}
	leader := false
	v, err, _ := p.flight.Do(key, func() (any, error) {
		leader = true
		return p.process(ctx, path, hash, size, opts)
	})
	if err != nil {
		return res, err
	}
	out := v.(domain.ProcessResult)
	out.Path = path
	if !leader {
		out.Status = domain.StatusCached
	}
	return out, nil
}

func (p *Processor) process(ctx context.Context, path, hash string, size int64, opts ProcessOptions) (domain.ProcessResult, error) {
	log := logger.FromContext(ctx)
	unlock, err := p.locker.Lock(ctx, hash)
	if err != nil {
		return domain.ProcessResult{}, fmt.Errorf("lock %s: %w", hash, err)
	}
	defer unlock()

	cached, err := p.store.IsCached(ctx, hash)
	if err != nil {
		return domain.ProcessResult{}, err
	}
	if cached && !opts.Force {
		log.Info("document served from cache")
		return p.cachedResult(ctx, hash)
	}

	ext, err := p.extractor.Extract(ctx, path)
	if err != nil {
		return domain.ProcessResult{}, err
	}
	text := textnorm.Clean(ext.Text)
	if text == "" {
		return domain.ProcessResult{}, domain.ErrEmptyExtraction
	}
	chunks, err := p.chunker.Chunk(text)
	if err != nil {
		return domain.ProcessResult{}, err
	}
	vecs, err := p.encode(ctx, chunks)
	if err != nil {
		return domain.ProcessResult{}, fmt.Errorf("embed chunks: %w", err)
	}

	doc := &domain.DocumentRecord{
		ContentHash:    hash,
		Filename:       filepath.Base(path),
		FileSize:       size,
		FileType:       extractor.FileType(path),
		TotalChars:     utf8.RuneCountInString(text),
		Language:       metaString(ext.Metadata, "language"),
		EmbeddingModel: p.embedder.Name(),
	}
	save := p.store.Save
	if opts.Force {
		save = p.store.Replace
	}
	id, err := save(ctx, doc, chunks, vecs)
	if errors.Is(err, domain.ErrDuplicateHash) {
		log.Info("document stored concurrently, serving cached copy")
		return p.cachedResult(ctx, hash)
	}
	if err != nil {
		return domain.ProcessResult{}, err
	}
	log.Info("document processed", zap.Int64("document_id", id), zap.Int("chunks", len(chunks)),
		zap.Int("chars", doc.TotalChars), zap.Bool("replaced", cached))
	return domain.ProcessResult{
		Status:      domain.StatusProcessed,
		ContentHash: hash,
		DocumentID:  id,
		ChunkCount:  len(chunks),
	}, nil
}

func (p *Processor) cachedResult(ctx context.Context, hash string) (domain.ProcessResult, error) {
	sd, err := p.store.Load(ctx, hash)
	if err != nil {
		return domain.ProcessResult{}, err
	}
	return domain.ProcessResult{
		Status:      domain.StatusCached,
		ContentHash: hash,
		DocumentID:  sd.Document.ID,
		ChunkCount:  len(sd.Chunks),
	}, nil
}

// ProcessBatch processes paths concurrently. It never aborts: each result
// carries its own error.
func (p *Processor) ProcessBatch(ctx context.Context, paths []string, opts ProcessOptions) []domain.ProcessResult {
	results := make([]domain.ProcessResult, len(paths))
	var g errgroup.Group
	g.SetLimit(p.cfg.Workers)
	for i, path := range paths {
		g.Go(func() error {
			res, err := p.Process(ctx, path, opts)
			res.Path = path
			res.Err = err
			if err != nil {
				logger.FromContext(ctx).Warn("processing failed", zap.String("file", path), zap.Error(err))
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// ExtractSections picks the detector by file type: DOCX paragraph styles,
// markdown headings, or line heuristics over normalized text.
func (p *Processor) ExtractSections(ctx context.Context, path string) ([]domain.Section, error) {
	ext, err := p.extractor.Extract(ctx, path)
	if err != nil {
		return nil, err
	}
	switch extractor.FileType(path) {
	case "docx":
		if len(ext.Paragraphs) > 0 {
			return p.detector.DetectParagraphs(ext.Paragraphs), nil
		}
	case "md":
		return p.detector.DetectMarkdown(ext.Text), nil
	}
	return p.detector.Detect(textnorm.Clean(ext.Text)), nil
}

// SummarizeFile summarizes a file without storing it.
func (p *Processor) SummarizeFile(ctx context.Context, path string) (string, error) {
	if p.summarizer == nil {
		return "", errors.New("service: no summarizer configured")
	}
	ext, err := p.extractor.Extract(ctx, path)
	if err != nil {
		return "", err
	}
	return p.summarizer.Summarize(ctx, textnorm.Clean(ext.Text)), nil
}

func (p *Processor) SummarizeFileSections(ctx context.Context, path string) (*domain.SectionedSummary, error) {
	if p.summarizer == nil {
		return nil, errors.New("service: no summarizer configured")
	}
	secs, err := p.ExtractSections(ctx, path)
	if err != nil {
		return nil, err
	}
	return p.summarizer.SummarizeSections(ctx, secs), nil
}

// SummarizeDocument returns the stored summary of hash, computing and storing
// it from the reconstructed chunk text on first use.
func (p *Processor) SummarizeDocument(ctx context.Context, hash string) (string, error) {
	if p.summarizer == nil {
		return "", errors.New("service: no summarizer configured")
	}
	sd, err := p.store.Load(ctx, hash)
	if err != nil {
		return "", err
	}
	if sd.Document.Summary != nil && *sd.Document.Summary != "" {
		return *sd.Document.Summary, nil
	}
	summary := p.summarizer.Summarize(ctx, p.reconstruct(sd))
	if summary == "" {
		return "", nil
	}
	if err := p.store.UpdateSummary(ctx, hash, summary); err != nil {
		return "", err
	}
	logger.FromContext(ctx).Info("summary stored", zap.String("content_hash", hash))
	return summary, nil
}

// BackfillSummaries stores summaries for up to limit documents that have
// none yet. A document that fails is logged and skipped.
func (p *Processor) BackfillSummaries(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 20
	}
	docs, err := p.store.ListUnsummarized(ctx, limit)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, d := range docs {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		s, err := p.SummarizeDocument(ctx, d.ContentHash)
		if err != nil {
			logger.FromContext(ctx).Warn("summary backfill failed",
				zap.String("content_hash", d.ContentHash), zap.Error(err))
			continue
		}
		if s != "" {
			done++
		}
	}
	return done, nil
}

func (p *Processor) SummarizeDocumentSections(ctx context.Context, hash string) (*domain.SectionedSummary, error) {
	if p.summarizer == nil {
		return nil, errors.New("service: no summarizer configured")
	}
	sd, err := p.store.Load(ctx, hash)
	if err != nil {
		return nil, err
	}
	return p.summarizer.SummarizeWithSections(ctx, p.reconstruct(sd)), nil
}

func (p *Processor) reconstruct(sd *domain.StoredDocument) string {
	texts := make([]string, len(sd.Chunks))
	for i, c := range sd.Chunks {
		texts[i] = c.Text
	}
	return chunker.Reconstruct(texts, p.chunker.Overlap())
}

func metaString(m map[string]any, key string) *string {
	s, ok := m[key].(string)
	if !ok || strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
