// Package extractor turns PDF, DOCX, TXT, MD and RTF files into plain text.
package extractor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"docqa/internal/domain"
	"docqa/internal/logger"
)

// SupportedFormats lists the accepted file extensions without the dot.
var SupportedFormats = []string{"pdf", "docx", "txt", "md", "rtf"}

var _ domain.Extractor = (*Extractor)(nil)

// Extractor dispatches on file extension.
type Extractor struct {
	openPDF PDFOpener
	runner  CommandRunner
}

// Option customizes an Extractor.
type Option func(*Extractor)

// WithPDFOpener replaces the primary PDF reader.
func WithPDFOpener(o PDFOpener) Option {
	return func(e *Extractor) { e.openPDF = o }
}

// WithRunner replaces the command runner used by the pdftotext fallback.
func WithRunner(r CommandRunner) Option {
	return func(e *Extractor) { e.runner = r }
}

func New(opts ...Option) *Extractor {
	e := &Extractor{openPDF: openLedongthuc, runner: execRunner{}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FileType returns the lower-case extension of path without the dot.
func FileType(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}

// IsSupported reports whether the extension of path can be extracted.
func IsSupported(path string) bool {
	ft := FileType(path)
	for _, f := range SupportedFormats {
		if f == ft {
			return true
		}
	}
	return false
}

// Extract reads path and returns its text. The result text is never empty.
func (e *Extractor) Extract(ctx context.Context, path string) (*domain.Extraction, error) {
	ft := FileType(path)
	if !IsSupported(path) {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedFormat, ft)
	}
	log := logger.FromContext(ctx).With(zap.String("file", filepath.Base(path)), zap.String("file_type", ft))

	var (
		out *domain.Extraction
		err error
	)
	switch ft {
	case "pdf":
		out, err = e.extractPDF(ctx, path)
	case "docx":
		out, err = extractDOCX(path)
	default:
		out, err = extractText(path, ft)
	}
	if err != nil {
		log.Warn("extraction failed", zap.Error(err))
		return nil, err
	}
	if strings.TrimSpace(out.Text) == "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrEmptyExtraction, filepath.Base(path))
	}
	log.Debug("extracted text", zap.Int("chars", len([]rune(out.Text))))
	return out, nil
}

func extractText(path, ft string) (*domain.Extraction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExtraction, err)
	}
	text, enc, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if ft == "rtf" {
		text = StripRTF(text)
	}
	return &domain.Extraction{
		Text:     text,
		Metadata: map[string]any{"encoding": enc, "format": ft},
	}, nil
}
