package extractor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"docqa/internal/domain"
	"docqa/internal/logger"
)

// ErrPDFToolNotFound is returned when the pdftotext fallback is not installed.
var ErrPDFToolNotFound = errors.New("pdftotext not found: install poppler-utils")

// PageSource exposes the pages of an opened PDF. Pages are numbered from 1.
type PageSource interface {
	NumPage() int
	PageText(n int) (string, error)
}

// PDFOpener opens a PDF for page-by-page reading.
type PDFOpener func(path string) (PageSource, io.Closer, error)

// CommandRunner runs an external command and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, ErrPDFToolNotFound
	}
	return exec.CommandContext(ctx, name, args...).Output()
}

type ledongthucSource struct {
	r *pdf.Reader
}

func (s ledongthucSource) NumPage() int { return s.r.NumPage() }

func (s ledongthucSource) PageText(n int) (string, error) {
	p := s.r.Page(n)
	if p.V.IsNull() {
		return "", nil
	}
	return p.GetPlainText(nil)
}

func openLedongthuc(path string) (PageSource, io.Closer, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return ledongthucSource{r: r}, f, nil
}

type pageStat struct {
	Page  int `json:"page"`
	Chars int `json:"chars"`
	Words int `json:"words"`
}

func (e *Extractor) extractPDF(ctx context.Context, path string) (*domain.Extraction, error) {
	log := logger.FromContext(ctx)
	pages, total, err := e.readPages(ctx, path)
	if err != nil || len(pages) == 0 {
		log.Warn("primary pdf reader produced no text, trying pdftotext", zap.Error(err))
		pages, total, err = e.pdftotextPages(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrExtraction, err)
		}
	}
	return assemblePages(pages, total), nil
}

// readPages returns page number to text for each page that yielded text.
// A failing page is logged and skipped.
func (e *Extractor) readPages(ctx context.Context, path string) (map[int]string, int, error) {
	src, closer, err := e.openPDF(path)
	if err != nil {
		return nil, 0, err
	}
	defer closer.Close()

	log := logger.FromContext(ctx)
	pages := make(map[int]string)
	total := src.NumPage()
	for n := 1; n <= total; n++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		text, err := safePageText(src, n)
		if err != nil {
			log.Warn("skipping unreadable pdf page", zap.Int("page", n), zap.Error(err))
			continue
		}
		if strings.TrimSpace(text) != "" {
			pages[n] = text
		}
	}
	return pages, total, nil
}

func safePageText(src PageSource, n int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("page %d: %v", n, r)
		}
	}()
	return src.PageText(n)
}

func (e *Extractor) pdftotextPages(ctx context.Context, path string) (map[int]string, int, error) {
	out, err := e.runner.Run(ctx, "pdftotext", "-layout", "-enc", "UTF-8", path, "-")
	if err != nil {
		return nil, 0, err
	}
	// pdftotext terminates every page with a form feed
	segments := strings.Split(strings.TrimSuffix(string(out), "\f"), "\f")
	pages := make(map[int]string)
	for i, text := range segments {
		if strings.TrimSpace(text) != "" {
			pages[i+1] = text
		}
	}
	if len(pages) == 0 {
		return nil, 0, errors.New("pdftotext returned no text")
	}
	return pages, len(segments), nil
}

func assemblePages(pages map[int]string, total int) *domain.Extraction {
	var (
		sb    strings.Builder
		stats []pageStat
	)
	for n := 1; n <= total; n++ {
		text, ok := pages[n]
		if !ok {
			continue
		}
		text = strings.TrimSpace(text)
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[Page %d]\n%s", n, text)
		stats = append(stats, pageStat{Page: n, Chars: len([]rune(text)), Words: len(strings.Fields(text))})
	}
	return &domain.Extraction{
		Text: sb.String(),
		Metadata: map[string]any{
			"format":     "pdf",
			"page_count": total,
			"pages":      stats,
		},
	}
}
