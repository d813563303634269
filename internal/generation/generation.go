// Package generation adapts text generation backends behind one interface.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"docqa/internal/domain"
	"docqa/internal/logger"
)

// Request is one generation call. Prompt is the full instruction text; Input
// and Query carry the raw material it was built from so that local backends
// can work without a language model.
type Request struct {
	Prompt      string
	Input       string
	Query       string
	MaxTokens   int
	Temperature float64
}

type Generator interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

type timeoutGenerator struct {
	next    Generator
	timeout time.Duration
}

// WithTimeout bounds every call to g. Calls still running at the deadline are
// abandoned and reported as ErrBackendTimeout; other failures are reported as
// ErrBackendUnavailable.
func WithTimeout(g Generator, d time.Duration) Generator {
	if d <= 0 {
		d = 30 * time.Second
	}
	return &timeoutGenerator{next: g, timeout: d}
}

func (t *timeoutGenerator) Name() string { return t.next.Name() }

type result struct {
	text string
	err  error
}

func (t *timeoutGenerator) Generate(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	ch := make(chan result, 1)
	go func() {
		text, err := t.next.Generate(ctx, req)
		ch <- result{text, err}
	}()
	select {
	case r := <-ch:
		if r.err == nil {
			return r.text, nil
		}
		return "", classify(t.next.Name(), r.err)
	case <-ctx.Done():
		return "", classify(t.next.Name(), ctx.Err())
	}
}

func classify(name string, err error) error {
	switch {
	case errors.Is(err, domain.ErrBackendTimeout), errors.Is(err, domain.ErrBackendUnavailable):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", name, domain.ErrBackendTimeout)
	default:
		return fmt.Errorf("%s: %w: %v", name, domain.ErrBackendUnavailable, err)
	}
}

type limitedGenerator struct {
	next    Generator
	limiter *rate.Limiter
}

// WithRateLimit makes callers wait for a token before reaching g.
func WithRateLimit(g Generator, limiter *rate.Limiter) Generator {
	if limiter == nil {
		return g
	}
	return &limitedGenerator{next: g, limiter: limiter}
}

func (l *limitedGenerator) Name() string { return l.next.Name() }

func (l *limitedGenerator) Generate(ctx context.Context, req Request) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return l.next.Generate(ctx, req)
}

type Entry struct {
	Name      string
	Generator Generator
}

type group struct {
	items []Entry
}

// NewGroup tries each generator in order and returns the first success.
func NewGroup(items []Entry) Generator {
	if len(items) == 0 {
		return nil
	}
	if len(items) == 1 {
		return items[0].Generator
	}
	return &group{items: items}
}

func (g *group) Name() string {
	names := make([]string, 0, len(g.items))
	for _, item := range g.items {
		if item.Name != "" {
			names = append(names, item.Name)
		}
	}
	return strings.Join(names, "|")
}

func (g *group) Generate(ctx context.Context, req Request) (string, error) {
	var lastErr error
	for i, item := range g.items {
		if item.Generator == nil {
			continue
		}
		res, err := item.Generator.Generate(ctx, req)
		if err == nil {
			return res, nil
		}
		lastErr = err
		logger.FromContext(ctx).Warn("generator failed", zap.Int("index", i), zap.String("name", item.Name), zap.Error(err))
	}
	if lastErr == nil {
		return "", fmt.Errorf("generator not configured: %w", domain.ErrBackendUnavailable)
	}
	return "", lastErr
}
