// Package gemini embeds text with the Gemini embedding models.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"google.golang.org/genai"
)

const DefaultModel = "text-embedding-004"

// Embedder calls Models.EmbedContent with one content per input text.
type Embedder struct {
	client    *genai.Client
	model     string
	taskType  string
	dimension atomic.Int64
}

type Config struct {
	APIKey   string
	Model    string
	TaskType string
	// BaseURL overrides the Gemini API endpoint.
	BaseURL string
}

func New(ctx context.Context, cfg Config) (*Embedder, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini: api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &Embedder{client: client, model: cfg.Model, taskType: cfg.TaskType}, nil
}

func (e *Embedder) Name() string { return "gemini:" + e.model }

func (e *Embedder) Dimension() int { return int(e.dimension.Load()) }

func (e *Embedder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = &genai.Content{Parts: []*genai.Part{{Text: t}}}
	}
	var config *genai.EmbedContentConfig
	if e.taskType != "" {
		config = &genai.EmbedContentConfig{TaskType: e.taskType}
	}
	resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, config)
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini: expected %d embeddings", len(texts))
	}
	out := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, fmt.Errorf("gemini: empty embedding at %d", i)
		}
		out[i] = emb.Values
	}
	e.dimension.CompareAndSwap(0, int64(len(out[0])))
	return out, nil
}
