package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"docqa/internal/domain"
	"docqa/internal/vectorstore"
)

var _ vectorstore.Storage = (*Storage)(nil)

// Storage is a minimal REST client to Qdrant.
// It assumes cosine distance and creates the collection if missing. A scoped
// Storage tags its points with a scope payload and only reads and deletes
// points carrying that tag; an unscoped one owns the whole collection.
type Storage struct {
	url        string
	apiKey     string
	collection string
	scope      string
	dimension  int
	client     *http.Client
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Scope      string
	Timeout    time.Duration
}

func NewStorage(cfg Config) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collection := cfg.Collection
	if collection == "" {
		collection = "docqa_chunks"
	}
	return &Storage{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: collection,
		scope:      cfg.Scope,
		client:     &http.Client{Timeout: timeout},
	}
}

// WithScope returns a Storage over the same collection restricted to scope.
func (s *Storage) WithScope(scope string) *Storage {
	c := *s
	c.scope = scope
	return &c
}

func (s *Storage) filter() map[string]any {
	return map[string]any{
		"must": []map[string]any{{"key": "scope", "match": map[string]any{"value": s.scope}}},
	}
}

func (s *Storage) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.dimension = dimension
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	// Qdrant answers 409 when the collection already exists
	err := s.do(ctx, http.MethodPut, s.collectionURL(""), body, nil)
	var se *statusError
	if errors.As(err, &se) && se.code == http.StatusConflict {
		return nil
	}
	return err
}

// pointID maps a scoped chunk id onto the UUID space Qdrant accepts for
// point ids.
func (s *Storage) pointID(c domain.Chunk) string {
	name := c.ChunkID
	if s.scope != "" {
		name = s.scope + "/" + c.ChunkID
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

func (s *Storage) Upsert(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return errors.New("chunks and vectors length mismatch")
	}
	points := make([]map[string]any, len(chunks))
	for i := range chunks {
		payload := map[string]any{
			"document_id": chunks[i].DocumentID,
			"chunk_id":    chunks[i].ChunkID,
			"index":       chunks[i].Index,
			"text":        chunks[i].Text,
			"source":      chunks[i].Source,
		}
		if s.scope != "" {
			payload["scope"] = s.scope
		}
		points[i] = map[string]any{
			"id":      s.pointID(chunks[i]),
			"vector":  vectors[i],
			"payload": payload,
		}
	}
	body := map[string]any{"points": points}
	return s.do(ctx, http.MethodPut, s.collectionURL("/points?wait=true"), body, nil)
}

func (s *Storage) Search(ctx context.Context, vector []float32, topK int) ([]domain.SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	if s.scope != "" {
		req["filter"] = s.filter()
	}
	var resp struct {
		Result []struct {
			Score   float64 `json:"score"`
			Payload struct {
				DocumentID string `json:"document_id"`
				ChunkID    string `json:"chunk_id"`
				Index      int    `json:"index"`
				Text       string `json:"text"`
				Source     string `json:"source"`
			} `json:"payload"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionURL("/points/search"), req, &resp); err != nil {
		return nil, err
	}
	results := make([]domain.SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		p := r.Payload
		results = append(results, domain.SearchResult{
			Chunk: domain.Chunk{
				DocumentID: p.DocumentID,
				ChunkID:    p.ChunkID,
				Index:      p.Index,
				Text:       p.Text,
				Source:     p.Source,
			},
			Score: r.Score,
		})
	}
	return results, nil
}

func (s *Storage) Count(ctx context.Context) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	req := map[string]any{"exact": true}
	if s.scope != "" {
		req["filter"] = s.filter()
	}
	if err := s.do(ctx, http.MethodPost, s.collectionURL("/points/count"), req, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

// Clear deletes the points of this scope. Unscoped, it drops the collection
// and recreates it with the current dimension.
func (s *Storage) Clear(ctx context.Context) error {
	if s.scope != "" {
		err := s.do(ctx, http.MethodPost, s.collectionURL("/points/delete?wait=true"), map[string]any{"filter": s.filter()}, nil)
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return nil
		}
		return err
	}
	err := s.do(ctx, http.MethodDelete, s.collectionURL(""), nil, nil)
	var se *statusError
	if err != nil && !(errors.As(err, &se) && se.code == http.StatusNotFound) {
		return err
	}
	if s.dimension == 0 {
		return nil
	}
	return s.Init(ctx, s.dimension)
}

func (s *Storage) collectionURL(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", s.url, s.collection, suffix)
}

type statusError struct {
	method string
	url    string
	code   int
	status string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("qdrant %s %s failed: %s", e.method, e.url, e.status)
}

func (s *Storage) do(ctx context.Context, method, url string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &statusError{method: method, url: url, code: resp.StatusCode, status: resp.Status}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
