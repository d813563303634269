package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
)

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

type scopeFilter struct {
	Must []struct {
		Key   string `json:"key"`
		Match struct {
			Value string `json:"value"`
		} `json:"match"`
	} `json:"must"`
}

func (f *scopeFilter) matches(p point) bool {
	if f == nil {
		return true
	}
	for _, m := range f.Must {
		if v, _ := p.Payload[m.Key].(string); v != m.Match.Value {
			return false
		}
	}
	return true
}

// fakeQdrant keeps one collection "docs" in memory.
type fakeQdrant struct {
	mu       sync.Mutex
	calls    []string
	upserted []point
	points   map[string]point
	order    []string
	apiKey   string
	exists   bool
}

func (f *fakeQdrant) handler(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)
	f.apiKey = r.Header.Get("api-key")
	var body struct {
		Points []point      `json:"points"`
		Vector []float32    `json:"vector"`
		Limit  int          `json:"limit"`
		Filter *scopeFilter `json:"filter"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	switch {
	case r.Method == http.MethodPut && r.URL.Path == "/collections/docs":
		if f.exists {
			w.WriteHeader(http.StatusConflict)
			return
		}
		f.exists = true
		_, _ = w.Write([]byte(`{"result":true}`))
	case r.Method == http.MethodDelete && r.URL.Path == "/collections/docs":
		f.exists = false
		f.points, f.order = nil, nil
		_, _ = w.Write([]byte(`{"result":true}`))
	case r.Method == http.MethodPut && r.URL.Path == "/collections/docs/points":
		if f.points == nil {
			f.points = map[string]point{}
		}
		for _, p := range body.Points {
			if _, ok := f.points[p.ID]; !ok {
				f.order = append(f.order, p.ID)
			}
			f.points[p.ID] = p
		}
		f.upserted = append(f.upserted, body.Points...)
		_, _ = w.Write([]byte(`{"result":{"status":"completed"}}`))
	case r.Method == http.MethodPost && r.URL.Path == "/collections/docs/points/search":
		type hit struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		}
		var hits []hit
		for _, id := range f.order {
			p := f.points[id]
			if !body.Filter.matches(p) {
				continue
			}
			var dot float64
			for i := range p.Vector {
				if i < len(body.Vector) {
					dot += float64(p.Vector[i] * body.Vector[i])
				}
			}
			hits = append(hits, hit{Score: dot, Payload: p.Payload})
		}
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
		if body.Limit > 0 && len(hits) > body.Limit {
			hits = hits[:body.Limit]
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"result": hits})
	case r.Method == http.MethodPost && r.URL.Path == "/collections/docs/points/count":
		n := 0
		for _, p := range f.points {
			if body.Filter.matches(p) {
				n++
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"result": map[string]int{"count": n}})
	case r.Method == http.MethodPost && r.URL.Path == "/collections/docs/points/delete":
		kept := f.order[:0]
		for _, id := range f.order {
			if body.Filter != nil && body.Filter.matches(f.points[id]) {
				delete(f.points, id)
				continue
			}
			kept = append(kept, id)
		}
		f.order = kept
		_, _ = w.Write([]byte(`{"result":{"status":"completed"}}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestStorage(t *testing.T) (*Storage, *fakeQdrant) {
	t.Helper()
	fake := &fakeQdrant{}
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	t.Cleanup(srv.Close)
	return NewStorage(Config{URL: srv.URL, APIKey: "secret", Collection: "docs"}), fake
}

func TestInitToleratesExistingCollection(t *testing.T) {
	s, fake := newTestStorage(t)
	ctx := context.Background()
	require.NoError(t, s.Init(ctx, 3))
	require.NoError(t, s.Init(ctx, 3))
	assert.Equal(t, "secret", fake.apiKey)
	assert.Error(t, s.Init(ctx, 0))
}

func TestUpsertUsesStableUUIDs(t *testing.T) {
	s, fake := newTestStorage(t)
	ctx := context.Background()
	require.NoError(t, s.Init(ctx, 2))
	chunks := []domain.Chunk{{DocumentID: "h1", ChunkID: "h1:0", Text: "alpha", Source: "a.txt"}}
	require.NoError(t, s.Upsert(ctx, chunks, [][]float32{{1, 0}}))
	require.NoError(t, s.Upsert(ctx, chunks, [][]float32{{1, 0}}))
	require.Len(t, fake.upserted, 2)
	assert.Equal(t, fake.upserted[0].ID, fake.upserted[1].ID)
	assert.Len(t, fake.upserted[0].ID, 36)
	assert.NotContains(t, fake.upserted[0].Payload, "scope")

	scoped := s.WithScope("s1")
	require.NoError(t, scoped.Upsert(ctx, chunks, [][]float32{{1, 0}}))
	assert.NotEqual(t, fake.upserted[0].ID, fake.upserted[2].ID)
	assert.Equal(t, "s1", fake.upserted[2].Payload["scope"])

	assert.Error(t, s.Upsert(ctx, chunks, nil))
}

func TestSearchDecodesPayload(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()
	require.NoError(t, s.Init(ctx, 2))
	require.NoError(t, s.Upsert(ctx, []domain.Chunk{
		{DocumentID: "h1", ChunkID: "h1:0", Index: 0, Text: "alpha", Source: "a.txt"},
		{DocumentID: "h1", ChunkID: "h1:1", Index: 1, Text: "beta", Source: "a.txt"},
	}, [][]float32{{0.9, 0}, {0.4, 0}}))

	res, err := s.Search(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "h1:0", res[0].Chunk.ChunkID)
	assert.Equal(t, "a.txt", res[0].Chunk.Source)
	assert.Equal(t, 1, res[1].Chunk.Index)
	assert.InDelta(t, 0.9, res[0].Score, 1e-6)
}

func TestCountAndClear(t *testing.T) {
	s, fake := newTestStorage(t)
	ctx := context.Background()
	require.NoError(t, s.Init(ctx, 2))
	require.NoError(t, s.Upsert(ctx, []domain.Chunk{{ChunkID: "a"}, {ChunkID: "b"}}, [][]float32{{1, 0}, {0, 1}}))
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, s.Clear(ctx))
	assert.True(t, fake.exists)
	assert.Contains(t, fake.calls, "DELETE /collections/docs")
	n, err = s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestScopedSessionsShareCollection(t *testing.T) {
	base, fake := newTestStorage(t)
	ctx := context.Background()
	a, b := base.WithScope("session-a"), base.WithScope("session-b")
	require.NoError(t, a.Init(ctx, 2))
	require.NoError(t, b.Init(ctx, 2))

	require.NoError(t, a.Upsert(ctx, []domain.Chunk{{ChunkID: "h:0", Text: "from a"}}, [][]float32{{1, 0}}))
	require.NoError(t, b.Clear(ctx))
	require.NoError(t, b.Upsert(ctx, []domain.Chunk{
		{ChunkID: "h:0", Text: "from b"},
		{ChunkID: "g:0", Text: "also b"},
	}, [][]float32{{1, 0}, {0, 1}}))

	n, err := a.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = b.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	res, err := a.Search(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "from a", res[0].Chunk.Text)

	require.NoError(t, b.Clear(ctx))
	assert.NotContains(t, fake.calls, "DELETE /collections/docs")
	n, err = a.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = b.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUnreachableBackend(t *testing.T) {
	s := NewStorage(Config{URL: "http://127.0.0.1:1", Collection: "docs"})
	_, err := s.Search(context.Background(), []float32{1}, 1)
	assert.ErrorIs(t, err, domain.ErrBackendUnavailable)
}
