package quality

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kueri-lab/trecpipe/pkg/config"
	apperrors "github.com/kueri-lab/trecpipe/pkg/errors"
	"github.com/kueri-lab/trecpipe/pkg/postgres"
	"github.com/kueri-lab/trecpipe/pkg/resilience"
)

type fakeDocs map[string]map[string]string

func (f fakeDocs) ids() []string {
	out := make([]string, 0, len(f))
	for id := range f {
		out = append(out, id)
	}
	return out
}

func (f fakeDocs) ResolveDocID(id string) (int, error) {
	for i, known := range sortedIDs(f) {
		if known == id {
			return i, nil
		}
	}
	return 0, apperrors.New(apperrors.ErrDocumentNotFound, "fake", id)
}

func (f fakeDocs) StoredField(ord int, field string) (string, bool, error) {
	v, ok := f[sortedIDs(f)[ord]][field]
	return v, ok, nil
}

func sortedIDs(f fakeDocs) []string {
	ids := f.ids()
	sort.Strings(ids)
	return ids
}

type staticSource struct {
	name   string
	scores map[string]float32
	err    error
	calls  atomic.Int64
}

func (s *staticSource) Name() string { return s.name }

func (s *staticSource) Lookup(_ context.Context, keys []Key) ([]Result, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	out := make([]Result, len(keys))
	for i, k := range keys {
		if v, ok := s.scores[k.DocumentID]; ok {
			out[i] = Result{Score: v, Found: true}
		}
	}
	return out, nil
}

type memCache struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemCache() *memCache { return &memCache{data: make(map[string]string)} }

func (m *memCache) MGet(_ context.Context, keys ...string) ([]string, []bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	values := make([]string, len(keys))
	found := make([]bool, len(keys))
	for i, k := range keys {
		values[i], found[i] = m.data[k]
	}
	return values, found, nil
}

func (m *memCache) SetMany(_ context.Context, pairs map[string]string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range pairs {
		m.data[k] = v
	}
	return nil
}

func (m *memCache) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var n int64
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func keys(topic string, docs ...string) []Key {
	out := make([]Key, len(docs))
	for i, d := range docs {
		out[i] = Key{TopicID: topic, DocumentID: d}
	}
	return out
}

func TestReadScores(t *testing.T) {
	src, err := ReadScores(strings.NewReader("docX\t2.0\n\ndocY\tnope\nbroken line\ndocZ\t0.5\ndocX\t3\n"), "scores")
	require.NoError(t, err)
	assert.Equal(t, 2, src.Len())
	assert.Equal(t, int64(2), src.Skipped())

	res, err := src.Lookup(context.Background(), keys("1", "docX", "docY", "docZ"))
	require.NoError(t, err)
	assert.Equal(t, Result{Score: 3, Found: true}, res[0])
	assert.False(t, res[1].Found)
	assert.Equal(t, Result{Score: 0.5, Found: true}, res[2])
}

func TestParseScoreLineRejectsNonFinite(t *testing.T) {
	for _, line := range []string{"d\tNaN", "d\t+Inf", "\t1.0", "d 1.0"} {
		_, _, err := ParseScoreLine(line)
		assert.True(t, errors.Is(err, apperrors.ErrMalformedLine), line)
	}
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "none.tsv"))
	assert.True(t, errors.Is(err, apperrors.ErrResourceUnavailable))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scores.tsv")
	require.NoError(t, os.WriteFile(path, []byte("a\t0.25\n"), 0o644))
	src, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]float32{"a": 0.25}, src.Scores())
}

func TestIndexSource(t *testing.T) {
	docs := fakeDocs{
		"a": {"quality": "0.75"},
		"b": {"contents": "no score here"},
		"c": {"quality": "high"},
	}
	src := NewIndexSource(docs, "quality")
	res, err := src.Lookup(context.Background(), keys("1", "a", "b", "c", "missing"))
	require.NoError(t, err)
	assert.Equal(t, Result{Score: 0.75, Found: true}, res[0])
	assert.False(t, res[1].Found)
	assert.False(t, res[2].Found)
	assert.False(t, res[3].Found)
}

func TestCachedSkipsSourceOnHit(t *testing.T) {
	inner := &staticSource{name: "static", scores: map[string]float32{"a": 0.5}}
	cache := NewScoreCache(newMemCache(), "api", time.Hour, nil)
	src := Cached(inner, cache)

	res, err := src.Lookup(context.Background(), keys("1", "a", "b"))
	require.NoError(t, err)
	assert.Equal(t, Result{Score: 0.5, Found: true}, res[0])
	assert.False(t, res[1].Found)
	assert.Equal(t, int64(1), inner.calls.Load())

	res, err = src.Lookup(context.Background(), keys("1", "a"))
	require.NoError(t, err)
	assert.Equal(t, Result{Score: 0.5, Found: true}, res[0])
	assert.Equal(t, int64(1), inner.calls.Load())

	hits, misses := cache.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(2), misses)

	require.NoError(t, cache.Invalidate(context.Background()))
	_, err = src.Lookup(context.Background(), keys("1", "a"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), inner.calls.Load())
}

func TestCacheKeysAreScopedByTopic(t *testing.T) {
	cache := NewScoreCache(newMemCache(), "api", time.Hour, nil)
	cache.Set(context.Background(), keys("1", "a"), []Result{{Score: 0.9, Found: true}})
	res := cache.Get(context.Background(), keys("2", "a"))
	assert.False(t, res[0].Found)
}

func TestFallback(t *testing.T) {
	primary := &staticSource{name: "api", scores: map[string]float32{"a": 2}}
	secondary := &staticSource{name: "file", scores: map[string]float32{"a": 9, "b": 3}}
	src := Fallback(primary, secondary)
	assert.Equal(t, "api+file", src.Name())

	res, err := src.Lookup(context.Background(), keys("1", "a", "b", "c"))
	require.NoError(t, err)
	assert.Equal(t, float32(2), res[0].Score)
	assert.Equal(t, float32(3), res[1].Score)
	assert.False(t, res[2].Found)

	primary.err = apperrors.New(apperrors.ErrExternalService, "test", "down")
	res, err = src.Lookup(context.Background(), keys("1", "a"))
	require.NoError(t, err)
	assert.Equal(t, float32(9), res[0].Score)
}

func apiConfig(url string) config.QualityAPIConfig {
	return config.QualityAPIConfig{BaseURL: url, Timeout: 2 * time.Second, MaxAttempts: 3}
}

func TestAPISource(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/score", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req scoreRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := scoreResponse{}
		for _, p := range req.Pairs {
			assert.Equal(t, "Should we ban plastic?", p.Topic)
			resp.Scores = append(resp.Scores, float32(len(p.Sentence))/10)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	docs := fakeDocs{"a": {"contents": "12345"}, "b": {}}
	cfg := apiConfig(srv.URL)
	cfg.APIKey = "secret"
	src, err := NewAPISource(cfg, docs, map[string]string{"1": "Should we ban plastic?"})
	require.NoError(t, err)

	ks := append(keys("1", "a", "b", "missing"), Key{TopicID: "2", DocumentID: "a"})
	res, err := src.Lookup(context.Background(), ks)
	require.NoError(t, err)
	assert.Equal(t, Result{Score: 0.5, Found: true}, res[0])
	assert.False(t, res[1].Found)
	assert.False(t, res[2].Found)
	assert.False(t, res[3].Found)
	assert.Equal(t, int64(1), calls.Load())

	res, err = src.Lookup(context.Background(), keys("2", "a"))
	require.NoError(t, err)
	assert.False(t, res[0].Found)
	assert.Equal(t, int64(1), calls.Load())
}

func TestAPISourceRetriesServerErrors(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"scores":[0.8]}`))
	}))
	defer srv.Close()

	src, err := NewAPISource(apiConfig(srv.URL), fakeDocs{"a": {"contents": "text"}}, map[string]string{"1": "t"})
	require.NoError(t, err)
	res, err := src.Lookup(context.Background(), keys("1", "a"))
	require.NoError(t, err)
	assert.InDelta(t, 0.8, res[0].Score, 1e-6)
	assert.Equal(t, int64(2), calls.Load())
}

func TestAPISourceClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad pairs", http.StatusBadRequest)
	}))
	defer srv.Close()

	src, err := NewAPISource(apiConfig(srv.URL), fakeDocs{"a": {"contents": "text"}}, map[string]string{"1": "t"})
	require.NoError(t, err)
	_, err = src.Lookup(context.Background(), keys("1", "a"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrExternalService))
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, int64(1), calls.Load())
}

func TestAPISourceOpensBreakerAfterRepeatedFailures(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := apiConfig(srv.URL)
	cfg.MaxAttempts = 1
	src, err := NewAPISource(cfg, fakeDocs{"a": {"contents": "text"}}, map[string]string{"1": "t"})
	require.NoError(t, err)
	for range 5 {
		_, err = src.Lookup(context.Background(), keys("1", "a"))
		require.Error(t, err)
	}
	assert.Equal(t, resilience.StateOpen, src.BreakerState())

	_, err = src.Lookup(context.Background(), keys("1", "a"))
	assert.True(t, errors.Is(err, apperrors.ErrExternalService))
	assert.Equal(t, int64(5), calls.Load())
}

func TestAPISourceCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"scores":[]}`))
	}))
	defer srv.Close()

	cfg := apiConfig(srv.URL)
	cfg.MaxAttempts = 1
	src, err := NewAPISource(cfg, fakeDocs{"a": {"contents": "text"}}, map[string]string{"1": "t"})
	require.NoError(t, err)
	_, err = src.Lookup(context.Background(), keys("1", "a"))
	assert.True(t, errors.Is(err, apperrors.ErrExternalService))
}

func TestNewAPISourceRequiresURL(t *testing.T) {
	_, err := NewAPISource(config.QualityAPIConfig{}, fakeDocs{}, nil)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestJudgeSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		reply := "0.7"
		if strings.Contains(req.Messages[len(req.Messages)-1].Content, "rambling") {
			reply = "I cannot tell."
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":` +
			strconv.Quote(reply) + `},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	docs := fakeDocs{"a": {"contents": "a solid argument"}, "b": {"contents": "rambling"}}
	src, err := NewJudgeSource(
		config.JudgeConfig{BaseURL: srv.URL + "/v1", APIKey: "k", Model: "test-model"},
		config.QualityAPIConfig{Burst: 2, MaxAttempts: 1},
		docs, map[string]string{"1": "topic"},
	)
	require.NoError(t, err)
	assert.Equal(t, "judge:test-model", src.Name())

	res, err := src.Lookup(context.Background(), keys("1", "a", "b", "c"))
	require.NoError(t, err)
	assert.InDelta(t, 0.7, res[0].Score, 1e-6)
	assert.True(t, res[0].Found)
	assert.False(t, res[1].Found)
	assert.False(t, res[2].Found)
}

// failingDocs fails stored field reads for one document.
type failingDocs struct {
	fakeDocs
	bad string
}

func (f failingDocs) StoredField(ord int, field string) (string, bool, error) {
	if sortedIDs(f.fakeDocs)[ord] == f.bad {
		return "", false, errors.New("segment read failed")
	}
	return f.fakeDocs.StoredField(ord, field)
}

func TestJudgeSourceStoreErrorSendsNoRequests(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"0.5"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	docs := failingDocs{
		fakeDocs: fakeDocs{"a": {"contents": "first"}, "b": {"contents": "second"}, "c": {"contents": "third"}},
		bad:      "c",
	}
	src, err := NewJudgeSource(
		config.JudgeConfig{BaseURL: srv.URL + "/v1", APIKey: "k", Model: "test-model"},
		config.QualityAPIConfig{Burst: 4, MaxAttempts: 1},
		docs, map[string]string{"1": "topic"},
	)
	require.NoError(t, err)

	_, err = src.Lookup(context.Background(), keys("1", "a", "b", "c"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrResourceUnavailable))
	assert.Contains(t, err.Error(), "doc=c")
	assert.Zero(t, calls.Load())
}

func TestParseJudgement(t *testing.T) {
	cases := map[string]struct {
		score float32
		ok    bool
	}{
		"0.4":            {0.4, true},
		"Score: 1":       {1, true},
		"7":              {1, true},
		"-0.5":           {0, true},
		"no idea":        {0, false},
		" .25 overall ": {0.25, true},
	}
	for reply, want := range cases {
		got, ok := parseJudgement(reply)
		assert.Equal(t, want.ok, ok, reply)
		assert.InDelta(t, want.score, got, 1e-6, reply)
	}
}

func TestPostgresSource(t *testing.T) {
	cfg := config.Default().Postgres
	if host := os.Getenv("TEST_POSTGRES_HOST"); host != "" {
		cfg.Host = host
	}
	client, err := postgres.New(cfg)
	if err != nil {
		t.Skipf("skipping integration test: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	ctx := context.Background()
	require.NoError(t, client.Migrate(ctx))

	n, err := LoadScores(ctx, client, map[string]float32{"pg-a": 0.3, "pg-b": 1.5})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	src := NewPostgresSource(client.DB)
	res, err := src.Lookup(ctx, keys("1", "pg-a", "pg-b", "pg-missing"))
	require.NoError(t, err)
	assert.InDelta(t, 0.3, res[0].Score, 1e-6)
	assert.InDelta(t, 1.5, res[1].Score, 1e-6)
	assert.False(t, res[2].Found)
}
