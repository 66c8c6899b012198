package indexer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kueri-lab/trecpipe/internal/corpus"
	"github.com/kueri-lab/trecpipe/pkg/config"
	apperrors "github.com/kueri-lab/trecpipe/pkg/errors"
)

func newEngine(t *testing.T, dir string) *Engine {
	t.Helper()
	e, err := NewEngine(config.IndexerConfig{DataDir: dir, SegmentMaxSize: 1 << 30})
	require.NoError(t, err)
	return e
}

func TestEngineResolveAndVectors(t *testing.T) {
	e := newEngine(t, t.TempDir())
	defer e.Close()

	require.NoError(t, e.AddDocument(corpus.Document{ID: "d1", Contents: "foo bar foo", Extra: map[string]string{"quality": "0.5"}}))
	require.NoError(t, e.AddDocument(corpus.Document{ID: "d2", Contents: "bar", DocT5Query: "qux"}))

	// Not visible before flush.
	_, err := e.ResolveDocID("d1")
	assert.True(t, errors.Is(err, apperrors.ErrDocumentNotFound))

	require.NoError(t, e.Flush())
	assert.Equal(t, 2, e.TotalDocs())

	ord, err := e.ResolveDocID("d1")
	require.NoError(t, err)
	assert.Equal(t, "d1", e.ExternalID(ord))

	vec, err := e.TermVector(ord, corpus.FieldContents)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"foo": 2, "bar": 1}, vec)

	empty, err := e.TermVector(ord, corpus.FieldDocT5Query)
	require.NoError(t, err)
	assert.Empty(t, empty)

	q, ok, err := e.StoredField(ord, "quality")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "0.5", q)

	_, ok, err = e.StoredField(ord, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	stats := e.FieldStats(corpus.FieldContents)
	assert.Equal(t, 2, stats.DocCount)
	assert.InDelta(t, 2.0, stats.AvgLength(), 1e-9)
}

func TestEngineGlobalOrdinalsAndShadowing(t *testing.T) {
	dir := t.TempDir()
	e := newEngine(t, dir)

	require.NoError(t, e.AddDocument(corpus.Document{ID: "d1", Contents: "alpha"}))
	require.NoError(t, e.AddDocument(corpus.Document{ID: "d2", Contents: "alpha beta"}))
	require.NoError(t, e.Flush())
	require.NoError(t, e.AddDocument(corpus.Document{ID: "d3", Contents: "alpha"}))
	require.NoError(t, e.AddDocument(corpus.Document{ID: "d1", Contents: "gamma"}))
	require.NoError(t, e.Flush())

	assert.Equal(t, 3, e.TotalDocs())

	postings, err := e.Postings(corpus.FieldContents, "alpha")
	require.NoError(t, err)
	var ids []string
	for _, p := range postings {
		ids = append(ids, e.ExternalID(p.Doc))
	}
	assert.Equal(t, []string{"d2", "d3"}, ids)

	ord, err := e.ResolveDocID("d1")
	require.NoError(t, err)
	assert.Equal(t, 3, ord)
	require.NoError(t, e.Close())

	// Reopening recovers the same view from disk.
	reopened := newEngine(t, dir)
	defer reopened.Close()
	assert.Equal(t, 3, reopened.TotalDocs())
	vec, err := reopened.TermVector(3, corpus.FieldContents)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"gamma": 1}, vec)
}

func TestEngineFlushesAtSizeThreshold(t *testing.T) {
	e, err := NewEngine(config.IndexerConfig{DataDir: t.TempDir(), SegmentMaxSize: 1})
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.AddDocument(corpus.Document{ID: "d1", Contents: "searchable immediately"}))
	_, err = e.ResolveDocID("d1")
	assert.NoError(t, err)
}

func TestEngineRejectsEmptyID(t *testing.T) {
	e := newEngine(t, t.TempDir())
	defer e.Close()
	err := e.AddDocument(corpus.Document{Contents: "x"})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestOpenRequiresExistingIndex(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "typo-index")
	_, err := Open(config.IndexerConfig{DataDir: missing})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrResourceUnavailable))
	assert.Contains(t, err.Error(), missing)
	_, statErr := os.Stat(missing)
	assert.True(t, os.IsNotExist(statErr))

	empty := t.TempDir()
	_, err = Open(config.IndexerConfig{DataDir: empty})
	assert.True(t, errors.Is(err, apperrors.ErrResourceUnavailable))
}

func TestOpenReadsFlushedIndex(t *testing.T) {
	dir := t.TempDir()
	e := newEngine(t, dir)
	require.NoError(t, e.AddDocument(corpus.Document{ID: "d1", Contents: "foo"}))
	require.NoError(t, e.Flush())
	require.NoError(t, e.Close())

	r, err := Open(config.IndexerConfig{DataDir: dir})
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, 1, r.TotalDocs())
}

func BenchmarkEngineAddDocument(b *testing.B) {
	e, err := NewEngine(config.IndexerConfig{DataDir: b.TempDir(), SegmentMaxSize: 100 * 1024 * 1024})
	if err != nil {
		b.Fatal(err)
	}
	defer e.Close()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		doc := corpus.Document{
			ID:       fmt.Sprintf("bench-%d", i),
			Contents: "benchmark document body for measuring indexing throughput",
		}
		if err := e.AddDocument(doc); err != nil {
			b.Fatal(err)
		}
	}
}
