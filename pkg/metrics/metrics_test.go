package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.LineRead("fusion")
	m.LineRead("fusion")
	m.Skipped("fusion", "malformed", 3)
	m.Skipped("fusion", "malformed", 0)
	m.EntryWritten("rerank")
	m.ScoreLookup("file", "miss", 2)
	m.CacheHit(true)
	m.CacheHit(false)
	m.ClausesDropped(1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.LinesReadTotal.WithLabelValues("fusion")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.LinesSkippedTotal.WithLabelValues("fusion", "malformed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EntriesWrittenTotal.WithLabelValues("rerank")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ScoreLookupsTotal.WithLabelValues("file", "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHitsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheMissesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClausesDroppedTotal))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.LineRead("x")
		m.Skipped("x", "y", 1)
		m.ObserveStage("x", time.Second)
		m.BreakerState("api", 1)
		m.DocIndexed()
	})
}

func TestIndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.DocIndexed()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.DocsIndexedTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.DocsIndexedTotal))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.TopicProcessed("rf")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `trecpipe_topics_processed_total{stage="rf"} 1`))
}

func TestPush(t *testing.T) {
	var gotPath string
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer gw.Close()

	m := New()
	m.DocIndexed()
	require.NoError(t, m.Push(context.Background(), gw.URL, "trecpipe", "p1"))
	assert.Equal(t, "/metrics/job/trecpipe/pass_id/p1", gotPath)
}
