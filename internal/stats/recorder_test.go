package stats

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/kueri-lab/trecpipe/pkg/metrics"
)

func TestRecorderConcurrentCounts(t *testing.T) {
	m := metrics.New()
	r := NewRecorder("rf", "p1", m)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.LineRead()
				r.Skip(ReasonDocumentNotFound, 1)
			}
		}()
	}
	wg.Wait()
	r.EntryWritten()
	r.TopicProcessed()

	s := r.Summary()
	assert.Equal(t, int64(800), s.LinesRead)
	assert.Equal(t, int64(800), s.Skipped[ReasonDocumentNotFound])
	assert.Equal(t, int64(800), s.TotalSkipped)
	assert.Equal(t, int64(1), s.EntriesWritten)
	assert.Equal(t, "p1", s.PassID)
	assert.Equal(t, 800.0, testutil.ToFloat64(m.LinesSkippedTotal.WithLabelValues("rf", ReasonDocumentNotFound)))
}

func TestSkipQueryClauseFeedsDroppedCounter(t *testing.T) {
	m := metrics.New()
	r := NewRecorder("rf", "", m)
	r.Skip(ReasonQueryClause, 3)
	r.Skip(ReasonMalformed, 0)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ClausesDroppedTotal))
	assert.Zero(t, r.Skipped(ReasonMalformed))
}

func TestFinishLogsWarnOnSkips(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	r := NewRecorder("fusion", "", nil)
	r.Skip(ReasonMalformed, 2)
	r.Skip(ReasonEmptyQuery, 5)
	s := r.Finish(logger)

	assert.Equal(t, []ReasonCount{{ReasonEmptyQuery, 5}, {ReasonMalformed, 2}}, s.Counters)
	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "skipped_malformed_line=2")
}
