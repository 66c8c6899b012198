// Package stats counts what a pass read, wrote and skipped so the pass can
// end with a single summary instead of silently dropping bad input.
package stats

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kueri-lab/trecpipe/pkg/metrics"
)

// Skip reasons shared by every stage.
const (
	ReasonMalformed        = "malformed_line"
	ReasonDocumentNotFound = "document_not_found"
	ReasonQueryClause      = "query_clause"
	ReasonMissingScore     = "missing_score"
	ReasonEmptyQuery       = "empty_query"
)

// Summary is the end-of-pass report.
type Summary struct {
	Stage           string           `json:"stage"`
	PassID          string           `json:"pass_id"`
	LinesRead       int64            `json:"lines_read"`
	EntriesWritten  int64            `json:"entries_written"`
	TopicsProcessed int64            `json:"topics_processed"`
	Skipped         map[string]int64 `json:"skipped"`
	TotalSkipped    int64            `json:"total_skipped"`
	Duration        time.Duration    `json:"duration_ns"`
	Counters        []ReasonCount    `json:"-"`
}

type ReasonCount struct {
	Reason string
	Count  int64
}

// Recorder is safe for concurrent use by worker pools.
type Recorder struct {
	stage  string
	passID string
	m      *metrics.Metrics

	linesRead       atomic.Int64
	entriesWritten  atomic.Int64
	topicsProcessed atomic.Int64

	mu      sync.Mutex
	skipped map[string]int64
	start   time.Time
}

// NewRecorder creates a recorder for one stage of a pass. m may be nil.
func NewRecorder(stage, passID string, m *metrics.Metrics) *Recorder {
	return &Recorder{
		stage:   stage,
		passID:  passID,
		m:       m,
		skipped: make(map[string]int64),
		start:   time.Now(),
	}
}

func (r *Recorder) Stage() string {
	return r.stage
}

func (r *Recorder) LineRead() {
	r.linesRead.Add(1)
	r.m.LineRead(r.stage)
}

// LinesRead adds n lines at once, for readers that count internally.
func (r *Recorder) LinesRead(n int64) {
	if n <= 0 {
		return
	}
	r.linesRead.Add(n)
	if r.m != nil {
		r.m.LinesReadTotal.WithLabelValues(r.stage).Add(float64(n))
	}
}

func (r *Recorder) EntryWritten() {
	r.entriesWritten.Add(1)
	r.m.EntryWritten(r.stage)
}

func (r *Recorder) TopicProcessed() {
	r.topicsProcessed.Add(1)
	r.m.TopicProcessed(r.stage)
}

// Skip counts n skipped items for reason.
func (r *Recorder) Skip(reason string, n int64) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	r.skipped[reason] += n
	r.mu.Unlock()
	r.m.Skipped(r.stage, reason, n)
	if reason == ReasonQueryClause {
		r.m.ClausesDropped(n)
	}
}

func (r *Recorder) Skipped(reason string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.skipped[reason]
}

// Summary snapshots the counters.
func (r *Recorder) Summary() Summary {
	r.mu.Lock()
	skipped := make(map[string]int64, len(r.skipped))
	var total int64
	for k, v := range r.skipped {
		skipped[k] = v
		total += v
	}
	r.mu.Unlock()

	s := Summary{
		Stage:           r.stage,
		PassID:          r.passID,
		LinesRead:       r.linesRead.Load(),
		EntriesWritten:  r.entriesWritten.Load(),
		TopicsProcessed: r.topicsProcessed.Load(),
		Skipped:         skipped,
		TotalSkipped:    total,
		Duration:        time.Since(r.start),
		Counters:        sortedReasons(skipped),
	}
	return s
}

// Finish logs the summary and exports the stage duration.
func (r *Recorder) Finish(logger *slog.Logger) Summary {
	s := r.Summary()
	r.m.ObserveStage(r.stage, s.Duration)

	attrs := []any{
		"stage", s.Stage,
		"lines_read", s.LinesRead,
		"entries_written", s.EntriesWritten,
		"topics", s.TopicsProcessed,
		"skipped", s.TotalSkipped,
		"duration", s.Duration.Round(time.Millisecond).String(),
	}
	for _, rc := range s.Counters {
		attrs = append(attrs, "skipped_"+rc.Reason, rc.Count)
	}
	if s.TotalSkipped > 0 {
		logger.Warn("pass finished with skipped input", attrs...)
	} else {
		logger.Info("pass finished", attrs...)
	}
	return s
}

func sortedReasons(counts map[string]int64) []ReasonCount {
	result := make([]ReasonCount, 0, len(counts))
	for reason, count := range counts {
		result = append(result, ReasonCount{Reason: reason, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Reason < result[j].Reason
	})
	return result
}
