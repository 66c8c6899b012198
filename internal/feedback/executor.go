package feedback

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/kueri-lab/trecpipe/internal/runfile"
	"github.com/kueri-lab/trecpipe/internal/searcher"
	"github.com/kueri-lab/trecpipe/internal/stats"
)

// DefaultMaxDocs is how many documents each expanded query retrieves.
const DefaultMaxDocs = 1000

// RunTag is the tag of expanded runs derived from runID.
func RunTag(runID string) string {
	return runID + "RF"
}

// OutputPath is where the expanded run of runID is written.
func OutputPath(runDir, runID string) string {
	return filepath.Join(runDir, runID+"_RF.txt")
}

// Executor runs one expanded query per topic of a Table.
type Executor struct {
	batch  searcher.Batch
	field  string
	logger *slog.Logger
}

// NewExecutor wraps batch, which carries the search executor, the limit,
// the run tag and the recorder.
func NewExecutor(batch searcher.Batch, field string) *Executor {
	if batch.Limit <= 0 {
		batch.Limit = DefaultMaxDocs
	}
	return &Executor{
		batch:  batch,
		field:  field,
		logger: slog.Default().With("component", "feedback-executor"),
	}
}

// Queries builds the expanded query of every topic in table. Topics left
// with no clause are skipped and counted.
func (e *Executor) Queries(table Table) []searcher.TopicQuery {
	queries := make([]searcher.TopicQuery, 0, len(table))
	for _, topicID := range table.Topics() {
		q, dropped := BuildQuery(table[topicID], e.field)
		e.batch.Recorder.Skip(stats.ReasonQueryClause, int64(dropped))
		if q.Empty() {
			e.batch.Recorder.Skip(stats.ReasonEmptyQuery, 1)
			e.logger.Warn("no feedback terms for topic", "topic", topicID)
			continue
		}
		e.logger.Debug("expanded query built", "topic", topicID, "clauses", len(q.Clauses), "dropped", dropped)
		queries = append(queries, searcher.TopicQuery{TopicID: topicID, Query: q})
	}
	return queries
}

// Run executes the expanded queries and writes the run to sink.
func (e *Executor) Run(ctx context.Context, table Table, sink runfile.Sink) error {
	return e.batch.Run(ctx, e.Queries(table), sink)
}
