// Package searcher runs one query per topic against the index and writes
// the ranked results as a run.
package searcher

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/kueri-lab/trecpipe/internal/corpus"
	"github.com/kueri-lab/trecpipe/internal/filter"
	"github.com/kueri-lab/trecpipe/internal/runfile"
	"github.com/kueri-lab/trecpipe/internal/searcher/executor"
	"github.com/kueri-lab/trecpipe/internal/searcher/parser"
	"github.com/kueri-lab/trecpipe/internal/searcher/query"
	"github.com/kueri-lab/trecpipe/internal/stats"
	"github.com/kueri-lab/trecpipe/internal/topic"
	"github.com/kueri-lab/trecpipe/pkg/tracing"
)

// TopicQuery pairs a topic id with the query to run for it.
type TopicQuery struct {
	TopicID string
	Query   query.Boolean
}

// Batch executes topic queries on a bounded pool and writes every topic's
// hits in topic order.
type Batch struct {
	Executor *executor.Executor
	Limit    int
	RunTag   string
	Workers  int
	Recorder *stats.Recorder
	Logger   *slog.Logger
}

func (b Batch) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default().With("component", "searcher")
}

// Run executes queries and writes their results to sink. Ranks start at 1
// within each topic. The sink is not closed.
func (b Batch) Run(ctx context.Context, queries []TopicQuery, sink runfile.Sink) error {
	ctx, span := tracing.StartChildSpan(ctx, "search.batch")
	defer span.End()
	span.SetAttr("topics", len(queries))

	ordered := make([]TopicQuery, len(queries))
	copy(ordered, queries)
	sort.SliceStable(ordered, func(i, j int) bool {
		return runfile.CompareTopicIDs(ordered[i].TopicID, ordered[j].TopicID) < 0
	})

	results := make([]*executor.SearchResult, len(ordered))
	g, gctx := errgroup.WithContext(ctx)
	workers := b.Workers
	if workers <= 0 {
		workers = 1
	}
	g.SetLimit(workers)
	for i, tq := range ordered {
		g.Go(func() error {
			res, err := b.Executor.Execute(gctx, tq.Query, b.Limit)
			if err != nil {
				return fmt.Errorf("topic %s: %w", tq.TopicID, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	log := b.logger()
	for i, tq := range ordered {
		res := results[i]
		if res.Dropped > 0 {
			b.Recorder.Skip(stats.ReasonQueryClause, int64(res.Dropped))
			log.Warn("query clauses dropped", "topic", tq.TopicID, "dropped", res.Dropped)
		}
		for rank, hit := range res.Results {
			entry := runfile.Entry{
				TopicID:    tq.TopicID,
				Iteration:  runfile.DefaultIteration,
				DocumentID: hit.DocID,
				Rank:       rank + 1,
				Score:      hit.Score,
				RunTag:     b.RunTag,
			}
			if err := sink.Write(entry); err != nil {
				return fmt.Errorf("writing topic %s: %w", tq.TopicID, err)
			}
			b.Recorder.EntryWritten()
		}
		b.Recorder.TopicProcessed()
		log.Debug("topic searched", "topic", tq.TopicID, "hits", len(res.Results), "candidates", res.TotalHits)
	}
	return nil
}

// Runner turns topics into queries: the title searched over every weighted
// field, optionally narrowed by a filter built from the topic's objects.
type Runner struct {
	parser      *parser.Parser
	batch       Batch
	filter      bool
	filterMode  filter.Mode
	filterField string
}

type RunnerOption func(*Runner)

// WithFilter narrows each topic's results with a fragment built from its
// comparison objects on field.
func WithFilter(mode filter.Mode, field string) RunnerOption {
	return func(r *Runner) {
		r.filter = true
		r.filterMode = mode
		r.filterField = field
	}
}

func NewRunner(p *parser.Parser, batch Batch, opts ...RunnerOption) *Runner {
	r := &Runner{parser: p, batch: batch, filterField: corpus.FieldContents}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Queries builds the query of every topic. Topics whose title has no
// searchable term are skipped and counted.
func (r *Runner) Queries(topics []topic.Topic) []TopicQuery {
	log := r.batch.logger()
	queries := make([]TopicQuery, 0, len(topics))
	for _, t := range topics {
		q, err := r.parser.Parse(t.Title)
		if err != nil {
			r.batch.Recorder.Skip(stats.ReasonEmptyQuery, 1)
			log.Warn("skipping topic without searchable title", "topic", t.Number, "title", t.Title, "error", err)
			continue
		}
		if r.filter {
			q = q.And(filter.Build(r.filterMode, t.Objects, r.filterField))
		}
		queries = append(queries, TopicQuery{TopicID: t.Number, Query: q})
	}
	return queries
}

// Run searches every topic and writes the run to sink.
func (r *Runner) Run(ctx context.Context, topics []topic.Topic, sink runfile.Sink) error {
	return r.batch.Run(ctx, r.Queries(topics), sink)
}
