// Package rerank scales every run entry by a per-document quality score and
// re-sorts each topic by the combined score.
package rerank

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/kueri-lab/trecpipe/internal/quality"
	"github.com/kueri-lab/trecpipe/internal/runfile"
	"github.com/kueri-lab/trecpipe/internal/stats"
	apperrors "github.com/kueri-lab/trecpipe/pkg/errors"
	"github.com/kueri-lab/trecpipe/pkg/tracing"
)

const (
	DefaultScore     float32 = 1.0
	DefaultRunTag            = "reranked"
	DefaultBatchSize         = 64
)

// Reranker combines retrieval scores with quality scores from a Source.
type Reranker struct {
	src          quality.Source
	defaultScore float32
	runTag       string
	batchSize    int
	maxLines     int
	recorder     *stats.Recorder
	logger       *slog.Logger
}

type Option func(*Reranker)

// WithDefaultScore sets the quality applied to documents the source does
// not know. 1.0 leaves their score unchanged.
func WithDefaultScore(s float32) Option {
	return func(r *Reranker) { r.defaultScore = s }
}

func WithRunTag(tag string) Option {
	return func(r *Reranker) {
		if tag != "" {
			r.runTag = tag
		}
	}
}

// WithBatchSize sets how many entries are looked up per source call.
func WithBatchSize(n int) Option {
	return func(r *Reranker) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithMaxLines stops reading the input after n entries. 0 reads everything.
func WithMaxLines(n int) Option {
	return func(r *Reranker) {
		if n >= 0 {
			r.maxLines = n
		}
	}
}

func WithRecorder(rec *stats.Recorder) Option {
	return func(r *Reranker) { r.recorder = rec }
}

func New(src quality.Source, opts ...Option) *Reranker {
	r := &Reranker{
		src:          src,
		defaultScore: DefaultScore,
		runTag:       DefaultRunTag,
		batchSize:    DefaultBatchSize,
		logger:       slog.Default().With("component", "rerank"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.recorder == nil {
		r.recorder = stats.NewRecorder("rerank", "", nil)
	}
	return r
}

// Rerank reads in, rescales every entry and writes the re-sorted run to
// sink. Topics come out in topic order; within a topic entries are ordered
// by the new score, ties keeping input order, and ranked from 1.
func (r *Reranker) Rerank(ctx context.Context, in *runfile.Reader, sink runfile.Sink) error {
	ctx, span := tracing.StartChildSpan(ctx, "rerank")
	defer span.End()
	span.SetAttr("source", r.src.Name())

	var (
		entries []runfile.Entry
		pending int
	)
	for in.Next() {
		entries = append(entries, in.Entry())
		if len(entries)-pending >= r.batchSize {
			if err := r.score(ctx, entries[pending:]); err != nil {
				return err
			}
			pending = len(entries)
		}
		if r.maxLines > 0 && len(entries) >= r.maxLines {
			r.logger.Info("line limit reached", "limit", r.maxLines, "input", in.Name())
			break
		}
	}
	r.recorder.LinesRead(in.LinesRead())
	r.recorder.Skip(stats.ReasonMalformed, in.Skipped())
	if err := in.Err(); err != nil {
		return err
	}
	if pending < len(entries) {
		if err := r.score(ctx, entries[pending:]); err != nil {
			return err
		}
	}
	span.SetAttr("entries", len(entries))

	sort.SliceStable(entries, func(i, j int) bool {
		if c := runfile.CompareTopicIDs(entries[i].TopicID, entries[j].TopicID); c != 0 {
			return c < 0
		}
		return entries[i].Score > entries[j].Score
	})

	rank := 0
	for i := range entries {
		if i == 0 || entries[i].TopicID != entries[i-1].TopicID {
			if i > 0 {
				r.recorder.TopicProcessed()
			}
			rank = 0
		}
		rank++
		entries[i].Rank = rank
		entries[i].RunTag = r.runTag
		if err := sink.Write(entries[i]); err != nil {
			return fmt.Errorf("writing topic %s: %w", entries[i].TopicID, err)
		}
		r.recorder.EntryWritten()
	}
	if len(entries) > 0 {
		r.recorder.TopicProcessed()
	}
	return nil
}

// score multiplies each entry in batch by its quality, in place.
func (r *Reranker) score(ctx context.Context, batch []runfile.Entry) error {
	keys := make([]quality.Key, len(batch))
	for i, e := range batch {
		keys[i] = quality.Key{TopicID: e.TopicID, DocumentID: e.DocumentID}
	}
	results, err := r.src.Lookup(ctx, keys)
	if err != nil {
		if errors.Is(err, apperrors.ErrExternalService) || errors.Is(err, apperrors.ErrResourceUnavailable) || ctx.Err() != nil {
			return fmt.Errorf("looking up %d scores from %s: %w", len(keys), r.src.Name(), err)
		}
		return apperrors.Newf(apperrors.ErrExternalService, "rerank.score", "source %s: %v", r.src.Name(), err)
	}
	var missing int64
	for i := range batch {
		q := r.defaultScore
		if results[i].Found {
			q = results[i].Score
		} else {
			missing++
		}
		batch[i].Score *= float64(q)
	}
	r.recorder.Skip(stats.ReasonMissingScore, missing)
	return nil
}

// RerankFile opens path and reranks it into sink.
func (r *Reranker) RerankFile(ctx context.Context, path string, sink runfile.Sink) error {
	in, err := runfile.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := r.Rerank(ctx, in, sink); err != nil {
		return fmt.Errorf("reranking %s: %w", path, err)
	}
	r.logger.Info("rerank complete",
		"input", path,
		"source", r.src.Name(),
		"lines", in.LinesRead(),
		"missing_scores", r.recorder.Skipped(stats.ReasonMissingScore),
	)
	return nil
}
