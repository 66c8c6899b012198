// Package fusion merges runs with reciprocal rank fusion: every line adds
// 1/(k+rank) to its document's fused score within the topic.
package fusion

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kueri-lab/trecpipe/internal/runfile"
	"github.com/kueri-lab/trecpipe/internal/stats"
	apperrors "github.com/kueri-lab/trecpipe/pkg/errors"
	"github.com/kueri-lab/trecpipe/pkg/tracing"
)

const (
	DefaultK      = 30
	DefaultRunTag = "rrf"
)

// Table maps topic to document to fused score.
type Table map[string]map[string]float64

// Fuser accumulates runs into a Table and writes the fused run.
type Fuser struct {
	k        int
	runTag   string
	workers  int
	recorder *stats.Recorder
	logger   *slog.Logger

	mu    sync.Mutex
	table Table
}

type Option func(*Fuser)

func WithRunTag(tag string) Option {
	return func(f *Fuser) { f.runTag = tag }
}

// WithWorkers bounds how many topics are sorted at once.
func WithWorkers(n int) Option {
	return func(f *Fuser) {
		if n > 0 {
			f.workers = n
		}
	}
}

func WithRecorder(r *stats.Recorder) Option {
	return func(f *Fuser) { f.recorder = r }
}

// New returns a Fuser with constant k. A negative k is ErrInvalidInput.
func New(k int, opts ...Option) (*Fuser, error) {
	if k < 0 {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, "fusion.New", "k must not be negative, got %d", k)
	}
	f := &Fuser{
		k:       k,
		runTag:  DefaultRunTag,
		workers: 4,
		logger:  slog.Default().With("component", "fusion"),
		table:   make(Table),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.recorder == nil {
		f.recorder = stats.NewRecorder("rrf", "", nil)
	}
	return f, nil
}

// Contribution is the fused score one line at rank adds.
func (f *Fuser) Contribution(rank int) float64 {
	return 1 / float64(f.k+rank)
}

// Add accumulates every well-formed entry of r. Duplicate lines for the
// same topic and document accumulate.
func (f *Fuser) Add(r *runfile.Reader) error {
	local := make(Table)
	for r.Next() {
		e := r.Entry()
		docs, ok := local[e.TopicID]
		if !ok {
			docs = make(map[string]float64)
			local[e.TopicID] = docs
		}
		docs[e.DocumentID] += f.Contribution(e.Rank)
	}
	f.recorder.LinesRead(r.LinesRead())
	f.recorder.Skip(stats.ReasonMalformed, r.Skipped())
	if err := r.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for topic, docs := range local {
		dst, ok := f.table[topic]
		if !ok {
			f.table[topic] = docs
			continue
		}
		for doc, score := range docs {
			dst[doc] += score
		}
	}
	return nil
}

// AddFile opens and accumulates one run file.
func (f *Fuser) AddFile(path string) error {
	r, err := runfile.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()
	if err := f.Add(r); err != nil {
		return fmt.Errorf("fusing %s: %w", path, err)
	}
	f.logger.Debug("run added", "path", path, "lines", r.LinesRead(), "skipped", r.Skipped())
	return nil
}

// Table returns the accumulated scores. The caller must not modify it.
func (f *Fuser) Table() Table {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.table
}

type scored struct {
	doc   string
	score float64
}

// Write sorts each topic by fused score, ties by document id, and writes
// the fused run in topic order. Topics are sorted concurrently.
func (f *Fuser) Write(ctx context.Context, sink runfile.Sink) error {
	ctx, span := tracing.StartChildSpan(ctx, "rrf.write")
	defer span.End()

	table := f.Table()
	topics := make([]string, 0, len(table))
	for topic, docs := range table {
		if len(docs) > 0 {
			topics = append(topics, topic)
		}
	}
	sort.Slice(topics, func(i, j int) bool { return runfile.CompareTopicIDs(topics[i], topics[j]) < 0 })
	span.SetAttr("topics", len(topics))

	ranked := make([][]scored, len(topics))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)
	for i, topic := range topics {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			docs := table[topic]
			list := make([]scored, 0, len(docs))
			for doc, score := range docs {
				list = append(list, scored{doc: doc, score: score})
			}
			sort.Slice(list, func(a, b int) bool {
				if list[a].score != list[b].score {
					return list[a].score > list[b].score
				}
				return list[a].doc < list[b].doc
			})
			ranked[i] = list
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, topic := range topics {
		for rank, s := range ranked[i] {
			entry := runfile.Entry{
				TopicID:    topic,
				Iteration:  runfile.DefaultIteration,
				DocumentID: s.doc,
				Rank:       rank + 1,
				Score:      s.score,
				RunTag:     f.runTag,
			}
			if err := sink.Write(entry); err != nil {
				return fmt.Errorf("writing topic %s: %w", topic, err)
			}
			f.recorder.EntryWritten()
		}
		f.recorder.TopicProcessed()
	}
	return nil
}

// Fuse adds every input file and writes the fused run to sink.
func (f *Fuser) Fuse(ctx context.Context, inputs []string, sink runfile.Sink) error {
	for _, path := range inputs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := f.AddFile(path); err != nil {
			return err
		}
	}
	return f.Write(ctx, sink)
}

// Inputs expands paths into run files: files are taken as given and
// directories contribute every *.txt file beneath them. The result keeps
// argument order, with each directory's files sorted.
func Inputs(paths []string) ([]string, error) {
	const op = "fusion.Inputs"
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, apperrors.New(apperrors.ErrResourceUnavailable, op, err.Error()).WithPath(p)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		var found []string
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".txt") {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, apperrors.New(apperrors.ErrResourceUnavailable, op, err.Error()).WithPath(p)
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	if len(files) == 0 {
		return nil, apperrors.New(apperrors.ErrInvalidInput, op, "no run files to fuse")
	}
	return files, nil
}

// DefaultOutputName is rrf_ followed by the input base names, without
// extension, joined by underscores.
func DefaultOutputName(inputs []string) string {
	names := make([]string, len(inputs))
	for i, in := range inputs {
		base := filepath.Base(in)
		names[i] = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return "rrf_" + strings.Join(names, "_") + ".txt"
}
