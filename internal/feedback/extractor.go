// Package feedback implements term-frequency relevance feedback: terms of
// judged documents, weighted by how relevant they were judged, become an
// expanded query per topic.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/kueri-lab/trecpipe/internal/corpus"
	"github.com/kueri-lab/trecpipe/internal/qrels"
	"github.com/kueri-lab/trecpipe/internal/runfile"
	"github.com/kueri-lab/trecpipe/internal/stats"
	apperrors "github.com/kueri-lab/trecpipe/pkg/errors"
)

// VectorSource resolves documents and returns their term vectors.
// *indexer.Engine implements it.
type VectorSource interface {
	ResolveDocID(id string) (int, error)
	TermVector(ord int, field string) (map[string]int, error)
}

// GradeTerms maps a relevance grade to cumulative term frequencies.
type GradeTerms map[int]map[string]int

// Grades returns the grades present, ascending.
func (g GradeTerms) Grades() []int {
	grades := make([]int, 0, len(g))
	for grade := range g {
		grades = append(grades, grade)
	}
	sort.Ints(grades)
	return grades
}

// Table holds, per topic, the term frequencies of its judged documents.
type Table map[string]GradeTerms

// Add accumulates vec into topic and grade.
func (t Table) Add(topic string, grade int, vec map[string]int) {
	grades, ok := t[topic]
	if !ok {
		grades = make(GradeTerms)
		t[topic] = grades
	}
	terms, ok := grades[grade]
	if !ok {
		terms = make(map[string]int, len(vec))
		grades[grade] = terms
	}
	for term, freq := range vec {
		terms[term] += freq
	}
}

// Topics returns the topic ids in run order.
func (t Table) Topics() []string {
	ids := make([]string, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return runfile.CompareTopicIDs(ids[i], ids[j]) < 0 })
	return ids
}

// Extractor builds a Table from qrels.
type Extractor struct {
	src      VectorSource
	field    string
	workers  int
	recorder *stats.Recorder
	logger   *slog.Logger
}

type Option func(*Extractor)

// WithField sets the field whose term vectors are read. Defaults to contents.
func WithField(field string) Option {
	return func(x *Extractor) { x.field = field }
}

// WithWorkers bounds concurrent term vector fetches. Defaults to 4.
func WithWorkers(n int) Option {
	return func(x *Extractor) {
		if n > 0 {
			x.workers = n
		}
	}
}

func WithRecorder(r *stats.Recorder) Option {
	return func(x *Extractor) { x.recorder = r }
}

func NewExtractor(src VectorSource, opts ...Option) *Extractor {
	x := &Extractor{
		src:     src,
		field:   corpus.FieldContents,
		workers: 4,
		logger:  slog.Default().With("component", "feedback-extractor"),
	}
	for _, opt := range opts {
		opt(x)
	}
	if x.recorder == nil {
		x.recorder = stats.NewRecorder("rf", "", nil)
	}
	return x
}

// ExtractFile opens a qrels file and extracts from it.
func (x *Extractor) ExtractFile(ctx context.Context, path string) (Table, error) {
	r, err := qrels.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return x.Extract(ctx, r)
}

// vectorResult is one worker's output for a distinct document.
type vectorResult struct {
	vec   map[string]int
	found bool
}

// Extract reads every judgment, fetches the term vector of each distinct
// document once on a bounded pool, then accumulates in input order.
// Judgments whose document is not indexed are skipped and counted.
func (x *Extractor) Extract(ctx context.Context, r *qrels.Reader) (Table, error) {
	var judgments []qrels.Judgment
	docIndex := make(map[string]int)
	var docs []string
	for r.Next() {
		j := r.Judgment()
		judgments = append(judgments, j)
		if _, seen := docIndex[j.DocumentID]; !seen {
			docIndex[j.DocumentID] = len(docs)
			docs = append(docs, j.DocumentID)
		}
	}
	x.recorder.LinesRead(r.LinesRead())
	x.recorder.Skip(stats.ReasonMalformed, r.Skipped())
	if err := r.Err(); err != nil {
		return nil, err
	}

	results := make([]vectorResult, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.workers)
	for i, id := range docs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ord, err := x.src.ResolveDocID(id)
			if errors.Is(err, apperrors.ErrDocumentNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("resolving %s: %w", id, err)
			}
			vec, err := x.src.TermVector(ord, x.field)
			if err != nil {
				return fmt.Errorf("term vector of %s: %w", id, err)
			}
			results[i] = vectorResult{vec: vec, found: true}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	table := make(Table)
	for _, j := range judgments {
		res := results[docIndex[j.DocumentID]]
		if !res.found {
			x.recorder.Skip(stats.ReasonDocumentNotFound, 1)
			x.logger.Warn("judged document not in index",
				"topic", j.TopicID,
				"doc", j.DocumentID,
			)
			continue
		}
		table.Add(j.TopicID, j.Grade, res.vec)
	}
	x.logger.Info("feedback terms extracted",
		"judgments", len(judgments),
		"documents", len(docs),
		"topics", len(table),
	)
	return table, nil
}
