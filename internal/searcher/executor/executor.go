package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kueri-lab/trecpipe/internal/indexer"
	"github.com/kueri-lab/trecpipe/internal/indexer/index"
	"github.com/kueri-lab/trecpipe/internal/indexer/tokenizer"
	"github.com/kueri-lab/trecpipe/internal/searcher/merger"
	"github.com/kueri-lab/trecpipe/internal/searcher/query"
	"github.com/kueri-lab/trecpipe/internal/searcher/ranker"
	apperrors "github.com/kueri-lab/trecpipe/pkg/errors"
)

// Index is the read side of the search engine the executor needs.
// *indexer.Engine implements it.
type Index interface {
	Analyzer() *tokenizer.Analyzer
	Postings(field, term string) (index.PostingList, error)
	TermStats(field, term string) (docFreq int, totalFreq int64)
	FieldStats(field string) indexer.FieldStats
	FieldLength(ord int, field string) int
	ExternalID(ord int) string
}

// SearchResult is the outcome of one query.
type SearchResult struct {
	Query     string      `json:"query"`
	TotalHits int         `json:"total_hits"`
	Results   []query.Hit `json:"results"`
	// Dropped counts clauses that could not be executed and were left out.
	Dropped int `json:"dropped_clauses"`
}

type Executor struct {
	index  Index
	sim    ranker.Similarity
	logger *slog.Logger
}

func New(idx Index, sim ranker.Similarity) *Executor {
	return &Executor{
		index:  idx,
		sim:    sim,
		logger: slog.Default().With("component", "query-executor"),
	}
}

// Execute evaluates q and returns up to limit hits, best first. Invalid
// clauses, and clauses whose text analyzes to no term, are dropped and
// counted; an executable remainder still runs.
func (e *Executor) Execute(ctx context.Context, q query.Boolean, limit int) (*SearchResult, error) {
	result := &SearchResult{Query: q.String(), Results: []query.Hit{}}
	scores, ok, err := e.eval(ctx, q, &result.Dropped)
	if err != nil {
		return nil, err
	}
	if !ok {
		return result, nil
	}

	hits := make([]query.Hit, 0, len(scores))
	for doc, score := range scores {
		hits = append(hits, query.Hit{Doc: doc, DocID: e.index.ExternalID(doc), Score: score})
	}
	result.TotalHits = len(hits)
	result.Results = merger.Merge([][]query.Hit{hits}, limit)

	e.logger.Debug("query executed",
		"query", result.Query,
		"candidates", result.TotalHits,
		"results", len(result.Results),
		"dropped_clauses", result.Dropped,
	)
	return result, nil
}

// eval returns the matching documents of q with their scores. ok is false
// when q had nothing executable, in which case the caller ignores it.
func (e *Executor) eval(ctx context.Context, q query.Boolean, dropped *int) (map[int]float64, bool, error) {
	var must, should []map[int]float64
	for _, c := range q.Clauses {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		scores, err := e.clause(c)
		if errors.Is(err, apperrors.ErrQueryConstruction) {
			*dropped++
			e.logger.Debug("dropping clause", "clause", c.String(), "error", err)
			continue
		}
		if err != nil {
			return nil, false, err
		}
		if c.Occur == query.Must {
			must = append(must, scores)
		} else {
			should = append(should, scores)
		}
	}
	for _, g := range q.Groups {
		scores, ok, err := e.eval(ctx, g, dropped)
		if err != nil {
			return nil, false, err
		}
		if ok {
			must = append(must, scores)
		}
	}

	switch {
	case len(must) > 0:
		candidates := intersect(must)
		for _, s := range should {
			for doc, score := range s {
				if _, ok := candidates[doc]; ok {
					candidates[doc] += score
				}
			}
		}
		return candidates, true, nil
	case len(should) > 0:
		return union(should), true, nil
	default:
		return nil, false, nil
	}
}

// clause scores every document matching c.
func (e *Executor) clause(c query.Clause) (map[int]float64, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	terms := []string{c.Text}
	if !c.Analyzed {
		terms = e.index.Analyzer().Terms(c.Text)
		if len(terms) == 0 {
			return nil, apperrors.Newf(apperrors.ErrQueryConstruction, "executor.clause", "%q has no searchable terms", c.Text)
		}
	}
	field := e.index.FieldStats(c.Field)
	scores := make(map[int]float64)
	for _, term := range terms {
		postings, err := e.index.Postings(c.Field, term)
		if err != nil {
			return nil, fmt.Errorf("searching term %s:%q: %w", c.Field, term, err)
		}
		if len(postings) == 0 {
			continue
		}
		docFreq, totalFreq := e.index.TermStats(c.Field, term)
		st := ranker.Stats{
			DocCount:  field.DocCount,
			SumLength: field.SumLength,
			DocFreq:   docFreq,
			TotalFreq: totalFreq,
		}
		for _, p := range postings {
			length := e.index.FieldLength(p.Doc, c.Field)
			scores[p.Doc] += c.Weight * e.sim.Score(p.Frequency, length, st)
		}
	}
	return scores, nil
}

// intersect keeps documents present in every set, summing their scores.
func intersect(sets []map[int]float64) map[int]float64 {
	shortest := 0
	for i, s := range sets {
		if len(s) < len(sets[shortest]) {
			shortest = i
		}
	}
	candidates := make(map[int]float64, len(sets[shortest]))
	for doc := range sets[shortest] {
		candidates[doc] = 0
	}
	for _, s := range sets {
		for doc := range candidates {
			score, exists := s[doc]
			if !exists {
				delete(candidates, doc)
				continue
			}
			candidates[doc] += score
		}
	}
	return candidates
}

func union(sets []map[int]float64) map[int]float64 {
	result := make(map[int]float64)
	for _, s := range sets {
		for doc, score := range s {
			result[doc] += score
		}
	}
	return result
}
