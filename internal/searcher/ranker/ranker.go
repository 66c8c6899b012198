// Package ranker scores a term occurrence in a document. A Similarity sees
// one (term, document) pair at a time; the executor sums the contributions.
package ranker

import (
	"math"
	"strings"

	apperrors "github.com/kueri-lab/trecpipe/pkg/errors"
)

const (
	k1 = 1.2
	b  = 0.75
	mu = 2000
)

// Stats carries the collection statistics of one field and one term.
type Stats struct {
	// DocCount is the number of documents that have the field.
	DocCount  int
	SumLength int64
	DocFreq   int
	TotalFreq int64
}

func (s Stats) AvgLength() float64 {
	if s.DocCount == 0 {
		return 0
	}
	return float64(s.SumLength) / float64(s.DocCount)
}

// Similarity scores a term that occurs freq times in a field of length
// docLength. Scores are non-negative.
type Similarity interface {
	Name() string
	Score(freq, docLength int, s Stats) float64
}

// New returns the similarity registered under name: bm25, tfidf or lmd.
func New(name string) (Similarity, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "bm25":
		return BM25{K1: k1, B: b}, nil
	case "tfidf", "classic":
		return TFIDF{}, nil
	case "lmd", "dirichlet":
		return LMDirichlet{Mu: mu}, nil
	default:
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, "ranker.New", "unknown similarity %q", name)
	}
}

type BM25 struct {
	K1 float64
	B  float64
}

func (BM25) Name() string { return "bm25" }

func (m BM25) Score(freq, docLength int, s Stats) float64 {
	if freq <= 0 {
		return 0
	}
	idf := computeIDF(int64(s.DocCount), int64(s.DocFreq))
	return idf * computeTFNorm(float64(freq), float64(docLength), s.AvgLength(), m.K1, m.B)
}

func computeIDF(totalDocs int64, docFreq int64) float64 {
	numerator := float64(totalDocs) - float64(docFreq) + 0.5
	denominator := float64(docFreq) + 0.5
	return math.Log(1 + numerator/denominator)
}

func computeTFNorm(termFreq, docLength, avgDocLength, k1, b float64) float64 {
	if avgDocLength == 0 {
		return 0
	}
	lengthRatio := docLength / avgDocLength
	denominator := termFreq + k1*(1-b+b*lengthRatio)
	return (termFreq * (k1 + 1)) / denominator
}

// TFIDF is the classic vector space scoring: sqrt(tf) * idf² / sqrt(length).
type TFIDF struct{}

func (TFIDF) Name() string { return "tfidf" }

func (TFIDF) Score(freq, docLength int, s Stats) float64 {
	if freq <= 0 || docLength <= 0 {
		return 0
	}
	idf := 1 + math.Log(float64(s.DocCount+1)/float64(s.DocFreq+1))
	return math.Sqrt(float64(freq)) * idf * idf / math.Sqrt(float64(docLength))
}

// LMDirichlet is query likelihood with Dirichlet prior smoothing. Negative
// contributions are clamped to zero so that more matches never hurt.
type LMDirichlet struct {
	Mu float64
}

func (LMDirichlet) Name() string { return "lmd" }

func (m LMDirichlet) Score(freq, docLength int, s Stats) float64 {
	if freq <= 0 {
		return 0
	}
	collectionProb := float64(s.TotalFreq+1) / float64(s.SumLength+1)
	score := math.Log(1+float64(freq)/(m.Mu*collectionProb)) + math.Log(m.Mu/(float64(docLength)+m.Mu))
	return math.Max(score, 0)
}
