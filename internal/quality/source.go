// Package quality provides argument-quality scores for (topic, document)
// pairs. Sources range from a flat file to a remote scoring service; they
// compose through Cached, Fallback and Instrument.
package quality

import (
	"context"

	"github.com/kueri-lab/trecpipe/pkg/metrics"
)

// Key identifies one scored pair. File, index and database sources ignore
// the topic.
type Key struct {
	TopicID    string
	DocumentID string
}

// Result is the score for a key. Found is false when the source has no
// score, in which case the caller applies its default.
type Result struct {
	Score float32
	Found bool
}

// Source looks up scores for a batch of keys. The returned slice is
// parallel to keys. An error means the whole batch failed.
type Source interface {
	Name() string
	Lookup(ctx context.Context, keys []Key) ([]Result, error)
}

// Instrument counts lookups per result on m. A nil m returns s unchanged.
func Instrument(s Source, m *metrics.Metrics) Source {
	if m == nil {
		return s
	}
	return &instrumented{Source: s, m: m}
}

type instrumented struct {
	Source
	m *metrics.Metrics
}

func (i *instrumented) Lookup(ctx context.Context, keys []Key) ([]Result, error) {
	results, err := i.Source.Lookup(ctx, keys)
	if err != nil {
		i.m.ScoreLookup(i.Name(), "error", len(keys))
		return nil, err
	}
	found := 0
	for _, r := range results {
		if r.Found {
			found++
		}
	}
	i.m.ScoreLookup(i.Name(), "hit", found)
	i.m.ScoreLookup(i.Name(), "miss", len(results)-found)
	return results, nil
}
