package searcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kueri-lab/trecpipe/internal/corpus"
	"github.com/kueri-lab/trecpipe/internal/filter"
	"github.com/kueri-lab/trecpipe/internal/indexer"
	"github.com/kueri-lab/trecpipe/internal/runfile"
	"github.com/kueri-lab/trecpipe/internal/searcher/executor"
	"github.com/kueri-lab/trecpipe/internal/searcher/parser"
	"github.com/kueri-lab/trecpipe/internal/searcher/ranker"
	"github.com/kueri-lab/trecpipe/internal/stats"
	"github.com/kueri-lab/trecpipe/internal/topic"
	"github.com/kueri-lab/trecpipe/pkg/config"
)

func newRunner(t *testing.T, rec *stats.Recorder, opts ...RunnerOption) *Runner {
	t.Helper()
	engine, err := indexer.NewEngine(config.IndexerConfig{DataDir: t.TempDir(), SegmentMaxSize: 1 << 30})
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	for _, doc := range []corpus.Document{
		{ID: "d1", Contents: "python is easier to learn than java"},
		{ID: "d2", Contents: "java runs faster than python"},
		{ID: "d3", Contents: "python notebooks for data science"},
		{ID: "d4", Contents: "laptops with long battery life"},
	} {
		require.NoError(t, engine.AddDocument(doc))
	}
	require.NoError(t, engine.Flush())

	sim, err := ranker.New("bm25")
	require.NoError(t, err)
	batch := Batch{
		Executor: executor.New(engine, sim),
		Limit:    10,
		RunTag:   "base",
		Workers:  2,
		Recorder: rec,
	}
	p := parser.New(engine.Analyzer(), map[string]float64{corpus.FieldContents: 1})
	return NewRunner(p, batch, opts...)
}

var topics = []topic.Topic{
	{Number: "10", Title: "python or java?", Objects: "python, java", Narrative: "n"},
	{Number: "2", Title: "laptop battery", Objects: "battery", Narrative: "n"},
	{Number: "3", Title: "what is the", Objects: "", Narrative: "n"},
}

func TestRunnerWritesRanksPerTopicInOrder(t *testing.T) {
	rec := stats.NewRecorder("search", "p1", nil)
	r := newRunner(t, rec)
	sink := &runfile.Collector{}

	require.NoError(t, r.Run(context.Background(), topics, sink))

	require.NotEmpty(t, sink.Entries)
	assert.Equal(t, "2", sink.Entries[0].TopicID, "numeric topic order")
	byTopic := map[string][]runfile.Entry{}
	for _, e := range sink.Entries {
		byTopic[e.TopicID] = append(byTopic[e.TopicID], e)
		assert.Equal(t, "base", e.RunTag)
	}
	assert.Len(t, byTopic["10"], 3)
	for _, entries := range byTopic {
		for i, e := range entries {
			assert.Equal(t, i+1, e.Rank)
			if i > 0 {
				assert.LessOrEqual(t, e.Score, entries[i-1].Score)
			}
		}
	}
	assert.Equal(t, int64(1), rec.Skipped(stats.ReasonEmptyQuery))
	assert.Equal(t, int64(2), rec.Summary().TopicsProcessed)
}

func TestRunnerAndFilterRequiresEveryObject(t *testing.T) {
	rec := stats.NewRecorder("search", "p1", nil)
	r := newRunner(t, rec, WithFilter(filter.And, corpus.FieldContents))
	sink := &runfile.Collector{}

	require.NoError(t, r.Run(context.Background(), topics[:1], sink))

	var docs []string
	for _, e := range sink.Entries {
		docs = append(docs, e.DocumentID)
	}
	assert.ElementsMatch(t, []string{"d1", "d2"}, docs)
}
