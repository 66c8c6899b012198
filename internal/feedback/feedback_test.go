package feedback

import (
	"context"
	"math"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kueri-lab/trecpipe/internal/corpus"
	"github.com/kueri-lab/trecpipe/internal/indexer"
	"github.com/kueri-lab/trecpipe/internal/qrels"
	"github.com/kueri-lab/trecpipe/internal/runfile"
	"github.com/kueri-lab/trecpipe/internal/searcher"
	"github.com/kueri-lab/trecpipe/internal/searcher/executor"
	"github.com/kueri-lab/trecpipe/internal/searcher/query"
	"github.com/kueri-lab/trecpipe/internal/searcher/ranker"
	"github.com/kueri-lab/trecpipe/internal/stats"
	"github.com/kueri-lab/trecpipe/pkg/config"
	apperrors "github.com/kueri-lab/trecpipe/pkg/errors"
)

// fakeVectors serves fixed term vectors keyed by document id.
type fakeVectors map[string]map[string]int

func (f fakeVectors) ResolveDocID(id string) (int, error) {
	i := 0
	for _, known := range f.ids() {
		if known == id {
			return i, nil
		}
		i++
	}
	return 0, apperrors.New(apperrors.ErrDocumentNotFound, "fake", "not indexed").WithDoc(id)
}

func (f fakeVectors) ids() []string {
	out := make([]string, 0, len(f))
	for id := range f {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (f fakeVectors) TermVector(ord int, field string) (map[string]int, error) {
	return f[f.ids()[ord]], nil
}

func TestExtractAccumulatesPerGrade(t *testing.T) {
	src := fakeVectors{
		"d1": {"foo": 2, "bar": 1},
		"d2": {"foo": 1},
	}
	qrelsText := strings.Join([]string{
		"1 0 d1 2",
		"1 0 d2 2",
		"1 0 missing 1",
		"1 0 d2 0",
		"bad line",
		"2 0 d1 -1",
		"3 0 d2 5",
	}, "\n")

	rec := stats.NewRecorder("rf", "p", nil)
	table, err := NewExtractor(src, WithRecorder(rec), WithWorkers(2)).
		Extract(context.Background(), qrels.NewReader(strings.NewReader(qrelsText), "qrels"))
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"foo": 3, "bar": 1}, table["1"][2])
	assert.Equal(t, map[string]int{"foo": 1}, table["1"][0])
	assert.Equal(t, map[string]int{"foo": 1}, table["3"][5], "grades beyond 3 grow the table")
	assert.NotContains(t, table, "2")
	assert.Equal(t, []string{"1", "3"}, table.Topics())

	assert.Equal(t, int64(1), rec.Skipped(stats.ReasonDocumentNotFound))
	assert.Equal(t, int64(2), rec.Skipped(stats.ReasonMalformed))
	assert.Equal(t, int64(7), rec.Summary().LinesRead)
}

func TestBuildQueryWeights(t *testing.T) {
	q, dropped := BuildQuery(GradeTerms{
		0: {"ignored": 9},
		2: {"foo": 3},
		1: {"bar": 1},
	}, "contents")
	assert.Zero(t, dropped)
	assert.Equal(t, []query.Clause{
		{Field: "contents", Text: "bar", Weight: 1, Occur: query.Should, Analyzed: true},
		{Field: "contents", Text: "foo", Weight: 12, Occur: query.Should, Analyzed: true},
	}, q.Clauses)
}

func TestScenarioSingleJudgment(t *testing.T) {
	src := fakeVectors{"docA": {"foo": 3}}
	table, err := NewExtractor(src).Extract(context.Background(),
		qrels.NewReader(strings.NewReader("t1 0 docA 2\n"), "qrels"))
	require.NoError(t, err)

	q, _ := BuildQuery(table["t1"], "contents")
	require.Len(t, q.Clauses, 1)
	assert.Equal(t, "foo", q.Clauses[0].Text)
	assert.Equal(t, 12.0, q.Clauses[0].Weight)
}

func TestBuildQueryDropsInvalidClauses(t *testing.T) {
	q, dropped := BuildQuery(GradeTerms{1: {"": 1, "two words": 2, "ok": 1}}, "contents")
	assert.Equal(t, 2, dropped)
	require.Len(t, q.Clauses, 1)
	assert.Equal(t, "ok", q.Clauses[0].Text)
	assert.False(t, math.IsInf(q.Clauses[0].Weight, 0))
}

func TestExpandedRun(t *testing.T) {
	engine, err := indexer.NewEngine(config.IndexerConfig{DataDir: t.TempDir(), SegmentMaxSize: 1 << 30})
	require.NoError(t, err)
	defer engine.Close()
	for _, doc := range []corpus.Document{
		{ID: "d1", Contents: "foo bar foo"},
		{ID: "d2", Contents: "bar baz"},
		{ID: "d3", Contents: "foo qux"},
		{ID: "d4", Contents: "unrelated words"},
	} {
		require.NoError(t, engine.AddDocument(doc))
	}
	require.NoError(t, engine.Flush())

	rec := stats.NewRecorder("rf", "p", nil)
	table, err := NewExtractor(engine, WithRecorder(rec)).
		Extract(context.Background(), qrels.NewReader(strings.NewReader("7 0 d1 2\n8 0 d4 0\n"), "qrels"))
	require.NoError(t, err)
	assert.Equal(t, 2, table["7"][2]["foo"])

	sim, _ := ranker.New("bm25")
	ex := NewExecutor(searcher.Batch{
		Executor: executor.New(engine, sim),
		RunTag:   RunTag("run1"),
		Workers:  2,
		Recorder: rec,
	}, corpus.FieldContents)
	sink := &runfile.Collector{}
	require.NoError(t, ex.Run(context.Background(), table, sink))

	require.NotEmpty(t, sink.Entries)
	assert.Equal(t, "d1", sink.Entries[0].DocumentID)
	for i, e := range sink.Entries {
		assert.Equal(t, "7", e.TopicID)
		assert.Equal(t, "run1RF", e.RunTag)
		assert.Equal(t, i+1, e.Rank)
		assert.NotEqual(t, "d4", e.DocumentID)
	}
	assert.Equal(t, int64(1), rec.Skipped(stats.ReasonEmptyQuery), "grade 0 only topic has no clauses")
	assert.Equal(t, "runs/run1_RF.txt", OutputPath("runs", "run1"))
}
