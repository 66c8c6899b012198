package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kueri-lab/trecpipe/internal/runfile"
	apperrors "github.com/kueri-lab/trecpipe/pkg/errors"
)

const pipelineTopics = `<topics>
  <topic>
    <number>1</number>
    <title>Cats or dogs as pets?</title>
    <objects>cats, dogs</objects>
    <description>Which pet is better?</description>
    <narrative>Comparisons of cats and dogs.</narrative>
  </topic>
  <topic>
    <number>2</number>
    <title>Laptop or desktop?</title>
    <objects>laptop, desktop</objects>
    <description>Which computer to buy?</description>
    <narrative>Comparisons of computers.</narrative>
  </topic>
</topics>`

const pipelineCorpus = `{"id": "d1", "contents": "Cats are calmer pets than dogs and need less space."}
{"id": "d2", "contents": "Dogs are loyal pets, dogs need walks every day."}
{"id": "d3", "contents": "A desktop is cheaper to upgrade than a laptop."}
{"id": "d4", "contents": "A laptop is portable, a desktop is not. <query>laptop vs desktop</query>"}
{"id": "d5", "contents": "Gardening tips for spring."}
`

func write(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(args ...string) error {
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(context.Background())
}

func TestPipeline(t *testing.T) {
	dir := t.TempDir()
	runs := filepath.Join(dir, "runs")
	write(t, filepath.Join(dir, "corpus", "part-0.jsonl"), pipelineCorpus)
	write(t, filepath.Join(dir, "topics.xml"), pipelineTopics)
	write(t, filepath.Join(dir, "qrels.txt"), "1 0 d1 2\n1 0 d5 0\n2 0 d4 1\n2 0 missing 2\n")
	write(t, filepath.Join(dir, "quality.tsv"), "d2\t3.0\nd3\t0.5\n")
	cfg := write(t, filepath.Join(dir, "config.yaml"), fmt.Sprintf(`
logging: {level: error}
indexer: {dataDir: %[1]s/index}
corpus: {dir: %[1]s/corpus}
search: {topicsPath: %[1]s/topics.xml, runDir: %[1]s/runs, runID: test}
feedback: {qrelsPath: %[1]s/qrels.txt}
rerank: {scoresPath: %[1]s/quality.tsv}
`, dir))

	require.NoError(t, execute("index", "--config", cfg))
	require.NoError(t, execute("search", "--config", cfg))
	base, skipped, err := runfile.ReadAll(filepath.Join(runs, "test.txt"))
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.NotEmpty(t, base)
	for _, e := range base {
		assert.Equal(t, "test", e.RunTag)
	}

	require.NoError(t, execute("rf", "--config", cfg))
	expanded, _, err := runfile.ReadAll(filepath.Join(runs, "test_RF.txt"))
	require.NoError(t, err)
	require.NotEmpty(t, expanded)
	assert.Equal(t, "testRF", expanded[0].RunTag)

	fused := filepath.Join(runs, "fused.txt")
	require.NoError(t, execute("rrf", "--config", cfg, "-o", fused,
		filepath.Join(runs, "test.txt"), filepath.Join(runs, "test_RF.txt")))
	fusedEntries, _, err := runfile.ReadAll(fused)
	require.NoError(t, err)
	require.NotEmpty(t, fusedEntries)
	assert.Equal(t, "rrf", fusedEntries[0].RunTag)

	final := filepath.Join(runs, "final.txt")
	require.NoError(t, execute("rerank", "--config", cfg, "-o", final, fused))
	reranked, _, err := runfile.ReadAll(final)
	require.NoError(t, err)
	require.Len(t, reranked, len(fusedEntries))
	for i, e := range reranked {
		assert.Equal(t, "reranked", e.RunTag)
		if i == 0 || reranked[i-1].TopicID != e.TopicID {
			assert.Equal(t, 1, e.Rank)
		} else {
			assert.Equal(t, reranked[i-1].Rank+1, e.Rank)
			assert.GreaterOrEqual(t, reranked[i-1].Score, e.Score)
		}
	}
}

func TestRerankUnknownSourceIsInvalidInput(t *testing.T) {
	dir := t.TempDir()
	run := write(t, filepath.Join(dir, "run.txt"), "1\tQ0\td1\t1\t1.0\tx\n")
	err := execute("rerank", "--config", "", "--source", "crystal-ball", "-o", filepath.Join(dir, "out.txt"), run)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
	assert.Equal(t, apperrors.ExitInvalidInput, apperrors.ExitCode(err))
	_, statErr := os.Stat(filepath.Join(dir, "out.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestReadPassesFailOnMissingIndex(t *testing.T) {
	dir := t.TempDir()
	runs := filepath.Join(dir, "runs")
	write(t, filepath.Join(dir, "topics.xml"), pipelineTopics)
	write(t, filepath.Join(dir, "qrels.txt"), "1 0 d1 2\n")
	cfg := write(t, filepath.Join(dir, "config.yaml"), fmt.Sprintf(`
logging: {level: error}
indexer: {dataDir: %[1]s/typo-index}
search: {topicsPath: %[1]s/topics.xml, runDir: %[1]s/runs, runID: test}
feedback: {qrelsPath: %[1]s/qrels.txt}
`, dir))

	for _, tc := range []struct {
		name string
		args []string
		out  string
	}{
		{"search", []string{"search", "--config", cfg, "-o", filepath.Join(runs, "test.txt")}, filepath.Join(runs, "test.txt")},
		{"rf", []string{"rf", "--config", cfg}, filepath.Join(runs, "test_RF.txt")},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := execute(tc.args...)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrResourceUnavailable))
			assert.Equal(t, apperrors.ExitResourceUnavailable, apperrors.ExitCode(err))
			_, statErr := os.Stat(tc.out)
			assert.True(t, os.IsNotExist(statErr))
			_, statErr = os.Stat(filepath.Join(dir, "typo-index"))
			assert.True(t, os.IsNotExist(statErr))
		})
	}
}
