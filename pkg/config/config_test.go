package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kueri-lab/trecpipe/pkg/errors"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Fusion.K)
	assert.Equal(t, 1000, cfg.Search.MaxDocsRetrieved)
	assert.Equal(t, float32(1.0), cfg.Rerank.DefaultScore)
	assert.Equal(t, "reranked", cfg.Rerank.RunTag)
	assert.Equal(t, "bm25", cfg.Search.Similarity)
	assert.Equal(t, 1.0, cfg.Search.FieldWeights["docT5Query"])
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trecpipe.yaml")
	yml := `
fusion:
  k: 60
rerank:
  defaultScore: 0.5
  source: api
quality:
  api:
    timeout: 3s
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))
	t.Setenv("TP_SEARCH_RUN_ID", "kueri-run")
	t.Setenv("TP_KAFKA_BROKERS", "a:9092,b:9092")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 60, cfg.Fusion.K)
	assert.Equal(t, float32(0.5), cfg.Rerank.DefaultScore)
	assert.Equal(t, "api", cfg.Rerank.Source)
	assert.Equal(t, 3*time.Second, cfg.Quality.API.Timeout)
	assert.Equal(t, "kueri-run", cfg.Search.RunID)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	// Untouched sections keep their defaults.
	assert.Equal(t, 64, cfg.Rerank.BatchSize)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"similarity", func(c *Config) { c.Search.Similarity = "dfr" }},
		{"filter", func(c *Config) { c.Search.Filter = "xor" }},
		{"negative k", func(c *Config) { c.Fusion.K = -1 }},
		{"workers", func(c *Config) { c.Feedback.Workers = 0 }},
		{"source", func(c *Config) { c.Rerank.Source = "oracle" }},
		{"max lines", func(c *Config) { c.Rerank.MaxLines = -5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestDSN(t *testing.T) {
	p := Default().Postgres
	assert.Equal(t, "host=localhost port=5432 user=trecpipe password=localdev dbname=trecpipe sslmode=disable", p.DSN())
}
