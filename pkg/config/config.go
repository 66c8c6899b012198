// Package config loads and validates pipeline configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// stage (Indexer, Search, Feedback, Fusion, Rerank) and for the external
// services the quality sources and run publisher talk to.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/kueri-lab/trecpipe/pkg/errors"
)

// Config is the top-level pipeline configuration.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Indexer  IndexerConfig  `yaml:"indexer"`
	Corpus   CorpusConfig   `yaml:"corpus"`
	Search   SearchConfig   `yaml:"search"`
	Feedback FeedbackConfig `yaml:"feedback"`
	Fusion   FusionConfig   `yaml:"fusion"`
	Rerank   RerankConfig   `yaml:"rerank"`
	Quality  QualityConfig  `yaml:"quality"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server and the optional
// end-of-pass push to a Pushgateway.
type MetricsConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Port           int    `yaml:"port"`
	PushgatewayURL string `yaml:"pushgatewayURL"`
	Job            string `yaml:"job"`
}

// IndexerConfig controls where segments live and how documents are analyzed.
type IndexerConfig struct {
	DataDir        string `yaml:"dataDir"`
	SegmentMaxSize int64  `yaml:"segmentMaxSize"`
	StopListPath   string `yaml:"stopListPath"`
	Stem           bool   `yaml:"stem"`
}

type CorpusConfig struct {
	Dir    string `yaml:"dir"`
	Format string `yaml:"format"`
}

// SearchConfig controls the base topic run.
type SearchConfig struct {
	TopicsPath       string             `yaml:"topicsPath"`
	RunDir           string             `yaml:"runDir"`
	RunID            string             `yaml:"runID"`
	MaxDocsRetrieved int                `yaml:"maxDocsRetrieved"`
	Similarity       string             `yaml:"similarity"`
	Filter           string             `yaml:"filter"`
	FieldWeights     map[string]float64 `yaml:"fieldWeights"`
	Workers          int                `yaml:"workers"`
}

type FeedbackConfig struct {
	QrelsPath string `yaml:"qrelsPath"`
	Field     string `yaml:"field"`
	Workers   int    `yaml:"workers"`
}

type FusionConfig struct {
	K      int    `yaml:"k"`
	RunTag string `yaml:"runTag"`
}

// RerankConfig selects the quality score source and the rerank output.
type RerankConfig struct {
	Source             string  `yaml:"source"`
	ScoresPath         string  `yaml:"scoresPath"`
	FallbackScoresPath string  `yaml:"fallbackScoresPath"`
	DefaultScore       float32 `yaml:"defaultScore"`
	RunTag             string  `yaml:"runTag"`
	BatchSize          int     `yaml:"batchSize"`
	MaxLines           int     `yaml:"maxLines"`
	QualityField       string  `yaml:"qualityField"`
}

type QualityConfig struct {
	API   QualityAPIConfig `yaml:"api"`
	Judge JudgeConfig      `yaml:"judge"`
}

// QualityAPIConfig holds the remote argument-quality service settings.
type QualityAPIConfig struct {
	BaseURL     string        `yaml:"baseURL"`
	APIKey      string        `yaml:"apiKey"`
	Timeout     time.Duration `yaml:"timeout"`
	RateLimit   float64       `yaml:"rateLimit"`
	Burst       int           `yaml:"burst"`
	MaxAttempts int           `yaml:"maxAttempts"`
}

// JudgeConfig holds the OpenAI-compatible endpoint used to judge quality.
type JudgeConfig struct {
	BaseURL string `yaml:"baseURL"`
	APIKey  string `yaml:"apiKey"`
	Model   string `yaml:"model"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled bool        `yaml:"enabled"`
	Brokers []string    `yaml:"brokers"`
	Topics  KafkaTopics `yaml:"topics"`
}

type KafkaTopics struct {
	RunEntries string `yaml:"runEntries"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides on top of the defaults. The result is validated before return.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Port: 9090,
			Job:  "trecpipe",
		},
		Indexer: IndexerConfig{
			DataDir:        "experiment/index",
			SegmentMaxSize: 64 * 1024 * 1024,
			Stem:           true,
		},
		Corpus: CorpusConfig{
			Dir:    "corpus",
			Format: "jsonl",
		},
		Search: SearchConfig{
			TopicsPath:       "topics.xml",
			RunDir:           "runs",
			RunID:            "seupd-kueri",
			MaxDocsRetrieved: 1000,
			Similarity:       "bm25",
			FieldWeights: map[string]float64{
				"contents":   1.0,
				"docT5Query": 1.0,
			},
			Workers: 4,
		},
		Feedback: FeedbackConfig{
			QrelsPath: "qrels.txt",
			Field:     "contents",
			Workers:   4,
		},
		Fusion: FusionConfig{
			K:      30,
			RunTag: "rrf",
		},
		Rerank: RerankConfig{
			Source:       "file",
			DefaultScore: 1.0,
			RunTag:       "reranked",
			BatchSize:    64,
			QualityField: "quality",
		},
		Quality: QualityConfig{
			API: QualityAPIConfig{
				Timeout:     10 * time.Second,
				RateLimit:   5,
				Burst:       5,
				MaxAttempts: 3,
			},
			Judge: JudgeConfig{
				Model: "gpt-4o-mini",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 7 * 24 * time.Hour,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "trecpipe",
			User:            "trecpipe",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topics: KafkaTopics{
				RunEntries: "run-entries",
			},
		},
	}
}

// Validate reports the first invalid setting as ErrInvalidInput.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return apperrors.Newf(apperrors.ErrInvalidInput, "config", format, args...)
	}
	switch c.Search.Similarity {
	case "bm25", "tfidf", "lmd":
	default:
		return invalid("unknown similarity %q", c.Search.Similarity)
	}
	switch strings.ToLower(c.Search.Filter) {
	case "", "and", "or":
	default:
		return invalid("unknown filter mode %q", c.Search.Filter)
	}
	if c.Search.MaxDocsRetrieved <= 0 {
		return invalid("search.maxDocsRetrieved must be positive, got %d", c.Search.MaxDocsRetrieved)
	}
	if c.Search.RunID == "" {
		return invalid("search.runID must not be empty")
	}
	if c.Fusion.K < 0 {
		return invalid("fusion.k must not be negative, got %d", c.Fusion.K)
	}
	if c.Search.Workers <= 0 {
		return invalid("search.workers must be positive, got %d", c.Search.Workers)
	}
	if c.Feedback.Workers <= 0 {
		return invalid("feedback.workers must be positive, got %d", c.Feedback.Workers)
	}
	if c.Rerank.BatchSize <= 0 {
		return invalid("rerank.batchSize must be positive, got %d", c.Rerank.BatchSize)
	}
	if c.Rerank.MaxLines < 0 {
		return invalid("rerank.maxLines must not be negative, got %d", c.Rerank.MaxLines)
	}
	switch c.Rerank.Source {
	case "file", "index", "api", "postgres", "judge":
	default:
		return invalid("unknown rerank source %q", c.Rerank.Source)
	}
	return nil
}

// applyEnvOverrides reads TP_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TP_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TP_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("TP_METRICS_PUSHGATEWAY_URL"); v != "" {
		cfg.Metrics.PushgatewayURL = v
	}
	if v := os.Getenv("TP_INDEXER_DATA_DIR"); v != "" {
		cfg.Indexer.DataDir = v
	}
	if v := os.Getenv("TP_SEARCH_RUN_DIR"); v != "" {
		cfg.Search.RunDir = v
	}
	if v := os.Getenv("TP_SEARCH_RUN_ID"); v != "" {
		cfg.Search.RunID = v
	}
	if v := os.Getenv("TP_FUSION_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil {
			cfg.Fusion.K = k
		}
	}
	if v := os.Getenv("TP_RERANK_DEFAULT_SCORE"); v != "" {
		if s, err := strconv.ParseFloat(v, 32); err == nil {
			cfg.Rerank.DefaultScore = float32(s)
		}
	}
	if v := os.Getenv("TP_QUALITY_API_URL"); v != "" {
		cfg.Quality.API.BaseURL = v
	}
	if v := os.Getenv("TP_QUALITY_API_KEY"); v != "" {
		cfg.Quality.API.APIKey = v
	}
	if v := os.Getenv("TP_JUDGE_BASE_URL"); v != "" {
		cfg.Quality.Judge.BaseURL = v
	}
	if v := os.Getenv("TP_JUDGE_API_KEY"); v != "" {
		cfg.Quality.Judge.APIKey = v
	}
	if v := os.Getenv("TP_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("TP_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("TP_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("TP_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("TP_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("TP_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("TP_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("TP_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
}
