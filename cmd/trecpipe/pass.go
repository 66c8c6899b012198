package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kueri-lab/trecpipe/internal/indexer"
	"github.com/kueri-lab/trecpipe/internal/runfile"
	"github.com/kueri-lab/trecpipe/internal/searcher"
	"github.com/kueri-lab/trecpipe/internal/searcher/executor"
	"github.com/kueri-lab/trecpipe/internal/searcher/ranker"
	"github.com/kueri-lab/trecpipe/internal/stats"
	"github.com/kueri-lab/trecpipe/pkg/config"
	apperrors "github.com/kueri-lab/trecpipe/pkg/errors"
	"github.com/kueri-lab/trecpipe/pkg/kafka"
	"github.com/kueri-lab/trecpipe/pkg/logger"
	"github.com/kueri-lab/trecpipe/pkg/metrics"
	"github.com/kueri-lab/trecpipe/pkg/postgres"
	"github.com/kueri-lab/trecpipe/pkg/tracing"
)

// pass holds what every subcommand shares: configuration, a pass id carried
// on every log line, the root span, counters and resources to release.
type pass struct {
	cfg      *config.Config
	ctx      context.Context
	id       string
	stage    string
	logger   *slog.Logger
	metrics  *metrics.Metrics
	recorder *stats.Recorder
	span     *tracing.Span
	shutdown func(context.Context) error
	closers  []func() error
	engine   *indexer.Engine
}

func startPass(cmd *cobra.Command, stage string) (*pass, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	id := uuid.NewString()
	ctx := logger.WithPassID(cmd.Context(), id)
	ctx, span := tracing.StartSpan(ctx, stage, id)

	p := &pass{
		cfg:    cfg,
		ctx:    ctx,
		id:     id,
		stage:  stage,
		span:   span,
		logger: logger.FromContext(ctx).With("stage", stage),
	}
	if cfg.Metrics.Enabled || cfg.Metrics.PushgatewayURL != "" {
		p.metrics = metrics.New()
	}
	if cfg.Metrics.Enabled {
		p.shutdown = p.metrics.StartServer(cfg.Metrics.Port)
	}
	p.recorder = stats.NewRecorder(stage, id, p.metrics)
	p.logger.Info("pass started", "config", configPath)
	return p, nil
}

// onClose registers fn to run when the pass finishes, in reverse order.
func (p *pass) onClose(fn func() error) {
	p.closers = append(p.closers, fn)
}

// finish releases resources, logs the span tree and the summary, and
// exports metrics. It returns err, or the first close error when err is nil.
func (p *pass) finish(err error) error {
	for i := len(p.closers) - 1; i >= 0; i-- {
		if cerr := p.closers[i](); cerr != nil {
			p.logger.Error("releasing resource", "error", cerr)
			if err == nil {
				err = cerr
			}
		}
	}
	p.span.SetAttr("ok", err == nil)
	p.span.End()
	p.span.Log(p.logger)
	p.span.Walk(func(path string, depth int, s *tracing.Span) {
		if depth > 0 {
			p.metrics.ObserveStage(path, s.Elapsed())
		}
	})
	sum := p.recorder.Finish(p.logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if p.metrics != nil && p.cfg.Metrics.PushgatewayURL != "" {
		if perr := p.metrics.Push(ctx, p.cfg.Metrics.PushgatewayURL, p.cfg.Metrics.Job, p.id); perr != nil {
			p.logger.Warn("metrics push failed", "error", perr)
		}
	}
	if saveSummary {
		if serr := p.saveSummary(ctx, sum); serr != nil {
			p.logger.Warn("pass summary not saved", "error", serr)
		}
	}
	if p.shutdown != nil {
		if serr := p.shutdown(ctx); serr != nil {
			p.logger.Warn("metrics server shutdown", "error", serr)
		}
	}
	return err
}

func (p *pass) saveSummary(ctx context.Context, sum stats.Summary) error {
	client, err := p.postgres()
	if err != nil {
		return err
	}
	defer client.Close()
	if err := client.Migrate(ctx); err != nil {
		return err
	}
	return stats.NewStore(client).Save(ctx, sum)
}

func (p *pass) postgres() (*postgres.Client, error) {
	client, err := postgres.New(p.cfg.Postgres)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrResourceUnavailable, "postgres", err.Error())
	}
	return client, nil
}

// index opens the existing index once per pass; it is closed when the
// pass ends. A missing or empty index fails the pass.
func (p *pass) index() (*indexer.Engine, error) {
	return p.openIndex(indexer.Open)
}

// buildIndex opens the index for writing, creating its directory.
func (p *pass) buildIndex() (*indexer.Engine, error) {
	return p.openIndex(indexer.NewEngine)
}

func (p *pass) openIndex(open func(config.IndexerConfig, ...indexer.Option) (*indexer.Engine, error)) (*indexer.Engine, error) {
	if p.engine != nil {
		return p.engine, nil
	}
	engine, err := open(p.cfg.Indexer,
		indexer.WithMetrics(p.metrics),
		indexer.WithLogger(p.logger.With("component", "indexer")),
	)
	if err != nil {
		return nil, err
	}
	p.engine = engine
	p.onClose(engine.Close)
	p.logger.Info("index opened", "dir", p.cfg.Indexer.DataDir, "docs", engine.TotalDocs())
	return engine, nil
}

// batch builds the search stage shared by search and rf.
func (p *pass) batch(engine *indexer.Engine, similarity, runTag string, limit int) (searcher.Batch, error) {
	sim, err := ranker.New(similarity)
	if err != nil {
		return searcher.Batch{}, err
	}
	return searcher.Batch{
		Executor: executor.New(engine, sim),
		Limit:    limit,
		RunTag:   runTag,
		Workers:  p.cfg.Search.Workers,
		Recorder: p.recorder,
		Logger:   p.logger,
	}, nil
}

// writeRun opens the output, lets fn fill it and commits it. On failure
// the partial file is discarded. "-" writes to stdout.
func (p *pass) writeRun(path string, fn func(runfile.Sink) error) error {
	var sink runfile.Sink
	if path == "-" {
		sink = runfile.NewStreamWriter(os.Stdout)
	} else {
		w, err := runfile.Create(path)
		if err != nil {
			return err
		}
		sink = w
	}
	if p.cfg.Kafka.Enabled {
		producer := kafka.NewProducer(p.cfg.Kafka, p.cfg.Kafka.Topics.RunEntries)
		p.onClose(producer.Close)
		sink = runfile.Tee(sink, runfile.NewPublishSink(p.ctx, producer, p.id, p.stage))
	}

	if err := fn(sink); err != nil {
		if aerr := runfile.Abort(sink); aerr != nil {
			p.logger.Warn("discarding partial run", "path", path, "error", aerr)
		}
		return err
	}
	if err := sink.Close(); err != nil {
		return fmt.Errorf("closing run %s: %w", path, err)
	}
	p.span.SetAttr("output", path)
	p.logger.Info("run written", "path", path, "entries", p.recorder.Summary().EntriesWritten)
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
