package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	apperrors "github.com/kueri-lab/trecpipe/pkg/errors"
	"github.com/kueri-lab/trecpipe/pkg/health"
	"github.com/kueri-lab/trecpipe/pkg/kafka"
	"github.com/kueri-lab/trecpipe/pkg/postgres"
	pkgredis "github.com/kueri-lab/trecpipe/pkg/redis"
)

var doctorTimeout time.Duration

func init() {
	doctorCmd.Flags().DurationVar(&doctorTimeout, "timeout", 10*time.Second, "time allowed for all checks")
	rootCmd.AddCommand(doctorCmd)
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check every configured input and service before a long pass",
	Args:  cobra.NoArgs,
	RunE:  runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) (err error) {
	p, err := startPass(cmd, "doctor")
	if err != nil {
		return err
	}
	defer func() { err = p.finish(err) }()

	cfg := p.cfg
	checker := health.NewChecker()
	checker.Register("corpus", health.PathCheck(cfg.Corpus.Dir, false))
	checker.Register("index", health.PathCheck(cfg.Indexer.DataDir, false))
	checker.Register("topics", health.PathCheck(cfg.Search.TopicsPath, true))
	checker.Register("qrels", health.PathCheck(cfg.Feedback.QrelsPath, false))
	checker.Register("scores", health.PathCheck(cfg.Rerank.ScoresPath, cfg.Rerank.Source == "file"))
	checker.Register("stoplist", health.PathCheck(cfg.Indexer.StopListPath, true))

	if cfg.Redis.Enabled {
		checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
			client, err := pkgredis.NewClient(cfg.Redis)
			if err != nil {
				return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
			}
			defer client.Close()
			return health.PingCheck(client.Ping)(ctx)
		})
	} else {
		checker.Register("redis", health.Skipped("redis.enabled is false"))
	}

	checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
		client, err := postgres.New(cfg.Postgres)
		if err != nil {
			status := health.StatusDegraded
			if cfg.Rerank.Source == "postgres" {
				status = health.StatusDown
			}
			return health.ComponentHealth{Status: status, Message: err.Error()}
		}
		defer client.Close()
		return health.PingCheck(client.Ping)(ctx)
	})

	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.RunEntries)
		p.onClose(producer.Close)
		checker.Register("kafka", health.PingCheck(producer.Ping))
	} else {
		checker.Register("kafka", health.Skipped("kafka.enabled is false"))
	}

	if cfg.Quality.API.BaseURL != "" {
		checker.Register("quality-api", health.PingCheck(func(ctx context.Context) error {
			return reachable(ctx, cfg.Quality.API.BaseURL)
		}))
	} else {
		checker.Register("quality-api", health.Skipped("quality.api.baseURL is empty"))
	}

	ctx, cancel := context.WithTimeout(p.ctx, doctorTimeout)
	defer cancel()
	report := checker.Run(ctx)
	if _, err := report.WriteTo(cmd.OutOrStdout()); err != nil {
		return err
	}
	if report.Status == health.StatusDown {
		return apperrors.New(apperrors.ErrResourceUnavailable, "doctor", "a required dependency is down")
	}
	return nil
}

// reachable reports whether url answers HTTP at all; any status below 500
// counts as up.
func reachable(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
