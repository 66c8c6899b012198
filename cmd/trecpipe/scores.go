package main

import (
	"github.com/spf13/cobra"

	"github.com/kueri-lab/trecpipe/internal/quality"
	"github.com/kueri-lab/trecpipe/internal/stats"
	apperrors "github.com/kueri-lab/trecpipe/pkg/errors"
	pkgredis "github.com/kueri-lab/trecpipe/pkg/redis"
)

func init() {
	scoresCmd.AddCommand(scoresLoadCmd, scoresClearCacheCmd)
	rootCmd.AddCommand(scoresCmd)
}

var scoresCmd = &cobra.Command{
	Use:   "scores",
	Short: "Manage stored quality scores",
}

var scoresLoadCmd = &cobra.Command{
	Use:   "load <scores.tsv>",
	Short: "Load an id<TAB>score file into PostgreSQL",
	Long: `Load a flat quality score file into the quality_scores table so the
postgres rerank source can serve it. Existing scores are replaced.

Examples:
  trecpipe scores load quality.tsv`,
	Args: cobra.ExactArgs(1),
	RunE: runScoresLoad,
}

var scoresClearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Remove every cached remote quality score from Redis",
	Args:  cobra.NoArgs,
	RunE:  runScoresClearCache,
}

func runScoresLoad(cmd *cobra.Command, args []string) (err error) {
	p, err := startPass(cmd, "scores-load")
	if err != nil {
		return err
	}
	defer func() { err = p.finish(err) }()

	src, err := quality.LoadFile(args[0])
	if err != nil {
		return err
	}
	p.recorder.LinesRead(int64(src.Len()) + src.Skipped())
	p.recorder.Skip(stats.ReasonMalformed, src.Skipped())

	client, err := p.postgres()
	if err != nil {
		return err
	}
	p.onClose(client.Close)
	if err := client.Migrate(p.ctx); err != nil {
		return err
	}
	n, err := quality.LoadScores(p.ctx, client, src.Scores())
	if err != nil {
		return err
	}
	p.logger.Info("quality scores stored", "path", args[0], "rows", n)
	return nil
}

func runScoresClearCache(cmd *cobra.Command, args []string) (err error) {
	p, err := startPass(cmd, "scores-clear-cache")
	if err != nil {
		return err
	}
	defer func() { err = p.finish(err) }()

	if !p.cfg.Redis.Enabled {
		return apperrors.New(apperrors.ErrInvalidInput, "scores.clear-cache", "redis.enabled is false")
	}
	client, err := pkgredis.NewClient(p.cfg.Redis)
	if err != nil {
		return apperrors.New(apperrors.ErrResourceUnavailable, "scores.clear-cache", err.Error())
	}
	p.onClose(client.Close)
	return quality.NewScoreCache(client, "", p.cfg.Redis.CacheTTL, p.metrics).Invalidate(p.ctx)
}
