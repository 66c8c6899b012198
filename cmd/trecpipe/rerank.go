package main

import (
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kueri-lab/trecpipe/internal/quality"
	"github.com/kueri-lab/trecpipe/internal/rerank"
	"github.com/kueri-lab/trecpipe/internal/runfile"
	"github.com/kueri-lab/trecpipe/internal/stats"
	"github.com/kueri-lab/trecpipe/internal/topic"
	apperrors "github.com/kueri-lab/trecpipe/pkg/errors"
	pkgredis "github.com/kueri-lab/trecpipe/pkg/redis"
)

var (
	rerankSource    string
	rerankScores    string
	rerankFallback  string
	rerankLimit     int
	rerankRunTag    string
	rerankOut       string
	rerankTopicFile string
)

func init() {
	rerankCmd.Flags().StringVar(&rerankSource, "source", "", "score source: file, index, api, postgres or judge (overrides rerank.source)")
	rerankCmd.Flags().StringVar(&rerankScores, "scores", "", "id<TAB>score file for the file source (overrides rerank.scoresPath)")
	rerankCmd.Flags().StringVar(&rerankFallback, "fallback-scores", "", "score file used when the source fails or has no score (overrides rerank.fallbackScoresPath)")
	rerankCmd.Flags().IntVar(&rerankLimit, "limit", -1, "rerank only the first n lines, 0 for all (overrides rerank.maxLines)")
	rerankCmd.Flags().StringVar(&rerankRunTag, "run-tag", "", "tag of the reranked run (overrides rerank.runTag)")
	rerankCmd.Flags().StringVarP(&rerankOut, "out", "o", "", "output run file, - for stdout (default <runDir>/<input>_reranked.txt)")
	rerankCmd.Flags().StringVar(&rerankTopicFile, "topics", "", "topics XML giving titles to the api and judge sources (overrides search.topicsPath)")
	rootCmd.AddCommand(rerankCmd)
}

var rerankCmd = &cobra.Command{
	Use:   "rerank <run>",
	Short: "Scale run scores by document quality and re-sort",
	Long: `Multiply every entry's score by the quality of its document and re-sort
each topic. Documents without a quality score keep rerank.defaultScore
(1.0, leaving the score unchanged).

Examples:
  trecpipe rerank runs/fused.txt --scores quality.tsv
  trecpipe rerank runs/fused.txt --source api --fallback-scores quality.tsv --limit 5000`,
	Args: cobra.ExactArgs(1),
	RunE: runRerank,
}

func runRerank(cmd *cobra.Command, args []string) (err error) {
	p, err := startPass(cmd, "rerank")
	if err != nil {
		return err
	}
	defer func() { err = p.finish(err) }()

	cfg := p.cfg.Rerank
	limit := cfg.MaxLines
	if rerankLimit >= 0 {
		limit = rerankLimit
	}
	src, err := p.qualitySource(firstNonEmpty(rerankSource, cfg.Source))
	if err != nil {
		return err
	}
	p.span.SetAttr("source", src.Name())

	r := rerank.New(src,
		rerank.WithDefaultScore(cfg.DefaultScore),
		rerank.WithRunTag(firstNonEmpty(rerankRunTag, cfg.RunTag)),
		rerank.WithBatchSize(cfg.BatchSize),
		rerank.WithMaxLines(limit),
		rerank.WithRecorder(p.recorder),
	)
	in := args[0]
	base := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))
	out := firstNonEmpty(rerankOut, filepath.Join(p.cfg.Search.RunDir, base+"_reranked.txt"))
	return p.writeRun(out, func(sink runfile.Sink) error {
		return r.RerankFile(p.ctx, in, sink)
	})
}

// qualitySource builds the configured score source, cached and backed by
// the fallback file when those are configured.
func (p *pass) qualitySource(name string) (quality.Source, error) {
	const op = "rerank.source"
	var src quality.Source
	switch name {
	case "file":
		path := firstNonEmpty(rerankScores, p.cfg.Rerank.ScoresPath)
		if path == "" {
			return nil, apperrors.New(apperrors.ErrInvalidInput, op, "the file source needs --scores or rerank.scoresPath")
		}
		fs, err := quality.LoadFile(path)
		if err != nil {
			return nil, err
		}
		p.recorder.Skip(stats.ReasonMalformed, fs.Skipped())
		src = fs
	case "index":
		engine, err := p.index()
		if err != nil {
			return nil, err
		}
		src = quality.NewIndexSource(engine, p.cfg.Rerank.QualityField)
	case "postgres":
		client, err := p.postgres()
		if err != nil {
			return nil, err
		}
		p.onClose(client.Close)
		src = quality.NewPostgresSource(client.DB)
	case "api", "judge":
		engine, err := p.index()
		if err != nil {
			return nil, err
		}
		titles, err := p.topicTitles()
		if err != nil {
			return nil, err
		}
		if name == "api" {
			src, err = quality.NewAPISource(p.cfg.Quality.API, engine, titles, quality.WithAPIMetrics(p.metrics))
		} else {
			src, err = quality.NewJudgeSource(p.cfg.Quality.Judge, p.cfg.Quality.API, engine, titles)
		}
		if err != nil {
			return nil, err
		}
		src = quality.Cached(src, p.scoreCache(src.Name()))
	default:
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, op, "unknown score source %q", name)
	}

	if path := firstNonEmpty(rerankFallback, p.cfg.Rerank.FallbackScoresPath); path != "" {
		fb, err := quality.LoadFile(path)
		if err != nil {
			return nil, err
		}
		src = quality.Fallback(src, fb)
	}
	return quality.Instrument(src, p.metrics), nil
}

func (p *pass) topicTitles() (map[string]string, error) {
	topics, _, err := topic.Load(firstNonEmpty(rerankTopicFile, p.cfg.Search.TopicsPath))
	if err != nil {
		return nil, err
	}
	return topic.Titles(topics), nil
}

// scoreCache connects to Redis when enabled. The cache is optional: when
// Redis cannot be reached the pass continues without it.
func (p *pass) scoreCache(namespace string) *quality.ScoreCache {
	if !p.cfg.Redis.Enabled {
		return nil
	}
	client, err := pkgredis.NewClient(p.cfg.Redis)
	if err != nil {
		p.logger.Warn("score cache disabled", "error", err)
		return nil
	}
	p.onClose(client.Close)
	return quality.NewScoreCache(client, namespace, p.cfg.Redis.CacheTTL, p.metrics)
}
