package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kueri-lab/trecpipe/internal/corpus"
	"github.com/kueri-lab/trecpipe/internal/feedback"
	"github.com/kueri-lab/trecpipe/internal/filter"
	"github.com/kueri-lab/trecpipe/internal/runfile"
	"github.com/kueri-lab/trecpipe/internal/searcher"
	"github.com/kueri-lab/trecpipe/internal/searcher/parser"
	"github.com/kueri-lab/trecpipe/internal/stats"
	"github.com/kueri-lab/trecpipe/internal/topic"
)

var (
	searchTopics     string
	searchRunID      string
	searchSimilarity string
	searchFilter     string
	searchOut        string

	rfQrels string
	rfRunID string
)

func init() {
	searchCmd.Flags().StringVar(&searchTopics, "topics", "", "topics XML file (overrides search.topicsPath)")
	searchCmd.Flags().StringVar(&searchRunID, "run-id", "", "run id and tag (overrides search.runID)")
	searchCmd.Flags().StringVar(&searchSimilarity, "similarity", "", "bm25, tfidf or lmd (overrides search.similarity)")
	searchCmd.Flags().StringVar(&searchFilter, "filter", "", "narrow results by topic objects: and|or (overrides search.filter)")
	searchCmd.Flags().StringVarP(&searchOut, "out", "o", "", "output run file, - for stdout (default <runDir>/<runID>.txt)")

	rfCmd.Flags().StringVar(&rfQrels, "qrels", "", "relevance judgments (overrides feedback.qrelsPath)")
	rfCmd.Flags().StringVar(&rfRunID, "run-id", "", "base run id; the expanded run is tagged <runID>RF (overrides search.runID)")

	rootCmd.AddCommand(searchCmd, rfCmd)
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Run every topic title against the index",
	Long: `Search the index with each topic's title over the weighted fields and write
the base run. With --filter the results are narrowed to documents matching
the topic's comparison objects.

Examples:
  trecpipe search --run-id seupd-bm25
  trecpipe search --similarity lmd --filter or -o runs/lmd-or.txt`,
	Args: cobra.NoArgs,
	RunE: runSearch,
}

var rfCmd = &cobra.Command{
	Use:   "rf",
	Short: "Expand topics with terms of judged documents and search again",
	Long: `Collect the term vectors of every judged document, weight each term by
frequency times the squared relevance grade, and run one expanded query per
topic. The run is written to <runDir>/<runID>_RF.txt.

Examples:
  trecpipe rf --qrels qrels/touche-task2.txt --run-id seupd-bm25`,
	Args: cobra.NoArgs,
	RunE: runFeedback,
}

func runSearch(cmd *cobra.Command, args []string) (err error) {
	p, err := startPass(cmd, "search")
	if err != nil {
		return err
	}
	defer func() { err = p.finish(err) }()

	cfg := p.cfg.Search
	runID := firstNonEmpty(searchRunID, cfg.RunID)
	topics, skipped, err := topic.Load(firstNonEmpty(searchTopics, cfg.TopicsPath))
	if err != nil {
		return err
	}
	p.recorder.Skip(stats.ReasonMalformed, skipped)
	p.span.SetAttr("topics", len(topics))

	engine, err := p.index()
	if err != nil {
		return err
	}
	batch, err := p.batch(engine, firstNonEmpty(searchSimilarity, cfg.Similarity), runID, cfg.MaxDocsRetrieved)
	if err != nil {
		return err
	}
	var opts []searcher.RunnerOption
	if mode := firstNonEmpty(searchFilter, cfg.Filter); mode != "" {
		m, err := filter.ParseMode(mode)
		if err != nil {
			return err
		}
		opts = append(opts, searcher.WithFilter(m, corpus.FieldContents))
	}
	runner := searcher.NewRunner(parser.New(engine.Analyzer(), cfg.FieldWeights), batch, opts...)

	out := firstNonEmpty(searchOut, filepath.Join(cfg.RunDir, runID+".txt"))
	return p.writeRun(out, func(sink runfile.Sink) error {
		return runner.Run(p.ctx, topics, sink)
	})
}

func runFeedback(cmd *cobra.Command, args []string) (err error) {
	p, err := startPass(cmd, "rf")
	if err != nil {
		return err
	}
	defer func() { err = p.finish(err) }()

	cfg := p.cfg
	runID := firstNonEmpty(rfRunID, cfg.Search.RunID)
	engine, err := p.index()
	if err != nil {
		return err
	}

	x := feedback.NewExtractor(engine,
		feedback.WithField(cfg.Feedback.Field),
		feedback.WithWorkers(cfg.Feedback.Workers),
		feedback.WithRecorder(p.recorder),
	)
	table, err := x.ExtractFile(p.ctx, firstNonEmpty(rfQrels, cfg.Feedback.QrelsPath))
	if err != nil {
		return err
	}
	p.span.SetAttr("topics", len(table))

	batch, err := p.batch(engine, cfg.Search.Similarity, feedback.RunTag(runID), feedback.DefaultMaxDocs)
	if err != nil {
		return err
	}
	exec := feedback.NewExecutor(batch, cfg.Feedback.Field)
	return p.writeRun(feedback.OutputPath(cfg.Search.RunDir, runID), func(sink runfile.Sink) error {
		return exec.Run(p.ctx, table, sink)
	})
}
