package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kueri-lab/trecpipe/internal/corpus"
	"github.com/kueri-lab/trecpipe/internal/indexer"
	"github.com/kueri-lab/trecpipe/internal/stats"
	apperrors "github.com/kueri-lab/trecpipe/pkg/errors"
)

var (
	indexCorpusDir string
	indexFormat    string
)

func init() {
	indexCmd.Flags().StringVar(&indexCorpusDir, "corpus", "", "corpus directory (overrides corpus.dir)")
	indexCmd.Flags().StringVar(&indexFormat, "format", "", "corpus format, one of "+strings.Join(corpus.Formats(), ", ")+" (overrides corpus.format)")
	rootCmd.AddCommand(indexCmd)
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build the search index from the corpus",
	Long: `Parse every corpus file under the corpus directory and add its documents
to the index in indexer.dataDir. Documents already indexed under the same id
are replaced.

Examples:
  trecpipe index --config experiment.yaml
  trecpipe index --corpus ./corpus --format jsonl`,
	Args: cobra.NoArgs,
	RunE: runIndex,
}

func runIndex(cmd *cobra.Command, args []string) (err error) {
	p, err := startPass(cmd, "index")
	if err != nil {
		return err
	}
	defer func() { err = p.finish(err) }()

	dir := firstNonEmpty(indexCorpusDir, p.cfg.Corpus.Dir)
	format := firstNonEmpty(indexFormat, p.cfg.Corpus.Format)
	files, err := corpus.Files(format, dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return apperrors.Newf(apperrors.ErrInvalidInput, "index", "no %s files under %s", format, dir)
	}
	p.span.SetAttr("files", len(files))

	engine, err := p.buildIndex()
	if err != nil {
		return err
	}
	for _, path := range files {
		if err := indexFile(p.ctx, engine, format, path, p.recorder); err != nil {
			return err
		}
		p.logger.Info("corpus file indexed", "path", path, "docs", p.recorder.Summary().EntriesWritten)
	}
	if err := engine.Flush(); err != nil {
		return fmt.Errorf("flushing index: %w", err)
	}
	p.logger.Info("index built", "docs", engine.TotalDocs())
	return nil
}

func indexFile(ctx context.Context, engine *indexer.Engine, format, path string, rec *stats.Recorder) error {
	f, err := os.Open(path)
	if err != nil {
		return apperrors.New(apperrors.ErrResourceUnavailable, "index", err.Error()).WithPath(path)
	}
	defer f.Close()

	parser, err := corpus.NewParser(format, f, path)
	if err != nil {
		return err
	}
	for parser.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec.LineRead()
		if err := engine.AddDocument(parser.Document()); err != nil {
			if errors.Is(err, apperrors.ErrInvalidInput) {
				rec.Skip(stats.ReasonMalformed, 1)
				continue
			}
			return fmt.Errorf("indexing %s: %w", path, err)
		}
		rec.EntryWritten()
	}
	rec.Skip(stats.ReasonMalformed, parser.Skipped())
	if err := parser.Err(); err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	return nil
}
