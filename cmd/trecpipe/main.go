// Package main implements trecpipe, the command line front end of the
// ranked-list pipeline: index, search, feedback, fusion and rerank passes.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	apperrors "github.com/kueri-lab/trecpipe/pkg/errors"
)

var (
	configPath  string
	logLevel    string
	saveSummary bool
	version     = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "trecpipe",
	Short: "Build TREC runs and post-process ranked lists",
	Long: `trecpipe indexes a document corpus, runs topic queries against it and
post-processes the resulting ranked lists: relevance feedback expansion,
reciprocal rank fusion and quality-based reranking.

Every pass writes a TREC run file and logs a summary of what it read,
wrote and skipped.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file (defaults apply when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVar(&saveSummary, "save-summary", false, "store the pass summary in PostgreSQL")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(apperrors.ExitCode(err))
	}
}
