package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kueri-lab/trecpipe/internal/fusion"
	"github.com/kueri-lab/trecpipe/internal/runfile"
)

var (
	rrfK      int
	rrfRunTag string
	rrfOut    string
)

func init() {
	rrfCmd.Flags().IntVar(&rrfK, "k", fusion.DefaultK, "rank constant added to every rank (overrides fusion.k)")
	rrfCmd.Flags().StringVar(&rrfRunTag, "run-tag", "", "tag of the fused run (overrides fusion.runTag)")
	rrfCmd.Flags().StringVarP(&rrfOut, "out", "o", "", "output run file, - for stdout (default <runDir>/rrf_<inputs>.txt)")
	rootCmd.AddCommand(rrfCmd)
}

var rrfCmd = &cobra.Command{
	Use:   "rrf <run|dir>...",
	Short: "Fuse runs with reciprocal rank fusion",
	Long: `Fuse run files with reciprocal rank fusion: every line adds 1/(k+rank) to
its document's score within the topic. Directories contribute every *.txt
file beneath them.

Examples:
  trecpipe rrf runs/bm25.txt runs/lmd.txt
  trecpipe rrf --k 60 runs/ -o runs/fused.txt`,
	Args: cobra.MinimumNArgs(1),
	RunE: runFusion,
}

func runFusion(cmd *cobra.Command, args []string) (err error) {
	p, err := startPass(cmd, "rrf")
	if err != nil {
		return err
	}
	defer func() { err = p.finish(err) }()

	k := p.cfg.Fusion.K
	if cmd.Flags().Changed("k") {
		k = rrfK
	}
	inputs, err := fusion.Inputs(args)
	if err != nil {
		return err
	}
	f, err := fusion.New(k,
		fusion.WithRunTag(firstNonEmpty(rrfRunTag, p.cfg.Fusion.RunTag)),
		fusion.WithWorkers(p.cfg.Search.Workers),
		fusion.WithRecorder(p.recorder),
	)
	if err != nil {
		return err
	}
	p.span.SetAttr("inputs", len(inputs))
	p.span.SetAttr("k", k)

	out := firstNonEmpty(rrfOut, filepath.Join(p.cfg.Search.RunDir, fusion.DefaultOutputName(inputs)))
	return p.writeRun(out, func(sink runfile.Sink) error {
		return f.Fuse(p.ctx, inputs, sink)
	})
}
