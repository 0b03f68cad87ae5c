package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"mailrank/internal/app"
	"mailrank/internal/training"
)

func exportCmd() *cobra.Command {
	opts := training.DefaultExportOptions()
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export rule-labeled documents as a JSONL training corpus",
		Long: `Reads every classified document from the email index and writes training examples.

Only documents labeled by exactly one rule are used, plus a deterministic sample of
default-labeled documents as "other". Model-labeled documents are never exported.
A category with fewer than --min-per-category examples fails the export unless
--allow-drop is set.

Examples:
  labeler export -o data/training.jsonl
  labeler export --other-rate 0.1 --min-per-category 20`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), opts, output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "data/training.jsonl", "corpus file")
	cmd.Flags().Float64Var(&opts.OtherRate, "other-rate", opts.OtherRate, "share of default-labeled documents kept as other")
	cmd.Flags().IntVar(&opts.MinPerCategory, "min-per-category", opts.MinPerCategory, "minimum examples per category")
	cmd.Flags().BoolVar(&opts.AllowDrop, "allow-drop", false, "drop under-filled categories instead of failing")
	cmd.Flags().Float64Var(&opts.BalanceFactor, "balance", opts.BalanceFactor, "cap each category at this multiple of the smallest")

	return cmd
}

func runExport(ctx context.Context, opts training.ExportOptions, output string) error {
	cfg := loadConfig()
	logger := cfg.SetupLogger()

	env, err := app.Open(ctx, cfg, nil, logger)
	if err != nil {
		return err
	}
	defer func() { _ = env.Close() }()

	corpus, err := training.Export(ctx, env.Store, opts, logger)
	if err != nil {
		if errors.Is(err, training.ErrTrainingDataInsufficient) && env.Analytics != nil {
			_ = env.Analytics.TrackTrainingDataInsufficient(ctx, err.Error())
		}
		return fmt.Errorf("export failed: %w", err)
	}

	if err := writeCorpus(output, corpus); err != nil {
		return err
	}

	fmt.Printf("Exported %d examples to %s\n", len(corpus.Examples), output)
	categories := make([]string, 0, len(corpus.Counts))
	for category := range corpus.Counts {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	for _, category := range categories {
		fmt.Printf("  %-12s %d\n", category+":", corpus.Counts[category])
	}
	return nil
}

func writeCorpus(path string, corpus *training.Corpus) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create corpus file: %w", err)
	}
	defer func() { _ = f.Close() }()

	w := bufio.NewWriter(f)
	if err := training.WriteJSONL(w, corpus.Examples); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write corpus: %w", err)
	}
	return f.Close()
}
