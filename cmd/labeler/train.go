package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"mailrank/internal/analytics"
	"mailrank/internal/classifier"
	"mailrank/internal/database"
	"mailrank/internal/training"
)

func trainCmd() *cobra.Command {
	opts := training.DefaultTrainOptions()
	var input, output string

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the classifier model from a JSONL corpus",
		Long: `Fits a naive Bayes model on the corpus and installs it atomically.

If the corpus covers fewer than two categories, or any category has fewer than
--min-per-category examples, the existing model is left untouched.

Examples:
  labeler train -i data/training.jsonl
  labeler train -i data/training.jsonl -o /models/model.json --holdout 0.1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrain(cmd.Context(), opts, input, output)
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "data/training.jsonl", "corpus file")
	cmd.Flags().StringVarP(&output, "output", "o", "", "model artifact path (default MODEL_PATH)")
	cmd.Flags().Float64Var(&opts.HoldoutFraction, "holdout", opts.HoldoutFraction, "share of examples held out for accuracy")
	cmd.Flags().Float64Var(&opts.Alpha, "alpha", opts.Alpha, "additive smoothing")
	cmd.Flags().IntVar(&opts.MinPerCategory, "min-per-category", opts.MinPerCategory, "minimum examples per category")

	return cmd
}

func runTrain(ctx context.Context, opts training.TrainOptions, input, output string) error {
	cfg := loadConfig()
	logger := cfg.SetupLogger()
	if output == "" {
		output = cfg.ModelPath
	}

	f, err := os.Open(input)
	if err != nil {
		return fmt.Errorf("failed to open corpus: %w", err)
	}
	examples, err := training.ReadJSONL(f)
	_ = f.Close()
	if err != nil {
		return err
	}

	tracker := trainingTracker(ctx, cfg.DatabaseURL, logger)
	model, err := training.TrainAndSave(examples, output, opts)
	if err != nil {
		if errors.Is(err, training.ErrTrainingDataInsufficient) && tracker != nil {
			_ = tracker.TrackTrainingDataInsufficient(ctx, err.Error())
		}
		return fmt.Errorf("training failed: %w", err)
	}
	if tracker != nil {
		if err := tracker.TrackTrainingRun(ctx, model.Version, model.Metrics.TrainSize, model.Metrics.HoldoutAccuracy); err != nil {
			logger.Warn().Err(err).Msg("Failed to track training run")
		}
	}

	printModel(model, output)
	return nil
}

// trainingTracker records training events when the index database is reachable
func trainingTracker(ctx context.Context, databaseURL string, logger zerolog.Logger) *analytics.Service {
	if databaseURL == "" {
		return nil
	}
	writer, err := database.NewWriteClient(databaseURL)
	if err != nil {
		logger.Warn().Err(err).Msg("Training events will not be recorded")
		return nil
	}
	svc, err := analytics.NewService(ctx, writer, logger)
	if err != nil {
		_ = writer.Close()
		return nil
	}
	return svc
}

func printModel(model *classifier.Model, path string) {
	fmt.Printf("Model %s written to %s\n", model.Version, path)
	fmt.Printf("  Train size:       %d\n", model.Metrics.TrainSize)
	fmt.Printf("  Holdout size:     %d\n", model.Metrics.HoldoutSize)
	fmt.Printf("  Holdout accuracy: %.3f\n", model.Metrics.HoldoutAccuracy)
	for _, category := range model.Categories {
		fmt.Printf("  %-12s %d\n", category+":", model.Metrics.PerCategory[category])
	}
}
