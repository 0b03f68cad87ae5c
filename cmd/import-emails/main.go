package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"mailrank/internal/app"
	"mailrank/internal/backfill"
	"mailrank/internal/config"
	"mailrank/internal/emails"
	"mailrank/internal/models"
)

// importer stores parsed messages and tracks the received-time range it saw
type importer struct {
	env      *app.Env
	stored   int
	failed   int
	earliest time.Time
	latest   time.Time
}

func (im *importer) store(ctx context.Context, batch []*models.Email) {
	for _, email := range batch {
		if err := im.env.Store.StoreEmail(ctx, email); err != nil {
			im.env.Logger.Warn().Err(err).Str("message_id", email.MessageID).Msg("Failed to store email")
			im.failed++
			continue
		}
		im.stored++
		if email.DateMissing {
			continue
		}
		if im.earliest.IsZero() || email.ReceivedAt.Before(im.earliest) {
			im.earliest = email.ReceivedAt
		}
		if email.ReceivedAt.After(im.latest) {
			im.latest = email.ReceivedAt
		}
	}
}

func main() {
	emlPath := flag.String("eml", "", "Path to EML file or directory containing EML files")
	mboxPath := flag.String("mbox", "", "Path to MBOX file")
	runBackfill := flag.Bool("backfill", true, "Classify and compute reply metrics for the imported window")
	batchSize := flag.Int("batch", 200, "MBOX messages stored per batch")
	flag.Parse()

	if *emlPath == "" && *mboxPath == "" {
		fmt.Println("Usage:")
		fmt.Println("  Import EML files:  import-emails -eml /path/to/file.eml")
		fmt.Println("  Import directory:  import-emails -eml /path/to/directory")
		fmt.Println("  Import MBOX:       import-emails -mbox /path/to/file.mbox")
		fmt.Println("  Skip backfill:     import-emails -eml /path -backfill=false")
		os.Exit(1)
	}

	cfg := config.Load()
	logger := cfg.SetupLogger()
	ctx := context.Background()

	env, err := app.Open(ctx, cfg, nil, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open email index")
	}
	defer func() { _ = env.Close() }()

	if len(cfg.UserAddresses) == 0 {
		logger.Warn().Msg("USER_ADDRESSES not set, no message will count as a user reply")
	}
	parser := emails.NewParser(cfg.UserAddresses, logger)
	im := &importer{env: env}

	if *emlPath != "" {
		logger.Info().Str("path", *emlPath).Msg("Parsing EML")

		info, err := os.Stat(*emlPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to access path")
		}

		var parsed []*models.Email
		switch {
		case info.IsDir():
			parsed, err = parser.ParseDirectory(*emlPath)
		case strings.HasSuffix(strings.ToLower(*emlPath), ".eml"):
			var email *models.Email
			email, err = parser.ParseEMLFile(*emlPath)
			parsed = []*models.Email{email}
		default:
			logger.Fatal().Msg("Invalid file type. Expected .eml file or directory")
		}
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to parse emails")
		}
		im.store(ctx, parsed)
	} else {
		logger.Info().Str("path", *mboxPath).Msg("Parsing MBOX")
		err := parser.ParseMBOXFileStreaming(*mboxPath, *batchSize, func(batch []*models.Email, progress emails.MBOXProgress) error {
			im.store(ctx, batch)
			logger.Info().
				Int("emails", progress.EmailsProcessed).
				Float64("percent", progress.PercentComplete).
				Int("stored", im.stored).
				Int("failed", im.failed).
				Msg("MBOX batch stored")
			return nil
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to parse MBOX")
		}
	}

	logger.Info().Int("stored", im.stored).Int("failed", im.failed).Msg("Email import complete")
	if env.Analytics != nil {
		if err := env.Analytics.TrackEmailImport(ctx, im.stored, im.failed); err != nil {
			logger.Warn().Err(err).Msg("Failed to track email import")
		}
	}

	if !*runBackfill || im.stored == 0 {
		return
	}

	// Replies can land on older inbound messages, so the window reaches back
	var window backfill.Window
	if !im.earliest.IsZero() {
		window.From = im.earliest.AddDate(0, 0, -cfg.BackfillWindowDays)
		window.To = im.latest.Add(time.Second)
	}
	stats, err := env.Runner().Run(ctx, window)
	if err != nil {
		logger.Fatal().Err(err).Msg("Backfill failed")
	}
	logger.Info().Interface("summary", stats.Summary()).Msg("Backfill of imported window complete")
}
