package main

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"mailrank/internal/app"
	"mailrank/internal/emails"
	"mailrank/internal/models"
	"mailrank/internal/scoring"
)

// classification is the printed preview of one document
type classification struct {
	Labels          []string           `json:"labels"`
	LabelConfidence map[string]float64 `json:"label_confidence"`
	LabelSource     string             `json:"label_source"`
	Rules           []string           `json:"rules,omitempty"`
	Probabilities   map[string]float64 `json:"probabilities,omitempty"`
	Mode            string             `json:"mode"`
	Version         string             `json:"classifier_version"`
}

func classifyCmd() *cobra.Command {
	var (
		sender, subject, body string
		emlPath, modelPath    string
	)

	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Show how a document would be labeled",
		Long: `Runs the configured rules and model on one document and prints the result as JSON.

Examples:
  labeler classify --subject "Interview invitation" --sender jobs@acme.com
  labeler classify --eml message.eml --model data/model.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			logger := cfg.SetupLogger()
			if modelPath == "" {
				modelPath = cfg.ModelPath
			}

			doc := &models.EmailDocument{Sender: sender, Subject: subject, BodyText: body}
			if emlPath != "" {
				email, err := emails.NewParser(cfg.UserAddresses, logger).ParseEMLFile(emlPath)
				if err != nil {
					return err
				}
				doc = &models.EmailDocument{ID: email.MessageID, Sender: email.Sender, Subject: email.Subject, BodyText: email.BodyText}
			}
			if doc.Sender == "" && doc.Subject == "" && doc.BodyText == "" {
				return fmt.Errorf("nothing to classify: set --eml or --sender/--subject/--body")
			}

			ranking := app.LoadRanking(cfg, logger)
			cls := app.NewClassifier(ranking, modelPath, nil, logger)
			res := cls.Preview(doc)

			out, err := json.MarshalIndent(classification{
				Labels:          scoring.SortLabels(res.Labels, ranking.Scoring),
				LabelConfidence: res.Confidences,
				LabelSource:     res.Source,
				Rules:           res.Rules,
				Probabilities:   res.Probabilities,
				Mode:            string(res.Mode),
				Version:         res.Version,
			}, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(os.Stdout, string(out))
			return err
		},
	}

	cmd.Flags().StringVar(&sender, "sender", "", "sender address")
	cmd.Flags().StringVar(&subject, "subject", "", "subject line")
	cmd.Flags().StringVar(&body, "body", "", "body text")
	cmd.Flags().StringVar(&emlPath, "eml", "", "classify an .eml file instead")
	cmd.Flags().StringVar(&modelPath, "model", "", "model artifact (default MODEL_PATH)")

	return cmd
}
