package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mailrank/internal/config"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "labeler",
		Short:         "Export weak labels, train the classifier model and preview classification",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(trainCmd())
	rootCmd.AddCommand(classifyCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the environment once per command
func loadConfig() *config.Config {
	return config.Load()
}
