// Command intake runs the case import pipeline from the command line:
// validate or fix a CSV offline, submit it to a case store, or generate
// sample files for testing.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/intake/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		envFile  string
		logLevel string
	)

	rootCmd := &cobra.Command{
		Use:   "intake",
		Short: "Validate, fix and submit applicant CSV files",
		Long: `Case Intake

Reads applicant CSV files the same way the intake server does, reports
validation errors, applies bulk corrections and submits valid rows as
cases in batches of 100.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// A missing .env file is fine; flags and the environment still apply.
			_ = godotenv.Load(envFile)
			logging.Setup(logLevel, "text")
		},
	}

	rootCmd.PersistentFlags().StringVarP(&envFile, "env-file", "e", ".env", "Path to .env file")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "warn", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newValidateCmd(),
		newFixCmd(),
		newSubmitCmd(),
		newSampleCmd(),
		newTokenCmd(),
	)
	return rootCmd
}
