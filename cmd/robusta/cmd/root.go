package cmd

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "robusta",
	Short: "A bar-driven quant trading runtime",
	Long: `Robusta runs portfolio strategies over market bars.

It provides tools for:
  - Backtesting weight-target strategies over historical bars
  - Running the same strategies live against a broker endpoint
  - Recording live feeds to replayable CSV
  - Querying and exporting run journals`,
	SilenceUsage:      true,
	PersistentPreRunE: loadEnv,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with credentials and overrides (ignored when missing)")
}

func loadEnv(*cobra.Command, []string) error {
	if envFile == "" {
		return nil
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}
	return nil
}
