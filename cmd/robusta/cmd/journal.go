package cmd

import (
	"fmt"
	"os"

	"github.com/rustyeddy/robusta/journal"
	"github.com/spf13/cobra"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query run journal data",
	Long: `Query and export runs kept in a SQLite journal.

Subcommands:
  runs    - List recorded run IDs
  show    - Print the summary and trades of a run
  trade   - Print one trade of a run
  export  - Write a run as an Org document

Examples:
  robusta journal runs
  robusta journal show <run-id>
  robusta journal export <run-id> -o run.org`,
}

var journalRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded runs",
	Args:  cobra.NoArgs,
	RunE:  runJournalRuns,
}

var journalShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print the summary and trades of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalShow,
}

var journalTradeCmd = &cobra.Command{
	Use:   "trade <run-id> <trade-id>",
	Short: "Print one trade",
	Args:  cobra.ExactArgs(2),
	RunE:  runJournalTrade,
}

var journalExportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Export a run as Org",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalExport,
}

var (
	journalDBPath string
	journalOut    string
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalRunsCmd, journalShowCmd, journalTradeCmd, journalExportCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "./robusta.sqlite", "path to SQLite journal DB")
	journalExportCmd.Flags().StringVarP(&journalOut, "out", "o", "", "output file (default stdout)")
}

func openSQLite() (*journal.SQLite, error) {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return j, nil
}

func runJournalRuns(cmd *cobra.Command, _ []string) error {
	j, err := openSQLite()
	if err != nil {
		return err
	}
	defer j.Close()

	ids, err := j.ListRuns()
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	for _, id := range ids {
		fmt.Fprintln(cmd.OutOrStdout(), id)
	}
	return nil
}

func runJournalShow(cmd *cobra.Command, args []string) error {
	j, err := openSQLite()
	if err != nil {
		return err
	}
	defer j.Close()

	r, err := j.GetRun(args[0])
	if err != nil {
		return fmt.Errorf("get run: %w", err)
	}
	trades, err := j.ListTrades(args[0])
	if err != nil {
		return fmt.Errorf("list trades: %w", err)
	}
	w := cmd.OutOrStdout()
	journal.PrintRun(w, r)
	fmt.Fprintln(w)
	fmt.Fprintln(w, journal.FormatTradesOrg(trades))
	return nil
}

func runJournalTrade(cmd *cobra.Command, args []string) error {
	j, err := openSQLite()
	if err != nil {
		return err
	}
	defer j.Close()

	rec, err := j.GetTrade(args[0], args[1])
	if err != nil {
		return fmt.Errorf("get trade: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), journal.FormatTradeOrg(rec))
	return nil
}

func runJournalExport(cmd *cobra.Command, args []string) error {
	j, err := openSQLite()
	if err != nil {
		return err
	}
	defer j.Close()

	doc, err := j.ExportRunOrg(args[0])
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if journalOut == "" {
		_, err = fmt.Fprint(cmd.OutOrStdout(), doc)
		return err
	}
	return os.WriteFile(journalOut, []byte(doc), 0o644)
}
