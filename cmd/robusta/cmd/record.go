package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rustyeddy/robusta/feed"
	"github.com/rustyeddy/robusta/internal/logging"
	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record <feed-url>",
	Short: "Record a live bar feed to CSV",
	Long: `Record copies bars from a live feed into a CSV file that the backtest
data source can replay.

Example:
  robusta record wss://feed.example/bars -o data/vn_daily.csv --assets VNM,FPT`,
	Args: cobra.ExactArgs(1),
	RunE: runRecord,
}

var (
	recOut    string
	recAssets string
	recExtra  string
	recLimit  int
)

func init() {
	rootCmd.AddCommand(recordCmd)

	recordCmd.Flags().StringVarP(&recOut, "out", "o", "", "output CSV file (default stdout)")
	recordCmd.Flags().StringVar(&recAssets, "assets", "", "comma separated symbols to keep (default all)")
	recordCmd.Flags().StringVar(&recExtra, "fields", "", "comma separated named fields to add as columns")
	recordCmd.Flags().IntVarP(&recLimit, "limit", "n", 0, "stop after n bars (0 = until the feed ends)")
}

func runRecord(cmd *cobra.Command, args []string) error {
	log, err := logging.New(logging.Options{Level: "info", Format: "text", Output: "stderr"})
	if err != nil {
		return err
	}
	src, err := liveSource(args[0], os.Getenv("ROBUSTA_FEED_TOKEN"), log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := src.Open(ctx, feed.Key{Assets: splitList(recAssets)})
	if err != nil {
		return err
	}
	defer s.Close()

	w := cmd.OutOrStdout()
	if recOut != "" {
		f, err := os.Create(recOut)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	n, err := feed.Record(ctx, s, w, splitList(recExtra), recLimit)
	log.WithField("bars", n).Info("recording stopped")
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("record: %w", err)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
