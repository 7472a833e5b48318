package cmd

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/rustyeddy/robusta/broker"
	"github.com/rustyeddy/robusta/broker/live"
	"github.com/rustyeddy/robusta/checkpoint"
	"github.com/rustyeddy/robusta/config"
	"github.com/rustyeddy/robusta/engine"
	"github.com/rustyeddy/robusta/feed"
	"github.com/rustyeddy/robusta/internal/logging"
	"github.com/rustyeddy/robusta/internal/metrics"
	"github.com/rustyeddy/robusta/journal"
	"github.com/rustyeddy/robusta/strategies"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:     "run",
	Aliases: []string{"backtest"},
	Short:   "Run a strategy over a bar feed",
	Long: `Run executes the configured strategy bar by bar.

In backtest mode bars come from <data>/<market>_<data_type>.csv (or .csv.xz).
In live mode bars come from --feed-url (ws://, wss://, http:// or https://)
and orders go to the broker endpoint in the config.

Example:
  robusta run -c run.yaml --data ./data --metrics-addr :9090`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var (
	runConfigPath  string
	runDataDir     string
	runFeedURL     string
	runStrategy    string
	runMode        string
	runMetricsAddr string
	runResume      string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "", "run config file (.yaml or .json); defaults apply when empty")
	runCmd.Flags().StringVar(&runDataDir, "data", "./data", "directory of historical bar files")
	runCmd.Flags().StringVar(&runFeedURL, "feed-url", "", "live bar stream (env ROBUSTA_FEED_URL)")
	runCmd.Flags().StringVarP(&runStrategy, "strategy", "s", "", "override the configured strategy")
	runCmd.Flags().StringVar(&runMode, "mode", "", "override the configured mode (backtest|live)")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	runCmd.Flags().StringVar(&runResume, "resume", "", "continue from a checkpoint file")
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := loadRunConfig(runConfigPath)
	if err != nil {
		return err
	}
	if runStrategy != "" {
		cfg.Strategy = runStrategy
	}
	if runMode != "" {
		cfg.Mode = runMode
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logging.New(cfg.LogOptions())
	if err != nil {
		return err
	}

	strat, err := strategies.New(cfg.Strategy, cfg.Params)
	if err != nil {
		return fmt.Errorf("strategy: %w", err)
	}

	j, err := openJournal(cfg.Journal)
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	defer j.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := engine.Options{
		Config:   cfg,
		Strategy: strat,
		Journal:  j,
		Log:      log,
	}
	if cfg.Mode == "live" {
		feedURL := runFeedURL
		if feedURL == "" {
			feedURL = os.Getenv("ROBUSTA_FEED_URL")
		}
		if opts.Source, err = liveSource(feedURL, os.Getenv("ROBUSTA_FEED_TOKEN"), log); err != nil {
			return err
		}
		if opts.Broker, err = liveBroker(cfg, os.Getenv("ROBUSTA_BROKER_TOKEN"), log); err != nil {
			return err
		}
	} else {
		opts.Source = feed.CSVSource{Dir: runDataDir}
	}

	if runResume != "" {
		st, err := checkpoint.Load(runResume)
		if err != nil {
			return fmt.Errorf("resume: %w", err)
		}
		opts.Resume = &st
	}

	if runMetricsAddr != "" {
		srv := metrics.Serve(runMetricsAddr)
		defer srv.Close()
		log.WithField("addr", runMetricsAddr).Info("serving metrics")
	}

	e, err := engine.New(opts)
	if err != nil {
		return err
	}
	res, err := e.Run(ctx)
	if res != nil {
		res.Print(cmd.OutOrStdout())
	}
	if err != nil {
		return err
	}
	return res.Err
}

// loadRunConfig reads path, or starts from the defaults, then applies the
// environment.
func loadRunConfig(path string) (*config.Run, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv(os.Getenv)
	return cfg, nil
}

func openJournal(c config.JournalConfig) (journal.Journal, error) {
	switch c.Type {
	case "sqlite":
		return journal.NewSQLite(c.DBPath)
	case "csv":
		return journal.NewCSV(c.TradesFile, c.EquityFile, c.RecordsFile)
	case "", "none":
		return journal.Nop{}, nil
	}
	return nil, fmt.Errorf("unknown journal type %q", c.Type)
}

// liveSource hands one live connection to the engine. The connection is
// made when the engine opens the feed so it sees the run's key.
func liveSource(rawURL, token string, log logrus.FieldLogger) (feed.Source, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("%w: live mode needs --feed-url", config.ErrConfiguration)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: feed url: %v", config.ErrConfiguration, err)
	}
	if log == nil {
		log = logging.Discard()
	}
	flog := logging.WithComponent(log, "feed")
	switch u.Scheme {
	case "ws", "wss":
		return feed.SourceFunc(func(ctx context.Context, key feed.Key) (feed.Stream, error) {
			return feed.DialWS(ctx, rawURL, key, 1024, flog)
		}), nil
	case "http", "https":
		return feed.SourceFunc(func(ctx context.Context, key feed.Key) (feed.Stream, error) {
			return feed.OpenHTTP(ctx, nil, rawURL, token, key)
		}), nil
	}
	return nil, fmt.Errorf("%w: unsupported feed scheme %q", config.ErrConfiguration, u.Scheme)
}

func liveBroker(cfg *config.Run, token string, log logrus.FieldLogger) (broker.Broker, error) {
	base := cfg.Broker.URL
	if base == "" {
		var err error
		if base, err = live.BaseURL(cfg.Broker.Env); err != nil {
			return nil, fmt.Errorf("%w: %v", config.ErrConfiguration, err)
		}
	}
	return live.New(cfg.LiveConfig(), live.NewHTTPTransport(base, token), log), nil
}
