package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/brettboylen/reddit-harvester/api"
	"github.com/brettboylen/reddit-harvester/browser"
	"github.com/brettboylen/reddit-harvester/db"
	"github.com/brettboylen/reddit-harvester/profile"
	"github.com/brettboylen/reddit-harvester/scoring"
	"github.com/brettboylen/reddit-harvester/stats"
	"github.com/brettboylen/reddit-harvester/utils"
)

var version = "1.0.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type globalOptions struct {
	envPath  string
	logLevel string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:          "harvester",
		Short:        "Harvest, enrich and rank items from listing pages",
		Version:      version,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.envPath, "env", ".env", "Path to .env file")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "debug", "Logging level (debug, info, warn, error)")

	rootCmd.AddCommand(newRunCmd(opts))
	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(newProfilesCmd())

	return rootCmd
}

// newRunCmd runs one session and writes it to stdout as JSON
func newRunCmd(opts *globalOptions) *cobra.Command {
	var summaryOnly bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one harvesting session and print it as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			// logs go to stderr so stdout stays valid JSON
			log := setupLogger(opts.logLevel)
			log.SetOutput(cmd.ErrOrStderr())

			config, err := utils.LoadConfig(opts.envPath, log)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			database, err := db.NewDatabase(config.Database.Path, log)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer database.Close()

			collector, closeSource, err := buildCollector(ctx, config, database, log)
			if err != nil {
				return err
			}
			defer closeSource()

			session, err := collector.RunOnce(ctx)
			if err != nil {
				log.WithError(err).Error("Session was not stored")
			}

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			if summaryOnly {
				return encoder.Encode(session.Summary())
			}
			return encoder.Encode(session)
		},
	}

	cmd.Flags().BoolVar(&summaryOnly, "summary", false, "Print the session without its items")

	return cmd
}

// newServeCmd collects on the polling interval and serves the statistics API
func newServeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Harvest periodically and serve statistics over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := setupLogger(opts.logLevel)
			log.Info("Starting Reddit Harvester")

			config, err := utils.LoadConfig(opts.envPath, log)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			log.WithFields(logrus.Fields{
				"categories":       len(config.Harvest.Categories),
				"source":           config.Harvest.Source,
				"profile":          config.Harvest.Profile,
				"polling_interval": config.Harvest.PollingInterval,
				"server_port":      config.Server.Port,
			}).Info("Configuration loaded")

			database, err := db.NewDatabase(config.Database.Path, log)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer database.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			collector, closeSource, err := buildCollector(ctx, config, database, log)
			if err != nil {
				return err
			}
			defer closeSource()

			go startEchoServer(ctx, config.Server.Port, collector, database, log, config.Server.MaxRequestsPerMinute)

			go func() {
				if err := collector.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.WithError(err).Error("Collector stopped unexpectedly")
				}
			}()

			waitForShutdown(cancel, log)
			return nil
		},
	}
}

func newProfilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List the built-in site profiles",
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range profile.Builtins() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	}
}

// buildCollector wires the page source, site profile and scorer from the configuration.
// The returned func releases the page source.
func buildCollector(ctx context.Context, config *utils.Config, store stats.Store, log *logrus.Logger) (*stats.Collector, func(), error) {
	h := config.Harvest

	var (
		p   *profile.Profile
		err error
	)
	if h.ProfilePath != "" {
		p, err = profile.Load(h.ProfilePath)
	} else {
		p, err = profile.Lookup(h.Profile)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load site profile: %w", err)
	}

	policy, err := scoring.ParsePolicy(h.ApprovalPolicy)
	if err != nil {
		return nil, nil, err
	}
	scorer := scoring.NewScorer()
	scorer.Policy = policy
	scorer.MinScore = h.MinScore

	var (
		opener browser.Opener
		closer = func() {}
	)
	switch h.Source {
	case utils.SourceChrome:
		chrome, err := browser.NewChrome(ctx, browser.ChromeOptions{
			ExecPath:  h.ChromePath,
			UserAgent: h.UserAgent,
			Headless:  true,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		opener = chrome
		closer = func() {
			if err := chrome.Close(); err != nil {
				log.WithError(err).Warn("Failed to close chrome")
			}
		}
	default:
		opener = api.NewSource(nil, h.UserAgent, time.Duration(h.RequestDelayMs)*time.Millisecond, log)
	}

	collector := stats.NewCollector(opener, p, store, scorer, stats.Options{
		Categories:      h.Categories,
		Params:          h.RunParams(),
		Concurrency:     h.Concurrency,
		RunTimeout:      h.RunTimeout,
		PollingInterval: time.Duration(h.PollingInterval) * time.Second,
		Retry:           browser.DefaultRetryPolicy(),
	}, log)

	log.WithFields(logrus.Fields{
		"profile": p.Name,
		"source":  h.Source,
		"policy":  policy,
	}).Info("Collector ready")

	return collector, closer, nil
}

// setupLogger sets up the logger with the specified log level
func setupLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	switch level {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "info":
		log.SetLevel(logrus.InfoLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

// waitForShutdown waits for a shutdown signal
func waitForShutdown(cancel context.CancelFunc, log *logrus.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithField("signal", sig.String()).Info("Shutdown signal received")

	cancel()

	time.Sleep(1 * time.Second)
	log.Info("Reddit Harvester stopped")
}
