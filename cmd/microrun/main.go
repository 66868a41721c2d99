package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sawpanic/microrun/internal/app"
	"github.com/sawpanic/microrun/internal/config"
	"github.com/sawpanic/microrun/internal/httpapi"
	"github.com/sawpanic/microrun/internal/scheduler"
)

const (
	appName = "microrun"
	version = "v1.3.0"
)

func main() {
	setupLogging()

	var configPath string

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Small-cap momentum trading pipeline",
		Version: version,
		Long: appName + ` scans a small-cap equity universe on a fixed interval,
merges momentum, mean-reversion, pair-spread and classifier signals
into per-symbol decisions, and executes them as bracket orders under
strict risk limits.`,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to YAML config")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace|debug|info|warn|error)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the trading loop on its schedule",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			return runLoop(cmd.Context(), cfg)
		},
	}

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Run a single cycle and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			if dry, _ := cmd.Flags().GetBool("dry-run"); dry {
				cfg.Trading.DryRun = true
			}
			return runOnce(cmd.Context(), cfg)
		},
	}
	scanCmd.Flags().Bool("dry-run", false, "Evaluate and log decisions without submitting orders")

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Probe every market-data provider and print circuit status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			return runHealth(cmd.Context(), cfg)
		},
	}

	rootCmd.AddCommand(runCmd, scanCmd, healthCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func setupLogging() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func loadConfig(cmd *cobra.Command, path string) (config.Config, error) {
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		level, err := zerolog.ParseLevel(lvl)
		if err != nil {
			return config.Config{}, fmt.Errorf("invalid log level %q", lvl)
		}
		zerolog.SetGlobalLevel(level)
	}
	return config.Load(path)
}

func runLoop(ctx context.Context, cfg config.Config) error {
	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	server := httpapi.NewServer(cfg.HTTP.ListenAddr, a.Status, a.Metrics.Prometheus())
	server.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("status server shutdown failed")
		}
	}()

	if a.Stream != nil {
		go a.Stream.Run(ctx)
	}

	log.Info().
		Str("version", version).
		Dur("interval", cfg.Scheduler.Interval).
		Bool("dry_run", cfg.Trading.DryRun).
		Msg("trading loop starting")

	scheduler.New(cfg.Scheduler.Interval, a.Cycle).Run(ctx)
	return nil
}

func runOnce(ctx context.Context, cfg config.Config) error {
	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Cycle(ctx); err != nil {
		return err
	}

	status := a.Status.Get()
	out, err := json.MarshalIndent(status.Decisions, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runHealth(ctx context.Context, cfg config.Config) error {
	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// One cheap call per provider path warms the breakers with real state.
	if _, err := a.Data.GetQuote(ctx, "IWM"); err != nil {
		log.Warn().Err(err).Msg("probe quote failed")
	}

	records := a.Data.Health()
	out, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
