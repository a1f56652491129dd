package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/abelzeko/reservoir-wrangler/internal/config"
	"github.com/abelzeko/reservoir-wrangler/internal/integration"
	"github.com/abelzeko/reservoir-wrangler/internal/metrics"
	"github.com/abelzeko/reservoir-wrangler/internal/repository"
	"github.com/abelzeko/reservoir-wrangler/internal/usecases"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(os.Stdout).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"dir":          config.KeyDir,
	"home-url":     config.KeyHomeURL,
	"start-date":   config.KeyStartDate,
	"max-delay":    config.KeyMaxDelay,
	"rate-limit":   config.KeyRateLimit,
	"workers":      config.KeyWorkers,
	"schedule":     config.KeySchedule,
	"metrics-addr": config.KeyMetricsAddr,
	"log-level":    config.KeyLogLevel,
}

// newRootCommand builds the scraper command; logs go to logOut.
func newRootCommand(logOut io.Writer) *cobra.Command {
	v := config.New()
	var configFile string

	cmd := &cobra.Command{
		Use:          "scrapper",
		Short:        "Scrape reservoir systems, reservoirs and their measurement history",
		Long:         "Scrapes every monitored system, its reservoirs and each reservoir's history, and stores them as SQLite, JSON, pickle, CSV and YAML.",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return err
			}
			setupLogging(logOut, cfg.LogLevel)
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configFile, "config", "c", "", "configuration file (default ./config.json when present)")
	flags.String("dir", "", "output directory")
	flags.String("home-url", "", "address of the page listing the systems")
	flags.String("start-date", "", "first day of the history range, dd/mm/yyyy")
	flags.Duration("max-delay", 0, "upper bound of the random delay before each request")
	flags.Float64("rate-limit", 0, "maximum requests per second, 0 disables the limit")
	flags.Int("workers", 0, "concurrent history fetches, 0 means min(32, CPUs+4)")
	flags.String("schedule", "", "cron expression; when set, runs repeat on this schedule")
	flags.String("metrics-addr", "", "address serving Prometheus metrics, e.g. :9090")
	flags.String("log-level", "", "debug, info, warn or error")

	if err := bindFlags(v, cmd); err != nil {
		panic(err)
	}
	return cmd
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", name, err)
		}
	}
	return nil
}

func setupLogging(w io.Writer, level slog.Level) {
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

// run wires the pipeline and runs it once, or on cfg.Schedule until ctx is done.
func run(ctx context.Context, cfg *config.Config) error {
	slog.Info("Starting reservoir scraper", "dir", cfg.Dir, "home", cfg.HomeURL, "workers", cfg.HistoryWorkers())

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, m)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Warn("Metrics server shutdown failed", "error", err)
			}
		}()
	}

	fetcher := integration.NewFetcher(integration.FetcherOptions{
		MaxDelay:  cfg.MaxDelay,
		RateLimit: cfg.RateLimit,
		Timeout:   cfg.FetchTimeout,
		Metrics:   m,
	})
	defer fetcher.CloseIdleConnections()

	scraper := integration.NewScraper(fetcher, integration.ScraperOptions{
		HomeURL:   cfg.HomeURL,
		StartDate: cfg.StartDate,
		Metrics:   m,
	})

	persister, err := repository.NewPersister(cfg.Dir, cfg.DBFile, cfg.Formats(), m)
	if err != nil {
		return fmt.Errorf("failed to initialize persister: %w", err)
	}

	pipeline := usecases.NewPipeline(scraper, persister, cfg.HistoryWorkers(), m)

	if cfg.Schedule == "" {
		_, err := pipeline.Run(ctx)
		return err
	}
	return schedule(ctx, cfg.Schedule, pipeline)
}

// schedule runs the pipeline immediately, then on every tick of expr.
// A tick is skipped while the previous run is still going.
func schedule(ctx context.Context, expr string, pipeline *usecases.Pipeline) error {
	logger := cronLogger{}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.SkipIfStillRunning(logger)))
	_, err := c.AddFunc(expr, func() {
		if _, err := pipeline.Run(ctx); err != nil {
			slog.Error("Scheduled scrape failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to set up cron job: %w", err)
	}

	if _, err := pipeline.Run(ctx); err != nil {
		slog.Error("Initial scrape failed", "error", err)
	}

	c.Start()
	slog.Info("Scraper has been scheduled", "schedule", expr)

	<-ctx.Done()
	slog.Info("Stopping scheduler")
	<-c.Stop().Done()
	return nil
}

// cronLogger routes the scheduler's messages through slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}

func serveMetrics(addr string, m *metrics.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		slog.Info("Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "error", err)
		}
	}()
	return srv
}
