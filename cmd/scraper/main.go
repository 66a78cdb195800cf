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
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/aluiziolira/go-books-dataset/config"
	"github.com/aluiziolira/go-books-dataset/models"
	"github.com/aluiziolira/go-books-dataset/pipeline"
	"github.com/aluiziolira/go-books-dataset/scraper"
	"github.com/aluiziolira/go-books-dataset/status"
)

var version = "dev"

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		slog.Error("command failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.NewViper()
	var cfgFile string

	cmd := &cobra.Command{
		Use:           "scraper",
		Short:         "Builds the books catalog dataset",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaults := config.DefaultConfig()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (yaml, toml or json)")
	flags.BoolP("verbose", "v", defaults.Verbose, "Enable verbose logging")
	flags.String("log-file", defaults.LogFile, "Also write JSON logs to this rotated file")
	bindFlags(v, flags, map[string]string{
		"verbose":  "verbose",
		"log_file": "log-file",
	})

	cmd.AddCommand(newCrawlCmd(v, &cfgFile), newVersionCmd())
	return cmd
}

func newCrawlCmd(v *viper.Viper, cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl every category and replace the dataset",
		Long: `crawl discovers the categories on the site root, walks each category's
listing pages in order and replaces the output file with the full dataset.
Nothing is written when the run fails.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, v, *cfgFile)
		},
	}

	defaults := config.DefaultConfig()
	flags := cmd.Flags()
	flags.String("base-url", defaults.BaseURL, "Site root to crawl")
	flags.Duration("timeout", defaults.Timeout, "Per-request timeout")
	flags.Duration("page-delay", defaults.PageDelay, "Pause after every listing page")
	flags.Int("parallel", defaults.Parallelism, "Categories crawled at once")
	flags.Int("max-pages", defaults.MaxPages, "Maximum listing pages per category")
	flags.String("user-agent", defaults.UserAgent, "User-Agent header")
	flags.Bool("respect-robots", defaults.RespectRobotsTxt, "Respect robots.txt directives")
	flags.StringP("output", "o", defaults.OutputFile, "Output file path")
	flags.String("format", defaults.OutputFormat, "Output format: csv or dual")
	flags.String("metrics-addr", defaults.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	bindFlags(v, flags, map[string]string{
		"base_url":       "base-url",
		"timeout":        "timeout",
		"page_delay":     "page-delay",
		"parallelism":    "parallel",
		"max_pages":      "max-pages",
		"user_agent":     "user-agent",
		"respect_robots": "respect-robots",
		"output":         "output",
		"format":         "format",
		"metrics_addr":   "metrics-addr",
	})
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func runCrawl(cmd *cobra.Command, v *viper.Viper, cfgFile string) error {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, level, closeLog := newLogger(cfg.Verbose, cfg.LogFile)
	defer closeLog()
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	slog.Info("starting scrape",
		slog.String("base_url", cfg.BaseURL),
		slog.Int("max_pages", cfg.MaxPages),
		slog.Int("workers", cfg.Parallelism),
		slog.String("output", cfg.OutputFile),
	)

	s, err := scraper.NewScraper(cfg)
	if err != nil {
		return fmt.Errorf("initialising scraper: %w", err)
	}
	writer, err := pipeline.NewWriter(cfg.OutputFormat, cfg.OutputFile)
	if err != nil {
		return fmt.Errorf("creating writer: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsServer := startMetricsServer(cfg.MetricsAddr, s.Metrics)
	defer stopMetricsServer(metricsServer)

	var (
		result *models.RunResult
		runErr error
	)
	tracker := status.NewTracker()
	if _, _, err := tracker.Trigger(ctx, s.RunFunc(writer, func(r *models.RunResult, err error) {
		result, runErr = r, err
	})); err != nil {
		return fmt.Errorf("starting run: %w", err)
	}
	// The run observes ctx itself; Wait only returns once it has finished.
	if err := tracker.Wait(context.Background()); err != nil {
		return err
	}
	slog.Info(tracker.Snapshot().Summary())
	if runErr != nil {
		return fmt.Errorf("scraping failed: %w", runErr)
	}

	printSummary(cmd.OutOrStdout(), result, cfg.OutputFormat)
	return nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
}

func startMetricsServer(addr string, metrics *scraper.Metrics) *http.Server {
	if addr == "" || metrics == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))
	return server
}

func stopMetricsServer(server *http.Server) {
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("metrics server shutdown failed", slog.Any("error", err))
	}
}

func printSummary(w io.Writer, result *models.RunResult, format string) {
	separator := "--------------------------------------------------"
	fmt.Fprintln(w, "\n"+separator)
	fmt.Fprintln(w, "Scrape complete")

	duration := result.Duration()
	itemsPerSec := 0.0
	if duration.Seconds() > 0 {
		itemsPerSec = float64(result.TotalCount) / duration.Seconds()
	}

	fmt.Fprintf(w, "  Run ID:        %s\n", result.RunID)
	fmt.Fprintf(w, "  Total items:   %d\n", result.TotalCount)
	fmt.Fprintf(w, "  Categories:    %d\n", result.Categories)
	fmt.Fprintf(w, "  Pages:         %d\n", result.PageCount)
	fmt.Fprintf(w, "  Requests:      %d\n", result.RequestCount)
	if len(result.SkippedItems) > 0 {
		fmt.Fprintf(w, "  Skipped:       %s\n", formatCounts(result.SkippedItems))
	}
	if len(result.ErrorsByType) > 0 {
		fmt.Fprintf(w, "  Error types:   %s\n", formatCounts(result.ErrorsByType))
	}
	fmt.Fprintf(w, "  Duration:      %v\n", duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  Items/sec:     %.2f\n", itemsPerSec)
	fmt.Fprintf(w, "  Output file:   %s\n", result.OutputFile)
	if format == "dual" {
		fmt.Fprintf(w, "  Sidecar file:  %s\n", pipeline.SidecarPath(result.OutputFile))
	}
	fmt.Fprintln(w, separator)
}

func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, counts[k])
	}
	return strings.Join(parts, " ")
}
