// Command harvester runs one harvesting pass against the upstream analytics
// API and writes the composite records to disk.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stacktools/teams-harvester/pkg/aggregate"
	"github.com/stacktools/teams-harvester/pkg/api"
	"github.com/stacktools/teams-harvester/pkg/cache"
	"github.com/stacktools/teams-harvester/pkg/client"
	"github.com/stacktools/teams-harvester/pkg/config"
	"github.com/stacktools/teams-harvester/pkg/export"
	"github.com/stacktools/teams-harvester/pkg/logging"
	"github.com/stacktools/teams-harvester/pkg/ratelimit"
	"github.com/stacktools/teams-harvester/pkg/timewindow"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "harvester: %v\n", err)
		var cfgErr *timewindow.ConfigError
		if errors.As(err, &cfgErr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML config file")
	mode := flag.String("mode", "", "harvest mode: subject or content")
	filter := flag.String("filter", "", "time filter: week, month, quarter, year, none, custom")
	fromDate := flag.String("from", "", "custom filter lower bound (YYYY-MM-DD)")
	toDate := flag.String("to", "", "custom filter upper bound (YYYY-MM-DD)")
	outputDir := flag.String("output", "", "output directory")
	format := flag.String("format", "", "output format: json or csv")
	concurrency := flag.Int("concurrency", 0, "parallel subject resolutions")
	flag.Parse()

	cfg, err := loadConfig(*configPath, flagOverrides{
		mode:        *mode,
		filter:      *filter,
		fromDate:    *fromDate,
		toDate:      *toDate,
		outputDir:   *outputDir,
		format:      *format,
		concurrency: *concurrency,
	})
	if err != nil {
		return err
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Logging.Level),
		Pretty: cfg.Logging.Pretty,
	})

	window, err := cfg.Window()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	limiter := ratelimit.NewLimiter(cfg.LimiterConfig(), logging.NewLogger("ratelimit"))
	exec, err := client.New(cfg.ClientConfig(), limiter)
	if err != nil {
		return err
	}

	source := api.New(exec, cache.NewStore(), window)
	engine := aggregate.New(source, aggregate.Config{
		Mode:        aggregate.Mode(cfg.Harvest.Mode),
		Concurrency: cfg.Harvest.Concurrency,
	})

	logger.Info().
		Str("mode", cfg.Harvest.Mode).
		Str("window", window.String()).
		Msg("Starting harvest")

	result, err := engine.Run(ctx)
	if err != nil {
		return fmt.Errorf("harvest failed: %w", err)
	}

	path, err := export.Write(
		cfg.Output.Directory,
		cfg.Output.File,
		export.Format(cfg.Output.Format),
		aggregate.Mode(cfg.Harvest.Mode),
		window,
		result,
	)
	if err != nil {
		return err
	}

	printSummary(path, result)
	return nil
}

type flagOverrides struct {
	mode        string
	filter      string
	fromDate    string
	toDate      string
	outputDir   string
	format      string
	concurrency int
}

// loadConfig layers flag overrides on top of file and environment config,
// then validates the final result.
func loadConfig(path string, flags flagOverrides) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		// Flags may supply the missing values; retry validation after
		// applying them below.
		var cfgErr *timewindow.ConfigError
		if !errors.As(err, &cfgErr) {
			return nil, err
		}
		cfg = config.Default()
		if ferr := cfg.LoadFromFile(path); ferr != nil {
			return nil, ferr
		}
		cfg.LoadFromEnv()
	}

	if flags.mode != "" {
		cfg.Harvest.Mode = flags.mode
	}
	if flags.filter != "" {
		cfg.Harvest.Filter = flags.filter
	}
	if flags.fromDate != "" {
		cfg.Harvest.FromDate = flags.fromDate
	}
	if flags.toDate != "" {
		cfg.Harvest.ToDate = flags.toDate
	}
	if flags.outputDir != "" {
		cfg.Output.Directory = flags.outputDir
	}
	if flags.format != "" {
		cfg.Output.Format = flags.format
	}
	if flags.concurrency > 0 {
		cfg.Harvest.Concurrency = flags.concurrency
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func printSummary(path string, result *aggregate.Result) {
	s := result.Summary
	fmt.Printf("Harvest complete: %d records, %d excluded\n", s.Processed, s.Excluded)
	if len(s.FailureClasses) > 0 {
		fmt.Printf("Failures by class: %v\n", s.FailureClasses)
	}
	fmt.Printf("API calls: %d primary, %d detail (%d cached fetches)\n",
		s.PrimaryCalls, s.DetailCalls, s.CacheEntries)
	fmt.Printf("Duration: %s\n", s.Duration.Round(10*time.Millisecond))
	if s.Cancelled {
		fmt.Println("Run was interrupted; output holds records resolved before cancellation.")
	}
	fmt.Printf("Output: %s\n", path)
}
