package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ties/mrt-downloader/internal/cache"
	"github.com/ties/mrt-downloader/internal/collectors"
	"github.com/ties/mrt-downloader/internal/config"
	mrthttp "github.com/ties/mrt-downloader/internal/http"
	"github.com/ties/mrt-downloader/internal/naming"
	"github.com/ties/mrt-downloader/internal/retry"
	"github.com/ties/mrt-downloader/internal/runner"
)

// runFlags are the flags shared by commands that resolve listings.
type runFlags struct {
	configFile   *string
	start        *string
	end          *string
	projects     *string
	collectors   *string
	ribOnly      *bool
	updateOnly   *bool
	namingName   *string
	workers      *int
	indexWorkers *int
	cacheFile    *string
	noCache      *bool
	refresh      *bool
	rps          *float64
	retries      *int
	retryDelay   *time.Duration
	verbose      *bool
}

func addRunFlags(fs *flag.FlagSet) *runFlags {
	return &runFlags{
		configFile:   fs.String("config", "", "YAML configuration file"),
		start:        fs.String("start", "", "Start of the time window, UTC (required)"),
		end:          fs.String("end", "", "End of the time window, UTC (required)"),
		projects:     fs.String("project", "", "Comma separated projects: ris, routeviews (default both)"),
		collectors:   fs.String("collector", "", "Comma separated collector names to include (default all)"),
		ribOnly:      fs.Bool("rib-only", false, "Only RIB (bview) files"),
		updateOnly:   fs.Bool("update-only", false, "Only update files"),
		namingName:   fs.String("naming", "", fmt.Sprintf("Directory layout: %s (default %s)", strings.Join(naming.Names(), ", "), naming.DefaultName)),
		workers:      fs.Int("workers", 0, "Number of parallel downloads (default 8)"),
		indexWorkers: fs.Int("index-workers", 0, "Number of parallel listing fetches (default 8)"),
		cacheFile:    fs.String("cache-file", "", "Listing cache database (default in the user cache directory)"),
		noCache:      fs.Bool("no-cache", false, "Do not read or write the listing cache"),
		refresh:      fs.Bool("refresh", false, "Ignore cached collectors and listings"),
		rps:          fs.Float64("rps", 0, "Maximum requests per second, 0 for unlimited"),
		retries:      fs.Int("retries", -1, "Retries per request (default 4)"),
		retryDelay:   fs.Duration("retry-delay", 0, "Delay before the first retry, doubled each time (default 2s)"),
		verbose:      fs.Bool("verbose", false, "Enable debug logging"),
	}
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// load builds the configuration from defaults, the optional file, .env and
// the environment, and finally the flags.
func (f *runFlags) load() (config.Config, error) {
	cfg := config.Default()
	if *f.configFile != "" {
		var err error
		if cfg, err = config.LoadFromFile(*f.configFile); err != nil {
			return config.Config{}, err
		}
	}

	if err := config.LoadDotEnv(".env"); err != nil {
		return config.Config{}, err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}

	override := config.Config{
		Projects:          splitList(*f.projects),
		Collectors:        splitList(*f.collectors),
		RIBOnly:           *f.ribOnly,
		UpdateOnly:        *f.updateOnly,
		Naming:            *f.namingName,
		Workers:           *f.workers,
		IndexWorkers:      *f.indexWorkers,
		CacheFile:         *f.cacheFile,
		NoCache:           *f.noCache,
		Refresh:           *f.refresh,
		RequestsPerSecond: *f.rps,
		Retry:             config.RetryConfig{InitialDelay: *f.retryDelay},
	}
	// -1 leaves the configured value, 0 disables retries
	switch {
	case *f.retries == 0:
		override.Retry.MaxRetries = retry.NoRetries
	case *f.retries > 0:
		override.Retry.MaxRetries = *f.retries
	}
	var err error
	if *f.start != "" {
		if override.Start, err = config.ParseTime(*f.start); err != nil {
			return config.Config{}, fmt.Errorf("-start: %w", err)
		}
	}
	if *f.end != "" {
		if override.End, err = config.ParseTime(*f.end); err != nil {
			return config.Config{}, fmt.Errorf("-end: %w", err)
		}
	}

	return cfg.Merge(override), nil
}

// openStore returns the listing cache, or nil when caching is disabled.
func openStore(cfg config.Config, log *slog.Logger) (runner.Store, error) {
	if cfg.NoCache {
		return nil, nil
	}
	path := cfg.CacheFile
	if path == "" {
		var err error
		if path, err = cache.DefaultPath(); err != nil {
			return nil, err
		}
	}
	store := cache.New(path)
	store.Logger = log
	return store, nil
}

// newRunner loads the configuration, lets extra adjust it and prepares a run.
func (f *runFlags) newRunner(log *slog.Logger, extra func(*config.Config)) (*runner.Runner, config.Config, error) {
	cfg, err := f.load()
	if err != nil {
		return nil, cfg, err
	}
	if extra != nil {
		extra(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, cfg, err
	}

	store, err := openStore(cfg, log)
	if err != nil {
		return nil, cfg, fmt.Errorf("locate cache: %w", err)
	}
	r, err := runner.New(cfg, runner.Options{
		Client: mrthttp.NewClient(cfg.HTTPOptions()),
		Store:  store,
		Logger: log,
	})
	return r, cfg, err
}

// exitCodeFor maps a failed run to an exit code.
func exitCodeFor(ctx context.Context, err error) int {
	var (
		statusErr *mrthttp.StatusError
		urlErr    *url.Error
		parseErr  *collectors.ParseError
	)
	switch {
	case ctx.Err() != nil:
		return ExitInterrupted
	case errors.As(err, &statusErr), errors.As(err, &urlErr), errors.As(err, &parseErr):
		return ExitSourceNotAccess
	default:
		return ExitGeneralError
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}
