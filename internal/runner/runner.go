// Package runner ties the pipeline together: collectors are loaded, their
// monthly listings planned and resolved into files, and the files within the
// configured window are downloaded into a sink.
package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/ties/mrt-downloader/internal/collectors"
	"github.com/ties/mrt-downloader/internal/config"
	"github.com/ties/mrt-downloader/internal/download"
	mrthttp "github.com/ties/mrt-downloader/internal/http"
	"github.com/ties/mrt-downloader/internal/index"
	"github.com/ties/mrt-downloader/internal/listing"
	"github.com/ties/mrt-downloader/internal/mrt"
	"github.com/ties/mrt-downloader/internal/naming"
	"github.com/ties/mrt-downloader/internal/progress"
	"github.com/ties/mrt-downloader/internal/retry"
)

// Client is the HTTP surface used by a run.
type Client interface {
	GetBytes(ctx context.Context, url string) ([]byte, error)
	Head(ctx context.Context, url string) (*mrthttp.FileInfo, error)
	Get(ctx context.Context, url string) (*mrthttp.Response, error)
}

// Store caches collectors and listings.
type Store interface {
	collectors.Cache
	index.Cache
}

// Options configures a Runner.
type Options struct {
	Client Client

	// Store is optional. Without it nothing is cached.
	Store Store

	Logger *slog.Logger

	// ProgressOutput receives progress lines when progress is enabled.
	// Default: os.Stderr
	ProgressOutput io.Writer
}

// Runner executes a configured run.
type Runner struct {
	cfg      config.Config
	opts     Options
	projects []mrt.Project
	strategy naming.Strategy
	policy   retry.Policy
	log      *slog.Logger
}

// New validates cfg and creates a Runner.
func New(cfg config.Config, opts Options) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Client == nil {
		return nil, fmt.Errorf("runner: client is required")
	}
	projects, err := cfg.ParsedProjects()
	if err != nil {
		return nil, err
	}
	strategy, err := naming.Lookup(cfg.Naming)
	if err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	policy := cfg.RetryPolicy()
	policy.Logger = log

	return &Runner{
		cfg:      cfg,
		opts:     opts,
		projects: projects,
		strategy: strategy,
		policy:   policy,
		log:      log,
	}, nil
}

// Strategy returns the naming strategy of the run.
func (r *Runner) Strategy() naming.Strategy {
	return r.strategy
}

// Collectors returns the selected collectors.
func (r *Runner) Collectors(ctx context.Context) ([]mrt.CollectorInfo, error) {
	var c collectors.Cache
	if r.opts.Store != nil {
		c = r.opts.Store
	}
	return collectors.Load(ctx, collectors.LoadOptions{
		Client:   r.opts.Client,
		Cache:    c,
		Projects: r.projects,
		Allow:    r.cfg.Collectors,
		Force:    r.cfg.Refresh,
		URLs: collectors.URLs{
			RIS:        r.cfg.RISURL,
			RouteViews: r.cfg.RouteViewsURL,
		},
		Retry:  r.policy,
		Logger: r.log,
	})
}

// Resolved describes the files selected for a run.
type Resolved struct {
	Collectors []mrt.CollectorInfo
	Listings   int
	Index      index.Result

	// Files are the selected files ordered by date, collector and name.
	Files []mrt.FileEntry

	// Undated counts files dropped because their name has no date.
	Undated int
	// Outside counts files dropped because they fall outside the window.
	Outside int
}

// Resolve loads collectors, plans their listings, resolves the listings into
// files and selects the files within the window and of the wanted types.
func (r *Runner) Resolve(ctx context.Context) (Resolved, error) {
	found, err := r.Collectors(ctx)
	if err != nil {
		return Resolved{}, err
	}

	planned := listing.PlanAll(found, r.cfg.Start, r.cfg.End)
	r.log.Info("Planned listings",
		slog.Int("collectors", len(found)),
		slog.Int("listings", len(planned)))

	var c index.Cache
	if r.opts.Store != nil {
		c = r.opts.Store
	}
	pool := index.NewPool(r.opts.Client, index.Options{
		Workers: r.cfg.IndexWorkers,
		Cache:   c,
		Force:   r.cfg.Refresh,
		Retry:   r.policy,
		Logger:  r.log,
	})
	want := r.cfg.FileTypes()
	res, err := pool.Run(ctx, planned, want)
	out := Resolved{
		Collectors: found,
		Listings:   len(planned),
		Index:      res,
	}
	if err != nil {
		return out, err
	}

	out.Files, out.Undated, out.Outside = Select(res.Files, r.cfg.Start, r.cfg.End, want)
	r.log.Info("Resolved files",
		slog.Int("listings", res.Processed),
		slog.Int("cache_hits", res.CacheHits),
		slog.Int("failed_listings", res.Failed),
		slog.Int("selected", len(out.Files)),
		slog.Int("undated", out.Undated),
		slog.Int("outside_window", out.Outside))
	return out, nil
}

// Select keeps the files of a wanted type dated within [start, end], ordered
// by date, collector and filename. Files without a date are counted in
// undated, files outside the window in outside.
func Select(files []mrt.FileEntry, start, end time.Time, want mrt.FileTypes) (selected []mrt.FileEntry, undated, outside int) {
	dates := make(map[mrt.EntryKey]time.Time, len(files))
	for _, f := range files {
		if !want.Has(f.Type) {
			continue
		}
		date, err := f.Date()
		if err != nil {
			undated++
			continue
		}
		if date.Before(start) || date.After(end) {
			outside++
			continue
		}
		dates[f.Key()] = date
		selected = append(selected, f)
	}

	sort.Slice(selected, func(i, j int) bool {
		a, b := selected[i], selected[j]
		da, db := dates[a.Key()], dates[b.Key()]
		if !da.Equal(db) {
			return da.Before(db)
		}
		if a.Collector.Name != b.Collector.Name {
			return a.Collector.Name < b.Collector.Name
		}
		return a.Filename < b.Filename
	})
	return selected, undated, outside
}

// Report is the outcome of Download.
type Report struct {
	Resolved
	Stats   download.Stats
	Elapsed time.Duration
}

// Download resolves the files of the run and stores them in sink.
func (r *Runner) Download(ctx context.Context, sink download.Sink) (Report, error) {
	start := time.Now()

	resolved, err := r.Resolve(ctx)
	report := Report{Resolved: resolved}
	if err != nil {
		report.Elapsed = time.Since(start)
		return report, err
	}

	var reporter *progress.Reporter
	if r.cfg.Progress {
		reporter = progress.NewReporter(progress.Options{
			TotalFiles:  len(resolved.Files),
			Workers:     r.cfg.Workers,
			Output:      r.opts.ProgressOutput,
			Destination: sink.Location(""),
		})
		reporter.Start()
		defer reporter.Stop()
	}

	pool := download.NewPool(r.opts.Client, sink, download.Options{
		Workers:  r.cfg.Workers,
		Strategy: r.strategy,
		Force:    r.cfg.Force,
		Retry:    r.policy,
		Progress: reporter,
		Logger:   r.log,
	})
	r.log.Info("Downloading files",
		slog.Int("files", len(resolved.Files)),
		slog.Int("workers", r.cfg.Workers),
		slog.String("destination", sink.Location("")))

	report.Stats, err = pool.Run(ctx, resolved.Files)
	report.Elapsed = time.Since(start)
	return report, err
}
