package collectors

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ties/mrt-downloader/internal/mrt"
	"github.com/ties/mrt-downloader/internal/retry"
)

// Cache stores collector lists per project.
type Cache interface {
	GetCollectors(ctx context.Context, project mrt.Project, force bool) ([]mrt.CollectorInfo, bool, error)
	PutCollectors(ctx context.Context, project mrt.Project, collectors []mrt.CollectorInfo) error
}

// LoadOptions configures Load.
type LoadOptions struct {
	Client   Getter
	Cache    Cache // optional
	Projects []mrt.Project
	Allow    []string
	Force    bool
	URLs     URLs
	Retry    retry.Policy
	Logger   *slog.Logger
}

// Load returns the allowed collectors of all selected projects, from the
// cache when it is fresh and from the network otherwise. A failing fetch
// aborts the load; a failing cache is only logged.
func Load(ctx context.Context, opts LoadOptions) ([]mrt.CollectorInfo, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "collectors"))

	var all []mrt.CollectorInfo
	for _, project := range opts.Projects {
		collectors, err := loadProject(ctx, opts, project, log)
		if err != nil {
			return nil, err
		}
		all = append(all, collectors...)
	}

	selected := Filter(all, opts.Allow)
	log.Info("Selected collectors", slog.Int("available", len(all)), slog.Int("selected", len(selected)))
	return selected, nil
}

func loadProject(ctx context.Context, opts LoadOptions, project mrt.Project, log *slog.Logger) ([]mrt.CollectorInfo, error) {
	src, err := SourceFor(project, opts.URLs)
	if err != nil {
		return nil, err
	}
	log = log.With(slog.String("project", string(src.Project())))

	if opts.Cache != nil {
		cached, ok, err := opts.Cache.GetCollectors(ctx, project, opts.Force)
		switch {
		case err != nil:
			log.Warn("Collector cache lookup failed", slog.Any("error", err))
		case ok:
			log.Info("Using cached collectors", slog.Int("count", len(cached)))
			return cached, nil
		}
	}

	collectors, err := retry.Do(ctx, opts.Retry, "collectors "+string(src.Project()), func(ctx context.Context) ([]mrt.CollectorInfo, error) {
		return src.Fetch(ctx, opts.Client)
	})
	if err != nil {
		return nil, fmt.Errorf("load %s collectors: %w", project, err)
	}
	log.Debug("Fetched collectors", slog.Int("count", len(collectors)))

	if opts.Cache != nil {
		if err := opts.Cache.PutCollectors(ctx, project, collectors); err != nil {
			log.Warn("Cannot store collectors in cache", slog.Any("error", err))
		}
	}
	return collectors, nil
}
