package index

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ties/mrt-downloader/internal/cache"
	"github.com/ties/mrt-downloader/internal/listing"
	"github.com/ties/mrt-downloader/internal/mrt"
	"github.com/ties/mrt-downloader/internal/retry"
)

// Getter fetches a listing document.
type Getter interface {
	GetBytes(ctx context.Context, url string) ([]byte, error)
}

// Cache stores parsed listings.
type Cache interface {
	GetIndexes(ctx context.Context, keys []cache.IndexKey, force bool) (map[string][]mrt.FileEntry, error)
	PutIndex(ctx context.Context, url string, entries []mrt.FileEntry, monthEnd time.Time) error
}

// Options configures a Pool.
type Options struct {
	// Workers is the number of concurrent listing fetches.
	Workers int

	// Cache is optional. Without it every listing is fetched.
	Cache Cache

	// Force ignores cached listings. Fetched listings are still stored.
	Force bool

	Retry  retry.Policy
	Logger *slog.Logger
}

// Result is the outcome of a Run. Files is unordered.
type Result struct {
	Files []mrt.FileEntry

	// Processed counts cache hits plus fetch attempts.
	Processed int
	CacheHits int
	Failed    int
}

// Pool fetches and parses directory listings concurrently.
type Pool struct {
	client Getter
	opts   Options
	log    *slog.Logger
}

// NewPool creates a listing pool.
func NewPool(client Getter, opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		client: client,
		opts:   opts,
		log:    log.With(slog.String("component", "index")),
	}
}

// collector accumulates files, dropping duplicates.
type collector struct {
	mu    sync.Mutex
	seen  map[mrt.EntryKey]bool
	files []mrt.FileEntry
}

func (c *collector) add(files []mrt.FileEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range files {
		k := f.Key()
		if c.seen[k] {
			continue
		}
		c.seen[k] = true
		c.files = append(c.files, f)
	}
}

// Run resolves the files of every listing whose types intersect want.
// Failures of single listings are logged and counted; the returned error is
// only set when ctx is cancelled, in which case the partial result is kept.
func (p *Pool) Run(ctx context.Context, entries []mrt.ListingEntry, want mrt.FileTypes) (Result, error) {
	var todo []mrt.ListingEntry
	queued := make(map[mrt.EntryKey]bool)
	for _, e := range entries {
		if !e.FileTypes.Intersects(want) {
			p.log.Debug("Skipping listing without wanted types",
				slog.String("url", e.URL),
				slog.String("types", e.FileTypes.String()))
			continue
		}
		k := mrt.EntryKey{Collector: e.Collector.Name, URL: e.URL}
		if queued[k] {
			continue
		}
		queued[k] = true
		todo = append(todo, e)
	}

	acc := &collector{seen: make(map[mrt.EntryKey]bool)}
	var (
		processed atomic.Int64
		failed    atomic.Int64
	)

	hits := p.lookup(ctx, todo)
	var misses []mrt.ListingEntry
	for _, e := range todo {
		files, ok := hits[e.URL]
		if !ok {
			misses = append(misses, e)
			continue
		}
		acc.add(files)
		processed.Add(1)
	}
	cacheHits := len(todo) - len(misses)
	if cacheHits > 0 {
		p.log.Info("Using cached listings", slog.Int("hits", cacheHits), slog.Int("misses", len(misses)))
	}

	jobs := make(chan mrt.ListingEntry, p.opts.Workers)
	var wg sync.WaitGroup

	for i := 0; i < p.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for e := range jobs {
				processed.Add(1)
				files, err := p.fetch(ctx, e)
				if err != nil {
					failed.Add(1)
					p.log.Warn("Listing failed",
						slog.String("collector", e.Collector.Name),
						slog.String("url", e.URL),
						slog.Any("error", err))
					continue
				}
				acc.add(files)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, e := range misses {
			select {
			case jobs <- e:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()

	res := Result{
		Files:     acc.files,
		Processed: int(processed.Load()),
		CacheHits: cacheHits,
		Failed:    int(failed.Load()),
	}
	return res, ctx.Err()
}

func (p *Pool) lookup(ctx context.Context, entries []mrt.ListingEntry) map[string][]mrt.FileEntry {
	if p.opts.Cache == nil || len(entries) == 0 {
		return nil
	}
	keys := make([]cache.IndexKey, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, cache.IndexKey{URL: e.URL, MonthEnd: e.MonthEnd()})
	}
	hits, err := p.opts.Cache.GetIndexes(ctx, keys, p.opts.Force)
	if err != nil {
		p.log.Warn("Listing cache lookup failed", slog.Any("error", err))
		return nil
	}
	return hits
}

func (p *Pool) fetch(ctx context.Context, e mrt.ListingEntry) ([]mrt.FileEntry, error) {
	files, err := retry.Do(ctx, p.opts.Retry, "listing "+e.URL, func(ctx context.Context) ([]mrt.FileEntry, error) {
		body, err := p.client.GetBytes(ctx, e.URL)
		if err != nil {
			return nil, err
		}
		return listing.Parse(e, bytes.NewReader(body), p.log)
	})
	if err != nil {
		return nil, err
	}
	p.log.Debug("Fetched listing", slog.String("url", e.URL), slog.Int("files", len(files)))

	if p.opts.Cache != nil {
		if err := p.opts.Cache.PutIndex(ctx, e.URL, files, e.MonthEnd()); err != nil {
			p.log.Warn("Storing listing failed", slog.String("url", e.URL), slog.Any("error", err))
		}
	}
	return files, nil
}
