package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mrthttp "github.com/ties/mrt-downloader/internal/http"
	"github.com/ties/mrt-downloader/internal/mrt"
	"github.com/ties/mrt-downloader/internal/naming"
	"github.com/ties/mrt-downloader/internal/progress"
	"github.com/ties/mrt-downloader/internal/retry"
)

// Client fetches archive files.
type Client interface {
	Head(ctx context.Context, url string) (*mrthttp.FileInfo, error)
	Get(ctx context.Context, url string) (*mrthttp.Response, error)
}

// Options configures a Pool.
type Options struct {
	// Workers is the number of parallel downloads.
	Workers int

	// Strategy places files in the sink.
	Strategy naming.Strategy

	// Force downloads files even when an identical copy exists.
	Force bool

	Retry retry.Policy

	// Progress is an optional progress reporter.
	Progress *progress.Reporter

	Logger *slog.Logger
}

// Failure records a file that could not be stored.
type Failure struct {
	Entry mrt.FileEntry
	Err   error
}

// Stats summarises a Run.
type Stats struct {
	// Processed counts every attempted file regardless of outcome.
	Processed  int
	Downloaded int
	Skipped    int
	Failed     int
	Bytes      int64
	Failures   []Failure
}

// Pool downloads archive files into a Sink.
type Pool struct {
	client Client
	sink   Sink
	opts   Options
	log    *slog.Logger
}

// NewPool creates a download pool.
func NewPool(client Client, sink Sink, opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.Strategy == nil {
		opts.Strategy = naming.ByCollectorMonth()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		client: client,
		sink:   sink,
		opts:   opts,
		log:    log.With(slog.String("component", "download")),
	}
}

// Task resolves the sink key of entry.
func (p *Pool) Task(entry mrt.FileEntry) (mrt.DownloadTask, error) {
	key, err := p.opts.Strategy.Path("", entry)
	if err != nil {
		return mrt.DownloadTask{}, fmt.Errorf("resolve target of %s: %w", entry.Filename, err)
	}
	return mrt.DownloadTask{Entry: entry, URL: entry.URL, Target: key}, nil
}

type outcome int

const (
	downloaded outcome = iota
	skipped
	failed
)

// Run downloads every entry. Failures of single files are logged and
// collected in Stats; the returned error is only set when ctx is cancelled.
func (p *Pool) Run(ctx context.Context, entries []mrt.FileEntry) (Stats, error) {
	var (
		mu    sync.Mutex
		stats Stats
	)

	jobs := make(chan mrt.FileEntry, p.opts.Workers)
	var wg sync.WaitGroup

	for i := 0; i < p.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for e := range jobs {
				res, n, err := p.process(ctx, e)

				mu.Lock()
				stats.Processed++
				switch res {
				case downloaded:
					stats.Downloaded++
					stats.Bytes += n
				case skipped:
					stats.Skipped++
				case failed:
					stats.Failed++
					stats.Failures = append(stats.Failures, Failure{Entry: e, Err: err})
				}
				mu.Unlock()
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, e := range entries {
			select {
			case jobs <- e:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()

	return stats, ctx.Err()
}

func (p *Pool) process(ctx context.Context, e mrt.FileEntry) (outcome, int64, error) {
	if r := p.opts.Progress; r != nil {
		r.FileStarted()
	}

	res, n, err := p.fetch(ctx, e)

	if r := p.opts.Progress; r != nil {
		switch res {
		case downloaded:
			r.BytesWritten(n)
			r.FileCompleted()
		case skipped:
			r.FileSkipped()
		case failed:
			r.FileFailed()
		}
	}
	if err != nil {
		p.log.Error("Download failed",
			slog.String("collector", e.Collector.Name),
			slog.String("url", e.URL),
			slog.Any("error", err))
	}
	return res, n, err
}

func (p *Pool) fetch(ctx context.Context, e mrt.FileEntry) (outcome, int64, error) {
	task, err := p.Task(e)
	if err != nil {
		return failed, 0, err
	}
	log := p.log.With(slog.String("url", task.URL), slog.String("target", p.sink.Location(task.Target)))

	if !p.opts.Force && p.unchanged(ctx, task, log) {
		log.Debug("Skipping unchanged file")
		return skipped, 0, nil
	}

	start := time.Now()
	n, err := retry.Do(ctx, p.opts.Retry, "download "+task.URL, func(ctx context.Context) (int64, error) {
		resp, err := p.client.Get(ctx, task.URL)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()
		return p.sink.Write(ctx, task.Target, resp.LastModified, resp.Body)
	})
	if err != nil {
		return failed, 0, err
	}

	log.Debug("Downloaded file", slog.Int64("bytes", n), slog.Duration("duration", time.Since(start)))
	return downloaded, n, nil
}

// unchanged reports whether the stored copy matches the remote size and
// Last-Modified. Any missing marker or error means the file is fetched.
func (p *Pool) unchanged(ctx context.Context, task mrt.DownloadTask, log *slog.Logger) bool {
	stored, ok, err := p.sink.Stat(ctx, task.Target)
	if err != nil {
		log.Warn("Cannot inspect existing file", slog.Any("error", err))
		return false
	}
	if !ok {
		return false
	}

	info, err := retry.Do(ctx, p.opts.Retry, "head "+task.URL, func(ctx context.Context) (*mrthttp.FileInfo, error) {
		return p.client.Head(ctx, task.URL)
	})
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Warn("HEAD request failed", slog.Any("error", err))
		}
		return false
	}
	if !info.HasChangeMarkers() || stored.ModTime.IsZero() {
		return false
	}
	return stored.Size == info.Size && stored.ModTime.Unix() == info.LastModified.Unix()
}
