package index

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ties/mrt-downloader/internal/cache"
	mrthttp "github.com/ties/mrt-downloader/internal/http"
	"github.com/ties/mrt-downloader/internal/listing"
	"github.com/ties/mrt-downloader/internal/mrt"
	"github.com/ties/mrt-downloader/internal/retry"
	"github.com/ties/mrt-downloader/internal/testutils"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noWait() retry.Policy {
	return retry.Policy{
		MaxRetries:   4,
		InitialDelay: time.Second,
		Sleep:        func(context.Context, time.Duration) error { return nil },
		Logger:       quietLogger(),
	}
}

func startArchive(t *testing.T) *testutils.Archive {
	return testutils.StartArchive(t,
		testutils.ArchiveFile{Path: "/rrc00/2024.01/bview.20240101.0000.gz", Data: []byte("rib")},
		testutils.ArchiveFile{Path: "/rrc00/2024.01/updates.20240101.0000.gz", Data: []byte("u1")},
		testutils.ArchiveFile{Path: "/rrc00/2024.01/updates.20240101.0005.gz", Data: []byte("u2")},
		testutils.ArchiveFile{Path: "/rrc00/2024.02/bview.20240201.0000.gz", Data: []byte("rib")},
		testutils.ArchiveFile{Path: "/rrc00/2024.02/updates.20240201.0000.gz", Data: []byte("u3")},
	)
}

func collectorFor(a *testutils.Archive) mrt.CollectorInfo {
	return mrt.CollectorInfo{
		Name:      "RRC00",
		Project:   mrt.ProjectRIS,
		BaseURL:   a.URL("/rrc00/"),
		Installed: time.Date(1999, 10, 1, 0, 0, 0, 0, time.UTC),
	}
}

func plan(c mrt.CollectorInfo) []mrt.ListingEntry {
	return listing.Plan(c,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
}

func TestRunFetchesListings(t *testing.T) {
	a := startArchive(t)
	pool := NewPool(mrthttp.NewClient(mrthttp.DefaultOptions()), Options{
		Workers: 2,
		Retry:   noWait(),
		Logger:  quietLogger(),
	})

	res, err := pool.Run(context.Background(), plan(collectorFor(a)), mrt.AllFileTypes)
	require.NoError(t, err)
	require.Len(t, res.Files, 5)
	require.Equal(t, 2, res.Processed)
	require.Zero(t, res.Failed)
	require.Zero(t, res.CacheHits)
}

func TestRunSkipsUnwantedTypes(t *testing.T) {
	a := startArchive(t)
	c := collectorFor(a)
	c.Project = mrt.ProjectRouteViews

	pool := NewPool(mrthttp.NewClient(mrthttp.DefaultOptions()), Options{Retry: noWait(), Logger: quietLogger()})

	// RIBS/ and UPDATES/ do not exist; only the UPDATES/ listings are tried
	res, err := pool.Run(context.Background(), plan(c), mrt.TypesOf(mrt.Update))
	require.NoError(t, err)
	require.Equal(t, 2, res.Processed)
	require.Equal(t, 2, res.Failed)
	require.Zero(t, a.Requests("/rrc00/2024.01/RIBS/"))
	require.Equal(t, 1, a.Requests("/rrc00/2024.01/UPDATES/"), "404 must not be retried")
}

func TestRunContainsFailures(t *testing.T) {
	a := startArchive(t)
	a.FailWith("/rrc00/2024.02/", http.StatusServiceUnavailable, http.StatusServiceUnavailable)
	a.FailWith("/rrc00/2024.01/", http.StatusForbidden)

	pool := NewPool(mrthttp.NewClient(mrthttp.DefaultOptions()), Options{Retry: noWait(), Logger: quietLogger()})

	res, err := pool.Run(context.Background(), plan(collectorFor(a)), mrt.AllFileTypes)
	require.NoError(t, err)
	require.Equal(t, 2, res.Processed)
	require.Equal(t, 1, res.Failed)
	require.Len(t, res.Files, 2)
	require.Equal(t, 3, a.Requests("/rrc00/2024.02/"))
}

func TestRunRetriesWithZeroPolicy(t *testing.T) {
	a := startArchive(t)
	a.FailWith("/rrc00/2024.01/", http.StatusServiceUnavailable)

	// only the clock is set, the retry count falls back to its default
	pool := NewPool(mrthttp.NewClient(mrthttp.DefaultOptions()), Options{
		Retry: retry.Policy{
			Sleep:  func(context.Context, time.Duration) error { return nil },
			Logger: quietLogger(),
		},
		Logger: quietLogger(),
	})

	res, err := pool.Run(context.Background(), plan(collectorFor(a)), mrt.AllFileTypes)
	require.NoError(t, err)
	require.Zero(t, res.Failed)
	require.Len(t, res.Files, 5)
	require.Equal(t, 2, a.Requests("/rrc00/2024.01/"))
}

func TestRunDeduplicates(t *testing.T) {
	a := startArchive(t)
	entries := plan(collectorFor(a))
	entries = append(entries, entries...)

	pool := NewPool(mrthttp.NewClient(mrthttp.DefaultOptions()), Options{Retry: noWait(), Logger: quietLogger()})
	res, err := pool.Run(context.Background(), entries, mrt.AllFileTypes)
	require.NoError(t, err)
	require.Len(t, res.Files, 5)
	require.Equal(t, 2, res.Processed)

	seen := make(map[mrt.EntryKey]bool)
	for _, f := range res.Files {
		require.False(t, seen[f.Key()])
		seen[f.Key()] = true
	}
}

func TestRunUsesCache(t *testing.T) {
	a := startArchive(t)
	store := cache.New(filepath.Join(t.TempDir(), "state.sqlite3"))
	store.Now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }

	pool := NewPool(mrthttp.NewClient(mrthttp.DefaultOptions()), Options{
		Cache:  store,
		Retry:  noWait(),
		Logger: quietLogger(),
	})
	entries := plan(collectorFor(a))

	first, err := pool.Run(context.Background(), entries, mrt.AllFileTypes)
	require.NoError(t, err)
	require.Len(t, first.Files, 5)
	require.Equal(t, 1, a.Requests("/rrc00/2024.01/"))

	second, err := pool.Run(context.Background(), entries, mrt.AllFileTypes)
	require.NoError(t, err)
	require.Len(t, second.Files, 5)
	require.Equal(t, 2, second.CacheHits)
	require.Equal(t, 2, second.Processed)
	require.Equal(t, 1, a.Requests("/rrc00/2024.01/"), "cached listing must not be refetched")

	forced := NewPool(mrthttp.NewClient(mrthttp.DefaultOptions()), Options{
		Cache:  store,
		Force:  true,
		Retry:  noWait(),
		Logger: quietLogger(),
	})
	_, err = forced.Run(context.Background(), entries, mrt.AllFileTypes)
	require.NoError(t, err)
	require.Equal(t, 2, a.Requests("/rrc00/2024.01/"))
}

type brokenCache struct {
	mu   sync.Mutex
	puts int
}

func (c *brokenCache) GetIndexes(context.Context, []cache.IndexKey, bool) (map[string][]mrt.FileEntry, error) {
	return nil, errors.New("disk on fire")
}

func (c *brokenCache) PutIndex(context.Context, string, []mrt.FileEntry, time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts++
	return errors.New("disk on fire")
}

func TestRunCacheFailureIsAMiss(t *testing.T) {
	a := startArchive(t)
	c := &brokenCache{}
	pool := NewPool(mrthttp.NewClient(mrthttp.DefaultOptions()), Options{
		Cache:  c,
		Retry:  noWait(),
		Logger: quietLogger(),
	})

	res, err := pool.Run(context.Background(), plan(collectorFor(a)), mrt.AllFileTypes)
	require.NoError(t, err)
	require.Len(t, res.Files, 5)
	require.Zero(t, res.Failed)
	require.Equal(t, 2, c.puts)
}

func TestRunCancelled(t *testing.T) {
	a := startArchive(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pool := NewPool(mrthttp.NewClient(mrthttp.DefaultOptions()), Options{Retry: noWait(), Logger: quietLogger()})
	_, err := pool.Run(ctx, plan(collectorFor(a)), mrt.AllFileTypes)
	require.ErrorIs(t, err, context.Canceled)
}
