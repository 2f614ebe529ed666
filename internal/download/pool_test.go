package download

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"

	mrthttp "github.com/ties/mrt-downloader/internal/http"
	"github.com/ties/mrt-downloader/internal/mrt"
	"github.com/ties/mrt-downloader/internal/naming"
	"github.com/ties/mrt-downloader/internal/progress"
	"github.com/ties/mrt-downloader/internal/retry"
	"github.com/ties/mrt-downloader/internal/testutils"
)

var modTime = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

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

var rrc00 = mrt.CollectorInfo{Name: "RRC00", Project: mrt.ProjectRIS}

func fileEntry(a *testutils.Archive, p string) mrt.FileEntry {
	name := p[strings.LastIndex(p, "/")+1:]
	fileType := mrt.Update
	if strings.HasPrefix(name, "bview.") {
		fileType = mrt.RIB
	}
	return mrt.FileEntry{Collector: rrc00, Filename: name, URL: a.URL(p), Type: fileType}
}

var archivePaths = []string{
	"/rrc00/2024.01/bview.20240101.0000.gz",
	"/rrc00/2024.01/updates.20240101.0000.gz",
	"/rrc00/2024.01/updates.20240101.0005.gz",
}

func startArchive(t *testing.T) (*testutils.Archive, []mrt.FileEntry) {
	var files []testutils.ArchiveFile
	for i, p := range archivePaths {
		files = append(files, testutils.ArchiveFile{
			Path:         p,
			Data:         testutils.GenerateTestData(1000 * (i + 1)),
			LastModified: modTime,
		})
	}
	a := testutils.StartArchive(t, files...)

	var entries []mrt.FileEntry
	for _, p := range archivePaths {
		entries = append(entries, fileEntry(a, p))
	}
	return a, entries
}

func newPool(sink Sink, opts Options) *Pool {
	opts.Retry = noWait()
	opts.Logger = quietLogger()
	if opts.Workers == 0 {
		opts.Workers = 2
	}
	return NewPool(mrthttp.NewClient(mrthttp.DefaultOptions()), sink, opts)
}

func walk(t *testing.T, fs afero.Fs) []string {
	t.Helper()
	var out []string
	err := afero.Walk(fs, "/", func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			out = append(out, p)
		}
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestDownloadToFilesystem(t *testing.T) {
	_, entries := startArchive(t)
	fs := afero.NewMemMapFs()
	sink := &FSSink{Fs: fs, Root: "/data"}

	reporter := progress.NewReporter(progress.Options{TotalFiles: len(entries)})
	stats, err := newPool(sink, Options{Progress: reporter}).Run(context.Background(), entries)
	require.NoError(t, err)
	require.Equal(t, 3, stats.Processed)
	require.Equal(t, 3, stats.Downloaded)
	require.Equal(t, int64(6000), stats.Bytes)
	require.Zero(t, stats.Failed)
	require.Equal(t, 3, reporter.Snapshot().Completed)
	require.Equal(t, int64(6000), reporter.Snapshot().Bytes)

	data, err := afero.ReadFile(fs, "/data/rrc00/2024.01/updates.20240101.0005.gz")
	require.NoError(t, err)
	require.Equal(t, testutils.GenerateTestData(3000), data)

	info, err := fs.Stat("/data/rrc00/2024.01/bview.20240101.0000.gz")
	require.NoError(t, err)
	require.True(t, info.ModTime().Equal(modTime))

	require.Len(t, walk(t, fs), 3, "no temporary files may remain")
}

func TestSkipsUnchangedFiles(t *testing.T) {
	a, entries := startArchive(t)
	fs := afero.NewMemMapFs()
	sink := &FSSink{Fs: fs, Root: "/data"}
	pool := newPool(sink, Options{})

	_, err := pool.Run(context.Background(), entries)
	require.NoError(t, err)

	stats, err := pool.Run(context.Background(), entries)
	require.NoError(t, err)
	require.Equal(t, 3, stats.Processed)
	require.Equal(t, 3, stats.Skipped)
	require.Zero(t, stats.Downloaded)
	for _, p := range archivePaths {
		require.Equal(t, 1, a.RequestsFor(http.MethodGet, p))
		require.Equal(t, 1, a.RequestsFor(http.MethodHead, p))
	}

	// a changed remote file is fetched again
	a.Put(testutils.ArchiveFile{Path: archivePaths[1], Data: []byte("replaced"), LastModified: modTime.Add(time.Hour)})
	stats, err = pool.Run(context.Background(), entries)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Downloaded)
	require.Equal(t, 2, stats.Skipped)

	data, err := afero.ReadFile(fs, "/data/rrc00/2024.01/updates.20240101.0000.gz")
	require.NoError(t, err)
	require.Equal(t, "replaced", string(data))
}

func TestForceRedownloads(t *testing.T) {
	a, entries := startArchive(t)
	sink := &FSSink{Fs: afero.NewMemMapFs(), Root: "/data"}

	_, err := newPool(sink, Options{}).Run(context.Background(), entries)
	require.NoError(t, err)

	stats, err := newPool(sink, Options{Force: true}).Run(context.Background(), entries)
	require.NoError(t, err)
	require.Equal(t, 3, stats.Downloaded)
	require.Zero(t, a.RequestsFor(http.MethodHead, archivePaths[0]))
	require.Equal(t, 2, a.RequestsFor(http.MethodGet, archivePaths[0]))
}

func TestFailuresAreContained(t *testing.T) {
	a, entries := startArchive(t)
	a.FailWith(archivePaths[0], http.StatusNotFound)
	a.FailWith(archivePaths[1], http.StatusBadGateway, http.StatusServiceUnavailable)

	fs := afero.NewMemMapFs()
	stats, err := newPool(&FSSink{Fs: fs, Root: "/data"}, Options{}).Run(context.Background(), entries)
	require.NoError(t, err)
	require.Equal(t, 3, stats.Processed)
	require.Equal(t, 2, stats.Downloaded)
	require.Equal(t, 1, stats.Failed)
	require.Len(t, stats.Failures, 1)
	require.ErrorIs(t, stats.Failures[0].Err, mrthttp.ErrNotFound)

	require.Equal(t, 1, a.Requests(archivePaths[0]), "4xx must not be retried")
	require.Equal(t, 3, a.Requests(archivePaths[1]))

	exists, err := afero.Exists(fs, "/data/rrc00/2024.01/bview.20240101.0000.gz")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestTruncatedBodyLeavesNoFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		w.Write([]byte("short"))
	}))
	defer server.Close()

	fs := afero.NewMemMapFs()
	entry := mrt.FileEntry{Collector: rrc00, Filename: "updates.20240101.0000.gz", URL: server.URL + "/updates.20240101.0000.gz", Type: mrt.Update}

	stats, err := newPool(&FSSink{Fs: fs, Root: "/data"}, Options{}).Run(context.Background(), []mrt.FileEntry{entry})
	require.NoError(t, err)
	require.Equal(t, 1, stats.Failed)
	require.ErrorIs(t, stats.Failures[0].Err, io.ErrUnexpectedEOF)
	require.Empty(t, walk(t, fs))
}

func TestMissingLastModifiedDisablesSkipping(t *testing.T) {
	var gets atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			gets.Add(1)
		}
		w.Header().Set("Content-Length", "4")
		if r.Method == http.MethodGet {
			w.Write([]byte("data"))
		}
	}))
	defer server.Close()

	fs := afero.NewMemMapFs()
	pool := newPool(&FSSink{Fs: fs, Root: "/data"}, Options{Workers: 1})
	entry := mrt.FileEntry{Collector: rrc00, Filename: "updates.20240101.0000.gz", URL: server.URL + "/updates.20240101.0000.gz", Type: mrt.Update}

	for i := 0; i < 2; i++ {
		stats, err := pool.Run(context.Background(), []mrt.FileEntry{entry})
		require.NoError(t, err)
		require.Equal(t, 1, stats.Downloaded)
	}
	require.Equal(t, int32(2), gets.Load())
}

func TestUndatedFileFailsWithDatedStrategy(t *testing.T) {
	a, _ := startArchive(t)
	entry := mrt.FileEntry{Collector: rrc00, Filename: "latest-update.gz", URL: a.URL("/rrc00/latest-update.gz"), Type: mrt.Update}

	stats, err := newPool(&FSSink{Fs: afero.NewMemMapFs(), Root: "/data"}, Options{Strategy: naming.ByMonth{}}).
		Run(context.Background(), []mrt.FileEntry{entry})
	require.NoError(t, err)
	require.Equal(t, 1, stats.Failed)
	var de *mrt.DateParseError
	require.ErrorAs(t, stats.Failures[0].Err, &de)
	require.Zero(t, a.Requests("/rrc00/latest-update.gz"))
}

func TestDownloadToBucket(t *testing.T) {
	a, entries := startArchive(t)
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	sink := &BucketSink{Bucket: bucket, Prefix: "mrt", Name: "mem://"}
	pool := newPool(sink, Options{Strategy: naming.PrefixCollectorByHour{}})

	stats, err := pool.Run(context.Background(), entries)
	require.NoError(t, err)
	require.Equal(t, 3, stats.Downloaded)

	key := "mrt/2024.01.01/00/rrc00-updates.20240101.0005.gz"
	data, err := bucket.ReadAll(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, testutils.GenerateTestData(3000), data)

	attrs, err := bucket.Attributes(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, modTime.Format(time.RFC3339), attrs.Metadata["last-modified"])
	require.Equal(t, "mem://:"+key, sink.Location("2024.01.01/00/rrc00-updates.20240101.0005.gz"))

	stats, err = pool.Run(context.Background(), entries)
	require.NoError(t, err)
	require.Equal(t, 3, stats.Skipped)
	require.Equal(t, 1, a.RequestsFor(http.MethodGet, archivePaths[2]))
}

func TestRunCancelled(t *testing.T) {
	_, entries := startArchive(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newPool(&FSSink{Fs: afero.NewMemMapFs(), Root: "/data"}, Options{}).Run(ctx, entries)
	require.ErrorIs(t, err, context.Canceled)
}
