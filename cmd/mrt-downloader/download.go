package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/ties/mrt-downloader/internal/config"
	"github.com/ties/mrt-downloader/internal/download"
	"github.com/ties/mrt-downloader/internal/progress"
)

// runDownload resolves the files of a time window and downloads them into a
// directory or bucket.
func runDownload(args []string) int {
	fs := flag.NewFlagSet("download", flag.ContinueOnError)

	rf := addRunFlags(fs)
	output := fs.String("output", "", "Target directory")
	bucket := fs.String("bucket", "", "Target bucket URL (s3://, gs://, file://, mem://)")
	prefix := fs.String("prefix", "", "Object key prefix inside the bucket")
	force := fs.Bool("force", false, "Download files even when an identical copy exists")
	showProgress := fs.Bool("progress", false, "Show progress output")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: mrt-downloader download [options]

Download RIB and update files of RIS and RouteViews collectors between -start
and -end into -output or -bucket. Files already present with the same size and
modification time are skipped.

Times: 2006-01-02, 2006-01-02T15:04, 2006-01-02T15:04:05 or "2006-01-02 15:04:05" (UTC).

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	log := setupLogger(*rf.verbose)

	r, cfg, err := rf.newRunner(log, func(c *config.Config) {
		c.Output = firstNonEmpty(*output, c.Output)
		c.Bucket = firstNonEmpty(*bucket, c.Bucket)
		c.Prefix = firstNonEmpty(*prefix, c.Prefix)
		c.Force = c.Force || *force
		c.Progress = c.Progress || *showProgress
	})
	if err == nil {
		err = cfg.ValidateDestination()
	}
	if err != nil {
		fail(err)
		fs.Usage()
		return ExitInvalidArgs
	}

	ctx, cancel := signalContext()
	defer cancel()

	sink, closeSink, err := openSink(ctx, cfg)
	if err != nil {
		fail(err)
		return ExitStorageError
	}
	defer closeSink()

	fmt.Fprintf(os.Stderr, "[mrt-downloader] Fetching %s files between %s and %s into %s\n",
		cfg.FileTypes(),
		cfg.Start.Format("2006-01-02 15:04:05"),
		cfg.End.Format("2006-01-02 15:04:05"),
		sink.Location(""))

	report, err := r.Download(ctx, sink)
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "[mrt-downloader] Download interrupted, run again to resume")
			return ExitInterrupted
		}
		fail(err)
		return exitCodeFor(ctx, err)
	}

	stats := report.Stats
	fmt.Fprintf(os.Stderr, "[mrt-downloader] Downloaded %d files (%s), skipped %d unchanged, %d failed in %s\n",
		stats.Downloaded,
		progress.FormatBytes(stats.Bytes),
		stats.Skipped,
		stats.Failed,
		progress.FormatDuration(report.Elapsed))
	if report.Index.Failed > 0 {
		fmt.Fprintf(os.Stderr, "[mrt-downloader] %d listings could not be fetched\n", report.Index.Failed)
	}
	for _, f := range stats.Failures {
		fmt.Fprintf(os.Stderr, "  %s: %v\n", f.Entry.URL, f.Err)
	}
	if stats.Failed > 0 || report.Index.Failed > 0 {
		return ExitDownloadFailed
	}
	return ExitSuccess
}

// openSink opens the directory or bucket configured in cfg.
func openSink(ctx context.Context, cfg config.Config) (download.Sink, func(), error) {
	if cfg.Output != "" {
		return download.NewFSSink(cfg.Output), func() {}, nil
	}

	bkt, err := blob.OpenBucket(ctx, cfg.Bucket)
	if err != nil {
		return nil, nil, fmt.Errorf("open bucket: %w", err)
	}
	sink := &download.BucketSink{Bucket: bkt, Prefix: cfg.Prefix, Name: cfg.Bucket}
	return sink, func() { bkt.Close() }, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
