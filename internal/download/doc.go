// Package download fetches archive files with a pool of workers.
//
// Files are written to a Sink: FSSink for a local (or in-memory) filesystem
// and BucketSink for any gocloud.dev bucket (file://, mem://, s3://, gs://).
// A file that already exists is only fetched again when the server's
// Content-Length or Last-Modified differ from the stored copy.
//
// # Usage
//
//	pool := download.NewPool(client, download.NewFSSink("/data/mrt"), download.Options{
//	    Workers:  8,
//	    Strategy: naming.ByCollectorMonth(),
//	    Retry:    retry.DefaultPolicy(),
//	})
//	stats, err := pool.Run(ctx, files)
package download
