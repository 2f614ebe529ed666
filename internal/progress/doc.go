// Package progress reports download progress on a terminal.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{
//	    TotalFiles:  len(files),
//	    Workers:     8,
//	    Destination: "/data/mrt",
//	})
//
//	reporter.Start()
//	defer reporter.Stop()
//
//	reporter.FileStarted()
//	reporter.BytesWritten(n)
//	reporter.FileCompleted()
//
// # Output Format
//
//	[mrt-downloader] Downloading 1440 files to /data/mrt | Workers: 8
//	[mrt-downloader] Progress: 45.2% | 651 / 1440 files | 12 skipped | 0 failed | 1.2 GiB | Speed: 24.0 MiB/s
package progress
