// Package http provides the HTTP client used to fetch collector lists,
// directory listings and archive files.
//
// This package handles:
//   - Connection pooling for many concurrent workers
//   - A long total request timeout with a short connect timeout
//   - A descriptive User-Agent carrying the program version
//   - HEAD requests for change detection (Content-Length, Last-Modified)
//   - Typed status errors that tell the retry package whether to try again
//   - An optional request rate limit
//
// Retries are not performed here; see package retry.
//
// # Usage
//
//	client := http.NewClient(http.DefaultOptions())
//
//	// Get file info
//	info, err := client.Head(ctx, url)
//	// info.Size, info.LastModified
//
//	// Download a file
//	resp, err := client.Get(ctx, url)
//	defer resp.Body.Close()
package http
