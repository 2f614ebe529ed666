package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/ties/mrt-downloader/internal/cache"
)

// runCache inspects or clears the listing cache.
func runCache(args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("cache", flag.ContinueOnError)

	cacheFile := fs.String("cache-file", "", "Listing cache database (default in the user cache directory)")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: mrt-downloader cache [options] <stats|clear|path>

  stats  Print the number of cached collectors, listings and files
  clear  Remove every cached entry
  path   Print the location of the cache database

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return ExitInvalidArgs
	}

	path := *cacheFile
	if path == "" {
		path = os.Getenv("MRT_DOWNLOADER_CACHE_FILE")
	}
	if path == "" {
		var err error
		if path, err = cache.DefaultPath(); err != nil {
			fail(err)
			return ExitStorageError
		}
	}
	store := cache.New(path)
	ctx := context.Background()

	switch fs.Arg(0) {
	case "stats":
		st, err := store.Stats(ctx)
		if err != nil {
			fail(err)
			return ExitStorageError
		}
		fmt.Fprintf(stdout, "path:       %s\n", store.Path())
		fmt.Fprintf(stdout, "collectors: %d\n", st.Collectors)
		fmt.Fprintf(stdout, "listings:   %d\n", st.Indexes)
		fmt.Fprintf(stdout, "files:      %d\n", st.Files)
	case "clear":
		if err := store.Clear(ctx); err != nil {
			fail(err)
			return ExitStorageError
		}
		fmt.Fprintf(os.Stderr, "[mrt-downloader] Cleared %s\n", store.Path())
	case "path":
		fmt.Fprintln(stdout, store.Path())
	default:
		fmt.Fprintf(os.Stderr, "Unknown cache command: %s\n", fs.Arg(0))
		fs.Usage()
		return ExitInvalidArgs
	}
	return ExitSuccess
}
