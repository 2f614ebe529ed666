package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/ties/mrt-downloader/internal/config"
	"github.com/ties/mrt-downloader/internal/mrt"
)

// runList prints the files a download with the same options would fetch.
func runList(args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)

	rf := addRunFlags(fs)
	long := fs.Bool("l", false, "Print date, collector, type and target path with each URL")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: mrt-downloader list [options]

Print the URLs of the files between -start and -end, one per line.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	log := setupLogger(*rf.verbose)
	r, _, err := rf.newRunner(log, nil)
	if err != nil {
		fail(err)
		fs.Usage()
		return ExitInvalidArgs
	}

	ctx, cancel := signalContext()
	defer cancel()

	res, err := r.Resolve(ctx)
	if err != nil {
		fail(err)
		return exitCodeFor(ctx, err)
	}

	if !*long {
		for _, f := range res.Files {
			fmt.Fprintln(stdout, f.URL)
		}
	} else {
		w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "DATE\tCOLLECTOR\tTYPE\tTARGET\tURL")
		for _, f := range res.Files {
			date, _ := f.Date()
			target, err := r.Strategy().Path("", f)
			if err != nil {
				target = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				date.Format("2006-01-02 15:04"), f.Collector.Name, f.Type, target, f.URL)
		}
		w.Flush()
	}

	fmt.Fprintf(os.Stderr, "[mrt-downloader] %d files from %d collectors (%d listings, %d cached, %d failed)\n",
		len(res.Files), len(res.Collectors), res.Listings, res.Index.CacheHits, res.Index.Failed)
	if res.Index.Failed > 0 {
		return ExitSourceNotAccess
	}
	return ExitSuccess
}

// runCollectors prints the collectors of the selected projects.
func runCollectors(args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("collectors", flag.ContinueOnError)

	rf := addRunFlags(fs)
	active := fs.Bool("active", false, "Only print collectors that have not been removed")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: mrt-downloader collectors [options]

Print the collectors of the selected projects. -start and -end are not needed.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	log := setupLogger(*rf.verbose)
	r, _, err := rf.newRunner(log, func(c *config.Config) {
		// the window is irrelevant for listing collectors
		if c.Start.IsZero() || c.End.IsZero() {
			c.Start = time.Unix(0, 0).UTC()
			c.End = time.Now().UTC()
		}
	})
	if err != nil {
		fail(err)
		fs.Usage()
		return ExitInvalidArgs
	}

	ctx, cancel := signalContext()
	defer cancel()

	found, err := r.Collectors(ctx)
	if err != nil {
		fail(err)
		return exitCodeFor(ctx, err)
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROJECT\tNAME\tINSTALLED\tREMOVED\tBASE URL")
	for _, c := range found {
		if *active && c.Removed != nil {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			c.Project, c.Name, c.Installed.Format("2006-01-02"), removedString(c), c.BaseURL)
	}
	w.Flush()
	return ExitSuccess
}

func removedString(c mrt.CollectorInfo) string {
	if c.Removed == nil {
		return "-"
	}
	return c.Removed.Format("2006-01-02")
}
