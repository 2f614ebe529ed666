package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/afero"

	"github.com/ties/mrt-downloader/internal/naming"
)

// runScan parses a downloaded tree back into collector and date.
func runScan(args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)

	dir := fs.String("dir", "", "Directory written by download (required)")
	layout := fs.String("naming", naming.DefaultName, "Directory layout the files were written with")
	showUnmatched := fs.Bool("unmatched", false, "Also print files that do not fit the layout")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: mrt-downloader scan [options]

Walk a directory written by download and print the collector, time and size
of every file recognised by the directory layout.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if *dir == "" {
		fmt.Fprintln(os.Stderr, "Error: -dir is required")
		fs.Usage()
		return ExitInvalidArgs
	}
	strategy, err := naming.Lookup(*layout)
	if err != nil {
		fail(err)
		return ExitInvalidArgs
	}

	res, err := naming.Scan(afero.NewOsFs(), *dir, strategy)
	if err != nil {
		fail(err)
		return ExitStorageError
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COLLECTOR\tTIME\tSIZE\tPATH")
	for _, f := range res.Files {
		when := "-"
		if t, ok := f.Attributes.Time(); ok {
			when = t.Format("2006-01-02 15:04")
		}
		collector := f.Attributes.Collector
		if collector == "" {
			collector = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", collector, when, f.Size, f.Path)
	}
	w.Flush()

	if *showUnmatched {
		for _, p := range res.Unmatched {
			fmt.Fprintf(stdout, "unmatched: %s\n", p)
		}
	}
	fmt.Fprintf(os.Stderr, "[mrt-downloader] %d files recognised, %d unmatched in %s\n",
		len(res.Files), len(res.Unmatched), *dir)
	return ExitSuccess
}
