package listing

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ties/mrt-downloader/internal/mrt"
)

// ParseError is returned when a listing document cannot be read.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("listing: parse %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var archiveExtensions = []string{".gz", ".bz2"}

// Classify returns the file type of an archive basename.
func Classify(filename string) (mrt.FileType, bool) {
	switch {
	case strings.HasPrefix(filename, "bview."), strings.HasPrefix(filename, "rib."):
		return mrt.RIB, true
	case strings.HasPrefix(filename, "updates."):
		return mrt.Update, true
	default:
		return "", false
	}
}

// Parse extracts archive files from a directory listing document. Links
// outside the listing's directory and unrecognised names are dropped with a
// debug message.
func Parse(entry mrt.ListingEntry, document io.Reader, log *slog.Logger) ([]mrt.FileEntry, error) {
	if log == nil {
		log = slog.Default()
	}

	base, err := url.Parse(entry.URL)
	if err != nil {
		return nil, &ParseError{URL: entry.URL, Err: err}
	}
	doc, err := goquery.NewDocumentFromReader(document)
	if err != nil {
		return nil, &ParseError{URL: entry.URL, Err: err}
	}

	seen := make(map[string]bool)
	var out []mrt.FileEntry

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if !hasArchiveExtension(href) {
			return
		}

		ref, err := url.Parse(href)
		if err != nil {
			log.Debug("Skipping malformed link", slog.String("listing", entry.URL), slog.String("href", href))
			return
		}
		resolved := base.ResolveReference(ref)
		resolved.Fragment = ""
		abs := resolved.String()

		if !strings.HasPrefix(abs, entry.URL) {
			log.Debug("Skipping link outside listing", slog.String("listing", entry.URL), slog.String("url", abs))
			return
		}
		if seen[abs] {
			return
		}

		filename := path.Base(resolved.Path)
		fileType, ok := Classify(filename)
		if !ok {
			log.Debug("Skipping unrecognised file", slog.String("listing", entry.URL), slog.String("filename", filename))
			return
		}

		seen[abs] = true
		out = append(out, mrt.FileEntry{
			Collector: entry.Collector,
			Filename:  filename,
			URL:       abs,
			Type:      fileType,
		})
	})

	return out, nil
}

func hasArchiveExtension(href string) bool {
	p := href
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	for _, ext := range archiveExtensions {
		if strings.HasSuffix(p, ext) {
			return true
		}
	}
	return false
}
