// Package collectors fetches the list of known collectors per project.
//
// RIS collectors come from the RIPEstat rrc-info data call; RouteViews
// collectors from the RouteViews guest API. Both sources normalise the
// removal date to the last instant of the stated month, since a collector
// may publish files up to the last day of the month it is switched off in.
package collectors

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ties/mrt-downloader/internal/mrt"
)

// Default source URLs.
const (
	DefaultRISURL        = "https://stat.ripe.net/data/rrc-info/data.json"
	DefaultRouteViewsURL = "https://api.routeviews.org/guest/collector/"
)

// Archive roots used to build collector base URLs.
const (
	RISArchiveURL        = "https://data.ris.ripe.net/"
	RouteViewsArchiveURL = "https://archive.routeviews.org/"
)

// ParseError is returned when a collector list has an unexpected shape.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("collectors: parse %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Getter is the part of the HTTP client used by sources.
type Getter interface {
	GetBytes(ctx context.Context, url string) ([]byte, error)
}

// Source fetches collectors for one project.
type Source interface {
	Project() mrt.Project
	Fetch(ctx context.Context, client Getter) ([]mrt.CollectorInfo, error)
}

// URLs overrides the source endpoints. Empty fields use the defaults.
type URLs struct {
	RIS        string
	RouteViews string
}

// SourceFor returns the source for a project.
func SourceFor(project mrt.Project, urls URLs) (Source, error) {
	switch project {
	case mrt.ProjectRIS:
		return &RISSource{URL: urls.RIS}, nil
	case mrt.ProjectRouteViews:
		return &RouteViewsSource{URL: urls.RouteViews}, nil
	default:
		return nil, fmt.Errorf("collectors: unknown project %q", project)
	}
}

// Fetch retrieves the collectors of one project. It does not retry.
func Fetch(ctx context.Context, client Getter, project mrt.Project, urls URLs) ([]mrt.CollectorInfo, error) {
	src, err := SourceFor(project, urls)
	if err != nil {
		return nil, err
	}
	return src.Fetch(ctx, client)
}

// Filter keeps collectors whose name is in allow (case-insensitive).
// An empty allowlist keeps everything.
func Filter(collectors []mrt.CollectorInfo, allow []string) []mrt.CollectorInfo {
	if len(allow) == 0 {
		return collectors
	}
	names := make(map[string]bool, len(allow))
	for _, n := range allow {
		names[strings.ToLower(strings.TrimSpace(n))] = true
	}

	var out []mrt.CollectorInfo
	for _, c := range collectors {
		if names[strings.ToLower(c.Name)] {
			out = append(out, c)
		}
	}
	return out
}

// RISSource reads the RIPEstat rrc-info data call.
type RISSource struct {
	URL string
}

func (s *RISSource) Project() mrt.Project { return mrt.ProjectRIS }

type risResponse struct {
	Data *struct {
		RRCs []struct {
			Name          string `json:"name"`
			ActivatedOn   string `json:"activated_on"`
			DeactivatedOn string `json:"deactivated_on"`
		} `json:"rrcs"`
	} `json:"data"`
}

func (s *RISSource) Fetch(ctx context.Context, client Getter) ([]mrt.CollectorInfo, error) {
	url := s.URL
	if url == "" {
		url = DefaultRISURL
	}
	data, err := client.GetBytes(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("collectors: fetch ris: %w", err)
	}
	return ParseRIS(data)
}

// ParseRIS parses an rrc-info response.
func ParseRIS(data []byte) ([]mrt.CollectorInfo, error) {
	var resp risResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &ParseError{Source: "ris", Err: err}
	}
	if resp.Data == nil {
		return nil, &ParseError{Source: "ris", Err: fmt.Errorf("missing data object")}
	}

	out := make([]mrt.CollectorInfo, 0, len(resp.Data.RRCs))
	for _, rrc := range resp.Data.RRCs {
		if rrc.Name == "" {
			return nil, &ParseError{Source: "ris", Err: fmt.Errorf("collector without name")}
		}
		installed, err := time.ParseInLocation("2006-01", rrc.ActivatedOn, time.UTC)
		if err != nil {
			return nil, &ParseError{Source: "ris", Err: fmt.Errorf("%s activated_on: %w", rrc.Name, err)}
		}

		c := mrt.CollectorInfo{
			Name:      rrc.Name,
			Project:   mrt.ProjectRIS,
			BaseURL:   RISArchiveURL + strings.ToLower(rrc.Name) + "/",
			Installed: installed,
		}
		if rrc.DeactivatedOn != "" {
			removed, err := time.ParseInLocation("2006-01", rrc.DeactivatedOn, time.UTC)
			if err != nil {
				return nil, &ParseError{Source: "ris", Err: fmt.Errorf("%s deactivated_on: %w", rrc.Name, err)}
			}
			end := mrt.MonthEnd(removed)
			c.Removed = &end
		}
		out = append(out, c)
	}
	return out, nil
}

// RouteViewsSource reads the paginated RouteViews collector API.
type RouteViewsSource struct {
	URL string
}

func (s *RouteViewsSource) Project() mrt.Project { return mrt.ProjectRouteViews }

type routeViewsPage struct {
	Next    *string `json:"next"`
	Results *[]struct {
		Name      string  `json:"name"`
		Installed string  `json:"installed"`
		Removed   *string `json:"removed"`
	} `json:"results"`
}

// maxPages guards against a pagination loop.
const maxPages = 100

func (s *RouteViewsSource) Fetch(ctx context.Context, client Getter) ([]mrt.CollectorInfo, error) {
	url := s.URL
	if url == "" {
		url = DefaultRouteViewsURL
	}

	var out []mrt.CollectorInfo
	for page := 0; url != ""; page++ {
		if page == maxPages {
			return nil, &ParseError{Source: "routeviews", Err: fmt.Errorf("more than %d pages, next is %s", maxPages, url)}
		}
		data, err := client.GetBytes(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("collectors: fetch routeviews: %w", err)
		}
		collectors, next, err := parseRouteViewsPage(data)
		if err != nil {
			return nil, err
		}
		out = append(out, collectors...)
		url = next
	}
	return out, nil
}

// ParseRouteViews parses a single page of the RouteViews collector API.
func ParseRouteViews(data []byte) ([]mrt.CollectorInfo, error) {
	collectors, _, err := parseRouteViewsPage(data)
	return collectors, err
}

func parseRouteViewsPage(data []byte) ([]mrt.CollectorInfo, string, error) {
	var page routeViewsPage
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, "", &ParseError{Source: "routeviews", Err: err}
	}
	if page.Results == nil {
		return nil, "", &ParseError{Source: "routeviews", Err: fmt.Errorf("missing results array")}
	}

	out := make([]mrt.CollectorInfo, 0, len(*page.Results))
	for _, r := range *page.Results {
		if r.Name == "" {
			return nil, "", &ParseError{Source: "routeviews", Err: fmt.Errorf("collector without name")}
		}
		installed, err := parseTimestamp(r.Installed)
		if err != nil {
			return nil, "", &ParseError{Source: "routeviews", Err: fmt.Errorf("%s installed: %w", r.Name, err)}
		}

		c := mrt.CollectorInfo{
			Name:      r.Name,
			Project:   mrt.ProjectRouteViews,
			BaseURL:   RouteViewsBaseURL(r.Name),
			Installed: installed,
		}
		if r.Removed != nil && *r.Removed != "" {
			removed, err := parseTimestamp(*r.Removed)
			if err != nil {
				return nil, "", &ParseError{Source: "routeviews", Err: fmt.Errorf("%s removed: %w", r.Name, err)}
			}
			end := mrt.MonthEnd(removed)
			c.Removed = &end
		}
		out = append(out, c)
	}

	next := ""
	if page.Next != nil {
		next = *page.Next
	}
	return out, next, nil
}

// RouteViewsBaseURL returns the archive directory of a RouteViews collector.
// route-views2 lives at the archive root.
func RouteViewsBaseURL(name string) string {
	if name == "route-views2" {
		return RouteViewsArchiveURL + "bgpdata/"
	}
	return RouteViewsArchiveURL + name + "/bgpdata/"
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTimestamp parses ISO 8601 timestamps; values without a zone are UTC.
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
