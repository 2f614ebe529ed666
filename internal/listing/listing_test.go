package listing

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ties/mrt-downloader/internal/mrt"
)

var (
	rrc00 = mrt.CollectorInfo{
		Name:      "RRC00",
		Project:   mrt.ProjectRIS,
		BaseURL:   "https://data.ris.ripe.net/rrc00/",
		Installed: time.Date(1999, 10, 1, 0, 0, 0, 0, time.UTC),
	}
	flix = mrt.CollectorInfo{
		Name:      "route-views.flix",
		Project:   mrt.ProjectRouteViews,
		BaseURL:   "https://archive.routeviews.org/route-views.flix/bgpdata/",
		Installed: time.Date(2018, 11, 1, 0, 0, 0, 0, time.UTC),
	}
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPlanRIS(t *testing.T) {
	entries := Plan(rrc00,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))

	require.Len(t, entries, 2)
	for _, e := range entries {
		require.Equal(t, mrt.AllFileTypes, e.FileTypes)
		require.True(t, e.Collector.Equal(rrc00))
	}
	require.Equal(t, "https://data.ris.ripe.net/rrc00/2024.01/", entries[0].URL)
	require.Equal(t, "https://data.ris.ripe.net/rrc00/2024.02/", entries[1].URL)
	require.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), entries[0].TimePeriod)
	require.Equal(t, time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC), entries[0].MonthEnd())
}

func TestPlanRouteViews(t *testing.T) {
	entries := Plan(flix,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))

	require.Len(t, entries, 4)

	ribs, updates := 0, 0
	for _, e := range entries {
		if e.FileTypes.Has(mrt.RIB) {
			ribs++
		}
		if e.FileTypes.Has(mrt.Update) {
			updates++
		}
	}
	require.Equal(t, 2, ribs)
	require.Equal(t, 2, updates)
	require.Equal(t, "https://archive.routeviews.org/route-views.flix/bgpdata/2024.01/RIBS/", entries[0].URL)
	require.Equal(t, "https://archive.routeviews.org/route-views.flix/bgpdata/2024.01/UPDATES/", entries[1].URL)
	require.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), entries[0].TimePeriod)
}

func TestPlanFloorsStartToMonth(t *testing.T) {
	entries := Plan(rrc00,
		time.Date(2024, 3, 17, 12, 30, 0, 0, time.UTC),
		time.Date(2024, 3, 18, 0, 0, 0, 0, time.UTC))

	require.Len(t, entries, 1)
	require.Equal(t, "https://data.ris.ripe.net/rrc00/2024.03/", entries[0].URL)
}

func TestPlanYearBoundary(t *testing.T) {
	entries := Plan(rrc00,
		time.Date(2023, 12, 20, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC))

	require.Len(t, entries, 2)
	require.Equal(t, "https://data.ris.ripe.net/rrc00/2023.12/", entries[0].URL)
	require.Equal(t, "https://data.ris.ripe.net/rrc00/2024.01/", entries[1].URL)
}

func TestPlanActivityWindow(t *testing.T) {
	installed := time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)
	removed := time.Date(2020, 6, 30, 23, 59, 59, 0, time.UTC)
	c := mrt.CollectorInfo{
		Name:      "RRC99",
		Project:   mrt.ProjectRIS,
		BaseURL:   "https://data.ris.ripe.net/rrc99/",
		Installed: installed,
		Removed:   &removed,
	}

	start := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2021, 12, 31, 0, 0, 0, 0, time.UTC)
	entries := Plan(c, start, end)

	planned := make(map[time.Time]bool)
	for _, e := range entries {
		planned[e.TimePeriod] = true
	}

	for m := start; !m.After(end); m = mrt.NextMonth(m) {
		want := !installed.After(m) && !m.After(removed)
		require.Equal(t, want, planned[m], "month %s", m.Format("2006-01"))
	}
	require.Len(t, entries, 4)
}

func TestPlanSkipsMonthsBeforeInstall(t *testing.T) {
	c := flix
	c.Installed = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	entries := Plan(c,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))

	require.Len(t, entries, 4)
	require.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), entries[0].TimePeriod)
}

func TestPlanAll(t *testing.T) {
	entries := PlanAll([]mrt.CollectorInfo{rrc00, flix},
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	require.Len(t, entries, 6)
}

func TestParseRISListing(t *testing.T) {
	f, err := os.Open("testdata/rrc00-2024.01.html")
	require.NoError(t, err)
	defer f.Close()

	entry := mrt.ListingEntry{
		Collector:  rrc00,
		URL:        "https://data.ris.ripe.net/rrc00/2024.01/",
		TimePeriod: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		FileTypes:  mrt.AllFileTypes,
	}
	files, err := Parse(entry, f, discard())
	require.NoError(t, err)

	counts := map[mrt.FileType]int{}
	urls := map[string]bool{}
	for _, fe := range files {
		counts[fe.Type]++
		urls[fe.URL] = true
		require.True(t, strings.HasPrefix(fe.URL, entry.URL), fe.URL)
		require.Equal(t, "RRC00", fe.Collector.Name)
		require.False(t, strings.HasSuffix(fe.Filename, ".txt"))
	}

	require.Len(t, files, 8)
	require.Equal(t, 5, counts[mrt.Update])
	require.Equal(t, 3, counts[mrt.RIB])
	require.Len(t, urls, len(files))
	require.True(t, urls["https://data.ris.ripe.net/rrc00/2024.01/updates.20240101.0015.gz"])
	require.True(t, urls["https://data.ris.ripe.net/rrc00/2024.01/rib.20240101.1600.bz2"])
}

func TestParseRouteViewsListing(t *testing.T) {
	doc := `<html><body><pre>
<a href="?C=N;O=D">Name</a>
<a href="/route-views.flix/bgpdata/2024.01/">Parent Directory</a>
<a href="updates.20240101.0000.bz2">updates.20240101.0000.bz2</a>
<a href="updates.20240101.0015.bz2">updates.20240101.0015.bz2</a>
</pre></body></html>`

	entry := mrt.ListingEntry{
		Collector:  flix,
		URL:        "https://archive.routeviews.org/route-views.flix/bgpdata/2024.01/UPDATES/",
		TimePeriod: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		FileTypes:  mrt.TypesOf(mrt.Update),
	}
	files, err := Parse(entry, strings.NewReader(doc), discard())
	require.NoError(t, err)
	require.Len(t, files, 2)
	require.Equal(t, "https://archive.routeviews.org/route-views.flix/bgpdata/2024.01/UPDATES/updates.20240101.0000.bz2", files[0].URL)
	require.Equal(t, mrt.Update, files[0].Type)

	date, err := files[1].Date()
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 1, 1, 0, 15, 0, 0, time.UTC), date)
}

func TestParseEmptyDocument(t *testing.T) {
	entry := mrt.ListingEntry{Collector: rrc00, URL: "https://data.ris.ripe.net/rrc00/2024.01/"}
	files, err := Parse(entry, strings.NewReader(""), discard())
	require.NoError(t, err)
	require.Empty(t, files)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		want mrt.FileType
		ok   bool
	}{
		{"bview.20240101.0000.gz", mrt.RIB, true},
		{"rib.20240101.0000.bz2", mrt.RIB, true},
		{"updates.20240101.0000.gz", mrt.Update, true},
		{"latest-bview.gz", "", false},
		{"update.20240101.0000.gz", "", false},
	}
	for _, tt := range tests {
		got, ok := Classify(tt.name)
		require.Equal(t, tt.ok, ok, tt.name)
		require.Equal(t, tt.want, got, tt.name)
	}
}
