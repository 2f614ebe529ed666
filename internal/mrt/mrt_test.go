package mrt

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseFilenameDate(t *testing.T) {
	tests := []struct {
		filename string
		want     time.Time
	}{
		{"updates.20240101.0015.gz", time.Date(2024, 1, 1, 0, 15, 0, 0, time.UTC)},
		{"bview.20231231.1600.gz", time.Date(2023, 12, 31, 16, 0, 0, 0, time.UTC)},
		{"rib.20250714.2345.bz2", time.Date(2025, 7, 14, 23, 45, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		got, err := ParseFilenameDate(tt.filename)
		require.NoError(t, err, tt.filename)
		require.True(t, tt.want.Equal(got), "%s: got %v want %v", tt.filename, got, tt.want)
	}
}

func TestParseFilenameDateInvalid(t *testing.T) {
	for _, name := range []string{"README.txt", "updates.gz", "updates.2024XX01.0015.gz"} {
		_, err := ParseFilenameDate(name)
		var dpe *DateParseError
		require.True(t, errors.As(err, &dpe), name)
		require.Equal(t, name, dpe.Filename)
	}
}

func TestMonthHelpers(t *testing.T) {
	ts := time.Date(2024, 2, 17, 13, 4, 5, 0, time.UTC)

	require.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), MonthStart(ts))
	require.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), NextMonth(ts))
	require.Equal(t, time.Date(2024, 2, 29, 23, 59, 59, 0, time.UTC), MonthEnd(ts))
	require.Equal(t, time.Date(2023, 12, 31, 23, 59, 59, 0, time.UTC), MonthEnd(time.Date(2023, 12, 5, 0, 0, 0, 0, time.UTC)))
	require.Equal(t, time.Date(2023, 2, 28, 23, 59, 59, 0, time.UTC), MonthEnd(time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)))
}

func TestFileTypes(t *testing.T) {
	ribs := TypesOf(RIB)
	updates := TypesOf(Update)

	require.True(t, AllFileTypes.Has(RIB))
	require.True(t, AllFileTypes.Has(Update))
	require.False(t, ribs.Has(Update))
	require.False(t, ribs.Intersects(updates))
	require.True(t, AllFileTypes.Intersects(updates))
	require.Equal(t, "{rib,update}", AllFileTypes.String())
	require.Equal(t, []FileType{Update}, updates.Types())
}

func TestParseProject(t *testing.T) {
	p, err := ParseProject("RIS")
	require.NoError(t, err)
	require.Equal(t, ProjectRIS, p)

	p, err = ParseProject("routeviews")
	require.NoError(t, err)
	require.Equal(t, ProjectRouteViews, p)

	_, err = ParseProject("RIPE RIS")
	require.Error(t, err)
}

func TestCollectorEqual(t *testing.T) {
	removed := time.Date(2008, 11, 30, 23, 59, 59, 0, time.UTC)
	a := CollectorInfo{Name: "RRC02", Project: ProjectRIS, BaseURL: "https://data.ris.ripe.net/rrc02/", Removed: &removed}
	b := a
	other := removed
	b.Removed = &other

	require.True(t, a.Equal(b))
	b.Removed = nil
	require.False(t, a.Equal(b))
}
