package listing

import (
	"fmt"
	"time"

	"github.com/ties/mrt-downloader/internal/mrt"
)

// Plan returns the directory listings to examine for a collector between
// start and end. Months are walked from start's month while the month start
// is not after end. Months before the collector was installed are skipped,
// and the walk stops after the collector's removal date.
func Plan(c mrt.CollectorInfo, start, end time.Time) []mrt.ListingEntry {
	var out []mrt.ListingEntry

	for month := mrt.MonthStart(start); !month.After(end); month = mrt.NextMonth(month) {
		if c.Removed != nil && month.After(*c.Removed) {
			break
		}
		if month.Before(c.Installed) {
			continue
		}
		out = append(out, monthListings(c, month)...)
	}
	return out
}

// PlanAll concatenates the plans of all collectors.
func PlanAll(collectors []mrt.CollectorInfo, start, end time.Time) []mrt.ListingEntry {
	var out []mrt.ListingEntry
	for _, c := range collectors {
		out = append(out, Plan(c, start, end)...)
	}
	return out
}

func monthListings(c mrt.CollectorInfo, month time.Time) []mrt.ListingEntry {
	dir := fmt.Sprintf("%s%04d.%02d/", c.BaseURL, month.Year(), int(month.Month()))

	switch c.Project {
	case mrt.ProjectRouteViews:
		return []mrt.ListingEntry{
			{Collector: c, URL: dir + "RIBS/", TimePeriod: month, FileTypes: mrt.TypesOf(mrt.RIB)},
			{Collector: c, URL: dir + "UPDATES/", TimePeriod: month, FileTypes: mrt.TypesOf(mrt.Update)},
		}
	default:
		return []mrt.ListingEntry{
			{Collector: c, URL: dir, TimePeriod: month, FileTypes: mrt.AllFileTypes},
		}
	}
}
