package mrt

import (
	"fmt"
	"strings"
	"time"
)

// Project identifies a collector project.
type Project string

const (
	// ProjectRIS is the RIPE NCC Routing Information Service.
	ProjectRIS Project = "ris"
	// ProjectRouteViews is the University of Oregon RouteViews project.
	ProjectRouteViews Project = "routeviews"
)

// Projects lists all known projects.
var Projects = []Project{ProjectRIS, ProjectRouteViews}

// ParseProject parses a project name case-insensitively.
func ParseProject(s string) (Project, error) {
	switch Project(strings.ToLower(strings.TrimSpace(s))) {
	case ProjectRIS:
		return ProjectRIS, nil
	case ProjectRouteViews:
		return ProjectRouteViews, nil
	default:
		return "", fmt.Errorf("unknown project %q (expected ris or routeviews)", s)
	}
}

// FileType is the kind of archive file.
type FileType string

const (
	// RIB is a full routing table snapshot (bview/rib files).
	RIB FileType = "rib"
	// Update is an incremental update file.
	Update FileType = "update"
)

// ParseFileType parses a stored file type.
func ParseFileType(s string) (FileType, error) {
	switch FileType(s) {
	case RIB:
		return RIB, nil
	case Update:
		return Update, nil
	default:
		return "", fmt.Errorf("unknown file type %q", s)
	}
}

// FileTypes is a set of file types.
type FileTypes uint8

const (
	typeRIB FileTypes = 1 << iota
	typeUpdate
)

// AllFileTypes contains both RIB and update files.
const AllFileTypes = typeRIB | typeUpdate

// TypesOf builds a set from the given types.
func TypesOf(types ...FileType) FileTypes {
	var s FileTypes
	for _, t := range types {
		switch t {
		case RIB:
			s |= typeRIB
		case Update:
			s |= typeUpdate
		}
	}
	return s
}

// Has reports whether t is in the set.
func (s FileTypes) Has(t FileType) bool {
	return s&TypesOf(t) != 0
}

// Intersects reports whether the two sets share a type.
func (s FileTypes) Intersects(o FileTypes) bool {
	return s&o != 0
}

// Types returns the members of the set in a stable order.
func (s FileTypes) Types() []FileType {
	var out []FileType
	if s&typeRIB != 0 {
		out = append(out, RIB)
	}
	if s&typeUpdate != 0 {
		out = append(out, Update)
	}
	return out
}

func (s FileTypes) String() string {
	parts := make([]string, 0, 2)
	for _, t := range s.Types() {
		parts = append(parts, string(t))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// CollectorInfo describes a data source.
type CollectorInfo struct {
	Name      string
	Project   Project
	BaseURL   string
	Installed time.Time
	// Removed is nil while the collector is still active.
	Removed *time.Time
}

// Equal compares two collectors field by field.
func (c CollectorInfo) Equal(o CollectorInfo) bool {
	if c.Name != o.Name || c.Project != o.Project || c.BaseURL != o.BaseURL || !c.Installed.Equal(o.Installed) {
		return false
	}
	if c.Removed == nil || o.Removed == nil {
		return c.Removed == nil && o.Removed == nil
	}
	return c.Removed.Equal(*o.Removed)
}

// ListingEntry is a remote directory listing for one collector and month.
type ListingEntry struct {
	Collector  CollectorInfo
	URL        string
	TimePeriod time.Time
	FileTypes  FileTypes
}

// MonthEnd returns the last instant of the listing's month.
func (e ListingEntry) MonthEnd() time.Time {
	return MonthEnd(e.TimePeriod)
}

// FileEntry is a single remote archive file.
type FileEntry struct {
	Collector CollectorInfo
	Filename  string
	URL       string
	Type      FileType
}

// EntryKey identifies a FileEntry within one run.
type EntryKey struct {
	Collector string
	URL       string
}

// Key returns the identity of the entry.
func (e FileEntry) Key() EntryKey {
	return EntryKey{Collector: e.Collector.Name, URL: e.URL}
}

// Date parses the timestamp embedded in the file name.
func (e FileEntry) Date() (time.Time, error) {
	return ParseFilenameDate(e.Filename)
}

// DownloadTask pairs a remote file with its local target.
type DownloadTask struct {
	Entry  FileEntry
	URL    string
	Target string
}

// DateParseError is returned when a file name carries no parseable date.
type DateParseError struct {
	Filename string
	Err      error
}

func (e *DateParseError) Error() string {
	return fmt.Sprintf("parse date from %q: %v", e.Filename, e.Err)
}

func (e *DateParseError) Unwrap() error {
	return e.Err
}

const filenameDateLayout = "20060102.1504"

// ParseFilenameDate extracts the date from names such as
// updates.20240101.0015.gz, using the two tokens before the extension.
func ParseFilenameDate(filename string) (time.Time, error) {
	tokens := strings.Split(filename, ".")
	if len(tokens) < 3 {
		return time.Time{}, &DateParseError{Filename: filename, Err: fmt.Errorf("too few tokens")}
	}
	stamp := tokens[len(tokens)-3] + "." + tokens[len(tokens)-2]
	t, err := time.ParseInLocation(filenameDateLayout, stamp, time.UTC)
	if err != nil {
		return time.Time{}, &DateParseError{Filename: filename, Err: err}
	}
	return t, nil
}

// MonthStart truncates t to the first instant of its month in UTC.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// NextMonth returns day 1 of the month following t.
func NextMonth(t time.Time) time.Time {
	return MonthStart(t).AddDate(0, 1, 0)
}

// MonthEnd returns the last second (23:59:59) of t's month.
func MonthEnd(t time.Time) time.Time {
	return NextMonth(t).Add(-time.Second)
}
