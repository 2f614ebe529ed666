// Package naming maps archive files to local paths and back.
//
// Paths are slash separated and relative to a base directory or bucket
// prefix. Collector names are lower-cased when used in paths.
package naming

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ties/mrt-downloader/internal/mrt"
)

// Attributes are the values recovered from a stored path. Fields that the
// path does not encode are taken from the archive file name when possible
// and are empty otherwise. Numeric fields keep their zero padding.
type Attributes struct {
	Collector string
	Filename  string
	Year      string
	Month     string
	Day       string
	Hour      string
	Minute    string
}

// Time returns the file's timestamp when all date fields are known.
func (a Attributes) Time() (time.Time, bool) {
	if a.Year == "" || a.Month == "" || a.Day == "" || a.Hour == "" || a.Minute == "" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation("2006.01.02 15:04",
		fmt.Sprintf("%s.%s.%s %s:%s", a.Year, a.Month, a.Day, a.Hour, a.Minute), time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Strategy places archive files below a base path.
type Strategy interface {
	// Path returns the location of entry below base.
	Path(base string, entry mrt.FileEntry) (string, error)
	// Parse recovers attributes from the path segments below base.
	Parse(segments []string) (Attributes, error)
	// Depth is the number of path segments Path adds below base.
	Depth() int
}

// ParseError is returned when a path does not match a strategy.
type ParseError struct {
	Segments []string
	Reason   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("naming: cannot parse %q: %s", strings.Join(e.Segments, "/"), e.Reason)
}

// ErrNoSeparator is returned by SplitCollectorPrefix for names without a
// collector prefix.
var ErrNoSeparator = errors.New("naming: no collector separator")

// SplitCollectorPrefix splits "{collector}-{filename}". Collector names such
// as route-views.chicago contain a dash themselves, so after "route-" the
// split happens at the next dash that is not directly after it.
func SplitCollectorPrefix(name string) (collector, filename string, err error) {
	const marker = "route-"

	if i := strings.Index(name, marker); i >= 0 {
		from := i + len(marker) + 1
		if from > len(name) {
			return "", "", ErrNoSeparator
		}
		j := strings.Index(name[from:], "-")
		if j < 0 {
			return "", "", ErrNoSeparator
		}
		split := from + j
		return name[:split], name[split+1:], nil
	}

	collector, filename, ok := strings.Cut(name, "-")
	if !ok {
		return "", "", ErrNoSeparator
	}
	return collector, filename, nil
}

var filenamePattern = regexp.MustCompile(`^(?:bview|updates|rib)\.(\d{4})(\d{2})(\d{2})\.(\d{2})(\d{2})\.`)

// fillFromFilename completes empty date fields from the archive file name.
func fillFromFilename(a *Attributes) {
	m := filenamePattern.FindStringSubmatch(a.Filename)
	if m == nil {
		return
	}
	for i, field := range []*string{&a.Year, &a.Month, &a.Day, &a.Hour, &a.Minute} {
		if *field == "" {
			*field = m[i+1]
		}
	}
}

func collectorName(entry mrt.FileEntry) string {
	return strings.ToLower(entry.Collector.Name)
}

func prefixed(entry mrt.FileEntry) string {
	return collectorName(entry) + "-" + entry.Filename
}

func checkDepth(s Strategy, segments []string) error {
	if len(segments) != s.Depth() {
		return &ParseError{Segments: segments, Reason: fmt.Sprintf("expected %d segments", s.Depth())}
	}
	return nil
}

// splitDate parses a "YYYY.MM" or "YYYY.MM.DD" directory name.
func splitDate(segments []string, dir string, parts int) ([]string, error) {
	fields := strings.Split(dir, ".")
	if len(fields) != parts {
		return nil, &ParseError{Segments: segments, Reason: fmt.Sprintf("bad date directory %q", dir)}
	}
	for _, f := range fields {
		if f == "" || strings.Trim(f, "0123456789") != "" {
			return nil, &ParseError{Segments: segments, Reason: fmt.Sprintf("bad date directory %q", dir)}
		}
	}
	return fields, nil
}

// Identity stores files directly below base.
type Identity struct{}

func (Identity) Path(base string, entry mrt.FileEntry) (string, error) {
	return path.Join(base, entry.Filename), nil
}

func (s Identity) Parse(segments []string) (Attributes, error) {
	if err := checkDepth(s, segments); err != nil {
		return Attributes{}, err
	}
	a := Attributes{Filename: segments[0]}
	fillFromFilename(&a)
	return a, nil
}

func (Identity) Depth() int { return 1 }

// PrefixCollector stores "{collector}-{filename}" directly below base.
type PrefixCollector struct{}

func (PrefixCollector) Path(base string, entry mrt.FileEntry) (string, error) {
	return path.Join(base, prefixed(entry)), nil
}

func (s PrefixCollector) Parse(segments []string) (Attributes, error) {
	if err := checkDepth(s, segments); err != nil {
		return Attributes{}, err
	}
	collector, filename, err := SplitCollectorPrefix(segments[0])
	if err != nil {
		return Attributes{}, &ParseError{Segments: segments, Reason: err.Error()}
	}
	a := Attributes{Collector: collector, Filename: filename}
	fillFromFilename(&a)
	return a, nil
}

func (PrefixCollector) Depth() int { return 1 }

// ByCollector stores files in one directory per collector.
type ByCollector struct{}

func (ByCollector) Path(base string, entry mrt.FileEntry) (string, error) {
	return path.Join(base, collectorName(entry), entry.Filename), nil
}

func (s ByCollector) Parse(segments []string) (Attributes, error) {
	if err := checkDepth(s, segments); err != nil {
		return Attributes{}, err
	}
	a := Attributes{Collector: segments[0], Filename: segments[1]}
	fillFromFilename(&a)
	return a, nil
}

func (ByCollector) Depth() int { return 2 }

// ByMonth stores files in "YYYY.MM" directories.
type ByMonth struct{}

func (ByMonth) Path(base string, entry mrt.FileEntry) (string, error) {
	t, err := entry.Date()
	if err != nil {
		return "", err
	}
	return path.Join(base, t.Format("2006.01"), entry.Filename), nil
}

func (s ByMonth) Parse(segments []string) (Attributes, error) {
	if err := checkDepth(s, segments); err != nil {
		return Attributes{}, err
	}
	date, err := splitDate(segments, segments[0], 2)
	if err != nil {
		return Attributes{}, err
	}
	a := Attributes{Year: date[0], Month: date[1], Filename: segments[1]}
	fillFromFilename(&a)
	return a, nil
}

func (ByMonth) Depth() int { return 2 }

// ByDay stores files in "YYYY.MM.DD" directories.
type ByDay struct{}

func (ByDay) Path(base string, entry mrt.FileEntry) (string, error) {
	t, err := entry.Date()
	if err != nil {
		return "", err
	}
	return path.Join(base, t.Format("2006.01.02"), entry.Filename), nil
}

func (s ByDay) Parse(segments []string) (Attributes, error) {
	if err := checkDepth(s, segments); err != nil {
		return Attributes{}, err
	}
	date, err := splitDate(segments, segments[0], 3)
	if err != nil {
		return Attributes{}, err
	}
	a := Attributes{Year: date[0], Month: date[1], Day: date[2], Filename: segments[1]}
	fillFromFilename(&a)
	return a, nil
}

func (ByDay) Depth() int { return 2 }

// ByHour stores files in "YYYY.MM.DD/HH" directories.
type ByHour struct{}

func (ByHour) Path(base string, entry mrt.FileEntry) (string, error) {
	t, err := entry.Date()
	if err != nil {
		return "", err
	}
	return path.Join(base, t.Format("2006.01.02"), t.Format("15"), entry.Filename), nil
}

func (s ByHour) Parse(segments []string) (Attributes, error) {
	if err := checkDepth(s, segments); err != nil {
		return Attributes{}, err
	}
	date, err := splitDate(segments, segments[0], 3)
	if err != nil {
		return Attributes{}, err
	}
	a := Attributes{Year: date[0], Month: date[1], Day: date[2], Hour: segments[1], Filename: segments[2]}
	fillFromFilename(&a)
	return a, nil
}

func (ByHour) Depth() int { return 3 }

// PrefixCollectorByHour stores "{collector}-{filename}" in "YYYY.MM.DD/HH"
// directories.
type PrefixCollectorByHour struct{}

func (PrefixCollectorByHour) Path(base string, entry mrt.FileEntry) (string, error) {
	t, err := entry.Date()
	if err != nil {
		return "", err
	}
	return path.Join(base, t.Format("2006.01.02"), t.Format("15"), prefixed(entry)), nil
}

func (s PrefixCollectorByHour) Parse(segments []string) (Attributes, error) {
	if err := checkDepth(s, segments); err != nil {
		return Attributes{}, err
	}
	date, err := splitDate(segments, segments[0], 3)
	if err != nil {
		return Attributes{}, err
	}
	collector, filename, err := SplitCollectorPrefix(segments[2])
	if err != nil {
		return Attributes{}, &ParseError{Segments: segments, Reason: err.Error()}
	}
	a := Attributes{
		Collector: collector,
		Filename:  filename,
		Year:      date[0],
		Month:     date[1],
		Day:       date[2],
		Hour:      segments[1],
	}
	fillFromFilename(&a)
	return a, nil
}

func (PrefixCollectorByHour) Depth() int { return 3 }

// Partitioned adds a collector directory in front of Inner.
type Partitioned struct {
	Inner Strategy
}

func (s Partitioned) Path(base string, entry mrt.FileEntry) (string, error) {
	return s.Inner.Path(path.Join(base, collectorName(entry)), entry)
}

func (s Partitioned) Parse(segments []string) (Attributes, error) {
	if err := checkDepth(s, segments); err != nil {
		return Attributes{}, err
	}
	a, err := s.Inner.Parse(segments[1:])
	if err != nil {
		return Attributes{}, err
	}
	a.Collector = segments[0]
	return a, nil
}

func (s Partitioned) Depth() int { return 1 + s.Inner.Depth() }

// ByCollectorMonth stores files in "{collector}/YYYY.MM" directories.
func ByCollectorMonth() Strategy {
	return Partitioned{Inner: ByMonth{}}
}

var strategies = map[string]func() Strategy{
	"identity":        func() Strategy { return Identity{} },
	"flat":            func() Strategy { return PrefixCollector{} },
	"collector":       func() Strategy { return ByCollector{} },
	"collector-month": ByCollectorMonth,
	"month":           func() Strategy { return ByMonth{} },
	"day":             func() Strategy { return ByDay{} },
	"hour":            func() Strategy { return ByHour{} },
	"collector-hour":  func() Strategy { return PrefixCollectorByHour{} },
}

// DefaultName is the strategy used when none is configured.
const DefaultName = "collector-month"

// Lookup returns the strategy registered under name.
func Lookup(name string) (Strategy, error) {
	f, ok := strategies[name]
	if !ok {
		return nil, fmt.Errorf("unknown naming strategy %q (expected one of %s)", name, strings.Join(Names(), ", "))
	}
	return f(), nil
}

// Names lists the registered strategy names.
func Names() []string {
	names := make([]string, 0, len(strategies))
	for n := range strategies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
