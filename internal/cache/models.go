package cache

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/ties/mrt-downloader/internal/mrt"
)

// collectorRow is one collector of a cached project directory.
type collectorRow struct {
	bun.BaseModel `bun:"table:collector_cache,alias:cc"`

	Project   string     `bun:"project,pk"`
	Name      string     `bun:"name,pk"`
	BaseURL   string     `bun:"base_url,notnull"`
	Installed time.Time  `bun:"installed,notnull"`
	Removed   *time.Time `bun:"removed"`
	CachedAt  time.Time  `bun:"cached_at,notnull"`
}

// indexRow records when a listing URL was last fetched.
type indexRow struct {
	bun.BaseModel `bun:"table:index_cache,alias:ic"`

	URL          string    `bun:"url,pk"`
	DownloadedAt time.Time `bun:"downloaded_at,notnull"`
	MonthEndDate time.Time `bun:"month_end_date,notnull"`
}

// fileRow is a file found in a cached listing.
type fileRow struct {
	bun.BaseModel `bun:"table:file_cache,alias:fc"`

	ID                 int64      `bun:"id,pk,autoincrement"`
	IndexURL           string     `bun:"index_url,notnull"`
	CollectorName      string     `bun:"collector_name,notnull"`
	CollectorProject   string     `bun:"collector_project,notnull"`
	CollectorBaseURL   string     `bun:"collector_base_url,notnull"`
	CollectorInstalled time.Time  `bun:"collector_installed,notnull"`
	CollectorRemoved   *time.Time `bun:"collector_removed"`
	Filename           string     `bun:"filename,notnull"`
	FileURL            string     `bun:"file_url,notnull"`
	FileType           string     `bun:"file_type,notnull"`
}

func newCollectorRow(project mrt.Project, c mrt.CollectorInfo, now time.Time) collectorRow {
	return collectorRow{
		Project:   string(project),
		Name:      c.Name,
		BaseURL:   c.BaseURL,
		Installed: c.Installed.UTC(),
		Removed:   utcPtr(c.Removed),
		CachedAt:  now,
	}
}

func (r collectorRow) info() mrt.CollectorInfo {
	return mrt.CollectorInfo{
		Name:      r.Name,
		Project:   mrt.Project(r.Project),
		BaseURL:   r.BaseURL,
		Installed: r.Installed.UTC(),
		Removed:   utcPtr(r.Removed),
	}
}

func newFileRow(indexURL string, e mrt.FileEntry) fileRow {
	return fileRow{
		IndexURL:           indexURL,
		CollectorName:      e.Collector.Name,
		CollectorProject:   string(e.Collector.Project),
		CollectorBaseURL:   e.Collector.BaseURL,
		CollectorInstalled: e.Collector.Installed.UTC(),
		CollectorRemoved:   utcPtr(e.Collector.Removed),
		Filename:           e.Filename,
		FileURL:            e.URL,
		FileType:           string(e.Type),
	}
}

func (r fileRow) entry() (mrt.FileEntry, error) {
	fileType, err := mrt.ParseFileType(r.FileType)
	if err != nil {
		return mrt.FileEntry{}, err
	}
	return mrt.FileEntry{
		Collector: mrt.CollectorInfo{
			Name:      r.CollectorName,
			Project:   mrt.Project(r.CollectorProject),
			BaseURL:   r.CollectorBaseURL,
			Installed: r.CollectorInstalled.UTC(),
			Removed:   utcPtr(r.CollectorRemoved),
		},
		Filename: r.Filename,
		URL:      r.FileURL,
		Type:     fileType,
	}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
