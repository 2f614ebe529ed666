package cache

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/ties/mrt-downloader/internal/mrt"
)

const (
	// IndexSettleTime is how long after a month ends its listings are still
	// refetched.
	IndexSettleTime = 7 * 24 * time.Hour
	// CollectorTTL is the lifetime of a cached collector directory.
	CollectorTTL = 24 * time.Hour
)

// DefaultPath returns the database location under the user cache directory.
func DefaultPath() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("cache: locate user cache directory: %w", err)
	}
	return filepath.Join(dir, "mrt-downloader", "state.sqlite3"), nil
}

// IndexKey identifies a listing and the month it covers.
type IndexKey struct {
	URL      string
	MonthEnd time.Time
}

// Stats holds row counts.
type Stats struct {
	Collectors int
	Indexes    int
	Files      int
}

// Store is a SQLite backed cache.
type Store struct {
	path string
	// mu serialises access from concurrent workers of one process.
	mu sync.Mutex

	// Now returns the current time. Tests replace it.
	Now    func() time.Time
	Logger *slog.Logger
}

// New returns a Store using the database file at path. The file and its
// directory are created on first use.
func New(path string) *Store {
	return &Store{
		path:   path,
		Now:    time.Now,
		Logger: slog.Default(),
	}
}

// Path returns the database file.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) now() time.Time {
	return s.Now().UTC()
}

// open locks the store and opens the database. Callers must close the
// returned handle with s.close.
func (s *Store) open(ctx context.Context) (*bun.DB, error) {
	s.mu.Lock()
	db, err := s.connect(ctx)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	return db, nil
}

func (s *Store) close(db *bun.DB) {
	db.Close()
	s.mu.Unlock()
}

func (s *Store) connect(ctx context.Context) (*bun.DB, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, fmt.Errorf("cache: create directory: %w", err)
	}

	sqldb, err := sql.Open(sqliteshim.ShimName, "file:"+s.path)
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", s.path, err)
	}
	// foreign_keys is a per-connection setting
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("cache: %s: %w", pragma, err)
		}
	}
	if err := createSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: create schema: %w", err)
	}
	return db, nil
}

func createSchema(ctx context.Context, db *bun.DB) error {
	if _, err := db.NewCreateTable().Model((*collectorRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return err
	}
	if _, err := db.NewCreateTable().Model((*indexRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return err
	}
	if _, err := db.NewCreateTable().Model((*fileRow)(nil)).IfNotExists().
		ForeignKey(`("index_url") REFERENCES "index_cache" ("url") ON DELETE CASCADE`).
		Exec(ctx); err != nil {
		return err
	}
	_, err := db.NewCreateIndex().Model((*fileRow)(nil)).IfNotExists().
		Index("idx_file_cache_index_url").
		Column("index_url").
		Exec(ctx)
	return err
}

// ShouldRefresh reports whether a listing for the month ending at monthEnd
// may still change and must be refetched.
func (s *Store) ShouldRefresh(monthEnd time.Time) bool {
	now := s.now()
	monthEnd = monthEnd.UTC()

	if monthEnd.Year() == now.Year() && monthEnd.Month() == now.Month() {
		return true
	}
	if monthEnd.After(now) {
		return true
	}
	return now.Sub(monthEnd) < IndexSettleTime
}

// GetIndex returns the cached files of a listing. The boolean is false on a
// miss, which includes forced lookups and months that must be refreshed.
func (s *Store) GetIndex(ctx context.Context, url string, monthEnd time.Time, force bool) ([]mrt.FileEntry, bool, error) {
	found, err := s.GetIndexes(ctx, []IndexKey{{URL: url, MonthEnd: monthEnd}}, force)
	if err != nil {
		return nil, false, err
	}
	files, ok := found[url]
	return files, ok, nil
}

// GetIndexes looks up many listings at once. Only hits are present in the
// returned map; a hit may hold no files.
func (s *Store) GetIndexes(ctx context.Context, keys []IndexKey, force bool) (map[string][]mrt.FileEntry, error) {
	out := make(map[string][]mrt.FileEntry)
	if force {
		return out, nil
	}

	var urls []string
	for _, k := range keys {
		if s.ShouldRefresh(k.MonthEnd) {
			continue
		}
		urls = append(urls, k.URL)
	}
	if len(urls) == 0 {
		return out, nil
	}

	db, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer s.close(db)

	var indexes []indexRow
	if err := db.NewSelect().Model(&indexes).Where("url IN (?)", bun.In(urls)).Scan(ctx); err != nil {
		return nil, fmt.Errorf("cache: select indexes: %w", err)
	}
	if len(indexes) == 0 {
		return out, nil
	}

	hits := make([]string, 0, len(indexes))
	for _, idx := range indexes {
		out[idx.URL] = []mrt.FileEntry{}
		hits = append(hits, idx.URL)
	}

	var files []fileRow
	if err := db.NewSelect().Model(&files).
		Where("index_url IN (?)", bun.In(hits)).
		Order("id").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("cache: select files: %w", err)
	}
	for _, f := range files {
		entry, err := f.entry()
		if err != nil {
			s.Logger.Warn("Ignoring malformed cached file",
				slog.String("url", f.FileURL),
				slog.Any("error", err))
			continue
		}
		out[f.IndexURL] = append(out[f.IndexURL], entry)
	}
	return out, nil
}

// PutIndex replaces the cached files of a listing.
func (s *Store) PutIndex(ctx context.Context, url string, entries []mrt.FileEntry, monthEnd time.Time) error {
	db, err := s.open(ctx)
	if err != nil {
		return err
	}
	defer s.close(db)

	row := indexRow{
		URL:          url,
		DownloadedAt: s.now(),
		MonthEndDate: monthEnd.UTC(),
	}
	rows := make([]fileRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, newFileRow(url, e))
	}

	err = db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(&row).
			On("CONFLICT (url) DO UPDATE").
			Set("downloaded_at = EXCLUDED.downloaded_at").
			Set("month_end_date = EXCLUDED.month_end_date").
			Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().Model((*fileRow)(nil)).Where("index_url = ?", url).Exec(ctx); err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		_, err := tx.NewInsert().Model(&rows).Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("cache: store index %s: %w", url, err)
	}
	return nil
}

// GetCollectors returns the cached collectors of a project. The set is a miss
// when forced, empty, or when any row is older than CollectorTTL.
func (s *Store) GetCollectors(ctx context.Context, project mrt.Project, force bool) ([]mrt.CollectorInfo, bool, error) {
	if force {
		return nil, false, nil
	}

	db, err := s.open(ctx)
	if err != nil {
		return nil, false, err
	}
	defer s.close(db)

	var rows []collectorRow
	if err := db.NewSelect().Model(&rows).
		Where("project = ?", string(project)).
		Order("name").
		Scan(ctx); err != nil {
		return nil, false, fmt.Errorf("cache: select collectors: %w", err)
	}
	if len(rows) == 0 {
		return nil, false, nil
	}

	now := s.now()
	out := make([]mrt.CollectorInfo, 0, len(rows))
	for _, r := range rows {
		if now.Sub(r.CachedAt) > CollectorTTL {
			return nil, false, nil
		}
		out = append(out, r.info())
	}
	return out, true, nil
}

// PutCollectors replaces the cached collectors of a project.
func (s *Store) PutCollectors(ctx context.Context, project mrt.Project, collectors []mrt.CollectorInfo) error {
	db, err := s.open(ctx)
	if err != nil {
		return err
	}
	defer s.close(db)

	now := s.now()
	rows := make([]collectorRow, 0, len(collectors))
	for _, c := range collectors {
		rows = append(rows, newCollectorRow(project, c, now))
	}

	err = db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*collectorRow)(nil)).Where("project = ?", string(project)).Exec(ctx); err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		_, err := tx.NewInsert().Model(&rows).Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("cache: store collectors for %s: %w", project, err)
	}
	return nil
}

// Clear removes every cached row.
func (s *Store) Clear(ctx context.Context) error {
	db, err := s.open(ctx)
	if err != nil {
		return err
	}
	defer s.close(db)

	err = db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, model := range []interface{}{(*fileRow)(nil), (*indexRow)(nil), (*collectorRow)(nil)} {
			if _, err := tx.NewDelete().Model(model).Where("1 = 1").Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache: clear: %w", err)
	}
	return nil
}

// Stats counts the cached rows.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	db, err := s.open(ctx)
	if err != nil {
		return Stats{}, err
	}
	defer s.close(db)

	var st Stats
	if st.Collectors, err = db.NewSelect().Model((*collectorRow)(nil)).Count(ctx); err != nil {
		return Stats{}, fmt.Errorf("cache: count collectors: %w", err)
	}
	if st.Indexes, err = db.NewSelect().Model((*indexRow)(nil)).Count(ctx); err != nil {
		return Stats{}, fmt.Errorf("cache: count indexes: %w", err)
	}
	if st.Files, err = db.NewSelect().Model((*fileRow)(nil)).Count(ctx); err != nil {
		return Stats{}, fmt.Errorf("cache: count files: %w", err)
	}
	return st, nil
}
