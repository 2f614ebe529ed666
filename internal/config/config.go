package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	mrthttp "github.com/ties/mrt-downloader/internal/http"
	"github.com/ties/mrt-downloader/internal/mrt"
	"github.com/ties/mrt-downloader/internal/naming"
	"github.com/ties/mrt-downloader/internal/retry"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "MRT_DOWNLOADER_"

// Config defines configuration for the mrt-downloader CLI.
type Config struct {
	Start time.Time `yaml:"start"`
	End   time.Time `yaml:"end"`

	// Output is a local directory. Bucket is a gocloud.dev bucket URL.
	// Downloads need exactly one of them.
	Output string `yaml:"output"`
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`

	Projects   []string `yaml:"projects"`
	Collectors []string `yaml:"collectors"`
	RIBOnly    bool     `yaml:"rib_only"`
	UpdateOnly bool     `yaml:"update_only"`
	Naming     string   `yaml:"naming"`

	Workers      int `yaml:"workers"`
	IndexWorkers int `yaml:"index_workers"`

	// CacheFile is the SQLite state file. Empty selects the default
	// location in the user cache directory.
	CacheFile string `yaml:"cache_file"`
	NoCache   bool   `yaml:"no_cache"`
	// Refresh ignores cached collectors and listings.
	Refresh bool `yaml:"refresh"`
	// Force downloads files even when an identical copy exists.
	Force bool `yaml:"force"`

	Progress          bool    `yaml:"progress"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	RISURL        string `yaml:"ris_url"`
	RouteViewsURL string `yaml:"routeviews_url"`

	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig defines retry behavior.
type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Projects:     []string{string(mrt.ProjectRIS), string(mrt.ProjectRouteViews)},
		Naming:       naming.DefaultName,
		Workers:      8,
		IndexWorkers: 8,
		Retry: RetryConfig{
			MaxRetries:   4,
			InitialDelay: 2 * time.Second,
		},
	}
}

// TimeLayouts are the accepted time formats. Times are interpreted in UTC.
var TimeLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
}

// ParseTime parses s with the first matching layout of TimeLayouts.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range TimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q (expected one of %s)", s, strings.Join(TimeLayouts, ", "))
}

// yamlConfig is used for YAML unmarshaling with string times and durations.
type yamlConfig struct {
	Start             string          `yaml:"start"`
	End               string          `yaml:"end"`
	Output            string          `yaml:"output"`
	Bucket            string          `yaml:"bucket"`
	Prefix            string          `yaml:"prefix"`
	Projects          []string        `yaml:"projects"`
	Collectors        []string        `yaml:"collectors"`
	RIBOnly           bool            `yaml:"rib_only"`
	UpdateOnly        bool            `yaml:"update_only"`
	Naming            string          `yaml:"naming"`
	Workers           int             `yaml:"workers"`
	IndexWorkers      int             `yaml:"index_workers"`
	CacheFile         string          `yaml:"cache_file"`
	NoCache           bool            `yaml:"no_cache"`
	Refresh           bool            `yaml:"refresh"`
	Force             bool            `yaml:"force"`
	Progress          bool            `yaml:"progress"`
	RequestsPerSecond float64         `yaml:"requests_per_second"`
	RISURL            string          `yaml:"ris_url"`
	RouteViewsURL     string          `yaml:"routeviews_url"`
	Retry             yamlRetryConfig `yaml:"retry"`
}

type yamlRetryConfig struct {
	MaxRetries   *int   `yaml:"max_retries"`
	InitialDelay string `yaml:"initial_delay"`
}

// LoadFromFile loads configuration from a YAML file on top of Default.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.Start != "" {
		if cfg.Start, err = ParseTime(yc.Start); err != nil {
			return Config{}, fmt.Errorf("parse start: %w", err)
		}
	}
	if yc.End != "" {
		if cfg.End, err = ParseTime(yc.End); err != nil {
			return Config{}, fmt.Errorf("parse end: %w", err)
		}
	}
	cfg.Output = yc.Output
	cfg.Bucket = yc.Bucket
	cfg.Prefix = yc.Prefix
	if len(yc.Projects) > 0 {
		cfg.Projects = yc.Projects
	}
	cfg.Collectors = yc.Collectors
	cfg.RIBOnly = yc.RIBOnly
	cfg.UpdateOnly = yc.UpdateOnly
	if yc.Naming != "" {
		cfg.Naming = yc.Naming
	}
	if yc.Workers != 0 {
		cfg.Workers = yc.Workers
	}
	if yc.IndexWorkers != 0 {
		cfg.IndexWorkers = yc.IndexWorkers
	}
	cfg.CacheFile = yc.CacheFile
	cfg.NoCache = yc.NoCache
	cfg.Refresh = yc.Refresh
	cfg.Force = yc.Force
	cfg.Progress = yc.Progress
	cfg.RequestsPerSecond = yc.RequestsPerSecond
	cfg.RISURL = yc.RISURL
	cfg.RouteViewsURL = yc.RouteViewsURL
	if yc.Retry.MaxRetries != nil {
		cfg.Retry.MaxRetries = *yc.Retry.MaxRetries
	}
	if yc.Retry.InitialDelay != "" {
		d, err := time.ParseDuration(yc.Retry.InitialDelay)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry.initial_delay: %w", err)
		}
		cfg.Retry.InitialDelay = d
	}

	return cfg, nil
}

// LoadDotEnv loads variables from a .env file into the process
// environment without overriding variables that are already set. A missing
// file is not an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func env(name string) string {
	return os.Getenv(EnvPrefix + name)
}

func envBool(name string) (bool, bool) {
	v := env(name)
	if v == "" {
		return false, false
	}
	return v == "true" || v == "1", true
}

func envList(name string) []string {
	var out []string
	for _, s := range strings.Split(env(name), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the MRT_DOWNLOADER_ prefix.
func (c *Config) LoadFromEnv() error {
	var err error

	if v := env("START"); v != "" {
		if c.Start, err = ParseTime(v); err != nil {
			return fmt.Errorf("parse %sSTART: %w", EnvPrefix, err)
		}
	}
	if v := env("END"); v != "" {
		if c.End, err = ParseTime(v); err != nil {
			return fmt.Errorf("parse %sEND: %w", EnvPrefix, err)
		}
	}
	if v := env("OUTPUT"); v != "" {
		c.Output = v
	}
	if v := env("BUCKET"); v != "" {
		c.Bucket = v
	}
	if v := env("PREFIX"); v != "" {
		c.Prefix = v
	}
	if v := envList("PROJECTS"); len(v) > 0 {
		c.Projects = v
	}
	if v := envList("COLLECTORS"); len(v) > 0 {
		c.Collectors = v
	}
	if v, ok := envBool("RIB_ONLY"); ok {
		c.RIBOnly = v
	}
	if v, ok := envBool("UPDATE_ONLY"); ok {
		c.UpdateOnly = v
	}
	if v := env("NAMING"); v != "" {
		c.Naming = v
	}
	if v := env("WORKERS"); v != "" {
		if c.Workers, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("parse %sWORKERS: %w", EnvPrefix, err)
		}
	}
	if v := env("INDEX_WORKERS"); v != "" {
		if c.IndexWorkers, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("parse %sINDEX_WORKERS: %w", EnvPrefix, err)
		}
	}
	if v := env("CACHE_FILE"); v != "" {
		c.CacheFile = v
	}
	if v, ok := envBool("NO_CACHE"); ok {
		c.NoCache = v
	}
	if v, ok := envBool("REFRESH"); ok {
		c.Refresh = v
	}
	if v, ok := envBool("FORCE"); ok {
		c.Force = v
	}
	if v, ok := envBool("PROGRESS"); ok {
		c.Progress = v
	}
	if v := env("REQUESTS_PER_SECOND"); v != "" {
		if c.RequestsPerSecond, err = strconv.ParseFloat(v, 64); err != nil {
			return fmt.Errorf("parse %sREQUESTS_PER_SECOND: %w", EnvPrefix, err)
		}
	}
	if v := env("RIS_URL"); v != "" {
		c.RISURL = v
	}
	if v := env("ROUTEVIEWS_URL"); v != "" {
		c.RouteViewsURL = v
	}
	if v := env("RETRY_MAX_RETRIES"); v != "" {
		if c.Retry.MaxRetries, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("parse %sRETRY_MAX_RETRIES: %w", EnvPrefix, err)
		}
	}
	if v := env("RETRY_INITIAL_DELAY"); v != "" {
		if c.Retry.InitialDelay, err = time.ParseDuration(v); err != nil {
			return fmt.Errorf("parse %sRETRY_INITIAL_DELAY: %w", EnvPrefix, err)
		}
	}

	return nil
}

// Validate checks the settings shared by all commands that plan listings.
func (c *Config) Validate() error {
	if c.Start.IsZero() {
		return errors.New("config: start time is required")
	}
	if c.End.IsZero() {
		return errors.New("config: end time is required")
	}
	if !c.Start.Before(c.End) {
		return fmt.Errorf("config: start time %s must be before end time %s",
			c.Start.Format(time.RFC3339), c.End.Format(time.RFC3339))
	}
	if c.RIBOnly && c.UpdateOnly {
		return errors.New("config: rib_only and update_only are mutually exclusive")
	}
	if _, err := c.ParsedProjects(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := naming.Lookup(c.Naming); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Workers <= 0 {
		return errors.New("config: workers must be positive")
	}
	if c.IndexWorkers <= 0 {
		return errors.New("config: index_workers must be positive")
	}
	if c.Retry.MaxRetries < 0 {
		return errors.New("config: retry.max_retries must not be negative")
	}
	return nil
}

// ValidateDestination checks that exactly one download destination is set.
func (c *Config) ValidateDestination() error {
	switch {
	case c.Output == "" && c.Bucket == "":
		return errors.New("config: output directory or bucket is required")
	case c.Output != "" && c.Bucket != "":
		return errors.New("config: output directory and bucket are mutually exclusive")
	}
	return nil
}

// ParsedProjects returns the selected projects without duplicates.
func (c *Config) ParsedProjects() ([]mrt.Project, error) {
	if len(c.Projects) == 0 {
		return nil, errors.New("at least one project is required")
	}
	seen := make(map[mrt.Project]bool)
	var out []mrt.Project
	for _, s := range c.Projects {
		p, err := mrt.ParseProject(s)
		if err != nil {
			return nil, err
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out, nil
}

// FileTypes returns the wanted file types.
func (c *Config) FileTypes() mrt.FileTypes {
	switch {
	case c.RIBOnly:
		return mrt.TypesOf(mrt.RIB)
	case c.UpdateOnly:
		return mrt.TypesOf(mrt.Update)
	default:
		return mrt.AllFileTypes
	}
}

// RetryPolicy converts the retry settings. Zero retries here means a
// single attempt.
func (c *Config) RetryPolicy() retry.Policy {
	p := retry.Policy{
		MaxRetries:   c.Retry.MaxRetries,
		InitialDelay: c.Retry.InitialDelay,
	}
	if p.MaxRetries == 0 {
		p.MaxRetries = retry.NoRetries
	}
	return p
}

// HTTPOptions returns client options sized for the worker count.
func (c *Config) HTTPOptions() mrthttp.Options {
	opts := mrthttp.DefaultOptions()
	if n := c.Workers + c.IndexWorkers; n > opts.MaxIdleConnsPerHost {
		opts.MaxIdleConnsPerHost = n
	}
	opts.RequestsPerSecond = c.RequestsPerSecond
	return opts
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored. Retry.MaxRetries set to
// retry.NoRetries overrides to zero retries.
func (c Config) Merge(override Config) Config {
	if !override.Start.IsZero() {
		c.Start = override.Start
	}
	if !override.End.IsZero() {
		c.End = override.End
	}
	if override.Output != "" {
		c.Output = override.Output
	}
	if override.Bucket != "" {
		c.Bucket = override.Bucket
	}
	if override.Prefix != "" {
		c.Prefix = override.Prefix
	}
	if len(override.Projects) > 0 {
		c.Projects = override.Projects
	}
	if len(override.Collectors) > 0 {
		c.Collectors = override.Collectors
	}
	if override.RIBOnly {
		c.RIBOnly = true
	}
	if override.UpdateOnly {
		c.UpdateOnly = true
	}
	if override.Naming != "" {
		c.Naming = override.Naming
	}
	if override.Workers != 0 {
		c.Workers = override.Workers
	}
	if override.IndexWorkers != 0 {
		c.IndexWorkers = override.IndexWorkers
	}
	if override.CacheFile != "" {
		c.CacheFile = override.CacheFile
	}
	if override.NoCache {
		c.NoCache = true
	}
	if override.Refresh {
		c.Refresh = true
	}
	if override.Force {
		c.Force = true
	}
	if override.Progress {
		c.Progress = true
	}
	if override.RequestsPerSecond != 0 {
		c.RequestsPerSecond = override.RequestsPerSecond
	}
	if override.RISURL != "" {
		c.RISURL = override.RISURL
	}
	if override.RouteViewsURL != "" {
		c.RouteViewsURL = override.RouteViewsURL
	}
	switch {
	case override.Retry.MaxRetries == retry.NoRetries:
		c.Retry.MaxRetries = 0
	case override.Retry.MaxRetries > 0:
		c.Retry.MaxRetries = override.Retry.MaxRetries
	}
	if override.Retry.InitialDelay != 0 {
		c.Retry.InitialDelay = override.Retry.InitialDelay
	}
	return c
}
