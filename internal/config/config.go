package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Default config file path.
const DefaultConfigPath = "~/.config/chronicle/config.yaml"

// Config holds all Chronicle configuration.
type Config struct {
	Retention RetentionConfig `yaml:"retention"`
	Commit    CommitConfig    `yaml:"commit"`
	Storage   StorageConfig   `yaml:"storage"`
	Cache     CacheConfig     `yaml:"cache"`
	Capture   CaptureConfig   `yaml:"capture"`
	Bookmarks BookmarksConfig `yaml:"bookmarks"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type RetentionConfig struct {
	// Visits older than ArchiveDays move to the archived partition.
	ArchiveDays           int `yaml:"archive_days"`
	SegmentRetentionDays  int `yaml:"segment_retention_days"`
	SweepDelaySeconds     int `yaml:"sweep_delay_seconds"`
	SweepIdleDelayMinutes int `yaml:"sweep_idle_delay_minutes"`
	SweepBatch            int `yaml:"sweep_batch"`
	FaviconRefetchDays    int `yaml:"favicon_refetch_days"`
}

type CommitConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

type StorageConfig struct {
	Path              string `yaml:"path"`
	HistoryFile       string `yaml:"history_file"`
	ArchivedFile      string `yaml:"archived_file"`
	ThumbnailFile     string `yaml:"thumbnail_file"`
	TextFile          string `yaml:"text_file"`
	SQLiteJournalMode string `yaml:"sqlite_journal_mode"`
}

type CacheConfig struct {
	RedirectEntries int `yaml:"redirect_entries"`
	TrackerScopes   int `yaml:"tracker_scopes"`
}

type CaptureConfig struct {
	DenylistDomains []string `yaml:"denylist_domains"`
}

type BookmarksConfig struct {
	File string `yaml:"file"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	// Addr serves /metrics while ingesting. Empty disables it.
	Addr string `yaml:"addr"`
}

// Load reads a YAML config file at path and merges it with defaults.
// Returns an error if the file cannot be read or contains invalid YAML.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config file: %w", err)
	}
	return cfg, nil
}

// Validate rejects settings the backend can't run with.
func (c *Config) Validate() error {
	switch {
	case c.Retention.ArchiveDays <= 0:
		return fmt.Errorf("retention.archive_days must be positive (got %d)", c.Retention.ArchiveDays)
	case c.Retention.SweepBatch <= 0:
		return fmt.Errorf("retention.sweep_batch must be positive (got %d)", c.Retention.SweepBatch)
	case c.Commit.IntervalSeconds <= 0:
		return fmt.Errorf("commit.interval_seconds must be positive (got %d)", c.Commit.IntervalSeconds)
	case c.Cache.RedirectEntries <= 0 || c.Cache.TrackerScopes <= 0:
		return fmt.Errorf("cache sizes must be positive")
	case c.Storage.HistoryFile == "":
		return fmt.Errorf("storage.history_file is required")
	}
	if _, err := log.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch c.Logging.Format {
	case "text", "json", "color":
	default:
		return fmt.Errorf("logging.format must be text, json or color (got %q)", c.Logging.Format)
	}
	return nil
}

// Days converts a count of days to a Duration.
func Days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

// StorageDir returns the expanded storage path.
func (c *Config) StorageDir() (string, error) {
	return expandPath(c.Storage.Path)
}

// BookmarksFile returns the expanded bookmarks file path. A relative path
// is resolved against the storage directory.
func (c *Config) BookmarksFile() (string, error) {
	path, err := expandPath(c.Bookmarks.File)
	if err != nil || path == "" || filepath.IsAbs(path) {
		return path, err
	}
	dir, err := c.StorageDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, path), nil
}

// InitLog configures the logger from the logging section.
func InitLog(cfg LoggingConfig) {
	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else if cfg.Format == "text" {
		log.SetFormatter(&log.TextFormatter{})
	} else if cfg.Format == "color" {
		log.SetFormatter(&log.TextFormatter{ForceColors: true})
	}

	if lvl, err := log.ParseLevel(cfg.Level); err != nil {
		log.WithField("err", err).Warn("unrecognized log level, using info")
		log.SetLevel(log.InfoLevel)
	} else {
		log.SetLevel(lvl)
	}
}

// expandPath replaces a leading ~ with the user's home directory.
func expandPath(path string) (string, error) {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// LoadOrCreate loads the config from the default path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreate() (*Config, error) {
	path, err := expandPath(DefaultConfigPath)
	if err != nil {
		return nil, err
	}
	return LoadOrCreateAt(path)
}

// LoadOrCreateAt loads the config from the given path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreateAt(path string) (*Config, error) {
	path, err := expandPath(path)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()

		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating config directory: %w", err)
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("marshaling default config: %w", err)
		}

		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("writing default config: %w", err)
		}

		log.WithField("path", path).Info("wrote default config")
		return cfg, nil
	}

	return Load(path)
}
