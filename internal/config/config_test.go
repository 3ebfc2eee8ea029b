package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 90, cfg.Retention.ArchiveDays)
	assert.Equal(t, 90, cfg.Retention.SegmentRetentionDays)
	assert.Equal(t, 60, cfg.Retention.SweepDelaySeconds)
	assert.Equal(t, 5, cfg.Retention.SweepIdleDelayMinutes)
	assert.Equal(t, 10, cfg.Retention.SweepBatch)
	assert.Equal(t, 7, cfg.Retention.FaviconRefetchDays)
	assert.Equal(t, 10, cfg.Commit.IntervalSeconds)
	assert.Equal(t, "~/.config/chronicle", cfg.Storage.Path)
	assert.Equal(t, "History", cfg.Storage.HistoryFile)
	assert.Equal(t, "Archived History", cfg.Storage.ArchivedFile)
	assert.Equal(t, "Thumbnails", cfg.Storage.ThumbnailFile)
	assert.Equal(t, "History Index", cfg.Storage.TextFile)
	assert.Equal(t, "wal", cfg.Storage.SQLiteJournalMode)
	assert.Equal(t, 32, cfg.Cache.RedirectEntries)
	assert.Equal(t, 64, cfg.Cache.TrackerScopes)
	assert.Equal(t, "bookmarks.yaml", cfg.Bookmarks.File)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Empty(t, cfg.Metrics.Addr)
	assert.NoError(t, cfg.Validate())
}

func TestDefaultDenylistIsPopulated(t *testing.T) {
	domains := DefaultDenylistDomains()
	assert.Greater(t, len(domains), 10)
	assert.IsIncreasing(t, domains)

	// Spot-check some categories
	assert.Contains(t, domains, "chase.com")
	assert.Contains(t, domains, "1password.com")
	assert.Contains(t, domains, "mychart.com")
	assert.Equal(t, domains, DefaultConfig().Capture.DenylistDomains)
}

func TestLoadValidYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yamlContent := `
retention:
  archive_days: 30
  sweep_batch: 50
commit:
  interval_seconds: 2
storage:
  path: "/var/lib/chronicle"
logging:
  level: "debug"
  format: "json"
metrics:
  addr: ":9100"
`
	err := os.WriteFile(cfgPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(cfgPath)
	require.NoError(t, err)

	// Overridden values
	assert.Equal(t, 30, cfg.Retention.ArchiveDays)
	assert.Equal(t, 50, cfg.Retention.SweepBatch)
	assert.Equal(t, 2, cfg.Commit.IntervalSeconds)
	assert.Equal(t, "/var/lib/chronicle", cfg.Storage.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)

	// Non-overridden values remain defaults
	assert.Equal(t, 90, cfg.Retention.SegmentRetentionDays)
	assert.Equal(t, "History", cfg.Storage.HistoryFile)
	assert.Equal(t, 32, cfg.Cache.RedirectEntries)
}

func TestLoadInvalidYAMLReturnsError(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	err := os.WriteFile(cfgPath, []byte(":::not valid yaml{{{"), 0644)
	require.NoError(t, err)

	_, err = Load(cfgPath)
	assert.Error(t, err)
}

func TestLoadNonExistentFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing", "config.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	cases := []struct {
		name, yaml, want string
	}{
		{"archive days", "retention:\n  archive_days: 0\n", "archive_days"},
		{"sweep batch", "retention:\n  sweep_batch: -1\n", "sweep_batch"},
		{"commit interval", "commit:\n  interval_seconds: 0\n", "interval_seconds"},
		{"cache", "cache:\n  redirect_entries: 0\n", "cache sizes"},
		{"log level", "logging:\n  level: chatty\n", "logging.level"},
		{"log format", "logging:\n  format: xml\n", "logging.format"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfgPath := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(cfgPath, []byte(tc.yaml), 0644))

			_, err := Load(cfgPath)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadOrCreateCreatesDefaultsWhenMissing(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "sub", "deep", "config.yaml")

	cfg, err := LoadOrCreateAt(cfgPath)
	require.NoError(t, err)

	// Should return defaults
	assert.Equal(t, 90, cfg.Retention.ArchiveDays)
	assert.Equal(t, "History", cfg.Storage.HistoryFile)

	// File should now exist on disk
	_, statErr := os.Stat(cfgPath)
	assert.NoError(t, statErr)

	// File should be valid YAML loadable again
	cfg2, err := Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, cfg, cfg2)
}

func TestLoadOrCreateLoadsExistingFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yamlContent := `
retention:
  archive_days: 7
`
	err := os.WriteFile(cfgPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	cfg, err := LoadOrCreateAt(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Retention.ArchiveDays)
	// Other fields remain defaults
	assert.Equal(t, 10, cfg.Retention.SweepBatch)
}

func TestLoadWithDenylistDomains(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yamlContent := `
capture:
  denylist_domains:
    - "example.com"
    - "secret.org"
`
	err := os.WriteFile(cfgPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"example.com", "secret.org"}, cfg.Capture.DenylistDomains)
}

func TestBookmarksFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Path = "/data"

	path, err := cfg.BookmarksFile()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data", "bookmarks.yaml"), path)

	cfg.Bookmarks.File = "/etc/marks.yaml"
	path, err = cfg.BookmarksFile()
	require.NoError(t, err)
	assert.Equal(t, "/etc/marks.yaml", path)

	cfg.Bookmarks.File = ""
	path, err = cfg.BookmarksFile()
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	path, err := expandPath("~/chronicle")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "chronicle"), path)

	path, err = expandPath("/abs/path")
	require.NoError(t, err)
	assert.Equal(t, "/abs/path", path)
}

func TestInitLog(t *testing.T) {
	var level, formatter = log.GetLevel(), log.StandardLogger().Formatter
	t.Cleanup(func() {
		log.SetLevel(level)
		log.SetFormatter(formatter)
	})

	InitLog(LoggingConfig{Level: "debug", Format: "json"})
	assert.Equal(t, log.DebugLevel, log.GetLevel())
	assert.IsType(t, &log.JSONFormatter{}, log.StandardLogger().Formatter)

	InitLog(LoggingConfig{Level: "bogus", Format: "color"})
	assert.Equal(t, log.InfoLevel, log.GetLevel())
	assert.True(t, log.StandardLogger().Formatter.(*log.TextFormatter).ForceColors)
}

func TestDays(t *testing.T) {
	assert.Equal(t, 48*time.Hour, Days(2))
}
