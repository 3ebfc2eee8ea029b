package config

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Retention: RetentionConfig{
			ArchiveDays:           90,
			SegmentRetentionDays:  90,
			SweepDelaySeconds:     60,
			SweepIdleDelayMinutes: 5,
			SweepBatch:            10,
			FaviconRefetchDays:    7,
		},
		Commit: CommitConfig{
			IntervalSeconds: 10,
		},
		Storage: StorageConfig{
			Path:              "~/.config/chronicle",
			HistoryFile:       "History",
			ArchivedFile:      "Archived History",
			ThumbnailFile:     "Thumbnails",
			TextFile:          "History Index",
			SQLiteJournalMode: "wal",
		},
		Cache: CacheConfig{
			RedirectEntries: 32,
			TrackerScopes:   64,
		},
		Capture: CaptureConfig{
			DenylistDomains: DefaultDenylistDomains(),
		},
		Bookmarks: BookmarksConfig{
			File: "bookmarks.yaml",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Addr: "",
		},
	}
}
