package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/runnerr0/chronicle/internal/backend"
	"github.com/runnerr0/chronicle/internal/bookmarks"
	"github.com/runnerr0/chronicle/internal/config"
	"github.com/runnerr0/chronicle/internal/dispatch"
	"github.com/runnerr0/chronicle/internal/history"
	"github.com/runnerr0/chronicle/internal/notify"
)

// session is a HistoryBackend opened for a single command. The command's
// goroutine owns the backend until Close.
type session struct {
	cfg       *config.Config
	opts      backend.Options
	loop      *dispatch.Loop
	bus       *notify.Bus
	bookmarks *bookmarks.Model
	backend   *backend.HistoryBackend
}

// backendOptions maps configuration onto backend.Options.
func backendOptions(cfg *config.Config, dir string) backend.Options {
	opts := backend.DefaultOptions(dir)

	opts.HistoryFile = cfg.Storage.HistoryFile
	opts.ArchivedFile = cfg.Storage.ArchivedFile
	opts.ThumbnailFile = cfg.Storage.ThumbnailFile
	opts.TextFile = cfg.Storage.TextFile
	opts.JournalMode = cfg.Storage.SQLiteJournalMode

	opts.ArchiveThreshold = config.Days(cfg.Retention.ArchiveDays)
	opts.SegmentRetention = config.Days(cfg.Retention.SegmentRetentionDays)
	opts.SweepDelay = time.Duration(cfg.Retention.SweepDelaySeconds) * time.Second
	opts.SweepIdleDelay = time.Duration(cfg.Retention.SweepIdleDelayMinutes) * time.Minute
	opts.SweepBatch = cfg.Retention.SweepBatch
	opts.FaviconRefetch = config.Days(cfg.Retention.FaviconRefetchDays)
	opts.CommitInterval = time.Duration(cfg.Commit.IntervalSeconds) * time.Second

	opts.RedirectEntries = cfg.Cache.RedirectEntries
	opts.TrackerScopes = cfg.Cache.TrackerScopes
	opts.Denylist = cfg.Capture.DenylistDomains
	return opts
}

// loadConfig loads (or creates) the config named by |globals|, and
// configures logging from it.
func loadConfig(globals *GlobalFlags) (*config.Config, error) {
	path := config.DefaultConfigPath
	if globals != nil && globals.Config != "" {
		path = globals.Config
	}

	cfg, err := config.LoadOrCreateAt(path)
	if err != nil {
		return nil, errors.WithMessage(err, "loading config")
	}
	if globals != nil && globals.Verbose {
		cfg.Logging.Level = "debug"
	}
	config.InitLog(cfg.Logging)
	return cfg, nil
}

// openSession loads configuration and opens the history partitions it
// names.
func openSession(globals *GlobalFlags) (*session, error) {
	cfg, err := loadConfig(globals)
	if err != nil {
		return nil, err
	}
	dir, err := cfg.StorageDir()
	if err != nil {
		return nil, err
	}
	marksPath, err := cfg.BookmarksFile()
	if err != nil {
		return nil, err
	}

	var marks *bookmarks.Model
	if marksPath != "" {
		marks = bookmarks.Open(marksPath)
	} else {
		marks = bookmarks.NewModel()
	}
	return newSession(cfg, backendOptions(cfg, dir), dispatch.NewLoop(nil), marks)
}

// newSession opens a backend with |opts| owned by |loop|.
func newSession(cfg *config.Config, opts backend.Options, loop *dispatch.Loop, marks *bookmarks.Model) (*session, error) {
	s := &session{
		cfg:       cfg,
		opts:      opts,
		loop:      loop,
		bus:       notify.NewBus(loop),
		bookmarks: marks,
	}
	s.bus.Register(func(n history.Notification) {
		log.WithFields(log.Fields{"type": n.Type, "details": n.Details}).Debug("history changed")
	})

	s.backend = backend.NewHistoryBackend(opts, loop, s.bus, marks)
	if err := s.backend.Init(); err != nil {
		return nil, errors.WithMessagef(err, "opening history in %s", opts.Dir)
	}
	marks.BlockTillLoaded()
	if err := marks.Err(); err != nil {
		log.WithField("err", err).Warn("failed to load bookmarks")
	}
	return s, nil
}

// settle runs tasks posted by the backend, such as notification delivery.
func (s *session) settle() { s.loop.RunPending() }

// Close commits and closes the backend.
func (s *session) Close() {
	s.backend.Close()
	s.settle()
}

// now returns the current time of the session's clock.
func (s *session) now() time.Time { return s.loop.Clock().Now() }

// parseDuration parses a human-friendly duration string like "30d", "7d", "24h", "2w".
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("invalid duration: empty string")
	}

	if len(s) < 2 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	suffix := s[len(s)-1]
	numStr := s[:len(s)-1]

	n, err := strconv.Atoi(numStr)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	switch suffix {
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	default:
		return 0, fmt.Errorf("invalid duration: %q (use d, h, w, or m suffix)", s)
	}
}

// parseTimeArg parses either an RFC 3339 time, or a duration before |now|.
// An empty argument is the zero time.
func parseTimeArg(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := parseDuration(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC 3339 time or duration: %w", err)
	}
	return now.Add(-d), nil
}

// formatDurationHuman formats a duration into a human-readable string like "30 days".
func formatDurationHuman(d time.Duration) string {
	days := int(d.Hours() / 24)
	if days > 0 {
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
	hours := int(d.Hours())
	if hours > 0 {
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	return d.String()
}

// formatBytes formats a byte count into a human-readable string.
func formatBytes(b int64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatNumber formats an int64 with comma separators.
func formatNumber(n int64) string {
	s := strconv.FormatInt(n, 10)
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
	}
	for i := remainder; i < len(s); i += 3 {
		if i > 0 {
			result.WriteString(",")
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}

// fileSize returns the size of |path|, or zero if it can't be read.
func fileSize(path string) int64 {
	if info, err := os.Stat(path); err == nil {
		return info.Size()
	}
	return 0
}
