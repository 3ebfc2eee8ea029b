package backend

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/runnerr0/chronicle/internal/bookmarks"
	"github.com/runnerr0/chronicle/internal/dispatch"
	"github.com/runnerr0/chronicle/internal/expire"
	"github.com/runnerr0/chronicle/internal/notify"
	"github.com/runnerr0/chronicle/internal/storage"
)

// InMemory is the Options.Dir which keeps every partition in memory.
const InMemory = ":memory:"

// Options configure a HistoryBackend.
type Options struct {
	// Dir holds the partition files. InMemory keeps them in memory.
	Dir           string
	HistoryFile   string
	ArchivedFile  string
	ThumbnailFile string
	TextFile      string
	JournalMode   string

	// Visits older than ArchiveThreshold are archived by the sweep.
	ArchiveThreshold time.Duration
	SweepDelay       time.Duration
	SweepIdleDelay   time.Duration
	SweepBatch       int
	// Segment usage older than SegmentRetention is dropped by DeleteOldSegmentData.
	SegmentRetention time.Duration
	// Favicons updated longer than FaviconRefetch ago are reported expired.
	FaviconRefetch time.Duration
	// Mutations are committed CommitInterval after the first of them.
	CommitInterval time.Duration

	RedirectEntries int
	TrackerScopes   int

	// Hosts, and their subdomains, which AddPage never records.
	Denylist []string
}

// DefaultOptions returns Options with every default applied.
func DefaultOptions(dir string) Options {
	return Options{
		Dir:              dir,
		HistoryFile:      "History",
		ArchivedFile:     "Archived History",
		ThumbnailFile:    "Thumbnails",
		TextFile:         "History Index",
		JournalMode:      "wal",
		ArchiveThreshold: expire.DefaultThreshold,
		SweepDelay:       expire.DefaultSweepDelay,
		SweepIdleDelay:   expire.DefaultIdleDelay,
		SweepBatch:       expire.DefaultBatchSize,
		SegmentRetention: 90 * 24 * time.Hour,
		FaviconRefetch:   7 * 24 * time.Hour,
		CommitInterval:   10 * time.Second,
		RedirectEntries:  32,
		TrackerScopes:    64,
	}
}

func (o Options) path(file string) string {
	if o.Dir == InMemory {
		return InMemory
	}
	return filepath.Join(o.Dir, file)
}

func (o Options) journalMode() string {
	if o.Dir == InMemory {
		return "memory"
	}
	return o.JournalMode
}

// HistoryBackend owns the history partitions. It isn't safe for concurrent
// use: every method must be called from its owner loop.
//
// Each partition but the main one is optional. A partition which fails to
// open is left nil, and the operations which need it do nothing.
type HistoryBackend struct {
	opts      Options
	loop      *dispatch.Loop
	notifier  notify.Broadcaster
	bookmarks bookmarks.Service

	db       *storage.HistoryDB
	archived *storage.ArchivedDB
	thumbs   *storage.ThumbnailDB
	text     *storage.TextIndex
	expirer  *expire.Backend

	// Time of the oldest visit of either the main or archived partition.
	firstRecordedTime time.Time
	// Times of the last AddPage request and the time recorded for it.
	lastRequestedTime time.Time
	lastRecordedTime  time.Time

	scheduledCommit *dispatch.Handle
	recentRedirects *redirectCache
	tracker         *VisitTracker
	dbTasks         []*dbTaskRequest

	onDestroyPoster dispatch.Poster
	onDestroy       func()
	closed          bool
}

// NewHistoryBackend returns a HistoryBackend owned by |loop|, which is also
// used for its timers. |notifier| and |bm| may be nil.
func NewHistoryBackend(opts Options, loop *dispatch.Loop, notifier notify.Broadcaster, bm bookmarks.Service) *HistoryBackend {
	var b = &HistoryBackend{
		opts:            opts,
		loop:            loop,
		notifier:        notifier,
		bookmarks:       bm,
		recentRedirects: newRedirectCache(opts.RedirectEntries),
		tracker:         NewVisitTracker(opts.TrackerScopes),
	}
	b.expirer = expire.NewBackend(notifier, bm, loop)
	b.expirer.Now = b.now
	b.expirer.SweepDelay = opts.SweepDelay
	b.expirer.IdleDelay = opts.SweepIdleDelay
	b.expirer.BatchSize = opts.SweepBatch
	return b
}

// Init opens the partitions, begins their long-running transactions, and
// starts the archival sweep. It fails only if the main partition can't be
// opened; other partitions which fail are logged and left nil.
func (b *HistoryBackend) Init() error {
	if b.opts.Dir != InMemory {
		if err := os.MkdirAll(b.opts.Dir, 0o755); err != nil {
			return err
		}
	}

	db, err := storage.OpenHistoryDB(b.opts.path(b.opts.HistoryFile), b.opts.journalMode())
	if err != nil {
		log.WithFields(log.Fields{"dir": b.opts.Dir, "err": err}).Warn("unable to initialize history DB")
		return err
	}
	b.db = db

	if text, err := storage.OpenTextIndex(b.opts.path(b.opts.TextFile), b.opts.journalMode()); err != nil {
		log.WithField("err", err).Warn("text database initialization failed, running without it")
	} else {
		text.Now = b.now
		text.SetVisitSource(b.db)
		b.text = text
	}
	if thumbs, err := storage.OpenThumbnailDB(b.opts.path(b.opts.ThumbnailFile), b.opts.journalMode()); err != nil {
		log.WithField("err", err).Warn("could not initialize the thumbnail database")
	} else {
		b.thumbs = thumbs
	}
	b.openArchived()

	b.expirer.SetDatabases(b.db, b.archived, b.thumbs, b.text)
	b.beginAll()

	if err := b.db.CleanUpInProgressEntries(); err != nil {
		log.WithField("err", err).Warn("failed to clean up in-progress downloads")
	}
	b.refreshFirstRecordedTime()
	b.expirer.StartArchivingOldStuff(b.opts.ArchiveThreshold)

	log.WithFields(log.Fields{
		"dir":      b.opts.Dir,
		"archived": b.archived != nil,
		"thumbs":   b.thumbs != nil,
		"text":     b.text != nil,
	}).Debug("history backend initialized")
	return nil
}

func (b *HistoryBackend) openArchived() {
	archived, err := storage.OpenArchivedDB(b.opts.path(b.opts.ArchivedFile), b.opts.journalMode())
	if err != nil {
		log.WithField("err", err).Warn("could not initialize the archived database")
		b.archived = nil
		return
	}
	b.archived = archived
}

// Closing stops the backend's timers, ahead of Close. A commit or sweep
// which was scheduled never runs.
func (b *HistoryBackend) Closing() {
	b.CancelScheduledCommit()
	b.expirer.StopArchivingOldStuff()
}

// Close commits and closes the partitions, and then posts the task set by
// SetOnBackendDestroyTask.
func (b *HistoryBackend) Close() {
	if b.closed {
		return
	}
	b.closed = true
	b.Closing()
	b.releaseDBTasks()

	if b.text != nil {
		b.text.FlushOldChanges()
	}
	for _, p := range b.partitions() {
		if err := p.CommitTransaction(); err != nil {
			log.WithFields(log.Fields{"partition": p.Name(), "err": err}).Warn("failed to commit on close")
		}
		if err := p.Close(); err != nil {
			log.WithFields(log.Fields{"partition": p.Name(), "err": err}).Warn("failed to close partition")
		}
	}
	b.db, b.archived, b.thumbs, b.text = nil, nil, nil, nil
	b.expirer.SetDatabases(nil, nil, nil, nil)

	if b.onDestroy != nil {
		b.onDestroyPoster.Post(b.onDestroy)
	}
}

// SetOnBackendDestroyTask sets |fn| to be posted to |poster| once the
// backend is closed.
func (b *HistoryBackend) SetOnBackendDestroyTask(poster dispatch.Poster, fn func()) {
	if poster == nil {
		poster = dispatch.Immediate{}
	}
	b.onDestroyPoster, b.onDestroy = poster, fn
}

// Commit commits the long-running transaction of every partition and
// begins new ones. A scheduled commit is canceled.
func (b *HistoryBackend) Commit() {
	if b.db == nil {
		return
	}
	b.CancelScheduledCommit()
	b.text.FlushOldChanges()

	for _, p := range b.partitions() {
		if err := p.CommitTransaction(); err != nil {
			log.WithFields(log.Fields{"partition": p.Name(), "err": err}).Error("failed to commit")
		}
		if n := p.TransactionNesting(); n != 0 {
			log.WithFields(log.Fields{"partition": p.Name(), "nesting": n}).Error("transaction left open")
		}
		if err := p.BeginTransaction(); err != nil {
			log.WithFields(log.Fields{"partition": p.Name(), "err": err}).Error("failed to begin transaction")
		}
	}
	commitsTotal.Inc()
}

// ScheduleCommit commits after the commit interval, unless a commit is
// already scheduled.
func (b *HistoryBackend) ScheduleCommit() {
	if b.scheduledCommit != nil || b.closed {
		return
	}
	b.scheduledCommit = b.loop.PostDelayed(b.opts.CommitInterval, func() {
		b.scheduledCommit = nil
		b.Commit()
	})
}

// CancelScheduledCommit revokes a scheduled commit.
func (b *HistoryBackend) CancelScheduledCommit() {
	b.scheduledCommit.Cancel()
	b.scheduledCommit = nil
}

// CommitScheduled returns whether a commit is scheduled.
func (b *HistoryBackend) CommitScheduled() bool { return b.scheduledCommit != nil }

// forceCommit commits now, for deletions which must reach storage promptly.
func (b *HistoryBackend) forceCommit() {
	forcedCommitsTotal.Inc()
	b.Commit()
}

func (b *HistoryBackend) beginAll() {
	for _, p := range b.partitions() {
		if err := p.BeginTransaction(); err != nil {
			log.WithFields(log.Fields{"partition": p.Name(), "err": err}).Error("failed to begin transaction")
		}
	}
}

// partitions returns the open partitions.
func (b *HistoryBackend) partitions() []*storage.Partition {
	var out []*storage.Partition
	if b.db != nil {
		out = append(out, b.db.Partition)
	}
	if b.thumbs != nil {
		out = append(out, b.thumbs.Partition)
	}
	if b.archived != nil {
		out = append(out, b.archived.Partition)
	}
	if b.text != nil {
		out = append(out, b.text.Partition)
	}
	return out
}

// refreshFirstRecordedTime reads the oldest visit time. With no visits, it
// is now.
func (b *HistoryBackend) refreshFirstRecordedTime() {
	var first time.Time
	for _, vd := range b.visitDatabases() {
		if t, err := vd.GetStartDate(); err != nil {
			log.WithField("err", err).Warn("failed to read start date")
		} else if !t.IsZero() && (first.IsZero() || t.Before(first)) {
			first = t
		}
	}
	if first.IsZero() {
		first = b.now()
	}
	b.firstRecordedTime = first
}

// FirstRecordedTime returns the time of the oldest visit.
func (b *HistoryBackend) FirstRecordedTime() time.Time { return b.firstRecordedTime }

func (b *HistoryBackend) visitDatabases() []*storage.VisitDatabase {
	var out []*storage.VisitDatabase
	if b.db != nil {
		out = append(out, b.db.VisitDatabase)
	}
	if b.archived != nil {
		out = append(out, b.archived.VisitDatabase)
	}
	return out
}

func (b *HistoryBackend) now() time.Time { return b.loop.Clock().Now() }

func (b *HistoryBackend) isBookmarked(url string) bool {
	if b.bookmarks == nil {
		return false
	}
	b.bookmarks.BlockTillLoaded()
	return b.bookmarks.IsBookmarked(url)
}

// isDenied returns whether |host| is, or is a subdomain of, a denied host.
func (b *HistoryBackend) isDenied(host string) bool {
	for _, d := range b.opts.Denylist {
		d = strings.ToLower(strings.TrimPrefix(d, "."))
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// Database accessors, for inspection. Each may be nil.

func (b *HistoryBackend) HistoryDB() *storage.HistoryDB     { return b.db }
func (b *HistoryBackend) ArchivedDB() *storage.ArchivedDB   { return b.archived }
func (b *HistoryBackend) ThumbnailDB() *storage.ThumbnailDB { return b.thumbs }
func (b *HistoryBackend) TextIndex() *storage.TextIndex     { return b.text }
func (b *HistoryBackend) Expirer() *expire.Backend          { return b.expirer }
