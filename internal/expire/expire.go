package expire

import (
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/runnerr0/chronicle/internal/bookmarks"
	"github.com/runnerr0/chronicle/internal/dispatch"
	"github.com/runnerr0/chronicle/internal/history"
	"github.com/runnerr0/chronicle/internal/notify"
	"github.com/runnerr0/chronicle/internal/storage"
)

const (
	// DefaultThreshold is the age beyond which visits are archived.
	DefaultThreshold = 90 * 24 * time.Hour
	// DefaultSweepDelay separates sweep iterations while there's work left.
	DefaultSweepDelay = 60 * time.Second
	// DefaultIdleDelay separates sweep iterations once old history is drained.
	DefaultIdleDelay = 5 * time.Minute
	// DefaultBatchSize is the number of visits examined per sweep iteration.
	DefaultBatchSize = 10
)

// Scheduler runs delayed tasks on the owner loop. *dispatch.Loop is a Scheduler.
type Scheduler interface {
	PostDelayed(d time.Duration, fn func()) *dispatch.Handle
}

// Result summarizes an expiration pass.
type Result struct {
	VisitsArchived int
	VisitsDeleted  int
	URLsDeleted    int
}

// Backend expires and archives history. Every database is optional: with no
// main partition nothing is done, with no archived partition nothing is
// archived, and without thumbnail or text partitions their data is skipped.
// All methods must be called from the owner loop.
type Backend struct {
	// Now returns the current time, for computing the sweep cutoff.
	Now func() time.Time
	// SweepDelay, IdleDelay and BatchSize tune the periodic sweep.
	SweepDelay time.Duration
	IdleDelay  time.Duration
	BatchSize  int

	main     *storage.HistoryDB
	archived *storage.ArchivedDB
	thumbs   *storage.ThumbnailDB
	text     *storage.TextIndex

	notifier  notify.Broadcaster
	bookmarks bookmarks.Service
	sched     Scheduler

	threshold time.Duration
	sweep     *dispatch.Handle
	stopped   bool
}

// NewBackend returns a Backend which broadcasts deletions to |notifier| and
// consults |bookmarks| before deleting URLs. Either may be nil.
func NewBackend(notifier notify.Broadcaster, bm bookmarks.Service, sched Scheduler) *Backend {
	return &Backend{
		Now:        time.Now,
		SweepDelay: DefaultSweepDelay,
		IdleDelay:  DefaultIdleDelay,
		BatchSize:  DefaultBatchSize,
		notifier:   notifier,
		bookmarks:  bm,
		sched:      sched,
		threshold:  DefaultThreshold,
	}
}

// SetDatabases binds the partitions to expire. Any may be nil.
func (b *Backend) SetDatabases(main *storage.HistoryDB, archived *storage.ArchivedDB,
	thumbs *storage.ThumbnailDB, text *storage.TextIndex) {
	b.main, b.archived, b.thumbs, b.text = main, archived, thumbs, text
}

// ShouldArchiveVisit returns whether |v| is moved to the archived partition
// once it ages out, rather than deleted.
func ShouldArchiveVisit(v history.VisitRow) bool {
	switch v.Transition.Core() {
	case history.Typed, history.AutoBookmark, history.StartPage:
		return true
	case history.Link, history.FormSubmit, history.Generated:
		return v.Transition.IsChainEnd()
	default:
		return false
	}
}

// deleteDependencies accumulates what a deletion pass touched.
type deleteDependencies struct {
	// Main partition rows of URLs whose visits were removed.
	affectedURLs map[history.URLID]history.URLRow
	// Rows deleted from the main partition.
	deletedURLs []history.URLRow
	// Favicons which may no longer be referenced.
	affectedFavicons map[history.FavIconID]struct{}
}

func newDeleteDependencies() *deleteDependencies {
	return &deleteDependencies{
		affectedURLs:     make(map[history.URLID]history.URLRow),
		affectedFavicons: make(map[history.FavIconID]struct{}),
	}
}

// DeleteURL deletes every visit of |url| and, unless it's bookmarked, its
// URL row, thumbnail and orphaned favicon. A bookmarked URL keeps its row
// with zeroed counts.
func (b *Backend) DeleteURL(url string) {
	if b.main == nil {
		return
	}
	row, err := b.main.GetRowForURL(url)
	if err != nil {
		return
	}
	visits, err := b.main.GetVisitsForURL(row.ID)
	if err != nil {
		log.WithFields(log.Fields{"url": url, "err": err}).Warn("failed to read visits of deleted URL")
		return
	}

	var deps = newDeleteDependencies()
	b.deleteVisitRelatedInfo(visits, deps)

	var isBookmarked = b.isBookmarked(url)
	b.deleteOneURL(row, isBookmarked, deps)
	if isBookmarked {
		row.VisitCount, row.TypedCount, row.LastVisit = 0, 0, time.Time{}
		if err := b.main.UpdateURLRow(row.ID, row); err != nil {
			log.WithFields(log.Fields{"url": url, "err": err}).Warn("failed to reset bookmarked URL")
		}
	} else {
		b.deleteFaviconsIfPossible(deps.affectedFavicons)
	}
	visitsDeletedTotal.Add(float64(len(visits)))
	b.broadcastDeletions(deps)
}

// ExpireHistoryBetween deletes the visits of the main partition in
// [begin, end), along with URLs left without visits. A zero |end| is
// unbounded. The archived partition isn't searched.
func (b *Backend) ExpireHistoryBetween(begin, end time.Time) Result {
	if b.main == nil {
		return Result{}
	}
	b.text.DeleteFromUncommitted(begin, end)

	visits, err := b.main.GetAllVisitsInRange(begin, end, 0)
	if err != nil {
		log.WithFields(log.Fields{"begin": begin, "end": end, "err": err}).
			Warn("failed to read visits to expire")
		return Result{}
	} else if len(visits) == 0 {
		return Result{}
	}

	var deps = newDeleteDependencies()
	b.deleteVisitRelatedInfo(visits, deps)
	b.expireURLsForVisits(visits, deps)
	b.deleteFaviconsIfPossible(deps.affectedFavicons)
	b.broadcastDeletions(deps)

	visitsDeletedTotal.Add(float64(len(visits)))
	return Result{VisitsDeleted: len(visits), URLsDeleted: len(deps.deletedURLs)}
}

// ArchiveHistoryBefore archives or deletes every visit at or before |end|.
func (b *Backend) ArchiveHistoryBefore(end time.Time) Result {
	var r, _ = b.archiveSomeOldHistory(end, 0)
	return r
}

// ArchiveSomeOldHistory archives or deletes up to |max| of the oldest visits
// at or before |end|, and returns whether exactly |max| were processed, in
// which case there may be more to do.
func (b *Backend) ArchiveSomeOldHistory(end time.Time, max int) bool {
	var _, more = b.archiveSomeOldHistory(end, max)
	return more
}

// CountOldHistory returns how many visits at or before |end| would be
// archived and deleted, without changing anything. Without an archived
// partition nothing would be.
func (b *Backend) CountOldHistory(end time.Time) (archive, remove int, err error) {
	if b.main == nil || b.archived == nil {
		return 0, 0, nil
	}
	visits, err := b.main.GetAllVisitsInRange(time.Time{}, end.Add(time.Microsecond), 0)
	if err != nil {
		return 0, 0, err
	}
	for _, v := range visits {
		if ShouldArchiveVisit(v) {
			archive++
		} else {
			remove++
		}
	}
	return archive, remove, nil
}

func (b *Backend) archiveSomeOldHistory(end time.Time, max int) (Result, bool) {
	if b.main == nil || b.archived == nil {
		return Result{}, false
	}
	// The range is half-open, and |end| is inclusive.
	visits, err := b.main.GetAllVisitsInRange(time.Time{}, end.Add(time.Microsecond), max)
	if err != nil {
		log.WithFields(log.Fields{"end": end, "err": err}).Warn("failed to read visits to archive")
		return Result{}, false
	}

	var archived, deleted []history.VisitRow
	for _, v := range visits {
		if ShouldArchiveVisit(v) {
			archived = append(archived, v)
		} else {
			deleted = append(deleted, v)
		}
	}

	var archivedDeps, deletedDeps = newDeleteDependencies(), newDeleteDependencies()
	b.archiveURLsAndVisits(archived, archivedDeps)

	b.deleteVisitRelatedInfo(deleted, deletedDeps)
	b.deleteVisitRelatedInfo(archived, archivedDeps)

	b.expireURLsForVisits(deleted, deletedDeps)
	b.expireURLsForVisits(archived, archivedDeps)

	for id := range archivedDeps.affectedFavicons {
		deletedDeps.affectedFavicons[id] = struct{}{}
	}
	b.deleteFaviconsIfPossible(deletedDeps.affectedFavicons)

	// Archiving isn't a deletion users can see.
	b.broadcastDeletions(deletedDeps)

	visitsArchivedTotal.Add(float64(len(archived)))
	visitsDeletedTotal.Add(float64(len(deleted)))

	if len(visits) != 0 {
		log.WithFields(log.Fields{
			"archived": len(archived),
			"deleted":  len(deleted),
			"end":      end,
		}).Debug("archived old history")
	}
	return Result{
		VisitsArchived: len(archived),
		VisitsDeleted:  len(deleted),
		URLsDeleted:    len(deletedDeps.deletedURLs) + len(archivedDeps.deletedURLs),
	}, max > 0 && len(visits) == max
}

// archiveURLsAndVisits copies |visits| and their URL rows into the archived
// partition. Referrers aren't carried across partitions.
func (b *Backend) archiveURLsAndVisits(visits []history.VisitRow, deps *deleteDependencies) {
	var mainToArchived = make(map[history.URLID]history.URLID)

	for _, v := range visits {
		if _, ok := mainToArchived[v.URLID]; ok {
			continue
		}
		row, ok := b.urlRow(v.URLID, deps)
		if !ok {
			continue
		}
		id, err := b.archiveOneURL(row)
		if err != nil {
			log.WithFields(log.Fields{"url": row.URL, "err": err}).Warn("failed to archive URL")
			continue
		}
		mainToArchived[v.URLID] = id
	}

	for _, v := range visits {
		id, ok := mainToArchived[v.URLID]
		if !ok {
			continue
		}
		var av = v
		av.ID = 0
		av.URLID = id
		av.ReferringVisit = 0
		av.SegmentID = 0
		av.IsIndexed = false

		if _, err := b.archived.AddVisit(&av); err != nil {
			log.WithFields(log.Fields{"visit": v.ID, "err": err}).Warn("failed to archive visit")
		}
	}
}

// archiveOneURL adds |row| to the archived partition, or updates the last
// visit of the archived row having its URL. The archived row's own counts
// are kept.
func (b *Backend) archiveOneURL(row history.URLRow) (history.URLID, error) {
	existing, err := b.archived.GetRowForURL(row.URL)
	if err == nil {
		existing.LastVisit = row.LastVisit
		if err := b.archived.UpdateURLRow(existing.ID, existing); err != nil {
			return 0, errors.WithMessage(err, "updating archived row")
		}
		return existing.ID, nil
	} else if err != storage.ErrNotFound {
		return 0, errors.WithMessage(err, "reading archived row")
	}

	id, err := b.archived.AddURL(row)
	if err != nil {
		return 0, errors.WithMessage(err, "adding archived row")
	}
	return id, nil
}

// deleteVisitRelatedInfo deletes |visits| from the main partition, and their
// full-text indexing.
func (b *Backend) deleteVisitRelatedInfo(visits []history.VisitRow, deps *deleteDependencies) {
	for _, v := range visits {
		if err := b.main.DeleteVisit(v); err != nil {
			log.WithFields(log.Fields{"visit": v.ID, "err": err}).Warn("failed to delete visit")
			continue
		}
		row, ok := b.urlRow(v.URLID, deps)
		if !ok {
			continue
		}
		if v.IsIndexed {
			if err := b.text.DeletePageData(v.VisitTime, row.URL); err != nil {
				log.WithFields(log.Fields{"url": row.URL, "err": err}).Warn("failed to delete indexed page")
			}
		}
	}
}

// expireURLsForVisits updates the URL rows of deleted |visits|, reversing
// the counting of those visits. Rows left without visits are deleted unless
// bookmarked.
func (b *Backend) expireURLsForVisits(visits []history.VisitRow, deps *deleteDependencies) {
	type change struct{ visits, typed int }
	var changes = make(map[history.URLID]*change)
	var order []history.URLID

	for _, v := range visits {
		var c, ok = changes[v.URLID]
		if !ok {
			c = new(change)
			changes[v.URLID] = c
			order = append(order, v.URLID)
		}
		if v.Transition.Core() != history.Reload {
			c.visits++
		}
		if v.Transition.CountsAsTyped() {
			c.typed++
		}
	}

	for _, id := range order {
		// Re-read, as an earlier pass may have changed or deleted the row.
		row, err := b.main.GetURLRow(id)
		if err != nil {
			continue
		}
		var c = changes[id]

		var hasVisits bool
		if last, err := b.main.GetMostRecentVisitForURL(id); err == nil {
			row.LastVisit, hasVisits = last.VisitTime, true
		} else {
			row.LastVisit = time.Time{}
		}

		var isBookmarked = b.isBookmarked(row.URL)
		if !hasVisits && !isBookmarked {
			b.deleteOneURL(row, false, deps)
			continue
		}

		row.VisitCount = clampAtZero(row.VisitCount - c.visits)
		row.TypedCount = clampAtZero(row.TypedCount - c.typed)
		if row.TypedCount > row.VisitCount {
			row.TypedCount = row.VisitCount
		}
		if err := b.main.UpdateURLRow(id, row); err != nil {
			log.WithFields(log.Fields{"url": row.URL, "err": err}).Warn("failed to update expired URL")
			continue
		}
		deps.affectedURLs[id] = row
	}
}

// deleteOneURL deletes the data of |row| which outlives its visits. Unless
// |isBookmarked| the row itself is deleted, with its thumbnail, and its
// favicon is marked for collection.
func (b *Backend) deleteOneURL(row history.URLRow, isBookmarked bool, deps *deleteDependencies) {
	if err := b.main.DeleteSegmentForURL(row.ID); err != nil {
		log.WithFields(log.Fields{"url": row.URL, "err": err}).Warn("failed to delete segment")
	}
	b.text.DeleteURLFromUncommitted(row.URL)

	if isBookmarked {
		return
	}
	if err := b.thumbs.DeleteThumbnail(row.ID); err != nil {
		log.WithFields(log.Fields{"url": row.URL, "err": err}).Warn("failed to delete thumbnail")
	}
	if row.FavIconID != 0 {
		deps.affectedFavicons[row.FavIconID] = struct{}{}
	}
	if err := b.main.DeleteURLRow(row.ID); err != nil {
		log.WithFields(log.Fields{"url": row.URL, "err": err}).Warn("failed to delete URL")
		return
	}
	delete(deps.affectedURLs, row.ID)
	deps.deletedURLs = append(deps.deletedURLs, row)
	urlsDeletedTotal.Inc()
}

// deleteFaviconsIfPossible deletes those of |ids| no URL row references.
func (b *Backend) deleteFaviconsIfPossible(ids map[history.FavIconID]struct{}) {
	if b.thumbs == nil {
		return
	}
	for id := range ids {
		used, err := b.main.IsFavIconUsed(id)
		if err != nil {
			log.WithFields(log.Fields{"favicon": id, "err": err}).Warn("failed to check favicon use")
			continue
		} else if used {
			continue
		}
		if err := b.thumbs.DeleteFavIcon(id); err != nil {
			log.WithFields(log.Fields{"favicon": id, "err": err}).Warn("failed to delete favicon")
		}
	}
}

func (b *Backend) broadcastDeletions(deps *deleteDependencies) {
	if b.notifier == nil || len(deps.deletedURLs) == 0 {
		return
	}
	var urls = make([]string, 0, len(deps.deletedURLs))
	for _, row := range deps.deletedURLs {
		urls = append(urls, row.URL)
	}
	b.notifier.Broadcast(history.Notification{
		Type:    history.URLsDeleted,
		Details: history.URLsDeletedDetails{URLs: urls},
	})
}

// urlRow returns the main partition row |id|, caching it in |deps|.
func (b *Backend) urlRow(id history.URLID, deps *deleteDependencies) (history.URLRow, bool) {
	if row, ok := deps.affectedURLs[id]; ok {
		return row, true
	}
	row, err := b.main.GetURLRow(id)
	if err != nil {
		// A visit of a missing URL is skipped.
		if err != storage.ErrNotFound {
			log.WithFields(log.Fields{"id": id, "err": err}).Warn("failed to read URL row")
		}
		return history.URLRow{}, false
	}
	deps.affectedURLs[id] = row
	return row, true
}

func (b *Backend) isBookmarked(url string) bool {
	if b.bookmarks == nil {
		return false
	}
	b.bookmarks.BlockTillLoaded()
	return b.bookmarks.IsBookmarked(url)
}

func clampAtZero(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
