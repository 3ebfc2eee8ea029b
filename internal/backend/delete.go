package backend

import (
	"os"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/runnerr0/chronicle/internal/expire"
	"github.com/runnerr0/chronicle/internal/history"
	"github.com/runnerr0/chronicle/internal/storage"
)

// DeleteURL deletes |url| and every visit of it, and commits immediately.
func (b *HistoryBackend) DeleteURL(url string) {
	if b.db == nil {
		return
	}
	b.text.DeleteURLFromUncommitted(url)
	b.expirer.DeleteURL(url)

	b.forceCommit()
	b.refreshFirstRecordedTime()
}

// ExpireHistoryBetween deletes the visits of [begin, end), and commits
// immediately. With both bounds zero, all history is deleted.
func (b *HistoryBackend) ExpireHistoryBetween(begin, end time.Time) expire.Result {
	if b.db == nil {
		return expire.Result{}
	}
	if begin.IsZero() && end.IsZero() {
		b.DeleteAllHistory()
		return expire.Result{}
	}
	var r = b.expirer.ExpireHistoryBetween(begin, end)

	b.forceCommit()
	b.refreshFirstRecordedTime()
	return r
}

// URLsNoLongerBookmarked deletes those of |urls| which no longer have any
// visits, since they were only kept for their bookmark.
func (b *HistoryBackend) URLsNoLongerBookmarked(urls []string) {
	if b.db == nil {
		return
	}
	for _, u := range urls {
		row, err := b.db.GetRowForURL(u)
		if err != nil {
			continue
		}
		visits, err := b.db.GetVisitsForURL(row.ID)
		if err != nil || len(visits) != 0 {
			continue
		}
		b.expirer.DeleteURL(u)
	}
	b.forceCommit()
}

// ArchiveHistoryBefore archives or deletes every visit at or before |end|,
// running to completion, and commits.
func (b *HistoryBackend) ArchiveHistoryBefore(end time.Time) expire.Result {
	if b.db == nil {
		return expire.Result{}
	}
	var r = b.expirer.ArchiveHistoryBefore(end)

	b.Commit()
	b.refreshFirstRecordedTime()
	return r
}

// DeleteAllHistory deletes all history, except that the URL rows of
// bookmarks are kept with their counts and last visit cleared, along with
// their favicons. Tables are rebuilt from the kept rows and vacuumed, and
// the archived partition is recreated empty.
func (b *HistoryBackend) DeleteAllHistory() {
	if b.db == nil {
		return
	}
	var kept = b.bookmarkedRows()

	if err := b.clearFavIconsAndThumbnails(kept); err != nil {
		log.WithField("err", err).Error("clearing favicons and thumbnails failed")
	}
	if err := b.clearMainURLs(kept); err != nil {
		log.WithField("err", err).Error("clearing history failed")
	}
	if err := b.text.DeleteAll(); err != nil {
		log.WithField("err", err).Warn("clearing the text index failed")
	}
	b.recreateArchived()

	b.recentRedirects.Purge()
	b.broadcast(history.URLsDeleted, history.URLsDeletedDetails{AllHistory: true})

	b.forceCommit()
	b.refreshFirstRecordedTime()
	log.WithField("kept", len(kept)).Info("deleted all history")
}

// bookmarkedRows returns the main rows of bookmarked URLs, cleared of
// their visit state.
func (b *HistoryBackend) bookmarkedRows() []history.URLRow {
	if b.bookmarks == nil {
		return nil
	}
	b.bookmarks.BlockTillLoaded()

	var out []history.URLRow
	for _, u := range b.bookmarks.GetBookmarks() {
		row, err := b.db.GetRowForURL(u)
		if err != nil {
			continue
		}
		row.VisitCount, row.TypedCount, row.LastVisit = 0, 0, time.Time{}
		out = append(out, row)
	}
	return out
}

// clearFavIconsAndThumbnails rebuilds favicons from those of |kept|,
// remapping their FavIconIDs, and drops every thumbnail.
func (b *HistoryBackend) clearFavIconsAndThumbnails(kept []history.URLRow) error {
	if b.thumbs == nil {
		// The partition failed to open. Remove it, in case it's corrupt.
		if b.opts.Dir != InMemory {
			if err := removeDatabaseFiles(b.opts.path(b.opts.ThumbnailFile)); err != nil {
				return errors.WithMessage(err, "removing thumbnail database")
			}
		}
		return nil
	}
	if err := b.thumbs.InitTemporaryFavIconsTable(); err != nil {
		return errors.WithMessage(err, "creating temporary favicons")
	}

	var remap = make(map[history.FavIconID]history.FavIconID)
	for i := range kept {
		var old = kept[i].FavIconID
		if old == 0 {
			continue
		}
		if id, ok := remap[old]; ok {
			kept[i].FavIconID = id
			continue
		}
		id, err := b.thumbs.CopyToTemporaryFavIconTable(old)
		if err == storage.ErrNotFound {
			id = 0
		} else if err != nil {
			return errors.WithMessagef(err, "copying favicon %d", old)
		}
		remap[old] = id
		kept[i].FavIconID = id
	}

	if err := b.thumbs.CommitTemporaryFavIconTable(); err != nil {
		return errors.WithMessage(err, "replacing favicons")
	}
	if err := b.thumbs.RecreateThumbnailTable(); err != nil {
		return errors.WithMessage(err, "recreating thumbnails")
	}
	return commitVacuumBegin(b.thumbs.Partition)
}

// clearMainURLs rebuilds urls from |kept|, and recreates every other table
// of visit data.
func (b *HistoryBackend) clearMainURLs(kept []history.URLRow) error {
	if err := b.db.CreateTemporaryURLTable(); err != nil {
		return errors.WithMessage(err, "creating temporary urls")
	}
	for _, row := range kept {
		if _, err := b.db.AddTemporaryURL(row); err != nil {
			log.WithFields(log.Fields{"url": row.URL, "err": err}).Warn("keeping bookmarked URL failed")
		}
	}
	if err := b.db.CommitTemporaryURLTable(); err != nil {
		return errors.WithMessage(err, "replacing urls")
	}
	if err := b.db.RecreateAllTablesButURL(); err != nil {
		return errors.WithMessage(err, "recreating tables")
	}
	return commitVacuumBegin(b.db.Partition)
}

// recreateArchived closes and deletes the archived partition, and opens it
// anew. Nothing of it is kept.
func (b *HistoryBackend) recreateArchived() {
	if b.archived != nil {
		if err := b.archived.CommitTransaction(); err != nil {
			log.WithField("err", err).Warn("committing archived database failed")
		}
		if err := b.archived.Close(); err != nil {
			log.WithField("err", err).Warn("closing archived database failed")
		}
		b.archived = nil
	}
	if b.opts.Dir != InMemory {
		if err := removeDatabaseFiles(b.opts.path(b.opts.ArchivedFile)); err != nil {
			log.WithField("err", err).Warn("removing archived database failed")
		}
	}

	b.openArchived()
	if b.archived != nil {
		if err := b.archived.BeginTransaction(); err != nil {
			log.WithField("err", err).Error("failed to begin archived transaction")
		}
	}
	b.expirer.SetDatabases(b.db, b.archived, b.thumbs, b.text)
}

// commitVacuumBegin commits the long-running transaction of |p|, reclaims
// its free pages, and begins a new transaction.
func commitVacuumBegin(p *storage.Partition) error {
	if err := p.CommitTransaction(); err != nil {
		return err
	}
	var vacuumErr = p.Vacuum()
	if err := p.BeginTransaction(); err != nil {
		return err
	}
	return errors.WithMessage(vacuumErr, "vacuum")
}

// removeDatabaseFiles removes the SQLite database at |path|, and its
// journal files.
func removeDatabaseFiles(path string) error {
	for _, suffix := range []string{"", "-journal", "-wal", "-shm"} {
		if err := os.Remove(path + suffix); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
