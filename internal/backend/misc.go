package backend

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/runnerr0/chronicle/internal/history"
)

// ── Downloads ──────────────────────────────────────────────

// CreateDownload persists |row|, returning its handle or zero.
func (b *HistoryBackend) CreateDownload(row history.DownloadRow) int64 {
	if b.db == nil {
		return 0
	}
	handle, err := b.db.CreateDownload(row)
	if err != nil {
		log.WithFields(log.Fields{"url": row.URL, "err": err}).Warn("creating download failed")
		return 0
	}
	b.ScheduleCommit()
	return handle
}

// UpdateDownload records progress of download |handle|.
func (b *HistoryBackend) UpdateDownload(handle, receivedBytes int64, state history.DownloadState) {
	if b.db == nil {
		return
	}
	if err := b.db.UpdateDownload(handle, receivedBytes, state); err != nil {
		log.WithFields(log.Fields{"download": handle, "err": err}).Warn("updating download failed")
		return
	}
	b.ScheduleCommit()
}

// UpdateDownloadPath records a new target |path| of download |handle|.
func (b *HistoryBackend) UpdateDownloadPath(handle int64, path string) {
	if b.db == nil {
		return
	}
	if err := b.db.UpdateDownloadPath(handle, path); err != nil {
		log.WithFields(log.Fields{"download": handle, "err": err}).Warn("updating download path failed")
		return
	}
	b.ScheduleCommit()
}

// QueryDownloads returns every download, oldest first.
func (b *HistoryBackend) QueryDownloads() []history.DownloadRow {
	if b.db == nil {
		return []history.DownloadRow{}
	}
	rows, err := b.db.QueryDownloads()
	if err != nil {
		log.WithField("err", err).Warn("querying downloads failed")
		return []history.DownloadRow{}
	}
	return rows
}

// RemoveDownload deletes download |handle|.
func (b *HistoryBackend) RemoveDownload(handle int64) {
	if b.db == nil {
		return
	}
	if err := b.db.RemoveDownload(handle); err != nil {
		log.WithFields(log.Fields{"download": handle, "err": err}).Warn("removing download failed")
		return
	}
	b.ScheduleCommit()
}

// RemoveDownloadsBetween deletes the finished downloads started in
// [begin, end).
func (b *HistoryBackend) RemoveDownloadsBetween(begin, end time.Time) {
	if b.db == nil {
		return
	}
	if _, err := b.db.RemoveDownloadsBetween(begin, end); err != nil {
		log.WithField("err", err).Warn("removing downloads failed")
		return
	}
	b.ScheduleCommit()
}

// SearchDownloads returns the handles of downloads whose URL or path
// contains |text|.
func (b *HistoryBackend) SearchDownloads(text string) []int64 {
	if b.db == nil {
		return []int64{}
	}
	handles, err := b.db.SearchDownloads(text)
	if err != nil {
		log.WithFields(log.Fields{"query": text, "err": err}).Warn("searching downloads failed")
		return []int64{}
	}
	return handles
}

// ── Keyword search terms ───────────────────────────────────

// SetKeywordSearchTermsForURL records that searching |term| with keyword
// |keywordID| produced |url|, which must already be known.
func (b *HistoryBackend) SetKeywordSearchTermsForURL(url string, keywordID int64, term string) {
	if b.db == nil {
		return
	}
	row, err := b.db.GetRowForURL(url)
	if err != nil {
		return
	}
	if err := b.db.SetKeywordSearchTermsForURL(row.ID, keywordID, term); err != nil {
		log.WithFields(log.Fields{"url": url, "err": err}).Warn("setting keyword search term failed")
		return
	}
	b.ScheduleCommit()
}

// DeleteAllSearchTermsForKeyword forgets every term of |keywordID|.
func (b *HistoryBackend) DeleteAllSearchTermsForKeyword(keywordID int64) {
	if b.db == nil {
		return
	}
	if err := b.db.DeleteAllSearchTermsForKeyword(keywordID); err != nil {
		log.WithFields(log.Fields{"keyword": keywordID, "err": err}).Warn("deleting keyword terms failed")
		return
	}
	b.ScheduleCommit()
}

// GetMostRecentKeywordSearchTerms returns up to |max| terms of |keywordID|
// starting with |prefix|, most recent first.
func (b *HistoryBackend) GetMostRecentKeywordSearchTerms(keywordID int64, prefix string, max int) []history.KeywordSearchTerm {
	if b.db == nil {
		return []history.KeywordSearchTerm{}
	}
	terms, err := b.db.GetMostRecentKeywordSearchTerms(keywordID, prefix, max)
	if err != nil {
		log.WithFields(log.Fields{"keyword": keywordID, "err": err}).Warn("querying keyword terms failed")
		return []history.KeywordSearchTerm{}
	}
	return terms
}

// ── Segments ───────────────────────────────────────────────

// QuerySegmentUsage returns the |max| most visited segments having usage on
// or after |from|.
func (b *HistoryBackend) QuerySegmentUsage(from time.Time, max int) []history.PageUsageData {
	if b.db == nil {
		return []history.PageUsageData{}
	}
	usage, err := b.db.QuerySegmentUsage(from, b.now(), max)
	if err != nil {
		log.WithField("err", err).Warn("querying segment usage failed")
		return []history.PageUsageData{}
	}
	return usage
}

// SetSegmentPresentationIndex pins segment |id| at |index| of a
// presentation. A negative |index| unpins it.
func (b *HistoryBackend) SetSegmentPresentationIndex(id history.SegmentID, index int) {
	if b.db == nil {
		return
	}
	if err := b.db.SetSegmentPresentationIndex(id, index); err != nil {
		log.WithFields(log.Fields{"segment": id, "err": err}).Warn("setting segment presentation index failed")
		return
	}
	b.ScheduleCommit()
}

// DeleteOldSegmentData drops segment usage older than the segment retention.
func (b *HistoryBackend) DeleteOldSegmentData() {
	if b.db == nil {
		return
	}
	if err := b.db.DeleteSegmentData(b.now().Add(-b.opts.SegmentRetention)); err != nil {
		log.WithField("err", err).Warn("deleting old segment data failed")
		return
	}
	b.ScheduleCommit()
}
