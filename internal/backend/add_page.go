package backend

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/runnerr0/chronicle/internal/history"
	"github.com/runnerr0/chronicle/internal/storage"
)

// AddPage records a navigation to |info.URL|, along with its redirect chain.
func (b *HistoryBackend) AddPage(info history.PageInfo) {
	if b.db == nil {
		return
	}
	if !history.CanAddURL(info.URL) {
		return
	}
	if b.isDenied(history.HostOf(info.URL)) {
		log.WithField("url", info.URL).Debug("not recording denied host")
		return
	}

	var fromVisit = b.tracker.GetLastVisit(info.IDScope, info.PageID, info.Referrer)
	var lastURL, lastVisit = history.URLID(0), fromVisit

	// Recorded times strictly increase across requests for the same time,
	// without forbidding times earlier than the last (the clock moved back).
	var requested = info.Time.Truncate(time.Microsecond)
	if requested.Equal(b.lastRequestedTime) {
		b.lastRecordedTime = b.lastRecordedTime.Add(time.Microsecond)
	} else {
		b.lastRequestedTime = requested
		b.lastRecordedTime = requested
	}
	var at = b.lastRecordedTime

	if at.Before(b.firstRecordedTime) {
		b.firstRecordedTime = at
	}

	var core = info.Transition.Core()
	var redirects = info.Redirects

	if len(redirects) <= 1 {
		var t = info.Transition | history.ChainStart | history.ChainEnd
		lastURL, lastVisit = b.AddPageVisit(info.URL, at, lastVisit, t)
		b.UpdateSegments(info.URL, fromVisit, lastVisit, t, at)
	} else {
		redirects = append(history.RedirectList(nil), redirects...)
		var redirectInfo = history.ChainStart

		if history.IsAboutURL(redirects[0]) {
			// An about: source, typically a blank window navigated by script,
			// can't be attributed to a real referrer.
			redirects = redirects[1:]
		} else if info.Transition&history.ClientRedirect != 0 {
			redirectInfo |= history.ClientRedirect
			// The first entry is the referrer, which is already recorded. The
			// chain now continues from it, so it's no longer a chain end.
			redirects = redirects[1:]
			if info.Referrer != "" {
				b.clearChainEnd(lastVisit)
			}
		}
		if len(redirects) == 0 {
			redirects = history.RedirectList{info.URL}
		}

		for i, u := range redirects {
			var t = core | redirectInfo
			if i == len(redirects)-1 {
				t |= history.ChainEnd
			}
			// Every hop has the same time. Their order is that of the chain.
			lastURL, lastVisit = b.AddPageVisit(u, at, lastVisit, t)
			if t.IsChainStart() {
				b.UpdateSegments(u, fromVisit, lastVisit, t, at)
			}
			redirectInfo = history.ServerRedirect
		}

		// Titles and favicons of the destination apply across the chain.
		b.recentRedirects.Put(info.URL, redirects)
	}

	// Subframe referrers aren't reliable, and would confuse main frame
	// tracking.
	if core != history.AutoSubframe && core != history.ManualSubframe {
		b.tracker.AddVisit(info.IDScope, info.PageID, info.URL, lastVisit)
	}
	if lastVisit != 0 {
		b.text.AddPageURL(info.URL, lastURL, lastVisit, at)
	}
	b.ScheduleCommit()
}

// clearChainEnd removes the ChainEnd qualifier of visit |id|.
func (b *HistoryBackend) clearChainEnd(id history.VisitID) {
	if id == 0 {
		return
	}
	v, err := b.db.GetRowForVisit(id)
	if err != nil || !v.Transition.IsChainEnd() {
		return
	}
	v.Transition &^= history.ChainEnd
	if err := b.db.UpdateVisitRow(v); err != nil {
		log.WithFields(log.Fields{"visit": id, "err": err}).Warn("failed to clear chain end")
	}
}

// AddPageVisit adds a visit of |url| at |at|, creating or updating its URL
// row. It returns zero IDs on failure.
func (b *HistoryBackend) AddPageVisit(url string, at time.Time, referringVisit history.VisitID,
	transition history.PageTransition) (history.URLID, history.VisitID) {
	if b.db == nil {
		return 0, 0
	}
	// Top-level navigations are visible, everything else is hidden.
	var hidden = !transition.IsMainFrame()
	var typedIncrement int
	if transition.CountsAsTyped() {
		typedIncrement = 1
	}

	row, err := b.db.GetRowForURL(url)
	if err == nil {
		if transition.Core() != history.Reload {
			row.VisitCount++
		}
		row.TypedCount += typedIncrement
		if at.After(row.LastVisit) {
			row.LastVisit = at
		}
		// Rows are only ever un-hidden.
		if !hidden {
			row.Hidden = false
		}
		if err := b.db.UpdateURLRow(row.ID, row); err != nil {
			log.WithFields(log.Fields{"url": url, "err": err}).Error("updating URL row failed")
			return 0, 0
		}
	} else if err == storage.ErrNotFound {
		row = history.URLRow{
			URL:        url,
			VisitCount: 1,
			TypedCount: typedIncrement,
			LastVisit:  at,
			Hidden:     hidden,
		}
		if row.ID, err = b.db.AddURL(row); err != nil {
			log.WithFields(log.Fields{"url": url, "err": err}).Error("adding URL failed")
			return 0, 0
		}
	} else {
		log.WithFields(log.Fields{"url": url, "err": err}).Error("reading URL row failed")
		return 0, 0
	}

	var v = history.VisitRow{
		URLID:          row.ID,
		VisitTime:      at,
		ReferringVisit: referringVisit,
		Transition:     transition,
	}
	if _, err := b.db.AddVisit(&v); err != nil {
		log.WithFields(log.Fields{"url": url, "err": err}).Error("adding visit failed")
		return 0, 0
	}
	visitsAddedTotal.Inc()

	if at.Before(b.firstRecordedTime) {
		b.firstRecordedTime = at
	}
	b.broadcast(history.URLVisited, history.URLVisitedDetails{Transition: transition, Row: row})
	return row.ID, v.ID
}

// UpdateSegments attributes visit |visitID| of |url| to a segment and counts
// it, returning the segment or zero. Typed and bookmark navigations start
// segments; other main frame navigations inherit the segment of their
// referrer chain, if it has one.
func (b *HistoryBackend) UpdateSegments(url string, fromVisit, visitID history.VisitID,
	transition history.PageTransition, at time.Time) history.SegmentID {
	if b.db == nil || visitID == 0 || !transition.IsMainFrame() {
		return 0
	}

	var segment history.SegmentID
	if core := transition.Core(); core == history.Typed || core == history.AutoBookmark {
		var name = storage.ComputeSegmentName(url)
		row, err := b.db.GetRowForURL(url)
		if err != nil || name == "" {
			return 0
		}
		segment, err = b.db.GetSegmentNamed(name)
		switch err {
		case nil:
			// Represent the segment by its latest URL, so its icon isn't stale.
			if err = b.db.UpdateSegmentRepresentationURL(segment, row.ID); err != nil {
				log.WithFields(log.Fields{"url": url, "err": err}).Warn("updating segment URL failed")
			}
		case storage.ErrNotFound:
			if segment, err = b.db.CreateSegment(row.ID, name); err != nil {
				log.WithFields(log.Fields{"url": url, "err": err}).Error("creating segment failed")
				return 0
			}
		default:
			log.WithFields(log.Fields{"url": url, "err": err}).Error("reading segment failed")
			return 0
		}
	} else if segment = b.GetLastSegmentID(fromVisit); segment == 0 {
		// Chains which didn't start with a typed or bookmark navigation
		// aren't attributed.
		return 0
	}

	if err := b.db.SetSegmentID(visitID, segment); err != nil {
		log.WithFields(log.Fields{"visit": visitID, "err": err}).Error("setting visit segment failed")
		return 0
	}
	if err := b.db.IncreaseSegmentVisitCount(segment, at, 1); err != nil {
		log.WithFields(log.Fields{"segment": segment, "err": err}).Error("counting segment visit failed")
		return 0
	}
	return segment
}

// GetLastSegmentID walks the referrers of |fromVisit| and returns the first
// segment found, or zero.
func (b *HistoryBackend) GetLastSegmentID(fromVisit history.VisitID) history.SegmentID {
	var seen = make(map[history.VisitID]bool)
	for id := fromVisit; id != 0; {
		v, err := b.db.GetRowForVisit(id)
		if err != nil {
			return 0
		}
		if v.SegmentID != 0 {
			return v.SegmentID
		}
		id = v.ReferringVisit
		if seen[id] {
			log.WithField("visit", id).Error("loop in referrer chain, giving up")
			return 0
		}
		seen[id] = true
	}
	return 0
}

// AddPagesWithDetails imports |rows|, bypassing referrer and segment
// attribution. Rows last visited before the archive threshold are imported
// into the archived partition, and are dropped without one.
func (b *HistoryBackend) AddPagesWithDetails(rows []history.URLRow) {
	if b.db == nil {
		return
	}
	var cutoff = b.now().Add(-b.opts.ArchiveThreshold)
	var modified []history.URLRow

	for _, row := range rows {
		if !history.CanAddURL(row.URL) {
			continue
		}
		var vd = b.db.VisitDatabase
		var archived = row.LastVisit.Before(cutoff)
		if archived {
			if b.archived == nil {
				continue
			}
			vd = b.archived.VisitDatabase
		}

		existing, err := vd.GetRowForURL(row.URL)
		if err == nil {
			row.ID = existing.ID
			if err = vd.UpdateURLRow(existing.ID, row); err != nil {
				log.WithFields(log.Fields{"url": row.URL, "err": err}).Warn("updating imported URL failed")
				continue
			}
		} else if row.ID, err = vd.AddURL(row); err != nil {
			log.WithFields(log.Fields{"url": row.URL, "err": err}).Warn("adding imported URL failed")
			continue
		}

		if !row.LastVisit.IsZero() {
			var v = history.VisitRow{
				URLID:      row.ID,
				VisitTime:  row.LastVisit,
				Transition: history.Link | history.ChainStart | history.ChainEnd,
			}
			if _, err := vd.AddVisit(&v); err != nil {
				log.WithFields(log.Fields{"url": row.URL, "err": err}).Warn("adding imported visit failed")
				continue
			}
			if row.Title != "" && !archived {
				if err := b.text.AddPageData(row.URL, row.ID, v.ID, v.VisitTime, row.Title, ""); err != nil {
					log.WithFields(log.Fields{"url": row.URL, "err": err}).Warn("indexing imported page failed")
				}
			}
			if row.LastVisit.Before(b.firstRecordedTime) {
				b.firstRecordedTime = row.LastVisit
			}
		}
		if row.TypedCount > 0 && !archived {
			modified = append(modified, row)
		}
	}

	if len(modified) != 0 {
		b.broadcast(history.TypedURLsModified, history.URLsModifiedDetails{ChangedURLs: modified})
	}
	b.ScheduleCommit()
}

// SetPageTitle sets the title of |url| and of every URL of the recent
// redirect chain which ended at it.
func (b *HistoryBackend) SetPageTitle(url, title string) {
	if b.db == nil {
		return
	}
	var changed []history.URLRow
	for _, u := range b.recentRedirects.Chain(url) {
		row, err := b.db.GetRowForURL(u)
		if err != nil || row.Title == title {
			continue
		}
		row.Title = title
		if err := b.db.UpdateURLRow(row.ID, row); err != nil {
			log.WithFields(log.Fields{"url": u, "err": err}).Warn("setting page title failed")
			continue
		}
		changed = append(changed, row)
	}

	if len(changed) != 0 {
		if err := b.text.AddPageTitle(url, title); err != nil {
			log.WithFields(log.Fields{"url": url, "err": err}).Warn("indexing page title failed")
		}
		b.broadcast(history.TypedURLsModified, history.URLsModifiedDetails{ChangedURLs: changed})
		b.ScheduleCommit()
	}
}

// SetPageContents indexes |contents| as the text of |url|.
func (b *HistoryBackend) SetPageContents(url, contents string) {
	if err := b.text.AddPageContents(url, contents); err != nil {
		log.WithFields(log.Fields{"url": url, "err": err}).Warn("indexing page contents failed")
	}
	b.ScheduleCommit()
}

// NotifyScopeDestroyed forgets the tracked visits of |scope|.
func (b *HistoryBackend) NotifyScopeDestroyed(scope int64) {
	b.tracker.ClearScope(scope)
}

func (b *HistoryBackend) broadcast(t history.NotificationType, details interface{}) {
	if b.notifier == nil {
		return
	}
	b.notifier.Broadcast(history.Notification{Type: t, Details: details})
}
