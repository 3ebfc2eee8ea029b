package backend

import (
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/runnerr0/chronicle/internal/history"
	"github.com/runnerr0/chronicle/internal/storage"
)

// QueryURLResult is the result of QueryURL.
type QueryURLResult struct {
	Success bool
	Row     history.URLRow
	// Visits of the URL, oldest first, if requested.
	Visits []history.VisitRow
	// Archived is set if the URL was found in the archived partition.
	Archived bool
}

// VisitCountResult is the result of GetVisitCountToHost.
type VisitCountResult struct {
	Success    bool
	Count      int
	FirstVisit time.Time
}

// QueryURL returns the row of |url| from the main partition or, failing
// that, the archived one.
func (b *HistoryBackend) QueryURL(url string, wantVisits bool) QueryURLResult {
	for _, vd := range b.visitDatabases() {
		row, err := vd.GetRowForURL(url)
		if err == storage.ErrNotFound {
			continue
		} else if err != nil {
			log.WithFields(log.Fields{"url": url, "err": err}).Warn("querying URL failed")
			continue
		}

		var out = QueryURLResult{Success: true, Row: row, Archived: b.archived != nil && vd == b.archived.VisitDatabase}
		if wantVisits {
			if out.Visits, err = vd.GetVisitsForURL(row.ID); err != nil {
				log.WithFields(log.Fields{"url": url, "err": err}).Warn("querying URL visits failed")
			}
		}
		return out
	}
	return QueryURLResult{}
}

// QueryHistory returns the visited URLs matching |text| within |opts|, newest
// first. An empty |text| matches every visible visit.
func (b *HistoryBackend) QueryHistory(text string, opts history.QueryOptions) history.QueryResults {
	var out = history.QueryResults{Results: []history.URLResult{}}
	if b.db == nil {
		return out
	}
	if text == "" {
		out.Results = b.queryHistoryBasic(opts)
	} else {
		out.Results = b.queryHistoryText(text, opts)
	}
	out.ReachedBeginning = !opts.BeginTime.After(b.firstRecordedTime)
	return out
}

func (b *HistoryBackend) queryHistoryBasic(opts history.QueryOptions) []history.URLResult {
	var sources = []*storage.VisitDatabase{b.db.VisitDatabase}
	// The archived partition is only searched if the range reaches it.
	if b.archived != nil && !b.archiveCutoff().Before(opts.BeginTime) {
		sources = append(sources, b.archived.VisitDatabase)
	}

	var limit = opts.MaxCount
	if opts.MostRecentVisitOnly {
		limit = 0 // Applied after de-duplication.
	}

	var results []history.URLResult
	for _, vd := range sources {
		visits, err := vd.GetVisibleVisitsInRange(opts.BeginTime, opts.EndTime, limit)
		if err != nil {
			log.WithField("err", err).Warn("querying visible visits failed")
			continue
		}
		for _, v := range visits {
			row, err := vd.GetURLRow(v.URLID)
			if err != nil || !history.IsValidURL(row.URL) {
				continue // Out of sync or corrupt.
			}
			// Archived rows may be stale. The main row is fresher, if present.
			if vd != b.db.VisitDatabase {
				if fresh, err := b.db.GetRowForURL(row.URL); err == nil {
					row = fresh
				}
			}
			results = append(results, history.URLResult{URLRow: row, VisitTime: v.VisitTime})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].VisitTime.After(results[j].VisitTime)
	})
	return capResults(results, opts)
}

func (b *HistoryBackend) queryHistoryText(text string, opts history.QueryOptions) []history.URLResult {
	matches, err := b.text.GetTextMatches(text, opts)
	if err != nil {
		log.WithFields(log.Fields{"query": text, "err": err}).Warn("full text query failed")
		return nil
	}

	var results []history.URLResult
	for _, m := range matches {
		var found = b.QueryURL(m.URL, false)
		if !found.Success {
			continue
		}
		results = append(results, history.URLResult{
			URLRow:    found.Row,
			VisitTime: m.Time,
			Snippet:   m.Snippet,
		})
	}
	return capResults(results, opts)
}

// capResults de-duplicates |results| if requested, and applies MaxCount.
func capResults(results []history.URLResult, opts history.QueryOptions) []history.URLResult {
	var out = make([]history.URLResult, 0, len(results))
	var seen = make(map[string]bool)

	for _, r := range results {
		if opts.MaxCount > 0 && len(out) == opts.MaxCount {
			break
		}
		if opts.MostRecentVisitOnly {
			if seen[r.URL] {
				continue
			}
			seen[r.URL] = true
		}
		out = append(out, r)
	}
	return out
}

// archiveCutoff is the time before which visits have been archived.
func (b *HistoryBackend) archiveCutoff() time.Time {
	return b.now().Add(-b.opts.ArchiveThreshold)
}

// QueryRedirectsFrom returns the redirect chain which followed the most
// recent visit of |url|, excluding |url| itself.
func (b *HistoryBackend) QueryRedirectsFrom(url string) (history.RedirectList, bool) {
	if b.db == nil {
		return nil, false
	}
	row, err := b.db.GetRowForURL(url)
	if err != nil {
		return nil, false
	}
	v, err := b.db.GetMostRecentVisitForURL(row.ID)
	if err != nil {
		return nil, false
	}
	return b.redirectsFromVisit(v.ID), true
}

// redirectsFromVisit follows the redirects from visit |id|.
func (b *HistoryBackend) redirectsFromVisit(id history.VisitID) history.RedirectList {
	var out = history.RedirectList{}
	var seen = map[history.VisitID]bool{id: true}

	for {
		next, url, err := b.db.GetRedirectFromVisit(id)
		if err != nil {
			return out
		}
		if seen[next] {
			log.WithField("visit", next).Error("loop in visit chain, giving up")
			return out
		}
		seen[next] = true
		out = append(out, url)
		id = next
	}
}

// GetVisitCountToHost returns the number of main frame visits to the origin
// of |url|, and the time of the first.
func (b *HistoryBackend) GetVisitCountToHost(url string) VisitCountResult {
	if b.db == nil {
		return VisitCountResult{}
	}
	count, first, err := b.db.GetVisitCountToHost(url)
	if err != nil {
		return VisitCountResult{}
	}
	return VisitCountResult{Success: true, Count: count, FirstVisit: first}
}
