package backend

import (
	"time"

	"github.com/runnerr0/chronicle/internal/dispatch"
	"github.com/runnerr0/chronicle/internal/expire"
	"github.com/runnerr0/chronicle/internal/history"
)

// Service is the front of a HistoryBackend for other goroutines. Every
// operation is posted to the backend's owner loop, and so runs in order with
// every other. Queries return a Request whose callback receives the result
// on |origin|, the caller's own context. A Request canceled before the
// backend reaches it is skipped.
type Service struct {
	backend *HistoryBackend
	loop    *dispatch.Loop
}

// NewService returns a Service of |b|, which must be owned by |loop|.
func NewService(b *HistoryBackend, loop *dispatch.Loop) *Service {
	return &Service{backend: b, loop: loop}
}

// Backend returns the HistoryBackend of the Service. It may only be used
// from the owner loop.
func (s *Service) Backend() *HistoryBackend { return s.backend }

// Post runs |fn| with the backend on its owner loop.
func (s *Service) Post(fn func(b *HistoryBackend)) {
	s.loop.Post(func() { fn(s.backend) })
}

// Shutdown closes the backend on its owner loop, and then posts |done| to
// |origin|.
func (s *Service) Shutdown(origin dispatch.Poster, done func()) {
	s.Post(func(b *HistoryBackend) {
		b.SetOnBackendDestroyTask(origin, done)
		b.Close()
	})
}

// schedule posts |fn| to the owner loop of |s|, and forwards its result
// to a Request completing on |origin|.
func schedule[T any](s *Service, origin dispatch.Poster, callback func(T),
	fn func(b *HistoryBackend) T) *dispatch.Request[T] {
	var req = dispatch.NewRequest(origin, callback)
	s.loop.Post(func() {
		if req.Canceled() {
			canceledRequestsTotal.Inc()
			return
		}
		req.ForwardResult(fn(s.backend))
	})
	return req
}

// ── Queries ────────────────────────────────────────────────

// RedirectQueryResult is the result of QueryRedirectsFrom.
type RedirectQueryResult struct {
	FromURL   string
	Success   bool
	Redirects history.RedirectList
}

// QueryURL runs HistoryBackend.QueryURL.
func (s *Service) QueryURL(origin dispatch.Poster, url string, wantVisits bool,
	cb func(QueryURLResult)) *dispatch.Request[QueryURLResult] {
	return schedule(s, origin, cb, func(b *HistoryBackend) QueryURLResult {
		return b.QueryURL(url, wantVisits)
	})
}

// QueryHistory runs HistoryBackend.QueryHistory.
func (s *Service) QueryHistory(origin dispatch.Poster, text string, opts history.QueryOptions,
	cb func(history.QueryResults)) *dispatch.Request[history.QueryResults] {
	return schedule(s, origin, cb, func(b *HistoryBackend) history.QueryResults {
		return b.QueryHistory(text, opts)
	})
}

// QueryRedirectsFrom returns the redirects followed from |url|, along with
// |url| itself.
func (s *Service) QueryRedirectsFrom(origin dispatch.Poster, url string,
	cb func(RedirectQueryResult)) *dispatch.Request[RedirectQueryResult] {
	return schedule(s, origin, cb, func(b *HistoryBackend) RedirectQueryResult {
		var redirects, ok = b.QueryRedirectsFrom(url)
		return RedirectQueryResult{FromURL: url, Success: ok, Redirects: redirects}
	})
}

// GetVisitCountToHost counts visits to the host of |url|.
func (s *Service) GetVisitCountToHost(origin dispatch.Poster, url string,
	cb func(VisitCountResult)) *dispatch.Request[VisitCountResult] {
	return schedule(s, origin, cb, func(b *HistoryBackend) VisitCountResult {
		return b.GetVisitCountToHost(url)
	})
}

// GetFavIcon returns the stored favicon |iconURL|.
func (s *Service) GetFavIcon(origin dispatch.Poster, iconURL string,
	cb func(history.FavIconResult)) *dispatch.Request[history.FavIconResult] {
	return schedule(s, origin, cb, func(b *HistoryBackend) history.FavIconResult {
		return b.GetFavIcon(iconURL)
	})
}

// UpdateFavIconMappingAndFetch maps |pageURL| to |iconURL| when that icon is
// known, and returns it.
func (s *Service) UpdateFavIconMappingAndFetch(origin dispatch.Poster, pageURL, iconURL string,
	cb func(history.FavIconResult)) *dispatch.Request[history.FavIconResult] {
	return schedule(s, origin, cb, func(b *HistoryBackend) history.FavIconResult {
		return b.UpdateFavIconMappingAndFetch(pageURL, iconURL)
	})
}

// GetFavIconForURL returns the favicon mapped to |pageURL|.
func (s *Service) GetFavIconForURL(origin dispatch.Poster, pageURL string,
	cb func(history.FavIconResult)) *dispatch.Request[history.FavIconResult] {
	return schedule(s, origin, cb, func(b *HistoryBackend) history.FavIconResult {
		return b.GetFavIconForURL(pageURL)
	})
}

// GetPageThumbnail returns the thumbnail of |url| or its redirect
// destinations, or nil.
func (s *Service) GetPageThumbnail(origin dispatch.Poster, url string,
	cb func([]byte)) *dispatch.Request[[]byte] {
	return schedule(s, origin, cb, func(b *HistoryBackend) []byte {
		return b.GetPageThumbnail(url)
	})
}

// QueryDownloads returns all downloads.
func (s *Service) QueryDownloads(origin dispatch.Poster,
	cb func([]history.DownloadRow)) *dispatch.Request[[]history.DownloadRow] {
	return schedule(s, origin, cb, (*HistoryBackend).QueryDownloads)
}

// CreateDownload records |row| and returns its handle, or zero on failure.
func (s *Service) CreateDownload(origin dispatch.Poster, row history.DownloadRow,
	cb func(int64)) *dispatch.Request[int64] {
	return schedule(s, origin, cb, func(b *HistoryBackend) int64 {
		return b.CreateDownload(row)
	})
}

// SearchDownloads returns handles of downloads whose URL or path contains |text|.
func (s *Service) SearchDownloads(origin dispatch.Poster, text string,
	cb func([]int64)) *dispatch.Request[[]int64] {
	return schedule(s, origin, cb, func(b *HistoryBackend) []int64 {
		return b.SearchDownloads(text)
	})
}

// ExpireHistoryBetween runs HistoryBackend.ExpireHistoryBetween.
func (s *Service) ExpireHistoryBetween(origin dispatch.Poster, begin, end time.Time,
	cb func(expire.Result)) *dispatch.Request[expire.Result] {
	return schedule(s, origin, cb, func(b *HistoryBackend) expire.Result {
		return b.ExpireHistoryBetween(begin, end)
	})
}

// QuerySegmentUsage returns the |max| most used segments visited since |from|.
func (s *Service) QuerySegmentUsage(origin dispatch.Poster, from time.Time, max int,
	cb func([]history.PageUsageData)) *dispatch.Request[[]history.PageUsageData] {
	return schedule(s, origin, cb, func(b *HistoryBackend) []history.PageUsageData {
		return b.QuerySegmentUsage(from, max)
	})
}

// GetMostRecentKeywordSearchTerms returns up to |max| terms of |keywordID|
// beginning with |prefix|.
func (s *Service) GetMostRecentKeywordSearchTerms(origin dispatch.Poster, keywordID int64, prefix string,
	max int, cb func([]history.KeywordSearchTerm)) *dispatch.Request[[]history.KeywordSearchTerm] {
	return schedule(s, origin, cb, func(b *HistoryBackend) []history.KeywordSearchTerm {
		return b.GetMostRecentKeywordSearchTerms(keywordID, prefix, max)
	})
}

// ProcessDBTask queues |task| on the backend. |cb| receives TaskDone once
// the task completes.
func (s *Service) ProcessDBTask(origin dispatch.Poster, task DBTask,
	cb func(TaskStatus)) *dispatch.Request[TaskStatus] {
	var req = dispatch.NewRequest(origin, cb)
	s.Post(func(b *HistoryBackend) { b.ProcessDBTask(task, req) })
	return req
}

// ── Mutations ──────────────────────────────────────────────

// AddPage records a navigation.
func (s *Service) AddPage(info history.PageInfo) {
	s.Post(func(b *HistoryBackend) { b.AddPage(info) })
}

// AddPagesWithDetails imports |rows|, as from another browser.
func (s *Service) AddPagesWithDetails(rows []history.URLRow) {
	s.Post(func(b *HistoryBackend) { b.AddPagesWithDetails(rows) })
}

// SetPageTitle titles |url| and the chain redirecting to it.
func (s *Service) SetPageTitle(url, title string) {
	s.Post(func(b *HistoryBackend) { b.SetPageTitle(url, title) })
}

// SetPageContents indexes the text of |url|.
func (s *Service) SetPageContents(url, contents string) {
	s.Post(func(b *HistoryBackend) { b.SetPageContents(url, contents) })
}

// SetPageThumbnail stores |data| as the thumbnail of |url|.
func (s *Service) SetPageThumbnail(url string, data []byte) {
	s.Post(func(b *HistoryBackend) { b.SetPageThumbnail(url, data) })
}

// SetFavIcon stores |data| as icon |iconURL| and maps |pageURL| to it.
func (s *Service) SetFavIcon(pageURL, iconURL string, data []byte) {
	s.Post(func(b *HistoryBackend) { b.SetFavIcon(pageURL, iconURL, data) })
}

// SetFavIconOutOfDateForPage marks the favicon of |pageURL| for refetch.
func (s *Service) SetFavIconOutOfDateForPage(pageURL string) {
	s.Post(func(b *HistoryBackend) { b.SetFavIconOutOfDateForPage(pageURL) })
}

// SetImportedFavicons stores imported favicons, mapping them to their pages.
func (s *Service) SetImportedFavicons(usages []history.FavIconUsage) {
	s.Post(func(b *HistoryBackend) { b.SetImportedFavicons(usages) })
}

// UpdateDownload records progress of download |handle|.
func (s *Service) UpdateDownload(handle, receivedBytes int64, state history.DownloadState) {
	s.Post(func(b *HistoryBackend) { b.UpdateDownload(handle, receivedBytes, state) })
}

// UpdateDownloadPath sets the target path of download |handle|.
func (s *Service) UpdateDownloadPath(handle int64, path string) {
	s.Post(func(b *HistoryBackend) { b.UpdateDownloadPath(handle, path) })
}

// RemoveDownload deletes download |handle|.
func (s *Service) RemoveDownload(handle int64) {
	s.Post(func(b *HistoryBackend) { b.RemoveDownload(handle) })
}

// RemoveDownloadsBetween deletes finished downloads started in [begin, end).
func (s *Service) RemoveDownloadsBetween(begin, end time.Time) {
	s.Post(func(b *HistoryBackend) { b.RemoveDownloadsBetween(begin, end) })
}

// DeleteURL deletes |url| and all of its visits.
func (s *Service) DeleteURL(url string) {
	s.Post(func(b *HistoryBackend) { b.DeleteURL(url) })
}

// URLsNoLongerBookmarked deletes those of |urls| kept only for a bookmark.
func (s *Service) URLsNoLongerBookmarked(urls []string) {
	s.Post(func(b *HistoryBackend) { b.URLsNoLongerBookmarked(urls) })
}

// SetSegmentPresentationIndex sets the display slot of segment |id|.
func (s *Service) SetSegmentPresentationIndex(id history.SegmentID, index int) {
	s.Post(func(b *HistoryBackend) { b.SetSegmentPresentationIndex(id, index) })
}

// DeleteOldSegmentData drops segment usage past its retention.
func (s *Service) DeleteOldSegmentData() {
	s.Post((*HistoryBackend).DeleteOldSegmentData)
}

// SetKeywordSearchTermsForURL records |term| as searched with |keywordID|
// at |url|.
func (s *Service) SetKeywordSearchTermsForURL(url string, keywordID int64, term string) {
	s.Post(func(b *HistoryBackend) { b.SetKeywordSearchTermsForURL(url, keywordID, term) })
}

// DeleteAllSearchTermsForKeyword deletes every term of |keywordID|.
func (s *Service) DeleteAllSearchTermsForKeyword(keywordID int64) {
	s.Post(func(b *HistoryBackend) { b.DeleteAllSearchTermsForKeyword(keywordID) })
}

// NotifyScopeDestroyed forgets the tracked visits of |scope|.
func (s *Service) NotifyScopeDestroyed(scope int64) {
	s.Post(func(b *HistoryBackend) { b.NotifyScopeDestroyed(scope) })
}
