package history

import "time"

// URLID identifies a row of the urls table. IDs are assigned by the
// partition on insert and are only meaningful within that partition.
type URLID int64

// VisitID identifies a row of the visits table.
type VisitID int64

// SegmentID identifies a most-visited segment. Zero means "no segment".
type SegmentID int64

// FavIconID identifies a favicon in the thumbnail partition.
type FavIconID int64

// URLRow represents one unique URL known to a partition.
type URLRow struct {
	ID         URLID
	URL        string
	Title      string
	VisitCount int
	TypedCount int
	LastVisit  time.Time // Zero if the URL has no visits left.
	Hidden     bool
	FavIconID  FavIconID
}

// VisitRow represents a single navigation to a URL.
type VisitRow struct {
	ID             VisitID
	URLID          URLID
	VisitTime      time.Time
	ReferringVisit VisitID // Lookup only; zero when there is no referrer.
	Transition     PageTransition
	SegmentID      SegmentID
	IsIndexed      bool
}

// RedirectList is an ordered chain of URLs, source first and destination last.
type RedirectList []string

// PageInfo carries the arguments of AddPage.
type PageInfo struct {
	URL        string
	Referrer   string
	Transition PageTransition
	Redirects  RedirectList
	Time       time.Time
	// IDScope and PageID identify the navigation (eg, a renderer and its
	// session history entry) for referrer tracking. A zero IDScope disables
	// tracking for the page.
	IDScope int64
	PageID  int32
}

// URLResult is a URLRow annotated with the visit which matched a query.
type URLResult struct {
	URLRow
	VisitTime time.Time
	Snippet   string
}

// QueryOptions bounds a history query.
type QueryOptions struct {
	// BeginTime is inclusive; a zero value means the beginning of time.
	BeginTime time.Time
	// EndTime is exclusive; a zero value means now and beyond.
	EndTime time.Time
	// MaxCount caps the results; zero means unlimited.
	MaxCount int
	// MostRecentVisitOnly reports each URL at most once.
	MostRecentVisitOnly bool
}

// QueryResults are ordered newest first.
type QueryResults struct {
	Results          []URLResult
	ReachedBeginning bool
}

// Size returns the number of results.
func (r *QueryResults) Size() int { return len(r.Results) }

// DownloadState of a DownloadRow.
type DownloadState int

const (
	DownloadInProgress DownloadState = 0
	DownloadComplete   DownloadState = 1
	DownloadCancelled  DownloadState = 2
)

// DownloadRow is a persisted download.
type DownloadRow struct {
	Handle        int64
	FullPath      string
	URL           string
	StartTime     time.Time
	ReceivedBytes int64
	TotalBytes    int64
	State         DownloadState
}

// KeywordSearchTerm is a search term recorded for a keyword (search engine).
type KeywordSearchTerm struct {
	Term      string
	LastVisit time.Time
}

// PageUsageData is a scored most-visited segment.
type PageUsageData struct {
	SegmentID SegmentID
	URL       string
	Title     string
	Score     float64
}

// FavIconUsage describes an imported favicon and the pages using it.
type FavIconUsage struct {
	FavIconURL string
	PNGData    []byte
	URLs       []string
}

// FavIconResult answers favicon queries.
type FavIconResult struct {
	KnowFavIcon bool
	Data        []byte
	Expired     bool
	IconURL     string
}
