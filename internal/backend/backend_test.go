package backend

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/chronicle/internal/bookmarks"
	"github.com/runnerr0/chronicle/internal/dispatch"
	"github.com/runnerr0/chronicle/internal/history"
	"github.com/runnerr0/chronicle/internal/notify"
	"github.com/runnerr0/chronicle/internal/storage"
)

const day = 24 * time.Hour

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	b     *HistoryBackend
	loop  *dispatch.Loop
	clock *dispatch.ManualClock
	rec   *notify.Recorder
	bm    *bookmarks.Model
}

func newFixture(t *testing.T, configure func(*Options), bookmarked ...string) *fixture {
	t.Helper()
	var f = &fixture{
		clock: dispatch.NewManualClock(epoch),
		rec:   new(notify.Recorder),
		bm:    bookmarks.NewModel(bookmarked...),
	}
	f.loop = dispatch.NewLoop(f.clock)

	var opts = DefaultOptions(InMemory)
	if configure != nil {
		configure(&opts)
	}
	f.b = NewHistoryBackend(opts, f.loop, f.rec, f.bm)
	require.NoError(t, f.b.Init())
	t.Cleanup(f.b.Close)
	return f
}

// visit records a main frame navigation of |url| at |at|.
func (f *fixture) visit(url string, tr history.PageTransition, at time.Time) {
	f.b.AddPage(history.PageInfo{URL: url, Transition: tr, Time: at})
}

func (f *fixture) row(t *testing.T, url string) history.URLRow {
	t.Helper()
	row, err := f.b.HistoryDB().GetRowForURL(url)
	require.NoError(t, err, url)
	return row
}

func (f *fixture) visits(t *testing.T, url string) []history.VisitRow {
	t.Helper()
	visits, err := f.b.HistoryDB().GetVisitsForURL(f.row(t, url).ID)
	require.NoError(t, err)
	return visits
}

func TestAddPage_SimpleVisit(t *testing.T) {
	var f = newFixture(t, nil)
	f.visit("http://a.com/", history.Typed, epoch)

	var row = f.row(t, "http://a.com/")
	assert.Equal(t, 1, row.VisitCount)
	assert.Equal(t, 1, row.TypedCount)
	assert.False(t, row.Hidden)
	assert.True(t, row.LastVisit.Equal(epoch))

	var visits = f.visits(t, "http://a.com/")
	require.Len(t, visits, 1)
	assert.Equal(t, history.Typed|history.ChainStart|history.ChainEnd, visits[0].Transition)
	assert.Equal(t, history.VisitID(0), visits[0].ReferringVisit)

	var visited = f.rec.OfType(history.URLVisited)
	require.Len(t, visited, 1)
	assert.Equal(t, "http://a.com/", visited[0].Details.(history.URLVisitedDetails).Row.URL)
}

func TestAddPage_IgnoresUnrecordableURLs(t *testing.T) {
	var f = newFixture(t, func(o *Options) { o.Denylist = []string{"ads.example"} })

	f.visit("about:blank", history.Link, epoch)
	f.visit("javascript:void(0)", history.Link, epoch)
	f.visit("http://x.ads.example/track", history.Link, epoch)
	f.visit("http://ads.example/", history.Link, epoch)
	f.visit("http://notads.example/", history.Link, epoch)

	n, err := f.b.HistoryDB().CountURLs()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	f.row(t, "http://notads.example/")
}

func TestAddPage_TimestampsStrictlyIncrease(t *testing.T) {
	var f = newFixture(t, nil)
	for i := 0; i != 5; i++ {
		f.visit("http://a.com/", history.Link, epoch)
	}
	var visits = f.visits(t, "http://a.com/")
	require.Len(t, visits, 5)

	for i := 1; i != len(visits); i++ {
		assert.True(t, visits[i].VisitTime.After(visits[i-1].VisitTime),
			"visit %d at %v, previous at %v", i, visits[i].VisitTime, visits[i-1].VisitTime)
	}
	assert.True(t, visits[4].VisitTime.Equal(epoch.Add(4*time.Microsecond)))

	// A different requested time is adopted directly, even if it's earlier.
	f.visit("http://a.com/", history.Link, epoch.Add(-time.Hour))
	visits = f.visits(t, "http://a.com/")
	assert.True(t, visits[0].VisitTime.Equal(epoch.Add(-time.Hour)))
	assert.True(t, f.b.FirstRecordedTime().Equal(epoch.Add(-time.Hour)))
}

func TestAddPage_RedirectChain(t *testing.T) {
	var f = newFixture(t, nil)
	f.b.AddPage(history.PageInfo{
		URL:        "http://c.com/",
		Transition: history.Typed,
		Redirects:  history.RedirectList{"http://a.com/", "http://b.com/", "http://c.com/"},
		Time:       epoch,
	})

	var a, b, c = f.visits(t, "http://a.com/"), f.visits(t, "http://b.com/"), f.visits(t, "http://c.com/")
	require.Len(t, a, 1)
	require.Len(t, b, 1)
	require.Len(t, c, 1)

	assert.Equal(t, history.Typed|history.ChainStart, a[0].Transition)
	assert.Equal(t, history.Typed|history.ServerRedirect, b[0].Transition)
	assert.Equal(t, history.Typed|history.ServerRedirect|history.ChainEnd, c[0].Transition)

	// Hops share the time, and refer to the previous hop.
	for _, v := range []history.VisitRow{a[0], b[0], c[0]} {
		assert.True(t, v.VisitTime.Equal(epoch))
	}
	assert.Equal(t, a[0].ID, b[0].ReferringVisit)
	assert.Equal(t, b[0].ID, c[0].ReferringVisit)

	// Only the source counts as typed.
	assert.Equal(t, 1, f.row(t, "http://a.com/").TypedCount)
	assert.Equal(t, 0, f.row(t, "http://c.com/").TypedCount)

	redirects, ok := f.b.QueryRedirectsFrom("http://a.com/")
	assert.True(t, ok)
	assert.Equal(t, history.RedirectList{"http://b.com/", "http://c.com/"}, redirects)
	assert.Equal(t, history.RedirectList{"http://a.com/", "http://b.com/", "http://c.com/"},
		f.b.recentRedirects.Chain("http://c.com/"))
}

func TestAddPage_StripsAboutSource(t *testing.T) {
	var f = newFixture(t, nil)
	f.b.AddPage(history.PageInfo{
		URL:        "http://x.com/",
		Transition: history.Link,
		Redirects:  history.RedirectList{"about:blank", "http://x.com/"},
		Time:       epoch,
	})

	var visits = f.visits(t, "http://x.com/")
	require.Len(t, visits, 1)
	assert.Equal(t, history.Link|history.ChainStart|history.ChainEnd, visits[0].Transition)

	n, err := f.b.HistoryDB().CountVisits()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestAddPage_ClientRedirectContinuesReferrer(t *testing.T) {
	var f = newFixture(t, nil)
	f.b.AddPage(history.PageInfo{
		URL: "http://r.com/", Transition: history.Link, Time: epoch, IDScope: 1, PageID: 1,
	})
	f.b.AddPage(history.PageInfo{
		URL:        "http://d.com/",
		Referrer:   "http://r.com/",
		Transition: history.Link | history.ClientRedirect,
		Redirects:  history.RedirectList{"http://r.com/", "http://d.com/"},
		Time:       epoch.Add(time.Second),
		IDScope:    1,
		PageID:     1,
	})

	var r, d = f.visits(t, "http://r.com/"), f.visits(t, "http://d.com/")
	require.Len(t, r, 1)
	require.Len(t, d, 1)

	// The referrer's visit no longer ends the chain, which ends at d.
	assert.Equal(t, history.Link|history.ChainStart, r[0].Transition)
	assert.Equal(t, history.Link|history.ClientRedirect|history.ChainStart|history.ChainEnd, d[0].Transition)
	assert.Equal(t, r[0].ID, d[0].ReferringVisit)
	assert.Equal(t, 1, f.row(t, "http://r.com/").VisitCount)
}

func TestAddPage_ClientRedirectWithoutReferrer(t *testing.T) {
	var f = newFixture(t, nil)
	f.b.AddPage(history.PageInfo{
		URL:        "http://d.com/",
		Transition: history.Link | history.ClientRedirect,
		Redirects:  history.RedirectList{"http://r.com/", "http://d.com/"},
		Time:       epoch,
	})

	n, err := f.b.HistoryDB().CountVisits()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// The chain's source is dropped without being recorded.
	_, err = f.b.HistoryDB().GetRowForURL("http://r.com/")
	assert.Equal(t, storage.ErrNotFound, err)

	var d = f.visits(t, "http://d.com/")
	require.Len(t, d, 1)
	assert.Equal(t, history.Link|history.ClientRedirect|history.ChainStart|history.ChainEnd, d[0].Transition)
	assert.Equal(t, history.VisitID(0), d[0].ReferringVisit)
}

func TestAddPage_ReferrerTracking(t *testing.T) {
	var f = newFixture(t, nil)
	f.b.AddPage(history.PageInfo{URL: "http://a.com/", Transition: history.Typed, Time: epoch, IDScope: 7, PageID: 1})
	f.b.AddPage(history.PageInfo{URL: "http://b.com/", Referrer: "http://a.com/",
		Transition: history.Link, Time: epoch.Add(time.Second), IDScope: 7, PageID: 2})

	var a, b = f.visits(t, "http://a.com/"), f.visits(t, "http://b.com/")
	assert.Equal(t, a[0].ID, b[0].ReferringVisit)

	// Once the scope is gone, its visits can't be referrers.
	f.b.NotifyScopeDestroyed(7)
	f.b.AddPage(history.PageInfo{URL: "http://c.com/", Referrer: "http://a.com/",
		Transition: history.Link, Time: epoch.Add(2 * time.Second), IDScope: 7, PageID: 3})
	assert.Equal(t, history.VisitID(0), f.visits(t, "http://c.com/")[0].ReferringVisit)
}

func TestAddPage_HiddenNeverReturns(t *testing.T) {
	var f = newFixture(t, nil)

	f.visit("http://frame.com/", history.AutoSubframe, epoch)
	assert.True(t, f.row(t, "http://frame.com/").Hidden)

	f.visit("http://frame.com/", history.Link, epoch.Add(time.Second))
	assert.False(t, f.row(t, "http://frame.com/").Hidden)

	f.visit("http://frame.com/", history.ManualSubframe, epoch.Add(2*time.Second))
	assert.False(t, f.row(t, "http://frame.com/").Hidden)
}

func TestAddPage_TypedNeverExceedsVisits(t *testing.T) {
	var f = newFixture(t, nil)
	var at = epoch
	for _, tr := range []history.PageTransition{
		history.Typed, history.Reload, history.Link, history.Typed | history.ServerRedirect,
		history.Reload, history.Typed,
	} {
		at = at.Add(time.Second)
		f.visit("http://a.com/", tr, at)

		var row = f.row(t, "http://a.com/")
		assert.True(t, 0 <= row.TypedCount && row.TypedCount <= row.VisitCount,
			"typed %d, visits %d", row.TypedCount, row.VisitCount)
	}
	var row = f.row(t, "http://a.com/")
	assert.Equal(t, 4, row.VisitCount)
	assert.Equal(t, 2, row.TypedCount)
	assert.True(t, row.LastVisit.Equal(at))
}

func TestUpdateSegments(t *testing.T) {
	var f = newFixture(t, nil)
	f.b.AddPage(history.PageInfo{URL: "http://www.seg.com/start", Transition: history.Typed,
		Time: epoch, IDScope: 1, PageID: 1})
	f.b.AddPage(history.PageInfo{URL: "http://other.com/next", Referrer: "http://www.seg.com/start",
		Transition: history.Link, Time: epoch.Add(time.Second), IDScope: 1, PageID: 2})
	f.visit("http://orphan.com/", history.Link, epoch.Add(2*time.Second))
	f.visit("http://www.seg.com/frame", history.AutoSubframe, epoch.Add(3*time.Second))

	var start = f.visits(t, "http://www.seg.com/start")[0]
	require.NotZero(t, start.SegmentID)

	// Link navigations inherit the segment of their referrer chain.
	assert.Equal(t, start.SegmentID, f.visits(t, "http://other.com/next")[0].SegmentID)
	assert.Zero(t, f.visits(t, "http://orphan.com/")[0].SegmentID)
	assert.Zero(t, f.visits(t, "http://www.seg.com/frame")[0].SegmentID)

	// A typed navigation to the same segment reuses it.
	f.visit("http://seg.com/start", history.Typed, epoch.Add(4*time.Second))
	assert.Equal(t, start.SegmentID, f.visits(t, "http://seg.com/start")[0].SegmentID)

	var usage = f.b.QuerySegmentUsage(epoch.Add(-day), 10)
	require.Len(t, usage, 1)
	assert.Equal(t, start.SegmentID, usage[0].SegmentID)
	assert.Equal(t, "http://seg.com/start", usage[0].URL)
}

func TestAddPagesWithDetails(t *testing.T) {
	var f = newFixture(t, nil)
	f.b.AddPagesWithDetails([]history.URLRow{
		{URL: "http://recent.com/", Title: "Recent", VisitCount: 3, TypedCount: 2, LastVisit: epoch.Add(-day)},
		{URL: "http://old.com/", Title: "Old", VisitCount: 1, LastVisit: epoch.Add(-100 * day)},
		{URL: "about:blank", VisitCount: 1, LastVisit: epoch},
	})

	var recent = f.row(t, "http://recent.com/")
	assert.Equal(t, 3, recent.VisitCount)
	assert.Equal(t, 2, recent.TypedCount)
	var visits = f.visits(t, "http://recent.com/")
	require.Len(t, visits, 1)
	assert.Equal(t, history.Link|history.ChainStart|history.ChainEnd, visits[0].Transition)

	var res = f.b.QueryURL("http://old.com/", true)
	require.True(t, res.Success)
	assert.True(t, res.Archived)
	assert.Len(t, res.Visits, 1)
	assert.True(t, f.b.FirstRecordedTime().Equal(epoch.Add(-100*day)))

	var modified = f.rec.OfType(history.TypedURLsModified)
	require.Len(t, modified, 1)
	var changed = modified[0].Details.(history.URLsModifiedDetails).ChangedURLs
	require.Len(t, changed, 1)
	assert.Equal(t, "http://recent.com/", changed[0].URL)

	// Titles are indexed.
	var found = f.b.QueryHistory("recent", history.QueryOptions{})
	require.Len(t, found.Results, 1)
	assert.Equal(t, "http://recent.com/", found.Results[0].URL)
}

func TestSetPageTitle_AppliesAcrossRedirects(t *testing.T) {
	var f = newFixture(t, nil)
	f.b.AddPage(history.PageInfo{
		URL:        "http://b.com/",
		Transition: history.Link,
		Redirects:  history.RedirectList{"http://a.com/", "http://b.com/"},
		Time:       epoch,
	})
	f.rec.Reset()
	f.b.SetPageTitle("http://b.com/", "Bee")

	assert.Equal(t, "Bee", f.row(t, "http://a.com/").Title)
	assert.Equal(t, "Bee", f.row(t, "http://b.com/").Title)
	assert.Len(t, f.rec.OfType(history.TypedURLsModified), 1)

	// An unchanged title isn't broadcast.
	f.b.SetPageTitle("http://b.com/", "Bee")
	assert.Len(t, f.rec.OfType(history.TypedURLsModified), 1)
}

func TestCommit_IsDebounced(t *testing.T) {
	var f = newFixture(t, nil)
	var commits = testutil.ToFloat64(commitsTotal)

	for i := 0; i != 10; i++ {
		f.visit("http://a.com/", history.Link, f.clock.Now())
		f.clock.Advance(100 * time.Millisecond)
	}
	assert.True(t, f.b.CommitScheduled())
	assert.Equal(t, commits, testutil.ToFloat64(commitsTotal))

	f.clock.Advance(10 * time.Second)
	f.loop.RunPending()

	assert.Equal(t, commits+1, testutil.ToFloat64(commitsTotal))
	assert.False(t, f.b.CommitScheduled())
	assert.Equal(t, 1, f.b.HistoryDB().TransactionNesting())

	// Nothing further happens without further mutations.
	f.clock.Advance(10 * time.Second)
	f.loop.RunPending()
	assert.Equal(t, commits+1, testutil.ToFloat64(commitsTotal))
}

func TestCommit_ForcedByDeletion(t *testing.T) {
	var f = newFixture(t, nil)
	f.visit("http://a.com/", history.Link, epoch)
	require.True(t, f.b.CommitScheduled())

	var forced = testutil.ToFloat64(forcedCommitsTotal)
	f.b.DeleteURL("http://a.com/")

	assert.Equal(t, forced+1, testutil.ToFloat64(forcedCommitsTotal))
	assert.False(t, f.b.CommitScheduled())
}

func TestClosing_RevokesTimers(t *testing.T) {
	var f = newFixture(t, nil)
	var commits = testutil.ToFloat64(commitsTotal)

	f.visit("http://a.com/", history.Link, epoch)
	require.True(t, f.b.Expirer().Sweeping())

	f.b.Closing()
	f.clock.Advance(time.Hour)
	f.loop.RunPending()

	assert.Equal(t, commits, testutil.ToFloat64(commitsTotal))
	assert.False(t, f.b.Expirer().Sweeping())
	assert.False(t, f.b.CommitScheduled())
}

func TestClose_PostsDestroyTask(t *testing.T) {
	var f = newFixture(t, nil)
	var destroyed int
	f.b.SetOnBackendDestroyTask(nil, func() { destroyed++ })

	f.visit("http://a.com/", history.Link, epoch)
	f.b.Close()
	f.b.Close()

	assert.Equal(t, 1, destroyed)
	assert.Nil(t, f.b.HistoryDB())

	// Operations of a closed backend are no-ops.
	f.visit("http://b.com/", history.Link, epoch)
	assert.False(t, f.b.QueryURL("http://a.com/", false).Success)
	assert.Empty(t, f.b.QueryHistory("", history.QueryOptions{}).Results)
}

func TestInit_PersistsAcrossReopen(t *testing.T) {
	var dir = t.TempDir()
	var clock = dispatch.NewManualClock(epoch)
	var loop = dispatch.NewLoop(clock)

	var b = NewHistoryBackend(DefaultOptions(dir), loop, nil, nil)
	require.NoError(t, b.Init())
	b.AddPage(history.PageInfo{URL: "http://a.com/", Transition: history.Typed, Time: epoch.Add(-day)})
	b.SetPageContents("http://a.com/", "persistent gophers")
	b.Close()

	b = NewHistoryBackend(DefaultOptions(dir), loop, nil, nil)
	require.NoError(t, b.Init())
	defer b.Close()

	var res = b.QueryURL("http://a.com/", true)
	require.True(t, res.Success)
	assert.Equal(t, 1, res.Row.TypedCount)
	assert.Len(t, res.Visits, 1)
	assert.True(t, b.FirstRecordedTime().Equal(epoch.Add(-day)))
	assert.Len(t, b.QueryHistory("gophers", history.QueryOptions{}).Results, 1)
}
