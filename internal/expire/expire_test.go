package expire

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

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	main     *storage.HistoryDB
	archived *storage.ArchivedDB
	thumbs   *storage.ThumbnailDB
	text     *storage.TextIndex
	rec      *notify.Recorder
	backend  *Backend
}

func newFixture(t *testing.T, sched Scheduler, bookmarked ...string) *fixture {
	t.Helper()
	var f = &fixture{rec: new(notify.Recorder)}
	var err error

	f.main, err = storage.OpenHistoryDB(":memory:", "memory")
	require.NoError(t, err)
	f.archived, err = storage.OpenArchivedDB(":memory:", "memory")
	require.NoError(t, err)
	f.thumbs, err = storage.OpenThumbnailDB(":memory:", "memory")
	require.NoError(t, err)
	f.text, err = storage.OpenTextIndex(":memory:", "memory")
	require.NoError(t, err)
	f.text.SetVisitSource(f.main)

	for _, p := range []*storage.Partition{f.main.Partition, f.archived.Partition, f.thumbs.Partition, f.text.Partition} {
		var p = p
		require.NoError(t, p.BeginTransaction())
		t.Cleanup(func() { p.Close() })
	}

	f.backend = NewBackend(f.rec, bookmarks.NewModel(bookmarked...), sched)
	f.backend.Now = func() time.Time { return now }
	f.backend.SetDatabases(f.main, f.archived, f.thumbs, f.text)
	return f
}

// addVisit records a visit of |url|, counting it the way pages are counted
// when they're added.
func (f *fixture) addVisit(t *testing.T, url string, at time.Time, tr history.PageTransition) (history.URLRow, history.VisitRow) {
	t.Helper()

	row, err := f.main.GetRowForURL(url)
	if err == storage.ErrNotFound {
		row = history.URLRow{URL: url, Title: "title of " + url}
		row.ID, err = f.main.AddURL(row)
	}
	require.NoError(t, err)

	if tr.Core() != history.Reload {
		row.VisitCount++
	}
	if tr.CountsAsTyped() {
		row.TypedCount++
	}
	if at.After(row.LastVisit) {
		row.LastVisit = at
	}
	require.NoError(t, f.main.UpdateURLRow(row.ID, row))

	var v = history.VisitRow{URLID: row.ID, VisitTime: at, Transition: tr}
	_, err = f.main.AddVisit(&v)
	require.NoError(t, err)
	return row, v
}

func TestShouldArchiveVisit(t *testing.T) {
	tests := []struct {
		tr      history.PageTransition
		archive bool
	}{
		{history.Typed, true},
		{history.Typed | history.ServerRedirect, true},
		{history.AutoBookmark, true},
		{history.StartPage, true},
		{history.Link, false},
		{history.Link | history.ChainEnd, true},
		{history.FormSubmit | history.ChainEnd, true},
		{history.Generated, false},
		{history.Generated | history.ChainEnd, true},
		{history.AutoSubframe | history.ChainEnd, false},
		{history.ManualSubframe | history.ChainEnd, false},
		{history.Reload | history.ChainEnd, false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.archive, ShouldArchiveVisit(history.VisitRow{Transition: tc.tr}), tc.tr.String())
	}
}

func TestArchive_TypedVisitMovesToArchivedPartition(t *testing.T) {
	var f = newFixture(t, nil)
	var archivedBefore = testutil.ToFloat64(visitsArchivedTotal)

	f.addVisit(t, "http://a.com/", now.Add(-91*day), history.Typed|history.ChainStart|history.ChainEnd)
	f.addVisit(t, "http://recent.com/", now.Add(-day), history.Typed|history.ChainStart|history.ChainEnd)

	assert.False(t, f.backend.ArchiveSomeOldHistory(now.Add(-90*day), 10))

	_, err := f.main.GetRowForURL("http://a.com/")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = f.main.GetRowForURL("http://recent.com/")
	assert.NoError(t, err)

	row, err := f.archived.GetRowForURL("http://a.com/")
	require.NoError(t, err)
	assert.Equal(t, 1, row.VisitCount)
	assert.Equal(t, 1, row.TypedCount)
	assert.True(t, now.Add(-91*day).Equal(row.LastVisit))

	visits, err := f.archived.GetVisitsForURL(row.ID)
	require.NoError(t, err)
	require.Len(t, visits, 1)
	assert.True(t, now.Add(-91*day).Equal(visits[0].VisitTime))

	assert.Empty(t, f.rec.OfType(history.URLsDeleted), "archiving isn't a deletion")
	assert.Equal(t, float64(1), testutil.ToFloat64(visitsArchivedTotal)-archivedBefore)
}

func TestArchive_ThresholdIsInclusive(t *testing.T) {
	var f = newFixture(t, nil)
	var cutoff = now.Add(-90 * day)

	f.addVisit(t, "http://at.com/", cutoff, history.Typed)
	f.addVisit(t, "http://after.com/", cutoff.Add(time.Microsecond), history.Typed)

	f.backend.ArchiveSomeOldHistory(cutoff, 10)

	_, err := f.archived.GetRowForURL("http://at.com/")
	assert.NoError(t, err)
	_, err = f.main.GetRowForURL("http://after.com/")
	assert.NoError(t, err)
}

func TestArchive_ReferrersAreNotCarried(t *testing.T) {
	var f = newFixture(t, nil)

	_, from := f.addVisit(t, "http://a.com/", now.Add(-95*day), history.Typed|history.ChainStart|history.ChainEnd)
	row, err := f.main.GetRowForURL("http://a.com/")
	require.NoError(t, err)
	var v = history.VisitRow{URLID: row.ID, VisitTime: now.Add(-94 * day),
		ReferringVisit: from.ID, Transition: history.Link | history.ChainStart | history.ChainEnd}
	_, err = f.main.AddVisit(&v)
	require.NoError(t, err)

	f.backend.ArchiveSomeOldHistory(now.Add(-90*day), 10)

	archived, err := f.archived.GetRowForURL("http://a.com/")
	require.NoError(t, err)
	visits, err := f.archived.GetVisitsForURL(archived.ID)
	require.NoError(t, err)
	require.Len(t, visits, 2)
	for _, v := range visits {
		assert.Equal(t, history.VisitID(0), v.ReferringVisit)
	}
}

func TestArchive_DisposableVisitIsDeleted(t *testing.T) {
	var f = newFixture(t, nil)

	f.addVisit(t, "http://hop.com/", now.Add(-91*day), history.Link|history.ChainStart)

	f.backend.ArchiveSomeOldHistory(now.Add(-90*day), 10)

	_, err := f.main.GetRowForURL("http://hop.com/")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = f.archived.GetRowForURL("http://hop.com/")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	var deleted = f.rec.OfType(history.URLsDeleted)
	require.Len(t, deleted, 1)
	assert.Equal(t, []string{"http://hop.com/"}, deleted[0].Details.(history.URLsDeletedDetails).URLs)
}

func TestArchive_BookmarkedURLStaysInMain(t *testing.T) {
	var f = newFixture(t, nil, "http://pinned.com/")

	f.addVisit(t, "http://pinned.com/", now.Add(-92*day), history.Link)
	f.addVisit(t, "http://pinned.com/", now.Add(-91*day), history.Typed|history.ChainEnd)

	f.backend.ArchiveSomeOldHistory(now.Add(-90*day), 10)

	row, err := f.main.GetRowForURL("http://pinned.com/")
	require.NoError(t, err)
	assert.Equal(t, 0, row.VisitCount)
	assert.Equal(t, 0, row.TypedCount)
	assert.True(t, row.LastVisit.IsZero())

	// Its archivable visit was archived regardless.
	archived, err := f.archived.GetRowForURL("http://pinned.com/")
	require.NoError(t, err)
	visits, err := f.archived.GetVisitsForURL(archived.ID)
	require.NoError(t, err)
	assert.Len(t, visits, 1)
}

func TestArchive_ReArchivalUpdatesRow(t *testing.T) {
	var f = newFixture(t, nil)

	f.addVisit(t, "http://a.com/", now.Add(-100*day), history.Typed)
	f.backend.ArchiveSomeOldHistory(now.Add(-90*day), 10)

	// The URL comes back to the main partition, and ages out again.
	f.addVisit(t, "http://a.com/", now.Add(-95*day), history.Typed)
	f.backend.ArchiveSomeOldHistory(now.Add(-90*day), 10)

	n, err := f.archived.CountURLs()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	row, err := f.archived.GetRowForURL("http://a.com/")
	require.NoError(t, err)
	assert.True(t, now.Add(-95*day).Equal(row.LastVisit))
	assert.Equal(t, 1, row.VisitCount, "archived counts aren't merged")

	visits, err := f.archived.GetVisitsForURL(row.ID)
	require.NoError(t, err)
	assert.Len(t, visits, 2)
}

func TestArchive_ReportsMoreWork(t *testing.T) {
	var f = newFixture(t, nil)
	for i := 0; i != 3; i++ {
		f.addVisit(t, "http://a.com/", now.Add(-100*day+time.Duration(i)*time.Hour), history.Typed)
	}

	assert.True(t, f.backend.ArchiveSomeOldHistory(now.Add(-90*day), 2))
	assert.False(t, f.backend.ArchiveSomeOldHistory(now.Add(-90*day), 2))

	n, err := f.main.CountVisits()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestArchive_WithoutArchivedPartition(t *testing.T) {
	var f = newFixture(t, nil)
	f.backend.SetDatabases(f.main, nil, f.thumbs, f.text)

	f.addVisit(t, "http://a.com/", now.Add(-100*day), history.Typed)
	assert.False(t, f.backend.ArchiveSomeOldHistory(now.Add(-90*day), 10))

	_, err := f.main.GetRowForURL("http://a.com/")
	assert.NoError(t, err, "nothing is archived or deleted")

	archive, remove, err := f.backend.CountOldHistory(now.Add(-90 * day))
	require.NoError(t, err)
	assert.Zero(t, archive)
	assert.Zero(t, remove)
}

func TestArchiveHistoryBefore(t *testing.T) {
	var f = newFixture(t, nil)
	f.addVisit(t, "http://a.com/", now.Add(-10*day), history.Typed)
	f.addVisit(t, "http://b.com/", now.Add(-9*day), history.Link)
	f.addVisit(t, "http://c.com/", now.Add(-day), history.Link)

	archive, remove, err := f.backend.CountOldHistory(now.Add(-5 * day))
	require.NoError(t, err)
	assert.Equal(t, 1, archive)
	assert.Equal(t, 1, remove)

	var r = f.backend.ArchiveHistoryBefore(now.Add(-5 * day))
	assert.Equal(t, Result{VisitsArchived: 1, VisitsDeleted: 1, URLsDeleted: 2}, r)

	n, err := f.main.CountURLs()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestExpireHistoryBetween_CountConservation(t *testing.T) {
	var f = newFixture(t, nil)

	f.addVisit(t, "http://a.com/", now.Add(-10*day), history.Typed)
	f.addVisit(t, "http://a.com/", now.Add(-5*day), history.Typed)
	f.addVisit(t, "http://a.com/", now.Add(-3*day), history.Reload)
	f.addVisit(t, "http://a.com/", now.Add(-day), history.Link|history.ChainEnd)

	row, err := f.main.GetRowForURL("http://a.com/")
	require.NoError(t, err)
	require.Equal(t, 3, row.VisitCount)
	require.Equal(t, 2, row.TypedCount)

	var r = f.backend.ExpireHistoryBetween(now.Add(-6*day), now.Add(-2*day))
	assert.Equal(t, Result{VisitsDeleted: 2}, r)

	row, err = f.main.GetRowForURL("http://a.com/")
	require.NoError(t, err)
	assert.Equal(t, 2, row.VisitCount, "the reload wasn't counted")
	assert.Equal(t, 1, row.TypedCount)
	assert.True(t, now.Add(-day).Equal(row.LastVisit))
	assert.Empty(t, f.rec.OfType(history.URLsDeleted))
}

func TestExpireHistoryBetween_CountsAreClamped(t *testing.T) {
	var f = newFixture(t, nil)

	row, _ := f.addVisit(t, "http://a.com/", now.Add(-2*day), history.Typed)
	f.addVisit(t, "http://a.com/", now.Add(-day), history.Typed)

	// Simulate an inconsistent row.
	row, err := f.main.GetURLRow(row.ID)
	require.NoError(t, err)
	row.VisitCount, row.TypedCount = 0, 0
	require.NoError(t, f.main.UpdateURLRow(row.ID, row))

	f.backend.ExpireHistoryBetween(now.Add(-3*day), now.Add(-36*time.Hour))

	row, err = f.main.GetURLRow(row.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, row.VisitCount)
	assert.Equal(t, 0, row.TypedCount)
}

func TestExpireHistoryBetween_BookmarkedSurvives(t *testing.T) {
	var f = newFixture(t, nil, "http://a.com/")

	f.addVisit(t, "http://a.com/", now.Add(-time.Hour), history.Typed|history.ChainStart|history.ChainEnd)
	f.addVisit(t, "http://b.com/", now.Add(-time.Hour), history.Typed|history.ChainStart|history.ChainEnd)

	var r = f.backend.ExpireHistoryBetween(time.Time{}, now)
	assert.Equal(t, Result{VisitsDeleted: 2, URLsDeleted: 1}, r)

	row, err := f.main.GetRowForURL("http://a.com/")
	require.NoError(t, err)
	assert.Equal(t, 0, row.VisitCount)
	assert.True(t, row.LastVisit.IsZero())

	visits, err := f.main.GetVisitsForURL(row.ID)
	require.NoError(t, err)
	assert.Empty(t, visits)

	_, err = f.main.GetRowForURL("http://b.com/")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	var deleted = f.rec.OfType(history.URLsDeleted)
	require.Len(t, deleted, 1)
	assert.Equal(t, []string{"http://b.com/"}, deleted[0].Details.(history.URLsDeletedDetails).URLs)
}

func TestExpireHistoryBetween_RemovesRelatedData(t *testing.T) {
	var f = newFixture(t, nil)

	row, v := f.addVisit(t, "http://a.com/", now.Add(-time.Hour), history.Typed|history.ChainEnd)
	require.NoError(t, f.text.AddPageData(row.URL, row.ID, v.ID, v.VisitTime, "aardvark", "facts"))
	_, err := f.main.CreateSegment(row.ID, storage.ComputeSegmentName(row.URL))
	require.NoError(t, err)
	require.NoError(t, f.thumbs.SetPageThumbnail(row.ID, []byte("jpeg"), now))
	f.text.AddPageURL("http://a.com/", row.ID, v.ID, v.VisitTime)

	f.backend.ExpireHistoryBetween(time.Time{}, time.Time{})

	matches, err := f.text.GetTextMatches("aardvark", history.QueryOptions{})
	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.Equal(t, 0, f.text.PendingCount())

	_, err = f.main.GetSegmentNamed("http://a.com/")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = f.thumbs.GetPageThumbnail(row.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeleteURL_CollectsOrphanedFavicons(t *testing.T) {
	var f = newFixture(t, nil)

	icon, err := f.thumbs.AddFavIcon("http://a.com/favicon.ico")
	require.NoError(t, err)

	for _, u := range []string{"http://a.com/", "http://a.com/other"} {
		row, _ := f.addVisit(t, u, now.Add(-time.Hour), history.Typed)
		row, err = f.main.GetURLRow(row.ID)
		require.NoError(t, err)
		row.FavIconID = icon
		require.NoError(t, f.main.UpdateURLRow(row.ID, row))
	}

	f.backend.DeleteURL("http://a.com/")
	_, err = f.main.GetRowForURL("http://a.com/")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, _, _, err = f.thumbs.GetFavIcon(icon)
	assert.NoError(t, err, "still used by another URL")

	f.backend.DeleteURL("http://a.com/other")
	_, _, _, err = f.thumbs.GetFavIcon(icon)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.Len(t, f.rec.OfType(history.URLsDeleted), 2)

	// Unknown URLs are ignored.
	f.backend.DeleteURL("http://unknown.com/")
	assert.Len(t, f.rec.OfType(history.URLsDeleted), 2)
}

func TestDeleteURL_Bookmarked(t *testing.T) {
	var f = newFixture(t, nil, "http://a.com/")

	icon, err := f.thumbs.AddFavIcon("http://a.com/favicon.ico")
	require.NoError(t, err)
	row, _ := f.addVisit(t, "http://a.com/", now.Add(-time.Hour), history.Typed)
	row, err = f.main.GetURLRow(row.ID)
	require.NoError(t, err)
	row.FavIconID = icon
	require.NoError(t, f.main.UpdateURLRow(row.ID, row))

	f.backend.DeleteURL("http://a.com/")

	row, err = f.main.GetRowForURL("http://a.com/")
	require.NoError(t, err)
	assert.Equal(t, 0, row.VisitCount)
	assert.Equal(t, 0, row.TypedCount)
	visits, err := f.main.GetVisitsForURL(row.ID)
	require.NoError(t, err)
	assert.Empty(t, visits)

	_, _, _, err = f.thumbs.GetFavIcon(icon)
	assert.NoError(t, err)
	assert.Empty(t, f.rec.OfType(history.URLsDeleted))
}

func TestBackend_WithoutDatabasesIsNoOp(t *testing.T) {
	var b = NewBackend(nil, nil, nil)

	b.DeleteURL("http://a.com/")
	assert.Equal(t, Result{}, b.ExpireHistoryBetween(time.Time{}, time.Time{}))
	assert.False(t, b.ArchiveSomeOldHistory(now, 10))
	b.StartArchivingOldStuff(DefaultThreshold)
	assert.False(t, b.Sweeping())
}

func TestSweep_ReschedulesUntilStopped(t *testing.T) {
	var clock = dispatch.NewManualClock(now)
	var loop = dispatch.NewLoop(clock)
	var f = newFixture(t, loop)
	f.backend.Now = clock.Now
	f.backend.BatchSize = 2

	for _, u := range []string{"http://a.com/", "http://b.com/", "http://c.com/"} {
		f.addVisit(t, u, now.Add(-100*day), history.Typed)
	}
	var iterationsBefore = testutil.ToFloat64(sweepIterationsTotal)

	f.backend.StartArchivingOldStuff(90 * day)
	assert.True(t, f.backend.Sweeping())

	clock.Advance(DefaultSweepDelay - time.Second)
	assert.Equal(t, 0, loop.RunPending())
	clock.Advance(time.Second)
	assert.Equal(t, 1, loop.RunPending())

	n, err := f.main.CountVisits()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "a full batch was archived")

	// A full batch reschedules after the short delay.
	clock.Advance(DefaultSweepDelay)
	assert.Equal(t, 1, loop.RunPending())
	n, err = f.main.CountVisits()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	// A partial batch reschedules after the idle delay.
	clock.Advance(DefaultSweepDelay)
	assert.Equal(t, 0, loop.RunPending())
	clock.Advance(DefaultIdleDelay - DefaultSweepDelay)
	assert.Equal(t, 1, loop.RunPending())
	assert.Equal(t, float64(3), testutil.ToFloat64(sweepIterationsTotal)-iterationsBefore)

	f.backend.StopArchivingOldStuff()
	assert.False(t, f.backend.Sweeping())
	clock.Advance(time.Hour)
	assert.Equal(t, 0, loop.RunPending())
	assert.Equal(t, 0, clock.Pending())
}

func TestSweep_StopRevokesQueuedIteration(t *testing.T) {
	var clock = dispatch.NewManualClock(now)
	var loop = dispatch.NewLoop(clock)
	var f = newFixture(t, loop)
	f.backend.Now = clock.Now

	f.addVisit(t, "http://a.com/", now.Add(-100*day), history.Typed)
	f.backend.StartArchivingOldStuff(90 * day)

	// The timer fires and queues the iteration, but the backend stops first.
	clock.Advance(DefaultSweepDelay)
	f.backend.StopArchivingOldStuff()
	loop.RunPending()

	n, err := f.main.CountVisits()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
