package backend

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/runnerr0/chronicle/internal/history"
)

func TestVisitTracker_Lookup(t *testing.T) {
	var vt = NewVisitTracker(4)

	vt.AddVisit(1, 1, "http://a.com/", 10)
	vt.AddVisit(1, 2, "http://b.com/", 11)
	vt.AddVisit(1, 3, "http://a.com/", 12)
	vt.AddVisit(2, 1, "http://a.com/", 20)

	// The most recent visit of the referrer is found...
	assert.Equal(t, history.VisitID(12), vt.GetLastVisit(1, 4, "http://a.com/"))
	// ...unless it's "in the future" of the page, after going back.
	assert.Equal(t, history.VisitID(10), vt.GetLastVisit(1, 2, "http://a.com/"))
	assert.Equal(t, history.VisitID(20), vt.GetLastVisit(2, 5, "http://a.com/"))

	assert.Zero(t, vt.GetLastVisit(1, 4, "http://missing.com/"))
	assert.Zero(t, vt.GetLastVisit(1, 4, ""))
	assert.Zero(t, vt.GetLastVisit(3, 4, "http://a.com/"))

	// Scope zero is never tracked.
	vt.AddVisit(0, 1, "http://z.com/", 30)
	assert.Zero(t, vt.GetLastVisit(0, 1, "http://z.com/"))

	vt.ClearScope(1)
	assert.Zero(t, vt.GetLastVisit(1, 4, "http://a.com/"))
	assert.Equal(t, 1, vt.Len())
}

func TestVisitTracker_Trims(t *testing.T) {
	var vt = NewVisitTracker(1)
	for i := 0; i != trackerMaxTransitions+1; i++ {
		vt.AddVisit(1, int32(i), fmt.Sprintf("http://p%d.com/", i), history.VisitID(i+1))
	}

	// The oldest transitions were dropped.
	var first = trackerMaxTransitions + 1 - trackerTrimTo
	assert.Zero(t, vt.GetLastVisit(1, 1000, fmt.Sprintf("http://p%d.com/", first-1)))
	assert.Equal(t, history.VisitID(first+1), vt.GetLastVisit(1, 1000, fmt.Sprintf("http://p%d.com/", first)))
	assert.Equal(t, history.VisitID(trackerMaxTransitions+1),
		vt.GetLastVisit(1, 1000, fmt.Sprintf("http://p%d.com/", trackerMaxTransitions)))
}

func TestVisitTracker_EvictsLeastRecentScope(t *testing.T) {
	var vt = NewVisitTracker(2)
	vt.AddVisit(1, 1, "http://a.com/", 1)
	vt.AddVisit(2, 1, "http://a.com/", 2)
	vt.GetLastVisit(1, 1, "http://a.com/") // Touches scope 1.
	vt.AddVisit(3, 1, "http://a.com/", 3)

	assert.Equal(t, 2, vt.Len())
	assert.Equal(t, history.VisitID(1), vt.GetLastVisit(1, 1, "http://a.com/"))
	assert.Zero(t, vt.GetLastVisit(2, 1, "http://a.com/"))
}

func TestRedirectCache(t *testing.T) {
	var rc = newRedirectCache(2)
	var chain = history.RedirectList{"http://a.com/", "http://b.com/"}
	rc.Put("http://b.com/", chain)
	chain[0] = "http://mutated.com/"

	got, ok := rc.Get("http://b.com/")
	assert.True(t, ok)
	assert.Equal(t, history.RedirectList{"http://a.com/", "http://b.com/"}, got)
	assert.Equal(t, history.RedirectList{"http://c.com/"}, rc.Chain("http://c.com/"))

	rc.Put("http://d.com/", history.RedirectList{"http://d.com/"})
	rc.Put("http://e.com/", history.RedirectList{"http://e.com/"})
	_, ok = rc.Get("http://b.com/")
	assert.False(t, ok)

	rc.Purge()
	_, ok = rc.Get("http://e.com/")
	assert.False(t, ok)
}
