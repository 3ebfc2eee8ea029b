package backend

import (
	"github.com/hashicorp/golang-lru"

	"github.com/runnerr0/chronicle/internal/history"
)

const (
	// A scope's transition list is trimmed to trackerTrimTo entries once it
	// grows beyond trackerMaxTransitions, so trimming is infrequent.
	trackerMaxTransitions = 96
	trackerTrimTo         = 64
)

// VisitTracker remembers recent visits of each navigation scope, so that
// the referrer of a new visit can be resolved to the visit it came from.
// Scopes are held in an LRU, and the least recently used scope is forgotten
// once the tracker is full.
type VisitTracker struct {
	scopes *lru.Cache // int64 => *[]trackedVisit
}

type trackedVisit struct {
	pageID  int32
	url     string
	visitID history.VisitID
}

// NewVisitTracker returns a VisitTracker holding up to |scopes| scopes.
func NewVisitTracker(scopes int) *VisitTracker {
	var cache, err = lru.New(scopes)
	if err != nil {
		panic(err.Error()) // Only errors on size <= 0.
	}
	return &VisitTracker{scopes: cache}
}

// AddVisit records that page |pageID| of |scope| visited |url| as |visitID|.
func (vt *VisitTracker) AddVisit(scope int64, pageID int32, url string, visitID history.VisitID) {
	if scope == 0 {
		return
	}
	var list *[]trackedVisit
	if v, ok := vt.scopes.Get(scope); ok {
		list = v.(*[]trackedVisit)
	} else {
		list = new([]trackedVisit)
		vt.scopes.Add(scope, list)
	}

	*list = append(*list, trackedVisit{pageID: pageID, url: url, visitID: visitID})
	if n := len(*list); n > trackerMaxTransitions {
		*list = append([]trackedVisit(nil), (*list)[n-trackerTrimTo:]...)
	}
}

// GetLastVisit returns the most recent visit of |referrer| by page |pageID|
// of |scope|, or zero. Page IDs increase over time, so visits of pages with
// greater IDs happened "in the future" (the user went back) and are skipped.
func (vt *VisitTracker) GetLastVisit(scope int64, pageID int32, referrer string) history.VisitID {
	if scope == 0 || referrer == "" {
		return 0
	}
	var v, ok = vt.scopes.Get(scope)
	if !ok {
		return 0
	}
	var list = *v.(*[]trackedVisit)

	for i := len(list) - 1; i >= 0; i-- {
		if list[i].pageID <= pageID && list[i].url == referrer {
			return list[i].visitID
		}
	}
	return 0
}

// ClearScope forgets the visits of |scope|.
func (vt *VisitTracker) ClearScope(scope int64) { vt.scopes.Remove(scope) }

// Len returns the number of tracked scopes.
func (vt *VisitTracker) Len() int { return vt.scopes.Len() }
