package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/runnerr0/chronicle/internal/history"
)

var base = time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

// openTestHistoryDB creates an in-memory main partition with an open
// transaction, as a backend would hold it.
func openTestHistoryDB(t *testing.T) *HistoryDB {
	t.Helper()
	db, err := OpenHistoryDB(":memory:", "memory")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.BeginTransaction())
	return db
}

func openTestArchivedDB(t *testing.T) *ArchivedDB {
	t.Helper()
	db, err := OpenArchivedDB(":memory:", "memory")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.BeginTransaction())
	return db
}

func addTestURL(t *testing.T, db *HistoryDB, url string) history.URLRow {
	t.Helper()
	id, err := db.AddURL(history.URLRow{URL: url, Title: "title of " + url, VisitCount: 1})
	require.NoError(t, err)
	row, err := db.GetURLRow(id)
	require.NoError(t, err)
	return row
}

func addTestVisit(t *testing.T, db *VisitDatabase, urlID history.URLID, at time.Time,
	tr history.PageTransition, from history.VisitID) history.VisitRow {
	t.Helper()
	var v = history.VisitRow{URLID: urlID, VisitTime: at, Transition: tr, ReferringVisit: from}
	_, err := db.AddVisit(&v)
	require.NoError(t, err)
	return v
}
