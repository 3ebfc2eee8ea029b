package storage

import (
	"fmt"

	"github.com/runnerr0/chronicle/internal/history"
)

// HistoryDB is the main partition: recent URLs and visits, plus the
// segment, keyword search term and download tables.
type HistoryDB struct {
	*VisitDatabase
}

// OpenHistoryDB opens (creating if needed) the main partition at |path|.
func OpenHistoryDB(path, journalMode string) (*HistoryDB, error) {
	p, err := OpenPartition("history", path, journalMode, MainMigrations)
	if err != nil {
		return nil, err
	}
	vd, err := newVisitDatabase(p)
	if err != nil {
		p.Close()
		return nil, err
	}
	return &HistoryDB{VisitDatabase: vd}, nil
}

// DeleteURLRow deletes row |id| and its keyword search terms.
func (d *HistoryDB) DeleteURLRow(id history.URLID) error {
	if err := d.DeleteKeywordSearchTermForURL(id); err != nil {
		return err
	}
	return d.VisitDatabase.DeleteURLRow(id)
}

// RecreateAllTablesButURL drops and recreates every table of visit-derived
// data. The urls and downloads tables are left alone.
func (d *HistoryDB) RecreateAllTablesButURL() error {
	var stmts = []string{
		"DROP TABLE IF EXISTS visits",
		"DROP TABLE IF EXISTS segments",
		"DROP TABLE IF EXISTS segment_usage",
		"DROP TABLE IF EXISTS keyword_search_terms",
	}
	for _, group := range [][]string{visitsTable, visitsIndexes, segmentsTable, segmentUsageTable, keywordTermsTable} {
		stmts = append(stmts, group...)
	}
	if err := execStmts(d.q(), stmts); err != nil {
		return fmt.Errorf("recreate tables: %w", err)
	}
	return nil
}

// ArchivedDB is the archived partition: URLs and visits older than the
// archive threshold, with a reduced schema.
type ArchivedDB struct {
	*VisitDatabase
}

// OpenArchivedDB opens (creating if needed) the archived partition at |path|.
func OpenArchivedDB(path, journalMode string) (*ArchivedDB, error) {
	p, err := OpenPartition("archived", path, journalMode, ArchivedMigrations)
	if err != nil {
		return nil, err
	}
	vd, err := newVisitDatabase(p)
	if err != nil {
		p.Close()
		return nil, err
	}
	return &ArchivedDB{VisitDatabase: vd}, nil
}
