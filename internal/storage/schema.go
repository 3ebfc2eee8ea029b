package storage

import (
	"database/sql"
	"fmt"
)

// Per-partition migration lists. Each partition is its own SQLite file with
// its own schema_migrations table.
var (
	MainMigrations = []migration{
		{Version: 1, Name: "urls_and_visits", Apply: execAll(urlsTable("urls"), urlsIndexes("urls"), visitsTable, visitsIndexes)},
		{Version: 2, Name: "segments", Apply: execAll(segmentsTable, segmentUsageTable)},
		{Version: 3, Name: "keyword_search_terms", Apply: execAll(keywordTermsTable)},
		{Version: 4, Name: "downloads", Apply: execAll(downloadsTable)},
	}
	ArchivedMigrations = []migration{
		{Version: 1, Name: "urls_and_visits", Apply: execAll(urlsTable("urls"), urlsIndexes("urls"), visitsTable, visitsIndexes)},
	}
	ThumbnailMigrations = []migration{
		{Version: 1, Name: "favicons", Apply: execAll(faviconsTable("favicons"), faviconsIndexes("favicons"))},
		{Version: 2, Name: "thumbnails", Apply: execAll(thumbnailsTable)},
	}
	TextMigrations = []migration{
		{Version: 1, Name: "pages", Apply: execAll(pagesTable)},
	}
)

func execAll(groups ...[]string) func(tx *sql.Tx) error {
	return func(tx *sql.Tx) error {
		for _, stmts := range groups {
			if err := execStmts(tx, stmts); err != nil {
				return err
			}
		}
		return nil
	}
}

func execStmts(q queryer, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := q.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	return s
}

// ── Main and archived partitions ───────────────────────────

// urlsTable is parameterized so the same schema serves the temporary table
// used when rebuilding urls.
func urlsTable(name string) []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS ` + name + ` (
			id              INTEGER PRIMARY KEY,
			url             TEXT NOT NULL,
			title           TEXT NOT NULL DEFAULT '',
			visit_count     INTEGER NOT NULL DEFAULT 0,
			typed_count     INTEGER NOT NULL DEFAULT 0,
			last_visit_time INTEGER NOT NULL DEFAULT 0,
			hidden          INTEGER NOT NULL DEFAULT 0,
			favicon_id      INTEGER NOT NULL DEFAULT 0
		)`,
	}
}

func urlsIndexes(name string) []string {
	return []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS ` + name + `_url_index ON ` + name + `(url)`,
		`CREATE INDEX IF NOT EXISTS ` + name + `_favicon_id_index ON ` + name + `(favicon_id)`,
	}
}

var visitsTable = []string{
	`CREATE TABLE IF NOT EXISTS visits (
		id         INTEGER PRIMARY KEY,
		url        INTEGER NOT NULL,
		visit_time INTEGER NOT NULL,
		from_visit INTEGER NOT NULL DEFAULT 0,
		transition INTEGER NOT NULL DEFAULT 0,
		segment_id INTEGER NOT NULL DEFAULT 0,
		is_indexed INTEGER NOT NULL DEFAULT 0
	)`,
}

var visitsIndexes = []string{
	`CREATE INDEX IF NOT EXISTS visits_url_index ON visits(url)`,
	`CREATE INDEX IF NOT EXISTS visits_from_index ON visits(from_visit)`,
	`CREATE INDEX IF NOT EXISTS visits_time_index ON visits(visit_time)`,
}

var segmentsTable = []string{
	`CREATE TABLE IF NOT EXISTS segments (
		id         INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		url_id     INTEGER NOT NULL,
		pres_index INTEGER NOT NULL DEFAULT -1
	)`,
	`CREATE INDEX IF NOT EXISTS segments_name ON segments(name)`,
	`CREATE INDEX IF NOT EXISTS segments_url_id ON segments(url_id)`,
}

var segmentUsageTable = []string{
	`CREATE TABLE IF NOT EXISTS segment_usage (
		id          INTEGER PRIMARY KEY,
		segment_id  INTEGER NOT NULL,
		time_slot   INTEGER NOT NULL,
		visit_count INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS segment_usage_time_slot_segment_id ON segment_usage(time_slot, segment_id)`,
	`CREATE INDEX IF NOT EXISTS segments_usage_seg_id ON segment_usage(segment_id)`,
}

var keywordTermsTable = []string{
	`CREATE TABLE IF NOT EXISTS keyword_search_terms (
		keyword_id INTEGER NOT NULL,
		url_id     INTEGER NOT NULL,
		lower_term TEXT NOT NULL,
		term       TEXT NOT NULL,
		PRIMARY KEY (keyword_id, url_id)
	)`,
	`CREATE INDEX IF NOT EXISTS keyword_search_terms_index1 ON keyword_search_terms(keyword_id, lower_term)`,
	`CREATE INDEX IF NOT EXISTS keyword_search_terms_index2 ON keyword_search_terms(url_id)`,
}

var downloadsTable = []string{
	`CREATE TABLE IF NOT EXISTS downloads (
		id             INTEGER PRIMARY KEY,
		full_path      TEXT NOT NULL,
		url            TEXT NOT NULL,
		start_time     INTEGER NOT NULL,
		received_bytes INTEGER NOT NULL DEFAULT 0,
		total_bytes    INTEGER NOT NULL DEFAULT 0,
		state          INTEGER NOT NULL DEFAULT 0
	)`,
}

// ── Thumbnail partition ────────────────────────────────────

func faviconsTable(name string) []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS ` + name + ` (
			id           INTEGER PRIMARY KEY,
			url          TEXT NOT NULL,
			last_updated INTEGER NOT NULL DEFAULT 0,
			image_data   BLOB
		)`,
	}
}

func faviconsIndexes(name string) []string {
	return []string{
		`CREATE INDEX IF NOT EXISTS ` + name + `_url ON ` + name + `(url)`,
	}
}

var thumbnailsTable = []string{
	`CREATE TABLE IF NOT EXISTS thumbnails (
		url_id       INTEGER PRIMARY KEY,
		last_updated INTEGER NOT NULL DEFAULT 0,
		data         BLOB
	)`,
}

// ── Text partition ─────────────────────────────────────────

var pagesTable = []string{
	`CREATE TABLE IF NOT EXISTS pages (
		id   INTEGER PRIMARY KEY,
		url  TEXT NOT NULL,
		time INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS pages_url_time ON pages(url, time)`,
	`CREATE INDEX IF NOT EXISTS pages_time ON pages(time)`,
	// docid of pages_fts is the id of pages.
	`CREATE VIRTUAL TABLE IF NOT EXISTS pages_fts USING fts4(title, body)`,
}
