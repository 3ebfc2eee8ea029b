package storage

import (
	"database/sql"
	"fmt"

	"github.com/runnerr0/chronicle/internal/history"
)

// VisitDatabase implements the URL and visit operations shared by the main
// and archived partitions. Mutations run within the partition's open
// transaction and do not commit on their own.
type VisitDatabase struct {
	*Partition
}

const urlColumns = "id, url, title, visit_count, typed_count, last_visit_time, hidden, favicon_id"

type scanner interface {
	Scan(dest ...interface{}) error
}

func newVisitDatabase(p *Partition) (*VisitDatabase, error) {
	var stmts = []struct{ name, query string }{
		{"url_by_url", "SELECT " + urlColumns + " FROM urls WHERE url = ?"},
		{"url_by_id", "SELECT " + urlColumns + " FROM urls WHERE id = ?"},
		{"insert_visit", `INSERT INTO visits (url, visit_time, from_visit, transition, segment_id, is_indexed)
			VALUES (?, ?, ?, ?, ?, ?)`},
	}
	for _, s := range stmts {
		if err := p.prepare(s.name, s.query); err != nil {
			return nil, err
		}
	}
	return &VisitDatabase{Partition: p}, nil
}

func scanURL(s scanner) (history.URLRow, error) {
	var r history.URLRow
	var lastVisit int64
	var hidden int
	if err := s.Scan(&r.ID, &r.URL, &r.Title, &r.VisitCount, &r.TypedCount,
		&lastVisit, &hidden, &r.FavIconID); err != nil {
		return history.URLRow{}, err
	}
	r.LastVisit = fromDB(lastVisit)
	r.Hidden = hidden != 0
	return r, nil
}

func urlRowResult(r history.URLRow, err error, what string) (history.URLRow, error) {
	if err == sql.ErrNoRows {
		return history.URLRow{}, ErrNotFound
	} else if err != nil {
		return history.URLRow{}, fmt.Errorf("%s: %w", what, err)
	}
	return r, nil
}

// GetRowForURL returns the row of |url|, or ErrNotFound.
func (d *VisitDatabase) GetRowForURL(url string) (history.URLRow, error) {
	var r, err = scanURL(d.stmt("url_by_url").QueryRow(url))
	return urlRowResult(r, err, "get url row")
}

// GetURLRow returns the row having |id|, or ErrNotFound.
func (d *VisitDatabase) GetURLRow(id history.URLID) (history.URLRow, error) {
	var r, err = scanURL(d.stmt("url_by_id").QueryRow(id))
	return urlRowResult(r, err, "get url row by id")
}

// AddURL inserts |row|, ignoring its ID, and returns the assigned ID.
func (d *VisitDatabase) AddURL(row history.URLRow) (history.URLID, error) {
	return d.addURLTo("urls", row)
}

func (d *VisitDatabase) addURLTo(table string, row history.URLRow) (history.URLID, error) {
	res, err := d.q().Exec(
		`INSERT INTO `+table+` (url, title, visit_count, typed_count, last_visit_time, hidden, favicon_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.URL, row.Title, row.VisitCount, row.TypedCount, toDB(row.LastVisit),
		boolToInt(row.Hidden), row.FavIconID,
	)
	if err != nil {
		return 0, fmt.Errorf("insert url into %s: %w", table, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return history.URLID(id), nil
}

// UpdateURLRow updates the mutable columns of row |id|. The URL itself is
// immutable.
func (d *VisitDatabase) UpdateURLRow(id history.URLID, row history.URLRow) error {
	res, err := d.q().Exec(
		`UPDATE urls SET title = ?, visit_count = ?, typed_count = ?, last_visit_time = ?,
		 hidden = ?, favicon_id = ? WHERE id = ?`,
		row.Title, row.VisitCount, row.TypedCount, toDB(row.LastVisit),
		boolToInt(row.Hidden), row.FavIconID, id,
	)
	if err != nil {
		return fmt.Errorf("update url %d: %w", id, err)
	}
	return requireAffected(res)
}

// DeleteURLRow deletes row |id|.
func (d *VisitDatabase) DeleteURLRow(id history.URLID) error {
	res, err := d.q().Exec("DELETE FROM urls WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete url %d: %w", id, err)
	}
	return requireAffected(res)
}

// IsFavIconUsed returns whether any URL row references |id|.
func (d *VisitDatabase) IsFavIconUsed(id history.FavIconID) (bool, error) {
	var n int
	if err := d.q().QueryRow("SELECT COUNT(*) FROM urls WHERE favicon_id = ? LIMIT 1", id).Scan(&n); err != nil {
		return false, fmt.Errorf("check favicon use: %w", err)
	}
	return n != 0, nil
}

// CountURLs returns the number of URL rows.
func (d *VisitDatabase) CountURLs() (int64, error) {
	var n int64
	if err := d.q().QueryRow("SELECT COUNT(*) FROM urls").Scan(&n); err != nil {
		return 0, fmt.Errorf("count urls: %w", err)
	}
	return n, nil
}

// GetURLsWithPrefix returns up to |max| rows whose URL starts with |prefix|,
// most visited first. Hidden rows are excluded.
func (d *VisitDatabase) GetURLsWithPrefix(prefix string, max int) ([]history.URLRow, error) {
	return d.scanURLs(
		"SELECT "+urlColumns+` FROM urls WHERE url >= ? AND url < ? AND hidden = 0
		 ORDER BY typed_count DESC, visit_count DESC, last_visit_time DESC LIMIT ?`,
		prefix, prefixEnd(prefix), limitOrAll(max))
}

func (d *VisitDatabase) scanURLs(query string, args ...interface{}) ([]history.URLRow, error) {
	rows, err := d.q().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query urls: %w", err)
	}
	defer rows.Close()

	var out []history.URLRow
	for rows.Next() {
		r, err := scanURL(rows)
		if err != nil {
			return nil, fmt.Errorf("scan url: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Return empty slice rather than nil
	if out == nil {
		out = []history.URLRow{}
	}
	return out, nil
}

// ── Temporary URL table ────────────────────────────────────
//
// Rebuilding urls from a small set of preserved rows is much cheaper than
// deleting every other row: rows are added to a temporary table which
// then replaces urls wholesale.

// CreateTemporaryURLTable creates an empty temp_urls table.
func (d *VisitDatabase) CreateTemporaryURLTable() error {
	if _, err := d.q().Exec("DROP TABLE IF EXISTS temp_urls"); err != nil {
		return fmt.Errorf("drop temp_urls: %w", err)
	}
	return execStmts(d.q(), urlsTable("temp_urls"))
}

// AddTemporaryURL adds |row| to temp_urls.
func (d *VisitDatabase) AddTemporaryURL(row history.URLRow) (history.URLID, error) {
	return d.addURLTo("temp_urls", row)
}

// CommitTemporaryURLTable replaces urls with temp_urls.
func (d *VisitDatabase) CommitTemporaryURLTable() error {
	var stmts = []string{
		"DROP TABLE urls",
		"ALTER TABLE temp_urls RENAME TO urls",
	}
	stmts = append(stmts, urlsIndexes("urls")...)
	return execStmts(d.q(), stmts)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// prefixEnd returns the smallest string greater than every string having
// |prefix|, for use as an exclusive range bound.
func prefixEnd(prefix string) string {
	var b = []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] != 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return "\xff\xff\xff\xff"
}

func limitOrAll(max int) int {
	if max <= 0 {
		return -1 // SQLite: no limit.
	}
	return max
}
