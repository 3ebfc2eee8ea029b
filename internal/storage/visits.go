package storage

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/runnerr0/chronicle/internal/history"
)

const visitColumns = "id, url, visit_time, from_visit, transition, segment_id, is_indexed"

func scanVisit(s scanner) (history.VisitRow, error) {
	var v history.VisitRow
	var visitTime int64
	var transition int64
	var indexed int
	if err := s.Scan(&v.ID, &v.URLID, &visitTime, &v.ReferringVisit, &transition,
		&v.SegmentID, &indexed); err != nil {
		return history.VisitRow{}, err
	}
	v.VisitTime = fromDB(visitTime)
	v.Transition = history.PageTransition(uint32(transition))
	v.IsIndexed = indexed != 0
	return v, nil
}

func (d *VisitDatabase) scanVisits(query string, args ...interface{}) ([]history.VisitRow, error) {
	rows, err := d.q().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query visits: %w", err)
	}
	defer rows.Close()

	var out []history.VisitRow
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan visit: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if out == nil {
		out = []history.VisitRow{}
	}
	return out, nil
}

// AddVisit inserts |v| and sets its ID.
func (d *VisitDatabase) AddVisit(v *history.VisitRow) (history.VisitID, error) {
	res, err := d.stmt("insert_visit").Exec(
		v.URLID, toDB(v.VisitTime), v.ReferringVisit, int64(v.Transition),
		v.SegmentID, boolToInt(v.IsIndexed),
	)
	if err != nil {
		return 0, fmt.Errorf("insert visit: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	v.ID = history.VisitID(id)
	return v.ID, nil
}

// DeleteVisit removes |v|. Visits which were referred by |v| are re-pointed
// at |v|'s own referrer, so chains skip the hole rather than dangle.
func (d *VisitDatabase) DeleteVisit(v history.VisitRow) error {
	if _, err := d.q().Exec("UPDATE visits SET from_visit = ? WHERE from_visit = ?",
		v.ReferringVisit, v.ID); err != nil {
		return fmt.Errorf("repoint referrers of visit %d: %w", v.ID, err)
	}
	if _, err := d.q().Exec("DELETE FROM visits WHERE id = ?", v.ID); err != nil {
		return fmt.Errorf("delete visit %d: %w", v.ID, err)
	}
	return nil
}

// UpdateVisitRow updates every column of |v| but its ID.
func (d *VisitDatabase) UpdateVisitRow(v history.VisitRow) error {
	if v.ReferringVisit == v.ID {
		return fmt.Errorf("visit %d refers to itself", v.ID)
	}
	res, err := d.q().Exec(
		`UPDATE visits SET url = ?, visit_time = ?, from_visit = ?, transition = ?,
		 segment_id = ?, is_indexed = ? WHERE id = ?`,
		v.URLID, toDB(v.VisitTime), v.ReferringVisit, int64(v.Transition),
		v.SegmentID, boolToInt(v.IsIndexed), v.ID,
	)
	if err != nil {
		return fmt.Errorf("update visit %d: %w", v.ID, err)
	}
	return requireAffected(res)
}

// GetRowForVisit returns visit |id|, or ErrNotFound.
func (d *VisitDatabase) GetRowForVisit(id history.VisitID) (history.VisitRow, error) {
	v, err := scanVisit(d.q().QueryRow("SELECT "+visitColumns+" FROM visits WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return history.VisitRow{}, ErrNotFound
	} else if err != nil {
		return history.VisitRow{}, fmt.Errorf("get visit %d: %w", id, err)
	}
	return v, nil
}

// GetVisitsForURL returns the visits of |urlID|, oldest first.
func (d *VisitDatabase) GetVisitsForURL(urlID history.URLID) ([]history.VisitRow, error) {
	return d.scanVisits("SELECT "+visitColumns+" FROM visits WHERE url = ? ORDER BY visit_time ASC", urlID)
}

// GetAllVisitsInRange returns visits in [begin, end), oldest first and
// capped at |max| (zero for no cap). A zero |end| is unbounded.
func (d *VisitDatabase) GetAllVisitsInRange(begin, end time.Time, max int) ([]history.VisitRow, error) {
	return d.scanVisits(
		"SELECT "+visitColumns+` FROM visits WHERE visit_time >= ? AND visit_time < ?
		 ORDER BY visit_time ASC, id ASC LIMIT ?`,
		toDB(begin), endToDB(end), limitOrAll(max))
}

// GetVisibleVisitsInRange returns visits in [begin, end) which are shown to
// users: chain ends of main-frame navigations. Visits are newest first and
// capped at |max| (zero for no cap).
func (d *VisitDatabase) GetVisibleVisitsInRange(begin, end time.Time, max int) ([]history.VisitRow, error) {
	return d.scanVisits(
		"SELECT "+visitColumns+` FROM visits WHERE visit_time >= ? AND visit_time < ?
		 AND (transition & ?) != 0 AND (transition & ?) NOT IN (?, ?)
		 ORDER BY visit_time DESC, id DESC LIMIT ?`,
		toDB(begin), endToDB(end), int64(history.ChainEnd), int64(history.CoreMask),
		int64(history.AutoSubframe), int64(history.ManualSubframe), limitOrAll(max))
}

// GetMostRecentVisitForURL returns the newest visit of |urlID|, or ErrNotFound.
func (d *VisitDatabase) GetMostRecentVisitForURL(urlID history.URLID) (history.VisitRow, error) {
	visits, err := d.GetMostRecentVisitsForURL(urlID, 1)
	if err != nil {
		return history.VisitRow{}, err
	}
	if len(visits) == 0 {
		return history.VisitRow{}, ErrNotFound
	}
	return visits[0], nil
}

// GetMostRecentVisitsForURL returns up to |n| visits of |urlID|, newest first.
func (d *VisitDatabase) GetMostRecentVisitsForURL(urlID history.URLID, n int) ([]history.VisitRow, error) {
	return d.scanVisits(
		"SELECT "+visitColumns+" FROM visits WHERE url = ? ORDER BY visit_time DESC, id DESC LIMIT ?",
		urlID, limitOrAll(n))
}

// GetRedirectFromVisit returns the visit which |from| redirected to, and
// its URL. It's one hop of a redirect chain walk.
func (d *VisitDatabase) GetRedirectFromVisit(from history.VisitID) (history.VisitID, string, error) {
	var id history.VisitID
	var u string
	var err = d.q().QueryRow(
		`SELECT v.id, u.url FROM visits v JOIN urls u ON v.url = u.id
		 WHERE v.from_visit = ? AND (v.transition & ?) != 0 ORDER BY v.id LIMIT 1`,
		from, int64(history.IsRedirectMask),
	).Scan(&id, &u)

	if err == sql.ErrNoRows {
		return 0, "", ErrNotFound
	} else if err != nil {
		return 0, "", fmt.Errorf("get redirect from visit %d: %w", from, err)
	}
	return id, u, nil
}

// GetRedirectToVisit returns the visit which redirected to |to|, and its URL.
func (d *VisitDatabase) GetRedirectToVisit(to history.VisitID) (history.VisitID, string, error) {
	v, err := d.GetRowForVisit(to)
	if err != nil {
		return 0, "", err
	}
	if !v.Transition.IsRedirect() || v.ReferringVisit == 0 {
		return 0, "", ErrNotFound
	}
	from, err := d.GetRowForVisit(v.ReferringVisit)
	if err != nil {
		return 0, "", err
	}
	row, err := d.GetURLRow(from.URLID)
	if err != nil {
		return 0, "", err
	}
	return from.ID, row.URL, nil
}

// GetVisitCountToHost returns the number of visits to the origin of |u| and
// the time of the first, counting only http and https origins.
func (d *VisitDatabase) GetVisitCountToHost(u string) (int, time.Time, error) {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return 0, time.Time{}, nil
	}
	var scheme = strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return 0, time.Time{}, nil
	}

	// URLs of the origin sort between "scheme://host/" and "scheme://host0".
	var origin = scheme + "://" + strings.ToLower(parsed.Host) + "/"
	var originEnd = origin[:len(origin)-1] + "0"

	var count int
	var first sql.NullInt64
	if err := d.q().QueryRow(
		`SELECT COUNT(*), MIN(v.visit_time) FROM visits v JOIN urls u ON v.url = u.id
		 WHERE u.url >= ? AND u.url < ? AND (v.transition & ?) NOT IN (?, ?)`,
		origin, originEnd, int64(history.CoreMask),
		int64(history.AutoSubframe), int64(history.ManualSubframe),
	).Scan(&count, &first); err != nil {
		return 0, time.Time{}, fmt.Errorf("count visits to host: %w", err)
	}
	return count, fromDB(first.Int64), nil
}

// GetStartDate returns the time of the oldest visit, or the zero time if
// there are none.
func (d *VisitDatabase) GetStartDate() (time.Time, error) {
	var first sql.NullInt64
	if err := d.q().QueryRow("SELECT MIN(visit_time) FROM visits").Scan(&first); err != nil {
		return time.Time{}, fmt.Errorf("get start date: %w", err)
	}
	return fromDB(first.Int64), nil
}

// CountVisits returns the number of visit rows.
func (d *VisitDatabase) CountVisits() (int64, error) {
	var n int64
	if err := d.q().QueryRow("SELECT COUNT(*) FROM visits").Scan(&n); err != nil {
		return 0, fmt.Errorf("count visits: %w", err)
	}
	return n, nil
}
