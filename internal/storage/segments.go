package storage

import (
	"database/sql"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/runnerr0/chronicle/internal/history"
)

// ComputeSegmentName returns the name of the segment of |u|: the URL
// without credentials, port, query or fragment, and without a leading
// "www." on the host. Invalid URLs have no segment name.
func ComputeSegmentName(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Scheme == "" {
		return ""
	}
	var host = strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")

	var out = url.URL{
		Scheme: strings.ToLower(parsed.Scheme),
		Host:   host,
		Path:   parsed.Path,
		Opaque: parsed.Opaque,
	}
	if out.Host != "" && out.Path == "" {
		out.Path = "/"
	}
	return out.String()
}

// GetSegmentNamed returns the segment having |name|, or ErrNotFound.
func (d *HistoryDB) GetSegmentNamed(name string) (history.SegmentID, error) {
	var id history.SegmentID
	var err = d.q().QueryRow("SELECT id FROM segments WHERE name = ?", name).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	} else if err != nil {
		return 0, fmt.Errorf("get segment %q: %w", name, err)
	}
	return id, nil
}

// CreateSegment creates a segment |name| represented by |urlID|.
func (d *HistoryDB) CreateSegment(urlID history.URLID, name string) (history.SegmentID, error) {
	res, err := d.q().Exec("INSERT INTO segments (name, url_id) VALUES (?, ?)", name, urlID)
	if err != nil {
		return 0, fmt.Errorf("create segment %q: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return history.SegmentID(id), nil
}

// UpdateSegmentRepresentationURL makes |urlID| the representative of |id|.
func (d *HistoryDB) UpdateSegmentRepresentationURL(id history.SegmentID, urlID history.URLID) error {
	if _, err := d.q().Exec("UPDATE segments SET url_id = ? WHERE id = ?", urlID, id); err != nil {
		return fmt.Errorf("update segment %d url: %w", id, err)
	}
	return nil
}

// SetSegmentID attributes visit |visitID| to segment |id|.
func (d *HistoryDB) SetSegmentID(visitID history.VisitID, id history.SegmentID) error {
	res, err := d.q().Exec("UPDATE visits SET segment_id = ? WHERE id = ?", id, visitID)
	if err != nil {
		return fmt.Errorf("set segment of visit %d: %w", visitID, err)
	}
	return requireAffected(res)
}

// SetSegmentPresentationIndex records the display position of segment |id|.
func (d *HistoryDB) SetSegmentPresentationIndex(id history.SegmentID, index int) error {
	if _, err := d.q().Exec("UPDATE segments SET pres_index = ? WHERE id = ?", index, id); err != nil {
		return fmt.Errorf("set presentation index of segment %d: %w", id, err)
	}
	return nil
}

// IncreaseSegmentVisitCount adds |delta| to the visit count of segment |id|
// for the local day of |ts|.
func (d *HistoryDB) IncreaseSegmentVisitCount(id history.SegmentID, ts time.Time, delta int) error {
	var slot = toDB(localMidnight(ts))

	var usageID int64
	var count int
	var err = d.q().QueryRow(
		"SELECT id, visit_count FROM segment_usage WHERE time_slot = ? AND segment_id = ?",
		slot, id,
	).Scan(&usageID, &count)

	switch {
	case err == sql.ErrNoRows:
		_, err = d.q().Exec(
			"INSERT INTO segment_usage (segment_id, time_slot, visit_count) VALUES (?, ?, ?)",
			id, slot, delta)
	case err == nil:
		_, err = d.q().Exec("UPDATE segment_usage SET visit_count = ? WHERE id = ?", count+delta, usageID)
	}
	if err != nil {
		return fmt.Errorf("increase visit count of segment %d: %w", id, err)
	}
	return nil
}

// QuerySegmentUsage scores segments having usage on or after |from| and
// returns the |max| highest scoring, with the URL and title of their
// representative rows. Each day of usage scores
// (1 + ln(visits)) * (1 + 2/(1 + days_ago/7)), relative to |now|.
func (d *HistoryDB) QuerySegmentUsage(from, now time.Time, max int) ([]history.PageUsageData, error) {
	type usage struct {
		segment history.SegmentID
		slot    int64
		visits  int
	}
	var usages []usage

	rows, err := d.q().Query(
		"SELECT segment_id, time_slot, visit_count FROM segment_usage WHERE time_slot >= ? ORDER BY segment_id",
		toDB(localMidnight(from)))
	if err != nil {
		return nil, fmt.Errorf("query segment usage: %w", err)
	}
	for rows.Next() {
		var u usage
		if err := rows.Scan(&u.segment, &u.slot, &u.visits); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan segment usage: %w", err)
		}
		usages = append(usages, u)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var today = localMidnight(now)
	var scores = make(map[history.SegmentID]float64)
	for _, u := range usages {
		if u.visits <= 0 {
			continue
		}
		var daysAgo = today.Sub(fromDB(u.slot)).Hours() / 24
		if daysAgo < 0 {
			daysAgo = 0
		}
		var recencyBoost = 1 + 2/(1+daysAgo/7)
		scores[u.segment] += recencyBoost * (1 + math.Log(float64(u.visits)))
	}

	var results = make([]history.PageUsageData, 0, len(scores))
	for id, score := range scores {
		results = append(results, history.PageUsageData{SegmentID: id, Score: score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].SegmentID < results[j].SegmentID
	})
	if max > 0 && len(results) > max {
		results = results[:max]
	}

	for i := range results {
		var urlID history.URLID
		if err := d.q().QueryRow("SELECT url_id FROM segments WHERE id = ?",
			results[i].SegmentID).Scan(&urlID); err != nil {
			return nil, fmt.Errorf("get url of segment %d: %w", results[i].SegmentID, err)
		}
		if row, err := d.GetURLRow(urlID); err == nil {
			results[i].URL = row.URL
			results[i].Title = row.Title
		}
	}
	return results, nil
}

// DeleteSegmentData removes usage older than |olderThan|, then segments
// having no usage left.
func (d *HistoryDB) DeleteSegmentData(olderThan time.Time) error {
	if _, err := d.q().Exec("DELETE FROM segment_usage WHERE time_slot < ?",
		toDB(localMidnight(olderThan))); err != nil {
		return fmt.Errorf("delete segment usage: %w", err)
	}
	if _, err := d.q().Exec(
		"DELETE FROM segments WHERE id NOT IN (SELECT DISTINCT segment_id FROM segment_usage)"); err != nil {
		return fmt.Errorf("delete unused segments: %w", err)
	}
	return nil
}

// DeleteSegmentForURL removes the segments represented by |urlID|, and
// their usage.
func (d *HistoryDB) DeleteSegmentForURL(urlID history.URLID) error {
	if _, err := d.q().Exec(
		"DELETE FROM segment_usage WHERE segment_id IN (SELECT id FROM segments WHERE url_id = ?)",
		urlID); err != nil {
		return fmt.Errorf("delete segment usage of url %d: %w", urlID, err)
	}
	if _, err := d.q().Exec("DELETE FROM segments WHERE url_id = ?", urlID); err != nil {
		return fmt.Errorf("delete segments of url %d: %w", urlID, err)
	}
	return nil
}

func localMidnight(t time.Time) time.Time {
	var l = t.Local()
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, time.Local)
}
