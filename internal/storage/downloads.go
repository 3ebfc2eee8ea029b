package storage

import (
	"fmt"
	"time"

	"github.com/runnerr0/chronicle/internal/history"
)

// CreateDownload persists |row| and returns its handle.
func (d *HistoryDB) CreateDownload(row history.DownloadRow) (int64, error) {
	res, err := d.q().Exec(
		`INSERT INTO downloads (full_path, url, start_time, received_bytes, total_bytes, state)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		row.FullPath, row.URL, toDB(row.StartTime), row.ReceivedBytes, row.TotalBytes, row.State,
	)
	if err != nil {
		return 0, fmt.Errorf("create download: %w", err)
	}
	return res.LastInsertId()
}

// UpdateDownload records progress of download |handle|.
func (d *HistoryDB) UpdateDownload(handle int64, receivedBytes int64, state history.DownloadState) error {
	res, err := d.q().Exec("UPDATE downloads SET received_bytes = ?, state = ? WHERE id = ?",
		receivedBytes, state, handle)
	if err != nil {
		return fmt.Errorf("update download %d: %w", handle, err)
	}
	return requireAffected(res)
}

// UpdateDownloadPath records a new target path of download |handle|.
func (d *HistoryDB) UpdateDownloadPath(handle int64, path string) error {
	res, err := d.q().Exec("UPDATE downloads SET full_path = ? WHERE id = ?", path, handle)
	if err != nil {
		return fmt.Errorf("update download %d path: %w", handle, err)
	}
	return requireAffected(res)
}

// QueryDownloads returns every download, oldest first.
func (d *HistoryDB) QueryDownloads() ([]history.DownloadRow, error) {
	rows, err := d.q().Query(
		`SELECT id, full_path, url, start_time, received_bytes, total_bytes, state
		 FROM downloads ORDER BY start_time, id`)
	if err != nil {
		return nil, fmt.Errorf("query downloads: %w", err)
	}
	defer rows.Close()

	var out = []history.DownloadRow{}
	for rows.Next() {
		var r history.DownloadRow
		var start int64
		if err := rows.Scan(&r.Handle, &r.FullPath, &r.URL, &start,
			&r.ReceivedBytes, &r.TotalBytes, &r.State); err != nil {
			return nil, fmt.Errorf("scan download: %w", err)
		}
		r.StartTime = fromDB(start)
		out = append(out, r)
	}
	return out, rows.Err()
}

// RemoveDownload deletes download |handle|.
func (d *HistoryDB) RemoveDownload(handle int64) error {
	if _, err := d.q().Exec("DELETE FROM downloads WHERE id = ?", handle); err != nil {
		return fmt.Errorf("remove download %d: %w", handle, err)
	}
	return nil
}

// RemoveDownloadsBetween deletes finished (complete or cancelled) downloads
// started in [begin, end). A zero |end| is unbounded. In-progress downloads
// are never removed.
func (d *HistoryDB) RemoveDownloadsBetween(begin, end time.Time) (int64, error) {
	res, err := d.q().Exec(
		"DELETE FROM downloads WHERE start_time >= ? AND start_time < ? AND state IN (?, ?)",
		toDB(begin), endToDB(end), history.DownloadComplete, history.DownloadCancelled)
	if err != nil {
		return 0, fmt.Errorf("remove downloads: %w", err)
	}
	return res.RowsAffected()
}

// SearchDownloads returns handles of downloads whose URL or path contains
// |text|.
func (d *HistoryDB) SearchDownloads(text string) ([]int64, error) {
	var pattern = "%" + text + "%"
	rows, err := d.q().Query(
		"SELECT id FROM downloads WHERE url LIKE ? OR full_path LIKE ? ORDER BY id",
		pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("search downloads: %w", err)
	}
	defer rows.Close()

	var out = []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// CleanUpInProgressEntries marks downloads left in progress by a previous
// process as cancelled.
func (d *HistoryDB) CleanUpInProgressEntries() error {
	if _, err := d.q().Exec("UPDATE downloads SET state = ? WHERE state = ?",
		history.DownloadCancelled, history.DownloadInProgress); err != nil {
		return fmt.Errorf("clean up in-progress downloads: %w", err)
	}
	return nil
}
