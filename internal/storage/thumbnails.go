package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/runnerr0/chronicle/internal/history"
)

// ThumbnailDB is the partition of favicons and page thumbnails. It's an
// optional collaborator: every method of a nil *ThumbnailDB is a no-op
// returning an empty result.
type ThumbnailDB struct {
	*Partition
}

// OpenThumbnailDB opens (creating if needed) the thumbnail partition at |path|.
func OpenThumbnailDB(path, journalMode string) (*ThumbnailDB, error) {
	p, err := OpenPartition("thumbnails", path, journalMode, ThumbnailMigrations)
	if err != nil {
		return nil, err
	}
	return &ThumbnailDB{Partition: p}, nil
}

// ── Favicons ───────────────────────────────────────────────

// GetFavIconIDForFavIconURL returns the favicon of |iconURL|, or zero.
func (d *ThumbnailDB) GetFavIconIDForFavIconURL(iconURL string) history.FavIconID {
	if d == nil {
		return 0
	}
	var id history.FavIconID
	if err := d.q().QueryRow("SELECT id FROM favicons WHERE url = ? ORDER BY id LIMIT 1", iconURL).Scan(&id); err != nil {
		return 0
	}
	return id
}

// AddFavIcon adds an empty favicon for |iconURL|.
func (d *ThumbnailDB) AddFavIcon(iconURL string) (history.FavIconID, error) {
	if d == nil {
		return 0, nil
	}
	res, err := d.q().Exec("INSERT INTO favicons (url) VALUES (?)", iconURL)
	if err != nil {
		return 0, fmt.Errorf("add favicon: %w", err)
	}
	id, err := res.LastInsertId()
	return history.FavIconID(id), err
}

// SetFavIcon stores |data| as favicon |id|, updated at |updated|.
func (d *ThumbnailDB) SetFavIcon(id history.FavIconID, data []byte, updated time.Time) error {
	if d == nil {
		return nil
	}
	if _, err := d.q().Exec("UPDATE favicons SET image_data = ?, last_updated = ? WHERE id = ?",
		data, toDB(updated), id); err != nil {
		return fmt.Errorf("set favicon %d: %w", id, err)
	}
	return nil
}

// SetFavIconLastUpdateTime sets only the update time of favicon |id|. A
// zero time marks the favicon out of date.
func (d *ThumbnailDB) SetFavIconLastUpdateTime(id history.FavIconID, updated time.Time) error {
	if d == nil {
		return nil
	}
	if _, err := d.q().Exec("UPDATE favicons SET last_updated = ? WHERE id = ?",
		toDB(updated), id); err != nil {
		return fmt.Errorf("set favicon %d update time: %w", id, err)
	}
	return nil
}

// GetFavIcon returns favicon |id|.
func (d *ThumbnailDB) GetFavIcon(id history.FavIconID) (iconURL string, data []byte, updated time.Time, err error) {
	if d == nil {
		return "", nil, time.Time{}, ErrNotFound
	}
	var last int64
	err = d.q().QueryRow("SELECT url, image_data, last_updated FROM favicons WHERE id = ?", id).
		Scan(&iconURL, &data, &last)
	if err == sql.ErrNoRows {
		return "", nil, time.Time{}, ErrNotFound
	} else if err != nil {
		return "", nil, time.Time{}, fmt.Errorf("get favicon %d: %w", id, err)
	}
	return iconURL, data, fromDB(last), nil
}

// DeleteFavIcon deletes favicon |id|.
func (d *ThumbnailDB) DeleteFavIcon(id history.FavIconID) error {
	if d == nil {
		return nil
	}
	if _, err := d.q().Exec("DELETE FROM favicons WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete favicon %d: %w", id, err)
	}
	return nil
}

// InitTemporaryFavIconsTable creates an empty temp_favicons table, into
// which preserved favicons are copied before it replaces favicons.
func (d *ThumbnailDB) InitTemporaryFavIconsTable() error {
	if d == nil {
		return nil
	}
	if _, err := d.q().Exec("DROP TABLE IF EXISTS temp_favicons"); err != nil {
		return fmt.Errorf("drop temp_favicons: %w", err)
	}
	return execStmts(d.q(), faviconsTable("temp_favicons"))
}

// CopyToTemporaryFavIconTable copies favicon |id| and returns its new ID.
func (d *ThumbnailDB) CopyToTemporaryFavIconTable(id history.FavIconID) (history.FavIconID, error) {
	if d == nil {
		return 0, nil
	}
	res, err := d.q().Exec(
		`INSERT INTO temp_favicons (url, last_updated, image_data)
		 SELECT url, last_updated, image_data FROM favicons WHERE id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("copy favicon %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, ErrNotFound
	}
	newID, err := res.LastInsertId()
	return history.FavIconID(newID), err
}

// CommitTemporaryFavIconTable replaces favicons with temp_favicons.
func (d *ThumbnailDB) CommitTemporaryFavIconTable() error {
	if d == nil {
		return nil
	}
	var stmts = []string{
		"DROP TABLE favicons",
		"ALTER TABLE temp_favicons RENAME TO favicons",
	}
	stmts = append(stmts, faviconsIndexes("favicons")...)
	return execStmts(d.q(), stmts)
}

// CountFavIcons returns the number of favicons.
func (d *ThumbnailDB) CountFavIcons() (int64, error) {
	if d == nil {
		return 0, nil
	}
	var n int64
	if err := d.q().QueryRow("SELECT COUNT(*) FROM favicons").Scan(&n); err != nil {
		return 0, fmt.Errorf("count favicons: %w", err)
	}
	return n, nil
}

// ── Thumbnails ─────────────────────────────────────────────

// SetPageThumbnail stores |data| as the thumbnail of |urlID|. A nil |data|
// deletes it.
func (d *ThumbnailDB) SetPageThumbnail(urlID history.URLID, data []byte, updated time.Time) error {
	if d == nil {
		return nil
	}
	if data == nil {
		return d.DeleteThumbnail(urlID)
	}
	if _, err := d.q().Exec(
		"INSERT OR REPLACE INTO thumbnails (url_id, last_updated, data) VALUES (?, ?, ?)",
		urlID, toDB(updated), data); err != nil {
		return fmt.Errorf("set thumbnail of url %d: %w", urlID, err)
	}
	return nil
}

// GetPageThumbnail returns the thumbnail of |urlID|, or ErrNotFound.
func (d *ThumbnailDB) GetPageThumbnail(urlID history.URLID) ([]byte, error) {
	if d == nil {
		return nil, ErrNotFound
	}
	var data []byte
	var err = d.q().QueryRow("SELECT data FROM thumbnails WHERE url_id = ?", urlID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("get thumbnail of url %d: %w", urlID, err)
	}
	return data, nil
}

// DeleteThumbnail deletes the thumbnail of |urlID|.
func (d *ThumbnailDB) DeleteThumbnail(urlID history.URLID) error {
	if d == nil {
		return nil
	}
	if _, err := d.q().Exec("DELETE FROM thumbnails WHERE url_id = ?", urlID); err != nil {
		return fmt.Errorf("delete thumbnail of url %d: %w", urlID, err)
	}
	return nil
}

// RecreateThumbnailTable drops every thumbnail.
func (d *ThumbnailDB) RecreateThumbnailTable() error {
	if d == nil {
		return nil
	}
	return execStmts(d.q(), append([]string{"DROP TABLE IF EXISTS thumbnails"}, thumbnailsTable...))
}
