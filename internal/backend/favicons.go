package backend

import (
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/runnerr0/chronicle/internal/history"
	"github.com/runnerr0/chronicle/internal/storage"
)

// Number of older visits of a URL whose redirect destinations are tried
// for a thumbnail.
const thumbnailFallbackVisits = 4

// SetPageThumbnail stores |data| as the thumbnail of |url|.
func (b *HistoryBackend) SetPageThumbnail(url string, data []byte) {
	if b.db == nil || b.thumbs == nil {
		return
	}
	row, err := b.db.GetRowForURL(url)
	if err != nil {
		return
	}
	if err := b.thumbs.SetPageThumbnail(row.ID, data, row.LastVisit); err != nil {
		log.WithFields(log.Fields{"url": url, "err": err}).Warn("setting thumbnail failed")
		return
	}
	b.ScheduleCommit()
}

// GetPageThumbnail returns the thumbnail of |url|. The destination of its
// most recent redirect chain is preferred, followed by |url| itself and the
// destinations of its older visits.
func (b *HistoryBackend) GetPageThumbnail(url string) []byte {
	if b.db == nil || b.thumbs == nil {
		return nil
	}
	if redirects, ok := b.QueryRedirectsFrom(url); ok && len(redirects) != 0 {
		if data := b.thumbnailOf(redirects[len(redirects)-1]); data != nil {
			return data
		}
	}
	if data := b.thumbnailOf(url); data != nil {
		return data
	}

	row, err := b.db.GetRowForURL(url)
	if err != nil {
		return nil
	}
	// The most recent visit was covered above.
	visits, err := b.db.GetMostRecentVisitsForURL(row.ID, thumbnailFallbackVisits+1)
	if err != nil {
		return nil
	}
	for i := 1; i < len(visits); i++ {
		var chain = b.redirectsFromVisit(visits[i].ID)
		if len(chain) == 0 {
			continue
		}
		if data := b.thumbnailOf(chain[len(chain)-1]); data != nil {
			return data
		}
	}
	return nil
}

func (b *HistoryBackend) thumbnailOf(url string) []byte {
	row, err := b.db.GetRowForURL(url)
	if err != nil {
		return nil
	}
	data, err := b.thumbs.GetPageThumbnail(row.ID)
	if err != nil {
		return nil
	}
	return data
}

// GetFavIcon returns the favicon stored for |iconURL|.
func (b *HistoryBackend) GetFavIcon(iconURL string) history.FavIconResult {
	var out = history.FavIconResult{IconURL: iconURL}
	if b.thumbs == nil || iconURL == "" {
		return out
	}
	var id = b.thumbs.GetFavIconIDForFavIconURL(iconURL)
	if id == 0 {
		return out
	}
	return b.favIconResult(id)
}

// GetFavIconForURL returns the favicon of page |pageURL|.
func (b *HistoryBackend) GetFavIconForURL(pageURL string) history.FavIconResult {
	var out history.FavIconResult
	if b.db == nil || b.thumbs == nil {
		return out
	}
	row, err := b.db.GetRowForURL(pageURL)
	if err != nil || row.FavIconID == 0 {
		return out
	}
	return b.favIconResult(row.FavIconID)
}

// UpdateFavIconMappingAndFetch maps |pageURL| to the already-known favicon
// |iconURL|, and returns it.
func (b *HistoryBackend) UpdateFavIconMappingAndFetch(pageURL, iconURL string) history.FavIconResult {
	var out = history.FavIconResult{IconURL: iconURL}
	if b.thumbs == nil {
		return out
	}
	var id = b.thumbs.GetFavIconIDForFavIconURL(iconURL)
	if id == 0 {
		return out
	}
	b.SetFavIconMapping(pageURL, id)
	return b.favIconResult(id)
}

// favIconResult reads favicon |id|. Icons which are unfetched, or weren't
// updated within the refetch interval, are expired.
func (b *HistoryBackend) favIconResult(id history.FavIconID) history.FavIconResult {
	iconURL, data, updated, err := b.thumbs.GetFavIcon(id)
	if err != nil {
		return history.FavIconResult{}
	}
	return history.FavIconResult{
		KnowFavIcon: true,
		Data:        data,
		IconURL:     iconURL,
		Expired:     updated.IsZero() || b.now().Sub(updated) > b.opts.FaviconRefetch,
	}
}

// SetFavIcon stores |data| as favicon |iconURL|, and maps |pageURL| to it.
func (b *HistoryBackend) SetFavIcon(pageURL, iconURL string, data []byte) {
	if b.thumbs == nil || iconURL == "" {
		return
	}
	var id = b.thumbs.GetFavIconIDForFavIconURL(iconURL)
	if id == 0 {
		var err error
		if id, err = b.thumbs.AddFavIcon(iconURL); err != nil || id == 0 {
			log.WithFields(log.Fields{"icon": iconURL, "err": err}).Warn("adding favicon failed")
			return
		}
	}
	if err := b.thumbs.SetFavIcon(id, data, b.now()); err != nil {
		log.WithFields(log.Fields{"icon": iconURL, "err": err}).Warn("storing favicon failed")
		return
	}
	b.SetFavIconMapping(pageURL, id)
}

// SetFavIconMapping maps |pageURL|, and every URL of the recent redirect
// chain which ended at it, to favicon |id|. A favicon left unused by the
// remapping is deleted.
func (b *HistoryBackend) SetFavIconMapping(pageURL string, id history.FavIconID) {
	if b.db == nil {
		return
	}
	var changed []string
	for _, u := range b.recentRedirects.Chain(pageURL) {
		row, err := b.db.GetRowForURL(u)
		if err != nil || row.FavIconID == id {
			continue
		}
		var old = row.FavIconID
		row.FavIconID = id
		if err := b.db.UpdateURLRow(row.ID, row); err != nil {
			log.WithFields(log.Fields{"url": u, "err": err}).Warn("updating favicon mapping failed")
			continue
		}
		changed = append(changed, u)

		if old != 0 {
			if err := b.deleteFavIconIfUnused(old); err != nil {
				log.WithFields(log.Fields{"favicon": old, "err": err}).Warn("deleting orphaned favicon failed")
			}
		}
	}

	if len(changed) != 0 {
		b.broadcast(history.FavIconChanged, history.FavIconChangeDetails{URLs: changed})
		b.ScheduleCommit()
	}
}

func (b *HistoryBackend) deleteFavIconIfUnused(id history.FavIconID) error {
	for _, vd := range b.visitDatabases() {
		if used, err := vd.IsFavIconUsed(id); err != nil {
			return errors.WithMessage(err, "checking favicon use")
		} else if used {
			return nil
		}
	}
	return errors.WithMessage(b.thumbs.DeleteFavIcon(id), "deleting favicon")
}

// SetFavIconOutOfDateForPage expires the favicon of |pageURL|, so that it's
// refetched on next use.
func (b *HistoryBackend) SetFavIconOutOfDateForPage(pageURL string) {
	if b.db == nil || b.thumbs == nil {
		return
	}
	row, err := b.db.GetRowForURL(pageURL)
	if err != nil || row.FavIconID == 0 {
		return
	}
	if err := b.thumbs.SetFavIconLastUpdateTime(row.FavIconID, time.Time{}); err != nil {
		log.WithFields(log.Fields{"url": pageURL, "err": err}).Warn("expiring favicon failed")
		return
	}
	b.ScheduleCommit()
}

// SetImportedFavicons stores imported favicons, and maps each to those of
// its pages which are known and have no favicon. Pages which are unknown
// but bookmarked are added as hidden URLs, so the bookmark has an icon.
func (b *HistoryBackend) SetImportedFavicons(usages []history.FavIconUsage) {
	if b.db == nil || b.thumbs == nil {
		return
	}
	var now = b.now()
	var changed []string

	for _, usage := range usages {
		var id = b.thumbs.GetFavIconIDForFavIconURL(usage.FavIconURL)
		if id == 0 {
			var err error
			if id, err = b.thumbs.AddFavIcon(usage.FavIconURL); err != nil || id == 0 {
				log.WithFields(log.Fields{"icon": usage.FavIconURL, "err": err}).Warn("adding imported favicon failed")
				continue
			}
		}
		if err := b.thumbs.SetFavIcon(id, usage.PNGData, now); err != nil {
			log.WithFields(log.Fields{"icon": usage.FavIconURL, "err": err}).Warn("storing imported favicon failed")
			continue
		}

		for _, u := range usage.URLs {
			row, err := b.db.GetRowForURL(u)
			switch {
			case err == storage.ErrNotFound && b.isBookmarked(u):
				row = history.URLRow{URL: u, Hidden: true, FavIconID: id}
				if _, err = b.db.AddURL(row); err != nil {
					log.WithFields(log.Fields{"url": u, "err": err}).Warn("adding bookmarked URL failed")
					continue
				}
			case err != nil || row.FavIconID != 0:
				continue
			default:
				row.FavIconID = id
				if err = b.db.UpdateURLRow(row.ID, row); err != nil {
					log.WithFields(log.Fields{"url": u, "err": err}).Warn("mapping imported favicon failed")
					continue
				}
			}
			changed = append(changed, u)
		}
	}

	if len(changed) != 0 {
		b.broadcast(history.FavIconChanged, history.FavIconChangeDetails{URLs: changed})
	}
	b.ScheduleCommit()
}
