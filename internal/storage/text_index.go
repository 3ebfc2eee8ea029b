package storage

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/runnerr0/chronicle/internal/history"
)

// UncommittedExpiration is how long a page may wait in the uncommitted set
// for its title and contents before being indexed with whatever it has.
const UncommittedExpiration = 20 * time.Second

// VisitSource is what the text index requires of the main partition: the
// ability to find a URL's visits and to mark them indexed.
type VisitSource interface {
	GetRowForURL(url string) (history.URLRow, error)
	GetMostRecentVisitForURL(urlID history.URLID) (history.VisitRow, error)
	GetRowForVisit(id history.VisitID) (history.VisitRow, error)
	UpdateVisitRow(v history.VisitRow) error
}

// TextMatch is a full-text search result.
type TextMatch struct {
	URL     string
	Title   string
	Time    time.Time
	Snippet string
}

// TextIndex is the full-text partition (SQLite FTS4). It's an optional
// collaborator: every method of a nil *TextIndex is a no-op. Indexing is
// advisory, and failures are returned for logging only.
//
// Pages are staged in an uncommitted set by AddPageURL and indexed when
// their contents arrive, or after UncommittedExpiration.
type TextIndex struct {
	*Partition

	// Now returns the current time, for expiring uncommitted pages.
	Now func() time.Time

	visits  VisitSource
	pending map[string]*pendingPage
}

type pendingPage struct {
	urlID     history.URLID
	visitID   history.VisitID
	visitTime time.Time
	added     time.Time

	title, body       string
	hasTitle, hasBody bool
}

// OpenTextIndex opens (creating if needed) the text partition at |path|.
func OpenTextIndex(path, journalMode string) (*TextIndex, error) {
	p, err := OpenPartition("text", path, journalMode, TextMigrations)
	if err != nil {
		return nil, err
	}
	return &TextIndex{
		Partition: p,
		Now:       time.Now,
		pending:   make(map[string]*pendingPage),
	}, nil
}

// SetVisitSource binds the main partition, used to mark visits indexed.
func (t *TextIndex) SetVisitSource(v VisitSource) {
	if t != nil {
		t.visits = v
	}
}

// AddPageURL stages a newly visited page.
func (t *TextIndex) AddPageURL(url string, urlID history.URLID, visitID history.VisitID, visitTime time.Time) {
	if t == nil {
		return
	}
	// A newer visit supersedes a staged one, which is indexed now.
	if prev, ok := t.pending[url]; ok {
		t.commitPending(url, prev) //nolint:errcheck
	}
	t.pending[url] = &pendingPage{
		urlID:     urlID,
		visitID:   visitID,
		visitTime: visitTime,
		added:     t.Now(),
	}
}

// AddPageTitle sets the title of a staged page. If the page isn't staged,
// its most recent visit is indexed with the title.
func (t *TextIndex) AddPageTitle(url, title string) error {
	if t == nil {
		return nil
	}
	if p, ok := t.pending[url]; ok {
		p.title, p.hasTitle = title, true
		if p.hasBody {
			return t.commitPending(url, p)
		}
		return nil
	}
	return t.addToMostRecentVisit(url, title, "")
}

// AddPageContents sets the contents of a staged page. If the page isn't
// staged, its most recent visit is indexed with the contents.
func (t *TextIndex) AddPageContents(url, body string) error {
	if t == nil {
		return nil
	}
	if p, ok := t.pending[url]; ok {
		p.body, p.hasBody = body, true
		return t.commitPending(url, p)
	}
	return t.addToMostRecentVisit(url, "", body)
}

// FlushOldChanges indexes staged pages which have waited longer than
// UncommittedExpiration.
func (t *TextIndex) FlushOldChanges() {
	if t == nil {
		return
	}
	var cutoff = t.Now().Add(-UncommittedExpiration)
	for url, p := range t.pending {
		if p.added.Before(cutoff) {
			t.commitPending(url, p) //nolint:errcheck
		}
	}
}

// PendingCount returns the number of staged pages.
func (t *TextIndex) PendingCount() int {
	if t == nil {
		return 0
	}
	return len(t.pending)
}

// DeleteURLFromUncommitted drops a staged page.
func (t *TextIndex) DeleteURLFromUncommitted(url string) {
	if t != nil {
		delete(t.pending, url)
	}
}

// DeleteFromUncommitted drops staged pages visited in [begin, end). A zero
// |end| is unbounded.
func (t *TextIndex) DeleteFromUncommitted(begin, end time.Time) {
	if t == nil {
		return
	}
	for url, p := range t.pending {
		if !p.visitTime.Before(begin) && (end.IsZero() || p.visitTime.Before(end)) {
			delete(t.pending, url)
		}
	}
}

// AddPageData indexes |title| and |body| for the visit of |url| at
// |visitTime|, replacing any earlier indexing of that visit, and marks the
// visit indexed.
func (t *TextIndex) AddPageData(url string, urlID history.URLID, visitID history.VisitID,
	visitTime time.Time, title, body string) error {
	if t == nil {
		return nil
	}
	if err := t.DeletePageData(visitTime, url); err != nil {
		return err
	}

	res, err := t.q().Exec("INSERT INTO pages (url, time) VALUES (?, ?)", url, toDB(visitTime))
	if err != nil {
		return fmt.Errorf("insert page: %w", err)
	}
	docID, err := res.LastInsertId()
	if err != nil {
		return err
	}
	if _, err := t.q().Exec("INSERT INTO pages_fts (docid, title, body) VALUES (?, ?, ?)",
		docID, title, body); err != nil {
		return fmt.Errorf("index page: %w", err)
	}

	if t.visits != nil && visitID != 0 {
		if v, err := t.visits.GetRowForVisit(visitID); err == nil && !v.IsIndexed {
			v.IsIndexed = true
			if err := t.visits.UpdateVisitRow(v); err != nil {
				return err
			}
		}
	}
	return nil
}

// DeletePageData removes the indexing of the visit of |url| at |visitTime|.
func (t *TextIndex) DeletePageData(visitTime time.Time, url string) error {
	if t == nil {
		return nil
	}
	if _, err := t.q().Exec(
		"DELETE FROM pages_fts WHERE docid IN (SELECT id FROM pages WHERE url = ? AND time = ?)",
		url, toDB(visitTime)); err != nil {
		return fmt.Errorf("delete indexed page: %w", err)
	}
	if _, err := t.q().Exec("DELETE FROM pages WHERE url = ? AND time = ?", url, toDB(visitTime)); err != nil {
		return fmt.Errorf("delete page: %w", err)
	}
	return nil
}

// DeleteAll removes every indexed and staged page.
func (t *TextIndex) DeleteAll() error {
	if t == nil {
		return nil
	}
	t.pending = make(map[string]*pendingPage)
	return execStmts(t.q(), []string{"DELETE FROM pages_fts", "DELETE FROM pages"})
}

// GetTextMatches searches indexed pages for |query|, returning matches
// newest first within the time bounds and count of |opts|.
func (t *TextIndex) GetTextMatches(query string, opts history.QueryOptions) ([]TextMatch, error) {
	var out = []TextMatch{}
	if t == nil {
		return out, nil
	}
	var match = FTSQuery(query)
	if match == "" {
		return out, nil
	}

	var limit = limitOrAll(opts.MaxCount)
	if opts.MostRecentVisitOnly {
		limit = -1 // Applied after de-duplication.
	}
	rows, err := t.q().Query(
		`SELECT pages.url, pages.time, pages_fts.title, snippet(pages_fts, '', '', '...', -1, 12)
		 FROM pages_fts JOIN pages ON pages.id = pages_fts.docid
		 WHERE pages_fts MATCH ? AND pages.time >= ? AND pages.time < ?
		 ORDER BY pages.time DESC LIMIT ?`,
		match, toDB(opts.BeginTime), endToDB(opts.EndTime), limit)
	if err != nil {
		return nil, fmt.Errorf("query text matches: %w", err)
	}
	defer rows.Close()

	var seen = make(map[string]bool)
	for rows.Next() {
		var m TextMatch
		var ts int64
		if err := rows.Scan(&m.URL, &ts, &m.Title, &m.Snippet); err != nil {
			return nil, fmt.Errorf("scan text match: %w", err)
		}
		m.Time = fromDB(ts)

		if opts.MostRecentVisitOnly {
			if seen[m.URL] {
				continue
			}
			seen[m.URL] = true
		}
		out = append(out, m)
		if opts.MaxCount > 0 && len(out) == opts.MaxCount {
			break
		}
	}
	return out, rows.Err()
}

// FTSQuery converts a user search string into an FTS4 query: each word,
// stripped of query syntax, becomes a prefix term and all must match.
func FTSQuery(input string) string {
	var parts []string
	for _, w := range strings.Fields(input) {
		w = strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return unicode.ToLower(r)
			}
			return -1
		}, w)
		if w != "" {
			parts = append(parts, w+"*")
		}
	}
	return strings.Join(parts, " ")
}

func (t *TextIndex) commitPending(url string, p *pendingPage) error {
	delete(t.pending, url)
	return t.AddPageData(url, p.urlID, p.visitID, p.visitTime, p.title, p.body)
}

func (t *TextIndex) addToMostRecentVisit(url, title, body string) error {
	if t.visits == nil {
		return nil
	}
	row, err := t.visits.GetRowForURL(url)
	if err != nil {
		return nil // Unknown pages aren't indexed.
	}
	v, err := t.visits.GetMostRecentVisitForURL(row.ID)
	if err != nil {
		return nil
	}
	if title == "" {
		title = row.Title
	}
	return t.AddPageData(url, row.ID, v.ID, v.VisitTime, title, body)
}
