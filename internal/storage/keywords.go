package storage

import (
	"fmt"
	"strings"

	"github.com/runnerr0/chronicle/internal/history"
)

// SetKeywordSearchTermsForURL records that |term| was searched with keyword
// |keywordID|, producing the page of |urlID|.
func (d *HistoryDB) SetKeywordSearchTermsForURL(urlID history.URLID, keywordID int64, term string) error {
	if _, err := d.q().Exec(
		`INSERT OR REPLACE INTO keyword_search_terms (keyword_id, url_id, lower_term, term)
		 VALUES (?, ?, ?, ?)`,
		keywordID, urlID, strings.ToLower(term), term,
	); err != nil {
		return fmt.Errorf("set keyword search term: %w", err)
	}
	return nil
}

// DeleteAllSearchTermsForKeyword removes every term of |keywordID|.
func (d *HistoryDB) DeleteAllSearchTermsForKeyword(keywordID int64) error {
	if _, err := d.q().Exec("DELETE FROM keyword_search_terms WHERE keyword_id = ?", keywordID); err != nil {
		return fmt.Errorf("delete terms of keyword %d: %w", keywordID, err)
	}
	return nil
}

// DeleteKeywordSearchTermForURL removes the terms which produced |urlID|.
func (d *HistoryDB) DeleteKeywordSearchTermForURL(urlID history.URLID) error {
	if _, err := d.q().Exec("DELETE FROM keyword_search_terms WHERE url_id = ?", urlID); err != nil {
		return fmt.Errorf("delete terms of url %d: %w", urlID, err)
	}
	return nil
}

// GetMostRecentKeywordSearchTerms returns up to |max| terms of |keywordID|
// starting with |prefix| (case-insensitively), most recently visited first.
func (d *HistoryDB) GetMostRecentKeywordSearchTerms(keywordID int64, prefix string, max int) ([]history.KeywordSearchTerm, error) {
	var lower = strings.ToLower(prefix)

	rows, err := d.q().Query(
		`SELECT DISTINCT kv.term, u.last_visit_time
		 FROM keyword_search_terms kv JOIN urls u ON kv.url_id = u.id
		 WHERE kv.keyword_id = ? AND kv.lower_term >= ? AND kv.lower_term < ?
		 ORDER BY u.last_visit_time DESC LIMIT ?`,
		keywordID, lower, prefixEnd(lower), limitOrAll(max))
	if err != nil {
		return nil, fmt.Errorf("query keyword search terms: %w", err)
	}
	defer rows.Close()

	var out = []history.KeywordSearchTerm{}
	for rows.Next() {
		var t history.KeywordSearchTerm
		var lastVisit int64
		if err := rows.Scan(&t.Term, &lastVisit); err != nil {
			return nil, fmt.Errorf("scan keyword search term: %w", err)
		}
		t.LastVisit = fromDB(lastVisit)
		out = append(out, t)
	}
	return out, rows.Err()
}
