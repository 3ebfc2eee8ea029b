// Package bookmarks is the bookmark collaborator of a history backend.
// Bookmarked URLs are pinned: expiration never deletes their URL rows.
package bookmarks

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Service is the bookmark contract of a history backend.
type Service interface {
	IsBookmarked(url string) bool
	GetBookmarks() []string
	// BlockTillLoaded waits for the bookmark set to finish loading. It must
	// be called from the backend's owner context only.
	BlockTillLoaded()
}

// Bookmark is a persisted bookmark.
type Bookmark struct {
	URL     string    `yaml:"url"`
	Title   string    `yaml:"title,omitempty"`
	AddedAt time.Time `yaml:"added_at"`
}

type file struct {
	Bookmarks []Bookmark `yaml:"bookmarks"`
}

// Model is a Service backed by a YAML file. Loading happens in the
// background; queries made before BlockTillLoaded returns may not observe
// the file's bookmarks.
type Model struct {
	path string

	mu     sync.RWMutex
	byURL  map[string]Bookmark
	loaded chan struct{}
	err    error
}

// NewModel returns an empty, loaded Model which is not backed by a file.
func NewModel(urls ...string) *Model {
	var m = &Model{
		byURL:  make(map[string]Bookmark),
		loaded: make(chan struct{}),
	}
	for _, u := range urls {
		m.byURL[u] = Bookmark{URL: u}
	}
	close(m.loaded)
	return m
}

// Open returns a Model and begins loading |path| in the background. A
// missing file is an empty bookmark set.
func Open(path string) *Model {
	var m = &Model{
		path:   path,
		byURL:  make(map[string]Bookmark),
		loaded: make(chan struct{}),
	}
	go m.load()
	return m
}

func (m *Model) load() {
	defer close(m.loaded)

	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return
	} else if err != nil {
		m.setErr(fmt.Errorf("read bookmarks: %w", err))
		return
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		m.setErr(fmt.Errorf("parse bookmarks: %w", err))
		return
	}

	m.mu.Lock()
	for _, b := range f.Bookmarks {
		m.byURL[b.URL] = b
	}
	m.mu.Unlock()

	log.WithFields(log.Fields{"path": m.path, "count": len(f.Bookmarks)}).Debug("loaded bookmarks")
}

func (m *Model) setErr(err error) {
	log.WithFields(log.Fields{"path": m.path, "err": err}).Warn("failed to load bookmarks")
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// BlockTillLoaded waits for the background load.
func (m *Model) BlockTillLoaded() { <-m.loaded }

// Err returns the load error, if any. It's valid after BlockTillLoaded.
func (m *Model) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.err
}

// IsBookmarked returns whether |url| is bookmarked.
func (m *Model) IsBookmarked(url string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var _, ok = m.byURL[url]
	return ok
}

// GetBookmarks returns bookmarked URLs, sorted.
func (m *Model) GetBookmarks() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedLocked()
}

// Add bookmarks |url|. It returns false if it was already bookmarked.
func (m *Model) Add(url, title string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byURL[url]; ok {
		return false
	}
	m.byURL[url] = Bookmark{URL: url, Title: title, AddedAt: now}
	return true
}

// Remove un-bookmarks |urls|, returning those which were bookmarked. The
// caller is expected to tell the history backend via URLsNoLongerBookmarked.
func (m *Model) Remove(urls ...string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []string
	for _, u := range urls {
		if _, ok := m.byURL[u]; ok {
			delete(m.byURL, u)
			removed = append(removed, u)
		}
	}
	return removed
}

// Save writes the Model to its file.
func (m *Model) Save() error {
	if m.path == "" {
		return fmt.Errorf("bookmarks model has no file")
	}

	m.mu.RLock()
	var f file
	for _, u := range m.sortedLocked() {
		f.Bookmarks = append(f.Bookmarks, m.byURL[u])
	}
	m.mu.RUnlock()

	data, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("marshal bookmarks: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("create bookmarks dir: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0644); err != nil {
		return fmt.Errorf("write bookmarks: %w", err)
	}
	return nil
}

func (m *Model) sortedLocked() []string {
	var out = make([]string, 0, len(m.byURL))
	for u := range m.byURL {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}
