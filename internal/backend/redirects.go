package backend

import (
	"github.com/hashicorp/golang-lru"

	"github.com/runnerr0/chronicle/internal/history"
)

// redirectCache remembers the redirect chains of recent navigations, keyed
// by their destination URL, so titles and favicons of the destination can
// be applied to every URL of the chain.
type redirectCache struct {
	cache *lru.Cache
}

func newRedirectCache(size int) *redirectCache {
	var cache, err = lru.New(size)
	if err != nil {
		panic(err.Error()) // Only errors on size <= 0.
	}
	return &redirectCache{cache: cache}
}

// Put caches |chain|, which ends at |dest|.
func (rc *redirectCache) Put(dest string, chain history.RedirectList) {
	rc.cache.Add(dest, append(history.RedirectList(nil), chain...))
}

// Get returns the cached chain ending at |dest|.
func (rc *redirectCache) Get(dest string) (history.RedirectList, bool) {
	if v, ok := rc.cache.Get(dest); ok {
		return v.(history.RedirectList), true
	}
	return nil, false
}

// Chain returns the cached chain ending at |dest|, or just |dest| itself.
func (rc *redirectCache) Chain(dest string) history.RedirectList {
	if chain, ok := rc.Get(dest); ok {
		return chain
	}
	return history.RedirectList{dest}
}

// Purge empties the cache.
func (rc *redirectCache) Purge() { rc.cache.Purge() }
