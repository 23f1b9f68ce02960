// Package registry owns every cache entry tracked by the proxy: the
// URL->Entry map, a doubly-linked LRU traversal order for the evictor, and
// the registry-wide total-size accounting. Entries are reachable only
// through the registry; handlers only ever hold non-owning pins.
package registry

import (
	"container/list"
	"os"
	"sync"

	"github.com/wkm/cacheproxy/internal/cacheentry"
)

// Registry is safe for concurrent use. Its own mutex guards the map, the
// LRU list, and total size; it is never held across entry-level blocking
// operations or network I/O, per spec.md's locking discipline (registry
// mutex > entry mutex, never reversed).
type Registry struct {
	mu        sync.Mutex
	byURL     map[string]*list.Element // value: *cacheentry.Entry
	order     *list.List               // front = MRU, back = LRU
	totalSize int64
	maxSize   int64
	cacheDir  string
}

// New constructs an empty registry with the given byte budget and on-disk
// cache directory (created if missing, mode 0755 per spec.md §6).
func New(maxSizeBytes int64, cacheDir string) (*Registry, error) {
	if cacheDir != "" {
		if err := os.MkdirAll(cacheDir, 0o755); err != nil {
			return nil, err
		}
	}
	return &Registry{
		byURL:    make(map[string]*list.Element),
		order:    list.New(),
		maxSize:  maxSizeBytes,
		cacheDir: cacheDir,
	}, nil
}

// FindOrCreatePin performs an atomic lookup-or-insert. An existing entry is
// pinned (ref count +1, last-accessed refreshed) and returned with created
// false; a missing one is constructed fresh (state Loading, ref count 1),
// inserted at the MRU end, and returned with created true. Callers must
// eventually call Release.
func (r *Registry) FindOrCreatePin(url string) (entry *cacheentry.Entry, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if elem, ok := r.byURL[url]; ok {
		r.order.MoveToFront(elem)
		entry := elem.Value.(*cacheentry.Entry)
		entry.Pin()
		return entry, false
	}

	path := ""
	if r.cacheDir != "" {
		path = cacheentry.CacheFilePath(r.cacheDir, url)
	}
	entry = cacheentry.New(url, path)
	elem := r.order.PushFront(entry)
	r.byURL[url] = elem
	return entry, true
}

// Release decrements the entry's ref count. It never frees the entry;
// freeing is the evictor's job.
func (r *Registry) Release(entry *cacheentry.Entry) {
	entry.Unpin()
}

// AppendChunk is the fetcher's only path for appending a body chunk. It
// acquires the registry mutex first (lock order: registry > entry, per
// spec.md 5), appends the chunk in memory under the entry's own mutex, and
// folds the delta into the registry-wide total while still holding the
// registry mutex. The on-disk mirror write happens last, after both locks
// are released, exactly as spec.md 4.2 requires.
func (r *Registry) AppendChunk(entry *cacheentry.Entry, data []byte) {
	r.mu.Lock()
	cp, delta := entry.AppendChunkMemory(data)
	r.totalSize += delta
	r.mu.Unlock()

	entry.WriteToDisk(cp)
}

// TotalSize returns the registry-wide cached-byte total (bodies only).
func (r *Registry) TotalSize() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalSize
}

// MaxSize returns the configured byte budget.
func (r *Registry) MaxSize() int64 {
	return r.maxSize
}

// HighWater returns true if the registry is at or over 90% of its byte
// budget.
func (r *Registry) HighWater() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return float64(r.totalSize) >= 0.9*float64(r.maxSize)
}

// EvictVictim walks the LRU order from the tail (oldest) looking for the
// first unpinned, Complete entry, matching spec.md 4.5's selection rule.
// On success it unlinks the entry from the registry, subtracts its size
// from the total, and returns it for the caller to Destroy() outside any
// lock. It returns nil if no eligible victim exists this round.
func (r *Registry) EvictVictim() *cacheentry.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	for elem := r.order.Back(); elem != nil; elem = elem.Prev() {
		entry := elem.Value.(*cacheentry.Entry)
		if entry.Evictable() {
			r.order.Remove(elem)
			delete(r.byURL, entry.URL())
			r.totalSize -= entry.TotalSize()
			return entry
		}
	}
	return nil
}

// Len reports the number of entries currently tracked.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.order.Len()
}

// Shutdown frees every entry unconditionally, ignoring ref counts. Callers
// must have quiesced all handlers/fetchers first.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for elem := r.order.Front(); elem != nil; elem = elem.Next() {
		entry := elem.Value.(*cacheentry.Entry)
		entry.Destroy()
	}
	r.byURL = make(map[string]*list.Element)
	r.order = list.New()
	r.totalSize = 0
}
