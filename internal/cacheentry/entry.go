// Package cacheentry implements the cache's per-URL record: the state
// machine, the append-only chunk log, and the single-producer/many-consumer
// coordination that lets every concurrent client stream the same bytes as
// they arrive from the upstream fetcher.
package cacheentry

import (
	"sync"
	"time"
)

// State is the lifecycle stage of an Entry. It progresses LOADING ->
// {Complete, Error} and never leaves a terminal state.
type State int

const (
	// Loading means the fetcher has not yet reached a terminal outcome.
	Loading State = iota
	// Complete means the fetcher observed a clean upstream EOF.
	Complete
	// Error means the fetcher failed to parse, connect, or read.
	Error
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Complete:
		return "complete"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Entry is the cache's record for one URL. The registry is the sole owner;
// handlers hold a non-owning pin via RefCount, and the fetcher holds
// neither — it is guaranteed to finish before the evictor can free the
// entry because it must clear FetcherActive and reach a terminal state
// first.
//
// All fields below the mutex are only ever touched while mu is held,
// except url and cacheFilePath, which are immutable after construction.
type Entry struct {
	url             string
	cacheFilePath   string
	mu              sync.Mutex
	cond            *sync.Cond
	state           State
	statusCode      int
	headers         []byte
	chunks          [][]byte
	numChunks       int
	totalSize       int64
	refCount        int
	lastAccessed    time.Time
	fetcherActive   bool
	originalRequest []byte
	cacheFile       *cacheFile
}

// New constructs a fresh entry in the Loading state with refCount 1,
// matching find_or_create's contract that the caller receives an
// already-pinned entry.
func New(url, cacheFilePath string) *Entry {
	e := &Entry{
		url:           url,
		cacheFilePath: cacheFilePath,
		state:         Loading,
		refCount:      1,
		lastAccessed:  time.Now(),
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// URL returns the entry's immutable primary key.
func (e *Entry) URL() string { return e.url }

// CacheFilePath returns the deterministic on-disk mirror path.
func (e *Entry) CacheFilePath() string { return e.cacheFilePath }

// Pin increments the reference count and refreshes last-accessed, mirroring
// what find_or_create_pin does for an existing entry.
func (e *Entry) Pin() {
	e.mu.Lock()
	e.refCount++
	e.lastAccessed = time.Now()
	e.mu.Unlock()
}

// Unpin decrements the reference count. It never frees the entry — freeing
// is the evictor's job once ref count reaches zero and state is terminal.
func (e *Entry) Unpin() {
	e.mu.Lock()
	e.refCount--
	e.mu.Unlock()
}

// RefCount returns the current pin count.
func (e *Entry) RefCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refCount
}

// State returns the current lifecycle state.
func (e *Entry) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// LastAccessed returns the last pin time, used by the evictor's LRU scan.
func (e *Entry) LastAccessed() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastAccessed
}

// TotalSize returns the sum of appended chunk bytes (body only, no headers).
func (e *Entry) TotalSize() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalSize
}

// Evictable reports whether the evictor may consider this entry a victim:
// unpinned and in a terminal, non-error-pending state.
func (e *Entry) Evictable() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refCount == 0 && e.state == Complete
}

// TryIgniteFetch atomically claims the fetcher token for this entry. It
// returns true exactly once per entry's lifetime (the first caller to
// observe state==Loading && !fetcherActive). If req is non-nil and
// original_request hasn't been set yet, it is copied in under the same
// lock, matching spec.md 4.4 step 4's "atomic under entry mutex" ignition
// contract.
func (e *Entry) TryIgniteFetch(req []byte) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Loading || e.fetcherActive {
		return false
	}
	e.fetcherActive = true
	if e.originalRequest == nil && req != nil {
		e.originalRequest = append([]byte(nil), req...)
	}
	return true
}

// OriginalRequest returns the verbatim request bytes used to drive the
// upstream fetch, set exactly once by the handler that ignited the fetch.
func (e *Entry) OriginalRequest() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.originalRequest
}

// PublishHeaders is fetcher-only. Pre: headers unset and state is Loading.
// Broadcasts to every waiter after the headers are visible.
func (e *Entry) PublishHeaders(headers []byte, statusCode int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.headers != nil || e.state != Loading {
		return
	}
	e.headers = append([]byte(nil), headers...)
	e.statusCode = statusCode
	e.cond.Broadcast()
}

// Headers returns the published header block, or nil if not yet published.
func (e *Entry) Headers() ([]byte, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.headers, e.statusCode
}

// AppendChunkMemory is fetcher-only. It copies data, appends it to the
// in-memory chunk log, and broadcasts progress, all under the entry mutex
// only. It returns the copy and its length so a caller (the registry) can
// fold the delta into registry-wide size accounting while still holding
// the registry mutex, per spec.md 4.2's locking discipline: "the
// registry-level mutex is acquired around the size-accounting update; the
// actual file write occurs outside both mutexes." Callers must follow up
// with WriteToDisk once any outer lock is released.
func (e *Entry) AppendChunkMemory(data []byte) (copied []byte, delta int64) {
	cp := append([]byte(nil), data...)

	e.mu.Lock()
	e.chunks = append(e.chunks, cp)
	e.numChunks++
	e.totalSize += int64(len(cp))
	e.cond.Broadcast()
	e.mu.Unlock()

	return cp, int64(len(cp))
}

// WriteToDisk mirrors previously-appended bytes to the on-disk cache file.
// Call this only after releasing both the registry and entry mutexes.
func (e *Entry) WriteToDisk(data []byte) {
	e.mu.Lock()
	cf := e.cacheFile
	e.mu.Unlock()
	cf.write(data)
}

// AppendChunkStandalone is a convenience for callers (tests, and any
// consumer not routed through a Registry) that don't need registry-wide
// size accounting. Production fetches always go through
// Registry.AppendChunk instead.
func (e *Entry) AppendChunkStandalone(data []byte) {
	cp, _ := e.AppendChunkMemory(data)
	e.WriteToDisk(cp)
}

// OpenCacheFile lazily opens the on-disk mirror for writing. It is a no-op
// if already open. Errors are tolerated: a failure to mirror to disk must
// not abort an otherwise-successful in-memory fetch.
func (e *Entry) OpenCacheFile() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cacheFile != nil {
		return
	}
	e.cacheFile = openCacheFile(e.cacheFilePath)
}

// MarkComplete is fetcher-only: closes the cache file, transitions to
// Complete, clears fetcherActive, and broadcasts.
func (e *Entry) MarkComplete() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cacheFile != nil {
		e.cacheFile.close()
	}
	e.state = Complete
	e.fetcherActive = false
	e.cond.Broadcast()
}

// MarkError is fetcher-only: transitions to Error, clears fetcherActive,
// and broadcasts. An entry in Error remains valid — it stays in the
// registry until evicted.
func (e *Entry) MarkError() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cacheFile != nil {
		e.cacheFile.close()
	}
	e.state = Error
	e.fetcherActive = false
	e.cond.Broadcast()
}

// Snapshot describes progress visible to a consumer at a point in time.
type Snapshot struct {
	Headers    []byte
	StatusCode int
	NumChunks  int
	State      State
}

// WaitUntilHeadersOrTerminal blocks until headers are published or the
// state becomes terminal, then returns a snapshot. It re-checks the
// predicate on every wake to tolerate spurious wakeups, per spec.md 5.
func (e *Entry) WaitUntilHeadersOrTerminal() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	for e.headers == nil && e.state == Loading {
		e.cond.Wait()
	}
	return Snapshot{Headers: e.headers, StatusCode: e.statusCode, NumChunks: e.numChunks, State: e.state}
}

// ChunkAt returns a reference to the chunk at index i. Callers only ever
// call this for i < a NumChunks they have already observed under the
// mutex, and the chunk slice is never mutated after append, so this is
// safe to call without holding the mutex across the actual network write.
func (e *Entry) ChunkAt(i int) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.chunks[i]
}

// WaitForProgress blocks a consumer that has drained every chunk visible
// in snapshot until either a new chunk arrives or the state becomes
// terminal, then returns the refreshed snapshot.
func (e *Entry) WaitForProgress(sent int) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	for e.numChunks <= sent && e.state == Loading {
		e.cond.Wait()
	}
	return Snapshot{Headers: e.headers, StatusCode: e.statusCode, NumChunks: e.numChunks, State: e.state}
}

// CurrentSnapshot returns progress without blocking.
func (e *Entry) CurrentSnapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{Headers: e.headers, StatusCode: e.statusCode, NumChunks: e.numChunks, State: e.state}
}

// Destroy releases the on-disk mirror and any open handle. Called only by
// the registry/evictor once invariant 6 of spec.md holds: terminal state,
// zero ref count, fetcher not active.
func (e *Entry) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cacheFile != nil {
		e.cacheFile.closeAndRemove()
		e.cacheFile = nil
	}
	e.chunks = nil
}
