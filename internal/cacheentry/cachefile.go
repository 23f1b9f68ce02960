package cacheentry

import "os"

// cacheFile is the on-disk mirror for an entry's body, one opaque blob per
// entry as spec.md's scope requires. It is written only by the fetcher;
// no other goroutine touches it. A failure to open or write is tolerated —
// the in-memory cache remains authoritative, and losing the disk mirror is
// not fatal to a fetch in progress.
type cacheFile struct {
	path string
	fd   *os.File
}

func openCacheFile(path string) *cacheFile {
	fd, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return &cacheFile{path: path}
	}
	return &cacheFile{path: path, fd: fd}
}

func (c *cacheFile) write(b []byte) {
	if c == nil || c.fd == nil {
		return
	}
	_, _ = c.fd.Write(b)
}

func (c *cacheFile) close() {
	if c == nil || c.fd == nil {
		return
	}
	_ = c.fd.Close()
	c.fd = nil
}

func (c *cacheFile) closeAndRemove() {
	if c == nil {
		return
	}
	if c.fd != nil {
		_ = c.fd.Close()
		c.fd = nil
	}
	_ = os.Remove(c.path)
}
