package cacheentry

import (
	"fmt"
	"path/filepath"
)

// HashURL computes the djb2 hash of url (seed 5381, step hash*33+c), the
// same algorithm original_source/cache.c: hash_url uses, so on-disk
// filenames are deterministic and stable across a from-scratch port.
func HashURL(url string) uint64 {
	var hash uint64 = 5381
	for i := 0; i < len(url); i++ {
		hash = hash*33 + uint64(url[i])
	}
	return hash
}

// CacheFilePath returns the deterministic on-disk mirror path for url under
// dir. The hash alone collides on sufficiently unlucky inputs (spec.md §9
// Open Question 2); an embedded URL-length suffix is cheap insurance that
// keeps two colliding hashes of differently-sized URLs from aliasing the
// same file, per the spec's own recommendation.
func CacheFilePath(dir, url string) string {
	return filepath.Join(dir, fmt.Sprintf("%x-%d.cache", HashURL(url), len(url)))
}
