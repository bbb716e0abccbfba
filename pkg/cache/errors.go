package cache

import "errors"

var (
	// ErrCacheMiss indicates the key does not exist or has expired.
	ErrCacheMiss = errors.New("cache miss")

	// ErrCorrupt indicates the stored bytes could not be decoded.
	ErrCorrupt = errors.New("cached data corrupt")

	// ErrCacheInvalidation indicates a delete failed.
	ErrCacheInvalidation = errors.New("cache invalidation failed")
)
