package redis

import "errors"

// Connection state errors
var (
	// ErrCacheDisabled is returned by every operation when Config.Enabled is false
	ErrCacheDisabled = errors.New("redis cache is disabled")

	// ErrClientNotInitialized is returned when an enabled manager has no client
	ErrClientNotInitialized = errors.New("redis client not initialized")

	// ErrConnectionFailed wraps the reason Ping could not reach the server
	ErrConnectionFailed = errors.New("redis connection failed")
)

// Row cache errors
var (
	// ErrKeyNotFound is returned by Manager.Get on a miss; RowCache reports misses as ok=false instead
	ErrKeyNotFound = errors.New("cache key not found")

	// ErrInvalidKey is returned for table names or key segments the key layout cannot hold
	ErrInvalidKey = errors.New("invalid cache key")

	// ErrSerializationFailed is returned when a cached row or count cannot be encoded or decoded
	ErrSerializationFailed = errors.New("cache serialization failed")
)

// IsCacheDisabled reports whether err comes from a disabled cache
func IsCacheDisabled(err error) bool {
	return errors.Is(err, ErrCacheDisabled)
}

// IsKeyNotFound reports whether err is a cache miss
func IsKeyNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}

// IsConnectionFailed reports whether err is an unreachable server
func IsConnectionFailed(err error) bool {
	return errors.Is(err, ErrConnectionFailed)
}

// IsInvalidKey reports whether err is a rejected key segment
func IsInvalidKey(err error) bool {
	return errors.Is(err, ErrInvalidKey)
}
