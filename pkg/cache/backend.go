package cache

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps failures of the durable cache backend.
var ErrUnavailable = errors.New("cache unavailable")

// Entry is one stored result.
type Entry struct {
	Key          string
	Payload      []byte
	Backend      string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	LastAccessed time.Time
}

// Size is the accounted size of the entry in bytes.
func (e *Entry) Size() int64 {
	return int64(len(e.Payload))
}

// Expired reports whether the entry is logically absent at now.
func (e *Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Backend is a durable key-value store for cache entries.
type Backend interface {
	// Get returns the entry for key, or nil if none is stored.
	Get(ctx context.Context, key string) (*Entry, error)
	// Put upserts e.
	Put(ctx context.Context, e Entry) error
	Delete(ctx context.Context, key string) error
	// DeleteExpiredKey removes key only if its stored entry expired before
	// now, so an entry written concurrently survives.
	DeleteExpiredKey(ctx context.Context, key string, now time.Time) (bool, error)
	// Touch records an access for LRU accounting.
	Touch(ctx context.Context, key string, at time.Time) error
	// DeleteExpired removes entries whose expiry is before now.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	// EvictLRU removes least recently accessed entries until the total size
	// is at most maxBytes.
	EvictLRU(ctx context.Context, maxBytes int64) (int, error)
	Stats(ctx context.Context, now time.Time) (Stats, error)
	Clear(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
	Location() string
	Close() error
}

// Stats summarizes cache contents.
type Stats struct {
	Entries   int    `json:"entries"`
	Expired   int    `json:"expired"`
	SizeBytes int64  `json:"size_bytes"`
	MaxBytes  int64  `json:"max_bytes"`
	Location  string `json:"location"`
}
