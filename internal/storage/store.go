package storage

import (
	"context"
	"time"
)

// ObjectStore keeps generated media and hands out time limited URLs for it.
type ObjectStore interface {
	// Put stores data under key and returns the canonical key.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// SignedURL returns a URL that serves key for at least ttl.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

var (
	_ ObjectStore = (*FileStore)(nil)
	_ ObjectStore = (*SupabaseStore)(nil)
)
