package store

import (
	"context"
	"time"
)

// Stats contains aggregate statistics about persisted snapshots.
type Stats struct {
	Keys        int
	TotalBytes  int64
	LastWritten time.Time
}

// Store is a key/value byte-string store that survives restarts.
// Get returns ErrNotFound for a key that was never set.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	GetStats(ctx context.Context) (*Stats, error)
	Close() error
}
