// Package blob stores snapshot documents as opaque byte objects keyed by
// path-like names.
package blob

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no object exists under the requested key.
var ErrNotFound = errors.New("blob: object not found")

// Info describes a stored object.
type Info struct {
	Size    int64
	ModTime time.Time
}

// Store is the minimal object storage surface the snapshot pipeline
// needs. Put replaces any existing object under the same key.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Stat(ctx context.Context, key string) (Info, error)
}

// SnapshotKey returns the canonical object key for a user's snapshot.
// One snapshot per user; a new export replaces the previous one.
func SnapshotKey(userID string) string {
	return "snapshots/" + userID + ".json"
}
