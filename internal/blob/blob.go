// Package blob abstracts the object store holding acquired artifacts.
// The production implementation targets Cloudflare R2 through its
// S3-compatible API; the store is optional and callers fall back to
// local filesystem paths when none is configured.
package blob

import (
	"context"
	"time"
)

// Store is the narrow boundary the orchestrator and registry depend on.
type Store interface {
	// Put uploads the local file under the given storage key.
	Put(ctx context.Context, storageKey string, localPath string) error
	// Delete removes the object; deleting a missing object is not an error.
	Delete(ctx context.Context, storageKey string) error
	// Exists reports whether the object is present.
	Exists(ctx context.Context, storageKey string) (bool, error)
	// Size returns the object's byte size, or (0, nil) when absent.
	Size(ctx context.Context, storageKey string) (int64, error)
	// PresignedURL returns a time-limited URL for streaming the object.
	PresignedURL(ctx context.Context, storageKey string, ttl time.Duration) (string, error)
}
