// Package objectstore implements the core's object-storage contract
// (spec §6): uploading/downloading trial and task directory trees, keyed by
// a deterministic prefix chosen by the caller.
package objectstore

import (
	"context"
	"io"
	"time"
)

// Store is the object-storage contract consumed by the pipeline handlers.
type Store interface {
	// UploadDirectory recursively uploads every file under localDir to keys
	// rooted at prefix.
	UploadDirectory(ctx context.Context, prefix, localDir string) error
	// DownloadPrefix materializes every object under prefix into localDir.
	DownloadPrefix(ctx context.Context, prefix, localDir string) error
	// ListKeys enumerates keys under prefix.
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	// DownloadBytes fetches one object's contents.
	DownloadBytes(ctx context.Context, key string) ([]byte, error)
	// DownloadText is a convenience wrapper around DownloadBytes.
	DownloadText(ctx context.Context, key string) (string, error)
	// Presign returns a time-limited URL for key, valid for ttl. Used only by
	// read-only API collaborators — out of the core's own critical path.
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Reader is satisfied by both *os.File and an S3 GetObject body, used
// internally by implementations that stream rather than buffer.
type Reader = io.ReadCloser
