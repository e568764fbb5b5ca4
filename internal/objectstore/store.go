// Package objectstore persists files a recipe produces (manifests, downloaded
// media) and hands back URLs clients can fetch them from.
package objectstore

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("object not found")

// Store abstracts the asset backend.
type Store interface {
	// Put writes body under key and returns a URL for it.
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	// URL returns a fetchable URL for an existing key.
	URL(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
}

// RunKey builds the key for a file belonging to a run.
func RunKey(runID, name string) string {
	name = strings.TrimLeft(path.Clean("/"+name), "/")
	return path.Join("runs", runID, name)
}
