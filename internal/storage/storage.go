// Package storage persists asset image bytes. Two backends: S3 for
// production and the local filesystem for development and tests.
package storage

import (
	"context"
	"io"
)

// BlobStore reads and writes raw image blobs addressed by key.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// drainAndClose reads the rest of a body so connections can be reused.
func drainAndClose(r io.ReadCloser) {
	io.Copy(io.Discard, r) //nolint:errcheck
	r.Close()
}
