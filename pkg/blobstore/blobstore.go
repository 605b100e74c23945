// Package blobstore is the durable byte store behind the historical bar
// cache: opaque get/set/delete keyed by string, each value replaced as an
// atomic whole.
package blobstore

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("blobstore: key not found")

// Store is an opaque durable byte store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}
