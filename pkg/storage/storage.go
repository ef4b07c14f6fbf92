// Package storage relocates provider-hosted artifacts into the application's own
// bucket under deterministic, owner-scoped keys.
package storage

import "context"

// ObjectStore is the bucket surface the relocator needs. Put must overwrite an
// existing object at key.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Delete(ctx context.Context, key string) error
	PublicURL(key string) string
}

// Object describes an uploaded artifact.
type Object struct {
	Key      string
	URL      string
	Size     int64
	MimeType string
}
