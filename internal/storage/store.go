package storage

import (
	"context"
	"errors"
)

// ErrObjectExists is returned by Upload when overwrite is disabled and the
// key is already taken.
var ErrObjectExists = errors.New("storage: object already exists")

// Bucket describes a named container of objects.
type Bucket struct {
	Name   string
	Public bool
}

// UploadOptions tunes a single object write.
type UploadOptions struct {
	ContentType string
	Overwrite   bool
	Metadata    map[string]string
}

// ObjectStore is the subset of an object storage service the uploader needs.
type ObjectStore interface {
	ListBuckets(ctx context.Context) ([]Bucket, error)
	// CreateBucket must succeed when the bucket already exists.
	CreateBucket(ctx context.Context, name string, public bool) error
	Upload(ctx context.Context, bucket, key string, data []byte, opts UploadOptions) error
	PublicURL(bucket, key string) string
}
