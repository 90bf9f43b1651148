package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"picprompter/internal/domain"
	"picprompter/internal/infra"
	"picprompter/internal/media"
)

// DefaultBucket holds generated images unless configured otherwise.
const DefaultBucket = "interior-designs"

const maxPromptMetadata = 512

// Uploader persists generated images and hands back their public URL.
type Uploader struct {
	store  ObjectStore
	bucket string
	logger *infra.Logger

	mu      sync.Mutex
	ensured bool

	newName func() string
}

// NewUploader wires an uploader onto store. An empty bucket selects
// DefaultBucket.
func NewUploader(store ObjectStore, bucket string, logger *infra.Logger) *Uploader {
	if strings.TrimSpace(bucket) == "" {
		bucket = DefaultBucket
	}
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &Uploader{
		store:   store,
		bucket:  bucket,
		logger:  logger,
		newName: func() string { return uuid.NewString() },
	}
}

// Bucket returns the target bucket name.
func (u *Uploader) Bucket() string {
	return u.bucket
}

// EnsureBucket creates the target bucket as public-read if it is missing.
// Success is remembered; concurrent callers wait for the first attempt.
func (u *Uploader) EnsureBucket(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.ensured {
		return nil
	}
	buckets, err := u.store.ListBuckets(ctx)
	if err != nil {
		return fmt.Errorf("list buckets: %w", err)
	}
	for _, b := range buckets {
		if b.Name == u.bucket {
			u.ensured = true
			return nil
		}
	}
	if err := u.store.CreateBucket(ctx, u.bucket, true); err != nil {
		return fmt.Errorf("create bucket %q: %w", u.bucket, err)
	}
	u.logger.Info().Str("bucket", u.bucket).Msg("storage: bucket created")
	u.ensured = true
	return nil
}

// Upload stores a data URI image and returns its public URL. Every failure
// wraps domain.ErrStorageUploadFailed so callers can fall back to the data
// URI itself.
func (u *Uploader) Upload(ctx context.Context, dataURI, prompt string) (string, error) {
	if err := u.EnsureBucket(ctx); err != nil {
		u.logger.Warn().Err(err).Str("bucket", u.bucket).Msg("storage: ensure bucket failed; uploading anyway")
	}

	uri, err := media.ParseDataURI(dataURI)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrStorageUploadFailed, err)
	}
	data, err := uri.Bytes()
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrStorageUploadFailed, err)
	}

	key := u.newName() + media.StorageExtension(uri.MIMEType)
	opts := UploadOptions{
		ContentType: uri.MIMEType,
		Overwrite:   true,
		Metadata: map[string]string{
			"prompt":     truncateUTF8(strings.TrimSpace(prompt), maxPromptMetadata),
			"created-at": time.Now().UTC().Format(time.RFC3339),
		},
	}
	started := time.Now()
	if err := u.store.Upload(ctx, u.bucket, key, data, opts); err != nil {
		u.logger.Error().Err(err).Str("bucket", u.bucket).Str("key", key).Msg("storage: upload failed")
		return "", fmt.Errorf("%w: %w", domain.ErrStorageUploadFailed, err)
	}

	publicURL := u.store.PublicURL(u.bucket, key)
	u.logger.Debug().
		Str("bucket", u.bucket).
		Str("key", key).
		Int("bytes", len(data)).
		Dur("elapsed", time.Since(started)).
		Msg("storage: image uploaded")
	return publicURL, nil
}

func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	s = s[:max]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
