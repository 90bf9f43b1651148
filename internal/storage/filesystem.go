package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	publicMarker = ".public"
	metaDir      = ".meta"
)

// FileStore persists objects onto the local filesystem, one directory per
// bucket. It is intended for development and single-node deployments where
// an object storage service is not available; the API serves it under
// /static/.
type FileStore struct {
	basePath string
	baseURL  string
}

// NewFileStore initializes a FileStore rooted at basePath whose objects are
// reachable under baseURL.
func NewFileStore(basePath, baseURL string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{basePath: basePath, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

func (s *FileStore) ListBuckets(ctx context.Context) ([]Bucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("storage: list buckets: %w", err)
	}
	var buckets []Bucket
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		_, statErr := os.Stat(filepath.Join(s.basePath, entry.Name(), publicMarker))
		buckets = append(buckets, Bucket{Name: entry.Name(), Public: statErr == nil})
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Name < buckets[j].Name })
	return buckets, nil
}

func (s *FileStore) CreateBucket(ctx context.Context, name string, public bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := s.bucketDir(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: create bucket: %w", err)
	}
	if public {
		if err := os.WriteFile(filepath.Join(dir, publicMarker), nil, 0o644); err != nil {
			return fmt.Errorf("storage: mark bucket public: %w", err)
		}
	}
	return nil
}

// Upload writes data at bucket/key. Metadata is kept in a hidden sidecar
// that Handler never serves.
func (s *FileStore) Upload(ctx context.Context, bucket, key string, data []byte, opts UploadOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := s.bucketDir(bucket)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("storage: bucket %q: %w", bucket, err)
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return err
	}
	fullPath := filepath.Join(dir, filepath.FromSlash(cleanKey))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("storage: ensure directory: %w", err)
	}

	if opts.Overwrite {
		tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".upload-*")
		if err != nil {
			return fmt.Errorf("storage: write file: %w", err)
		}
		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return fmt.Errorf("storage: write file: %w", err)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmp.Name())
			return fmt.Errorf("storage: write file: %w", err)
		}
		if err := os.Chmod(tmp.Name(), 0o644); err != nil {
			os.Remove(tmp.Name())
			return fmt.Errorf("storage: write file: %w", err)
		}
		if err := os.Rename(tmp.Name(), fullPath); err != nil {
			os.Remove(tmp.Name())
			return fmt.Errorf("storage: write file: %w", err)
		}
	} else {
		f, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			if errors.Is(err, fs.ErrExist) {
				return ErrObjectExists
			}
			return fmt.Errorf("storage: write file: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return fmt.Errorf("storage: write file: %w", err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("storage: write file: %w", err)
		}
	}

	meta := map[string]string{}
	for k, v := range opts.Metadata {
		meta[k] = v
	}
	if opts.ContentType != "" {
		meta["content-type"] = opts.ContentType
	}
	if len(meta) == 0 {
		return nil
	}
	metaPath := filepath.Join(dir, metaDir, filepath.FromSlash(cleanKey)+".json")
	if err := os.MkdirAll(filepath.Dir(metaPath), 0o755); err != nil {
		return fmt.Errorf("storage: ensure metadata directory: %w", err)
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("storage: encode metadata: %w", err)
	}
	if err := os.WriteFile(metaPath, raw, 0o644); err != nil {
		return fmt.Errorf("storage: write metadata: %w", err)
	}
	return nil
}

// Metadata returns what was stored alongside bucket/key.
func (s *FileStore) Metadata(bucket, key string) (map[string]string, error) {
	dir, err := s.bucketDir(bucket)
	if err != nil {
		return nil, err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(filepath.Join(dir, metaDir, filepath.FromSlash(cleanKey)+".json"))
	if err != nil {
		return nil, fmt.Errorf("storage: read metadata: %w", err)
	}
	var meta map[string]string
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("storage: decode metadata: %w", err)
	}
	return meta, nil
}

func (s *FileStore) PublicURL(bucket, key string) string {
	return s.baseURL + "/" + url.PathEscape(bucket) + "/" + escapeKey(key)
}

// Handler serves objects of public buckets. Hidden entries and private
// buckets answer 404.
func (s *FileStore) Handler() http.Handler {
	files := http.FileServer(http.Dir(s.basePath))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clean := strings.Trim(filepath.ToSlash(filepath.Clean("/"+r.URL.Path)), "/")
		segments := strings.Split(clean, "/")
		if clean == "" || len(segments) < 2 {
			http.NotFound(w, r)
			return
		}
		for _, seg := range segments {
			if strings.HasPrefix(seg, ".") {
				http.NotFound(w, r)
				return
			}
		}
		if _, err := os.Stat(filepath.Join(s.basePath, segments[0], publicMarker)); err != nil {
			http.NotFound(w, r)
			return
		}
		info, err := os.Stat(filepath.Join(s.basePath, filepath.FromSlash(clean)))
		if err != nil || info.IsDir() {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})
}

func (s *FileStore) bucketDir(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("storage: invalid bucket name %q", name)
	}
	return filepath.Join(s.basePath, name), nil
}

// sanitizeKey normalizes a key and prevents escaping the bucket root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.ToSlash(filepath.Clean(key))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	for _, seg := range strings.Split(cleaned, "/") {
		if strings.HasPrefix(seg, ".") {
			return "", errors.New("storage: invalid key")
		}
	}
	return cleaned, nil
}

func escapeKey(key string) string {
	segments := strings.Split(strings.TrimLeft(key, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}

var _ ObjectStore = (*FileStore)(nil)
