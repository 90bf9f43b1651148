package storage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"picprompter/internal/domain"
)

type fakeStore struct {
	mu         sync.Mutex
	buckets    []Bucket
	listErr    error
	createErr  error
	uploadErr  error
	listCalls  int
	createCall int
	uploads    map[string][]byte
	opts       map[string]UploadOptions
}

func (f *fakeStore) ListBuckets(ctx context.Context) ([]Bucket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]Bucket(nil), f.buckets...), nil
}

func (f *fakeStore) CreateBucket(ctx context.Context, name string, public bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCall++
	if f.createErr != nil {
		return f.createErr
	}
	f.buckets = append(f.buckets, Bucket{Name: name, Public: public})
	return nil
}

func (f *fakeStore) Upload(ctx context.Context, bucket, key string, data []byte, opts UploadOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return f.uploadErr
	}
	if f.uploads == nil {
		f.uploads = map[string][]byte{}
		f.opts = map[string]UploadOptions{}
	}
	f.uploads[bucket+"/"+key] = data
	f.opts[bucket+"/"+key] = opts
	return nil
}

func (f *fakeStore) PublicURL(bucket, key string) string {
	return "https://cdn.example/" + bucket + "/" + key
}

func fixedName(u *Uploader) {
	u.newName = func() string { return "11111111-2222-3333-4444-555555555555" }
}

func TestUploaderUploadPNG(t *testing.T) {
	store := &fakeStore{}
	u := NewUploader(store, "", nil)
	fixedName(u)

	got, err := u.Upload(context.Background(), "data:image/png;base64,aGVsbG8=", "bright kitchen")
	if err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}
	want := "https://cdn.example/interior-designs/11111111-2222-3333-4444-555555555555.png"
	if got != want {
		t.Fatalf("Upload() = %q, want %q", got, want)
	}
	key := "interior-designs/11111111-2222-3333-4444-555555555555.png"
	if string(store.uploads[key]) != "hello" {
		t.Fatalf("stored bytes = %q, want hello", store.uploads[key])
	}
	opts := store.opts[key]
	if !opts.Overwrite || opts.ContentType != "image/png" || opts.Metadata["prompt"] != "bright kitchen" {
		t.Fatalf("opts = %+v", opts)
	}
	if len(store.buckets) != 1 || !store.buckets[0].Public {
		t.Fatalf("buckets = %+v, want one public bucket", store.buckets)
	}
}

func TestUploaderNamesNonPNGAsJPG(t *testing.T) {
	for _, mime := range []string{"image/jpeg", "image/webp"} {
		store := &fakeStore{}
		u := NewUploader(store, "designs", nil)
		got, err := u.Upload(context.Background(), "data:"+mime+";base64,aGVsbG8=", "p")
		if err != nil {
			t.Fatalf("Upload(%s) returned error: %v", mime, err)
		}
		if !strings.HasSuffix(got, ".jpg") {
			t.Fatalf("Upload(%s) = %q, want .jpg suffix", mime, got)
		}
	}
}

func TestUploaderEnsuresBucketOnce(t *testing.T) {
	store := &fakeStore{}
	u := NewUploader(store, "", nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := u.Upload(context.Background(), "data:image/jpeg;base64,aGVsbG8=", "p"); err != nil {
				t.Errorf("Upload returned error: %v", err)
			}
		}()
	}
	wg.Wait()

	if store.listCalls != 1 || store.createCall != 1 {
		t.Fatalf("listCalls=%d createCalls=%d, want 1 and 1", store.listCalls, store.createCall)
	}
	if len(store.uploads) != 16 {
		t.Fatalf("uploads = %d, want 16 distinct objects", len(store.uploads))
	}
}

func TestUploaderSkipsCreateWhenBucketExists(t *testing.T) {
	store := &fakeStore{buckets: []Bucket{{Name: DefaultBucket, Public: true}}}
	u := NewUploader(store, "", nil)
	if _, err := u.Upload(context.Background(), "data:image/jpeg;base64,aGVsbG8=", "p"); err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}
	if store.createCall != 0 {
		t.Fatalf("createCalls = %d, want 0", store.createCall)
	}
}

func TestUploaderProceedsWhenEnsureFails(t *testing.T) {
	store := &fakeStore{listErr: errors.New("permission denied")}
	u := NewUploader(store, "", nil)
	if _, err := u.Upload(context.Background(), "data:image/jpeg;base64,aGVsbG8=", "p"); err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}
	if _, err := u.Upload(context.Background(), "data:image/jpeg;base64,aGVsbG8=", "p"); err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}
	if store.listCalls != 2 {
		t.Fatalf("listCalls = %d, want a retry after failure", store.listCalls)
	}
}

func TestUploaderFailuresWrapSentinel(t *testing.T) {
	cases := []struct {
		name  string
		store *fakeStore
		uri   string
	}{
		{"upload error", &fakeStore{uploadErr: errors.New("disk full")}, "data:image/png;base64,aGVsbG8="},
		{"not a data uri", &fakeStore{}, "https://example.com/a.png"},
		{"bad base64", &fakeStore{}, "data:image/png;base64,@@@"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			u := NewUploader(tc.store, "", nil)
			got, err := u.Upload(context.Background(), tc.uri, "p")
			if !errors.Is(err, domain.ErrStorageUploadFailed) {
				t.Fatalf("err = %v, want ErrStorageUploadFailed", err)
			}
			if got != "" {
				t.Fatalf("Upload() = %q on failure, want empty", got)
			}
		})
	}
}

func TestTruncateUTF8(t *testing.T) {
	s := strings.Repeat("é", 10)
	got := truncateUTF8(s, 5)
	if got != "éé" {
		t.Fatalf("truncateUTF8() = %q, want %q", got, "éé")
	}
}
