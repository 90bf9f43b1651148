package bootstrap

import (
	"context"
	"testing"
	"time"

	"picprompter/internal/infra"
	"picprompter/internal/storage"
)

func TestNewCoreFilesystem(t *testing.T) {
	cfg := &infra.Config{
		GeminiAPIKey:      "test-key",
		GeminiTransport:   infra.TransportREST,
		GenerationTimeout: time.Second,
		StorageDriver:     infra.StorageDriverFilesystem,
		StoragePath:       t.TempDir(),
		StorageBaseURL:    "http://localhost:8080/static",
	}
	core, err := NewCore(context.Background(), cfg, infra.DiscardLogger())
	if err != nil {
		t.Fatalf("NewCore returned error: %v", err)
	}
	if core.Static == nil {
		t.Fatal("filesystem store without static handler")
	}
	if _, ok := core.Store.(*storage.FileStore); !ok {
		t.Fatalf("Store = %T, want *storage.FileStore", core.Store)
	}
	if core.Uploader.Bucket() != storage.DefaultBucket {
		t.Fatalf("Bucket() = %q", core.Uploader.Bucket())
	}
}

func TestNewCoreRejectsMissingKey(t *testing.T) {
	cfg := &infra.Config{StorageDriver: infra.StorageDriverFilesystem, StoragePath: t.TempDir()}
	if _, err := NewCore(context.Background(), cfg, nil); err == nil {
		t.Fatal("NewCore without api key returned nil error")
	}
}

func TestNewObjectStoreUnknownDriver(t *testing.T) {
	if _, _, err := NewObjectStore(context.Background(), &infra.Config{StorageDriver: "ftp"}); err == nil {
		t.Fatal("NewObjectStore(ftp) returned nil error")
	}
}

func TestNewGuardTrustsOwnStorage(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *infra.Config
		trusted string
		blocked string
	}{
		{
			name:    "filesystem",
			cfg:     &infra.Config{StorageDriver: infra.StorageDriverFilesystem, StorageBaseURL: "http://localhost:8080/static"},
			trusted: "http://localhost:8080/static/designs/a.png",
			blocked: "http://localhost:6379/",
		},
		{
			name:    "s3",
			cfg:     &infra.Config{StorageDriver: infra.StorageDriverS3, S3Endpoint: "http://127.0.0.1:9000"},
			trusted: "http://127.0.0.1:9000/bucket/a.png",
			blocked: "http://127.0.0.1:8080/static/a.png",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			guard := NewGuard(tt.cfg)
			if err := guard.CheckURL(tt.trusted); err != nil {
				t.Fatalf("CheckURL(%q) = %v", tt.trusted, err)
			}
			if err := guard.CheckURL(tt.blocked); err == nil {
				t.Fatalf("CheckURL(%q) allowed an internal host", tt.blocked)
			}
		})
	}
}
