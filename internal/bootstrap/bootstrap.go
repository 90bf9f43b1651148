// Package bootstrap assembles the editing core from configuration. The API
// server and the terminal client share it.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"picprompter/internal/editor"
	"picprompter/internal/infra"
	"picprompter/internal/infra/safehttp"
	"picprompter/internal/providers/genai"
	"picprompter/internal/storage"
)

// Core is the wired Request Adapter, Storage Uploader and Orchestrator.
type Core struct {
	Generator *genai.Client
	Store     storage.ObjectStore
	Uploader  *storage.Uploader
	Editor    *editor.Orchestrator
	// Static serves the object store over HTTP when it is filesystem backed.
	Static http.Handler
	// Guard vets every user-supplied image URL the core fetches.
	Guard *safehttp.Guard
}

// FetchTimeout bounds a single download of a remote image.
const FetchTimeout = 30 * time.Second

// NewGuard trusts the origins the configured object store publishes on, so
// stored versions stay fetchable even when they live on a private host.
func NewGuard(cfg *infra.Config) *safehttp.Guard {
	if cfg.StorageDriver == infra.StorageDriverS3 {
		return safehttp.NewGuard(cfg.S3PublicBaseURL, cfg.S3Endpoint)
	}
	return safehttp.NewGuard(cfg.StorageBaseURL)
}

// NewObjectStore picks the storage backend named by cfg.StorageDriver.
func NewObjectStore(ctx context.Context, cfg *infra.Config) (storage.ObjectStore, http.Handler, error) {
	switch cfg.StorageDriver {
	case infra.StorageDriverS3:
		store, err := storage.NewS3Store(ctx, storage.S3Options{
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			PublicBaseURL:   cfg.S3PublicBaseURL,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			UsePathStyle:    cfg.S3UsePathStyle,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	case infra.StorageDriverFilesystem, "":
		store, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Handler(), nil
	default:
		return nil, nil, fmt.Errorf("bootstrap: unknown storage driver %q", cfg.StorageDriver)
	}
}

// NewCore wires the generation client, the uploader and the orchestrator.
func NewCore(ctx context.Context, cfg *infra.Config, logger *infra.Logger) (*Core, error) {
	guard := NewGuard(cfg)
	gen, err := genai.NewClient(ctx, genai.Options{
		APIKey:      cfg.GeminiAPIKey,
		BaseURL:     cfg.GeminiBaseURL,
		Model:       cfg.GeminiModel,
		Transport:   cfg.GeminiTransport,
		FetchClient: guard.Client(FetchTimeout),
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	store, static, err := NewObjectStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	uploader := storage.NewUploader(store, cfg.StorageBucket, logger)
	orch := editor.NewOrchestrator(gen, uploader, editor.Options{
		Timeout:             cfg.GenerationTimeout,
		AppendOnEditFailure: cfg.EditFailureAppend,
		Guard:               guard,
		Logger:              logger,
	})
	return &Core{
		Generator: gen,
		Store:     store,
		Uploader:  uploader,
		Editor:    orch,
		Static:    static,
		Guard:     guard,
	}, nil
}
