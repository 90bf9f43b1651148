package zip

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/klauspost/compress/zip"

	"picprompter/internal/domain"
	"picprompter/internal/media"
)

func TestVersionAssetsArchive(t *testing.T) {
	versions := []domain.ImageVersion{
		{ID: "v0", Timestamp: "10:00", Description: domain.OriginalDescription, ImageRef: media.EncodeDataURI("image/png", []byte("png-bytes"))},
		{ID: "v1", Timestamp: "10:05", Description: "add a plant", ImageRef: "https://cdn.example/v1"},
	}
	fetch := func(ctx context.Context, ref string) ([]byte, string, error) {
		if ref != "https://cdn.example/v1" {
			t.Fatalf("fetch(%q)", ref)
		}
		return []byte("jpeg-bytes"), "image/jpeg; charset=binary", nil
	}

	assets, err := VersionAssets(context.Background(), versions, fetch)
	if err != nil {
		t.Fatalf("VersionAssets returned error: %v", err)
	}
	archive, err := ArchiveAssets(assets)
	if err != nil {
		t.Fatalf("ArchiveAssets returned error: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		t.Fatalf("zip.NewReader returned error: %v", err)
	}
	files := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		data, _ := io.ReadAll(rc)
		rc.Close()
		files[f.Name] = data
		if f.Name != ManifestName && f.Method != zip.Store {
			t.Fatalf("%s method = %d, want Store", f.Name, f.Method)
		}
	}
	if string(files["00-v0.png"]) != "png-bytes" || string(files["01-v1.jpg"]) != "jpeg-bytes" {
		t.Fatalf("archive entries = %v", keys(files))
	}
	var manifest []manifestEntry
	if err := json.Unmarshal(files[ManifestName], &manifest); err != nil {
		t.Fatalf("manifest: %v", err)
	}
	if len(manifest) != 2 || manifest[1].Description != "add a plant" || manifest[1].File != "01-v1.jpg" {
		t.Fatalf("manifest = %+v", manifest)
	}
}

func TestVersionAssetsFetchError(t *testing.T) {
	versions := []domain.ImageVersion{{ID: "v0", ImageRef: "https://cdn.example/x"}}
	boom := errors.New("boom")
	_, err := VersionAssets(context.Background(), versions, func(context.Context, string) ([]byte, string, error) {
		return nil, "", boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped fetch error", err)
	}
	if _, err := VersionAssets(context.Background(), versions, nil); err == nil {
		t.Fatal("nil fetcher returned nil error")
	}
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
