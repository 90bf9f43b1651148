// Package zip bundles the versions of an editing session into one archive.
package zip

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zip"

	"picprompter/internal/domain"
	"picprompter/internal/media"
)

// ManifestName is the archive entry that lists the versions in order.
const ManifestName = "manifest.json"

type Asset struct {
	Filename string
	MIME     string
	Data     []byte
	Modified time.Time
}

// Fetcher loads a remote image reference and reports its content type.
type Fetcher func(ctx context.Context, ref string) ([]byte, string, error)

type manifestEntry struct {
	Index       int    `json:"index"`
	ID          string `json:"id"`
	Timestamp   string `json:"timestamp"`
	Description string `json:"description"`
	File        string `json:"file"`
}

// VersionAssets resolves every version into an archive entry named by its
// position. Inline images are decoded; anything else goes through fetch.
func VersionAssets(ctx context.Context, versions []domain.ImageVersion, fetch Fetcher) ([]Asset, error) {
	assets := make([]Asset, 0, len(versions)+1)
	manifest := make([]manifestEntry, 0, len(versions))
	for i, v := range versions {
		data, mimeType, err := resolve(ctx, v.ImageRef, fetch)
		if err != nil {
			return nil, fmt.Errorf("zip: version %d: %w", i, err)
		}
		name := fmt.Sprintf("%02d-%s%s", i, v.ID, media.ExtensionForMIME(mimeType))
		assets = append(assets, Asset{Filename: name, MIME: mimeType, Data: data, Modified: v.CreatedAt})
		manifest = append(manifest, manifestEntry{
			Index:       i,
			ID:          v.ID,
			Timestamp:   v.Timestamp,
			Description: v.Description,
			File:        name,
		})
	}
	body, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, err
	}
	assets = append(assets, Asset{Filename: ManifestName, MIME: "application/json", Data: body})
	return assets, nil
}

func resolve(ctx context.Context, ref string, fetch Fetcher) ([]byte, string, error) {
	if media.IsDataURI(ref) {
		uri, err := media.ParseDataURI(ref)
		if err != nil {
			return nil, "", err
		}
		data, err := uri.Bytes()
		return data, uri.MIMEType, err
	}
	if fetch == nil {
		return nil, "", fmt.Errorf("no fetcher for %q", ref)
	}
	data, contentType, err := fetch(ctx, ref)
	if err != nil {
		return nil, "", err
	}
	return data, media.NormalizeContentType(contentType), nil
}

// WriteAssets streams assets into w. Images are stored as they are since
// they are already compressed; everything else is deflated.
func WriteAssets(w io.Writer, assets []Asset) error {
	zw := zip.NewWriter(w)
	for _, asset := range assets {
		hdr := &zip.FileHeader{Name: asset.Filename, Method: zip.Deflate}
		if media.IsImageMIME(asset.MIME) {
			hdr.Method = zip.Store
		}
		if !asset.Modified.IsZero() {
			hdr.Modified = asset.Modified
		}
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("zip: create %s: %w", asset.Filename, err)
		}
		if _, err := fw.Write(asset.Data); err != nil {
			return fmt.Errorf("zip: write %s: %w", asset.Filename, err)
		}
	}
	return zw.Close()
}

func ArchiveAssets(assets []Asset) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := WriteAssets(buf, assets); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
