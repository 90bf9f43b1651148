package media

import (
	"bytes"
	"fmt"
	"image"
	"net/http"
	"strings"

	// Registered for DecodeConfig.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"picprompter/internal/domain"
)

// MaxUploadBytes is the largest accepted user upload.
const MaxUploadBytes int64 = 10 << 20

// Upload describes a user supplied file before it reaches the network layer.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Data        []byte
}

// UploadInfo is returned for an accepted upload.
type UploadInfo struct {
	MIMEType string
	Width    int
	Height   int
}

// ValidateUpload enforces the image-only and size limits. It never touches
// the network.
func ValidateUpload(u Upload, maxBytes int64) (UploadInfo, error) {
	if maxBytes <= 0 {
		maxBytes = MaxUploadBytes
	}
	size := u.Size
	if size <= 0 {
		size = int64(len(u.Data))
	}
	if size > maxBytes {
		return UploadInfo{}, fmt.Errorf("%w: file size should be less than %dMB", domain.ErrValidation, maxBytes>>20)
	}
	declared := NormalizeContentType(u.ContentType)
	if u.ContentType != "" && !strings.HasPrefix(declared, "image/") {
		return UploadInfo{}, fmt.Errorf("%w: please select an image file", domain.ErrValidation)
	}
	if len(u.Data) == 0 {
		return UploadInfo{}, fmt.Errorf("%w: file is empty", domain.ErrValidation)
	}
	sniffed := NormalizeContentType(http.DetectContentType(u.Data))
	if !strings.HasPrefix(sniffed, "image/") {
		return UploadInfo{}, fmt.Errorf("%w: please select an image file", domain.ErrValidation)
	}
	info := UploadInfo{MIMEType: sniffed}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(u.Data)); err == nil {
		info.Width, info.Height = cfg.Width, cfg.Height
	}
	return info, nil
}
