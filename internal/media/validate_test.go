package media

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"picprompter/internal/domain"
)

func samplePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestValidateUploadAcceptsImage(t *testing.T) {
	data := samplePNG(t, 4, 3)
	info, err := ValidateUpload(Upload{Filename: "room.png", ContentType: "image/png", Data: data}, 0)
	if err != nil {
		t.Fatalf("ValidateUpload error: %v", err)
	}
	if info.MIMEType != "image/png" || info.Width != 4 || info.Height != 3 {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestValidateUploadRejectsOversized(t *testing.T) {
	_, err := ValidateUpload(Upload{Filename: "big.png", ContentType: "image/png", Size: 15 << 20}, 0)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestValidateUploadRejectsNonImage(t *testing.T) {
	tests := []struct {
		name string
		up   Upload
	}{
		{name: "declared text", up: Upload{ContentType: "text/plain", Data: []byte("hello")}},
		{name: "sniffed text", up: Upload{ContentType: "image/png", Data: []byte("definitely not an image")}},
		{name: "empty", up: Upload{ContentType: "image/png"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ValidateUpload(tc.up, 0); !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}
