package media

import (
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"strings"
)

// DefaultImageMIME is assumed when a remote image does not declare its type.
const DefaultImageMIME = "image/jpeg"

// DataURI is a parsed base64 data URI. Payload is kept exactly as it
// appeared in the URI so it can be forwarded without re-encoding.
type DataURI struct {
	MIMEType string
	Payload  string
}

// IsDataURI reports whether s looks like a data URI.
func IsDataURI(s string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(s)), "data:")
}

// IsRemoteURL reports whether s is an http(s) URL.
func IsRemoteURL(s string) bool {
	lower := strings.ToLower(strings.TrimSpace(s))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// ParseDataURI splits a base64 data URI into its mime type and payload.
func ParseDataURI(s string) (DataURI, error) {
	s = strings.TrimSpace(s)
	if !IsDataURI(s) {
		return DataURI{}, fmt.Errorf("media: not a data uri")
	}
	header, payload, ok := strings.Cut(s[len("data:"):], ",")
	if !ok {
		return DataURI{}, fmt.Errorf("media: data uri missing payload separator")
	}
	params := strings.Split(header, ";")
	isBase64 := false
	for _, p := range params[1:] {
		if strings.EqualFold(strings.TrimSpace(p), "base64") {
			isBase64 = true
		}
	}
	if !isBase64 {
		return DataURI{}, fmt.Errorf("media: only base64 data uris are supported")
	}
	if payload == "" {
		return DataURI{}, fmt.Errorf("media: data uri payload is empty")
	}
	mimeType := strings.ToLower(strings.TrimSpace(params[0]))
	if mimeType == "" {
		mimeType = "text/plain"
	}
	return DataURI{MIMEType: mimeType, Payload: payload}, nil
}

// Bytes decodes the payload.
func (d DataURI) Bytes() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(d.Payload)
	if err != nil {
		return nil, fmt.Errorf("media: decode data uri: %w", err)
	}
	return data, nil
}

// String renders the data URI.
func (d DataURI) String() string {
	return FormatDataURI(d.MIMEType, d.Payload)
}

// FormatDataURI joins a mime type and an already encoded base64 payload.
func FormatDataURI(mimeType, payload string) string {
	return "data:" + mimeType + ";base64," + payload
}

// EncodeDataURI base64-encodes data into a data URI.
func EncodeDataURI(mimeType string, data []byte) string {
	return FormatDataURI(mimeType, base64.StdEncoding.EncodeToString(data))
}

// NormalizeContentType strips parameters from a Content-Type header value
// and falls back to DefaultImageMIME.
func NormalizeContentType(contentType string) string {
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		return DefaultImageMIME
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		if idx := strings.Index(contentType, ";"); idx >= 0 {
			contentType = contentType[:idx]
		}
		mediaType = strings.TrimSpace(contentType)
	}
	mediaType = strings.ToLower(mediaType)
	if mediaType == "" {
		return DefaultImageMIME
	}
	return mediaType
}

// ReferenceMIME picks the mime type sent for a fetched reference image. A
// declared image type is kept; otherwise the body is sniffed. Bodies that
// declare no type and cannot be sniffed are assumed to be DefaultImageMIME,
// while bodies declared as something else are rejected.
func ReferenceMIME(contentType string, data []byte) (string, error) {
	declared := ""
	if strings.TrimSpace(contentType) != "" {
		declared = NormalizeContentType(contentType)
	}
	if IsImageMIME(declared) {
		return declared, nil
	}
	if sniffed := NormalizeContentType(http.DetectContentType(data)); IsImageMIME(sniffed) {
		return sniffed, nil
	}
	if declared == "" || declared == "application/octet-stream" {
		return DefaultImageMIME, nil
	}
	return "", fmt.Errorf("media: reference is %s, not an image", declared)
}

// ExtensionForMIME maps common mime types to file extensions.
func ExtensionForMIME(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ""
	}
}

// StorageExtension picks the object extension used by the uploader: png for
// png payloads, jpg for everything else.
func StorageExtension(mimeType string) string {
	if strings.EqualFold(strings.TrimSpace(mimeType), "image/png") {
		return ".png"
	}
	return ".jpg"
}

// IsImageMIME reports whether mimeType names an image type.
func IsImageMIME(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "image/")
}
