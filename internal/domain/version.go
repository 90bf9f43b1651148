package domain

import "time"

// OriginalDescription labels the seed version of every history.
const OriginalDescription = "Original image"

// ImageVersion is one immutable snapshot of an image plus the prompt that
// produced it.
type ImageVersion struct {
	ID          string    `json:"id"`
	Timestamp   string    `json:"timestamp"`
	Description string    `json:"description"`
	ImageRef    string    `json:"image_ref"`
	CreatedAt   time.Time `json:"created_at"`
}

// IsOriginal reports whether the version is the unmodified seed image.
func (v ImageVersion) IsOriginal() bool {
	return v.Description == OriginalDescription
}
