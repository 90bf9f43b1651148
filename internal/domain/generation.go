package domain

import (
	"fmt"
	"strings"
)

// FailureKind enumerates why a generation or edit produced no image.
type FailureKind string

const (
	FailureBlockedPrompt    FailureKind = "blocked_prompt"
	FailureNoImageReturned  FailureKind = "no_image_returned"
	FailureTextOnlyResponse FailureKind = "text_only_response"
	FailureTransportError   FailureKind = "transport_error"
)

// GenerationRequest is built per user submission and never persisted.
type GenerationRequest struct {
	Prompt         string `json:"prompt"`
	ReferenceImage string `json:"reference_image,omitempty"`
}

// Validate trims the prompt and rejects empty submissions.
func (r *GenerationRequest) Validate() error {
	r.Prompt = strings.TrimSpace(r.Prompt)
	r.ReferenceImage = strings.TrimSpace(r.ReferenceImage)
	if r.Prompt == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrInvalidPrompt)
	}
	return nil
}

// GenerationFailure is the typed failure arm of GenerationResult.
type GenerationFailure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

func (f *GenerationFailure) Error() string {
	if f.Message == "" {
		return string(f.Kind)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// GenerationResult holds either an image reference or a failure, never both.
type GenerationResult struct {
	ImageRef string
	Failure  *GenerationFailure
}

// Succeeded builds the success arm.
func Succeeded(imageRef string) GenerationResult {
	return GenerationResult{ImageRef: imageRef}
}

// Failed builds the failure arm.
func Failed(kind FailureKind, format string, args ...any) GenerationResult {
	return GenerationResult{Failure: &GenerationFailure{Kind: kind, Message: fmt.Sprintf(format, args...)}}
}

// OK reports whether the result carries an image.
func (r GenerationResult) OK() bool {
	return r.Failure == nil && r.ImageRef != ""
}

// Err returns the failure as an error, or nil on success.
func (r GenerationResult) Err() error {
	if r.Failure != nil {
		return r.Failure
	}
	if r.ImageRef == "" {
		return &GenerationFailure{Kind: FailureNoImageReturned, Message: "empty image reference"}
	}
	return nil
}
