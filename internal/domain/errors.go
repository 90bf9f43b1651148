package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrValidation          = errors.New("validation failed")
	ErrInvalidPrompt       = errors.New("prompt is required")
	ErrNoImage             = errors.New("no image loaded")
	ErrBusy                = errors.New("a request is already in progress")
	ErrCanceled            = errors.New("request canceled")
	ErrHistoryEmpty        = errors.New("history is empty")
	ErrHistoryLoaded       = errors.New("history already loaded")
	ErrStorageUploadFailed = errors.New("storage upload failed")
)
