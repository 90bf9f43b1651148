package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"picprompter/internal/auth"
	"picprompter/internal/domain"
	"picprompter/internal/editor"
	"picprompter/internal/kvcache"
	"picprompter/internal/media"
	"picprompter/internal/middleware"
)

type uploadResponse struct {
	MIMEType string       `json:"mime_type"`
	Width    int          `json:"width"`
	Height   int          `json:"height"`
	Session  editor.State `json:"session"`
}

// Uploads accepts a user image, caches it as the edit seed and opens a
// session on it.
func (a *App) Uploads(w http.ResponseWriter, r *http.Request) {
	user, ok := a.requireUser(w, r, auth.Intent{Action: "upload"})
	if !ok {
		return
	}
	maxBytes := a.maxUpload()
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+(1<<20))
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.fail(w, r, fmt.Errorf("%w: file size should be less than %dMB", domain.ErrValidation, maxBytes>>20))
			return
		}
		a.error(w, http.StatusBadRequest, "bad_request", "multipart form with a file field is required")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "file is required")
		return
	}
	defer file.Close()
	if header.Size > maxBytes {
		a.fail(w, r, fmt.Errorf("%w: file size should be less than %dMB", domain.ErrValidation, maxBytes>>20))
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "could not read file")
		return
	}
	info, err := media.ValidateUpload(media.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        int64(len(data)),
		Data:        data,
	}, maxBytes)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	seed := media.EncodeDataURI(info.MIMEType, data)
	if err := kvcache.SetWithTTL(r.Context(), a.userKV(user), kvcache.KeyEditImage, seed, a.seedTTL()); err != nil {
		a.log(r).Warn().Err(err).Msg("uploads: cache seed image")
	}
	session := a.Sessions.Create(user.ID, middleware.LocaleFromContext(r.Context()))
	if _, err := a.Editor.Seed(session, seed); err != nil {
		a.Sessions.Delete(session.ID, user.ID)
		a.fail(w, r, err)
		return
	}
	a.log(r).Info().Str("session_id", session.ID).Str("mime", info.MIMEType).Int("width", info.Width).Int("height", info.Height).Msg("uploads: session opened")
	a.json(w, http.StatusCreated, uploadResponse{
		MIMEType: info.MIMEType,
		Width:    info.Width,
		Height:   info.Height,
		Session:  session.State(),
	})
}

func (a *App) maxUpload() int64 {
	if a.Config != nil && a.Config.MaxUploadBytes > 0 {
		return a.Config.MaxUploadBytes
	}
	return media.MaxUploadBytes
}
