package handlers

import (
	"net/http"

	"picprompter/internal/auth"
	"picprompter/internal/domain"
	"picprompter/internal/kvcache"
)

type imageResponse struct {
	ImageRef string `json:"image_ref"`
}

// ImagesGenerate renders a design from the landing page. The result becomes
// the seed for the next session the user opens.
func (a *App) ImagesGenerate(w http.ResponseWriter, r *http.Request) {
	var req domain.GenerationRequest
	if !a.decode(w, r, &req) {
		return
	}
	user, ok := a.requireUser(w, r, auth.Intent{Action: "generate", Target: req.Prompt})
	if !ok {
		return
	}
	ref, err := a.Editor.Render(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := kvcache.SetWithTTL(r.Context(), a.userKV(user), kvcache.KeyEditImage, ref, a.seedTTL()); err != nil {
		a.log(r).Warn().Err(err).Msg("images: cache seed image")
	}
	a.json(w, http.StatusOK, imageResponse{ImageRef: ref})
}
