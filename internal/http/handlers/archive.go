package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"picprompter/internal/auth"
	"picprompter/pkg/zip"
)

const maxArchiveImageBytes = 20 << 20

// SessionArchive downloads every version of a session as a zip file.
func (a *App) SessionArchive(w http.ResponseWriter, r *http.Request) {
	session, ok := a.session(w, r, auth.Intent{Action: "download"})
	if !ok {
		return
	}
	versions := session.History.Versions()
	if len(versions) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "session has no versions")
		return
	}
	assets, err := zip.VersionAssets(r.Context(), versions, a.fetchImage)
	if err != nil {
		a.log(r).Warn().Err(err).Str("session_id", session.ID).Msg("archive: resolve versions")
		a.error(w, http.StatusBadGateway, "transport_error", "could not load every version")
		return
	}
	archive, err := zip.ArchiveAssets(assets)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=session-%s.zip", session.ID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}

func (a *App) fetchImage(ctx context.Context, ref string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("fetch %s: status %d", ref, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArchiveImageBytes))
	if err != nil {
		return nil, "", err
	}
	return data, resp.Header.Get("Content-Type"), nil
}
