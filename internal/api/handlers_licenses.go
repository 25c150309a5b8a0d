// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/xg2g-drm/internal/domain/drm/manager"
	"github.com/ManuGH/xg2g-drm/internal/domain/drm/model"
)

func (s *Server) handleListLicenses(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, []*model.OfflineLicense{})
		return
	}
	list, err := s.store.ListLicenses(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "store", Detail: err.Error()})
		return
	}
	if list == nil {
		list = []*model.OfflineLicense{}
	}
	writeJSON(w, http.StatusOK, list)
}

// handleReleaseLicense starts a RELEASE session for the stored license of a
// content id. The release completes asynchronously.
func (s *Server) handleReleaseLicense(w http.ResponseWriter, r *http.Request) {
	contentID := chi.URLParam(r, "contentID")
	sess, err := s.mgr.AcquireSessionWith(r.Context(), s.loop, model.InitData{}, manager.Request{
		Mode:      model.ModeRelease,
		ContentID: contentID,
	})
	if errors.Is(err, manager.ErrKeySetIDRequired) {
		writeNotFound(w)
		return
	}
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.view(sess))
}
