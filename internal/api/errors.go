// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/xg2g-drm/internal/domain/drm/manager"
)

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeNotFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found"})
}

func writeBadRequest(w http.ResponseWriter, detail string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Detail: detail})
}

// writeManagerError maps manager errors to HTTP status codes.
func writeManagerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, manager.ErrInvalidMode), errors.Is(err, manager.ErrKeySetIDRequired):
		writeBadRequest(w, err.Error())
	case errors.Is(err, manager.ErrSessionReleased):
		writeJSON(w, http.StatusGone, errorBody{Error: "released", Detail: err.Error()})
	case errors.Is(err, manager.ErrInvalidState):
		writeJSON(w, http.StatusConflict, errorBody{Error: "invalid_state", Detail: err.Error()})
	case errors.Is(err, manager.ErrManagerClosed):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "shutting_down"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal", Detail: err.Error()})
	}
}
