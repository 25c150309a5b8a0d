// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ManuGH/xg2g-drm/internal/domain/drm/manager"
	"github.com/ManuGH/xg2g-drm/internal/domain/drm/model"
	xglog "github.com/ManuGH/xg2g-drm/internal/log"
)

const maxBodyBytes = 1 << 20

type schemeDataJSON struct {
	// Scheme is a scheme name or UUID. Empty applies to every scheme.
	Scheme   string `json:"scheme"`
	MimeType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

type initDataJSON struct {
	SchemeType string           `json:"schemeType"`
	InitData   []schemeDataJSON `json:"initData"`
}

type acquireRequest struct {
	initDataJSON
	Mode      string `json:"mode"`
	ContentID string `json:"contentId"`
	// KeySetID is the standard base64 encoding of an offline key-set id.
	KeySetID string `json:"keySetId"`
}

type sessionView struct {
	model.SessionRecord
	KeySetID  string `json:"keySetId,omitempty"`
	LastEvent *Event `json:"lastEvent,omitempty"`
}

func (in initDataJSON) toModel() (model.InitData, error) {
	out := model.InitData{SchemeType: in.SchemeType}
	for _, sd := range in.InitData {
		id := uuid.Nil
		if s := strings.TrimSpace(sd.Scheme); s != "" && s != "*" {
			parsed, err := model.ParseScheme(s)
			if err != nil {
				return model.InitData{}, err
			}
			id = parsed
		}
		out.Schemes = append(out.Schemes, model.SchemeData{UUID: id, MimeType: sd.MimeType, Data: sd.Data})
	}
	return out, nil
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) view(sess *manager.Session) sessionView {
	v := sessionView{SessionRecord: sess.Record()}
	if ks := sess.OfflineKeySetID(); !ks.Empty() {
		v.KeySetID = base64.StdEncoding.EncodeToString(ks)
	}
	if ev, ok := s.events.Last(v.SessionID); ok {
		v.LastEvent = &ev
	}
	return v
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mgr.Sessions())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.mgr.Session(chi.URLParam(r, "id"))
	if !ok {
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, s.view(sess))
}

func (s *Server) handleAcquireSession(w http.ResponseWriter, r *http.Request) {
	var body acquireRequest
	if err := decodeBody(r, &body); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	init, err := body.toModel()
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	req := manager.Request{Mode: model.ModePlayback, ContentID: body.ContentID}
	if body.Mode != "" {
		mode, ok := model.ParseMode(strings.ToUpper(body.Mode))
		if !ok {
			writeBadRequest(w, fmt.Sprintf("unknown mode %q", body.Mode))
			return
		}
		req.Mode = mode
	}
	if body.KeySetID != "" {
		ks, err := base64.StdEncoding.DecodeString(body.KeySetID)
		if err != nil {
			writeBadRequest(w, "keySetId must be base64")
			return
		}
		req.OfflineKeySetID = ks
	}

	sess, err := s.mgr.AcquireSessionWith(r.Context(), s.loop, init, req)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	logger := xglog.WithContext(r.Context(), s.logger)
	logger.Info().
		Str(xglog.FieldSessionID, sess.ID()).
		Str(xglog.FieldMode, string(req.Mode)).
		Msg("session acquired via api")
	writeJSON(w, http.StatusCreated, s.view(sess))
}

func (s *Server) handleReleaseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, ok := s.mgr.Session(id)
	if !ok {
		writeNotFound(w)
		return
	}
	if err := s.mgr.ReleaseSession(sess); err != nil {
		writeManagerError(w, err)
		return
	}
	s.events.Forget(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleKeyStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.mgr.Session(chi.URLParam(r, "id"))
	if !ok {
		writeNotFound(w)
		return
	}
	status, err := sess.QueryKeyStatus()
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	var body initDataJSON
	if err := decodeBody(r, &body); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	init, err := body.toModel()
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scheme":    s.mgr.Scheme().String(),
		"supported": s.mgr.CanAcquireSession(init),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.events.Recent())
}
