// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package simengine

import (
	"io"
	"net/http"
)

// LicenseServer answers key and provisioning requests for the software
// engine. Requests carrying a signedRequest query parameter are
// provisioning requests.
type LicenseServer struct {
	// DurationSeconds is granted to every license. 0 means unlimited.
	DurationSeconds int64
	// DenyProvisioning answers provisioning with an empty certificate.
	DenyProvisioning bool
}

func (s *LicenseServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.URL.Query().Has("signedRequest") {
		if s.DenyProvisioning {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte("sim-device-certificate:" + r.URL.Query().Get("signedRequest")))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	license, err := IssueLicense(body, s.DurationSeconds)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(license)
}
