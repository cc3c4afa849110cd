// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-webauthn-rp.
//
// go-webauthn-rp is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package server

import (
	"encoding/json"
	"net/http"
)

type healthResponse struct {
	Status string `json:"status"`
}

type createUserRequest struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`

	// SecondFactorEnabled marks the user as satisfying the external
	// second-factor prerequisite, so their first credential enables
	// WebAuthn login enforcement.
	SecondFactorEnabled bool `json:"second_factor_enabled,omitempty"`
}

type createUserResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (s *Server) createUserHandler(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	displayName := req.DisplayName
	if displayName == "" {
		displayName = req.Name
	}

	user, err := s.directory.CreateUser(r.Context(), req.Name, displayName)
	if err != nil {
		http.Error(w, "failed to create user", http.StatusInternalServerError)
		return
	}
	s.directory.SetSecondFactorEnabled(user.ID, req.SecondFactorEnabled)

	s.writeJSON(w, http.StatusCreated, createUserResponse{
		ID:          user.ID,
		Name:        user.Name,
		DisplayName: user.DisplayName,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Errorf("failed to encode JSON response: %v", err)
	}
}
