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

package http

import (
	"github.com/go-chi/chi/v5"
)

// MountChi mounts WebAuthn routes on a chi router.
//
// Example:
//
//	handler := webauthnhttp.NewHandler(svc)
//	r.Route("/api/v1/webauthn", func(r chi.Router) {
//	    webauthnhttp.MountChi(r, handler)
//	})
func MountChi(r chi.Router, h *Handler) {
	r.Post("/registration/begin", h.BeginRegistration)
	r.Post("/registration/finish", h.FinishRegistration)
	r.Post("/login/begin", h.BeginLogin)
	r.Post("/login/finish", h.FinishLogin)
	r.Get("/login/required", h.LoginRequired)
	r.Get("/credentials", h.ListCredentials)
	r.Delete("/credentials/{id}", h.DeleteCredential)
}
