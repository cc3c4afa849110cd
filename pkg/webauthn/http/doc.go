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

// Package http provides HTTP handlers for WebAuthn ceremonies and
// credential management, designed to mount on a chi router.
//
// The challenge-session handle travels in the X-Session-Id response
// header on begin calls and must be echoed in the same request header
// on finish calls. Finish failures return a single generic
// verification_failed error regardless of which verification step
// rejected the response; the precise kind is logged and counted
// server-side only.
package http
