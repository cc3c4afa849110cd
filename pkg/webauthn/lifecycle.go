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

package webauthn

import (
	"context"
	"sync"
)

// CredentialLifecycleManager couples credential writes to the per-user
// "WebAuthn required for login" flag in the external directory.
//
// Invariant: the flag is enabled on the 0-to-1 credential transition
// (when the second-factor prerequisite holds) and cleared on the
// last-credential removal. Both transitions run under a per-user lock
// so the flag can never be observed true while the user holds zero
// credentials.
type CredentialLifecycleManager struct {
	creds     CredentialStore
	directory Directory

	mu    sync.Mutex
	users map[string]*sync.Mutex
}

// NewCredentialLifecycleManager creates a lifecycle manager over the
// given credential store and user directory.
func NewCredentialLifecycleManager(creds CredentialStore, directory Directory) *CredentialLifecycleManager {
	return &CredentialLifecycleManager{
		creds:     creds,
		directory: directory,
		users:     make(map[string]*sync.Mutex),
	}
}

func (m *CredentialLifecycleManager) lockUser(userID string) func() {
	m.mu.Lock()
	lock, ok := m.users[userID]
	if !ok {
		lock = &sync.Mutex{}
		m.users[userID] = lock
	}
	m.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// AddCredential inserts the credential and, on the user's first
// credential, enables login enforcement when the directory reports the
// second-factor prerequisite as satisfied.
func (m *CredentialLifecycleManager) AddCredential(ctx context.Context, cred *Credential) error {
	unlock := m.lockUser(cred.UserID)
	defer unlock()

	if err := m.creds.Insert(ctx, cred); err != nil {
		return storageErr(err)
	}
	count, err := m.creds.CountByUser(ctx, cred.UserID)
	if err != nil {
		return storageErr(err)
	}
	if count != 1 {
		return nil
	}

	enabled, err := m.directory.SecondFactorEnabled(ctx, cred.UserID)
	if err != nil {
		return storageErr(err)
	}
	if !enabled {
		return nil
	}
	return storageErr(m.directory.SetWebAuthnRequired(ctx, cred.UserID, true))
}

// RemoveCredential deletes the credential and, when it was the user's
// last one, clears login enforcement so the user is not locked out of
// an authentication method they can no longer complete.
func (m *CredentialLifecycleManager) RemoveCredential(ctx context.Context, userID, credentialID string) error {
	unlock := m.lockUser(userID)
	defer unlock()

	if err := m.creds.Delete(ctx, userID, credentialID); err != nil {
		return storageErr(err)
	}
	count, err := m.creds.CountByUser(ctx, userID)
	if err != nil {
		return storageErr(err)
	}
	if count > 0 {
		return nil
	}
	return storageErr(m.directory.SetWebAuthnRequired(ctx, userID, false))
}

// RequiredForLogin reports whether login currently demands a WebAuthn
// ceremony for the user.
func (m *CredentialLifecycleManager) RequiredForLogin(ctx context.Context, userID string) (bool, error) {
	required, err := m.directory.WebAuthnRequired(ctx, userID)
	if err != nil {
		return false, storageErr(err)
	}
	return required, nil
}
