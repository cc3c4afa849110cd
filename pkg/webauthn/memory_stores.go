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
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryCredentialStore is an in-memory CredentialStore for development
// and testing. All operations are safe for concurrent use; mutations
// run under a single mutex so Insert and UpdateSignCount are atomic.
type MemoryCredentialStore struct {
	mu     sync.RWMutex
	byID   map[string]*Credential
	byExt  map[string]string   // hex(ExternalID) -> id
	byUser map[string][]string // userID -> ids in creation order
}

// NewMemoryCredentialStore creates a new in-memory credential store.
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{
		byID:   make(map[string]*Credential),
		byExt:  make(map[string]string),
		byUser: make(map[string][]string),
	}
}

func extKey(externalID []byte) string {
	return hex.EncodeToString(externalID)
}

func cloneCredential(c *Credential) *Credential {
	out := *c
	if c.LastUsedAt != nil {
		t := *c.LastUsedAt
		out.LastUsedAt = &t
	}
	return &out
}

// Insert atomically stores a new credential, enforcing global
// ExternalID uniqueness and per-user Nickname uniqueness.
func (s *MemoryCredentialStore) Insert(ctx context.Context, cred *Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byExt[extKey(cred.ExternalID)]; exists {
		return ErrCredentialAlreadyRegistered
	}
	for _, id := range s.byUser[cred.UserID] {
		if s.byID[id].Nickname == cred.Nickname {
			return ErrDuplicateNickname
		}
	}

	stored := cloneCredential(cred)
	s.byID[stored.ID] = stored
	s.byExt[extKey(stored.ExternalID)] = stored.ID
	s.byUser[stored.UserID] = append(s.byUser[stored.UserID], stored.ID)
	return nil
}

// GetByExternalID retrieves a credential by its authenticator-issued id.
func (s *MemoryCredentialStore) GetByExternalID(ctx context.Context, externalID []byte) (*Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byExt[extKey(externalID)]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	return cloneCredential(s.byID[id]), nil
}

// ListByUser retrieves a user's credentials in creation order.
func (s *MemoryCredentialStore) ListByUser(ctx context.Context, userID string) ([]*Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byUser[userID]
	out := make([]*Credential, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneCredential(s.byID[id]))
	}
	return out, nil
}

// CountByUser returns the number of credentials a user holds.
func (s *MemoryCredentialStore) CountByUser(ctx context.Context, userID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byUser[userID]), nil
}

// UpdateSignCount advances the sign counter by compare-and-swap.
func (s *MemoryCredentialStore) UpdateSignCount(ctx context.Context, id string, previous, next uint64, usedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.byID[id]
	if !ok {
		return ErrCredentialNotFound
	}
	if cred.SignCount != previous {
		return ErrSignCountStale
	}
	cred.SignCount = next
	cred.UpdatedAt = usedAt
	t := usedAt
	cred.LastUsedAt = &t
	return nil
}

// Delete removes a user's credential by its server-assigned id.
func (s *MemoryCredentialStore) Delete(ctx context.Context, userID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.byID[id]
	if !ok || cred.UserID != userID {
		return ErrCredentialNotFound
	}
	delete(s.byID, id)
	delete(s.byExt, extKey(cred.ExternalID))

	ids := s.byUser[userID]
	for i, other := range ids {
		if other == id {
			s.byUser[userID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(s.byUser[userID]) == 0 {
		delete(s.byUser, userID)
	}
	return nil
}

// MemoryChallengeStore is an in-memory ChallengeStore. Take is atomic
// under the store mutex, so a handle can be consumed exactly once.
// Expiry is enforced lazily by the verifiers; Cleanup sweeps sessions
// whose TTL has long passed.
type MemoryChallengeStore struct {
	mu       sync.Mutex
	sessions map[string]*ChallengeSession
}

// NewMemoryChallengeStore creates a new in-memory challenge store.
func NewMemoryChallengeStore() *MemoryChallengeStore {
	return &MemoryChallengeStore{
		sessions: make(map[string]*ChallengeSession),
	}
}

// Save stores a challenge session under a fresh opaque handle.
func (s *MemoryChallengeStore) Save(ctx context.Context, session *ChallengeSession) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	handle := uuid.NewString()
	copied := *session

	s.mu.Lock()
	s.sessions[handle] = &copied
	s.mu.Unlock()
	return handle, nil
}

// Take retrieves and deletes a session in one atomic step.
func (s *MemoryChallengeStore) Take(ctx context.Context, handle string) (*ChallengeSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[handle]
	if !ok {
		return nil, ErrChallengeInvalid
	}
	delete(s.sessions, handle)
	return session, nil
}

// Delete removes a session without reading it.
func (s *MemoryChallengeStore) Delete(ctx context.Context, handle string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.sessions, handle)
	s.mu.Unlock()
	return nil
}

// Cleanup removes sessions older than the given TTL and returns how
// many were removed. Intended to run periodically from the server.
func (s *MemoryChallengeStore) Cleanup(ttl time.Duration) int {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for handle, session := range s.sessions {
		if session.ExpiredAt(now, ttl) {
			delete(s.sessions, handle)
			removed++
		}
	}
	return removed
}

// Len returns the number of pending sessions.
func (s *MemoryChallengeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// MemoryDirectory is an in-memory Directory for development and
// testing. Production deployments implement Directory against the real
// account system.
type MemoryDirectory struct {
	mu           sync.RWMutex
	users        map[string]*DirectoryUser
	byHandle     map[string]string // hex(handle) -> id
	secondFactor map[string]bool
	required     map[string]bool
}

// NewMemoryDirectory creates a new in-memory user directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		users:        make(map[string]*DirectoryUser),
		byHandle:     make(map[string]string),
		secondFactor: make(map[string]bool),
		required:     make(map[string]bool),
	}
}

// CreateUser adds a user with a generated id and WebAuthn handle.
func (d *MemoryDirectory) CreateUser(ctx context.Context, name, displayName string) (*DirectoryUser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	handle := uuid.New()
	user := &DirectoryUser{
		ID:          uuid.NewString(),
		Handle:      handle[:],
		Name:        name,
		DisplayName: displayName,
	}

	d.mu.Lock()
	d.users[user.ID] = user
	d.byHandle[extKey(user.Handle)] = user.ID
	d.mu.Unlock()

	out := *user
	return &out, nil
}

// SetSecondFactorEnabled records whether the user satisfies the
// external second-factor prerequisite.
func (d *MemoryDirectory) SetSecondFactorEnabled(userID string, enabled bool) {
	d.mu.Lock()
	d.secondFactor[userID] = enabled
	d.mu.Unlock()
}

// GetUser resolves a user by id.
func (d *MemoryDirectory) GetUser(ctx context.Context, userID string) (*DirectoryUser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	user, ok := d.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	out := *user
	return &out, nil
}

// GetUserByHandle resolves a user by WebAuthn user handle.
func (d *MemoryDirectory) GetUserByHandle(ctx context.Context, handle []byte) (*DirectoryUser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	id, ok := d.byHandle[extKey(handle)]
	if !ok {
		return nil, ErrUserNotFound
	}
	out := *d.users[id]
	return &out, nil
}

// SecondFactorEnabled reports the external second-factor prerequisite.
func (d *MemoryDirectory) SecondFactorEnabled(ctx context.Context, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	if _, ok := d.users[userID]; !ok {
		return false, ErrUserNotFound
	}
	return d.secondFactor[userID], nil
}

// WebAuthnRequired reports whether login demands a WebAuthn ceremony.
func (d *MemoryDirectory) WebAuthnRequired(ctx context.Context, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	if _, ok := d.users[userID]; !ok {
		return false, ErrUserNotFound
	}
	return d.required[userID], nil
}

// SetWebAuthnRequired records whether login demands a WebAuthn ceremony.
func (d *MemoryDirectory) SetWebAuthnRequired(ctx context.Context, userID string, required bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.users[userID]; !ok {
		return ErrUserNotFound
	}
	d.required[userID] = required
	return nil
}
