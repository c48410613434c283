// Package memory is an in-process store.Store for tests and local
// development, generalizing the teacher's storage/memory package: a single
// mutex guarding a set of maps, with no persistence across restarts.
package memory

import (
	"context"
	gosql "database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/lanonasis/auth-gateway/internal/store"
)

var _ store.Store = (*Store)(nil)

// New returns an in-memory store.Store. The concrete type is returned
// (rather than the store.Store interface) so callers that need to seed
// fixtures can reach AddAdminAccount.
func New() *Store {
	return &Store{
		clients:  make(map[string]store.OAuthClient),
		codes:    make(map[string]store.AuthorizationCode),
		tokens:   make(map[string]store.Token),
		devices:  make(map[string]store.DeviceAuthorization),
		apikeys:  make(map[string]store.ApiKey),
		users:    make(map[string]store.UserAccount),
		sessions: make(map[string]store.Session),
		admins:   make(map[string]store.AdminAccount),
		adminSessions: make(map[string]store.AdminSession),
	}
}

type Store struct {
	mu sync.Mutex

	clients       map[string]store.OAuthClient
	codes         map[string]store.AuthorizationCode   // keyed by lookup hash
	tokens        map[string]store.Token               // keyed by id
	devices       map[string]store.DeviceAuthorization // keyed by id
	apikeys       map[string]store.ApiKey
	users         map[string]store.UserAccount // keyed by email
	sessions      map[string]store.Session
	admins        map[string]store.AdminAccount
	adminSessions map[string]store.AdminSession
}

func (s *Store) Close() error { return nil }

// memTx is a no-op transaction marker: all mutation happens directly
// against Store's maps under its mutex, matching the teacher's memory
// store (no real transactional isolation, since there's only one process
// and one lock). Its database/sql-shaped methods exist only to satisfy
// store.Tx's structural contract with internal/eventlog; callers exercising
// the memory store inject a non-SQL eventlog.Appender fake in tests rather
// than one that actually calls them.
type memTx struct{}

func (memTx) Commit() error   { return nil }
func (memTx) Rollback() error { return nil }

var errMemoryTxUnsupported = errors.New("memory: store.Tx SQL methods are not backed by a real connection")

func (memTx) ExecContext(ctx context.Context, query string, args ...interface{}) (gosql.Result, error) {
	return nil, errMemoryTxUnsupported
}

func (memTx) QueryRowContext(ctx context.Context, query string, args ...interface{}) *gosql.Row {
	return nil
}

func (memTx) QueryContext(ctx context.Context, query string, args ...interface{}) (*gosql.Rows, error) {
	return nil, errMemoryTxUnsupported
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(ctx, memTx{})
}

func (s *Store) CreateClient(ctx context.Context, c store.OAuthClient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c.ClientID]; ok {
		return store.ErrAlreadyExists
	}
	s.clients[c.ClientID] = c
	return nil
}

func (s *Store) GetClient(ctx context.Context, clientID string) (store.OAuthClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[clientID]
	if !ok {
		return store.OAuthClient{}, store.ErrNotFound
	}
	return c, nil
}

func (s *Store) UpdateClient(ctx context.Context, clientID string, updater func(store.OAuthClient) (store.OAuthClient, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[clientID]
	if !ok {
		return store.ErrNotFound
	}
	updated, err := updater(c)
	if err != nil {
		return err
	}
	s.clients[clientID] = updated
	return nil
}

func (s *Store) ListClients(ctx context.Context) ([]store.OAuthClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.OAuthClient, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) CreateAuthorizationCode(ctx context.Context, tx store.Tx, a store.AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.codes[a.LookupHash]; ok {
		return store.ErrAlreadyExists
	}
	s.codes[a.LookupHash] = a
	return nil
}

func (s *Store) ConsumeAuthorizationCode(ctx context.Context, lookupHash, clientID, redirectURI string, now time.Time) (store.AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.codes[lookupHash]
	if !ok {
		return store.AuthorizationCode{}, store.ErrNotFound
	}
	if a.Consumed {
		return store.AuthorizationCode{}, store.ErrConflict
	}
	if a.ClientID != clientID || a.RedirectURI != redirectURI || now.After(a.ExpiresAt) {
		return store.AuthorizationCode{}, store.ErrNotFound
	}
	a.Consumed = true
	a.ConsumedAt = &now
	s.codes[lookupHash] = a
	return a, nil
}

func (s *Store) CreateTokenPair(ctx context.Context, tx store.Tx, access, refresh store.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[refresh.ID]; ok {
		return store.ErrAlreadyExists
	}
	if _, ok := s.tokens[access.ID]; ok {
		return store.ErrAlreadyExists
	}
	s.tokens[refresh.ID] = refresh
	s.tokens[access.ID] = access
	return nil
}

func (s *Store) GetTokenByLookupHash(ctx context.Context, lookupHash string, tokenType store.TokenType) (store.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tokens {
		if t.LookupHash == lookupHash && t.TokenType == tokenType {
			return t, nil
		}
	}
	return store.Token{}, store.ErrNotFound
}

func (s *Store) RevokeToken(ctx context.Context, tx store.Tx, id string, reason store.RevokeReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok || t.Revoked {
		return nil
	}
	now := time.Now()
	t.Revoked = true
	t.RevokedAt = &now
	t.RevokedReason = reason
	s.tokens[id] = t
	return nil
}

func (s *Store) RevokeTokenChain(ctx context.Context, tx store.Tx, rootID string, reason store.RevokeReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revokeChainLocked(rootID, reason)
}

// revokeChainLocked must be called with s.mu held.
func (s *Store) revokeChainLocked(rootID string, reason store.RevokeReason) error {
	root, ok := s.tokens[rootID]
	if !ok {
		return nil
	}
	if !root.Revoked {
		now := time.Now()
		root.Revoked = true
		root.RevokedAt = &now
		root.RevokedReason = reason
		s.tokens[rootID] = root
	}
	for id, t := range s.tokens {
		if t.ParentTokenID != nil && *t.ParentTokenID == rootID {
			if err := s.revokeChainLocked(id, reason); err != nil {
				return err
			}
		}
	}
	return nil
}

// revokeDescendantsLocked revokes every token reachable from rootID via
// ParentTokenID, excluding rootID itself, with reason. Must be called with
// s.mu held.
func (s *Store) revokeDescendantsLocked(rootID string, reason store.RevokeReason) error {
	for id, t := range s.tokens {
		if t.ParentTokenID != nil && *t.ParentTokenID == rootID {
			if !t.Revoked {
				now := time.Now()
				t.Revoked = true
				t.RevokedAt = &now
				t.RevokedReason = reason
				s.tokens[id] = t
			}
			if err := s.revokeDescendantsLocked(id, reason); err != nil {
				return err
			}
		}
	}
	return nil
}

// RotateRefreshToken revokes existingID itself with reason "rotated" and its
// descendant access tokens with reason "ancestor_rotated" (spec.md §4.2),
// then inserts the replacement pair.
func (s *Store) RotateRefreshToken(ctx context.Context, existingID string, newAccess, newRefresh store.Token) (store.Token, store.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if root, ok := s.tokens[existingID]; ok && !root.Revoked {
		now := time.Now()
		root.Revoked = true
		root.RevokedAt = &now
		root.RevokedReason = store.RevokeReasonRotated
		s.tokens[existingID] = root
	}
	if err := s.revokeDescendantsLocked(existingID, store.RevokeReasonAncestorRotated); err != nil {
		return store.Token{}, store.Token{}, err
	}
	if _, ok := s.tokens[newRefresh.ID]; ok {
		return store.Token{}, store.Token{}, store.ErrAlreadyExists
	}
	s.tokens[newRefresh.ID] = newRefresh
	s.tokens[newAccess.ID] = newAccess
	return newAccess, newRefresh, nil
}

func (s *Store) CreateDeviceAuthorization(ctx context.Context, tx store.Tx, d store.DeviceAuthorization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[d.ID]; ok {
		return store.ErrAlreadyExists
	}
	s.devices[d.ID] = d
	return nil
}

func (s *Store) GetDeviceAuthorizationByUserCode(ctx context.Context, userCode string) (store.DeviceAuthorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.devices {
		if d.UserCode == userCode {
			return d, nil
		}
	}
	return store.DeviceAuthorization{}, store.ErrNotFound
}

func (s *Store) GetDeviceAuthorizationByDeviceLookup(ctx context.Context, lookupHash string) (store.DeviceAuthorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.devices {
		if d.DeviceCodeLookup == lookupHash {
			return d, nil
		}
	}
	return store.DeviceAuthorization{}, store.ErrNotFound
}

func (s *Store) UpdateDeviceAuthorization(ctx context.Context, id string, updater func(store.DeviceAuthorization) (store.DeviceAuthorization, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return store.ErrNotFound
	}
	updated, err := updater(d)
	if err != nil {
		return err
	}
	s.devices[id] = updated
	return nil
}

func (s *Store) CreateApiKey(ctx context.Context, tx store.Tx, k store.ApiKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.apikeys[k.ID]; ok {
		return store.ErrAlreadyExists
	}
	s.apikeys[k.ID] = k
	return nil
}

func (s *Store) GetApiKeyByLookupHash(ctx context.Context, lookupHash string) (store.ApiKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.apikeys {
		if k.LookupHash == lookupHash {
			return k, nil
		}
	}
	return store.ApiKey{}, store.ErrNotFound
}

func (s *Store) UpdateApiKey(ctx context.Context, id string, updater func(store.ApiKey) (store.ApiKey, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.apikeys[id]
	if !ok {
		return store.ErrNotFound
	}
	updated, err := updater(k)
	if err != nil {
		return err
	}
	s.apikeys[id] = updated
	return nil
}

func (s *Store) ListApiKeysByUser(ctx context.Context, userID string) ([]store.ApiKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.ApiKey
	for _, k := range s.apikeys {
		if k.UserID == userID {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *Store) TouchApiKeyLastUsed(ctx context.Context, id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.apikeys[id]; ok {
		k.LastUsedAt = &at
		s.apikeys[id] = k
	}
}

func (s *Store) UpsertUser(ctx context.Context, tx store.Tx, u store.UserAccount) (store.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(u.Email)
	if existing, ok := s.users[email]; ok {
		existing.Role = u.Role
		existing.Provider = u.Provider
		existing.LastSignInAt = u.LastSignInAt
		existing.UpdatedAt = u.UpdatedAt
		s.users[email] = existing
		return existing, nil
	}
	s.users[email] = u
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (store.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.UserID == userID {
			return u, nil
		}
	}
	return store.UserAccount{}, store.ErrNotFound
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (store.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[strings.ToLower(email)]
	if !ok {
		return store.UserAccount{}, store.ErrNotFound
	}
	return u, nil
}

func (s *Store) CreateSession(ctx context.Context, tx store.Tx, sess store.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return store.ErrAlreadyExists
	}
	s.sessions[sess.ID] = sess
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return store.Session{}, store.ErrNotFound
	}
	return sess, nil
}

func (s *Store) RevokeSession(ctx context.Context, tx store.Tx, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	sess.Revoked = true
	s.sessions[id] = sess
	return nil
}

func (s *Store) GetAdminAccountByEmail(ctx context.Context, email string) (store.AdminAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.admins[strings.ToLower(email)]
	if !ok {
		return store.AdminAccount{}, store.ErrNotFound
	}
	return a, nil
}

func (s *Store) GetAdminAccount(ctx context.Context, id string) (store.AdminAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.admins {
		if a.ID == id {
			return a, nil
		}
	}
	return store.AdminAccount{}, store.ErrNotFound
}

func (s *Store) UpdateAdminAccount(ctx context.Context, id string, updater func(store.AdminAccount) (store.AdminAccount, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for email, a := range s.admins {
		if a.ID == id {
			updated, err := updater(a)
			if err != nil {
				return err
			}
			delete(s.admins, email)
			s.admins[strings.ToLower(updated.Email)] = updated
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) CreateAdminSession(ctx context.Context, sess store.AdminSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.adminSessions[sess.ID]; ok {
		return store.ErrAlreadyExists
	}
	s.adminSessions[sess.ID] = sess
	return nil
}

func (s *Store) GetAdminSessionByLookupHash(ctx context.Context, lookupHash string) (store.AdminSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.adminSessions {
		if sess.LookupHash == lookupHash {
			return sess, nil
		}
	}
	return store.AdminSession{}, store.ErrNotFound
}

func (s *Store) GarbageCollect(ctx context.Context, now time.Time) (store.GCResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result store.GCResult

	for k, a := range s.codes {
		if now.After(a.ExpiresAt) {
			delete(s.codes, k)
			result.AuthorizationCodes++
		}
	}
	for k, d := range s.devices {
		if now.After(d.ExpiresAt) {
			delete(s.devices, k)
			result.DeviceAuthorizations++
		}
	}
	for k, t := range s.tokens {
		if now.After(t.ExpiresAt) {
			delete(s.tokens, k)
			result.ExpiredTokens++
		}
	}
	return result, nil
}

// AddAdminAccount seeds an admin account directly, bypassing the ordinary
// create path since store.Store has no CreateAdminAccount method (admin
// accounts are provisioned out of band per spec.md §4.8, not through the
// API); tests and local bootstrapping use this to seed one.
func (s *Store) AddAdminAccount(a store.AdminAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admins[strings.ToLower(a.Email)] = a
}
