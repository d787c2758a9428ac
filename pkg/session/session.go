package session

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/trail/pkg/log"
	"github.com/cuemby/trail/pkg/metrics"
	"github.com/cuemby/trail/pkg/storage"
	"github.com/cuemby/trail/pkg/types"
	"github.com/rs/zerolog"
)

// Credential store keys
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyAPIKey       = "api_key"
	KeyUserID       = "current_user_id"
	KeyExpiresAt    = "expiry_epoch"
	KeyPinRequired  = "pin_required"
	KeyPinHash      = "pin_hash"
)

var sessionKeys = []string{KeyAccessToken, KeyRefreshToken, KeyAPIKey, KeyUserID, KeyExpiresAt, KeyPinRequired}

// ErrNoSession is returned when an operation needs a signed-in user
var ErrNoSession = errors.New("no active session")

// Session is the process-wide auth context. It owns the SessionCredential
// and the auth state, and persists both through a CredentialStore.
type Session struct {
	store  storage.CredentialStore
	logger zerolog.Logger

	mu    sync.RWMutex
	cred  types.SessionCredential
	state types.AuthState
	// state to restore when a refresh is abandoned without a verdict
	prior types.AuthState
}

// New loads the session from the store
func New(store storage.CredentialStore) (*Session, error) {
	s := &Session{
		store:  store,
		logger: log.WithComponent("session"),
		state:  types.AuthStateLoggedOut,
	}

	values := make(map[string]string, len(sessionKeys))
	for _, k := range sessionKeys {
		v, found, err := store.Get(k)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", k, err)
		}
		if found {
			values[k] = v
		}
	}

	s.cred = types.SessionCredential{
		AccessToken:  values[KeyAccessToken],
		RefreshToken: values[KeyRefreshToken],
		APIKey:       values[KeyAPIKey],
		UserID:       values[KeyUserID],
	}
	if epoch, err := strconv.ParseInt(values[KeyExpiresAt], 10, 64); err == nil {
		s.cred.ExpiresAt = time.Unix(epoch, 0)
	}

	switch {
	case s.cred.UserID == "":
		s.state = types.AuthStateLoggedOut
	case values[KeyPinRequired] == "true":
		s.state = types.AuthStatePinRequired
	default:
		s.state = types.AuthStateAuthenticated
	}
	metrics.SetAuthState(s.state)

	return s, nil
}

// Login stores a fresh credential and marks the session authenticated
func (s *Session) Login(cred types.SessionCredential) error {
	if !cred.Valid() {
		return fmt.Errorf("login: access token and user id are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.persist(cred); err != nil {
		return err
	}
	if err := s.store.Delete(KeyPinRequired); err != nil {
		return fmt.Errorf("failed to clear pin flag: %w", err)
	}

	s.cred = cred
	s.setState(types.AuthStateAuthenticated)
	return nil
}

// Credential returns a copy of the current credential
func (s *Session) Credential() (types.SessionCredential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred, s.state != types.AuthStateLoggedOut
}

// UserID returns the signed-in user, or "" when logged out
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == types.AuthStateLoggedOut {
		return ""
	}
	return s.cred.UserID
}

// State returns the current auth state
func (s *Session) State() types.AuthState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// BeginRefresh moves the session to RefreshPending and returns the
// credential the refresh should use
func (s *Session) BeginRefresh() (types.SessionCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case types.AuthStateLoggedOut:
		return types.SessionCredential{}, ErrNoSession
	case types.AuthStateRefreshPending:
		return s.cred, nil
	}
	if s.cred.RefreshToken == "" {
		return types.SessionCredential{}, ErrNoSession
	}

	s.prior = s.state
	s.setState(types.AuthStateRefreshPending)
	return s.cred, nil
}

// CompleteRefresh stores the refreshed tokens and returns to Authenticated.
// It also clears a pending PIN requirement.
func (s *Session) CompleteRefresh(accessToken, refreshToken string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == types.AuthStateLoggedOut {
		return ErrNoSession
	}

	cred := s.cred
	cred.AccessToken = accessToken
	if refreshToken != "" {
		cred.RefreshToken = refreshToken
	}
	cred.ExpiresAt = expiresAt

	if err := s.persist(cred); err != nil {
		return err
	}
	if err := s.store.Delete(KeyPinRequired); err != nil {
		return fmt.Errorf("failed to clear pin flag: %w", err)
	}

	s.cred = cred
	s.setState(types.AuthStateAuthenticated)
	return nil
}

// RequirePin parks the session until the PIN gate unlocks it. The refresh
// token is kept so the unlock can retry it.
func (s *Session) RequirePin() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == types.AuthStateLoggedOut {
		return ErrNoSession
	}
	if err := s.store.Set(map[string]string{KeyPinRequired: "true"}); err != nil {
		return fmt.Errorf("failed to persist pin flag: %w", err)
	}
	s.setState(types.AuthStatePinRequired)
	return nil
}

// AbortRefresh restores the state held before BeginRefresh. Used when the
// refresh produced no verdict (no response at all).
func (s *Session) AbortRefresh() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != types.AuthStateRefreshPending {
		return
	}
	prior := s.prior
	if prior == "" {
		prior = types.AuthStateAuthenticated
	}
	s.setState(prior)
}

// Logout clears every session credential. The PIN hash is a device setting
// and survives.
func (s *Session) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Delete(sessionKeys...); err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	s.cred = types.SessionCredential{}
	s.setState(types.AuthStateLoggedOut)
	return nil
}

// HasPin reports whether a local PIN is configured
func (s *Session) HasPin() bool {
	_, found, err := s.store.Get(KeyPinHash)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to read pin hash")
		return false
	}
	return found
}

// PinHash returns the stored PIN hash
func (s *Session) PinHash() (string, bool, error) {
	return s.store.Get(KeyPinHash)
}

// SetPinHash stores the PIN hash
func (s *Session) SetPinHash(hash string) error {
	return s.store.Set(map[string]string{KeyPinHash: hash})
}

// ClearPinHash removes the PIN
func (s *Session) ClearPinHash() error {
	return s.store.Delete(KeyPinHash)
}

// persist writes cred to the store; caller holds mu
func (s *Session) persist(cred types.SessionCredential) error {
	values := map[string]string{
		KeyAccessToken:  cred.AccessToken,
		KeyRefreshToken: cred.RefreshToken,
		KeyAPIKey:       cred.APIKey,
		KeyUserID:       cred.UserID,
		KeyExpiresAt:    strconv.FormatInt(cred.ExpiresAt.Unix(), 10),
	}
	if err := s.store.Set(values); err != nil {
		return fmt.Errorf("failed to persist credentials: %w", err)
	}
	return nil
}

// setState records a transition; caller holds mu
func (s *Session) setState(state types.AuthState) {
	if s.state == state {
		return
	}
	s.logger.Info().
		Str("from", string(s.state)).
		Str("to", string(state)).
		Msg("Session state changed")
	s.state = state
	metrics.SetAuthState(state)
}
