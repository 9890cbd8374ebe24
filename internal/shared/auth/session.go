// Package auth holds the signed-in user's session: tokens, profile and the
// claims decoded from the access token.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"expensync/internal/infrastructure/api"
	"expensync/internal/infrastructure/crypto"
)

const SessionKey = "@auth_session"

const RoleAdmin = "admin"

// Storage is the durable key-value collaborator the session persists to.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Profile is what login returns besides the tokens.
type Profile struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type state struct {
	AccessToken  string  `json:"accessToken"`
	RefreshToken string  `json:"refreshToken"`
	Profile      Profile `json:"profile"`
}

// Session is safe for concurrent use. The transport reads and refreshes
// tokens through it; the control API installs and clears it.
type Session struct {
	storage   Storage
	encryptor *crypto.Encryptor
	logger    *slog.Logger

	mu sync.RWMutex
	st state
}

// Ensure Session implements api.Credentials
var _ api.Credentials = (*Session)(nil)

// NewSession returns a signed-out session. encryptor may be nil, in which
// case the session is stored in plain JSON.
func NewSession(storage Storage, encryptor *crypto.Encryptor, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{storage: storage, encryptor: encryptor, logger: logger}
}

// Load restores the persisted session. A blob that cannot be decrypted or
// decoded is discarded and the session starts signed out.
func (s *Session) Load(ctx context.Context) error {
	raw, found, err := s.storage.Get(ctx, SessionKey)
	if err != nil {
		return fmt.Errorf("failed to read session: %w", err)
	}
	if !found {
		return nil
	}

	st, err := s.decode(raw)
	if err != nil {
		s.logger.Warn("discarding unreadable session", "error", err)
		if derr := s.storage.Delete(ctx, SessionKey); derr != nil {
			return fmt.Errorf("failed to discard session: %w", derr)
		}
		return nil
	}

	s.mu.Lock()
	s.st = st
	s.mu.Unlock()
	return nil
}

// Install stores the tokens and profile returned by a login.
func (s *Session) Install(ctx context.Context, access, refresh string, p Profile) error {
	if access == "" {
		return fmt.Errorf("%w: access token is required", ErrInvalidToken)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := state{AccessToken: access, RefreshToken: refresh, Profile: p}
	if next.Profile.Role == "" {
		if c, err := ParseClaims(access); err == nil {
			next.Profile.Role = c.Role
		}
	}
	if err := s.persist(ctx, next); err != nil {
		return err
	}
	s.st = next
	return nil
}

func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.AccessToken
}

func (s *Session) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.RefreshToken
}

// SetTokens replaces the tokens after a refresh and keeps the profile. An
// empty refresh token keeps the previous one.
func (s *Session) SetTokens(ctx context.Context, access, refresh string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.st
	next.AccessToken = access
	if refresh != "" {
		next.RefreshToken = refresh
	}
	if err := s.persist(ctx, next); err != nil {
		return err
	}
	s.st = next
	return nil
}

// Clear signs out and removes the persisted session.
func (s *Session) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.st = state{}
	if err := s.storage.Delete(ctx, SessionKey); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *Session) SignedIn() bool {
	return s.AccessToken() != ""
}

func (s *Session) Profile() Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.Profile
}

func (s *Session) IsAdmin() bool {
	return s.Profile().Role == RoleAdmin
}

// Claims decodes the current access token.
func (s *Session) Claims() (*Claims, error) {
	token := s.AccessToken()
	if token == "" {
		return nil, ErrInvalidToken
	}
	return ParseClaims(token)
}

// UserID is the subject of the current access token, or "" when signed out
// or the token is opaque.
func (s *Session) UserID() string {
	c, err := s.Claims()
	if err != nil {
		return ""
	}
	return c.Subject()
}

func (s *Session) persist(ctx context.Context, st state) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if s.encryptor != nil {
		sealed, err := s.encryptor.Encrypt(string(data))
		if err != nil {
			return fmt.Errorf("failed to encrypt session: %w", err)
		}
		data = []byte(sealed)
	}

	if err := s.storage.Set(ctx, SessionKey, data); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}

func (s *Session) decode(raw []byte) (state, error) {
	var st state

	data := raw
	if s.encryptor != nil {
		plain, err := s.encryptor.Decrypt(string(raw))
		if err != nil {
			return st, fmt.Errorf("failed to decrypt session: %w", err)
		}
		data = []byte(plain)
	}

	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return st, nil
}
