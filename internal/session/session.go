package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/Alamsyahapriatama/voucher-storage-esp32/internal/localstate"
)

// storageKey is the local state entry holding the resumable session
const storageKey = "auth"

// minPasswordLength is the only rule the local login enforces
const minPasswordLength = 6

// ErrInvalidCredentials reports a rejected login
var ErrInvalidCredentials = errors.New("invalid credentials. Password must be at least 6 characters")

// User is the authenticated principal
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// persisted is the minimal schema written to local state
type persisted struct {
	IsAuthenticated bool   `json:"isAuthenticated"`
	Username        string `json:"username"`
}

// Store keeps the current user and persists enough to resume after a restart.
// Authentication is a local mock: there is no credential check beyond shape.
type Store struct {
	mu   sync.RWMutex
	kv   localstate.KV
	user *User
}

// NewStore creates a Store and resumes any persisted session
func NewStore(kv localstate.KV) *Store {
	s := &Store{kv: kv}
	s.resume()
	return s
}

func newUser(username string) *User {
	return &User{
		ID:       "1",
		Username: username,
		Email:    username + "@example.com",
	}
}

func (s *Store) resume() {
	data, err := s.kv.Get(storageKey)
	if err != nil {
		slog.Warn("Failed to read stored session", "error", err)
		return
	}
	if data == nil {
		return
	}

	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		slog.Error("Error parsing stored auth data", "error", err)
		if delErr := s.kv.Delete(storageKey); delErr != nil {
			slog.Warn("Failed to discard stored session", "error", delErr)
		}
		return
	}
	if p.IsAuthenticated && p.Username != "" {
		s.user = newUser(p.Username)
	}
}

// Login accepts any non-empty username with a password of at least six characters
func (s *Store) Login(username, password string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" || len(password) < minPasswordLength {
		return nil, ErrInvalidCredentials
	}

	data, err := json.Marshal(persisted{IsAuthenticated: true, Username: username})
	if err != nil {
		return nil, fmt.Errorf("marshaling session: %w", err)
	}
	if err := s.kv.Put(storageKey, data); err != nil {
		return nil, fmt.Errorf("persisting session: %w", err)
	}

	user := newUser(username)
	s.mu.Lock()
	s.user = user
	s.mu.Unlock()

	copied := *user
	return &copied, nil
}

// Logout forgets the current user
func (s *Store) Logout() error {
	s.mu.Lock()
	s.user = nil
	s.mu.Unlock()

	if err := s.kv.Delete(storageKey); err != nil {
		return fmt.Errorf("removing session: %w", err)
	}
	return nil
}

// Current returns the logged-in user, or nil
func (s *Store) Current() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	copied := *s.user
	return &copied
}

// IsAuthenticated reports whether a user is logged in
func (s *Store) IsAuthenticated() bool {
	return s.Current() != nil
}
