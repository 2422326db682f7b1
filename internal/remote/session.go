package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"kasirinaja/pos/internal/domain"
)

// Session holds the terminal's tokens. When path is set the tokens are kept
// in a 0600 file so one-shot CLI commands share the login.
type Session struct {
	mu     sync.RWMutex
	path   string
	tokens domain.TokenPair
}

func NewSession(path string) (*Session, error) {
	s := &Session{path: path}
	if path == "" {
		return s, nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	if err := json.Unmarshal(raw, &s.tokens); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return s, nil
}

func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens.AccessToken
}

func (s *Session) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens.RefreshToken
}

func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens.Username
}

func (s *Session) LoggedIn() bool {
	return s.AccessToken() != ""
}

func (s *Session) Set(tokens domain.TokenPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = tokens
	return s.persistLocked()
}

// Clear forgets the tokens, e.g. at logout.
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = domain.TokenPair{}
	if s.path == "" {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}

func (s *Session) persistLocked() error {
	if s.path == "" {
		return nil
	}
	raw, err := json.Marshal(s.tokens)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}
