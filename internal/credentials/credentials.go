// Package credentials stores the host's auth token and user record in the
// engine's key-value store. Writes are last-write-wins.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MrWong99/ringer/pkg/kv"
)

// Keys used in the key-value store.
const (
	TokenKey = "auth_token"
	UserKey  = "user_data"
)

// User is the signed-in user record.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Store reads and writes credentials. It is safe for concurrent use if the
// underlying [kv.Store] is.
type Store struct {
	kv kv.Store
}

// New returns a Store backed by s.
func New(s kv.Store) *Store {
	return &Store{kv: s}
}

// Token returns the stored token, or "" if none is stored.
func (s *Store) Token(ctx context.Context) (string, error) {
	v, err := s.kv.Get(ctx, TokenKey)
	if errors.Is(err, kv.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("credentials: get token: %w", err)
	}
	return v, nil
}

// SetToken stores token.
func (s *Store) SetToken(ctx context.Context, token string) error {
	if err := s.kv.Set(ctx, TokenKey, token); err != nil {
		return fmt.Errorf("credentials: set token: %w", err)
	}
	return nil
}

// User returns the stored user and whether one was present.
func (s *Store) User(ctx context.Context) (User, bool, error) {
	v, err := s.kv.Get(ctx, UserKey)
	if errors.Is(err, kv.ErrNotFound) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, fmt.Errorf("credentials: get user: %w", err)
	}
	var u User
	if err := json.Unmarshal([]byte(v), &u); err != nil {
		return User{}, false, fmt.Errorf("credentials: decode user: %w", err)
	}
	return u, true, nil
}

// SetUser stores u.
func (s *Store) SetUser(ctx context.Context, u User) error {
	b, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("credentials: encode user: %w", err)
	}
	if err := s.kv.Set(ctx, UserKey, string(b)); err != nil {
		return fmt.Errorf("credentials: set user: %w", err)
	}
	return nil
}

// Clear removes the token and the user.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, TokenKey, UserKey); err != nil {
		return fmt.Errorf("credentials: clear: %w", err)
	}
	return nil
}
