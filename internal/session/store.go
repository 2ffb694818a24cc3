package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/erp/portal/internal/storage"
)

// Storage keys
const (
	SessionKey  = "erp.session"
	RememberKey = "erp.remember"
)

// Store persists the session blob and the remember-me flag in a KV
type Store struct {
	kv storage.KV
}

// NewStore creates a session store backed by kv
func NewStore(kv storage.KV) *Store {
	return &Store{kv: kv}
}

// Load returns the persisted session, or nil when there is none.
// An unreadable blob, whether the storage record or the session inside it,
// is discarded and treated as no session.
func (s *Store) Load(ctx context.Context) (*Session, error) {
	data, err := s.kv.Get(ctx, SessionKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, nil
	case errors.Is(err, storage.ErrCorrupt):
		return nil, s.discard(ctx)
	case err != nil:
		return nil, fmt.Errorf("loading session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil || sess.AccessToken == "" {
		return nil, s.discard(ctx)
	}
	return &sess, nil
}

func (s *Store) discard(ctx context.Context) error {
	if err := s.kv.Delete(ctx, SessionKey); err != nil {
		return fmt.Errorf("discarding unreadable session: %w", err)
	}
	return nil
}

// Save persists sess. Without remember-me the refresh token is kept out
// of storage, so a later process cannot silently renew the session.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	if sess == nil {
		return ErrNoSession
	}
	remember, err := s.Remember(ctx)
	if err != nil {
		return err
	}

	persisted := *sess
	if !remember {
		persisted.RefreshToken = ""
	}

	data, err := json.Marshal(persisted)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := s.kv.Set(ctx, SessionKey, data, 0); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// Clear removes the persisted session
func (s *Store) Clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, SessionKey); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}

// Remember reports whether "remember me" was selected at login.
// Unset defaults to true.
func (s *Store) Remember(ctx context.Context) (bool, error) {
	data, err := s.kv.Get(ctx, RememberKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrCorrupt) {
			return true, nil
		}
		return false, fmt.Errorf("loading remember flag: %w", err)
	}
	remember, err := strconv.ParseBool(string(data))
	if err != nil {
		return true, nil
	}
	return remember, nil
}

// SetRemember records the remember-me choice
func (s *Store) SetRemember(ctx context.Context, remember bool) error {
	if err := s.kv.Set(ctx, RememberKey, []byte(strconv.FormatBool(remember)), 0); err != nil {
		return fmt.Errorf("saving remember flag: %w", err)
	}
	return nil
}
