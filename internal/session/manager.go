package session

import (
	"context"
	"sync"
	"time"

	"github.com/erp/portal/internal/event"
	"go.uber.org/zap"
)

// Manager owns the in-memory copy of the session on top of a Store.
// Every read hands out a clone; writes go through to storage first.
type Manager struct {
	store  *Store
	bus    *event.Bus
	logger *zap.Logger

	mu      sync.RWMutex
	current *Session
	loaded  bool
}

// NewManager creates a session manager. bus may be nil.
func NewManager(store *Store, bus *event.Bus, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:  store,
		bus:    bus,
		logger: logger,
	}
}

// Load returns the current session, reading storage on first use.
// It returns nil, nil when nobody is signed in.
func (m *Manager) Load(ctx context.Context) (*Session, error) {
	m.mu.RLock()
	if m.loaded {
		defer m.mu.RUnlock()
		return m.current.Clone(), nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.loadLocked(ctx); err != nil {
		return nil, err
	}
	return m.current.Clone(), nil
}

// loadLocked reads storage once; callers hold m.mu for writing
func (m *Manager) loadLocked(ctx context.Context) error {
	if m.loaded {
		return nil
	}
	sess, err := m.store.Load(ctx)
	if err != nil {
		return err
	}
	m.current = sess
	m.loaded = true
	return nil
}

// Current returns the in-memory session without touching storage
func (m *Manager) Current() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Clone()
}

// Save persists sess and makes it current
func (m *Manager) Save(ctx context.Context, sess *Session) error {
	if sess == nil {
		return ErrNoSession
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Save(ctx, sess); err != nil {
		return err
	}
	m.current = sess.Clone()
	m.loaded = true
	return nil
}

// UpdateTokens replaces the access token, and the refresh token when a
// rotated one is given, on the current session.
func (m *Manager) UpdateTokens(ctx context.Context, accessToken, refreshToken string) error {
	m.mu.Lock()

	if err := m.loadLocked(ctx); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.current == nil {
		m.mu.Unlock()
		return ErrNoSession
	}

	next := m.current.Clone()
	next.AccessToken = accessToken
	rotated := refreshToken != "" && refreshToken != next.RefreshToken
	if refreshToken != "" {
		next.RefreshToken = refreshToken
	}
	if err := m.store.Save(ctx, next); err != nil {
		m.mu.Unlock()
		return err
	}
	m.current = next
	m.mu.Unlock()

	m.logger.Debug("session tokens updated", zap.Bool("refresh_rotated", rotated))
	m.bus.Publish(ctx, event.TokensRefreshed{RefreshRotated: rotated, At: time.Now()})
	return nil
}

// SetCompany switches the tenant context used for subsequent requests
func (m *Manager) SetCompany(ctx context.Context, companyID, companyCode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.loadLocked(ctx); err != nil {
		return err
	}
	if m.current == nil {
		return ErrNoSession
	}
	next := m.current.Clone()
	next.CompanyID = companyID
	next.CompanyCode = companyCode
	if err := m.store.Save(ctx, next); err != nil {
		return err
	}
	m.current = next
	return nil
}

// MarkPasswordChanged drops the must-change-password flag
func (m *Manager) MarkPasswordChanged(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.loadLocked(ctx); err != nil {
		return err
	}
	if m.current == nil || !m.current.MustChangePassword {
		return nil
	}
	next := m.current.Clone()
	next.MustChangePassword = false
	if err := m.store.Save(ctx, next); err != nil {
		return err
	}
	m.current = next
	return nil
}

// Clear removes the session and publishes event.AuthExpired so the
// router can send the user back to sign-in. The in-memory copy is
// dropped even when storage fails.
func (m *Manager) Clear(ctx context.Context, reason string) error {
	m.mu.Lock()
	m.current = nil
	m.loaded = true
	err := m.store.Clear(ctx)
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("failed to clear persisted session", zap.Error(err))
	}
	m.logger.Info("session cleared", zap.String("reason", reason))
	m.bus.Publish(ctx, event.AuthExpired{Reason: reason, At: time.Now()})
	return err
}

// Remember reports the persisted remember-me choice
func (m *Manager) Remember(ctx context.Context) (bool, error) {
	return m.store.Remember(ctx)
}

// SetRemember records the remember-me choice
func (m *Manager) SetRemember(ctx context.Context, remember bool) error {
	return m.store.SetRemember(ctx, remember)
}
