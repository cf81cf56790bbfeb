package marketdata

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"tradermind_backend/models"
)

// totpWindowOffsets is the order in which time windows are tried when
// the provider rejects a one-time code: current window first, then the
// adjacent ones to cover ±1 window of clock skew. Codes are
// time-windowed, so no more attempts are made beyond these.
var totpWindowOffsets = []int{0, -1, 1}

// loginTimeout bounds a login exchange independently of any caller
// context, so a canceled caller cannot abort a login other waiters
// are blocked on.
const loginTimeout = 30 * time.Second

// LoginClient performs the credential exchange against the primary
// provider. Implemented by the angelone provider client.
type LoginClient interface {
	Login(ctx context.Context, clientCode, password, totpCode string) (models.Session, error)
}

// SessionManagerConfig holds the primary provider's credentials and
// session tuning.
type SessionManagerConfig struct {
	Provider      string
	ClientCode    string
	Password      string
	TOTPSecret    string
	RenewalMargin time.Duration
}

// SessionStatus is the externally visible authentication state.
type SessionStatus struct {
	Provider      string     `json:"provider"`
	Authenticated bool       `json:"authenticated"`
	IssuedAt      *time.Time `json:"issued_at,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	LoginCount    int64      `json:"login_count"`
}

// SessionManager owns the primary provider's credential lifecycle:
// one-time-code generation, login, token caching and proactive
// renewal. Login is single-flight: concurrent cache-miss callers
// share one network login.
type SessionManager struct {
	cfg    SessionManagerConfig
	client LoginClient

	mu         sync.RWMutex
	session    models.Session
	loginCount int64

	group singleflight.Group

	// now is replaceable in tests
	now func() time.Time
}

// NewSessionManager creates a session manager for the primary provider.
func NewSessionManager(cfg SessionManagerConfig, client LoginClient) *SessionManager {
	if cfg.RenewalMargin <= 0 {
		cfg.RenewalMargin = 10 * time.Minute
	}
	return &SessionManager{
		cfg:    cfg,
		client: client,
		now:    time.Now,
	}
}

// GetValidToken returns the cached session when it is valid and not
// near expiry, without any network call. Otherwise it performs (or
// joins) a single-flight login.
func (m *SessionManager) GetValidToken(ctx context.Context) (models.Session, error) {
	m.mu.RLock()
	session := m.session
	m.mu.RUnlock()

	if session.Valid(m.now(), m.cfg.RenewalMargin) {
		return session, nil
	}

	// DoChan rather than Do: the login itself runs under its own
	// timeout, while each caller can still bail out on its own ctx
	// without aborting the shared login.
	ch := m.group.DoChan("login", func() (interface{}, error) {
		// Re-check under the flight: another caller may have just
		// finished a login before we were queued.
		m.mu.RLock()
		cached := m.session
		m.mu.RUnlock()
		if cached.Valid(m.now(), m.cfg.RenewalMargin) {
			return cached, nil
		}

		loginCtx, cancel := context.WithTimeout(context.Background(), loginTimeout)
		defer cancel()

		fresh, err := m.login(loginCtx)
		if err != nil {
			return models.Session{}, err
		}

		m.mu.Lock()
		m.session = fresh
		m.loginCount++
		m.mu.Unlock()
		return fresh, nil
	})

	select {
	case <-ctx.Done():
		return models.Session{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return models.Session{}, res.Err
		}
		return res.Val.(models.Session), nil
	}
}

// login exchanges client code, password and a one-time code for a
// session, trying adjacent TOTP windows on code rejection.
func (m *SessionManager) login(ctx context.Context) (models.Session, error) {
	var lastErr error
	for _, offset := range totpWindowOffsets {
		code, err := TOTPCode(m.cfg.TOTPSecret, m.now(), offset)
		if err != nil {
			return models.Session{}, &AuthError{Provider: m.cfg.Provider, Reason: err.Error()}
		}

		session, err := m.client.Login(ctx, m.cfg.ClientCode, m.cfg.Password, code)
		if err == nil {
			log.Printf("Session established for %s, expires %s",
				m.cfg.Provider, session.ExpiresAt.Format(time.RFC3339))
			return session, nil
		}

		if errors.Is(err, ErrTOTPRejected) {
			log.Printf("One-time code rejected for %s (window offset %d), trying adjacent window",
				m.cfg.Provider, offset)
			lastErr = err
			continue
		}

		var authErr *AuthError
		if errors.As(err, &authErr) {
			return models.Session{}, err
		}
		return models.Session{}, err
	}

	return models.Session{}, &AuthError{
		Provider: m.cfg.Provider,
		Reason:   "one-time code rejected in all adjacent windows: " + lastErr.Error(),
	}
}

// Invalidate discards the cached session, forcing the next caller to
// log in again. Used when the provider returns a 401-equivalent.
func (m *SessionManager) Invalidate() {
	m.mu.Lock()
	m.session = models.Session{}
	m.mu.Unlock()
}

// ForceRelogin drops the cached session and performs a fresh login.
func (m *SessionManager) ForceRelogin(ctx context.Context) (models.Session, error) {
	m.Invalidate()
	return m.GetValidToken(ctx)
}

// Status returns a snapshot of the session state for the auth-status
// endpoint.
func (m *SessionManager) Status() SessionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := SessionStatus{
		Provider:      m.cfg.Provider,
		Authenticated: m.session.Valid(m.now(), 0),
		LoginCount:    m.loginCount,
	}
	if m.session.Token != "" {
		issued := m.session.IssuedAt
		expires := m.session.ExpiresAt
		status.IssuedAt = &issued
		status.ExpiresAt = &expires
	}
	return status
}
