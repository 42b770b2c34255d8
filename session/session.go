// Package session keeps track of authenticated browsers.
//
// A session is an opaque random token kept in a cookie, the data itself
// lives in a TokenStore (memory or redis). Losing the store only forces
// users to sign in again.
package session

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/andrebq/doorman/internal/logutil"
	"github.com/andrebq/doorman/ledger"
	"github.com/google/uuid"
)

type (
	Session struct {
		UserID    string          `json:"userId"`
		Username  string          `json:"username"`
		Email     string          `json:"email"`
		Provider  ledger.Provider `json:"provider"`
		CreatedAt time.Time       `json:"createdAt"`
	}

	Manager struct {
		tokens         TokenStore
		cookieName     string
		ttl            time.Duration
		insecureCookie bool
	}

	key byte
)

const (
	DefaultCookieName = "doorman_session"
)

var (
	sessionKey = key(1)
)

func NewManager(tokens TokenStore, cookieName string, ttl time.Duration, allowHTTPCookie bool) *Manager {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &Manager{
		tokens:         tokens,
		cookieName:     cookieName,
		ttl:            ttl,
		insecureCookie: allowHTTPCookie,
	}
}

// Start issues a new session for u and sets the cookie on w.
func (m *Manager) Start(ctx context.Context, w http.ResponseWriter, u ledger.User) (*Session, error) {
	s := Session{
		UserID:    u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Provider:  u.Provider,
		CreatedAt: time.Now().UTC(),
	}
	token := uuid.NewString()
	if err := m.tokens.Save(ctx, token, s); err != nil {
		return nil, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   !m.insecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	return &s, nil
}

// Current returns the session attached to r, or ErrNoSession.
func (m *Manager) Current(r *http.Request) (*Session, error) {
	c, err := r.Cookie(m.cookieName)
	if err != nil || c.Value == "" {
		return nil, ErrNoSession
	}
	return m.tokens.Lookup(r.Context(), c.Value)
}

// End forgets the session attached to r (if any) and clears the cookie.
func (m *Manager) End(w http.ResponseWriter, r *http.Request) error {
	var err error
	if c, cerr := r.Cookie(m.cookieName); cerr == nil && c.Value != "" {
		err = m.tokens.Delete(r.Context(), c.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   !m.insecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	return err
}

// Protect only lets requests with a valid session reach sensitive, others
// are handed to denied.
func (m *Manager) Protect(sensitive http.Handler, denied http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, err := m.Current(r)
		if err != nil {
			if !errors.Is(err, ErrNoSession) {
				log := logutil.GetOrDefault(r.Context())
				log.Error().Err(err).Msg("Unexpected error when checking for session in token store")
			}
			denied.ServeHTTP(w, r)
			return
		}
		sensitive.ServeHTTP(w, r.WithContext(WithSession(r.Context(), s)))
	})
}

func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// FromContext returns the session placed by Protect, or nil.
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionKey).(*Session)
	return s
}
