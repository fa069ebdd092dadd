package server

import (
	"log/slog"
	"net/http"
	"time"
)

const sessionCookieName = "session"

// SessionManager handles cookie-backed sessions.
type SessionManager struct {
	store  *InMemoryStore
	logger *slog.Logger
	ttl    time.Duration
	secure bool
}

// NewSessionManager constructs a session manager honouring config.
func NewSessionManager(cfg Config, store *InMemoryStore, logger *slog.Logger) *SessionManager {
	return &SessionManager{
		store:  store,
		logger: logger,
		ttl:    cfg.Auth.SessionDuration(),
		secure: !cfg.Server.DevMode,
	}
}

// Fetch returns the session associated with the request cookie if
// present and unexpired. Expired sessions are deleted on sight.
func (sm *SessionManager) Fetch(r *http.Request) *Session {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return nil
	}
	sess, ok := sm.store.GetSession(cookie.Value)
	if !ok {
		return nil
	}
	if time.Now().After(sess.ExpiresAt) {
		sm.store.DeleteSession(sess.ID)
		return nil
	}
	return &sess
}

// Create establishes a new session and sets the cookie. Each create
// also sweeps expired sessions, which keeps the store bounded for
// cookie-less clients that mint a fresh session per request.
func (sm *SessionManager) Create(w http.ResponseWriter) *Session {
	sm.store.PruneExpired(time.Now())

	sess := Session{
		ID:        sm.store.NewID(),
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(sm.ttl),
	}
	sm.store.SaveSession(sess)

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(sm.ttl.Seconds()),
	})
	return &sess
}

// Destroy deletes the session behind the request cookie and clears it.
func (sm *SessionManager) Destroy(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		sm.store.DeleteSession(cookie.Value)
		sm.logger.Info("session logged out")
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// LastTarget returns the target affinity recorded on the caller's
// session, if any.
func (sm *SessionManager) LastTarget(r *http.Request) string {
	if sess := sm.Fetch(r); sess != nil {
		return sess.LastTarget
	}
	return ""
}

// RememberTarget records the explicitly addressed target on the
// caller's session so later prefix-less requests resolve to it.
func (sm *SessionManager) RememberTarget(r *http.Request, target string) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return
	}
	sm.store.SetLastTarget(cookie.Value, target)
}
