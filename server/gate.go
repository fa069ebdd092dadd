package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"net/url"
)

// AccessGate is the yes/no authorization decision in front of the
// proxy. The two implementations cover the operator's choice: a
// password form backed by cookie sessions, or an identity-aware
// frontend that injects a signed assertion header.
type AccessGate interface {
	// Authorize reports whether the caller may proceed and, when it
	// can, the identity to log.
	Authorize(r *http.Request) (identity string, ok bool)

	// Challenge writes the response steering an unauthorized caller
	// toward authentication.
	Challenge(w http.ResponseWriter, r *http.Request)
}

// PasswordGate authorizes callers holding a live session established
// through the login form.
type PasswordGate struct {
	password string
	sessions *SessionManager
	logger   *slog.Logger
}

// NewPasswordGate constructs the gate.
func NewPasswordGate(cfg Config, sessions *SessionManager, logger *slog.Logger) *PasswordGate {
	return &PasswordGate{password: cfg.Auth.Password, sessions: sessions, logger: logger}
}

// Authorize accepts any request carrying a live session cookie.
func (g *PasswordGate) Authorize(r *http.Request) (string, bool) {
	sess := g.sessions.Fetch(r)
	if sess == nil {
		return "", false
	}
	return "session", true
}

// Challenge redirects to the login page, preserving the original path
// so the caller lands back where they aimed.
func (g *PasswordGate) Challenge(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/login?next="+url.QueryEscape(r.URL.Path), http.StatusFound)
}

// CheckPassword performs the constant-time comparison for the login
// form handler.
func (g *PasswordGate) CheckPassword(candidate string) bool {
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(g.password)) == 1
}

// AssertionGate authorizes callers whose requests carry a signed
// assertion header injected by the identity-aware frontend. The proxy
// verifies the signature rather than trusting the header blindly; a
// request that reaches the proxy without traversing the frontend
// carries no verifiable assertion and is rejected.
type AssertionGate struct {
	verifier *AssertionVerifier
	sessions *SessionManager
	logger   *slog.Logger
}

// NewAssertionGate constructs the gate over the verifier.
func NewAssertionGate(cfg Config, sessions *SessionManager, logger *slog.Logger) *AssertionGate {
	return &AssertionGate{
		verifier: NewAssertionVerifier(cfg.Auth.Assertion, logger),
		sessions: sessions,
		logger:   logger,
	}
}

// Authorize verifies the assertion header.
func (g *AssertionGate) Authorize(r *http.Request) (string, bool) {
	identity, err := g.verifier.Verify(r)
	if err != nil {
		g.logger.Warn("assertion rejected", "path", r.URL.Path, "error", err)
		return "", false
	}
	return identity, true
}

// Challenge returns 401: there is no local login flow to redirect to,
// authentication belongs to the frontend.
func (g *AssertionGate) Challenge(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "Unauthorized: request did not traverse the identity-aware frontend", http.StatusUnauthorized)
}
