package server

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/golang-jwt/jwt/v5"
)

// fakeFrontend signs assertions with a generated key and serves the
// matching JWK set.
type fakeFrontend struct {
	t      *testing.T
	server *httptest.Server

	mu   sync.Mutex
	keys map[string]*ecdsa.PrivateKey
}

func newFakeFrontend(t *testing.T) *fakeFrontend {
	t.Helper()
	ff := &fakeFrontend{t: t, keys: map[string]*ecdsa.PrivateKey{}}
	ff.addKey("key-1")

	ff.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ff.mu.Lock()
		defer ff.mu.Unlock()
		set := jose.JSONWebKeySet{}
		for kid, key := range ff.keys {
			set.Keys = append(set.Keys, jose.JSONWebKey{
				Key: &key.PublicKey, KeyID: kid, Algorithm: "ES256", Use: "sig",
			})
		}
		json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(ff.server.Close)
	return ff
}

func (ff *fakeFrontend) addKey(kid string) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		ff.t.Fatalf("generate key: %v", err)
	}
	ff.mu.Lock()
	ff.keys[kid] = key
	ff.mu.Unlock()
}

func (ff *fakeFrontend) sign(kid string, claims jwt.MapClaims) string {
	ff.mu.Lock()
	key := ff.keys[kid]
	ff.mu.Unlock()
	if key == nil {
		key, _ = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		ff.t.Fatalf("sign assertion: %v", err)
	}
	return signed
}

func (ff *fakeFrontend) config() AssertionConfig {
	cfg := DefaultConfig().Auth.Assertion
	cfg.JWKSURL = ff.server.URL
	cfg.Issuer = "https://frontend.test"
	cfg.Audience = "/projects/1/apps/wsproxy"
	return cfg
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss":   "https://frontend.test",
		"aud":   "/projects/1/apps/wsproxy",
		"email": "dev@example.com",
		"sub":   "accounts.google.com:1234",
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(5 * time.Minute).Unix(),
	}
}

func newTestVerifier(t *testing.T, ff *fakeFrontend) *AssertionVerifier {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewAssertionVerifier(ff.config(), logger)
}

func assertionRequest(cfg AssertionConfig, token string) *http.Request {
	r := httptest.NewRequest("GET", "/ws/alice/", nil)
	if token != "" {
		r.Header.Set(cfg.Header, token)
	}
	return r
}

func TestVerifyAcceptsSignedAssertion(t *testing.T) {
	ff := newFakeFrontend(t)
	v := newTestVerifier(t, ff)

	identity, err := v.Verify(assertionRequest(ff.config(), ff.sign("key-1", validClaims())))
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if identity != "dev@example.com" {
		t.Fatalf("identity = %q, want email claim", identity)
	}
}

func TestVerifyFallsBackToSubject(t *testing.T) {
	ff := newFakeFrontend(t)
	v := newTestVerifier(t, ff)

	claims := validClaims()
	delete(claims, "email")
	identity, err := v.Verify(assertionRequest(ff.config(), ff.sign("key-1", claims)))
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if identity != "accounts.google.com:1234" {
		t.Fatalf("identity = %q, want sub claim", identity)
	}
}

func TestVerifyRejections(t *testing.T) {
	ff := newFakeFrontend(t)
	v := newTestVerifier(t, ff)
	cfg := ff.config()

	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Minute).Unix()

	wrongIssuer := validClaims()
	wrongIssuer["iss"] = "https://somewhere-else.test"

	wrongAudience := validClaims()
	wrongAudience["aud"] = "/projects/2/apps/other"

	tests := []struct {
		name  string
		token string
	}{
		{"missing header", ""},
		{"garbage token", "not.a.jwt"},
		{"expired", ff.sign("key-1", expired)},
		{"wrong issuer", ff.sign("key-1", wrongIssuer)},
		{"wrong audience", ff.sign("key-1", wrongAudience)},
		{"unknown signing key", ff.sign("key-rogue", validClaims())},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.Verify(assertionRequest(cfg, tt.token)); err == nil {
				t.Fatal("expected verification to fail")
			}
		})
	}
}

func TestVerifyRefetchesOnRotatedKey(t *testing.T) {
	ff := newFakeFrontend(t)
	v := newTestVerifier(t, ff)

	// Warm the cache with the original set.
	if _, err := v.Verify(assertionRequest(ff.config(), ff.sign("key-1", validClaims()))); err != nil {
		t.Fatalf("initial verify failed: %v", err)
	}

	ff.addKey("key-2")
	if _, err := v.Verify(assertionRequest(ff.config(), ff.sign("key-2", validClaims()))); err != nil {
		t.Fatalf("rotated key should trigger a JWKS refetch: %v", err)
	}
}

func TestAssertionGateChallenge(t *testing.T) {
	ff := newFakeFrontend(t)
	cfg := DefaultConfig()
	cfg.Auth.Mode = AuthModeAssertion
	cfg.Auth.Assertion = ff.config()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sm := NewSessionManager(cfg, NewInMemoryStore(), logger)
	gate := NewAssertionGate(cfg, sm, logger)

	if _, ok := gate.Authorize(httptest.NewRequest("GET", "/ws/alice/", nil)); ok {
		t.Fatal("request without an assertion must not authorize")
	}

	rec := httptest.NewRecorder()
	gate.Challenge(rec, httptest.NewRequest("GET", "/ws/alice/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("challenge status = %d, want 401", rec.Code)
	}
}
