package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/golang-jwt/jwt/v5"
)

// AssertionVerifier validates the signed JWT assertion injected by the
// identity-aware frontend. Verification keys come from the frontend's
// published JWK endpoint and are cached with periodic refresh.
type AssertionVerifier struct {
	cfg    AssertionConfig
	keys   *jwkCache
	logger *slog.Logger
}

// NewAssertionVerifier constructs the verifier.
func NewAssertionVerifier(cfg AssertionConfig, logger *slog.Logger) *AssertionVerifier {
	return &AssertionVerifier{
		cfg:    cfg,
		keys:   newJWKCache(cfg.JWKSURL),
		logger: logger,
	}
}

// Verify checks the assertion header on the request and returns the
// asserted identity (email when present, else subject).
func (v *AssertionVerifier) Verify(r *http.Request) (string, error) {
	raw := r.Header.Get(v.cfg.Header)
	if raw == "" {
		return "", fmt.Errorf("missing %s header", v.cfg.Header)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"ES256", "RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}
	if v.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.cfg.Audience))
	}

	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(raw, claims, v.keyFunc, opts...); err != nil {
		return "", fmt.Errorf("verify assertion: %w", err)
	}

	if email, ok := claims["email"].(string); ok && email != "" {
		return email, nil
	}
	if sub, ok := claims["sub"].(string); ok && sub != "" {
		return sub, nil
	}
	return "", errors.New("assertion carries no identity claim")
}

func (v *AssertionVerifier) keyFunc(token *jwt.Token) (any, error) {
	kid, ok := token.Header["kid"].(string)
	if !ok || kid == "" {
		return nil, errors.New("assertion header missing kid")
	}
	return v.keys.Key(kid)
}

// jwkCache fetches and caches the frontend's JWK set. An unknown kid
// forces a refetch once, which covers key rotation without a
// background refresher.
type jwkCache struct {
	url    string
	client *http.Client
	ttl    time.Duration

	mu      sync.Mutex
	keys    map[string]any
	fetched time.Time
}

func newJWKCache(url string) *jwkCache {
	return &jwkCache{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		ttl:    time.Hour,
	}
}

// Key returns the public key for kid, refreshing the set when the
// cache is stale or the kid is unknown.
func (c *jwkCache) Key(kid string) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if key, ok := c.keys[kid]; ok && time.Since(c.fetched) < c.ttl {
		return key, nil
	}
	if err := c.refreshLocked(); err != nil {
		return nil, err
	}
	if key, ok := c.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("no verification key with kid %q", kid)
}

func (c *jwkCache) refreshLocked() error {
	resp, err := c.client.Get(c.url)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch jwks: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read jwks: %w", err)
	}

	var set jose.JSONWebKeySet
	if err := json.Unmarshal(body, &set); err != nil {
		return fmt.Errorf("parse jwks: %w", err)
	}

	keys := make(map[string]any, len(set.Keys))
	for _, k := range set.Keys {
		if !k.Valid() || !k.IsPublic() {
			continue
		}
		keys[k.KeyID] = k.Key
	}
	if len(keys) == 0 {
		return errors.New("jwks contains no usable public keys")
	}

	c.keys = keys
	c.fetched = time.Now()
	return nil
}
