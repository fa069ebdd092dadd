package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// CredentialBroker owns the two credential tiers: the proxy's own
// platform token from the hosting environment's metadata service, and
// per-target delegated tokens minted through the control plane. The
// narrow per-target delegation limits the blast radius of a leaked
// token to a single target's traffic.
//
// Concurrent refreshes of the same key are collapsed through a
// singleflight group so a stampede of requests against one expired
// target mints exactly one new token.
type CredentialBroker struct {
	cfg     ClusterConfig
	cp      *ControlPlane
	client  *http.Client
	logger  *slog.Logger
	metrics *Metrics

	mu       sync.Mutex
	platform *oauth2.Token
	targets  map[string]targetCredential

	group singleflight.Group

	// Test seam; defaults to time.Now.
	now func() time.Time
}

// NewCredentialBroker constructs the broker over the control plane
// client.
func NewCredentialBroker(cfg ClusterConfig, cp *ControlPlane, metrics *Metrics, logger *slog.Logger) *CredentialBroker {
	return &CredentialBroker{
		cfg:     cfg,
		cp:      cp,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
		metrics: metrics,
		targets: make(map[string]targetCredential),
		now:     time.Now,
	}
}

type metadataTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// PlatformToken returns a valid platform-tier token, fetching a fresh
// one from the metadata endpoint when the cached token is within its
// refresh margin of expiry.
func (b *CredentialBroker) PlatformToken(ctx context.Context) (string, error) {
	b.mu.Lock()
	if tok := b.platform; tok != nil && tok.AccessToken != "" && b.now().Before(tok.Expiry.Add(-PlatformTokenMargin)) {
		defer b.mu.Unlock()
		return tok.AccessToken, nil
	}
	b.mu.Unlock()

	v, err, _ := b.group.Do("platform", func() (any, error) {
		return b.fetchPlatformToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (b *CredentialBroker) fetchPlatformToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.MetadataTokenURL, nil)
	if err != nil {
		return "", fmt.Errorf("build metadata request: %w", err)
	}
	req.Header.Set("Metadata-Flavor", "Google")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("metadata request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		b.metrics.RecordTokenMint("platform", "error")
		return "", &UpstreamAuthError{Status: resp.StatusCode, Body: string(body)}
	}

	var tok metadataTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("decode metadata response: %w", err)
	}
	expiresIn := tok.ExpiresIn
	if expiresIn == 0 {
		expiresIn = 3600
	}

	b.mu.Lock()
	b.platform = &oauth2.Token{
		AccessToken: tok.AccessToken,
		TokenType:   "Bearer",
		Expiry:      b.now().Add(time.Duration(expiresIn) * time.Second),
	}
	b.mu.Unlock()

	b.logger.Info("refreshed platform token", "expires_in", expiresIn)
	b.metrics.RecordTokenMint("platform", "ok")
	return tok.AccessToken, nil
}

// TargetToken returns a valid delegated token scoped to targetID,
// minting a fresh one through the control plane when the cached entry
// is within its refresh margin of expiry. The returned token is only
// ever valid for the named target.
func (b *CredentialBroker) TargetToken(ctx context.Context, targetID string) (string, error) {
	b.mu.Lock()
	if cred, ok := b.targets[targetID]; ok && cred.fresh(b.now()) {
		b.mu.Unlock()
		return cred.token, nil
	}
	b.mu.Unlock()

	v, err, _ := b.group.Do("target:"+targetID, func() (any, error) {
		// Re-check under the flight: a concurrent caller may have
		// refreshed while this one queued.
		b.mu.Lock()
		if cred, ok := b.targets[targetID]; ok && cred.fresh(b.now()) {
			b.mu.Unlock()
			return cred.token, nil
		}
		b.mu.Unlock()

		platform, err := b.PlatformToken(ctx)
		if err != nil {
			return "", err
		}

		token, expiresAt, err := b.cp.GenerateAccessToken(ctx, platform, targetID, b.now().Add(TargetTokenTTL))
		if err != nil {
			b.metrics.RecordTokenMint("target", "error")
			return "", err
		}
		b.metrics.RecordTokenMint("target", "ok")

		b.mu.Lock()
		b.targets[targetID] = targetCredential{token: token, expiresAt: expiresAt}
		b.mu.Unlock()
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
