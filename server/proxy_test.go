package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// captureTransport records the outgoing request and replies with a
// canned response.
type captureTransport struct {
	seen *http.Request
	resp *http.Response
	err  error
}

func (ct *captureTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	ct.seen = r
	if ct.err != nil {
		return nil, ct.err
	}
	resp := ct.resp
	if resp == nil {
		resp = &http.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: io.NopCloser(strings.NewReader("ok"))}
	}
	if resp.Body == nil {
		resp.Body = io.NopCloser(strings.NewReader(""))
	}
	resp.Request = r
	return resp, nil
}

func newTestProxy(t *testing.T, f *fakeControlPlane, ct *captureTransport) *HTTPProxyEngine {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := f.clusterConfig()
	cp := NewControlPlane(cfg, logger)
	broker := NewCredentialBroker(cfg, cp, NewMetrics(), logger)
	engine := NewHTTPProxyEngine(cfg, broker, NewMetrics(), logger)
	engine.transport = ct
	return engine
}

func TestForwardInjectsDelegatedToken(t *testing.T) {
	f := newFakeControlPlane(t)
	ct := &captureTransport{}
	engine := newTestProxy(t, f, ct)

	req := httptest.NewRequest("GET", "/ws/alice/terminal?tab=1", nil)
	req.Header.Set("Authorization", "Bearer caller-credential")
	req.Header.Set("X-Custom", "kept")
	rec := httptest.NewRecorder()

	engine.Forward(rec, req, "alice", "/terminal")

	if ct.seen == nil {
		t.Fatal("request never reached the transport")
	}
	if got := ct.seen.Header.Get("Authorization"); got != "Bearer target-token-alice" {
		t.Fatalf("Authorization = %q, want delegated token", got)
	}
	if ct.seen.Header.Get("X-Custom") != "kept" {
		t.Fatal("unrelated headers must pass through")
	}
	wantHost := "alice." + f.clusterConfig().Hostname
	if ct.seen.Host != wantHost || ct.seen.URL.Host != wantHost {
		t.Fatalf("host = %q / %q, want %q", ct.seen.Host, ct.seen.URL.Host, wantHost)
	}
	if ct.seen.URL.Scheme != "https" {
		t.Fatalf("scheme = %q, want https", ct.seen.URL.Scheme)
	}
	if ct.seen.URL.Path != "/terminal" || ct.seen.URL.RawQuery != "tab=1" {
		t.Fatalf("upstream path = %q?%s", ct.seen.URL.Path, ct.seen.URL.RawQuery)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestForwardRewritesTargetRedirect(t *testing.T) {
	f := newFakeControlPlane(t)
	host := "alice." + f.clusterConfig().Hostname
	ct := &captureTransport{resp: &http.Response{
		StatusCode: http.StatusFound,
		Header:     http.Header{"Location": []string{"https://" + host + "/login?next=%2Fide"}},
	}}
	engine := newTestProxy(t, f, ct)

	rec := httptest.NewRecorder()
	engine.Forward(rec, httptest.NewRequest("GET", "/ws/alice/", nil), "alice", "/")

	if got := rec.Header().Get("Location"); got != "/ws/alice/login?next=%2Fide" {
		t.Fatalf("Location = %q, want redirect folded into /ws/alice", got)
	}
}

func TestForwardDropsConsentDomainRedirect(t *testing.T) {
	f := newFakeControlPlane(t)
	cfg := f.clusterConfig()
	ct := &captureTransport{resp: &http.Response{
		StatusCode: http.StatusFound,
		Header:     http.Header{"Location": []string{"https://" + cfg.ConsentDomain + "/consent?flow=abc"}},
	}}
	engine := newTestProxy(t, f, ct)

	rec := httptest.NewRecorder()
	engine.Forward(rec, httptest.NewRequest("GET", "/ws/alice/", nil), "alice", "/")

	if got := rec.Header().Get("Location"); got != "" {
		t.Fatalf("consent redirect must be removed, got Location %q", got)
	}
}

func TestForwardLeavesForeignRedirectAlone(t *testing.T) {
	f := newFakeControlPlane(t)
	ct := &captureTransport{resp: &http.Response{
		StatusCode: http.StatusFound,
		Header:     http.Header{"Location": []string{"https://example.com/elsewhere"}},
	}}
	engine := newTestProxy(t, f, ct)

	rec := httptest.NewRecorder()
	engine.Forward(rec, httptest.NewRequest("GET", "/ws/alice/", nil), "alice", "/")

	if got := rec.Header().Get("Location"); got != "https://example.com/elsewhere" {
		t.Fatalf("unrelated redirect must pass through, got %q", got)
	}
}

func TestForwardTransportErrorReturnsBadGateway(t *testing.T) {
	f := newFakeControlPlane(t)
	ct := &captureTransport{err: errors.New("connection refused")}
	engine := newTestProxy(t, f, ct)

	rec := httptest.NewRecorder()
	engine.Forward(rec, httptest.NewRequest("GET", "/ws/alice/", nil), "alice", "/")

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Proxy Error") {
		t.Fatalf("body = %q, want proxy error text", rec.Body.String())
	}
}

func TestForwardMintFailureReturnsBadGateway(t *testing.T) {
	f := newFakeControlPlane(t)
	f.mintStatus = http.StatusForbidden
	ct := &captureTransport{}
	engine := newTestProxy(t, f, ct)

	rec := httptest.NewRecorder()
	engine.Forward(rec, httptest.NewRequest("GET", "/ws/alice/", nil), "alice", "/")

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if ct.seen != nil {
		t.Fatal("request must not reach the target without a token")
	}
}
