package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"
)

// HTTPProxyEngine forwards a single request/response pair to a resolved
// target with the delegated bearer token injected. Redirects are never
// followed on behalf of the client, and response bodies pass through
// verbatim.
type HTTPProxyEngine struct {
	cfg       ClusterConfig
	broker    *CredentialBroker
	transport http.RoundTripper
	logger    *slog.Logger
	metrics   *Metrics
}

// NewHTTPProxyEngine builds the engine with a shared upstream transport.
func NewHTTPProxyEngine(cfg ClusterConfig, broker *CredentialBroker, metrics *Metrics, logger *slog.Logger) *HTTPProxyEngine {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &HTTPProxyEngine{
		cfg:       cfg,
		broker:    broker,
		transport: transport,
		logger:    logger,
		metrics:   metrics,
	}
}

// Forward proxies the request to targetID at downstream path. The whole
// exchange is bounded by the upstream ceiling so a wedged target cannot
// pin a handler forever.
func (e *HTTPProxyEngine) Forward(w http.ResponseWriter, r *http.Request, targetID, downstream string) {
	ctx, cancel := context.WithTimeout(r.Context(), UpstreamCeiling)
	defer cancel()

	token, err := e.broker.TargetToken(ctx, targetID)
	if err != nil {
		e.logger.Error("target token unavailable", "target", targetID, "error", err)
		e.metrics.RecordProxyRequest(targetID, "auth_error")
		http.Error(w, "Proxy Error: "+err.Error(), http.StatusBadGateway)
		return
	}

	host := e.cfg.TargetHost(targetID)
	e.logger.Info("proxying request", "method", r.Method, "path", r.URL.Path, "target", targetID, "downstream", downstream)

	proxy := &httputil.ReverseProxy{
		Transport:     e.transport,
		FlushInterval: -1,
		Rewrite: func(pr *httputil.ProxyRequest) {
			out := pr.Out
			out.URL.Scheme = "https"
			out.URL.Host = host
			out.URL.Path = downstream
			out.URL.RawQuery = pr.In.URL.RawQuery
			out.Host = host

			// Never forward the caller's own Authorization header; the
			// delegated token is the only credential the target sees.
			out.Header.Del("Authorization")
			out.Header.Del("Transfer-Encoding")
			out.Header.Del("Content-Length")
			out.Header.Set("Authorization", "Bearer "+token)
		},
		ModifyResponse: func(resp *http.Response) error {
			e.rewriteRedirect(resp, targetID, host)
			// Content-Encoding stays: the body is forwarded still
			// compressed, so the header must keep describing it.
			resp.Header.Del("Transfer-Encoding")
			resp.Header.Del("Content-Length")
			e.metrics.RecordProxyRequest(targetID, "ok")
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			terr := &ProxyTransportError{Target: targetID, Err: err}
			e.logger.Error("proxy transport error", "target", targetID, "path", r.URL.Path, "error", err)
			e.metrics.RecordProxyRequest(targetID, "transport_error")
			http.Error(w, "Proxy Error: "+terr.Error(), http.StatusBadGateway)
		},
	}

	proxy.ServeHTTP(w, r.WithContext(ctx))
}

// rewriteRedirect folds absolute redirects at the target host back into
// the proxy's /ws/{target} namespace and swallows redirects into the
// provider's consent domain, which a client behind the proxy cannot
// complete.
func (e *HTTPProxyEngine) rewriteRedirect(resp *http.Response, targetID, host string) {
	location := resp.Header.Get("Location")
	if location == "" {
		return
	}

	u, err := url.Parse(location)
	if err != nil {
		return
	}

	if u.Host == host {
		u.Scheme = ""
		u.Host = ""
		u.Path = "/ws/" + targetID + u.Path
		resp.Header.Set("Location", u.String())
		return
	}

	if e.cfg.ConsentDomain != "" && hostMatchesDomain(u.Host, e.cfg.ConsentDomain) {
		e.logger.Info("blocked redirect to consent domain", "target", targetID, "location", location)
		resp.Header.Del("Location")
	}
}

func hostMatchesDomain(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}
