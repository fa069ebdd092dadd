package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// Routes constructs the HTTP router. Everything except the open paths
// sits behind the access gate; the catch-all proxies to targets.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(a.Logger))
	r.Use(RecoveryMiddleware(a.Logger))
	r.Use(GateMiddleware(a.Gate, a.Sessions, openPath))

	r.Get("/health", a.handleHealth)
	r.Method(http.MethodGet, "/metrics", a.Metrics.Handler())

	r.Get("/login", a.handleLoginPage)
	r.Post("/login", a.handleLogin)
	r.Get("/logout", a.handleLogout)

	r.Handle("/status/{target}", http.HandlerFunc(a.handleStatus))

	r.Handle("/*", http.HandlerFunc(a.handleProxied))

	return r
}

// openPath lists the routes reachable without authorization: liveness,
// the login flow itself, the status view, and the metrics scrape.
func openPath(r *http.Request) bool {
	switch r.URL.Path {
	case "/health", "/login", "/metrics":
		return true
	}
	return strings.HasPrefix(r.URL.Path, "/status/")
}
