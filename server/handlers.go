package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
)

// App bundles runtime dependencies for the HTTP service.
type App struct {
	Config       Config
	Logger       *slog.Logger
	Store        *InMemoryStore
	Sessions     *SessionManager
	Resolver     *TargetResolver
	ControlPlane *ControlPlane
	Broker       *CredentialBroker
	Lifecycle    *LifecycleController
	Proxy        *HTTPProxyEngine
	Bridge       *WebSocketBridge
	Gate         AccessGate
	Metrics      *Metrics

	// Set in password mode for the login form handler.
	passwordGate *PasswordGate
}

// NewApp wires together the application state from configuration.
func NewApp(cfg Config, logger *slog.Logger) (*App, error) {
	store := NewInMemoryStore()
	sessions := NewSessionManager(cfg, store, logger)
	metrics := NewMetrics()
	cp := NewControlPlane(cfg.Cluster, logger)
	broker := NewCredentialBroker(cfg.Cluster, cp, metrics, logger)

	app := &App{
		Config:       cfg,
		Logger:       logger,
		Store:        store,
		Sessions:     sessions,
		Resolver:     NewTargetResolver(sessions),
		ControlPlane: cp,
		Broker:       broker,
		Lifecycle:    NewLifecycleController(broker, cp, logger),
		Proxy:        NewHTTPProxyEngine(cfg.Cluster, broker, metrics, logger),
		Bridge:       NewWebSocketBridge(cfg.Cluster, broker, metrics, logger),
		Metrics:      metrics,
	}

	switch cfg.Auth.Mode {
	case AuthModePassword:
		gate := NewPasswordGate(cfg, sessions, logger)
		app.Gate = gate
		app.passwordGate = gate
	case AuthModeAssertion:
		app.Gate = NewAssertionGate(cfg, sessions, logger)
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.Auth.Mode)
	}

	return app, nil
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// handleStatus renders the status view and applies start/stop actions
// posted from it. Lifecycle failures surface inline without aborting
// the render.
func (a *App) handleStatus(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "target")
	if targetID == "" {
		http.Error(w, "Workstation name required", http.StatusBadRequest)
		return
	}

	data := statusPageData{}

	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}
		action := LifecycleAction(r.PostFormValue("action"))
		switch action {
		case ActionStart, ActionStop:
			if err := a.Lifecycle.Apply(r.Context(), targetID, action); err != nil {
				a.Metrics.RecordLifecycleAction(string(action), "error")
				data.Error = fmt.Sprintf("Failed to %s: %v", action, err)
			} else {
				a.Metrics.RecordLifecycleAction(string(action), "ok")
				if action == ActionStart {
					data.Message = "Starting workstation... (refresh in a few seconds)"
				} else {
					data.Message = "Stopping workstation... (refresh in a few seconds)"
				}
			}
		}
	}

	a.Logger.Info("status page", "target", targetID)

	status, err := a.Lifecycle.Status(r.Context(), targetID)
	if err != nil {
		status = TargetStatus{
			TargetID: targetID,
			State:    StateError,
			Host:     a.Config.Cluster.TargetHost(targetID),
			Err:      err.Error(),
		}
	}
	data.Status = status
	if status.Err != "" && data.Error == "" {
		data.Error = status.Err
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := statusTemplate.Execute(w, data); err != nil {
		a.Logger.Error("render status page", "error", err)
	}
}

func (a *App) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if a.passwordGate == nil {
		http.Error(w, "Authentication is handled by the identity-aware frontend", http.StatusNotFound)
		return
	}

	data := loginPageData{Next: r.URL.Query().Get("next")}
	if r.URL.Query().Get("error") != "" {
		data.Error = "Invalid password"
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := loginTemplate.Execute(w, data); err != nil {
		a.Logger.Error("render login page", "error", err)
	}
}

func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	if a.passwordGate == nil {
		http.Error(w, "Authentication is handled by the identity-aware frontend", http.StatusNotFound)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	if !a.passwordGate.CheckPassword(r.PostFormValue("password")) {
		a.Logger.Info("login failed: invalid password")
		http.Redirect(w, r, "/login?error=1", http.StatusFound)
		return
	}

	a.Sessions.Create(w)
	a.Logger.Info("login successful, session created")

	redirect := sanitizeNextPath(r.URL.Query().Get("next"))
	http.Redirect(w, r, redirect, http.StatusFound)
}

func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	a.Sessions.Destroy(w, r)
	http.Redirect(w, r, "/login", http.StatusFound)
}

// handleProxied is the catch-all: resolve the target, then hand the
// request to the websocket bridge or the HTTP engine.
func (a *App) handleProxied(w http.ResponseWriter, r *http.Request) {
	targetID, downstream, err := a.Resolver.Resolve(r)
	if err != nil {
		if errors.Is(err, ErrMissingTarget) {
			http.Error(w, "Workstation name required. Use /ws/{name}/...", http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if isWebSocketUpgrade(r) {
		a.Bridge.Serve(w, r, targetID, downstream)
		return
	}
	a.Proxy.Forward(w, r, targetID, downstream)
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// sanitizeNextPath keeps post-login redirects on this origin.
func sanitizeNextPath(next string) string {
	if next == "" {
		return "/"
	}
	u, err := url.Parse(next)
	if err != nil || u.IsAbs() || u.Host != "" || !strings.HasPrefix(u.Path, "/") || strings.HasPrefix(u.Path, "//") {
		return "/"
	}
	return u.String()
}
