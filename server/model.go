package server

import "time"

// Session captures a logged-in browser session bound to a cookie.
// LastTarget records the most recently addressed target so that
// sub-resource requests without an explicit /ws/{name} prefix still
// resolve to the page's target.
type Session struct {
	ID         string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	LastTarget string
}

// TargetState enumerates the lifecycle states reported by the control
// plane. The proxy never persists state; every decision re-fetches it.
type TargetState string

const (
	StateUnknown  TargetState = "UNKNOWN"
	StateNotFound TargetState = "NOT_FOUND"
	StateStopped  TargetState = "STATE_STOPPED"
	StateStarting TargetState = "STATE_STARTING"
	StateRunning  TargetState = "STATE_RUNNING"
	StateStopping TargetState = "STATE_STOPPING"
	StateError    TargetState = "ERROR"
)

// TargetStatus is a point-in-time snapshot of one target.
type TargetStatus struct {
	TargetID string
	State    TargetState
	Host     string
	Err      string
}

// Running reports whether the target is in its running rest state.
func (s TargetStatus) Running() bool { return s.State == StateRunning }

// Transitional reports whether the target is between rest states.
func (s TargetStatus) Transitional() bool {
	return s.State == StateStarting || s.State == StateStopping
}

// targetCredential is a short-lived token delegated for one target.
// The token must never be presented to any other target.
type targetCredential struct {
	token     string
	expiresAt time.Time
}

func (c targetCredential) fresh(now time.Time) bool {
	return c.token != "" && now.Before(c.expiresAt.Add(-TargetTokenMargin))
}
