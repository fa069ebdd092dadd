package server

import (
	"errors"
	"fmt"
)

// ErrMissingTarget is returned when a request carries no target
// identifier in its path and the session has no affinity to fall back
// on. It surfaces to the client as a 400.
var ErrMissingTarget = errors.New("target name required; use /ws/{name}/...")

// UpstreamAuthError reports a failed credential mint or refresh against
// the metadata server or the control plane.
type UpstreamAuthError struct {
	Target string // empty for the platform tier
	Status int
	Body   string
}

func (e *UpstreamAuthError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("platform token request failed: status %d", e.Status)
	}
	return fmt.Sprintf("target token request for %q failed: status %d - %s", e.Target, e.Status, e.Body)
}

// LifecycleError reports a rejected start or stop call. Conflict
// responses are recovered before this error is ever constructed.
type LifecycleError struct {
	Target string
	Action string
	Status int
	Body   string
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("%s of target %q failed: status %d - %s", e.Action, e.Target, e.Status, e.Body)
}

// ProxyTransportError wraps a network failure while talking to a
// target. Surfaces as a 502; never retried.
type ProxyTransportError struct {
	Target string
	Err    error
}

func (e *ProxyTransportError) Error() string {
	return fmt.Sprintf("proxy to target %q failed: %v", e.Target, e.Err)
}

func (e *ProxyTransportError) Unwrap() error { return e.Err }

// HandshakeError wraps a failed websocket upgrade against a target.
type HandshakeError struct {
	Target string
	Err    error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("websocket handshake with target %q failed: %v", e.Target, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }
