package server

import (
	"net/http"
	"strings"
)

const targetPathPrefix = "/ws/"

// ParseTargetPath splits a request path into the target identifier and
// the path to forward downstream.
//
//	/ws/alice/foo/bar -> ("alice", "/foo/bar")
//	/ws/alice/        -> ("alice", "/")
//	/health           -> ("", "/health")
func ParseTargetPath(path string) (targetID, downstream string) {
	if !strings.HasPrefix(path, targetPathPrefix) {
		return "", path
	}
	rest := path[len(targetPathPrefix):]
	name, remainder, found := strings.Cut(rest, "/")
	if !found || remainder == "" {
		return name, "/"
	}
	return name, "/" + remainder
}

// TargetResolver produces the effective target for a request, falling
// back to session affinity when the path carries no identifier.
type TargetResolver struct {
	sessions *SessionManager
}

// NewTargetResolver constructs a resolver over the session manager.
func NewTargetResolver(sessions *SessionManager) *TargetResolver {
	return &TargetResolver{sessions: sessions}
}

// Resolve extracts the target and downstream path for the request. An
// explicit /ws/{name} prefix is recorded as the session's affinity; a
// prefix-less path falls back to that affinity with the path forwarded
// unchanged. ErrMissingTarget is returned when neither yields a target.
func (tr *TargetResolver) Resolve(r *http.Request) (targetID, downstream string, err error) {
	targetID, downstream = ParseTargetPath(r.URL.Path)
	if targetID != "" {
		tr.sessions.RememberTarget(r, targetID)
		return targetID, downstream, nil
	}

	if last := tr.sessions.LastTarget(r); last != "" {
		return last, r.URL.Path, nil
	}
	return "", "", ErrMissingTarget
}
