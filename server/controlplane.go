package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ControlPlane is the authenticated client for the workstations API. It
// mints target-scoped tokens, reads lifecycle state, and drives
// start/stop transitions. All calls carry the caller-supplied platform
// token; the control plane itself does not cache anything.
type ControlPlane struct {
	cfg    ClusterConfig
	client *http.Client
	logger *slog.Logger
}

// NewControlPlane constructs the client against the configured base URL.
func NewControlPlane(cfg ClusterConfig, logger *slog.Logger) *ControlPlane {
	return &ControlPlane{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

type generateTokenRequest struct {
	ExpireTime string `json:"expireTime"`
}

type generateTokenResponse struct {
	AccessToken string `json:"accessToken"`
	ExpireTime  string `json:"expireTime"`
}

// GenerateAccessToken mints a bearer token scoped to one target, valid
// until expire.
func (cp *ControlPlane) GenerateAccessToken(ctx context.Context, platformToken, targetID string, expire time.Time) (string, time.Time, error) {
	url := fmt.Sprintf("%s/v1/%s:generateAccessToken", cp.cfg.ControlPlaneURL, cp.cfg.WorkstationResource(targetID))

	body, err := json.Marshal(generateTokenRequest{ExpireTime: expire.UTC().Format(time.RFC3339)})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("encode token request: %w", err)
	}

	status, respBody, err := cp.do(ctx, http.MethodPost, url, platformToken, body)
	if err != nil {
		return "", time.Time{}, err
	}
	if status != http.StatusOK {
		return "", time.Time{}, &UpstreamAuthError{Target: targetID, Status: status, Body: string(respBody)}
	}

	var resp generateTokenResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", time.Time{}, fmt.Errorf("decode token response: %w", err)
	}
	if resp.AccessToken == "" {
		return "", time.Time{}, &UpstreamAuthError{Target: targetID, Status: status, Body: "accessToken missing in response"}
	}

	expiresAt := expire
	if t, err := time.Parse(time.RFC3339, resp.ExpireTime); err == nil {
		expiresAt = t
	}
	cp.logger.Info("minted target access token", "target", targetID, "expires", expiresAt)
	return resp.AccessToken, expiresAt, nil
}

type workstationResponse struct {
	State string `json:"state"`
}

// GetWorkstation fetches the current lifecycle state of a target.
// 404 maps to NOT_FOUND, other non-200 to ERROR with the upstream
// message, and an absent state field to UNKNOWN; none of these are
// returned as errors since the status view renders them inline.
func (cp *ControlPlane) GetWorkstation(ctx context.Context, platformToken, targetID string) (TargetStatus, error) {
	url := fmt.Sprintf("%s/v1/%s", cp.cfg.ControlPlaneURL, cp.cfg.WorkstationResource(targetID))

	status := TargetStatus{TargetID: targetID, Host: cp.cfg.TargetHost(targetID)}

	code, body, err := cp.do(ctx, http.MethodGet, url, platformToken, nil)
	if err != nil {
		return TargetStatus{}, err
	}
	switch {
	case code == http.StatusOK:
		var resp workstationResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return TargetStatus{}, fmt.Errorf("decode workstation response: %w", err)
		}
		if resp.State == "" {
			status.State = StateUnknown
		} else {
			status.State = TargetState(resp.State)
		}
	case code == http.StatusNotFound:
		status.State = StateNotFound
		status.Err = "Workstation not found"
	default:
		status.State = StateError
		status.Err = fmt.Sprintf("API error: %d - %s", code, body)
	}
	return status, nil
}

// StartWorkstation issues the start call. A conflict means the target
// is already transitioning, which is exactly the outcome the caller
// wanted, so it is reported as success.
func (cp *ControlPlane) StartWorkstation(ctx context.Context, platformToken, targetID string) error {
	return cp.lifecycleCall(ctx, platformToken, targetID, "start")
}

// StopWorkstation issues the stop call with the same conflict handling
// as StartWorkstation.
func (cp *ControlPlane) StopWorkstation(ctx context.Context, platformToken, targetID string) error {
	return cp.lifecycleCall(ctx, platformToken, targetID, "stop")
}

func (cp *ControlPlane) lifecycleCall(ctx context.Context, platformToken, targetID, action string) error {
	url := fmt.Sprintf("%s/v1/%s:%s", cp.cfg.ControlPlaneURL, cp.cfg.WorkstationResource(targetID), action)

	code, body, err := cp.do(ctx, http.MethodPost, url, platformToken, []byte("{}"))
	if err != nil {
		return err
	}
	switch code {
	case http.StatusOK:
		cp.logger.Info("lifecycle action initiated", "target", targetID, "action", action)
		return nil
	case http.StatusConflict:
		// The transition is already underway; an impatient re-submit
		// should not surface as a failure.
		cp.logger.Info("lifecycle action already in progress", "target", targetID, "action", action)
		return nil
	default:
		cp.logger.Error("lifecycle action rejected", "target", targetID, "action", action, "status", code)
		return &LifecycleError{Target: targetID, Action: action, Status: code, Body: string(body)}
	}
}

func (cp *ControlPlane) do(ctx context.Context, method, url, platformToken string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+platformToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := cp.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("control plane request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read control plane response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}
