package server

import (
	"context"
	"log/slog"
)

// LifecycleAction is a user-requested transition from the status page.
type LifecycleAction string

const (
	ActionStart LifecycleAction = "start"
	ActionStop  LifecycleAction = "stop"
)

// LifecycleController queries and mutates a target's running state.
// State is always re-fetched from the control plane; the proxy keeps
// nothing. An action is applied only when consistent with the freshly
// fetched state, which keeps impatient form re-submissions from
// spraying duplicate control-plane calls.
type LifecycleController struct {
	broker *CredentialBroker
	cp     *ControlPlane
	logger *slog.Logger
}

// NewLifecycleController wires the controller over the broker and
// control plane.
func NewLifecycleController(broker *CredentialBroker, cp *ControlPlane, logger *slog.Logger) *LifecycleController {
	return &LifecycleController{broker: broker, cp: cp, logger: logger}
}

// Status fetches a point-in-time snapshot for the target.
func (lc *LifecycleController) Status(ctx context.Context, targetID string) (TargetStatus, error) {
	platform, err := lc.broker.PlatformToken(ctx)
	if err != nil {
		return TargetStatus{}, err
	}
	return lc.cp.GetWorkstation(ctx, platform, targetID)
}

// Apply executes the requested action if the target's current state
// admits it. Actions against transitional or already-satisfied states
// are dropped without an upstream call; the user is not told, only the
// operator log is.
//
// The check-then-act is not atomic against the control plane; the
// conflict-as-success rule in the control plane client is the safety
// net for the resulting race.
func (lc *LifecycleController) Apply(ctx context.Context, targetID string, action LifecycleAction) error {
	status, err := lc.Status(ctx, targetID)
	if err != nil {
		return err
	}

	switch action {
	case ActionStart:
		if status.State != StateStopped {
			lc.logger.Info("start skipped: state does not admit it", "target", targetID, "state", status.State)
			return nil
		}
	case ActionStop:
		if status.State != StateRunning {
			lc.logger.Info("stop skipped: state does not admit it", "target", targetID, "state", status.State)
			return nil
		}
	default:
		return &LifecycleError{Target: targetID, Action: string(action), Body: "unknown action"}
	}

	platform, err := lc.broker.PlatformToken(ctx)
	if err != nil {
		return err
	}
	if action == ActionStart {
		return lc.cp.StartWorkstation(ctx, platform, targetID)
	}
	return lc.cp.StopWorkstation(ctx, platform, targetID)
}
