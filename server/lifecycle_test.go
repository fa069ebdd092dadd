package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
)

func newTestLifecycle(t *testing.T, f *fakeControlPlane) *LifecycleController {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := f.clusterConfig()
	cp := NewControlPlane(cfg, logger)
	broker := NewCredentialBroker(cfg, cp, NewMetrics(), logger)
	return NewLifecycleController(broker, cp, logger)
}

func TestStatusStates(t *testing.T) {
	tests := []struct {
		name      string
		upstream  TargetState
		wantState TargetState
		wantErr   bool
	}{
		{"running", StateRunning, StateRunning, false},
		{"stopped", StateStopped, StateStopped, false},
		{"not found", StateNotFound, StateNotFound, false},
		{"api error", StateError, StateError, false},
		{"absent state field", TargetState(""), StateUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeControlPlane(t)
			f.state = tt.upstream
			lc := newTestLifecycle(t, f)

			status, err := lc.Status(context.Background(), "alice")
			if (err != nil) != tt.wantErr {
				t.Fatalf("Status error = %v, wantErr %v", err, tt.wantErr)
			}
			if status.State != tt.wantState {
				t.Fatalf("Status state = %q, want %q", status.State, tt.wantState)
			}
			if !tt.wantErr && status.Host == "" && tt.wantState == StateRunning {
				t.Fatalf("expected host to be derived")
			}
		})
	}
}

func TestStartFromStoppedIssuesOneCall(t *testing.T) {
	f := newFakeControlPlane(t)
	f.state = StateStopped
	lc := newTestLifecycle(t, f)

	if err := lc.Apply(context.Background(), "alice", ActionStart); err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if n := atomic.LoadInt32(&f.startCalls); n != 1 {
		t.Fatalf("expected exactly one start call, got %d", n)
	}
}

func TestStartWhileRunningIsNoOp(t *testing.T) {
	f := newFakeControlPlane(t)
	f.state = StateRunning
	lc := newTestLifecycle(t, f)

	if err := lc.Apply(context.Background(), "alice", ActionStart); err != nil {
		t.Fatalf("redundant start should be silently ignored, got: %v", err)
	}
	if n := atomic.LoadInt32(&f.startCalls); n != 0 {
		t.Fatalf("redundant start must not reach upstream, got %d calls", n)
	}
}

func TestStopWhileTransitioningIsNoOp(t *testing.T) {
	f := newFakeControlPlane(t)
	f.state = StateStarting
	lc := newTestLifecycle(t, f)

	if err := lc.Apply(context.Background(), "alice", ActionStop); err != nil {
		t.Fatalf("stop during transition should be silently ignored, got: %v", err)
	}
	if n := atomic.LoadInt32(&f.stopCalls); n != 0 {
		t.Fatalf("stop during transition must not reach upstream, got %d calls", n)
	}
}

func TestStartConflictTreatedAsSuccess(t *testing.T) {
	f := newFakeControlPlane(t)
	f.state = StateStopped
	f.conflictOn = "start"
	lc := newTestLifecycle(t, f)

	if err := lc.Apply(context.Background(), "alice", ActionStart); err != nil {
		t.Fatalf("409 from upstream should be treated as success, got: %v", err)
	}
}

func TestStopFromRunning(t *testing.T) {
	f := newFakeControlPlane(t)
	f.state = StateRunning
	lc := newTestLifecycle(t, f)

	if err := lc.Apply(context.Background(), "alice", ActionStop); err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if n := atomic.LoadInt32(&f.stopCalls); n != 1 {
		t.Fatalf("expected exactly one stop call, got %d", n)
	}
}

func TestStartRejectionSurfacesLifecycleError(t *testing.T) {
	f := newFakeControlPlane(t)
	f.state = StateStopped
	f.lifecycleStatus = 400
	lc := newTestLifecycle(t, f)

	err := lc.Apply(context.Background(), "alice", ActionStart)
	var lerr *LifecycleError
	if !errors.As(err, &lerr) {
		t.Fatalf("expected LifecycleError, got %v", err)
	}
	if lerr.Target != "alice" || lerr.Action != string(ActionStart) || lerr.Status != 400 {
		t.Fatalf("unexpected error detail: %+v", lerr)
	}
}
