package agent

import (
	"testing"

	"github.com/simfleet/simfleet/internal/model"
)

func TestStateLifecycle(t *testing.T) {
	s := NewState()
	if !s.IsIdle() {
		t.Fatalf("new state is not idle: %+v", s.Snapshot())
	}

	s.Configure("f1_22", "sess-1", model.RoleHost, 3, "192.168.1.10")
	snap := s.Snapshot()
	if snap.Status != model.StatusConfigured {
		t.Fatalf("status = %s, want configured", snap.Status)
	}
	if snap.CurrentGame != "f1_22" || snap.SessionID != "sess-1" || snap.Role != model.RoleHost {
		t.Fatalf("configure lost fields: %+v", snap)
	}
	if snap.PlayerCount != 3 || snap.HostIP != "192.168.1.10" {
		t.Fatalf("configure lost multiplayer fields: %+v", snap)
	}

	if !s.SetStatus(model.StatusStarting) {
		t.Fatalf("SetStatus(starting) reported no change")
	}
	if s.SetStatus(model.StatusStarting) {
		t.Fatalf("SetStatus(starting) twice reported a change")
	}
	if !s.SetStatus(model.StatusRunning) || !s.IsRunning() {
		t.Fatalf("did not reach running")
	}
}

func TestResetClearsEverySessionField(t *testing.T) {
	s := NewState()
	s.Configure("acc", "sess-2", model.RoleJoin, 2, "10.0.0.5")
	s.SetStatus(model.StatusRunning)

	s.Reset()

	snap := s.Snapshot()
	if snap.Status != model.StatusIdle {
		t.Fatalf("status = %s, want idle", snap.Status)
	}
	if snap.CurrentGame != "" || snap.SessionID != "" || snap.Role != "" {
		t.Fatalf("idle state still carries session data: %+v", snap)
	}
	if snap.PlayerCount != 0 || snap.HostIP != "" {
		t.Fatalf("idle state still carries multiplayer data: %+v", snap)
	}
}

func TestReconfigureReplacesPreviousSession(t *testing.T) {
	s := NewState()
	s.Configure("f1_22", "sess-1", model.RoleHost, 4, "")
	s.Configure("acc", "sess-2", model.RoleSingleplayer, 1, "")

	snap := s.Snapshot()
	if snap.CurrentGame != "acc" || snap.SessionID != "sess-2" || snap.Role != model.RoleSingleplayer {
		t.Fatalf("second configure did not replace the first: %+v", snap)
	}
}
