package agent

import (
	"sync"

	"github.com/simfleet/simfleet/internal/model"
)

// State holds one machine's session state. It is mutated from three call
// sites (inbound commands, the heartbeat loop's reconciliation, the launch
// task) and is only ever touched under its mutex. Invariant: idle implies no
// game and no role.
type State struct {
	mu          sync.Mutex
	status      model.Status
	currentGame string
	sessionID   string
	role        model.Role
	playerCount int
	hostIP      string
}

// Snapshot is an atomic copy of all state fields. Heartbeat payloads are
// built from snapshots only, never from individual reads across lock
// boundaries.
type Snapshot struct {
	Status      model.Status
	CurrentGame string
	SessionID   string
	Role        model.Role
	PlayerCount int
	HostIP      string
}

func NewState() *State {
	return &State{status: model.StatusIdle}
}

// Configure sets all session fields and moves to configured. It always
// succeeds; validating the game id against the registry belongs to callers.
func (s *State) Configure(game, sessionID string, role model.Role, playerCount int, hostIP string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentGame = game
	s.sessionID = sessionID
	s.role = role
	s.playerCount = playerCount
	s.hostIP = hostIP
	s.status = model.StatusConfigured
}

// SetStatus swaps the status atomically and reports whether it changed.
func (s *State) SetStatus(status model.Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == status {
		return false
	}
	s.status = status
	return true
}

// Reset clears to idle. Called on stop, on launch failure, and when
// reconciliation finds the game process gone while status was running.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = model.StatusIdle
	s.currentGame = ""
	s.sessionID = ""
	s.role = ""
	s.playerCount = 0
	s.hostIP = ""
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Status:      s.status,
		CurrentGame: s.currentGame,
		SessionID:   s.sessionID,
		Role:        s.role,
		PlayerCount: s.playerCount,
		HostIP:      s.hostIP,
	}
}

func (s *State) IsConfigured() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == model.StatusConfigured
}

func (s *State) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == model.StatusRunning
}

func (s *State) IsIdle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == model.StatusIdle
}
