package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/simfleet/simfleet/internal/api"
	"github.com/simfleet/simfleet/internal/config"
	"github.com/simfleet/simfleet/internal/model"
)

// GameChecker reports whether a given game's process is currently alive.
// *Launcher satisfies it.
type GameChecker interface {
	IsGameRunning(ctx context.Context, gameID string) (bool, error)
}

// Sender pushes periodic heartbeats to a registered orchestrator. A new
// registration replaces any running loop, so the agent only ever reports
// to the most recent orchestrator.
type Sender struct {
	cfg      config.Config
	identity model.MachineIdentity
	state    *State
	checker  GameChecker
	client   *http.Client
	Logf     func(format string, args ...any)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSender(cfg config.Config, identity model.MachineIdentity, state *State, checker GameChecker) *Sender {
	return &Sender{
		cfg:      cfg,
		identity: identity,
		state:    state,
		checker:  checker,
		client:   &http.Client{Timeout: cfg.HeartbeatTimeout},
	}
}

// Register starts the heartbeat loop against the given orchestrator URL,
// stopping any previous loop first.
func (s *Sender) Register(orchestratorURL string) {
	s.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go s.loop(ctx, orchestratorURL, done)
}

// Stop halts the heartbeat loop and waits for it to exit.
func (s *Sender) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (s *Sender) loop(ctx context.Context, url string, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	s.beat(ctx, url)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.beat(ctx, url)
		}
	}
}

func (s *Sender) beat(ctx context.Context, url string) {
	s.reconcile(ctx)

	snap := s.state.Snapshot()
	payload := api.HeartbeatRequest{
		Name:        s.identity.Name,
		ID:          s.identity.ID,
		IP:          s.identity.IP,
		Port:        s.identity.Port,
		Status:      string(snap.Status),
		CurrentGame: snap.CurrentGame,
		SessionID:   snap.SessionID,
		Timestamp:   float64(time.Now().UnixNano()) / float64(time.Second),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		s.logf("heartbeat encode: %v", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"/api/heartbeat", bytes.NewReader(body))
	if err != nil {
		s.logf("heartbeat request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logf("heartbeat send: %v", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		s.logf("heartbeat rejected: orchestrator does not know this machine")
	} else if resp.StatusCode >= 400 {
		s.logf("heartbeat rejected: %s", resp.Status)
	}
}

// reconcile aligns the reported status with the actual game process before
// each heartbeat. A vanished process resets the machine to idle; a process
// that appeared while only configured means the game is effectively running.
func (s *Sender) reconcile(ctx context.Context) {
	snap := s.state.Snapshot()
	if snap.CurrentGame == "" || s.checker == nil {
		return
	}
	running, err := s.checker.IsGameRunning(ctx, snap.CurrentGame)
	if err != nil {
		s.logf("process check %s: %v", snap.CurrentGame, err)
		return
	}
	switch {
	case snap.Status == model.StatusRunning && !running:
		s.logf("game %s exited, resetting to idle", snap.CurrentGame)
		s.state.Reset()
	case snap.Status == model.StatusConfigured && running:
		s.state.SetStatus(model.StatusRunning)
	}
}

func (s *Sender) logf(format string, args ...any) {
	if s.Logf != nil {
		s.Logf(format, args...)
		return
	}
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}
