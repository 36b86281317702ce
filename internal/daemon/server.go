package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/simfleet/simfleet/internal/agent"
	"github.com/simfleet/simfleet/internal/api"
	"github.com/simfleet/simfleet/internal/config"
	"github.com/simfleet/simfleet/internal/games"
	"github.com/simfleet/simfleet/internal/model"
)

// GameLauncher runs a configured launch to completion and kills game
// processes. *agent.Launcher is the production implementation.
type GameLauncher interface {
	Launch(ctx context.Context, snap agent.Snapshot) model.NavResult
	Terminate(ctx context.Context, gameID string) error
}

// OrchestratorRegistrar points the heartbeat loop at an orchestrator.
type OrchestratorRegistrar interface {
	Register(orchestratorURL string)
}

// Server is the machine agent's HTTP API. One launch may be in flight at a
// time; its cancel func lives under mu so stop can interrupt it.
type Server struct {
	cfg      config.Config
	state    *agent.State
	registry *games.Registry
	launcher GameLauncher
	sender   OrchestratorRegistrar
	httpSrv  *http.Server
	listener net.Listener
	Logf     func(format string, args ...any)

	mu           sync.Mutex
	launchCancel context.CancelFunc
	launchSeq    uint64

	shutdown    sync.Once
	shutdownErr error
}

func NewServer(cfg config.Config, state *agent.State, registry *games.Registry, launcher GameLauncher, sender OrchestratorRegistrar) *Server {
	mux := http.NewServeMux()
	s := &Server{
		cfg:      cfg,
		state:    state,
		registry: registry,
		launcher: launcher,
		sender:   sender,
		Logf:     func(string, ...any) {},
		httpSrv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	mux.HandleFunc("/api/configure", s.configureHandler)
	mux.HandleFunc("/api/start", s.startHandler)
	mux.HandleFunc("/api/stop", s.stopHandler)
	mux.HandleFunc("/api/status", s.statusHandler)
	mux.HandleFunc("/api/register_orchestrator", s.registerOrchestratorHandler)
	return s
}

func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.AgentPort))
	if err != nil {
		return fmt.Errorf("listen on agent port %d: %w", s.cfg.AgentPort, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		if serveErr := s.httpSrv.Serve(ln); serveErr != nil && serveErr != http.ErrServerClosed {
			errCh <- serveErr
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case serveErr, ok := <-errCh:
		if ok && serveErr != nil {
			return fmt.Errorf("serve: %w", serveErr)
		}
		return nil
	}
}

// Addr returns the bound listen address, useful when AgentPort is 0.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdown.Do(func() {
		s.cancelLaunch()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.shutdownErr = err
		}
	})
	return s.shutdownErr
}

func (s *Server) configureHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	var req api.ConfigureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrBadRequest, "invalid JSON body")
		return
	}
	if req.Game == "" || req.SessionID == "" {
		s.writeError(w, http.StatusBadRequest, model.ErrBadRequest, "game and session_id are required")
		return
	}
	role := model.Role(req.Role)
	if !model.ValidRole(role) {
		s.writeError(w, http.StatusBadRequest, model.ErrBadRequest, fmt.Sprintf("unknown role %q", req.Role))
		return
	}
	if !s.registry.IsRegistered(req.Game) {
		s.writeError(w, http.StatusBadRequest, model.ErrGameUnknown, fmt.Sprintf("game %q is not registered", req.Game))
		return
	}
	if role != model.RoleSingleplayer && req.PlayerCount < 1 {
		s.writeError(w, http.StatusBadRequest, model.ErrBadRequest, "player_count is required for multiplayer roles")
		return
	}

	// A configure while a previous launch runs supersedes it.
	s.cancelLaunch()
	s.state.Configure(req.Game, req.SessionID, role, req.PlayerCount, req.HostIP)
	s.Logf("configured %s as %s (session %s)", req.Game, role, req.SessionID)

	snap := s.state.Snapshot()
	s.writeJSON(w, http.StatusOK, api.CommandResponse{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Status:        "ok",
		Message:       fmt.Sprintf("configured for %s", req.Game),
		State:         stateInfo(snap),
	})
}

func (s *Server) startHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	if !s.state.IsConfigured() {
		s.writeError(w, http.StatusBadRequest, model.ErrNotConfigured, "machine is not configured")
		return
	}
	s.state.SetStatus(model.StatusStarting)
	snap := s.state.Snapshot()

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.launchCancel != nil {
		s.launchCancel()
	}
	s.launchCancel = cancel
	s.launchSeq++
	seq := s.launchSeq
	s.mu.Unlock()

	go s.runLaunch(ctx, seq, snap)

	s.writeJSON(w, http.StatusOK, api.CommandResponse{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Status:        "ok",
		Message:       fmt.Sprintf("starting %s", snap.CurrentGame),
		State:         stateInfo(snap),
	})
}

func (s *Server) runLaunch(ctx context.Context, seq uint64, snap agent.Snapshot) {
	res := s.launcher.Launch(ctx, snap)

	// Stop or a newer configure/start may have taken over the state while
	// the launcher ran. In that case the result is theirs to ignore, even
	// if the launcher never observed the cancellation.
	s.mu.Lock()
	owned := s.launchSeq == seq && s.launchCancel != nil
	if owned {
		s.launchCancel()
		s.launchCancel = nil
	}
	s.mu.Unlock()
	if !owned {
		s.Logf("launch of %s superseded, discarding result %s", snap.CurrentGame, res)
		return
	}

	switch res {
	case model.NavCompleted:
		s.state.SetStatus(model.StatusRunning)
		s.Logf("launch of %s completed", snap.CurrentGame)
	case model.NavFailed:
		s.Logf("launch of %s failed, resetting", snap.CurrentGame)
		termCtx, termCancel := context.WithTimeout(context.Background(), s.cfg.TerminateTimeout)
		if err := s.launcher.Terminate(termCtx, snap.CurrentGame); err != nil {
			s.Logf("cleanup terminate: %v", err)
		}
		termCancel()
		s.state.Reset()
	case model.NavCancelled:
		// Stop already owns the state transition.
		s.Logf("launch of %s cancelled", snap.CurrentGame)
	}
}

func (s *Server) stopHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	snap := s.state.Snapshot()
	if snap.CurrentGame == "" {
		s.writeError(w, http.StatusBadRequest, model.ErrNotConfigured, "no game configured")
		return
	}

	s.cancelLaunch()

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.TerminateTimeout)
	defer cancel()
	if err := s.launcher.Terminate(ctx, snap.CurrentGame); err != nil {
		s.Logf("terminate %s: %v", snap.CurrentGame, err)
	}
	s.state.Reset()

	s.writeJSON(w, http.StatusOK, api.CommandResponse{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Status:        "ok",
		Message:       fmt.Sprintf("stopped %s", snap.CurrentGame),
		State:         stateInfo(s.state.Snapshot()),
	})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	snap := s.state.Snapshot()
	s.writeJSON(w, http.StatusOK, api.StatusResponse{
		SchemaVersion:  api.SchemaVersion,
		GeneratedAt:    time.Now().UTC(),
		State:          *stateInfo(snap),
		SupportedGames: s.registry.List(),
	})
}

func (s *Server) registerOrchestratorHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	var req api.RegisterOrchestratorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrBadRequest, "invalid JSON body")
		return
	}
	if req.OrchestratorURL == "" {
		s.writeError(w, http.StatusBadRequest, model.ErrBadRequest, "orchestrator_url is required")
		return
	}
	if u, err := url.Parse(req.OrchestratorURL); err != nil || u.Scheme == "" || u.Host == "" {
		s.writeError(w, http.StatusBadRequest, model.ErrBadRequest, fmt.Sprintf("invalid orchestrator_url %q", req.OrchestratorURL))
		return
	}

	s.sender.Register(strings.TrimRight(req.OrchestratorURL, "/"))
	s.Logf("registered orchestrator %s", req.OrchestratorURL)

	s.writeJSON(w, http.StatusOK, api.RegisterOrchestratorResponse{
		SchemaVersion:     api.SchemaVersion,
		GeneratedAt:       time.Now().UTC(),
		Status:            "ok",
		Message:           "heartbeats started",
		HeartbeatInterval: s.cfg.HeartbeatInterval.Seconds(),
	})
}

func (s *Server) cancelLaunch() {
	s.mu.Lock()
	cancel := s.launchCancel
	s.launchCancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func stateInfo(snap agent.Snapshot) *api.StateInfo {
	return &api.StateInfo{
		Status:      string(snap.Status),
		CurrentGame: snap.CurrentGame,
		SessionID:   snap.SessionID,
		Role:        string(snap.Role),
		PlayerCount: snap.PlayerCount,
		HostIP:      snap.HostIP,
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, msg string) {
	resp := api.ErrorResponse{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Error: api.APIError{
			Code:    code,
			Message: msg,
		},
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allow ...string) {
	if len(allow) > 0 {
		w.Header().Set("Allow", strings.Join(allow, ", "))
	}
	s.writeError(w, http.StatusMethodNotAllowed, model.ErrBadRequest, "method not allowed")
}
