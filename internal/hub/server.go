package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/simfleet/simfleet/internal/api"
	"github.com/simfleet/simfleet/internal/config"
	"github.com/simfleet/simfleet/internal/db"
	"github.com/simfleet/simfleet/internal/fleet"
	"github.com/simfleet/simfleet/internal/model"
)

// Server is the orchestrator's HTTP API: heartbeat intake, fleet snapshot,
// and session commands. The store is optional; without it the hub simply
// keeps no audit history.
type Server struct {
	cfg         config.Config
	registry    *fleet.Registry
	coordinator *fleet.Coordinator
	store       *db.Store
	httpSrv     *http.Server
	listener    net.Listener
	Logf        func(format string, args ...any)

	mu          sync.Mutex
	shutdown    sync.Once
	shutdownErr error
}

func NewServer(cfg config.Config, registry *fleet.Registry, coordinator *fleet.Coordinator, store *db.Store) *Server {
	mux := http.NewServeMux()
	s := &Server{
		cfg:         cfg,
		registry:    registry,
		coordinator: coordinator,
		store:       store,
		Logf:        func(string, ...any) {},
		httpSrv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	mux.HandleFunc("/api/heartbeat", s.heartbeatHandler)
	mux.HandleFunc("/api/setups", s.setupsHandler)
	mux.HandleFunc("/api/sessions", s.sessionsHandler)
	mux.HandleFunc("/api/register_setup", s.registerSetupHandler)
	mux.HandleFunc("/api/start_all", s.startAllHandler)
	mux.HandleFunc("/api/start_multiplayer", s.startMultiplayerHandler)
	mux.HandleFunc("/api/start_slot", s.startSlotHandler)
	mux.HandleFunc("/api/stop_all", s.stopAllHandler)
	mux.HandleFunc("/api/stop_slot", s.stopSlotHandler)
	return s
}

func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.HubPort))
	if err != nil {
		return fmt.Errorf("listen on hub port %d: %w", s.cfg.HubPort, err)
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
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.shutdownErr = err
		}
	})
	return s.shutdownErr
}

func (s *Server) heartbeatHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	var req api.HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrBadRequest, "invalid JSON body")
		return
	}
	if req.IP == "" || req.Port == 0 {
		s.writeError(w, http.StatusBadRequest, model.ErrBadRequest, "ip and port are required")
		return
	}

	hb := model.Heartbeat{
		Identity:    model.MachineIdentity{ID: req.ID, Name: req.Name, IP: req.IP, Port: req.Port},
		Status:      model.Status(req.Status),
		CurrentGame: req.CurrentGame,
		SessionID:   req.SessionID,
		Timestamp:   req.Timestamp,
	}
	slot, err := s.registry.OnHeartbeat(hb)
	if err != nil {
		s.writeCodedError(w, err)
		return
	}
	s.persistMachine(r.Context(), hb.Identity.Addr())

	s.writeJSON(w, http.StatusOK, api.HeartbeatResponse{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Status:        "received",
		Slot:          slot,
	})
}

func (s *Server) setupsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	now := time.Now()
	machines := s.registry.All()
	setups := make([]api.SetupItem, 0, len(machines))
	for _, m := range machines {
		item := api.SetupItem{
			Addr:        m.Addr(),
			ServiceName: m.ServiceName,
			Slot:        m.Slot,
			Connected:   m.Heartbeat != nil,
			Online:      m.Online(now, s.cfg.LivenessWindow),
			Properties:  m.Properties,
		}
		if m.Heartbeat != nil {
			item.Heartbeat = &api.HeartbeatInfo{
				Name:        m.Heartbeat.Identity.Name,
				ID:          m.Heartbeat.Identity.ID,
				Status:      string(m.Heartbeat.Status),
				CurrentGame: m.Heartbeat.CurrentGame,
				SessionID:   m.Heartbeat.SessionID,
				Timestamp:   m.Heartbeat.Timestamp,
				ReceivedAt:  m.Heartbeat.ReceivedAt.UTC().Format(time.RFC3339Nano),
			}
		}
		setups = append(setups, item)
	}
	s.writeJSON(w, http.StatusOK, api.SetupsEnvelope{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Setups:        setups,
	})
}

func (s *Server) sessionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	if s.store == nil {
		s.writeJSON(w, http.StatusOK, api.SessionsEnvelope{
			SchemaVersion: api.SchemaVersion,
			GeneratedAt:   time.Now().UTC(),
			Sessions:      []api.SessionRecordItem{},
		})
		return
	}
	sessions, err := s.store.ListSessions(r.Context(), 50)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, model.ErrInternal, err.Error())
		return
	}
	items := make([]api.SessionRecordItem, 0, len(sessions))
	for _, sess := range sessions {
		items = append(items, api.SessionRecordItem{
			SessionID:       sess.SessionID,
			Game:            sess.Game,
			NumPlayers:      sess.PlayerCount,
			ConfiguredCount: sess.ConfiguredCount,
			SuccessCount:    sess.SuccessCount,
			StartedAt:       sess.StartedAt.UTC().Format(time.RFC3339Nano),
			Results:         resultItems(sess.Results),
		})
	}
	s.writeJSON(w, http.StatusOK, api.SessionsEnvelope{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Sessions:      items,
	})
}

func (s *Server) registerSetupHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	var req api.RegisterSetupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrBadRequest, "invalid JSON body")
		return
	}
	host, port, err := splitAddr(req.Addr)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrBadRequest, err.Error())
		return
	}
	s.registry.OnDiscovered("", host, port, nil)
	s.Logf("manually registered setup %s", req.Addr)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "registered"})
}

func (s *Server) startAllHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	var req api.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrBadRequest, "invalid JSON body")
		return
	}
	if req.Game == "" {
		s.writeError(w, http.StatusBadRequest, model.ErrBadRequest, "game is required")
		return
	}
	session, err := s.coordinator.StartAll(r.Context(), req.Game)
	s.finishSession(w, r.Context(), session, err)
}

func (s *Server) startMultiplayerHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	var req api.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrBadRequest, "invalid JSON body")
		return
	}
	if req.Game == "" || req.NumPlayers < 1 {
		s.writeError(w, http.StatusBadRequest, model.ErrBadRequest, "game and num_players are required")
		return
	}
	session, err := s.coordinator.StartSession(r.Context(), req.Game, req.NumPlayers)
	s.finishSession(w, r.Context(), session, err)
}

func (s *Server) startSlotHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	var req api.SlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrBadRequest, "invalid JSON body")
		return
	}
	if req.Game == "" || req.Slot < 1 {
		s.writeError(w, http.StatusBadRequest, model.ErrBadRequest, "game and slot are required")
		return
	}
	session, err := s.coordinator.StartSlot(r.Context(), req.Game, req.Slot)
	s.finishSession(w, r.Context(), session, err)
}

func (s *Server) finishSession(w http.ResponseWriter, ctx context.Context, session model.Session, err error) {
	if err != nil {
		s.writeCodedError(w, err)
		return
	}
	if s.store != nil {
		if dbErr := s.store.InsertSession(ctx, session); dbErr != nil {
			s.Logf("persist session %s: %v", session.SessionID, dbErr)
		}
	}
	s.writeJSON(w, http.StatusOK, api.SessionResponse{
		SchemaVersion:   api.SchemaVersion,
		GeneratedAt:     time.Now().UTC(),
		SessionID:       session.SessionID,
		Game:            session.Game,
		NumPlayers:      session.PlayerCount,
		ConfiguredCount: session.ConfiguredCount,
		SuccessCount:    session.SuccessCount,
		Results:         resultItems(session.Results),
	})
}

func (s *Server) stopAllHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	results := s.coordinator.StopAll(r.Context())
	s.writeStopResponse(w, results)
}

func (s *Server) stopSlotHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	var req api.SlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrBadRequest, "invalid JSON body")
		return
	}
	if req.Slot < 1 {
		s.writeError(w, http.StatusBadRequest, model.ErrBadRequest, "slot is required")
		return
	}
	result, err := s.coordinator.StopSlot(r.Context(), req.Slot)
	if err != nil {
		s.writeCodedError(w, err)
		return
	}
	s.writeStopResponse(w, []model.MachineResult{result})
}

func (s *Server) writeStopResponse(w http.ResponseWriter, results []model.MachineResult) {
	success := 0
	for _, res := range results {
		if res.Status == model.SessionOK {
			success++
		}
	}
	s.writeJSON(w, http.StatusOK, api.StopResponse{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		SuccessCount:  success,
		Results:       resultItems(results),
	})
}

func (s *Server) persistMachine(ctx context.Context, addr string) {
	if s.store == nil {
		return
	}
	m, ok := s.registry.Get(addr)
	if !ok {
		return
	}
	if err := s.store.UpsertMachine(ctx, m); err != nil {
		s.Logf("persist machine %s: %v", addr, err)
	}
}

func resultItems(results []model.MachineResult) []api.MachineResultItem {
	items := make([]api.MachineResultItem, 0, len(results))
	for _, res := range results {
		items = append(items, api.MachineResultItem{
			Addr:   res.Addr,
			Name:   res.Name,
			ID:     res.ID,
			Slot:   res.Slot,
			Role:   string(res.Role),
			Status: res.Status,
			Error:  res.Error,
		})
	}
	return items
}

func splitAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("addr must be ip:port, got %q", addr)
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil || port < 1 {
		return "", 0, fmt.Errorf("invalid port in addr %q", addr)
	}
	return host, port, nil
}

// writeCodedError maps coordinator and registry error codes onto HTTP
// statuses.
func (s *Server) writeCodedError(w http.ResponseWriter, err error) {
	var coded *model.CodedError
	if !errors.As(err, &coded) {
		s.writeError(w, http.StatusInternalServerError, model.ErrInternal, err.Error())
		return
	}
	status := http.StatusBadRequest
	switch coded.Code {
	case model.ErrMachineUnknown:
		status = http.StatusNotFound
	case model.ErrMachineUnreachable:
		status = http.StatusServiceUnavailable
	case model.ErrInsufficientCapacity:
		status = http.StatusConflict
	}
	s.writeError(w, status, coded.Code, coded.Message)
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
