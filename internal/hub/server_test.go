package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/simfleet/simfleet/internal/api"
	"github.com/simfleet/simfleet/internal/config"
	"github.com/simfleet/simfleet/internal/fleet"
	"github.com/simfleet/simfleet/internal/model"
	"github.com/simfleet/simfleet/internal/testutil"
)

type fakeAgents struct {
	mu            sync.Mutex
	configured    []string
	started       []string
	stopped       []string
	configureFail map[string]error
}

func (f *fakeAgents) Configure(_ context.Context, addr string, _ api.ConfigureRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configured = append(f.configured, addr)
	return f.configureFail[addr]
}

func (f *fakeAgents) Start(_ context.Context, addr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, addr)
	return nil
}

func (f *fakeAgents) Stop(_ context.Context, addr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, addr)
	return nil
}

func newTestHub(t *testing.T) (*Server, *fleet.Registry, *fakeAgents) {
	t.Helper()
	cfg := config.DefaultConfig()
	registry := fleet.NewRegistry(cfg)
	agents := &fakeAgents{}
	coordinator := fleet.NewCoordinator(cfg, registry, agents)
	coordinator.Logf = t.Logf
	store, _ := testutil.NewStore(t)
	srv := NewServer(cfg, registry, coordinator, store)
	srv.Logf = t.Logf
	return srv, registry, agents
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.httpSrv.Handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func beat(t *testing.T, srv *Server, id int, ip string) api.HeartbeatResponse {
	t.Helper()
	rec := doJSON(t, srv, http.MethodPost, "/api/heartbeat", api.HeartbeatRequest{
		Name: fmt.Sprintf("rig-%d", id), ID: id, IP: ip, Port: 5000, Status: "idle", Timestamp: 1234.5,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("heartbeat status = %d, body %s", rec.Code, rec.Body.String())
	}
	return decode[api.HeartbeatResponse](t, rec)
}

func register(t *testing.T, srv *Server, ip string) {
	t.Helper()
	rec := doJSON(t, srv, http.MethodPost, "/api/register_setup", api.RegisterSetupRequest{Addr: ip + ":5000"})
	if rec.Code != http.StatusOK {
		t.Fatalf("register_setup status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestHeartbeatFromUnknownMachineIs404(t *testing.T) {
	srv, _, _ := newTestHub(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/heartbeat", api.HeartbeatRequest{
		Name: "rig-1", ID: 1, IP: "10.0.0.1", Port: 5000, Status: "idle",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	resp := decode[api.ErrorResponse](t, rec)
	if resp.Error.Code != model.ErrMachineUnknown {
		t.Fatalf("code = %s", resp.Error.Code)
	}
}

func TestHeartbeatAssignsSlot(t *testing.T) {
	srv, _, _ := newTestHub(t)
	register(t, srv, "10.0.0.2")

	resp := beat(t, srv, 2, "10.0.0.2")
	if resp.Status != "received" || resp.Slot != 2 {
		t.Fatalf("response = %+v, want slot 2", resp)
	}
	// Repeat heartbeats keep the binding.
	resp = beat(t, srv, 2, "10.0.0.2")
	if resp.Slot != 2 {
		t.Fatalf("slot moved to %d", resp.Slot)
	}
}

func TestSetupsSnapshot(t *testing.T) {
	srv, _, _ := newTestHub(t)
	register(t, srv, "10.0.0.1")
	register(t, srv, "10.0.0.2")
	beat(t, srv, 1, "10.0.0.1")

	rec := doJSON(t, srv, http.MethodGet, "/api/setups", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decode[api.SetupsEnvelope](t, rec)
	if len(resp.Setups) != 2 {
		t.Fatalf("setups = %d, want 2", len(resp.Setups))
	}
	bound := resp.Setups[0]
	if bound.Addr != "10.0.0.1:5000" || bound.Slot != 1 || !bound.Online || bound.Heartbeat == nil {
		t.Fatalf("bound setup = %+v", bound)
	}
	if bound.Heartbeat.Name != "rig-1" || bound.Heartbeat.ReceivedAt == "" {
		t.Fatalf("heartbeat info = %+v", bound.Heartbeat)
	}
	pending := resp.Setups[1]
	if pending.Connected || pending.Online || pending.Slot != 0 {
		t.Fatalf("pending setup = %+v", pending)
	}
}

func TestStartMultiplayerSessionAndAudit(t *testing.T) {
	srv, _, agents := newTestHub(t)
	for _, id := range []int{3, 1, 2} {
		ip := fmt.Sprintf("10.0.0.%d", id)
		register(t, srv, ip)
		beat(t, srv, id, ip)
	}

	rec := doJSON(t, srv, http.MethodPost, "/api/start_multiplayer", api.StartRequest{Game: "f1_22", NumPlayers: 2})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decode[api.SessionResponse](t, rec)
	if resp.ConfiguredCount != 2 || resp.SuccessCount != 2 {
		t.Fatalf("counts = %d/%d", resp.ConfiguredCount, resp.SuccessCount)
	}
	if len(resp.Results) != 2 || resp.Results[0].Role != "host" || resp.Results[0].ID != 1 {
		t.Fatalf("results = %+v", resp.Results)
	}
	if len(agents.started) != 2 {
		t.Fatalf("started = %v", agents.started)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/sessions", nil)
	sessions := decode[api.SessionsEnvelope](t, rec)
	if len(sessions.Sessions) != 1 {
		t.Fatalf("sessions = %d, want 1 audit record", len(sessions.Sessions))
	}
	if sessions.Sessions[0].SessionID != resp.SessionID || sessions.Sessions[0].Game != "f1_22" {
		t.Fatalf("audit record = %+v", sessions.Sessions[0])
	}
}

func TestStartMultiplayerInsufficientCapacity(t *testing.T) {
	srv, _, _ := newTestHub(t)
	register(t, srv, "10.0.0.1")
	beat(t, srv, 1, "10.0.0.1")

	rec := doJSON(t, srv, http.MethodPost, "/api/start_multiplayer", api.StartRequest{Game: "f1_22", NumPlayers: 3})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	resp := decode[api.ErrorResponse](t, rec)
	if resp.Error.Code != model.ErrInsufficientCapacity {
		t.Fatalf("code = %s", resp.Error.Code)
	}
}

func TestStartSlotAndStopSlot(t *testing.T) {
	srv, _, agents := newTestHub(t)
	register(t, srv, "10.0.0.2")
	beat(t, srv, 2, "10.0.0.2")

	rec := doJSON(t, srv, http.MethodPost, "/api/start_slot", api.SlotRequest{Game: "acc", Slot: 2})
	if rec.Code != http.StatusOK {
		t.Fatalf("start_slot status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decode[api.SessionResponse](t, rec)
	if resp.SuccessCount != 1 || resp.Results[0].Role != "singleplayer" {
		t.Fatalf("response = %+v", resp)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/stop_slot", api.SlotRequest{Slot: 2})
	if rec.Code != http.StatusOK {
		t.Fatalf("stop_slot status = %d", rec.Code)
	}
	stop := decode[api.StopResponse](t, rec)
	if stop.SuccessCount != 1 {
		t.Fatalf("stop response = %+v", stop)
	}
	if len(agents.stopped) != 1 || agents.stopped[0] != "10.0.0.2:5000" {
		t.Fatalf("stopped = %v", agents.stopped)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/stop_slot", api.SlotRequest{Slot: 4})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("empty slot stop status = %d, want 404", rec.Code)
	}
}

func TestStopAll(t *testing.T) {
	srv, _, agents := newTestHub(t)
	for _, id := range []int{1, 2} {
		ip := fmt.Sprintf("10.0.0.%d", id)
		register(t, srv, ip)
		beat(t, srv, id, ip)
	}

	rec := doJSON(t, srv, http.MethodPost, "/api/stop_all", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decode[api.StopResponse](t, rec)
	if resp.SuccessCount != 2 || len(resp.Results) != 2 {
		t.Fatalf("response = %+v", resp)
	}
	if len(agents.stopped) != 2 {
		t.Fatalf("stopped = %v", agents.stopped)
	}
}

func TestConfigureGateIsReportedNotStarted(t *testing.T) {
	srv, _, agents := newTestHub(t)
	for _, id := range []int{1, 2} {
		ip := fmt.Sprintf("10.0.0.%d", id)
		register(t, srv, ip)
		beat(t, srv, id, ip)
	}
	agents.configureFail = map[string]error{"10.0.0.2:5000": fmt.Errorf("unreachable")}

	rec := doJSON(t, srv, http.MethodPost, "/api/start_multiplayer", api.StartRequest{Game: "f1_22", NumPlayers: 2})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decode[api.SessionResponse](t, rec)
	if resp.ConfiguredCount != 1 || resp.SuccessCount != 0 {
		t.Fatalf("counts = %d/%d, want 1 configured and 0 started", resp.ConfiguredCount, resp.SuccessCount)
	}
	if len(agents.started) != 0 {
		t.Fatalf("start sent despite failed gate: %v", agents.started)
	}
}
