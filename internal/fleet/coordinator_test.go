package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/simfleet/simfleet/internal/api"
	"github.com/simfleet/simfleet/internal/model"
)

type commandLog struct {
	kind string
	addr string
	req  api.ConfigureRequest
}

type fakeCommander struct {
	mu            sync.Mutex
	log           []commandLog
	configureFail map[string]error
	startFail     map[string]error
	stopFail      map[string]error
}

func (f *fakeCommander) Configure(_ context.Context, addr string, req api.ConfigureRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, commandLog{kind: "configure", addr: addr, req: req})
	return f.configureFail[addr]
}

func (f *fakeCommander) Start(_ context.Context, addr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, commandLog{kind: "start", addr: addr})
	return f.startFail[addr]
}

func (f *fakeCommander) Stop(_ context.Context, addr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, commandLog{kind: "stop", addr: addr})
	return f.stopFail[addr]
}

func (f *fakeCommander) commands(kind string) []commandLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []commandLog
	for _, c := range f.log {
		if c.kind == kind {
			out = append(out, c)
		}
	}
	return out
}

func newCoordinatorFixture(t *testing.T, ids []int) (*Coordinator, *Registry, *fakeCommander) {
	t.Helper()
	r, _ := testRegistry(4)
	for _, id := range ids {
		discoverAndBeat(t, r, id, fmt.Sprintf("10.0.0.%d", id))
	}
	agents := &fakeCommander{}
	c := NewCoordinator(r.cfg, r, agents)
	c.Logf = t.Logf
	c.now = r.now
	seq := 0
	c.newID = func() string {
		seq++
		return fmt.Sprintf("session-%d", seq)
	}
	return c, r, agents
}

func addrOf(id int) string { return fmt.Sprintf("10.0.0.%d:5000", id) }

func TestStartSessionSelectsLowestIDsAndHost(t *testing.T) {
	c, _, agents := newCoordinatorFixture(t, []int{3, 1, 2})

	session, err := c.StartSession(context.Background(), "f1_22", 2)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if session.ConfiguredCount != 2 || session.SuccessCount != 2 {
		t.Fatalf("counts = %d/%d, want 2/2", session.ConfiguredCount, session.SuccessCount)
	}

	configures := agents.commands("configure")
	if len(configures) != 2 {
		t.Fatalf("configure count = %d, want 2", len(configures))
	}
	if configures[0].addr != addrOf(1) || configures[0].req.Role != "host" {
		t.Fatalf("first configure = %+v, want host on machine 1", configures[0])
	}
	if configures[1].addr != addrOf(2) || configures[1].req.Role != "join" {
		t.Fatalf("second configure = %+v, want join on machine 2", configures[1])
	}
	for _, cfg := range configures {
		if cfg.req.HostIP != "10.0.0.1" {
			t.Fatalf("host_ip = %q, want 10.0.0.1", cfg.req.HostIP)
		}
		if cfg.req.SessionID != "session-1" || cfg.req.PlayerCount != 2 {
			t.Fatalf("configure payload = %+v", cfg.req)
		}
	}
	// Machine 3 was not selected and receives nothing.
	for _, cmd := range agents.log {
		if cmd.addr == addrOf(3) {
			t.Fatalf("machine 3 received %s", cmd.kind)
		}
	}
}

func TestStartSessionSinglePlayerRole(t *testing.T) {
	c, _, agents := newCoordinatorFixture(t, []int{2})

	session, err := c.StartSession(context.Background(), "acc", 1)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if session.SuccessCount != 1 {
		t.Fatalf("success count = %d", session.SuccessCount)
	}
	configures := agents.commands("configure")
	if configures[0].req.Role != "singleplayer" || configures[0].req.HostIP != "" {
		t.Fatalf("configure = %+v, want singleplayer with no host ip", configures[0].req)
	}
}

func TestStartSessionInsufficientCapacity(t *testing.T) {
	c, _, agents := newCoordinatorFixture(t, []int{1})

	_, err := c.StartSession(context.Background(), "f1_22", 3)
	var coded *model.CodedError
	if !errors.As(err, &coded) || coded.Code != model.ErrInsufficientCapacity {
		t.Fatalf("err = %v, want %s", err, model.ErrInsufficientCapacity)
	}
	if len(agents.log) != 0 {
		t.Fatalf("capacity failure still sent commands: %v", agents.log)
	}
}

func TestConfigureGateBlocksStartPhase(t *testing.T) {
	c, _, agents := newCoordinatorFixture(t, []int{1, 2, 3})
	agents.configureFail = map[string]error{addrOf(2): errors.New("connection refused")}

	session, err := c.StartSession(context.Background(), "f1_22", 3)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if session.ConfiguredCount != 2 || session.SuccessCount != 0 {
		t.Fatalf("counts = %d/%d, want 2 configured, 0 started", session.ConfiguredCount, session.SuccessCount)
	}
	if starts := agents.commands("start"); len(starts) != 0 {
		t.Fatalf("start sent despite failed gate: %v", starts)
	}

	var failed int
	for _, res := range session.Results {
		if res.Status == model.SessionFailedConfigure {
			failed++
			if res.Addr != addrOf(2) {
				t.Fatalf("wrong machine marked failed: %+v", res)
			}
		}
	}
	if failed != 1 {
		t.Fatalf("failed results = %d, want 1", failed)
	}
}

func TestStartFailureIsolatedPerMachine(t *testing.T) {
	c, _, agents := newCoordinatorFixture(t, []int{1, 2})
	agents.startFail = map[string]error{addrOf(1): errors.New("navigation jammed")}

	session, err := c.StartSession(context.Background(), "f1_22", 2)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if session.ConfiguredCount != 2 || session.SuccessCount != 1 {
		t.Fatalf("counts = %d/%d, want 2 configured, 1 started", session.ConfiguredCount, session.SuccessCount)
	}
	if starts := agents.commands("start"); len(starts) != 2 {
		t.Fatalf("start count = %d, want both machines attempted", len(starts))
	}
}

func TestStartSlotRunsSingleplayer(t *testing.T) {
	c, _, agents := newCoordinatorFixture(t, []int{1, 2})

	session, err := c.StartSlot(context.Background(), "acc", 2)
	if err != nil {
		t.Fatalf("StartSlot: %v", err)
	}
	if session.SuccessCount != 1 {
		t.Fatalf("success count = %d", session.SuccessCount)
	}
	configures := agents.commands("configure")
	if len(configures) != 1 || configures[0].addr != addrOf(2) || configures[0].req.Role != "singleplayer" {
		t.Fatalf("configures = %+v", configures)
	}

	if _, err := c.StartSlot(context.Background(), "acc", 4); err == nil {
		t.Fatalf("empty slot start did not error")
	}
}

func TestStopAllIsolatesFailures(t *testing.T) {
	c, _, agents := newCoordinatorFixture(t, []int{1, 2, 3})
	agents.stopFail = map[string]error{addrOf(2): errors.New("timeout")}

	results := c.StopAll(context.Background())
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	byAddr := map[string]model.MachineResult{}
	for _, res := range results {
		byAddr[res.Addr] = res
	}
	if byAddr[addrOf(2)].Status != model.SessionFailedStop {
		t.Fatalf("machine 2 result = %+v", byAddr[addrOf(2)])
	}
	if byAddr[addrOf(1)].Status != model.SessionOK || byAddr[addrOf(3)].Status != model.SessionOK {
		t.Fatalf("healthy machines not stopped: %+v", results)
	}
}

func TestStopSlot(t *testing.T) {
	c, _, agents := newCoordinatorFixture(t, []int{1})

	res, err := c.StopSlot(context.Background(), 1)
	if err != nil {
		t.Fatalf("StopSlot: %v", err)
	}
	if res.Status != model.SessionOK || res.Addr != addrOf(1) {
		t.Fatalf("result = %+v", res)
	}
	if stops := agents.commands("stop"); len(stops) != 1 {
		t.Fatalf("stop count = %d", len(stops))
	}
	if _, err := c.StopSlot(context.Background(), 3); err == nil {
		t.Fatalf("empty slot stop did not error")
	}
}

func TestOfflineMachineExcludedFromSession(t *testing.T) {
	c, r, agents := newCoordinatorFixture(t, []int{1, 2})
	// Machine 2's heartbeat goes stale.
	m, _ := r.Get(addrOf(2))
	m.Heartbeat.ReceivedAt = m.Heartbeat.ReceivedAt.Add(-time.Minute)
	r.mu.Lock()
	r.machines[addrOf(2)].Heartbeat = m.Heartbeat
	r.mu.Unlock()

	session, err := c.StartSession(context.Background(), "f1_22", 1)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if session.SuccessCount != 1 {
		t.Fatalf("success count = %d", session.SuccessCount)
	}
	for _, cmd := range agents.log {
		if cmd.addr == addrOf(2) {
			t.Fatalf("offline machine received %s", cmd.kind)
		}
	}
}
