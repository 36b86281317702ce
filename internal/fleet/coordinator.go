package fleet

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/simfleet/simfleet/internal/api"
	"github.com/simfleet/simfleet/internal/config"
	"github.com/simfleet/simfleet/internal/model"
)

// AgentCommander sends commands to one machine agent by address. The
// production implementation wraps internal/agentclient.
type AgentCommander interface {
	Configure(ctx context.Context, addr string, req api.ConfigureRequest) error
	Start(ctx context.Context, addr string) error
	Stop(ctx context.Context, addr string) error
}

// Coordinator forms sessions out of online machines and drives the
// two-phase configure+start protocol. Per-machine failures are itemized,
// never escalated into a hard error for the whole call.
type Coordinator struct {
	cfg      config.Config
	registry *Registry
	agents   AgentCommander
	newID    func() string
	now      func() time.Time
	Logf     func(format string, args ...any)
}

func NewCoordinator(cfg config.Config, registry *Registry, agents AgentCommander) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		registry: registry,
		agents:   agents,
		newID:    uuid.NewString,
		now:      time.Now,
		Logf:     func(string, ...any) {},
	}
}

// StartSession configures and starts a session of numPlayers machines. The
// hard errors are capacity and validation; everything after selection is
// reported per machine in the session results.
func (c *Coordinator) StartSession(ctx context.Context, game string, numPlayers int) (model.Session, error) {
	if numPlayers < 1 {
		return model.Session{}, model.Errorf(model.ErrBadRequest, "num_players must be at least 1, got %d", numPlayers)
	}
	eligible := c.registry.ListOnline()
	if len(eligible) < numPlayers {
		return model.Session{}, model.Errorf(model.ErrInsufficientCapacity,
			"need %d machines, only %d online", numPlayers, len(eligible))
	}
	selected := eligible[:numPlayers]

	roles := make([]model.Role, numPlayers)
	hostIP := ""
	if numPlayers == 1 {
		roles[0] = model.RoleSingleplayer
	} else {
		// Lowest machine id hosts; ListOnline already orders by id.
		roles[0] = model.RoleHost
		for i := 1; i < numPlayers; i++ {
			roles[i] = model.RoleJoin
		}
		hostIP = selected[0].Address
	}

	session := model.Session{
		SessionID:   c.newID(),
		Game:        game,
		PlayerCount: numPlayers,
		HostIP:      hostIP,
		StartedAt:   c.now(),
	}
	c.Logf("session %s: starting %s with %d players (host %s)", session.SessionID, game, numPlayers, hostIP)

	results := make([]model.MachineResult, numPlayers)
	for i, m := range selected {
		results[i] = machineResult(m, roles[i])
		err := c.agents.Configure(ctx, m.Addr(), api.ConfigureRequest{
			Game:        game,
			SessionID:   session.SessionID,
			Role:        string(roles[i]),
			PlayerCount: numPlayers,
			HostIP:      hostIP,
		})
		if err != nil {
			c.Logf("session %s: configure %s failed: %v", session.SessionID, m.Addr(), err)
			results[i].Status = model.SessionFailedConfigure
			results[i].Error = err.Error()
			continue
		}
		session.ConfiguredCount++
	}

	// A partially configured fleet never races: one failed configure
	// aborts the start phase for everyone.
	if session.ConfiguredCount < numPlayers {
		c.Logf("session %s: configure gate failed (%d/%d), not starting",
			session.SessionID, session.ConfiguredCount, numPlayers)
		session.Results = results
		return session, nil
	}

	for i, m := range selected {
		if err := c.agents.Start(ctx, m.Addr()); err != nil {
			c.Logf("session %s: start %s failed: %v", session.SessionID, m.Addr(), err)
			results[i].Status = model.SessionFailedStart
			results[i].Error = err.Error()
			continue
		}
		results[i].Status = model.SessionOK
		session.SuccessCount++
	}
	session.Results = results
	return session, nil
}

// StartAll starts the game on every online machine as one session.
func (c *Coordinator) StartAll(ctx context.Context, game string) (model.Session, error) {
	online := c.registry.ListOnline()
	if len(online) == 0 {
		return model.Session{}, model.Errorf(model.ErrInsufficientCapacity, "no machines online")
	}
	return c.StartSession(ctx, game, len(online))
}

// StartSlot runs a singleplayer session on the machine bound to slot.
func (c *Coordinator) StartSlot(ctx context.Context, game string, slot int) (model.Session, error) {
	m, ok := c.registry.BySlot(slot)
	if !ok {
		return model.Session{}, model.Errorf(model.ErrMachineUnknown, "no machine bound to slot %d", slot)
	}
	if !m.Online(c.now(), c.cfg.LivenessWindow) {
		return model.Session{}, model.Errorf(model.ErrMachineUnreachable, "machine in slot %d is offline", slot)
	}

	session := model.Session{
		SessionID:   c.newID(),
		Game:        game,
		PlayerCount: 1,
		StartedAt:   c.now(),
	}
	result := machineResult(m, model.RoleSingleplayer)
	err := c.agents.Configure(ctx, m.Addr(), api.ConfigureRequest{
		Game:        game,
		SessionID:   session.SessionID,
		Role:        string(model.RoleSingleplayer),
		PlayerCount: 1,
	})
	if err != nil {
		result.Status = model.SessionFailedConfigure
		result.Error = err.Error()
		session.Results = []model.MachineResult{result}
		return session, nil
	}
	session.ConfiguredCount = 1
	if err := c.agents.Start(ctx, m.Addr()); err != nil {
		result.Status = model.SessionFailedStart
		result.Error = err.Error()
	} else {
		result.Status = model.SessionOK
		session.SuccessCount = 1
	}
	session.Results = []model.MachineResult{result}
	return session, nil
}

// StopAll sends stop to every online machine, slotless ones included.
// Failures stay per-machine.
func (c *Coordinator) StopAll(ctx context.Context) []model.MachineResult {
	now := c.now()
	var results []model.MachineResult
	for _, m := range c.registry.All() {
		if !m.Online(now, c.cfg.LivenessWindow) {
			continue
		}
		res := machineResult(m, "")
		if err := c.agents.Stop(ctx, m.Addr()); err != nil {
			c.Logf("stop %s failed: %v", m.Addr(), err)
			res.Status = model.SessionFailedStop
			res.Error = err.Error()
		} else {
			res.Status = model.SessionOK
		}
		results = append(results, res)
	}
	return results
}

// StopSlot stops whatever runs on the machine bound to slot.
func (c *Coordinator) StopSlot(ctx context.Context, slot int) (model.MachineResult, error) {
	m, ok := c.registry.BySlot(slot)
	if !ok {
		return model.MachineResult{}, model.Errorf(model.ErrMachineUnknown, "no machine bound to slot %d", slot)
	}
	res := machineResult(m, "")
	if err := c.agents.Stop(ctx, m.Addr()); err != nil {
		res.Status = model.SessionFailedStop
		res.Error = err.Error()
	} else {
		res.Status = model.SessionOK
	}
	return res, nil
}

func machineResult(m model.Machine, role model.Role) model.MachineResult {
	res := model.MachineResult{Addr: m.Addr(), Slot: m.Slot, Role: role}
	if m.Heartbeat != nil {
		res.Name = m.Heartbeat.Identity.Name
		res.ID = m.Heartbeat.Identity.ID
	}
	return res
}
