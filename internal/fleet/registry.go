package fleet

import (
	"sort"
	"sync"
	"time"

	"github.com/simfleet/simfleet/internal/config"
	"github.com/simfleet/simfleet/internal/model"
)

// Registry tracks every setup machine the hub knows about, keyed by
// "ip:port". Discovery creates pending entries; the first heartbeat binds a
// slot. Slot bindings are sticky: restarts and network blips never shuffle
// machines between rigs.
type Registry struct {
	cfg config.Config
	now func() time.Time

	mu       sync.Mutex
	machines map[string]*model.Machine
}

func NewRegistry(cfg config.Config) *Registry {
	return &Registry{
		cfg:      cfg,
		now:      time.Now,
		machines: map[string]*model.Machine{},
	}
}

// OnDiscovered upserts a machine found via mDNS (or manual registration).
// An existing entry keeps its slot and heartbeat; only the service metadata
// is refreshed.
func (r *Registry) OnDiscovered(serviceName, address string, port int, props map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := model.Machine{ServiceName: serviceName, Address: address, Port: port}
	key := m.Addr()
	if existing, ok := r.machines[key]; ok {
		existing.ServiceName = serviceName
		existing.Properties = props
		return
	}
	m.Properties = props
	r.machines[key] = &m
}

// OnHeartbeat records a heartbeat for a known machine and returns its slot.
// Heartbeats from addresses that were never discovered or registered are
// rejected; senders learn about the rejection and re-announce themselves.
func (r *Registry) OnHeartbeat(hb model.Heartbeat) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := hb.Identity.Addr()
	m, ok := r.machines[key]
	if !ok {
		return 0, model.Errorf(model.ErrMachineUnknown, "machine %s is not registered", key)
	}
	hb.ReceivedAt = r.now()
	m.Heartbeat = &hb
	if m.Slot == 0 {
		m.Slot = r.assignSlotLocked(hb.Identity.ID)
	}
	return m.Slot, nil
}

// assignSlotLocked binds a slot for a newly heartbeating machine: the
// machine's own id when it names a valid free slot, otherwise the lowest
// free slot, otherwise 0 (unassigned, excluded from sessions).
func (r *Registry) assignSlotLocked(machineID int) int {
	used := map[int]bool{}
	for _, m := range r.machines {
		if m.Slot != 0 {
			used[m.Slot] = true
		}
	}
	if machineID >= 1 && machineID <= r.cfg.SlotCount && !used[machineID] {
		return machineID
	}
	for slot := 1; slot <= r.cfg.SlotCount; slot++ {
		if !used[slot] {
			return slot
		}
	}
	return 0
}

// OnServiceRemoved evicts the machine advertising the given mDNS service
// name, freeing its slot.
func (r *Registry) OnServiceRemoved(serviceName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, m := range r.machines {
		if m.ServiceName == serviceName {
			delete(r.machines, key)
			return true
		}
	}
	return false
}

// Get returns a copy of one machine's entry.
func (r *Registry) Get(addr string) (model.Machine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.machines[addr]
	if !ok {
		return model.Machine{}, false
	}
	return copyMachine(m), true
}

// BySlot returns the machine bound to the given slot.
func (r *Registry) BySlot(slot int) (model.Machine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.machines {
		if m.Slot == slot {
			return copyMachine(m), true
		}
	}
	return model.Machine{}, false
}

// ListOnline returns session-eligible machines: fresh heartbeat and a bound
// slot, ordered by ascending machine id so selection and host election are
// deterministic.
func (r *Registry) ListOnline() []model.Machine {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	var out []model.Machine
	for _, m := range r.machines {
		if m.Slot != 0 && m.Online(now, r.cfg.LivenessWindow) {
			out = append(out, copyMachine(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// All returns every known machine, pending and offline entries included,
// ordered by slot then address.
func (r *Registry) All() []model.Machine {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Machine, 0, len(r.machines))
	for _, m := range r.machines {
		out = append(out, copyMachine(m))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Slot != out[j].Slot {
			if out[i].Slot == 0 {
				return false
			}
			if out[j].Slot == 0 {
				return true
			}
			return out[i].Slot < out[j].Slot
		}
		return out[i].Addr() < out[j].Addr()
	})
	return out
}

func copyMachine(m *model.Machine) model.Machine {
	out := *m
	if m.Heartbeat != nil {
		hb := *m.Heartbeat
		out.Heartbeat = &hb
	}
	if m.Properties != nil {
		props := make(map[string]string, len(m.Properties))
		for k, v := range m.Properties {
			props[k] = v
		}
		out.Properties = props
	}
	return out
}
