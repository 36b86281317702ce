package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"

	"github.com/simfleet/simfleet/internal/config"
	"github.com/simfleet/simfleet/internal/fleet"
)

// RegisterFunc tells one agent where the orchestrator lives. The production
// implementation wraps agentclient.RegisterOrchestrator.
type RegisterFunc func(ctx context.Context, addr string) error

// evictAfterMisses is how many consecutive query rounds a previously
// advertised machine may be absent before its service counts as withdrawn.
// One round is not enough; multicast responses get lost on busy networks.
const evictAfterMisses = 3

// Browser periodically queries the fleet service type, feeds discoveries
// into the registry, auto-registers the orchestrator with every machine it
// has not reached yet, and evicts machines whose advertisement disappears.
type Browser struct {
	cfg      config.Config
	registry *fleet.Registry
	register RegisterFunc
	Logf     func(format string, args ...any)

	// query is swappable for tests.
	query func(params *mdns.QueryParam) error

	mu         sync.Mutex
	registered map[string]bool
	services   map[string]string // addr -> advertised service instance
	misses     map[string]int    // addr -> consecutive rounds absent
}

func NewBrowser(cfg config.Config, registry *fleet.Registry, register RegisterFunc) *Browser {
	return &Browser{
		cfg:        cfg,
		registry:   registry,
		register:   register,
		Logf:       func(string, ...any) {},
		query:      mdns.Query,
		registered: map[string]bool{},
		services:   map[string]string{},
		misses:     map[string]int{},
	}
}

// Run browses until the context is cancelled.
func (b *Browser) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.BrowseInterval)
	defer ticker.Stop()

	b.browseOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			b.browseOnce(ctx)
		}
	}
}

func (b *Browser) browseOnce(ctx context.Context) {
	entries := make(chan *mdns.ServiceEntry, 32)
	done := make(chan struct{})
	present := map[string]bool{}
	go func() {
		defer close(done)
		for entry := range entries {
			b.handleEntry(ctx, entry, present)
		}
	}()

	err := b.query(&mdns.QueryParam{
		Service:     b.cfg.ServiceType,
		Domain:      "local",
		Timeout:     b.cfg.BrowseTimeout,
		Entries:     entries,
		DisableIPv6: true,
	})
	close(entries)
	<-done
	if err != nil {
		// A failed round says nothing about individual machines.
		b.Logf("mdns query: %v", err)
		return
	}
	b.evictAbsent(present)
}

func (b *Browser) handleEntry(ctx context.Context, entry *mdns.ServiceEntry, present map[string]bool) {
	if entry.AddrV4 == nil || entry.Port == 0 {
		return
	}
	addr := fmt.Sprintf("%s:%d", entry.AddrV4, entry.Port)
	instance := serviceInstance(entry.Name)
	props := parseTXT(entry.InfoFields)
	b.registry.OnDiscovered(instance, entry.AddrV4.String(), entry.Port, props)
	present[addr] = true

	b.mu.Lock()
	b.services[addr] = instance
	b.misses[addr] = 0
	already := b.registered[addr]
	b.mu.Unlock()
	if already || b.register == nil {
		return
	}
	if err := b.register(ctx, addr); err != nil {
		b.Logf("register orchestrator with %s: %v", addr, err)
		return
	}
	b.Logf("discovered %s, heartbeats requested", addr)
	b.mu.Lock()
	b.registered[addr] = true
	b.mu.Unlock()
}

// evictAbsent removes machines whose advertisement has been gone for
// evictAfterMisses consecutive successful query rounds. The agent withdraws
// its mDNS service on shutdown; this is how the hub observes it.
func (b *Browser) evictAbsent(present map[string]bool) {
	b.mu.Lock()
	evict := map[string]string{}
	for addr, instance := range b.services {
		if present[addr] {
			continue
		}
		b.misses[addr]++
		if b.misses[addr] < evictAfterMisses {
			continue
		}
		evict[addr] = instance
		delete(b.services, addr)
		delete(b.misses, addr)
	}
	b.mu.Unlock()

	for addr, instance := range evict {
		b.Forget(addr)
		if b.registry.OnServiceRemoved(instance) {
			b.Logf("service %s (%s) withdrawn, machine evicted", instance, addr)
		}
	}
}

// Forget makes the browser re-register with an address on its next
// appearance, used when a machine's advertisement goes away.
func (b *Browser) Forget(addr string) {
	b.mu.Lock()
	delete(b.registered, addr)
	b.mu.Unlock()
}

func parseTXT(fields []string) map[string]string {
	if len(fields) == 0 {
		return nil
	}
	props := make(map[string]string, len(fields))
	for _, f := range fields {
		k, v, ok := strings.Cut(f, "=")
		if !ok || k == "" {
			continue
		}
		props[k] = v
	}
	return props
}

// serviceInstance strips the service type and domain suffix from a full
// mDNS entry name, leaving the instance label.
func serviceInstance(name string) string {
	if i := strings.Index(name, "._"); i > 0 {
		return strings.TrimSuffix(name[:i], ".")
	}
	return strings.TrimSuffix(name, ".")
}
