package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/simfleet/simfleet/internal/db"
	"github.com/simfleet/simfleet/internal/model"
)

func NewStore(t *testing.T) (*db.Store, context.Context) {
	t.Helper()
	ctx := context.Background()
	store, err := db.Open(ctx, filepath.Join(t.TempDir(), "simfleet-test.db"))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store, ctx
}

// SeedMachine writes one machine row with a fresh heartbeat. The machine
// listens on the default agent port, so host is a bare IP.
func SeedMachine(t *testing.T, store *db.Store, ctx context.Context, id, slot int, host string) model.Machine {
	t.Helper()
	port := 5000
	m := model.Machine{
		ServiceName: "rig",
		Address:     host,
		Port:        port,
		Slot:        slot,
		Heartbeat: &model.Heartbeat{
			Identity:   model.MachineIdentity{ID: id, Name: "rig", IP: host, Port: port},
			Status:     model.StatusIdle,
			ReceivedAt: time.Now().UTC(),
		},
	}
	if err := store.UpsertMachine(ctx, m); err != nil {
		t.Fatalf("seed machine: %v", err)
	}
	return m
}
