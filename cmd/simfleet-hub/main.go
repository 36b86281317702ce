package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/simfleet/simfleet/internal/agentclient"
	"github.com/simfleet/simfleet/internal/config"
	"github.com/simfleet/simfleet/internal/db"
	"github.com/simfleet/simfleet/internal/discovery"
	"github.com/simfleet/simfleet/internal/fleet"
	"github.com/simfleet/simfleet/internal/hub"
)

func main() {
	cfg := config.DefaultConfig()
	noBrowse := false
	flag.IntVar(&cfg.HubPort, "port", cfg.HubPort, "hub listen port")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite path")
	flag.IntVar(&cfg.SlotCount, "slots", cfg.SlotCount, "number of rig slots")
	flag.BoolVar(&noBrowse, "no-mdns", false, "disable mDNS browsing")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		fatal(err)
	}
	defer store.Close() //nolint:errcheck

	registry := fleet.NewRegistry(cfg)
	commander := agentclient.NewCommander(cfg.CommandTimeout)
	coordinator := fleet.NewCoordinator(cfg, registry, commander)
	coordinator.Logf = logf

	srv := hub.NewServer(cfg, registry, coordinator, store)
	srv.Logf = logf

	if !noBrowse {
		localIP, err := discovery.LocalIP()
		if err != nil {
			fatal(err)
		}
		orchestratorURL := fmt.Sprintf("http://%s:%d", localIP, cfg.HubPort)
		browser := discovery.NewBrowser(cfg, registry, func(ctx context.Context, addr string) error {
			_, err := agentclient.New(addr).RegisterOrchestrator(ctx, orchestratorURL)
			return err
		})
		browser.Logf = logf
		go func() {
			if err := browser.Run(ctx); err != nil && err != context.Canceled {
				logErr("mdns browse", err)
			}
		}()
		logf("browsing %s, orchestrator url %s", cfg.ServiceType, orchestratorURL)
	}

	if err := srv.Start(ctx); err != nil && err != context.Canceled {
		fatal(err)
	}
}

func logf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, "simfleet-hub: "+format+"\n", args...)
}

func logErr(scope string, err error) {
	_, _ = fmt.Fprintf(os.Stderr, "simfleet-hub: %s: %v\n", scope, err)
}

func fatal(err error) {
	_, _ = fmt.Fprintf(os.Stderr, "simfleet-hub: %v\n", err)
	os.Exit(1)
}
