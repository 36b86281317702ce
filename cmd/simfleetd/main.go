package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/simfleet/simfleet/internal/agent"
	"github.com/simfleet/simfleet/internal/config"
	"github.com/simfleet/simfleet/internal/daemon"
	"github.com/simfleet/simfleet/internal/discovery"
	"github.com/simfleet/simfleet/internal/games"
)

func main() {
	cfg := config.DefaultConfig()
	matcherTool := "simfleet-matcher"
	orchestratorURL := ""
	noAdvertise := false
	flag.IntVar(&cfg.AgentPort, "port", cfg.AgentPort, "agent listen port")
	flag.StringVar(&cfg.IdentityPath, "identity", cfg.IdentityPath, "machine identity JSON path")
	flag.StringVar(&cfg.GamesConfigPath, "games", cfg.GamesConfigPath, "games config JSON path")
	flag.StringVar(&cfg.TemplateBaseDir, "templates", cfg.TemplateBaseDir, "base directory for templates and sequences")
	flag.StringVar(&matcherTool, "matcher", matcherTool, "external template matcher command")
	flag.StringVar(&orchestratorURL, "orchestrator", "", "orchestrator URL to heartbeat to at startup")
	flag.BoolVar(&noAdvertise, "no-mdns", false, "disable mDNS advertisement")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	identity, err := agent.LoadIdentity(cfg.IdentityPath)
	if err != nil {
		fatal(err)
	}
	identity.Port = cfg.AgentPort
	if identity.IP == "" {
		ip, err := discovery.LocalIP()
		if err != nil {
			fatal(err)
		}
		identity.IP = ip
	}

	registry, err := games.LoadRegistry(cfg)
	if err != nil {
		fatal(err)
	}
	logf("machine %s (id %d) at %s, %d games", identity.Name, identity.ID, identity.Addr(), len(registry.List()))

	probe := agent.NewCommandProbe(matcherTool)
	input := agent.NewXdoInput()
	proc := agent.NewExecProcessManager()
	focus := agent.NewXdoFocuser()

	state := agent.NewState()
	launcher := agent.NewLauncher(cfg, registry, probe, input, proc, focus)
	launcher.Logf = logf
	sender := agent.NewSender(cfg, identity, state, launcher)
	sender.Logf = logf
	defer sender.Stop()

	if orchestratorURL != "" {
		sender.Register(orchestratorURL)
	}

	if !noAdvertise {
		mdnsSrv, err := discovery.Advertise(cfg, identity, registry.List())
		if err != nil {
			logErr("mdns advertise", err)
		} else {
			defer mdnsSrv.Shutdown() //nolint:errcheck
		}
	}

	srv := daemon.NewServer(cfg, state, registry, launcher, sender)
	srv.Logf = logf
	if err := srv.Start(ctx); err != nil && err != context.Canceled {
		fatal(err)
	}
}

func logf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, "simfleetd: "+format+"\n", args...)
}

func logErr(scope string, err error) {
	_, _ = fmt.Fprintf(os.Stderr, "simfleetd: %s: %v\n", scope, err)
}

func fatal(err error) {
	_, _ = fmt.Fprintf(os.Stderr, "simfleetd: %v\n", err)
	os.Exit(1)
}
