package config

import (
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	// Machine agent.
	AgentPort       int
	IdentityPath    string
	GamesConfigPath string
	TemplateBaseDir string

	// Hub (orchestrator).
	HubPort   int
	DBPath    string
	SlotCount int

	// Liveness protocol.
	HeartbeatInterval time.Duration
	LivenessWindow    time.Duration

	// Remote command calls.
	CommandTimeout   time.Duration
	HeartbeatTimeout time.Duration

	// Discovery.
	ServiceType    string
	BrowseInterval time.Duration
	BrowseTimeout  time.Duration

	// Navigation defaults, overridable per game config.
	NavMaxRetries          int
	NavPreviousStepRetries int
	NavRetryDelay          time.Duration
	NavActionDelay         time.Duration

	// Game launch.
	LaunchSettleDelay time.Duration
	FocusMaxAttempts  int
	FocusRetryDelay   time.Duration
	TerminateTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		AgentPort:       5000,
		IdentityPath:    defaultIdentityPath(),
		GamesConfigPath: defaultGamesConfigPath(),
		TemplateBaseDir: defaultTemplateDir(),

		HubPort:   8000,
		DBPath:    defaultDBPath(),
		SlotCount: 4,

		HeartbeatInterval: 5 * time.Second,
		LivenessWindow:    15 * time.Second,

		CommandTimeout:   5 * time.Second,
		HeartbeatTimeout: 2 * time.Second,

		ServiceType:    "_simracing._tcp",
		BrowseInterval: 10 * time.Second,
		BrowseTimeout:  3 * time.Second,

		NavMaxRetries:          60,
		NavPreviousStepRetries: 3,
		NavRetryDelay:          50 * time.Millisecond,
		NavActionDelay:         200 * time.Millisecond,

		LaunchSettleDelay: 5 * time.Second,
		FocusMaxAttempts:  10,
		FocusRetryDelay:   time.Second,
		TerminateTimeout:  5 * time.Second,
	}
}

func defaultIdentityPath() string {
	return filepath.Join(stateDir(), "machine.json")
}

func defaultGamesConfigPath() string {
	return filepath.Join(stateDir(), "games.json")
}

func defaultTemplateDir() string {
	return filepath.Join(stateDir(), "templates")
}

func defaultDBPath() string {
	return filepath.Join(stateDir(), "hub.db")
}

func stateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".simfleet"
	}
	return filepath.Join(home, ".local", "state", "simfleet")
}
