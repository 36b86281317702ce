package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/simfleet/simfleet/internal/model"
)

// ProcessManager abstracts game-process lifecycle. The engine core only ever
// asks: launch it, is it still alive, kill it.
type ProcessManager interface {
	Launch(ctx context.Context, executablePath string) error
	IsRunning(ctx context.Context, processName string) bool
	Terminate(ctx context.Context, processName string) error
}

// WindowFocuser brings the game window to the foreground so key presses
// reach it.
type WindowFocuser interface {
	Focus(ctx context.Context, windowTitle string) error
}

// Runner executes one external command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type OSRunner struct{}

func (OSRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// ExecProcessManager is the default ProcessManager: it starts executables
// detached and checks/kills them by process name via pgrep/pkill. Rigs on
// other platforms supply their own implementation.
type ExecProcessManager struct {
	runner Runner
}

func NewExecProcessManager() *ExecProcessManager {
	return &ExecProcessManager{runner: OSRunner{}}
}

func NewExecProcessManagerWithRunner(runner Runner) *ExecProcessManager {
	return &ExecProcessManager{runner: runner}
}

func (p *ExecProcessManager) Launch(_ context.Context, executablePath string) error {
	if _, err := os.Stat(executablePath); err != nil {
		return fmt.Errorf("executable: %w", err)
	}
	cmd := exec.Command(executablePath)
	cmd.Dir = filepath.Dir(executablePath)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch %s: %w", filepath.Base(executablePath), err)
	}
	// The game outlives any single command; reap it in the background.
	go func() { _ = cmd.Wait() }()
	return nil
}

func (p *ExecProcessManager) IsRunning(ctx context.Context, processName string) bool {
	out, err := p.runner.Run(ctx, "pgrep", "-x", processName)
	return err == nil && strings.TrimSpace(string(out)) != ""
}

func (p *ExecProcessManager) Terminate(ctx context.Context, processName string) error {
	if _, err := p.runner.Run(ctx, "pkill", "-x", processName); err != nil {
		return fmt.Errorf("terminate %s: %w", processName, err)
	}
	return nil
}

// NoopFocuser is the default WindowFocuser on headless/dev machines.
type NoopFocuser struct{}

func (NoopFocuser) Focus(context.Context, string) error { return nil }

// LoadIdentity reads the machine identity file written at install time.
func LoadIdentity(path string) (model.MachineIdentity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.MachineIdentity{}, fmt.Errorf("read identity file: %w", err)
	}
	var wire struct {
		Name string `json:"name"`
		ID   int    `json:"id"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return model.MachineIdentity{}, fmt.Errorf("decode identity file %s: %w", path, err)
	}
	if wire.Name == "" || wire.ID < 1 {
		return model.MachineIdentity{}, fmt.Errorf("identity file %s must set name and a positive id", path)
	}
	return model.MachineIdentity{ID: wire.ID, Name: wire.Name}, nil
}
