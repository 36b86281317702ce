package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/simfleet/simfleet/internal/config"
	"github.com/simfleet/simfleet/internal/games"
	"github.com/simfleet/simfleet/internal/model"
	"github.com/simfleet/simfleet/internal/nav"
)

type fakeMatcher struct {
	mu     sync.Mutex
	scores map[string][]float64
}

func (f *fakeMatcher) Match(_ context.Context, req nav.MatchRequest) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	queue, ok := f.scores[req.Template]
	if !ok {
		return 0, fmt.Errorf("no score for template %s", req.Template)
	}
	score := queue[0]
	if len(queue) > 1 {
		f.scores[req.Template] = queue[1:]
	}
	return score, nil
}

type fakeInput struct {
	mu      sync.Mutex
	presses [][]string
	clicks  []nav.Point
}

func (f *fakeInput) PressKeys(_ context.Context, keys []string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presses = append(f.presses, keys)
	return nil
}

func (f *fakeInput) Click(_ context.Context, p nav.Point, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clicks = append(f.clicks, p)
	return nil
}

type fakeProc struct {
	mu         sync.Mutex
	launched   []string
	terminated []string
	running    map[string]bool
	launchErr  error
}

func (f *fakeProc) Launch(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.launchErr != nil {
		return f.launchErr
	}
	f.launched = append(f.launched, path)
	return nil
}

func (f *fakeProc) IsRunning(_ context.Context, name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[name]
}

func (f *fakeProc) Terminate(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = append(f.terminated, name)
	return nil
}

type fakeFocus struct{ calls int }

func (f *fakeFocus) Focus(context.Context, string) error {
	f.calls++
	return nil
}

const launcherSequence = `[
	{"options": [{"template": "title.png", "region": [0.4, 0.4, 0.6, 0.6], "key_press": "enter"}]},
	{"options": [{"template": "grid.png", "region": [0.3, 0.3, 0.7, 0.7]}]}
]`

const launcherGames = `{
	"f1_22": {
		"name": "F1 22",
		"executable_path": "/opt/games/f1_22/F1_22.exe",
		"process_name": "F1_22.exe",
		"window_title": "F1 22",
		"navigation_config": {
			"singleplayer": [
				{
					"template_dir": "f1_22",
					"template_threshold": 0.8,
					"navigation_sequence_path": "f1_22/single.json"
				}
			]
		}
	}
}`

func launcherFixture(t *testing.T) (config.Config, *games.Registry) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.TemplateBaseDir = t.TempDir()
	cfg.LaunchSettleDelay = 0
	cfg.FocusMaxAttempts = 1
	cfg.FocusRetryDelay = 0
	cfg.NavRetryDelay = time.Millisecond
	cfg.NavActionDelay = 0

	path := filepath.Join(cfg.TemplateBaseDir, "f1_22", "single.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(launcherSequence), 0o644); err != nil {
		t.Fatalf("write sequence: %v", err)
	}
	reg, err := games.ParseRegistry([]byte(launcherGames), cfg)
	if err != nil {
		t.Fatalf("ParseRegistry: %v", err)
	}
	return cfg, reg
}

func TestLaunchRunsNavigationAfterProcessStart(t *testing.T) {
	cfg, reg := launcherFixture(t)
	probe := &fakeMatcher{scores: map[string][]float64{
		"title.png": {0.95},
		"grid.png":  {0.9},
	}}
	input := &fakeInput{}
	proc := &fakeProc{running: map[string]bool{}}
	focus := &fakeFocus{}
	l := NewLauncher(cfg, reg, probe, input, proc, focus)

	res := l.Launch(context.Background(), Snapshot{
		Status:      model.StatusStarting,
		CurrentGame: "f1_22",
		Role:        model.RoleSingleplayer,
		PlayerCount: 1,
	})
	if res != model.NavCompleted {
		t.Fatalf("Launch = %s, want completed", res)
	}
	if len(proc.launched) != 1 || proc.launched[0] != "/opt/games/f1_22/F1_22.exe" {
		t.Fatalf("launched = %v", proc.launched)
	}
	if focus.calls == 0 {
		t.Fatalf("window was never focused")
	}
	if len(input.presses) != 1 || input.presses[0][0] != "enter" {
		t.Fatalf("presses = %v, want single enter", input.presses)
	}
}

func TestLaunchFailsForUnknownGame(t *testing.T) {
	cfg, reg := launcherFixture(t)
	l := NewLauncher(cfg, reg, &fakeMatcher{}, &fakeInput{}, &fakeProc{}, &fakeFocus{})

	res := l.Launch(context.Background(), Snapshot{CurrentGame: "nope", Role: model.RoleSingleplayer, PlayerCount: 1})
	if res != model.NavFailed {
		t.Fatalf("Launch = %s, want failed", res)
	}
}

func TestLaunchFailsWhenProcessWontStart(t *testing.T) {
	cfg, reg := launcherFixture(t)
	proc := &fakeProc{launchErr: fmt.Errorf("exec format error")}
	l := NewLauncher(cfg, reg, &fakeMatcher{}, &fakeInput{}, proc, &fakeFocus{})

	res := l.Launch(context.Background(), Snapshot{CurrentGame: "f1_22", Role: model.RoleSingleplayer, PlayerCount: 1})
	if res != model.NavFailed {
		t.Fatalf("Launch = %s, want failed", res)
	}
}

func TestLaunchCancelledBeforeNavigation(t *testing.T) {
	cfg, reg := launcherFixture(t)
	probe := &fakeMatcher{scores: map[string][]float64{
		"title.png": {0.95},
		"grid.png":  {0.9},
	}}
	input := &fakeInput{}
	l := NewLauncher(cfg, reg, probe, input, &fakeProc{}, &fakeFocus{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := l.Launch(ctx, Snapshot{CurrentGame: "f1_22", Role: model.RoleSingleplayer, PlayerCount: 1})
	if res != model.NavCancelled {
		t.Fatalf("Launch = %s, want cancelled", res)
	}
	if len(input.presses) != 0 {
		t.Fatalf("cancelled launch still pressed keys: %v", input.presses)
	}
}

func TestTerminateResolvesProcessName(t *testing.T) {
	cfg, reg := launcherFixture(t)
	proc := &fakeProc{}
	l := NewLauncher(cfg, reg, &fakeMatcher{}, &fakeInput{}, proc, &fakeFocus{})

	if err := l.Terminate(context.Background(), "f1_22"); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if len(proc.terminated) != 1 || proc.terminated[0] != "F1_22.exe" {
		t.Fatalf("terminated = %v", proc.terminated)
	}
	if err := l.Terminate(context.Background(), "nope"); err == nil {
		t.Fatalf("Terminate(unknown) did not error")
	}
}
