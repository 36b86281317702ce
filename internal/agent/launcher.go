package agent

import (
	"context"
	"time"

	"github.com/simfleet/simfleet/internal/config"
	"github.com/simfleet/simfleet/internal/games"
	"github.com/simfleet/simfleet/internal/model"
	"github.com/simfleet/simfleet/internal/nav"
)

// Launcher runs one configured launch end to end: optional companion-tool
// setup, process start, window focus, then the role's navigation plans.
type Launcher struct {
	cfg      config.Config
	registry *games.Registry
	engine   *nav.Engine
	probe    nav.MatchProbe
	input    nav.ActionExecutor
	proc     ProcessManager
	focus    WindowFocuser

	Logf func(format string, args ...any)
}

func NewLauncher(cfg config.Config, registry *games.Registry, probe nav.MatchProbe, input nav.ActionExecutor, proc ProcessManager, focus WindowFocuser) *Launcher {
	l := &Launcher{
		cfg:      cfg,
		registry: registry,
		engine:   nav.NewEngine(probe, input),
		probe:    probe,
		input:    input,
		proc:     proc,
		focus:    focus,
		Logf:     func(string, ...any) {},
	}
	return l
}

// Launch drives a full game start for the snapshot's game and role. The
// context is scoped to this launch; cancelling it stops navigation at the
// next suspension point.
func (l *Launcher) Launch(ctx context.Context, snap Snapshot) model.NavResult {
	game, err := l.registry.Get(snap.CurrentGame)
	if err != nil {
		l.Logf("launch aborted: %v", err)
		return model.NavFailed
	}
	l.Logf("launching %s as %s (players=%d)", game.Name, snap.Role, snap.PlayerCount)

	if game.PreLaunch != nil && game.PreLaunch.Enabled {
		if res := l.runPreLaunch(ctx, *game.PreLaunch); res != model.NavCompleted {
			if res == model.NavFailed {
				l.Logf("pre-launch configuration failed, aborting")
			}
			return res
		}
	}

	if err := l.proc.Launch(ctx, game.ExecutablePath); err != nil {
		l.Logf("process launch failed: %v", err)
		return model.NavFailed
	}
	if !l.sleep(ctx, l.cfg.LaunchSettleDelay) {
		return model.NavCancelled
	}
	l.focusWindow(ctx, game.WindowTitle)

	plans, err := l.registry.Plans(snap.CurrentGame, snap.Role, snap.PlayerCount)
	if err != nil {
		l.Logf("navigation config error: %v", err)
		return model.NavFailed
	}
	l.engine.Logf = l.Logf
	return l.engine.ExecutePlans(ctx, plans)
}

// Terminate kills the game process for the given game id.
func (l *Launcher) Terminate(ctx context.Context, gameID string) error {
	game, err := l.registry.Get(gameID)
	if err != nil {
		return err
	}
	return l.proc.Terminate(ctx, game.ProcessName)
}

// IsGameRunning reports process liveness for a configured game id.
func (l *Launcher) IsGameRunning(ctx context.Context, gameID string) (bool, error) {
	game, err := l.registry.Get(gameID)
	if err != nil {
		return false, err
	}
	return l.proc.IsRunning(ctx, game.ProcessName), nil
}

// runPreLaunch starts the companion tool if needed and clicks through its
// setup screens. Each click is template-gated, same justification rule as
// the navigation engine.
func (l *Launcher) runPreLaunch(ctx context.Context, pl games.PreLaunch) model.NavResult {
	if pl.ExecutablePath != "" && pl.ProcessName != "" {
		if !l.proc.IsRunning(ctx, pl.ProcessName) {
			l.Logf("starting companion tool %s", pl.ProcessName)
			if err := l.proc.Launch(ctx, pl.ExecutablePath); err != nil {
				l.Logf("companion launch failed: %v", err)
				return model.NavFailed
			}
			if !l.sleep(ctx, l.cfg.LaunchSettleDelay) {
				return model.NavCancelled
			}
		}
		if pl.WindowTitle != "" {
			l.focusWindow(ctx, pl.WindowTitle)
		}
	}

	for i, step := range pl.Steps {
		if ctx.Err() != nil {
			return model.NavCancelled
		}
		clicked := false
		for attempt := 0; attempt < pl.MaxRetries; attempt++ {
			if ctx.Err() != nil {
				return model.NavCancelled
			}
			score, err := l.probe.Match(ctx, nav.MatchRequest{
				TemplateDir: pl.TemplateDir,
				Template:    step.Template,
				Center:      step.Region.Center(),
			})
			if err != nil {
				l.Logf("click step %d probe failed: %v", i+1, err)
			} else if score >= pl.Threshold {
				if err := l.input.Click(ctx, step.Region.Center(), step.DoubleClick); err != nil {
					l.Logf("click step %d failed: %v", i+1, err)
					return model.NavFailed
				}
				l.Logf("click step %d/%d done (confidence %.3f)", i+1, len(pl.Steps), score)
				if !l.sleep(ctx, pl.ClickDelay) {
					return model.NavCancelled
				}
				clicked = true
				break
			}
			if !l.sleep(ctx, pl.RetryDelay) {
				return model.NavCancelled
			}
		}
		if !clicked {
			l.Logf("click step %d/%d failed after %d attempts", i+1, len(pl.Steps), pl.MaxRetries)
			return model.NavFailed
		}
	}
	return model.NavCompleted
}

func (l *Launcher) focusWindow(ctx context.Context, title string) {
	if title == "" {
		return
	}
	for attempt := 0; attempt < l.cfg.FocusMaxAttempts; attempt++ {
		if err := l.focus.Focus(ctx, title); err == nil {
			return
		}
		if !l.sleep(ctx, l.cfg.FocusRetryDelay) {
			return
		}
	}
	l.Logf("could not focus window %q, continuing anyway", title)
}

func (l *Launcher) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
