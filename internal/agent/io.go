package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/simfleet/simfleet/internal/nav"
)

// CommandProbe runs an external matcher helper for each probe. The helper
// captures the screen, runs template matching around the given center, and
// prints the best confidence as a float on stdout.
type CommandProbe struct {
	runner Runner
	tool   string
}

func NewCommandProbe(tool string) *CommandProbe {
	return &CommandProbe{runner: OSRunner{}, tool: tool}
}

func NewCommandProbeWithRunner(tool string, runner Runner) *CommandProbe {
	return &CommandProbe{runner: runner, tool: tool}
}

func (p *CommandProbe) Match(ctx context.Context, req nav.MatchRequest) (float64, error) {
	args := []string{
		"match",
		"--template", filepath.Join(req.TemplateDir, req.Template),
		"--cx", formatCoord(req.Center.X),
		"--cy", formatCoord(req.Center.Y),
		"--margin", formatCoord(req.SearchMargin),
	}
	if req.Method != "" {
		args = append(args, "--method", req.Method)
	}
	out, err := p.runner.Run(ctx, p.tool, args...)
	if err != nil {
		return 0, fmt.Errorf("matcher %s: %w (output: %s)", p.tool, err, strings.TrimSpace(string(out)))
	}
	score, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("matcher output %q: %w", strings.TrimSpace(string(out)), err)
	}
	return score, nil
}

// XdoInput injects keys and clicks through xdotool. Click coordinates are
// normalized; the display geometry is queried once and cached.
type XdoInput struct {
	runner Runner

	width  int
	height int
}

func NewXdoInput() *XdoInput {
	return &XdoInput{runner: OSRunner{}}
}

func NewXdoInputWithRunner(runner Runner) *XdoInput {
	return &XdoInput{runner: runner}
}

func (x *XdoInput) PressKeys(ctx context.Context, keys []string, keyDelay time.Duration) error {
	for i, key := range keys {
		if i > 0 && keyDelay > 0 {
			t := time.NewTimer(keyDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		if out, err := x.runner.Run(ctx, "xdotool", "key", key); err != nil {
			return fmt.Errorf("press %q: %w (output: %s)", key, err, strings.TrimSpace(string(out)))
		}
	}
	return nil
}

func (x *XdoInput) Click(ctx context.Context, p nav.Point, double bool) error {
	w, h, err := x.geometry(ctx)
	if err != nil {
		return err
	}
	px := strconv.Itoa(int(p.X * float64(w)))
	py := strconv.Itoa(int(p.Y * float64(h)))
	if out, err := x.runner.Run(ctx, "xdotool", "mousemove", px, py); err != nil {
		return fmt.Errorf("mousemove: %w (output: %s)", err, strings.TrimSpace(string(out)))
	}
	args := []string{"click", "1"}
	if double {
		args = []string{"click", "--repeat", "2", "--delay", "100", "1"}
	}
	if out, err := x.runner.Run(ctx, "xdotool", args...); err != nil {
		return fmt.Errorf("click: %w (output: %s)", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (x *XdoInput) geometry(ctx context.Context) (int, int, error) {
	if x.width > 0 && x.height > 0 {
		return x.width, x.height, nil
	}
	out, err := x.runner.Run(ctx, "xdotool", "getdisplaygeometry")
	if err != nil {
		return 0, 0, fmt.Errorf("display geometry: %w", err)
	}
	fields := strings.Fields(string(out))
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("unexpected geometry output %q", strings.TrimSpace(string(out)))
	}
	w, werr := strconv.Atoi(fields[0])
	h, herr := strconv.Atoi(fields[1])
	if werr != nil || herr != nil || w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("unexpected geometry output %q", strings.TrimSpace(string(out)))
	}
	x.width, x.height = w, h
	return w, h, nil
}

// XdoFocuser raises the window whose title matches.
type XdoFocuser struct {
	runner Runner
}

func NewXdoFocuser() *XdoFocuser {
	return &XdoFocuser{runner: OSRunner{}}
}

func (f *XdoFocuser) Focus(ctx context.Context, windowTitle string) error {
	out, err := f.runner.Run(ctx, "xdotool", "search", "--name", windowTitle, "windowactivate")
	if err != nil {
		return fmt.Errorf("focus %q: %w (output: %s)", windowTitle, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
