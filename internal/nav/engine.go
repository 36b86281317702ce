package nav

import (
	"context"
	"time"

	"github.com/simfleet/simfleet/internal/model"
)

// MatchRequest asks the probe for the confidence that a template is present
// around a screen-space center point.
type MatchRequest struct {
	TemplateDir  string
	Template     string
	Center       Point
	SearchMargin float64
	Method       string
}

// MatchProbe scores a template against the live screen. Screenshot capture
// and correlation scoring live behind this boundary.
type MatchProbe interface {
	Match(ctx context.Context, req MatchRequest) (float64, error)
}

// ActionExecutor performs synthetic input. Low-level injection lives behind
// this boundary.
type ActionExecutor interface {
	PressKeys(ctx context.Context, keys []string, keyDelay time.Duration) error
	Click(ctx context.Context, p Point, double bool) error
}

// Engine walks a UI through a sequence of screens despite variable load
// latency. It never presses a key without a template justification: PressKeys
// options press only after a match, PressUntilMatch options press
// speculatively by declared intent.
type Engine struct {
	probe MatchProbe
	input ActionExecutor

	// Logf receives step/attempt/confidence context; the confidence score is
	// the only ground truth an operator has when a run stalls.
	Logf func(format string, args ...any)
}

func NewEngine(probe MatchProbe, input ActionExecutor) *Engine {
	return &Engine{
		probe: probe,
		input: input,
		Logf:  func(string, ...any) {},
	}
}

// ExecutePlans runs the plans for a role in listed order. Any single plan
// failure aborts the remaining series: role navigation is all or nothing.
func (e *Engine) ExecutePlans(ctx context.Context, plans []Plan) model.NavResult {
	for i, plan := range plans {
		if ctx.Err() != nil {
			e.Logf("navigation cancelled before plan %d/%d", i+1, len(plans))
			return model.NavCancelled
		}
		e.Logf("executing plan %d/%d (%d steps, threshold=%.2f)",
			i+1, len(plans), len(plan.Sequence.Steps), plan.Params.Threshold)
		if res := e.Execute(ctx, plan); res != model.NavCompleted {
			return res
		}
	}
	return model.NavCompleted
}

// Execute runs one plan to completion, failure, or cancellation.
func (e *Engine) Execute(ctx context.Context, plan Plan) model.NavResult {
	steps := plan.Sequence.Steps
	consecutiveFailures := 0

	for i := range steps {
		if ctx.Err() != nil {
			e.Logf("navigation cancelled at step %d", i+1)
			return model.NavCancelled
		}
		if n := len(steps[i].Options); n > 1 {
			e.Logf("step %d: trying %d possible matches", i+1, n)
		}

		matched, cancelled := e.attemptStepOptions(ctx, plan, i, plan.Params.MaxRetries)
		if cancelled {
			e.Logf("navigation cancelled during step %d", i+1)
			return model.NavCancelled
		}
		if matched {
			consecutiveFailures = 0
			continue
		}
		e.Logf("step %d failed after %d attempts", i+1, plan.Params.MaxRetries)

		recovered, cancelled := e.recoverStep(ctx, plan, i)
		if cancelled {
			e.Logf("navigation cancelled during step %d recovery", i+1)
			return model.NavCancelled
		}
		if recovered {
			consecutiveFailures = 0
			continue
		}
		consecutiveFailures++
		e.Logf("step %d unresolved, continuing (consecutive failures: %d)", i+1, consecutiveFailures)
		if consecutiveFailures >= 2 {
			e.Logf("two consecutive step failures, aborting navigation")
			return model.NavFailed
		}
	}
	return model.NavCompleted
}

// recoverStep retries the previous step (a key press may have silently
// failed to register), then re-attempts the failed step with a full retry
// budget. Steps before i-1 are never re-invoked.
func (e *Engine) recoverStep(ctx context.Context, plan Plan, i int) (recovered, cancelled bool) {
	if i == 0 {
		return false, false
	}
	e.Logf("retrying previous step %d", i)
	prevMatched, cancelled := e.attemptStepOptions(ctx, plan, i-1, plan.Params.PreviousStepRetries)
	if cancelled {
		return false, true
	}
	if !prevMatched {
		return false, false
	}
	e.Logf("previous step %d succeeded, retrying step %d", i, i+1)
	matched, cancelled := e.attemptStepOptions(ctx, plan, i, plan.Params.MaxRetries)
	if cancelled {
		return false, true
	}
	if matched {
		e.Logf("step %d succeeded after recovery", i+1)
	}
	return matched, false
}

// attemptStepOptions runs up to maxRetries attempts over the step's options
// in listed order. The first matching option wins the attempt; the rest are
// skipped until the next attempt.
func (e *Engine) attemptStepOptions(ctx context.Context, plan Plan, stepIndex, maxRetries int) (matched, cancelled bool) {
	step := plan.Sequence.Steps[stepIndex]
	p := plan.Params

	for attempt := 0; attempt < maxRetries; attempt++ {
		if ctx.Err() != nil {
			return false, true
		}
		for optIndex, opt := range step.Options {
			actionDelay := p.ActionDelay
			if opt.ActionDelay != nil {
				actionDelay = *opt.ActionDelay
			}

			var ok, stop bool
			switch opt.Action.Kind {
			case PressUntilMatch:
				ok, stop = e.pressThenProbe(ctx, plan, opt, actionDelay)
			default:
				ok, stop = e.probeThenPress(ctx, plan, opt, actionDelay)
			}
			if stop {
				return false, true
			}
			if ok {
				e.Logf("step %d matched option %d/%d (%s %v)",
					stepIndex+1, optIndex+1, len(step.Options), opt.Action.Kind, opt.Action.Keys)
				// Let the UI transition settle before the next step probes.
				if !e.sleep(ctx, actionDelay) {
					return false, true
				}
				return true, false
			}
		}
		if attempt < maxRetries-1 {
			retryDelay := p.RetryDelay
			if d := step.Options[0].RetryDelay; d != nil {
				retryDelay = *d
			}
			if !e.sleep(ctx, retryDelay) {
				return false, true
			}
		}
	}
	return false, false
}

// probeThenPress is the match-then-press pattern used by PressKeys and
// NoAction options: no input is ever sent without a confirmed match.
func (e *Engine) probeThenPress(ctx context.Context, plan Plan, opt StepOption, actionDelay time.Duration) (ok, cancelled bool) {
	score, err := e.probeOption(ctx, plan, opt)
	if err != nil {
		if ctx.Err() != nil {
			return false, true
		}
		e.Logf("probe %s failed: %v", opt.Template, err)
		return false, false
	}
	if score < plan.Params.Threshold {
		e.Logf("no match for %s, confidence=%.3f", opt.Template, score)
		return false, false
	}
	e.Logf("matched %s with confidence %.3f", opt.Template, score)
	if opt.Action.Kind == PressKeys {
		if err := e.input.PressKeys(ctx, opt.Action.Keys, actionDelay); err != nil {
			if ctx.Err() != nil {
				return false, true
			}
			e.Logf("press %v failed: %v", opt.Action.Keys, err)
			return false, false
		}
	}
	return true, false
}

// pressThenProbe is the press-until-match pattern: press first, wait for the
// UI to react, then probe.
func (e *Engine) pressThenProbe(ctx context.Context, plan Plan, opt StepOption, actionDelay time.Duration) (ok, cancelled bool) {
	if err := e.input.PressKeys(ctx, opt.Action.Keys, actionDelay); err != nil {
		if ctx.Err() != nil {
			return false, true
		}
		e.Logf("press %v failed: %v", opt.Action.Keys, err)
		return false, false
	}
	if !e.sleep(ctx, actionDelay) {
		return false, true
	}
	score, err := e.probeOption(ctx, plan, opt)
	if err != nil {
		if ctx.Err() != nil {
			return false, true
		}
		e.Logf("probe %s failed: %v", opt.Template, err)
		return false, false
	}
	if score < plan.Params.Threshold {
		e.Logf("no match for %s after pressing, confidence=%.3f", opt.Template, score)
		return false, false
	}
	e.Logf("matched %s with confidence %.3f after pressing", opt.Template, score)
	return true, false
}

func (e *Engine) probeOption(ctx context.Context, plan Plan, opt StepOption) (float64, error) {
	center := opt.Region.Center()
	if plan.Params.Viewport != nil {
		center = plan.Params.Viewport.Transform(center)
	}
	return e.probe.Match(ctx, MatchRequest{
		TemplateDir:  plan.TemplateDir,
		Template:     opt.Template,
		Center:       center,
		SearchMargin: plan.Params.SearchMargin,
		Method:       plan.Params.Method,
	})
}

// sleep waits for d or until ctx is cancelled; it reports false on
// cancellation. Sleeps are the engine's only blocking points.
func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
