package nav

import "time"

// Point is a position in relative screen coordinates (0..1).
type Point struct {
	X float64
	Y float64
}

// Region is a rectangle [x1,y1,x2,y2] in relative coordinates, interpreted
// against the viewport when one is configured.
type Region struct {
	X1 float64
	Y1 float64
	X2 float64
	Y2 float64
}

func (r Region) Center() Point {
	return Point{X: (r.X1 + r.X2) / 2, Y: (r.Y1 + r.Y2) / 2}
}

// Viewport is the sub-rectangle of the physical screen the game renders
// into, e.g. a 16:9 game letterboxed on an ultra-wide monitor. Template
// coordinates are mapped through it before probing.
type Viewport struct {
	X1 float64
	Y1 float64
	X2 float64
	Y2 float64
}

// Transform maps a viewport-relative point to a screen-relative point.
func (v Viewport) Transform(p Point) Point {
	return Point{
		X: v.X1 + p.X*(v.X2-v.X1),
		Y: v.Y1 + p.Y*(v.Y2-v.Y1),
	}
}

// ActionKind selects the behavior of a step option. The variant is resolved
// once at load time; options never carry two competing key fields at
// runtime.
type ActionKind int

const (
	// NoAction probes the template and advances on match without input
	// (pure wait/poll step).
	NoAction ActionKind = iota
	// PressKeys probes first and presses the key sequence on match.
	PressKeys
	// PressUntilMatch presses the key sequence first, then probes; used for
	// skip-intro style screens that only react to input.
	PressUntilMatch
)

func (k ActionKind) String() string {
	switch k {
	case PressKeys:
		return "press"
	case PressUntilMatch:
		return "press_until_match"
	default:
		return "wait"
	}
}

// Action is the tagged input variant of a step option.
type Action struct {
	Kind ActionKind
	Keys []string
}

// StepOption is one candidate match within a step: a template, the region
// it is expected in, and the action taken around the match. RetryDelay and
// ActionDelay override the plan-level values when non-nil.
type StepOption struct {
	Template    string
	Region      Region
	Action      Action
	RetryDelay  *time.Duration
	ActionDelay *time.Duration
}

// Step is an ordered, non-empty list of options. Multi-option steps encode
// alternative UI states; options are tried in listed order each attempt and
// the first match wins.
type Step struct {
	Options []StepOption
}

// Sequence is an ordered list of steps, immutable once loaded.
type Sequence struct {
	Steps []Step
}

// Params are the execution parameters bound to one sequence.
type Params struct {
	Threshold           float64
	MaxRetries          int
	PreviousStepRetries int
	RetryDelay          time.Duration
	ActionDelay         time.Duration
	SearchMargin        float64
	Method              string
	Viewport            *Viewport
}

// Plan is a sequence plus its parameters and template directory. A role may
// have several plans executed in series; the first failure aborts the rest.
type Plan struct {
	TemplateDir string
	Params      Params
	Sequence    Sequence
}
