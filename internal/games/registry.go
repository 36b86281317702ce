package games

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/simfleet/simfleet/internal/config"
	"github.com/simfleet/simfleet/internal/model"
	"github.com/simfleet/simfleet/internal/nav"
)

// playersPlaceholder in a sequence path defers loading until the session's
// player count is known.
const playersPlaceholder = "{players}"

// PlanSpec is one navigation plan entry for a role: parameters plus the
// sequence, which is loaded eagerly unless the path carries a player-count
// placeholder.
type PlanSpec struct {
	TemplateDir  string
	SequencePath string
	Params       nav.Params

	sequence *nav.Sequence
}

// Deferred reports whether the sequence resolves at launch time.
func (p PlanSpec) Deferred() bool {
	return strings.Contains(p.SequencePath, playersPlaceholder)
}

// ClickStep is one pre-launch click action against a template.
type ClickStep struct {
	Template    string
	Region      nav.Region
	DoubleClick bool
}

// PreLaunch configures companion-software setup (wheel/pedal vendor tools)
// executed by clicking through its UI before the game starts.
type PreLaunch struct {
	Enabled        bool
	ExecutablePath string
	ProcessName    string
	WindowTitle    string
	TemplateDir    string
	Threshold      float64
	MaxRetries     int
	RetryDelay     time.Duration
	ClickDelay     time.Duration
	Steps          []ClickStep
}

// GameConfig is the complete metadata for one game.
type GameConfig struct {
	GameID         string
	Name           string
	ExecutablePath string
	ProcessName    string
	WindowTitle    string
	Navigations    map[model.Role][]PlanSpec
	PreLaunch      *PreLaunch
}

// Registry holds all configured games, loaded once at startup. Malformed
// configuration is a hard failure here, before any process or UI is touched.
type Registry struct {
	games        map[string]GameConfig
	templateBase string
}

type gameWire struct {
	Name           string                    `json:"name"`
	ExecutablePath string                    `json:"executable_path"`
	ProcessName    string                    `json:"process_name"`
	WindowTitle    string                    `json:"window_title"`
	Navigation     map[string][]planSpecWire `json:"navigation_config"`
	PreLaunch      *preLaunchWire            `json:"pre_launch"`
}

type planSpecWire struct {
	TemplateDir       string        `json:"template_dir"`
	TemplateThreshold float64       `json:"template_threshold"`
	MaxRetries        *int          `json:"max_retries"`
	PreviousRetries   *int          `json:"previous_step_retries"`
	RetryDelay        *float64      `json:"retry_delay"`
	ActionDelay       *float64      `json:"action_delay"`
	SearchMargin      *float64      `json:"search_margin"`
	MatchingMethod    string        `json:"matching_method"`
	Viewport          *viewportWire `json:"viewport"`
	SequencePath      string        `json:"navigation_sequence_path"`
}

type viewportWire struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

type preLaunchWire struct {
	Enabled        bool            `json:"enabled"`
	ExecutablePath string          `json:"executable_path"`
	ProcessName    string          `json:"process_name"`
	WindowTitle    string          `json:"window_title"`
	TemplateDir    string          `json:"template_dir"`
	Threshold      float64         `json:"template_threshold"`
	MaxRetries     *int            `json:"max_retries"`
	RetryDelay     *float64        `json:"retry_delay"`
	ClickDelay     *float64        `json:"click_delay"`
	Steps          []clickStepWire `json:"click_steps"`
}

type clickStepWire struct {
	Template    string    `json:"template"`
	Region      []float64 `json:"region"`
	DoubleClick bool      `json:"double_click"`
}

// LoadRegistry reads the games file and eagerly loads every non-deferred
// sequence so configuration errors surface at startup.
func LoadRegistry(cfg config.Config) (*Registry, error) {
	data, err := os.ReadFile(cfg.GamesConfigPath)
	if err != nil {
		return nil, fmt.Errorf("read games config: %w", err)
	}
	return ParseRegistry(data, cfg)
}

func ParseRegistry(data []byte, cfg config.Config) (*Registry, error) {
	var wire map[string]gameWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decode games config: %w", err)
	}
	r := &Registry{
		games:        make(map[string]GameConfig, len(wire)),
		templateBase: cfg.TemplateBaseDir,
	}
	for gameID, gw := range wire {
		game, err := decodeGame(gameID, gw, cfg)
		if err != nil {
			return nil, fmt.Errorf("game %q: %w", gameID, err)
		}
		r.games[gameID] = game
	}
	return r, nil
}

func decodeGame(gameID string, gw gameWire, cfg config.Config) (GameConfig, error) {
	if gw.Name == "" || gw.ExecutablePath == "" || gw.ProcessName == "" {
		return GameConfig{}, fmt.Errorf("name, executable_path and process_name are required")
	}
	game := GameConfig{
		GameID:         gameID,
		Name:           gw.Name,
		ExecutablePath: gw.ExecutablePath,
		ProcessName:    gw.ProcessName,
		WindowTitle:    gw.WindowTitle,
		Navigations:    make(map[model.Role][]PlanSpec, len(gw.Navigation)),
	}
	for roleName, entries := range gw.Navigation {
		role := model.Role(roleName)
		if !model.ValidRole(role) {
			return GameConfig{}, fmt.Errorf("unknown role %q", roleName)
		}
		if len(entries) == 0 {
			return GameConfig{}, fmt.Errorf("role %q has no navigation configs", roleName)
		}
		specs := make([]PlanSpec, 0, len(entries))
		for i, pw := range entries {
			spec, err := decodePlanSpec(pw, cfg)
			if err != nil {
				return GameConfig{}, fmt.Errorf("role %q config %d: %w", roleName, i+1, err)
			}
			specs = append(specs, spec)
		}
		game.Navigations[role] = specs
	}
	if gw.PreLaunch != nil {
		pl, err := decodePreLaunch(*gw.PreLaunch, cfg)
		if err != nil {
			return GameConfig{}, fmt.Errorf("pre_launch: %w", err)
		}
		game.PreLaunch = &pl
	}
	return game, nil
}

func decodePlanSpec(pw planSpecWire, cfg config.Config) (PlanSpec, error) {
	if pw.TemplateDir == "" {
		return PlanSpec{}, fmt.Errorf("missing template_dir")
	}
	if pw.SequencePath == "" {
		return PlanSpec{}, fmt.Errorf("missing navigation_sequence_path")
	}
	params := nav.Params{
		Threshold:           pw.TemplateThreshold,
		MaxRetries:          cfg.NavMaxRetries,
		PreviousStepRetries: cfg.NavPreviousStepRetries,
		RetryDelay:          cfg.NavRetryDelay,
		ActionDelay:         cfg.NavActionDelay,
		SearchMargin:        0.05,
		Method:              "TM_CCOEFF_NORMED",
	}
	if pw.MaxRetries != nil {
		params.MaxRetries = *pw.MaxRetries
	}
	if pw.PreviousRetries != nil {
		params.PreviousStepRetries = *pw.PreviousRetries
	}
	if pw.RetryDelay != nil {
		params.RetryDelay = durationSeconds(*pw.RetryDelay)
	}
	if pw.ActionDelay != nil {
		params.ActionDelay = durationSeconds(*pw.ActionDelay)
	}
	if pw.SearchMargin != nil {
		params.SearchMargin = *pw.SearchMargin
	}
	if pw.MatchingMethod != "" {
		params.Method = pw.MatchingMethod
	}
	if pw.Viewport != nil {
		params.Viewport = &nav.Viewport{X1: pw.Viewport.X1, Y1: pw.Viewport.Y1, X2: pw.Viewport.X2, Y2: pw.Viewport.Y2}
	}
	if err := nav.ValidateParams(params); err != nil {
		return PlanSpec{}, err
	}

	spec := PlanSpec{
		TemplateDir:  pw.TemplateDir,
		SequencePath: pw.SequencePath,
		Params:       params,
	}
	if !spec.Deferred() {
		seq, err := nav.LoadSequence(filepath.Join(cfg.TemplateBaseDir, spec.SequencePath))
		if err != nil {
			return PlanSpec{}, err
		}
		spec.sequence = &seq
	}
	return spec, nil
}

func decodePreLaunch(pw preLaunchWire, cfg config.Config) (PreLaunch, error) {
	pl := PreLaunch{
		Enabled:        pw.Enabled,
		ExecutablePath: pw.ExecutablePath,
		ProcessName:    pw.ProcessName,
		WindowTitle:    pw.WindowTitle,
		TemplateDir:    pw.TemplateDir,
		Threshold:      pw.Threshold,
		MaxRetries:     10,
		RetryDelay:     time.Second,
		ClickDelay:     500 * time.Millisecond,
	}
	if pw.MaxRetries != nil {
		pl.MaxRetries = *pw.MaxRetries
	}
	if pw.RetryDelay != nil {
		pl.RetryDelay = durationSeconds(*pw.RetryDelay)
	}
	if pw.ClickDelay != nil {
		pl.ClickDelay = durationSeconds(*pw.ClickDelay)
	}
	if !pl.Enabled {
		return pl, nil
	}
	if pl.Threshold <= 0 || pl.Threshold > 1 {
		return PreLaunch{}, fmt.Errorf("template_threshold %v out of range", pl.Threshold)
	}
	for i, sw := range pw.Steps {
		if sw.Template == "" {
			return PreLaunch{}, fmt.Errorf("click step %d missing template", i+1)
		}
		if len(sw.Region) != 4 {
			return PreLaunch{}, fmt.Errorf("click step %d region must have 4 values", i+1)
		}
		pl.Steps = append(pl.Steps, ClickStep{
			Template:    sw.Template,
			Region:      nav.Region{X1: sw.Region[0], Y1: sw.Region[1], X2: sw.Region[2], Y2: sw.Region[3]},
			DoubleClick: sw.DoubleClick,
		})
	}
	return pl, nil
}

// Get returns the configuration for a game id.
func (r *Registry) Get(gameID string) (GameConfig, error) {
	game, ok := r.games[gameID]
	if !ok {
		return GameConfig{}, fmt.Errorf("unknown game %q (available: %v)", gameID, r.List())
	}
	return game, nil
}

func (r *Registry) IsRegistered(gameID string) bool {
	_, ok := r.games[gameID]
	return ok
}

// List returns registered game ids in stable order.
func (r *Registry) List() []string {
	ids := make([]string, 0, len(r.games))
	for id := range r.games {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Plans materializes the navigation plans for a game+role. Deferred specs
// resolve their player-count placeholder here; playerCount 0 is rejected for
// them since the path cannot resolve.
func (r *Registry) Plans(gameID string, role model.Role, playerCount int) ([]nav.Plan, error) {
	game, err := r.Get(gameID)
	if err != nil {
		return nil, err
	}
	specs, ok := game.Navigations[role]
	if !ok {
		roles := make([]string, 0, len(game.Navigations))
		for r := range game.Navigations {
			roles = append(roles, string(r))
		}
		sort.Strings(roles)
		return nil, fmt.Errorf("no navigation configs for role %q in game %q (available: %v)", role, gameID, roles)
	}
	plans := make([]nav.Plan, 0, len(specs))
	for i, spec := range specs {
		seq, err := r.resolveSequence(spec, playerCount)
		if err != nil {
			return nil, fmt.Errorf("game %q role %q config %d: %w", gameID, role, i+1, err)
		}
		plans = append(plans, nav.Plan{
			TemplateDir: filepath.Join(r.templateBase, spec.TemplateDir),
			Params:      spec.Params,
			Sequence:    seq,
		})
	}
	return plans, nil
}

func (r *Registry) resolveSequence(spec PlanSpec, playerCount int) (nav.Sequence, error) {
	if spec.sequence != nil {
		return *spec.sequence, nil
	}
	if playerCount < 1 {
		return nav.Sequence{}, fmt.Errorf("sequence path %q needs a player count", spec.SequencePath)
	}
	path := strings.ReplaceAll(spec.SequencePath, playersPlaceholder, strconv.Itoa(playerCount))
	return nav.LoadSequence(filepath.Join(r.templateBase, path))
}

func durationSeconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
