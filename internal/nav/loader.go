package nav

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Wire schema for step-sequence files: a flat JSON array of steps. Key
// fields accept either a single string or a list of strings.
//
//	[
//	  {"options": [
//	    {"template": "menu.png", "region": [0.4, 0.3, 0.6, 0.5], "key_press": "enter"}
//	  ]}
//	]
type stepWire struct {
	Options []optionWire `json:"options"`
}

type optionWire struct {
	Template        string          `json:"template"`
	Region          []float64       `json:"region"`
	KeyPress        json.RawMessage `json:"key_press"`
	PressUntilMatch json.RawMessage `json:"press_until_match"`
	RetryDelay      *float64        `json:"retry_delay"`
	ActionDelay     *float64        `json:"action_delay"`
}

// LoadSequence reads and validates a step-sequence file. Malformed sequences
// are configuration errors surfaced here, before any UI interaction begins.
func LoadSequence(path string) (Sequence, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Sequence{}, fmt.Errorf("read sequence file: %w", err)
	}
	seq, err := ParseSequence(data)
	if err != nil {
		return Sequence{}, fmt.Errorf("sequence %s: %w", path, err)
	}
	return seq, nil
}

// ParseSequence decodes a step-sequence document and resolves each option's
// action variant.
func ParseSequence(data []byte) (Sequence, error) {
	var wire []stepWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return Sequence{}, fmt.Errorf("decode steps: %w", err)
	}
	if len(wire) == 0 {
		return Sequence{}, fmt.Errorf("sequence has no steps")
	}
	steps := make([]Step, 0, len(wire))
	for i, sw := range wire {
		if len(sw.Options) == 0 {
			return Sequence{}, fmt.Errorf("step %d has no options", i+1)
		}
		options := make([]StepOption, 0, len(sw.Options))
		for j, ow := range sw.Options {
			opt, err := decodeOption(ow)
			if err != nil {
				return Sequence{}, fmt.Errorf("step %d option %d: %w", i+1, j+1, err)
			}
			options = append(options, opt)
		}
		steps = append(steps, Step{Options: options})
	}
	return Sequence{Steps: steps}, nil
}

func decodeOption(ow optionWire) (StepOption, error) {
	if ow.Template == "" {
		return StepOption{}, fmt.Errorf("missing template")
	}
	region, err := decodeRegion(ow.Region)
	if err != nil {
		return StepOption{}, err
	}
	press, err := decodeKeys(ow.KeyPress)
	if err != nil {
		return StepOption{}, fmt.Errorf("key_press: %w", err)
	}
	until, err := decodeKeys(ow.PressUntilMatch)
	if err != nil {
		return StepOption{}, fmt.Errorf("press_until_match: %w", err)
	}
	if press != nil && until != nil {
		return StepOption{}, fmt.Errorf("key_press and press_until_match are mutually exclusive")
	}

	action := Action{Kind: NoAction}
	switch {
	case until != nil:
		action = Action{Kind: PressUntilMatch, Keys: until}
	case press != nil:
		action = Action{Kind: PressKeys, Keys: press}
	}

	opt := StepOption{
		Template: ow.Template,
		Region:   region,
		Action:   action,
	}
	if ow.RetryDelay != nil {
		if *ow.RetryDelay < 0 {
			return StepOption{}, fmt.Errorf("negative retry_delay")
		}
		d := seconds(*ow.RetryDelay)
		opt.RetryDelay = &d
	}
	if ow.ActionDelay != nil {
		if *ow.ActionDelay < 0 {
			return StepOption{}, fmt.Errorf("negative action_delay")
		}
		d := seconds(*ow.ActionDelay)
		opt.ActionDelay = &d
	}
	return opt, nil
}

func decodeRegion(raw []float64) (Region, error) {
	if len(raw) != 4 {
		return Region{}, fmt.Errorf("region must have 4 values, got %d", len(raw))
	}
	for _, v := range raw {
		if v < 0 || v > 1 {
			return Region{}, fmt.Errorf("region value %v out of range 0..1", v)
		}
	}
	r := Region{X1: raw[0], Y1: raw[1], X2: raw[2], Y2: raw[3]}
	if r.X2 <= r.X1 || r.Y2 <= r.Y1 {
		return Region{}, fmt.Errorf("region corners out of order")
	}
	return r, nil
}

// decodeKeys accepts null, a string, or a list of strings.
func decodeKeys(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if single == "" {
			return nil, fmt.Errorf("empty key name")
		}
		return []string{single}, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("expected string or list of strings")
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("empty key list")
	}
	for _, k := range list {
		if k == "" {
			return nil, fmt.Errorf("empty key name in list")
		}
	}
	return list, nil
}

// ValidateParams rejects parameter combinations that could never execute.
func ValidateParams(p Params) error {
	if p.Threshold < 0 || p.Threshold > 1 {
		return fmt.Errorf("threshold %v out of range 0..1", p.Threshold)
	}
	if p.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be >= 1, got %d", p.MaxRetries)
	}
	if p.PreviousStepRetries < 1 {
		return fmt.Errorf("previous_step_retries must be >= 1, got %d", p.PreviousStepRetries)
	}
	if p.RetryDelay < 0 || p.ActionDelay < 0 {
		return fmt.Errorf("negative delay")
	}
	if p.SearchMargin < 0 || p.SearchMargin > 1 {
		return fmt.Errorf("search_margin %v out of range 0..1", p.SearchMargin)
	}
	if v := p.Viewport; v != nil {
		if v.X2 <= v.X1 || v.Y2 <= v.Y1 {
			return fmt.Errorf("viewport corners out of order")
		}
	}
	return nil
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
