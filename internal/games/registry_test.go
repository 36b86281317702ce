package games

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/simfleet/simfleet/internal/config"
	"github.com/simfleet/simfleet/internal/model"
)

const sequenceDoc = `[
	{"options": [{"template": "menu.png", "region": [0.4, 0.3, 0.6, 0.5], "key_press": "enter"}]},
	{"options": [{"template": "lobby.png", "region": [0.3, 0.4, 0.7, 0.6], "key_press": "down"}]}
]`

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.TemplateBaseDir = t.TempDir()
	writeSequence(t, cfg.TemplateBaseDir, "f1_22/host.json")
	writeSequence(t, cfg.TemplateBaseDir, "f1_22/join_2.json")
	writeSequence(t, cfg.TemplateBaseDir, "f1_22/join_3.json")
	return cfg
}

func writeSequence(t *testing.T, base, rel string) {
	t.Helper()
	path := filepath.Join(base, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(sequenceDoc), 0o644); err != nil {
		t.Fatalf("write sequence: %v", err)
	}
}

const gamesDoc = `{
	"f1_22": {
		"name": "F1 22",
		"executable_path": "C:/Games/F1 22/F1_22.exe",
		"process_name": "F1_22.exe",
		"window_title": "F1 22",
		"navigation_config": {
			"host": [
				{
					"template_dir": "f1_22",
					"template_threshold": 0.85,
					"max_retries": 40,
					"retry_delay": 0.1,
					"navigation_sequence_path": "f1_22/host.json"
				}
			],
			"join": [
				{
					"template_dir": "f1_22",
					"template_threshold": 0.8,
					"navigation_sequence_path": "f1_22/join_{players}.json"
				}
			]
		}
	}
}`

func TestParseRegistryLoadsPlans(t *testing.T) {
	cfg := testConfig(t)
	r, err := ParseRegistry([]byte(gamesDoc), cfg)
	if err != nil {
		t.Fatalf("parse registry: %v", err)
	}
	if got := r.List(); len(got) != 1 || got[0] != "f1_22" {
		t.Fatalf("unexpected game list: %v", got)
	}
	game, err := r.Get("f1_22")
	if err != nil {
		t.Fatalf("get game: %v", err)
	}
	if game.ProcessName != "F1_22.exe" {
		t.Fatalf("unexpected process name: %s", game.ProcessName)
	}

	plans, err := r.Plans("f1_22", model.RoleHost, 0)
	if err != nil {
		t.Fatalf("host plans: %v", err)
	}
	if len(plans) != 1 {
		t.Fatalf("expected 1 plan, got %d", len(plans))
	}
	if plans[0].Params.MaxRetries != 40 {
		t.Fatalf("max_retries override not applied: %d", plans[0].Params.MaxRetries)
	}
	if plans[0].Params.Threshold != 0.85 {
		t.Fatalf("threshold not applied: %v", plans[0].Params.Threshold)
	}
	if len(plans[0].Sequence.Steps) != 2 {
		t.Fatalf("sequence not loaded: %d steps", len(plans[0].Sequence.Steps))
	}
}

func TestDeferredSequenceResolvesPlayerCount(t *testing.T) {
	cfg := testConfig(t)
	r, err := ParseRegistry([]byte(gamesDoc), cfg)
	if err != nil {
		t.Fatalf("parse registry: %v", err)
	}
	for _, players := range []int{2, 3} {
		plans, err := r.Plans("f1_22", model.RoleJoin, players)
		if err != nil {
			t.Fatalf("join plans for %d players: %v", players, err)
		}
		if len(plans[0].Sequence.Steps) != 2 {
			t.Fatalf("deferred sequence not loaded for %d players", players)
		}
	}
	if _, err := r.Plans("f1_22", model.RoleJoin, 0); err == nil {
		t.Fatal("deferred plan without player count must fail")
	}
	if _, err := r.Plans("f1_22", model.RoleJoin, 5); err == nil {
		t.Fatal("missing resolved sequence file must fail")
	}
}

func TestParseRegistryRejectsBadConfig(t *testing.T) {
	cfg := testConfig(t)
	cases := map[string]string{
		"missing fields": `{"f1_22": {"name": "F1 22"}}`,
		"unknown role": `{"f1_22": {
			"name": "F1 22", "executable_path": "x", "process_name": "x.exe",
			"navigation_config": {"spectator": [{"template_dir": "d", "template_threshold": 0.8, "navigation_sequence_path": "f1_22/host.json"}]}}}`,
		"empty role configs": `{"f1_22": {
			"name": "F1 22", "executable_path": "x", "process_name": "x.exe",
			"navigation_config": {"host": []}}}`,
		"bad threshold": `{"f1_22": {
			"name": "F1 22", "executable_path": "x", "process_name": "x.exe",
			"navigation_config": {"host": [{"template_dir": "d", "template_threshold": 1.5, "navigation_sequence_path": "f1_22/host.json"}]}}}`,
		"missing sequence file": `{"f1_22": {
			"name": "F1 22", "executable_path": "x", "process_name": "x.exe",
			"navigation_config": {"host": [{"template_dir": "d", "template_threshold": 0.8, "navigation_sequence_path": "nope/none.json"}]}}}`,
	}
	for name, doc := range cases {
		if _, err := ParseRegistry([]byte(doc), cfg); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestUnknownGame(t *testing.T) {
	cfg := testConfig(t)
	r, err := ParseRegistry([]byte(gamesDoc), cfg)
	if err != nil {
		t.Fatalf("parse registry: %v", err)
	}
	if _, err := r.Get("acc"); err == nil {
		t.Fatal("expected unknown-game error")
	}
	if r.IsRegistered("acc") {
		t.Fatal("acc must not be registered")
	}
}
