package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	api "ruleforge/pkg/ruleforge"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadRunRequestFromConfig(t *testing.T) {
	path := writeConfig(t, `{
		"run_id": "run-7",
		"group_id": "grp-1",
		"population": 30,
		"generations": 12,
		"seed": 99,
		"spacing": 2,
		"elite_count": 3,
		"crossover_rate": 0.25,
		"mutation_rate": 0.75,
		"mutations_per_child": 2,
		"wildcard_bias": 0.4,
		"rules_per_category": 4,
		"max_rules_per_category": 6,
		"selection": "tournament",
		"tournament_pool": 8,
		"tournament_size": 2,
		"operators": ["mutate_outcome", "swap_rule_priority"]
	}`)

	req, err := loadRunRequestFromConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := api.RunRequest{
		RunID:               "run-7",
		GroupID:             "grp-1",
		Population:          30,
		Generations:         12,
		Seed:                99,
		Spacing:             2,
		EliteCount:          3,
		CrossoverRate:       0.25,
		MutationRate:        0.75,
		MutationsPerChild:   2,
		WildcardBias:        0.4,
		RulesPerCategory:    4,
		MaxRulesPerCategory: 6,
		Selection:           "tournament",
		TournamentPool:      8,
		TournamentSize:      2,
		Operators:           []string{"mutate_outcome", "swap_rule_priority"},
	}
	if !reflect.DeepEqual(req, want) {
		t.Fatalf("loaded request mismatch:\ngot:  %+v\nwant: %+v", req, want)
	}
}

func TestLoadRunRequestIgnoresAbsentKeys(t *testing.T) {
	path := writeConfig(t, `{"group_id": "grp-1"}`)
	req, err := loadRunRequestFromConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if req.GroupID != "grp-1" || req.Population != 0 || req.Selection != "" {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestLoadRunRequestRejectsBadJSON(t *testing.T) {
	path := writeConfig(t, `{"group_id": `)
	if _, err := loadRunRequestFromConfig(path); err == nil {
		t.Fatal("expected a parse error")
	}
	if _, err := loadRunRequestFromConfig(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected a read error")
	}
}

func TestOverrideRunRequestOnlyAppliesSetFlags(t *testing.T) {
	req := api.RunRequest{GroupID: "from-config", Population: 30, Seed: 99, MutationRate: 0.5}
	overrideRunRequest(&req, map[string]bool{"pop": true, "selection": true, "tournament-size": true}, map[string]any{
		"pop":             10,
		"seed":            int64(1),
		"mutation-rate":   0.1,
		"selection":       "tournament",
		"tournament-size": 2,
	})
	if req.Population != 10 || req.TournamentSize != 2 {
		t.Fatalf("set flags not applied: %+v", req)
	}
	if req.Seed != 99 || req.MutationRate != 0.5 {
		t.Fatalf("unset flags overwrote config: %+v", req)
	}
	if req.Selection != "tournament" || req.GroupID != "from-config" {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestSplitOperatorList(t *testing.T) {
	got := splitOperatorList(" mutate_outcome, ,swap_rule_priority ")
	want := []string{"mutate_outcome", "swap_rule_priority"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if splitOperatorList("") != nil {
		t.Fatal("empty input must yield nil")
	}
}
