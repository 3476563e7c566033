package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), args, &out)
	return out.String(), err
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	if _, err := runCommand(t, "evolve"); err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Fatalf("got %v", err)
	}
	if _, err := runCommand(t); err == nil || !strings.Contains(err.Error(), "missing command") {
		t.Fatalf("got %v", err)
	}
}

func TestInitCommand(t *testing.T) {
	out, err := runCommand(t, "init", "-store", "memory")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.Contains(out, "initialized store=memory") {
		t.Fatalf("output %q", out)
	}
}

func TestCorpusImportCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.json")
	body := `{
		"name": "falling sand",
		"tests": [{
			"id": "column",
			"width": 1,
			"height": 2,
			"frames": [[[1],[0]],[[0],[1]]]
		}]
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write corpus: %v", err)
	}

	out, err := runCommand(t, "corpus", "-store", "memory", "-import", path)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !strings.Contains(out, `name="falling sand"`) || !strings.Contains(out, "cases=1") {
		t.Fatalf("output %q", out)
	}
}

func TestCorpusImportRejectsMalformedGroup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.json")
	// width disagrees with the frames
	body := `{"name": "broken", "tests": [{"id": "c", "width": 3, "height": 2, "frames": [[[1],[0]],[[0],[1]]]}]}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write corpus: %v", err)
	}
	if _, err := runCommand(t, "corpus", "-store", "memory", "-import", path); err == nil {
		t.Fatal("expected a dimension error")
	}
}

func TestCorpusDeleteFlagRules(t *testing.T) {
	if _, err := runCommand(t, "corpus", "-store", "memory", "-import", "x.json", "-delete", "grp"); err == nil || !strings.Contains(err.Error(), "not both") {
		t.Fatalf("got %v", err)
	}
	if _, err := runCommand(t, "corpus", "-store", "memory", "-delete", "missing"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("got %v", err)
	}
}

func TestGenomeCommandFlagRules(t *testing.T) {
	if _, err := runCommand(t, "genome", "-store", "memory"); err == nil || !strings.Contains(err.Error(), "-id") {
		t.Fatalf("got %v", err)
	}
	if _, err := runCommand(t, "genome", "-store", "memory", "-id", "missing"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("got %v", err)
	}
}

func TestRunCommandRequiresGroup(t *testing.T) {
	if _, err := runCommand(t, "run", "-store", "memory"); err == nil || !strings.Contains(err.Error(), "-group") {
		t.Fatalf("got %v", err)
	}
}

func TestFitnessCommandFlagRules(t *testing.T) {
	if _, err := runCommand(t, "fitness", "-store", "memory"); err == nil {
		t.Fatal("expected an error without -run-id or -latest")
	}
	if _, err := runCommand(t, "fitness", "-store", "memory", "-run-id", "x", "-latest"); err == nil {
		t.Fatal("expected an error with both -run-id and -latest")
	}
	if _, err := runCommand(t, "top", "-store", "memory"); err == nil {
		t.Fatal("expected an error without -run-id or -latest")
	}
	if _, err := runCommand(t, "diagnostics", "-store", "memory"); err == nil {
		t.Fatal("expected an error without -run-id or -latest")
	}
}

func TestRunsCommandEmptyStore(t *testing.T) {
	out, err := runCommand(t, "runs", "-store", "memory")
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if !strings.Contains(out, "no runs") {
		t.Fatalf("output %q", out)
	}
}

func TestOperatorsCommandListsRegistry(t *testing.T) {
	out, err := runCommand(t, "operators", "-store", "memory")
	if err != nil {
		t.Fatalf("operators: %v", err)
	}
	for _, name := range []string{
		"append_random_rule",
		"delete_random_rule",
		"mutate_outcome",
		"mutate_pattern_slot",
		"swap_rule_priority",
	} {
		if !strings.Contains(out, name) {
			t.Fatalf("operator %s missing from %q", name, out)
		}
	}
}
