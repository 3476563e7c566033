//go:build sqlite

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

var importedGroupPattern = regexp.MustCompile(`imported group=(\S+)`)

func TestRunCommandSQLitePersistsAcrossInvocations(t *testing.T) {
	workdir := t.TempDir()
	dbPath := filepath.Join(workdir, "ruleforge.db")

	corpusPath := filepath.Join(workdir, "sand.json")
	body := `{
		"name": "falling sand",
		"tests": [{
			"id": "column",
			"width": 1,
			"height": 2,
			"frames": [[[1],[0]],[[0],[1]]]
		}]
	}`
	if err := os.WriteFile(corpusPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write corpus: %v", err)
	}

	var out bytes.Buffer
	if err := run(context.Background(), []string{
		"corpus", "-store", "sqlite", "-db-path", dbPath, "-import", corpusPath,
	}, &out); err != nil {
		t.Fatalf("import: %v", err)
	}
	match := importedGroupPattern.FindStringSubmatch(out.String())
	if match == nil {
		t.Fatalf("no group id in %q", out.String())
	}
	groupID := match[1]

	out.Reset()
	if err := run(context.Background(), []string{
		"run",
		"-store", "sqlite",
		"-db-path", dbPath,
		"-group", groupID,
		"-pop", "6",
		"-gens", "3",
		"-seed", "11",
		"-workers", "1",
		"-json",
	}, &out); err != nil {
		t.Fatalf("run command: %v", err)
	}
	var summary struct {
		RunID        string
		BestGenomeID string
	}
	if err := json.Unmarshal(out.Bytes(), &summary); err != nil {
		t.Fatalf("run output %q: %v", out.String(), err)
	}
	if summary.RunID == "" || summary.BestGenomeID == "" {
		t.Fatalf("run summary %+v", summary)
	}

	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("expected sqlite db at %s: %v", dbPath, err)
	}

	out.Reset()
	if err := run(context.Background(), []string{
		"fitness", "-store", "sqlite", "-db-path", dbPath, "-latest",
	}, &out); err != nil {
		t.Fatalf("fitness command: %v", err)
	}
	if !strings.Contains(out.String(), "generation=1 best_fitness=") {
		t.Fatalf("fitness output %q", out.String())
	}

	out.Reset()
	if err := run(context.Background(), []string{
		"top", "-store", "sqlite", "-db-path", dbPath, "-latest", "-limit", "3",
	}, &out); err != nil {
		t.Fatalf("top command: %v", err)
	}
	if !strings.Contains(out.String(), "rank=1 fitness=") {
		t.Fatalf("top output %q", out.String())
	}

	out.Reset()
	if err := run(context.Background(), []string{
		"genome", "-store", "sqlite", "-db-path", dbPath, "-id", summary.BestGenomeID,
	}, &out); err != nil {
		t.Fatalf("genome command: %v", err)
	}
	if !strings.Contains(out.String(), "genome="+summary.BestGenomeID) {
		t.Fatalf("genome output %q", out.String())
	}

	out.Reset()
	if err := run(context.Background(), []string{
		"corpus", "-store", "sqlite", "-db-path", dbPath, "-delete", groupID,
	}, &out); err != nil {
		t.Fatalf("delete command: %v", err)
	}
	out.Reset()
	if err := run(context.Background(), []string{
		"corpus", "-store", "sqlite", "-db-path", dbPath,
	}, &out); err != nil {
		t.Fatalf("corpus list: %v", err)
	}
	if !strings.Contains(out.String(), "no test-case groups") {
		t.Fatalf("corpus output after delete %q", out.String())
	}

	out.Reset()
	if err := run(context.Background(), []string{
		"runs", "-store", "sqlite", "-db-path", dbPath,
	}, &out); err != nil {
		t.Fatalf("runs command: %v", err)
	}
	if !strings.Contains(out.String(), "group="+groupID) {
		t.Fatalf("runs output %q", out.String())
	}
}
