//go:build sqlite

package storage

import (
	"context"
	"path/filepath"
	"testing"

	"ruleforge/internal/model"
)

func newSQLiteTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "ruleforge.db"))
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStoreRequiresPath(t *testing.T) {
	store := NewSQLiteStore("")
	if err := store.Init(context.Background()); err == nil {
		t.Fatal("expected an error for an empty path")
	}
}

func TestSQLiteStoreRequiresInit(t *testing.T) {
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "ruleforge.db"))
	if err := store.SaveGenome(context.Background(), testGenome("g-1")); err == nil {
		t.Fatal("expected an error before Init")
	}
}

func TestSQLiteStoreGenomeRoundTrip(t *testing.T) {
	store := newSQLiteTestStore(t)
	ctx := context.Background()

	if _, ok, err := store.GetGenome(ctx, "missing"); err != nil || ok {
		t.Fatalf("missing genome: ok=%v err=%v", ok, err)
	}
	if err := store.SaveGenome(ctx, testGenome("g-1")); err != nil {
		t.Fatalf("save: %v", err)
	}
	// saving again overwrites instead of failing
	if err := store.SaveGenome(ctx, testGenome("g-1")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, ok, err := store.GetGenome(ctx, "g-1")
	if err != nil || !ok || got.ID != "g-1" {
		t.Fatalf("get: ok=%v err=%v got=%+v", ok, err, got)
	}
}

func TestSQLiteStoreGroupCRUD(t *testing.T) {
	store := newSQLiteTestStore(t)
	ctx := context.Background()

	if err := store.SaveTestCaseGroup(ctx, testGroup("grp-1", "sand")); err != nil {
		t.Fatalf("save: %v", err)
	}
	groups, err := store.ListTestCaseGroups(ctx)
	if err != nil || len(groups) != 1 || groups[0].Name != "sand" {
		t.Fatalf("list: err=%v got=%+v", err, groups)
	}
	if err := store.DeleteTestCaseGroup(ctx, "grp-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := store.GetTestCaseGroup(ctx, "grp-1"); ok {
		t.Fatal("deleted group still present")
	}
}

func TestSQLiteStoreRunArtifacts(t *testing.T) {
	store := newSQLiteTestStore(t)
	ctx := context.Background()

	record := model.RunRecord{
		VersionedRecord:   model.CurrentVersions(),
		RunID:             "run-1",
		CreatedAtUTC:      "2026-01-02T03:04:05Z",
		GroupID:           "grp-1",
		BestFitness:       4,
		TerminationReason: "exhausted",
	}
	if err := store.SaveRunRecord(ctx, record); err != nil {
		t.Fatalf("save run: %v", err)
	}
	if err := store.SaveFitnessHistory(ctx, "run-1", []float64{1, 4}); err != nil {
		t.Fatalf("save history: %v", err)
	}
	if err := store.SaveGenerationDiagnostics(ctx, "run-1", []model.GenerationDiagnostics{{Generation: 1}}); err != nil {
		t.Fatalf("save diagnostics: %v", err)
	}
	if err := store.SaveTopGenomes(ctx, "run-1", []model.TopGenomeRecord{{Rank: 1, Fitness: 4, Genome: testGenome("g-1")}}); err != nil {
		t.Fatalf("save top: %v", err)
	}

	got, ok, err := store.GetRunRecord(ctx, "run-1")
	if err != nil || !ok || got != record {
		t.Fatalf("run record: ok=%v err=%v got=%+v", ok, err, got)
	}
	history, ok, err := store.GetFitnessHistory(ctx, "run-1")
	if err != nil || !ok || len(history) != 2 {
		t.Fatalf("history: ok=%v err=%v got=%v", ok, err, history)
	}
	diagnostics, ok, err := store.GetGenerationDiagnostics(ctx, "run-1")
	if err != nil || !ok || len(diagnostics) != 1 {
		t.Fatalf("diagnostics: ok=%v err=%v got=%v", ok, err, diagnostics)
	}
	top, ok, err := store.GetTopGenomes(ctx, "run-1")
	if err != nil || !ok || len(top) != 1 {
		t.Fatalf("top: ok=%v err=%v got=%+v", ok, err, top)
	}
	runs, err := store.ListRunRecords(ctx)
	if err != nil || len(runs) != 1 {
		t.Fatalf("list runs: err=%v got=%v", err, runs)
	}
}
