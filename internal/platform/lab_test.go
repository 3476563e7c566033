package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"ruleforge/internal/evo"
	"ruleforge/internal/genome"
	"ruleforge/internal/model"
	"ruleforge/internal/storage"
	"ruleforge/internal/substrate"
)

const (
	empty model.CellCategory = 0
	sand  model.CellCategory = 1
)

func sandGroup(id string) model.TestCaseGroup {
	return model.TestCaseGroup{
		VersionedRecord: model.CurrentVersions(),
		ID:              id,
		Name:            "falling sand",
		Tests: []model.TestCase{{
			ID: "column", Width: 1, Height: 2,
			Frames: [][][]model.CellCategory{
				{{sand}, {empty}},
				{{empty}, {sand}},
			},
		}},
	}
}

func newTestLab(t *testing.T, opts substrate.CPUOptions) *Lab {
	t.Helper()
	lab := NewLab(Config{
		Store:  storage.NewMemoryStore(),
		Device: substrate.NewCPUDevice(opts),
	})
	if err := lab.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return lab
}

func saveGroup(t *testing.T, lab *Lab, group model.TestCaseGroup) {
	t.Helper()
	if err := lab.Store().SaveTestCaseGroup(context.Background(), group); err != nil {
		t.Fatalf("save group: %v", err)
	}
}

func TestLabInitRequiresStoreAndDevice(t *testing.T) {
	if err := NewLab(Config{Device: substrate.NewCPUDevice(substrate.CPUOptions{})}).Init(context.Background()); err == nil {
		t.Fatal("expected an error without a store")
	}
	if err := NewLab(Config{Store: storage.NewMemoryStore()}).Init(context.Background()); err == nil {
		t.Fatal("expected an error without a device")
	}
}

func TestRunEvolutionValidatesConfig(t *testing.T) {
	lab := newTestLab(t, substrate.CPUOptions{Workers: 1})
	saveGroup(t, lab, sandGroup("grp"))
	ctx := context.Background()

	cases := []struct {
		name string
		cfg  RunConfig
	}{
		{"missing group", RunConfig{PopulationSize: 4, Generations: 1}},
		{"zero population", RunConfig{GroupID: "grp", Generations: 1}},
		{"zero generations", RunConfig{GroupID: "grp", PopulationSize: 4}},
		{"initial mismatch", RunConfig{
			GroupID: "grp", PopulationSize: 4, Generations: 1,
			Initial: []model.Genome{{ID: "only-one"}},
		}},
		{"unknown group", RunConfig{GroupID: "nope", PopulationSize: 4, Generations: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := lab.RunEvolution(ctx, tc.cfg); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestRunEvolutionRequiresInit(t *testing.T) {
	lab := NewLab(Config{
		Store:  storage.NewMemoryStore(),
		Device: substrate.NewCPUDevice(substrate.CPUOptions{}),
	})
	if _, err := lab.RunEvolution(context.Background(), RunConfig{GroupID: "grp", PopulationSize: 2, Generations: 1}); err == nil {
		t.Fatal("expected an error before Init")
	}
}

func TestRunEvolutionRejectsMalformedCasesUpFront(t *testing.T) {
	lab := newTestLab(t, substrate.CPUOptions{Workers: 1})
	group := sandGroup("bad")
	group.Tests[0].Width = 3 // frames are one cell wide
	saveGroup(t, lab, group)

	_, err := lab.RunEvolution(context.Background(), RunConfig{
		GroupID: "bad", PopulationSize: 4, Generations: 10,
	})
	var dimErr *model.DimensionError
	if !errors.As(err, &dimErr) {
		t.Fatalf("expected a DimensionError, got %v", err)
	}
	if dimErr.CaseID != "column" {
		t.Fatalf("wrong case blamed: %+v", dimErr)
	}
	if _, err := lab.Store().ListRunRecords(context.Background()); err != nil {
		t.Fatalf("list runs: %v", err)
	}
}

func TestRunEvolutionSurfacesResourceExhaustion(t *testing.T) {
	lab := newTestLab(t, substrate.CPUOptions{MaxCells: 4, Workers: 1})
	saveGroup(t, lab, sandGroup("grp"))

	_, err := lab.RunEvolution(context.Background(), RunConfig{
		GroupID: "grp", PopulationSize: 4, Generations: 10,
	})
	if !errors.Is(err, substrate.ErrResourceExhausted) {
		t.Fatalf("expected ErrResourceExhausted, got %v", err)
	}
}

func TestRunEvolutionPersistsArtifacts(t *testing.T) {
	lab := newTestLab(t, substrate.CPUOptions{Workers: 1})
	saveGroup(t, lab, sandGroup("grp"))
	ctx := context.Background()

	summary, err := lab.RunEvolution(ctx, RunConfig{
		GroupID:        "grp",
		PopulationSize: 6,
		Generations:    4,
		Seed:           7,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.RunID == "" || !strings.HasPrefix(summary.RunID, "evo-grp-") {
		t.Fatalf("unexpected run id %q", summary.RunID)
	}
	if summary.GenerationsRun == 0 {
		t.Fatal("no generations executed")
	}

	record, ok, err := lab.Store().GetRunRecord(ctx, summary.RunID)
	if err != nil || !ok {
		t.Fatalf("run record: ok=%v err=%v", ok, err)
	}
	if record.GroupID != "grp" || record.Seed != 7 || record.PopulationSize != 6 {
		t.Fatalf("record fields wrong: %+v", record)
	}
	if record.TerminationReason != summary.TerminationReason {
		t.Fatalf("reason mismatch: record=%q summary=%q", record.TerminationReason, summary.TerminationReason)
	}
	if record.BestFitness != summary.Best.Fitness {
		t.Fatalf("best fitness mismatch: record=%v summary=%v", record.BestFitness, summary.Best.Fitness)
	}

	history, ok, err := lab.Store().GetFitnessHistory(ctx, summary.RunID)
	if err != nil || !ok {
		t.Fatalf("history: ok=%v err=%v", ok, err)
	}
	if len(history) != summary.GenerationsRun {
		t.Fatalf("history length %d, want %d", len(history), summary.GenerationsRun)
	}
	diagnostics, ok, err := lab.Store().GetGenerationDiagnostics(ctx, summary.RunID)
	if err != nil || !ok || len(diagnostics) != summary.GenerationsRun {
		t.Fatalf("diagnostics: ok=%v err=%v len=%d", ok, err, len(diagnostics))
	}

	top, ok, err := lab.Store().GetTopGenomes(ctx, summary.RunID)
	if err != nil || !ok {
		t.Fatalf("top genomes: ok=%v err=%v", ok, err)
	}
	if len(top) == 0 || len(top) > topGenomeCount {
		t.Fatalf("top genome count %d", len(top))
	}
	for i, entry := range top {
		if entry.Rank != i+1 {
			t.Fatalf("rank %d at index %d", entry.Rank, i)
		}
		if i > 0 && top[i-1].Fitness < entry.Fitness {
			t.Fatalf("top genomes not sorted: %v then %v", top[i-1].Fitness, entry.Fitness)
		}
		if entry.Genome.SchemaVersion != model.CurrentSchemaVersion {
			t.Fatalf("top genome %d missing version stamp: %+v", i, entry.Genome.VersionedRecord)
		}
	}

	best, ok, err := lab.Store().GetGenome(ctx, summary.Best.Genome.ID)
	if err != nil || !ok {
		t.Fatalf("best genome: ok=%v err=%v", ok, err)
	}
	if best.SchemaVersion != model.CurrentSchemaVersion {
		t.Fatalf("best genome missing version stamp: %+v", best.VersionedRecord)
	}
	if best.RuleCount() != summary.Best.Genome.RuleCount() {
		t.Fatalf("persisted best has %d rules, want %d", best.RuleCount(), summary.Best.Genome.RuleCount())
	}
}

func TestRunEvolutionNegativeMutationRateBreedsClones(t *testing.T) {
	lab := newTestLab(t, substrate.CPUOptions{Workers: 1})
	saveGroup(t, lab, sandGroup("grp"))

	categories := []model.CellCategory{empty, sand}
	initial := make([]model.Genome, 4)
	for i := range initial {
		initial[i] = genome.NewEmpty(fmt.Sprintf("seed-%d", i), categories)
	}

	summary, err := lab.RunEvolution(context.Background(), RunConfig{
		GroupID:        "grp",
		PopulationSize: 4,
		Generations:    3,
		Seed:           5,
		MutationRate:   -1,
		Initial:        initial,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// mutation disabled: descendants of empty genomes never gain a rule
	for _, entry := range summary.TopGenomes {
		if entry.Genome.RuleCount() != 0 {
			t.Fatalf("genome %s gained %d rules with mutation disabled",
				entry.Genome.ID, entry.Genome.RuleCount())
		}
	}
}

func TestRunEvolutionStopsPerfectSeedImmediately(t *testing.T) {
	lab := newTestLab(t, substrate.CPUOptions{Workers: 1})
	saveGroup(t, lab, sandGroup("grp"))

	fall := model.Pattern{
		model.Wildcard, model.Wildcard, model.Wildcard,
		model.Wildcard, sand, model.Wildcard,
		model.Wildcard, empty, model.Wildcard,
	}
	gain := model.Pattern{
		model.Wildcard, sand, model.Wildcard,
		model.Wildcard, empty, model.Wildcard,
		model.Wildcard, model.Wildcard, model.Wildcard,
	}
	perfect := model.Genome{
		ID: "sand-solver",
		Categories: []model.CategoryRules{
			{Category: empty, Rules: []model.Rule{{Pattern: gain, Outcome: sand}}},
			{Category: sand, Rules: []model.Rule{{Pattern: fall, Outcome: empty}}},
		},
	}

	summary, err := lab.RunEvolution(context.Background(), RunConfig{
		GroupID:        "grp",
		PopulationSize: 2,
		Generations:    50,
		Initial:        []model.Genome{perfect, {ID: "noop"}},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.TerminationReason != evo.TerminationPerfect {
		t.Fatalf("reason %q, want %q", summary.TerminationReason, evo.TerminationPerfect)
	}
	if summary.GenerationsRun != 1 {
		t.Fatalf("ran %d generations, want 1", summary.GenerationsRun)
	}
	if summary.Best.Genome.ID != "sand-solver" {
		t.Fatalf("best genome %q", summary.Best.Genome.ID)
	}
}

func TestRunEvolutionHonorsQueuedStop(t *testing.T) {
	lab := newTestLab(t, substrate.CPUOptions{Workers: 1})
	saveGroup(t, lab, sandGroup("grp"))

	control := make(chan evo.ControlSignal, 1)
	control <- evo.ControlStop

	summary, err := lab.RunEvolution(context.Background(), RunConfig{
		GroupID:        "grp",
		PopulationSize: 4,
		Generations:    50,
		RunID:          "run-stop",
		Control:        control,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.TerminationReason != evo.TerminationCancelled {
		t.Fatalf("reason %q, want %q", summary.TerminationReason, evo.TerminationCancelled)
	}
	if summary.GenerationsRun != 0 {
		t.Fatalf("ran %d generations after stop", summary.GenerationsRun)
	}
	if _, ok, err := lab.Store().GetRunRecord(context.Background(), "run-stop"); err != nil || !ok {
		t.Fatalf("stopped run not recorded: ok=%v err=%v", ok, err)
	}
}

func TestRunEvolutionResumesAfterQueuedPause(t *testing.T) {
	lab := newTestLab(t, substrate.CPUOptions{Workers: 1})
	saveGroup(t, lab, sandGroup("grp"))

	control := make(chan evo.ControlSignal, 2)
	control <- evo.ControlPause
	control <- evo.ControlContinue

	summary, err := lab.RunEvolution(context.Background(), RunConfig{
		GroupID:        "grp",
		PopulationSize: 4,
		Generations:    2,
		Control:        control,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.GenerationsRun != 2 {
		t.Fatalf("ran %d generations, want 2", summary.GenerationsRun)
	}
}

func TestRunControlRegistry(t *testing.T) {
	lab := newTestLab(t, substrate.CPUOptions{Workers: 1})

	if err := lab.PauseRun("missing"); err == nil {
		t.Fatal("expected an error for an inactive run")
	}
	if err := lab.PauseRun(""); err == nil {
		t.Fatal("expected an error for an empty run id")
	}

	control := make(chan evo.ControlSignal, 4)
	if err := lab.registerRunControl("run-1", control); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := lab.registerRunControl("run-1", control); err == nil {
		t.Fatal("duplicate run id accepted")
	}
	if got := lab.ActiveRuns(); len(got) != 1 || got[0] != "run-1" {
		t.Fatalf("active runs %v", got)
	}

	if err := lab.PauseRun("run-1"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := lab.ContinueRun("run-1"); err != nil {
		t.Fatalf("continue: %v", err)
	}
	if err := lab.StopRun("run-1"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := []evo.ControlSignal{<-control, <-control, <-control}; got[0] != evo.ControlPause || got[1] != evo.ControlContinue || got[2] != evo.ControlStop {
		t.Fatalf("signals delivered out of order: %v", got)
	}

	lab.unregisterRunControl("run-1")
	if err := lab.StopRun("run-1"); err == nil {
		t.Fatal("expected an error after unregister")
	}
}

func TestStopSignalsActiveRuns(t *testing.T) {
	lab := newTestLab(t, substrate.CPUOptions{Workers: 1})
	control := make(chan evo.ControlSignal, 1)
	if err := lab.registerRunControl("run-1", control); err != nil {
		t.Fatalf("register: %v", err)
	}

	lab.Stop()
	if lab.Started() {
		t.Fatal("lab still started after Stop")
	}
	select {
	case sig := <-control:
		if sig != evo.ControlStop {
			t.Fatalf("signal %v, want stop", sig)
		}
	default:
		t.Fatal("no stop signal delivered")
	}
	if got := lab.ActiveRuns(); len(got) != 0 {
		t.Fatalf("runs still registered: %v", got)
	}
}

func TestDefaultLabLifecycle(t *testing.T) {
	t.Cleanup(func() { _ = StopDefault() })

	cfg := Config{
		Store:  storage.NewMemoryStore(),
		Device: substrate.NewCPUDevice(substrate.CPUOptions{Workers: 1}),
	}
	lab, err := StartDefault(context.Background(), cfg)
	if err != nil {
		t.Fatalf("start default: %v", err)
	}
	again, err := StartDefault(context.Background(), cfg)
	if err != nil || again != lab {
		t.Fatalf("second start: lab=%p again=%p err=%v", lab, again, err)
	}
	got, ok := Default()
	if !ok || got != lab {
		t.Fatalf("default lookup: ok=%v", ok)
	}
	if err := StopDefault(); err != nil {
		t.Fatalf("stop default: %v", err)
	}
	if _, ok := Default(); ok {
		t.Fatal("default still live after stop")
	}
}
