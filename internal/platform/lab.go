// Package platform hosts the Lab, the long-lived orchestrator that owns the
// persistence store and the compute device, runs evolution searches against
// stored test-case corpora, and exposes pause/continue/stop control over
// active runs.
package platform

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ruleforge/internal/evo"
	"ruleforge/internal/fitness"
	"ruleforge/internal/genome"
	"ruleforge/internal/model"
	"ruleforge/internal/storage"
	"ruleforge/internal/substrate"
)

type Config struct {
	Store  storage.Store
	Device substrate.Device
}

// Search defaults applied when the corresponding RunConfig field is zero.
const (
	defaultEliteCount          = 2
	defaultCrossoverRate       = 0.3
	defaultMutationRate        = 1.0
	defaultMutationsPerChild   = 1
	defaultWildcardBias        = 0.5
	defaultRulesPerCategory    = 3
	defaultMaxRulesPerCategory = 8
	topGenomeCount             = 5
)

// RunConfig describes one evolution run over a stored test-case group.
// Zero-valued knobs fall back to the package defaults above; a negative
// MutationRate or MutationsPerChild disables mutation outright. Initial,
// when set, replaces the randomly seeded starting population.
type RunConfig struct {
	RunID               string
	GroupID             string
	Spacing             int
	PopulationSize      int
	Generations         int
	EliteCount          int
	CrossoverRate       float64
	MutationRate        float64
	MutationsPerChild   int
	Seed                int64
	WildcardBias        float64
	RulesPerCategory    int
	MaxRulesPerCategory int

	Initial        []model.Genome
	MutationPolicy []evo.WeightedMutation
	Selector       evo.Selector
	Control        chan evo.ControlSignal
}

// RunSummary is what a finished run hands back to callers; the same
// artifacts are persisted under the run id.
type RunSummary struct {
	RunID             string
	Best              evo.ScoredGenome
	BestGeneration    int
	BestByGeneration  []float64
	Diagnostics       []model.GenerationDiagnostics
	TopGenomes        []model.TopGenomeRecord
	GenerationsRun    int
	TerminationReason string
}

type Lab struct {
	store  storage.Store
	device substrate.Device

	mu      sync.RWMutex
	started bool
	runs    map[string]chan evo.ControlSignal
}

var (
	defaultLabMu sync.Mutex
	defaultLab   *Lab
)

func NewLab(cfg Config) *Lab {
	return &Lab{
		store:  cfg.Store,
		device: cfg.Device,
		runs:   make(map[string]chan evo.ControlSignal),
	}
}

// StartDefault initializes the process-wide Lab instance, reusing a live
// one if it exists.
func StartDefault(ctx context.Context, cfg Config) (*Lab, error) {
	defaultLabMu.Lock()
	defer defaultLabMu.Unlock()

	if defaultLab != nil && defaultLab.Started() {
		return defaultLab, nil
	}

	lab := NewLab(cfg)
	if err := lab.Init(ctx); err != nil {
		return nil, err
	}
	defaultLab = lab
	return defaultLab, nil
}

func Default() (*Lab, bool) {
	defaultLabMu.Lock()
	lab := defaultLab
	defaultLabMu.Unlock()

	if lab == nil || !lab.Started() {
		return nil, false
	}
	return lab, true
}

func StopDefault() error {
	defaultLabMu.Lock()
	lab := defaultLab
	defaultLabMu.Unlock()
	if lab == nil {
		return nil
	}
	lab.Stop()
	defaultLabMu.Lock()
	if defaultLab == lab {
		defaultLab = nil
	}
	defaultLabMu.Unlock()
	return nil
}

func (l *Lab) Init(ctx context.Context) error {
	if l.store == nil {
		return fmt.Errorf("store is required")
	}
	if l.device == nil {
		return fmt.Errorf("device is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return nil
	}
	if err := l.store.Init(ctx); err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	l.started = true
	return nil
}

func (l *Lab) Started() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.started
}

// Stop signals every active run to stop and marks the Lab as not started.
func (l *Lab) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, control := range l.runs {
		select {
		case control <- evo.ControlStop:
		default:
		}
	}
	l.runs = make(map[string]chan evo.ControlSignal)
	l.started = false
}

func (l *Lab) Store() storage.Store { return l.store }

// RunEvolution executes one full search: it loads the corpus, packs it
// into an atlas and allocates device buffers (so malformed cases and
// resource exhaustion surface before the first generation), runs the
// population monitor, and persists the run record, fitness history,
// diagnostics, top genomes and best genome under the run id.
func (l *Lab) RunEvolution(ctx context.Context, cfg RunConfig) (RunSummary, error) {
	if !l.Started() {
		return RunSummary{}, fmt.Errorf("lab is not initialized")
	}
	if cfg.GroupID == "" {
		return RunSummary{}, fmt.Errorf("test case group id is required")
	}
	if cfg.PopulationSize <= 0 {
		return RunSummary{}, fmt.Errorf("population size must be > 0")
	}
	if cfg.Generations <= 0 {
		return RunSummary{}, fmt.Errorf("generations must be > 0")
	}
	if len(cfg.Initial) > 0 && len(cfg.Initial) != cfg.PopulationSize {
		return RunSummary{}, fmt.Errorf("initial population mismatch: got=%d want=%d", len(cfg.Initial), cfg.PopulationSize)
	}
	applyRunDefaults(&cfg)

	group, ok, err := l.store.GetTestCaseGroup(ctx, cfg.GroupID)
	if err != nil {
		return RunSummary{}, fmt.Errorf("load test case group: %w", err)
	}
	if !ok {
		return RunSummary{}, fmt.Errorf("test case group not found: %s", cfg.GroupID)
	}

	evaluator, err := fitness.NewBatchEvaluator(l.device, group.Tests, cfg.Spacing)
	if err != nil {
		return RunSummary{}, fmt.Errorf("prepare evaluator: %w", err)
	}
	defer evaluator.Close()

	runID := cfg.RunID
	if runID == "" {
		runID = fmt.Sprintf("evo-%s-%s", group.ID, uuid.NewString())
	}
	control := cfg.Control
	if control == nil {
		control = make(chan evo.ControlSignal, 16)
	}
	if err := l.registerRunControl(runID, control); err != nil {
		return RunSummary{}, err
	}
	defer l.unregisterRunControl(runID)

	rng := rand.New(rand.NewSource(cfg.Seed))
	categories := corpusCategories(group)
	policy := cfg.MutationPolicy
	if len(policy) == 0 {
		policy = evo.DefaultMutationPolicy(rng, cfg.WildcardBias, cfg.MaxRulesPerCategory)
	}

	initial := cfg.Initial
	if len(initial) == 0 {
		initial = make([]model.Genome, 0, cfg.PopulationSize)
		for i := 0; i < cfg.PopulationSize; i++ {
			id := fmt.Sprintf("%s-seed-%d", runID, i)
			initial = append(initial, genome.NewRandom(rng, id, categories, cfg.RulesPerCategory, cfg.WildcardBias))
		}
	}

	monitor, err := evo.NewPopulationMonitor(evo.MonitorConfig{
		Evaluator:         evaluator,
		Selector:          cfg.Selector,
		MutationPolicy:    policy,
		CrossoverRate:     cfg.CrossoverRate,
		MutationRate:      cfg.MutationRate,
		MutationsPerChild: cfg.MutationsPerChild,
		PopulationSize:    cfg.PopulationSize,
		EliteCount:        cfg.EliteCount,
		Generations:       cfg.Generations,
		Seed:              cfg.Seed,
		Control:           control,
	})
	if err != nil {
		return RunSummary{}, err
	}

	result, err := monitor.Run(ctx, initial)
	if err != nil {
		return RunSummary{}, err
	}

	top := rankTopGenomes(result.FinalPopulation, topGenomeCount)
	record := model.RunRecord{
		VersionedRecord:   model.CurrentVersions(),
		RunID:             runID,
		CreatedAtUTC:      time.Now().UTC().Format(time.RFC3339),
		GroupID:           group.ID,
		Seed:              cfg.Seed,
		PopulationSize:    cfg.PopulationSize,
		Generations:       cfg.Generations,
		GenerationsRun:    result.GenerationsRun,
		BestFitness:       result.Best.Fitness,
		TerminationReason: result.TerminationReason,
	}
	if err := l.store.SaveRunRecord(ctx, record); err != nil {
		return RunSummary{}, fmt.Errorf("save run record: %w", err)
	}
	if err := l.store.SaveFitnessHistory(ctx, runID, result.BestByGeneration); err != nil {
		return RunSummary{}, fmt.Errorf("save fitness history: %w", err)
	}
	if err := l.store.SaveGenerationDiagnostics(ctx, runID, result.Diagnostics); err != nil {
		return RunSummary{}, fmt.Errorf("save diagnostics: %w", err)
	}
	if err := l.store.SaveTopGenomes(ctx, runID, top); err != nil {
		return RunSummary{}, fmt.Errorf("save top genomes: %w", err)
	}
	if result.Best.Genome.ID != "" {
		best := genome.Clone(result.Best.Genome)
		best.VersionedRecord = model.CurrentVersions()
		if err := l.store.SaveGenome(ctx, best); err != nil {
			return RunSummary{}, fmt.Errorf("save best genome: %w", err)
		}
	}

	return RunSummary{
		RunID:             runID,
		Best:              result.Best,
		BestGeneration:    result.BestGeneration,
		BestByGeneration:  result.BestByGeneration,
		Diagnostics:       result.Diagnostics,
		TopGenomes:        top,
		GenerationsRun:    result.GenerationsRun,
		TerminationReason: result.TerminationReason,
	}, nil
}

func (l *Lab) PauseRun(runID string) error {
	return l.sendRunControl(runID, evo.ControlPause)
}

func (l *Lab) ContinueRun(runID string) error {
	return l.sendRunControl(runID, evo.ControlContinue)
}

func (l *Lab) StopRun(runID string) error {
	return l.sendRunControl(runID, evo.ControlStop)
}

// ActiveRuns lists the ids of runs currently accepting control signals.
func (l *Lab) ActiveRuns() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.runs))
	for id := range l.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (l *Lab) registerRunControl(runID string, control chan evo.ControlSignal) error {
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.started {
		return fmt.Errorf("lab is not initialized")
	}
	if _, exists := l.runs[runID]; exists {
		return fmt.Errorf("run already active: %s", runID)
	}
	l.runs[runID] = control
	return nil
}

func (l *Lab) unregisterRunControl(runID string) {
	if runID == "" {
		return
	}
	l.mu.Lock()
	delete(l.runs, runID)
	l.mu.Unlock()
}

func (l *Lab) sendRunControl(runID string, sig evo.ControlSignal) error {
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	l.mu.RLock()
	control, ok := l.runs[runID]
	l.mu.RUnlock()
	if !ok {
		return fmt.Errorf("run not active: %s", runID)
	}
	select {
	case control <- sig:
		return nil
	default:
		return fmt.Errorf("run control channel is full: %s", runID)
	}
}

func applyRunDefaults(cfg *RunConfig) {
	if cfg.EliteCount <= 0 {
		cfg.EliteCount = defaultEliteCount
	}
	if cfg.EliteCount > cfg.PopulationSize {
		cfg.EliteCount = cfg.PopulationSize
	}
	if cfg.CrossoverRate == 0 {
		cfg.CrossoverRate = defaultCrossoverRate
	}
	switch {
	case cfg.MutationRate == 0:
		cfg.MutationRate = defaultMutationRate
	case cfg.MutationRate < 0:
		cfg.MutationRate = 0
	}
	switch {
	case cfg.MutationsPerChild == 0:
		cfg.MutationsPerChild = defaultMutationsPerChild
	case cfg.MutationsPerChild < 0:
		cfg.MutationsPerChild = 0
	}
	if cfg.WildcardBias <= 0 {
		cfg.WildcardBias = defaultWildcardBias
	}
	if cfg.RulesPerCategory <= 0 {
		cfg.RulesPerCategory = defaultRulesPerCategory
	}
	if cfg.MaxRulesPerCategory <= 0 {
		cfg.MaxRulesPerCategory = defaultMaxRulesPerCategory
	}
}

// corpusCategories collects every category that appears in the group's
// frames, so seeded genomes cover exactly the alphabet the corpus uses.
func corpusCategories(group model.TestCaseGroup) []model.CellCategory {
	seen := make(map[model.CellCategory]struct{})
	for _, tc := range group.Tests {
		for _, frame := range tc.Frames {
			for _, row := range frame {
				for _, cell := range row {
					seen[cell] = struct{}{}
				}
			}
		}
	}
	categories := make([]model.CellCategory, 0, len(seen))
	for cat := range seen {
		categories = append(categories, cat)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })
	if len(categories) == 0 {
		categories = []model.CellCategory{model.Empty}
	}
	return categories
}

func rankTopGenomes(population []evo.ScoredGenome, limit int) []model.TopGenomeRecord {
	ranked := append([]evo.ScoredGenome(nil), population...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Fitness > ranked[j].Fitness })
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	top := make([]model.TopGenomeRecord, 0, len(ranked))
	for i, scored := range ranked {
		g := genome.Clone(scored.Genome)
		g.VersionedRecord = model.CurrentVersions()
		top = append(top, model.TopGenomeRecord{Rank: i + 1, Fitness: scored.Fitness, Genome: g})
	}
	return top
}
