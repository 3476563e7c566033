// Package ruleforge is the public facade over the rule-search engine:
// corpus import, evolution runs, run inspection and run control behind one
// Client.
package ruleforge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"ruleforge/internal/corpus"
	"ruleforge/internal/evo"
	"ruleforge/internal/genome"
	"ruleforge/internal/model"
	"ruleforge/internal/platform"
	"ruleforge/internal/storage"
	"ruleforge/internal/substrate"
)

const (
	defaultDBPath       = "ruleforge.db"
	defaultExportsDir   = "exports"
	defaultPopulation   = 50
	defaultGenerations  = 100
	defaultOperatorSeed = 1
)

type Options struct {
	StoreKind string
	DBPath    string
	// Device runs the generated kernels; nil selects an in-process CPU
	// device built from Workers and MaxCells.
	Device   substrate.Device
	Workers  int
	MaxCells int
	// OperatorSeed feeds the shared random source behind the operators
	// published in the operator registry.
	OperatorSeed int64
}

type Client struct {
	store  storage.Store
	device substrate.Device
	lab    *platform.Lab

	operatorSeed int64
}

type RunRequest struct {
	GroupID       string
	RunID         string
	Population    int
	Generations   int
	Seed          int64
	Spacing       int
	EliteCount    int
	CrossoverRate float64
	// MutationRate is the probability a bred offspring is mutated; zero
	// keeps the default of always mutating, negative disables mutation.
	MutationRate        float64
	MutationsPerChild   int
	WildcardBias        float64
	RulesPerCategory    int
	MaxRulesPerCategory int
	Selection           string
	// TournamentPool narrows tournament selection to the fittest N genomes
	// (zero draws from the whole population); TournamentSize is the number
	// of candidates per tournament (zero uses the default of 3).
	TournamentPool int
	TournamentSize int
	// Operators names registry entries to use as the mutation policy;
	// empty keeps the default weighted mix.
	Operators []string
}

type RunSummary struct {
	RunID             string
	GroupID           string
	BestGenomeID      string
	BestFitness       float64
	BestGeneration    int
	BestByGeneration  []float64
	GenerationsRun    int
	TerminationReason string
}

type GroupSummary struct {
	GroupID     string
	Name        string
	Cases       int
	Transitions int
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID             string
	CreatedAtUTC      string
	GroupID           string
	Seed              int64
	Population        int
	Generations       int
	GenerationsRun    int
	BestFitness       float64
	TerminationReason string
}

type FitnessHistoryRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type DiagnosticsRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type TopGenomesRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	store, err := storage.NewStore(opts.StoreKind, dbPath)
	if err != nil {
		return nil, err
	}
	device := opts.Device
	if device == nil {
		device = substrate.NewCPUDevice(substrate.CPUOptions{
			Workers:  opts.Workers,
			MaxCells: opts.MaxCells,
		})
	}
	operatorSeed := opts.OperatorSeed
	if operatorSeed == 0 {
		operatorSeed = defaultOperatorSeed
	}
	return &Client{
		store:        store,
		device:       device,
		operatorSeed: operatorSeed,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	_, err := c.ensureLab(ctx)
	return err
}

// Start initializes the Lab and publishes the default mutation operators in
// the operator registry so runs can name them.
func (c *Client) Start(ctx context.Context) error {
	if _, err := c.ensureLab(ctx); err != nil {
		return err
	}
	return registerDefaultOperators(rand.New(rand.NewSource(c.operatorSeed)))
}

// Operators lists the registry entries available to RunRequest.Operators.
func (c *Client) Operators() []string {
	return evo.ListOperators()
}

// ImportCorpus loads a JSON test-case group from disk, validates it and
// persists it under its (possibly freshly generated) group id.
func (c *Client) ImportCorpus(ctx context.Context, path string) (GroupSummary, error) {
	group, err := corpus.LoadGroup(path)
	if err != nil {
		return GroupSummary{}, err
	}
	if _, err := c.ensureLab(ctx); err != nil {
		return GroupSummary{}, err
	}
	if err := c.store.SaveTestCaseGroup(ctx, group); err != nil {
		return GroupSummary{}, err
	}
	return summarizeGroup(group), nil
}

// DeleteCorpus removes a stored test-case group; runs already recorded
// against it are kept.
func (c *Client) DeleteCorpus(ctx context.Context, groupID string) error {
	if groupID == "" {
		return errors.New("group id is required")
	}
	if _, err := c.ensureLab(ctx); err != nil {
		return err
	}
	_, ok, err := c.store.GetTestCaseGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("test case group not found: %s", groupID)
	}
	return c.store.DeleteTestCaseGroup(ctx, groupID)
}

// Genome fetches a persisted genome by id, typically a run's best.
func (c *Client) Genome(ctx context.Context, id string) (model.Genome, error) {
	if id == "" {
		return model.Genome{}, errors.New("genome id is required")
	}
	if _, err := c.ensureLab(ctx); err != nil {
		return model.Genome{}, err
	}
	g, ok, err := c.store.GetGenome(ctx, id)
	if err != nil {
		return model.Genome{}, err
	}
	if !ok {
		return model.Genome{}, fmt.Errorf("genome not found: %s", id)
	}
	return genome.Clone(g), nil
}

// Groups lists the stored test-case groups, sorted by name.
func (c *Client) Groups(ctx context.Context) ([]GroupSummary, error) {
	if _, err := c.ensureLab(ctx); err != nil {
		return nil, err
	}
	groups, err := c.store.ListTestCaseGroups(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]GroupSummary, 0, len(groups))
	for _, group := range groups {
		items = append(items, summarizeGroup(group))
	}
	return items, nil
}

func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	if req.GroupID == "" {
		return RunSummary{}, errors.New("group id is required")
	}
	if req.Population <= 0 {
		req.Population = defaultPopulation
	}
	if req.Generations <= 0 {
		req.Generations = defaultGenerations
	}
	if req.Selection == "" {
		req.Selection = "elite"
	}
	selector, err := selectionFromRequest(req)
	if err != nil {
		return RunSummary{}, err
	}

	lab, err := c.ensureLab(ctx)
	if err != nil {
		return RunSummary{}, err
	}

	var policy []evo.WeightedMutation
	if len(req.Operators) > 0 {
		policy, err = policyFromOperatorNames(req.Operators)
		if err != nil {
			return RunSummary{}, err
		}
	}

	summary, err := lab.RunEvolution(ctx, platform.RunConfig{
		RunID:               req.RunID,
		GroupID:             req.GroupID,
		Spacing:             req.Spacing,
		PopulationSize:      req.Population,
		Generations:         req.Generations,
		EliteCount:          req.EliteCount,
		CrossoverRate:       req.CrossoverRate,
		MutationRate:        req.MutationRate,
		MutationsPerChild:   req.MutationsPerChild,
		Seed:                req.Seed,
		WildcardBias:        req.WildcardBias,
		RulesPerCategory:    req.RulesPerCategory,
		MaxRulesPerCategory: req.MaxRulesPerCategory,
		MutationPolicy:      policy,
		Selector:            selector,
	})
	if err != nil {
		return RunSummary{}, err
	}

	return RunSummary{
		RunID:             summary.RunID,
		GroupID:           req.GroupID,
		BestGenomeID:      summary.Best.Genome.ID,
		BestFitness:       summary.Best.Fitness,
		BestGeneration:    summary.BestGeneration,
		BestByGeneration:  summary.BestByGeneration,
		GenerationsRun:    summary.GenerationsRun,
		TerminationReason: summary.TerminationReason,
	}, nil
}

// Runs lists finished runs, newest first.
func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	if _, err := c.ensureLab(ctx); err != nil {
		return nil, err
	}
	records, err := c.store.ListRunRecords(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]RunItem, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		record := records[i]
		items = append(items, RunItem{
			RunID:             record.RunID,
			CreatedAtUTC:      record.CreatedAtUTC,
			GroupID:           record.GroupID,
			Seed:              record.Seed,
			Population:        record.PopulationSize,
			Generations:       record.Generations,
			GenerationsRun:    record.GenerationsRun,
			BestFitness:       record.BestFitness,
			TerminationReason: record.TerminationReason,
		})
		if req.Limit > 0 && len(items) == req.Limit {
			break
		}
	}
	return items, nil
}

func (c *Client) FitnessHistory(ctx context.Context, req FitnessHistoryRequest) ([]float64, error) {
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest, req.Limit)
	if err != nil {
		return nil, err
	}
	history, ok, err := c.store.GetFitnessHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("fitness history not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(history) > req.Limit {
		history = history[:req.Limit]
	}
	return append([]float64(nil), history...), nil
}

func (c *Client) Diagnostics(ctx context.Context, req DiagnosticsRequest) ([]model.GenerationDiagnostics, error) {
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest, req.Limit)
	if err != nil {
		return nil, err
	}
	diagnostics, ok, err := c.store.GetGenerationDiagnostics(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("diagnostics not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(diagnostics) > req.Limit {
		diagnostics = diagnostics[:req.Limit]
	}
	out := make([]model.GenerationDiagnostics, len(diagnostics))
	copy(out, diagnostics)
	return out, nil
}

func (c *Client) TopGenomes(ctx context.Context, req TopGenomesRequest) ([]model.TopGenomeRecord, error) {
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest, req.Limit)
	if err != nil {
		return nil, err
	}
	top, ok, err := c.store.GetTopGenomes(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("top genomes not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(top) > req.Limit {
		top = top[:req.Limit]
	}
	out := make([]model.TopGenomeRecord, len(top))
	copy(out, top)
	return out, nil
}

// Export writes a run's persisted artifacts as indented JSON files under
// <out-dir>/<run-id>/.
func (c *Client) Export(ctx context.Context, req ExportRequest) (ExportSummary, error) {
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest, 0)
	if err != nil {
		return ExportSummary{}, err
	}
	outDir := req.OutDir
	if outDir == "" {
		outDir = defaultExportsDir
	}

	record, ok, err := c.store.GetRunRecord(ctx, runID)
	if err != nil {
		return ExportSummary{}, err
	}
	if !ok {
		return ExportSummary{}, fmt.Errorf("run record not found for run id: %s", runID)
	}

	dir := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ExportSummary{}, err
	}
	if err := writeJSONArtifact(filepath.Join(dir, "run.json"), record); err != nil {
		return ExportSummary{}, err
	}
	if history, ok, err := c.store.GetFitnessHistory(ctx, runID); err != nil {
		return ExportSummary{}, err
	} else if ok {
		if err := writeJSONArtifact(filepath.Join(dir, "fitness_history.json"), history); err != nil {
			return ExportSummary{}, err
		}
	}
	if diagnostics, ok, err := c.store.GetGenerationDiagnostics(ctx, runID); err != nil {
		return ExportSummary{}, err
	} else if ok {
		if err := writeJSONArtifact(filepath.Join(dir, "generation_diagnostics.json"), diagnostics); err != nil {
			return ExportSummary{}, err
		}
	}
	if top, ok, err := c.store.GetTopGenomes(ctx, runID); err != nil {
		return ExportSummary{}, err
	} else if ok {
		if err := writeJSONArtifact(filepath.Join(dir, "top_genomes.json"), top); err != nil {
			return ExportSummary{}, err
		}
	}

	return ExportSummary{RunID: runID, Directory: dir}, nil
}

func writeJSONArtifact(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func (c *Client) PauseRun(ctx context.Context, runID string) error {
	lab, err := c.ensureLab(ctx)
	if err != nil {
		return err
	}
	return lab.PauseRun(runID)
}

func (c *Client) ContinueRun(ctx context.Context, runID string) error {
	lab, err := c.ensureLab(ctx)
	if err != nil {
		return err
	}
	return lab.ContinueRun(runID)
}

func (c *Client) StopRun(ctx context.Context, runID string) error {
	lab, err := c.ensureLab(ctx)
	if err != nil {
		return err
	}
	return lab.StopRun(runID)
}

// resolveRunID maps the run-id/latest request pair to a concrete run id,
// where latest means the most recently created run record.
func (c *Client) resolveRunID(ctx context.Context, runID string, latest bool, limit int) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if limit < 0 {
		return "", errors.New("limit must be >= 0")
	}
	if _, err := c.ensureLab(ctx); err != nil {
		return "", err
	}
	if latest {
		records, err := c.store.ListRunRecords(ctx)
		if err != nil {
			return "", err
		}
		if len(records) == 0 {
			return "", errors.New("no runs available")
		}
		return records[len(records)-1].RunID, nil
	}
	if runID == "" {
		return "", errors.New("run id or latest is required")
	}
	return runID, nil
}

func (c *Client) ensureLab(ctx context.Context) (*platform.Lab, error) {
	if c.lab != nil {
		return c.lab, nil
	}
	lab := platform.NewLab(platform.Config{Store: c.store, Device: c.device})
	if err := lab.Init(ctx); err != nil {
		return nil, err
	}
	c.lab = lab
	return c.lab, nil
}

func summarizeGroup(group model.TestCaseGroup) GroupSummary {
	transitions := 0
	for _, tc := range group.Tests {
		transitions += tc.Transitions()
	}
	return GroupSummary{
		GroupID:     group.ID,
		Name:        group.Name,
		Cases:       len(group.Tests),
		Transitions: transitions,
	}
}

func selectionFromRequest(req RunRequest) (evo.Selector, error) {
	switch req.Selection {
	case "elite":
		return evo.EliteSelector{}, nil
	case "tournament":
		return evo.TournamentSelector{
			PoolSize:       req.TournamentPool,
			TournamentSize: req.TournamentSize,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported selection: %s", req.Selection)
	}
}

// defaultOperatorWeights mirrors the weighting of the built-in mutation mix
// for runs that name operators individually.
var defaultOperatorWeights = map[string]float64{
	"mutate_pattern_slot": 4,
	"mutate_outcome":      2,
	"append_random_rule":  2,
	"delete_random_rule":  1,
	"swap_rule_priority":  1,
}

func registerDefaultOperators(rng *rand.Rand) error {
	ops := []evo.Operator{
		&evo.MutatePatternSlot{Rand: rng, WildcardBias: 0.5},
		&evo.MutateOutcome{Rand: rng},
		&evo.AppendRandomRule{Rand: rng, WildcardBias: 0.5, MaxRulesPerCategory: 8},
		&evo.DeleteRandomRule{Rand: rng},
		&evo.SwapRulePriority{Rand: rng},
	}
	for _, op := range ops {
		if err := evo.RegisterOperator(op.Name(), op); err != nil && !errors.Is(err, evo.ErrOperatorExists) {
			return err
		}
	}
	return nil
}

func policyFromOperatorNames(names []string) ([]evo.WeightedMutation, error) {
	template := model.Genome{VersionedRecord: model.CurrentVersions(), ID: "operator-template"}
	policy := make([]evo.WeightedMutation, 0, len(names))
	for _, name := range names {
		op, err := evo.ResolveOperator(name, template)
		if err != nil {
			return nil, err
		}
		weight, ok := defaultOperatorWeights[name]
		if !ok {
			weight = 1
		}
		policy = append(policy, evo.WeightedMutation{Operator: op, Weight: weight})
	}
	return policy, nil
}
