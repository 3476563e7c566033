package evo

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"ruleforge/internal/genome"
	"ruleforge/internal/model"
)

// Evaluator scores one genome against the run's test-case corpus.
type Evaluator interface {
	Evaluate(ctx context.Context, g model.Genome) (model.FitnessReport, error)
}

type ScoredGenome struct {
	Genome  model.Genome
	Fitness float64
	Report  model.FitnessReport
}

// ControlSignal steers a running evolution from outside.
type ControlSignal int

const (
	ControlPause ControlSignal = iota
	ControlContinue
	ControlStop
)

// Termination reasons recorded on a RunResult.
const (
	TerminationExhausted = "exhausted"
	TerminationPerfect   = "perfect_solution"
	TerminationCancelled = "cancelled"
)

type RunResult struct {
	Best              ScoredGenome
	BestGeneration    int
	BestByGeneration  []float64
	Diagnostics       []model.GenerationDiagnostics
	FinalPopulation   []ScoredGenome
	GenerationsRun    int
	TerminationReason string
}

type MonitorConfig struct {
	Evaluator      Evaluator
	Selector       Selector
	MutationPolicy []WeightedMutation
	// CrossoverRate is the probability that an offspring is bred from two
	// parents via union-subset crossover instead of cloning one parent.
	CrossoverRate float64
	// MutationRate is the probability that a bred offspring is mutated at
	// all; zero breeds unmutated copies. MutationsPerChild is how many
	// operators are applied once mutation fires.
	MutationRate      float64
	MutationsPerChild int
	PopulationSize    int
	EliteCount        int
	Generations       int
	Seed              int64
	// Control, when set, is polled between generations for
	// pause/continue/stop signals.
	Control <-chan ControlSignal
}

// PopulationMonitor owns one evolution run: it evaluates the population,
// tracks the best genome under strict improvement, and breeds the next
// generation from elites, selection, crossover and weighted mutation.
type PopulationMonitor struct {
	cfg MonitorConfig
	rng *rand.Rand
}

func NewPopulationMonitor(cfg MonitorConfig) (*PopulationMonitor, error) {
	if cfg.Evaluator == nil {
		return nil, fmt.Errorf("evaluator is required")
	}
	if len(cfg.MutationPolicy) == 0 {
		return nil, fmt.Errorf("mutation policy is required")
	}
	positiveWeight := false
	for i, item := range cfg.MutationPolicy {
		if item.Operator == nil {
			return nil, fmt.Errorf("mutation policy operator is required at index %d", i)
		}
		if item.Weight < 0 {
			return nil, fmt.Errorf("mutation policy weight must be >= 0 at index %d", i)
		}
		if item.Weight > 0 {
			positiveWeight = true
		}
	}
	if !positiveWeight {
		return nil, fmt.Errorf("mutation policy requires at least one positive weight")
	}
	if cfg.PopulationSize <= 0 {
		return nil, fmt.Errorf("population size must be > 0")
	}
	if cfg.EliteCount <= 0 || cfg.EliteCount > cfg.PopulationSize {
		return nil, fmt.Errorf("elite count must be in [1, population size]")
	}
	if cfg.Generations <= 0 {
		return nil, fmt.Errorf("generations must be > 0")
	}
	if cfg.CrossoverRate < 0 || cfg.CrossoverRate > 1 {
		return nil, fmt.Errorf("crossover rate must be in [0, 1]")
	}
	if cfg.MutationRate < 0 || cfg.MutationRate > 1 {
		return nil, fmt.Errorf("mutation rate must be in [0, 1]")
	}
	if cfg.MutationsPerChild < 0 {
		return nil, fmt.Errorf("mutations per child must be >= 0")
	}
	if cfg.Selector == nil {
		cfg.Selector = EliteSelector{}
	}

	return &PopulationMonitor{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

type individual struct {
	genome    model.Genome
	fitness   float64
	report    model.FitnessReport
	evaluated bool
}

// Run drives the generation loop to one of three ends: the generation
// budget is exhausted, a genome reaches the maximum attainable fitness, or
// a stop signal arrives. Context cancellation aborts with ErrRunAborted.
// Elites carry their fitness forward and are never re-evaluated.
func (m *PopulationMonitor) Run(ctx context.Context, initial []model.Genome) (RunResult, error) {
	if len(initial) != m.cfg.PopulationSize {
		return RunResult{}, fmt.Errorf("initial population mismatch: got=%d want=%d", len(initial), m.cfg.PopulationSize)
	}

	population := make([]individual, len(initial))
	for i := range initial {
		population[i] = individual{genome: initial[i]}
	}

	result := RunResult{
		BestByGeneration: make([]float64, 0, m.cfg.Generations),
		Diagnostics:      make([]model.GenerationDiagnostics, 0, m.cfg.Generations),
	}
	haveBest := false

	for gen := 1; gen <= m.cfg.Generations; gen++ {
		stopped, err := m.awaitControl(ctx)
		if err != nil {
			return RunResult{}, err
		}
		if stopped {
			result.TerminationReason = TerminationCancelled
			return result, nil
		}

		for i := range population {
			if population[i].evaluated {
				continue
			}
			if err := ctx.Err(); err != nil {
				return RunResult{}, fmt.Errorf("%w: %v", ErrRunAborted, err)
			}
			report, err := m.cfg.Evaluator.Evaluate(ctx, population[i].genome)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return RunResult{}, fmt.Errorf("%w: %v", ErrRunAborted, err)
				}
				return RunResult{}, fmt.Errorf("evaluating genome %s: %w", population[i].genome.ID, err)
			}
			population[i].fitness = report.Score
			population[i].report = report
			population[i].evaluated = true
		}

		sort.SliceStable(population, func(i, j int) bool {
			return population[i].fitness > population[j].fitness
		})
		ranked := make([]ScoredGenome, len(population))
		for i, ind := range population {
			ranked[i] = ScoredGenome{Genome: ind.genome, Fitness: ind.fitness, Report: ind.report}
		}

		result.BestByGeneration = append(result.BestByGeneration, ranked[0].Fitness)
		result.Diagnostics = append(result.Diagnostics, summarizeGeneration(ranked, gen))
		result.FinalPopulation = ranked
		result.GenerationsRun = gen

		// strict improvement only: ties keep the earlier find
		if !haveBest || ranked[0].Fitness > result.Best.Fitness {
			result.Best = ranked[0]
			result.BestGeneration = gen
			haveBest = true
		}

		if top := ranked[0].Report; top.TotalTransitions > 0 && top.Score >= top.MaxScore() {
			result.TerminationReason = TerminationPerfect
			return result, nil
		}
		if gen == m.cfg.Generations {
			result.TerminationReason = TerminationExhausted
			return result, nil
		}

		population, err = m.breed(ctx, population, ranked, gen)
		if err != nil {
			return RunResult{}, err
		}
	}

	result.TerminationReason = TerminationExhausted
	return result, nil
}

func (m *PopulationMonitor) breed(ctx context.Context, ranked []individual, scored []ScoredGenome, generation int) ([]individual, error) {
	next := make([]individual, 0, m.cfg.PopulationSize)
	next = append(next, ranked[:m.cfg.EliteCount]...)

	crossover := UnionSubsetCrossover{Rand: m.rng}
	for len(next) < m.cfg.PopulationSize {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRunAborted, err)
		}

		parent, err := m.cfg.Selector.PickParent(m.rng, scored, m.cfg.EliteCount)
		if err != nil {
			return nil, err
		}
		childID := fmt.Sprintf("%s-g%d-i%d", parent.ID, generation+1, len(next))

		var child model.Genome
		if m.cfg.CrossoverRate > 0 && m.rng.Float64() < m.cfg.CrossoverRate {
			mate, err := m.cfg.Selector.PickParent(m.rng, scored, m.cfg.EliteCount)
			if err != nil {
				return nil, err
			}
			child, err = crossover.Combine(parent, mate, childID)
			if err != nil {
				return nil, err
			}
		} else {
			child = genome.CloneWithID(parent, childID)
		}

		if m.rng.Float64() < m.cfg.MutationRate {
			for step := 0; step < m.cfg.MutationsPerChild; step++ {
				operator := pickOperator(m.cfg.MutationPolicy, m.rng.Float64())
				mutated, err := operator.Apply(ctx, child)
				if errors.Is(err, ErrNoMutationChoice) {
					continue
				}
				if err != nil {
					return nil, fmt.Errorf("mutation %s: %w", operator.Name(), err)
				}
				child = mutated
			}
		}
		next = append(next, individual{genome: child})
	}
	return next, nil
}

// awaitControl drains pending control signals without blocking; a pause
// blocks until a continue or stop arrives.
func (m *PopulationMonitor) awaitControl(ctx context.Context) (stopped bool, err error) {
	if m.cfg.Control == nil {
		return false, nil
	}
	for {
		select {
		case sig, ok := <-m.cfg.Control:
			if !ok {
				return false, nil
			}
			switch sig {
			case ControlStop:
				return true, nil
			case ControlPause:
				if stopped, err := m.awaitResume(ctx); stopped || err != nil {
					return stopped, err
				}
			}
		case <-ctx.Done():
			return false, fmt.Errorf("%w: %v", ErrRunAborted, ctx.Err())
		default:
			return false, nil
		}
	}
}

func (m *PopulationMonitor) awaitResume(ctx context.Context) (bool, error) {
	for {
		select {
		case sig, ok := <-m.cfg.Control:
			if !ok {
				return false, nil
			}
			switch sig {
			case ControlStop:
				return true, nil
			case ControlContinue:
				return false, nil
			}
		case <-ctx.Done():
			return false, fmt.Errorf("%w: %v", ErrRunAborted, ctx.Err())
		}
	}
}

func summarizeGeneration(ranked []ScoredGenome, generation int) model.GenerationDiagnostics {
	if len(ranked) == 0 {
		return model.GenerationDiagnostics{Generation: generation}
	}

	total := 0.0
	rules := 0
	minFitness := ranked[0].Fitness
	fingerprints := make(map[string]struct{}, len(ranked))
	for _, item := range ranked {
		total += item.Fitness
		rules += item.Genome.RuleCount()
		if item.Fitness < minFitness {
			minFitness = item.Fitness
		}
		fingerprints[genome.Signature(item.Genome)] = struct{}{}
	}

	return model.GenerationDiagnostics{
		Generation:           generation,
		BestFitness:          ranked[0].Fitness,
		MeanFitness:          total / float64(len(ranked)),
		MinFitness:           minFitness,
		FingerprintDiversity: len(fingerprints),
		MeanRuleCount:        float64(rules) / float64(len(ranked)),
	}
}

// pickOperator maps a roll in [0, 1) onto the policy's positive-weight
// entries; zero-weight operators are never selected.
func pickOperator(policy []WeightedMutation, roll float64) Operator {
	total := 0.0
	for _, item := range policy {
		if item.Weight > 0 {
			total += item.Weight
		}
	}
	target := roll * total
	acc := 0.0
	var chosen Operator
	for _, item := range policy {
		if item.Weight <= 0 {
			continue
		}
		acc += item.Weight
		chosen = item.Operator
		if target < acc {
			break
		}
	}
	return chosen
}
