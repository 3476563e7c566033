// Package evo runs the genetic search over cellular-automaton rule sets:
// mutation and crossover operators, parent selection, and the generation
// loop that drives them against a fitness evaluator.
package evo

import (
	"context"
	"errors"

	"ruleforge/internal/model"
)

var (
	// ErrRunAborted wraps context cancellation of an evolution run.
	ErrRunAborted = errors.New("evolution run aborted")
	// ErrNoMutationChoice marks an operator that has nothing to act on for
	// this genome. The monitor treats it as a no-op, not a failure.
	ErrNoMutationChoice = errors.New("no mutation choice available")

	errNoRandomSource = errors.New("random source is required")
)

// Operator transforms one genome into a mutated copy. Operators never
// modify their input.
type Operator interface {
	Name() string
	Apply(ctx context.Context, genome model.Genome) (model.Genome, error)
}

// WeightedMutation pairs an operator with its selection weight in the
// monitor's mutation policy.
type WeightedMutation struct {
	Operator Operator
	Weight   float64
}

// categorySet lists the live categories a genome is defined over, in the
// genome's normalized order.
func categorySet(g model.Genome) []model.CellCategory {
	out := make([]model.CellCategory, 0, len(g.Categories))
	for _, cr := range g.Categories {
		out = append(out, cr.Category)
	}
	return out
}
