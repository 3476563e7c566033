package evo

import (
	"context"
	"math/rand"

	"ruleforge/internal/genome"
	"ruleforge/internal/model"
)

// ruleLocation addresses one rule inside a genome.
type ruleLocation struct {
	categoryIdx int
	ruleIdx     int
}

// pickRule chooses a rule uniformly across all categories.
func pickRule(rng *rand.Rand, g model.Genome) (ruleLocation, bool) {
	total := g.RuleCount()
	if total == 0 {
		return ruleLocation{}, false
	}
	n := rng.Intn(total)
	for i, cr := range g.Categories {
		if n < len(cr.Rules) {
			return ruleLocation{categoryIdx: i, ruleIdx: n}, true
		}
		n -= len(cr.Rules)
	}
	return ruleLocation{}, false
}

// MutatePatternSlot rewrites one non-center slot of a random rule, either
// to a wildcard (with probability WildcardBias) or to a random category.
type MutatePatternSlot struct {
	Rand         *rand.Rand
	WildcardBias float64
}

func (o *MutatePatternSlot) Name() string {
	return "mutate_pattern_slot"
}

func (o *MutatePatternSlot) Apply(_ context.Context, g model.Genome) (model.Genome, error) {
	if o == nil || o.Rand == nil {
		return model.Genome{}, errNoRandomSource
	}
	loc, ok := pickRule(o.Rand, g)
	if !ok {
		return model.Genome{}, ErrNoMutationChoice
	}

	slot := o.Rand.Intn(model.PatternSize - 1)
	if slot >= model.CenterSlot {
		slot++ // the center slot is pinned to the category
	}
	categories := categorySet(g)
	value := model.Wildcard
	if o.Rand.Float64() >= o.WildcardBias {
		value = categories[o.Rand.Intn(len(categories))]
	}

	mutated := genome.Clone(g)
	mutated.Categories[loc.categoryIdx].Rules[loc.ruleIdx].Pattern[slot] = value
	return mutated, nil
}

// MutateOutcome replaces a random rule's outcome with a random category.
type MutateOutcome struct {
	Rand *rand.Rand
}

func (o *MutateOutcome) Name() string {
	return "mutate_outcome"
}

func (o *MutateOutcome) Apply(_ context.Context, g model.Genome) (model.Genome, error) {
	if o == nil || o.Rand == nil {
		return model.Genome{}, errNoRandomSource
	}
	loc, ok := pickRule(o.Rand, g)
	if !ok {
		return model.Genome{}, ErrNoMutationChoice
	}
	categories := categorySet(g)

	mutated := genome.Clone(g)
	mutated.Categories[loc.categoryIdx].Rules[loc.ruleIdx].Outcome = categories[o.Rand.Intn(len(categories))]
	return mutated, nil
}

// AppendRandomRule adds one random rule to the end of a random category's
// list, where it has the lowest match priority. MaxRulesPerCategory caps
// genome growth; 0 means unbounded.
type AppendRandomRule struct {
	Rand                *rand.Rand
	WildcardBias        float64
	MaxRulesPerCategory int
}

func (o *AppendRandomRule) Name() string {
	return "append_random_rule"
}

func (o *AppendRandomRule) Apply(_ context.Context, g model.Genome) (model.Genome, error) {
	if o == nil || o.Rand == nil {
		return model.Genome{}, errNoRandomSource
	}
	if len(g.Categories) == 0 {
		return model.Genome{}, ErrNoMutationChoice
	}

	open := make([]int, 0, len(g.Categories))
	for i, cr := range g.Categories {
		if o.MaxRulesPerCategory > 0 && len(cr.Rules) >= o.MaxRulesPerCategory {
			continue
		}
		open = append(open, i)
	}
	if len(open) == 0 {
		return model.Genome{}, ErrNoMutationChoice
	}
	idx := open[o.Rand.Intn(len(open))]
	categories := categorySet(g)

	mutated := genome.Clone(g)
	rule := genome.RandomRule(o.Rand, mutated.Categories[idx].Category, categories, o.WildcardBias)
	mutated.Categories[idx].Rules = append(mutated.Categories[idx].Rules, rule)
	return mutated, nil
}

// DeleteRandomRule removes a random rule. Deleting a category's last rule
// is allowed: the category then defaults to no-op.
type DeleteRandomRule struct {
	Rand *rand.Rand
}

func (o *DeleteRandomRule) Name() string {
	return "delete_random_rule"
}

func (o *DeleteRandomRule) Apply(_ context.Context, g model.Genome) (model.Genome, error) {
	if o == nil || o.Rand == nil {
		return model.Genome{}, errNoRandomSource
	}
	loc, ok := pickRule(o.Rand, g)
	if !ok {
		return model.Genome{}, ErrNoMutationChoice
	}

	mutated := genome.Clone(g)
	rules := mutated.Categories[loc.categoryIdx].Rules
	mutated.Categories[loc.categoryIdx].Rules = append(rules[:loc.ruleIdx], rules[loc.ruleIdx+1:]...)
	return mutated, nil
}

// SwapRulePriority exchanges two rules within one category, changing which
// wins under first-match-wins evaluation.
type SwapRulePriority struct {
	Rand *rand.Rand
}

func (o *SwapRulePriority) Name() string {
	return "swap_rule_priority"
}

func (o *SwapRulePriority) Apply(_ context.Context, g model.Genome) (model.Genome, error) {
	if o == nil || o.Rand == nil {
		return model.Genome{}, errNoRandomSource
	}
	candidates := make([]int, 0, len(g.Categories))
	for i, cr := range g.Categories {
		if len(cr.Rules) >= 2 {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return model.Genome{}, ErrNoMutationChoice
	}
	idx := candidates[o.Rand.Intn(len(candidates))]

	mutated := genome.Clone(g)
	rules := mutated.Categories[idx].Rules
	i := o.Rand.Intn(len(rules))
	j := o.Rand.Intn(len(rules) - 1)
	if j >= i {
		j++
	}
	rules[i], rules[j] = rules[j], rules[i]
	return mutated, nil
}

// DefaultMutationPolicy is the weighted operator mix used when a run does
// not configure its own.
func DefaultMutationPolicy(rng *rand.Rand, wildcardBias float64, maxRulesPerCategory int) []WeightedMutation {
	return []WeightedMutation{
		{Operator: &MutatePatternSlot{Rand: rng, WildcardBias: wildcardBias}, Weight: 4},
		{Operator: &MutateOutcome{Rand: rng}, Weight: 2},
		{Operator: &AppendRandomRule{Rand: rng, WildcardBias: wildcardBias, MaxRulesPerCategory: maxRulesPerCategory}, Weight: 2},
		{Operator: &DeleteRandomRule{Rand: rng}, Weight: 1},
		{Operator: &SwapRulePriority{Rand: rng}, Weight: 1},
	}
}
