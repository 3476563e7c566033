package evo

import (
	"errors"
	"math/rand"

	"ruleforge/internal/genome"
	"ruleforge/internal/model"
)

// UnionSubsetCrossover recombines two parents category by category: the
// child inherits a random 50-100% subset of the union of both rule lists,
// in shuffled priority order. Exact duplicate rules collapse to one copy
// before sampling.
type UnionSubsetCrossover struct {
	Rand *rand.Rand
}

func (c UnionSubsetCrossover) Name() string {
	return "union_subset_crossover"
}

func (c UnionSubsetCrossover) Combine(a, b model.Genome, childID string) (model.Genome, error) {
	if c.Rand == nil {
		return model.Genome{}, errNoRandomSource
	}
	if len(a.Categories) == 0 && len(b.Categories) == 0 {
		return model.Genome{}, errors.New("crossover requires at least one categorized parent")
	}

	byCategory := map[model.CellCategory][]model.Rule{}
	order := make([]model.CellCategory, 0, len(a.Categories)+len(b.Categories))
	collect := func(g model.Genome) {
		for _, cr := range g.Categories {
			if _, seen := byCategory[cr.Category]; !seen {
				order = append(order, cr.Category)
				byCategory[cr.Category] = nil
			}
			byCategory[cr.Category] = append(byCategory[cr.Category], cr.Rules...)
		}
	}
	collect(a)
	collect(b)

	child := model.Genome{VersionedRecord: a.VersionedRecord, ID: childID}
	for _, category := range order {
		union := dedupeRules(byCategory[category])
		child.Categories = append(child.Categories, model.CategoryRules{
			Category: category,
			Rules:    c.sampleSubset(union),
		})
	}
	genome.Normalize(&child)
	return child, nil
}

func dedupeRules(rules []model.Rule) []model.Rule {
	out := make([]model.Rule, 0, len(rules))
	seen := make(map[model.Rule]struct{}, len(rules))
	for _, rule := range rules {
		if _, dup := seen[rule]; dup {
			continue
		}
		seen[rule] = struct{}{}
		out = append(out, rule)
	}
	return out
}

func (c UnionSubsetCrossover) sampleSubset(union []model.Rule) []model.Rule {
	if len(union) == 0 {
		return nil
	}
	min := (len(union) + 1) / 2
	keep := min + c.Rand.Intn(len(union)-min+1)
	perm := c.Rand.Perm(len(union))
	out := make([]model.Rule, 0, keep)
	for _, idx := range perm[:keep] {
		out = append(out, union[idx])
	}
	return out
}
