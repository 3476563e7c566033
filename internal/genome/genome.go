package genome

import (
	"math/rand"
	"sort"

	"ruleforge/internal/model"
)

// Matches reports whether a rule applies to the observed neighborhood.
// The center slot is pinned: it must equal centerValue exactly (a wildcard
// center never belongs to a category-scoped rule list, but is tolerated
// here and treated as a mismatch guard). Every other non-wildcard slot must
// equal the corresponding neighbor.
func Matches(rule model.Rule, centerValue model.CellCategory, neighbors [8]model.CellCategory) bool {
	if rule.Pattern[model.CenterSlot] != centerValue {
		return false
	}
	n := 0
	for slot := 0; slot < model.PatternSize; slot++ {
		if slot == model.CenterSlot {
			continue
		}
		want := rule.Pattern[slot]
		if want != model.Wildcard && want != neighbors[n] {
			return false
		}
		n++
	}
	return true
}

// EvaluateCell scans the category's rule list in order and returns the first
// matching rule's outcome. When no rule matches, the cell is unchanged.
// This first-match-wins, default-no-op policy is the reference semantics
// the compiled kernel must reproduce.
func EvaluateCell(g model.Genome, category model.CellCategory, neighbors [8]model.CellCategory) model.CellCategory {
	for _, rule := range g.RulesFor(category) {
		if Matches(rule, category, neighbors) {
			return rule.Outcome
		}
	}
	return category
}

// Clone returns a structural deep copy. Mutating the clone never affects
// the original: rule slices are copied, patterns are value types.
func Clone(g model.Genome) model.Genome {
	out := g
	out.Categories = make([]model.CategoryRules, len(g.Categories))
	for i, cr := range g.Categories {
		out.Categories[i] = model.CategoryRules{
			Category: cr.Category,
			Rules:    append([]model.Rule(nil), cr.Rules...),
		}
	}
	return out
}

// CloneWithID deep-copies a genome under a new identity.
func CloneWithID(g model.Genome, id string) model.Genome {
	out := Clone(g)
	out.ID = id
	return out
}

// Normalize sorts the category lists ascending so that equal rule sets
// serialize and compile identically.
func Normalize(g *model.Genome) {
	sort.Slice(g.Categories, func(i, j int) bool {
		return g.Categories[i].Category < g.Categories[j].Category
	})
}

// RandomPattern builds a pattern pinned to the given category. Non-center
// slots are wildcards with probability wildcardBias, otherwise a uniform
// live category.
func RandomPattern(rng *rand.Rand, category model.CellCategory, categories []model.CellCategory, wildcardBias float64) model.Pattern {
	var p model.Pattern
	for slot := 0; slot < model.PatternSize; slot++ {
		if slot == model.CenterSlot {
			p[slot] = category
			continue
		}
		if rng.Float64() < wildcardBias {
			p[slot] = model.Wildcard
			continue
		}
		p[slot] = categories[rng.Intn(len(categories))]
	}
	return p
}

// RandomRule builds one rule for the given category with a random outcome.
func RandomRule(rng *rand.Rand, category model.CellCategory, categories []model.CellCategory, wildcardBias float64) model.Rule {
	return model.Rule{
		Pattern: RandomPattern(rng, category, categories, wildcardBias),
		Outcome: categories[rng.Intn(len(categories))],
	}
}

// NewRandom seeds a genome with rulesPerCategory random rules for every
// live category. Used to avoid a degenerate all-empty initial population.
func NewRandom(rng *rand.Rand, id string, categories []model.CellCategory, rulesPerCategory int, wildcardBias float64) model.Genome {
	g := model.Genome{ID: id}
	for _, category := range categories {
		rules := make([]model.Rule, 0, rulesPerCategory)
		for i := 0; i < rulesPerCategory; i++ {
			rules = append(rules, RandomRule(rng, category, categories, wildcardBias))
		}
		g.Categories = append(g.Categories, model.CategoryRules{Category: category, Rules: rules})
	}
	Normalize(&g)
	return g
}

// NewEmpty builds a genome with an empty rule list per category; every cell
// is a no-op until mutation adds rules.
func NewEmpty(id string, categories []model.CellCategory) model.Genome {
	g := model.Genome{ID: id}
	for _, category := range categories {
		g.Categories = append(g.Categories, model.CategoryRules{Category: category})
	}
	Normalize(&g)
	return g
}
