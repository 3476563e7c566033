// Package kernelgen translates a genome into compute-kernel source for the
// simulation substrate. Compilation is a pure function: identical genomes
// always produce byte-identical source, which the fitness evaluator relies
// on for its kernel cache.
package kernelgen

import (
	"fmt"
	"strings"

	"ruleforge/internal/model"
)

// Compile renders the genome as a single step kernel. Each category with at
// least one rule becomes a branch of an if/else-if chain on the center
// value; inside a branch, rules appear in genome order as guarded emits.
// The trailing emit(c) is the no-change default.
func Compile(g model.Genome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "// generated cellular-automaton step kernel\n")
	fmt.Fprintf(&b, "// categories=%d rules=%d\n", len(g.Categories), g.RuleCount())
	b.WriteString("fn step() {\n")
	b.WriteString("\tlet c = src(0, 0);\n")

	first := true
	for _, cr := range g.Categories {
		if len(cr.Rules) == 0 {
			continue
		}
		if first {
			fmt.Fprintf(&b, "\tif (c == %d) {\n", cr.Category)
			first = false
		} else {
			fmt.Fprintf(&b, "\t} else if (c == %d) {\n", cr.Category)
		}
		for _, rule := range cr.Rules {
			fmt.Fprintf(&b, "\t\tif (%s) { emit(%d); }\n", condition(rule.Pattern), rule.Outcome)
		}
	}
	if !first {
		b.WriteString("\t}\n")
	}
	b.WriteString("\temit(c);\n")
	b.WriteString("}\n")
	return b.String()
}

// condition renders the non-wildcard, non-center slots of a pattern as a
// conjunction of neighborhood reads. An unconstrained pattern renders as
// the constant 1 so the clause still fires unconditionally.
func condition(p model.Pattern) string {
	terms := make([]string, 0, model.PatternSize-1)
	for slot := 0; slot < model.PatternSize; slot++ {
		if slot == model.CenterSlot || p[slot] == model.Wildcard {
			continue
		}
		dx, dy := model.SlotOffset(slot)
		terms = append(terms, fmt.Sprintf("src(%d, %d) == %d", dx, dy, p[slot]))
	}
	if len(terms) == 0 {
		return "1"
	}
	return strings.Join(terms, " && ")
}
