package evo

import (
	"errors"
	"math/rand"
	"testing"

	"ruleforge/internal/genome"
	"ruleforge/internal/model"
)

func TestRegisterAndResolveOperator(t *testing.T) {
	resetOperatorRegistryForTests()
	rng := rand.New(rand.NewSource(31))
	op := &MutateOutcome{Rand: rng}

	if err := RegisterOperator("mutate_outcome", op); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := RegisterOperator("mutate_outcome", op); !errors.Is(err, ErrOperatorExists) {
		t.Fatalf("expected ErrOperatorExists, got %v", err)
	}

	resolved, err := ResolveOperator("mutate_outcome", genome.NewEmpty("g", testCategories))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Name() != "mutate_outcome" {
		t.Fatalf("resolved %q", resolved.Name())
	}

	if _, err := ResolveOperator("missing", model.Genome{}); !errors.Is(err, ErrOperatorNotFound) {
		t.Fatalf("expected ErrOperatorNotFound, got %v", err)
	}
}

func TestRegisterOperatorRejectsVersionMismatch(t *testing.T) {
	resetOperatorRegistryForTests()
	err := RegisterOperatorWithSpec(OperatorSpec{
		Name:          "future_op",
		Operator:      &MutateOutcome{Rand: rand.New(rand.NewSource(32))},
		SchemaVersion: SupportedSchemaVersion + 1,
		CodecVersion:  SupportedCodecVersion,
	})
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
}

func TestResolveOperatorHonorsCompatibility(t *testing.T) {
	resetOperatorRegistryForTests()
	err := RegisterOperatorWithSpec(OperatorSpec{
		Name:          "swap_rule_priority",
		Operator:      &SwapRulePriority{Rand: rand.New(rand.NewSource(33))},
		SchemaVersion: SupportedSchemaVersion,
		CodecVersion:  SupportedCodecVersion,
		Compatible: func(g model.Genome) error {
			if len(g.Categories) == 0 {
				return errors.New("no categories")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := ResolveOperator("swap_rule_priority", model.Genome{}); !errors.Is(err, ErrOperatorIncompatible) {
		t.Fatalf("expected ErrOperatorIncompatible, got %v", err)
	}
	if _, err := ResolveOperator("swap_rule_priority", genome.NewEmpty("g", testCategories)); err != nil {
		t.Fatalf("resolve: %v", err)
	}
}

func TestListOperatorsIsSorted(t *testing.T) {
	resetOperatorRegistryForTests()
	rng := rand.New(rand.NewSource(34))
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := RegisterOperator(name, &MutateOutcome{Rand: rng}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	names := ListOperators()
	want := []string{"alpha", "mid", "zeta"}
	if len(names) != len(want) {
		t.Fatalf("got %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("got %v, want %v", names, want)
		}
	}
}
