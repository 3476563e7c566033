// Package storage persists the artifacts of rule evolution: genomes,
// test-case groups, run records, fitness history, generation diagnostics
// and ranked top genomes.
package storage

import (
	"context"

	"ruleforge/internal/model"
)

// Store defines the persistence operations shared by all backends. Lookups
// report absence through the bool, not an error.
type Store interface {
	Init(ctx context.Context) error
	SaveGenome(ctx context.Context, genome model.Genome) error
	GetGenome(ctx context.Context, id string) (model.Genome, bool, error)
	SaveTestCaseGroup(ctx context.Context, group model.TestCaseGroup) error
	GetTestCaseGroup(ctx context.Context, id string) (model.TestCaseGroup, bool, error)
	ListTestCaseGroups(ctx context.Context) ([]model.TestCaseGroup, error)
	DeleteTestCaseGroup(ctx context.Context, id string) error
	SaveRunRecord(ctx context.Context, record model.RunRecord) error
	GetRunRecord(ctx context.Context, runID string) (model.RunRecord, bool, error)
	ListRunRecords(ctx context.Context) ([]model.RunRecord, error)
	SaveFitnessHistory(ctx context.Context, runID string, history []float64) error
	GetFitnessHistory(ctx context.Context, runID string) ([]float64, bool, error)
	SaveGenerationDiagnostics(ctx context.Context, runID string, diagnostics []model.GenerationDiagnostics) error
	GetGenerationDiagnostics(ctx context.Context, runID string) ([]model.GenerationDiagnostics, bool, error)
	SaveTopGenomes(ctx context.Context, runID string, top []model.TopGenomeRecord) error
	GetTopGenomes(ctx context.Context, runID string) ([]model.TopGenomeRecord, bool, error)
}
