package model

import "fmt"

// Current persistence versions. Stored records carry both so that readers
// can reject data written by an incompatible build.
const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// CurrentVersions returns the versions stamped on newly created records.
func CurrentVersions() VersionedRecord {
	return VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

// CellCategory tags one automaton cell state. Live categories are small
// non-negative values; Wildcard is reserved for patterns and never appears
// in a simulated grid.
type CellCategory uint8

const (
	Empty    CellCategory = 0
	Wildcard CellCategory = 255
)

// PatternSize is the number of slots in a Moore-neighborhood pattern:
// NW, N, NE, W, center, E, SW, S, SE.
const PatternSize = 9

// CenterSlot is the pattern index addressing the cell itself. Within a
// category's rule list the center slot is pinned to that category.
const CenterSlot = 4

// Pattern is a 3x3 neighborhood template. Wildcard slots match any value.
type Pattern [PatternSize]CellCategory

// SlotOffset maps a pattern slot index to its (dx, dy) neighborhood offset.
func SlotOffset(slot int) (dx, dy int) {
	return slot%3 - 1, slot/3 - 1
}

// Rule maps one neighborhood pattern to an outcome category.
type Rule struct {
	Pattern Pattern      `json:"pattern"`
	Outcome CellCategory `json:"outcome"`
}

// CategoryRules is the ordered rule list for a single cell category.
// Ordering is significant: the first matching rule wins.
type CategoryRules struct {
	Category CellCategory `json:"category"`
	Rules    []Rule       `json:"rules"`
}

// Genome is the full evolvable rule set for a candidate automaton. The
// Categories slice is kept sorted ascending by category so that identical
// genomes serialize and compile identically.
type Genome struct {
	VersionedRecord
	ID         string          `json:"id"`
	Categories []CategoryRules `json:"categories"`
}

// RulesFor returns the ordered rule list for a category, or nil when the
// genome carries no rules for it.
func (g Genome) RulesFor(category CellCategory) []Rule {
	for _, cr := range g.Categories {
		if cr.Category == category {
			return cr.Rules
		}
	}
	return nil
}

// RuleCount reports the total number of rules across all categories.
func (g Genome) RuleCount() int {
	total := 0
	for _, cr := range g.Categories {
		total += len(cr.Rules)
	}
	return total
}

// TestCase is one observed state sequence. Frames[0] is the initial state;
// Frames[i] is the expected state after i steps. Frames are row-major:
// Frames[i][y][x].
type TestCase struct {
	ID     string             `json:"id"`
	Name   string             `json:"name"`
	Width  int                `json:"width"`
	Height int                `json:"height"`
	Frames [][][]CellCategory `json:"frames"`
}

// Transitions reports the number of frame steps the case checks.
func (tc TestCase) Transitions() int {
	if len(tc.Frames) == 0 {
		return 0
	}
	return len(tc.Frames) - 1
}

// TestCaseGroup is a named corpus of test cases evaluated together.
type TestCaseGroup struct {
	VersionedRecord
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Tests       []TestCase `json:"tests"`
}

// DimensionError reports a test case whose declared dimensions disagree
// with its frame data. It is fatal to starting a run.
type DimensionError struct {
	CaseID string
	Reason string
}

func (e *DimensionError) Error() string {
	if e.CaseID == "" {
		return fmt.Sprintf("test case dimension mismatch: %s", e.Reason)
	}
	return fmt.Sprintf("test case %s dimension mismatch: %s", e.CaseID, e.Reason)
}

// CaseResult is the per-case detail of one fitness evaluation.
type CaseResult struct {
	CaseID             string `json:"case_id"`
	Name               string `json:"name,omitempty"`
	CorrectTransitions int    `json:"correct_transitions"`
	TotalTransitions   int    `json:"total_transitions"`
	Passed             bool   `json:"passed"`
}

// FitnessReport is the outcome of scoring one genome against a corpus.
// Score = CorrectTransitions + PassedCases*(TotalTransitions/TotalCases).
type FitnessReport struct {
	PassedCases        int          `json:"passed_cases"`
	TotalCases         int          `json:"total_cases"`
	CorrectTransitions int          `json:"correct_transitions"`
	TotalTransitions   int          `json:"total_transitions"`
	PerCase            []CaseResult `json:"per_case,omitempty"`
	Score              float64      `json:"score"`
}

// MaxScore is the highest score any genome can reach against the same
// corpus: every transition correct and every case fully passed.
func (r FitnessReport) MaxScore() float64 {
	if r.TotalCases == 0 {
		return 0
	}
	return float64(r.TotalTransitions) + float64(r.TotalCases)*(float64(r.TotalTransitions)/float64(r.TotalCases))
}

// GenerationDiagnostics captures population health for one generation.
type GenerationDiagnostics struct {
	Generation           int     `json:"generation"`
	BestFitness          float64 `json:"best_fitness"`
	MeanFitness          float64 `json:"mean_fitness"`
	MinFitness           float64 `json:"min_fitness"`
	FingerprintDiversity int     `json:"fingerprint_diversity"`
	MeanRuleCount        float64 `json:"mean_rule_count"`
}

// RunRecord summarizes one completed (or aborted) evolution run.
type RunRecord struct {
	VersionedRecord
	RunID             string  `json:"run_id"`
	CreatedAtUTC      string  `json:"created_at_utc"`
	GroupID           string  `json:"group_id"`
	Seed              int64   `json:"seed"`
	PopulationSize    int     `json:"population_size"`
	Generations       int     `json:"generations"`
	GenerationsRun    int     `json:"generations_run"`
	BestFitness       float64 `json:"best_fitness"`
	TerminationReason string  `json:"termination_reason"`
}

// TopGenomeRecord preserves a ranked genome from a run's final population.
type TopGenomeRecord struct {
	Rank    int     `json:"rank"`
	Fitness float64 `json:"fitness"`
	Genome  Genome  `json:"genome"`
}
