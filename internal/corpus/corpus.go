// Package corpus imports, validates and persists test-case groups: the
// observed state sequences an evolution run tries to reproduce.
package corpus

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"

	"ruleforge/internal/atlas"
	"ruleforge/internal/model"
)

var (
	ErrGroupNameRequired = errors.New("test case group name is required")
	ErrNoTestCases       = errors.New("test case group holds no test cases")
	ErrDuplicateCaseID   = errors.New("duplicate test case id")
)

// NewGroup builds a validated group. Missing ids are generated.
func NewGroup(name, description string, cases []model.TestCase) (model.TestCaseGroup, error) {
	group := model.TestCaseGroup{
		Name:        name,
		Description: description,
		Tests:       cases,
	}
	if err := Normalize(&group); err != nil {
		return model.TestCaseGroup{}, err
	}
	return group, nil
}

// Normalize stamps versions, generates missing ids and validates every case
// against its declared dimensions.
func Normalize(group *model.TestCaseGroup) error {
	if group.Name == "" {
		return ErrGroupNameRequired
	}
	if len(group.Tests) == 0 {
		return ErrNoTestCases
	}
	group.VersionedRecord = model.CurrentVersions()
	if group.ID == "" {
		group.ID = uuid.NewString()
	}

	seen := make(map[string]struct{}, len(group.Tests))
	for i := range group.Tests {
		if group.Tests[i].ID == "" {
			group.Tests[i].ID = uuid.NewString()
		}
		if _, dup := seen[group.Tests[i].ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateCaseID, group.Tests[i].ID)
		}
		seen[group.Tests[i].ID] = struct{}{}
		if err := atlas.ValidateCase(group.Tests[i]); err != nil {
			return err
		}
	}
	return nil
}

// DecodeGroup parses and normalizes a JSON-encoded group.
func DecodeGroup(data []byte) (model.TestCaseGroup, error) {
	var group model.TestCaseGroup
	if err := json.Unmarshal(data, &group); err != nil {
		return model.TestCaseGroup{}, fmt.Errorf("corpus: decoding group: %w", err)
	}
	if err := Normalize(&group); err != nil {
		return model.TestCaseGroup{}, err
	}
	return group, nil
}

// LoadGroup reads a group from a JSON file.
func LoadGroup(path string) (model.TestCaseGroup, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.TestCaseGroup{}, fmt.Errorf("corpus: reading %s: %w", path, err)
	}
	return DecodeGroup(data)
}

// SaveGroup writes a group as indented JSON. The encoding is lossless:
// loading it back yields an equal group.
func SaveGroup(path string, group model.TestCaseGroup) error {
	if err := Normalize(&group); err != nil {
		return err
	}
	data, err := json.MarshalIndent(group, "", "  ")
	if err != nil {
		return fmt.Errorf("corpus: encoding group %s: %w", group.ID, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("corpus: writing %s: %w", path, err)
	}
	return nil
}
