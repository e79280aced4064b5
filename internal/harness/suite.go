package harness

import (
	"fmt"
	"path/filepath"
	"sort"
)

// DuplicateScenarioError is returned when two files in a suite share a
// scenario name.
type DuplicateScenarioError struct {
	Name  string
	First string
	Other string
}

// Error implements the error interface.
func (e *DuplicateScenarioError) Error() string {
	return fmt.Sprintf("scenario %q is defined in both %s and %s", e.Name, e.First, e.Other)
}

// LoadSuite loads every *.yaml scenario in dir, ordered by file name.
func LoadSuite(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no scenarios found in %s", dir)
	}
	sort.Strings(paths)

	byName := make(map[string]string, len(paths))
	out := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		if first, ok := byName[s.Name]; ok {
			return nil, &DuplicateScenarioError{Name: s.Name, First: first, Other: p}
		}
		byName[s.Name] = p
		out = append(out, s)
	}
	return out, nil
}
