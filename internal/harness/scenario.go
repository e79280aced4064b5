package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/phasetrain/internal/reconfig"
)

// Scenario describes a sequence of training runs sharing one model
// directory and one ledger, and the assertions that must hold afterwards.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Phases is the path to the phase schedule (YAML or CUE). Relative paths
	// are resolved against the scenario file.
	Phases string `yaml:"phases"`

	// Workers is the group size. Defaults to 1.
	Workers int `yaml:"workers,omitempty"`

	// NumClasses defaults to 10.
	NumClasses int `yaml:"num_classes,omitempty"`

	TrainSize int `yaml:"train_size"`
	ValSize   int `yaml:"val_size"`

	// StepAccounting is "all" (default) or "applied".
	StepAccounting string `yaml:"step_accounting,omitempty"`

	// Runs execute in order.
	Runs []RunStep `yaml:"runs"`

	// Assertions validate the ledger trace and tables after the last run.
	Assertions []Assertion `yaml:"assertions"`
}

// RunStep is one invocation of the training loop.
type RunStep struct {
	// RunID is the ID the primary worker records in the ledger.
	RunID string `yaml:"run_id"`

	// Phases overrides the scenario schedule for this run.
	Phases string `yaml:"phases,omitempty"`

	// Scores is the validation top-1 of successive epochs. The last score
	// repeats.
	Scores []float64 `yaml:"scores,omitempty"`

	Resume          bool   `yaml:"resume,omitempty"`
	ResumeName      string `yaml:"resume_name,omitempty"`
	SaveName        string `yaml:"save_name,omitempty"`
	CheckpointEvery int    `yaml:"checkpoint_every,omitempty"`

	// StopAt requests a stop on one worker when it reaches a step.
	StopAt *StopPoint `yaml:"stop_at,omitempty"`

	// Unstable lists steps every worker reports as unstable.
	Unstable []StepPoint `yaml:"unstable,omitempty"`

	// ExpectError is a substring of the error the run must fail with.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// StepPoint identifies a training step.
type StepPoint struct {
	Epoch int `yaml:"epoch"`
	Step  int `yaml:"step"`
}

// StopPoint is a step on a specific worker.
type StopPoint struct {
	Rank  int `yaml:"rank"`
	Epoch int `yaml:"epoch"`
	Step  int `yaml:"step"`
}

// EventMatch selects trace events by type and a subset of their args.
type EventMatch struct {
	Event string         `yaml:"event"`
	Run   string         `yaml:"run,omitempty"`
	Args  map[string]any `yaml:"args,omitempty"`
}

// Assertion validates the trace or a ledger table.
type Assertion struct {
	// Type is one of trace_contains, trace_order, trace_count, final_state.
	Type string `yaml:"type"`

	// Used by trace_contains and trace_count.
	EventMatch `yaml:",inline"`

	// Count is the expected number of matches (trace_count).
	Count int `yaml:"count,omitempty"`

	// Events must appear in this order (trace_order). Other events may
	// appear in between.
	Events []EventMatch `yaml:"events,omitempty"`

	// Table, Where and Expect select one ledger row and check a subset of
	// its columns (final_state).
	Table  string         `yaml:"table,omitempty"`
	Where  map[string]any `yaml:"where,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected and phase paths are resolved against the file's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	base := filepath.Dir(path)
	scenario.Phases = resolve(base, scenario.Phases)
	for i := range scenario.Runs {
		scenario.Runs[i].Phases = resolve(base, scenario.Runs[i].Phases)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func resolve(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

func validateScenario(s *Scenario) error {
	switch {
	case s.Name == "":
		return fmt.Errorf("name is required")
	case s.Description == "":
		return fmt.Errorf("description is required")
	case s.Phases == "":
		return fmt.Errorf("phases is required")
	case s.TrainSize < 1 || s.ValSize < 1:
		return fmt.Errorf("train_size and val_size must be positive")
	case s.Workers < 0:
		return fmt.Errorf("workers must be positive, got %d", s.Workers)
	case len(s.Runs) == 0:
		return fmt.Errorf("runs list is required and must be non-empty")
	case len(s.Assertions) == 0:
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if _, err := reconfig.ParseStepAccounting(s.StepAccounting); err != nil {
		return err
	}

	for _, p := range append([]string{s.Phases}, runPhases(s.Runs)...) {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return fmt.Errorf("phase file not found: %s", p)
		}
	}

	seen := make(map[string]bool)
	for i, r := range s.Runs {
		if r.RunID == "" {
			return fmt.Errorf("runs[%d]: run_id is required", i)
		}
		if seen[r.RunID] {
			return fmt.Errorf("runs[%d]: duplicate run_id %q", i, r.RunID)
		}
		seen[r.RunID] = true
		if r.StopAt != nil && (r.StopAt.Rank < 0 || r.StopAt.Rank >= max(s.Workers, 1)) {
			return fmt.Errorf("runs[%d]: stop_at rank %d out of range", i, r.StopAt.Rank)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func runPhases(runs []RunStep) []string {
	var out []string
	for _, r := range runs {
		if r.Phases != "" {
			out = append(out, r.Phases)
		}
	}
	return out
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertTraceContains, AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: %s requires event", index, a.Type)
		}
	case AssertTraceOrder:
		if len(a.Events) < 2 {
			return fmt.Errorf("assertions[%d]: trace_order requires at least 2 events", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: final_state requires table", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: final_state requires expect", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
