package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/roach88/phasetrain/internal/optim"
	"github.com/roach88/phasetrain/internal/reconfig"
	"github.com/roach88/phasetrain/internal/schedule"
)

// Run is the configuration of one training invocation.
type Run struct {
	Model      string `yaml:"model" validate:"required"`
	NumClasses int    `yaml:"num_classes" validate:"gte=2"`
	Seed       uint64 `yaml:"seed"`

	PhasePath string `yaml:"phase_path" validate:"required"`
	ModelDir  string `yaml:"model_dir" validate:"required"`

	PrintEvery      int `yaml:"print_every" validate:"gte=0"`
	CheckpointEvery int `yaml:"checkpoint_every" validate:"gte=0"`

	Resume     bool   `yaml:"resume"`
	ResumeName string `yaml:"resume_name" validate:"omitempty,slot"`
	SaveName   string `yaml:"save_name" validate:"omitempty,slot"`

	Workers        int    `yaml:"workers" validate:"gte=1,lte=64"`
	StepAccounting string `yaml:"step_accounting" validate:"oneof=all applied"`

	Perturb string  `yaml:"perturb" validate:"oneof=none gaussian"`
	Sigma   float64 `yaml:"sigma" validate:"gte=0"`

	TrainSize int     `yaml:"train_size" validate:"gte=1"`
	ValSize   int     `yaml:"val_size" validate:"gte=1"`
	Noise     float64 `yaml:"noise" validate:"gte=0"`

	Momentum    float64 `yaml:"momentum" validate:"gte=0,lt=1"`
	WeightDecay float64 `yaml:"weight_decay" validate:"gte=0"`

	// Ledger is the SQLite run ledger path. Empty disables the ledger.
	Ledger string `yaml:"ledger"`

	// MetricsAddr serves Prometheus metrics when set, e.g. "localhost:9090".
	MetricsAddr string `yaml:"metrics_addr" validate:"omitempty,hostname_port"`
}

// Default returns the configuration used for keys a file leaves out.
func Default() Run {
	return Run{
		Model:          "softmax",
		NumClasses:     10,
		ModelDir:       "runs",
		PrintEvery:     10,
		ResumeName:     "best",
		Workers:        1,
		StepAccounting: "all",
		Perturb:        "none",
		TrainSize:      512,
		ValSize:        128,
		Noise:          0.3,
		Momentum:       0.9,
	}
}

var validate *validator.Validate

var slotPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("slot", validateSlot)
}

// validateSlot accepts checkpoint slot names: one path element of letters,
// digits, '_', '-' and '.'.
func validateSlot(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	return slotPattern.MatchString(s) && !strings.Contains(s, "..")
}

// Load reads path over Default and validates the result.
func Load(path string) (Run, error) {
	cfg, err := Read(path)
	if err != nil {
		return Run{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Run{}, err
	}
	return cfg, nil
}

// Read decodes path over Default without validating, so callers can apply
// overrides first.
func Read(path string) (Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Run{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return Decode(data)
}

// Parse decodes YAML over Default and validates the result. An empty
// document yields the defaults, which still need a phase_path.
func Parse(data []byte) (Run, error) {
	cfg, err := Decode(data)
	if err != nil {
		return Run{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Run{}, err
	}
	return cfg, nil
}

// Decode decodes YAML over Default. Unknown keys are an error.
func Decode(data []byte) (Run, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Run{}, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return cfg, nil
}

// Validate checks every field constraint.
func (r Run) Validate() error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	field := yamlName(fe.StructField())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %v", field, fe.Param(), fe.Value())
	case "slot":
		return fmt.Sprintf("%s %q is not a valid checkpoint name", field, fe.Value())
	case "hostname_port":
		return fmt.Sprintf("%s %q must be host:port", field, fe.Value())
	default:
		return fmt.Sprintf("%s must satisfy %s=%s, got %v", field, fe.Tag(), fe.Param(), fe.Value())
	}
}

// yamlName maps a struct field name to its YAML key.
func yamlName(field string) string {
	var b strings.Builder
	for i, r := range field {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Accounting returns the parsed step accounting mode.
func (r Run) Accounting() (reconfig.StepAccounting, error) {
	return reconfig.ParseStepAccounting(r.StepAccounting)
}

// Map returns the configuration as a generic map for the run ledger.
func (r Run) Map() map[string]any {
	return map[string]any{
		"model":            r.Model,
		"num_classes":      r.NumClasses,
		"seed":             r.Seed,
		"phase_path":       r.PhasePath,
		"model_dir":        r.ModelDir,
		"print_every":      r.PrintEvery,
		"checkpoint_every": r.CheckpointEvery,
		"resume":           r.Resume,
		"resume_name":      r.ResumeName,
		"save_name":        r.SaveName,
		"workers":          r.Workers,
		"step_accounting":  r.StepAccounting,
		"perturb":          r.Perturb,
		"sigma":            r.Sigma,
		"train_size":       r.TrainSize,
		"val_size":         r.ValSize,
		"noise":            r.Noise,
		"momentum":         r.Momentum,
		"weight_decay":     r.WeightDecay,
	}
}

// CheckSchedule verifies that every phase names a learning-rate scheduler
// the optimizer builder can construct.
func CheckSchedule(s *schedule.Schedule) error {
	for _, p := range s.Phases() {
		if _, err := optim.NewScheduler(p.LRScheduler, p.LR, p.LREnd, p.Epochs()); err != nil {
			return fmt.Errorf("phase %d (%s): %w", p.ID, p.Name, err)
		}
	}
	return nil
}
