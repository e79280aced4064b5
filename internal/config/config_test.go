package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/phasetrain/internal/reconfig"
	"github.com/roach88/phasetrain/internal/schedule"
	"github.com/roach88/phasetrain/internal/store"
)

func TestParse_OverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
phase_path: phases.yaml
workers: 4
step_accounting: applied
save_name: final
`))
	require.NoError(t, err)

	assert.Equal(t, "phases.yaml", cfg.PhasePath)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, "final", cfg.SaveName)
	assert.Equal(t, Default().Model, cfg.Model)
	assert.Equal(t, Default().TrainSize, cfg.TrainSize)

	acct, err := cfg.Accounting()
	require.NoError(t, err)
	assert.Equal(t, reconfig.CountAppliedSteps, acct)
}

func TestParse_EmptyNeedsPhasePath(t *testing.T) {
	_, err := Parse(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "phase_path is required")
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("phase_path: p.yaml\nworkerz: 2\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workerz")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Run)
		wantErr string
	}{
		{"defaults with phases", func(*Run) {}, ""},
		{"zero workers", func(r *Run) { r.Workers = 0 }, "workers must satisfy gte=1"},
		{"one class", func(r *Run) { r.NumClasses = 1 }, "num_classes"},
		{"bad accounting", func(r *Run) { r.StepAccounting = "some" }, "step_accounting must be one of"},
		{"bad perturber", func(r *Run) { r.Perturb = "pgd" }, "perturb must be one of"},
		{"negative sigma", func(r *Run) { r.Sigma = -1 }, "sigma"},
		{"slot with slash", func(r *Run) { r.SaveName = "a/b" }, "save_name \"a/b\" is not a valid checkpoint name"},
		{"slot with dots", func(r *Run) { r.ResumeName = "..x" }, "resume_name"},
		{"momentum of one", func(r *Run) { r.Momentum = 1 }, "momentum"},
		{"metrics addr", func(r *Run) { r.MetricsAddr = "localhost:9090" }, ""},
		{"bad metrics addr", func(r *Run) { r.MetricsAddr = "nope" }, "metrics_addr \"nope\" must be host:port"},
		{"no model", func(r *Run) { r.Model = "" }, "model is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Default()
			r.PhasePath = "phases.yaml"
			tt.mutate(&r)
			err := r.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte("phase_path: p.yaml\nseed: 7\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), cfg.Seed)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestMap_IsCanonicalizable(t *testing.T) {
	r := Default()
	r.PhasePath = "p.yaml"
	out, err := store.MarshalConfig(r.Map())
	require.NoError(t, err)
	assert.Contains(t, out, `"phase_path":"p.yaml"`)
	assert.Contains(t, out, `"workers":1`)
}

func TestCheckSchedule(t *testing.T) {
	phase := func(kind string, lr, lrEnd float64) schedule.Phase {
		return schedule.Phase{Name: "p", StartEpoch: 0, EndEpoch: 2, DataSize: 8, CropSize: 8,
			BatchSize: 4, LRScheduler: kind, LR: lr, LREnd: lrEnd}
	}

	ok, err := schedule.New([]schedule.Phase{phase("cosine", 0.1, 0)})
	require.NoError(t, err)
	assert.NoError(t, CheckSchedule(ok))

	unknown, err := schedule.New([]schedule.Phase{phase("step", 0.1, 0)})
	require.NoError(t, err)
	assert.ErrorContains(t, CheckSchedule(unknown), "unknown lr scheduler")

	exp, err := schedule.New([]schedule.Phase{phase("exp", 0.1, 0)})
	require.NoError(t, err)
	assert.Error(t, CheckSchedule(exp))
}

func TestYAMLName(t *testing.T) {
	assert.Equal(t, "num_classes", yamlName("NumClasses"))
	assert.Equal(t, "model", yamlName("Model"))
}
