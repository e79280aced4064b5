package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/phasetrain/internal/metrics"
	"github.com/roach88/phasetrain/internal/store"
	"github.com/roach88/phasetrain/internal/trainer"
)

type trainResponse struct {
	Status string      `json:"status"`
	Data   TrainResult `json:"data"`
}

// writeRunConfig writes a small two-worker config into dir.
func writeRunConfig(t *testing.T, dir, phases string) string {
	t.Helper()
	cfg := fmt.Sprintf(`
phase_path: %q
model_dir: %q
train_size: 64
val_size: 32
workers: 2
seed: 3
print_every: 0
ledger: %q
`, phases, filepath.Join(dir, "model"), filepath.Join(dir, "ledger.db"))
	return writeFile(t, dir, "run.yaml", cfg)
}

func trainCmd(format string, ids ...string) *TrainOptions {
	return &TrainOptions{
		RootOptions: &RootOptions{Format: format},
		RunIDs:      trainer.NewFixedGenerator(ids...),
	}
}

func openTestLedger(t *testing.T, path string) *store.Store {
	t.Helper()
	st, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestTrain_WritesResultsCheckpointAndLedger(t *testing.T) {
	dir := t.TempDir()
	phases := writeFile(t, dir, "phases.yaml", twoPhaseYAML)
	cfg := writeRunConfig(t, dir, phases)

	out, _, err := execute(newTrainCommand(trainCmd("json", "run-1")), "--config", cfg)
	require.NoError(t, err)

	var resp trainResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "run-1", resp.Data.RunID)
	assert.Equal(t, []int{0, 1, 2}, resp.Data.Epochs)
	assert.False(t, resp.Data.Stopped)
	assert.Equal(t, filepath.Join(dir, "model", "result_epoch_003.json"), resp.Data.ResultPath)
	assert.FileExists(t, resp.Data.ResultPath)
	assert.FileExists(t, resp.Data.Checkpoint)

	st := openTestLedger(t, filepath.Join(dir, "ledger.db"))
	run, err := st.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, run.Status)
	assert.Equal(t, 2, run.WorldSize)
	assert.Equal(t, 3, run.FinalEpoch)
	assert.Contains(t, run.Config, `"workers":2`)

	switches, err := st.PhaseSwitches(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Len(t, switches, 2)
}

func TestTrain_ResumeIntoExtendedSchedule(t *testing.T) {
	dir := t.TempDir()
	short := writeFile(t, dir, "short.yaml", twoPhaseYAML)
	long := writeFile(t, dir, "long.yaml", extendedYAML)
	cfg := writeRunConfig(t, dir, short)

	_, _, err := execute(newTrainCommand(trainCmd("json", "run-1")), "--config", cfg, "--save-name", "first")
	require.NoError(t, err)

	out, errOut, err := execute(newTrainCommand(trainCmd("json", "run-2")),
		"--config", cfg, "--phases", long, "--resume", "--resume-name", "first", "--save-name", "second")
	require.NoError(t, err)
	assert.Contains(t, errOut, "schedule changed since checkpoint was written")

	var resp trainResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, []int{3, 4}, resp.Data.Epochs)

	st := openTestLedger(t, filepath.Join(dir, "ledger.db"))
	run, err := st.GetRun(context.Background(), "run-2")
	require.NoError(t, err)
	assert.Equal(t, "run-1", run.ResumedFrom)
	assert.Equal(t, 3, run.StartEpoch)
	assert.Equal(t, 5, run.FinalEpoch)
}

func TestTrain_ResumeFinishedRunKeepsOutputs(t *testing.T) {
	dir := t.TempDir()
	phases := writeFile(t, dir, "phases.yaml", twoPhaseYAML)
	cfg := writeRunConfig(t, dir, phases)

	_, _, err := execute(newTrainCommand(trainCmd("json", "run-1")), "--config", cfg)
	require.NoError(t, err)
	resultPath := filepath.Join(dir, "model", "result_epoch_003.json")
	before, err := os.ReadFile(resultPath)
	require.NoError(t, err)

	out, _, err := execute(newTrainCommand(trainCmd("json", "run-2")),
		"--config", cfg, "--resume", "--resume-name", "epoch_003")
	require.NoError(t, err)

	var resp trainResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Empty(t, resp.Data.Epochs)
	assert.False(t, resp.Data.Stopped)
	assert.Empty(t, resp.Data.ResultPath)
	assert.Empty(t, resp.Data.Checkpoint)

	after, err := os.ReadFile(resultPath)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

type countingWorker struct{ stops int }

func (w *countingWorker) RequestStop() { w.stops++ }

func TestStopFanout(t *testing.T) {
	var f stopFanout
	early := &countingWorker{}
	f.Register(early)
	assert.Zero(t, early.stops)

	f.Request()
	assert.Equal(t, 1, early.stops)

	// Workers that register after the signal still stop.
	late := &countingWorker{}
	f.Register(late)
	assert.Equal(t, 1, late.stops)
}

func TestTrain_TextOutput(t *testing.T) {
	dir := t.TempDir()
	phases := writeFile(t, dir, "phases.yaml", twoPhaseYAML)
	modelDir := filepath.Join(dir, "model")

	out, _, err := execute(newTrainCommand(trainCmd("text", "run-1")),
		"--phases", phases, "--model-dir", modelDir, "--perturb", "gaussian", "--sigma", "0.1")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Run run-1 completed after 3 epoch(s)")
	assert.NoFileExists(t, filepath.Join(dir, "ledger.db"))
}

func TestTrain_CommandErrors(t *testing.T) {
	dir := t.TempDir()
	phases := writeFile(t, dir, "phases.yaml", twoPhaseYAML)
	gap := writeFile(t, dir, "gap.yaml", gapYAML)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no phases", nil, "phase_path is required"},
		{"gap", []string{"--phases", gap}, "SCHEDULE_GAP"},
		{"unknown model", []string{"--phases", phases, "--model", "resnet"}, "unknown model"},
		{"zero sigma", []string{"--phases", phases, "--perturb", "gaussian"}, "sigma"},
		{"missing config", []string{"--config", filepath.Join(dir, "none.yaml")}, "failed to read config"},
		{"bad accounting", []string{"--phases", phases, "--step-accounting", "half"}, "step_accounting"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := execute(newTrainCommand(trainCmd("text", "run-1")), tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, out, tt.want)
		})
	}
}

func TestTrain_CorruptResumeCheckpointFails(t *testing.T) {
	dir := t.TempDir()
	phases := writeFile(t, dir, "phases.yaml", twoPhaseYAML)
	modelDir := filepath.Join(dir, "model")
	require.NoError(t, os.MkdirAll(modelDir, 0o755))
	writeFile(t, modelDir, "ckpt_best.json", "not json")

	out, _, err := execute(newTrainCommand(trainCmd("json", "run-1")),
		"--phases", phases, "--model-dir", modelDir, "--resume")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, ErrCodeCheckpoint, resp.Error.Code)
}

func TestServeMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	exp, err := metrics.NewExporter(reg)
	require.NoError(t, err)
	exp.ObserveState(2, 0.05, 0.5)

	addr, shutdown, err := serveMetrics("127.0.0.1:0", reg, quietLogger())
	require.NoError(t, err)
	defer shutdown()

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "phasetrain_phase_id 2")
	assert.Contains(t, string(body), "phasetrain_best_score 0.5")
}
