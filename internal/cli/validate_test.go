package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateValidSchedule(t *testing.T) {
	phases := writeFile(t, t.TempDir(), "phases.yaml", twoPhaseYAML)

	out, _, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), phases)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Schedule valid: 2 phase(s), 3 epoch(s)")
	assert.Contains(t, out, "[1] high")
}

func TestValidateValidScheduleJSON(t *testing.T) {
	phases := writeFile(t, t.TempDir(), "phases.yaml", twoPhaseYAML)

	out, _, err := execute(NewValidateCommand(&RootOptions{Format: "json"}), phases)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, 3, resp.Data.TotalEpochs)
	require.Len(t, resp.Data.Phases, 2)
	assert.Equal(t, 16, resp.Data.Phases[1].BatchSize)
	assert.Len(t, resp.Data.Hash, 64)
}

func TestValidateGap(t *testing.T) {
	phases := writeFile(t, t.TempDir(), "phases.yaml", gapYAML)

	out, _, err := execute(NewValidateCommand(&RootOptions{Format: "json"}), phases)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "SCHEDULE_GAP", resp.Error.Code)
}

func TestValidateUnknownScheduler(t *testing.T) {
	bad := `
phases:
  - {start_epoch: 0, end_epoch: 2, data_size: 8, crop_size: 8, batch_size: 4, lr_scheduler: step, lr: 0.1, lr_end: 0.1}
`
	phases := writeFile(t, t.TempDir(), "phases.yaml", bad)

	out, _, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), phases)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "unknown lr scheduler")
}

func TestValidateMissingFile(t *testing.T) {
	_, _, err := execute(NewValidateCommand(&RootOptions{Format: "text"}),
		filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestValidateCUESchedule(t *testing.T) {
	src := `
phases: [
	{name: "warm", start_epoch: 0, end_epoch: 1, data_size: 8, crop_size: 8, batch_size: 4, lr_scheduler: "constant", lr: 0.1, lr_end: 0.1},
	{name: "main", start_epoch: 1, end_epoch: 4, data_size: 8, crop_size: 8, batch_size: 8, lr_scheduler: "cosine", lr: 0.1, lr_end: 0},
]
`
	phases := writeFile(t, t.TempDir(), "phases.cue", src)

	out, _, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), phases)
	require.NoError(t, err)
	assert.Contains(t, out, "2 phase(s), 4 epoch(s)")
}
