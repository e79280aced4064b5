package trainer_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/phasetrain/internal/metrics"
	"github.com/roach88/phasetrain/internal/trainer"
)

func TestResultFileName(t *testing.T) {
	assert.Equal(t, "result_epoch_010.json", trainer.ResultFileName("epoch_010"))
	assert.Equal(t, "result.json", trainer.ResultFileName(""))
}

func TestResults_MarshalCanonical(t *testing.T) {
	r := trainer.NewResults()
	r.Record(trainer.SplitTest, 2, map[string]metrics.Summary{"top1": {Sum: 3, Weight: 4, Avg: 0.75}})
	r.Record(trainer.SplitTrain, 10, map[string]metrics.Summary{"loss": {Sum: 1, Weight: 2, Avg: 0.5}})
	r.Record("unknown", 0, map[string]metrics.Summary{"x": {}})

	got, err := r.MarshalCanonical()
	require.NoError(t, err)
	assert.Equal(t,
		`{"test":{"2":{"top1":{"avg":0.75,"sum":3,"weight":4}}},"train":{"10":{"loss":{"avg":0.5,"sum":1,"weight":2}}}}`,
		string(got))
}

func TestResults_WriteFileCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")
	path, err := trainer.NewResults().WriteFile(dir, "run")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "result_run.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"test":{},"train":{}}`, string(data))
}

func TestUUIDv7Generator(t *testing.T) {
	var g trainer.UUIDv7Generator
	a, b := g.Generate(), g.Generate()
	assert.NotEqual(t, a, b)

	id, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), id.Version())
}

func TestFixedGenerator(t *testing.T) {
	g := trainer.NewFixedGenerator("a", "b")
	assert.Equal(t, "a", g.Generate())
	assert.Equal(t, "b", g.Generate())
	assert.Panics(t, func() { g.Generate() })
}
