package cli

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

const twoPhaseYAML = `
phases:
  - name: low
    start_epoch: 0
    end_epoch: 2
    data_size: 16
    crop_size: 12
    batch_size: 8
    lr_scheduler: cosine
    lr: 0.1
    lr_end: 0.01
  - name: high
    start_epoch: 2
    end_epoch: 3
    data_size: 24
    crop_size: 20
    batch_size: 16
    lr_scheduler: constant
    lr: 0.05
    lr_end: 0.05
`

// extendedYAML continues twoPhaseYAML for two more epochs.
const extendedYAML = twoPhaseYAML + `  - name: tail
    start_epoch: 3
    end_epoch: 5
    data_size: 24
    crop_size: 20
    batch_size: 16
    lr_scheduler: linear
    lr: 0.05
    lr_end: 0
`

const gapYAML = `
phases:
  - {name: a, start_epoch: 0, end_epoch: 2, data_size: 8, crop_size: 8, batch_size: 4, lr_scheduler: constant, lr: 0.1, lr_end: 0.1}
  - {name: b, start_epoch: 3, end_epoch: 4, data_size: 8, crop_size: 8, batch_size: 4, lr_scheduler: constant, lr: 0.1, lr_end: 0.1}
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// execute runs cmd with args and returns stdout and stderr.
func execute(cmd *cobra.Command, args ...string) (string, string, error) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
