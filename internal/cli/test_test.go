package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenariosDir = "../harness/testdata"

func TestTestCommand_AllPass(t *testing.T) {
	out, err := executeCommand(t, nil, "--format", "json", "test", scenariosDir)
	require.NoError(t, err)

	var res TestResult
	decodeData(t, out, &res)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 3, res.Passed)
	assert.Zero(t, res.Failed)
}

func TestTestCommand_Filter(t *testing.T) {
	out, err := executeCommand(t, nil, "test", scenariosDir, "--filter", "simple_*")
	require.NoError(t, err)

	assert.Contains(t, out, "✓ simple_exec_fork")
	assert.Contains(t, out, "✓ simple_failures")
	assert.NotContains(t, out, "cadets_process_io")
	assert.Contains(t, out, "2 passed, 0 failed, 2 total")
}

func TestTestCommand_NoScenarios(t *testing.T) {
	out, err := executeCommand(t, nil, "test", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "No scenarios found.\n", out)
}

func TestTestCommand_MissingDir(t *testing.T) {
	_, err := executeCommand(t, nil, "test", "does-not-exist")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommand_FailingScenario(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte(`name: bad
description: "expects a failure that does not happen"
format: simple
records:
  - {"id": "U1", "action": "action::read", "src": "F1", "dst": "P1"}
assertions:
  - {type: record_failed, line: 1}
`), 0o644))

	out, err := executeCommand(t, nil, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ bad")
	assert.Contains(t, out, "record committed")
}

func TestTestCommand_UpdateGolden(t *testing.T) {
	dir := t.TempDir()
	data, err := os.ReadFile(filepath.Join(scenariosDir, "simple_failures.yaml"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "simple_failures.yaml"), data, 0o644))

	out, err := executeCommand(t, nil, "test", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ simple_failures (golden updated)")

	written, err := os.ReadFile(filepath.Join(dir, "golden", "simple_failures.golden"))
	require.NoError(t, err)
	want, err := os.ReadFile(filepath.Join(scenariosDir, "golden", "simple_failures.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(want), string(written))

	// A stale golden fails the scenario.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "simple_failures.golden"), []byte("{}"), 0o644))
	out, err = executeCommand(t, nil, "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "does not match golden file")
}
