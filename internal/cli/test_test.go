package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const harnessScenarios = "../harness/testdata/scenarios"
const harnessGolden = "../harness/testdata/golden"

const lateParentScenario = `
name: late_parent
description: "A child that arrives before its parent is parked, then linked"
stream:
  process_delay: 1s
events:
  - {event_id: 2, flow_unit_id: C1, event_type: CONTENT_MODIFIED, parent_ids: [P1], component_id: mod, at: 0s}
  - {event_id: 1, flow_unit_id: P1, event_type: CREATE, component_id: src, at: 200ms}
assertions:
  - {type: root_of, flow_unit: C1, root: P1}
`

const failingScenario = `
name: wrong_root
description: "Asserts a root the unit does not have"
events:
  - {event_id: 1, flow_unit_id: U1, event_type: CREATE, component_id: src, at: 0s}
assertions:
  - {type: root_of, flow_unit: U1, root: OTHER}
`

func newTestCmd(format string, args ...string) (*bytes.Buffer, func() error) {
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	return buf, cmd.Execute
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, execute := newTestCmd("text")

	err := execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentScenariosDir(t *testing.T) {
	_, execute := newTestCmd("text", "/nonexistent/scenarios")

	err := execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scenarios directory not found")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandEmptyScenariosDir(t *testing.T) {
	buf, execute := newTestCmd("text", t.TempDir())

	require.NoError(t, execute())
	assert.Contains(t, buf.String(), "No scenarios found")
}

func TestTestCommandEmptyScenariosDirJSON(t *testing.T) {
	buf, execute := newTestCmd("json", t.TempDir())

	require.NoError(t, execute())

	var response CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &response))
	assert.Equal(t, "ok", response.Status)
}

func TestTestCommandHarnessScenarios(t *testing.T) {
	buf, execute := newTestCmd("text", harnessScenarios, "--golden-dir", harnessGolden)

	require.NoError(t, execute())

	output := buf.String()
	assert.Contains(t, output, "✓ create_then_modify")
	assert.Contains(t, output, "✓ related_roots")
	assert.Contains(t, output, "✓ All scenarios passed")
}

func TestTestCommandFilterJSON(t *testing.T) {
	buf, execute := newTestCmd("json", harnessScenarios, "--golden-dir", harnessGolden, "--filter", "orphan_*")

	require.NoError(t, execute())

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "orphan_parent", resp.Data.Scenarios[0].Name)
	assert.NotEmpty(t, resp.Data.Scenarios[0].Unresolved)
	assert.Equal(t, 1, resp.Data.Passed)
}

func TestTestCommandUpdateThenCompare(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "late_parent.yaml"), []byte(lateParentScenario), 0644))

	buf, execute := newTestCmd("text", dir, "--update")
	require.NoError(t, execute())
	assert.Contains(t, buf.String(), "golden updated")

	goldenPath := filepath.Join(dir, "golden", "late_parent.golden")
	data, err := os.ReadFile(goldenPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"scenario_name": "late_parent"`)

	// The golden directory itself is not scanned for scenarios.
	buf, execute = newTestCmd("text", dir)
	require.NoError(t, execute())
	assert.Contains(t, buf.String(), "1 passed, 0 failed, 1 total")

	require.NoError(t, os.WriteFile(goldenPath, []byte("{}\n"), 0644))
	buf, execute = newTestCmd("text", dir)
	err = execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "does not match golden file")
}

func TestTestCommandFailingAssertionJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong_root.yaml"), []byte(failingScenario), 0644))

	buf, execute := newTestCmd("json", dir)
	err := execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_TEST_FAILED", resp.Error.Code)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.False(t, resp.Data.Scenarios[0].Pass)
	assert.NotEmpty(t, resp.Data.Scenarios[0].Errors)
}

func TestTestCommandLoadError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: broken\nunknown: 1\n"), 0644))

	buf, execute := newTestCmd("text", dir)
	err := execute()
	require.Error(t, err)
	assert.Contains(t, buf.String(), "✗ broken.yaml")
	assert.Contains(t, buf.String(), "failed to load scenario")
}

func TestTestHelpText(t *testing.T) {
	buf, execute := newTestCmd("text", "--help")

	require.NoError(t, execute())

	output := buf.String()
	assert.Contains(t, output, "scenarios")
	assert.Contains(t, output, "--update")
	assert.Contains(t, output, "--filter")
	assert.Contains(t, output, "--golden-dir")
}

func TestFindScenarioFiles(t *testing.T) {
	tmpDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "test1.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "test2.yml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "ignore.txt"), []byte(""), 0644))

	files, err := findScenarioFiles(tmpDir, "")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestFindScenarioFilesWithFilter(t *testing.T) {
	tmpDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "late-parent.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "late-child.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "burst.yaml"), []byte(""), 0644))

	files, err := findScenarioFiles(tmpDir, "late-*")
	require.NoError(t, err)
	assert.Len(t, files, 2)

	for _, f := range files {
		assert.Contains(t, filepath.Base(f), "late-")
	}
}

func TestFindScenarioFilesSubdirectories(t *testing.T) {
	tmpDir := t.TempDir()
	subDir := filepath.Join(tmpDir, "subdir")
	goldenDir := filepath.Join(tmpDir, "golden")
	require.NoError(t, os.MkdirAll(subDir, 0755))
	require.NoError(t, os.MkdirAll(goldenDir, 0755))

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "root.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(subDir, "sub.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(goldenDir, "skip.yaml"), []byte(""), 0644))

	files, err := findScenarioFiles(tmpDir, "")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestFindScenarioFilesBadPattern(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "a.yaml"), []byte(""), 0644))

	_, err := findScenarioFiles(tmpDir, "[")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter pattern")
}
