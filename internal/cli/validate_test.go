package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowlineage/internal/config"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestValidateValidConfig(t *testing.T) {
	path := writeFile(t, t.TempDir(), "flowlineage.yaml", "stream:\n  process_delay: 1s\n")

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewValidateCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--config", path})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "✓ Configuration valid")
}

func TestValidateDefaultsJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewValidateCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestValidateSchemaViolations(t *testing.T) {
	path := writeFile(t, t.TempDir(), "flowlineage.yaml", `
stream:
  events_to_consider_stream: 0
dispatch:
  kind: kafka
`)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewValidateCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--config", path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	output := buf.String()
	assert.Contains(t, output, "✗ Validation failed")
	assert.Contains(t, output, "stream.events_to_consider_stream")
	assert.Contains(t, output, "dispatch.kind")
}

func TestValidateSchemaViolationsJSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), "flowlineage.yaml", "queue:\n  capacity: -1\n")

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewValidateCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--config", path})

	err := cmd.Execute()
	require.Error(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidConfig, resp.Error.Code)
	assert.False(t, resp.Data.Valid)
	require.NotEmpty(t, resp.Data.Errors)
	assert.Equal(t, "queue.capacity", resp.Data.Errors[0].Path)
}

func TestValidateUnknownField(t *testing.T) {
	path := writeFile(t, t.TempDir(), "flowlineage.yaml", "stream:\n  colour: red\n")

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewValidateCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--config", path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrCodeInvalidConfig)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestValidateMissingFile(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewValidateCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--config", "/nonexistent/flowlineage.yaml"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrCodeNotFound)
}

func TestValidateLoadsFeedMap(t *testing.T) {
	dir := t.TempDir()
	feedPath := writeFile(t, dir, "feeds.yaml", `
feeds:
  - name: orders
    process_group_id: pg-orders
    components: [proc-get, proc-put]
`)
	path := writeFile(t, dir, "flowlineage.yaml", "feeds:\n  path: "+feedPath+"\n")

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewValidateCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--config", path})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "feed map: 1 feed(s)")
}

func TestValidateBadFeedMap(t *testing.T) {
	dir := t.TempDir()
	feedPath := writeFile(t, dir, "feeds.yaml", `
feeds:
  - name: a
    components: [c1]
  - name: b
    components: [c1]
`)
	path := writeFile(t, dir, "flowlineage.yaml", "feeds:\n  path: "+feedPath+"\n")

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewValidateCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--config", path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrCodeFeedMap)
}

func TestValidationDetails(t *testing.T) {
	path := writeFile(t, t.TempDir(), "flowlineage.yaml", "queue:\n  drain_interval: 0s\n")

	_, err := config.Load(path)
	require.Error(t, err)
	assert.NotNil(t, validationDetails(err))
	assert.Nil(t, validationDetails(os.ErrNotExist))
}
