package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowlineage/internal/classify"
)

// burst renders n events on component, spaced by gap.
func burst(firstID int64, n int, component string, gap time.Duration) string {
	var sb strings.Builder
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		id := firstID + int64(i)
		fmt.Fprintf(&sb, `{"event_id":%d,"flow_unit_id":"U%d","event_type":"CREATE","component_id":%q,"event_time":%q}`+"\n",
			id, id, component, start.Add(time.Duration(i)*gap).Format(time.RFC3339Nano))
	}
	return sb.String()
}

func executeClassify(t *testing.T, format string, args []string) (*bytes.Buffer, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewClassifyCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	return buf, cmd.Execute()
}

func TestClassifyMissingInputFlag(t *testing.T) {
	_, err := executeClassify(t, "text", []string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
	assert.Contains(t, err.Error(), "input")
}

func TestClassifyStreamAndBatch(t *testing.T) {
	dir := t.TempDir()
	// 12 events 10ms apart on one component, 3 events a minute apart on another.
	input := burst(1, 12, "fast", 10*time.Millisecond) + burst(100, 3, "slow", time.Minute)
	inputPath := writeFile(t, dir, "cohort.jsonl", input)

	buf, err := executeClassify(t, "json", []string{"--input", inputPath})
	require.NoError(t, err)

	var resp struct {
		Status string         `json:"status"`
		Data   ClassifyResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)

	require.Len(t, resp.Data.Groups, 2)
	assert.Equal(t, "fast", resp.Data.Groups[0].ComponentID)
	assert.Equal(t, classify.LabelStream, resp.Data.Groups[0].Label)
	assert.Equal(t, 12, resp.Data.Groups[0].Events)
	assert.Equal(t, "slow", resp.Data.Groups[1].ComponentID)
	assert.Equal(t, classify.LabelBatch, resp.Data.Groups[1].Label)
	assert.Equal(t, []int64{100, 101, 102}, resp.Data.Groups[1].EventIDs)

	assert.Equal(t, 12, resp.Data.Counts[classify.LabelStream])
	assert.Equal(t, 3, resp.Data.Counts[classify.LabelBatch])
}

func TestClassifyTextSkipsMalformed(t *testing.T) {
	dir := t.TempDir()
	inputPath := writeFile(t, dir, "cohort.jsonl", burst(1, 2, "src", time.Second)+"{broken\n")

	buf, err := executeClassify(t, "text", []string{"--input", inputPath})
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "batch")
	assert.Contains(t, output, "component=src events=2")
	assert.Contains(t, output, "0 stream, 2 batch")
	assert.Contains(t, output, "1 malformed line(s) skipped")
}

func TestClassifyEmptyInput(t *testing.T) {
	inputPath := writeFile(t, t.TempDir(), "cohort.jsonl", "")

	buf, err := executeClassify(t, "text", []string{"--input", inputPath})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "No events.")
}

func TestClassifyLinkUsesFeedMap(t *testing.T) {
	dir := t.TempDir()
	feedPath := writeFile(t, dir, "feeds.yaml", `
feeds:
  - name: orders
    process_group_id: pg-orders
    components: [src]
`)
	configPath := writeFile(t, dir, "flowlineage.yaml", "feeds:\n  path: "+feedPath+"\n")
	input := `{"event_id":1,"flow_unit_id":"U1","event_type":"CREATE","component_id":"src","event_time":"2025-01-01T00:00:00Z"}
{"event_id":2,"flow_unit_id":"U2","event_type":"CONTENT_MODIFIED","parent_ids":["U1"],"component_id":"mod","event_time":"2025-01-01T00:00:01Z"}
`
	inputPath := writeFile(t, dir, "cohort.jsonl", input)

	buf, err := executeClassify(t, "json", []string{"--input", inputPath, "--config", configPath, "--link"})
	require.NoError(t, err)

	var resp struct {
		Data ClassifyResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.NotEmpty(t, resp.Data.Groups)
	for _, g := range resp.Data.Groups {
		assert.Equal(t, "orders", g.Feed, "component %s", g.ComponentID)
	}
}

func TestClassifyInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := writeFile(t, dir, "flowlineage.yaml", "stream:\n  max_time_between_events: 0s\n")
	inputPath := writeFile(t, dir, "cohort.jsonl", "")

	buf, err := executeClassify(t, "json", []string{"--input", inputPath, "--config", configPath})
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidConfig, resp.Error.Code)
	assert.NotNil(t, resp.Error.Details)
}

func TestClassifyMissingInputFile(t *testing.T) {
	_, err := executeClassify(t, "text", []string{"--input", "/nonexistent/cohort.jsonl"})
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
