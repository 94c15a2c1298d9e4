package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowlineage/internal/dispatch"
	"github.com/roach88/flowlineage/internal/store"
)

const testEvents = `{"event_id":1,"flow_unit_id":"U1","event_type":"CREATE","component_id":"proc-get","event_time":"2025-01-01T00:00:00Z"}
{"event_id":2,"flow_unit_id":"U2","event_type":"CONTENT_MODIFIED","parent_ids":["U1"],"component_id":"proc-put","event_time":"2025-01-01T00:00:00.1Z"}
not json
{"event_id":3,"flow_unit_id":"X1","event_type":"CONTENT_MODIFIED","parent_ids":["MISSING"],"component_id":"proc-put","event_time":"2025-01-01T00:00:00.2Z"}
`

const fastConfig = `
stream:
  process_delay: 0s
queue:
  drain_interval: 10ms
`

// decodeBatches parses JSON Lines batches from the run command's stdout.
func decodeBatches(t *testing.T, out []byte) []dispatch.Batch {
	t.Helper()
	var batches []dispatch.Batch
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var b dispatch.Batch
		require.NoError(t, json.Unmarshal(sc.Bytes(), &b), "line: %s", sc.Text())
		batches = append(batches, b)
	}
	require.NoError(t, sc.Err())
	return batches
}

func executeRun(t *testing.T, args []string, stdin string) ([]byte, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRunCommand(&RootOptions{Format: "text", LogFormat: "text"})
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	errChan := make(chan error, 1)
	go func() { errChan <- cmd.ExecuteContext(ctx) }()

	select {
	case err := <-errChan:
		return out.Bytes(), err
	case <-time.After(15 * time.Second):
		t.Fatal("run did not stop at end of input")
		return nil, nil
	}
}

func TestRunDispatchesLinkedEvents(t *testing.T) {
	dir := t.TempDir()
	configPath := writeFile(t, dir, "flowlineage.yaml", fastConfig)
	inputPath := writeFile(t, dir, "events.jsonl", testEvents)

	out, err := executeRun(t, []string{"--config", configPath, "--input", inputPath}, "")
	require.NoError(t, err)

	batches := decodeBatches(t, out)
	require.NotEmpty(t, batches)

	byID := map[int64]string{}
	for i, b := range batches {
		assert.Equal(t, int64(i+1), b.Seq)
		assert.NotEmpty(t, b.CohortID)
		for _, g := range b.Groups {
			for _, ev := range g.Events {
				byID[ev.EventID] = ev.JobFlowUnitID
			}
		}
	}

	assert.Equal(t, "U1", byID[1])
	assert.Equal(t, "U1", byID[2])
	// The orphan is never dispatched.
	assert.NotContains(t, byID, int64(3))
}

func TestRunReadsStdin(t *testing.T) {
	configPath := writeFile(t, t.TempDir(), "flowlineage.yaml", fastConfig)

	out, err := executeRun(t, []string{"--config", configPath}, testEvents)
	require.NoError(t, err)

	total := 0
	for _, b := range decodeBatches(t, out) {
		total += b.Len()
	}
	assert.Equal(t, 2, total)
}

func TestRunStampsFeedNames(t *testing.T) {
	dir := t.TempDir()
	feedPath := writeFile(t, dir, "feeds.yaml", `
processors:
  - id: proc-get
    name: GetFile
feeds:
  - name: orders
    process_group_id: pg-orders
    components: [proc-get]
`)
	configPath := writeFile(t, dir, "flowlineage.yaml", fastConfig+"feeds:\n  path: "+feedPath+"\n")

	out, err := executeRun(t, []string{"--config", configPath}, testEvents)
	require.NoError(t, err)

	var feedsSeen []string
	for _, b := range decodeBatches(t, out) {
		for _, g := range b.Groups {
			feedsSeen = append(feedsSeen, g.Feed)
		}
	}
	assert.Contains(t, feedsSeen, "orders")
}

func TestRunPersistsParkedEvents(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "holding.db")
	configPath := writeFile(t, dir, "flowlineage.yaml", fastConfig+"holding:\n  database: "+dbPath+"\n")

	_, err := executeRun(t, []string{"--config", configPath}, testEvents)
	require.NoError(t, err)

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	rows, err := st.List(context.Background(), store.StatusAbandoned)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(3), rows[0].Event.EventID)
}

func TestRunInvalidConfig(t *testing.T) {
	configPath := writeFile(t, t.TempDir(), "flowlineage.yaml", "stream:\n  events_to_consider_stream: 0\n")

	_, err := executeRun(t, []string{"--config", configPath}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestRunMissingInput(t *testing.T) {
	configPath := writeFile(t, t.TempDir(), "flowlineage.yaml", fastConfig)

	_, err := executeRun(t, []string{"--config", configPath, "--input", "/nonexistent/events.jsonl"}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open input")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunMissingFeedMap(t *testing.T) {
	configPath := writeFile(t, t.TempDir(), "flowlineage.yaml", fastConfig+"feeds:\n  path: /nonexistent/feeds.yaml\n")

	_, err := executeRun(t, []string{"--config", configPath}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load feed map")
}

func TestRunStopsOnCancel(t *testing.T) {
	configPath := writeFile(t, t.TempDir(), "flowlineage.yaml", fastConfig)

	// Stdin that never ends: only cancellation stops the command.
	pr, pw := io.Pipe()
	defer pw.Close()

	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(pr)
	cmd.SetArgs([]string{"--config", configPath})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	errChan := make(chan error, 1)
	go func() { errChan <- cmd.ExecuteContext(ctx) }()

	select {
	case err := <-errChan:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("command did not respect context cancellation")
	}
}

func TestSweepInterval(t *testing.T) {
	assert.Equal(t, time.Second, sweepInterval(0))
	assert.Equal(t, time.Second, sweepInterval(2*time.Second))
	assert.Equal(t, 150*time.Second, sweepInterval(10*time.Minute))
}

func TestLoadLookupEmptyPath(t *testing.T) {
	lookup, err := loadLookup("")
	require.NoError(t, err)
	assert.NotNil(t, lookup)
}
